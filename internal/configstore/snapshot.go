package configstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"

	"github.com/titanous/json5"
)

// Issue is a single validation problem surfaced by readSnapshot.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Snapshot is an immutable view of configuration: the canonical serialized
// form, its deterministic hash, the validated typed tree, and any
// validation issues. An invalid snapshot never populates Config.
type Snapshot struct {
	Exists bool
	Valid  bool
	Config *Config
	Issues []Issue
	Raw    []byte
	Hash   string
}

// Store owns the on-disk config file and produces snapshots from it.
// Reads are lazy (computed fresh per call); writes are atomic temp+rename.
// The store itself holds no long-lived mutable state beyond the file path,
// matching the "read-mostly, short critical section on write" concurrency
// model (§5).
type Store struct {
	mu   sync.Mutex
	path string
}

// Open returns a Store rooted at path. The file need not exist yet; the
// first ReadSnapshot call will report Exists=false and fall back to
// defaults.
func Open(path string) *Store {
	return &Store{path: path}
}

// Hash computes the deterministic digest over a config's canonical
// serialization. Two independent calls for an unmodified Config yield the
// same hash; any observable mutation of the tree changes it.
func Hash(cfg *Config) (string, []byte, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), raw, nil
}

// ReadSnapshot loads, parses, and validates the config file. A missing file
// is not an error: it reports Exists=false and Config=Default().
func (s *Store) ReadSnapshot() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		hash, raw, herr := Hash(cfg)
		if herr != nil {
			return nil, herr
		}
		return &Snapshot{Exists: false, Valid: true, Config: cfg, Raw: raw, Hash: hash}, nil
	}
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json5.Unmarshal(data, &cfg); err != nil {
		return &Snapshot{
			Exists: true,
			Valid:  false,
			Issues: []Issue{{Path: "$", Message: err.Error()}},
			Raw:    data,
		}, nil
	}

	issues := validate(&cfg)
	if len(issues) > 0 {
		return &Snapshot{Exists: true, Valid: false, Issues: issues, Raw: data}, nil
	}

	hash, raw, err := Hash(&cfg)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Exists: true, Valid: true, Config: &cfg, Raw: raw, Hash: hash}, nil
}

// validate performs the boundary-level semantic checks the data model
// requires (e.g. every configured MCP provider needs a deploymentUrl).
func validate(cfg *Config) []Issue {
	var issues []Issue
	for id, entry := range cfg.MCP {
		if entry.Connection.DeploymentURL == "" {
			issues = append(issues, Issue{
				Path:    "mcp." + id + ".connection.deploymentUrl",
				Message: "deploymentUrl is required for a configured MCP provider",
			})
		}
	}
	sort.Slice(issues, func(i, j int) bool { return issues[i].Path < issues[j].Path })
	return issues
}

// Write atomically persists next, verifying baseHash against the current
// on-disk snapshot when baseHash is non-empty. Returns ErrStaleHash if the
// hashes disagree; the file is left untouched in that case.
func (s *Store) Write(next *Config, baseHash string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if baseHash != "" {
		current, err := s.readSnapshotLocked()
		if err != nil {
			return nil, err
		}
		if current.Hash != baseHash {
			return nil, ErrStaleHash
		}
	}

	hash, raw, err := Hash(next)
	if err != nil {
		return nil, err
	}

	pretty, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()
	cleanTmp := true
	defer func() {
		if cleanTmp {
			os.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(pretty); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return nil, err
	}
	cleanTmp = false

	return &Snapshot{Exists: true, Valid: true, Config: next, Raw: raw, Hash: hash}, nil
}

// SetProviderProfile records that provider's OAuth profile now lives at
// authProfileKey in the authprofiles store, persisting the reference into
// Config.Auth (§4.L: "the config is updated to reference that profile").
func (s *Store) SetProviderProfile(provider, authProfileKey string) error {
	s.mu.Lock()
	current, err := s.readSnapshotLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	next := *current.Config
	auth := make(map[string]string, len(current.Config.Auth)+1)
	for k, v := range current.Config.Auth {
		auth[k] = v
	}
	auth[provider] = authProfileKey
	next.Auth = auth

	_, err = s.Write(&next, "")
	return err
}

// readSnapshotLocked reads and hashes the file without re-acquiring s.mu,
// used internally by Write while already holding the lock. Unlike
// ReadSnapshot it does not run validation: a parsed config is reported
// Valid, and a parse failure carries no Issues.
func (s *Store) readSnapshotLocked() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		hash, raw, herr := Hash(cfg)
		if herr != nil {
			return nil, herr
		}
		return &Snapshot{Exists: false, Valid: true, Config: cfg, Raw: raw, Hash: hash}, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json5.Unmarshal(data, &cfg); err != nil {
		return &Snapshot{Exists: true, Valid: false, Raw: data}, nil
	}
	hash, raw, err := Hash(&cfg)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Exists: true, Valid: true, Config: &cfg, Raw: raw, Hash: hash}, nil
}

// ErrStaleHash is returned by Write when baseHash no longer matches the
// on-disk snapshot's hash.
var ErrStaleHash = errors.New("configstore: stale hash")

// ResolveHash returns the hash for an explicit snapshot reference: either a
// literal hash (returned verbatim) or raw bytes (hashed on the spot). Used
// by handlers that accept either form on a request.
func ResolveHash(hash string, raw []byte) (string, bool) {
	if hash != "" {
		return hash, true
	}
	if raw != nil {
		sum := sha256.Sum256(raw)
		return hex.EncodeToString(sum[:]), true
	}
	return "", false
}

// DiffPaths returns the sorted list of dotted paths whose values differ
// between prev and next, walking both trees structurally. A nil prev is
// treated as an all-paths-changed diff against next's top-level fields.
func DiffPaths(prev, next *Config) ([]string, error) {
	prevMap, err := toMap(prev)
	if err != nil {
		return nil, err
	}
	nextMap, err := toMap(next)
	if err != nil {
		return nil, err
	}
	paths := map[string]bool{}
	diffMaps("", prevMap, nextMap, paths)
	out := make([]string, 0, len(paths))
	for p := range paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func toMap(cfg *Config) (map[string]interface{}, error) {
	if cfg == nil {
		return map[string]interface{}{}, nil
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func diffMaps(prefix string, a, b map[string]interface{}, out map[string]bool) {
	keys := map[string]bool{}
	for k := range a {
		keys[k] = true
	}
	for k := range b {
		keys[k] = true
	}
	for k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		av, aok := a[k]
		bv, bok := b[k]
		if aok != bok {
			out[path] = true
			continue
		}
		amap, aIsMap := av.(map[string]interface{})
		bmap, bIsMap := bv.(map[string]interface{})
		if aIsMap && bIsMap {
			diffMaps(path, amap, bmap, out)
			continue
		}
		if !reflect.DeepEqual(av, bv) {
			out[path] = true
		}
	}
}

// RestartRequiredPaths is the static classification of dotted config paths
// that require a full restart rather than a hot reload (§4.H Reload plan).
// Anything not in this set is hot-reloadable.
var RestartRequiredPaths = map[string]bool{
	"gateway.host":     true,
	"gateway.port":     true,
	"gateway.token":    true,
	"admin.pipePath":   true,
	"sessions.store":   true,
	"stateDir":         true,
}

// ClassifyReload reports whether changed (a DiffPaths result) requires a
// restart, given the config's reloadMode. Mode "off" never reloads or
// restarts (both booleans false); mode "restart" always restarts when
// anything changed.
func ClassifyReload(reloadMode string, changed []string) (hot, restart bool) {
	if reloadMode == "off" {
		return false, false
	}
	if len(changed) == 0 {
		return false, false
	}
	if reloadMode == "restart" {
		return false, true
	}
	for _, p := range changed {
		for rp := range RestartRequiredPaths {
			if p == rp || hasPrefix(p, rp+".") {
				return true, true
			}
		}
	}
	return true, false
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// FormatIssues renders issues as a single human-readable string, used when
// surfacing INVALID_REQUEST details.
func FormatIssues(issues []Issue) string {
	if len(issues) == 0 {
		return ""
	}
	msg := ""
	for i, iss := range issues {
		if i > 0 {
			msg += "; "
		}
		msg += fmt.Sprintf("%s: %s", iss.Path, iss.Message)
	}
	return msg
}
