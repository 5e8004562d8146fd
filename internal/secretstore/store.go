// Package secretstore implements the keyed secret CRUD described for the
// gateway's secret plane: namespaced refs, each persisted as its own 0600
// file under a 0700 directory, written atomically via temp+fsync+rename —
// the same write discipline the gateway's config and session stores use.
package secretstore

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

var ErrInvalidRef = errors.New("secretstore: invalid ref")

// Store is a directory-backed secret CRUD. One file per ref; callers never
// see partial writes because Set always goes through a temp file + rename.
type Store struct {
	mu  sync.Mutex
	dir string
}

// Open ensures dir exists at mode 0700 and returns a Store rooted there.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

var refSanitizer = regexp.MustCompile(`[^a-z0-9:_\-.]`)

// encodeRef turns a printable ref (e.g. "mcp:provider:mcp:exa:token") into a
// filesystem-safe filename. Refs are already constrained to lowercase ASCII
// with non-ASCII replaced by "_" per the data model; this additionally
// escapes path separators so a ref can never traverse outside dir.
func encodeRef(ref string) string {
	ref = strings.ToLower(ref)
	return refSanitizer.ReplaceAllString(ref, "_")
}

func (s *Store) path(ref string) (string, error) {
	if ref == "" {
		return "", ErrInvalidRef
	}
	name := encodeRef(ref)
	if name == "" || name == "." || name == ".." {
		return "", ErrInvalidRef
	}
	return filepath.Join(s.dir, name), nil
}

// Get returns the secret value for ref, or ("", false) if unset.
func (s *Store) Get(ref string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.path(ref)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

// Has reports whether ref has a non-empty value.
func (s *Store) Has(ref string) (bool, error) {
	v, ok, err := s.Get(ref)
	if err != nil {
		return false, err
	}
	return ok && v != "", nil
}

// Set atomically persists value for ref: write to temp, fsync, rename.
func (s *Store) Set(ref, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.path(ref)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".secret-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanTmp := true
	defer func() {
		if cleanTmp {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, p); err != nil {
		return err
	}
	cleanTmp = false
	return nil
}

// Delete removes the secret for ref. Deleting a ref that does not exist is
// not an error.
func (s *Store) Delete(ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ProviderRef builds the canonical "mcp:provider:<providerId>:<field>" ref
// shape used by the MCP hub.
func ProviderRef(providerID, field string) string {
	return "mcp:provider:" + strings.ToLower(providerID) + ":" + strings.ToLower(field)
}

// SecretAliases are interchangeable field names for MCP auth secrets: a
// provider's requiredSecrets entry of any of these is satisfied by any of
// the others being set.
var SecretAliases = []string{"token", "apiKey", "authToken"}

// HasAnyAlias reports whether any alias field for providerID has a non-empty
// secret, used to satisfy requiredSecrets and to resolve the Authorization
// header for bearer-auth MCP providers.
func (s *Store) HasAnyAlias(providerID string) (string, bool, error) {
	for _, field := range SecretAliases {
		v, ok, err := s.Get(ProviderRef(providerID, field))
		if err != nil {
			return "", false, err
		}
		if ok && v != "" {
			return v, true, nil
		}
	}
	return "", false, nil
}
