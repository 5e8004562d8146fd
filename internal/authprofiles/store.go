// Package authprofiles persists the provider profile produced by a
// successful OAuth flow (internal/oauthflows): access/refresh tokens and
// whatever provider metadata came back, one JSON document keyed by
// provider name, written with the same atomic temp+fsync+rename discipline
// used throughout the daemon's on-disk stores.
package authprofiles

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// Store is a single-file, single-writer map of provider -> profile.
type Store struct {
	mu   sync.Mutex
	path string
}

// Open returns a Store backed by path; the file need not exist yet.
func Open(path string) *Store {
	return &Store{path: path}
}

func (s *Store) loadLocked() (map[string]map[string]interface{}, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return map[string]map[string]interface{}{}, nil
	}
	var m map[string]map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]map[string]interface{}{}
	}
	return m, nil
}

func (s *Store) saveLocked(m map[string]map[string]interface{}) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".authprofiles-*.tmp")
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

	if _, err := tmp.Write(data); err != nil {
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
	if err := os.Rename(tmpPath, s.path); err != nil {
		return err
	}
	cleanTmp = false
	return nil
}

// SaveProfile persists profile for provider, overwriting any prior value.
// Satisfies internal/oauthflows.ProfileStore.
func (s *Store) SaveProfile(provider string, profile map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.loadLocked()
	if err != nil {
		return err
	}
	m[provider] = profile
	return s.saveLocked(m)
}

// Get returns the stored profile for provider, if any.
func (s *Store) Get(provider string) (map[string]interface{}, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.loadLocked()
	if err != nil {
		return nil, false, err
	}
	profile, ok := m[provider]
	return profile, ok, nil
}

// Delete removes provider's profile, if present.
func (s *Store) Delete(provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.loadLocked()
	if err != nil {
		return err
	}
	if _, ok := m[provider]; !ok {
		return nil
	}
	delete(m, provider)
	return s.saveLocked(m)
}

// List returns all provider names with a stored profile.
func (s *Store) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	return names, nil
}
