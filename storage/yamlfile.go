package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	candidatesFile  = "rhash_vec_db.yaml"
	preferencesFile = "default_setting_db.yaml"
)

// YAMLStore keeps both collections in memory and mirrors each one to its
// own YAML file. Writes go through to disk before returning.
type YAMLStore struct {
	mu              sync.RWMutex
	candidatesPath  string
	preferencesPath string
	candidates      map[string][]string
	preferences     map[string]string
}

// NewYAMLStore loads (or creates) the two YAML files under dir.
func NewYAMLStore(dir string) (*YAMLStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	s := &YAMLStore{
		candidatesPath:  filepath.Join(dir, candidatesFile),
		preferencesPath: filepath.Join(dir, preferencesFile),
	}
	if err := s.Reload(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Close flushes both files.
func (s *YAMLStore) Close() error {
	return s.Flush(context.Background())
}

// ReadCandidates returns a copy of the list stored for host.
func (s *YAMLStore) ReadCandidates(ctx context.Context, host string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens, ok := s.candidates[host]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(tokens), nil
}

// WriteCandidates replaces the list for host and persists the candidates file.
func (s *YAMLStore) WriteCandidates(ctx context.Context, host string, tokens []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.candidates[host]
	s.candidates[host] = slices.Clone(tokens)
	if err := writeYAML(s.candidatesPath, s.candidates); err != nil {
		if had {
			s.candidates[host] = prev
		} else {
			delete(s.candidates, host)
		}
		return err
	}
	return nil
}

// AppendCandidate adds token to the end of host's list unless it is
// already there, persisting the candidates file when the list changes.
func (s *YAMLStore) AppendCandidate(ctx context.Context, host, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.candidates[host]
	if slices.Contains(prev, token) {
		return false, nil
	}
	s.candidates[host] = append(slices.Clone(prev), token)
	if err := writeYAML(s.candidatesPath, s.candidates); err != nil {
		if had {
			s.candidates[host] = prev
		} else {
			delete(s.candidates, host)
		}
		return false, err
	}
	return true, nil
}

// ReadPreference returns the token pinned under key.
func (s *YAMLStore) ReadPreference(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.preferences[key]
	if !ok {
		return "", ErrNotFound
	}
	return token, nil
}

// WritePreference pins token under key and persists the preferences file.
func (s *YAMLStore) WritePreference(ctx context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.preferences[key]
	s.preferences[key] = token
	if err := writeYAML(s.preferencesPath, s.preferences); err != nil {
		if had {
			s.preferences[key] = prev
		} else {
			delete(s.preferences, key)
		}
		return err
	}
	return nil
}

// DeletePreference removes key and persists the preferences file.
func (s *YAMLStore) DeletePreference(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.preferences[key]
	if !ok {
		return "", ErrNotFound
	}
	delete(s.preferences, key)
	if err := writeYAML(s.preferencesPath, s.preferences); err != nil {
		s.preferences[key] = token
		return "", err
	}
	return token, nil
}

// Flush rewrites both files from memory.
func (s *YAMLStore) Flush(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := writeYAML(s.candidatesPath, s.candidates); err != nil {
		return err
	}
	return writeYAML(s.preferencesPath, s.preferences)
}

// Reload replaces memory with the current file contents. Missing files
// load as empty collections. The write lock is held across the read so a
// concurrent write cannot land between the read and the swap.
func (s *YAMLStore) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make(map[string][]string)
	if err := readYAML(s.candidatesPath, &candidates); err != nil {
		return err
	}
	preferences := make(map[string]string)
	if err := readYAML(s.preferencesPath, &preferences); err != nil {
		return err
	}
	if candidates == nil {
		candidates = make(map[string][]string)
	}
	if preferences == nil {
		preferences = make(map[string]string)
	}
	s.candidates = candidates
	s.preferences = preferences
	return nil
}

// Ping checks that the data files are still reachable.
func (s *YAMLStore) Ping(ctx context.Context) error {
	_, err := os.Stat(filepath.Dir(s.candidatesPath))
	return err
}

// Snapshot copies both collections.
func (s *YAMLStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := NewSnapshot()
	for host, tokens := range s.candidates {
		snap.Candidates[host] = slices.Clone(tokens)
	}
	for key, token := range s.preferences {
		snap.Preferences[key] = token
	}
	return snap, nil
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
