// Package storage provides the durable key-value collections behind the
// candidate and preference registries.
//
// A Store holds two independent collections: host -> ordered candidate
// tokens, and preference key -> pinned token. Backends are safe for
// concurrent use but do not serialize read-modify-write sequences; callers
// that need that must lock per key, or use CandidateAppender where a
// backend offers it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound is returned when a key is absent.
var ErrNotFound = errors.New("not found")

// Store is the durable store consumed by the registries.
type Store interface {
	// ReadCandidates returns the candidate list for host, or ErrNotFound.
	ReadCandidates(ctx context.Context, host string) ([]string, error)
	// WriteCandidates replaces the candidate list for host.
	WriteCandidates(ctx context.Context, host string, tokens []string) error

	// ReadPreference returns the token pinned under key, or ErrNotFound.
	ReadPreference(ctx context.Context, key string) (string, error)
	// WritePreference creates or overwrites the token pinned under key.
	WritePreference(ctx context.Context, key, token string) error
	// DeletePreference removes key and returns its token, or ErrNotFound.
	DeletePreference(ctx context.Context, key string) (string, error)

	// Flush makes all prior writes durable.
	Flush(ctx context.Context) error
	// Reload discards cached state and re-reads the backing medium.
	Reload(ctx context.Context) error
	// Ping reports whether the backing medium is reachable.
	Ping(ctx context.Context) error
	// Snapshot returns a copy of both collections.
	Snapshot(ctx context.Context) (*Snapshot, error)

	Close() error
}

// CandidateAppender is implemented by stores that can append a candidate
// token atomically on the server side, so that several bot processes
// sharing one store never lose each other's appends.
type CandidateAppender interface {
	// AppendCandidate adds token to the end of host's list unless it is
	// already present, and reports whether the list changed.
	AppendCandidate(ctx context.Context, host, token string) (bool, error)
}

// Snapshot is a point-in-time copy of both collections.
type Snapshot struct {
	Candidates  map[string][]string
	Preferences map[string]string
}

// NewSnapshot returns an empty Snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Candidates:  make(map[string][]string),
		Preferences: make(map[string]string),
	}
}

// WriteDir writes the snapshot into dir as the two files the yaml backend
// uses, each a single top-level map, so a backup directory can be opened
// directly as a data directory.
func (s *Snapshot) WriteDir(dir string) error {
	if err := writeYAML(filepath.Join(dir, candidatesFile), s.Candidates); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := writeYAML(filepath.Join(dir, preferencesFile), s.Preferences); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// ReadSnapshotDir reads a snapshot written by WriteDir. Missing files read
// as empty collections.
func ReadSnapshotDir(dir string) (*Snapshot, error) {
	snap := NewSnapshot()
	if err := readYAML(filepath.Join(dir, candidatesFile), &snap.Candidates); err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if err := readYAML(filepath.Join(dir, preferencesFile), &snap.Preferences); err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if snap.Candidates == nil {
		snap.Candidates = make(map[string][]string)
	}
	if snap.Preferences == nil {
		snap.Preferences = make(map[string]string)
	}
	return snap, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
