// Package registry owns the per-host candidate lists and the per-user
// pinned tokens on top of a storage.Store.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/tetsuhou/iv-rhash-bot/storage"
)

// Candidates is the ordered, duplicate-free token list per host.
type Candidates struct {
	store storage.Store
	locks *keyLock
}

// NewCandidates returns a Candidates registry over store.
func NewCandidates(store storage.Store) *Candidates {
	return &Candidates{store: store, locks: newKeyLock()}
}

// AppendIfAbsent adds token to the end of host's list unless it is already
// present. It reports whether the list changed. Appends to the same host
// are serialized so concurrent distinct tokens are never lost; stores that
// implement storage.CandidateAppender extend that guarantee across
// processes.
func (c *Candidates) AppendIfAbsent(ctx context.Context, host, token string) (bool, error) {
	unlock := c.locks.Lock(host)
	defer unlock()

	if appender, ok := c.store.(storage.CandidateAppender); ok {
		added, err := appender.AppendCandidate(ctx, host, token)
		if err != nil {
			return false, fmt.Errorf("append candidate: %w", err)
		}
		if err := c.store.Flush(ctx); err != nil {
			return added, fmt.Errorf("flush candidates: %w", err)
		}
		return added, nil
	}

	tokens, err := c.store.ReadCandidates(ctx, host)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("read candidates: %w", err)
	}
	if slices.Contains(tokens, token) {
		return false, nil
	}

	tokens = append(tokens, token)
	if err := c.store.WriteCandidates(ctx, host, tokens); err != nil {
		return false, fmt.Errorf("write candidates: %w", err)
	}
	if err := c.store.Flush(ctx); err != nil {
		return true, fmt.Errorf("flush candidates: %w", err)
	}
	return true, nil
}

// List returns host's tokens in discovery order; an unknown host yields an
// empty list.
func (c *Candidates) List(ctx context.Context, host string) ([]string, error) {
	tokens, err := c.store.ReadCandidates(ctx, host)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read candidates: %w", err)
	}
	return tokens, nil
}

// Refresh asks the store to re-read its backing medium so List observes
// writes made outside this process.
func (c *Candidates) Refresh(ctx context.Context) error {
	if err := c.store.Reload(ctx); err != nil {
		return fmt.Errorf("reload store: %w", err)
	}
	return nil
}
