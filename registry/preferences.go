package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/tetsuhou/iv-rhash-bot/storage"
)

// Preferences maps a preference key to the user's pinned token.
type Preferences struct {
	store storage.Store
	locks *keyLock
}

// NewPreferences returns a Preferences registry over store.
func NewPreferences(store storage.Store) *Preferences {
	return &Preferences{store: store, locks: newKeyLock()}
}

// Get returns the token pinned under key and whether one exists.
func (p *Preferences) Get(ctx context.Context, key string) (string, bool, error) {
	token, err := p.store.ReadPreference(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read preference: %w", err)
	}
	return token, true, nil
}

// Set pins token under key and flushes.
func (p *Preferences) Set(ctx context.Context, key, token string) error {
	unlock := p.locks.Lock(key)
	defer unlock()

	if err := p.store.WritePreference(ctx, key, token); err != nil {
		return fmt.Errorf("write preference: %w", err)
	}
	if err := p.store.Flush(ctx); err != nil {
		return fmt.Errorf("flush preferences: %w", err)
	}
	return nil
}

// Delete removes key and returns the token it held, if any.
func (p *Preferences) Delete(ctx context.Context, key string) (string, bool, error) {
	unlock := p.locks.Lock(key)
	defer unlock()

	token, err := p.store.DeletePreference(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("delete preference: %w", err)
	}
	if err := p.store.Flush(ctx); err != nil {
		return token, true, fmt.Errorf("flush preferences: %w", err)
	}
	return token, true, nil
}
