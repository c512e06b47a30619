package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	candidatesPrefix  = "rhash:"
	preferencesPrefix = "default:"
)

// appendScript pushes ARGV[1] onto KEYS[1] unless the list already holds it.
// It returns 1 when the list changed.
var appendScript = redis.NewScript(`
local tokens = redis.call('LRANGE', KEYS[1], 0, -1)
for _, t in ipairs(tokens) do
	if t == ARGV[1] then
		return 0
	end
end
redis.call('RPUSH', KEYS[1], ARGV[1])
return 1
`)

// RedisStore keeps candidate lists as Redis lists and preferences as plain
// string keys.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the Redis server at redisURL.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// ReadCandidates returns the list stored for host.
func (s *RedisStore) ReadCandidates(ctx context.Context, host string) ([]string, error) {
	key := candidatesPrefix + host
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("check candidates: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	tokens, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read candidates: %w", err)
	}
	return tokens, nil
}

// WriteCandidates replaces the list for host in one transaction. An empty
// list deletes the key.
func (s *RedisStore) WriteCandidates(ctx context.Context, host string, tokens []string) error {
	key := candidatesPrefix + host
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(tokens) > 0 {
			values := make([]any, len(tokens))
			for i, t := range tokens {
				values[i] = t
			}
			pipe.RPush(ctx, key, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write candidates: %w", err)
	}
	return nil
}

// AppendCandidate appends token to host's list in a server-side script, so
// concurrent appends from any number of clients are never lost.
func (s *RedisStore) AppendCandidate(ctx context.Context, host, token string) (bool, error) {
	n, err := appendScript.Run(ctx, s.client, []string{candidatesPrefix + host}, token).Int()
	if err != nil {
		return false, fmt.Errorf("append candidate: %w", err)
	}
	return n == 1, nil
}

// ReadPreference returns the token pinned under key.
func (s *RedisStore) ReadPreference(ctx context.Context, key string) (string, error) {
	token, err := s.client.Get(ctx, preferencesPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read preference: %w", err)
	}
	return token, nil
}

// WritePreference pins token under key with no expiry.
func (s *RedisStore) WritePreference(ctx context.Context, key, token string) error {
	if err := s.client.Set(ctx, preferencesPrefix+key, token, 0).Err(); err != nil {
		return fmt.Errorf("write preference: %w", err)
	}
	return nil
}

// DeletePreference atomically removes key and returns its token.
func (s *RedisStore) DeletePreference(ctx context.Context, key string) (string, error) {
	token, err := s.client.GetDel(ctx, preferencesPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("delete preference: %w", err)
	}
	return token, nil
}

// Flush is a no-op; durability is governed by the server's persistence
// settings.
func (s *RedisStore) Flush(ctx context.Context) error {
	return nil
}

// Reload is a no-op: nothing is cached locally.
func (s *RedisStore) Reload(ctx context.Context) error {
	return nil
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Snapshot scans both key spaces.
func (s *RedisStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := NewSnapshot()

	iter := s.client.Scan(ctx, 0, candidatesPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		tokens, err := s.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		snap.Candidates[strings.TrimPrefix(key, candidatesPrefix)] = tokens
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan candidates: %w", err)
	}

	iter = s.client.Scan(ctx, 0, preferencesPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		token, err := s.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		snap.Preferences[strings.TrimPrefix(key, preferencesPrefix)] = token
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan preferences: %w", err)
	}

	return snap, nil
}
