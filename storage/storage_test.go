package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) Store

func backends(t *testing.T) map[string]storeFactory {
	factories := map[string]storeFactory{
		"sqlite": func(t *testing.T) Store {
			db, err := NewSQLite(filepath.Join(t.TempDir(), "data", "test.db"))
			require.NoError(t, err)
			return db
		},
		"yaml": func(t *testing.T) Store {
			s, err := NewYAMLStore(t.TempDir())
			require.NoError(t, err)
			return s
		},
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			s, err := NewRedisStore("redis://" + mr.Addr())
			require.NoError(t, err)
			return s
		},
	}
	if dsn := os.Getenv("IV_BOT_TEST_POSTGRES_DSN"); dsn != "" {
		factories["postgres"] = func(t *testing.T) Store {
			db, err := NewPostgres(dsn)
			require.NoError(t, err)
			_, err = db.conn.Exec(`DELETE FROM candidates`)
			require.NoError(t, err)
			_, err = db.conn.Exec(`DELETE FROM preferences`)
			require.NoError(t, err)
			return db
		}
	}
	return factories
}

func TestStoreConformance(t *testing.T) {
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("Candidates", func(t *testing.T) {
				s := factory(t)
				defer s.Close()
				ctx := context.Background()

				_, err := s.ReadCandidates(ctx, "example.com")
				assert.ErrorIs(t, err, ErrNotFound)

				require.NoError(t, s.WriteCandidates(ctx, "example.com", []string{"AAAAAAAAAAAAA1", "BBBBBBBBBBBBB2"}))
				require.NoError(t, s.WriteCandidates(ctx, "example.org", []string{"CCCCCCCCCCCCC3"}))

				got, err := s.ReadCandidates(ctx, "example.com")
				require.NoError(t, err)
				assert.Equal(t, []string{"AAAAAAAAAAAAA1", "BBBBBBBBBBBBB2"}, got)

				require.NoError(t, s.WriteCandidates(ctx, "example.com", []string{"AAAAAAAAAAAAA1", "BBBBBBBBBBBBB2", "DDDDDDDDDDDDD4"}))
				got, err = s.ReadCandidates(ctx, "example.com")
				require.NoError(t, err)
				assert.Equal(t, []string{"AAAAAAAAAAAAA1", "BBBBBBBBBBBBB2", "DDDDDDDDDDDDD4"}, got)

				got, err = s.ReadCandidates(ctx, "example.org")
				require.NoError(t, err)
				assert.Equal(t, []string{"CCCCCCCCCCCCC3"}, got)
			})

			t.Run("Preferences", func(t *testing.T) {
				s := factory(t)
				defer s.Close()
				ctx := context.Background()

				_, err := s.ReadPreference(ctx, "KEY1")
				assert.ErrorIs(t, err, ErrNotFound)

				require.NoError(t, s.WritePreference(ctx, "KEY1", "AAAAAAAAAAAAA1"))
				require.NoError(t, s.WritePreference(ctx, "KEY1", "BBBBBBBBBBBBB2"))

				token, err := s.ReadPreference(ctx, "KEY1")
				require.NoError(t, err)
				assert.Equal(t, "BBBBBBBBBBBBB2", token)

				removed, err := s.DeletePreference(ctx, "KEY1")
				require.NoError(t, err)
				assert.Equal(t, "BBBBBBBBBBBBB2", removed)

				_, err = s.DeletePreference(ctx, "KEY1")
				assert.ErrorIs(t, err, ErrNotFound)
				_, err = s.ReadPreference(ctx, "KEY1")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("FlushReloadSnapshot", func(t *testing.T) {
				s := factory(t)
				defer s.Close()
				ctx := context.Background()

				require.NoError(t, s.WriteCandidates(ctx, "example.com", []string{"AAAAAAAAAAAAA1"}))
				require.NoError(t, s.WritePreference(ctx, "KEY1", "AAAAAAAAAAAAA1"))
				require.NoError(t, s.Flush(ctx))
				require.NoError(t, s.Reload(ctx))
				require.NoError(t, s.Ping(ctx))

				snap, err := s.Snapshot(ctx)
				require.NoError(t, err)
				assert.Equal(t, []string{"AAAAAAAAAAAAA1"}, snap.Candidates["example.com"])
				assert.Equal(t, "AAAAAAAAAAAAA1", snap.Preferences["KEY1"])
			})
		})
	}
}

func TestYAMLStoreSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewYAMLStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.WriteCandidates(ctx, "example.com", []string{"AAAAAAAAAAAAA1", "BBBBBBBBBBBBB2"}))
	require.NoError(t, s.WritePreference(ctx, "KEY1", "BBBBBBBBBBBBB2"))
	require.NoError(t, s.Close())

	reopened, err := NewYAMLStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.ReadCandidates(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"AAAAAAAAAAAAA1", "BBBBBBBBBBBBB2"}, got)

	token, err := reopened.ReadPreference(ctx, "KEY1")
	require.NoError(t, err)
	assert.Equal(t, "BBBBBBBBBBBBB2", token)
}

func TestYAMLStoreReloadPicksUpExternalEdits(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewYAMLStore(dir)
	require.NoError(t, err)
	defer s.Close()

	content := "example.com:\n  - AAAAAAAAAAAAA1\n  - EEEEEEEEEEEEE5\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, candidatesFile), []byte(content), 0o644))

	_, err = s.ReadCandidates(ctx, "example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Reload(ctx))
	got, err := s.ReadCandidates(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"AAAAAAAAAAAAA1", "EEEEEEEEEEEEE5"}, got)
}

func TestYAMLStoreRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, preferencesFile), []byte("- not\n- a map\n"), 0o644))

	_, err := NewYAMLStore(dir)
	assert.Error(t, err)
}

func TestSQLiteSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	db, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, db.WriteCandidates(ctx, "example.com", []string{"AAAAAAAAAAAAA1"}))
	require.NoError(t, db.Close())

	reopened, err := NewSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.ReadCandidates(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"AAAAAAAAAAAAA1"}, got)
}

func TestRebind(t *testing.T) {
	pg := &DB{dialect: Postgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := &DB{dialect: SQLite}
	assert.Equal(t, "SELECT ?", lite.rebind("SELECT ?"))
}

func TestSnapshotDirRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "backups")

	snap := NewSnapshot()
	snap.Candidates["example.com"] = []string{"AAAAAAAAAAAAA1", "BBBBBBBBBBBBB2"}
	snap.Preferences["KEY1"] = "BBBBBBBBBBBBB2"
	require.NoError(t, snap.WriteDir(dir))

	got, err := ReadSnapshotDir(dir)
	require.NoError(t, err)
	assert.Equal(t, snap, got)

	// Each file is a bare top-level map, same as the yaml backend.
	data, err := os.ReadFile(filepath.Join(dir, candidatesFile))
	require.NoError(t, err)
	assert.Equal(t, "example.com:\n    - AAAAAAAAAAAAA1\n    - BBBBBBBBBBBBB2\n", string(data))
	data, err = os.ReadFile(filepath.Join(dir, preferencesFile))
	require.NoError(t, err)
	assert.Equal(t, "KEY1: BBBBBBBBBBBBB2\n", string(data))

	s, err := NewYAMLStore(dir)
	require.NoError(t, err)
	defer s.Close()
	tokens, err := s.ReadCandidates(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"AAAAAAAAAAAAA1", "BBBBBBBBBBBBB2"}, tokens)
}

func TestAppendCandidate(t *testing.T) {
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			defer s.Close()
			appender, ok := s.(CandidateAppender)
			require.True(t, ok, "%s store should append atomically", name)
			ctx := context.Background()

			added, err := appender.AppendCandidate(ctx, "example.com", "AAAAAAAAAAAAA1")
			require.NoError(t, err)
			assert.True(t, added)
			added, err = appender.AppendCandidate(ctx, "example.com", "BBBBBBBBBBBBB2")
			require.NoError(t, err)
			assert.True(t, added)
			added, err = appender.AppendCandidate(ctx, "example.com", "AAAAAAAAAAAAA1")
			require.NoError(t, err)
			assert.False(t, added)

			got, err := s.ReadCandidates(ctx, "example.com")
			require.NoError(t, err)
			assert.Equal(t, []string{"AAAAAAAAAAAAA1", "BBBBBBBBBBBBB2"}, got)
		})
	}
}

// Two stores on one redis server stand in for two bot processes.
func TestRedisAppendCandidateAcrossClients(t *testing.T) {
	mr := miniredis.RunT(t)
	var stores []*RedisStore
	for range 2 {
		s, err := NewRedisStore("redis://" + mr.Addr())
		require.NoError(t, err)
		defer s.Close()
		stores = append(stores, s)
	}
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := stores[i%2].AppendCandidate(ctx, "example.com", fmt.Sprintf("TOKEN%09d", i))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := stores[0].ReadCandidates(ctx, "example.com")
	require.NoError(t, err)
	assert.Len(t, got, n)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(Options{Backend: "etcd"})
	assert.Error(t, err)
}

func TestOpenYAML(t *testing.T) {
	s, err := Open(Options{Backend: BackendYAML, DataDir: t.TempDir()})
	require.NoError(t, err)
	defer s.Close()
	_, ok := s.(*YAMLStore)
	assert.True(t, ok)
}
