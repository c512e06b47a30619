package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetsuhou/iv-rhash-bot/registry"
	"github.com/tetsuhou/iv-rhash-bot/storage"
)

type downStore struct{ storage.Store }

var errDown = errors.New("connection refused")

func (downStore) Ping(context.Context) error                         { return errDown }
func (downStore) Snapshot(context.Context) (*storage.Snapshot, error) { return nil, errDown }
func (downStore) ReadCandidates(context.Context, string) ([]string, error) {
	return nil, errDown
}

func newTestServer(t *testing.T, store storage.Store) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(NewServer(store, registry.NewCandidates(store)).Router())
	t.Cleanup(server.Close)
	return server
}

func newYAMLStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewYAMLStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	server := newTestServer(t, downStore{})

	var body statusResponse
	require.Equal(t, http.StatusOK, getJSON(t, server.URL+"/health", &body))
	require.Equal(t, "ok", body.Status)
}

func TestReady(t *testing.T) {
	server := newTestServer(t, newYAMLStore(t))

	var body statusResponse
	require.Equal(t, http.StatusOK, getJSON(t, server.URL+"/ready", &body))
	require.Equal(t, "ok", body.Status)
}

func TestReadyStoreDown(t *testing.T) {
	server := newTestServer(t, downStore{})

	var body statusResponse
	require.Equal(t, http.StatusServiceUnavailable, getJSON(t, server.URL+"/ready", &body))
	require.Equal(t, "error", body.Status)
	require.Contains(t, body.Error, "connection refused")
}

func TestListCandidates(t *testing.T) {
	store := newYAMLStore(t)
	ctx := context.Background()
	require.NoError(t, store.WriteCandidates(ctx, "example.com", []string{"AB12CD34EF56GH", "ZZ12CD34EF56GH"}))
	server := newTestServer(t, store)

	var body candidatesResponse
	require.Equal(t, http.StatusOK, getJSON(t, server.URL+"/hosts/example.com/candidates", &body))
	require.Equal(t, "example.com", body.Host)
	require.Equal(t, []string{"AB12CD34EF56GH", "ZZ12CD34EF56GH"}, body.Tokens)
}

func TestListCandidatesUnknownHost(t *testing.T) {
	server := newTestServer(t, newYAMLStore(t))

	var body statusResponse
	require.Equal(t, http.StatusNotFound, getJSON(t, server.URL+"/hosts/nowhere.example/candidates", &body))
}

func TestListCandidatesStoreDown(t *testing.T) {
	server := newTestServer(t, downStore{})

	var body statusResponse
	require.Equal(t, http.StatusServiceUnavailable, getJSON(t, server.URL+"/hosts/example.com/candidates", &body))
	require.NotContains(t, body.Error, "connection refused")
}

func TestHostsAndStats(t *testing.T) {
	store := newYAMLStore(t)
	ctx := context.Background()
	require.NoError(t, store.WriteCandidates(ctx, "b.example", []string{"AB12CD34EF56GH"}))
	require.NoError(t, store.WriteCandidates(ctx, "a.example", []string{"AB12CD34EF56GH", "ZZ12CD34EF56GH"}))
	require.NoError(t, store.WritePreference(ctx, "0123456789ABCDEF0123", "AB12CD34EF56GH"))
	server := newTestServer(t, store)

	var hosts hostsResponse
	require.Equal(t, http.StatusOK, getJSON(t, server.URL+"/hosts", &hosts))
	require.Equal(t, []string{"a.example", "b.example"}, hosts.Hosts)

	var stats statsResponse
	require.Equal(t, http.StatusOK, getJSON(t, server.URL+"/stats", &stats))
	require.Equal(t, statsResponse{Hosts: 2, Candidates: 3, Preferences: 1}, stats)
}
