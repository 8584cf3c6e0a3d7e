package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/mongorelay/pkg/checkpoint"
	"github.com/stratumhq/mongorelay/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *checkpoint.FileStore) {
	t.Helper()
	store, err := checkpoint.NewFileStore(filepath.Join(t.TempDir(), "progress"))
	require.NoError(t, err)

	mappings := []types.CollectionMapping{
		{SourceDB: "src", TargetDB: "dst", Collection: "orders"},
	}
	return NewServer(store, mappings), store
}

func TestProgressHandler(t *testing.T) {
	s, store := newTestServer(t)
	require.NoError(t, store.SaveBulk("orders", &types.BulkCheckpoint{LastID: "66f0", Count: 1234}))

	req := httptest.NewRequest(http.MethodGet, "/progress", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response ProgressResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	require.Len(t, response.Collections, 1)
	assert.Equal(t, "orders", response.Collections[0].Collection)
	assert.Equal(t, int64(1234), response.Collections[0].Copied)
	assert.False(t, response.Timestamp.IsZero())
}

func TestProgressHandlerRejectsWrites(t *testing.T) {
	s, _ := newTestServer(t)

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		req := httptest.NewRequest(method, "/progress", nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, "method %s", method)
	}
}

func TestHealthEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/health", "/live"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code, "path %s", path)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "path %s", path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
}
