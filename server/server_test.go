package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/vecmem/internal/profile"
	"github.com/hrygo/vecmem/store"
	"github.com/hrygo/vecmem/store/db/sqlite"
	"github.com/hrygo/vecmem/store/metrics"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	driver, err := sqlite.Open(sqlite.DriverModernc, filepath.Join(t.TempDir(), "server.db"), sqlite.Options{VectorSize: 2})
	require.NoError(t, err)

	exporter := metrics.NewPrometheusExporter(metrics.DefaultConfig())
	s := store.New(metrics.NewDriver(driver, exporter))
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	return NewServer(&profile.Profile{Mode: "dev"}, s, exporter.Handler()), s
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
	return rec
}

func TestHealthz(t *testing.T) {
	server, _ := newTestServer(t)

	rec := get(t, server.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHealthzUnavailable(t *testing.T) {
	server, s := newTestServer(t)
	require.NoError(t, s.Close())

	rec := get(t, server.Handler(), "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCollectionsAndMetrics(t *testing.T) {
	server, s := newTestServer(t)

	rec := get(t, server.Handler(), "/api/v1/collections")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"collections":[]}`, rec.Body.String())

	require.NoError(t, s.CreateCollection(context.Background(), "notes"))
	rec = get(t, server.Handler(), "/api/v1/collections")
	assert.JSONEq(t, `{"collections":["notes"]}`, rec.Body.String())

	rec = get(t, server.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `vecmem_store_operations_total{operation="list_collections",status="success"} 2`)
}

func TestNoMetricsHandler(t *testing.T) {
	driver, err := sqlite.Open(sqlite.DriverModernc, filepath.Join(t.TempDir(), "plain.db"), sqlite.Options{})
	require.NoError(t, err)
	defer driver.Close()

	server := NewServer(&profile.Profile{}, store.New(driver), nil)
	rec := get(t, server.Handler(), "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
