package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/finq/internal/config"
	"github.com/sells-group/finq/internal/qa"
	"github.com/sells-group/finq/internal/store"
)

func newTestServer(t *testing.T) (http.Handler, store.Store) {
	t.Helper()

	cfg = &config.Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Sandbox.TimeoutSecs = 5
	cfg.Router.Threshold = 60

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	engine, err := buildEngine(context.Background(), st, cfg)
	require.NoError(t, err)

	var ptr atomic.Pointer[qa.Engine]
	ptr.Store(engine)
	return newServeMux(&ptr, st), st
}

func TestServeHealth(t *testing.T) {
	mux, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServeAsk_MissingQuestion(t *testing.T) {
	mux, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/ask", bytes.NewBufferString(`{}`))
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeAsk_InvalidBody(t *testing.T) {
	mux, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/ask", bytes.NewBufferString(`{`))
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeAsk_Unanswerable(t *testing.T) {
	mux, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/ask",
		bytes.NewBufferString(`{"question":"what is the airspeed of an unladen swallow?"}`))
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["question_id"])
	assert.Equal(t, "I don't know how to answer that yet.", resp["answer"])
}

func TestServeGraph(t *testing.T) {
	mux, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/graph", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "digraph")
	assert.Contains(t, rec.Body.String(), "ledger.all_transactions")
}

func TestServeRefresh(t *testing.T) {
	mux, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/refresh", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "refreshed", resp["status"])
}
