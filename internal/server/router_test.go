package server_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-intake/internal/config"
	"github.com/telhawk-systems/telhawk-intake/internal/correlation"
	"github.com/telhawk-systems/telhawk-intake/internal/pipeline"
	"github.com/telhawk-systems/telhawk-intake/internal/repository"
	"github.com/telhawk-systems/telhawk-intake/internal/server"
	"github.com/telhawk-systems/telhawk-intake/internal/service"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	tmp := t.TempDir()
	cfg := config.IngestionConfig{
		DropDir:      filepath.Join(tmp, "drop"),
		ProcessedDir: filepath.Join(tmp, "processed"),
		ErrorDir:     filepath.Join(tmp, "error"),
	}
	require.NoError(t, os.MkdirAll(cfg.AlertsDropDir(), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(cfg.AlertsDropDir(), "alerts_a.csv"),
		[]byte("user,datestr,alert_name\nalice,2024-01-01T00:30:00,a1\n"),
		0o644,
	))

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	alerts := repository.NewInMemoryAlertStore()
	incidents := repository.NewInMemoryIncidentStore()
	engine := correlation.NewEngine(alerts, incidents, log)
	pipe := pipeline.New(cfg, service.New(alerts, incidents, engine, log), nil, log)
	return server.NewRouter(pipe, log)
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerRun(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/ingest/run", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var report pipeline.RunReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.NotEmpty(t, report.RunID)
	require.Len(t, report.Files, 1)
	assert.Equal(t, 1, report.Files[0].Created)
}

func TestTriggerRun_MethodNotAllowed(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/ingest/run", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
