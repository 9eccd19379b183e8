// Package server exposes the operator surface of the intake service:
// health, metrics, and the on-demand ingestion trigger.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/telhawk-intake/internal/pipeline"
)

// NewRouter constructs a ServeMux with admin routes registered.
func NewRouter(p *pipeline.Pipeline, log *slog.Logger) http.Handler {
	h := &handler{pipeline: p, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.health)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/v1/ingest/run", h.triggerRun)
	return mux
}

type handler struct {
	pipeline *pipeline.Pipeline
	log      *slog.Logger
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// triggerRun executes one synchronous ingestion pass and returns its report.
func (h *handler) triggerRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	report, err := h.pipeline.Run(r.Context())
	if err != nil {
		if errors.Is(err, pipeline.ErrRunInProgress) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		h.log.Error("manual ingestion run failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "ingestion run failed"})
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
