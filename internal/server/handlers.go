package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// handlers binds HTTP handler methods to an App's dependencies.
type handlers struct {
	app *App
	log *slog.Logger
}

// --- Health endpoints ---

func (h *handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *handlers) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ready := true
	checks := make(map[string]any)

	if err := h.app.Staging.CheckWritable(); err != nil {
		ready = false
		checks["staging"] = map[string]string{"status": "unhealthy", "error": err.Error()}
	} else {
		checks["staging"] = map[string]string{"status": "healthy"}
	}

	w.Header().Set("Content-Type", "application/json")
	if ready {
		checks["status"] = "ready"
		w.WriteHeader(http.StatusOK)
	} else {
		checks["status"] = "not_ready"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

// --- Diagnostics ---

func (h *handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Query().Get("format") == "tar.gz" || r.Header.Get("Accept") == "application/gzip" {
		w.Header().Set("Content-Type", "application/gzip")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=camrelay-status-%s.tar.gz", time.Now().UTC().Format("20060102-150405")))
		if err := h.app.DiagCollector.WriteTarGz(w); err != nil {
			h.log.Error("failed to generate diagnostics archive", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.app.DiagCollector.Collect())
}
