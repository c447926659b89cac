package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/toolhub/internal/store"
)

const healthCheckTimeout = 5 * time.Second

// Health returns the liveness payload of the tool-set and its dependencies.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := map[string]interface{}{
		"status":         "healthy",
		"service":        h.ts.Title,
		"toolset":        h.ts.Name,
		"version":        h.ts.Version,
		"timestamp":      h.now().UTC().Format(time.RFC3339),
		"tools":          h.ts.Registry.Names(),
		"activeSessions": h.ts.ActiveSessions(),
		"sessionTimeout": h.ts.SessionTimeout.String(),
		"connections":    h.stats.Snapshot(),
	}
	for k, v := range h.ts.Counters() {
		if _, taken := status[k]; !taken {
			status[k] = v
		}
	}
	statusCode := http.StatusOK

	if h.journal != nil {
		checks := map[string]string{"api": "ok"}
		if err := h.journal.Ping(ctx); err != nil {
			h.logger.Error("Health check failed", "toolset", h.ts.Name, "error", err)
			status["status"] = "degraded"
			checks["journal"] = "unreachable"
			statusCode = http.StatusServiceUnavailable
		} else {
			checks["journal"] = "ok"
			if n, err := h.journal.Count(ctx, h.ts.Name); err == nil {
				status["callsRecorded"] = n
			}
		}
		status["checks"] = checks
	}

	JSON(w, statusCode, status)
}

// Calls returns the most recent journaled calls of the tool-set.
func (h *Handler) Calls(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		Error(w, http.StatusNotFound, "call journal is disabled")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			Error(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	entries, err := h.journal.Recent(r.Context(), h.ts.Name, limit)
	if err != nil {
		h.logger.Error("Failed to read call journal", "toolset", h.ts.Name, "error", err)
		Error(w, http.StatusInternalServerError, "failed to read call journal")
		return
	}
	if entries == nil {
		entries = []store.CallEntry{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"toolset": h.ts.Name,
		"calls":   entries,
		"count":   len(entries),
	})
}
