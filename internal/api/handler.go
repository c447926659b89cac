// Package api mounts tool-sets on the HTTP router and serves their
// liveness and documentation endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/toolhub/internal/identity"
	"github.com/ashureev/toolhub/internal/rpc"
	"github.com/ashureev/toolhub/internal/store"
	"github.com/ashureev/toolhub/internal/toolset"
	"github.com/ashureev/toolhub/internal/transport"
)

// Handler serves one mounted tool-set.
type Handler struct {
	ts         *toolset.Toolset
	dispatcher *rpc.Dispatcher
	stats      *transport.Stats
	journal    store.Journal
	prefix     string
	opts       transport.Options
	now        func() time.Time
	logger     *slog.Logger
}

// Config holds the dependencies of a Handler.
type Config struct {
	Toolset    *toolset.Toolset
	Dispatcher *rpc.Dispatcher
	// Journal is optional; nil disables /calls and the database check.
	Journal   store.Journal
	Prefix    string
	Transport transport.Options
	Logger    *slog.Logger
}

// NewHandler creates a tool-set handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Transport.Logger = logger
	if cfg.Transport.HeartbeatInterval <= 0 {
		cfg.Transport.HeartbeatInterval = transport.DefaultHeartbeatInterval
	}
	return &Handler{
		ts:         cfg.Toolset,
		dispatcher: cfg.Dispatcher,
		stats:      &transport.Stats{},
		journal:    cfg.Journal,
		prefix:     cfg.Prefix,
		opts:       cfg.Transport,
		now:        time.Now,
		logger:     logger,
	}
}

// RegisterRoutes registers the tool-set routes under its prefix.
func (h *Handler) RegisterRoutes(r chi.Router) {
	stream := identity.Middleware(transport.NewStreamHandler(h.dispatcher, h.stats, h.opts))
	ws := identity.Middleware(transport.NewWebSocketHandler(h.dispatcher, h.stats, h.opts))

	r.Route(h.prefix, func(r chi.Router) {
		r.Get("/", h.Docs)
		r.Get("/health", h.Health)
		r.Get("/calls", h.Calls)
		r.Handle("/mcp", stream)
		r.Handle("/sse", stream)
		r.Handle("/ws", ws)
	})
	h.logger.Info("Tool-set mounted", "toolset", h.ts.Name, "prefix", h.prefix, "tools", h.ts.Registry.Len())
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
