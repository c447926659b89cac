// Package transport carries dispatcher envelopes over SSE and WebSocket connections.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/toolhub/internal/identity"
	"github.com/ashureev/toolhub/internal/rpc"
)

const (
	// DefaultHeartbeatInterval is the keepalive period of subscribe streams.
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultRetryDelay is the reconnect hint sent to SSE clients.
	DefaultRetryDelay = 5 * time.Second
	// DefaultMaxBodyBytes bounds one inbound envelope.
	DefaultMaxBodyBytes int64 = 1 << 20
)

// Options configures the transports.
type Options struct {
	HeartbeatInterval time.Duration
	RetryDelay        time.Duration
	MaxBodyBytes      int64
	Logger            *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Stats counts connections for the liveness endpoint.
type Stats struct {
	streams    atomic.Int64
	websockets atomic.Int64
	commands   atomic.Int64
	total      atomic.Int64
}

// Snapshot returns the counters as a JSON-friendly map.
func (s *Stats) Snapshot() map[string]int64 {
	return map[string]int64{
		"activeStreams":    s.streams.Load(),
		"activeWebSockets": s.websockets.Load(),
		"commandsServed":   s.commands.Load(),
		"totalConnections": s.total.Load(),
	}
}

// ActiveStreams returns the number of open subscribe streams.
func (s *Stats) ActiveStreams() int64 {
	return s.streams.Load()
}

// ActiveWebSockets returns the number of open WebSocket connections.
func (s *Stats) ActiveWebSockets() int64 {
	return s.websockets.Load()
}

// StreamHandler serves the SSE transport: GET subscribes to heartbeats,
// POST carries one command envelope and its single response frame.
type StreamHandler struct {
	dispatcher *rpc.Dispatcher
	stats      *Stats
	opts       Options
}

// NewStreamHandler creates an SSE handler. stats may be shared with a WebSocketHandler.
func NewStreamHandler(d *rpc.Dispatcher, stats *Stats, opts Options) *StreamHandler {
	if stats == nil {
		stats = &Stats{}
	}
	return &StreamHandler{dispatcher: d, stats: stats, opts: opts.withDefaults()}
}

// ServeHTTP implements http.Handler.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.subscribe(w, r)
	case http.MethodPost:
		h.command(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, OPTIONS")
		http.Error(w, `{"error": "method not allowed"}`, http.StatusMethodNotAllowed)
	}
}

func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func (h *StreamHandler) subscribe(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	toolsetName := h.dispatcher.Toolset().Name
	sessionID := identity.SessionIDFromContext(r.Context())
	connID := uuid.NewString()
	logger := h.opts.Logger.With("toolset", toolsetName, "conn_id", connID, "session_id", sessionID)

	setStreamHeaders(w)
	w.Header().Set(identity.SessionHeaderName, sessionID)
	w.WriteHeader(http.StatusOK)

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", h.opts.RetryDelay.Milliseconds())); err != nil {
		logger.Warn("failed to write SSE retry header", "error", err)
		return
	}

	h.stats.streams.Add(1)
	h.stats.total.Add(1)
	defer func() {
		h.stats.streams.Add(-1)
		logger.Info("SSE stream closed")
	}()

	connected, err := json.Marshal(map[string]any{
		"type":         "connected",
		"connectionId": connID,
		"toolset":      toolsetName,
		"sessionId":    sessionID,
		"timestamp":    time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		logger.Warn("failed to marshal connected event", "error", err)
		return
	}
	if err := writeSSE(w, "connected", string(connected)); err != nil {
		logger.Warn("failed to write SSE connected event", "error", err)
		return
	}
	flusher.Flush()
	logger.Info("SSE stream established", "ip", identity.RemoteIPFromContext(r.Context()))

	heartbeat := time.NewTicker(h.opts.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case t := <-heartbeat.C:
			data := fmt.Sprintf(`{"type":"heartbeat","timestamp":%q}`, t.UTC().Format(time.RFC3339Nano))
			if err := writeSSE(w, "heartbeat", data); err != nil {
				logger.Debug("failed to write SSE heartbeat", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func (h *StreamHandler) command(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, `{"error": "request body too large"}`, http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, `{"error": "failed to read request body"}`, http.StatusBadRequest)
		return
	}

	h.stats.commands.Add(1)

	// Commands run to completion even if the peer goes away mid-call.
	ctx := context.WithoutCancel(r.Context())
	resp := h.dispatcher.Handle(ctx, body)

	w.Header().Set(identity.SessionHeaderName, identity.SessionIDFromContext(r.Context()))
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	data, err := json.Marshal(resp)
	if err != nil {
		h.opts.Logger.Error("failed to marshal response envelope", "error", err)
		data, _ = json.Marshal(rpc.NewError(resp.ID, rpc.CodeInternalError, "failed to serialize response"))
	}

	if wantsJSON(r) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(data); err != nil {
			h.opts.Logger.Debug("failed to write JSON response", "error", err)
		}
		return
	}

	setStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := writeSSE(w, "message", string(data)); err != nil {
		h.opts.Logger.Debug("failed to write SSE message event", "error", err)
		return
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// wantsJSON reports whether the client asked for a plain JSON body.
func wantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/event-stream")
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
