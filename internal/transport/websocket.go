package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ashureev/toolhub/internal/identity"
	"github.com/ashureev/toolhub/internal/rpc"
)

// WebSocketHandler serves the dispatcher over a WebSocket: each text message
// is one envelope, answered in order with one text message.
type WebSocketHandler struct {
	dispatcher *rpc.Dispatcher
	stats      *Stats
	opts       Options
}

// NewWebSocketHandler creates a WebSocket handler.
func NewWebSocketHandler(d *rpc.Dispatcher, stats *Stats, opts Options) *WebSocketHandler {
	if stats == nil {
		stats = &Stats{}
	}
	return &WebSocketHandler{dispatcher: d, stats: stats, opts: opts.withDefaults()}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	connID := uuid.NewString()
	logger := h.opts.Logger.With(
		"toolset", h.dispatcher.Toolset().Name,
		"conn_id", connID,
		"session_id", identity.SessionIDFromContext(r.Context()),
	)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "connection ended"); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()
	ws.SetReadLimit(h.opts.MaxBodyBytes)

	h.stats.websockets.Add(1)
	h.stats.total.Add(1)
	defer h.stats.websockets.Add(-1)
	logger.Info("WebSocket connection established", "ip", identity.RemoteIPFromContext(r.Context()))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.pingLoop(ctx, ws, logger)
	h.readLoop(ctx, ws, logger)
	logger.Info("WebSocket connection closed")
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, logger *slog.Logger) {
	for {
		typ, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				logger.Debug("WebSocket closed by client")
			} else if ctx.Err() == nil {
				logger.Warn("WebSocket read error", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			if err := h.writeJSON(ctx, ws, rpc.ParseError(nil)); err != nil {
				return
			}
			continue
		}

		h.stats.commands.Add(1)
		resp := h.dispatcher.Handle(context.WithoutCancel(ctx), message)
		if resp == nil {
			continue
		}
		if err := h.writeJSON(ctx, ws, resp); err != nil {
			logger.Debug("Failed to write response", "error", err)
			return
		}
	}
}

func (h *WebSocketHandler) pingLoop(ctx context.Context, ws *websocket.Conn, logger *slog.Logger) {
	ticker := time.NewTicker(h.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.opts.HeartbeatInterval)
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					logger.Debug("WebSocket ping failed", "error", err)
				}
				return
			}
		}
	}
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
