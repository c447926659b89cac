package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/toolhub/internal/identity"
	"github.com/ashureev/toolhub/internal/toolset"
)

// ProtocolVersion is reported by initialize.
const ProtocolVersion = "2024-11-05"

// CallRecord describes one completed tools/call.
type CallRecord struct {
	Toolset   string
	Tool      string
	SessionID string
	RemoteIP  string
	StartedAt time.Time
	Duration  time.Duration
	Success   bool
	Error     string
}

// Journal records tool calls. Implementations must be safe for concurrent use.
type Journal interface {
	Record(ctx context.Context, rec CallRecord) error
}

// Dispatcher routes envelopes to a tool-set's registry.
type Dispatcher struct {
	toolset *toolset.Toolset
	journal Journal
	logger  *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithJournal records every tools/call.
func WithJournal(j Journal) DispatcherOption {
	return func(d *Dispatcher) {
		d.journal = j
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a dispatcher for ts.
func NewDispatcher(ts *toolset.Toolset, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{toolset: ts}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("toolset", ts.Name)
	return d
}

// Toolset returns the dispatched tool-set.
func (d *Dispatcher) Toolset() *toolset.Toolset {
	return d.toolset
}

// Handle decodes one envelope and dispatches it. It returns nil when the
// envelope is a notification.
func (d *Dispatcher) Handle(ctx context.Context, data []byte) *Response {
	req, errResp := Decode(data)
	if errResp != nil {
		d.logger.Warn("Rejected envelope", "code", errResp.Error.Code, "error", errResp.Error.Message)
		return errResp
	}
	return d.Dispatch(ctx, req)
}

// Dispatch routes req. Notifications yield a nil response.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *Response {
	if req.IsNotification() {
		d.logger.Debug("Notification received", "method", req.Method)
		return nil
	}

	switch req.Method {
	case "initialize":
		return NewResult(req.ID, d.initializeResult())
	case "ping":
		return NewResult(req.ID, struct{}{})
	case "tools/list":
		return NewResult(req.ID, map[string]any{"tools": d.toolset.Registry.Describe()})
	case "tools/call":
		return d.callTool(ctx, req)
	default:
		return NewError(req.ID, CodeMethodNotFound, "Method not found: "+req.Method)
	}
}

func (d *Dispatcher) initializeResult() map[string]any {
	result := map[string]any{
		"protocolVersion": ProtocolVersion,
		"serverInfo": map[string]string{
			"name":    d.toolset.Title,
			"version": d.toolset.Version,
		},
		"capabilities": map[string]any{
			"tools": map[string]bool{"listChanged": false},
		},
	}
	if d.toolset.Instructions != "" {
		result["instructions"] = d.toolset.Instructions
	}
	return result
}

type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (d *Dispatcher) callTool(ctx context.Context, req *Request) *Response {
	var params callParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return NewError(req.ID, CodeInvalidParams, "Invalid params: "+err.Error())
		}
	}
	if strings.TrimSpace(params.Name) == "" {
		return NewError(req.ID, CodeInvalidParams, "Invalid params: name is required")
	}

	handler, ok := d.toolset.Registry.Resolve(params.Name)
	if !ok {
		return NewError(req.ID, CodeInvalidParams, "Unknown tool: "+params.Name)
	}

	args, err := toolset.DecodeArgs(params.Arguments)
	if err != nil {
		return NewError(req.ID, CodeInvalidParams, "Invalid arguments: "+err.Error())
	}

	started := time.Now()
	value, err := invoke(ctx, handler, args)
	var result *toolset.CallResult
	if err == nil {
		result, err = toolset.Wrap(value)
	}
	elapsed := time.Since(started)

	sessionID, _ := args.SessionID(ctx)
	d.record(ctx, CallRecord{
		Toolset:   d.toolset.Name,
		Tool:      params.Name,
		SessionID: sessionID,
		RemoteIP:  identity.RemoteIPFromContext(ctx),
		StartedAt: started,
		Duration:  elapsed,
		Success:   err == nil,
		Error:     errString(err),
	})

	if err != nil {
		code := CodeServerError
		msg := err.Error()
		if errors.Is(err, toolset.ErrInvalidArgument) {
			code = CodeInvalidParams
			msg = "Invalid arguments: " + msg
		}
		d.logger.Info("Tool call failed",
			"tool", params.Name,
			"session_id", sessionID,
			"duration_ms", elapsed.Milliseconds(),
			"code", code,
			"error", err,
		)
		return NewError(req.ID, code, msg)
	}

	d.logger.Info("Tool call completed",
		"tool", params.Name,
		"session_id", sessionID,
		"duration_ms", elapsed.Milliseconds(),
	)
	return NewResult(req.ID, result)
}

// invoke runs a handler, converting a panic into an error.
func invoke(ctx context.Context, h toolset.Handler, args toolset.Args) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Tool handler panicked", "panic", r)
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return h(ctx, args)
}

func (d *Dispatcher) record(ctx context.Context, rec CallRecord) {
	if d.journal == nil {
		return
	}
	if err := d.journal.Record(context.WithoutCancel(ctx), rec); err != nil {
		d.logger.Warn("Failed to journal tool call", "tool", rec.Tool, "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
