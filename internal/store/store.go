// Package store provides the tool call journal and its SQLite implementation.
package store

import (
	"context"
	"time"

	"github.com/ashureev/toolhub/internal/rpc"
)

// CallEntry is one journaled tool call.
type CallEntry struct {
	ID         int64     `json:"id"`
	Toolset    string    `json:"toolset"`
	Tool       string    `json:"tool"`
	SessionID  string    `json:"sessionId"`
	RemoteIP   string    `json:"remoteIp,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMs int64     `json:"durationMs"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
}

// Journal persists tool calls for operators. It is an audit trail only;
// session state is never restored from it.
type Journal interface {
	// Record stores one completed call.
	Record(ctx context.Context, rec rpc.CallRecord) error

	// Recent returns up to limit calls of a tool-set, newest first.
	// An empty toolset matches every tool-set.
	Recent(ctx context.Context, toolset string, limit int) ([]CallEntry, error)

	// Count returns the number of journaled calls of a tool-set.
	Count(ctx context.Context, toolset string) (int64, error)

	// PruneBefore removes calls started before cutoff.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
