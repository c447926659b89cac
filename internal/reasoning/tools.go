package reasoning

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ashureev/toolhub/internal/session"
	"github.com/ashureev/toolhub/internal/toolset"
)

// Name is the tool-set identifier.
const Name = "reasoning"

// DefaultTimeout is the session inactivity timeout.
const DefaultTimeout = time.Hour

const instructions = `Use sequentialthinking to work through a problem one thought at a time.
Each call submits one thought; set nextThoughtNeeded=false on the last one.
Revise earlier thoughts with isRevision/revisesThought and explore alternatives
with branchFromThought/branchId. Pass sessionId (or the Mcp-Session-Id header)
to keep independent lines of thought apart.`

var (
	thinkingSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "thought": {"type": "string", "description": "The current thinking step"},
    "nextThoughtNeeded": {"type": "boolean", "description": "Whether another thought step is needed"},
    "thoughtNumber": {"type": "integer", "minimum": 1, "description": "Current thought number"},
    "totalThoughts": {"type": "integer", "minimum": 1, "description": "Estimated total thoughts needed"},
    "isRevision": {"type": "boolean", "description": "Whether this revises previous thinking"},
    "revisesThought": {"type": "integer", "minimum": 1, "description": "Which thought is being reconsidered"},
    "branchFromThought": {"type": "integer", "minimum": 1, "description": "Branching point thought number"},
    "branchId": {"type": "string", "description": "Branch identifier"},
    "needsMoreThoughts": {"type": "boolean", "description": "If more thoughts are needed past the estimate"},
    "sessionId": {"type": "string", "description": "Session identifier"}
  },
  "required": ["thought", "nextThoughtNeeded", "thoughtNumber", "totalThoughts"]
}`)
	sessionSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "sessionId": {"type": "string", "description": "Session identifier"}
  }
}`)
)

// Service holds the reasoning session store.
type Service struct {
	store  *session.Store[*State]
	logger *slog.Logger

	thoughts atomic.Int64
}

// NewService creates the tool-set service over store.
func NewService(store *session.Store[*State], logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// NewStore builds an empty reasoning store.
func NewStore(timeout time.Duration, opts ...session.Option) *session.Store[*State] {
	return session.New(Name, timeout, newState, opts...)
}

// Toolset describes the mounted tool-set.
func (s *Service) Toolset(version string) *toolset.Toolset {
	return &toolset.Toolset{
		Name:           Name,
		Title:          "sequential-thinking",
		Version:        version,
		Instructions:   instructions,
		Registry:       s.Registry(),
		SessionTimeout: s.store.Timeout(),
		Sessions:       s.store.Len,
		Stats: func() map[string]any {
			return map[string]any{"thoughtsRecorded": s.thoughts.Load()}
		},
	}
}

// Registry returns the reasoning tool table.
func (s *Service) Registry() *toolset.Registry {
	return toolset.MustRegistry(
		toolset.Tool{
			Name:        "sequentialthinking",
			Description: "Record one step of a dynamic, reflective problem-solving process. Supports revisions, branches and adjusting the total as understanding deepens.",
			InputSchema: thinkingSchema,
			Handler:     s.think,
		},
		toolset.Tool{
			Name:        "get_thinking_session",
			Description: "Return the full thought history of a session.",
			InputSchema: sessionSchema,
			Handler:     s.getSession,
		},
		toolset.Tool{
			Name:        "list_thinking_sessions",
			Description: "List all active thinking sessions.",
			Handler:     s.listSessions,
		},
		toolset.Tool{
			Name:        "clear_thinking_session",
			Description: "Delete a thinking session and its history.",
			InputSchema: sessionSchema,
			Handler:     s.clearSession,
		},
	)
}

type thinkRequest struct {
	sessionID     string
	step          Step
	totalThoughts int
	nextNeeded    bool
}

func parseThink(ctx context.Context, args toolset.Args) (thinkRequest, error) {
	var req thinkRequest
	var err error

	if req.sessionID, err = args.SessionID(ctx); err != nil {
		return req, err
	}
	if req.step.Thought, err = args.RequireString("thought"); err != nil {
		return req, err
	}
	if req.nextNeeded, err = args.RequireBool("nextThoughtNeeded"); err != nil {
		return req, err
	}
	if req.step.ThoughtNumber, err = args.RequireInt("thoughtNumber"); err != nil {
		return req, err
	}
	if req.step.ThoughtNumber < 1 {
		return req, toolset.Invalid("thoughtNumber", "must be >= 1")
	}
	if req.totalThoughts, err = args.RequireInt("totalThoughts"); err != nil {
		return req, err
	}
	if req.totalThoughts < 1 {
		return req, toolset.Invalid("totalThoughts", "must be >= 1")
	}
	if req.step.ThoughtNumber > req.totalThoughts {
		req.totalThoughts = req.step.ThoughtNumber
	}

	if req.step.IsRevision, err = args.OptionalBool("isRevision", false); err != nil {
		return req, err
	}
	if req.step.IsRevision {
		if req.step.RevisesThought, err = args.RequireInt("revisesThought"); err != nil {
			return req, err
		}
		if req.step.RevisesThought < 1 {
			return req, toolset.Invalid("revisesThought", "must be >= 1")
		}
	}
	if req.step.BranchFromThought, err = args.OptionalInt("branchFromThought", 0); err != nil {
		return req, err
	}
	if req.step.BranchFromThought < 0 {
		return req, toolset.Invalid("branchFromThought", "must be >= 1")
	}
	if req.step.BranchID, err = args.OptionalString("branchId", ""); err != nil {
		return req, err
	}
	if req.step.BranchFromThought > 0 && req.step.BranchID == "" {
		return req, toolset.Invalid("branchId", "is required with branchFromThought")
	}
	if req.step.NeedsMoreThoughts, err = args.OptionalBool("needsMoreThoughts", false); err != nil {
		return req, err
	}
	return req, nil
}

// thinkResult reports the session's declared total, the same value progress
// is computed against.
type thinkResult struct {
	SessionID            string   `json:"sessionId"`
	ThoughtNumber        int      `json:"thoughtNumber"`
	TotalThoughts        int      `json:"totalThoughts"`
	NextThoughtNeeded    bool     `json:"nextThoughtNeeded"`
	Branches             []string `json:"branches"`
	ThoughtHistoryLength int      `json:"thoughtHistoryLength"`
	Progress             int      `json:"progress"`
	IsCompleted          bool     `json:"isCompleted"`
}

func (s *Service) think(ctx context.Context, args toolset.Args) (any, error) {
	s.store.Sweep()

	req, err := parseThink(ctx, args)
	if err != nil {
		return nil, err
	}

	var out thinkResult
	err = s.store.Update(req.sessionID, session.Create, func(sess *session.Session[*State]) error {
		req.step.CreatedAt = s.store.Now()
		st := sess.State
		st.apply(req.step, req.totalThoughts, req.nextNeeded)

		out = thinkResult{
			SessionID:            sess.ID,
			ThoughtNumber:        req.step.ThoughtNumber,
			TotalThoughts:        st.DeclaredTotal,
			NextThoughtNeeded:    req.nextNeeded,
			Branches:             append([]string{}, st.BranchOrder...),
			ThoughtHistoryLength: len(st.Steps),
			Progress:             st.Progress(),
			IsCompleted:          st.IsCompleted,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.thoughts.Add(1)
	s.logger.Debug("Thought recorded",
		"session_id", req.sessionID,
		"thought", req.step.ThoughtNumber,
		"total", req.totalThoughts,
		"branch", req.step.BranchID,
		"revision", req.step.IsRevision,
	)
	return out, nil
}

func (s *Service) getSession(ctx context.Context, args toolset.Args) (any, error) {
	s.store.Sweep()

	sid, err := args.SessionID(ctx)
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	err = s.store.Update(sid, session.Existing, func(sess *session.Session[*State]) error {
		snap = sess.State.snapshot(sess.ID, sess.CreatedAt, sess.LastActiveAt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Service) listSessions(_ context.Context, _ toolset.Args) (any, error) {
	s.store.Sweep()

	sessions := make([]Summary, 0)
	s.store.View(func(sess *session.Session[*State]) {
		sessions = append(sessions, Summary{
			SessionID:     sess.ID,
			CreatedAt:     sess.CreatedAt,
			LastActiveAt:  sess.LastActiveAt,
			Steps:         len(sess.State.Steps),
			Branches:      append([]string{}, sess.State.BranchOrder...),
			TotalThoughts: sess.State.DeclaredTotal,
			IsCompleted:   sess.State.IsCompleted,
			Progress:      sess.State.Progress(),
		})
	})
	return map[string]any{"sessions": sessions, "count": len(sessions)}, nil
}

func (s *Service) clearSession(ctx context.Context, args toolset.Args) (any, error) {
	s.store.Sweep()

	sid, err := args.SessionID(ctx)
	if err != nil {
		return nil, err
	}
	if !s.store.Remove(sid) {
		return nil, &session.NotFoundError{ID: sid}
	}
	s.logger.Info("Thinking session cleared", "session_id", sid)
	return map[string]any{"sessionId": sid, "cleared": true}, nil
}
