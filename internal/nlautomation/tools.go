package nlautomation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ashureev/toolhub/internal/browser"
	"github.com/ashureev/toolhub/internal/identity"
	"github.com/ashureev/toolhub/internal/interpret"
	"github.com/ashureev/toolhub/internal/session"
	"github.com/ashureev/toolhub/internal/toolset"
)

// Name is the tool-set identifier.
const Name = "nl-automation"

// DefaultTimeout is the session inactivity timeout.
const DefaultTimeout = time.Hour

const maxOutcomeLen = 500

const instructions = `Describe what to do in the browser in plain language, one step per
browser_act call ("go to example.com", "click the Sign in button",
"type hello into #search", "take a screenshot"). Each call needs an API key
(apiKey argument or the server's configured key). browser_history shows what
was done in a session; browser_clear ends it.`

var (
	actSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "instruction": {"type": "string", "description": "Natural-language browser instruction"},
    "apiKey": {"type": "string", "description": "API key; defaults to the server's configured key"},
    "sessionId": {"type": "string", "description": "Session identifier"}
  },
  "required": ["instruction"]
}`)
	historySchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "sessionId": {"type": "string", "description": "Session identifier"},
    "limit": {"type": "integer", "minimum": 1, "maximum": 50, "description": "Return only the newest entries"}
  }
}`)
	sessionSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "sessionId": {"type": "string", "description": "Session identifier"}
  }
}`)
)

// Options configures the service.
type Options struct {
	// Credential is the accepted key shape.
	Credential identity.CredentialPolicy
	// APIKey is used when a call carries no apiKey argument.
	APIKey string
	// InterpretTimeout bounds one interpreter call. Zero means no limit.
	InterpretTimeout time.Duration
	Logger           *slog.Logger
}

// Service runs natural-language instructions against a browser backend.
type Service struct {
	store       *session.Store[*State]
	backend     browser.Backend
	interpreter interpret.Interpreter
	opts        Options
	logger      *slog.Logger

	instructionsRun atomic.Int64
	failures        atomic.Int64
	rejected        atomic.Int64
}

// NewStore builds an empty store. Pages of expired sessions are closed on backend.
func NewStore(timeout time.Duration, backend browser.Backend, opts ...session.Option) *session.Store[*State] {
	release := browser.PageReleaser(backend, Name, nil)
	opts = append(opts, session.WithExpireHook(release), session.WithDiscardHook(release))
	return session.New(Name, timeout, newState, opts...)
}

// NewService creates the tool-set service.
func NewService(store *session.Store[*State], backend browser.Backend, interpreter interpret.Interpreter, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       store,
		backend:     backend,
		interpreter: interpreter,
		opts:        opts,
		logger:      logger,
	}
}

// Toolset describes the mounted tool-set.
func (s *Service) Toolset(version string) *toolset.Toolset {
	return &toolset.Toolset{
		Name:           Name,
		Title:          "nl-browser-automation",
		Version:        version,
		Instructions:   instructions,
		Registry:       s.Registry(),
		SessionTimeout: s.store.Timeout(),
		Sessions:       s.store.Len,
		Stats: func() map[string]any {
			return map[string]any{
				"instructions":        s.instructionsRun.Load(),
				"failedActions":       s.failures.Load(),
				"rejectedCredentials": s.rejected.Load(),
				"historyCapacity":     HistoryCapacity,
			}
		},
	}
}

// Registry returns the NL-automation tool table.
func (s *Service) Registry() *toolset.Registry {
	return toolset.MustRegistry(
		toolset.Tool{Name: "browser_act", Description: "Interpret a natural-language instruction and perform it in the session's browser page.", InputSchema: actSchema, Handler: s.act},
		toolset.Tool{Name: "browser_history", Description: "Return the instructions performed in a session, oldest first.", InputSchema: historySchema, Handler: s.history},
		toolset.Tool{Name: "browser_clear", Description: "End a session and close its page.", InputSchema: sessionSchema, Handler: s.clear},
		toolset.Tool{Name: "browser_sessions", Description: "List active sessions.", Handler: s.sessions},
	)
}

type actResult struct {
	SessionID     string           `json:"sessionId"`
	Entry         HistoryEntry     `json:"entry"`
	Page          browser.PageInfo `json:"page"`
	HistoryLength int              `json:"historyLength"`
}

func (s *Service) credential(args toolset.Args) error {
	key, err := args.OptionalString("apiKey", "")
	if err != nil {
		return err
	}
	if key == "" {
		key = s.opts.APIKey
	}
	if err := s.opts.Credential.Validate(key); err != nil {
		s.rejected.Add(1)
		s.logger.Warn("Credential rejected", "toolset", Name, "key", identity.Mask(key), "error", err)
		return err
	}
	return nil
}

func (s *Service) interpret(ctx context.Context, instruction string, page interpret.PageContext) (interpret.Action, error) {
	if s.opts.InterpretTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.InterpretTimeout)
		defer cancel()
	}
	action, err := s.interpreter.Interpret(ctx, instruction, page)
	if err != nil {
		if errors.Is(err, interpret.ErrUninterpretable) {
			return action, toolset.Invalid("instruction", "%v", err)
		}
		return action, fmt.Errorf("interpret instruction: %w", err)
	}
	if err := action.Validate(); err != nil {
		return action, toolset.Invalid("instruction", "interpreted to an unusable action: %v", err)
	}
	if action.Type == interpret.ActionNavigate {
		if _, err := browser.ValidateURL(action.URL); err != nil {
			return action, toolset.Invalid("instruction", "%v", err)
		}
	}
	return action, nil
}

func (s *Service) act(ctx context.Context, args toolset.Args) (any, error) {
	s.store.Sweep()

	sid, err := args.SessionID(ctx)
	if err != nil {
		return nil, err
	}
	instruction, err := args.RequireString("instruction")
	if err != nil {
		return nil, err
	}
	if err := s.credential(args); err != nil {
		return nil, err
	}

	var (
		out  actResult
		shot []byte
	)
	err = s.store.Update(sid, session.Create, func(sess *session.Session[*State]) error {
		st := sess.State
		action, err := s.interpret(ctx, instruction, interpret.PageContext{URL: st.LastNavigatedURL, Title: st.Title})
		if err != nil {
			return err
		}
		if action.NeedsPage() && !st.IsActive {
			return &session.NotFoundError{ID: sess.ID}
		}

		key := browser.Key(Name, sess.ID)
		outcome, data, runErr := s.run(ctx, key, action, st)
		entry := HistoryEntry{
			Timestamp:   s.store.Now(),
			Instruction: instruction,
			Action:      action,
			Outcome:     outcome,
			Success:     runErr == nil,
		}
		if runErr != nil {
			entry.Outcome = runErr.Error()
		}
		st.History.Push(entry)
		shot = data

		out = actResult{
			SessionID:     sess.ID,
			Entry:         entry,
			Page:          browser.PageInfo{URL: st.LastNavigatedURL, Title: st.Title},
			HistoryLength: st.History.Len(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.instructionsRun.Add(1)
	if !out.Entry.Success {
		s.failures.Add(1)
	}
	s.logger.Info("Instruction performed",
		"toolset", Name,
		"session_id", sid,
		"action", out.Entry.Action.Type,
		"success", out.Entry.Success,
	)

	if shot != nil {
		text, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return nil, err
		}
		return toolset.ImageResult(shot, "image/png", string(text), out), nil
	}
	return out, nil
}

// run performs action on the page and applies its effect to st. Only a
// successful action changes st.
func (s *Service) run(ctx context.Context, key string, action interpret.Action, st *State) (string, []byte, error) {
	switch action.Type {
	case interpret.ActionNavigate:
		page, err := s.backend.Navigate(ctx, key, action.URL)
		if err != nil {
			return "", nil, fmt.Errorf("navigate to %s: %w", action.URL, err)
		}
		st.LastNavigatedURL, st.Title, st.IsActive = page.URL, page.Title, true
		return fmt.Sprintf("Navigated to %s (%s)", page.URL, page.Title), nil, nil

	case interpret.ActionClick:
		page, err := s.backend.Click(ctx, key, action.Selector)
		if err != nil {
			return "", nil, fmt.Errorf("click %s: %w", action.Selector, err)
		}
		st.LastNavigatedURL, st.Title = page.URL, page.Title
		return fmt.Sprintf("Clicked %s", action.Selector), nil, nil

	case interpret.ActionFill:
		if err := s.backend.Fill(ctx, key, action.Selector, action.Value); err != nil {
			return "", nil, fmt.Errorf("fill %s: %w", action.Selector, err)
		}
		return fmt.Sprintf("Filled %s with %q", action.Selector, action.Value), nil, nil

	case interpret.ActionScreenshot:
		data, err := s.backend.Screenshot(ctx, key, false)
		if err != nil {
			return "", nil, fmt.Errorf("screenshot: %w", err)
		}
		return fmt.Sprintf("Captured screenshot of %s (%d bytes)", st.LastNavigatedURL, len(data)), data, nil

	case interpret.ActionExtract:
		text, err := s.backend.ExtractText(ctx, key, action.Selector)
		if err != nil {
			return "", nil, fmt.Errorf("extract text: %w", err)
		}
		return truncate(text, maxOutcomeLen), nil, nil

	case interpret.ActionWait:
		if err := s.backend.WaitFor(ctx, key, action.Selector, browser.DefaultWaitTimeout); err != nil {
			return "", nil, fmt.Errorf("wait for %s: %w", action.Selector, err)
		}
		return fmt.Sprintf("%s is visible", action.Selector), nil, nil
	}
	return "", nil, fmt.Errorf("unsupported action %q", action.Type)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func (s *Service) history(ctx context.Context, args toolset.Args) (any, error) {
	s.store.Sweep()

	sid, err := args.SessionID(ctx)
	if err != nil {
		return nil, err
	}
	limit, err := args.OptionalInt("limit", 0)
	if err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, toolset.Invalid("limit", "must be >= 1")
	}

	var entries []HistoryEntry
	err = s.store.Update(sid, session.Existing, func(sess *session.Session[*State]) error {
		entries = sess.State.History.Last(limit)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"sessionId": sid,
		"entries":   entries,
		"count":     len(entries),
		"capacity":  HistoryCapacity,
	}, nil
}

func (s *Service) clear(ctx context.Context, args toolset.Args) (any, error) {
	s.store.Sweep()

	sid, err := args.SessionID(ctx)
	if err != nil {
		return nil, err
	}
	if !s.store.Remove(sid) {
		return nil, &session.NotFoundError{ID: sid}
	}
	if err := s.backend.Close(ctx, browser.Key(Name, sid)); err != nil {
		s.logger.Warn("Failed to close browser page", "session_id", sid, "error", err)
	}
	s.logger.Info("Browser session cleared", "toolset", Name, "session_id", sid)
	return map[string]any{"sessionId": sid, "cleared": true}, nil
}

func (s *Service) sessions(_ context.Context, _ toolset.Args) (any, error) {
	s.store.Sweep()

	out := make([]Summary, 0)
	s.store.View(func(sess *session.Session[*State]) {
		out = append(out, Summary{
			SessionID:        sess.ID,
			CreatedAt:        sess.CreatedAt,
			LastActiveAt:     sess.LastActiveAt,
			LastNavigatedURL: nullable(sess.State.LastNavigatedURL),
			Title:            sess.State.Title,
			IsActive:         sess.State.IsActive,
			HistoryLength:    sess.State.History.Len(),
		})
	})
	return map[string]any{"sessions": out, "count": len(out)}, nil
}
