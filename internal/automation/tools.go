package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ashureev/toolhub/internal/browser"
	"github.com/ashureev/toolhub/internal/session"
	"github.com/ashureev/toolhub/internal/toolset"
)

// Name is the tool-set identifier.
const Name = "automation"

// DefaultTimeout is the session inactivity timeout.
const DefaultTimeout = 30 * time.Minute

const maxWaitTimeout = 2 * time.Minute

const instructions = `Drive a browser page per session. Start with playwright_navigate, which
opens the session; every other page tool requires a session that has
navigated. Pass sessionId (or the Mcp-Session-Id header) to run several pages
side by side, and playwright_close to release one.`

var (
	navigateSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "url": {"type": "string", "description": "URL to navigate to"},
    "sessionId": {"type": "string", "description": "Session identifier"}
  },
  "required": ["url"]
}`)
	clickSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "selector": {"type": "string", "description": "CSS selector of the element to click"},
    "sessionId": {"type": "string", "description": "Session identifier"}
  },
  "required": ["selector"]
}`)
	fillSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "selector": {"type": "string", "description": "CSS selector of the input"},
    "value": {"type": "string", "description": "Value to fill"},
    "sessionId": {"type": "string", "description": "Session identifier"}
  },
  "required": ["selector", "value"]
}`)
	screenshotSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "name": {"type": "string", "description": "Name of the screenshot"},
    "fullPage": {"type": "boolean", "description": "Capture the full scrollable page"},
    "sessionId": {"type": "string", "description": "Session identifier"}
  }
}`)
	textSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "selector": {"type": "string", "description": "CSS selector; the whole page when omitted"},
    "sessionId": {"type": "string", "description": "Session identifier"}
  }
}`)
	waitSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "selector": {"type": "string", "description": "CSS selector to wait for"},
    "timeoutMs": {"type": "integer", "minimum": 1, "description": "Maximum wait in milliseconds"},
    "sessionId": {"type": "string", "description": "Session identifier"}
  },
  "required": ["selector"]
}`)
	sessionSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "sessionId": {"type": "string", "description": "Session identifier"}
  }
}`)
)

// Service runs the playwright_* tools against a browser backend.
type Service struct {
	store   *session.Store[*State]
	backend browser.Backend
	logger  *slog.Logger

	navigations atomic.Int64
	actions     atomic.Int64
}

// NewStore builds an empty automation store. Pages of expired sessions, and of
// sessions whose first navigation failed, are closed on backend.
func NewStore(timeout time.Duration, backend browser.Backend, opts ...session.Option) *session.Store[*State] {
	release := browser.PageReleaser(backend, Name, nil)
	opts = append(opts, session.WithExpireHook(release), session.WithDiscardHook(release))
	return session.New(Name, timeout, newState, opts...)
}

// NewService creates the tool-set service.
func NewService(store *session.Store[*State], backend browser.Backend, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, backend: backend, logger: logger}
}

// Toolset describes the mounted tool-set.
func (s *Service) Toolset(version string) *toolset.Toolset {
	return &toolset.Toolset{
		Name:           Name,
		Title:          "playwright-automation",
		Version:        version,
		Instructions:   instructions,
		Registry:       s.Registry(),
		SessionTimeout: s.store.Timeout(),
		Sessions:       s.store.Len,
		Stats: func() map[string]any {
			return map[string]any{
				"navigations": s.navigations.Load(),
				"actions":     s.actions.Load(),
			}
		},
	}
}

// Registry returns the automation tool table.
func (s *Service) Registry() *toolset.Registry {
	return toolset.MustRegistry(
		toolset.Tool{Name: "playwright_navigate", Description: "Navigate the session's page to a URL, opening the session if needed.", InputSchema: navigateSchema, Handler: s.navigate},
		toolset.Tool{Name: "playwright_click", Description: "Click an element on the session's page.", InputSchema: clickSchema, Handler: s.click},
		toolset.Tool{Name: "playwright_fill", Description: "Fill an input field on the session's page.", InputSchema: fillSchema, Handler: s.fill},
		toolset.Tool{Name: "playwright_screenshot", Description: "Capture a PNG screenshot of the session's page.", InputSchema: screenshotSchema, Handler: s.screenshot},
		toolset.Tool{Name: "playwright_get_text", Description: "Extract visible text from an element or the whole page.", InputSchema: textSchema, Handler: s.getText},
		toolset.Tool{Name: "playwright_wait_for", Description: "Wait until an element is visible.", InputSchema: waitSchema, Handler: s.waitFor},
		toolset.Tool{Name: "playwright_close", Description: "Close the session's page and end the session.", InputSchema: sessionSchema, Handler: s.closeSession},
		toolset.Tool{Name: "playwright_list_sessions", Description: "List active browser sessions.", Handler: s.listSessions},
	)
}

type pageResult struct {
	SessionID string `json:"sessionId"`
	Action    string `json:"action"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Selector  string `json:"selector,omitempty"`
	Success   bool   `json:"success"`
}

func (s *Service) navigate(ctx context.Context, args toolset.Args) (any, error) {
	s.store.Sweep()

	sid, err := args.SessionID(ctx)
	if err != nil {
		return nil, err
	}
	rawURL, err := args.RequireString("url")
	if err != nil {
		return nil, err
	}
	u, err := browser.ValidateURL(rawURL)
	if err != nil {
		return nil, toolset.Invalid("url", "%v", err)
	}

	var out pageResult
	err = s.store.Update(sid, session.Create, func(sess *session.Session[*State]) error {
		page, err := s.backend.Navigate(ctx, browser.Key(Name, sess.ID), u.String())
		if err != nil {
			return fmt.Errorf("navigate to %s: %w", u, err)
		}
		st := sess.State
		st.LastNavigatedURL = page.URL
		st.Title = page.Title
		st.IsActive = true
		st.ActionCount++
		out = pageResult{SessionID: sess.ID, Action: "navigate", URL: page.URL, Title: page.Title, Success: true}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.navigations.Add(1)
	s.logger.Info("Page navigated", "toolset", Name, "session_id", sid, "url", out.URL)
	return out, nil
}

func (s *Service) click(ctx context.Context, args toolset.Args) (any, error) {
	s.store.Sweep()

	sid, err := args.SessionID(ctx)
	if err != nil {
		return nil, err
	}
	selector, err := args.RequireString("selector")
	if err != nil {
		return nil, err
	}

	var out pageResult
	err = s.store.Update(sid, session.Existing, func(sess *session.Session[*State]) error {
		page, err := s.backend.Click(ctx, browser.Key(Name, sess.ID), selector)
		if err != nil {
			return fmt.Errorf("click %s: %w", selector, err)
		}
		st := sess.State
		st.LastNavigatedURL = page.URL
		st.Title = page.Title
		st.ActionCount++
		out = pageResult{SessionID: sess.ID, Action: "click", URL: page.URL, Title: page.Title, Selector: selector, Success: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.actions.Add(1)
	return out, nil
}

func (s *Service) fill(ctx context.Context, args toolset.Args) (any, error) {
	s.store.Sweep()

	sid, err := args.SessionID(ctx)
	if err != nil {
		return nil, err
	}
	selector, err := args.RequireString("selector")
	if err != nil {
		return nil, err
	}
	if !args.Has("value") {
		return nil, toolset.Invalid("value", "is required")
	}
	value, err := args.OptionalString("value", "")
	if err != nil {
		return nil, err
	}

	var out pageResult
	err = s.store.Update(sid, session.Existing, func(sess *session.Session[*State]) error {
		if err := s.backend.Fill(ctx, browser.Key(Name, sess.ID), selector, value); err != nil {
			return fmt.Errorf("fill %s: %w", selector, err)
		}
		sess.State.ActionCount++
		out = pageResult{SessionID: sess.ID, Action: "fill", URL: sess.State.LastNavigatedURL, Title: sess.State.Title, Selector: selector, Success: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.actions.Add(1)
	return out, nil
}

func (s *Service) screenshot(ctx context.Context, args toolset.Args) (any, error) {
	s.store.Sweep()

	sid, err := args.SessionID(ctx)
	if err != nil {
		return nil, err
	}
	name, err := args.OptionalString("name", "")
	if err != nil {
		return nil, err
	}
	fullPage, err := args.OptionalBool("fullPage", false)
	if err != nil {
		return nil, err
	}

	var (
		png  []byte
		meta map[string]any
	)
	err = s.store.Update(sid, session.Existing, func(sess *session.Session[*State]) error {
		data, err := s.backend.Screenshot(ctx, browser.Key(Name, sess.ID), fullPage)
		if err != nil {
			return fmt.Errorf("screenshot: %w", err)
		}
		st := sess.State
		if name == "" {
			name = fmt.Sprintf("screenshot-%d", len(st.Screenshots)+1)
		}
		st.Screenshots = append(st.Screenshots, name)
		st.ActionCount++
		png = data
		meta = map[string]any{
			"sessionId": sess.ID,
			"name":      name,
			"url":       st.LastNavigatedURL,
			"fullPage":  fullPage,
			"bytes":     len(data),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.actions.Add(1)
	return toolset.ImageResult(png, "image/png", fmt.Sprintf("Screenshot %q of %s", name, meta["url"]), meta), nil
}

func (s *Service) getText(ctx context.Context, args toolset.Args) (any, error) {
	s.store.Sweep()

	sid, err := args.SessionID(ctx)
	if err != nil {
		return nil, err
	}
	selector, err := args.OptionalString("selector", "")
	if err != nil {
		return nil, err
	}

	var out map[string]any
	err = s.store.Update(sid, session.Existing, func(sess *session.Session[*State]) error {
		text, err := s.backend.ExtractText(ctx, browser.Key(Name, sess.ID), selector)
		if err != nil {
			return fmt.Errorf("extract text: %w", err)
		}
		sess.State.ActionCount++
		out = map[string]any{
			"sessionId": sess.ID,
			"selector":  selector,
			"url":       sess.State.LastNavigatedURL,
			"text":      text,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.actions.Add(1)
	return out, nil
}

func (s *Service) waitFor(ctx context.Context, args toolset.Args) (any, error) {
	s.store.Sweep()

	sid, err := args.SessionID(ctx)
	if err != nil {
		return nil, err
	}
	selector, err := args.RequireString("selector")
	if err != nil {
		return nil, err
	}
	ms, err := args.OptionalInt("timeoutMs", int(browser.DefaultWaitTimeout/time.Millisecond))
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(ms) * time.Millisecond
	if timeout <= 0 || timeout > maxWaitTimeout {
		return nil, toolset.Invalid("timeoutMs", "must be between 1 and %d", maxWaitTimeout.Milliseconds())
	}

	var out pageResult
	err = s.store.Update(sid, session.Existing, func(sess *session.Session[*State]) error {
		if err := s.backend.WaitFor(ctx, browser.Key(Name, sess.ID), selector, timeout); err != nil {
			return fmt.Errorf("wait for %s: %w", selector, err)
		}
		sess.State.ActionCount++
		out = pageResult{SessionID: sess.ID, Action: "wait_for", URL: sess.State.LastNavigatedURL, Title: sess.State.Title, Selector: selector, Success: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.actions.Add(1)
	return out, nil
}

func (s *Service) closeSession(ctx context.Context, args toolset.Args) (any, error) {
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
	s.logger.Info("Browser session closed", "toolset", Name, "session_id", sid)
	return map[string]any{"sessionId": sid, "closed": true}, nil
}

func (s *Service) listSessions(_ context.Context, _ toolset.Args) (any, error) {
	s.store.Sweep()

	sessions := make([]Summary, 0)
	s.store.View(func(sess *session.Session[*State]) {
		sessions = append(sessions, Summary{
			SessionID:        sess.ID,
			CreatedAt:        sess.CreatedAt,
			LastActiveAt:     sess.LastActiveAt,
			LastNavigatedURL: nullable(sess.State.LastNavigatedURL),
			Title:            sess.State.Title,
			IsActive:         sess.State.IsActive,
			ActionCount:      sess.State.ActionCount,
			Screenshots:      append([]string{}, sess.State.Screenshots...),
		})
	})
	return map[string]any{"sessions": sessions, "count": len(sessions)}, nil
}
