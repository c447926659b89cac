// Package interpret turns natural-language browser instructions into actions.
package interpret

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUninterpretable is returned when an instruction maps to no action.
var ErrUninterpretable = errors.New("instruction could not be interpreted")

// ActionType names a browser operation.
type ActionType string

// Supported actions.
const (
	ActionNavigate   ActionType = "navigate"
	ActionClick      ActionType = "click"
	ActionFill       ActionType = "fill"
	ActionScreenshot ActionType = "screenshot"
	ActionExtract    ActionType = "extract"
	ActionWait       ActionType = "wait"
)

// Action is one interpreted browser operation.
type Action struct {
	Type      ActionType `json:"type"`
	URL       string     `json:"url,omitempty"`
	Selector  string     `json:"selector,omitempty"`
	Value     string     `json:"value,omitempty"`
	Reasoning string     `json:"reasoning,omitempty"`
}

// PageContext is what the interpreter knows about the current page.
type PageContext struct {
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
}

// Interpreter maps an instruction to an action.
type Interpreter interface {
	Interpret(ctx context.Context, instruction string, page PageContext) (Action, error)
}

// Validate checks that the action carries the fields its type needs.
func (a Action) Validate() error {
	switch a.Type {
	case ActionNavigate:
		if strings.TrimSpace(a.URL) == "" {
			return fmt.Errorf("navigate action requires a url")
		}
	case ActionClick, ActionWait:
		if strings.TrimSpace(a.Selector) == "" {
			return fmt.Errorf("%s action requires a selector", a.Type)
		}
	case ActionFill:
		if strings.TrimSpace(a.Selector) == "" {
			return fmt.Errorf("fill action requires a selector")
		}
	case ActionScreenshot, ActionExtract:
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

// NeedsPage reports whether the action requires an already open page.
func (a Action) NeedsPage() bool {
	return a.Type != ActionNavigate
}
