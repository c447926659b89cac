// Package automation implements the playwright_* browser tool-set.
package automation

import "time"

// State is the per-session browser record.
type State struct {
	LastNavigatedURL string
	Title            string
	IsActive         bool
	ActionCount      int
	Screenshots      []string
}

func newState() *State {
	return &State{}
}

// Summary is the listing view of a session.
type Summary struct {
	SessionID        string    `json:"sessionId"`
	CreatedAt        time.Time `json:"createdAt"`
	LastActiveAt     time.Time `json:"lastActiveAt"`
	LastNavigatedURL *string   `json:"lastNavigatedUrl"`
	Title            string    `json:"title,omitempty"`
	IsActive         bool      `json:"isActive"`
	ActionCount      int       `json:"actionCount"`
	Screenshots      []string  `json:"screenshots"`
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
