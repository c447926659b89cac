// Package nlautomation implements the natural-language browser tool-set:
// instructions are interpreted into actions and run on a browser backend.
package nlautomation

import "time"

// State is the per-session record.
type State struct {
	LastNavigatedURL string
	Title            string
	IsActive         bool
	History          *History
}

func newState() *State {
	return &State{History: NewHistory(HistoryCapacity)}
}

// Summary is the listing view of a session.
type Summary struct {
	SessionID        string    `json:"sessionId"`
	CreatedAt        time.Time `json:"createdAt"`
	LastActiveAt     time.Time `json:"lastActiveAt"`
	LastNavigatedURL *string   `json:"lastNavigatedUrl"`
	Title            string    `json:"title,omitempty"`
	IsActive         bool      `json:"isActive"`
	HistoryLength    int       `json:"historyLength"`
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
