package toolset

import "time"

// Toolset is one mounted collection of tools sharing a session store.
type Toolset struct {
	// Name is the short identifier used in logs and the journal.
	Name string
	// Title is the human name reported by initialize.
	Title   string
	Version string
	// Instructions are returned by initialize and shown on the docs page.
	Instructions   string
	Registry       *Registry
	SessionTimeout time.Duration

	// Sessions reports the number of live sessions.
	Sessions func() int
	// Stats adds tool-set specific counters to the liveness payload.
	Stats func() map[string]any
}

// ActiveSessions returns the live session count, or 0 when not wired.
func (t *Toolset) ActiveSessions() int {
	if t.Sessions == nil {
		return 0
	}
	return t.Sessions()
}

// Counters returns the tool-set specific liveness counters.
func (t *Toolset) Counters() map[string]any {
	if t.Stats == nil {
		return nil
	}
	return t.Stats()
}
