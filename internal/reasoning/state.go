// Package reasoning implements the sequential thinking tool-set.
package reasoning

import (
	"math"
	"time"
)

// Step is one submitted thought.
type Step struct {
	ThoughtNumber     int       `json:"thoughtNumber"`
	Thought           string    `json:"thought"`
	CreatedAt         time.Time `json:"createdAt"`
	IsRevision        bool      `json:"isRevision,omitempty"`
	RevisesThought    int       `json:"revisesThought,omitempty"`
	BranchFromThought int       `json:"branchFromThought,omitempty"`
	BranchID          string    `json:"branchId,omitempty"`
	NeedsMoreThoughts bool      `json:"needsMoreThoughts,omitempty"`
}

// State is the per-session thinking record. Steps holds the main path;
// branched steps live only in Branches.
type State struct {
	Steps               []Step
	Branches            map[string][]Step
	BranchOrder         []string
	CurrentThoughtIndex int
	DeclaredTotal       int
	IsCompleted         bool
}

func newState() *State {
	return &State{Branches: make(map[string][]Step)}
}

// apply appends step and advances the counters. nextNeeded=false completes
// the session; needsMoreThoughts reopens it.
func (s *State) apply(step Step, totalThoughts int, nextNeeded bool) {
	if step.BranchID != "" {
		if _, ok := s.Branches[step.BranchID]; !ok {
			s.BranchOrder = append(s.BranchOrder, step.BranchID)
		}
		s.Branches[step.BranchID] = append(s.Branches[step.BranchID], step)
	} else {
		s.Steps = append(s.Steps, step)
	}

	s.CurrentThoughtIndex = step.ThoughtNumber
	if totalThoughts > s.DeclaredTotal {
		s.DeclaredTotal = totalThoughts
	}
	switch {
	case !nextNeeded:
		s.IsCompleted = true
	case step.NeedsMoreThoughts:
		s.IsCompleted = false
	}
}

// Progress is the completion percentage of the session.
func (s *State) Progress() int {
	if s.IsCompleted {
		return 100
	}
	if s.DeclaredTotal <= 0 {
		return 0
	}
	p := int(math.Round(100 * float64(s.CurrentThoughtIndex) / float64(s.DeclaredTotal)))
	if p > 100 {
		return 100
	}
	return p
}

// Snapshot is a detached copy of a session for tool results.
type Snapshot struct {
	SessionID           string            `json:"sessionId"`
	CreatedAt           time.Time         `json:"createdAt"`
	LastActiveAt        time.Time         `json:"lastActiveAt"`
	Steps               []Step            `json:"steps"`
	Branches            map[string][]Step `json:"branches"`
	CurrentThoughtIndex int               `json:"currentThoughtIndex"`
	DeclaredTotal       int               `json:"totalThoughts"`
	IsCompleted         bool              `json:"isCompleted"`
	Progress            int               `json:"progress"`
}

func (s *State) snapshot(id string, created, lastActive time.Time) Snapshot {
	branches := make(map[string][]Step, len(s.Branches))
	for k, v := range s.Branches {
		branches[k] = append([]Step(nil), v...)
	}
	return Snapshot{
		SessionID:           id,
		CreatedAt:           created,
		LastActiveAt:        lastActive,
		Steps:               append([]Step{}, s.Steps...),
		Branches:            branches,
		CurrentThoughtIndex: s.CurrentThoughtIndex,
		DeclaredTotal:       s.DeclaredTotal,
		IsCompleted:         s.IsCompleted,
		Progress:            s.Progress(),
	}
}

// Summary is the listing view of a session.
type Summary struct {
	SessionID     string    `json:"sessionId"`
	CreatedAt     time.Time `json:"createdAt"`
	LastActiveAt  time.Time `json:"lastActiveAt"`
	Steps         int       `json:"steps"`
	Branches      []string  `json:"branches"`
	TotalThoughts int       `json:"totalThoughts"`
	IsCompleted   bool      `json:"isCompleted"`
	Progress      int       `json:"progress"`
}
