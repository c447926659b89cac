package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/toolhub/internal/session"
	"github.com/ashureev/toolhub/internal/toolset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T) (*Service, *session.Store[*State], *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewStore(DefaultTimeout, session.WithClock(clock.Now))
	return NewService(store, nil), store, clock
}

func call(t *testing.T, svc *Service, tool, rawArgs string) (any, error) {
	t.Helper()
	h, ok := svc.Registry().Resolve(tool)
	require.True(t, ok, "tool %s not registered", tool)
	args, err := toolset.DecodeArgs(json.RawMessage(rawArgs))
	require.NoError(t, err)
	return h(context.Background(), args)
}

func TestThreeStepSessionCompletes(t *testing.T) {
	svc, store, _ := newTestService(t)

	steps := []string{
		`{"sessionId":"s1","thought":"frame the problem","thoughtNumber":1,"totalThoughts":3,"nextThoughtNeeded":true}`,
		`{"sessionId":"s1","thought":"explore options","thoughtNumber":2,"totalThoughts":3,"nextThoughtNeeded":true}`,
		`{"sessionId":"s1","thought":"conclude","thoughtNumber":3,"totalThoughts":3,"nextThoughtNeeded":false}`,
	}
	var last thinkResult
	for i, raw := range steps {
		out, err := call(t, svc, "sequentialthinking", raw)
		require.NoError(t, err, "step %d", i+1)
		last = out.(thinkResult)
	}

	assert.True(t, last.IsCompleted)
	assert.Equal(t, 3, last.ThoughtHistoryLength)
	assert.Equal(t, 100, last.Progress)

	out, err := call(t, svc, "get_thinking_session", `{"sessionId":"s1"}`)
	require.NoError(t, err)
	snap := out.(Snapshot)
	assert.Len(t, snap.Steps, 3)
	assert.True(t, snap.IsCompleted)
	assert.Equal(t, 3, snap.DeclaredTotal)
	assert.Equal(t, 1, store.Len())
}

func TestProgressTracksDeclaredTotal(t *testing.T) {
	svc, _, _ := newTestService(t)

	out, err := call(t, svc, "sequentialthinking", `{"thought":"a","thoughtNumber":1,"totalThoughts":4,"nextThoughtNeeded":true}`)
	require.NoError(t, err)
	assert.Equal(t, 25, out.(thinkResult).Progress)

	// A lower estimate does not shrink the declared total.
	out, err = call(t, svc, "sequentialthinking", `{"thought":"b","thoughtNumber":2,"totalThoughts":2,"nextThoughtNeeded":true}`)
	require.NoError(t, err)
	assert.Equal(t, 50, out.(thinkResult).Progress)
	assert.Equal(t, 4, out.(thinkResult).TotalThoughts)

	// A thought past the estimate raises it.
	out, err = call(t, svc, "sequentialthinking", `{"thought":"c","thoughtNumber":6,"totalThoughts":4,"nextThoughtNeeded":true}`)
	require.NoError(t, err)
	res := out.(thinkResult)
	assert.Equal(t, 6, res.TotalThoughts)
	assert.Equal(t, 100, res.Progress)
	assert.False(t, res.IsCompleted)
}

func TestBranchStepsStayOutOfMainPath(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := call(t, svc, "sequentialthinking", `{"sessionId":"b","thought":"main","thoughtNumber":1,"totalThoughts":3,"nextThoughtNeeded":true}`)
	require.NoError(t, err)
	_, err = call(t, svc, "sequentialthinking", `{"sessionId":"b","thought":"alt one","thoughtNumber":2,"totalThoughts":3,"nextThoughtNeeded":true,"branchFromThought":1,"branchId":"B"}`)
	require.NoError(t, err)
	out, err := call(t, svc, "sequentialthinking", `{"sessionId":"b","thought":"alt two","thoughtNumber":3,"totalThoughts":3,"nextThoughtNeeded":true,"branchId":"B"}`)
	require.NoError(t, err)

	res := out.(thinkResult)
	assert.Equal(t, 1, res.ThoughtHistoryLength)
	assert.Equal(t, []string{"B"}, res.Branches)

	out, err = call(t, svc, "get_thinking_session", `{"sessionId":"b"}`)
	require.NoError(t, err)
	snap := out.(Snapshot)
	require.Len(t, snap.Steps, 1)
	assert.Equal(t, "main", snap.Steps[0].Thought)
	require.Len(t, snap.Branches["B"], 2)
	assert.Equal(t, "alt one", snap.Branches["B"][0].Thought)
	assert.Equal(t, "alt two", snap.Branches["B"][1].Thought)
	assert.Equal(t, 1, snap.Branches["B"][0].BranchFromThought)
}

func TestRevisionRequiresTarget(t *testing.T) {
	svc, store, _ := newTestService(t)

	_, err := call(t, svc, "sequentialthinking", `{"sessionId":"r","thought":"redo","thoughtNumber":2,"totalThoughts":2,"nextThoughtNeeded":true,"isRevision":true}`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, toolset.ErrInvalidArgument))
	assert.Equal(t, 0, store.Len(), "invalid input must not create a session")

	out, err := call(t, svc, "sequentialthinking", `{"sessionId":"r","thought":"redo","thoughtNumber":2,"totalThoughts":2,"nextThoughtNeeded":true,"isRevision":true,"revisesThought":1}`)
	require.NoError(t, err)
	assert.Equal(t, 1, out.(thinkResult).ThoughtHistoryLength)
}

func TestThinkValidation(t *testing.T) {
	svc, store, _ := newTestService(t)

	tests := []struct {
		name string
		args string
	}{
		{"missing thought", `{"thoughtNumber":1,"totalThoughts":1,"nextThoughtNeeded":false}`},
		{"missing next", `{"thought":"x","thoughtNumber":1,"totalThoughts":1}`},
		{"zero number", `{"thought":"x","thoughtNumber":0,"totalThoughts":1,"nextThoughtNeeded":false}`},
		{"fractional total", `{"thought":"x","thoughtNumber":1,"totalThoughts":1.5,"nextThoughtNeeded":false}`},
		{"branch without id", `{"thought":"x","thoughtNumber":1,"totalThoughts":1,"nextThoughtNeeded":false,"branchFromThought":1}`},
		{"bad session id", `{"sessionId":"a b","thought":"x","thoughtNumber":1,"totalThoughts":1,"nextThoughtNeeded":false}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := call(t, svc, "sequentialthinking", tt.args)
			assert.True(t, errors.Is(err, toolset.ErrInvalidArgument), "got %v", err)
		})
	}
	assert.Equal(t, 0, store.Len())
}

func TestSessionsAreIsolated(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := call(t, svc, "sequentialthinking", `{"sessionId":"a","thought":"a1","thoughtNumber":1,"totalThoughts":2,"nextThoughtNeeded":true}`)
	require.NoError(t, err)
	_, err = call(t, svc, "sequentialthinking", `{"sessionId":"b","thought":"b1","thoughtNumber":1,"totalThoughts":5,"nextThoughtNeeded":false}`)
	require.NoError(t, err)

	out, err := call(t, svc, "get_thinking_session", `{"sessionId":"a"}`)
	require.NoError(t, err)
	snap := out.(Snapshot)
	assert.Len(t, snap.Steps, 1)
	assert.False(t, snap.IsCompleted)
	assert.Equal(t, 2, snap.DeclaredTotal)
}

func TestExpiredSessionIsGone(t *testing.T) {
	svc, _, clock := newTestService(t)

	_, err := call(t, svc, "sequentialthinking", `{"sessionId":"old","thought":"x","thoughtNumber":1,"totalThoughts":1,"nextThoughtNeeded":true}`)
	require.NoError(t, err)

	clock.Advance(DefaultTimeout + time.Second)

	_, err = call(t, svc, "get_thinking_session", `{"sessionId":"old"}`)
	assert.True(t, errors.Is(err, session.ErrSessionNotFound))

	out, err := call(t, svc, "list_thinking_sessions", `{}`)
	require.NoError(t, err)
	assert.Equal(t, 0, out.(map[string]any)["count"])
}

func TestListAndClear(t *testing.T) {
	svc, store, _ := newTestService(t)

	for _, sid := range []string{"one", "two"} {
		_, err := call(t, svc, "sequentialthinking", `{"sessionId":"`+sid+`","thought":"x","thoughtNumber":1,"totalThoughts":2,"nextThoughtNeeded":true}`)
		require.NoError(t, err)
	}

	out, err := call(t, svc, "list_thinking_sessions", `{}`)
	require.NoError(t, err)
	listed := out.(map[string]any)
	assert.Equal(t, 2, listed["count"])
	summaries := listed["sessions"].([]Summary)
	assert.Equal(t, 50, summaries[0].Progress)

	out, err = call(t, svc, "clear_thinking_session", `{"sessionId":"one"}`)
	require.NoError(t, err)
	assert.Equal(t, true, out.(map[string]any)["cleared"])
	assert.Equal(t, 1, store.Len())

	_, err = call(t, svc, "clear_thinking_session", `{"sessionId":"one"}`)
	assert.EqualError(t, err, "session not found: one")
}

func TestToolsetDescribesTools(t *testing.T) {
	svc, _, _ := newTestService(t)
	ts := svc.Toolset("1.2.3")

	assert.Equal(t, []string{
		"sequentialthinking",
		"get_thinking_session",
		"list_thinking_sessions",
		"clear_thinking_session",
	}, ts.Registry.Names())
	assert.Equal(t, DefaultTimeout, ts.SessionTimeout)
	assert.Equal(t, 0, ts.ActiveSessions())
	assert.Contains(t, ts.Counters(), "thoughtsRecorded")
}
