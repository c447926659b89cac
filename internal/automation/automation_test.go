package automation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/toolhub/internal/browser"
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

type harness struct {
	svc     *Service
	store   *session.Store[*State]
	backend *browser.Simulated
	clock   *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	backend := browser.NewSimulated()
	store := NewStore(DefaultTimeout, backend, session.WithClock(clock.Now))
	return &harness{
		svc:     NewService(store, backend, nil),
		store:   store,
		backend: backend,
		clock:   clock,
	}
}

func (h *harness) call(t *testing.T, tool, rawArgs string) (any, error) {
	t.Helper()
	handler, ok := h.svc.Registry().Resolve(tool)
	require.True(t, ok, "tool %s not registered", tool)
	args, err := toolset.DecodeArgs(json.RawMessage(rawArgs))
	require.NoError(t, err)
	return handler(context.Background(), args)
}

// unreachableBackend opens a page and then fails the navigation, the way a
// real browser does for an unresolvable host.
type unreachableBackend struct {
	*browser.Simulated
}

func (b unreachableBackend) Navigate(ctx context.Context, key, _ string) (browser.PageInfo, error) {
	if _, err := b.Simulated.Navigate(ctx, key, "about:blank"); err != nil {
		return browser.PageInfo{}, err
	}
	return browser.PageInfo{}, errors.New("navigation failed: net::ERR_NAME_NOT_RESOLVED")
}

func TestFailedFirstNavigateReleasesPage(t *testing.T) {
	sim := browser.NewSimulated()
	backend := unreachableBackend{Simulated: sim}
	store := NewStore(DefaultTimeout, backend)
	svc := NewService(store, backend, nil)

	handler, ok := svc.Registry().Resolve("playwright_navigate")
	require.True(t, ok)
	args, err := toolset.DecodeArgs(json.RawMessage(`{"sessionId":"nx","url":"https://nx.invalid"}`))
	require.NoError(t, err)

	_, err = handler(context.Background(), args)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERR_NAME_NOT_RESOLVED")
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 0, sim.Pages())
}

func TestClickWithoutNavigationDoesNotCreateSession(t *testing.T) {
	h := newHarness(t)

	_, err := h.call(t, "playwright_click", `{"sessionId":"fresh","selector":"#go"}`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, session.ErrSessionNotFound))
	assert.EqualError(t, err, "session not found: fresh")

	_, ok := h.store.Get("fresh")
	assert.False(t, ok)
	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, 0, h.backend.Pages())
}

func TestInterleavedSessionsKeepTheirOwnPages(t *testing.T) {
	h := newHarness(t)

	steps := []struct{ tool, args string }{
		{"playwright_navigate", `{"sessionId":"a","url":"https://a.example/start"}`},
		{"playwright_navigate", `{"sessionId":"b","url":"https://b.example/home"}`},
		{"playwright_click", `{"sessionId":"b","selector":"#next"}`},
		{"playwright_click", `{"sessionId":"a","selector":"#next"}`},
	}
	for _, st := range steps {
		_, err := h.call(t, st.tool, st.args)
		require.NoError(t, err, "%s %s", st.tool, st.args)
	}

	out, err := h.call(t, "playwright_list_sessions", `{}`)
	require.NoError(t, err)
	sessions := out.(map[string]any)["sessions"].([]Summary)
	require.Len(t, sessions, 2)

	byID := map[string]Summary{}
	for _, s := range sessions {
		byID[s.SessionID] = s
	}
	require.NotNil(t, byID["a"].LastNavigatedURL)
	assert.Equal(t, "https://a.example/start", *byID["a"].LastNavigatedURL)
	assert.Equal(t, "https://b.example/home", *byID["b"].LastNavigatedURL)
	assert.Equal(t, 2, byID["a"].ActionCount)
	assert.Equal(t, 2, h.backend.Pages())
}

func TestNavigateRejectsBadURL(t *testing.T) {
	h := newHarness(t)

	for _, raw := range []string{`{"url":"ftp://example.com"}`, `{"url":"not a url"}`, `{}`} {
		_, err := h.call(t, "playwright_navigate", raw)
		assert.True(t, errors.Is(err, toolset.ErrInvalidArgument), "%s: got %v", raw, err)
	}
	assert.Equal(t, 0, h.store.Len())
}

func TestNavigateUsesHeaderSessionByDefault(t *testing.T) {
	h := newHarness(t)

	out, err := h.call(t, "playwright_navigate", `{"url":"https://example.com/docs"}`)
	require.NoError(t, err)
	res := out.(pageResult)
	assert.Equal(t, session.DefaultID, res.SessionID)
	assert.Equal(t, "example.com - docs", res.Title)
}

func TestFillAndGetText(t *testing.T) {
	h := newHarness(t)

	_, err := h.call(t, "playwright_navigate", `{"sessionId":"f","url":"https://example.com/login"}`)
	require.NoError(t, err)

	_, err = h.call(t, "playwright_fill", `{"sessionId":"f","selector":"#user"}`)
	assert.True(t, errors.Is(err, toolset.ErrInvalidArgument))

	_, err = h.call(t, "playwright_fill", `{"sessionId":"f","selector":"#user","value":"ada"}`)
	require.NoError(t, err)

	out, err := h.call(t, "playwright_get_text", `{"sessionId":"f","selector":"#user"}`)
	require.NoError(t, err)
	assert.Equal(t, "ada", out.(map[string]any)["text"])

	out, err = h.call(t, "playwright_get_text", `{"sessionId":"f"}`)
	require.NoError(t, err)
	assert.Contains(t, out.(map[string]any)["text"], "#user = ada")
}

func TestScreenshotReturnsImage(t *testing.T) {
	h := newHarness(t)

	_, err := h.call(t, "playwright_navigate", `{"sessionId":"s","url":"https://example.com"}`)
	require.NoError(t, err)

	out, err := h.call(t, "playwright_screenshot", `{"sessionId":"s","fullPage":true}`)
	require.NoError(t, err)
	res := out.(*toolset.CallResult)
	require.Len(t, res.Content, 2)
	assert.Equal(t, "image", res.Content[1].Type)
	assert.Equal(t, "image/png", res.Content[1].MimeType)

	data, err := base64.StdEncoding.DecodeString(res.Content[1].Data)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 300, img.Bounds().Dy())

	out, err = h.call(t, "playwright_list_sessions", `{}`)
	require.NoError(t, err)
	sessions := out.(map[string]any)["sessions"].([]Summary)
	assert.Equal(t, []string{"screenshot-1"}, sessions[0].Screenshots)
}

func TestWaitForValidatesTimeout(t *testing.T) {
	h := newHarness(t)

	_, err := h.call(t, "playwright_navigate", `{"sessionId":"w","url":"https://example.com"}`)
	require.NoError(t, err)

	_, err = h.call(t, "playwright_wait_for", `{"sessionId":"w","selector":"#x","timeoutMs":0}`)
	assert.True(t, errors.Is(err, toolset.ErrInvalidArgument))

	out, err := h.call(t, "playwright_wait_for", `{"sessionId":"w","selector":"#x","timeoutMs":500}`)
	require.NoError(t, err)
	assert.True(t, out.(pageResult).Success)
}

func TestCloseRemovesSessionAndPage(t *testing.T) {
	h := newHarness(t)

	_, err := h.call(t, "playwright_navigate", `{"sessionId":"c","url":"https://example.com"}`)
	require.NoError(t, err)
	require.Equal(t, 1, h.backend.Pages())

	out, err := h.call(t, "playwright_close", `{"sessionId":"c"}`)
	require.NoError(t, err)
	assert.Equal(t, true, out.(map[string]any)["closed"])
	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, 0, h.backend.Pages())

	_, err = h.call(t, "playwright_close", `{"sessionId":"c"}`)
	assert.True(t, errors.Is(err, session.ErrSessionNotFound))
}

func TestExpiredSessionReleasesPage(t *testing.T) {
	h := newHarness(t)

	_, err := h.call(t, "playwright_navigate", `{"sessionId":"idle","url":"https://example.com"}`)
	require.NoError(t, err)

	h.clock.Advance(DefaultTimeout + time.Minute)

	_, err = h.call(t, "playwright_click", `{"sessionId":"idle","selector":"#x"}`)
	assert.True(t, errors.Is(err, session.ErrSessionNotFound))
	assert.Equal(t, 0, h.backend.Pages())
}
