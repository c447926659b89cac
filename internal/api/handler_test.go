//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/toolhub/internal/rpc"
	"github.com/ashureev/toolhub/internal/store"
	"github.com/ashureev/toolhub/internal/toolset"
)

type fakeJournal struct {
	pingErr error
	calls   []rpc.CallRecord
}

func (f *fakeJournal) Record(_ context.Context, rec rpc.CallRecord) error {
	f.calls = append(f.calls, rec)
	return nil
}

func (f *fakeJournal) Recent(_ context.Context, ts string, limit int) ([]store.CallEntry, error) {
	var out []store.CallEntry
	for i := len(f.calls) - 1; i >= 0 && len(out) < limit; i-- {
		c := f.calls[i]
		if ts != "" && c.Toolset != ts {
			continue
		}
		out = append(out, store.CallEntry{ID: int64(i + 1), Toolset: c.Toolset, Tool: c.Tool, SessionID: c.SessionID, StartedAt: c.StartedAt, Success: c.Success, Error: c.Error})
	}
	return out, nil
}

func (f *fakeJournal) Count(_ context.Context, ts string) (int64, error) {
	return int64(len(f.calls)), nil
}

func (f *fakeJournal) PruneBefore(context.Context, time.Time) (int64, error) { return 0, nil }
func (f *fakeJournal) Ping(context.Context) error                            { return f.pingErr }
func (f *fakeJournal) Close() error                                          { return nil }

func newTestToolset() *toolset.Toolset {
	return &toolset.Toolset{
		Name:           "echo",
		Title:          "echo-server",
		Version:        "0.1.0",
		Instructions:   "Echo things back.",
		SessionTimeout: time.Hour,
		Registry: toolset.MustRegistry(toolset.Tool{
			Name:        "echo",
			Description: "Echo the text argument.",
			Handler: func(_ context.Context, args toolset.Args) (any, error) {
				text, err := args.RequireString("text")
				if err != nil {
					return nil, err
				}
				return map[string]string{"text": text}, nil
			},
		}),
		Sessions: func() int { return 2 },
		Stats:    func() map[string]any { return map[string]any{"echoes": 7, "status": "shadowed"} },
	}
}

func newTestRouter(t *testing.T, j store.Journal) (*chi.Mux, *Handler) {
	t.Helper()
	ts := newTestToolset()
	var opts []rpc.DispatcherOption
	if j != nil {
		opts = append(opts, rpc.WithJournal(j))
	}
	h := NewHandler(Config{
		Toolset:    ts,
		Dispatcher: rpc.NewDispatcher(ts, opts...),
		Journal:    j,
		Prefix:     "/echo",
	})
	h.now = func() time.Time { return time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC) }

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	r.Get("/", Index([]*Handler{h}))
	return r, h
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/echo/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var got map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["status"] != "healthy" {
		t.Errorf("Expected counters not to override status, got %v", got["status"])
	}
	if got["service"] != "echo-server" || got["version"] != "0.1.0" {
		t.Errorf("Unexpected identity: %v %v", got["service"], got["version"])
	}
	if got["timestamp"] != "2026-02-03T04:05:06Z" {
		t.Errorf("Unexpected timestamp %v", got["timestamp"])
	}
	if got["activeSessions"] != float64(2) || got["echoes"] != float64(7) {
		t.Errorf("Expected tool-set counters, got %v", got)
	}
	if got["sessionTimeout"] != "1h0m0s" {
		t.Errorf("Unexpected session timeout %v", got["sessionTimeout"])
	}
	if _, ok := got["connections"].(map[string]interface{}); !ok {
		t.Errorf("Expected connection counters, got %v", got["connections"])
	}
}

func TestHealthDegradedWhenJournalDown(t *testing.T) {
	r, _ := newTestRouter(t, &fakeJournal{pingErr: errors.New("disk gone")})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/echo/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"journal":"unreachable"`) {
		t.Errorf("Expected journal check, got %s", rec.Body.String())
	}
}

func TestMountedCommandIsJournaled(t *testing.T) {
	j := &fakeJournal{}
	r, _ := newTestRouter(t, j)

	body := `{"jsonrpc":"2.0","id":"c1","method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`
	req := httptest.NewRequest(http.MethodPost, "/echo/mcp", strings.NewReader(body))
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Mcp-Session-Id", "tab-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp rpc.Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("Unexpected error %+v", resp.Error)
	}
	if string(resp.ID) != `"c1"` {
		t.Errorf("Expected id c1, got %s", resp.ID)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/echo/calls?limit=5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var calls struct {
		Calls []store.CallEntry `json:"calls"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&calls); err != nil {
		t.Fatalf("Failed to decode calls: %v", err)
	}
	if len(calls.Calls) != 1 || calls.Calls[0].Tool != "echo" || calls.Calls[0].SessionID != "tab-1" {
		t.Errorf("Unexpected journal entries %+v", calls.Calls)
	}
}

func TestCallsValidation(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/echo/calls", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without journal, got %d", rec.Code)
	}

	r, _ = newTestRouter(t, &fakeJournal{})
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/echo/calls?limit=0", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestDocsAndIndex(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/echo/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Expected text/plain, got %q", ct)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"echo-server 0.1.0", "Echo the text argument.", "POST /echo/mcp", "Mcp-Session-Id", "Echo things back."} {
		if !strings.Contains(string(body), want) {
			t.Errorf("Expected docs to contain %q, got:\n%s", want, body)
		}
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.Contains(rec.Body.String(), "/echo/") {
		t.Errorf("Expected index to list the tool-set, got %q", rec.Body.String())
	}
}
