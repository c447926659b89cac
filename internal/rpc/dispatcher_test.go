package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/ashureev/toolhub/internal/toolset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memJournal struct {
	mu      sync.Mutex
	records []CallRecord
	err     error
}

func (j *memJournal) Record(_ context.Context, rec CallRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return j.err
}

func testToolset() *toolset.Toolset {
	return &toolset.Toolset{
		Name:         "test",
		Title:        "test-server",
		Version:      "1.2.3",
		Instructions: "call echo",
		Registry: toolset.MustRegistry(
			toolset.Tool{
				Name:        "echo",
				Description: "echoes text",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
				Handler: func(_ context.Context, args toolset.Args) (any, error) {
					text, err := args.RequireString("text")
					if err != nil {
						return nil, err
					}
					return map[string]string{"text": text}, nil
				},
			},
			toolset.Tool{
				Name: "fail",
				Handler: func(context.Context, toolset.Args) (any, error) {
					return nil, errors.New("session not found: s9")
				},
			},
			toolset.Tool{
				Name: "boom",
				Handler: func(context.Context, toolset.Args) (any, error) {
					panic("kaboom")
				},
			},
		),
	}
}

func dispatch(t *testing.T, d *Dispatcher, body string) map[string]any {
	t.Helper()
	resp := d.Handle(context.Background(), []byte(body))
	require.NotNil(t, resp)
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func errorCode(t *testing.T, env map[string]any) float64 {
	t.Helper()
	e, ok := env["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %v", env)
	return e["code"].(float64)
}

func TestDispatchInitialize(t *testing.T) {
	d := NewDispatcher(testToolset())
	env := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)

	result := env["result"].(map[string]any)
	assert.Equal(t, ProtocolVersion, result["protocolVersion"])
	assert.Equal(t, "test-server", result["serverInfo"].(map[string]any)["name"])
	assert.Equal(t, "call echo", result["instructions"])
	assert.Equal(t, float64(1), env["id"])
}

func TestDispatchToolsListIsIdempotent(t *testing.T) {
	d := NewDispatcher(testToolset())
	first := dispatch(t, d, `{"jsonrpc":"2.0","id":"a","method":"tools/list"}`)
	second := dispatch(t, d, `{"jsonrpc":"2.0","id":"a","method":"tools/list"}`)

	assert.Equal(t, first, second)
	tools := first["result"].(map[string]any)["tools"].([]any)
	require.Len(t, tools, 3)
	assert.Equal(t, "echo", tools[0].(map[string]any)["name"])
	assert.Equal(t, "boom", tools[2].(map[string]any)["name"])
}

func TestDispatchUnknownToolKeepsID(t *testing.T) {
	d := NewDispatcher(testToolset())
	env := dispatch(t, d, `{"jsonrpc":"2.0","id":"req-42","method":"tools/call","params":{"name":"nope","arguments":{}}}`)

	assert.Nil(t, env["result"])
	assert.Equal(t, "req-42", env["id"])
	assert.Equal(t, float64(CodeInvalidParams), errorCode(t, env))
	assert.Contains(t, env["error"].(map[string]any)["message"], "Unknown tool: nope")
}

func TestDispatchCallTool(t *testing.T) {
	j := &memJournal{}
	d := NewDispatcher(testToolset(), WithJournal(j))
	env := dispatch(t, d, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi","sessionId":"s1"}}}`)

	result := env["result"].(map[string]any)
	content := result["content"].([]any)
	require.Len(t, content, 1)
	assert.JSONEq(t, `{"text":"hi"}`, content[0].(map[string]any)["text"].(string))

	require.Len(t, j.records, 1)
	assert.Equal(t, "echo", j.records[0].Tool)
	assert.Equal(t, "s1", j.records[0].SessionID)
	assert.True(t, j.records[0].Success)
}

func TestDispatchErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantMsg  string
	}{
		{"parse error", `{"jsonrpc":`, CodeParseError, "Parse error"},
		{"array body", `[1]`, CodeParseError, "Parse error"},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"ping"}`, CodeInvalidRequest, "Invalid Request"},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`, CodeMethodNotFound, "Method not found: resources/list"},
		{"missing tool name", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{}}`, CodeInvalidParams, "name is required"},
		{"validation", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{}}}`, CodeInvalidParams, "Invalid arguments: text is required"},
		{"handler error", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"fail"}}`, CodeServerError, "session not found: s9"},
		{"panic", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"boom"}}`, CodeServerError, "internal error: kaboom"},
	}

	d := NewDispatcher(testToolset())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := dispatch(t, d, tt.body)
			assert.Equal(t, float64(tt.wantCode), errorCode(t, env))
			assert.Contains(t, env["error"].(map[string]any)["message"], tt.wantMsg)
		})
	}
}

func TestParseErrorHasNullID(t *testing.T) {
	d := NewDispatcher(testToolset())
	resp := d.Handle(context.Background(), []byte(`not json`))
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id":null`)
}

func TestNotificationHasNoResponse(t *testing.T) {
	d := NewDispatcher(testToolset())
	assert.Nil(t, d.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)))
}

func TestNullIDIsAnsweredNotDropped(t *testing.T) {
	var called bool
	ts := testToolset()
	ts.Registry = toolset.MustRegistry(toolset.Tool{
		Name: "t",
		Handler: func(context.Context, toolset.Args) (any, error) {
			called = true
			return map[string]bool{"ok": true}, nil
		},
	})
	d := NewDispatcher(ts)

	resp := d.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":null,"method":"tools/call","params":{"name":"t"}}`))
	require.NotNil(t, resp)
	assert.True(t, called)
	assert.Nil(t, resp.Error)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id":null`)

	req, errResp := Decode([]byte(`{"jsonrpc":"2.0","id":null,"method":"ping"}`))
	require.Nil(t, errResp)
	assert.False(t, req.IsNotification())
}

func TestJournalFailureIsNotSurfaced(t *testing.T) {
	j := &memJournal{err: errors.New("disk full")}
	d := NewDispatcher(testToolset(), WithJournal(j))
	env := dispatch(t, d, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo","arguments":{"text":"x"}}}`)
	assert.NotNil(t, env["result"])
	assert.Nil(t, env["error"])
}
