package interpret

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestRulesInterpret(t *testing.T) {
	tests := []struct {
		instruction string
		want        Action
	}{
		{"Go to example.com", Action{Type: ActionNavigate, URL: "https://example.com"}},
		{"open https://golang.org/doc", Action{Type: ActionNavigate, URL: "https://golang.org/doc"}},
		{"Take a screenshot", Action{Type: ActionScreenshot}},
		{"type golang into #search", Action{Type: ActionFill, Selector: "#search", Value: "golang"}},
		{`type "hello world" into the search field`, Action{Type: ActionFill, Selector: "text=search", Value: "hello world"}},
		{"fill the search box with hello", Action{Type: ActionFill, Selector: "text=search", Value: "hello"}},
		{"click the Sign in button", Action{Type: ActionClick, Selector: "text=Sign in"}},
		{"click on #submit", Action{Type: ActionClick, Selector: "#submit"}},
		{"wait for #results", Action{Type: ActionWait, Selector: "#results"}},
		{"extract the text from the page", Action{Type: ActionExtract}},
		{"get text of .headline", Action{Type: ActionExtract, Selector: ".headline"}},
		{"https://example.org/a", Action{Type: ActionNavigate, URL: "https://example.org/a"}},
	}

	r := NewRules()
	for _, tt := range tests {
		t.Run(tt.instruction, func(t *testing.T) {
			got, err := r.Interpret(context.Background(), tt.instruction, PageContext{})
			require.NoError(t, err)
			got.Reasoning = ""
			assert.Equal(t, tt.want, got)
			assert.NoError(t, got.Validate())
		})
	}
}

func TestRulesUninterpretable(t *testing.T) {
	r := NewRules()
	for _, s := range []string{"", "   ", "dance"} {
		_, err := r.Interpret(context.Background(), s, PageContext{})
		assert.True(t, errors.Is(err, ErrUninterpretable), s)
	}
}

func TestActionValidate(t *testing.T) {
	assert.Error(t, Action{Type: ActionNavigate}.Validate())
	assert.Error(t, Action{Type: ActionClick}.Validate())
	assert.Error(t, Action{Type: "teleport"}.Validate())
	assert.NoError(t, Action{Type: ActionScreenshot}.Validate())
	assert.False(t, Action{Type: ActionNavigate}.NeedsPage())
	assert.True(t, Action{Type: ActionClick}.NeedsPage())
}

func TestParseActionFencedReply(t *testing.T) {
	a, err := parseAction("```json\n{\"type\":\"CLICK\",\"selector\":\"#go\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, Action{Type: ActionClick, Selector: "#go"}, a)

	_, err = parseAction("sure, I'll click it")
	assert.True(t, errors.Is(err, ErrUninterpretable))
}

func TestOpenAIInterpret(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "test-model",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"type\":\"fill\",\"selector\":\"#q\",\"value\":\"go\"}"}
			}]
		}`)
	}))
	defer srv.Close()

	interp, err := NewOpenAI(OpenAIOptions{
		APIKey:         "sk-test-key",
		BaseURL:        srv.URL + "/v1/",
		Model:          "test-model",
		DisableRetries: true,
	})
	require.NoError(t, err)

	action, err := interp.Interpret(context.Background(), "search for go", PageContext{URL: "https://example.com", Title: "Example"})
	require.NoError(t, err)
	assert.Equal(t, Action{Type: ActionFill, Selector: "#q", Value: "go"}, action)
	assert.Equal(t, "test-model", gotBody["model"])
	assert.Len(t, gotBody["messages"], 2)
}

func TestOpenAIRequiresKey(t *testing.T) {
	_, err := NewOpenAI(OpenAIOptions{})
	assert.Error(t, err)
}

type interpreterServer interface {
	Interpret(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type fakeInterpreter struct{}

func (fakeInterpreter) Interpret(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	instruction := req.GetFields()["instruction"].GetStringValue()
	if instruction == "nonsense" {
		return structpb.NewStruct(map[string]any{"error": "no idea"})
	}
	return structpb.NewStruct(map[string]any{
		"type":     "click",
		"selector": "text=" + instruction,
	})
}

var interpreterServiceDesc = grpc.ServiceDesc{
	ServiceName: "toolhub.interpret.v1.Interpreter",
	HandlerType: (*interpreterServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Interpret",
		Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			return srv.(interpreterServer).Interpret(ctx, in)
		},
	}},
}

func TestGrpcInterpret(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	s.RegisterService(&interpreterServiceDesc, fakeInterpreter{})
	go func() { _ = s.Serve(lis) }()
	defer s.Stop()

	cfg := DefaultGrpcConfig("passthrough:///bufnet")
	cfg.ConnectTimeout = 5 * time.Second
	cfg.DialOptions = []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	}
	client, err := NewGrpc(cfg, nil)
	require.NoError(t, err)
	defer client.Close()

	action, err := client.Interpret(context.Background(), "Login", PageContext{})
	require.NoError(t, err)
	assert.Equal(t, Action{Type: ActionClick, Selector: "text=Login"}, action)

	_, err = client.Interpret(context.Background(), "nonsense", PageContext{})
	assert.True(t, errors.Is(err, ErrUninterpretable))
}
