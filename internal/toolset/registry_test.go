package toolset

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ashureev/toolhub/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, Args) (any, error) { return nil, nil }

func TestRegistryDescribeKeepsDefinitionOrder(t *testing.T) {
	r, err := NewRegistry(
		Tool{Name: "zeta", Description: "last letter", Handler: noop},
		Tool{Name: "alpha", Description: "first letter", InputSchema: json.RawMessage(`{"type":"object"}`), Handler: noop},
	)
	require.NoError(t, err)

	first := r.Describe()
	second := r.Describe()

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"zeta", "alpha"}, r.Names())
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(first[0].InputSchema))
}

func TestRegistryDescribeReturnsCopy(t *testing.T) {
	r := MustRegistry(Tool{Name: "a", Handler: noop})

	d := r.Describe()
	d[0].Name = "mutated"

	assert.Equal(t, "a", r.Describe()[0].Name)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(
		Tool{Name: "a", Handler: noop},
		Tool{Name: "a", Handler: noop},
	)
	assert.EqualError(t, err, `duplicate tool "a"`)
}

func TestRegistryRejectsInvalidSchema(t *testing.T) {
	_, err := NewRegistry(Tool{Name: "a", Handler: noop, InputSchema: json.RawMessage(`{`)})
	assert.Error(t, err)
}

func TestRegistryResolve(t *testing.T) {
	r := MustRegistry(Tool{Name: "a", Handler: noop})

	h, ok := r.Resolve("a")
	assert.True(t, ok)
	assert.NotNil(t, h)

	_, ok = r.Resolve("missing")
	assert.False(t, ok)
}

func TestDecodeArgs(t *testing.T) {
	args, err := DecodeArgs(nil)
	require.NoError(t, err)
	assert.Empty(t, args)

	args, err = DecodeArgs(json.RawMessage(`{"n": 3, "s": "x"}`))
	require.NoError(t, err)
	n, err := args.RequireInt("n")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = DecodeArgs(json.RawMessage(`[1,2]`))
	assert.Error(t, err)

	for _, raw := range []string{`{"a":1} trailing`, `{"a":1}{"b":2}`, `{"a":1} 7`} {
		_, err = DecodeArgs(json.RawMessage(raw))
		assert.Error(t, err, raw)
	}

	args, err = DecodeArgs(json.RawMessage("{\"a\":1}\n  "))
	require.NoError(t, err)
	assert.True(t, args.Has("a"))
}

func TestArgsCoercion(t *testing.T) {
	args, err := DecodeArgs(json.RawMessage(`{
		"intStr": "4",
		"float": 2.0,
		"frac": 2.5,
		"boolStr": "true",
		"bool": false,
		"empty": "  ",
		"nullish": null
	}`))
	require.NoError(t, err)

	i, err := args.RequireInt("intStr")
	require.NoError(t, err)
	assert.Equal(t, 4, i)

	i, err = args.RequireInt("float")
	require.NoError(t, err)
	assert.Equal(t, 2, i)

	_, err = args.RequireInt("frac")
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	b, err := args.RequireBool("boolStr")
	require.NoError(t, err)
	assert.True(t, b)

	b, err = args.OptionalBool("bool", true)
	require.NoError(t, err)
	assert.False(t, b)

	_, err = args.RequireString("empty")
	assert.EqualError(t, err, "empty cannot be empty")

	_, err = args.RequireString("nullish")
	assert.EqualError(t, err, "nullish is required")

	s, err := args.OptionalString("nullish", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", s)
}

func TestArgsSessionID(t *testing.T) {
	ctx := identity.WithSessionID(context.Background(), "from-header")

	sid, err := Args{}.SessionID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from-header", sid)

	sid, err = Args{"sessionId": "explicit"}.SessionID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "explicit", sid)

	sid, err = Args{}.SessionID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "default", sid)

	_, err = Args{"sessionId": "has space"}.SessionID(ctx)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestWrap(t *testing.T) {
	res, err := Wrap(map[string]any{"ok": true})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	assert.Equal(t, "text", res.Content[0].Type)
	assert.JSONEq(t, `{"ok": true}`, res.Content[0].Text)

	res, err = Wrap(nil)
	require.NoError(t, err)
	assert.NotNil(t, res.Content)

	img := ImageResult([]byte{1, 2, 3}, "image/png", "shot", nil)
	res, err = Wrap(img)
	require.NoError(t, err)
	assert.Same(t, img, res)
	assert.Equal(t, "AQID", res.Content[1].Data)
}
