package toolset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/ashureev/toolhub/internal/identity"
)

// ErrInvalidArgument marks argument validation failures.
var ErrInvalidArgument = errors.New("invalid argument")

// ValidationError describes one rejected argument.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidArgument) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidArgument
}

// Invalid returns a *ValidationError for field.
func Invalid(field, format string, a ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, a...)}
}

// Args are the decoded tools/call arguments.
type Args map[string]any

// DecodeArgs parses a raw arguments object. Empty input yields empty Args.
func DecodeArgs(raw json.RawMessage) (Args, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return Args{}, nil
	}
	var args Args
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&args); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("arguments must be a single JSON object")
	}
	if args == nil {
		args = Args{}
	}
	return args, nil
}

func (a Args) lookup(key string) (any, bool) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Has reports whether key is present and non-null.
func (a Args) Has(key string) bool {
	_, ok := a.lookup(key)
	return ok
}

// RequireString returns a non-empty string argument.
func (a Args) RequireString(key string) (string, error) {
	v, ok := a.lookup(key)
	if !ok {
		return "", Invalid(key, "is required")
	}
	s, ok := v.(string)
	if !ok {
		return "", Invalid(key, "must be a string")
	}
	if strings.TrimSpace(s) == "" {
		return "", Invalid(key, "cannot be empty")
	}
	return s, nil
}

// OptionalString returns a string argument or fallback when absent.
func (a Args) OptionalString(key, fallback string) (string, error) {
	v, ok := a.lookup(key)
	if !ok {
		return fallback, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", Invalid(key, "must be a string")
	}
	return s, nil
}

// RequireInt returns an integral argument. Numeric strings are accepted.
func (a Args) RequireInt(key string) (int, error) {
	v, ok := a.lookup(key)
	if !ok {
		return 0, Invalid(key, "is required")
	}
	return toInt(key, v)
}

// OptionalInt returns an integral argument or fallback when absent.
func (a Args) OptionalInt(key string, fallback int) (int, error) {
	v, ok := a.lookup(key)
	if !ok {
		return fallback, nil
	}
	return toInt(key, v)
}

func toInt(key string, v any) (int, error) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), nil
		}
		parsed, err := n.Float64()
		if err != nil {
			return 0, Invalid(key, "must be an integer")
		}
		f = parsed
	case float64:
		f = n
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, Invalid(key, "must be an integer")
		}
		return i, nil
	default:
		return 0, Invalid(key, "must be an integer")
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, Invalid(key, "must be an integer")
	}
	return int(f), nil
}

// RequireBool returns a boolean argument. "true"/"false" strings are accepted.
func (a Args) RequireBool(key string) (bool, error) {
	v, ok := a.lookup(key)
	if !ok {
		return false, Invalid(key, "is required")
	}
	return toBool(key, v)
}

// OptionalBool returns a boolean argument or fallback when absent.
func (a Args) OptionalBool(key string, fallback bool) (bool, error) {
	v, ok := a.lookup(key)
	if !ok {
		return fallback, nil
	}
	return toBool(key, v)
}

func toBool(key string, v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, Invalid(key, "must be a boolean")
		}
		return parsed, nil
	default:
		return false, Invalid(key, "must be a boolean")
	}
}

// SessionID resolves the target session: the sessionId argument, then the
// session carried by the request context, then the default session.
func (a Args) SessionID(ctx context.Context) (string, error) {
	sid, err := a.OptionalString("sessionId", "")
	if err != nil {
		return "", err
	}
	sid = strings.TrimSpace(sid)
	if sid == "" {
		return identity.SessionIDFromContext(ctx), nil
	}
	if !identity.ValidSessionID(sid) {
		return "", Invalid("sessionId", "must match [A-Za-z0-9._:-]{1,128}")
	}
	return sid, nil
}
