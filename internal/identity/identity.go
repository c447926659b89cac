// Package identity resolves the client's session identity and checks credential shape.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
)

const (
	// SessionHeaderName carries a client-chosen session id on any request.
	SessionHeaderName = "Mcp-Session-Id"
	// DefaultSessionIDValue is used when the client names no session.
	DefaultSessionIDValue = "default"
)

type contextKey int

const (
	sessionIDKey contextKey = iota
	remoteIPKey
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// ValidSessionID reports whether id is an acceptable session identifier.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// SessionIDFromContext extracts the session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok && v != "" {
		return v
	}
	return DefaultSessionIDValue
}

// WithSessionID returns a context carrying the session ID.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sanitizeSessionID(sessionID))
}

// RemoteIPFromContext returns the client IP recorded by Middleware.
func RemoteIPFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(remoteIPKey).(string); ok {
		return v
	}
	return ""
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !ValidSessionID(id) {
		return DefaultSessionIDValue
	}
	return id
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("sessionId")
	}
	return sanitizeSessionID(sid)
}

// Middleware injects the per-request session ID and client IP.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithSessionID(r.Context(), sessionIDFromRequest(r))
		ctx = context.WithValue(ctx, remoteIPKey, IPFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
