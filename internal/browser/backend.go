// Package browser provides the automation backends used by the browser tool-sets.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// ErrNoPage is returned when a page-scoped operation targets a key with no open page.
var ErrNoPage = errors.New("no open page")

// DefaultWaitTimeout bounds WaitFor when the caller gives no timeout.
const DefaultWaitTimeout = 10 * time.Second

// PageInfo describes the page after an operation.
type PageInfo struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Backend performs browser effects for one page per key. Keys are opaque
// to the backend; callers namespace them per tool-set and session.
type Backend interface {
	Navigate(ctx context.Context, key, rawURL string) (PageInfo, error)
	Click(ctx context.Context, key, selector string) (PageInfo, error)
	Fill(ctx context.Context, key, selector, value string) error
	Screenshot(ctx context.Context, key string, fullPage bool) ([]byte, error)
	// ExtractText returns the text of selector, or of the whole page when empty.
	ExtractText(ctx context.Context, key, selector string) (string, error)
	WaitFor(ctx context.Context, key, selector string, timeout time.Duration) error
	// Close releases the page for key. Closing an unknown key is not an error.
	Close(ctx context.Context, key string) error
	// Shutdown releases every page and the backend itself.
	Shutdown() error
}

// Key builds the page key of a session within a tool-set.
func Key(toolset, sessionID string) string {
	return toolset + "/" + sessionID
}

// PageReleaser returns a callback that closes the page of a session of
// toolset. It is meant for session.WithExpireHook and session.WithDiscardHook.
func PageReleaser(b Backend, toolset string, logger *slog.Logger) func(sessionID string) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(sessionID string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := b.Close(ctx, Key(toolset, sessionID)); err != nil {
			logger.Warn("Failed to release page", "toolset", toolset, "session_id", sessionID, "error", err)
		}
	}
}

var allowedSchemes = map[string]bool{
	"http":  true,
	"https": true,
	"about": true,
	"data":  true,
	"file":  true,
}

// ValidateURL checks that rawURL is absolute and uses a navigable scheme.
func ValidateURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("invalid url %q: scheme is required", rawURL)
	}
	if !allowedSchemes[strings.ToLower(u.Scheme)] {
		return nil, fmt.Errorf("invalid url %q: unsupported scheme %q", rawURL, u.Scheme)
	}
	if (u.Scheme == "http" || u.Scheme == "https") && u.Host == "" {
		return nil, fmt.Errorf("invalid url %q: host is required", rawURL)
	}
	return u, nil
}
