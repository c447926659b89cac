package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ashureev/toolhub/internal/identity"
	"github.com/ashureev/toolhub/internal/rpc"
)

// Docs serves the plain-text documentation of the tool-set.
func (h *Handler) Docs(w http.ResponseWriter, r *http.Request) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", h.ts.Title, h.ts.Version)
	fmt.Fprintf(&b, "%s\n\n", strings.Repeat("=", len(h.ts.Title)+len(h.ts.Version)+1))
	if h.ts.Instructions != "" {
		fmt.Fprintf(&b, "%s\n\n", h.ts.Instructions)
	}

	b.WriteString("Tools:\n")
	for _, d := range h.ts.Registry.Describe() {
		fmt.Fprintf(&b, "  %-26s %s\n", d.Name, d.Description)
	}

	base := h.prefix
	fmt.Fprintf(&b, "\nEndpoints:\n")
	fmt.Fprintf(&b, "  GET  %s/mcp     subscribe (Server-Sent Events, heartbeat every %s)\n", base, h.opts.HeartbeatInterval)
	fmt.Fprintf(&b, "  POST %s/mcp     one JSON-RPC %s envelope, answered with one frame\n", base, rpc.Version)
	fmt.Fprintf(&b, "  GET  %s/ws      WebSocket, one envelope per text message\n", base)
	fmt.Fprintf(&b, "  GET  %s/health  liveness\n", base)
	if h.journal != nil {
		fmt.Fprintf(&b, "  GET  %s/calls   recent tool calls\n", base)
	}

	fmt.Fprintf(&b, "\nSessions:\n")
	fmt.Fprintf(&b, "  Pass \"sessionId\" in tool arguments or the %s header (default %q).\n", identity.SessionHeaderName, identity.DefaultSessionIDValue)
	fmt.Fprintf(&b, "  Sessions expire after %s without activity.\n", h.ts.SessionTimeout)

	fmt.Fprintf(&b, "\nExample:\n")
	fmt.Fprintf(&b, "  curl -X POST %s/mcp -H 'Content-Type: application/json' \\\n", base)
	fmt.Fprintf(&b, "    -d '{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"tools/list\"}'\n")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}

// Index serves the root listing of mounted tool-sets.
func Index(handlers []*Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var b strings.Builder
		b.WriteString("toolhub\n\nTool-sets:\n")
		for _, h := range handlers {
			fmt.Fprintf(&b, "  %-16s %s/  (%d tools)\n", h.ts.Name, h.prefix, h.ts.Registry.Len())
		}
		b.WriteString("\nEach tool-set documents itself at its prefix.\n")

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(b.String()))
	}
}
