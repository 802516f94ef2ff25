// Package server provides HTTP server construction for the gateway.
package server

import (
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/voipnow-mcp/internal/auth"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	// MCPHandler serves the streamable HTTP transport at /mcp.
	MCPHandler http.Handler

	// SSEHandler serves the legacy SSE transport at /sse. Optional.
	SSEHandler http.Handler

	// Tokens supplies the expected bearer token. Required when Secure
	// is set.
	Tokens auth.TokenSource

	// Secure wraps the MCP endpoints in bearer token middleware.
	Secure bool

	Logger *slog.Logger
}

// NewMux builds the HTTP mux with the MCP endpoints and a health
// check. In secure mode the MCP endpoints require a bearer token; the
// health check never does.
func NewMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()

	wrap := func(h http.Handler) http.Handler { return h }
	if cfg.Secure {
		middleware := auth.Middleware(cfg.Tokens, cfg.Logger)
		wrap = middleware
	}

	mux.Handle("/mcp", wrap(cfg.MCPHandler))

	if cfg.SSEHandler != nil {
		mux.Handle("/sse", wrap(cfg.SSEHandler))
	}

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}
