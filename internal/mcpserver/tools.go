// Package mcpserver registers the provisioning tools with the MCP
// server. Tools come from the declarative catalog; every handler is
// the same generic forward to the SOAP gateway.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/alexjbarnes/voipnow-mcp/internal/catalog"
	"github.com/alexjbarnes/voipnow-mcp/internal/manager"
	"github.com/alexjbarnes/voipnow-mcp/internal/soap"
)

// Caller is the SOAP invocation surface the handlers need. *soap.Client
// satisfies it.
type Caller interface {
	Call(ctx context.Context, rc manager.RuntimeConfig, req soap.Request) (string, error)
}

// RuntimeSource yields the current runtime configuration for a unit of
// work. *manager.Store satisfies it.
type RuntimeSource interface {
	Snapshot() manager.RuntimeConfig
}

// RegisterTools adds every catalog tool to the MCP server, bound to the
// store's current runtime configuration and the SOAP client.
func RegisterTools(server *mcp.Server, tools []catalog.Tool, store RuntimeSource, client Caller, logger *slog.Logger) error {
	for _, t := range tools {
		schema, err := t.InputSchema()
		if err != nil {
			return fmt.Errorf("building schema for %s: %w", t.Name, err)
		}

		server.AddTool(&mcp.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		}, forwardHandler(t, store, client, logger))
	}

	return nil
}

// forwardHandler builds the handler for one catalog tool: decode the
// arguments, keep only the whitelisted keys, and forward them to the
// tool's SOAP operation under the current credentials.
func forwardHandler(t catalog.Tool, store RuntimeSource, client Caller, logger *slog.Logger) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args map[string]any
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
			}
		}

		params := make(map[string]any, len(args))

		for k, v := range args {
			if !t.Allows(k) {
				continue
			}

			params[k] = v
		}

		rc := store.Snapshot()
		if rc.ServiceURL == "" {
			return errorResult("service not configured"), nil
		}

		logger.Info("forwarding tool call",
			slog.String("tool", t.Name),
			slog.String("method", t.Method),
		)

		result, err := client.Call(ctx, rc, soap.Request{
			Service: t.Service,
			Method:  t.Method,
			Params:  params,
		})
		if err != nil {
			logger.Warn("tool call failed",
				slog.String("tool", t.Name),
				slog.String("error", err.Error()),
			)

			return errorResult(err.Error()), nil
		}

		return textResult(result), nil
	}
}

// textResult builds a successful CallToolResult with text content.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// errorResult builds a CallToolResult that reports a tool-level error
// to the client without failing the MCP request.
func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}
