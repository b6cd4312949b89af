// Package mcptools backs host tool requests with an MCP server.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/gaspardpetit/framelink/internal/logx"
	"github.com/gaspardpetit/framelink/internal/secret"
)

// Invoker calls tools on an initialized MCP client.
type Invoker struct {
	cl *client.Client
}

// Dial connects to a streamable HTTP MCP endpoint and performs the
// initialize handshake.
func Dial(ctx context.Context, endpoint string) (*Invoker, error) {
	cl, err := client.NewStreamableHttpClient(endpoint)
	if err != nil {
		return nil, err
	}
	inv, err := Start(ctx, cl)
	if err != nil {
		_ = cl.Close()
		return nil, err
	}
	logx.Log.Info().Str("url", secret.MaskURL(endpoint)).Msg("connected to MCP server")
	return inv, nil
}

// Start starts cl and initializes the session.
func Start(ctx context.Context, cl *client.Client) (*Invoker, error) {
	if err := cl.Start(ctx); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "framelink-host", Version: "1.0.0"}
	if _, err := cl.Initialize(ctx, req); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return &Invoker{cl: cl}, nil
}

// CallTool runs the named tool and returns the tool result as JSON. A result
// flagged as an error is returned as an error carrying its text content.
func (i *Invoker) CallTool(ctx context.Context, name string, params map[string]any) (json.RawMessage, error) {
	res, err := i.call(ctx, name, params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

func (i *Invoker) call(ctx context.Context, name string, params map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = params
	res, err := i.cl.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}
	if res.IsError {
		msg := text(res)
		if msg == "" {
			msg = "tool " + name + " failed"
		}
		return nil, errors.New(msg)
	}
	return res, nil
}

// Close closes the underlying client.
func (i *Invoker) Close() error { return i.cl.Close() }

// ToolRenderData produces render data by calling a tool. The tool's
// structured content is used; without it the text content must be JSON.
type ToolRenderData struct {
	Invoker *Invoker
	Tool    string
	Params  map[string]any
}

func (r ToolRenderData) RenderData(ctx context.Context) (json.RawMessage, error) {
	res, err := r.Invoker.call(ctx, r.Tool, r.Params)
	if err != nil {
		return nil, err
	}
	if res.StructuredContent != nil {
		return json.Marshal(res.StructuredContent)
	}
	t := strings.TrimSpace(text(res))
	if !json.Valid([]byte(t)) {
		return nil, fmt.Errorf("tool %s returned no structured content", r.Tool)
	}
	return json.RawMessage(t), nil
}

func text(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		switch tc := c.(type) {
		case mcp.TextContent:
			parts = append(parts, tc.Text)
		case *mcp.TextContent:
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
