package sdk_test

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wovenflow/engine/engine/sdk"
)

func echoServer() *server.MCPServer {
	s := server.NewMCPServer("echo", "1.0.0", server.WithToolCapabilities(true))
	s.AddTool(gomcp.NewTool("echo", gomcp.WithDescription("echoes the message arg")),
		func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
			msg, err := req.RequireString("message")
			if err != nil {
				return gomcp.NewToolResultError(err.Error()), nil
			}
			return gomcp.NewToolResultText(msg), nil
		})
	s.AddTool(gomcp.NewTool("boom", gomcp.WithDescription("always fails")),
		func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
			return gomcp.NewToolResultError("kaboom"), nil
		})
	return s
}

func connectedProxy(t *testing.T) *sdk.MCPProxy {
	t.Helper()
	c, err := client.NewInProcessClient(echoServer())
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	initReq := gomcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = gomcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = gomcp.Implementation{Name: "test", Version: "1.0.0"}
	_, err = c.Initialize(context.Background(), initReq)
	require.NoError(t, err)

	return sdk.NewMCPProxy(c)
}

func TestMCPProxy_Call(t *testing.T) {
	t.Run("Should return the tool's text content on success", func(t *testing.T) {
		p := connectedProxy(t)
		defer p.Close()

		out, err := p.Call(context.Background(), "echo", map[string]any{"message": "hello"})
		require.NoError(t, err)
		assert.Equal(t, "hello", out)
	})

	t.Run("Should surface a tool-level error result as an error", func(t *testing.T) {
		p := connectedProxy(t)
		defer p.Close()

		_, err := p.Call(context.Background(), "boom", nil)
		assert.ErrorContains(t, err, "kaboom")
	})

	t.Run("Should error for an unknown tool name", func(t *testing.T) {
		p := connectedProxy(t)
		defer p.Close()

		_, err := p.Call(context.Background(), "nonexistent", nil)
		assert.Error(t, err)
	})
}
