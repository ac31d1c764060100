package sdk

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/wovenflow/engine/engine/core"
)

// MCPServerSpec describes how to reach a package's MCP server (spec
// §4.3 step 3d: "the package instead exposes an MCP server").
type MCPServerSpec struct {
	Command string
	Args    []string
	Env     map[string]string
}

// MCPCapable is implemented by a loaded module that has no native Go
// client and must be driven over MCP instead.
type MCPCapable interface {
	MCPServerSpec() MCPServerSpec
}

// MCPConnector opens the stdio transport to an MCP server; production
// wiring backs this with mark3labs/mcp-go's stdio client, tests swap in
// a fake.
type MCPConnector interface {
	Connect(ctx context.Context, spec MCPServerSpec) (*client.Client, error)
}

// StdioMCPConnector is the production MCPConnector.
type StdioMCPConnector struct{}

func (StdioMCPConnector) Connect(ctx context.Context, spec MCPServerSpec) (*client.Client, error) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	stdioTransport := transport.NewStdio(spec.Command, env, spec.Args...)
	c := client.NewClient(stdioTransport)
	if err := c.Start(ctx); err != nil {
		return nil, err
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{Name: "wovenflow-engine", Version: "1.0.0"}
	initRequest.Params.Capabilities = mcp.ClientCapabilities{}
	if _, err := c.Initialize(ctx, initRequest); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// MCPProxy is the "every property is a tool call" object spec §4.3
// describes: accessing any property other than close/then returns a
// function that calls callTool({name: property, arguments: args}); in
// Go this is realized as Call(ctx, name, args) instead of dynamic
// property access.
type MCPProxy struct {
	handle *client.Client
}

func NewMCPProxy(handle *client.Client) *MCPProxy {
	return &MCPProxy{handle: handle}
}

// Call invokes the named MCP tool. The Dispatcher routes every dotted
// path segment after the SDK name here as the tool name, joined back
// with '.', since MCP tool names may themselves contain dots.
func (p *MCPProxy) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	result, err := p.handle.CallTool(ctx, req)
	if err != nil {
		return nil, core.NewError(err, core.KindNetworkError, map[string]any{"tool": name})
	}
	if result.IsError {
		if len(result.Content) > 0 {
			if text, ok := mcp.AsTextContent(result.Content[0]); ok {
				return nil, core.Errorf(core.KindInternalError, "mcp tool %q failed: %s", name, text.Text)
			}
		}
		return nil, core.Errorf(core.KindInternalError, "mcp tool %q returned an error result", name)
	}
	if len(result.Content) == 0 {
		return nil, nil
	}
	if text, ok := mcp.AsTextContent(result.Content[0]); ok {
		return text.Text, nil
	}
	return result.Content, nil
}

// Close releases the underlying transport; excluded from the property
// dispatch set exactly like the JS proxy's `close` escape hatch.
func (p *MCPProxy) Close() error {
	return p.handle.Close()
}
