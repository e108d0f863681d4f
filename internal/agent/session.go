package agent

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"mcpbridge-go/internal/registry"
)

// mcpSession is one live connection to a stdio MCP server.
type mcpSession interface {
	Initialize(ctx context.Context) error
	ListTools(ctx context.Context) ([]registry.ToolDescriptor, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
	PID() int
	Close()
}

// sessionFactory spawns a session for an agent record.
type sessionFactory func(rec *registry.ToolAgentRecord) mcpSession

// stdioSession wraps an mcp-go client over a stdio transport. The command
// is captured at spawn time so the manager can report the child PID.
type stdioSession struct {
	client *client.Client
	cmd    *exec.Cmd
}

func newStdioSession(rec *registry.ToolAgentRecord) mcpSession {
	s := &stdioSession{}
	stdioTransport := transport.NewStdioWithOptions(rec.Command, os.Environ(), rec.Args,
		transport.WithCommandFunc(func(ctx context.Context, command string, env []string, args []string) (*exec.Cmd, error) {
			cmd := exec.CommandContext(ctx, command, args...)
			cmd.Env = env
			s.cmd = cmd
			return cmd, nil
		}))
	s.client = client.NewClient(stdioTransport)
	return s
}

func (s *stdioSession) Initialize(ctx context.Context) error {
	if err := s.client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP transport: %w", err)
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "mcpbridge-go",
		Version: "1.0.0",
	}
	initRequest.Params.Capabilities = mcp.ClientCapabilities{}

	if _, err := s.client.Initialize(ctx, initRequest); err != nil {
		return fmt.Errorf("MCP initialize failed: %w", err)
	}
	return nil
}

func (s *stdioSession) ListTools(ctx context.Context) ([]registry.ToolDescriptor, error) {
	result, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	tools := make([]registry.ToolDescriptor, 0, len(result.Tools))
	for i := range result.Tools {
		tool := &result.Tools[i]
		tools = append(tools, registry.ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	return tools, nil
}

func (s *stdioSession) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	request := mcp.CallToolRequest{}
	request.Params.Name = name
	request.Params.Arguments = args
	return s.client.CallTool(ctx, request)
}

func (s *stdioSession) PID() int {
	if s.cmd != nil && s.cmd.Process != nil {
		return s.cmd.Process.Pid
	}
	return 0
}

func (s *stdioSession) Close() {
	_ = s.client.Close()
}
