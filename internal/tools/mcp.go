package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/speakdrill/speakdrill/pkg/provider/llm"
)

// MCPTransport selects how an external MCP server is reached.
type MCPTransport string

const (
	// MCPTransportStdio runs the server as a child process speaking MCP
	// over stdin/stdout.
	MCPTransportStdio MCPTransport = "stdio"

	// MCPTransportStreamableHTTP connects to a server over the MCP
	// streamable-HTTP transport.
	MCPTransportStreamableHTTP MCPTransport = "streamable-http"
)

// MCPServerConfig describes one external MCP server whose tools should be
// imported into the dispatcher.
type MCPServerConfig struct {
	// Name labels the server in logs and errors.
	Name string

	// Transport selects stdio or streamable-http.
	Transport MCPTransport

	// Command is the child process command line for stdio transport.
	Command string

	// Env holds additional environment variables for stdio transport.
	Env map[string]string

	// URL is the endpoint address for streamable-http transport.
	URL string
}

// mcpCapability wraps one tool discovered on an external MCP server.
type mcpCapability struct {
	def     llm.ToolDefinition
	session *mcpsdk.ClientSession
}

func (c *mcpCapability) Definition() llm.ToolDefinition { return c.def }

func (c *mcpCapability) Invoke(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var argsMap map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &argsMap); err != nil {
			return nil, fmt.Errorf("invalid args JSON: %w", err)
		}
	}

	result, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      c.def.Name,
		Arguments: argsMap,
	})
	if err != nil {
		return nil, fmt.Errorf("call tool: %w", err)
	}

	// Concatenate all text content from the result.
	var sb strings.Builder
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if result.IsError {
		return nil, fmt.Errorf("tool reported error: %s", sb.String())
	}
	return json.Marshal(map[string]string{"output": sb.String()})
}

// RegisterMCPServer connects to the MCP server described by cfg and imports
// its tool catalogue as capabilities on d. The session is closed when the
// dispatcher is closed.
func (d *Dispatcher) RegisterMCPServer(ctx context.Context, cfg MCPServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("tools: mcp server config must have a non-empty name")
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case MCPTransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("tools: stdio server %q requires a non-empty Command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case MCPTransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("tools: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}

	default:
		return fmt.Errorf("tools: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "speakdrill", Version: "1.0.0"},
		nil,
	)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("tools: connect to mcp server %q: %w", cfg.Name, err)
	}

	var imported int
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("tools: list tools for server %q: %w", cfg.Name, err)
		}
		d.Register(&mcpCapability{
			def: llm.ToolDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaToMap(tool.InputSchema),
			},
			session: session,
		})
		imported++
	}

	d.closers = append(d.closers, session.Close)
	d.log.Info("mcp server registered", "server", cfg.Name, "tools", imported)
	return nil
}

// schemaToMap converts any schema value to a map[string]any.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// splitCommand splits a command string into executable and arguments.
// e.g. "/bin/foo --bar baz" → ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
