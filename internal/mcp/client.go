package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"shopbot/internal/config"
	"shopbot/internal/tool"
)

const protocolVersion = "2024-11-05"

// Transport is the wire-level interface to a single MCP server.
type Transport interface {
	Start(ctx context.Context) error
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Notify(ctx context.Context, method string, params any) error
	Close()
}

// Client manages connections to MCP servers and exposes their tools as
// regular registry tools named mcp_<server>_<tool>.
type Client struct {
	mu         sync.RWMutex
	transports map[string]Transport
	tools      map[string]*serverTool
	logger     *slog.Logger
}

func NewClient(logger *slog.Logger) *Client {
	return &Client{
		transports: make(map[string]Transport),
		tools:      make(map[string]*serverTool),
		logger:     logger,
	}
}

// Connect dials every enabled server from the configuration. A server that
// fails to connect is logged and skipped so one bad entry does not take the
// bot down.
func Connect(ctx context.Context, cfg config.MCPConfig, logger *slog.Logger) (*Client, error) {
	c := NewClient(logger)
	for _, entry := range cfg.Servers {
		transport, err := transportFor(entry)
		if err != nil {
			return nil, fmt.Errorf("mcp server %s: %w", entry.Name, err)
		}
		if err := c.AddServer(ctx, entry.Name, transport); err != nil {
			logger.Warn("mcp server unavailable", "server", entry.Name, "error", err)
			continue
		}
	}
	return c, nil
}

func transportFor(entry config.MCPServerEntry) (Transport, error) {
	switch entry.Transport {
	case "stdio", "":
		if entry.Command == "" {
			return nil, fmt.Errorf("stdio transport requires a command")
		}
		env := make([]string, 0, len(entry.Env))
		for k, v := range entry.Env {
			env = append(env, k+"="+v)
		}
		return NewStdioTransport(entry.Command, entry.Args, env), nil
	case "http":
		if entry.URL == "" {
			return nil, fmt.Errorf("http transport requires a url")
		}
		return NewHTTPTransport(entry.URL, nil), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", entry.Transport)
	}
}

// AddServer performs the MCP handshake against a started transport and
// discovers the server's tools.
func (c *Client) AddServer(ctx context.Context, name string, transport Transport) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := transport.Start(ctx); err != nil {
		return fmt.Errorf("start mcp server %s: %w", name, err)
	}

	_, err := transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "shopbot",
			"version": "1.0.0",
		},
	})
	if err != nil {
		transport.Close()
		return fmt.Errorf("initialize mcp server %s: %w", name, err)
	}

	_ = transport.Notify(ctx, "notifications/initialized", nil)

	result, err := transport.Call(ctx, "tools/list", nil)
	if err != nil {
		transport.Close()
		return fmt.Errorf("list tools from %s: %w", name, err)
	}

	var listing struct {
		Tools []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(result, &listing); err != nil {
		transport.Close()
		return fmt.Errorf("parse tools from %s: %w", name, err)
	}

	c.transports[name] = transport
	for _, t := range listing.Tools {
		var params map[string]any
		if len(t.InputSchema) > 0 {
			_ = json.Unmarshal(t.InputSchema, &params)
		}
		st := &serverTool{
			server:      name,
			remoteName:  t.Name,
			fullName:    "mcp_" + name + "_" + t.Name,
			description: t.Description,
			parameters:  params,
			transport:   transport,
		}
		c.tools[st.fullName] = st
	}
	c.logger.Info("mcp server connected", "server", name, "tools", len(listing.Tools))

	return nil
}

// RegisterTools adds every discovered tool to the registry.
func (c *Client) RegisterTools(registry *tool.Registry) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.tools {
		registry.Register(t)
	}
}

// ToolNames lists the registry names of all discovered tools.
func (c *Client) ToolNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tools))
	for name := range c.tools {
		names = append(names, name)
	}
	return names
}

// IsConnected reports whether a named server has a live transport.
func (c *Client) IsConnected(server string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.transports[server]
	return ok
}

// Close shuts down every server connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, t := range c.transports {
		t.Close()
		delete(c.transports, name)
	}
}

// serverTool adapts one remote MCP tool to the domain.Tool interface.
type serverTool struct {
	server      string
	remoteName  string
	fullName    string
	description string
	parameters  map[string]any
	transport   Transport
}

func (t *serverTool) Name() string               { return t.fullName }
func (t *serverTool) Description() string        { return t.description }
func (t *serverTool) Parameters() map[string]any { return t.parameters }

func (t *serverTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	result, err := t.transport.Call(ctx, "tools/call", map[string]any{
		"name":      t.remoteName,
		"arguments": args,
	})
	if err != nil {
		return "", fmt.Errorf("mcp tool %s: %w", t.fullName, err)
	}

	var call struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(result, &call); err != nil {
		return string(result), nil
	}

	var texts []string
	for _, part := range call.Content {
		if part.Type == "text" {
			texts = append(texts, part.Text)
		}
	}
	text := strings.Join(texts, "\n")
	if call.IsError {
		return "", fmt.Errorf("%s", text)
	}
	return text, nil
}

// JSON-RPC framing shared by the transports.

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *jsonRPCError) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

var requestIDCounter atomic.Int64

func nextRequestID() int64 {
	return requestIDCounter.Add(1)
}
