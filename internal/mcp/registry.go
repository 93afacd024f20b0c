package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Config lists the MCP servers to connect to.
type Config struct {
	Enabled bool     `mapstructure:"enabled"`
	Local   []string `mapstructure:"local"`  // paths to stdio servers
	Remote  []string `mapstructure:"remote"` // http(s):// or ws(s):// URLs
}

// ClientRegistry manages MCP clients and an index of their tools.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]MCPClient
	tools   map[string]Tool
	logger  *slog.Logger
}

// NewClientRegistry creates a new client registry
func NewClientRegistry(logger *slog.Logger) *ClientRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientRegistry{
		clients: make(map[string]MCPClient),
		tools:   make(map[string]Tool),
		logger:  logger,
	}
}

// Connect initializes every configured server. Servers that fail are logged
// and skipped; the registry is returned even if none connect.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) *ClientRegistry {
	r := NewClientRegistry(logger)
	if !cfg.Enabled {
		return r
	}

	for _, script := range cfg.Local {
		client, err := NewStdioClient(script, script, r.logger)
		if err != nil {
			r.logger.Warn("failed to create stdio MCP client", "script", script, "error", err)
			continue
		}
		r.initAndRegister(ctx, client)
	}

	for _, url := range cfg.Remote {
		var (
			client MCPClient
			err    error
		)
		if strings.HasPrefix(url, "ws://") || strings.HasPrefix(url, "wss://") {
			client, err = NewWebSocketClient(ctx, url, url, r.logger)
		} else {
			client = NewHTTPClient(url, url, r.logger)
		}
		if err != nil {
			r.logger.Warn("failed to create remote MCP client", "url", url, "error", err)
			continue
		}
		r.initAndRegister(ctx, client)
	}

	r.Refresh(ctx)
	r.logger.Info("MCP initialized", "servers", r.Count(), "tools", len(r.Tools()))
	return r
}

func (r *ClientRegistry) initAndRegister(ctx context.Context, client MCPClient) {
	if err := client.Initialize(ctx); err != nil {
		r.logger.Warn("failed to initialize MCP client", "server", client.Name(), "error", err)
		client.Close()
		return
	}
	r.Register(client.Name(), client)
}

// Register adds a client to the registry
func (r *ClientRegistry) Register(name string, client MCPClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
}

// Get retrieves a client by name
func (r *ClientRegistry) Get(name string) (MCPClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[name]
	return client, ok
}

// All returns all registered clients, sorted by name
func (r *ClientRegistry) All() []MCPClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]MCPClient, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].Name() < clients[j].Name() })
	return clients
}

// Count returns the number of registered clients
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Refresh rebuilds the tool index from every server. When two servers
// expose the same tool name, the first server by name keeps it.
func (r *ClientRegistry) Refresh(ctx context.Context) {
	tools := make(map[string]Tool)
	for _, client := range r.All() {
		list, err := client.ListTools(ctx)
		if err != nil {
			r.logger.Warn("failed to list tools from MCP server", "server", client.Name(), "error", err)
			continue
		}
		for _, t := range list {
			if _, dup := tools[t.Name]; dup {
				continue
			}
			tools[t.Name] = t
		}
	}

	r.mu.Lock()
	r.tools = tools
	r.mu.Unlock()
}

// Tools returns the indexed tools sorted by name.
func (r *ClientRegistry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FindTool looks a tool up by name.
func (r *ClientRegistry) FindTool(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Call invokes a tool on the server that provides it.
func (r *ClientRegistry) Call(ctx context.Context, toolName string, args map[string]interface{}) (*CallToolResult, error) {
	tool, ok := r.FindTool(toolName)
	if !ok {
		return nil, fmt.Errorf("tool %s not found", toolName)
	}
	client, ok := r.Get(tool.ServerName)
	if !ok {
		return nil, fmt.Errorf("server %s not found for tool %s", tool.ServerName, toolName)
	}

	result, err := client.CallTool(ctx, toolName, args)
	if err != nil {
		return nil, fmt.Errorf("failed to call tool %s: %w", toolName, err)
	}
	if result.IsError {
		return result, fmt.Errorf("tool %s reported an error: %s", toolName, result.Text())
	}
	return result, nil
}

// Close closes all registered clients
func (r *ClientRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, client := range r.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close client %s: %w", name, err)
		}
	}
	r.clients = make(map[string]MCPClient)
	r.tools = make(map[string]Tool)
	return firstErr
}
