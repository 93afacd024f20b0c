// Package mcp connects to Model Context Protocol servers whose tools back
// the COMMAND and EXECUTE directives.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// MCPClient represents a connection to an MCP server
type MCPClient interface {
	// Initialize performs the MCP handshake
	Initialize(ctx context.Context) error

	// ListTools returns available tools from this MCP server
	ListTools(ctx context.Context) ([]Tool, error)

	// CallTool invokes a tool with given arguments
	CallTool(ctx context.Context, toolName string, args map[string]interface{}) (*CallToolResult, error)

	// Close disconnects from the MCP server
	Close() error

	// Name returns the client identifier
	Name() string
}

// Tool represents an MCP tool/function available for invocation
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]interface{} // JSON Schema for input parameters
	ServerName  string                 // Which server provides this tool
}

// transport carries one JSON-RPC exchange.
type transport interface {
	roundTrip(ctx context.Context, req JSONRPCRequest) (*JSONRPCResponse, error)
	close() error
}

// rpcClient speaks MCP over any transport.
type rpcClient struct {
	name   string
	kind   string
	t      transport
	reqID  atomic.Int32
	logger *slog.Logger
}

func newRPCClient(name, kind string, t transport, logger *slog.Logger) *rpcClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &rpcClient{name: name, kind: kind, t: t, logger: logger}
}

func (c *rpcClient) Name() string {
	return c.name
}

func (c *rpcClient) Initialize(ctx context.Context) error {
	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities: ClientCapabilities{
			Roots: &RootsCapability{ListChanged: false},
		},
		ClientInfo: ClientInfo{
			Name:    clientName,
			Version: clientVersion,
		},
	}

	var result InitializeResult
	if err := c.call(ctx, MethodInitialize, params, &result); err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}

	c.logger.Info("MCP server initialized",
		"server", result.ServerInfo.Name,
		"version", result.ServerInfo.Version,
		"protocol", result.ProtocolVersion,
		"transport", c.kind)
	return nil
}

func (c *rpcClient) ListTools(ctx context.Context) ([]Tool, error) {
	var result ListToolsResult
	if err := c.call(ctx, MethodListTools, nil, &result); err != nil {
		return nil, fmt.Errorf("list tools failed: %w", err)
	}

	tools := make([]Tool, len(result.Tools))
	for i, info := range result.Tools {
		tools[i] = Tool{
			Name:        info.Name,
			Description: info.Description,
			InputSchema: info.InputSchema,
			ServerName:  c.name,
		}
	}

	c.logger.Info("listed tools from MCP server", "server", c.name, "count", len(tools))
	return tools, nil
}

func (c *rpcClient) CallTool(ctx context.Context, toolName string, args map[string]interface{}) (*CallToolResult, error) {
	params := CallToolParams{
		Name:      toolName,
		Arguments: args,
	}

	var result CallToolResult
	if err := c.call(ctx, MethodCallTool, params, &result); err != nil {
		return nil, fmt.Errorf("call tool failed: %w", err)
	}

	c.logger.Info("called tool", "server", c.name, "tool", toolName)
	return &result, nil
}

func (c *rpcClient) Close() error {
	err := c.t.close()
	c.logger.Info("closed MCP client", "name", c.name, "transport", c.kind)
	return err
}

// call sends a request and decodes its result into out.
func (c *rpcClient) call(ctx context.Context, method string, params, out interface{}) error {
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      int(c.reqID.Add(1)),
		Method:  method,
		Params:  params,
	}

	resp, err := c.t.roundTrip(ctx, req)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("RPC error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	if resp.ID != req.ID {
		return fmt.Errorf("response id %d does not match request id %d", resp.ID, req.ID)
	}

	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}
	return nil
}
