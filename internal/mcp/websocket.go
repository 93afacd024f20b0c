package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsTransport exchanges JSON-RPC frames over one websocket connection.
type wsTransport struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// NewWebSocketClient dials a remote MCP server over websocket.
func NewWebSocketClient(ctx context.Context, name, url string, logger *slog.Logger) (MCPClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	if logger != nil {
		logger.Info("created MCP WebSocket client", "name", name, "url", url)
	}
	return newRPCClient(name, "websocket", &wsTransport{conn: conn}, logger), nil
}

func (t *wsTransport) roundTrip(ctx context.Context, req JSONRPCRequest) (*JSONRPCResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, fmt.Errorf("client is closed")
	}

	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	t.conn.SetWriteDeadline(deadline)
	t.conn.SetReadDeadline(deadline)

	if err := t.conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("failed to write request: %w", err)
	}

	var resp JSONRPCResponse
	if err := t.conn.ReadJSON(&resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &resp, nil
}

func (t *wsTransport) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return t.conn.Close()
}
