package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer answers the three MCP methods with an echo tool.
func fakeServer(t *testing.T, req JSONRPCRequest) JSONRPCResponse {
	t.Helper()
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID}

	var result any
	switch req.Method {
	case MethodInitialize:
		result = InitializeResult{ProtocolVersion: ProtocolVersion, ServerInfo: ServerInfo{Name: "fake", Version: "0.1"}}
	case MethodListTools:
		result = ListToolsResult{Tools: []ToolInfo{{Name: "echo", Description: "Echo input back"}}}
	case MethodCallTool:
		raw, _ := json.Marshal(req.Params)
		var params CallToolParams
		require.NoError(t, json.Unmarshal(raw, &params))
		if params.Name != "echo" {
			resp.Error = &RPCError{Code: -32601, Message: "unknown tool"}
			return resp
		}
		result = CallToolResult{Content: []Content{{Type: "text", Text: "echo: " + params.Arguments["input"].(string)}}}
	default:
		resp.Error = &RPCError{Code: -32601, Message: "method not found"}
		return resp
	}

	raw, err := json.Marshal(result)
	require.NoError(t, err)
	resp.Result = raw
	return resp
}

func TestHTTPClient_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rpc", r.URL.Path)
		var req JSONRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(fakeServer(t, req))
	}))
	defer srv.Close()

	ctx := context.Background()
	client := NewHTTPClient("fake-http", srv.URL, nil)
	require.NoError(t, client.Initialize(ctx))

	tools, err := client.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "fake-http", tools[0].ServerName)

	res, err := client.CallTool(ctx, "echo", map[string]interface{}{"input": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", res.Text())

	_, err = client.CallTool(ctx, "nope", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool")
}

func TestWebSocketClient_RoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			var req JSONRPCRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if err := conn.WriteJSON(fakeServer(t, req)); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, err := NewWebSocketClient(ctx, "fake-ws", url, nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Initialize(ctx))
	res, err := client.CallTool(ctx, "echo", map[string]interface{}{"input": "over ws"})
	require.NoError(t, err)
	assert.Equal(t, "echo: over ws", res.Text())
}

func TestConnect_IndexesTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req JSONRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(fakeServer(t, req))
	}))
	defer srv.Close()

	ctx := context.Background()
	reg := Connect(ctx, Config{Enabled: true, Remote: []string{srv.URL}}, nil)
	defer reg.Close()

	assert.Equal(t, 1, reg.Count())
	tool, ok := reg.FindTool("echo")
	require.True(t, ok)
	assert.Equal(t, srv.URL, tool.ServerName)

	res, err := reg.Call(ctx, "echo", map[string]interface{}{"input": "x"})
	require.NoError(t, err)
	assert.Equal(t, "echo: x", res.Text())

	_, err = reg.Call(ctx, "missing", nil)
	assert.Error(t, err)
}

func TestConnect_Disabled(t *testing.T) {
	reg := Connect(context.Background(), Config{Enabled: false, Remote: []string{"http://127.0.0.1:1"}}, nil)
	assert.Equal(t, 0, reg.Count())
	assert.Empty(t, reg.Tools())
}

func TestCallToolResult_Text(t *testing.T) {
	r := &CallToolResult{Content: []Content{{Type: "text", Text: "a"}, {Type: "image"}, {Type: "text", Text: "b"}}}
	assert.Equal(t, "a\nb", r.Text())
}
