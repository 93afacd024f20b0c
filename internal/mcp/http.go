package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// httpTransport posts each JSON-RPC request to <baseURL>/rpc.
type httpTransport struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPClient creates an MCP client for a remote server reachable over
// plain HTTP.
func NewHTTPClient(name, baseURL string, logger *slog.Logger) MCPClient {
	t := &httpTransport{
		endpoint:   strings.TrimRight(baseURL, "/") + "/rpc",
		httpClient: &http.Client{},
	}
	if logger != nil {
		logger.Info("created MCP HTTP client", "name", name, "url", baseURL)
	}
	return newRPCClient(name, "http", t, logger)
}

func (t *httpTransport) roundTrip(ctx context.Context, req JSONRPCRequest) (*JSONRPCResponse, error) {
	requestJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewBuffer(requestJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error %d: %s", httpResp.StatusCode, string(body))
	}

	var resp JSONRPCResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &resp, nil
}

func (t *httpTransport) close() error {
	t.httpClient.CloseIdleConnections()
	return nil
}
