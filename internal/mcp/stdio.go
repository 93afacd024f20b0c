package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// stdioTransport exchanges newline-delimited JSON-RPC with a child process.
type stdioTransport struct {
	name    string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	scanner *bufio.Scanner
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewStdioClient starts a local MCP server and talks to it over stdio.
// Python scripts are run with python3; anything else is executed directly.
func NewStdioClient(name, script string, logger *slog.Logger) (MCPClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var cmd *exec.Cmd
	if strings.HasSuffix(script, ".py") {
		cmd = exec.Command("python3", script)
	} else {
		cmd = exec.Command(script)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("failed to start MCP server process: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	t := &stdioTransport{
		name:    name,
		cmd:     cmd,
		stdin:   stdin,
		scanner: scanner,
		logger:  logger,
	}
	go t.logStderr(stderr)

	logger.Info("started MCP stdio client", "name", name, "script", script)
	return newRPCClient(name, "stdio", t, logger), nil
}

func (t *stdioTransport) roundTrip(ctx context.Context, req JSONRPCRequest) (*JSONRPCResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, fmt.Errorf("client is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	requestJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	if _, err := t.stdin.Write(append(requestJSON, '\n')); err != nil {
		return nil, fmt.Errorf("failed to write request: %w", err)
	}

	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return nil, fmt.Errorf("EOF from MCP server")
	}

	var resp JSONRPCResponse
	if err := json.Unmarshal(t.scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &resp, nil
}

func (t *stdioTransport) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	t.stdin.Close()
	if t.cmd.Process != nil {
		if err := t.cmd.Process.Kill(); err != nil {
			t.logger.Warn("failed to kill MCP server process", "error", err)
		}
		t.cmd.Wait()
	}
	return nil
}

func (t *stdioTransport) logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		t.logger.Warn("MCP server stderr", "server", t.name, "message", scanner.Text())
	}
}
