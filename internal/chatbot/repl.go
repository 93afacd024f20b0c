package chatbot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"RecallChat/internal/backend"
	"RecallChat/internal/mcp"
	"RecallChat/internal/session"
)

// Sessions lists and reads a user's sessions.
type Sessions interface {
	ListSessions(ctx context.Context, userID string) ([]session.Session, error)
	History(ctx context.Context, sessionID string) ([]session.Message, error)
}

// Facts reads and removes persistent facts.
type Facts interface {
	Facts(ctx context.Context, userID string) ([]string, error)
	Forget(ctx context.Context, userID, fact string) error
}

// Models switches the backend and Ollama model at runtime.
type Models interface {
	Backend() string
	SetBackend(name string) error
	OllamaModel() string
	SetOllamaModel(model string)
	ListOllamaModels(ctx context.Context) ([]backend.OllamaModel, error)
}

// REPL is the interactive terminal front end.
type REPL struct {
	bot       *Bot
	sessions  Sessions
	facts     Facts
	models    Models
	mcp       *mcp.ClientRegistry
	userID    string
	sessionID string
	in        io.Reader
	out       io.Writer
	logger    *slog.Logger
}

// REPLOption configures a REPL.
type REPLOption func(*REPL)

// WithIO replaces stdin and stdout.
func WithIO(in io.Reader, out io.Writer) REPLOption {
	return func(r *REPL) {
		r.in = in
		r.out = out
	}
}

// WithModels enables /switch and the Ollama model commands.
func WithModels(m Models) REPLOption {
	return func(r *REPL) { r.models = m }
}

// WithMCP enables the /mcp-* commands.
func WithMCP(reg *mcp.ClientRegistry) REPLOption {
	return func(r *REPL) { r.mcp = reg }
}

// WithSession resumes an existing session.
func WithSession(id string) REPLOption {
	return func(r *REPL) { r.sessionID = id }
}

func WithREPLLogger(l *slog.Logger) REPLOption {
	return func(r *REPL) { r.logger = l }
}

// NewREPL creates a REPL chatting as userID.
func NewREPL(bot *Bot, sessions Sessions, facts Facts, userID string, opts ...REPLOption) *REPL {
	r := &REPL{
		bot:      bot,
		sessions: sessions,
		facts:    facts,
		userID:   userID,
		in:       os.Stdin,
		out:      os.Stdout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SessionID returns the session the REPL is chatting in, or "" before the
// first message.
func (r *REPL) SessionID() string {
	return r.sessionID
}

func (r *REPL) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

// Run reads lines until /quit or end of input.
func (r *REPL) Run(ctx context.Context) error {
	r.printf("=== RecallChat ===\n")
	if r.sessionID != "" {
		r.printf("Session: %s\n", r.sessionID)
	}
	if r.models != nil {
		r.printf("Backend: %s\n", r.models.Backend())
	}
	r.printf("Type /help for commands, /quit to exit\n\n")

	scanner := bufio.NewScanner(r.in)
	for {
		r.printf("You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := r.handleCommand(ctx, input)
			if err != nil {
				r.printf("Error: %v\n", err)
				r.logger.Error("command error", "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		reply, err := r.bot.Chat(ctx, Request{UserID: r.userID, SessionID: r.sessionID, Message: input})
		if err != nil {
			r.printf("Error: %v\n", err)
			r.logger.Error("failed to send message", "error", err)
			continue
		}
		if reply.NewSession {
			r.printf("Started new session: %s\n", reply.SessionID)
		}
		r.sessionID = reply.SessionID
		for _, m := range reply.SystemMessages {
			r.printf("[%s] %s\n", m.Type, firstLine(m.Content))
		}
		r.printf("Bot: %s\n\n", reply.Response)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	r.printf("Goodbye!\n")
	return nil
}

func (r *REPL) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}
	rest := strings.TrimSpace(strings.TrimPrefix(cmd, parts[0]))

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new-session":
		r.sessionID = "new"
		r.printf("A new session starts with your next message.\n")
		return false, nil

	case "/sessions":
		list, err := r.sessions.ListSessions(ctx, r.userID)
		if err != nil {
			return false, fmt.Errorf("failed to list sessions: %w", err)
		}
		if len(list) == 0 {
			r.printf("No sessions yet.\n")
			return false, nil
		}
		r.printf("\nSessions:\n")
		for i, s := range list {
			current := ""
			if s.ID == r.sessionID {
				current = " (current)"
			}
			r.printf("%d. %s - %s%s\n", i+1, s.ID, s.Title, current)
		}
		r.printf("\n")
		return false, nil

	case "/resume":
		if rest == "" {
			return false, errors.New("usage: /resume <session-id>")
		}
		r.sessionID = rest
		r.printf("Resumed session: %s\n", rest)
		return false, nil

	case "/history":
		if r.sessionID == "" || r.sessionID == "new" {
			r.printf("No active session.\n")
			return false, nil
		}
		msgs, err := r.sessions.History(ctx, r.sessionID)
		if err != nil {
			return false, fmt.Errorf("failed to load history: %w", err)
		}
		for _, m := range msgs {
			r.printf("%s: %s\n", m.Role, m.Content)
		}
		return false, nil

	case "/facts":
		facts, err := r.facts.Facts(ctx, r.userID)
		if err != nil {
			return false, fmt.Errorf("failed to load facts: %w", err)
		}
		if len(facts) == 0 {
			r.printf("Nothing remembered yet.\n")
			return false, nil
		}
		r.printf("\nRemembered facts:\n")
		for i, f := range facts {
			r.printf("%d. %s\n", i+1, f)
		}
		r.printf("\n")
		return false, nil

	case "/forget":
		if rest == "" {
			return false, errors.New("usage: /forget <fact>")
		}
		if err := r.facts.Forget(ctx, r.userID, rest); err != nil {
			return false, err
		}
		r.printf("Forgot: %s\n", rest)
		return false, nil

	case "/switch":
		if r.models == nil {
			return false, errors.New("backend switching is not available")
		}
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /switch <backend> (%s)", strings.Join(backend.Backends(), "|"))
		}
		if err := r.models.SetBackend(parts[1]); err != nil {
			return false, err
		}
		r.printf("Switched to %s backend\n", parts[1])
		return false, nil

	case "/list-ollama-models":
		if r.models == nil {
			return false, errors.New("backend switching is not available")
		}
		models, err := r.models.ListOllamaModels(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to list Ollama models: %w", err)
		}
		r.printf("\nAvailable Ollama models:\n")
		for i, model := range models {
			sizeGB := float64(model.Size) / (1024 * 1024 * 1024)
			current := ""
			if model.Name == r.models.OllamaModel() {
				current = " (current)"
			}
			r.printf("%d. %s - %.2f GB%s\n", i+1, model.Name, sizeGB, current)
		}
		r.printf("\n")
		return false, nil

	case "/set-ollama-model":
		if r.models == nil {
			return false, errors.New("backend switching is not available")
		}
		if len(parts) < 2 {
			return false, errors.New("usage: /set-ollama-model <model:version>")
		}
		r.models.SetOllamaModel(parts[1])
		r.printf("Ollama model set to: %s\n", parts[1])
		return false, nil

	case "/mcp-list":
		if r.mcp == nil || r.mcp.Count() == 0 {
			r.printf("No MCP servers connected.\n")
			return false, nil
		}
		tools := r.mcp.Tools()
		if len(tools) == 0 {
			r.printf("No MCP tools available.\n")
			return false, nil
		}
		r.printf("\nAvailable MCP Tools:\n")
		for i, tool := range tools {
			r.printf("%d. %s (%s)\n", i+1, tool.Name, tool.ServerName)
			r.printf("   %s\n", tool.Description)
		}
		r.printf("\n")
		return false, nil

	case "/mcp-reload":
		if r.mcp == nil || r.mcp.Count() == 0 {
			r.printf("No MCP servers connected.\n")
			return false, nil
		}
		r.mcp.Refresh(ctx)
		r.printf("Reloaded MCP tools. Total: %d tools from %d servers\n", len(r.mcp.Tools()), r.mcp.Count())
		return false, nil

	case "/help":
		r.printf("Available commands:\n")
		r.printf("  /quit, /exit              - Exit the chatbot\n")
		r.printf("  /new-session              - Start a new chat session\n")
		r.printf("  /sessions                 - List your sessions\n")
		r.printf("  /resume <id>              - Continue an earlier session\n")
		r.printf("  /history                  - Show the current session\n")
		r.printf("  /facts                    - Show remembered facts\n")
		r.printf("  /forget <fact>            - Remove a remembered fact\n")
		if r.models != nil {
			r.printf("  /switch <backend>         - Switch LLM backend (%s)\n", strings.Join(backend.Backends(), "|"))
			r.printf("  /list-ollama-models       - List available Ollama models\n")
			r.printf("  /set-ollama-model <model> - Set Ollama model (e.g., llama3:latest)\n")
		}
		if r.mcp != nil {
			r.printf("  /mcp-list                 - List all available MCP tools\n")
			r.printf("  /mcp-reload               - Reload tools from MCP servers\n")
		}
		r.printf("  /help                     - Show this help message\n")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s", parts[0])
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
