package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"RecallChat/internal/mcp"
)

// Sentinel errors for the command registry.
var (
	ErrCommandExists = errors.New("command already registered")
	ErrEmptyName     = errors.New("command name is empty")
)

// CommandFunc runs a command with the text that followed its name.
type CommandFunc func(ctx context.Context, args string) (string, error)

// Command is a named handler for COMMAND and EXECUTE directives.
type Command struct {
	Name        string
	Description string
	Run         CommandFunc
}

// CommandRegistry holds the commands the assistant may trigger. Names are
// matched case-insensitively.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[string]Command
}

// NewCommandRegistry creates an empty registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{commands: make(map[string]Command)}
}

// Register adds a command. Returns ErrCommandExists if the name is taken.
func (r *CommandRegistry) Register(cmd Command) error {
	name := strings.ToLower(strings.TrimSpace(cmd.Name))
	if name == "" {
		return ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.commands[name]; exists {
		return fmt.Errorf("%w: %s", ErrCommandExists, name)
	}
	cmd.Name = name
	r.commands[name] = cmd
	return nil
}

// Lookup finds a command by name.
func (r *CommandRegistry) Lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[strings.ToLower(name)]
	return cmd, ok
}

// List returns every command sorted by name.
func (r *CommandRegistry) List() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RegisterBuiltins adds the commands that need no external server.
func RegisterBuiltins(r *CommandRegistry, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	builtins := []Command{
		{
			Name:        "time",
			Description: "Current time",
			Run: func(context.Context, string) (string, error) {
				return now().Format("15:04 MST"), nil
			},
		},
		{
			Name:        "date",
			Description: "Today's date",
			Run: func(context.Context, string) (string, error) {
				return now().Format("Monday, January 2, 2006"), nil
			},
		},
	}
	for _, c := range builtins {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RegisterMCP exposes every tool indexed by reg as a command of the same
// name. Names already registered are kept and the tool is skipped.
func RegisterMCP(r *CommandRegistry, reg *mcp.ClientRegistry) int {
	added := 0
	for _, tool := range reg.Tools() {
		tool := tool
		err := r.Register(Command{
			Name:        tool.Name,
			Description: tool.Description,
			Run: func(ctx context.Context, args string) (string, error) {
				res, err := reg.Call(ctx, tool.Name, toolArguments(tool, args))
				if err != nil {
					return "", err
				}
				return res.Text(), nil
			},
		})
		if err == nil {
			added++
		}
	}
	return added
}

// toolArguments maps directive text onto a tool's input. A JSON object is
// passed through; otherwise the text fills the schema's only required
// property, falling back to "input".
func toolArguments(tool mcp.Tool, args string) map[string]interface{} {
	args = strings.TrimSpace(args)
	if strings.HasPrefix(args, "{") {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(args), &obj); err == nil {
			return obj
		}
	}

	key := "input"
	if req, ok := tool.InputSchema["required"].([]interface{}); ok && len(req) == 1 {
		if name, ok := req[0].(string); ok {
			key = name
		}
	}
	if args == "" {
		return map[string]interface{}{}
	}
	return map[string]interface{}{key: args}
}
