package main

import (
	"strings"

	"github.com/spf13/cobra"

	"RecallChat/internal/backend"
	"RecallChat/internal/config"
)

func newRootCmd() *cobra.Command {
	v := config.New()

	cmd := &cobra.Command{
		Use:          "recallchat",
		Short:        "Chat assistant with web search and long-term memory",
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "Config file path (optional).")
	flags.String("db", "", "SQLite database path.")
	flags.String("backend", "", "LLM backend ("+strings.Join(backend.Backends(), "|")+").")
	flags.String("ollama-model", "", "Ollama model specification (format: model:version).")
	flags.String("log-level", "", "Logging level: debug|info|warn|error.")
	flags.String("log-dir", "", "Directory for rotated log files.")
	flags.Bool("log-stdout", false, "Mirror logs to stdout.")
	flags.Bool("telemetry", false, "Write traces and metrics to rotated files.")
	flags.Bool("mcp-enabled", false, "Enable MCP command servers.")
	flags.StringSlice("mcp-local", nil, "Paths to stdio MCP servers.")
	flags.StringSlice("mcp-remote", nil, "URLs of remote MCP servers (http:// or ws://).")

	_ = v.BindPFlag("config", flags.Lookup("config"))
	_ = v.BindPFlag("database.path", flags.Lookup("db"))
	_ = v.BindPFlag("llm.backend", flags.Lookup("backend"))
	_ = v.BindPFlag("llm.ollama.model", flags.Lookup("ollama-model"))
	_ = v.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("logging.dir", flags.Lookup("log-dir"))
	_ = v.BindPFlag("logging.stdout", flags.Lookup("log-stdout"))
	_ = v.BindPFlag("telemetry.enabled", flags.Lookup("telemetry"))
	_ = v.BindPFlag("mcp.enabled", flags.Lookup("mcp-enabled"))
	_ = v.BindPFlag("mcp.local", flags.Lookup("mcp-local"))
	_ = v.BindPFlag("mcp.remote", flags.Lookup("mcp-remote"))

	cmd.AddCommand(newServeCmd(v))
	cmd.AddCommand(newChatCmd(v))
	return cmd
}
