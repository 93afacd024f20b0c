// Package config holds the application configuration and loads it from
// defaults, an optional YAML file, RECALLCHAT_* environment variables and
// command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"RecallChat/internal/auth"
	"RecallChat/internal/backend"
	"RecallChat/internal/chatbot"
	"RecallChat/internal/mcp"
	"RecallChat/internal/memory"
	"RecallChat/internal/search"
	"RecallChat/internal/telemetry"
)

// EnvPrefix prefixes every environment override, e.g. RECALLCHAT_LLM_BACKEND.
const EnvPrefix = "RECALLCHAT"

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// Config holds application configuration
type Config struct {
	Server    ServerConfig         `mapstructure:"server"`
	Database  DatabaseConfig       `mapstructure:"database"`
	LLM       backend.Config       `mapstructure:"llm"`
	Search    search.Config        `mapstructure:"search"`
	Memory    memory.Config        `mapstructure:"memory"`
	Loop      chatbot.Config       `mapstructure:"loop"`
	Auth      auth.Config          `mapstructure:"auth"`
	Logging   telemetry.LogOptions `mapstructure:"logging"`
	Telemetry telemetry.Options    `mapstructure:"telemetry"`
	MCP       mcp.Config           `mapstructure:"mcp"`
}

// Default returns a fully populated configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{Path: "data/recallchat.db"},
		LLM:      backend.DefaultConfig(),
		Search:   search.DefaultConfig(),
		Memory:   memory.DefaultConfig(),
		Loop:     chatbot.DefaultConfig(),
		Auth:     auth.DefaultConfig(),
		Logging: telemetry.LogOptions{
			Dir:   "logs",
			File:  "recallchat.log",
			Level: "info",
		},
		Telemetry: telemetry.Options{
			Dir:      "logs",
			Interval: 30 * time.Second,
		},
	}
}

// SetDefaults registers every key of Default with v so environment
// variables can override keys that no file or flag mentions.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("database.path", d.Database.Path)

	v.SetDefault("llm.backend", d.LLM.Backend)
	v.SetDefault("llm.timeout", d.LLM.Timeout)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	for name, p := range map[string]backend.Provider{
		backend.BackendOllama:    d.LLM.Ollama,
		backend.BackendAnthropic: d.LLM.Anthropic,
		backend.BackendGrok:      d.LLM.Grok,
		backend.BackendOpenAI:    d.LLM.OpenAI,
	} {
		v.SetDefault("llm."+name+".url", p.URL)
		v.SetDefault("llm."+name+".model", p.Model)
		v.SetDefault("llm."+name+".api_key", p.APIKey)
		v.SetDefault("llm."+name+".api_key_env", p.APIKeyEnv)
	}

	v.SetDefault("search.url", d.Search.URL)
	v.SetDefault("search.api_key", d.Search.APIKey)
	v.SetDefault("search.api_key_env", d.Search.APIKeyEnv)
	v.SetDefault("search.timeout", d.Search.Timeout)
	v.SetDefault("search.max_results", d.Search.MaxResults)
	v.SetDefault("search.cache_ttl", d.Search.CacheTTL)

	v.SetDefault("memory.working_turns", d.Memory.WorkingTurns)
	v.SetDefault("memory.episodic_limit", d.Memory.EpisodicLimit)
	v.SetDefault("memory.summary_max_chars", d.Memory.SummaryMaxChars)
	v.SetDefault("memory.detail_max_chars", d.Memory.DetailMaxChars)

	v.SetDefault("loop.max_reprompts", d.Loop.MaxReprompts)

	v.SetDefault("auth.secret", d.Auth.Secret)
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)
	v.SetDefault("auth.issuer", d.Auth.Issuer)
	v.SetDefault("auth.bcrypt_cost", d.Auth.BcryptCost)

	v.SetDefault("logging.dir", d.Logging.Dir)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.stdout", d.Logging.Stdout)

	v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	v.SetDefault("telemetry.dir", d.Telemetry.Dir)
	v.SetDefault("telemetry.interval", d.Telemetry.Interval)

	v.SetDefault("mcp.enabled", d.MCP.Enabled)
	v.SetDefault("mcp.local", []string{})
	v.SetDefault("mcp.remote", []string{})
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file named by the "config" key, unmarshals
// everything v knows on top of Default and validates the result.
func Load(v *viper.Viper) (Config, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if !backend.ValidBackend(c.LLM.Backend) {
		errs = append(errs, fmt.Errorf("llm.backend: unknown backend %q (want %s)", c.LLM.Backend, strings.Join(backend.Backends(), "|")))
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		errs = append(errs, errors.New("database.path: must be set"))
	}
	if c.Loop.MaxReprompts < 0 {
		errs = append(errs, errors.New("loop.max_reprompts: must not be negative"))
	}
	if c.Memory.WorkingTurns <= 0 {
		errs = append(errs, errors.New("memory.working_turns: must be positive"))
	}
	if c.Memory.EpisodicLimit <= 0 {
		errs = append(errs, errors.New("memory.episodic_limit: must be positive"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout: must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
