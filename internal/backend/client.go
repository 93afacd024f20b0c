// Package backend talks to the hosted and local language-model providers.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	BackendOllama    = "ollama"
	BackendAnthropic = "anthropic"
	BackendGrok      = "grok"
	BackendOpenAI    = "openai"
)

// Backends lists the supported provider names.
func Backends() []string {
	return []string{BackendOllama, BackendAnthropic, BackendGrok, BackendOpenAI}
}

// Generator produces one model response for a prompt with a context block.
type Generator interface {
	Generate(ctx context.Context, prompt, context string) (string, error)
}

// Provider holds endpoint settings for one backend.
type Provider struct {
	URL       string `mapstructure:"url"`
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	APIKeyEnv string `mapstructure:"api_key_env"`
}

func (p Provider) apiKey() (string, error) {
	if p.APIKey != "" {
		return p.APIKey, nil
	}
	if key := os.Getenv(p.APIKeyEnv); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("%s not set", p.APIKeyEnv)
}

// Config selects and configures the provider.
type Config struct {
	Backend   string        `mapstructure:"backend"`
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Ollama    Provider      `mapstructure:"ollama"`
	Anthropic Provider      `mapstructure:"anthropic"`
	Grok      Provider      `mapstructure:"grok"`
	OpenAI    Provider      `mapstructure:"openai"`
}

// DefaultConfig returns the stock provider endpoints.
func DefaultConfig() Config {
	return Config{
		Backend:   BackendOllama,
		Timeout:   60 * time.Second,
		MaxTokens: 1024,
		Ollama: Provider{
			URL:   "http://localhost:11434",
			Model: "llama3:latest",
		},
		Anthropic: Provider{
			URL:       "https://api.anthropic.com/v1/messages",
			Model:     "claude-sonnet-4-20250514",
			APIKeyEnv: "ANTHROPIC_API_KEY",
		},
		Grok: Provider{
			URL:       "https://api.grok.x.ai/v1/chat/completions",
			Model:     "grok-1",
			APIKeyEnv: "GROK_API_KEY",
		},
		OpenAI: Provider{
			URL:       "https://api.openai.com/v1/chat/completions",
			Model:     "gpt-3.5-turbo",
			APIKeyEnv: "OPENAI_API_KEY",
		},
	}
}

// ValidBackend reports whether name is a supported provider.
func ValidBackend(name string) bool {
	switch name {
	case BackendOllama, BackendAnthropic, BackendGrok, BackendOpenAI:
		return true
	}
	return false
}

// Client calls the configured provider. The active backend and the Ollama
// model can be switched at runtime.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
	duration   metric.Float64Histogram

	mu          sync.RWMutex
	backend     string
	ollamaModel string
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

func WithMeter(m metric.Meter) Option {
	return func(c *Client) { c.meter = m }
}

// New creates a Client for cfg.
func New(cfg Config, opts ...Option) (*Client, error) {
	if !ValidBackend(cfg.Backend) {
		return nil, fmt.Errorf("unknown backend: %s", cfg.Backend)
	}
	c := &Client{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: 2 * cfg.Timeout},
		logger:      slog.Default(),
		tracer:      otel.Tracer("recallchat/backend"),
		meter:       otel.Meter("recallchat/backend"),
		backend:     cfg.Backend,
		ollamaModel: cfg.Ollama.Model,
	}
	for _, opt := range opts {
		opt(c)
	}

	h, err := c.meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}
	c.duration = h
	return c, nil
}

// Backend returns the active provider name.
func (c *Client) Backend() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backend
}

// SetBackend switches the active provider.
func (c *Client) SetBackend(name string) error {
	if !ValidBackend(name) {
		return fmt.Errorf("unknown backend: %s", name)
	}
	c.mu.Lock()
	c.backend = name
	c.mu.Unlock()
	c.logger.Info("backend switched", "backend", name)
	return nil
}

// OllamaModel returns the model used for Ollama calls.
func (c *Client) OllamaModel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ollamaModel
}

// SetOllamaModel sets the model used for Ollama calls ("model:version").
func (c *Client) SetOllamaModel(model string) {
	c.mu.Lock()
	c.ollamaModel = model
	c.mu.Unlock()
}

// Generate sends prompt with context as the system message to the active
// provider. The call is bounded by the configured timeout.
func (c *Client) Generate(ctx context.Context, prompt, sysContext string) (string, error) {
	name := c.Backend()

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	ctx, span := c.tracer.Start(ctx, "llm.generate."+name,
		trace.WithAttributes(attribute.String("llm.backend", name)))
	defer span.End()

	start := time.Now()

	var (
		out string
		err error
	)
	switch name {
	case BackendOllama:
		out, err = c.callOllama(ctx, c.cfg.Ollama, prompt, sysContext)
	case BackendAnthropic:
		out, err = c.callAnthropic(ctx, c.cfg.Anthropic, prompt, sysContext)
	case BackendGrok:
		out, err = c.callOpenAICompatible(ctx, BackendGrok, c.cfg.Grok, prompt, sysContext)
	case BackendOpenAI:
		out, err = c.callOpenAICompatible(ctx, BackendOpenAI, c.cfg.OpenAI, prompt, sysContext)
	default:
		err = fmt.Errorf("unknown backend: %s", name)
	}

	c.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("llm.backend", name)))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("llm call failed", "backend", name, "error", err)
		return "", err
	}
	return out, nil
}

// post marshals body, sends it as JSON and decodes a 200 response into out.
func (c *Client) post(ctx context.Context, url string, body, out any, headers func(http.Header)) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	if headers != nil {
		headers(req.Header)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error: %s - %s", resp.Status, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// recordUsage records OpenTelemetry counters from provider usage data
func (c *Client) recordUsage(ctx context.Context, name string, usage map[string]interface{}) {
	for key, value := range usage {
		n, ok := value.(float64)
		if !ok || n == 0 {
			continue
		}
		counter, err := c.meter.Int64Counter(
			fmt.Sprintf("llm.usage.%s", key),
			metric.WithDescription(fmt.Sprintf("LLM usage metric: %s", key)),
		)
		if err != nil {
			c.logger.Warn("failed to create counter", "key", key, "error", err)
			continue
		}
		counter.Add(ctx, int64(n), metric.WithAttributes(attribute.String("llm.backend", name)))
	}
}
