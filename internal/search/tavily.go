// Package search is the web-search collaborator, backed by the Tavily API.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"RecallChat/internal/cache"
)

// ErrUnavailable is wrapped by every failed search.
var ErrUnavailable = errors.New("web search unavailable")

// Config configures the Tavily client.
type Config struct {
	URL        string        `mapstructure:"url"`
	APIKey     string        `mapstructure:"api_key"`
	APIKeyEnv  string        `mapstructure:"api_key_env"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxResults int           `mapstructure:"max_results"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

// DefaultConfig returns the public Tavily endpoint with a short timeout.
func DefaultConfig() Config {
	return Config{
		URL:        "https://api.tavily.com/search",
		APIKeyEnv:  "TAVILY_API_KEY",
		Timeout:    10 * time.Second,
		MaxResults: 5,
		CacheTTL:   10 * time.Minute,
	}
}

// Result is a single search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Response holds the hits for one query and their prompt-ready rendering.
type Response struct {
	Query         string   `json:"query"`
	Answer        string   `json:"answer,omitempty"`
	Results       []Result `json:"results"`
	FormattedText string   `json:"-"`
}

type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	SearchDepth   string `json:"search_depth"`
	IncludeAnswer bool   `json:"include_answer"`
}

// TavilyClient queries Tavily and caches responses per query.
type TavilyClient struct {
	cfg        Config
	httpClient *http.Client
	cache      *cache.TTLCache[*Response]
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Option configures a TavilyClient.
type Option func(*TavilyClient)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *TavilyClient) { c.httpClient = hc }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *TavilyClient) { c.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *TavilyClient) { c.tracer = t }
}

// NewTavilyClient creates a client for cfg.
func NewTavilyClient(cfg Config, opts ...Option) *TavilyClient {
	c := &TavilyClient{
		cfg:        cfg,
		httpClient: &http.Client{},
		cache:      cache.NewTTLCache[*Response](cfg.CacheTTL),
		logger:     slog.Default(),
		tracer:     otel.Tracer("recallchat/search"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *TavilyClient) apiKey() string {
	if c.cfg.APIKey != "" {
		return c.cfg.APIKey
	}
	return os.Getenv(c.cfg.APIKeyEnv)
}

// Search runs query. Every failure, including a timeout, wraps ErrUnavailable.
func (c *TavilyClient) Search(ctx context.Context, query string) (*Response, error) {
	query = strings.TrimSpace(query)
	key := cache.GenerateKey("tavily", strings.ToLower(query))
	if cached, ok := c.cache.Get(key); ok {
		c.logger.Info("search cache hit", "key", key[:16])
		return cached, nil
	}

	ctx, span := c.tracer.Start(ctx, "search.tavily", trace.WithAttributes(attribute.String("search.query", query)))
	defer span.End()

	resp, err := c.search(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	span.SetAttributes(attribute.Int("search.results", len(resp.Results)))
	c.cache.Set(key, resp)
	return resp, nil
}

func (c *TavilyClient) search(ctx context.Context, query string) (*Response, error) {
	apiKey := c.apiKey()
	if apiKey == "" {
		return nil, fmt.Errorf("%s not set", c.cfg.APIKeyEnv)
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	jsonData, err := json.Marshal(tavilyRequest{
		APIKey:        apiKey,
		Query:         query,
		MaxResults:    c.cfg.MaxResults,
		SearchDepth:   "basic",
		IncludeAnswer: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error: %s - %s", httpResp.Status, string(body))
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if resp.Query == "" {
		resp.Query = query
	}
	resp.FormattedText = Format(&resp)
	return &resp, nil
}

// Format renders results as a numbered list for the model.
func Format(r *Response) string {
	var b strings.Builder
	if r.Answer != "" {
		fmt.Fprintf(&b, "Summary: %s\n\n", strings.TrimSpace(r.Answer))
	}
	if len(r.Results) == 0 {
		b.WriteString("No results found.")
		return b.String()
	}
	for i, res := range r.Results {
		fmt.Fprintf(&b, "%d. %s (%s)\n   %s\n", i+1, res.Title, res.URL, strings.TrimSpace(res.Content))
	}
	return strings.TrimRight(b.String(), "\n")
}
