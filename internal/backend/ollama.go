package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OllamaRequest represents the request body for Ollama API
type OllamaRequest struct {
	Model    string              `json:"model"`
	Messages []map[string]string `json:"messages"`
	Stream   bool                `json:"stream"`
}

// OllamaResponse represents the response from Ollama API
type OllamaResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Message   struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool `json:"done"`
	PromptEvalCount int  `json:"prompt_eval_count"`
	EvalCount       int  `json:"eval_count"`
}

// OllamaTagsResponse represents the response from Ollama /api/tags endpoint
type OllamaTagsResponse struct {
	Models []OllamaModel `json:"models"`
}

// OllamaModel represents a single model in the Ollama tags response
type OllamaModel struct {
	Name       string `json:"name"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
}

func (c *Client) callOllama(ctx context.Context, p Provider, prompt, sysContext string) (string, error) {
	reqBody := OllamaRequest{
		Model:    c.OllamaModel(),
		Messages: chatMessages(prompt, sysContext),
		Stream:   false,
	}

	var apiResp OllamaResponse
	if err := c.post(ctx, strings.TrimRight(p.URL, "/")+"/api/chat", reqBody, &apiResp, nil); err != nil {
		return "", err
	}

	c.recordUsage(ctx, BackendOllama, map[string]interface{}{
		"prompt_tokens":     float64(apiResp.PromptEvalCount),
		"completion_tokens": float64(apiResp.EvalCount),
	})

	if strings.TrimSpace(apiResp.Message.Content) == "" {
		return "", fmt.Errorf("empty response from Ollama")
	}
	return apiResp.Message.Content, nil
}

// ListOllamaModels fetches the list of available Ollama models
func (c *Client) ListOllamaModels(ctx context.Context) ([]OllamaModel, error) {
	url := strings.TrimRight(c.cfg.Ollama.URL, "/") + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request (is Ollama running?): %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	var tagsResp OllamaTagsResponse
	if err := json.Unmarshal(body, &tagsResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return tagsResp.Models, nil
}
