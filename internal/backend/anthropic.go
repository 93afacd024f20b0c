package backend

import (
	"context"
	"fmt"
	"net/http"
)

// AnthropicRequest represents the request body for Anthropic API
type AnthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []AnthropicMessage `json:"messages"`
}

// AnthropicMessage represents a message in the conversation
type AnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnthropicContent is one block of a response
type AnthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// AnthropicResponse represents the response from Anthropic API
type AnthropicResponse struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Role       string                 `json:"role"`
	Content    []AnthropicContent     `json:"content"`
	Model      string                 `json:"model"`
	StopReason string                 `json:"stop_reason"`
	Usage      map[string]interface{} `json:"usage"`
}

// callAnthropic sends the context as the system prompt and the prompt as the
// single user turn.
func (c *Client) callAnthropic(ctx context.Context, p Provider, prompt, sysContext string) (string, error) {
	apiKey, err := p.apiKey()
	if err != nil {
		return "", err
	}

	reqBody := AnthropicRequest{
		Model:     p.Model,
		MaxTokens: c.cfg.MaxTokens,
		System:    sysContext,
		Messages:  []AnthropicMessage{{Role: "user", Content: prompt}},
	}

	var apiResp AnthropicResponse
	err = c.post(ctx, p.URL, reqBody, &apiResp, func(h http.Header) {
		h.Set("x-api-key", apiKey)
		h.Set("anthropic-version", "2023-06-01")
	})
	if err != nil {
		return "", err
	}

	c.recordUsage(ctx, BackendAnthropic, apiResp.Usage)

	for _, content := range apiResp.Content {
		if content.Type == "text" {
			return content.Text, nil
		}
	}

	return "", fmt.Errorf("empty response from Anthropic")
}
