package backend

import (
	"context"
	"fmt"
	"net/http"
)

// OpenAIRequest represents the request body for OpenAI-compatible APIs
type OpenAIRequest struct {
	Model    string              `json:"model"`
	Messages []map[string]string `json:"messages"`
}

// OpenAIResponse represents the response from OpenAI-compatible APIs
type OpenAIResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage map[string]interface{} `json:"usage"`
}

// callOpenAICompatible serves both OpenAI and Grok, which share a wire format.
func (c *Client) callOpenAICompatible(ctx context.Context, name string, p Provider, prompt, sysContext string) (string, error) {
	apiKey, err := p.apiKey()
	if err != nil {
		return "", err
	}

	reqBody := OpenAIRequest{
		Model:    p.Model,
		Messages: chatMessages(prompt, sysContext),
	}

	var apiResp OpenAIResponse
	err = c.post(ctx, p.URL, reqBody, &apiResp, func(h http.Header) {
		h.Set("Authorization", "Bearer "+apiKey)
	})
	if err != nil {
		return "", err
	}

	c.recordUsage(ctx, name, apiResp.Usage)

	if len(apiResp.Choices) > 0 {
		return apiResp.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("empty response from %s", name)
}

// chatMessages builds the system + user message pair used by the
// chat-completions style APIs.
func chatMessages(prompt, sysContext string) []map[string]string {
	msgs := make([]map[string]string, 0, 2)
	if sysContext != "" {
		msgs = append(msgs, map[string]string{"role": "system", "content": sysContext})
	}
	return append(msgs, map[string]string{"role": "user", "content": prompt})
}
