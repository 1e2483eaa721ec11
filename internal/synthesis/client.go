// Package synthesis generates grounded answers from retrieved context using
// an OpenAI-compatible chat model, degrading to extractive answers when the
// model is unreachable.
package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrSynthesisTimeout signals that the model call exhausted its time budget
// including retries. Callers degrade to an extractive answer instead of
// surfacing this to the user.
var ErrSynthesisTimeout = errors.New("synthesis timed out")

const defaultChatBaseURL = "https://api.openai.com/v1"

// ChatClient is a minimal chat-completion interface so the synthesizer can be
// tested against a fake model.
type ChatClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
	Name() string
}

// OpenAIChatClient calls an OpenAI-compatible /chat/completions endpoint.
type OpenAIChatClient struct {
	apiKey    string
	model     string
	baseURL   string
	maxTokens int
	client    *http.Client
}

// OpenAIChatConfig configures an OpenAIChatClient.
type OpenAIChatConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
	Timeout   time.Duration
}

// NewOpenAIChatClient creates a chat client. Timeout bounds a single request;
// retry budgets are layered on top by the synthesizer.
func NewOpenAIChatClient(cfg OpenAIChatConfig) *OpenAIChatClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultChatBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 500
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIChatClient{
		apiKey:    cfg.APIKey,
		model:     model,
		baseURL:   baseURL,
		maxTokens: maxTokens,
		client:    &http.Client{Timeout: timeout},
	}
}

// Name returns the backend identifier.
func (c *OpenAIChatClient) Name() string { return "openai" }

// Complete sends one chat completion and returns the first choice's content.
func (c *OpenAIChatClient) Complete(ctx context.Context, system, user string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("synthesis API key not set")
	}
	body := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"temperature": 0.7,
		"max_tokens":  c.maxTokens,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat API status %d: %s", resp.StatusCode, respBody)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("chat API returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}
