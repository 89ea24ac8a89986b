// Package llm is a minimal client for OpenAI-compatible
// chat-completions endpoints (Groq, NVIDIA NIM). Every outbound model
// call in the pipeline goes through it, so key rotation and request
// timeouts live in exactly one place.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hivetrap/backend/internal/keyring"
)

// DefaultTimeout bounds a single completion round-trip. Voter, judge
// and extractor calls are all suspension points in the background
// pipeline; a stuck provider must not hold a worker slot longer than
// this.
const DefaultTimeout = 35 * time.Second

// Client calls one provider endpoint. Safe for concurrent use.
type Client struct {
	provider    string
	baseURL     string
	fallbackKey string
	keys        *keyring.Rotator
	http        *http.Client
}

// Request is one chat completion. Prompt becomes the user message;
// System is optional. JSONMode requests response_format json_object,
// which only some models honour.
type Request struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	TopP        float64
	JSONMode    bool
	// FallbackKey overrides the client-level fallback for callers with
	// a dedicated key (per-voter isolation). The rotation pool still
	// wins when one is configured.
	FallbackKey string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewClient builds a provider client. keys may rotate an empty pool;
// fallbackKey then authenticates every call.
func NewClient(provider, baseURL, fallbackKey string, keys *keyring.Rotator) *Client {
	return &Client{
		provider:    provider,
		baseURL:     baseURL,
		fallbackKey: fallbackKey,
		keys:        keys,
		http:        &http.Client{Timeout: DefaultTimeout},
	}
}

// Complete runs one chat completion and returns the assistant content.
// No retries here: callers sit behind fault-isolation layers and a
// retry would compound latency against the synchronous reply budget.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	payload := map[string]interface{}{
		"model":       req.Model,
		"messages":    messages,
		"temperature": req.Temperature,
		"max_tokens":  req.MaxTokens,
	}
	if req.TopP > 0 {
		payload["top_p"] = req.TopP
	}
	if req.JSONMode {
		payload["response_format"] = map[string]string{"type": "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	fallback := c.fallbackKey
	if req.FallbackKey != "" {
		fallback = req.FallbackKey
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.keys.Next(c.provider, fallback))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%s completion: %w", c.provider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%s completion read: %w", c.provider, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s completion HTTP %d: %s", c.provider, resp.StatusCode, truncate(string(raw), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%s completion envelope: %w", c.provider, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("%s completion error: %s", c.provider, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%s completion: empty choices", c.provider)
	}
	return parsed.Choices[0].Message.Content, nil
}

// Provider names the endpoint this client talks to.
func (c *Client) Provider() string { return c.provider }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
