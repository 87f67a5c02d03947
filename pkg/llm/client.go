// Package llm provides chat-completion and embedding clients for the
// OpenAI-compatible providers the survey engine talks to.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/surveyease/surveyease/pkg/config"
	"github.com/surveyease/surveyease/pkg/models"
)

// Oracle produces one assistant utterance for a conversation.
type Oracle interface {
	Invoke(ctx context.Context, messages []models.Message) (string, error)
}

// DashScope's OpenAI-compatible endpoint.
const dashScopeBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

const defaultTimeout = 60 * time.Second

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// ChatClient calls an OpenAI-compatible chat-completion endpoint. Azure uses
// deployment-scoped URLs with an api-key header; everything else uses the
// standard bearer-token form.
type ChatClient struct {
	provider    string
	model       string
	apiKey      string
	endpoint    string
	apiVersion  string
	temperature float64
	httpClient  *http.Client
}

// NewChatClient builds the chat client for the configured FAST_LLM provider.
func NewChatClient(s *config.Settings) (*ChatClient, error) {
	c := &ChatClient{
		provider:    s.FastLLM.Provider,
		model:       s.FastLLM.Model,
		temperature: 0.7,
		httpClient:  &http.Client{Timeout: defaultTimeout},
	}
	switch s.FastLLM.Provider {
	case "azure":
		c.apiKey = s.AzureOpenAIAPIKey
		c.endpoint = strings.TrimRight(s.AzureOpenAIEndpoint, "/")
		c.apiVersion = s.AzureOpenAIAPIVersion
	case "dashscope":
		c.apiKey = s.DashScopeAPIKey
		c.endpoint = dashScopeBaseURL
	default:
		return nil, fmt.Errorf("unsupported chat provider %q", s.FastLLM.Provider)
	}
	return c, nil
}

// WithBaseURL overrides the provider endpoint, used by tests.
func (c *ChatClient) WithBaseURL(base string) *ChatClient {
	c.endpoint = strings.TrimRight(base, "/")
	return c
}

// Invoke sends the conversation and returns the assistant's reply text.
func (c *ChatClient) Invoke(ctx context.Context, messages []models.Message) (string, error) {
	req := chatRequest{
		Messages:    toWireMessages(messages),
		Temperature: c.temperature,
	}
	if c.provider != "azure" {
		// Azure routes by deployment name in the URL instead.
		req.Model = c.model
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatURL(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.provider == "azure" {
		httpReq.Header.Set("api-key", c.apiKey)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read chat response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode chat response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("chat provider error (status %d): %s", resp.StatusCode, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat provider returned status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat provider returned no choices")
	}

	reply := parsed.Choices[0].Message.Content
	slog.Debug("Chat completion finished",
		"provider", c.provider,
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"reply_chars", len(reply))
	return reply, nil
}

func (c *ChatClient) chatURL() string {
	if c.provider == "azure" {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			c.endpoint, url.PathEscape(c.model), url.QueryEscape(c.apiVersion))
	}
	return c.endpoint + "/chat/completions"
}

func toWireMessages(messages []models.Message) []chatMessage {
	wire := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		var role string
		switch m.Role {
		case models.RoleSystem:
			role = "system"
		case models.RoleAssistant:
			role = "assistant"
		default:
			role = "user"
		}
		wire = append(wire, chatMessage{Role: role, Content: m.Content})
	}
	return wire
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
