package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/surveyease/surveyease/pkg/config"
)

// Embedder turns texts into embedding vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

type embeddingRequest struct {
	Model string   `json:"model,omitempty"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *apiError `json:"error,omitempty"`
}

// EmbeddingClient calls an OpenAI-compatible embeddings endpoint.
type EmbeddingClient struct {
	provider   string
	model      string
	apiKey     string
	endpoint   string
	apiVersion string
	httpClient *http.Client
}

// NewEmbeddingClient builds the embedding client for the configured
// EMBEDDING provider.
func NewEmbeddingClient(s *config.Settings) (*EmbeddingClient, error) {
	c := &EmbeddingClient{
		provider:   s.Embedding.Provider,
		model:      s.Embedding.Model,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	switch s.Embedding.Provider {
	case "azure":
		c.apiKey = s.AzureOpenAIAPIKey
		c.endpoint = strings.TrimRight(s.AzureOpenAIEndpoint, "/")
		c.apiVersion = s.AzureOpenAIAPIVersion
	case "dashscope":
		c.apiKey = s.DashScopeAPIKey
		c.endpoint = dashScopeBaseURL
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", s.Embedding.Provider)
	}
	return c, nil
}

// WithBaseURL overrides the provider endpoint, used by tests.
func (c *EmbeddingClient) WithBaseURL(base string) *EmbeddingClient {
	c.endpoint = strings.TrimRight(base, "/")
	return c
}

// Embed returns one vector per input text, in input order.
func (c *EmbeddingClient) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := embeddingRequest{Input: texts}
	if c.provider != "azure" {
		req.Model = c.model
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode embedding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.embeddingURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build embedding request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.provider == "azure" {
		httpReq.Header.Set("api-key", c.apiKey)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding response: %w", err)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("embedding provider error (status %d): %s", resp.StatusCode, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding provider returned status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding provider returned %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	vectors := make([][]float64, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding provider returned out-of-range index %d", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func (c *EmbeddingClient) embeddingURL() string {
	if c.provider == "azure" {
		return fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
			c.endpoint, url.PathEscape(c.model), url.QueryEscape(c.apiVersion))
	}
	return c.endpoint + "/embeddings"
}
