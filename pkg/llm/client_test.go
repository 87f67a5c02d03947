package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surveyease/surveyease/pkg/config"
	"github.com/surveyease/surveyease/pkg/models"
)

func azureSettings() *config.Settings {
	return &config.Settings{
		FastLLM:               config.ModelRef{Provider: "azure", Model: "gpt-4o-mini"},
		Embedding:             config.ModelRef{Provider: "azure", Model: "text-embedding-3-small"},
		AzureOpenAIEndpoint:   "https://example.openai.azure.com",
		AzureOpenAIAPIKey:     "azure-key",
		AzureOpenAIAPIVersion: "2024-10-21",
	}
}

func dashscopeSettings() *config.Settings {
	return &config.Settings{
		FastLLM:         config.ModelRef{Provider: "dashscope", Model: "qwen-plus"},
		Embedding:       config.ModelRef{Provider: "dashscope", Model: "text-embedding-v3"},
		DashScopeAPIKey: "ds-key",
	}
}

func TestChatClient_InvokeAzure(t *testing.T) {
	var gotPath, gotAPIKey, gotVersion string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("api-key")
		gotVersion = r.URL.Query().Get("api-version")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "下一个问题"}},
			},
		})
	}))
	defer srv.Close()

	client, err := NewChatClient(azureSettings())
	require.NoError(t, err)
	client.WithBaseURL(srv.URL)

	reply, err := client.Invoke(context.Background(), []models.Message{
		models.NewSystemMessage("host"),
		models.NewHumanMessage("你好"),
	})
	require.NoError(t, err)
	assert.Equal(t, "下一个问题", reply)

	assert.Equal(t, "/openai/deployments/gpt-4o-mini/chat/completions", gotPath)
	assert.Equal(t, "azure-key", gotAPIKey)
	assert.Equal(t, "2024-10-21", gotVersion)
	// Azure routes by deployment, not request body.
	assert.Empty(t, gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, "user", gotReq.Messages[1].Role)
}

func TestChatClient_InvokeDashScope(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		require.Equal(t, "/chat/completions", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "ok"}},
			},
		})
	}))
	defer srv.Close()

	client, err := NewChatClient(dashscopeSettings())
	require.NoError(t, err)
	client.WithBaseURL(srv.URL)

	reply, err := client.Invoke(context.Background(), []models.Message{models.NewHumanMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)
	assert.Equal(t, "Bearer ds-key", gotAuth)
	assert.Equal(t, "qwen-plus", gotReq.Model)
}

func TestChatClient_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limited", "type": "rate_limit"},
		})
	}))
	defer srv.Close()

	client, err := NewChatClient(dashscopeSettings())
	require.NoError(t, err)
	client.WithBaseURL(srv.URL)

	_, err = client.Invoke(context.Background(), []models.Message{models.NewHumanMessage("hi")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestChatClient_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	client, err := NewChatClient(dashscopeSettings())
	require.NoError(t, err)
	client.WithBaseURL(srv.URL)

	_, err = client.Invoke(context.Background(), []models.Message{models.NewHumanMessage("hi")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestNewChatClient_UnknownProvider(t *testing.T) {
	s := dashscopeSettings()
	s.FastLLM.Provider = "bedrock"
	_, err := NewChatClient(s)
	assert.Error(t, err)
}

func TestEmbeddingClient_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Input, 2)
		// Deliberately out of order to exercise index-based placement.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float64{0.3, 0.4}},
				{"index": 0, "embedding": []float64{0.1, 0.2}},
			},
		})
	}))
	defer srv.Close()

	client, err := NewEmbeddingClient(dashscopeSettings())
	require.NoError(t, err)
	client.WithBaseURL(srv.URL)

	vectors, err := client.Embed(context.Background(), []string{"tea", "coffee"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float64{0.1, 0.2}, vectors[0])
	assert.Equal(t, []float64{0.3, 0.4}, vectors[1])
}

func TestEmbeddingClient_EmptyInput(t *testing.T) {
	client, err := NewEmbeddingClient(dashscopeSettings())
	require.NoError(t, err)

	vectors, err := client.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestEmbeddingClient_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": []float64{0.1}}},
		})
	}))
	defer srv.Close()

	client, err := NewEmbeddingClient(dashscopeSettings())
	require.NoError(t, err)
	client.WithBaseURL(srv.URL)

	_, err = client.Embed(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}
