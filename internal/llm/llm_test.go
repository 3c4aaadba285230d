package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"a11yscout-mcp-server/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func groqConfig(baseURL string) config.LLMConfig {
	cfg := config.DefaultConfig().LLM
	cfg.BaseURL = baseURL
	return cfg
}

func TestGroqComplete(t *testing.T) {
	var got groqChatReq
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"actions\":[\"axe\"]}"}}]}`))
	}))
	defer srv.Close()

	c := NewGroqClient("gsk-test", groqConfig(srv.URL), srv.Client())
	out, err := c.Complete(context.Background(), "classify this")
	require.NoError(t, err)

	assert.Equal(t, `{"actions":["axe"]}`, out)
	assert.Equal(t, "Bearer gsk-test", auth)
	assert.Equal(t, "llama-3.1-8b-instant", got.Model)
	assert.Equal(t, float32(0), got.Temperature)
	assert.Equal(t, 1024, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, groqMessage{Role: "system", Content: SystemPrompt}, got.Messages[0])
	assert.Equal(t, groqMessage{Role: "user", Content: "classify this"}, got.Messages[1])
}

func TestGroqCompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	out, err := NewGroqClient("k", groqConfig(srv.URL), nil).Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestGroqCompleteHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewGroqClient("k", groqConfig(srv.URL), nil).Complete(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "rate limited")
}

func TestMissingCredential(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	_, err := NewGroqClient("", groqConfig(srv.URL), nil).Complete(context.Background(), "p")
	assert.ErrorIs(t, err, ErrCredential)
	assert.Zero(t, calls)

	g, err := NewGeminiClient(context.Background(), "", config.LLMConfig{Model: "gemini-2.5-flash"})
	require.NoError(t, err)
	_, err = g.Complete(context.Background(), "p")
	assert.ErrorIs(t, err, ErrCredential)
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	t.Setenv("A11Y_LLM_TEST_KEY", "")

	c, err := New(ctx, config.LLMConfig{Provider: config.ProviderGroq, APIKeyEnv: "A11Y_LLM_TEST_KEY"})
	require.NoError(t, err)
	assert.IsType(t, &GroqClient{}, c)

	c, err = New(ctx, config.LLMConfig{Provider: config.ProviderGemini})
	require.NoError(t, err)
	assert.IsType(t, &GeminiClient{}, c)

	_, err = New(ctx, config.LLMConfig{Provider: "openai"})
	assert.Error(t, err)
}
