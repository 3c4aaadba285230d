// Package llm provides the language-model completion clients used for
// intent classification and result synthesis.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"a11yscout-mcp-server/internal/config"
)

// SystemPrompt frames every completion.
const SystemPrompt = "You are an expert web accessibility consultant."

// ErrCredential is returned when no API key is configured for the provider.
var ErrCredential = errors.New("llm api key missing")

// Client completes a single prompt.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// New builds the client for cfg.Provider. The API key is resolved once here;
// a missing key is reported on each Complete call as ErrCredential.
func New(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	key := cfg.ResolveAPIKey()
	switch cfg.Provider {
	case config.ProviderGroq, "":
		return NewGroqClient(key, cfg, &http.Client{Timeout: cfg.RequestTimeout()}), nil
	case config.ProviderGemini:
		return NewGeminiClient(ctx, key, cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
