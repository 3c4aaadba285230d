package llm

import (
	"context"
	"fmt"
	"strings"

	"a11yscout-mcp-server/internal/config"

	"google.golang.org/genai"
)

// GeminiClient wraps the genai SDK.
type GeminiClient struct {
	cli         *genai.Client
	model       string
	temperature float32
	maxTokens   int32
}

// NewGeminiClient creates the SDK client only when a key is present, so a
// missing key surfaces as ErrCredential at call time like the Groq client.
func NewGeminiClient(ctx context.Context, apiKey string, cfg config.LLMConfig) (*GeminiClient, error) {
	g := &GeminiClient{
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   int32(cfg.GetMaxTokens()),
	}
	if apiKey == "" {
		return g, nil
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	g.cli = cli
	return g, nil
}

func (g *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	if g.cli == nil {
		return "", fmt.Errorf("gemini: %w", ErrCredential)
	}

	temp := g.temperature
	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: prompt}}}},
		&genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: SystemPrompt}}},
			Temperature:       &temp,
			MaxOutputTokens:   g.maxTokens,
		},
	)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String(), nil
}
