package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"a11yscout-mcp-server/internal/llm"
	"a11yscout-mcp-server/internal/probe"
)

const synthesisPrompt = `You are an expert web accessibility auditor.

User request:
%q

The following data was produced by automated tools.
Analyze ONLY this data. Do NOT assume anything else.

=== TOOL OUTPUTS (JSON) ===
%s

Tasks:
1. Summarize overall accessibility status
2. Explain key issues in simple language, most severe first
3. Mention impacted user groups
4. Suggest practical fixes
5. Do NOT invent issues

Return a clear, structured explanation.
`

// Synthesizer turns probe results into a natural-language explanation.
type Synthesizer struct {
	llm llm.Client
}

func NewSynthesizer(client llm.Client) *Synthesizer {
	return &Synthesizer{llm: client}
}

// Synthesize returns the model reply unmodified. An empty reply is not an error.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, results map[probe.Action]any) (string, error) {
	payload, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode results: %w", err)
	}
	text, err := s.llm.Complete(ctx, fmt.Sprintf(synthesisPrompt, query, payload))
	if err != nil {
		return "", fmt.Errorf("synthesize: %w", err)
	}
	return text, nil
}
