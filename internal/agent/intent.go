package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"a11yscout-mcp-server/internal/llm"
	"a11yscout-mcp-server/internal/probe"
)

const intentPrompt = `You are an intent classification system.

User request:
%q

Determine which actions are required.

Allowed actions:
- crawl (list the links and headings of the page)
- axe (run an automated accessibility rule scan)
- keyboard (check which controls can be reached with the Tab key)

Rules:
- If the user wants several checks, return all of them
- A full or complete audit means all three actions
- Handle spelling mistakes and synonyms
- Do NOT explain anything
- Return ONLY valid JSON

Example outputs:
{ "actions": ["crawl"] }
{ "actions": ["axe", "keyboard"] }
{ "actions": ["crawl", "axe", "keyboard"] }
`

// Resolver classifies a free-text query into probe actions.
type Resolver struct {
	llm llm.Client
}

func NewResolver(client llm.Client) *Resolver {
	return &Resolver{llm: client}
}

// Resolve returns a non-empty, duplicate-free action list in the order the
// model gave it. Unknown identifiers are dropped.
func (r *Resolver) Resolve(ctx context.Context, query string) ([]probe.Action, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	reply, err := r.llm.Complete(ctx, fmt.Sprintf(intentPrompt, query))
	if err != nil {
		return nil, fmt.Errorf("classify intent: %w", err)
	}
	return ParseIntent(reply)
}

// ParseIntent extracts actions from a model reply of the form {"actions": [...]}.
// Replies that are not such an object fail with ErrMalformedIntent; objects
// yielding no known action fail with ErrIntent.
func ParseIntent(reply string) ([]probe.Action, error) {
	var payload struct {
		Actions *[]any `json:"actions"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(reply)), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedIntent, err)
	}
	if payload.Actions == nil {
		return nil, fmt.Errorf("%w: missing actions field", ErrMalformedIntent)
	}

	seen := make(map[probe.Action]bool, len(probe.Actions))
	actions := make([]probe.Action, 0, len(probe.Actions))
	for _, raw := range *payload.Actions {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		a, ok := probe.ParseAction(strings.ToLower(strings.TrimSpace(s)))
		if !ok || seen[a] {
			continue
		}
		seen[a] = true
		actions = append(actions, a)
	}
	if len(actions) == 0 {
		return nil, ErrIntent
	}
	return actions, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
