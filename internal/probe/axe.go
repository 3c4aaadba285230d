package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"a11yscout-mcp-server/internal/config"
	"a11yscout-mcp-server/internal/facts"

	"go.uber.org/zap"
)

// AxeSummary counts the scanner's result buckets.
type AxeSummary struct {
	Violations int `json:"violations"`
	Passes     int `json:"passes"`
	Incomplete int `json:"incomplete"`
}

// AxeResult is the axe probe output. Violations are passed through as reported by axe-core.
type AxeResult struct {
	URL        string            `json:"url"`
	Summary    AxeSummary        `json:"summary"`
	Violations []json.RawMessage `json:"violations"`
}

type axeRun struct {
	Violations []json.RawMessage `json:"violations"`
	Passes     []json.RawMessage `json:"passes"`
	Incomplete []json.RawMessage `json:"incomplete"`
}

// violationHeader is the subset of an axe violation used for findings.
type violationHeader struct {
	ID     string            `json:"id"`
	Impact string            `json:"impact"`
	Nodes  []json.RawMessage `json:"nodes"`
}

const axeRunJS = `async () => {
	if (typeof window.axe === 'undefined') {
		throw new Error('axe-core did not load');
	}
	const r = await window.axe.run(document);
	return { violations: r.violations, passes: r.passes, incomplete: r.incomplete };
}`

// AxeProbe injects axe-core into the page and runs a full scan.
type AxeProbe struct {
	opener Opener
	cfg    config.AxeConfig
	sink   FactSink
	logger *zap.Logger
}

func NewAxeProbe(opener Opener, cfg config.AxeConfig, sink FactSink, logger *zap.Logger) *AxeProbe {
	return &AxeProbe{opener: opener, cfg: cfg, sink: sink, logger: logger}
}

func (p *AxeProbe) Action() Action { return Axe }

func (p *AxeProbe) Run(ctx context.Context, target string) (any, error) {
	script := ""
	if p.cfg.ScriptPath != "" {
		raw, err := os.ReadFile(p.cfg.ScriptPath)
		if err != nil {
			return nil, fmt.Errorf("read axe script: %w", err)
		}
		script = string(raw)
	}
	if script == "" && p.cfg.ScriptURL == "" {
		return nil, fmt.Errorf("no axe script configured")
	}

	return withSession(ctx, p.opener, target, func(sess Session) (any, error) {
		if err := sess.InjectScript(ctx, p.cfg.ScriptURL, script); err != nil {
			return nil, fmt.Errorf("inject axe-core: %w", err)
		}

		var run axeRun
		if err := sess.Evaluate(ctx, axeRunJS, &run); err != nil {
			return nil, fmt.Errorf("run axe: %w", err)
		}

		result := AxeResult{
			URL: target,
			Summary: AxeSummary{
				Violations: len(run.Violations),
				Passes:     len(run.Passes),
				Incomplete: len(run.Incomplete),
			},
			Violations: run.Violations,
		}
		if result.Violations == nil {
			result.Violations = []json.RawMessage{}
		}

		p.logger.Debug("axe scan complete",
			zap.String("url", target),
			zap.Int("violations", result.Summary.Violations),
			zap.Int("passes", result.Summary.Passes),
		)
		emit(ctx, p.sink, p.logger, result.URL, axePredicates, axeFacts(result))
		return result, nil
	})
}

func axeFacts(r AxeResult) []facts.Fact {
	now := time.Now()
	out := make([]facts.Fact, 0, len(r.Violations))
	for _, raw := range r.Violations {
		var v violationHeader
		if err := json.Unmarshal(raw, &v); err != nil || v.ID == "" {
			continue
		}
		out = append(out, facts.Fact{
			Predicate: "a11y_violation",
			Args:      []any{r.URL, v.ID, v.Impact, len(v.Nodes)},
			Timestamp: now,
		})
	}
	return out
}
