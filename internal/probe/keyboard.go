package probe

import (
	"context"
	"fmt"
	"time"

	"a11yscout-mcp-server/internal/facts"
	"a11yscout-mcp-server/internal/keyboard"

	"go.uber.org/zap"
)

// KeyboardResult is the keyboard probe output.
type KeyboardResult struct {
	URL string `json:"url"`
	keyboard.Report
}

// KeyboardProbe tabs through a fresh page and reports unreachable controls.
type KeyboardProbe struct {
	opener Opener
	sink   FactSink
	logger *zap.Logger
}

func NewKeyboardProbe(opener Opener, sink FactSink, logger *zap.Logger) *KeyboardProbe {
	return &KeyboardProbe{opener: opener, sink: sink, logger: logger}
}

func (p *KeyboardProbe) Action() Action { return Keyboard }

func (p *KeyboardProbe) Run(ctx context.Context, target string) (any, error) {
	return withSession(ctx, p.opener, target, func(sess Session) (any, error) {
		elements, err := sess.InteractiveElements(ctx)
		if err != nil {
			return nil, fmt.Errorf("list interactive elements: %w", err)
		}
		reachable, err := keyboard.CollectReachable(ctx, sess, len(elements))
		if err != nil {
			return nil, err
		}
		report := keyboard.Analyze(elements, reachable, time.Now().UTC())

		p.logger.Debug("keyboard traversal complete",
			zap.String("url", target),
			zap.Int("total", report.TotalInteractiveElements),
			zap.Int("reachable", report.KeyboardReachableElements),
		)
		emit(ctx, p.sink, p.logger, target, keyboardPredicates, keyboardFacts(target, elements, reachable))
		return KeyboardResult{URL: target, Report: report}, nil
	})
}

func keyboardFacts(target string, elements []keyboard.Descriptor, reachable keyboard.KeySet) []facts.Fact {
	now := time.Now()
	out := make([]facts.Fact, 0, len(elements)+reachable.Len())
	for _, el := range elements {
		out = append(out, facts.Fact{Predicate: "interactive_control", Args: []any{target, keyboard.IdentityKey(el)}, Timestamp: now})
	}
	for key := range reachable {
		out = append(out, facts.Fact{Predicate: "focused_control", Args: []any{target, key}, Timestamp: now})
	}
	return out
}
