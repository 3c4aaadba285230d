package keyboard

import (
	"context"
	"fmt"
	"time"
)

// ExtraSteps is added to the element count when tabbing. Real tab order
// wraps through the address bar and skips around, so a pass of exactly N
// presses tends to miss the last few controls.
const ExtraSteps = 5

// UnreachableIssue is reported whenever at least one control was never focused.
const UnreachableIssue = "Some interactive elements are not reachable using keyboard"

// Document is the live page surface the analyzer drives.
type Document interface {
	// InteractiveElements returns descriptors for every element matching InteractiveSelector, in DOM order.
	InteractiveElements(ctx context.Context) ([]Descriptor, error)
	// FocusNext moves focus forward one step, as a Tab press would.
	FocusNext(ctx context.Context) error
	// FocusedElement reports the element holding focus; ok is false when nothing does.
	FocusedElement(ctx context.Context) (d Descriptor, ok bool, err error)
}

// Report is the keyboard probe output.
type Report struct {
	Tool                      string       `json:"tool"`
	TotalInteractiveElements  int          `json:"totalInteractiveElements"`
	KeyboardReachableElements int          `json:"keyboardReachableElements"`
	UnreachableElements       []Descriptor `json:"unreachableElements"`
	// KeyboardTrapDetected is always false; trap detection is not performed.
	KeyboardTrapDetected bool      `json:"keyboardTrapDetected"`
	Issues               []string  `json:"issues"`
	Timestamp            time.Time `json:"timestamp"`
}

// CollectReachable presses forward focus exactly n+ExtraSteps times on doc and
// records the identity key of every element that held focus. It runs a
// single pass; focus state on doc is left wherever the last step put it.
func CollectReachable(ctx context.Context, doc Document, n int) (KeySet, error) {
	if n < 0 {
		n = 0
	}
	seen := make(KeySet)
	for step := 0; step < n+ExtraSteps; step++ {
		if err := ctx.Err(); err != nil {
			return seen, err
		}
		if err := doc.FocusNext(ctx); err != nil {
			return seen, fmt.Errorf("focus step %d: %w", step+1, err)
		}
		d, ok, err := doc.FocusedElement(ctx)
		if err != nil {
			return seen, fmt.Errorf("read focus at step %d: %w", step+1, err)
		}
		if ok {
			seen.Add(IdentityKey(d))
		}
	}
	return seen, nil
}

// Analyze partitions elements by membership of their identity key in reachable.
// Input order is preserved in UnreachableElements.
func Analyze(elements []Descriptor, reachable KeySet, now time.Time) Report {
	unreachable := []Descriptor{}
	for _, el := range elements {
		if !reachable.Has(IdentityKey(el)) {
			unreachable = append(unreachable, el)
		}
	}

	issues := []string{}
	if len(unreachable) > 0 {
		issues = append(issues, UnreachableIssue)
	}

	return Report{
		Tool:                      "keyboard",
		TotalInteractiveElements:  len(elements),
		KeyboardReachableElements: len(elements) - len(unreachable),
		UnreachableElements:       unreachable,
		KeyboardTrapDetected:      false,
		Issues:                    issues,
		Timestamp:                 now,
	}
}
