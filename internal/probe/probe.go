// Package probe implements the three accessibility checks run against a
// target page: link crawl, axe-core rule scan and keyboard reachability.
package probe

import (
	"context"
	"fmt"

	"a11yscout-mcp-server/internal/facts"
	"a11yscout-mcp-server/internal/keyboard"
)

// Action identifies a probe.
type Action string

const (
	Crawl    Action = "crawl"
	Axe      Action = "axe"
	Keyboard Action = "keyboard"
)

// Actions lists every probe in canonical order.
var Actions = []Action{Crawl, Axe, Keyboard}

// ParseAction maps an identifier to an Action. Matching is exact.
func ParseAction(s string) (Action, bool) {
	for _, a := range Actions {
		if string(a) == s {
			return a, true
		}
	}
	return "", false
}

// Probe runs one check against a target URL and returns a JSON-serializable result.
type Probe interface {
	Action() Action
	Run(ctx context.Context, target string) (any, error)
}

// Session is one isolated browser page opened on the target.
type Session interface {
	keyboard.Document
	URL() string
	Markup(ctx context.Context) (string, error)
	// InjectScript adds a script tag from url, or with inline content when content is non-empty.
	InjectScript(ctx context.Context, url, content string) error
	// Evaluate runs a JS function expression and decodes its awaited result into out.
	Evaluate(ctx context.Context, js string, out any) error
	Close() error
}

// Opener creates a fresh Session navigated to url.
type Opener interface {
	Open(ctx context.Context, url string) (Session, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, url string) (Session, error)

func (f OpenerFunc) Open(ctx context.Context, url string) (Session, error) { return f(ctx, url) }

// FactSink receives findings derived from probe results. Each call replaces
// the findings a previous run of the same probe recorded for url.
type FactSink interface {
	ReplaceFacts(ctx context.Context, url string, predicates []string, facts []facts.Fact) error
}

// Predicates each probe records, scoped by page URL.
var (
	crawlPredicates    = []string{"page_link", "page_heading"}
	axePredicates      = []string{"a11y_violation"}
	keyboardPredicates = []string{"interactive_control", "focused_control"}
)

// withSession opens a session, runs fn and always closes the session.
func withSession(ctx context.Context, opener Opener, target string, fn func(Session) (any, error)) (any, error) {
	sess, err := opener.Open(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", target, err)
	}
	defer sess.Close()
	return fn(sess)
}
