package probe

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"a11yscout-mcp-server/internal/facts"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Link is an anchor found on the page.
type Link struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// Heading is an h1-h6 element found on the page.
type Heading struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
}

// CrawlResult is the crawl probe output.
type CrawlResult struct {
	URL        string    `json:"url"`
	DOMLength  int       `json:"domLength"`
	TotalLinks int       `json:"totalLinks"`
	Links      []Link    `json:"links"`
	Headings   []Heading `json:"headings"`
}

// CrawlProbe reads the rendered markup and lists links and headings.
type CrawlProbe struct {
	opener Opener
	sink   FactSink
	logger *zap.Logger
}

func NewCrawlProbe(opener Opener, sink FactSink, logger *zap.Logger) *CrawlProbe {
	return &CrawlProbe{opener: opener, sink: sink, logger: logger}
}

func (p *CrawlProbe) Action() Action { return Crawl }

func (p *CrawlProbe) Run(ctx context.Context, target string) (any, error) {
	return withSession(ctx, p.opener, target, func(sess Session) (any, error) {
		markup, err := sess.Markup(ctx)
		if err != nil {
			return nil, fmt.Errorf("read markup: %w", err)
		}
		result, err := ParseMarkup(target, markup)
		if err != nil {
			return nil, err
		}
		p.logger.Debug("crawl complete", zap.String("url", target), zap.Int("links", result.TotalLinks))
		emit(ctx, p.sink, p.logger, result.URL, crawlPredicates, crawlFacts(result))
		return result, nil
	})
}

// ParseMarkup extracts anchors and headings from an HTML document. Hrefs are
// resolved against pageURL the way a browser resolves a.href.
func ParseMarkup(pageURL, markup string) (CrawlResult, error) {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return CrawlResult{}, fmt.Errorf("parse markup: %w", err)
	}
	base, _ := url.Parse(pageURL)

	result := CrawlResult{
		URL:       pageURL,
		DOMLength: len(markup),
		Links:     []Link{},
		Headings:  []Heading{},
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Base:
				if href := attr(n, "href"); href != "" && base != nil {
					if u, err := base.Parse(href); err == nil {
						base = u
					}
				}
			case atom.A:
				result.Links = append(result.Links, Link{
					Text: strings.TrimSpace(textContent(n)),
					Href: resolveHref(base, n),
				})
			case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
				result.Headings = append(result.Headings, Heading{
					Tag:  strings.ToUpper(n.Data),
					Text: strings.TrimSpace(textContent(n)),
				})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	result.TotalLinks = len(result.Links)
	return result, nil
}

func resolveHref(base *url.URL, n *html.Node) string {
	raw, ok := attrOK(n, "href")
	if !ok {
		return ""
	}
	raw = strings.TrimSpace(raw)
	if base == nil {
		return raw
	}
	u, err := base.Parse(raw)
	if err != nil {
		return raw
	}
	return u.String()
}

func attr(n *html.Node, key string) string {
	v, _ := attrOK(n, key)
	return v
}

func attrOK(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func crawlFacts(r CrawlResult) []facts.Fact {
	now := time.Now()
	out := make([]facts.Fact, 0, len(r.Links)+len(r.Headings))
	for _, l := range r.Links {
		out = append(out, facts.Fact{Predicate: "page_link", Args: []any{r.URL, l.Href, l.Text}, Timestamp: now})
	}
	for _, h := range r.Headings {
		out = append(out, facts.Fact{Predicate: "page_heading", Args: []any{r.URL, h.Tag, h.Text}, Timestamp: now})
	}
	return out
}

// emit forwards findings to sink, even an empty batch, so stale findings for
// url are cleared. Sink failures are logged, never returned.
func emit(ctx context.Context, sink FactSink, logger *zap.Logger, url string, predicates []string, fs []facts.Fact) {
	if sink == nil {
		return
	}
	if err := sink.ReplaceFacts(ctx, url, predicates, fs); err != nil {
		logger.Warn("recording findings failed", zap.Error(err))
	}
}
