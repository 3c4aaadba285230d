package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"a11yscout-mcp-server/internal/keyboard"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
)

// Page is one open incognito page. It is not safe for concurrent use.
type Page struct {
	page      *rod.Page
	incognito *rod.Browser
	manager   *SessionManager
	meta      Session
	closeOnce sync.Once
}

// describeJS turns an element into a keyboard.Descriptor-shaped object.
const describeJS = `(el) => ({
	tag: el.tagName.toLowerCase(),
	id: el.id || '',
	classes: typeof el.className === 'string' ? el.className : '',
	text: (el.innerText || '').trim(),
	ariaLabel: el.getAttribute('aria-label') || '',
	role: el.getAttribute('role') || ''
})`

var interactiveJS = fmt.Sprintf(`() => {
	const describe = %s;
	return Array.from(document.querySelectorAll(%q)).map(describe);
}`, describeJS, keyboard.InteractiveSelector)

var focusedJS = fmt.Sprintf(`() => {
	const describe = %s;
	const el = document.activeElement;
	return el ? describe(el) : null;
}`, describeJS)

func (p *Page) ID() string { return p.meta.ID }

func (p *Page) URL() string { return p.meta.URL }

// Markup returns the serialized document.
func (p *Page) Markup(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

// InjectScript adds a <script> tag and waits for it to load.
func (p *Page) InjectScript(ctx context.Context, url, content string) error {
	if content != "" {
		url = ""
	}
	return p.page.Context(ctx).AddScriptTag(url, content)
}

// Evaluate runs js, awaits a returned promise and decodes the value into out.
func (p *Page) Evaluate(ctx context.Context, js string, out any) error {
	res, err := p.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return err
	}
	if res == nil || out == nil {
		return nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (p *Page) InteractiveElements(ctx context.Context) ([]keyboard.Descriptor, error) {
	var out []keyboard.Descriptor
	if err := p.Evaluate(ctx, interactiveJS, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FocusNext presses Tab.
func (p *Page) FocusNext(ctx context.Context) error {
	return p.page.Context(ctx).Keyboard.Press(input.Tab)
}

func (p *Page) FocusedElement(ctx context.Context) (keyboard.Descriptor, bool, error) {
	var out *keyboard.Descriptor
	if err := p.Evaluate(ctx, focusedJS, &out); err != nil {
		return keyboard.Descriptor{}, false, err
	}
	if out == nil {
		return keyboard.Descriptor{}, false, nil
	}
	return *out, true, nil
}

// Close closes the page and its incognito context.
func (p *Page) Close() error {
	p.release()
	if p.manager != nil {
		p.manager.forget(p.meta.ID)
	}
	return nil
}

func (p *Page) release() {
	p.closeOnce.Do(func() {
		if p.page != nil {
			_ = p.page.Close()
		}
		if p.incognito != nil {
			_ = p.incognito.Close()
		}
	})
}
