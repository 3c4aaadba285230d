// Package keyboard decides which interactive controls of a page can be
// reached by sequential Tab navigation.
package keyboard

import "strings"

// InteractiveSelector matches the controls considered focus targets.
const InteractiveSelector = `a[href], button, input, select, textarea, [tabindex]:not([tabindex="-1"])`

// Descriptor is a value snapshot of one DOM element.
type Descriptor struct {
	Tag       string `json:"tag"`
	ID        string `json:"id"`
	Classes   string `json:"classes"`
	Text      string `json:"text"`
	AriaLabel string `json:"ariaLabel"`
	Role      string `json:"role"`
}

// Label is the visible text when present, otherwise the aria-label.
func (d Descriptor) Label() string {
	if text := strings.TrimSpace(d.Text); text != "" {
		return text
	}
	return d.AriaLabel
}

const keySep = "|"

var keyEscaper = strings.NewReplacer(`\`, `\\`, keySep, `\`+keySep)

// IdentityKey joins tag, id, role and label with "|". Fields are escaped
// so that distinct descriptors never share a key.
//
// Two different elements with equal fields collapse to one key; the
// analysis reports such elements as reachable if either one is.
func IdentityKey(d Descriptor) string {
	fields := []string{d.Tag, d.ID, d.Role, d.Label()}
	for i, f := range fields {
		fields[i] = keyEscaper.Replace(f)
	}
	return strings.Join(fields, keySep)
}

// KeySet is the set of identity keys observed holding focus.
type KeySet map[string]struct{}

func (s KeySet) Add(key string) { s[key] = struct{}{} }

func (s KeySet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

func (s KeySet) Len() int { return len(s) }
