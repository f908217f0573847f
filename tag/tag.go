// Package tag is a single nostr event tag: a key followed by any number of
// string fields.
package tag

import (
	"zapsplit.lol/text"
)

// T marshals into and from a JSON array of strings.
type T []string

// New creates a tag from its key and fields.
func New(fields ...string) T { return T(fields) }

// Key returns the first field, or an empty string for an empty tag.
func (t T) Key() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the second field, or an empty string if it is absent.
func (t T) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Len is the number of fields including the key.
func (t T) Len() int { return len(t) }

// Marshal appends the tag as a JSON array using nostr string escaping.
func (t T) Marshal(dst []byte) (b []byte) {
	b = append(dst, '[')
	for i, s := range t {
		if i > 0 {
			b = append(b, ',')
		}
		b = text.AppendQuote(b, []byte(s), text.NostrEscape)
	}
	b = append(b, ']')
	return
}
