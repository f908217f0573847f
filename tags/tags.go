// Package tags is the ordered list of tags carried on a nostr event.
package tags

import (
	"zapsplit.lol/tag"
)

// T is an ordered list of tags.
type T []tag.T

// New creates a tag list from the given tags.
func New(t ...tag.T) T { return T(t) }

// Append adds a tag built from fields and returns the list.
func (t T) Append(fields ...string) T { return append(t, tag.New(fields...)) }

// GetFirst returns the first tag with the given key, or nil.
func (t T) GetFirst(key string) tag.T {
	for _, tt := range t {
		if tt.Key() == key {
			return tt
		}
	}
	return nil
}

// GetAll returns every tag with the given key in order.
func (t T) GetAll(key string) (out T) {
	for _, tt := range t {
		if tt.Key() == key {
			out = append(out, tt)
		}
	}
	return
}

// Value returns the value of the first tag with the given key.
func (t T) Value(key string) string { return t.GetFirst(key).Value() }

// ContainsValue reports whether any tag with key has val as its value.
func (t T) ContainsValue(key, val string) bool {
	for _, tt := range t {
		if tt.Key() == key && tt.Value() == val {
			return true
		}
	}
	return false
}

// Marshal appends the list as a JSON array of arrays.
func (t T) Marshal(dst []byte) (b []byte) {
	b = append(dst, '[')
	for i, tt := range t {
		if i > 0 {
			b = append(b, ',')
		}
		b = tt.Marshal(b)
	}
	b = append(b, ']')
	return
}
