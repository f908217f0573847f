// Package filter is the nostr REQ filter, restricted to the fields a wallet
// connect client subscribes with.
package filter

import (
	"encoding/json"
	"sort"

	"zapsplit.lol/event"
	"zapsplit.lol/kind"
	"zapsplit.lol/timestamp"
)

// T selects events by kind, author and single letter tag values.
type T struct {
	IDs     []string
	Kinds   []kind.T
	Authors []string
	// Tags maps a single letter tag name, without the '#', to accepted values.
	Tags  map[string][]string
	Since timestamp.T
	Until timestamp.T
	Limit *uint
}

// New creates a filter for the given kinds and authors.
func New(kinds []kind.T, authors ...string) (f *T) {
	return &T{Kinds: kinds, Authors: authors, Tags: map[string][]string{}}
}

// WithTag adds accepted values for a tag and returns the filter.
func (f *T) WithTag(key string, values ...string) *T {
	if f.Tags == nil {
		f.Tags = map[string][]string{}
	}
	f.Tags[key] = append(f.Tags[key], values...)
	return f
}

// WithLimit sets the result limit and returns the filter.
func (f *T) WithLimit(n uint) *T {
	f.Limit = &n
	return f
}

// MarshalJSON renders the filter with tag keys prefixed by '#', sorted so the
// output is stable.
func (f *T) MarshalJSON() (b []byte, err error) {
	m := make(map[string]any, 6+len(f.Tags))
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	keys := make([]string, 0, len(f.Tags))
	for k := range f.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m["#"+k] = f.Tags[k]
	}
	if f.Since > 0 {
		m["since"] = f.Since
	}
	if f.Until > 0 {
		m["until"] = f.Until
	}
	if f.Limit != nil {
		m["limit"] = *f.Limit
	}
	return json.Marshal(m)
}

// Matches reports whether an event satisfies every populated field.
func (f *T) Matches(ev *event.T) bool {
	if ev == nil {
		return false
	}
	if len(f.IDs) > 0 && !contains(f.IDs, ev.IDString()) {
		return false
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == ev.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Authors) > 0 && !contains(f.Authors, ev.PubKeyString()) {
		return false
	}
	for k, vals := range f.Tags {
		matched := false
		for _, v := range vals {
			if ev.Tags.ContainsValue(k, v) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if f.Since > 0 && ev.CreatedAt < f.Since {
		return false
	}
	if f.Until > 0 && ev.CreatedAt > f.Until {
		return false
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
