package normalize

import (
	"testing"
)

func TestURL(t *testing.T) {
	for _, c := range [][2]string{
		{"", ""},
		{"wss://x.com/y", "wss://x.com/y"},
		{"wss://x.com/y/", "wss://x.com/y"},
		{"http://x.com/y", "ws://x.com/y"},
		{"HTTPS://X.com/Path", "wss://x.com/Path"},
		{"wss://x.com", "wss://x.com"},
		{"wss://x.com/", "wss://x.com"},
		{"x.com", "wss://x.com"},
		{"x.com/", "wss://x.com"},
		{"x.com////", "wss://x.com"},
		{"x.com/?x=23", "wss://x.com?x=23"},
		{"x.com:443", "wss://x.com"},
		{"localhost:7447", "ws://localhost:7447"},
		{"x.com:notaport", ""},
		{"a:b:c", ""},
	} {
		if got := URL(c[0]); got != c[1] {
			t.Errorf("URL(%q) = %q, want %q", c[0], got, c[1])
		}
	}
	if URL(URL("http://x.com/y")) != "ws://x.com/y" {
		t.Error("URL is not idempotent")
	}
}

func TestHTTPURL(t *testing.T) {
	for _, c := range [][2]string{
		{"wss://relay.example/", "https://relay.example"},
		{"ws://localhost:7447", "http://localhost:7447"},
		{"relay.example", "https://relay.example"},
	} {
		if got := HTTPURL(c[0]); got != c[1] {
			t.Errorf("HTTPURL(%q) = %q, want %q", c[0], got, c[1])
		}
	}
}

func TestReason(t *testing.T) {
	m := Blocked.F("no %s", "spam")
	if m != "blocked: no spam" || !Blocked.IsPrefix(m) || AuthRequired.IsPrefix(m) {
		t.Errorf("unexpected message %q", m)
	}
	if Msg("", "x") != "error: x" {
		t.Error("empty prefix should default to error")
	}
}
