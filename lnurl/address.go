package lnurl

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"zapsplit.lol/bech32"
	"zapsplit.lol/errorf"
)

// HRP is the human readable part of a bech32 encoded LNURL.
const HRP = "lnurl"

// Type is how a pay reference was written.
type Type string

const (
	// Lud06 is a bech32 encoded LNURL.
	Lud06 Type = "lud06"
	// Lud16 is a name@domain lightning address.
	Lud16 Type = "lud16"
	// Lud17 is an lnurlp:// scheme URL.
	Lud17 Type = "lud17"
	// URL is a plain http(s) URL.
	URL Type = "url"
)

// PayRef is a lightning address resolved to the URL of its pay service.
type PayRef struct {
	Type    Type
	URL     string
	Address string
}

// ResolveLightningAddress maps an LNURL, a lightning address or a URL onto the
// URL that serves its LNURL-pay descriptor.
func ResolveLightningAddress(value string) (ref *PayRef, err error) {
	v := strings.TrimSpace(value)
	if v == "" {
		err = errorf.D("lightning address is required: %w", ErrInvalidFormat)
		return
	}
	lower := strings.ToLower(v)
	switch {
	case strings.HasPrefix(lower, "lnurlp://"):
		ref = &PayRef{Type: Lud17, URL: lud17(v), Address: v}
		return
	case strings.HasPrefix(lower, HRP):
		var u string
		if u, err = DecodeLnurl(v); err != nil {
			return
		}
		ref = &PayRef{Type: Lud06, URL: u, Address: v}
		return
	case strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://"):
		ref = &PayRef{Type: URL, URL: v, Address: v}
		return
	case strings.Contains(v, "@"):
		name, domain, _ := strings.Cut(v, "@")
		name, domain = strings.TrimSpace(name), strings.TrimSpace(domain)
		if name == "" || domain == "" || strings.ContainsAny(domain, "@/") {
			err = errorf.D("%q: %w", v, ErrInvalidFormat)
			return
		}
		ref = &PayRef{
			Type: Lud16,
			URL: "https://" + domain + "/.well-known/lnurlp/" +
				url.PathEscape(strings.ToLower(name)),
			Address: name + "@" + domain,
		}
		return
	}
	err = errorf.D("%q: %w", v, ErrUnsupportedFormat)
	return
}

// lud17 swaps the lnurlp scheme for https, or http for onion hosts.
func lud17(v string) string {
	rest := v[len("lnurlp://"):]
	host, _, _ := strings.Cut(rest, "/")
	if h, _, _ := strings.Cut(host, ":"); strings.HasSuffix(strings.ToLower(h), ".onion") {
		return "http://" + rest
	}
	return "https://" + rest
}

// DecodeLnurl returns the URL inside a bech32 LNURL string.
func DecodeLnurl(s string) (u string, err error) {
	var hrp string
	var data []byte
	if hrp, data, err = bech32.DecodeToBase256(s); err != nil {
		err = errorf.D("decoding lnurl: %w", err)
		return
	}
	if hrp != HRP {
		err = errorf.D("unexpected prefix %q: %w", hrp, ErrInvalidFormat)
		return
	}
	if !utf8.Valid(data) {
		err = errorf.D("lnurl does not contain text: %w", ErrInvalidFormat)
		return
	}
	u = strings.TrimSpace(string(data))
	return
}

// EncodeLnurl encodes a URL as a lower case bech32 LNURL.
func EncodeLnurl(u string) (s string, err error) {
	if u = strings.TrimSpace(u); u == "" {
		err = errorf.D("empty url: %w", ErrInvalidFormat)
		return
	}
	return bech32.EncodeFromBase256(HRP, []byte(u))
}
