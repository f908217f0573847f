// Package normalize canonicalises relay URLs and builds the machine readable
// prefixes relays put on OK and CLOSED reasons.
package normalize

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"zapsplit.lol/log"
)

const (
	WS    = "ws://"
	WSS   = "wss://"
	HTTP  = "http://"
	HTTPS = "https://"
)

func hasScheme(u string) bool {
	return strings.HasPrefix(u, HTTP) || strings.HasPrefix(u, HTTPS) ||
		strings.HasPrefix(u, WS) || strings.HasPrefix(u, WSS)
}

// URL normalizes a relay URL
//
// - Adds wss:// to addresses without a port, or with 443 that have no protocol prefix
//
// - Adds ws:// to addresses with any other port
//
// - Converts http/s to ws/s
//
// An address that can not be parsed yields an empty string.
func URL(v string) (u string) {
	if u = prefix(v, WSS, WS); u == "" {
		return
	}
	p, err := url.Parse(u)
	if err != nil || p.Host == "" {
		log.D.F("error normalizing URL '%s': %v", v, err)
		return ""
	}
	switch p.Scheme {
	case "https":
		p.Scheme = "wss"
	case "http":
		p.Scheme = "ws"
	}
	p.Host = strings.ToLower(p.Host)
	p.Path = strings.TrimRight(p.Path, "/")
	return p.String()
}

// HTTPURL normalizes the URL for such as fetching relay info, the reverse of
// URL for schemes.
func HTTPURL(v string) (u string) {
	if u = prefix(v, HTTPS, HTTP); u == "" {
		return
	}
	p, err := url.Parse(u)
	if err != nil || p.Host == "" {
		log.D.F("error normalizing URL '%s': %v", v, err)
		return ""
	}
	switch p.Scheme {
	case "wss":
		p.Scheme = "https"
	case "ws":
		p.Scheme = "http"
	}
	p.Host = strings.ToLower(p.Host)
	p.Path = strings.TrimRight(p.Path, "/")
	return p.String()
}

func prefix(v, secure, insecure string) (u string) {
	u = strings.TrimSpace(v)
	if len(u) == 0 {
		return
	}
	if hasScheme(strings.ToLower(u)) {
		i := strings.Index(u, "://")
		return strings.ToLower(u[:i]) + u[i:]
	}
	host := u
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	if split := strings.Split(host, ":"); len(split) == 2 {
		port, err := strconv.ParseUint(split[1], 10, 16)
		if err != nil {
			log.D.F("invalid port in address '%s': %v", u, err)
			return ""
		}
		// an explicit 443 is dropped as implied by the secure scheme.
		if port == 443 {
			return secure + split[0] + u[len(host):]
		}
		return insecure + u
	} else if len(split) > 2 {
		log.D.F("more than one ':' in address '%s'", u)
		return ""
	}
	return secure + u
}

// Reason is a machine readable prefix of an OK or CLOSED message.
type Reason string

const (
	AuthRequired Reason = "auth-required"
	PoW          Reason = "pow"
	Duplicate    Reason = "duplicate"
	Blocked      Reason = "blocked"
	RateLimited  Reason = "rate-limited"
	Invalid      Reason = "invalid"
	Error        Reason = "error"
	Unsupported  Reason = "unsupported"
	Restricted   Reason = "restricted"
)

// Msg constructs a properly formatted message with a machine-readable prefix
// for OK and CLOSED envelopes.
func Msg(prefix Reason, format string, params ...any) string {
	if len(prefix) < 1 {
		prefix = Error
	}
	return fmt.Sprintf(string(prefix)+": "+format, params...)
}

// IsPrefix reports whether reason starts with the prefix.
func (r Reason) IsPrefix(reason string) bool {
	return strings.HasPrefix(reason, string(r)+":")
}

// F formats a message under this prefix.
func (r Reason) F(format string, params ...any) string {
	return Msg(r, format, params...)
}
