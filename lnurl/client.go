// Package lnurl resolves lightning addresses and LNURLs to pay service
// descriptors and requests BOLT11 invoices from their callbacks.
package lnurl

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"zapsplit.lol/chk"
	"zapsplit.lol/context"
	"zapsplit.lol/errorf"
	"zapsplit.lol/log"
	"zapsplit.lol/metrics"
	"zapsplit.lol/msat"
)

const (
	// DefaultCacheTTL is how long a fetched descriptor is reused.
	DefaultCacheTTL = 5 * time.Minute
	// DefaultTimeout bounds a single HTTP round trip.
	DefaultTimeout = 10 * time.Second
	// maxBody caps the size of an LNURL response.
	maxBody = 1 << 20
)

// BreakerConfig configures the circuit breaker kept for each LNURL host.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval clears the counts while closed. Zero never clears.
	Interval time.Duration
	// Timeout is how long the breaker stays open.
	Timeout time.Duration
	// ConsecutiveFailures that trip the breaker.
	ConsecutiveFailures uint32
}

// DefaultBreaker is the breaker configuration used unless overridden.
var DefaultBreaker = BreakerConfig{
	MaxRequests:         1,
	Interval:            time.Minute,
	Timeout:             30 * time.Second,
	ConsecutiveFailures: 5,
}

type cached struct {
	d       *PayDescriptor
	expires time.Time
}

// Client is an LNURL-pay client. It is safe for concurrent use.
type Client struct {
	http     *http.Client
	ttl      time.Duration
	now      func() time.Time
	breaker  BreakerConfig
	metrics  *metrics.Metrics
	cache    *xsync.MapOf[string, cached]
	breakers *xsync.MapOf[string, *gobreaker.CircuitBreaker]
	fetching singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for all requests.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithCacheTTL sets the descriptor cache lifetime. Zero disables caching.
func WithCacheTTL(d time.Duration) Option { return func(c *Client) { c.ttl = d } }

// WithClock replaces time.Now for cache expiry.
func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// WithBreaker sets the per host circuit breaker configuration.
func WithBreaker(b BreakerConfig) Option { return func(c *Client) { c.breaker = b } }

// WithMetrics records request outcomes.
func WithMetrics(m *metrics.Metrics) Option { return func(c *Client) { c.metrics = m } }

// New creates a Client.
func New(opts ...Option) (c *Client) {
	c = &Client{
		http:     &http.Client{Timeout: DefaultTimeout},
		ttl:      DefaultCacheTTL,
		now:      time.Now,
		breaker:  DefaultBreaker,
		cache:    xsync.NewMapOf[string, cached](),
		breakers: xsync.NewMapOf[string, *gobreaker.CircuitBreaker](),
	}
	for _, opt := range opts {
		opt(c)
	}
	return
}

// Resolve resolves a lightning address and fetches its descriptor.
func (c *Client) Resolve(ctx context.T, address string) (ref *PayRef,
	d *PayDescriptor, err error) {
	if ref, err = ResolveLightningAddress(address); err != nil {
		return
	}
	d, err = c.FetchPayServiceData(ctx, ref.URL)
	return
}

// FetchPayServiceData returns the pay descriptor served at u, from cache
// while it is fresh. Concurrent fetches of the same URL share one request.
func (c *Client) FetchPayServiceData(ctx context.T, u string) (d *PayDescriptor,
	err error) {
	if u = strings.TrimSpace(u); u == "" {
		err = errorf.D("empty pay service url: %w", ErrInvalidFormat)
		return
	}
	if e, ok := c.cache.Load(u); ok && c.now().Before(e.expires) {
		c.metrics.ObserveCacheHit()
		log.T.F("lnurl cache hit %s", u)
		return e.d, nil
	}
	var v any
	v, err, _ = c.fetching.Do(u, func() (v any, err error) {
		var body []byte
		if body, err = c.get(ctx, u); err != nil {
			c.metrics.ObserveLnurl("descriptor", "error")
			return
		}
		var d *PayDescriptor
		if d, err = parseDescriptor(u, body); err != nil {
			c.metrics.ObserveLnurl("descriptor", "invalid")
			return
		}
		c.metrics.ObserveLnurl("descriptor", "success")
		if c.ttl > 0 {
			c.cache.Store(u, cached{d: d, expires: c.now().Add(c.ttl)})
		}
		return d, nil
	})
	if err != nil {
		return
	}
	d = v.(*PayDescriptor)
	return
}

// Forget drops a cached descriptor so the next fetch goes to the network.
func (c *Client) Forget(u string) { c.cache.Delete(strings.TrimSpace(u)) }

// InvoiceRequest is the input of RequestInvoice. AmountMsats takes
// precedence over AmountSats, which is checked against the descriptor.
type InvoiceRequest struct {
	AmountMsats msat.T
	AmountSats  int64
	Comment     string
	ZapRequest  string
}

// Invoice is the answer of a pay callback.
type Invoice struct {
	Invoice string
	Amount  msat.T
	Raw     []byte
}

// RequestInvoice asks the descriptor's callback for a BOLT11 invoice.
func (c *Client) RequestInvoice(ctx context.T, d *PayDescriptor,
	req InvoiceRequest) (inv *Invoice, err error) {
	if d == nil || d.Callback == "" {
		err = errorf.D("pay descriptor has no callback: %w", ErrInvalidResponse)
		return
	}
	amount := req.AmountMsats
	if amount == 0 {
		if amount, err = ValidateInvoiceAmount(d, req.AmountSats); err != nil {
			return
		}
	}
	var cb *url.URL
	if cb, err = url.Parse(d.Callback); chk.D(err) {
		err = errorf.D("callback %q: %w", d.Callback, ErrInvalidResponse)
		return
	}
	q := cb.Query()
	q.Set("amount", amount.String())
	if comment := truncate(strings.TrimSpace(req.Comment),
		d.CommentAllowed); comment != "" {
		q.Set("comment", comment)
	}
	if zr := strings.TrimSpace(req.ZapRequest); zr != "" {
		q.Set("nostr", zr)
	}
	cb.RawQuery = q.Encode()
	var body []byte
	if body, err = c.get(ctx, cb.String()); err != nil {
		c.metrics.ObserveLnurl("invoice", "error")
		return
	}
	var doc map[string]any
	if doc, err = document(body); err != nil {
		c.metrics.ObserveLnurl("invoice", "invalid")
		return
	}
	if err = remoteError(doc, "LNURL invoice request failed."); err != nil {
		c.metrics.ObserveLnurl("invoice", "remote_error")
		return
	}
	pr := text(doc["pr"])
	if pr == "" {
		c.metrics.ObserveLnurl("invoice", "invalid")
		err = errorf.D("%s did not return an invoice: %w", cb.Host,
			ErrInvalidResponse)
		return
	}
	c.metrics.ObserveLnurl("invoice", "success")
	inv = &Invoice{Invoice: pr, Amount: amount, Raw: body}
	return
}

// truncate limits s to n characters, returning nothing when n is zero.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}

// get performs a GET through the circuit breaker of the target host.
func (c *Client) get(ctx context.T, u string) (body []byte, err error) {
	var target *url.URL
	if target, err = url.Parse(u); err != nil || target.Host == "" {
		err = errorf.D("%q: %w", u, ErrInvalidFormat)
		return
	}
	var v any
	if v, err = c.breakerFor(target.Host).Execute(func() (any, error) {
		return c.roundTrip(ctx, u)
	}); err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) ||
			errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = errorf.W("%s is unavailable: %w", target.Host, err)
		}
		return
	}
	body = v.([]byte)
	return
}

func (c *Client) roundTrip(ctx context.T, u string) (body []byte, err error) {
	var req *http.Request
	if req, err = http.NewRequestWithContext(ctx, http.MethodGet, u,
		nil); chk.E(err) {
		return
	}
	req.Header.Set("Accept", "application/json")
	var res *http.Response
	if res, err = c.http.Do(req); err != nil {
		log.D.F("lnurl request %s: %v", u, err)
		return
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		err = &StatusError{URL: u, Code: res.StatusCode}
		return
	}
	if body, err = io.ReadAll(io.LimitReader(res.Body, maxBody)); chk.D(err) {
		return
	}
	return
}

func (c *Client) breakerFor(host string) (cb *gobreaker.CircuitBreaker) {
	cb, _ = c.breakers.LoadOrCompute(host, func() *gobreaker.CircuitBreaker {
		return gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "lnurl:" + host,
			MaxRequests: c.breaker.MaxRequests,
			Interval:    c.breaker.Interval,
			Timeout:     c.breaker.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= c.breaker.ConsecutiveFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.I.F("circuit breaker %s: %s -> %s", name, from, to)
			},
			IsSuccessful: hostHealthy,
		})
	})
	return
}

// hostHealthy reports whether err says nothing bad about the remote host.
// Client side statuses and cancellation by the caller do not count.
func hostHealthy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code < 500
	}
	return false
}
