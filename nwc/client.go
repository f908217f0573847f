// Package nwc is a Nostr Wallet Connect client: it parses wallet connect
// URIs, negotiates payload encryption with the wallet, correlates requests
// with responses over a relay and keeps the spending budget of the
// connection.
package nwc

import (
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"zapsplit.lol/chk"
	"zapsplit.lol/context"
	"zapsplit.lol/encryption"
	"zapsplit.lol/log"
	"zapsplit.lol/metrics"
)

const (
	// DefaultRequestTimeout is how long a request waits for its response.
	DefaultRequestTimeout = 25 * time.Second
	// DefaultInfoTimeout bounds the wallet info lookup.
	DefaultInfoTimeout = 7500 * time.Millisecond
)

type config struct {
	requestTimeout time.Duration
	infoTimeout    time.Duration
	preferModern   bool
	schemes        []string
	dial           Dialer
	metrics        *metrics.Metrics
}

// Option configures a Client.
type Option func(*config)

// WithRequestTimeout sets the per request deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *config) { c.requestTimeout = d }
}

// WithInfoTimeout sets the deadline of the wallet info lookup.
func WithInfoTimeout(d time.Duration) Option {
	return func(c *config) { c.infoTimeout = d }
}

// WithPreferModern tries the modern scheme first when the wallet does not
// advertise its schemes.
func WithPreferModern(v bool) Option { return func(c *config) { c.preferModern = v } }

// WithSchemes restricts the locally available encryption schemes.
func WithSchemes(names ...string) Option {
	return func(c *config) {
		c.schemes = nil
		for _, n := range names {
			if n = encryption.Normalize(n); slices.Contains(encryption.Supported(), n) &&
				!slices.Contains(c.schemes, n) {
				c.schemes = append(c.schemes, n)
			}
		}
	}
}

// WithDialer replaces the relay transport.
func WithDialer(d Dialer) Option { return func(c *config) { c.dial = d } }

// WithMetrics records wallet activity.
func WithMetrics(m *metrics.Metrics) Option { return func(c *config) { c.metrics = m } }

// Settings are the caller's saved wallet settings.
type Settings struct {
	URI string
}

// Client owns at most one wallet connection at a time, the one for the URI
// it was last asked for.
type Client struct {
	cfg        *config
	mx         sync.Mutex
	conn       *Connection
	connecting singleflight.Group
}

// New creates a Client.
func New(opts ...Option) (cl *Client) {
	cfg := &config{
		requestTimeout: DefaultRequestTimeout,
		infoTimeout:    DefaultInfoTimeout,
		schemes:        encryption.Supported(),
		dial:           DialRelays,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Client{cfg: cfg}
}

// Current returns the active connection, or nil.
func (cl *Client) Current() *Connection {
	cl.mx.Lock()
	defer cl.mx.Unlock()
	return cl.conn
}

// EnsureWallet returns the connection for the settings' URI. The same
// normalized URI gives the same connection, with only its budget renewal
// parameters refreshed; a different one replaces it, closing the old one.
func (cl *Client) EnsureWallet(c context.T, s Settings) (conn *Connection,
	err error) {
	var u *URI
	if u, err = ParseURI(s.URI); err != nil {
		return
	}
	v, err, _ := cl.connecting.Do(u.Normalized, func() (any, error) {
		cl.mx.Lock()
		cur := cl.conn
		cl.mx.Unlock()
		if cur != nil && !cur.Closed() && cur.URI.Normalized == u.Normalized {
			if cur.Budget != nil {
				cur.Budget.SetRenewal(u.Renewal)
			}
			return cur, cur.connect(c)
		}
		next, err := newConnection(u, cl.cfg)
		if err != nil {
			return nil, err
		}
		if err = next.connect(c); err != nil {
			chk.D(next.Close())
			return nil, err
		}
		cl.mx.Lock()
		old := cl.conn
		cl.conn = next
		cl.mx.Unlock()
		if old != nil && old != next {
			log.I.F("wallet connection changed, closing %s", old.URI.WalletPubkey)
			chk.D(old.Close())
		}
		return next, nil
	})
	if err != nil {
		return
	}
	conn = v.(*Connection)
	return
}

// SendPayment pays an invoice through the wallet of the settings.
func (cl *Client) SendPayment(c context.T, s Settings, invoice string,
	o PaymentOptions) (res *PayInvoiceResult, err error) {
	var params *PayInvoiceParams
	if params, err = BuildPayInvoiceParams(invoice, o); err != nil {
		return
	}
	var conn *Connection
	if conn, err = cl.EnsureWallet(c, s); err != nil {
		return
	}
	return conn.PayInvoice(c, params, o.AmountSats)
}

// Reset closes the active connection.
func (cl *Client) Reset() (err error) {
	cl.mx.Lock()
	conn := cl.conn
	cl.conn = nil
	cl.mx.Unlock()
	if conn != nil {
		err = conn.Close()
	}
	return
}
