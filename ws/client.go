// Package ws is a websocket client for nostr relays: publishing events with
// OK tracking, subscriptions, and NIP-42 authentication.
package ws

import (
	"bufio"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/httphead"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsflate"
	"github.com/puzpuzpuz/xsync/v3"

	"zapsplit.lol/chk"
	"zapsplit.lol/context"
	"zapsplit.lol/envelopes"
	"zapsplit.lol/errorf"
	"zapsplit.lol/event"
	"zapsplit.lol/filter"
	"zapsplit.lol/kind"
	"zapsplit.lol/log"
	"zapsplit.lol/normalize"
	"zapsplit.lol/signer"
	"zapsplit.lol/tags"
)

var (
	// ErrConnectionClosed is returned for writes and pending publishes once the
	// relay connection has gone away.
	ErrConnectionClosed = errors.New("relay connection closed")
	// ErrWriteTimeout is returned when the write queue does not accept a
	// message in time.
	ErrWriteTimeout = errors.New("write timed out")
)

// RejectedError is a relay answering a published event with OK false.
type RejectedError struct {
	Relay  string
	Reason string
}

func (e *RejectedError) Error() string {
	return "relay " + e.Relay + " rejected event: " + e.Reason
}

var subscriptionIDCounter atomic.Int32

type Client struct {
	// Ctx will be canceled when connection closes
	Ctx        context.T
	cancel     context.F
	closeMutex sync.Mutex
	url        string
	// RequestHeader  e.g. for origin header
	RequestHeader   http.Header
	conn            *conn
	Subscriptions   *xsync.MapOf[string, *Subscription]
	connectionError atomic.Value
	// challenge is NIP-42 challenge, only keep the last
	challenge     atomic.Value
	authMutex     sync.Mutex
	authedFor     string
	authSigner    signer.I
	noticeHandler func(notice string)
	okCallbacks   *xsync.MapOf[string, func(ok bool, reason string)]
	writeQueue    chan writeRequest

	// AssumeValid skips verifying signatures of events from this relay.
	AssumeValid bool
}

type writeRequest struct {
	msg    []byte
	answer chan error
}

// Option configures a Client.
type Option func(r *Client)

// WithNoticeHandler takes notices and is expected to do something with them.
// When not given, notices are logged.
func WithNoticeHandler(h func(notice string)) Option {
	return func(r *Client) { r.noticeHandler = h }
}

// WithAuthSigner answers AUTH challenges by signing with s.
func WithAuthSigner(s signer.I) Option {
	return func(r *Client) { r.authSigner = s }
}

// WithAssumeValid disables signature checks on received events.
func WithAssumeValid() Option { return func(r *Client) { r.AssumeValid = true } }

// WithRequestHeader sets extra headers on the websocket handshake.
func WithRequestHeader(h http.Header) Option {
	return func(r *Client) { r.RequestHeader = h }
}

// NewClient returns a new relay client. The relay connection will be closed
// when the context is canceled.
func NewClient(c context.T, url string, opts ...Option) *Client {
	ctx, cancel := context.Cancel(c)
	r := &Client{
		url:           normalize.URL(url),
		Ctx:           ctx,
		cancel:        cancel,
		Subscriptions: xsync.NewMapOf[string, *Subscription](),
		okCallbacks:   xsync.NewMapOf[string, func(bool, string)](),
		writeQueue:    make(chan writeRequest),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect returns a relay object connected to url. Once successfully
// connected, cancelling ctx has no effect. To close the connection, call
// r.Close().
func Connect(c context.T, url string, opts ...Option) (*Client, error) {
	r := NewClient(context.Bg(), url, opts...)
	err := r.Connect(c)
	return r, err
}

// URL returns the normalized relay URL.
func (r *Client) URL() string { return r.url }

// String just returns the relay URL.
func (r *Client) String() string { return r.url }

// Context retrieves the context that is associated with this relay connection.
func (r *Client) Context() context.T { return r.Ctx }

// IsConnected returns true if the connection to this relay seems to be active.
func (r *Client) IsConnected() bool { return r.Ctx.Err() == nil }

// ConnectionError returns the error that ended the read loop, if any.
func (r *Client) ConnectionError() error {
	if err, ok := r.connectionError.Load().(error); ok {
		return err
	}
	return nil
}

// Connect tries to establish a websocket connection to r.URL. If the context
// expires before the connection is complete, an error is returned. Once
// successfully connected, context expiration has no effect: call r.Close to
// close the connection.
func (r *Client) Connect(c context.T) (err error) {
	if r.Ctx == nil || r.Subscriptions == nil {
		return errorf.E("relay must be initialized with a call to NewClient()")
	}
	if len(r.url) < 1 {
		return errorf.E("invalid relay URL '%s'", r.url)
	}
	if _, ok := c.Deadline(); !ok {
		// if no timeout is set, force it to 7 seconds
		var cancel context.F
		c, cancel = context.Timeout(c, 7*time.Second)
		defer cancel()
	}
	var cn *conn
	if cn, err = r.dial(c); err != nil {
		return
	}
	r.conn = cn
	// ping every 29 seconds
	ticker := time.NewTicker(29 * time.Second)
	go func() {
		<-r.Ctx.Done()
		ticker.Stop()
		// close all subscriptions
		r.Subscriptions.Range(func(_ string, sub *Subscription) bool {
			go sub.Unsub()
			return true
		})
	}()
	// queue all write operations here so we don't do mutex spaghetti
	go func() {
		var err error
		for {
			select {
			case <-ticker.C:
				if err = cn.ping(); err != nil {
					log.D.F("{%s} error writing ping: %v; closing websocket",
						r.url, err)
					chk.D(r.Close())
					return
				}
			case wr := <-r.writeQueue:
				// all write requests will go through this to prevent races
				wr.answer <- cn.write(r.Ctx, wr.msg)
			case <-r.Ctx.Done():
				return
			}
		}
	}()
	go r.readLoop(cn)
	return nil
}

// dial opens the websocket to the relay, offering permessage-deflate.
func (r *Client) dial(c context.T) (cn *conn, err error) {
	d := ws.Dialer{
		Header:     ws.HandshakeHeaderHTTP(r.RequestHeader),
		Extensions: []httphead.Option{wsflate.DefaultParameters.Option()},
	}
	var nc net.Conn
	var br *bufio.Reader
	var hs ws.Handshake
	if nc, br, hs, err = d.Dial(c, r.url); err != nil {
		return nil, errorf.E("error opening websocket to '%s': %w", r.url, err)
	}
	var src io.Reader = nc
	if br != nil {
		src = br
	}
	return newConn(nc, src, hs), nil
}

// readLoop decodes relay messages until the connection fails.
func (r *Client) readLoop(cn *conn) {
	var err error
	for {
		var msg []byte
		if msg, err = cn.read(r.Ctx); err != nil {
			r.connectionError.Store(err)
			chk.T(r.Close())
			return
		}
		var en envelopes.I
		if en, err = envelopes.Parse(msg); chk.D(err) {
			continue
		}
		switch env := en.(type) {
		case *envelopes.Notice:
			if r.noticeHandler != nil {
				r.noticeHandler(env.Message)
			} else {
				log.D.F("NOTICE from %s: '%s'", r.url, env.Message)
			}
		case *envelopes.Auth:
			r.challenge.Store(env.Challenge)
			log.D.F("{%s} received challenge %s", r.url, env.Challenge)
			if r.authSigner != nil {
				go func() { chk.D(r.Auth(r.Ctx)) }()
			}
		case *envelopes.Event:
			// if it has no subscription ID we don't know what it is
			if env.Subscription == "" {
				continue
			}
			s, ok := r.Subscriptions.Load(env.Subscription)
			if !ok {
				log.T.F("{%s} no subscription with id '%s'", r.url,
					env.Subscription)
				continue
			}
			if !s.Matches(env.Event) {
				log.D.F("{%s} filter does not match event %s", r.url,
					env.Event.IDString())
				continue
			}
			// check signature, ignore invalid, except from trusted
			// (AssumeValid) relays
			if !r.AssumeValid {
				if ok, err = env.Event.Verify(); !ok {
					log.D.F("{%s} bad signature on %s; %v", r.url,
						env.Event.IDString(), err)
					continue
				}
			}
			s.dispatchEvent(env.Event)
		case *envelopes.EOSE:
			if s, ok := r.Subscriptions.Load(env.Subscription); ok {
				s.dispatchEose()
			}
		case *envelopes.Closed:
			if s, ok := r.Subscriptions.Load(env.Subscription); ok {
				s.dispatchClosed(env.Reason)
			}
		case *envelopes.OK:
			if cb, exist := r.okCallbacks.Load(env.EventID); exist {
				cb(env.OK, env.Reason)
			} else {
				log.T.F("{%s} got an unexpected OK message for event %s",
					r.url, env.EventID)
			}
		}
	}
}

// Write queues a message to be sent to the relay.
func (r *Client) Write(msg []byte) <-chan error {
	ch := make(chan error, 1)
	timeout := time.NewTimer(5 * time.Second)
	defer timeout.Stop()
	select {
	case r.writeQueue <- writeRequest{msg: msg, answer: ch}:
	case <-r.Ctx.Done():
		ch <- ErrConnectionClosed
	case <-timeout.C:
		ch <- ErrWriteTimeout
	}
	return ch
}

// Publish sends an "EVENT" command to the relay r as in NIP-01 and waits for
// an OK response. A rejection comes back as a *RejectedError. When the relay
// wants authentication first and there is a signer, the client authenticates
// and sends the event once more.
func (r *Client) Publish(c context.T, ev *event.T) (err error) {
	err = r.publish(c, ev.IDString(), &envelopes.Event{Event: ev})
	var rej *RejectedError
	if !errors.As(err, &rej) || !normalize.AuthRequired.IsPrefix(rej.Reason) ||
		r.authSigner == nil {
		return
	}
	log.D.F("{%s} requires auth to publish %s", r.url, ev.IDString())
	if err = r.Auth(c); err != nil {
		return
	}
	return r.publish(c, ev.IDString(), &envelopes.Event{Event: ev})
}

// Auth sends an "AUTH" command client->relay as in NIP-42 and waits for an OK
// response.
func (r *Client) Auth(c context.T) (err error) {
	if r.authSigner == nil {
		return errorf.E("no signer configured for auth to %s", r.url)
	}
	r.authMutex.Lock()
	defer r.authMutex.Unlock()
	challenge, _ := r.challenge.Load().(string)
	if challenge == "" {
		return errorf.E("no auth challenge received from %s", r.url)
	}
	if challenge == r.authedFor {
		return
	}
	log.D.Ln("sending auth response to relay", r.url)
	ev := event.New(kind.ClientAuth, "", tags.New().
		Append("relay", r.url).
		Append("challenge", challenge))
	if err = ev.Sign(r.authSigner); chk.E(err) {
		return errorf.E("error signing auth event: %w", err)
	}
	if err = r.publish(c, ev.IDString(), &envelopes.AuthResponse{Event: ev}); err != nil {
		return
	}
	r.authedFor = challenge
	return
}

// publish can be used both for EVENT and for AUTH
func (r *Client) publish(c context.T, id string, env envelopes.I) (err error) {
	var cancel context.F
	if _, ok := c.Deadline(); !ok {
		// if no timeout is set, force it to 4 seconds
		c, cancel = context.Timeout(c, 4*time.Second)
	} else {
		// otherwise make the context cancellable, so we can stop everything
		// upon receiving an "OK"
		c, cancel = context.Cancel(c)
	}
	defer cancel()
	result := make(chan error, 1)
	r.okCallbacks.Store(id, func(ok bool, reason string) {
		var res error
		// a duplicate means the relay already has the event
		if !ok && !normalize.Duplicate.IsPrefix(reason) {
			res = &RejectedError{Relay: r.url, Reason: reason}
		}
		select {
		case result <- res:
		default:
		}
	})
	defer r.okCallbacks.Delete(id)
	if err = <-r.Write(env.Marshal(nil)); err != nil {
		return
	}
	select {
	case err = <-result:
		return
	case <-c.Done():
		return c.Err()
	case <-r.Ctx.Done():
		return ErrConnectionClosed
	}
}

// Subscribe sends a "REQ" command to the relay r as in NIP-01. Events are
// returned through the channel sub.Events. The subscription is closed when
// context c is cancelled ("CLOSE" in NIP-01).
//
// Remember to cancel subscriptions, either by calling `.Unsub()` on them or
// ensuring their context will be canceled at some point.
func (r *Client) Subscribe(c context.T, ff ...*filter.T) (sub *Subscription,
	err error) {
	if r.conn == nil {
		return nil, errorf.E("must call .Connect() before .Subscribe()")
	}
	current := subscriptionIDCounter.Add(1)
	ctx, cancel := context.Cancel(c)
	sub = &Subscription{
		id:                "zs:" + strconv.Itoa(int(current)),
		Relay:             r,
		Context:           ctx,
		cancel:            cancel,
		Events:            make(event.C),
		EndOfStoredEvents: make(chan struct{}),
		ClosedReason:      make(chan string, 1),
		Filters:           ff,
	}
	r.Subscriptions.Store(sub.id, sub)
	// start handling events, eose, unsub etc:
	go sub.start()
	if err = sub.Fire(); err != nil {
		return nil, errorf.E("couldn't subscribe at %s: %w", r.url, err)
	}
	return
}

// QuerySync collects the stored events matching f until EOSE or until the
// context is done.
func (r *Client) QuerySync(c context.T, f *filter.T) (evs []*event.T,
	err error) {
	var sub *Subscription
	if sub, err = r.Subscribe(c, f); err != nil {
		return
	}
	defer sub.Unsub()
	if _, ok := c.Deadline(); !ok {
		// if no timeout is set, force it to 7 seconds
		var cancel context.F
		c, cancel = context.Timeout(c, 7*time.Second)
		defer cancel()
	}
	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			evs = append(evs, ev)
		case <-sub.EndOfStoredEvents:
			return
		case reason := <-sub.ClosedReason:
			err = errorf.E("subscription closed by %s: %s", r.url, reason)
			return
		case <-c.Done():
			return
		}
	}
}

// Close ends the connection and every subscription on it.
func (r *Client) Close() error {
	r.closeMutex.Lock()
	defer r.closeMutex.Unlock()
	if r.cancel == nil {
		return errorf.E("relay not connected")
	}
	r.cancel()
	r.cancel = nil
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}
