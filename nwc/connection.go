package nwc

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"lukechampine.com/frand"

	"zapsplit.lol/chk"
	"zapsplit.lol/context"
	"zapsplit.lol/encryption"
	"zapsplit.lol/errorf"
	"zapsplit.lol/event"
	"zapsplit.lol/filter"
	"zapsplit.lol/hex"
	"zapsplit.lol/kind"
	"zapsplit.lol/log"
	"zapsplit.lol/p256k"
	"zapsplit.lol/signer"
	"zapsplit.lol/tags"
	"zapsplit.lol/timestamp"
)

// Connection is the live session with one wallet, identified by the
// normalized URI. It outlives relay reconnects: the budget and encryption
// state stay with it until it is closed.
type Connection struct {
	URI    *URI
	Budget *BudgetTracker
	Enc    *EncryptionState

	cfg       *config
	sign      signer.I
	walletPub []byte
	ciphers   map[string]encryption.Scheme
	pending   *registry

	ctx    context.T
	cancel context.F

	mx        sync.Mutex
	transport Transport
	stopSub   context.F
	dialing   singleflight.Group
	infoing   singleflight.Group
	closed    atomic.Bool
}

func newConnection(u *URI, cfg *config) (conn *Connection, err error) {
	conn = &Connection{
		URI:     u,
		Enc:     NewEncryptionState(cfg.schemes, cfg.preferModern),
		cfg:     cfg,
		ciphers: map[string]encryption.Scheme{},
		pending: newRegistry(),
	}
	if u.HasBudget {
		conn.Budget = NewBudgetTracker(u.Budget, u.Renewal)
	}
	if conn.walletPub, err = hex.Dec(u.WalletPubkey); chk.E(err) {
		return
	}
	var sk []byte
	if sk, err = hex.Dec(u.Secret); chk.E(err) {
		return
	}
	sign := &p256k.Signer{}
	if err = sign.InitSec(sk); chk.E(err) {
		return
	}
	conn.sign = sign
	for _, name := range cfg.schemes {
		if s := encryption.New(name, sign); s != nil {
			conn.ciphers[s.Name()] = s
		}
	}
	conn.pending.onSettle = func() { cfg.metrics.PendingDelta(-1) }
	conn.ctx, conn.cancel = context.Cancel(context.Bg())
	return
}

// Signer is the client key of the connection, used for requests and zap
// requests alike.
func (conn *Connection) Signer() signer.I { return conn.sign }

// Relays are the relays the wallet listens on.
func (conn *Connection) Relays() []string { return conn.URI.Relays }

// Capabilities are the methods the wallet info event lists.
func (conn *Connection) Capabilities() []string { return conn.Enc.Capabilities() }

// Pending counts requests waiting for a response.
func (conn *Connection) Pending() int { return conn.pending.len() }

// Closed reports whether Close has been called.
func (conn *Connection) Closed() bool { return conn.closed.Load() }

// connect makes sure a transport is up with the response subscription
// running. Concurrent callers share one attempt.
func (conn *Connection) connect(c context.T) (err error) {
	if conn.closed.Load() {
		return ErrConnectionClosed
	}
	conn.mx.Lock()
	up := conn.transport != nil
	conn.mx.Unlock()
	if up {
		return
	}
	_, err, _ = conn.dialing.Do("", func() (_ any, err error) {
		conn.mx.Lock()
		up := conn.transport != nil
		conn.mx.Unlock()
		if up {
			return
		}
		var t Transport
		if t, err = conn.cfg.dial(c, conn.URI.Relays, conn.sign); err != nil {
			return
		}
		f := filter.New([]kind.T{kind.WalletResponse}, conn.URI.WalletPubkey).
			WithTag(Tags.P, conn.URI.ClientPubkey)
		f.Since = timestamp.Now() - 60
		subCtx, stop := context.Cancel(conn.ctx)
		var evs <-chan *event.T
		if evs, err = t.Subscribe(subCtx, f); err != nil {
			stop()
			chk.D(t.Close())
			return
		}
		conn.mx.Lock()
		conn.transport, conn.stopSub = t, stop
		conn.mx.Unlock()
		go conn.readLoop(t, evs)
		return
	})
	return
}

// readLoop handles responses until the subscription ends. When that happens
// without the connection being closed the relay went away: outstanding
// requests fail and the next request dials again.
func (conn *Connection) readLoop(t Transport, evs <-chan *event.T) {
	for ev := range evs {
		conn.handleResponse(ev)
	}
	conn.mx.Lock()
	if conn.transport == t {
		conn.transport = nil
		conn.stopSub = nil
	}
	conn.mx.Unlock()
	if !conn.closed.Load() {
		log.W.F("wallet relay connection for %s dropped", conn.URI.WalletPubkey)
		chk.D(t.Close())
		conn.pending.rejectAll(ErrConnectionClosed)
	}
}

func (conn *Connection) handleResponse(ev *event.T) {
	if ev.Kind != kind.WalletResponse || ev.PubKeyString() != conn.URI.WalletPubkey {
		return
	}
	requestID := ev.Tags.Value(Tags.E)
	p, known := conn.pending.lookup(requestID)
	order := conn.decryptOrder(ev, p)
	var plaintext string
	var err error
	for _, name := range order {
		if plaintext, err = conn.ciphers[name].Decrypt(ev.Content,
			conn.walletPub); err == nil {
			break
		}
		log.T.F("response %s does not decrypt with %s: %v", ev.IDString(), name, err)
	}
	if err != nil {
		if known {
			conn.pending.settle(p, result{err: errorf.D(
				"could not decrypt wallet response: %w", err)})
		}
		return
	}
	var resp *Response
	if resp, err = ParseResponse([]byte(plaintext)); err != nil {
		if known {
			conn.pending.settle(p, result{err: err})
		}
		return
	}
	if !known {
		if p, known = conn.pending.lookup(resp.ID); !known {
			log.T.F("dropping wallet response %s for unknown request", ev.IDString())
			return
		}
	}
	if resp.Error != nil {
		conn.pending.settle(p, result{resp: resp, err: resp.Error})
		return
	}
	conn.pending.settle(p, result{resp: resp})
}

// decryptOrder lists the schemes to try on a response: the one it names,
// the one its request used, the selected one and then the rest.
func (conn *Connection) decryptOrder(ev *event.T, p *pending) (order []string) {
	add := func(name string) {
		name = encryption.Normalize(name)
		if _, ok := conn.ciphers[name]; !ok {
			return
		}
		for _, o := range order {
			if o == name {
				return
			}
		}
		order = append(order, name)
	}
	add(ev.Tags.Value(Tags.Encryption))
	if p != nil {
		add(p.scheme)
	}
	add(conn.Enc.Selected())
	for _, name := range conn.cfg.schemes {
		add(name)
	}
	return
}

// ensureInfo fetches the wallet info event once per connection. Not finding
// one is not an error.
func (conn *Connection) ensureInfo(c context.T) {
	if conn.Enc.InfoLoaded() {
		return
	}
	conn.infoing.Do("", func() (any, error) {
		if conn.Enc.InfoLoaded() {
			return nil, nil
		}
		conn.mx.Lock()
		t := conn.transport
		conn.mx.Unlock()
		if t == nil {
			return nil, nil
		}
		ctx, cancel := context.Timeout(c, conn.cfg.infoTimeout)
		defer cancel()
		ev, err := t.QueryLatest(ctx, filter.New([]kind.T{kind.WalletInfo},
			conn.URI.WalletPubkey).WithLimit(1))
		if err != nil {
			log.D.F("wallet info for %s: %v", conn.URI.WalletPubkey, err)
		}
		if ev != nil && ev.PubKeyString() != conn.URI.WalletPubkey {
			ev = nil
		}
		conn.Enc.SetInfo(ev)
		return nil, nil
	})
}

// Request sends one wallet request and waits for its response, applying
// the encryption fallbacks: a modern request that times out is repeated once
// with legacy, and a scheme the wallet rejects is dropped and the request
// repeated once under the next negotiated scheme.
func (conn *Connection) Request(c context.T, method string, params Params) (
	resp *Response, err error) {
	if err = conn.connect(c); err != nil {
		return
	}
	conn.ensureInfo(c)
	var scheme string
	if scheme, err = conn.Enc.Negotiate(); err != nil {
		return
	}
	resp, err = conn.roundTrip(c, method, params, scheme)
	switch {
	case err == nil:
		conn.Enc.Select(scheme)
	case errors.Is(err, ErrRequestTimedOut):
		next, ok := conn.Enc.FallbackAfterTimeout(scheme)
		if !ok {
			return
		}
		log.I.F("%s request timed out with %s, retrying with %s", method,
			scheme, next)
		conn.cfg.metrics.ObserveFallback(scheme, next, "timeout")
		if resp, err = conn.roundTrip(c, method, params, next); err == nil {
			conn.Enc.Select(next)
		}
	case errors.Is(err, ErrUnsupportedEncryption):
		conn.Enc.MarkUnsupported(scheme)
		next, nerr := conn.Enc.Negotiate()
		if nerr != nil || next == scheme {
			return
		}
		log.I.F("wallet refused %s, retrying %s with %s", scheme, method, next)
		conn.cfg.metrics.ObserveFallback(scheme, next, "unsupported")
		resp, err = conn.roundTrip(c, method, params, next)
	}
	return
}

func (conn *Connection) roundTrip(c context.T, method string, params Params,
	scheme string) (resp *Response, err error) {
	cipher, ok := conn.ciphers[scheme]
	if !ok {
		err = errorf.D("%s: %w", scheme, ErrNoCompatibleEncryption)
		return
	}
	id := hex.Enc(frand.Bytes(16))
	payload := Request{ID: id, Method: method, Params: params}.Marshal(nil)
	var content string
	if content, err = cipher.Encrypt(string(payload), conn.walletPub); chk.E(err) {
		return
	}
	ev := event.New(kind.WalletRequest, content, tags.New().
		Append(Tags.P, conn.URI.WalletPubkey).
		Append(Tags.Encryption, scheme))
	if err = ev.Sign(conn.sign); chk.E(err) {
		return
	}
	conn.mx.Lock()
	t := conn.transport
	conn.mx.Unlock()
	if t == nil {
		err = ErrConnectionClosed
		return
	}
	start := time.Now()
	p := conn.pending.add(ev.IDString(), id, scheme, conn.cfg.requestTimeout)
	conn.cfg.metrics.PendingDelta(1)
	log.D.F("sending %s request %s (%s) to wallet %s", method, ev.IDString(),
		scheme, conn.URI.WalletPubkey)
	go conn.publish(t, p, ev)
	var res result
	select {
	case res = <-p.done:
	case <-c.Done():
		conn.pending.settle(p, result{err: c.Err()})
		res = <-p.done
	}
	resp, err = res.resp, res.err
	conn.cfg.metrics.ObserveWalletRequest(method, outcome(err), time.Since(start))
	return
}

// publish sends the request event. A relay refusing it or a dead connection
// fails the request at once; anything else is left to the request timer.
func (conn *Connection) publish(t Transport, p *pending, ev *event.T) {
	ctx, cancel := context.Timeout(conn.ctx, conn.cfg.requestTimeout)
	defer cancel()
	err := t.Publish(ctx, ev)
	switch {
	case err == nil:
	case errors.Is(err, ErrRelayRejected), errors.Is(err, ErrConnectionClosed):
		conn.pending.settle(p, result{err: err})
	default:
		log.D.F("publishing wallet request %s: %v", ev.IDString(), err)
	}
}

func outcome(err error) string {
	var we *WalletError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrRequestTimedOut):
		return "timeout"
	case errors.Is(err, ErrRelayRejected):
		return "rejected"
	case errors.Is(err, ErrConnectionClosed):
		return "closed"
	case errors.As(err, &we):
		return "wallet_error"
	}
	return "error"
}

// PayInvoice pays an invoice, enforcing the budget of the connection.
// amountSats, when positive, is the amount the budget is charged; otherwise
// it is taken from the params or the invoice itself.
func (conn *Connection) PayInvoice(c context.T, params *PayInvoiceParams,
	amountSats int64) (res *PayInvoiceResult, err error) {
	if params == nil {
		err = errorf.E("an invoice is required to request payment")
		return
	}
	charge, known := resolveCharge(amountSats, params)
	if conn.Budget != nil {
		if err = conn.Budget.Reserve(charge, known); err != nil {
			conn.cfg.metrics.ObserveBudgetRejection()
			log.I.Ln(err)
			return
		}
	}
	var resp *Response
	if resp, err = conn.Request(c, Methods.PayInvoice, params); err != nil {
		if conn.Budget != nil {
			if known {
				conn.Budget.Release(charge)
			}
			if IsBudgetExhaustion(err) {
				log.W.F("wallet %s reports its budget is exhausted",
					conn.URI.WalletPubkey)
				conn.Budget.MarkExhausted()
			}
		}
		return
	}
	if conn.Budget != nil && known {
		conn.Budget.Commit(charge)
	}
	res = &PayInvoiceResult{}
	err = resp.Decode(res)
	return
}

// GetInfo asks the wallet to describe itself.
func (conn *Connection) GetInfo(c context.T) (res *GetInfoResult, err error) {
	var resp *Response
	if resp, err = conn.Request(c, Methods.GetInfo, nil); err != nil {
		return
	}
	res = &GetInfoResult{}
	err = resp.Decode(res)
	return
}

// GetBalance asks the wallet for its spendable balance.
func (conn *Connection) GetBalance(c context.T) (res *GetBalanceResult, err error) {
	var resp *Response
	if resp, err = conn.Request(c, Methods.GetBalance, nil); err != nil {
		return
	}
	res = &GetBalanceResult{}
	err = resp.Decode(res)
	return
}

// Close drops the relay connection and fails outstanding requests with
// ErrConnectionClosed.
func (conn *Connection) Close() (err error) {
	if conn.closed.Swap(true) {
		return
	}
	conn.cancel()
	conn.mx.Lock()
	t, stop := conn.transport, conn.stopSub
	conn.transport, conn.stopSub = nil, nil
	conn.mx.Unlock()
	if stop != nil {
		stop()
	}
	if t != nil {
		err = t.Close()
	}
	conn.pending.rejectAll(ErrConnectionClosed)
	return
}
