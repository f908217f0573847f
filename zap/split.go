// Package zap splits a zap between a creator and the platform and pays both
// shares through the viewer's wallet, one LNURL invoice per share.
package zap

import (
	"errors"
	"strings"
	"time"

	"zapsplit.lol/bech32"
	"zapsplit.lol/context"
	"zapsplit.lol/errorf"
	"zapsplit.lol/lnurl"
	"zapsplit.lol/log"
	"zapsplit.lol/metrics"
	"zapsplit.lol/msat"
	"zapsplit.lol/nwc"
	"zapsplit.lol/signer"
)

// Recipient says who a share is for.
type Recipient string

const (
	Creator  Recipient = "creator"
	Platform Recipient = "platform"
)

// Status is the outcome of one share.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Lnurl fetches pay descriptors and invoices.
type Lnurl interface {
	FetchPayServiceData(c context.T, u string) (*lnurl.PayDescriptor, error)
	RequestInvoice(c context.T, d *lnurl.PayDescriptor,
		req lnurl.InvoiceRequest) (*lnurl.Invoice, error)
}

// Wallet pays invoices for the viewer and signs their zap requests.
type Wallet interface {
	Signer() signer.I
	Relays() []string
	PayInvoice(c context.T, params *nwc.PayInvoiceParams,
		amountSats int64) (*nwc.PayInvoiceResult, error)
}

// Wallets hands out the wallet for the caller's settings.
type Wallets interface {
	EnsureWallet(c context.T, s nwc.Settings) (Wallet, error)
}

// Addresses provides the platform lightning address.
type Addresses interface {
	Address(c context.T, forceRefresh bool) (string, error)
}

// NWC serves wallets from a wallet connect client.
func NWC(cl *nwc.Client) Wallets { return nwcWallets{cl} }

type nwcWallets struct{ cl *nwc.Client }

func (w nwcWallets) EnsureWallet(c context.T, s nwc.Settings) (Wallet, error) {
	conn, err := w.cl.EnsureWallet(c, s)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Deps are the collaborators of a Splitter. Validator is optional; without
// one receipts of paid shares are not looked up.
type Deps struct {
	Lnurl     Lnurl
	Wallets   Wallets
	Platform  Addresses
	Validator Validator
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithFeePercent sets the default platform fee.
func WithFeePercent(f float64) Option {
	return func(s *Splitter) { s.feePercent = ClampPercent(f) }
}

// WithPlatformPubkey sets the hex or npub key platform zap requests are
// addressed to when the pay service names none.
func WithPlatformPubkey(pk string) Option {
	return func(s *Splitter) { s.platformPubkey = strings.TrimSpace(pk) }
}

// WithZapRelays sets the relays listed in zap requests when the wallet has
// none.
func WithZapRelays(relays ...string) Option {
	return func(s *Splitter) { s.zapRelays = relays }
}

// WithMetrics records share outcomes.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Splitter) { s.metrics = m } }

// WithClock replaces the time source of retry states.
func WithClock(now func() time.Time) Option { return func(s *Splitter) { s.now = now } }

// Splitter runs split zaps.
type Splitter struct {
	deps           Deps
	feePercent     float64
	platformPubkey string
	zapRelays      []string
	metrics        *metrics.Metrics
	now            func() time.Time
}

// New creates a Splitter.
func New(deps Deps, opts ...Option) (s *Splitter) {
	s = &Splitter{deps: deps, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return
}

// Request is one zap as the viewer asked for it.
type Request struct {
	Target     *Target
	AmountSats int64
	Comment    string
	Wallet     nwc.Settings
	// FeeOverride replaces the configured fee for this zap only.
	FeeOverride *float64
}

// Share is an amount of sats owed to one recipient.
type Share struct {
	Recipient Recipient
	Address   string
	Amount    uint64
}

// Receipt records how paying one share went.
type Receipt struct {
	Share
	Ref        *lnurl.PayRef
	Descriptor *lnurl.PayDescriptor
	Invoice    *lnurl.Invoice
	Payment    *nwc.PayInvoiceResult
	ZapRequest string
	Status     Status
	Err        error
	// Validation is the zap receipt check of a paid share, nil when no
	// validator is configured.
	Validation *Validation
}

// Result is the outcome of a zap: its split, a receipt per paid share and
// the shares left to retry, if any.
type Result struct {
	Shares
	Receipts []Receipt
	Retry    *RetryState
}

// RetryState holds the failed shares of an attempt with what is needed to
// pay them again.
type RetryState struct {
	Target    *Target
	Comment   string
	Wallet    nwc.Settings
	Shares    []Share
	CreatedAt time.Time
}

// NewRetryState collects the failed shares with a positive amount, or
// returns nil when there are none.
func NewRetryState(target *Target, comment string, wallet nwc.Settings,
	receipts []Receipt, now time.Time) *RetryState {
	var failed []Share
	for _, r := range receipts {
		if r.Status != StatusSuccess && r.Amount > 0 {
			failed = append(failed, r.Share)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &RetryState{Target: target, Comment: comment, Wallet: wallet,
		Shares: failed, CreatedAt: now}
}

// Outcome sums up a set of receipts.
type Outcome string

const (
	Success Outcome = "success"
	Partial Outcome = "partial"
	Failed  Outcome = "failed"
)

// Summarize classifies receipts as all paid, some paid or none paid.
func Summarize(receipts []Receipt) Outcome {
	var ok int
	for _, r := range receipts {
		if r.Status == StatusSuccess {
			ok++
		}
	}
	switch {
	case ok == 0:
		return Failed
	case ok == len(receipts):
		return Success
	}
	return Partial
}

// SplitAndZap runs one zap with a Splitter built from deps and opts.
func SplitAndZap(c context.T, req Request, deps Deps, opts ...Option) (*Result,
	error) {
	return New(deps, opts...).SplitAndZap(c, req)
}

// Retry replays a retry state with a Splitter built from deps and opts.
func Retry(c context.T, state *RetryState, deps Deps, opts ...Option) (*Result,
	error) {
	return New(deps, opts...).Retry(c, state)
}

// SplitAndZap splits the amount, then resolves, invoices and pays the creator
// share and the platform share in that order. A share failing does not stop
// the other; it ends up as an error receipt and in the retry state. Only a
// malformed creator address aborts the call.
func (s *Splitter) SplitAndZap(c context.T, req Request) (res *Result, err error) {
	if req.Target == nil || req.Target.Event == nil {
		err = ErrMissingTarget
		return
	}
	if req.AmountSats <= 0 {
		err = errorf.D("%d: %w", req.AmountSats, ErrInvalidAmount)
		return
	}
	creator := strings.TrimSpace(req.Target.LightningAddress)
	if creator == "" {
		err = ErrMissingCreatorAddress
		return
	}
	comment := strings.TrimSpace(req.Comment)
	var w Wallet
	if w, err = s.wallet(c, req.Wallet); err != nil {
		return
	}
	fee := s.feePercent
	if req.FeeOverride != nil {
		fee = *req.FeeOverride
	}
	split := Split(uint64(req.AmountSats), fee)
	var platform string
	if split.Platform > 0 {
		if platform, err = s.platformAddress(c); err != nil {
			return
		}
	}
	log.I.F("zapping %d sats: %d to creator %s, %d to platform (%v%%)",
		split.Total, split.Creator, creator, split.Platform, split.FeePercent)
	var shares []Share
	if split.Creator > 0 {
		shares = append(shares, Share{Recipient: Creator, Address: creator,
			Amount: split.Creator})
	}
	if split.Platform > 0 {
		shares = append(shares, Share{Recipient: Platform, Address: platform,
			Amount: split.Platform})
	}
	var receipts []Receipt
	if receipts, err = s.pay(c, w, req.Target, comment, shares); err != nil {
		return
	}
	res = &Result{
		Shares:   split,
		Receipts: receipts,
		Retry:    NewRetryState(req.Target, comment, req.Wallet, receipts, s.now()),
	}
	s.metrics.ObserveZap(string(Summarize(receipts)))
	return
}

// Retry pays the shares of a retry state again with the same target and
// comment. Shares that fail again make up the returned retry state. A nil or
// empty state is a no-op.
func (s *Splitter) Retry(c context.T, state *RetryState) (res *Result, err error) {
	res = &Result{}
	if state == nil || len(state.Shares) == 0 {
		return
	}
	var w Wallet
	if w, err = s.wallet(c, state.Wallet); err != nil {
		return
	}
	for _, sh := range state.Shares {
		res.Total += sh.Amount
		switch sh.Recipient {
		case Platform:
			res.Platform += sh.Amount
		default:
			res.Creator += sh.Amount
		}
	}
	log.I.F("retrying %d failed share(s) totalling %d sats", len(state.Shares),
		res.Total)
	if res.Receipts, err = s.pay(c, w, state.Target, state.Comment,
		state.Shares); err != nil {
		return nil, err
	}
	res.Retry = NewRetryState(state.Target, state.Comment, state.Wallet,
		res.Receipts, s.now())
	s.metrics.ObserveZap(string(Summarize(res.Receipts)))
	return
}

func (s *Splitter) wallet(c context.T, settings nwc.Settings) (w Wallet, err error) {
	if s.deps.Wallets == nil {
		err = errorf.E("no wallet is configured")
		return
	}
	return s.deps.Wallets.EnsureWallet(c, settings)
}

func (s *Splitter) platformAddress(c context.T) (address string, err error) {
	if s.deps.Platform == nil {
		err = ErrPlatformAddressUnavailable
		return
	}
	if address, err = s.deps.Platform.Address(c, false); err != nil {
		if !errors.Is(err, ErrPlatformAddressUnavailable) {
			err = errorf.D("%w: %w", ErrPlatformAddressUnavailable, err)
		}
		return
	}
	if address = strings.TrimSpace(address); address == "" {
		err = ErrPlatformAddressUnavailable
	}
	return
}

// pay processes shares in order. A malformed creator address is returned as
// the error of the whole call.
func (s *Splitter) pay(c context.T, w Wallet, target *Target, comment string,
	shares []Share) (receipts []Receipt, err error) {
	for _, sh := range shares {
		r := s.processShare(c, w, target, comment, sh)
		if sh.Recipient == Creator && malformed(r.Err) {
			err = r.Err
			return
		}
		s.metrics.ObserveShare(string(r.Recipient), string(r.Status), r.Amount)
		receipts = append(receipts, r)
	}
	return
}

func malformed(err error) bool {
	return errors.Is(err, lnurl.ErrUnsupportedFormat) ||
		errors.Is(err, lnurl.ErrInvalidFormat) ||
		errors.Is(err, bech32.ErrMalformedInput) ||
		errors.Is(err, bech32.ErrExcessPadding)
}

func (s *Splitter) processShare(c context.T, w Wallet, target *Target,
	comment string, sh Share) (r Receipt) {
	r = Receipt{Share: sh, Status: StatusError}
	var err error
	defer func() {
		if err != nil {
			r.Err = err
			log.W.F("%s share of %d sats to %s failed: %v", sh.Recipient,
				sh.Amount, sh.Address, err)
		}
	}()
	if r.Ref, err = lnurl.ResolveLightningAddress(sh.Address); err != nil {
		return
	}
	if s.deps.Lnurl == nil {
		err = errorf.E("no LNURL client is configured")
		return
	}
	if r.Descriptor, err = s.deps.Lnurl.FetchPayServiceData(c,
		r.Ref.URL); err != nil {
		return
	}
	var amount msat.T
	if amount, err = lnurl.ValidateInvoiceAmount(r.Descriptor,
		int64(sh.Amount)); err != nil {
		return
	}
	if r.Descriptor.AllowsNostr || r.Descriptor.NostrPubkey != "" {
		ev := target.Event
		if pk := recipientPubkey(sh.Recipient, r.Descriptor, ev,
			s.platformPubkey); pk != "" {
			zr := &ZapRequest{
				Recipient: pk,
				Target:    ev,
				Amount:    amount,
				Comment:   comment,
				Lnurl:     lnurlTag(r.Ref),
				Relays:    s.relays(w),
			}
			if r.ZapRequest, err = zr.Sign(w.Signer()); err != nil {
				return
			}
		}
	}
	if r.Invoice, err = s.deps.Lnurl.RequestInvoice(c, r.Descriptor,
		lnurl.InvoiceRequest{
			AmountMsats: amount,
			Comment:     comment,
			ZapRequest:  r.ZapRequest,
		}); err != nil {
		return
	}
	var params *nwc.PayInvoiceParams
	if params, err = nwc.BuildPayInvoiceParams(r.Invoice.Invoice,
		nwc.PaymentOptions{
			AmountSats: int64(sh.Amount),
			ZapRequest: r.ZapRequest,
			Lnurl:      lnurlTag(r.Ref),
		}); err != nil {
		return
	}
	if r.Payment, err = w.PayInvoice(c, params, int64(sh.Amount)); err != nil {
		return
	}
	r.Status = StatusSuccess
	log.I.F("paid %s share of %d sats to %s", sh.Recipient, sh.Amount, sh.Address)
	if s.deps.Validator != nil {
		r.Validation = s.deps.Validator.ValidateReceipt(c, ReceiptCheck{
			ZapRequest: r.ZapRequest,
			AmountSats: sh.Amount,
			Descriptor: r.Descriptor,
			Invoice:    r.Invoice.Invoice,
		})
		s.metrics.ObserveReceipt(string(sh.Recipient), string(r.Validation.Status))
		if r.Validation.Failed() {
			log.W.F("%s share zap receipt not confirmed: %s", sh.Recipient,
				r.Validation.Reason)
		}
	}
	return
}

// relays are the relays a zap request names: the wallet's, or the
// configured ones when it has none.
func (s *Splitter) relays(w Wallet) []string {
	if relays := w.Relays(); len(relays) > 0 {
		return relays
	}
	return s.zapRelays
}
