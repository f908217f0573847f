package zap

import (
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/frand"

	"zapsplit.lol/context"
	"zapsplit.lol/event"
	"zapsplit.lol/hex"
	"zapsplit.lol/keys"
	"zapsplit.lol/kind"
	"zapsplit.lol/lnurl"
	"zapsplit.lol/metrics"
	"zapsplit.lol/msat"
	"zapsplit.lol/nwc"
	"zapsplit.lol/p256k"
	"zapsplit.lol/signer"
	"zapsplit.lol/tags"
)

const (
	aliceURL    = "https://example.com/.well-known/lnurlp/alice"
	platformURL = "https://platform.example/.well-known/lnurlp/tips"
)

type fakeLnurl struct {
	descriptors map[string]*lnurl.PayDescriptor
	requests    []lnurl.InvoiceRequest
}

func newFakeLnurl() *fakeLnurl {
	return &fakeLnurl{descriptors: map[string]*lnurl.PayDescriptor{
		aliceURL: {URL: aliceURL, Tag: lnurl.PayTag,
			Callback:    "https://example.com/cb/alice",
			MinSendable: 1000, MaxSendable: 100_000_000, CommentAllowed: 100},
		platformURL: {URL: platformURL, Tag: lnurl.PayTag,
			Callback:    "https://platform.example/cb/tips",
			MinSendable: 1000, MaxSendable: 100_000_000},
	}}
}

func (f *fakeLnurl) FetchPayServiceData(c context.T, u string) (*lnurl.PayDescriptor,
	error) {
	d, ok := f.descriptors[u]
	if !ok {
		return nil, &lnurl.StatusError{URL: u, Code: 404}
	}
	return d, nil
}

func (f *fakeLnurl) RequestInvoice(c context.T, d *lnurl.PayDescriptor,
	req lnurl.InvoiceRequest) (*lnurl.Invoice, error) {
	f.requests = append(f.requests, req)
	return &lnurl.Invoice{Invoice: "lnbc-" + d.Callback, Amount: req.AmountMsats}, nil
}

type fakeWallet struct {
	sign   *p256k.Signer
	relays []string
	fail   func(p *nwc.PayInvoiceParams) error
	paid   []*nwc.PayInvoiceParams
}

func newFakeWallet(t *testing.T) *fakeWallet {
	w := &fakeWallet{sign: &p256k.Signer{}, relays: []string{"wss://relay.example"}}
	require.NoError(t, w.sign.Generate())
	return w
}

func (w *fakeWallet) Signer() signer.I { return w.sign }
func (w *fakeWallet) Relays() []string { return w.relays }
func (w *fakeWallet) failOn(s string)  { w.fail = failOn(s) }
func (w *fakeWallet) succeedAlways()   { w.fail = nil }

func (w *fakeWallet) PayInvoice(c context.T, params *nwc.PayInvoiceParams,
	amountSats int64) (*nwc.PayInvoiceResult, error) {
	w.paid = append(w.paid, params)
	if w.fail != nil {
		if err := w.fail(params); err != nil {
			return nil, err
		}
	}
	return &nwc.PayInvoiceResult{Preimage: "00"}, nil
}

func failOn(s string) func(p *nwc.PayInvoiceParams) error {
	return func(p *nwc.PayInvoiceParams) error {
		if strings.Contains(p.Invoice, s) {
			return &nwc.WalletError{Code: nwc.Errors.PaymentFailed, Message: "no route"}
		}
		return nil
	}
}

type fakeWallets struct {
	w     *fakeWallet
	calls int
}

func (f *fakeWallets) EnsureWallet(c context.T, s nwc.Settings) (Wallet, error) {
	f.calls++
	return f.w, nil
}

type countingAddress struct {
	address string
	calls   atomic.Int32
}

func (a *countingAddress) Address(c context.T, forceRefresh bool) (string, error) {
	a.calls.Add(1)
	return a.address, nil
}

func target(t *testing.T) *Target {
	author := &p256k.Signer{}
	require.NoError(t, author.Generate())
	return &Target{
		Event: &event.T{
			ID:     frand.Bytes(32),
			Pubkey: author.Pub(),
			Kind:   kind.T(30078),
			Tags:   tags.New().Append("d", "video-1"),
		},
		LightningAddress: " alice@example.com ",
	}
}

type fixture struct {
	lnurl    *fakeLnurl
	wallet   *fakeWallet
	wallets  *fakeWallets
	platform *countingAddress
}

func newFixture(t *testing.T) (f *fixture) {
	f = &fixture{lnurl: newFakeLnurl(), wallet: newFakeWallet(t),
		platform: &countingAddress{address: "tips@platform.example"}}
	f.wallets = &fakeWallets{w: f.wallet}
	return
}

func (f *fixture) deps() Deps {
	return Deps{Lnurl: f.lnurl, Wallets: f.wallets, Platform: f.platform}
}

func fee(f float64) *float64 { return &f }

func TestSplitAndZapPartialFailure(t *testing.T) {
	f := newFixture(t)
	f.wallet.failOn("platform")
	m := metrics.New(prometheus.NewRegistry())
	now := time.Unix(1700000000, 0)
	s := New(f.deps(), WithFeePercent(2), WithMetrics(m),
		WithClock(func() time.Time { return now }))
	tgt := target(t)
	wallet := nwc.Settings{URI: "nostr+walletconnect://x"}

	res, err := s.SplitAndZap(context.Bg(), Request{
		Target:      tgt,
		AmountSats:  1000,
		Comment:     "  great video ",
		Wallet:      wallet,
		FeeOverride: fee(10),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), res.Total)
	assert.Equal(t, uint64(900), res.Creator)
	assert.Equal(t, uint64(100), res.Platform)
	require.Len(t, res.Receipts, 2)

	creator, platform := res.Receipts[0], res.Receipts[1]
	assert.Equal(t, Creator, creator.Recipient)
	assert.Equal(t, StatusSuccess, creator.Status)
	assert.Equal(t, "alice@example.com", creator.Address)
	assert.Equal(t, "00", creator.Payment.Preimage)
	assert.NoError(t, creator.Err)
	assert.Equal(t, Platform, platform.Recipient)
	assert.Equal(t, StatusError, platform.Status)
	var we *nwc.WalletError
	assert.ErrorAs(t, platform.Err, &we)
	assert.Equal(t, Partial, Summarize(res.Receipts))

	require.Len(t, f.lnurl.requests, 2)
	assert.Equal(t, msat.T(900_000), f.lnurl.requests[0].AmountMsats)
	assert.Equal(t, "great video", f.lnurl.requests[0].Comment)
	assert.Equal(t, msat.T(100_000), f.lnurl.requests[1].AmountMsats)
	require.Len(t, f.wallet.paid, 2)
	assert.Equal(t, msat.T(900_000), f.wallet.paid[0].Amount)

	require.NotNil(t, res.Retry)
	assert.Equal(t, []Share{{Recipient: Platform, Address: "tips@platform.example",
		Amount: 100}}, res.Retry.Shares)
	assert.Equal(t, "great video", res.Retry.Comment)
	assert.Equal(t, wallet, res.Retry.Wallet)
	assert.Same(t, tgt, res.Retry.Target)
	assert.Equal(t, now, res.Retry.CreatedAt)

	again, err := s.Retry(context.Bg(), res.Retry)
	require.NoError(t, err)
	require.Len(t, again.Receipts, 1)
	assert.Equal(t, StatusError, again.Receipts[0].Status)
	require.NotNil(t, again.Retry)
	assert.Equal(t, res.Retry.Shares, again.Retry.Shares)
	assert.Equal(t, uint64(100), again.Total)
	assert.Equal(t, uint64(100), again.Platform)

	f.wallet.succeedAlways()
	done, err := s.Retry(context.Bg(), again.Retry)
	require.NoError(t, err)
	require.Len(t, done.Receipts, 1)
	assert.Equal(t, StatusSuccess, done.Receipts[0].Status)
	assert.Nil(t, done.Retry)
	assert.Equal(t, Success, Summarize(done.Receipts))
	assert.Equal(t, "great video", f.lnurl.requests[len(f.lnurl.requests)-1].Comment)

	assert.Equal(t, 1.0, promtest.ToFloat64(
		m.ZapSharesTotal.WithLabelValues("creator", "success")))
	assert.Equal(t, 2.0, promtest.ToFloat64(
		m.ZapSharesTotal.WithLabelValues("platform", "error")))
	assert.Equal(t, 1.0, promtest.ToFloat64(
		m.ZapSharesTotal.WithLabelValues("platform", "success")))
	assert.Equal(t, 900.0, promtest.ToFloat64(m.ZapAmountTotal.WithLabelValues("creator")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ZapOutcomeTotal.WithLabelValues("partial")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ZapOutcomeTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ZapOutcomeTotal.WithLabelValues("success")))
}

func TestRetryNothing(t *testing.T) {
	f := newFixture(t)
	res, err := Retry(context.Bg(), nil, f.deps())
	require.NoError(t, err)
	assert.Empty(t, res.Receipts)
	assert.Nil(t, res.Retry)
	assert.Equal(t, 0, f.wallets.calls)
}

func TestZeroFeeSkipsPlatform(t *testing.T) {
	f := newFixture(t)
	res, err := SplitAndZap(context.Bg(), Request{Target: target(t), AmountSats: 21},
		f.deps())
	require.NoError(t, err)
	assert.Equal(t, uint64(21), res.Creator)
	require.Len(t, res.Receipts, 1)
	assert.Equal(t, Success, Summarize(res.Receipts))
	assert.Nil(t, res.Retry)
	assert.Equal(t, int32(0), f.platform.calls.Load())
}

func TestSplitAndZapPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Bg()

	_, err := SplitAndZap(ctx, Request{AmountSats: 10}, f.deps())
	assert.ErrorIs(t, err, ErrMissingTarget)

	for _, amount := range []int64{0, -5} {
		_, err = SplitAndZap(ctx, Request{Target: target(t), AmountSats: amount}, f.deps())
		assert.ErrorIs(t, err, ErrInvalidAmount)
	}

	tgt := target(t)
	tgt.LightningAddress = "   "
	_, err = SplitAndZap(ctx, Request{Target: tgt, AmountSats: 10}, f.deps())
	assert.ErrorIs(t, err, ErrMissingCreatorAddress)
	assert.Equal(t, 0, f.wallets.calls)

	f.platform.address = " "
	_, err = SplitAndZap(ctx, Request{Target: target(t), AmountSats: 100,
		FeeOverride: fee(50)}, f.deps())
	assert.ErrorIs(t, err, ErrPlatformAddressUnavailable)
	assert.Empty(t, f.wallet.paid)

	deps := f.deps()
	deps.Platform = nil
	_, err = SplitAndZap(ctx, Request{Target: target(t), AmountSats: 100,
		FeeOverride: fee(50)}, deps)
	assert.ErrorIs(t, err, ErrPlatformAddressUnavailable)
}

func TestMalformedAddress(t *testing.T) {
	f := newFixture(t)
	tgt := target(t)
	tgt.LightningAddress = "not an address"
	res, err := SplitAndZap(context.Bg(), Request{Target: tgt, AmountSats: 100,
		FeeOverride: fee(10)}, f.deps())
	assert.ErrorIs(t, err, lnurl.ErrUnsupportedFormat)
	assert.Nil(t, res)
	assert.Empty(t, f.wallet.paid)

	f.platform.address = "lnurl1qqqqqq"
	res, err = SplitAndZap(context.Bg(), Request{Target: target(t), AmountSats: 100,
		FeeOverride: fee(10)}, f.deps())
	require.NoError(t, err)
	require.Len(t, res.Receipts, 2)
	assert.Equal(t, StatusSuccess, res.Receipts[0].Status)
	assert.Equal(t, StatusError, res.Receipts[1].Status)
	assert.Equal(t, Partial, Summarize(res.Receipts))
}

func TestMalformedPlatformAddressWholeFee(t *testing.T) {
	f := newFixture(t)
	f.platform.address = "not an address"
	res, err := SplitAndZap(context.Bg(), Request{Target: target(t), AmountSats: 100,
		FeeOverride: fee(100)}, f.deps())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), res.Creator)
	require.Len(t, res.Receipts, 1)
	assert.Equal(t, Platform, res.Receipts[0].Recipient)
	assert.ErrorIs(t, res.Receipts[0].Err, lnurl.ErrUnsupportedFormat)
	assert.Equal(t, Failed, Summarize(res.Receipts))
	require.NotNil(t, res.Retry)
	assert.Equal(t, uint64(100), res.Retry.Shares[0].Amount)
	assert.Empty(t, f.wallet.paid)
}

type fakeValidator struct {
	checks []ReceiptCheck
	status ValidationStatus
}

func (v *fakeValidator) ValidateReceipt(c context.T, rc ReceiptCheck) *Validation {
	v.checks = append(v.checks, rc)
	return &Validation{Status: v.status, Reason: "looked"}
}

func TestSplitAndZapValidatesReceipts(t *testing.T) {
	f := newFixture(t)
	f.wallet.failOn("platform")
	validator := &fakeValidator{status: ValidationFailed}
	deps := f.deps()
	deps.Validator = validator
	m := metrics.New(prometheus.NewRegistry())
	res, err := SplitAndZap(context.Bg(), Request{Target: target(t), AmountSats: 1000,
		FeeOverride: fee(10)}, deps, WithMetrics(m))
	require.NoError(t, err)
	require.Len(t, res.Receipts, 2)

	creator, platform := res.Receipts[0], res.Receipts[1]
	assert.Equal(t, StatusSuccess, creator.Status)
	require.NotNil(t, creator.Validation)
	assert.True(t, creator.Validation.Failed())
	assert.Nil(t, platform.Validation)

	require.Len(t, validator.checks, 1)
	rc := validator.checks[0]
	assert.Equal(t, uint64(900), rc.AmountSats)
	assert.Equal(t, "lnbc-https://example.com/cb/alice", rc.Invoice)
	assert.Same(t, f.lnurl.descriptors[aliceURL], rc.Descriptor)
	assert.Equal(t, 1.0, promtest.ToFloat64(
		m.ZapReceiptsTotal.WithLabelValues("creator", "failed")))
}

func TestShareAmountOutOfBounds(t *testing.T) {
	f := newFixture(t)
	f.lnurl.descriptors[platformURL].MinSendable = 1_000_000
	res, err := SplitAndZap(context.Bg(), Request{Target: target(t), AmountSats: 1000,
		FeeOverride: fee(10)}, f.deps())
	require.NoError(t, err)
	require.Len(t, res.Receipts, 2)
	assert.ErrorIs(t, res.Receipts[1].Err, lnurl.ErrAmountTooLow)
	assert.Len(t, f.wallet.paid, 1)
	assert.Len(t, f.lnurl.requests, 1)
}

func TestZapRequest(t *testing.T) {
	f := newFixture(t)
	payee := &p256k.Signer{}
	require.NoError(t, payee.Generate())
	d := f.lnurl.descriptors[aliceURL]
	d.AllowsNostr = true
	d.NostrPubkey = strings.ToUpper(hex.Enc(payee.Pub()))
	tgt := target(t)

	res, err := SplitAndZap(context.Bg(), Request{Target: tgt, AmountSats: 50,
		Comment: "nice"}, f.deps())
	require.NoError(t, err)
	require.Len(t, res.Receipts, 1)
	r := res.Receipts[0]
	require.NotEmpty(t, r.ZapRequest)
	assert.Equal(t, r.ZapRequest, f.lnurl.requests[0].ZapRequest)
	assert.Equal(t, r.ZapRequest, f.wallet.paid[0].ZapRequest)

	ev := &event.T{}
	require.NoError(t, ev.UnmarshalJSON([]byte(r.ZapRequest)))
	valid, err := ev.Verify()
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Equal(t, kind.ZapRequest, ev.Kind)
	assert.Equal(t, "nice", ev.Content)
	assert.Equal(t, f.wallet.sign.Pub(), ev.Pubkey)
	assert.Equal(t, hex.Enc(payee.Pub()), ev.Tags.Value("p"))
	assert.Equal(t, tgt.Event.IDString(), ev.Tags.Value("e"))
	assert.Equal(t, "30078:"+tgt.Event.PubKeyString()+":video-1", ev.Tags.Value("a"))
	assert.Equal(t, "50000", ev.Tags.Value("amount"))
	encoded, err := lnurl.EncodeLnurl(aliceURL)
	require.NoError(t, err)
	assert.Equal(t, encoded, ev.Tags.Value("lnurl"))
	assert.Equal(t, encoded, f.wallet.paid[0].Lnurl)
	assert.Equal(t, []string{"relays", "wss://relay.example"},
		[]string(ev.Tags.GetFirst("relays")))
}

func TestZapRequestRecipients(t *testing.T) {
	f := newFixture(t)
	f.lnurl.descriptors[aliceURL].AllowsNostr = true
	f.lnurl.descriptors[platformURL].AllowsNostr = true
	f.wallet.relays = nil
	admin := &p256k.Signer{}
	require.NoError(t, admin.Generate())
	npub, err := keys.EncodePublicKey(admin.Pub())
	require.NoError(t, err)
	tgt := target(t)

	res, err := SplitAndZap(context.Bg(), Request{Target: tgt, AmountSats: 100,
		FeeOverride: fee(10)}, f.deps(), WithPlatformPubkey(npub),
		WithZapRelays("wss://zaps.example"))
	require.NoError(t, err)
	require.Len(t, res.Receipts, 2)
	recipients := map[Recipient]string{}
	for _, r := range res.Receipts {
		ev := &event.T{}
		require.NoError(t, ev.UnmarshalJSON([]byte(r.ZapRequest)))
		recipients[r.Recipient] = ev.Tags.Value("p")
		assert.Equal(t, []string{"relays", "wss://zaps.example"},
			[]string(ev.Tags.GetFirst("relays")))
	}
	assert.Equal(t, tgt.Event.PubKeyString(), recipients[Creator])
	assert.Equal(t, hex.Enc(admin.Pub()), recipients[Platform])

	res, err = SplitAndZap(context.Bg(), Request{Target: tgt, AmountSats: 100,
		FeeOverride: fee(100)}, f.deps())
	require.NoError(t, err)
	require.Len(t, res.Receipts, 1)
	assert.Empty(t, res.Receipts[0].ZapRequest)
}

func TestPointerTag(t *testing.T) {
	assert.Nil(t, PointerTag(nil))
	ev := &event.T{Kind: 1, Pubkey: make([]byte, 32)}
	assert.Nil(t, PointerTag(ev))
	ev.Tags = tags.New().Append("d", "x")
	assert.Equal(t, []string{"a", "1:" + strings.Repeat("0", 64) + ":x"},
		[]string(PointerTag(ev)))
}

func TestPlatformAddress(t *testing.T) {
	var calls int
	next := "tips@platform.example"
	var fail error
	p := NewPlatformAddress(func(context.T) (string, error) {
		calls++
		return next, fail
	})
	ctx := context.Bg()
	a, err := p.Address(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "tips@platform.example", a)
	_, _ = p.Address(ctx, false)
	assert.Equal(t, 1, calls)

	next = " other@platform.example "
	a, err = p.Address(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, "other@platform.example", a)
	assert.Equal(t, 2, calls)

	fail = errors.New("profile lookup failed")
	_, err = p.Address(ctx, true)
	assert.ErrorIs(t, err, ErrPlatformAddressUnavailable)

	next, fail = "", nil
	a, err = p.Address(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, a)
	_, _ = p.Address(ctx, false)
	assert.Equal(t, 5, calls)

	a, err = NewPlatformAddress(StaticAddress("x@y.z")).Address(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "x@y.z", a)
	_, err = NewPlatformAddress(nil).Address(ctx, false)
	assert.ErrorIs(t, err, ErrPlatformAddressUnavailable)
}

func TestSummarize(t *testing.T) {
	ok := Receipt{Status: StatusSuccess}
	bad := Receipt{Status: StatusError}
	assert.Equal(t, Failed, Summarize(nil))
	assert.Equal(t, Failed, Summarize([]Receipt{bad}))
	assert.Equal(t, Success, Summarize([]Receipt{ok, ok}))
	assert.Equal(t, Partial, Summarize([]Receipt{ok, bad}))
}

func TestNewRetryStateSkipsZeroShares(t *testing.T) {
	rs := NewRetryState(nil, "", nwc.Settings{}, []Receipt{
		{Share: Share{Recipient: Platform, Amount: 0}, Status: StatusError},
		{Share: Share{Recipient: Creator, Amount: 5}, Status: StatusSuccess},
	}, time.Now())
	assert.Nil(t, rs)
}
