package nwc

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapsplit.lol/context"
	"zapsplit.lol/encryption"
	"zapsplit.lol/errorf"
	"zapsplit.lol/event"
	"zapsplit.lol/filter"
	"zapsplit.lol/hex"
	"zapsplit.lol/keys"
	"zapsplit.lol/kind"
	"zapsplit.lol/p256k"
	"zapsplit.lol/signer"
	"zapsplit.lol/tags"
)

// reply is what the fake wallet answers a request with.
type reply struct {
	// body is the plaintext response; empty means no answer.
	body string
	// scheme overrides the encryption of the answer.
	scheme string
	// noETag leaves out the e tag so only the payload id correlates.
	noETag bool
}

type walletRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// fakeWallet is an in-memory wallet and relay behind the Transport
// interface.
type fakeWallet struct {
	t       *testing.T
	sign    *p256k.Signer
	pubkey  string
	secret  string
	info    *event.T
	reject  atomic.Value
	handler func(scheme string, req walletRequest) reply

	mx        sync.Mutex
	subs      map[chan *event.T]*filter.T
	published []*event.T
	dials     int
}

func newFakeWallet(t *testing.T) (w *fakeWallet) {
	w = &fakeWallet{t: t, sign: &p256k.Signer{}, subs: map[chan *event.T]*filter.T{}}
	require.NoError(t, w.sign.Generate())
	w.pubkey = hex.Enc(w.sign.Pub())
	var err error
	w.secret, err = keys.GenerateSecretKeyHex()
	require.NoError(t, err)
	w.handler = func(string, walletRequest) reply {
		return reply{body: `{"result_type":"pay_invoice","result":{"preimage":"00"}}`}
	}
	return
}

func (w *fakeWallet) uri(extra string) string {
	return "nostr+walletconnect://" + w.pubkey + "?relay=wss://relay.example&secret=" +
		w.secret + extra
}

// advertise publishes a wallet info event.
func (w *fakeWallet) advertise(content string, schemes ...string) {
	ev := info(content, schemes...)
	require.NoError(w.t, ev.Sign(w.sign))
	w.info = ev
}

func (w *fakeWallet) dialer(c context.T, relays []string, _ signer.I) (Transport,
	error) {
	w.mx.Lock()
	defer w.mx.Unlock()
	w.dials++
	return &fakeTransport{w: w}, nil
}

func (w *fakeWallet) requests() (evs []*event.T) {
	w.mx.Lock()
	defer w.mx.Unlock()
	return append(evs, w.published...)
}

func (w *fakeWallet) dialCount() int {
	w.mx.Lock()
	defer w.mx.Unlock()
	return w.dials
}

// drop ends every subscription as a relay disconnect would.
func (w *fakeWallet) drop() {
	w.mx.Lock()
	defer w.mx.Unlock()
	for ch := range w.subs {
		close(ch)
		delete(w.subs, ch)
	}
}

func (w *fakeWallet) deliver(ev *event.T) {
	w.mx.Lock()
	defer w.mx.Unlock()
	for ch, f := range w.subs {
		if f.Matches(ev) {
			ch <- ev
		}
	}
}

func (w *fakeWallet) answer(req *event.T) {
	scheme := encryption.Normalize(req.Tags.Value(Tags.Encryption))
	if scheme == "" {
		scheme = Legacy
	}
	client := encryption.New(scheme, w.sign)
	plaintext, err := client.Decrypt(req.Content, req.Pubkey)
	if !assert.NoError(w.t, err) {
		return
	}
	var wr walletRequest
	if !assert.NoError(w.t, json.Unmarshal([]byte(plaintext), &wr)) {
		return
	}
	r := w.handler(scheme, wr)
	if r.body == "" {
		return
	}
	if r.scheme != "" {
		scheme = r.scheme
	}
	content, err := encryption.New(scheme, w.sign).Encrypt(r.body, req.Pubkey)
	if !assert.NoError(w.t, err) {
		return
	}
	t := tags.New().Append(Tags.P, req.PubKeyString())
	if !r.noETag {
		t = t.Append(Tags.E, req.IDString())
	}
	resp := event.New(kind.WalletResponse, content, t)
	if !assert.NoError(w.t, resp.Sign(w.sign)) {
		return
	}
	w.deliver(resp)
}

type fakeTransport struct {
	w      *fakeWallet
	closed atomic.Bool
}

func (ft *fakeTransport) Publish(c context.T, ev *event.T) error {
	if ft.closed.Load() {
		return ErrConnectionClosed
	}
	if reason, _ := ft.w.reject.Load().(string); reason != "" {
		return errorf.D("%s: %w", reason, ErrRelayRejected)
	}
	ft.w.mx.Lock()
	ft.w.published = append(ft.w.published, ev)
	ft.w.mx.Unlock()
	go ft.w.answer(ev)
	return nil
}

func (ft *fakeTransport) Subscribe(c context.T, f *filter.T) (<-chan *event.T, error) {
	ch := make(chan *event.T, 16)
	ft.w.mx.Lock()
	ft.w.subs[ch] = f
	ft.w.mx.Unlock()
	go func() {
		<-c.Done()
		ft.w.mx.Lock()
		defer ft.w.mx.Unlock()
		if _, ok := ft.w.subs[ch]; ok {
			close(ch)
			delete(ft.w.subs, ch)
		}
	}()
	return ch, nil
}

func (ft *fakeTransport) QueryLatest(c context.T, f *filter.T) (*event.T, error) {
	if ft.w.info != nil && f.Matches(ft.w.info) {
		return ft.w.info, nil
	}
	return nil, nil
}

func (ft *fakeTransport) Close() error {
	ft.closed.Store(true)
	return nil
}
