package nwc

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapsplit.lol/context"
	"zapsplit.lol/metrics"
	"zapsplit.lol/msat"
)

const paid = `{"result_type":"pay_invoice","result":{"preimage":"00","fees_paid":3000}}`

func newTestClient(w *fakeWallet, opts ...Option) *Client {
	return New(append([]Option{
		WithDialer(w.dialer),
		WithInfoTimeout(100 * time.Millisecond),
	}, opts...)...)
}

func silent(string, walletRequest) reply { return reply{} }

func TestSendPaymentBudget(t *testing.T) {
	w := newFakeWallet(t)
	w.advertise("pay_invoice", "nip04")
	params := make(chan json.RawMessage, 1)
	w.handler = func(scheme string, req walletRequest) reply {
		assert.Equal(t, Legacy, scheme)
		assert.Equal(t, Methods.PayInvoice, req.Method)
		params <- req.Params
		return reply{body: paid}
	}
	cl := newTestClient(w)
	ctx := context.Bg()
	uri := w.uri("&budget=1000")

	res, err := cl.SendPayment(ctx, Settings{URI: uri}, " lnbc1budgettest ",
		PaymentOptions{AmountSats: 1})
	require.NoError(t, err)
	assert.Equal(t, "00", res.Preimage)
	assert.Equal(t, msat.T(3000), res.FeesPaid)
	assert.JSONEq(t, `{"invoice":"lnbc1budgettest","amount":1000}`, string(<-params))

	conn := cl.Current()
	require.NotNil(t, conn.Budget)
	assert.Equal(t, msat.T(1000), conn.Budget.Total())
	assert.Equal(t, msat.T(1000), conn.Budget.Spent())

	_, err = cl.SendPayment(ctx, Settings{URI: uri}, "lnbc1budgettest",
		PaymentOptions{AmountSats: 1})
	require.ErrorIs(t, err, ErrBudgetExceeded)
	var be *BudgetExceededError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, BudgetExhaustedCode, be.Code())
	assert.True(t, conn.Budget.Exhausted())
	assert.Len(t, w.requests(), 1)

	next, err := cl.EnsureWallet(ctx, Settings{URI: w.uri("&budget=5000")})
	require.NoError(t, err)
	assert.NotSame(t, conn, next)
	assert.True(t, conn.Closed())
	assert.Equal(t, msat.T(5000), next.Budget.Total())
	assert.Equal(t, msat.T(0), next.Budget.Spent())
	assert.False(t, next.Budget.Exhausted())
}

func TestConcurrentPaymentsShareBudget(t *testing.T) {
	w := newFakeWallet(t)
	w.advertise("pay_invoice", "nip04")
	w.handler = func(string, walletRequest) reply {
		time.Sleep(100 * time.Millisecond)
		return reply{body: paid}
	}
	cl := newTestClient(w)
	ctx := context.Bg()
	s := Settings{URI: w.uri("&budget=1000")}
	conn, err := cl.EnsureWallet(ctx, s)
	require.NoError(t, err)

	const payers = 3
	errs := make([]error, payers)
	var wg sync.WaitGroup
	for i := range payers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = cl.SendPayment(ctx, s, "lnbc10n1xyz",
				PaymentOptions{AmountSats: 1})
		}()
	}
	wg.Wait()

	var succeeded, refused int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrBudgetExceeded):
			refused++
		default:
			t.Errorf("unexpected error %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, payers-1, refused)
	assert.Len(t, w.requests(), 1)
	assert.Equal(t, msat.T(1000), conn.Budget.Spent())
	assert.Equal(t, msat.T(0), conn.Budget.Reserved())
}

func TestFailedPaymentReleasesBudget(t *testing.T) {
	w := newFakeWallet(t)
	w.advertise("pay_invoice", "nip04")
	w.handler = func(string, walletRequest) reply {
		return reply{body: `{"result_type":"pay_invoice","error":{"code":"PAYMENT_FAILED","message":"no route"}}`}
	}
	cl := newTestClient(w)
	s := Settings{URI: w.uri("&budget=1000")}
	_, err := cl.SendPayment(context.Bg(), s, "lnbc10n1xyz",
		PaymentOptions{AmountSats: 1})
	var we *WalletError
	require.ErrorAs(t, err, &we)
	conn := cl.Current()
	assert.Equal(t, msat.T(0), conn.Budget.Reserved())
	assert.Equal(t, msat.T(0), conn.Budget.Spent())
	assert.Equal(t, msat.T(1000), conn.Budget.Remaining())
	assert.False(t, conn.Budget.Exhausted())
}

func TestUnmeteredPayment(t *testing.T) {
	w := newFakeWallet(t)
	w.advertise("pay_invoice", "nip04")
	cl := newTestClient(w)
	_, err := cl.SendPayment(context.Bg(), Settings{URI: w.uri("")}, "lnbc10u1xyz",
		PaymentOptions{})
	require.NoError(t, err)
	assert.Nil(t, cl.Current().Budget)
}

func TestRequestTimeout(t *testing.T) {
	w := newFakeWallet(t)
	w.advertise("pay_invoice", "nip04")
	w.handler = silent
	cl := newTestClient(w, WithRequestTimeout(50*time.Millisecond))
	_, err := cl.SendPayment(context.Bg(), Settings{URI: w.uri("")}, "lnbc10n1xyz",
		PaymentOptions{})
	require.ErrorIs(t, err, ErrRequestTimedOut)
	conn := cl.Current()
	assert.Equal(t, 0, conn.Pending())
	reqs := w.requests()
	require.Len(t, reqs, 1)
	assert.False(t, conn.pending.has(reqs[0].IDString()))
}

func TestTimeoutFallsBackToLegacy(t *testing.T) {
	w := newFakeWallet(t)
	w.handler = func(scheme string, req walletRequest) reply {
		if scheme == Modern {
			return reply{}
		}
		return reply{body: paid}
	}
	m := metrics.New(prometheus.NewRegistry())
	cl := newTestClient(w, WithPreferModern(true),
		WithRequestTimeout(100*time.Millisecond), WithMetrics(m))
	_, err := cl.SendPayment(context.Bg(), Settings{URI: w.uri("")}, "lnbc10n1xyz",
		PaymentOptions{})
	require.NoError(t, err)
	reqs := w.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, Modern, reqs[0].Tags.Value(Tags.Encryption))
	assert.Equal(t, Legacy, reqs[1].Tags.Value(Tags.Encryption))
	assert.Equal(t, Legacy, cl.Current().Enc.Selected())
	assert.Equal(t, 1.0, promtest.ToFloat64(
		m.EncryptionFallbacksTotal.WithLabelValues(Modern, Legacy, "timeout")))
	assert.Equal(t, 1.0, promtest.ToFloat64(
		m.WalletRequestsTotal.WithLabelValues(Methods.PayInvoice, "timeout")))
	assert.Equal(t, 1.0, promtest.ToFloat64(
		m.WalletRequestsTotal.WithLabelValues(Methods.PayInvoice, "success")))
	assert.Equal(t, 0.0, promtest.ToFloat64(m.WalletPendingRequests))
}

func TestUnsupportedEncryptionRetry(t *testing.T) {
	w := newFakeWallet(t)
	w.advertise("pay_invoice", "nip44_v2 nip04")
	w.handler = func(scheme string, req walletRequest) reply {
		if scheme == Modern {
			return reply{
				body:   `{"result_type":"pay_invoice","error":{"code":"UNSUPPORTED_ENCRYPTION","message":"nope"}}`,
				scheme: Legacy,
			}
		}
		return reply{body: paid}
	}
	cl := newTestClient(w)
	_, err := cl.SendPayment(context.Bg(), Settings{URI: w.uri("")}, "lnbc10n1xyz",
		PaymentOptions{})
	require.NoError(t, err)
	conn := cl.Current()
	assert.True(t, conn.Enc.IsUnsupported(Modern))
	assert.Equal(t, Legacy, conn.Enc.Selected())
	assert.Len(t, w.requests(), 2)

	_, err = cl.SendPayment(context.Bg(), Settings{URI: w.uri("")}, "lnbc10n1xyz",
		PaymentOptions{})
	require.NoError(t, err)
	reqs := w.requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, Legacy, reqs[2].Tags.Value(Tags.Encryption))
}

func TestResponseMatchedByPayloadID(t *testing.T) {
	w := newFakeWallet(t)
	w.advertise("pay_invoice", "nip44_v2")
	w.handler = func(scheme string, req walletRequest) reply {
		return reply{
			body:   `{"id":"` + req.ID + `","result_type":"pay_invoice","result":{"preimage":"ff"}}`,
			noETag: true,
		}
	}
	cl := newTestClient(w)
	res, err := cl.SendPayment(context.Bg(), Settings{URI: w.uri("")}, "lnbc10n1xyz",
		PaymentOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ff", res.Preimage)
}

func TestWalletBudgetErrorMarksExhausted(t *testing.T) {
	w := newFakeWallet(t)
	w.advertise("pay_invoice", "nip04")
	w.handler = func(string, walletRequest) reply {
		return reply{body: `{"result_type":"pay_invoice","error":{"code":"OTHER","message":"Budget allowance exceeded"}}`}
	}
	cl := newTestClient(w)
	uri := w.uri("&budget=100000")
	_, err := cl.SendPayment(context.Bg(), Settings{URI: uri}, "lnbc10n1xyz",
		PaymentOptions{})
	var we *WalletError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "OTHER", we.Code)
	conn := cl.Current()
	assert.True(t, conn.Budget.Exhausted())
	assert.Equal(t, msat.T(0), conn.Budget.Spent())

	_, err = cl.SendPayment(context.Bg(), Settings{URI: uri}, "lnbc10n1xyz",
		PaymentOptions{})
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Len(t, w.requests(), 1)
}

func TestRelayRejected(t *testing.T) {
	w := newFakeWallet(t)
	w.advertise("pay_invoice", "nip04")
	w.reject.Store("blocked: not allowed")
	cl := newTestClient(w, WithRequestTimeout(5*time.Second))
	start := time.Now()
	_, err := cl.SendPayment(context.Bg(), Settings{URI: w.uri("")}, "lnbc10n1xyz",
		PaymentOptions{})
	require.ErrorIs(t, err, ErrRelayRejected)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 0, cl.Current().Pending())
}

func TestConnectionDropRedials(t *testing.T) {
	w := newFakeWallet(t)
	w.advertise("pay_invoice", "nip04")
	var calls atomic.Int32
	w.handler = func(string, walletRequest) reply {
		if calls.Add(1) == 1 {
			w.drop()
			return reply{}
		}
		return reply{body: paid}
	}
	cl := newTestClient(w, WithRequestTimeout(5*time.Second))
	_, err := cl.SendPayment(context.Bg(), Settings{URI: w.uri("")}, "lnbc10n1xyz",
		PaymentOptions{})
	require.ErrorIs(t, err, ErrConnectionClosed)
	conn := cl.Current()

	require.Eventually(t, func() bool {
		conn.mx.Lock()
		defer conn.mx.Unlock()
		return conn.transport == nil
	}, 2*time.Second, 5*time.Millisecond)

	_, err = cl.SendPayment(context.Bg(), Settings{URI: w.uri("")}, "lnbc10n1xyz",
		PaymentOptions{})
	require.NoError(t, err)
	assert.Same(t, conn, cl.Current())
	assert.Equal(t, 2, w.dialCount())
}

func TestEnsureWalletReuse(t *testing.T) {
	w := newFakeWallet(t)
	cl := newTestClient(w)
	ctx := context.Bg()
	first, err := cl.EnsureWallet(ctx, Settings{URI: w.uri("&budget=5000&budget_renewal=daily")})
	require.NoError(t, err)
	second, err := cl.EnsureWallet(ctx, Settings{URI: w.uri("&budget=5000&budget_renewal=weekly")})
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, "weekly", second.Budget.Renewal()["budget_renewal"])
	assert.Equal(t, 1, w.dialCount())

	third, err := cl.EnsureWallet(ctx, Settings{URI: w.uri("")})
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.True(t, first.Closed())
	assert.Nil(t, third.Budget)

	_, err = cl.EnsureWallet(ctx, Settings{URI: "nwc://bogus"})
	assert.ErrorIs(t, err, ErrInvalidURI)
	assert.Same(t, third, cl.Current())
}

func TestResetRejectsPending(t *testing.T) {
	w := newFakeWallet(t)
	w.advertise("pay_invoice", "nip04")
	w.handler = silent
	cl := newTestClient(w, WithRequestTimeout(5*time.Second))
	errs := make(chan error, 1)
	go func() {
		_, err := cl.SendPayment(context.Bg(), Settings{URI: w.uri("")}, "lnbc10n1xyz",
			PaymentOptions{})
		errs <- err
	}()
	require.Eventually(t, func() bool {
		conn := cl.Current()
		return conn != nil && conn.Pending() == 1
	}, 2*time.Second, 5*time.Millisecond)
	conn := cl.Current()
	require.NoError(t, cl.Reset())
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrConnectionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending payment was not rejected on reset")
	}
	assert.Equal(t, 0, conn.Pending())
	assert.Nil(t, cl.Current())
	_, err := conn.GetBalance(context.Bg())
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestContextCancel(t *testing.T) {
	w := newFakeWallet(t)
	w.advertise("pay_invoice", "nip04")
	w.handler = silent
	cl := newTestClient(w, WithRequestTimeout(5*time.Second))
	ctx, cancel := context.Timeout(context.Bg(), 50*time.Millisecond)
	defer cancel()
	_, err := cl.SendPayment(ctx, Settings{URI: w.uri("")}, "lnbc10n1xyz",
		PaymentOptions{})
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Equal(t, 0, cl.Current().Pending())
}

func TestGetInfo(t *testing.T) {
	w := newFakeWallet(t)
	w.advertise("pay_invoice get_info get_balance", "nip44_v2")
	w.handler = func(scheme string, req walletRequest) reply {
		assert.Equal(t, Modern, scheme)
		switch req.Method {
		case Methods.GetInfo:
			return reply{body: `{"result_type":"get_info","result":{"alias":"fake","methods":["pay_invoice","get_info"]}}`}
		case Methods.GetBalance:
			return reply{body: `{"result_type":"get_balance","result":{"balance":21000}}`}
		}
		return reply{body: `{"error":{"code":"NOT_IMPLEMENTED","message":"no"}}`}
	}
	cl := newTestClient(w)
	conn, err := cl.EnsureWallet(context.Bg(), Settings{URI: w.uri("")})
	require.NoError(t, err)
	gi, err := conn.GetInfo(context.Bg())
	require.NoError(t, err)
	assert.Equal(t, "fake", gi.Alias)
	assert.Equal(t, []string{"pay_invoice", "get_info"}, gi.Methods)
	assert.Equal(t, []string{"pay_invoice", "get_info", "get_balance"}, conn.Capabilities())
	bal, err := conn.GetBalance(context.Bg())
	require.NoError(t, err)
	assert.Equal(t, msat.T(21000), bal.Balance)
	_, err = conn.Request(context.Bg(), Methods.MakeInvoice, nil)
	var we *WalletError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, Errors.NotImplemented, we.Code)
}
