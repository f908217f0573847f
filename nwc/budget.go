package nwc

import (
	"maps"
	"math"
	"strconv"
	"strings"
	"sync"

	"zapsplit.lol/msat"
)

// BudgetTracker accounts for spending against the allowance a wallet
// connect URI was issued with. A payment reserves its charge before it is
// sent and either commits or releases it once the wallet answers, so
// payments in flight count against the allowance. Spent never exceeds the
// total and once exhausted a tracker stays exhausted.
type BudgetTracker struct {
	mx        sync.Mutex
	total     msat.T
	spent     msat.T
	reserved  msat.T
	exhausted bool
	renewal   map[string]string
}

// NewBudgetTracker creates a tracker for an allowance of total millisats.
func NewBudgetTracker(total msat.T, renewal map[string]string) *BudgetTracker {
	return &BudgetTracker{total: total, renewal: maps.Clone(renewal)}
}

func (b *BudgetTracker) Total() msat.T {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.total
}

func (b *BudgetTracker) Spent() msat.T {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.spent
}

// Reserved is the sum of charges of payments still in flight.
func (b *BudgetTracker) Reserved() msat.T {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.reserved
}

// Remaining is the allowance left after spent and reserved charges, zero
// once exhausted.
func (b *BudgetTracker) Remaining() msat.T {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.remaining()
}

func (b *BudgetTracker) remaining() msat.T {
	if b.exhausted || b.spent+b.reserved >= b.total {
		return 0
	}
	return b.total - b.spent - b.reserved
}

func (b *BudgetTracker) Exhausted() bool {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.exhausted
}

// Renewal returns a copy of the budget renewal parameters of the URI.
func (b *BudgetTracker) Renewal() map[string]string {
	b.mx.Lock()
	defer b.mx.Unlock()
	return maps.Clone(b.renewal)
}

// SetRenewal replaces the renewal parameters. The totals are untouched.
func (b *BudgetTracker) SetRenewal(renewal map[string]string) {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.renewal = maps.Clone(renewal)
}

// Reserve holds a charge against the allowance, refusing one that does not
// fit what is left. An unknown charge reserves nothing and only fails when
// the tracker is exhausted.
func (b *BudgetTracker) Reserve(charge msat.T, known bool) error {
	b.mx.Lock()
	defer b.mx.Unlock()
	remaining := b.remaining()
	if b.exhausted || (known && charge > remaining) {
		return &BudgetExceededError{Requested: charge, Remaining: remaining}
	}
	if known {
		b.reserved += charge
	}
	return nil
}

// Commit turns a reserved charge into spend once the wallet has paid.
func (b *BudgetTracker) Commit(charge msat.T) {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.release(charge)
	if charge >= b.total-b.spent {
		b.spent = b.total
	} else {
		b.spent += charge
	}
	if b.spent >= b.total {
		b.exhausted = true
	}
}

// Release drops a reserved charge for a payment that did not go through.
func (b *BudgetTracker) Release(charge msat.T) {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.release(charge)
}

func (b *BudgetTracker) release(charge msat.T) {
	if charge >= b.reserved {
		b.reserved = 0
	} else {
		b.reserved -= charge
	}
}

// MarkExhausted is called when the wallet reports the allowance is gone.
func (b *BudgetTracker) MarkExhausted() {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.exhausted = true
}

// resolveCharge finds the amount a pay_invoice request will spend: the
// caller's sats, then the params amount, then the invoice amount.
func resolveCharge(amountSats int64, p *PayInvoiceParams) (charge msat.T, known bool) {
	if amountSats > 0 && amountSats <= math.MaxInt64/msat.PerSat {
		return msat.FromSats(uint64(amountSats)), true
	}
	if p == nil {
		return
	}
	if p.Amount > 0 {
		return p.Amount, true
	}
	return InvoiceAmount(p.Invoice)
}

var currencies = []string{"bcrt", "tbs", "bc", "tb", "sb"}

// InvoiceAmount decodes the amount in the human readable part of a BOLT11
// invoice. It reports false for invoices without an amount or that do not
// parse.
func InvoiceAmount(invoice string) (amount msat.T, ok bool) {
	s := strings.ToLower(strings.TrimSpace(invoice))
	s = strings.TrimPrefix(s, "lightning:")
	sep := strings.LastIndexByte(s, '1')
	if sep < 2 || !strings.HasPrefix(s, "ln") {
		return
	}
	hrp, found := s[2:sep], false
	for _, cur := range currencies {
		if strings.HasPrefix(hrp, cur) {
			hrp, found = hrp[len(cur):], true
			break
		}
	}
	if !found || hrp == "" {
		return
	}
	// msats per unit of the multiplier; pico is handled separately
	var per uint64
	digits := hrp
	switch hrp[len(hrp)-1] {
	case 'm':
		per, digits = 100_000_000, hrp[:len(hrp)-1]
	case 'u':
		per, digits = 100_000, hrp[:len(hrp)-1]
	case 'n':
		per, digits = 100, hrp[:len(hrp)-1]
	case 'p':
		digits = hrp[:len(hrp)-1]
	default:
		per = 100_000_000_000
	}
	if digits == "" || digits[0] == '0' {
		return
	}
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return
	}
	if per == 0 {
		if n%10 != 0 {
			return
		}
		return msat.T(n / 10), true
	}
	if n > math.MaxUint64/per {
		return
	}
	return msat.T(n * per), true
}
