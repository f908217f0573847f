package zap

import (
	"bytes"
	"strings"
	"time"

	"zapsplit.lol/bech32"
	"zapsplit.lol/context"
	"zapsplit.lol/event"
	"zapsplit.lol/filter"
	"zapsplit.lol/keys"
	"zapsplit.lol/kind"
	"zapsplit.lol/lnurl"
	"zapsplit.lol/log"
	"zapsplit.lol/msat"
	"zapsplit.lol/nwc"
	"zapsplit.lol/sha256"
)

// ValidationStatus is the outcome of looking for the zap receipt of a paid
// share.
type ValidationStatus string

const (
	ValidationPassed  ValidationStatus = "passed"
	ValidationFailed  ValidationStatus = "failed"
	ValidationSkipped ValidationStatus = "skipped"
)

// Validation says whether the pay service published a receipt matching the
// zap request of a share.
type Validation struct {
	Status ValidationStatus
	Reason string
	// Event is the matching receipt when Status is ValidationPassed.
	Event *event.T
	// Relays are the relays that were asked.
	Relays []string
}

// Failed reports whether a receipt was looked for and not found valid.
func (v *Validation) Failed() bool { return v != nil && v.Status == ValidationFailed }

// ReceiptCheck is what is known about a paid share when its receipt is
// looked up.
type ReceiptCheck struct {
	ZapRequest string
	AmountSats uint64
	Descriptor *lnurl.PayDescriptor
	Invoice    string
}

// Validator confirms the zap receipt of a paid share.
type Validator interface {
	ValidateReceipt(c context.T, rc ReceiptCheck) *Validation
}

// Querier finds the newest event matching a filter on any of the relays. A
// ws.Pool is one.
type Querier interface {
	QueryLatest(c context.T, urls []string, f *filter.T) (*event.T, error)
}

// ReceiptValidator looks up zap receipts on the relays a zap request names.
type ReceiptValidator struct {
	relays  Querier
	timeout time.Duration
}

// NewReceiptValidator creates a validator querying q, giving up on the relays
// after timeout. A timeout of zero leaves it to the caller's context.
func NewReceiptValidator(q Querier, timeout time.Duration) *ReceiptValidator {
	return &ReceiptValidator{relays: q, timeout: timeout}
}

func failed(reason string, relays []string) *Validation {
	return &Validation{Status: ValidationFailed, Reason: reason, Relays: relays}
}

// ValidateReceipt checks that the invoice commits to the zap request and
// carries the share amount, then that a receipt signed by the pay service's
// nostr key names both the invoice and the zap request. Without a zap request
// there is nothing to check.
func (v *ReceiptValidator) ValidateReceipt(c context.T, rc ReceiptCheck) *Validation {
	if rc.ZapRequest == "" {
		return &Validation{Status: ValidationSkipped,
			Reason: "zap request was not provided"}
	}
	zr := &event.T{}
	if err := zr.UnmarshalJSON([]byte(rc.ZapRequest)); err != nil {
		return failed("zap request could not be parsed", nil)
	}
	relays := requestRelays(zr)
	if len(relays) == 0 {
		return failed("zap request did not name any relays", nil)
	}
	invoice := strings.ToLower(strings.TrimSpace(rc.Invoice))
	if invoice == "" {
		return failed("zap invoice was not available", relays)
	}
	hash, ok := DescriptionHash(invoice)
	if !ok {
		return failed("zap invoice has no description hash", relays)
	}
	if !bytes.Equal(hash, sha256.Hash([]byte(rc.ZapRequest))) {
		return failed("zap invoice description hash does not match the zap request",
			relays)
	}
	if rc.AmountSats > 0 {
		amount, known := nwc.InvoiceAmount(invoice)
		if !known {
			return failed("zap invoice amount could not be determined", relays)
		}
		if amount != msat.FromSats(rc.AmountSats) {
			return failed("zap invoice amount does not match the share", relays)
		}
	}
	var provider string
	if rc.Descriptor != nil {
		provider = strings.ToLower(strings.TrimSpace(rc.Descriptor.NostrPubkey))
	}
	if !keys.IsValidPublicKey(provider) {
		return failed("pay service has no nostrPubkey to check the receipt against",
			relays)
	}
	if v.relays == nil {
		return failed("no relays are available to look up receipts", relays)
	}
	if v.timeout > 0 {
		var cancel context.F
		c, cancel = context.Timeout(c, v.timeout)
		defer cancel()
	}
	f := filter.New([]kind.T{kind.ZapReceipt}, provider).
		WithTag("bolt11", invoice).
		WithLimit(10)
	ev, err := v.relays.QueryLatest(c, relays, f)
	if err != nil {
		log.D.F("zap receipt lookup failed: %v", err)
	}
	if ev == nil {
		return failed("no zap receipt was published on the requested relays", relays)
	}
	if !compliant(ev, provider, invoice, rc.ZapRequest) {
		return failed("no compliant zap receipt matched the zap request", relays)
	}
	return &Validation{Status: ValidationPassed, Event: ev, Relays: relays}
}

func compliant(ev *event.T, provider, invoice, zapRequest string) bool {
	if ev.Kind != kind.ZapReceipt || ev.PubKeyString() != provider {
		return false
	}
	if valid, err := ev.Verify(); err != nil || !valid {
		return false
	}
	var billed bool
	for _, t := range ev.Tags.GetAll("bolt11") {
		if strings.ToLower(strings.TrimSpace(t.Value())) == invoice {
			billed = true
			break
		}
	}
	return billed && ev.Tags.Value("description") == zapRequest
}

// requestRelays are the distinct relays of the relays tag of a zap request.
func requestRelays(zr *event.T) (relays []string) {
	t := zr.Tags.GetFirst("relays")
	if len(t) < 2 {
		return
	}
	seen := map[string]bool{}
	for _, r := range t[1:] {
		if r = strings.TrimSpace(r); r != "" && !seen[r] {
			seen[r] = true
			relays = append(relays, r)
		}
	}
	return
}

const (
	// timestampWords is the length of the BOLT11 timestamp in 5 bit words.
	timestampWords = 7
	// signatureWords is the length of the recoverable signature.
	signatureWords = 104
	// descriptionHashField is 'h' in the bech32 charset.
	descriptionHashField = 23
)

// DescriptionHash extracts the description hash field of a BOLT11 invoice.
func DescriptionHash(invoice string) (hash []byte, ok bool) {
	_, words, err := bech32.Decode(invoice)
	if err != nil || len(words) <= signatureWords+timestampWords {
		return
	}
	words = words[:len(words)-signatureWords]
	for i := timestampWords; i < len(words); {
		field := words[i]
		if i+2 >= len(words) {
			return
		}
		n := int(words[i+1])<<5 | int(words[i+2])
		i += 3
		if i+n > len(words) {
			return
		}
		if field == descriptionHashField {
			if hash, err = bech32.ConvertBits(words[i:i+n], 5, 8, false); err != nil {
				return nil, false
			}
			return hash, len(hash) == 32
		}
		i += n
	}
	return
}
