package zap

import (
	"strconv"
	"strings"

	"zapsplit.lol/chk"
	"zapsplit.lol/errorf"
	"zapsplit.lol/event"
	"zapsplit.lol/hex"
	"zapsplit.lol/keys"
	"zapsplit.lol/kind"
	"zapsplit.lol/lnurl"
	"zapsplit.lol/msat"
	"zapsplit.lol/signer"
	"zapsplit.lol/tag"
	"zapsplit.lol/tags"
)

// Target is the content being zapped and where its creator takes payment.
type Target struct {
	// Event is the zapped event. Only its id, pubkey, kind and d tag are used.
	Event *event.T
	// LightningAddress is the creator's LNURL or lightning address.
	LightningAddress string
}

// PointerTag is the a tag of an addressable event, kind:pubkey:d, or nil if
// the event has no d tag.
func PointerTag(ev *event.T) tag.T {
	if ev == nil || len(ev.Pubkey) != 32 {
		return nil
	}
	d := ev.Tags.GetFirst("d")
	if d.Value() == "" {
		return nil
	}
	return tag.New("a", strconv.Itoa(ev.Kind.ToInt())+":"+ev.PubKeyString()+":"+
		d.Value())
}

// ZapRequest describes the kind 9734 event sent along with an invoice request.
type ZapRequest struct {
	Recipient string // hex pubkey
	Target    *event.T
	Amount    msat.T
	Comment   string
	Lnurl     string
	Relays    []string
}

// Event assembles the unsigned zap request event.
func (z *ZapRequest) Event() (ev *event.T) {
	t := tags.New()
	if z.Recipient != "" {
		t = t.Append("p", z.Recipient)
	}
	if z.Target != nil && len(z.Target.ID) > 0 {
		t = t.Append("e", z.Target.IDString())
	}
	if a := PointerTag(z.Target); a != nil {
		t = append(t, a)
	}
	if z.Lnurl != "" {
		t = t.Append("lnurl", z.Lnurl)
	}
	t = t.Append("amount", z.Amount.String())
	if len(z.Relays) > 0 {
		t = t.Append(append([]string{"relays"}, z.Relays...)...)
	}
	return event.New(kind.ZapRequest, z.Comment, t)
}

// Sign builds, signs and serializes the zap request.
func (z *ZapRequest) Sign(sign signer.I) (s string, err error) {
	if sign == nil {
		err = errorf.E("a signer is required to sign zap requests")
		return
	}
	ev := z.Event()
	if err = ev.Sign(sign); chk.E(err) {
		return
	}
	s = string(ev.Serialize())
	return
}

// recipientPubkey picks the pubkey a zap request is addressed to: the one the
// pay service names, then the creator of the zapped event, then the
// platform's own.
func recipientPubkey(r Recipient, d *lnurl.PayDescriptor, target *event.T,
	platform string) string {
	if d != nil && hex.Is32(d.NostrPubkey) {
		return strings.ToLower(d.NostrPubkey)
	}
	switch r {
	case Creator:
		if target != nil && len(target.Pubkey) == 32 {
			return target.PubKeyString()
		}
	case Platform:
		if platform == "" {
			return ""
		}
		pk, err := keys.DecodePublicKey(platform)
		if chk.D(err) {
			return ""
		}
		return hex.Enc(pk)
	}
	return ""
}

// lnurlTag is the bech32 LNURL of a recipient: the address itself when it
// already is one, otherwise the encoding of its pay URL.
func lnurlTag(ref *lnurl.PayRef) string {
	if ref == nil {
		return ""
	}
	if ref.Type == lnurl.Lud06 {
		return strings.ToLower(strings.TrimSpace(ref.Address))
	}
	s, err := lnurl.EncodeLnurl(ref.URL)
	if chk.D(err) {
		return ""
	}
	return s
}
