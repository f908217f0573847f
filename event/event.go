// Package event is the nostr event: the signed envelope for zap requests and
// wallet connect messages.
package event

import (
	"zapsplit.lol/chk"
	"zapsplit.lol/hex"
	"zapsplit.lol/kind"
	"zapsplit.lol/tags"
	"zapsplit.lol/timestamp"
)

// T is the primary datatype of nostr. This is the form of the structure that
// defines its JSON string based format.
type T struct {
	// ID is the SHA256 hash of the canonical encoding of the event in binary format
	ID []byte
	// Pubkey is the public key of the event creator in binary format
	Pubkey []byte
	// CreatedAt is the UNIX timestamp of the event according to the event
	// creator (never trust a timestamp!)
	CreatedAt timestamp.T
	// Kind is the nostr protocol code for the type of event. See kind.T
	Kind kind.T
	// Tags are a list of tags, which are a list of strings usually structured
	// as a 3 layer scheme indicating specific features of an event.
	Tags tags.T
	// Content is an arbitrary string that can contain anything, but usually
	// conforming to the NIP that defines the Kind and the Tags.
	Content string
	// Sig is the signature on the ID hash that validates as coming from the
	// Pubkey in binary format.
	Sig []byte
}

// C is a channel of events, as delivered to a subscription.
type C chan *T

// New creates an unsigned event of the given kind stamped with the current
// time.
func New(k kind.T, content string, t ...tags.T) (ev *T) {
	ev = &T{Kind: k, Content: content, CreatedAt: timestamp.Now()}
	for _, tt := range t {
		ev.Tags = append(ev.Tags, tt...)
	}
	return
}

func (ev *T) IDString() (s string)     { return hex.Enc(ev.ID) }
func (ev *T) PubKeyString() (s string) { return hex.Enc(ev.Pubkey) }
func (ev *T) SigString() (s string)    { return hex.Enc(ev.Sig) }

// J is the JSON form of the event with its binary fields as hex strings.
type J struct {
	ID        string     `json:"id"`
	Pubkey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      uint16     `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// ToEventJ converts the event to its string field form.
func (ev *T) ToEventJ() (j *J) {
	j = &J{
		ID:        ev.IDString(),
		Pubkey:    ev.PubKeyString(),
		CreatedAt: ev.CreatedAt.I64(),
		Kind:      uint16(ev.Kind),
		Tags:      make([][]string, len(ev.Tags)),
		Content:   ev.Content,
		Sig:       ev.SigString(),
	}
	for i, t := range ev.Tags {
		j.Tags[i] = []string(t)
	}
	return
}

// FromEventJ decodes the hex fields of j into ev.
func (ev *T) FromEventJ(j *J) (err error) {
	if ev.ID, err = hex.Dec(j.ID); chk.D(err) {
		return
	}
	if ev.Pubkey, err = hex.Dec(j.Pubkey); chk.D(err) {
		return
	}
	if ev.Sig, err = hex.Dec(j.Sig); chk.D(err) {
		return
	}
	ev.CreatedAt = timestamp.T(j.CreatedAt)
	ev.Kind = kind.T(j.Kind)
	ev.Content = j.Content
	ev.Tags = make(tags.T, len(j.Tags))
	for i, t := range j.Tags {
		ev.Tags[i] = t
	}
	return
}
