package event

import (
	"encoding/json"

	"zapsplit.lol/chk"
	"zapsplit.lol/hex"
	"zapsplit.lol/text"
)

// Marshal appends the event as a JSON object to a provided destination slice.
// Strings use the nostr escaping rules, so the content matches what went
// into the ID hash byte for byte.
func (ev *T) Marshal(dst []byte) (b []byte) {
	b = append(dst, `{"id":`...)
	b = text.AppendQuote(b, ev.ID, hex.EncAppend)
	b = append(b, `,"pubkey":`...)
	b = text.AppendQuote(b, ev.Pubkey, hex.EncAppend)
	b = append(b, `,"created_at":`...)
	b = ev.CreatedAt.Marshal(b)
	b = append(b, `,"kind":`...)
	b = appendUint(b, uint64(ev.Kind))
	b = append(b, `,"tags":`...)
	b = ev.Tags.Marshal(b)
	b = append(b, `,"content":`...)
	b = text.AppendQuote(b, []byte(ev.Content), text.NostrEscape)
	b = append(b, `,"sig":`...)
	b = text.AppendQuote(b, ev.Sig, hex.EncAppend)
	b = append(b, '}')
	return
}

// Serialize renders the event as JSON.
func (ev *T) Serialize() (b []byte) { return ev.Marshal(nil) }

// MarshalJSON implements json.Marshaler.
func (ev *T) MarshalJSON() ([]byte, error) { return ev.Marshal(nil), nil }

// UnmarshalJSON implements json.Unmarshaler.
func (ev *T) UnmarshalJSON(b []byte) (err error) {
	var j J
	if err = json.Unmarshal(b, &j); chk.D(err) {
		return
	}
	return ev.FromEventJ(&j)
}
