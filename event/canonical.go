package event

import (
	"zapsplit.lol/hex"
	"zapsplit.lol/sha256"
	"zapsplit.lol/text"
)

// ToCanonical converts the event to the canonical encoding used to derive the
// event ID.
func (ev *T) ToCanonical(dst []byte) (b []byte) {
	b = dst
	b = append(b, "[0,\""...)
	b = hex.EncAppend(b, ev.Pubkey)
	b = append(b, "\","...)
	b = ev.CreatedAt.Marshal(b)
	b = append(b, ',')
	b = appendUint(b, uint64(ev.Kind))
	b = append(b, ',')
	b = ev.Tags.Marshal(b)
	b = append(b, ',')
	b = text.AppendQuote(b, []byte(ev.Content), text.NostrEscape)
	b = append(b, ']')
	return
}

// GetIDBytes returns the raw SHA256 hash of the canonical form of an event.T.
func (ev *T) GetIDBytes() []byte { return sha256.Hash(ev.ToCanonical(nil)) }

func appendUint(dst []byte, v uint64) []byte {
	var buf [20]byte
	i := len(buf)
	for {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
		if v == 0 {
			break
		}
	}
	return append(dst, buf[i:]...)
}
