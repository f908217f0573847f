// Package kind enumerates the nostr event kinds used by zaps and wallet
// connect.
package kind

import (
	"strconv"
)

// T - which will be externally referenced as kind.T is the event type in the
// nostr protocol.
type T uint16

const (
	// ZapRequest is the unpublished event that rides along with an LNURL
	// invoice request to describe who is being zapped.
	ZapRequest T = 9734
	// ZapReceipt is the event a zap provider publishes after payment.
	ZapReceipt T = 9735
	// ClientAuth is the ephemeral event answering a relay AUTH challenge.
	ClientAuth T = 22242
	// WalletInfo is the replaceable event where a wallet service advertises
	// its methods and encryption schemes.
	WalletInfo T = 13194
	// WalletRequest carries an encrypted command from client to wallet.
	WalletRequest T = 23194
	// WalletResponse carries the encrypted reply from wallet to client.
	WalletResponse T = 23195
)

var names = map[T]string{
	ZapRequest:     "ZapRequest",
	ZapReceipt:     "ZapReceipt",
	ClientAuth:     "ClientAuth",
	WalletInfo:     "WalletInfo",
	WalletRequest:  "WalletRequest",
	WalletResponse: "WalletResponse",
}

// Name returns a readable name for a known kind, or the number otherwise.
func (k T) Name() string {
	if n, ok := names[k]; ok {
		return n
	}
	return strconv.Itoa(int(k))
}

func (k T) ToInt() int { return int(k) }

func (k T) ToU64() uint64 { return uint64(k) }

// IsEphemeral reports whether relays are expected to forward the event
// without storing it.
func (k T) IsEphemeral() bool { return k >= 20000 && k < 30000 }

// IsReplaceable reports whether only the latest event of the kind per author
// is retained.
func (k T) IsReplaceable() bool {
	return k == 0 || k == 3 || (k >= 10000 && k < 20000)
}
