// Package keys decodes and encodes nostr keys in their hex and NIP-19 bech32
// forms.
package keys

import (
	"strings"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"zapsplit.lol/bech32"
	"zapsplit.lol/chk"
	"zapsplit.lol/errorf"
	"zapsplit.lol/hex"
	"zapsplit.lol/p256k"
)

const (
	// PubHRP is the human readable part of an encoded public key.
	PubHRP = "npub"
	// SecHRP is the human readable part of an encoded secret key.
	SecHRP = "nsec"
)

// GenerateSecretKeyHex creates a new secret key and returns its hex form.
func GenerateSecretKeyHex() (sks string, err error) {
	s := &p256k.Signer{}
	if err = s.Generate(); chk.E(err) {
		return
	}
	sks = hex.Enc(s.Sec())
	return
}

// SecretToPubKeyBytes derives the x-only public key of a raw secret key.
func SecretToPubKeyBytes(skb []byte) (pk []byte, err error) {
	s := &p256k.Signer{}
	if err = s.InitSec(skb); chk.D(err) {
		return
	}
	pk = s.Pub()
	return
}

// IsValidPublicKey reports whether pk is hex encoding of a point on the curve.
func IsValidPublicKey(pk string) bool {
	v, err := hex.Dec(pk)
	if err != nil {
		return false
	}
	_, err = schnorr.ParsePubKey(v)
	return err == nil
}

// DecodePublicKey accepts a 64 character hex or npub encoded public key and
// returns the raw 32 bytes.
func DecodePublicKey(s string) (pk []byte, err error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToLower(s), PubHRP+"1") {
		return decodeBech32(s, PubHRP)
	}
	if !hex.Is32(s) {
		err = errorf.E("public key must be 64 hex characters or npub, got %q", s)
		return
	}
	return hex.Dec(strings.ToLower(s))
}

// DecodeSecretKey accepts a 64 character hex or nsec encoded secret key.
func DecodeSecretKey(s string) (sk []byte, err error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToLower(s), SecHRP+"1") {
		return decodeBech32(s, SecHRP)
	}
	if !hex.Is32(s) {
		err = errorf.E("secret key must be 64 hex characters or nsec")
		return
	}
	return hex.Dec(strings.ToLower(s))
}

// EncodePublicKey renders a raw public key as npub.
func EncodePublicKey(pk []byte) (s string, err error) {
	if len(pk) != 32 {
		err = errorf.E("public key must be 32 bytes, got %d", len(pk))
		return
	}
	return bech32.EncodeFromBase256(PubHRP, pk)
}

func decodeBech32(s, hrp string) (b []byte, err error) {
	var prefix string
	if prefix, b, err = bech32.DecodeToBase256(s); chk.D(err) {
		return
	}
	if prefix != hrp {
		err = errorf.E("expected %s prefix, got %s", hrp, prefix)
		return nil, err
	}
	if len(b) != 32 {
		err = errorf.E("%s payload must be 32 bytes, got %d", hrp, len(b))
		return nil, err
	}
	return
}
