// Package p256k implements the signer.I interface for BIP-340 signatures and
// ECDH on secp256k1 using the btcec library.
package p256k

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"zapsplit.lol/chk"
	"zapsplit.lol/errorf"
	"zapsplit.lol/signer"
)

// SecKeyLen is the length of a raw secret key.
const SecKeyLen = 32

// Signer is an implementation of signer.I that uses the btcec library.
type Signer struct {
	SecretKey *btcec.PrivateKey
	PublicKey *btcec.PublicKey
	pkb, skb  []byte
}

var _ signer.I = &Signer{}

// Generate creates a new key pair.
func (s *Signer) Generate() (err error) {
	if s.SecretKey, err = btcec.NewPrivateKey(); chk.E(err) {
		return
	}
	s.skb = s.SecretKey.Serialize()
	s.PublicKey = s.SecretKey.PubKey()
	s.pkb = schnorr.SerializePubKey(s.PublicKey)
	return
}

// InitSec initialises a Signer using raw secret key bytes.
func (s *Signer) InitSec(sec []byte) (err error) {
	if len(sec) != SecKeyLen {
		err = errorf.E("sec key must be %d bytes", SecKeyLen)
		return
	}
	s.SecretKey, s.PublicKey = btcec.PrivKeyFromBytes(sec)
	if s.SecretKey.Key.IsZero() {
		err = errorf.E("sec key is zero or exceeds the curve order")
		return
	}
	s.skb = s.SecretKey.Serialize()
	s.pkb = schnorr.SerializePubKey(s.PublicKey)
	return
}

// InitPub initializes a signature verifier Signer from raw public key bytes.
func (s *Signer) InitPub(pub []byte) (err error) {
	if s.PublicKey, err = schnorr.ParsePubKey(pub); chk.D(err) {
		return
	}
	s.pkb = pub
	return
}

// Sec returns the raw secret key bytes.
func (s *Signer) Sec() (b []byte) { return s.skb }

// Pub returns the raw BIP-340 schnorr public key bytes.
func (s *Signer) Pub() (b []byte) { return s.pkb }

// Sign a message hash with the Signer. Requires an initialised secret key.
func (s *Signer) Sign(msg []byte) (sig []byte, err error) {
	if s.SecretKey == nil {
		err = errorf.E("p256k: Signer not initialized")
		return
	}
	var si *schnorr.Signature
	if si, err = schnorr.Sign(s.SecretKey, msg); chk.E(err) {
		return
	}
	sig = si.Serialize()
	return
}

// Verify a message signature, only requires the public key is initialised.
func (s *Signer) Verify(msg, sig []byte) (valid bool, err error) {
	if s.PublicKey == nil {
		err = errorf.E("p256k: Pubkey not initialized")
		return
	}
	var si *schnorr.Signature
	if si, err = schnorr.ParseSignature(sig); chk.D(err) {
		err = errorf.E("failed to parse signature: %d bytes: %v", len(sig), err)
		return
	}
	valid = si.Verify(msg, s.PublicKey)
	return
}

// Zero wipes the bytes of the secret key.
func (s *Signer) Zero() {
	if s.SecretKey != nil {
		s.SecretKey.Zero()
	}
	for i := range s.skb {
		s.skb[i] = 0
	}
}

// ECDH creates a shared secret from the secret key and a provided x-only
// public key. The result is the raw x coordinate and should be hashed or fed
// to a KDF before use as a key.
func (s *Signer) ECDH(pubkeyBytes []byte) (secret []byte, err error) {
	if s.SecretKey == nil {
		err = errorf.E("p256k: Signer not initialized")
		return
	}
	var pub *btcec.PublicKey
	if pub, err = btcec.ParsePubKey(append([]byte{0x02},
		pubkeyBytes...)); chk.D(err) {
		return
	}
	secret = btcec.GenerateSharedSecret(s.SecretKey, pub)
	return
}
