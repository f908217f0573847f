// Package signer defines the interface for nostr key pairs that can sign
// events and derive shared secrets for encrypted payloads.
package signer

type I interface {
	// Generate creates a fresh new key pair from system entropy.
	Generate() (err error)
	// InitSec initialises the secret (signing) key from the raw bytes, and also
	// derives the public key because it can.
	InitSec(sec []byte) (err error)
	// InitPub initializes the public (verification) key from raw bytes.
	InitPub(pub []byte) (err error)
	// Sec returns the secret key bytes.
	Sec() []byte
	// Pub returns the public key bytes (x-only schnorr pubkey).
	Pub() []byte
	// Sign creates a signature using the stored secret key.
	Sign(msg []byte) (sig []byte, err error)
	// Verify checks a message hash and signature match the stored public key.
	Verify(msg, sig []byte) (valid bool, err error)
	// Zero wipes the secret key to prevent memory leaks.
	Zero()
	// ECDH returns the x coordinate of the shared point between the secret key
	// and the provided x-only pubkey.
	ECDH(pub []byte) (secret []byte, err error)
}
