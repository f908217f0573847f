// Package encryption implements the NIP-44 version 2 and NIP-04 payload
// encryption schemes used by wallet connect, behind a common Scheme interface
// keyed by the names wallets advertise.
package encryption

import (
	"strings"

	"github.com/puzpuzpuz/xsync/v3"

	"zapsplit.lol/chk"
	"zapsplit.lol/hex"
	"zapsplit.lol/signer"
)

const (
	// Nip44 is the modern scheme identifier.
	Nip44 = "nip44_v2"
	// Nip04 is the legacy scheme identifier.
	Nip04 = "nip04"
)

// Scheme encrypts and decrypts payloads between the local signer and a peer
// public key.
type Scheme interface {
	Name() string
	Encrypt(plaintext string, peer []byte) (string, error)
	Decrypt(ciphertext string, peer []byte) (string, error)
}

type keyCache struct {
	keys *xsync.MapOf[string, []byte]
}

func newKeyCache() keyCache {
	return keyCache{keys: xsync.NewMapOf[string, []byte]()}
}

func (k keyCache) get(peer []byte, derive func() ([]byte, error)) (key []byte,
	err error) {
	id := hex.Enc(peer)
	var ok bool
	if key, ok = k.keys.Load(id); ok {
		return
	}
	if key, err = derive(); err != nil {
		return
	}
	k.keys.Store(id, key)
	return
}

type nip44 struct {
	sign signer.I
	keyCache
}

// NewNip44 returns the NIP-44 version 2 scheme for sign.
func NewNip44(sign signer.I) Scheme {
	return &nip44{sign: sign, keyCache: newKeyCache()}
}

func (n *nip44) Name() string { return Nip44 }

func (n *nip44) key(peer []byte) ([]byte, error) {
	return n.get(peer, func() ([]byte, error) {
		return GenerateConversationKey(n.sign, peer)
	})
}

func (n *nip44) Encrypt(plaintext string, peer []byte) (ct string, err error) {
	var ck []byte
	if ck, err = n.key(peer); chk.E(err) {
		return
	}
	return Encrypt(plaintext, ck)
}

func (n *nip44) Decrypt(ciphertext string, peer []byte) (pt string, err error) {
	var ck []byte
	if ck, err = n.key(peer); chk.E(err) {
		return
	}
	return Decrypt(ciphertext, ck)
}

type nip04 struct {
	sign signer.I
	keyCache
}

// NewNip04 returns the legacy NIP-04 scheme for sign.
func NewNip04(sign signer.I) Scheme {
	return &nip04{sign: sign, keyCache: newKeyCache()}
}

func (n *nip04) Name() string { return Nip04 }

func (n *nip04) key(peer []byte) ([]byte, error) {
	return n.get(peer, func() ([]byte, error) {
		return ComputeSharedSecret(n.sign, peer)
	})
}

func (n *nip04) Encrypt(plaintext string, peer []byte) (ct string, err error) {
	var key []byte
	if key, err = n.key(peer); chk.E(err) {
		return
	}
	return EncryptNip4(plaintext, key)
}

func (n *nip04) Decrypt(ciphertext string, peer []byte) (pt string, err error) {
	var key []byte
	if key, err = n.key(peer); chk.E(err) {
		return
	}
	return DecryptNip4(ciphertext, key)
}

// New returns the implementation of a named scheme, or nil when the name is
// not implemented. "nip44" is accepted as an alias of "nip44_v2".
func New(name string, sign signer.I) Scheme {
	switch Normalize(name) {
	case Nip44:
		return NewNip44(sign)
	case Nip04:
		return NewNip04(sign)
	}
	return nil
}

// Normalize lower cases a scheme name and maps aliases to their canonical
// form.
func Normalize(name string) string {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "nip44", "nip44v2", "nip-44":
		return Nip44
	case "nip-04", "nip4":
		return Nip04
	default:
		return n
	}
}

// Supported lists the implemented scheme names, modern first.
func Supported() []string { return []string{Nip44, Nip04} }
