package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"strings"

	"lukechampine.com/frand"

	"zapsplit.lol/chk"
	"zapsplit.lol/errorf"
	"zapsplit.lol/signer"
)

// ComputeSharedSecret returns the NIP-04 key: the unhashed x coordinate of the
// ECDH point between the signer and the peer.
func ComputeSharedSecret(sign signer.I, peer []byte) (secret []byte, err error) {
	return sign.ECDH(peer)
}

// EncryptNip4 encrypts message with AES-256-CBC and returns it in the
// "<base64 ciphertext>?iv=<base64 iv>" form.
func EncryptNip4(message string, key []byte) (ct string, err error) {
	var block cipher.Block
	if block, err = aes.NewCipher(key); chk.E(err) {
		err = errorf.E("error creating block cipher: %w", err)
		return
	}
	iv := frand.Bytes(aes.BlockSize)
	plain := []byte(message)
	padding := aes.BlockSize - len(plain)%aes.BlockSize
	plain = append(plain, bytes.Repeat([]byte{byte(padding)}, padding)...)
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plain)
	ct = base64.StdEncoding.EncodeToString(out) + "?iv=" +
		base64.StdEncoding.EncodeToString(iv)
	return
}

// DecryptNip4 reverses EncryptNip4.
func DecryptNip4(content string, key []byte) (msg string, err error) {
	parts := strings.Split(content, "?iv=")
	if len(parts) != 2 {
		err = errorf.E("nip04 payload has no iv: %q", truncate(content))
		return
	}
	var text, iv []byte
	if text, err = base64.StdEncoding.DecodeString(parts[0]); chk.D(err) {
		err = errorf.E("error decoding ciphertext: %w", err)
		return
	}
	if iv, err = base64.StdEncoding.DecodeString(parts[1]); chk.D(err) {
		err = errorf.E("error decoding iv: %w", err)
		return
	}
	if len(iv) != aes.BlockSize {
		err = errorf.E("iv must be %d bytes, got %d", aes.BlockSize, len(iv))
		return
	}
	if len(text) == 0 || len(text)%aes.BlockSize != 0 {
		err = errorf.E("ciphertext length %d is not a multiple of the block size",
			len(text))
		return
	}
	var block cipher.Block
	if block, err = aes.NewCipher(key); chk.E(err) {
		return
	}
	out := make([]byte, len(text))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, text)
	padding := int(out[len(out)-1])
	if padding == 0 || padding > aes.BlockSize || padding > len(out) {
		err = errorf.E("invalid padding amount: %d", padding)
		return
	}
	for _, p := range out[len(out)-padding:] {
		if int(p) != padding {
			err = errorf.E("invalid padding")
			return
		}
	}
	msg = string(out[:len(out)-padding])
	return
}

func truncate(s string) string {
	if len(s) > 32 {
		return s[:32] + "..."
	}
	return s
}
