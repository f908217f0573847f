// Package sha256 wraps github.com/minio/sha256-simd, which uses SIMD
// accelerated hashing where the CPU supports it.
package sha256

import (
	"hash"

	"github.com/minio/sha256-simd"
)

// Size is the length of a digest in bytes.
const Size = sha256.Size

// Sum256 returns the SHA256 digest of data.
func Sum256(data []byte) [Size]byte { return sha256.Sum256(data) }

// Hash returns the digest of data as a slice.
func Hash(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

// New returns a streaming SHA256 hash for use with HMAC and HKDF.
func New() hash.Hash { return sha256.New() }
