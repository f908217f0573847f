// Package hex is a set of aliases and helpers for hexadecimal encoding, using
// the SIMD accelerated xhex for the append forms.
package hex

import (
	"encoding/hex"
	"strings"

	"github.com/templexxx/xhex"
)

var Enc = hex.EncodeToString
var EncBytes = hex.Encode
var Dec = hex.DecodeString
var DecBytes = hex.Decode
var DecLen = hex.DecodedLen

type InvalidByteError = hex.InvalidByteError

// EncAppend appends the hex encoding of src to dst.
func EncAppend(dst, src []byte) (b []byte) {
	l := len(dst)
	dst = append(dst, make([]byte, len(src)*2)...)
	xhex.Encode(dst[l:], src)
	return dst
}

// DecAppend appends the decoded bytes of the hex in src to dst.
func DecAppend(dst, src []byte) (b []byte, err error) {
	if len(src)%2 != 0 {
		err = hex.ErrLength
		return
	}
	l := len(dst)
	b = append(dst, make([]byte, len(src)/2)...)
	if err = xhex.Decode(b[l:], src); err != nil {
		b = dst
		return
	}
	return
}

// Is32 reports whether s is exactly 64 hexadecimal characters, in either case.
func Is32(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// Dec32 decodes a 64 character hex string into a fixed 32 byte array.
func Dec32(s string) (b [32]byte, err error) {
	if !Is32(s) {
		err = hex.ErrLength
		if len(s) == 64 {
			err = InvalidByteError(firstInvalid(s))
		}
		return
	}
	_, err = hex.Decode(b[:], []byte(strings.ToLower(s)))
	return
}

func firstInvalid(s string) byte {
	for i := 0; i < len(s); i++ {
		if _, err := hex.DecodeString("0" + s[i:i+1]); err != nil {
			return s[i]
		}
	}
	return 0
}
