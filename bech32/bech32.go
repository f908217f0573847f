// Package bech32 implements the BIP-173 bech32 encoding used by LNURL strings
// and nostr keys. Unlike segwit addresses the LNURL form has no length limit,
// so neither Decode nor Encode enforce the 90 character cap.
package bech32

import (
	"strings"
)

// Charset is the 32 symbol alphabet of the data part.
const Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

// ChecksumLen is the number of 5 bit words in the trailing checksum.
const ChecksumLen = 6

var gen = [5]uint32{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}

var charsetRev [128]int8

func init() {
	for i := range charsetRev {
		charsetRev[i] = -1
	}
	for i := 0; i < len(Charset); i++ {
		charsetRev[Charset[i]] = int8(i)
	}
}

// Polymod computes the BCH checksum generator over a sequence of 5 bit values.
func Polymod(values []byte) uint32 {
	chk := uint32(1)
	for _, v := range values {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ uint32(v)
		for i := 0; i < 5; i++ {
			if (top>>uint(i))&1 == 1 {
				chk ^= gen[i]
			}
		}
	}
	return chk
}

// ExpandHRP is the human readable part expansion fed to Polymod: the high
// bits of every character, a zero, then the low bits of every character.
func ExpandHRP(hrp string) []byte {
	v := make([]byte, 0, len(hrp)*2+1)
	for i := 0; i < len(hrp); i++ {
		v = append(v, hrp[i]>>5)
	}
	v = append(v, 0)
	for i := 0; i < len(hrp); i++ {
		v = append(v, hrp[i]&31)
	}
	return v
}

// VerifyChecksum reports whether data, which includes the trailing six
// checksum words, is valid for hrp.
func VerifyChecksum(hrp string, data []byte) bool {
	values := append(ExpandHRP(hrp), data...)
	return Polymod(values) == 1
}

// Checksum computes the six checksum words for hrp and data.
func Checksum(hrp string, data []byte) []byte {
	values := append(ExpandHRP(hrp), data...)
	values = append(values, make([]byte, ChecksumLen)...)
	mod := Polymod(values) ^ 1
	res := make([]byte, ChecksumLen)
	for i := range res {
		res[i] = byte((mod >> uint(5*(5-i))) & 31)
	}
	return res
}

// Decode splits a bech32 string into its lower cased human readable part and
// its 5 bit data words, with the checksum verified and removed.
func Decode(s string) (hrp string, data []byte, err error) {
	s = strings.TrimSpace(s)
	if len(s) == 0 {
		err = ErrEmpty{}
		return
	}
	lower := strings.ToLower(s)
	if s != lower && s != strings.ToUpper(s) {
		err = ErrMixedCase{}
		return
	}
	sep := strings.LastIndexByte(lower, '1')
	if sep < 1 || sep+ChecksumLen+1 > len(lower) {
		err = ErrInvalidSeparatorIndex{Index: sep}
		return
	}
	hrp = lower[:sep]
	for _, c := range hrp {
		if c < 33 || c > 126 {
			err = ErrInvalidCharacter{Char: c}
			return
		}
	}
	part := lower[sep+1:]
	words := make([]byte, 0, len(part))
	for _, c := range part {
		if c >= 128 || charsetRev[c] < 0 {
			err = ErrNonCharsetChar{Char: c}
			return
		}
		words = append(words, byte(charsetRev[c]))
	}
	if !VerifyChecksum(hrp, words) {
		expected := Checksum(hrp, words[:len(words)-ChecksumLen])
		err = ErrInvalidChecksum{
			Expected: toChars(expected),
			Actual:   part[len(part)-ChecksumLen:],
		}
		return
	}
	data = words[:len(words)-ChecksumLen]
	return
}

// Encode builds a lower case bech32 string from a human readable part and 5
// bit data words, appending the checksum.
func Encode(hrp string, data []byte) (s string, err error) {
	hrp = strings.ToLower(hrp)
	if len(hrp) == 0 {
		err = ErrInvalidSeparatorIndex{Index: 0}
		return
	}
	for _, c := range hrp {
		if c < 33 || c > 126 {
			err = ErrInvalidCharacter{Char: c}
			return
		}
	}
	for _, w := range data {
		if w >= 32 {
			err = ErrInvalidWord{Word: w, Bits: 5}
			return
		}
	}
	var b strings.Builder
	b.Grow(len(hrp) + 1 + len(data) + ChecksumLen)
	b.WriteString(hrp)
	b.WriteByte('1')
	b.WriteString(toChars(data))
	b.WriteString(toChars(Checksum(hrp, data)))
	s = b.String()
	return
}

func toChars(words []byte) string {
	b := make([]byte, len(words))
	for i, w := range words {
		b[i] = Charset[w]
	}
	return string(b)
}

// ConvertBits regroups a slice of fromBits sized values into toBits sized
// values. With pad set, leftover bits are zero padded into a final group;
// without it, leftover bits must be fewer than fromBits and all zero.
func ConvertBits(data []byte, fromBits, toBits uint8, pad bool) (
	out []byte, err error) {

	if fromBits < 1 || fromBits > 8 || toBits < 1 || toBits > 8 {
		err = ErrInvalidBitGroups{}
		return
	}
	var acc uint32
	var bits uint8
	maxv := uint32(1)<<toBits - 1
	maxAcc := uint32(1)<<(fromBits+toBits-1) - 1
	out = make([]byte, 0, len(data)*int(fromBits)/int(toBits)+1)
	for _, v := range data {
		if uint32(v)>>fromBits != 0 {
			err = ErrInvalidWord{Word: v, Bits: fromBits}
			return nil, err
		}
		acc = (acc<<fromBits | uint32(v)) & maxAcc
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			out = append(out, byte(acc>>bits&maxv))
		}
	}
	if pad {
		if bits > 0 {
			out = append(out, byte(acc<<(toBits-bits)&maxv))
		}
	} else if bits >= fromBits || acc<<(toBits-bits)&maxv != 0 {
		return nil, ErrExcessPadding
	}
	return
}

// EncodeFromBase256 converts 8 bit data to 5 bit words and encodes it.
func EncodeFromBase256(hrp string, data []byte) (s string, err error) {
	var words []byte
	if words, err = ConvertBits(data, 8, 5, true); err != nil {
		return
	}
	return Encode(hrp, words)
}

// DecodeToBase256 decodes a bech32 string and regroups its words into bytes.
func DecodeToBase256(s string) (hrp string, data []byte, err error) {
	var words []byte
	if hrp, words, err = Decode(s); err != nil {
		return
	}
	if data, err = ConvertBits(words, 5, 8, false); err != nil {
		return
	}
	return
}
