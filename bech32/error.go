package bech32

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedInput is the category of every failure to parse or build a
	// bech32 string. The more specific errors below match it with errors.Is.
	ErrMalformedInput = errors.New("malformed bech32 input")
	// ErrExcessPadding is returned by ConvertBits when unpadded conversion
	// leaves non-zero or overlong trailing bits.
	ErrExcessPadding = errors.New("excess padding in bech32 payload")
)

type malformed struct{}

func (malformed) Is(target error) bool { return target == ErrMalformedInput }

// ErrEmpty is returned when there is nothing left to decode after trimming.
type ErrEmpty struct{ malformed }

func (err ErrEmpty) Error() string { return "bech32 string is empty" }

// ErrMixedCase is returned when the bech32 string has both lower and uppercase
// characters.
type ErrMixedCase struct{ malformed }

func (err ErrMixedCase) Error() string {
	return "string not all lowercase or all uppercase"
}

// ErrInvalidBitGroups is returned when conversion is attempted between byte
// slices using bit-per-element of unsupported value.
type ErrInvalidBitGroups struct{ malformed }

func (err ErrInvalidBitGroups) Error() string {
	return "only bit groups between 1 and 8 allowed"
}

// ErrInvalidSeparatorIndex is returned when the separator character '1' is
// in a position that leaves no human readable part or fewer than six checksum
// characters.
type ErrInvalidSeparatorIndex struct {
	malformed
	Index int
}

func (err ErrInvalidSeparatorIndex) Error() string {
	return fmt.Sprintf("invalid separator index %d", err.Index)
}

// ErrInvalidCharacter is returned when the human readable part holds a
// character outside the printable ASCII range.
type ErrInvalidCharacter struct {
	malformed
	Char rune
}

func (err ErrInvalidCharacter) Error() string {
	return fmt.Sprintf("invalid character in string: '%c'", err.Char)
}

// ErrNonCharsetChar is returned when a character outside of the specific
// bech32 charset is used in the data part.
type ErrNonCharsetChar struct {
	malformed
	Char rune
}

func (err ErrNonCharsetChar) Error() string {
	return fmt.Sprintf("invalid character not part of charset: '%c'", err.Char)
}

// ErrInvalidChecksum is returned when the checksum of the string does not
// verify.
type ErrInvalidChecksum struct {
	malformed
	Expected string
	Actual   string
}

func (err ErrInvalidChecksum) Error() string {
	return fmt.Sprintf("invalid checksum (expected %v got %v)",
		err.Expected, err.Actual)
}

// ErrInvalidWord is returned when a value handed to Encode or ConvertBits does
// not fit in the declared number of bits.
type ErrInvalidWord struct {
	malformed
	Word byte
	Bits uint8
}

func (err ErrInvalidWord) Error() string {
	return fmt.Sprintf("invalid %d bit word value: %d", err.Bits, err.Word)
}
