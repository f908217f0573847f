// Package msat defines the millisatoshi amount used everywhere a lightning
// value crosses a package boundary.
package msat

import (
	"math"
	"strconv"
)

// T is an amount in millisatoshis, 1/1000 of a satoshi.
type T uint64

// PerSat is the number of millisatoshis in one satoshi.
const PerSat = 1000

// FromSats converts a whole satoshi amount.
func FromSats(sats uint64) T { return T(sats * PerSat) }

// FromSatsFloat converts a possibly fractional satoshi amount, rounding to the
// nearest whole satoshi. Negative and non finite values give zero.
func FromSatsFloat(sats float64) T {
	if math.IsNaN(sats) || math.IsInf(sats, 0) || sats <= 0 {
		return 0
	}
	return T(math.Round(sats)) * PerSat
}

// Sats returns the amount in whole satoshis, truncating any remainder.
func (m T) Sats() uint64 { return uint64(m) / PerSat }

// U64 returns the raw millisatoshi value.
func (m T) U64() uint64 { return uint64(m) }

// String renders the value in millisatoshis, as it appears in query strings
// and zap request tags.
func (m T) String() string { return strconv.FormatUint(uint64(m), 10) }
