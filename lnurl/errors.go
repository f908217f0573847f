package lnurl

import (
	"errors"
	"fmt"

	"zapsplit.lol/msat"
)

var (
	// ErrUnsupportedFormat is returned for input that is neither a bech32
	// LNURL, a name@domain address nor an http(s) URL.
	ErrUnsupportedFormat = errors.New("unsupported lightning address format")
	// ErrInvalidFormat is returned for a malformed address of a known format.
	ErrInvalidFormat = errors.New("invalid lightning address")
	// ErrRemote is the category of *RemoteError.
	ErrRemote = errors.New("lnurl endpoint error")
	// ErrInvalidResponse is returned when an endpoint answers with something
	// that is not a usable LNURL-pay document.
	ErrInvalidResponse = errors.New("invalid lnurl response")
	// ErrHTTPStatus is the category of *StatusError.
	ErrHTTPStatus = errors.New("lnurl http status")
	ErrInvalidAmount = errors.New("amount must be a positive whole number of sats")
	ErrAmountTooLow  = errors.New("amount below minimum")
	ErrAmountTooHigh = errors.New("amount above maximum")
)

// RemoteError carries the reason of a {"status":"ERROR"} response.
type RemoteError struct {
	Reason string
}

func (e *RemoteError) Error() string        { return e.Reason }
func (e *RemoteError) Is(target error) bool { return target == ErrRemote }

// StatusError is a non 2xx HTTP answer.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("lnurl request to %s failed with status %d", e.URL, e.Code)
}

func (e *StatusError) Is(target error) bool { return target == ErrHTTPStatus }

// AmountError reports an amount outside the bounds of a pay descriptor.
type AmountError struct {
	Requested msat.T
	Limit     msat.T
	Low       bool
}

func (e *AmountError) Error() string {
	if e.Low {
		return fmt.Sprintf("amount %s msats is below the minimum of %s msats",
			e.Requested, e.Limit)
	}
	return fmt.Sprintf("amount %s msats is above the maximum of %s msats",
		e.Requested, e.Limit)
}

func (e *AmountError) Is(target error) bool {
	if e.Low {
		return target == ErrAmountTooLow
	}
	return target == ErrAmountTooHigh
}
