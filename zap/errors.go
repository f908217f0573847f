package zap

import (
	"errors"
)

var (
	// ErrInvalidAmount is a zap amount that is not a positive number of sats.
	ErrInvalidAmount = errors.New("zap amount must be a positive integer")
	// ErrMissingCreatorAddress means the target has no lightning address.
	ErrMissingCreatorAddress = errors.New("this creator has not configured a Lightning address yet")
	// ErrPlatformAddressUnavailable means a platform share is due but there is
	// nowhere to send it.
	ErrPlatformAddressUnavailable = errors.New("platform Lightning address is unavailable")
	// ErrMissingTarget is a zap without content to zap.
	ErrMissingTarget = errors.New("a target event is required to zap")
)
