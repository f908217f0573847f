// Package context is a set of shorter names for the very stuttery context
// library.
package context

import (
	"context"
	"time"
)

type (
	// T is a context.Context.
	T = context.Context
	// F is a context.CancelFunc.
	F = context.CancelFunc
	// C is a context.CancelCauseFunc.
	C = context.CancelCauseFunc
)

var (
	// Bg is a context.Background.
	Bg = context.Background
	// Cancel is a context.WithCancel.
	Cancel = context.WithCancel
	// Timeout is a context.WithTimeout.
	Timeout = context.WithTimeout
	// TODO is a context.TODO.
	TODO = context.TODO
	// Canceled is the error returned by Err when the context is canceled.
	Canceled = context.Canceled
	// DeadlineExceeded is the error returned by Err when the deadline passes.
	DeadlineExceeded = context.DeadlineExceeded
)

// Sleep waits for d or until c is done, whichever comes first, and reports
// whether the full duration elapsed.
func Sleep(c T, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.Done():
		return false
	}
}
