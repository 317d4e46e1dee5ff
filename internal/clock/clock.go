// Package clock abstracts wall time and one-shot timers so the session
// manager and frame loop can be driven deterministically in tests.
package clock

import "time"

// Timer is a pending one-shot callback. Stop reports whether the call
// prevented the callback from firing.
type Timer interface {
	Stop() bool
}

// Scheduler hands out the current time and one-shot callbacks.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Real is the production Scheduler backed by the time package.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
