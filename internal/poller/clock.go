package poller

import "time"

// Timer is a scheduled callback that can be cancelled
type Timer interface {
	Stop() bool
}

// Clock schedules re-checks. Tests swap in a manual clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// RealClock uses the time package
type RealClock struct{}

// Now implements Clock
func (RealClock) Now() time.Time { return time.Now() }

// AfterFunc implements Clock
func (RealClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
