// Package clock provides wall time and one-shot timers for lag engines.
// The real implementation uses time.AfterFunc.
// The fake implementation lets tests move time by hand.
package clock

import (
	"time"

	"github.com/sweeney/lag-sensor/internal/lag"
)

// Real is the process wall clock.
type Real struct{}

// NewReal returns the wall clock.
func NewReal() Real {
	return Real{}
}

// Now returns time.Now().
func (Real) Now() time.Time {
	return time.Now()
}

// Schedule runs fn on its own goroutine at the given instant.
// Instants in the past fire immediately.
func (Real) Schedule(at time.Time, fn func()) lag.Timer {
	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	return time.AfterFunc(d, fn)
}

var (
	_ lag.Scheduler = Real{}
	_ lag.Scheduler = (*Fake)(nil)
)
