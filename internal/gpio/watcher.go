package gpio

import (
	"time"

	"github.com/sweeney/lag-sensor/internal/lag"
)

// Watcher debounces raw samples of one pin into state changes.
// It is pure: time arrives with each sample, and it never sleeps.
type Watcher struct {
	debounce time.Duration

	stable       bool
	pending      bool
	pendingSince time.Time
	hasPending   bool
	baselined    bool
	changes      int
}

// NewWatcher creates a Watcher that only accepts a level once it has held
// for debounce.
func NewWatcher(debounce time.Duration) *Watcher {
	return &Watcher{debounce: debounce}
}

// Process takes one sample and reports a state change if one completed.
// The first level to hold for the debounce period is the baseline and is
// reported as a change too, so a consumer starts with the current state.
// A change is observed at the time its level was first seen, not when
// debouncing finished.
func (w *Watcher) Process(on bool, now time.Time) (lag.Record, bool) {
	if w.baselined && on == w.stable {
		w.hasPending = false
		return lag.Record{}, false
	}

	if !w.hasPending || w.pending != on {
		w.pending = on
		w.pendingSince = now
		w.hasPending = true
		return lag.Record{}, false
	}

	if now.Sub(w.pendingSince) < w.debounce {
		return lag.Record{}, false
	}

	w.stable = on
	w.baselined = true
	w.hasPending = false
	w.changes++
	return lag.Record{Value: valueOf(on), ObservedAt: w.pendingSince}, true
}

// Baselined reports whether a stable level has been established.
func (w *Watcher) Baselined() bool {
	return w.baselined
}

// Current returns the stable level. It is meaningless before the baseline.
func (w *Watcher) Current() bool {
	return w.stable
}

// Changes returns the number of reported changes, baseline included.
func (w *Watcher) Changes() int {
	return w.changes
}
