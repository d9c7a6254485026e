// Package lag contains the delay/replay engine behind a lag sensor.
// This package has NO external dependencies (no MQTT, SQL, GPIO or OS).
// Time and timers are always injected through a Scheduler.
package lag

import (
	"context"
	"time"
)

// Record is a single observed state change of the tracked entity.
type Record struct {
	Value string
	// Unit is the unit of measurement; empty means the source had none.
	Unit       string
	ObservedAt time.Time
}

// Emission is the value surfaced to the sink when a record's delay has elapsed.
type Emission struct {
	Value      string
	Unit       string
	ObservedAt time.Time
	EmittedAt  time.Time
}

// Config describes one lag sensor instance. It is immutable: changing any
// field means building a new Engine.
type Config struct {
	Name     string
	EntityID string
	Delay    time.Duration
}

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	// Stop cancels the callback. Returns false if it already fired or was stopped.
	Stop() bool
}

// Scheduler supplies the current time and one-shot callbacks at an instant.
// Instants in the past must fire at the next opportunity, never be dropped.
type Scheduler interface {
	Now() time.Time
	Schedule(at time.Time, fn func()) Timer
}

// HistorySource returns the recorded state changes of an entity since a point in time,
// ordered by observation time.
type HistorySource interface {
	Since(ctx context.Context, entityID string, since time.Time) ([]Record, error)
}

// Sink receives emitted values.
type Sink interface {
	Emit(em Emission) error
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(em Emission) error

// Emit calls f(em).
func (f SinkFunc) Emit(em Emission) error {
	return f(em)
}

// State is the timer state of an engine.
type State string

const (
	StateEmpty State = "EMPTY"
	StateArmed State = "ARMED"
)

// Counts tracks what the engine has done since it was created.
type Counts struct {
	Received      int
	Historical    int
	Emitted       int
	Dropped       int
	Duplicates    int
	EmitErrors    int
	SpuriousFires int
}

// Stats is a point-in-time view of an engine.
type Stats struct {
	State    State
	Pending  int
	NextFire time.Time // zero when no timer is armed
	Started  bool
	Closed   bool
	Counts   Counts
}
