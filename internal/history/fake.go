package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sweeney/lag-sensor/internal/lag"
)

// Fake is an in-memory history for tests.
type Fake struct {
	mu      sync.Mutex
	records map[string][]lag.Record

	// SinceError, if set, is returned by Since.
	SinceError error

	// AppendError, if set, is returned by Append.
	AppendError error

	// LatestError, if set, is returned by Latest.
	LatestError error

	// Queries counts Since calls.
	Queries int

	// Pruned holds the cutoff of every Prune call.
	Pruned []time.Time
}

// NewFake creates an empty Fake.
func NewFake() *Fake {
	return &Fake{records: make(map[string][]lag.Record)}
}

// Append records rec for entityID.
func (f *Fake) Append(_ context.Context, entityID string, rec lag.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.AppendError != nil {
		return f.AppendError
	}
	for _, r := range f.records[entityID] {
		if r.Value == rec.Value && r.ObservedAt.Equal(rec.ObservedAt) {
			return nil
		}
	}
	f.records[entityID] = append(f.records[entityID], rec)
	return nil
}

// Since returns records of entityID observed at or after since, oldest first.
func (f *Fake) Since(_ context.Context, entityID string, since time.Time) ([]lag.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Queries++
	if f.SinceError != nil {
		return nil, f.SinceError
	}

	var out []lag.Record
	for _, r := range f.records[entityID] {
		if !r.ObservedAt.Before(since) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ObservedAt.Before(out[j].ObservedAt)
	})
	return out, nil
}

// Latest returns the newest record of entityID observed at or before at.
func (f *Fake) Latest(_ context.Context, entityID string, at time.Time) (lag.Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.LatestError != nil {
		return lag.Record{}, false, f.LatestError
	}

	var (
		best  lag.Record
		found bool
	)
	for _, r := range f.records[entityID] {
		if r.ObservedAt.After(at) {
			continue
		}
		if !found || !r.ObservedAt.Before(best.ObservedAt) {
			best, found = r, true
		}
	}
	return best, found, nil
}

// Records returns a copy of everything recorded for entityID.
func (f *Fake) Records(entityID string) []lag.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]lag.Record(nil), f.records[entityID]...)
}

// Prune deletes records observed before before, across all entities.
func (f *Fake) Prune(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for id, recs := range f.records {
		kept := recs[:0]
		for _, r := range recs {
			if r.ObservedAt.Before(before) {
				n++
				continue
			}
			kept = append(kept, r)
		}
		f.records[id] = kept
	}
	f.Pruned = append(f.Pruned, before)
	return n, nil
}
