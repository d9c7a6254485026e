package lag

import (
	"context"
	"log"
	"slices"
	"sort"
	"sync"
	"time"
)

// Engine holds the pending state changes of one tracked entity and releases
// each of them exactly once, Delay after it was observed.
//
// At most one timer is armed at a time, always for the head of the queue.
// All methods are safe for concurrent use; the sink is called with the engine
// lock held, so it must not call back into the engine.
type Engine struct {
	cfg   Config
	sched Scheduler
	sink  Sink

	mu      sync.Mutex
	queue   []Record
	early   []Record // live events seen before Start finished
	timer   Timer
	gen     uint64 // bumped on every arm; fires carrying an older value are stale
	next    time.Time
	started bool
	closed  bool

	current    Emission
	hasCurrent bool
	counts     Counts
}

// New creates an engine. It does nothing until Start is called, but live
// events passed to HandleEvent before that are kept.
func New(cfg Config, sched Scheduler, sink Sink) *Engine {
	return &Engine{
		cfg:   cfg,
		sched: sched,
		sink:  sink,
	}
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Start loads the history of the delay window from src, merges it with any
// live events that arrived in the meantime and arms the timer for the oldest
// pending record. A failing or nil src leaves the queue empty.
func (e *Engine) Start(ctx context.Context, src HistorySource) {
	var history []Record
	if src != nil {
		since := e.sched.Now().Add(-e.cfg.Delay)
		recs, err := src.Since(ctx, e.cfg.EntityID, since)
		if err != nil {
			log.Printf("lag: %s: history fetch failed, starting empty: %v", e.cfg.Name, err)
		} else {
			history = recs
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || e.started {
		return
	}

	queue := make([]Record, len(history))
	copy(queue, history)
	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].ObservedAt.Before(queue[j].ObservedAt)
	})
	e.queue = queue
	e.counts.Historical = len(queue)

	seen := make(map[recordKey]bool, len(queue))
	for _, r := range queue {
		seen[keyOf(r)] = true
	}
	for _, r := range e.early {
		if seen[keyOf(r)] {
			e.counts.Duplicates++
			continue
		}
		e.insert(r)
	}
	e.early = nil
	e.started = true

	if len(e.queue) > 0 {
		e.arm()
	}
	log.Printf("lag: %s: started with %d pending (history=%d)", e.cfg.Name, len(e.queue), len(history))
}

// HandleEvent queues a live state change.
func (e *Engine) HandleEvent(rec Record) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.counts.Received++

	if !e.started {
		e.early = append(e.early, rec)
		return
	}

	// Already-emitted history is never rewritten.
	if e.hasCurrent && rec.ObservedAt.Before(e.current.ObservedAt) {
		e.counts.Dropped++
		log.Printf("lag: %s: dropping %q observed at %s, before last emitted %s",
			e.cfg.Name, rec.Value, rec.ObservedAt.UTC().Format(time.RFC3339Nano),
			e.current.ObservedAt.UTC().Format(time.RFC3339Nano))
		return
	}

	wasEmpty := len(e.queue) == 0
	idx := e.insert(rec)
	if wasEmpty || idx == 0 {
		e.arm()
	}
}

// Close cancels the armed timer and discards pending records. Nothing is
// emitted after Close returns.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
	e.next = time.Time{}
	e.queue = nil
	e.early = nil
}

// Current returns the last emitted value, if any.
func (e *Engine) Current() (Emission, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current, e.hasCurrent
}

// Stats returns a snapshot of the engine state.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Stats{
		State:    StateEmpty,
		Pending:  len(e.queue),
		NextFire: e.next,
		Started:  e.started,
		Closed:   e.closed,
		Counts:   e.counts,
	}
	if e.timer != nil {
		st.State = StateArmed
	}
	return st
}

// insert places rec after every queued record observed at or before it and
// returns its index. In-order input always lands at the tail.
func (e *Engine) insert(rec Record) int {
	n := len(e.queue)
	if n == 0 || !rec.ObservedAt.Before(e.queue[n-1].ObservedAt) {
		e.queue = append(e.queue, rec)
		return n
	}

	idx := sort.Search(n, func(i int) bool {
		return e.queue[i].ObservedAt.After(rec.ObservedAt)
	})
	log.Printf("lag: %s: out-of-order record %q observed at %s, inserted at %d of %d",
		e.cfg.Name, rec.Value, rec.ObservedAt.UTC().Format(time.RFC3339Nano), idx, n)
	e.queue = slices.Insert(e.queue, idx, rec)
	return idx
}

// arm schedules the single timer for the head of the queue, cancelling any
// previous one. Caller holds e.mu and guarantees a non-empty queue.
func (e *Engine) arm() {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.gen++
	gen := e.gen
	e.next = e.queue[0].ObservedAt.Add(e.cfg.Delay)
	e.timer = e.sched.Schedule(e.next, func() { e.fire(gen) })
}

func (e *Engine) fire(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || gen != e.gen {
		return
	}
	e.timer = nil
	e.next = time.Time{}

	if len(e.queue) == 0 {
		e.counts.SpuriousFires++
		log.Printf("lag: %s: timer fired with empty queue", e.cfg.Name)
		return
	}

	rec := e.queue[0]
	e.queue[0] = Record{}
	e.queue = e.queue[1:]
	if len(e.queue) == 0 {
		e.queue = nil
	}

	em := Emission{
		Value:      rec.Value,
		Unit:       rec.Unit,
		ObservedAt: rec.ObservedAt,
		EmittedAt:  e.sched.Now(),
	}
	e.current = em
	e.hasCurrent = true
	e.counts.Emitted++

	if e.sink != nil {
		if err := e.sink.Emit(em); err != nil {
			e.counts.EmitErrors++
			log.Printf("lag: %s: emit %q failed: %v", e.cfg.Name, em.Value, err)
		}
	}

	if len(e.queue) > 0 {
		e.arm()
	}
}

type recordKey struct {
	value string
	at    int64
}

func keyOf(r Record) recordKey {
	return recordKey{value: r.Value, at: r.ObservedAt.UnixNano()}
}
