package mqtt

import (
	"sort"
	"sync"
	"time"
)

// router fans one broker subscription out to every handler registered for
// the same topic. Paho keeps a single callback per topic filter, so several
// lag sensors tracking one entity would otherwise replace each other.
type router struct {
	mu       sync.Mutex
	next     uint64
	handlers map[string]map[uint64]Handler
}

func newRouter() *router {
	return &router{handlers: make(map[string]map[uint64]Handler)}
}

// add registers h and reports whether it is the first handler for topic.
func (r *router) add(topic string, h Handler) (id uint64, first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	hs, ok := r.handlers[topic]
	if !ok {
		hs = make(map[uint64]Handler)
		r.handlers[topic] = hs
	}
	hs[r.next] = h
	return r.next, !ok
}

// remove drops a handler and reports whether topic has none left.
func (r *router) remove(topic string, id uint64) (last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hs, ok := r.handlers[topic]
	if !ok {
		return false
	}
	if _, ok := hs[id]; !ok {
		return false
	}
	delete(hs, id)
	if len(hs) == 0 {
		delete(r.handlers, topic)
		return true
	}
	return false
}

// dispatch calls every handler for topic in registration order.
func (r *router) dispatch(topic string, payload []byte, received time.Time) int {
	r.mu.Lock()
	hs := r.handlers[topic]
	ids := make([]uint64, 0, len(hs))
	for id := range hs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	calls := make([]Handler, len(ids))
	for i, id := range ids {
		calls[i] = hs[id]
	}
	r.mu.Unlock()

	for _, h := range calls {
		h(payload, received)
	}
	return len(calls)
}

func (r *router) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (r *router) count(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[topic])
}
