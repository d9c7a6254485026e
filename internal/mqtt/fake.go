package mqtt

import (
	"sync"
	"time"
)

// FakeClient records published events and delivers scripted messages, for
// test assertions. It is safe for concurrent use.
type FakeClient struct {
	mu     sync.Mutex
	router *router

	// StateEvents contains all lagged values that were published.
	StateEvents []StateEvent

	// StatePayloads contains the JSON payloads for lagged values.
	StatePayloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by PublishState.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// SubscribeError, if set, will be returned by Subscribe.
	SubscribeError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakeClient creates a FakeClient for testing.
func NewFakeClient() *FakeClient {
	return &FakeClient{router: newRouter()}
}

// PublishState records the lagged value.
func (f *FakeClient) PublishState(event StateEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatStatePayload(event)
	if err != nil {
		return err
	}
	f.StateEvents = append(f.StateEvents, event)
	f.StatePayloads = append(f.StatePayloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakeClient) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Subscribe registers h for topic.
func (f *FakeClient) Subscribe(topic string, h Handler) (func(), error) {
	f.mu.Lock()
	err := f.SubscribeError
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	id, _ := f.router.add(topic, h)
	var once sync.Once
	return func() {
		once.Do(func() { f.router.remove(topic, id) })
	}, nil
}

// Deliver hands payload to every handler of topic and returns how many ran.
func (f *FakeClient) Deliver(topic string, payload []byte, received time.Time) int {
	return f.router.dispatch(topic, payload, received)
}

// Subscribers returns the number of handlers registered for topic.
func (f *FakeClient) Subscribers(topic string) int {
	return f.router.count(topic)
}

// States returns a copy of the published lagged values.
func (f *FakeClient) States() []StateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]StateEvent(nil), f.StateEvents...)
}

// Systems returns a copy of the published system events.
func (f *FakeClient) Systems() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.SystemEvents...)
}

// Close marks the client as closed.
func (f *FakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake client is "connected".
func (f *FakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Reset clears recorded events.
func (f *FakeClient) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.StateEvents = nil
	f.StatePayloads = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.SubscribeError = nil
	f.Connected = false
}

var (
	_ Publisher        = (*FakeClient)(nil)
	_ Subscriber       = (*FakeClient)(nil)
	_ ConnectionStatus = (*FakeClient)(nil)
)
