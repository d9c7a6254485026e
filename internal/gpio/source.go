package gpio

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/sweeney/lag-sensor/internal/lag"
)

// Source polls a Reader and delivers debounced state changes.
// A Source owns its Reader: cancelling the subscription closes it.
type Source struct {
	Reader   Reader
	Pin      int
	Poll     time.Duration
	Debounce time.Duration
}

// Subscribe starts polling on a new goroutine. The returned cancel func
// stops polling, waits for the goroutine and closes the Reader.
func (s *Source) Subscribe(onChange func(lag.Record)) (func(), error) {
	ctx, stop := context.WithCancel(context.Background())
	ticker := time.NewTicker(s.Poll)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Run(ctx, ticker.C, time.Now, onChange)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			ticker.Stop()
			wg.Wait()
			if err := s.Reader.Close(); err != nil {
				log.Printf("gpio: pin %d: close: %v", s.Pin, err)
			}
		})
	}, nil
}

// Run reads the pin on every tick until ctx is done.
func (s *Source) Run(ctx context.Context, tick <-chan time.Time, now func() time.Time, onChange func(lag.Record)) {
	w := NewWatcher(s.Debounce)
	failing := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			on, err := s.Reader.Read()
			if err != nil {
				if !failing {
					log.Printf("gpio: pin %d: read error: %v", s.Pin, err)
					failing = true
				}
				continue
			}
			if failing {
				log.Printf("gpio: pin %d: reads recovered", s.Pin)
				failing = false
			}

			if rec, ok := w.Process(on, now()); ok {
				log.Printf("gpio: pin %d: %s", s.Pin, rec.Value)
				onChange(rec)
			}
		}
	}
}
