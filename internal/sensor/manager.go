package sensor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/sweeney/lag-sensor/internal/config"
	"github.com/sweeney/lag-sensor/internal/gpio"
	"github.com/sweeney/lag-sensor/internal/lag"
	"github.com/sweeney/lag-sensor/internal/mqtt"
	"github.com/sweeney/lag-sensor/internal/status"
)

// Sources builds the live source for a sensor definition.
type Sources struct {
	Sub mqtt.Subscriber

	// OpenPin opens a GPIO input. Nil means GPIO sources are unavailable.
	OpenPin func(pin int, activeLow bool) (gpio.Reader, error)
}

// For returns the source cfg reads from.
func (s Sources) For(cfg config.Sensor) (Source, error) {
	if cfg.GPIO != nil {
		if s.OpenPin == nil {
			return nil, errors.New("gpio sources are not available")
		}
		r, err := s.OpenPin(cfg.GPIO.Pin, cfg.GPIO.ActiveLow)
		if err != nil {
			return nil, fmt.Errorf("open gpio pin %d: %w", cfg.GPIO.Pin, err)
		}
		poll := cfg.GPIO.Poll
		if poll <= 0 {
			poll = config.DefaultPoll
		}
		return &gpio.Source{
			Reader:   r,
			Pin:      cfg.GPIO.Pin,
			Poll:     poll,
			Debounce: cfg.GPIO.Debounce,
		}, nil
	}
	if s.Sub == nil {
		return nil, errors.New("mqtt sources are not available")
	}
	return mqtt.TopicSource{Sub: s.Sub, Topic: cfg.Topic}, nil
}

// Manager owns every running sensor.
type Manager struct {
	hist    History
	pub     mqtt.Publisher
	sched   lag.Scheduler
	sources Sources

	mu      sync.Mutex
	sensors []*Sensor
}

// NewManager creates a Manager with no sensors.
func NewManager(hist History, pub mqtt.Publisher, sched lag.Scheduler, sources Sources) *Manager {
	return &Manager{
		hist:    hist,
		pub:     pub,
		sched:   sched,
		sources: sources,
	}
}

// Apply replaces every running sensor with fresh ones built from cfgs.
// Each new engine starts from the history store, so a reload never carries
// queued values over from the old configuration. A sensor that cannot be
// started is skipped; the others still run and the failures are returned.
func (m *Manager) Apply(ctx context.Context, cfgs []config.Sensor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Old sources go first: a GPIO line can only be held once.
	for _, s := range m.sensors {
		s.Stop()
	}
	m.sensors = nil

	var errs []error
	for _, cfg := range cfgs {
		src, err := m.sources.For(cfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", cfg.Name, err))
			continue
		}
		s := New(cfg, src, m.hist, m.pub, m.sched)
		if err := s.Start(ctx); err != nil {
			errs = append(errs, err)
			continue
		}
		m.sensors = append(m.sensors, s)
		log.Printf("sensor: started %q (%s, delay %s)", cfg.Name, describeSource(cfg), config.FormatDelay(cfg.Delay))
	}
	return errors.Join(errs...)
}

// Stop stops every sensor.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sensors {
		s.Stop()
	}
	m.sensors = nil
}

// Statuses reports every running sensor in configuration order.
func (m *Manager) Statuses() []status.Sensor {
	m.mu.Lock()
	sensors := append([]*Sensor(nil), m.sensors...)
	m.mu.Unlock()

	out := make([]status.Sensor, 0, len(sensors))
	for _, s := range sensors {
		out = append(out, s.Status())
	}
	return out
}

// Len returns the number of running sensors.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sensors)
}
