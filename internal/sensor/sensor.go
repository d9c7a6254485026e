// Package sensor hosts lag engines: it wires each configured sensor to its
// live source, the history store and the MQTT publisher.
package sensor

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/sweeney/lag-sensor/internal/config"
	"github.com/sweeney/lag-sensor/internal/lag"
	"github.com/sweeney/lag-sensor/internal/mqtt"
	"github.com/sweeney/lag-sensor/internal/status"
)

// appendTimeout bounds the history write made for each live event.
const appendTimeout = 5 * time.Second

// Source delivers live state changes of one entity.
type Source interface {
	Subscribe(onChange func(lag.Record)) (cancel func(), err error)
}

// History stores live state changes and replays them on start.
type History interface {
	lag.HistorySource
	Append(ctx context.Context, entityID string, rec lag.Record) error
	Latest(ctx context.Context, entityID string, at time.Time) (lag.Record, bool, error)
}

// window serves an engine's start: the changes inside the delay window,
// preceded by the state already in effect when the window opens, stamped
// with the window start. A sensor whose entity has been quiet for longer
// than its delay still comes back with the value it should be showing.
type window struct {
	History
}

func (w window) Since(ctx context.Context, entityID string, since time.Time) ([]lag.Record, error) {
	recs, err := w.History.Since(ctx, entityID, since)
	if err != nil {
		return nil, err
	}

	prev, ok, err := w.History.Latest(ctx, entityID, since)
	if err != nil {
		log.Printf("sensor: %s: state at window start unavailable: %v", entityID, err)
		return recs, nil
	}
	if !ok || !prev.ObservedAt.Before(since) {
		return recs, nil
	}
	prev.ObservedAt = since
	return append([]lag.Record{prev}, recs...), nil
}

// Sensor is one running lag sensor.
type Sensor struct {
	cfg    config.Sensor
	engine *lag.Engine
	src    Source
	hist   History
	pub    mqtt.Publisher

	mu     sync.Mutex
	cancel func()
}

// New creates a sensor. Nothing happens until Start.
func New(cfg config.Sensor, src Source, hist History, pub mqtt.Publisher, sched lag.Scheduler) *Sensor {
	s := &Sensor{
		cfg:  cfg,
		src:  src,
		hist: hist,
		pub:  pub,
	}
	s.engine = lag.New(cfg.Lag(), sched, lag.SinkFunc(s.emit))
	return s
}

// Config returns the sensor's definition.
func (s *Sensor) Config() config.Sensor {
	return s.cfg
}

// Start subscribes to the live source, then loads history into the engine.
// Events that arrive while history loads are held by the engine and merged,
// so nothing observed around startup is lost or doubled.
func (s *Sensor) Start(ctx context.Context) error {
	cancel, err := s.src.Subscribe(s.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.cfg.Name, err)
	}

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	var src lag.HistorySource
	if s.hist != nil {
		src = window{s.hist}
	}
	s.engine.Start(ctx, src)
	return nil
}

// Stop releases the live source and closes the engine. Pending values are
// discarded; nothing is published after Stop returns.
func (s *Sensor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.engine.Close()
}

func (s *Sensor) handle(rec lag.Record) {
	if s.hist != nil {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		if err := s.hist.Append(ctx, s.cfg.EntityID, rec); err != nil {
			log.Printf("sensor: %s: record history: %v", s.cfg.Name, err)
		}
		cancel()
	}
	s.engine.HandleEvent(rec)
}

func (s *Sensor) emit(em lag.Emission) error {
	return s.pub.PublishState(mqtt.StateEvent{
		Sensor:   s.cfg.Name,
		EntityID: s.cfg.EntityID,
		Delay:    s.cfg.Delay,
		Emission: em,
	})
}

// Status reports the sensor's current state.
func (s *Sensor) Status() status.Sensor {
	cur, ok := s.engine.Current()
	return status.Sensor{
		Name:     s.cfg.Name,
		EntityID: s.cfg.EntityID,
		UniqueID: s.cfg.UniqueID(),
		Delay:    s.cfg.Delay,
		Source:   describeSource(s.cfg),
		Topic:    mqtt.StateTopic(s.cfg.Name),
		Current:  cur,
		HasValue: ok,
		Stats:    s.engine.Stats(),
	}
}

func describeSource(cfg config.Sensor) string {
	if cfg.GPIO != nil {
		return "gpio:" + strconv.Itoa(cfg.GPIO.Pin)
	}
	return "mqtt:" + cfg.Topic
}
