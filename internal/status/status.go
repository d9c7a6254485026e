// Package status provides a thread-safe status tracker for the lag-sensor daemon.
// It is read by the HTTP handlers and by system events published to MQTT.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/lag-sensor/internal/lag"
)

// NetworkInfo contains network state as reported by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Broker      string
	ClientID    string
	HTTPAddr    string
	WSBroker    string // Websocket broker URL for browser MQTT (empty = disabled)
	History     string
	HeartbeatMs int64
}

// Sensor is the state of one lag sensor.
type Sensor struct {
	Name     string
	EntityID string
	UniqueID string
	Delay    time.Duration
	Source   string // e.g. "mqtt:home/power" or "gpio:17"
	Topic    string // where lagged values are published

	// Current is the last emitted value; HasValue is false until the first one.
	Current  lag.Emission
	HasValue bool
	Stats    lag.Stats
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Sensors       []Sensor
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Reloads       int
	LastReload    time.Time
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Totals sums the engine counts of every sensor.
func (s Snapshot) Totals() lag.Counts {
	var c lag.Counts
	for _, sn := range s.Sensors {
		c.Received += sn.Stats.Counts.Received
		c.Historical += sn.Stats.Counts.Historical
		c.Emitted += sn.Stats.Counts.Emitted
		c.Dropped += sn.Stats.Counts.Dropped
		c.Duplicates += sn.Stats.Counts.Duplicates
		c.EmitErrors += sn.Stats.Counts.EmitErrors
		c.SpuriousFires += sn.Stats.Counts.SpuriousFires
	}
	return c
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu      sync.RWMutex
	snap    Snapshot
	sensors func() []Sensor
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// SetSensors installs the function that reports live sensor state.
// It is called on every Snapshot, outside the tracker lock.
func (t *Tracker) SetSensors(fn func() []Sensor) {
	t.mu.Lock()
	t.sensors = fn
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Reloaded records a configuration reload.
func (t *Tracker) Reloaded(at time.Time) {
	t.mu.Lock()
	t.snap.Reloads++
	t.snap.LastReload = at
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	fn := t.sensors
	t.mu.RUnlock()

	if fn != nil {
		s.Sensors = fn()
	}
	s.Now = time.Now()
	return s
}
