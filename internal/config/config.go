// Package config loads the lag-sensor YAML file and turns it into validated
// sensor definitions.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/lag-sensor/internal/lag"
	"github.com/sweeney/lag-sensor/internal/mqtt"
)

// ErrConfigurationConflict is returned when two sensors share the same
// entity and delay, or the same state topic.
var ErrConfigurationConflict = errors.New("configuration conflict")

// Defaults applied to fields left empty in the file.
const (
	DefaultBroker    = "tcp://localhost:1883"
	DefaultHTTP      = ":8080"
	DefaultHistory   = "lag-sensor.db"
	DefaultHeartbeat = 15 * time.Minute
	DefaultPoll      = 100 * time.Millisecond
	DefaultDebounce  = 250 * time.Millisecond
)

// File is the on-disk configuration.
type File struct {
	Broker    string         `yaml:"broker"`
	ClientID  string         `yaml:"client_id"`
	HTTP      string         `yaml:"http"`      // empty string disables; "off" too
	WSBroker  string         `yaml:"ws_broker"` // websocket URL for the live status page
	History   string         `yaml:"history"`   // sqlite path
	Heartbeat time.Duration  `yaml:"heartbeat"` // 0 disables
	Sensors   []SensorConfig `yaml:"sensors"`
}

// SensorConfig is one configured lag sensor as written in the file.
type SensorConfig struct {
	Name     string       `yaml:"name"`
	EntityID string       `yaml:"entity_id"`
	Delay    string       `yaml:"delay"`
	Source   SourceConfig `yaml:"source"`
}

// SourceConfig selects where live state changes come from. Exactly one of
// Topic and GPIO must be set.
type SourceConfig struct {
	Topic string      `yaml:"topic"`
	GPIO  *GPIOConfig `yaml:"gpio"`
}

// GPIOConfig describes a local input pin.
type GPIOConfig struct {
	Pin       int           `yaml:"pin"`
	ActiveLow bool          `yaml:"active_low"`
	Poll      time.Duration `yaml:"poll"`
	Debounce  time.Duration `yaml:"debounce"`
}

// Sensor is a validated sensor definition.
type Sensor struct {
	Name     string
	EntityID string
	Delay    time.Duration
	Topic    string
	GPIO     *GPIOConfig
}

// Lag returns the engine configuration for s.
func (s Sensor) Lag() lag.Config {
	return lag.Config{Name: s.Name, EntityID: s.EntityID, Delay: s.Delay}
}

// UniqueID identifies s among all configured sensors.
func (s Sensor) UniqueID() string {
	return "lag_sensor_" + s.EntityID + FormatDelay(s.Delay)
}

// Load reads and parses the YAML file at path. It does not validate sensors.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a YAML document and fills in defaults. Unknown keys are errors.
func Parse(data []byte) (*File, error) {
	f := &File{
		Broker:    DefaultBroker,
		HTTP:      DefaultHTTP,
		History:   DefaultHistory,
		Heartbeat: DefaultHeartbeat,
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if f.HTTP == "off" {
		f.HTTP = ""
	}
	if f.ClientID == "" {
		f.ClientID = "lag-sensor-" + uuid.NewString()[:8]
	}
	for i := range f.Sensors {
		if g := f.Sensors[i].Source.GPIO; g != nil {
			if g.Poll <= 0 {
				g.Poll = DefaultPoll
			}
			if g.Debounce <= 0 {
				g.Debounce = DefaultDebounce
			}
		}
	}
	return f, nil
}

// Validate checks every sensor. Duplicate (entity, delay) pairs and names
// that map to the same state topic are rejected with an error wrapping
// ErrConfigurationConflict.
func (f *File) Validate() ([]Sensor, error) {
	if f.Broker == "" {
		return nil, errors.New("broker is required")
	}

	out := make([]Sensor, 0, len(f.Sensors))
	byKey := make(map[string]string, len(f.Sensors))
	byObject := make(map[string]string, len(f.Sensors))

	for i, sc := range f.Sensors {
		s, err := sc.resolve()
		if err != nil {
			return nil, fmt.Errorf("sensor %d (%q): %w", i+1, sc.Name, err)
		}

		key := s.UniqueID()
		if other, ok := byKey[key]; ok {
			return nil, fmt.Errorf("%w: sensors %q and %q both lag %s by %s",
				ErrConfigurationConflict, other, s.Name, s.EntityID, FormatDelay(s.Delay))
		}
		byKey[key] = s.Name

		obj := mqtt.ObjectID(s.Name)
		if other, ok := byObject[obj]; ok {
			return nil, fmt.Errorf("%w: sensors %q and %q would both publish to %s",
				ErrConfigurationConflict, other, s.Name, mqtt.StateTopic(s.Name))
		}
		byObject[obj] = s.Name
		out = append(out, s)
	}
	return out, nil
}

// MaxDelay returns the longest delay among sensors, or 0.
func MaxDelay(sensors []Sensor) time.Duration {
	var longest time.Duration
	for _, s := range sensors {
		if s.Delay > longest {
			longest = s.Delay
		}
	}
	return longest
}

func (sc SensorConfig) resolve() (Sensor, error) {
	if sc.Name == "" {
		return Sensor{}, errors.New("name is required")
	}
	if sc.EntityID == "" {
		return Sensor{}, errors.New("entity_id is required")
	}

	delay, err := ParseDelay(sc.Delay)
	if err != nil {
		return Sensor{}, err
	}

	hasTopic := sc.Source.Topic != ""
	hasGPIO := sc.Source.GPIO != nil
	if hasTopic == hasGPIO {
		return Sensor{}, errors.New("source needs exactly one of topic or gpio")
	}
	if hasGPIO && sc.Source.GPIO.Pin < 0 {
		return Sensor{}, fmt.Errorf("invalid gpio pin %d", sc.Source.GPIO.Pin)
	}

	return Sensor{
		Name:     sc.Name,
		EntityID: sc.EntityID,
		Delay:    delay,
		Topic:    sc.Source.Topic,
		GPIO:     sc.Source.GPIO,
	}, nil
}
