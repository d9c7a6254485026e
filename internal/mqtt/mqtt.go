// Package mqtt provides MQTT publishing and subscribing with abstraction for testing.
package mqtt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sweeney/lag-sensor/internal/lag"
)

// TopicPrefix is the root of every topic this daemon publishes.
const TopicPrefix = "lag_sensor"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = TopicPrefix + "/system"

// StateTopic returns the retained topic carrying a sensor's lagged value.
func StateTopic(name string) string {
	return TopicPrefix + "/" + ObjectID(name) + "/state"
}

// Publisher publishes lag sensor output to MQTT.
type Publisher interface {
	// PublishState sends a lagged value. Returns error if publishing fails
	// (should not crash the process).
	PublishState(event StateEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// Handler receives a raw message from a subscribed topic.
type Handler func(payload []byte, received time.Time)

// Subscriber delivers messages from broker topics.
type Subscriber interface {
	// Subscribe registers h for topic. Several handlers may share a topic.
	// The returned cancel func removes h.
	Subscribe(topic string, h Handler) (cancel func(), err error)
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// StateEvent is a lagged value ready to publish.
type StateEvent struct {
	Sensor   string
	EntityID string
	Delay    time.Duration
	Emission lag.Emission
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT", "RELOAD"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// StatePayload represents the MQTT message payload for a lagged value.
type StatePayload struct {
	LagSensor StateInner `json:"lag_sensor"`
}

// StateInner contains the lagged value details.
type StateInner struct {
	Name         string  `json:"name"`
	EntityID     string  `json:"entity_id"`
	Value        string  `json:"value"`
	Unit         string  `json:"unit_of_measurement,omitempty"`
	ObservedAt   string  `json:"observed_at"`
	EmittedAt    string  `json:"emitted_at"`
	DelaySeconds float64 `json:"delay_seconds"`
}

// FormatStatePayload creates the JSON payload for a lagged value.
func FormatStatePayload(event StateEvent) ([]byte, error) {
	payload := StatePayload{
		LagSensor: StateInner{
			Name:         event.Sensor,
			EntityID:     event.EntityID,
			Value:        event.Emission.Value,
			Unit:         event.Emission.Unit,
			ObservedAt:   event.Emission.ObservedAt.UTC().Format(time.RFC3339Nano),
			EmittedAt:    event.Emission.EmittedAt.UTC().Format(time.RFC3339Nano),
			DelaySeconds: event.Delay.Seconds(),
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RELOAD) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// ErrEmptyPayload is returned by DecodeState for blank messages.
var ErrEmptyPayload = errors.New("empty payload")

// DecodeState turns a source message into a state change record.
//
// A JSON object is read Home Assistant style: "state" (or "value"),
// "unit_of_measurement" at the top level or under "attributes", and the
// observation time from "last_updated", "last_changed" or "timestamp".
// Anything else is taken verbatim as the value. Without a timestamp the
// record is observed at received.
func DecodeState(payload []byte, received time.Time) (lag.Record, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return lag.Record{}, ErrEmptyPayload
	}

	rec := lag.Record{ObservedAt: received}
	if trimmed[0] != '{' {
		rec.Value = string(trimmed)
		return rec, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return lag.Record{}, fmt.Errorf("decode state object: %w", err)
	}

	raw, ok := obj["state"]
	if !ok {
		raw, ok = obj["value"]
	}
	if !ok {
		return lag.Record{}, errors.New("state object has no \"state\" or \"value\"")
	}
	rec.Value = stateString(raw)

	if u, ok := obj["unit_of_measurement"].(string); ok {
		rec.Unit = u
	} else if attrs, ok := obj["attributes"].(map[string]any); ok {
		if u, ok := attrs["unit_of_measurement"].(string); ok {
			rec.Unit = u
		}
	}

	for _, key := range []string{"last_updated", "last_changed", "timestamp"} {
		v, ok := obj[key]
		if !ok {
			continue
		}
		ts, err := parseTimestamp(v)
		if err != nil {
			return lag.Record{}, fmt.Errorf("%s: %w", key, err)
		}
		rec.ObservedAt = ts
		break
	}
	return rec, nil
}

func stateString(v any) string {
	switch s := v.(type) {
	case nil:
		return "unknown"
	case string:
		return s
	case json.Number:
		return s.String()
	case bool:
		if s {
			return "on"
		}
		return "off"
	default:
		b, _ := json.Marshal(s)
		return string(b)
	}
}

func parseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case string:
		ts, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", t, err)
		}
		return ts.UTC(), nil
	case json.Number:
		f, err := strconv.ParseFloat(t.String(), 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", t, err)
		}
		sec := int64(f)
		return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp %v", v)
	}
}

// ObjectID turns a display name into a topic-safe slug:
// "Température extérieure (1h)" becomes "temperature_exterieure_1h".
func ObjectID(name string) string {
	// A transform chain carries state, so each call builds its own.
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}

	id := strings.TrimSuffix(b.String(), "_")
	if id == "" {
		return "unnamed"
	}
	return id
}
