package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/lag-sensor/internal/lag"
)

func testStateEvent() StateEvent {
	return StateEvent{
		Sensor:   "Outdoor temperature 1h ago",
		EntityID: "sensor.outdoor_temperature",
		Delay:    time.Hour,
		Emission: lag.Emission{
			Value:      "4.5",
			Unit:       "°C",
			ObservedAt: time.Date(2026, 2, 2, 21, 18, 12, 0, time.UTC),
			EmittedAt:  time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		},
	}
}

func TestFormatStatePayload(t *testing.T) {
	payload, err := FormatStatePayload(testStateEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed StatePayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	p := parsed.LagSensor
	if p.Value != "4.5" {
		t.Errorf("value: got %q", p.Value)
	}
	if p.Unit != "°C" {
		t.Errorf("unit: got %q", p.Unit)
	}
	if p.ObservedAt != "2026-02-02T21:18:12Z" {
		t.Errorf("observed_at: got %s", p.ObservedAt)
	}
	if p.EmittedAt != "2026-02-02T22:18:12Z" {
		t.Errorf("emitted_at: got %s", p.EmittedAt)
	}
	if p.DelaySeconds != 3600 {
		t.Errorf("delay_seconds: got %v", p.DelaySeconds)
	}
	if p.EntityID != "sensor.outdoor_temperature" {
		t.Errorf("entity_id: got %q", p.EntityID)
	}
}

func TestFormatStatePayloadOmitsMissingUnit(t *testing.T) {
	ev := testStateEvent()
	ev.Emission.Unit = ""

	payload, err := FormatStatePayload(ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var raw map[string]map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, ok := raw["lag_sensor"]["unit_of_measurement"]; ok {
		t.Errorf("unit_of_measurement present for unitless value: %s", payload)
	}
}

func TestFormatStatePayloadTimezoneConversion(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	ev := testStateEvent()
	ev.Emission.ObservedAt = time.Date(2026, 2, 2, 12, 0, 0, 0, loc)

	payload, _ := FormatStatePayload(ev)
	var parsed StatePayload
	json.Unmarshal(payload, &parsed)

	if parsed.LagSensor.ObservedAt != "2026-02-02T10:00:00Z" {
		t.Errorf("expected UTC timestamp, got %s", parsed.LagSensor.ObservedAt)
	}
}

func TestTopics(t *testing.T) {
	if TopicSystem != "lag_sensor/system" {
		t.Errorf("unexpected system topic: %s", TopicSystem)
	}
	if got := StateTopic("Outdoor temperature 1h ago"); got != "lag_sensor/outdoor_temperature_1h_ago/state" {
		t.Errorf("unexpected state topic: %s", got)
	}
}

func TestObjectID(t *testing.T) {
	tests := map[string]string{
		"Outdoor temperature":         "outdoor_temperature",
		"Température extérieure (1h)": "temperature_exterieure_1h",
		"  Boiler -- CH  ":            "boiler_ch",
		"Power/W":                     "power_w",
		"!!!":                         "unnamed",
		"":                            "unnamed",
	}
	for in, want := range tests {
		if got := ObjectID(in); got != want {
			t.Errorf("ObjectID(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestFormatSystemPayload(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-02T22:18:12Z","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(payload) != expected {
		t.Errorf("payload mismatch:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadOmitsReason(t *testing.T) {
	payload, _ := FormatSystemPayload(SystemEvent{
		Timestamp: time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		Event:     "RELOAD",
	})

	expected := `{"system":{"timestamp":"2026-02-02T22:18:12Z","event":"RELOAD"}}`
	if string(payload) != expected {
		t.Errorf("payload mismatch:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"status":{"event":"STARTUP"}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "STARTUP", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("raw payload not passed through: %s", payload)
	}
}

func TestDecodeStatePlain(t *testing.T) {
	received := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	rec, err := DecodeState([]byte(" 21.5\n"), received)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Value != "21.5" {
		t.Errorf("value: got %q", rec.Value)
	}
	if rec.Unit != "" {
		t.Errorf("unit: got %q, want none", rec.Unit)
	}
	if !rec.ObservedAt.Equal(received) {
		t.Errorf("observed: got %v, want arrival time", rec.ObservedAt)
	}
}

func TestDecodeStateObject(t *testing.T) {
	received := time.Date(2026, 1, 1, 12, 0, 5, 0, time.UTC)

	tests := []struct {
		name     string
		payload  string
		value    string
		unit     string
		observed time.Time
	}{
		{
			name:     "home assistant state",
			payload:  `{"state":"21.5","attributes":{"unit_of_measurement":"°C"},"last_updated":"2026-01-01T12:00:00.250+00:00"}`,
			value:    "21.5",
			unit:     "°C",
			observed: time.Date(2026, 1, 1, 12, 0, 0, 250_000_000, time.UTC),
		},
		{
			name:     "top level unit and last_changed",
			payload:  `{"state":"on","unit_of_measurement":"W","last_changed":"2026-01-01T13:00:00+01:00"}`,
			value:    "on",
			unit:     "W",
			observed: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			name:     "numeric value and unix timestamp",
			payload:  `{"value":1500,"timestamp":1767268800}`,
			value:    "1500",
			observed: time.Unix(1767268800, 0).UTC(),
		},
		{
			name:     "bool value without time",
			payload:  `{"state":true}`,
			value:    "on",
			observed: received,
		},
		{
			name:     "null value",
			payload:  `{"state":null}`,
			value:    "unknown",
			observed: received,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := DecodeState([]byte(tt.payload), received)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Value != tt.value {
				t.Errorf("value: got %q, want %q", rec.Value, tt.value)
			}
			if rec.Unit != tt.unit {
				t.Errorf("unit: got %q, want %q", rec.Unit, tt.unit)
			}
			if !rec.ObservedAt.Equal(tt.observed) {
				t.Errorf("observed: got %v, want %v", rec.ObservedAt, tt.observed)
			}
		})
	}
}

func TestDecodeStateErrors(t *testing.T) {
	received := time.Now()

	if _, err := DecodeState([]byte("   "), received); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("blank payload: got %v, want ErrEmptyPayload", err)
	}
	for _, p := range []string{`{"state":`, `{"other":1}`, `{"state":"1","last_updated":"yesterday"}`} {
		if _, err := DecodeState([]byte(p), received); err == nil {
			t.Errorf("%s: expected error", p)
		}
	}
}

func TestFakeClientPublish(t *testing.T) {
	f := NewFakeClient()

	if err := f.PublishState(testStateEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.PublishSystem(SystemEvent{Event: "STARTUP", Timestamp: time.Now()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.States()) != 1 || len(f.StatePayloads) != 1 {
		t.Fatalf("expected 1 state event and payload, got %d/%d", len(f.States()), len(f.StatePayloads))
	}
	if len(f.Systems()) != 1 || f.Systems()[0].Event != "STARTUP" {
		t.Errorf("unexpected system events: %+v", f.Systems())
	}
}

func TestFakeClientErrors(t *testing.T) {
	f := NewFakeClient()
	f.PublishError = errors.New("broker down")
	f.PublishSystemError = errors.New("broker down")

	if err := f.PublishState(testStateEvent()); err == nil {
		t.Error("expected PublishState error")
	}
	if err := f.PublishSystem(SystemEvent{Event: "HEARTBEAT"}); err == nil {
		t.Error("expected PublishSystem error")
	}
	if len(f.States()) != 0 || len(f.Systems()) != 0 {
		t.Error("failed publishes should not be recorded")
	}
}

func TestFakeClientReset(t *testing.T) {
	f := NewFakeClient()
	f.PublishState(testStateEvent())
	f.Connected = true
	f.Close()
	f.Reset()

	if len(f.States()) != 0 || f.Closed || f.IsConnected() {
		t.Errorf("reset did not clear state: %+v", f)
	}
}

func TestFakeClientFanOut(t *testing.T) {
	f := NewFakeClient()
	received := time.Now()

	var a, b []string
	cancelA, err := f.Subscribe("home/power", func(p []byte, _ time.Time) { a = append(a, string(p)) })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancelB, _ := f.Subscribe("home/power", func(p []byte, _ time.Time) { b = append(b, string(p)) })

	if n := f.Deliver("home/power", []byte("1"), received); n != 2 {
		t.Errorf("handlers run: got %d, want 2", n)
	}

	cancelA()
	cancelA() // idempotent
	f.Deliver("home/power", []byte("2"), received)

	if len(a) != 1 || len(b) != 2 {
		t.Errorf("a=%v b=%v", a, b)
	}

	cancelB()
	if f.Subscribers("home/power") != 0 {
		t.Errorf("subscribers left: %d", f.Subscribers("home/power"))
	}
	if n := f.Deliver("home/power", []byte("3"), received); n != 0 {
		t.Errorf("delivered after cancel: %d", n)
	}
}

func TestFakeClientSubscribeError(t *testing.T) {
	f := NewFakeClient()
	f.SubscribeError = errors.New("not authorised")

	if _, err := f.Subscribe("x", func([]byte, time.Time) {}); err == nil {
		t.Error("expected subscribe error")
	}
}

func TestRouterFirstAndLast(t *testing.T) {
	r := newRouter()

	id1, first := r.add("t", func([]byte, time.Time) {})
	if !first {
		t.Error("first handler should report first=true")
	}
	id2, first := r.add("t", func([]byte, time.Time) {})
	if first {
		t.Error("second handler should report first=false")
	}

	if r.remove("t", id1) {
		t.Error("removing one of two should not report last")
	}
	if r.remove("t", id1) {
		t.Error("removing an unknown id should not report last")
	}
	if !r.remove("t", id2) {
		t.Error("removing the final handler should report last")
	}
	if len(r.topics()) != 0 {
		t.Errorf("topics left: %v", r.topics())
	}
}

func TestTopicSource(t *testing.T) {
	f := NewFakeClient()
	src := TopicSource{Sub: f, Topic: "home/temp"}

	var got []lag.Record
	cancel, err := src.Subscribe(func(r lag.Record) { got = append(got, r) })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	received := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f.Deliver("home/temp", []byte(`{"state":"20","unit_of_measurement":"°C"}`), received)
	f.Deliver("home/temp", []byte(""), received) // skipped
	f.Deliver("home/temp", []byte("21"), received.Add(time.Second))

	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %+v", got)
	}
	if got[0].Value != "20" || got[0].Unit != "°C" {
		t.Errorf("record 0: %+v", got[0])
	}
	if got[1].Value != "21" || !got[1].ObservedAt.Equal(received.Add(time.Second)) {
		t.Errorf("record 1: %+v", got[1])
	}
}
