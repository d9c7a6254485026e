package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
broker: tcp://192.168.1.200:1883
history: /var/lib/lag-sensor/history.db
heartbeat: 5m
sensors:
  - name: Outdoor temperature 1h ago
    entity_id: sensor.outdoor_temperature
    delay: "01:00:00"
    source:
      topic: homeassistant/sensor/outdoor_temperature/state
  - name: Boiler CH 10m ago
    entity_id: binary_sensor.boiler_ch
    delay: PT10M
    source:
      gpio:
        pin: 26
        active_low: true
`

func TestParse_Sample(t *testing.T) {
	f, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "tcp://192.168.1.200:1883", f.Broker)
	assert.Equal(t, DefaultHTTP, f.HTTP)
	assert.Equal(t, 5*time.Minute, f.Heartbeat)
	assert.True(t, strings.HasPrefix(f.ClientID, "lag-sensor-"), "generated client id: %q", f.ClientID)

	sensors, err := f.Validate()
	require.NoError(t, err)
	require.Len(t, sensors, 2)

	assert.Equal(t, time.Hour, sensors[0].Delay)
	assert.Equal(t, "homeassistant/sensor/outdoor_temperature/state", sensors[0].Topic)
	assert.Nil(t, sensors[0].GPIO)

	require.NotNil(t, sensors[1].GPIO)
	assert.Equal(t, 26, sensors[1].GPIO.Pin)
	assert.True(t, sensors[1].GPIO.ActiveLow)
	assert.Equal(t, DefaultPoll, sensors[1].GPIO.Poll)
	assert.Equal(t, DefaultDebounce, sensors[1].GPIO.Debounce)
	assert.Equal(t, 10*time.Minute, sensors[1].Lag().Delay)
}

func TestParse_Defaults(t *testing.T) {
	f, err := Parse([]byte("sensors: []\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultBroker, f.Broker)
	assert.Equal(t, DefaultHistory, f.History)
	assert.Equal(t, DefaultHeartbeat, f.Heartbeat)
}

func TestParse_HTTPOff(t *testing.T) {
	f, err := Parse([]byte("http: \"off\"\n"))
	require.NoError(t, err)
	assert.Empty(t, f.HTTP)
}

func TestParse_UnknownKey(t *testing.T) {
	_, err := Parse([]byte("brokers: tcp://x\n"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lag-sensor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, f.Sensors, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate_Conflict(t *testing.T) {
	f, err := Parse([]byte(`
sensors:
  - name: a
    entity_id: sensor.x
    delay: "00:05:00"
    source: {topic: x}
  - name: b
    entity_id: sensor.x
    delay: PT5M
    source: {topic: y}
`))
	require.NoError(t, err)

	_, err = f.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfigurationConflict), "got %v", err)
	assert.Contains(t, err.Error(), `"a"`)
	assert.Contains(t, err.Error(), `"b"`)
}

func TestValidate_SameEntityDifferentDelay(t *testing.T) {
	f, err := Parse([]byte(`
sensors:
  - {name: a, entity_id: sensor.x, delay: "00:05:00", source: {topic: x}}
  - {name: b, entity_id: sensor.x, delay: "00:10:00", source: {topic: x}}
`))
	require.NoError(t, err)

	sensors, err := f.Validate()
	require.NoError(t, err)
	assert.NotEqual(t, sensors[0].UniqueID(), sensors[1].UniqueID())
}

func TestValidate_TopicConflict(t *testing.T) {
	for _, names := range [][2]string{
		{"Temp 1h", "temp-1h"},
		{"Outdoor", "Outdoor"},
		{"Température", "temperature"},
	} {
		t.Run(names[0]+"/"+names[1], func(t *testing.T) {
			f, err := Parse([]byte(`
sensors:
  - {name: "` + names[0] + `", entity_id: sensor.a, delay: 1h, source: {topic: a}}
  - {name: "` + names[1] + `", entity_id: sensor.b, delay: 2h, source: {topic: b}}
`))
			require.NoError(t, err)

			_, err = f.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfigurationConflict), "got %v", err)
			assert.Contains(t, err.Error(), "lag_sensor/")
		})
	}
}

func TestValidate_SubMicrosecondDelays(t *testing.T) {
	f, err := Parse([]byte(`
sensors:
  - {name: a, entity_id: sensor.x, delay: PT1.000001S, source: {topic: x}}
  - {name: b, entity_id: sensor.x, delay: PT1.000002S, source: {topic: x}}
`))
	require.NoError(t, err)
	sensors, err := f.Validate()
	require.NoError(t, err)
	assert.NotEqual(t, sensors[0].UniqueID(), sensors[1].UniqueID())

	// Below a microsecond both are the same one-second delay.
	f, err = Parse([]byte(`
sensors:
  - {name: a, entity_id: sensor.x, delay: PT1.0000001S, source: {topic: x}}
  - {name: b, entity_id: sensor.x, delay: PT1.0000002S, source: {topic: x}}
`))
	require.NoError(t, err)
	_, err = f.Validate()
	assert.True(t, errors.Is(err, ErrConfigurationConflict), "got %v", err)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing name", `{entity_id: e, delay: 5s, source: {topic: t}}`, "name is required"},
		{"missing entity", `{name: n, delay: 5s, source: {topic: t}}`, "entity_id is required"},
		{"zero delay", `{name: n, entity_id: e, delay: "00:00:00", source: {topic: t}}`, "must be positive"},
		{"bad delay", `{name: n, entity_id: e, delay: soon, source: {topic: t}}`, "invalid delay"},
		{"no source", `{name: n, entity_id: e, delay: 5s}`, "exactly one"},
		{"two sources", `{name: n, entity_id: e, delay: 5s, source: {topic: t, gpio: {pin: 4}}}`, "exactly one"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse([]byte("sensors:\n  - " + tt.yaml + "\n"))
			require.NoError(t, err)
			_, err = f.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.False(t, errors.Is(err, ErrConfigurationConflict))
		})
	}
}

func TestUniqueID(t *testing.T) {
	s := Sensor{EntityID: "sensor.power", Delay: 90 * time.Second}
	assert.Equal(t, "lag_sensor_sensor.power0:01:30", s.UniqueID())
}

func TestMaxDelay(t *testing.T) {
	assert.Equal(t, time.Duration(0), MaxDelay(nil))
	assert.Equal(t, time.Hour, MaxDelay([]Sensor{{Delay: time.Minute}, {Delay: time.Hour}, {Delay: time.Second}}))
}

func TestLoad_ExampleFile(t *testing.T) {
	f, err := Load(filepath.Join("..", "..", "lag-sensor.example.yaml"))
	require.NoError(t, err)

	sensors, err := f.Validate()
	require.NoError(t, err)
	require.Len(t, sensors, 3)
	assert.Equal(t, time.Hour, sensors[0].Delay)
	assert.Equal(t, 24*time.Hour, sensors[1].Delay)
	assert.Equal(t, 26, sensors[2].GPIO.Pin)
	assert.Equal(t, 24*time.Hour, MaxDelay(sensors))
}
