package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/lag-sensor/internal/lag"
	"github.com/sweeney/lag-sensor/internal/status"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*httptest.Server, *status.Tracker) {
	t.Helper()
	cfg := status.Config{
		HeartbeatMs: 900000,
		Broker:      "tcp://192.168.1.200:1883",
		ClientID:    "lag-sensor-test",
		HTTPAddr:    ":8080",
		History:     "lag-sensor.db",
	}
	tr := status.NewTracker(start, cfg)
	srv := New(":0", tr)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tr
}

func outdoorSensor(hasValue bool) status.Sensor {
	s := status.Sensor{
		Name:     "Outdoor 1h ago",
		EntityID: "sensor.outdoor",
		Delay:    time.Hour,
		Source:   "mqtt:home/outdoor",
		Stats:    lag.Stats{State: lag.StateArmed, Pending: 3, NextFire: start.Add(time.Hour), Started: true},
	}
	if hasValue {
		s.HasValue = true
		s.Current = lag.Emission{Value: "4.5", Unit: "°C", ObservedAt: start, EmittedAt: start.Add(time.Hour)}
		s.Stats.Counts.Emitted = 7
	}
	return s
}

func getJSON(t *testing.T, url string) status.StatusJSON {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return sj
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.SetSensors(func() []status.Sensor { return []status.Sensor{outdoorSensor(true)} })
	tr.SetMQTTConnected(true)

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	sj := getJSON(t, ts.URL+"/index.json")
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.MQTT.Broker != "tcp://192.168.1.200:1883" {
		t.Errorf("MQTT.Broker: got %q, want tcp://192.168.1.200:1883", sj.Status.MQTT.Broker)
	}
	if len(sj.Status.Sensors) != 1 {
		t.Fatalf("expected 1 sensor, got %d", len(sj.Status.Sensors))
	}
	s := sj.Status.Sensors[0]
	if s.Value == nil || *s.Value != "4.5" {
		t.Errorf("Value: got %v, want 4.5", s.Value)
	}
	if s.Counts.Emitted != 7 {
		t.Errorf("Counts.Emitted: got %d, want 7", s.Counts.Emitted)
	}
	if sj.Status.Config.History != "lag-sensor.db" {
		t.Errorf("Config.History: got %q", sj.Status.Config.History)
	}
}

func TestJSONNoValueBeforeFirstEmission(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.SetSensors(func() []status.Sensor { return []status.Sensor{outdoorSensor(false)} })

	sj := getJSON(t, ts.URL+"/index.json")
	if sj.Status.Sensors[0].Value != nil {
		t.Errorf("expected null value, got %q", *sj.Status.Sensors[0].Value)
	}
}

func TestJSONNetworkInfo(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.SetNetwork(&status.NetworkInfo{
		Type:   "wifi",
		IP:     "192.168.1.42",
		Status: "connected",
		SSID:   "MyNet",
	})

	sj := getJSON(t, ts.URL+"/index.json")
	if sj.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if sj.Status.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", sj.Status.Network.IP)
	}
}

func TestHTMLEndpointRoot(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.SetSensors(func() []status.Sensor { return []status.Sensor{outdoorSensor(true)} })

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type: got %q, want text/html", ct)
	}

	body, _ := io.ReadAll(resp.Body)
	page := string(body)
	for _, want := range []string{"Outdoor 1h ago", "sensor.outdoor", "4.5 °C", "1:00:00", `id="value-outdoor_1h_ago"`} {
		if !strings.Contains(page, want) {
			t.Errorf("page missing %q", want)
		}
	}
	if strings.Contains(page, "mqtt.min.js") {
		t.Error("live script should be absent without a websocket broker")
	}
}

func TestHTMLNoSensors(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/index.html")
	if err != nil {
		t.Fatalf("GET /index.html: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "No sensors configured.") {
		t.Error("expected empty-state message")
	}
}

func TestHTMLLiveScript(t *testing.T) {
	tr := status.NewTracker(start, status.Config{WSBroker: "ws://192.168.1.200:9001"})
	ts := httptest.NewServer(New(":0", tr).Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	page := string(body)
	if !strings.Contains(page, `<script src="/mqtt.min.js"></script>`) {
		t.Error("expected the local live script with a websocket broker")
	}
	if strings.Contains(page, "https://") {
		t.Error("page must not load anything from the internet")
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	ts, tr := newTestServer(t)

	var mu sync.Mutex
	current := outdoorSensor(false)
	tr.SetSensors(func() []status.Sensor {
		mu.Lock()
		defer mu.Unlock()
		return []status.Sensor{current}
	})

	sj1 := getJSON(t, ts.URL+"/index.json")
	if sj1.Status.Sensors[0].Value != nil {
		t.Error("expected no value initially")
	}

	mu.Lock()
	current = outdoorSensor(true)
	mu.Unlock()
	tr.SetMQTTConnected(true)

	sj2 := getJSON(t, ts.URL+"/index.json")
	if v := sj2.Status.Sensors[0].Value; v == nil || *v != "4.5" {
		t.Errorf("expected value after emission, got %v", v)
	}
	if !sj2.Status.MQTT.Connected {
		t.Error("expected MQTT connected after update")
	}
}
