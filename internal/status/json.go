package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/lag-sensor/internal/lag"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	Reloads       int          `json:"reloads"`
	LastReload    string       `json:"last_reload,omitempty"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Sensors       []SensorJSON `json:"sensors"`
	Totals        CountsJSON   `json:"totals"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	ClientID  string `json:"client_id"`
}

// SensorJSON is the JSON representation of one lag sensor.
type SensorJSON struct {
	Name         string     `json:"name"`
	EntityID     string     `json:"entity_id"`
	UniqueID     string     `json:"unique_id"`
	DelaySeconds float64    `json:"delay_seconds"`
	Source       string     `json:"source"`
	Topic        string     `json:"topic"`
	Value        *string    `json:"value"`
	Unit         string     `json:"unit_of_measurement,omitempty"`
	ObservedAt   string     `json:"observed_at,omitempty"`
	EmittedAt    string     `json:"emitted_at,omitempty"`
	State        string     `json:"state"`
	Pending      int        `json:"pending"`
	NextFire     string     `json:"next_fire,omitempty"`
	Counts       CountsJSON `json:"counts"`
}

// CountsJSON is the JSON representation of engine counts.
type CountsJSON struct {
	Received      int `json:"received"`
	Historical    int `json:"historical"`
	Emitted       int `json:"emitted"`
	Dropped       int `json:"dropped"`
	Duplicates    int `json:"duplicates"`
	EmitErrors    int `json:"emit_errors"`
	SpuriousFires int `json:"spurious_fires"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
	WSBroker    string `json:"ws_broker,omitempty"`
	History     string `json:"history"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func buildSensor(s Sensor) SensorJSON {
	sj := SensorJSON{
		Name:         s.Name,
		EntityID:     s.EntityID,
		UniqueID:     s.UniqueID,
		DelaySeconds: s.Delay.Seconds(),
		Source:       s.Source,
		Topic:        s.Topic,
		State:        string(s.Stats.State),
		Pending:      s.Stats.Pending,
		NextFire:     formatTime(s.Stats.NextFire),
		Counts:       buildCounts(s.Stats.Counts),
	}
	if sj.State == "" {
		sj.State = "UNKNOWN"
	}
	if s.HasValue {
		v := s.Current.Value
		sj.Value = &v
		sj.Unit = s.Current.Unit
		sj.ObservedAt = formatTime(s.Current.ObservedAt)
		sj.EmittedAt = formatTime(s.Current.EmittedAt)
	}
	return sj
}

func buildInner(snap Snapshot) StatusInner {
	sensors := make([]SensorJSON, 0, len(snap.Sensors))
	for _, s := range snap.Sensors {
		sensors = append(sensors, buildSensor(s))
	}

	inner := StatusInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Reloads:       snap.Reloads,
		MQTT: MQTTStatus{
			Connected: snap.MQTTConnected,
			Broker:    snap.Config.Broker,
			ClientID:  snap.Config.ClientID,
		},
		Sensors: sensors,
		Totals:  buildCounts(snap.Totals()),
		Config: ConfigJSON{
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			WSBroker:    snap.Config.WSBroker,
			History:     snap.Config.History,
		},
	}
	if !snap.LastReload.IsZero() {
		inner.LastReload = snap.LastReload.UTC().Format(time.RFC3339)
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

func buildCounts(c lag.Counts) CountsJSON {
	return CountsJSON{
		Received:      c.Received,
		Historical:    c.Historical,
		Emitted:       c.Emitted,
		Dropped:       c.Dropped,
		Duplicates:    c.Duplicates,
		EmitErrors:    c.EmitErrors,
		SpuriousFires: c.SpuriousFires,
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
