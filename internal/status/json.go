package status

import (
	"encoding/json"
	"math"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	AngleRad      float64      `json:"angle_rad"`
	AngleDeg      float64      `json:"angle_deg"`
	Position      int64        `json:"position"`
	NeedsSearch   bool         `json:"needs_search"`
	HasIndex      bool         `json:"has_index"`
	Initialized   bool         `json:"initialized"`
	Ready         bool         `json:"ready"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"event_counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	ReferenceFound int `json:"reference_found"`
	Angle          int `json:"angle"`
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
	PollMs      int64   `json:"poll_ms"`
	DeadbandDeg float64 `json:"deadband_deg"`
	HeartbeatMs int64   `json:"heartbeat_ms"`
	Broker      string  `json:"broker"`
	HTTPPort    string  `json:"http_port"`
	PinA        int     `json:"pin_a"`
	PinB        int     `json:"pin_b"`
	PinIndex    int     `json:"pin_index"`
	PPR         int     `json:"ppr"`
	CPR         int     `json:"cpr"`
	Pull        string  `json:"pull"`
}

// Degrees converts an angle in radians to degrees, keeping the -1 sentinel.
func Degrees(rad float64) float64 {
	if rad < 0 {
		return -1
	}
	return rad * 180 / math.Pi
}

func buildInner(snap Snapshot) StatusInner {
	angle, pos := snap.Angle, snap.Position
	if !snap.Initialized {
		angle, pos = -1, -1
	}

	return StatusInner{
		AngleRad:      angle,
		AngleDeg:      Degrees(angle),
		Position:      pos,
		NeedsSearch:   snap.NeedsSearch,
		HasIndex:      snap.HasIndex(),
		Initialized:   snap.Initialized,
		Ready:         snap.Initialized && snap.Baselined,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			ReferenceFound: snap.Counts.ReferenceFound,
			Angle:          snap.Counts.Angle,
		},
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			DeadbandDeg: snap.Config.DeadbandDeg,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPPort:    snap.Config.HTTPPort,
			PinA:        snap.Config.PinA,
			PinB:        snap.Config.PinB,
			PinIndex:    snap.Config.PinIndex,
			PPR:         snap.Config.PPR,
			CPR:         snap.CPR(),
			Pull:        snap.Config.Pull,
		},
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
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
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
