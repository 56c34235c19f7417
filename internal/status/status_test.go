package status

import (
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/shaft-encoder/internal/logic"
)

var testConfig = Config{
	PollMs:      100,
	DeadbandDeg: 1,
	HeartbeatMs: 900000,
	Broker:      "tcp://localhost:1883",
	HTTPPort:    ":80",
	PinA:        17,
	PinB:        27,
	PinIndex:    22,
	PPR:         100,
	Pull:        "internal",
}

func initialized(angle float64, needsSearch bool) logic.Sample {
	return logic.Sample{Angle: angle, NeedsSearch: needsSearch, Initialized: true}
}

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := NewTracker(start, testConfig)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.PollMs != 100 {
		t.Errorf("Config.PollMs: got %d, want 100", snap.Config.PollMs)
	}
	if snap.Config.HTTPPort != ":80" {
		t.Errorf("Config.HTTPPort: got %q, want %q", snap.Config.HTTPPort, ":80")
	}
	if snap.Angle != -1 || snap.Position != -1 {
		t.Errorf("expected -1 angle and position initially, got %v/%d", snap.Angle, snap.Position)
	}
	if snap.Initialized || snap.Baselined {
		t.Error("expected Initialized=false and Baselined=false initially")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := NewTracker(time.Now(), testConfig)

	tr.Update(initialized(math.Pi/2, true), 100, true, logic.EventCounts{Angle: 3, ReferenceFound: 1})

	snap := tr.Snapshot()
	if snap.Angle != math.Pi/2 {
		t.Errorf("Angle: got %v, want π/2", snap.Angle)
	}
	if snap.Position != 100 {
		t.Errorf("Position: got %d, want 100", snap.Position)
	}
	if !snap.NeedsSearch {
		t.Error("expected NeedsSearch=true")
	}
	if !snap.Initialized || !snap.Baselined {
		t.Error("expected Initialized=true and Baselined=true")
	}
	if snap.Counts.Angle != 3 {
		t.Errorf("Counts.Angle: got %d, want 3", snap.Counts.Angle)
	}
	if snap.Counts.ReferenceFound != 1 {
		t.Errorf("Counts.ReferenceFound: got %d, want 1", snap.Counts.ReferenceFound)
	}
}

func TestSnapshotHasIndexAndCPR(t *testing.T) {
	snap := Snapshot{Config: testConfig}
	if !snap.HasIndex() {
		t.Error("expected HasIndex=true with pin 22")
	}
	if snap.CPR() != 400 {
		t.Errorf("CPR: got %d, want 400", snap.CPR())
	}

	snap.Config.PinIndex = -1
	if snap.HasIndex() {
		t.Error("expected HasIndex=false with pin -1")
	}
}

func TestSetMQTTConnected(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetMQTTConnected(true)
	if !tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSetNetwork(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	if tr.Snapshot().Network != nil {
		t.Error("expected nil Network initially")
	}

	net := &NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected"}
	tr.SetNetwork(net)

	snap := tr.Snapshot()
	if snap.Network == nil {
		t.Fatal("expected non-nil Network")
	}
	if snap.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want %q", snap.Network.IP, "192.168.1.42")
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotNowIsSet(t *testing.T) {
	tr := NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Config{})

	before := time.Now()
	snap := tr.Snapshot()
	after := time.Now()

	if snap.Now.Before(before) || snap.Now.After(after) {
		t.Errorf("Now (%v) not between %v and %v", snap.Now, before, after)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Update(initialized(1, false), 64, true, logic.EventCounts{Angle: 1})

	snap1 := tr.Snapshot()

	tr.Update(initialized(2, false), 127, true, logic.EventCounts{Angle: 2})

	// snap1 should still reflect old state
	if snap1.Angle != 1 {
		t.Error("snapshot should be a copy; Angle was modified")
	}
	if snap1.Counts.Angle != 1 {
		t.Error("snapshot should be a copy; Counts was modified")
	}
}

func TestDegrees(t *testing.T) {
	tests := []struct {
		rad  float64
		want float64
	}{
		{0, 0},
		{math.Pi / 2, 90},
		{math.Pi, 180},
		{-1, -1},
	}
	for _, tt := range tests {
		if got := Degrees(tt.rad); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Degrees(%v) = %v, want %v", tt.rad, got, tt.want)
		}
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Angle:         math.Pi / 2,
		Position:      100,
		NeedsSearch:   false,
		Initialized:   true,
		Baselined:     true,
		Counts:        logic.EventCounts{Angle: 5, ReferenceFound: 1},
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        testConfig,
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.AngleRad != math.Pi/2 {
		t.Errorf("AngleRad: got %v, want π/2", parsed.Status.AngleRad)
	}
	if math.Abs(parsed.Status.AngleDeg-90) > 1e-9 {
		t.Errorf("AngleDeg: got %v, want 90", parsed.Status.AngleDeg)
	}
	if parsed.Status.Position != 100 {
		t.Errorf("Position: got %d, want 100", parsed.Status.Position)
	}
	if !parsed.Status.HasIndex {
		t.Error("expected HasIndex=true")
	}
	if !parsed.Status.Ready {
		t.Error("expected Ready=true")
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
	if parsed.Status.MQTT.Connected != true {
		t.Error("expected MQTT.Connected=true")
	}
	if parsed.Status.Counts.Angle != 5 {
		t.Errorf("Counts.Angle: got %d, want 5", parsed.Status.Counts.Angle)
	}
	if parsed.Status.Config.CPR != 400 {
		t.Errorf("Config.CPR: got %d, want 400", parsed.Status.Config.CPR)
	}
	if parsed.Status.Config.Pull != "internal" {
		t.Errorf("Config.Pull: got %q, want internal", parsed.Status.Config.Pull)
	}
	// Event and Reason should be omitted
	if parsed.Status.Event != "" {
		t.Errorf("expected empty Event for web format, got %q", parsed.Status.Event)
	}
	if parsed.Status.Reason != "" {
		t.Errorf("expected empty Reason for web format, got %q", parsed.Status.Reason)
	}
}

func TestFormatJSONUninitialized(t *testing.T) {
	snap := Snapshot{
		Angle:     0.5, // stale value must not leak out
		Position:  12,
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
		Config:    Config{PinIndex: -1},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	json.Unmarshal(data, &parsed)

	if parsed.Status.AngleRad != -1 || parsed.Status.AngleDeg != -1 {
		t.Errorf("angle: got %v rad / %v deg, want -1/-1", parsed.Status.AngleRad, parsed.Status.AngleDeg)
	}
	if parsed.Status.Position != -1 {
		t.Errorf("Position: got %d, want -1", parsed.Status.Position)
	}
	if parsed.Status.Ready {
		t.Error("expected Ready=false for an uninitialized encoder")
	}
	if parsed.Status.HasIndex {
		t.Error("expected HasIndex=false")
	}
}

func TestFormatStatusEvent(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Angle:         math.Pi,
		Position:      200,
		NeedsSearch:   true,
		Initialized:   true,
		Baselined:     true,
		Counts:        logic.EventCounts{Angle: 3},
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        testConfig,
	}

	data := FormatStatusEvent(snap, "HEARTBEAT", "")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "HEARTBEAT" {
		t.Errorf("Event: got %q, want HEARTBEAT", parsed.Status.Event)
	}
	if parsed.Status.Reason != "" {
		t.Errorf("Reason: got %q, want empty", parsed.Status.Reason)
	}
	if !parsed.Status.NeedsSearch {
		t.Error("expected NeedsSearch=true")
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
}

func TestFormatStatusEventShutdown(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Initialized: true,
		Baselined:   true,
		StartTime:   start,
		Now:         start.Add(30 * time.Minute),
		Config:      Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "SHUTDOWN" {
		t.Errorf("Event: got %q, want SHUTDOWN", parsed.Status.Event)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", parsed.Status.Reason)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	data := FormatStatusEvent(snap, "STARTUP", "")

	// Verify "reason" is not in the raw JSON output
	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	status := raw["status"].(map[string]interface{})
	if _, exists := status["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if status["event"] != "STARTUP" {
		t.Errorf("event: got %v, want STARTUP", status["event"])
	}
}

func TestFormatJSONWithNetwork(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC),
		Network:   &NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected", SSID: "MyNet"},
		Config:    Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	json.Unmarshal(data, &parsed)

	if parsed.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if parsed.Status.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", parsed.Status.Network.IP)
	}
	if parsed.Status.Network.SSID != "MyNet" {
		t.Errorf("Network.SSID: got %q, want MyNet", parsed.Status.Network.SSID)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	// Writer
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.Update(initialized(float64(i%6), false), int64(i%400), true, logic.EventCounts{Angle: i})
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetNetwork(&NetworkInfo{IP: "1.2.3.4"})
		}
	}()

	// Reader
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
			_ = FormatJSON(snap)
		}
	}()

	wg.Wait()
}
