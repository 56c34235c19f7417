// Package status provides a thread-safe status tracker for the encoder-monitor daemon.
// It is read by the HTTP handlers and by the system event publisher.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/shaft-encoder/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
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
	PollMs      int64
	DeadbandDeg float64
	HeartbeatMs int64
	Broker      string
	HTTPPort    string

	PinA     int
	PinB     int
	PinIndex int // -1 when the encoder has no index channel
	PPR      int
	Pull     string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Angle         float64 // radians, -1 when the encoder is not initialized
	Position      int64   // counts in [0, cpr), -1 when not initialized
	NeedsSearch   bool
	Initialized   bool
	Baselined     bool
	Counts        logic.EventCounts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// HasIndex reports whether the encoder was configured with an index pin.
func (s Snapshot) HasIndex() bool {
	return s.Config.PinIndex >= 0
}

// CPR returns the configured counts per revolution.
func (s Snapshot) CPR() int {
	return s.Config.PPR * 4
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Angle:     -1,
			Position:  -1,
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update records the latest encoder sample, baseline status and event counts.
// Called from runLoop on every tick.
func (t *Tracker) Update(s logic.Sample, position int64, baselined bool, counts logic.EventCounts) {
	t.mu.Lock()
	t.snap.Angle = s.Angle
	t.snap.Position = position
	t.snap.NeedsSearch = s.NeedsSearch
	t.snap.Initialized = s.Initialized
	t.snap.Baselined = baselined
	t.snap.Counts = counts
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

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
