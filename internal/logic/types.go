// Package logic contains pure telemetry logic for shaft angle reporting.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"math"
	"time"
)

// EventType represents a reportable change in the encoder state.
type EventType string

const (
	EventReferenceFound EventType = "REFERENCE_FOUND"
	EventAngle          EventType = "ANGLE"
)

// Event represents a change to be published.
type Event struct {
	Timestamp   time.Time
	Type        EventType
	Angle       float64 // radians in [0, 2π)
	NeedsSearch bool
}

// AngleDegrees returns the event angle in degrees.
func (e Event) AngleDegrees() float64 {
	return e.Angle * 180 / math.Pi
}

// Sample represents a single poll of the encoder.
type Sample struct {
	Angle       float64 // radians, or -1 when not initialized
	NeedsSearch bool
	Initialized bool
	Time        time.Time
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	ReferenceFound int
	Angle          int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}
