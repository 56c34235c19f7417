package logic

import (
	"math"
	"time"
)

// Detector turns encoder samples into publishable events.
type Detector struct {
	deadband      float64 // radians
	baselined     bool
	lastAngle     float64
	searching     bool
	startTime     time.Time
	eventCounts   EventCounts
	lastHeartbeat time.Time
	current       Sample
}

// NewDetector creates a detector that reports angle changes of at least
// deadband radians. The startTime is used for calculating uptime in heartbeat events.
func NewDetector(deadband float64, startTime time.Time) *Detector {
	return &Detector{
		deadband:      deadband,
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
}

// Process takes a new sample and returns any events that should be emitted.
// The first sample from an initialized encoder establishes the baseline and
// emits nothing.
func (d *Detector) Process(s Sample) []Event {
	d.current = s
	if !s.Initialized {
		return nil
	}

	if !d.baselined {
		d.baselined = true
		d.lastAngle = s.Angle
		d.searching = s.NeedsSearch
		return nil
	}

	var events []Event

	switch {
	case d.searching && !s.NeedsSearch:
		// The angle just became absolute; always report it.
		events = append(events, d.event(EventReferenceFound, s))
		d.eventCounts.ReferenceFound++
		d.lastAngle = s.Angle
	case d.moved(s.Angle):
		events = append(events, d.event(EventAngle, s))
		d.eventCounts.Angle++
		d.lastAngle = s.Angle
	}
	d.searching = s.NeedsSearch

	return events
}

func (d *Detector) moved(angle float64) bool {
	dist := AngularDistance(d.lastAngle, angle)
	return dist > 0 && dist >= d.deadband
}

func (d *Detector) event(t EventType, s Sample) Event {
	return Event{
		Timestamp:   s.Time,
		Type:        t,
		Angle:       s.Angle,
		NeedsSearch: s.NeedsSearch,
	}
}

// AngularDistance returns the shortest distance between two angles in
// radians, taking the 0/2π wrap into account. The result is in [0, π].
func AngularDistance(a, b float64) float64 {
	d := math.Mod(b-a, 2*math.Pi)
	if d < 0 {
		d += 2 * math.Pi
	}
	if d > math.Pi {
		d = 2*math.Pi - d
	}
	return d
}

// IsBaselined returns whether the detector has seen an initialized encoder.
func (d *Detector) IsBaselined() bool {
	return d.baselined
}

// Current returns the most recent sample.
func (d *Detector) Current() Sample {
	return d.current
}

// EventCountsSnapshot returns a copy of the event counts.
func (d *Detector) EventCountsSnapshot() EventCounts {
	return d.eventCounts
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if not yet baselined, if the
// interval has not elapsed, or if interval is <= 0 (disabled).
func (d *Detector) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if !d.baselined {
		return nil
	}

	if now.Sub(d.lastHeartbeat) < interval {
		return nil
	}

	d.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(d.startTime),
		Counts:    d.eventCounts,
	}
}
