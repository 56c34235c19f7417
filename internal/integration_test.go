package internal

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/sweeney/shaft-encoder/internal/counter"
	"github.com/sweeney/shaft-encoder/internal/encoder"
	"github.com/sweeney/shaft-encoder/internal/gpio"
	"github.com/sweeney/shaft-encoder/internal/logic"
	"github.com/sweeney/shaft-encoder/internal/mqtt"
	"github.com/sweeney/shaft-encoder/internal/status"
)

const (
	pinA     = 17
	pinB     = 27
	pinIndex = 22
	ppr      = 100 // 400 counts per revolution
)

var startTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// rig wires a fake counting unit and index pin through the encoder into the
// detector and a fake publisher, the way the daemon's poll loop does.
type rig struct {
	t         *testing.T
	enc       *encoder.Encoder
	unit      *counter.FakeUnit
	irq       *gpio.FakeInterrupts
	detector  *logic.Detector
	publisher *mqtt.FakePublisher
	tracker   *status.Tracker
	tick      int
}

func newRig(t *testing.T, index int, low, high int32) *rig {
	t.Helper()
	pool := counter.NewFakePool(1)
	irq := gpio.NewFakeInterrupts()
	cfg := encoder.Config{PinA: pinA, PinB: pinB, PPR: ppr, PinIndex: index, Pull: gpio.PullInternal, Low: low, High: high}

	enc, err := encoder.New(cfg, pool, irq, zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatalf("encoder.New: %v", err)
	}
	if err := enc.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { enc.Close() })

	return &rig{
		t:         t,
		enc:       enc,
		unit:      pool.Units[0],
		irq:       irq,
		detector:  logic.NewDetector(math.Pi/180, startTime),
		publisher: mqtt.NewFakePublisher(),
		tracker:   status.NewTracker(startTime, status.Config{PinIndex: index, PPR: ppr}),
	}
}

// poll runs one iteration of the poll loop.
func (r *rig) poll() {
	r.t.Helper()
	r.tick++
	now := startTime.Add(time.Duration(r.tick) * 100 * time.Millisecond)
	s := logic.Sample{
		Angle:       r.enc.Angle(),
		NeedsSearch: r.enc.NeedsSearch(),
		Initialized: r.enc.Initialized(),
		Time:        now,
	}
	for _, event := range r.detector.Process(s) {
		if err := r.publisher.Publish(event); err != nil {
			r.t.Logf("publish error: %v", err)
		}
	}
	r.tracker.Update(s, r.enc.Position(), r.detector.IsBaselined(), r.detector.EventCountsSnapshot())
}

// TestIntegrationFullFlow drives the shaft forward through several
// revolutions with small counter limits and checks every published angle.
func TestIntegrationFullFlow(t *testing.T) {
	r := newRig(t, encoder.NoIndex, -50, 50)

	r.poll() // baseline at 0
	steps := []int{100, 100, 100, 100, 37, -237}
	want := []int64{100, 200, 300, 0, 37, 200}

	for i, n := range steps {
		r.unit.Edge(n)
		r.poll()
		if got := r.enc.Position(); got != want[i] {
			t.Fatalf("step %d: position got %d, want %d", i, got, want[i])
		}
	}

	if len(r.publisher.Events) != len(steps) {
		t.Fatalf("expected %d events, got %d", len(steps), len(r.publisher.Events))
	}
	for i, e := range r.publisher.Events {
		wantAngle := 2 * math.Pi * float64(want[i]) / 400
		if math.Abs(e.Angle-wantAngle) > 1e-12 {
			t.Errorf("event %d: angle got %v, want %v", i, e.Angle, wantAngle)
		}
		if e.Type != logic.EventAngle {
			t.Errorf("event %d: type got %s, want ANGLE", i, e.Type)
		}
	}
}

func TestIntegrationNoEventsAtStartup(t *testing.T) {
	r := newRig(t, encoder.NoIndex, 0, 0)
	for i := 0; i < 5; i++ {
		r.poll()
	}
	if len(r.publisher.Events) != 0 {
		t.Errorf("expected no events for a stationary shaft, got %d", len(r.publisher.Events))
	}
	if !r.detector.IsBaselined() {
		t.Error("expected baseline after polling an initialized encoder")
	}
}

func TestIntegrationQuadratureLevels(t *testing.T) {
	r := newRig(t, encoder.NoIndex, 0, 0)
	r.poll()

	// 25 full cycles forward: a quarter turn
	forward := [][2]int{{0, 1}, {1, 1}, {1, 0}, {0, 0}}
	for c := 0; c < 25; c++ {
		for _, l := range forward {
			r.unit.Levels(l[0], l[1])
		}
	}
	r.poll()

	if len(r.publisher.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(r.publisher.Events))
	}
	if got := r.publisher.Events[0].Angle; got != math.Pi/2 {
		t.Errorf("angle: got %v, want exactly π/2", got)
	}
}

func TestIntegrationIndexSearch(t *testing.T) {
	r := newRig(t, pinIndex, 0, 0)

	r.unit.Edge(123)
	r.poll() // baseline, still searching
	if !r.enc.NeedsSearch() {
		t.Fatal("expected NeedsSearch before the index pulse")
	}

	r.unit.Edge(10)
	if !r.irq.Fire(pinIndex) {
		t.Fatal("index handler not attached")
	}
	r.poll()

	if len(r.publisher.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(r.publisher.Events))
	}
	e := r.publisher.Events[0]
	if e.Type != logic.EventReferenceFound {
		t.Errorf("expected REFERENCE_FOUND, got %s", e.Type)
	}
	if e.Angle != 0 || e.NeedsSearch {
		t.Errorf("expected angle 0 and search done, got %v / %v", e.Angle, e.NeedsSearch)
	}

	// Motion after the index is measured from the mark
	r.unit.Edge(200)
	r.poll()
	if got := r.publisher.Events[len(r.publisher.Events)-1].Angle; got != math.Pi {
		t.Errorf("angle after index: got %v, want π", got)
	}
}

func TestIntegrationWrapAcrossLimitsIsContinuous(t *testing.T) {
	r := newRig(t, encoder.NoIndex, -8, 8)
	r.poll()

	prev := r.enc.Position()
	for i := 0; i < 1000; i++ {
		r.unit.Edge(1)
		pos := r.enc.Position()
		if (pos-prev+400)%400 != 1 {
			t.Fatalf("edge %d: position jumped from %d to %d", i, prev, pos)
		}
		prev = pos
	}
	if prev != 1000%400 {
		t.Errorf("final position: got %d, want %d", prev, 1000%400)
	}
	if r.unit.SpuriousFires() != 0 {
		t.Errorf("expected every overflow acknowledged, got %d spurious fires", r.unit.SpuriousFires())
	}
}

func TestIntegrationPublishFailureDoesNotCrash(t *testing.T) {
	r := newRig(t, encoder.NoIndex, 0, 0)
	r.publisher.PublishError = errors.New("broker down")

	r.poll()
	r.unit.Edge(100)
	r.poll()

	r.publisher.PublishError = nil
	r.unit.Edge(100)
	r.poll()

	if len(r.publisher.Events) != 1 {
		t.Fatalf("expected 1 event after recovery, got %d", len(r.publisher.Events))
	}
	if got := r.publisher.Events[0].Angle; got != math.Pi {
		t.Errorf("angle: got %v, want π", got)
	}
	if r.detector.EventCountsSnapshot().Angle != 2 {
		t.Errorf("detector should count both events, got %d", r.detector.EventCountsSnapshot().Angle)
	}
}

func TestIntegrationPayloadFormat(t *testing.T) {
	r := newRig(t, encoder.NoIndex, 0, 0)
	r.poll()
	r.unit.Edge(100)
	r.poll()

	if len(r.publisher.Payloads) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(r.publisher.Payloads))
	}
	expected := `{"encoder":{"timestamp":"2026-01-01T12:00:00Z","event":"ANGLE","angle_rad":1.5707963267948966,"angle_deg":90,"needs_search":false}}`
	if string(r.publisher.Payloads[0]) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", r.publisher.Payloads[0], expected)
	}
}

func TestIntegrationStatusReflectsEncoder(t *testing.T) {
	r := newRig(t, pinIndex, 0, 0)
	r.poll()
	r.unit.Edge(300)
	r.poll()

	var parsed status.StatusJSON
	if err := json.Unmarshal(status.FormatJSON(r.tracker.Snapshot()), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Position != 300 {
		t.Errorf("position: got %d, want 300", parsed.Status.Position)
	}
	if math.Abs(parsed.Status.AngleDeg-270) > 1e-9 {
		t.Errorf("angle_deg: got %v, want 270", parsed.Status.AngleDeg)
	}
	if !parsed.Status.NeedsSearch || !parsed.Status.HasIndex {
		t.Error("expected has_index and needs_search")
	}
	if !parsed.Status.Ready {
		t.Error("expected ready")
	}
}

func TestIntegrationShutdownPayload(t *testing.T) {
	r := newRig(t, encoder.NoIndex, 0, 0)
	r.poll()
	r.unit.Edge(100)
	r.poll()

	snap := r.tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "SHUTDOWN",
		Reason:     "SIGTERM",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM"),
	}
	if err := r.publisher.PublishSystem(event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var parsed status.StatusJSON
	if err := json.Unmarshal(r.publisher.SystemPayloads[0], &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" || parsed.Status.Reason != "SIGTERM" {
		t.Errorf("event/reason: got %q/%q", parsed.Status.Event, parsed.Status.Reason)
	}
	if parsed.Status.Counts.Angle != 1 {
		t.Errorf("event_counts.angle: got %d, want 1", parsed.Status.Counts.Angle)
	}
}

func TestIntegrationUninitializedEncoder(t *testing.T) {
	pool := counter.NewFakePool(0)
	enc, err := encoder.New(encoder.Config{PinA: pinA, PinB: pinB, PPR: ppr, PinIndex: encoder.NoIndex}, pool, nil, zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatalf("encoder.New: %v", err)
	}
	if err := enc.Init(); !errors.Is(err, counter.ErrNoFreeUnit) {
		t.Fatalf("Init: got %v, want ErrNoFreeUnit", err)
	}

	detector := logic.NewDetector(0, startTime)
	for i := 0; i < 3; i++ {
		events := detector.Process(logic.Sample{Angle: enc.Angle(), Initialized: enc.Initialized(), Time: startTime})
		if len(events) != 0 {
			t.Fatalf("expected no events, got %d", len(events))
		}
	}
	if enc.Angle() != -1 {
		t.Errorf("Angle: got %v, want -1", enc.Angle())
	}
	if detector.CheckHeartbeat(startTime.Add(time.Hour), time.Minute) != nil {
		t.Error("no heartbeat expected before the encoder is initialized")
	}
}
