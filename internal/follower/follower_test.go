package follower

import (
	"math"
	"testing"
	"time"

	"github.com/bcl1713/starlink-dashboard-sub004/internal/geo"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/route"
	"github.com/bcl1713/starlink-dashboard-sub004/pkg/logger"
)

var t0 = time.Date(2025, 10, 27, 16, 45, 0, 0, time.UTC)

func equatorRoute(t *testing.T) *route.ParsedRoute {
	t.Helper()
	doc := route.RawDocument{
		Name: "equator",
		Placemarks: []route.RawPlacemark{{
			Kind:        route.GeometryPath,
			Coordinates: []geo.Point{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}},
		}},
	}
	r, err := route.NewIngestor(route.Options{}, logger.NewNop()).Build(doc)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return r
}

// run advances f every step from start until end and collects events
func run(f *Follower, start, end time.Time, step time.Duration, speed float64) []Event {
	var events []Event
	for now := start; !now.After(end); now = now.Add(step) {
		events = append(events, f.Advance(now, speed)...)
	}
	return events
}

func count(events []Event, typ EventType) int {
	n := 0
	for _, e := range events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestAdvanceIsUpdateRateIndependent(t *testing.T) {
	r := equatorRoute(t)
	speed := r.TotalLength / 100 // full route in 100 s

	tests := []struct {
		name string
		step time.Duration
	}{
		{"1Hz", time.Second},
		{"10Hz", 100 * time.Millisecond},
		{"0.2Hz", 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(PolicyStop)
			f.Activate(r, t0)
			run(f, t0, t0.Add(50*time.Second), tt.step, speed)
			if math.Abs(f.Progress()-0.5) > 1e-6 {
				t.Errorf("progress after 50 s = %.9f, want 0.5", f.Progress())
			}
		})
	}
}

func TestIrregularTicksUseMeasuredElapsedTime(t *testing.T) {
	r := equatorRoute(t)
	speed := r.TotalLength / 100

	f := New(PolicyStop)
	f.Activate(r, t0)
	for _, offset := range []time.Duration{0, 300 * time.Millisecond, 7 * time.Second, 7100 * time.Millisecond, 25 * time.Second} {
		f.Advance(t0.Add(offset), speed)
	}
	if math.Abs(f.Progress()-0.25) > 1e-9 {
		t.Errorf("progress = %.9f, want 0.25", f.Progress())
	}

	// a tick that does not move the clock forward changes nothing
	f.Advance(t0.Add(20*time.Second), speed)
	if math.Abs(f.Progress()-0.25) > 1e-9 {
		t.Errorf("backwards tick moved progress to %.9f", f.Progress())
	}
}

func TestStopPolicyHoldsAtEnd(t *testing.T) {
	r := equatorRoute(t)
	speed := r.TotalLength / 100

	f := New(PolicyStop)
	f.Activate(r, t0)
	events := run(f, t0, t0.Add(100*time.Second), time.Second, speed)
	if p := f.Progress(); p < 0.999 || p > 1 {
		t.Fatalf("progress at route end = %.6f, want 1.0 ±0.1%%", p)
	}

	events = append(events, run(f, t0.Add(101*time.Second), t0.Add(400*time.Second), time.Second, speed)...)
	if count(events, EventCompleted) != 1 {
		t.Errorf("completed events = %d, want exactly 1", count(events, EventCompleted))
	}
	if f.State() != Completed || f.Progress() != 1 {
		t.Errorf("state = %s progress = %f, want completed at 1", f.State(), f.Progress())
	}
}

func TestLoopPolicyWrapsAround(t *testing.T) {
	r := equatorRoute(t)
	speed := r.TotalLength / 100

	f := New(PolicyLoop)
	f.Activate(r, t0)
	events := run(f, t0, t0.Add(150*time.Second), time.Second, speed)

	if count(events, EventLooped) != 1 {
		t.Fatalf("looped events = %d, want 1", count(events, EventLooped))
	}
	if f.State() != Following {
		t.Errorf("state = %s, want following", f.State())
	}
	if math.Abs(f.Progress()-0.5) > 1e-6 {
		t.Errorf("progress 50 s after wrap = %.6f, want 0.5", f.Progress())
	}
}

func TestReversePolicyBouncesBetweenEnds(t *testing.T) {
	r := equatorRoute(t)
	speed := r.TotalLength / 100

	f := New(PolicyReverse)
	f.Activate(r, t0)
	events := run(f, t0, t0.Add(150*time.Second), time.Second, speed)

	if count(events, EventReversed) != 1 || f.Direction() != -1 {
		t.Fatalf("reversed events = %d direction = %d", count(events, EventReversed), f.Direction())
	}
	if math.Abs(f.Progress()-0.5) > 1e-6 {
		t.Errorf("progress = %.6f, want 0.5 travelling back", f.Progress())
	}
	_, heading, _, _ := f.Position()
	if math.Abs(heading-270) > 0.01 {
		t.Errorf("heading while reversing = %.2f, want 270", heading)
	}

	events = run(f, t0.Add(151*time.Second), t0.Add(250*time.Second), time.Second, speed)
	if count(events, EventReversed) != 1 || f.Direction() != 1 {
		t.Fatalf("lower bound crossing should re-invert, events %+v", events)
	}
	if math.Abs(f.Progress()-0.5) > 1e-6 {
		t.Errorf("progress = %.6f, want 0.5 travelling forward", f.Progress())
	}
}

func TestLargeStepFoldsIntoRange(t *testing.T) {
	r := equatorRoute(t)
	speed := r.TotalLength / 100

	f := New(PolicyReverse)
	f.Activate(r, t0)
	f.Advance(t0, speed)
	f.Advance(t0.Add(250*time.Second), speed)

	if p := f.Progress(); p < 0 || p > 1 {
		t.Fatalf("progress %.6f escaped [0,1]", p)
	}
	if math.Abs(f.Progress()-0.5) > 1e-6 || f.Direction() != 1 {
		t.Errorf("progress = %.6f direction = %d, want 0.5 forward", f.Progress(), f.Direction())
	}
}

func TestHugeStepUnderReverseIsBounded(t *testing.T) {
	r := equatorRoute(t)
	speed := r.TotalLength / 100

	f := New(PolicyReverse)
	f.Activate(r, t0)
	f.Advance(t0, speed)

	// a million round trips plus a quarter of the route
	gap := (2_000_000*100 + 25) * time.Second
	start := time.Now()
	events := f.Advance(t0.Add(gap), speed)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Advance took %v", elapsed)
	}

	if len(events) != 1 || events[0].Type != EventReversed {
		t.Fatalf("events = %+v, want a single reversal", events)
	}
	if math.Abs(f.Progress()-0.25) > 1e-6 || f.Direction() != 1 {
		t.Errorf("progress = %.6f direction = %d, want 0.25 forward", f.Progress(), f.Direction())
	}
	if events[0].Progress != f.Progress() {
		t.Errorf("event progress %.6f differs from follower %.6f", events[0].Progress, f.Progress())
	}

	// the other half of the cycle comes back travelling toward the start
	events = f.Advance(t0.Add(gap+100*time.Second), speed)
	if len(events) != 1 || f.Direction() != -1 || math.Abs(f.Progress()-0.75) > 1e-6 {
		t.Errorf("after another 100s progress = %.6f direction = %d events %+v", f.Progress(), f.Direction(), events)
	}
}

func TestIdleAndStationaryDoNotMove(t *testing.T) {
	f := New(PolicyLoop)
	if ev := f.Advance(t0, 100); ev != nil || f.State() != Idle {
		t.Fatalf("idle follower must ignore ticks")
	}
	if _, _, _, ok := f.Position(); ok {
		t.Errorf("idle follower has no position")
	}

	r := equatorRoute(t)
	f.Activate(r, t0)
	run(f, t0, t0.Add(10*time.Second), time.Second, 0)
	if f.Progress() != 0 {
		t.Errorf("zero speed moved progress to %f", f.Progress())
	}

	ev := f.Deactivate(t0.Add(11 * time.Second))
	if ev.Type != EventDeactivated || f.State() != Idle || f.Route() != nil {
		t.Errorf("deactivate did not reset the follower")
	}

	hold := &route.ParsedRoute{Name: "hold", Waypoints: []route.Waypoint{{Point: geo.Point{Lat: 1, Lon: 1}}}}
	f.Activate(hold, t0)
	run(f, t0, t0.Add(10*time.Second), time.Second, 250)
	if f.Progress() != 0 {
		t.Errorf("stationary route moved progress to %f", f.Progress())
	}
	if p, _, _, ok := f.Position(); !ok || p.Lat != 1 {
		t.Errorf("stationary position = %+v", p)
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"loop": PolicyLoop, "STOP": PolicyStop, " reverse ": PolicyReverse, "": PolicyLoop} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("bounce"); err == nil {
		t.Errorf("expected error for unknown policy")
	}
}
