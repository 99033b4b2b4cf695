package tracker

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/bcl1713/starlink-dashboard-sub004/internal/eta"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/follower"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/geo"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/route"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/telemetry"
	"github.com/bcl1713/starlink-dashboard-sub004/pkg/logger"
)

var t0 = time.Date(2025, 10, 27, 16, 45, 0, 0, time.UTC)

// equatorRoute runs one degree east along the equator
func equatorRoute() *route.ParsedRoute {
	a := geo.Point{Lat: 0, Lon: 0}
	b := geo.Point{Lat: 0, Lon: 1}
	d := geo.Distance(a, b)
	return &route.ParsedRoute{
		Name: "EQ-1",
		Waypoints: []route.Waypoint{
			{Point: a, Sequence: 0, Name: "START", Role: route.RoleDeparture},
			{Point: b, Sequence: 1, Name: "END", Role: route.RoleArrival},
		},
		Cumulative:  []float64{0, d},
		TotalLength: d,
	}
}

// northbound feeds samples moving north at mps, one per second
func northbound(s *Service, start time.Time, seconds int, mps float64) {
	for i := 0; i <= seconds; i++ {
		lat := float64(i) * mps / geo.EarthRadiusMeters * 180 / math.Pi
		s.Ingest(telemetry.Sample{Time: start.Add(time.Duration(i) * time.Second), Point: geo.Point{Lat: lat, Lon: 10}})
	}
}

func newTestService(d *Dispatcher) *Service {
	return NewService(Config{SampleBuffer: 1024}, d, nil, logger.NewNop())
}

func TestSamplesAreAppliedOnTick(t *testing.T) {
	s := newTestService(nil)
	northbound(s, t0, 60, 200)

	if snap := s.Snapshot(); snap.Speed.Valid || snap.Position != nil {
		t.Fatalf("snapshot changed before a tick: %+v", snap)
	}

	s.step(t0.Add(time.Minute))
	snap := s.Snapshot()
	wantKnots := 200 / geo.KnotsToMs
	if !snap.Speed.Valid || math.Abs(snap.Speed.Knots-wantKnots) > wantKnots*0.01 {
		t.Errorf("speed = %+v, want about %.1f kt", snap.Speed, wantKnots)
	}
	if !snap.Departed || snap.DepartedAt == nil {
		t.Errorf("departure not latched: %+v", snap)
	}
	if snap.Position == nil || snap.LastSample == nil || snap.Position.Lon != 10 {
		t.Errorf("position should come from the latest sample without a route: %+v", snap.Position)
	}
	if snap.RouteActive {
		t.Error("no route was activated")
	}
}

func TestOutOfOrderSamplesAreRejected(t *testing.T) {
	inst := &countingInstruments{}
	s := NewService(Config{}, nil, inst, logger.NewNop())

	s.Ingest(telemetry.Sample{Time: t0, Point: geo.Point{}})
	s.Ingest(telemetry.Sample{Time: t0.Add(-time.Second), Point: geo.Point{Lat: 1}})
	s.Ingest(telemetry.Sample{Time: t0, Point: geo.Point{Lat: 1}})
	s.step(t0)

	if inst.accepted != 1 || inst.rejected != 2 {
		t.Errorf("accepted=%d rejected=%d, want 1 and 2", inst.accepted, inst.rejected)
	}
	if inst.ticks != 1 {
		t.Errorf("ticks = %d, want 1", inst.ticks)
	}
}

func TestRouteFollowingAdvancesWithMeasuredSpeed(t *testing.T) {
	s := newTestService(nil)
	r := equatorRoute()

	s.ActivateRoute(r)
	s.step(t0)
	snap := s.Snapshot()
	if !snap.RouteActive || snap.State != follower.Following || snap.Progress != 0 {
		t.Fatalf("after activation: %+v", snap)
	}
	if snap.Position == nil || snap.Position.Lon != 0 || math.Abs(snap.Heading-90) > 1e-6 {
		t.Errorf("position/heading at start = %v / %v", snap.Position, snap.Heading)
	}

	northbound(s, t0.Add(-time.Minute), 60, 200)
	s.step(t0.Add(10 * time.Second))

	snap = s.Snapshot()
	want := 200 * 10 / r.TotalLength
	if math.Abs(snap.Progress-want) > want*0.01 {
		t.Errorf("progress = %v, want about %v", snap.Progress, want)
	}
	if math.Abs(snap.RemainingDistance-(r.TotalLength-2000)) > 25 {
		t.Errorf("remaining = %v", snap.RemainingDistance)
	}
	if snap.Route != r || snap.RouteName != "EQ-1" {
		t.Errorf("snapshot route = %v %q", snap.Route, snap.RouteName)
	}

	s.DeactivateRoute()
	s.step(t0.Add(11 * time.Second))
	snap = s.Snapshot()
	if snap.RouteActive || snap.State != follower.Idle || snap.Departed {
		t.Errorf("after deactivation: %+v", snap)
	}
}

func TestETAsUseSnapshot(t *testing.T) {
	s := newTestService(nil)
	if _, err := s.ETAs(nil); err != ErrNoPosition {
		t.Fatalf("ETAs before any position error = %v, want ErrNoPosition", err)
	}

	northbound(s, t0, 60, 200)
	s.step(t0.Add(time.Minute))

	pos := *s.Snapshot().Position
	ahead := geo.Point{Lat: pos.Lat + 12000/geo.EarthRadiusMeters*180/math.Pi, Lon: 10}
	results, err := s.ETAs(staticTargets{{ID: "a", Name: "ahead", Kind: eta.KindPOI, Point: ahead}})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Mode != eta.ModeSpeed {
		t.Fatalf("results = %+v", results)
	}
	if math.Abs(results[0].ETASeconds-60) > 1 {
		t.Errorf("eta = %v, want about 60s", results[0].ETASeconds)
	}
}

func TestConcurrentReadersSeeConsistentSnapshots(t *testing.T) {
	s := NewService(Config{TickInterval: time.Millisecond}, nil, nil, logger.NewNop())
	r := equatorRoute()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.ActivateRoute(r)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				snap := s.Snapshot()
				if snap.Progress < 0 || snap.Progress > 1 {
					t.Errorf("progress out of range: %v", snap.Progress)
					return
				}
				if snap.RouteActive && snap.Route == nil {
					t.Error("active snapshot without route")
					return
				}
			}
		}()
	}

	now := time.Now().UTC()
	for i := 0; i < 100; i++ {
		s.Ingest(telemetry.Sample{Time: now.Add(time.Duration(i) * time.Second), Point: geo.Point{Lat: float64(i) * 0.01}})
	}
	wg.Wait()
	s.Stop()
	s.Stop()
}

type countingInstruments struct {
	accepted, rejected, ticks int
}

func (c *countingInstruments) SampleAccepted()           { c.accepted++ }
func (c *countingInstruments) SampleRejected()           { c.rejected++ }
func (c *countingInstruments) ObserveTick(time.Duration) { c.ticks++ }
