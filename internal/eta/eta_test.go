package eta

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bcl1713/starlink-dashboard-sub004/internal/geo"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/route"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/telemetry"
)

var now = time.Date(2025, 10, 27, 18, 0, 0, 0, time.UTC)

func speed(knots float64) telemetry.SpeedEstimate {
	return telemetry.SpeedEstimate{Knots: knots, Samples: 10, Window: 2 * time.Minute, Valid: true}
}

func ptr(t time.Time) *time.Time { return &t }

// a target exactly 60 NM north of the origin
var (
	origin = geo.Point{Lat: 0, Lon: 0}
	north  = geo.Point{Lat: 60 * geo.MetersPerNauticalMile / geo.EarthRadiusMeters * 180 / math.Pi, Lon: 0}
)

func timedProfile() *route.TimingProfile {
	return &route.TimingProfile{
		Segments:          []route.TimedSegment{{FromSequence: 0, ToSequence: 5, SpeedKnots: 480}},
		TimedSegmentCount: 1,
		HasTimingData:     true,
	}
}

func TestComputeOneModes(t *testing.T) {
	calc := NewCalculator(DefaultConfig())
	scheduled := Target{ID: "wp-5", Name: "PHNL", Point: north, ExpectedArrival: ptr(now.Add(20 * time.Minute))}
	unscheduled := Target{ID: "poi-1", Name: "Ship", Point: north}

	tests := []struct {
		name    string
		in      Input
		target  Target
		mode    Mode
		eta     float64
		blended bool
	}{
		{
			name:   "pre-departure uses the schedule",
			in:     Input{Now: now, Position: origin, Speed: speed(3)},
			target: scheduled,
			mode:   ModeSchedule,
			eta:    1200,
		},
		{
			name:   "departed without timing uses speed",
			in:     Input{Now: now, Position: origin, Speed: speed(120), Departed: true},
			target: scheduled,
			mode:   ModeSpeed,
			eta:    1800,
		},
		{
			name:    "departed with timed segment blends",
			in:      Input{Now: now, Position: origin, Speed: speed(120), Departed: true, Timing: timedProfile(), Segment: 2},
			target:  scheduled,
			mode:    ModeBlended,
			eta:     0.5*1800 + 0.5*1200,
			blended: true,
		},
		{
			name:   "segment outside timed stretch does not blend",
			in:     Input{Now: now, Position: origin, Speed: speed(120), Departed: true, Timing: timedProfile(), Segment: 7},
			target: scheduled,
			mode:   ModeSpeed,
			eta:    1800,
		},
		{
			name:   "unscheduled target blends nothing",
			in:     Input{Now: now, Position: origin, Speed: speed(120), Departed: true, Timing: timedProfile()},
			target: unscheduled,
			mode:   ModeSpeed,
			eta:    1800,
		},
		{
			name:   "slow with schedule falls back to schedule",
			in:     Input{Now: now, Position: origin, Speed: speed(0.2), Departed: true},
			target: scheduled,
			mode:   ModeSchedule,
			eta:    1200,
		},
		{
			name:   "slow without schedule is indeterminate",
			in:     Input{Now: now, Position: origin, Speed: speed(0.49), Departed: true},
			target: unscheduled,
			mode:   ModeIndeterminate,
			eta:    Indeterminate,
		},
		{
			name:   "unknown speed is indeterminate",
			in:     Input{Now: now, Position: origin},
			target: unscheduled,
			mode:   ModeIndeterminate,
			eta:    Indeterminate,
		},
		{
			name:   "overdue schedule clamps to zero",
			in:     Input{Now: now.Add(time.Hour), Position: origin},
			target: scheduled,
			mode:   ModeSchedule,
			eta:    0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calc.ComputeOne(tt.in, tt.target)
			if got.Mode != tt.mode {
				t.Errorf("mode = %s, want %s", got.Mode, tt.mode)
			}
			if math.Abs(got.ETASeconds-tt.eta) > 0.5 {
				t.Errorf("eta = %.2f, want %.2f", got.ETASeconds, tt.eta)
			}
			if got.Blended != tt.blended {
				t.Errorf("blended = %v, want %v", got.Blended, tt.blended)
			}
			if got.Departed != tt.in.Departed {
				t.Errorf("departed flag not carried through")
			}
			if math.Abs(got.Bearing) > 1e-6 {
				t.Errorf("bearing = %f, want 0", got.Bearing)
			}
			if math.Abs(got.Distance-60*geo.MetersPerNauticalMile) > 1 {
				t.Errorf("distance = %f", got.Distance)
			}
		})
	}
}

func TestBlendFactorIsConfigurable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BlendFactor = 1
	calc := NewCalculator(cfg)
	target := Target{Point: north, ExpectedArrival: ptr(now.Add(20 * time.Minute))}
	in := Input{Now: now, Position: origin, Speed: speed(120), Departed: true, Timing: timedProfile()}

	if got := calc.ComputeOne(in, target).ETASeconds; math.Abs(got-1800) > 0.5 {
		t.Errorf("alpha 1 should use speed only, got %.1f", got)
	}
}

func TestSlowSpeedNeverDividesByNearZero(t *testing.T) {
	calc := NewCalculator(DefaultConfig())
	target := Target{Point: north}
	for _, kn := range []float64{0, 1e-12, 0.1, 0.4999, math.NaN()} {
		res := calc.ComputeOne(Input{Now: now, Position: origin, Speed: speed(kn), Departed: true}, target)
		if res.ETASeconds != Indeterminate || !res.Indeterminate() {
			t.Errorf("speed %v kn: eta = %v, want sentinel", kn, res.ETASeconds)
		}
	}
}

func TestComputeSortsWithSentinelsLast(t *testing.T) {
	calc := NewCalculator(DefaultConfig())
	in := Input{Now: now, Position: origin, Speed: speed(300), Departed: true}

	var targets []Target
	for i := 1; i <= 8; i++ {
		targets = append(targets, Target{ID: string(rune('a' + i)), Point: geo.Point{Lat: float64(i) * 0.3, Lon: 0}})
	}
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		rng.Shuffle(len(targets), func(i, j int) { targets[i], targets[j] = targets[j], targets[i] })

		results := calc.Compute(in, targets)
		// append sentinels in the middle of an unsorted copy and resort
		mixed := append([]Result{{TargetID: "x", ETASeconds: Indeterminate}}, results...)
		mixed = append(mixed[:3], append([]Result{{TargetID: "y", ETASeconds: Indeterminate}}, mixed[3:]...)...)
		rng.Shuffle(len(mixed), func(i, j int) { mixed[i], mixed[j] = mixed[j], mixed[i] })
		Sort(mixed)

		for _, list := range [][]Result{results, mixed} {
			seenSentinel := false
			for i, r := range list {
				if r.Indeterminate() {
					seenSentinel = true
					continue
				}
				if seenSentinel {
					t.Fatalf("determinate result after a sentinel at %d", i)
				}
				if i > 0 && r.ETASeconds < list[i-1].ETASeconds {
					t.Fatalf("results not ascending at %d", i)
				}
			}
		}
	}
}

func TestSummarize(t *testing.T) {
	results := []Result{
		{TargetID: "a", Distance: 5000, ETASeconds: 300},
		{TargetID: "b", Distance: 1200, ETASeconds: Indeterminate},
		{TargetID: "c", Distance: 8000, ETASeconds: 100},
	}
	want := Summary{Count: 3, NearestDistance: 1200, NearestETA: 100}
	if diff := cmp.Diff(want, Summarize(results)); diff != "" {
		t.Errorf("Summarize mismatch (-want +got):\n%s", diff)
	}

	empty := Summarize(nil)
	if empty.Count != 0 || empty.NearestETA != Indeterminate {
		t.Errorf("empty summary = %+v", empty)
	}
}

func TestFormatETA(t *testing.T) {
	tests := map[float64]string{
		Indeterminate: "N/A",
		-42:           "N/A",
		0:             "0s",
		59.6:          "1m00s",
		754:           "12m34s",
		3 * 3600:      "3h00m",
		7384:          "2h03m",
	}
	for in, want := range tests {
		if got := FormatETA(in); got != want {
			t.Errorf("FormatETA(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestDepartureDetectorLatches(t *testing.T) {
	d := NewDepartureDetector(DefaultConfig().DepartureThresholdKnots)

	if d.Observe(telemetry.SpeedEstimate{}, now) || d.Departed() {
		t.Fatalf("unknown speed must not latch departure")
	}
	if d.Observe(speed(10), now) {
		t.Fatalf("exactly the threshold is not above it")
	}
	if !d.Observe(speed(10.5), now.Add(time.Minute)) || !d.Departed() {
		t.Fatalf("speed above threshold should latch")
	}
	if d.Observe(speed(200), now.Add(2*time.Minute)) {
		t.Errorf("latch should report the transition only once")
	}

	// holding pattern: slowing down keeps the flag
	d.Observe(speed(0), now.Add(3*time.Minute))
	if !d.Departed() || !d.DepartedAt().Equal(now.Add(time.Minute)) {
		t.Errorf("departure must not revert, departed=%v at %s", d.Departed(), d.DepartedAt())
	}

	d.Reset()
	if d.Departed() || !d.DepartedAt().IsZero() {
		t.Errorf("Reset should clear the latch")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	bad := []Config{
		{BlendFactor: 1.5, MinSpeedKnots: 0.5},
		{BlendFactor: 0.5, DepartureThresholdKnots: -1, MinSpeedKnots: 0.5},
		{BlendFactor: 0.5, MinSpeedKnots: 0},
	}
	for _, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("Validate(%+v) should fail", c)
		}
	}
}
