package eta

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/bcl1713/starlink-dashboard-sub004/internal/geo"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/route"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/telemetry"
)

// Indeterminate is the ETA reported when no estimate can be made.
// It is an ordinary result value, never an error.
const Indeterminate = -1.0

// Config holds the tunables of the calculator
type Config struct {
	BlendFactor             float64 // weight of the speed-based ETA when blending with the schedule
	DepartureThresholdKnots float64 // speed that latches the departed flag
	MinSpeedKnots           float64 // below this the speed-based ETA is not computed
}

// DefaultConfig returns the stock tuning
func DefaultConfig() Config {
	return Config{
		BlendFactor:             0.5,
		DepartureThresholdKnots: 10,
		MinSpeedKnots:           0.5,
	}
}

// Validate checks the configuration values
func (c Config) Validate() error {
	if c.BlendFactor < 0 || c.BlendFactor > 1 {
		return fmt.Errorf("blend factor must be within [0,1], got %v", c.BlendFactor)
	}
	if c.DepartureThresholdKnots < 0 {
		return fmt.Errorf("departure threshold must not be negative, got %v", c.DepartureThresholdKnots)
	}
	if c.MinSpeedKnots <= 0 {
		return fmt.Errorf("minimum speed must be positive, got %v", c.MinSpeedKnots)
	}
	return nil
}

// TargetKind tells route waypoints from points of interest
type TargetKind string

const (
	KindWaypoint TargetKind = "waypoint"
	KindPOI      TargetKind = "poi"
)

// Target is anything an ETA can be computed for
type Target struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Kind            TargetKind `json:"kind"`
	Point           geo.Point  `json:"position"`
	ExpectedArrival *time.Time `json:"expected_arrival,omitempty"`
}

// Mode records which rule produced an ETA
type Mode string

const (
	ModeSchedule      Mode = "schedule"
	ModeSpeed         Mode = "speed"
	ModeBlended       Mode = "blended"
	ModeIndeterminate Mode = "indeterminate"
)

// Input is the tracking state an ETA batch is computed against
type Input struct {
	Now               time.Time
	Position          geo.Point
	Speed             telemetry.SpeedEstimate
	Departed          bool
	Timing            *route.TimingProfile
	Segment           int     // path segment the terminal is on
	MagneticVariation float64 // degrees, east positive
}

// Result is the prediction for one target
type Result struct {
	TargetID        string     `json:"target_id"`
	Name            string     `json:"name"`
	Kind            TargetKind `json:"kind"`
	Distance        float64    `json:"distance_meters"`
	Bearing         float64    `json:"bearing"`
	BearingMagnetic float64    `json:"bearing_magnetic"`
	ETASeconds      float64    `json:"eta_seconds"`
	Blended         bool       `json:"blended"`
	Departed        bool       `json:"departed"`
	Mode            Mode       `json:"mode"`
}

// Indeterminate reports whether the result carries the sentinel ETA
func (r Result) Indeterminate() bool {
	return r.ETASeconds < 0
}

// Calculator computes ETAs. It holds no tracking state and is safe for
// concurrent use.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a calculator
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Config returns the calculator configuration
func (c *Calculator) Config() Config {
	return c.cfg
}

// Compute returns results for all targets sorted by ETA, indeterminate last
func (c *Calculator) Compute(in Input, targets []Target) []Result {
	results := make([]Result, 0, len(targets))
	for _, t := range targets {
		results = append(results, c.ComputeOne(in, t))
	}
	Sort(results)
	return results
}

// ComputeOne returns the result for a single target
func (c *Calculator) ComputeOne(in Input, t Target) Result {
	distance := geo.Distance(in.Position, t.Point)
	bearing := geo.Bearing(in.Position, t.Point)

	res := Result{
		TargetID:        t.ID,
		Name:            t.Name,
		Kind:            t.Kind,
		Distance:        distance,
		Bearing:         bearing,
		BearingMagnetic: geo.TrueToMagnetic(bearing, in.MagneticVariation),
		Departed:        in.Departed,
	}

	speedUsable := in.Speed.Valid && !math.IsNaN(in.Speed.Knots) && in.Speed.Knots >= c.cfg.MinSpeedKnots
	scheduled := t.ExpectedArrival != nil

	switch {
	case !in.Departed && scheduled:
		res.ETASeconds = scheduleETA(in.Now, *t.ExpectedArrival)
		res.Mode = ModeSchedule

	case speedUsable:
		speedETA := geo.MetersToNM(distance) / in.Speed.Knots * 3600
		_, segmentTimed := in.Timing.SegmentSpeed(in.Segment)
		if in.Departed && scheduled && segmentTimed {
			alpha := c.cfg.BlendFactor
			res.ETASeconds = alpha*speedETA + (1-alpha)*scheduleETA(in.Now, *t.ExpectedArrival)
			res.Blended = true
			res.Mode = ModeBlended
		} else {
			res.ETASeconds = speedETA
			res.Mode = ModeSpeed
		}

	case scheduled:
		// no usable speed, fall back to the plan
		res.ETASeconds = scheduleETA(in.Now, *t.ExpectedArrival)
		res.Mode = ModeSchedule

	default:
		res.ETASeconds = Indeterminate
		res.Mode = ModeIndeterminate
	}

	return res
}

// scheduleETA is the time until the planned arrival, never negative so an
// overdue target is not mistaken for the sentinel
func scheduleETA(now, expected time.Time) float64 {
	s := expected.Sub(now).Seconds()
	if s < 0 {
		return 0
	}
	return s
}

// Sort orders results ascending by ETA with indeterminate results last.
// Equal ETAs keep their input order.
func Sort(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Indeterminate() != b.Indeterminate() {
			return !a.Indeterminate()
		}
		if a.Indeterminate() {
			return false
		}
		return a.ETASeconds < b.ETASeconds
	})
}

// Summary is the bounded set of aggregates exported as metrics
type Summary struct {
	Count           int     `json:"count"`
	NearestDistance float64 `json:"nearest_distance_meters"`
	NearestETA      float64 `json:"nearest_eta_seconds"`
}

// Summarize reduces a result list to fixed aggregates
func Summarize(results []Result) Summary {
	s := Summary{Count: len(results), NearestETA: Indeterminate}
	for i, r := range results {
		if i == 0 || r.Distance < s.NearestDistance {
			s.NearestDistance = r.Distance
		}
		if !r.Indeterminate() && (s.NearestETA < 0 || r.ETASeconds < s.NearestETA) {
			s.NearestETA = r.ETASeconds
		}
	}
	return s
}

// FormatETA renders an ETA for display, "N/A" for the sentinel
func FormatETA(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return "N/A"
	}
	d := time.Duration(math.Round(seconds)) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
