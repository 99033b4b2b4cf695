package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/bcl1713/starlink-dashboard-sub004/internal/geo"
)

// Defaults for the speed smoothing window
const (
	DefaultSpeedWindow     = 120 * time.Second
	DefaultMinMotionMeters = 10.0
)

// ErrOutOfOrderSample is returned for a sample not newer than the previous one
var ErrOutOfOrderSample = errors.New("out-of-order telemetry sample")

// Sample is one position fix
type Sample struct {
	Time  time.Time `json:"time"`
	Point geo.Point `json:"position"`
}

// SpeedEstimate is the smoothed speed over the trailing window.
// Valid is false while the speed is unknown, which is not the same as zero.
type SpeedEstimate struct {
	Knots   float64       `json:"knots"`
	Samples int           `json:"samples"`
	Window  time.Duration `json:"window"`
	Valid   bool          `json:"valid"`
}

// MetersPerSecond converts the estimate, returning 0 when unknown
func (e SpeedEstimate) MetersPerSecond() float64 {
	if !e.Valid {
		return 0
	}
	return e.Knots * geo.KnotsToMs
}

// SpeedTracker derives speed from a time-bounded trailing window of samples.
// The window is measured in time, so the smoothing span does not depend on
// how often samples arrive. Not safe for concurrent use.
type SpeedTracker struct {
	window    time.Duration
	minMotion float64
	samples   []Sample
	moved     bool
	last      SpeedEstimate
}

// NewSpeedTracker creates a tracker. A non-positive window or a negative
// minimum motion selects the default.
func NewSpeedTracker(window time.Duration, minMotionMeters float64) *SpeedTracker {
	if window <= 0 {
		window = DefaultSpeedWindow
	}
	if minMotionMeters < 0 {
		minMotionMeters = DefaultMinMotionMeters
	}
	return &SpeedTracker{window: window, minMotion: minMotionMeters}
}

// Update adds a sample and returns the new estimate
func (t *SpeedTracker) Update(s Sample) (SpeedEstimate, error) {
	if n := len(t.samples); n > 0 && !s.Time.After(t.samples[n-1].Time) {
		return t.last, fmt.Errorf("%w: %s is not after %s", ErrOutOfOrderSample,
			s.Time.Format(time.RFC3339Nano), t.samples[n-1].Time.Format(time.RFC3339Nano))
	}

	t.samples = append(t.samples, s)
	t.prune(s.Time)
	t.last = t.estimate()
	return t.last, nil
}

func (t *SpeedTracker) prune(now time.Time) {
	cutoff := now.Add(-t.window)
	drop := 0
	for drop < len(t.samples)-1 && t.samples[drop].Time.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		t.samples = append(t.samples[:0], t.samples[drop:]...)
	}
}

// estimate sums displacement between successive anchors. A sample only
// becomes the next anchor once it is more than minMotion away from the
// current one, so jitter around a fixed spot never accumulates distance.
func (t *SpeedTracker) estimate() SpeedEstimate {
	est := SpeedEstimate{Samples: len(t.samples)}
	if len(t.samples) < 2 {
		return est
	}

	first, last := t.samples[0], t.samples[len(t.samples)-1]
	elapsed := last.Time.Sub(first.Time)
	est.Window = elapsed

	anchor := first.Point
	displacement := 0.0
	for _, s := range t.samples[1:] {
		d := geo.Distance(anchor, s.Point)
		if d > t.minMotion {
			displacement += d
			anchor = s.Point
			t.moved = true
		}
	}

	if !t.moved || elapsed <= 0 {
		return est
	}
	est.Knots = displacement / elapsed.Seconds() * geo.MsToKnots
	est.Valid = true
	return est
}

// Current returns the last computed estimate
func (t *SpeedTracker) Current() SpeedEstimate {
	return t.last
}

// Latest returns the newest accepted sample
func (t *SpeedTracker) Latest() (Sample, bool) {
	if len(t.samples) == 0 {
		return Sample{}, false
	}
	return t.samples[len(t.samples)-1], true
}

// Reset forgets all samples and returns to the unknown state
func (t *SpeedTracker) Reset() {
	t.samples = t.samples[:0]
	t.moved = false
	t.last = SpeedEstimate{}
}
