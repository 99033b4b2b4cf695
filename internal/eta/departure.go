package eta

import (
	"time"

	"github.com/bcl1713/starlink-dashboard-sub004/internal/telemetry"
)

// DepartureDetector latches once the smoothed speed first exceeds the
// threshold. Slowing down again does not clear it; only Reset does, which
// happens when the route is deactivated.
type DepartureDetector struct {
	threshold  float64
	departed   bool
	departedAt time.Time
}

// NewDepartureDetector creates a detector for the given threshold in knots
func NewDepartureDetector(thresholdKnots float64) *DepartureDetector {
	return &DepartureDetector{threshold: thresholdKnots}
}

// Observe feeds a speed estimate and reports whether this call latched departure
func (d *DepartureDetector) Observe(est telemetry.SpeedEstimate, now time.Time) bool {
	if d.departed || !est.Valid || est.Knots <= d.threshold {
		return false
	}
	d.departed = true
	d.departedAt = now
	return true
}

// Departed reports the latched flag
func (d *DepartureDetector) Departed() bool { return d.departed }

// DepartedAt returns when departure latched, zero if not departed
func (d *DepartureDetector) DepartedAt() time.Time { return d.departedAt }

// Reset returns to pre-departure
func (d *DepartureDetector) Reset() {
	d.departed = false
	d.departedAt = time.Time{}
}
