package route

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bcl1713/starlink-dashboard-sub004/internal/geo"
)

// Role tags the part a waypoint plays on the route
type Role string

const (
	RoleDeparture Role = "departure"
	RoleArrival   Role = "arrival"
	RoleEnroute   Role = "enroute"
	RoleAlternate Role = "alternate"
)

// ErrNoCoordinates is returned when a document carries no usable coordinate at all
var ErrNoCoordinates = errors.New("no coordinate data")

// ParseError reports a route that could not be built
type ParseError struct {
	Route string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("route %q: %v", e.Route, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Waypoint is a sequenced point on a route
type Waypoint struct {
	geo.Point
	Sequence        int        `json:"sequence"`
	Name            string     `json:"name,omitempty"`
	Role            Role       `json:"role"`
	ExpectedArrival *time.Time `json:"expected_arrival,omitempty"`
}

// WarningKind classifies a non-fatal ingest anomaly
type WarningKind string

const (
	WarnTimestampMalformed WarningKind = "timestamp_malformed"
	WarnDegradedSelection  WarningKind = "degraded_selection"
	WarnSegmentDiscarded   WarningKind = "segment_discarded"
	WarnUnmatchedWaypoint  WarningKind = "unmatched_waypoint"
	WarnInvalidCoordinate  WarningKind = "invalid_coordinate"
	WarnTimingSkipped      WarningKind = "timing_skipped"
)

// Warning is surfaced to callers when a route was built in degraded form
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}

// ParsedRoute is the immutable primary path of an activated route.
// It is replaced wholesale on activation and never mutated afterwards.
type ParsedRoute struct {
	Name        string         `json:"name"`
	Waypoints   []Waypoint     `json:"waypoints"`
	Alternates  []Waypoint     `json:"alternates,omitempty"`
	Cumulative  []float64      `json:"-"`            // distance from the first waypoint, per waypoint
	TotalLength float64        `json:"total_length"` // meters
	Timing      *TimingProfile `json:"timing,omitempty"`
	Warnings    []Warning      `json:"warnings,omitempty"`
	Strategy    string         `json:"strategy"` // selection strategy that produced the path
}

// IsStationary reports whether the route cannot support progress-based motion
func (r *ParsedRoute) IsStationary() bool {
	return len(r.Waypoints) < 2 || r.TotalLength <= 0
}

// HasTiming reports whether a usable timing profile exists
func (r *ParsedRoute) HasTiming() bool {
	return r.Timing != nil && r.Timing.HasTimingData
}

// Departure returns the departure waypoint, if tagged
func (r *ParsedRoute) Departure() (Waypoint, bool) {
	return r.findRole(RoleDeparture)
}

// Arrival returns the arrival waypoint, if tagged
func (r *ParsedRoute) Arrival() (Waypoint, bool) {
	return r.findRole(RoleArrival)
}

func (r *ParsedRoute) findRole(role Role) (Waypoint, bool) {
	for _, wp := range r.Waypoints {
		if wp.Role == role {
			return wp, true
		}
	}
	return Waypoint{}, false
}

// PositionAt maps a progress fraction onto the path.
// Progress is clamped to [0,1]. The heading is the bearing of the bracketing
// segment from its start to its end, segment is that segment's index.
func (r *ParsedRoute) PositionAt(progress float64) (p geo.Point, heading float64, segment int) {
	if len(r.Waypoints) == 0 {
		return geo.Point{}, 0, 0
	}
	if r.IsStationary() {
		return r.Waypoints[0].Point, 0, 0
	}

	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	target := progress * r.TotalLength

	// first cumulative entry strictly beyond target, its predecessor starts the segment
	idx := sort.Search(len(r.Cumulative), func(i int) bool { return r.Cumulative[i] > target })
	segment = idx - 1
	if segment < 0 {
		segment = 0
	}
	last := len(r.Waypoints) - 2
	if segment > last {
		segment = last
	}

	a := r.Waypoints[segment].Point
	b := r.Waypoints[segment+1].Point
	segLen := r.Cumulative[segment+1] - r.Cumulative[segment]

	fraction := 0.0
	if segLen > 0 {
		fraction = (target - r.Cumulative[segment]) / segLen
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}

	return geo.Interpolate(a, b, fraction), geo.Bearing(a, b), segment
}

// RemainingDistance returns the along-route distance from progress to the end
func (r *ParsedRoute) RemainingDistance(progress float64) float64 {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	return (1 - progress) * r.TotalLength
}

// GeometryKind tells points from paths in raw documents
type GeometryKind int

const (
	GeometryPoint GeometryKind = iota
	GeometryPath
)

// RawPlacemark is one decoded placemark before ingest
type RawPlacemark struct {
	Name        string
	Description string
	Style       string
	Kind        GeometryKind
	Coordinates []geo.Point
}

// RawDocument is an ordered list of placemarks as found in the source file
type RawDocument struct {
	Name       string
	Placemarks []RawPlacemark
}

// Paths returns the path placemarks in document order
func (d RawDocument) Paths() []RawPlacemark {
	var out []RawPlacemark
	for _, pm := range d.Placemarks {
		if pm.Kind == GeometryPath && len(pm.Coordinates) > 0 {
			out = append(out, pm)
		}
	}
	return out
}

// Points returns the point placemarks in document order
func (d RawDocument) Points() []RawPlacemark {
	var out []RawPlacemark
	for _, pm := range d.Placemarks {
		if pm.Kind == GeometryPoint && len(pm.Coordinates) > 0 {
			out = append(out, pm)
		}
	}
	return out
}
