package route

import (
	"fmt"
	"regexp"
	"time"

	"github.com/bcl1713/starlink-dashboard-sub004/internal/geo"
	"github.com/bcl1713/starlink-dashboard-sub004/pkg/logger"
)

const timestampLayout = "2006-01-02 15:04:05"

var (
	// timeOverWaypoint captures the planned arrival embedded in placemark descriptions
	timeOverWaypoint = regexp.MustCompile(`Time Over Waypoint:\s*(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})Z`)
	// timeOverWaypointLoose detects a token that is present but not parseable
	timeOverWaypointLoose = regexp.MustCompile(`Time Over Waypoint:`)
)

// ParseTimeOverWaypoint extracts the UTC instant from a description.
// present reports whether a token was found at all, so a malformed token
// (present, nil) can be told from a missing one.
func ParseTimeOverWaypoint(description string) (t *time.Time, present bool) {
	if !timeOverWaypointLoose.MatchString(description) {
		return nil, false
	}
	m := timeOverWaypoint.FindStringSubmatch(description)
	if m == nil {
		return nil, true
	}
	parsed, err := time.ParseInLocation(timestampLayout, m[1], time.UTC)
	if err != nil {
		return nil, true
	}
	return &parsed, true
}

// TimedSegment is a stretch of route between two consecutive timed waypoints
type TimedSegment struct {
	FromSequence int           `json:"from_sequence"`
	ToSequence   int           `json:"to_sequence"`
	FromName     string        `json:"from_name,omitempty"`
	ToName       string        `json:"to_name,omitempty"`
	Distance     float64       `json:"distance_meters"`
	Duration     time.Duration `json:"duration"`
	SpeedKnots   float64       `json:"speed_knots"`
	Depart       time.Time     `json:"depart"`
	Arrive       time.Time     `json:"arrive"`
}

// TimingProfile is the planned schedule derived from waypoint timestamps
type TimingProfile struct {
	Segments          []TimedSegment `json:"segments"`
	Departure         *time.Time     `json:"departure,omitempty"`
	Arrival           *time.Time     `json:"arrival,omitempty"`
	TotalDuration     time.Duration  `json:"total_duration"`
	TimedSegmentCount int            `json:"timed_segment_count"`
	HasTimingData     bool           `json:"has_timing_data"`
}

// SegmentSpeed returns the planned speed covering the path segment that
// starts at waypoint index seg
func (p *TimingProfile) SegmentSpeed(seg int) (float64, bool) {
	if p == nil {
		return 0, false
	}
	for _, s := range p.Segments {
		if seg >= s.FromSequence && seg < s.ToSequence {
			return s.SpeedKnots, true
		}
	}
	return 0, false
}

// BuildTimingProfile derives per-stretch planned speeds from the waypoints'
// expected arrival times. cumulative holds along-route distances per waypoint.
func BuildTimingProfile(waypoints []Waypoint, cumulative []float64, log *logger.Logger) (*TimingProfile, []Warning) {
	profile := &TimingProfile{}
	var warnings []Warning

	prev := -1
	for i, wp := range waypoints {
		if wp.ExpectedArrival == nil {
			continue
		}
		if profile.Departure == nil {
			t := *wp.ExpectedArrival
			profile.Departure = &t
		}
		t := *wp.ExpectedArrival
		profile.Arrival = &t

		if prev < 0 {
			prev = i
			continue
		}

		from := waypoints[prev]
		dt := wp.ExpectedArrival.Sub(*from.ExpectedArrival)
		if dt <= 0 {
			msg := fmt.Sprintf("skipped timing between waypoints %d and %d: non-positive interval %s", from.Sequence, wp.Sequence, dt)
			log.Warn("Skipping timing segment",
				logger.Int("from", from.Sequence),
				logger.Int("to", wp.Sequence),
				logger.Duration("delta", dt))
			warnings = append(warnings, Warning{Kind: WarnTimingSkipped, Message: msg})
			prev = i
			continue
		}

		dist := cumulative[i] - cumulative[prev]
		speed := geo.MetersToNM(dist) / dt.Hours()
		profile.Segments = append(profile.Segments, TimedSegment{
			FromSequence: from.Sequence,
			ToSequence:   wp.Sequence,
			FromName:     from.Name,
			ToName:       wp.Name,
			Distance:     dist,
			Duration:     dt,
			SpeedKnots:   speed,
			Depart:       *from.ExpectedArrival,
			Arrive:       *wp.ExpectedArrival,
		})
		prev = i
	}

	profile.TimedSegmentCount = len(profile.Segments)
	profile.HasTimingData = profile.TimedSegmentCount > 0
	if profile.Departure != nil && profile.Arrival != nil {
		profile.TotalDuration = profile.Arrival.Sub(*profile.Departure)
	}

	return profile, warnings
}
