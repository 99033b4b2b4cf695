package tracker

import (
	"time"

	"github.com/bcl1713/starlink-dashboard-sub004/internal/eta"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/follower"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/geo"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/route"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/telemetry"
)

// Snapshot is an immutable copy of the live tracking state taken at the end
// of a tick. Readers hold on to it as long as they like.
type Snapshot struct {
	Time              time.Time               `json:"time"`
	RouteActive       bool                    `json:"route_active"`
	RouteName         string                  `json:"route_name,omitempty"`
	State             follower.State          `json:"state"`
	Policy            follower.Policy         `json:"policy"`
	Progress          float64                 `json:"progress"`
	Direction         int                     `json:"direction"`
	Position          *geo.Point              `json:"position,omitempty"`
	Heading           float64                 `json:"heading"`
	Segment           int                     `json:"segment"`
	RemainingDistance float64                 `json:"remaining_distance_meters"`
	Speed             telemetry.SpeedEstimate `json:"speed"`
	Departed          bool                    `json:"departed"`
	DepartedAt        *time.Time              `json:"departed_at,omitempty"`
	HasTiming         bool                    `json:"has_timing"`
	LastSample        *telemetry.Sample       `json:"last_sample,omitempty"`

	// Route is the route reference this snapshot was computed against
	Route *route.ParsedRoute `json:"-"`
}

// Update is handed to the dispatcher after each tick
type Update struct {
	Snapshot *Snapshot
	Events   []follower.Event
	ETAs     []eta.Result
	Summary  eta.Summary
}

// ETAInput builds the calculator input from the snapshot.
// ok is false when there is no position to compute from.
func (s *Snapshot) ETAInput() (in eta.Input, ok bool) {
	if s == nil || s.Position == nil {
		return eta.Input{}, false
	}
	in = eta.Input{
		Now:               s.Time,
		Position:          *s.Position,
		Speed:             s.Speed,
		Departed:          s.Departed,
		Segment:           s.Segment,
		MagneticVariation: geo.MagneticVariation(*s.Position, s.Time),
	}
	if s.Route != nil {
		in.Timing = s.Route.Timing
	}
	return in, true
}
