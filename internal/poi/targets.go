package poi

import (
	"fmt"

	"github.com/bcl1713/starlink-dashboard-sub004/internal/eta"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/geo"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/route"
)

// TargetProvider merges named route waypoints and stored POIs into ETA targets
type TargetProvider struct {
	store *Store
}

// NewTargetProvider creates a provider; store may be nil
func NewTargetProvider(store *Store) *TargetProvider {
	return &TargetProvider{store: store}
}

// Targets returns the named waypoints of r followed by the stored POIs.
// r is the route the position was derived from, so waypoint schedules
// always match the timing used for the ETA.
func (p *TargetProvider) Targets(r *route.ParsedRoute) ([]eta.Target, error) {
	var targets []eta.Target

	if r != nil {
		targets = append(targets, WaypointTargets(r)...)
	}

	if p.store != nil {
		pois, err := p.store.List()
		if err != nil {
			return targets, fmt.Errorf("failed to list pois: %w", err)
		}
		for _, poi := range pois {
			targets = append(targets, eta.Target{
				ID:    poi.ID,
				Name:  poi.Name,
				Kind:  eta.KindPOI,
				Point: geo.Point{Lat: poi.Latitude, Lon: poi.Longitude},
			})
		}
	}

	return targets, nil
}

// WaypointTargets turns the named waypoints of r into targets
func WaypointTargets(r *route.ParsedRoute) []eta.Target {
	var targets []eta.Target
	for _, wp := range r.Waypoints {
		if wp.Name == "" {
			continue
		}
		targets = append(targets, eta.Target{
			ID:              fmt.Sprintf("wp-%d", wp.Sequence),
			Name:            wp.Name,
			Kind:            eta.KindWaypoint,
			Point:           wp.Point,
			ExpectedArrival: wp.ExpectedArrival,
		})
	}
	return targets
}
