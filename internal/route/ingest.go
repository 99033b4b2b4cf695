package route

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bcl1713/starlink-dashboard-sub004/internal/geo"
	"github.com/bcl1713/starlink-dashboard-sub004/pkg/logger"
)

// DefaultMatchToleranceMeters bounds how far a named placemark may sit from
// the path vertex it is attached to
const DefaultMatchToleranceMeters = geo.MetersPerNauticalMile

// Options configures an Ingestor
type Options struct {
	Strategies           []SelectionStrategy
	MatchToleranceMeters float64
}

// Ingestor turns raw placemark documents into ParsedRoutes
type Ingestor struct {
	strategies []SelectionStrategy
	tolerance  float64
	logger     *logger.Logger
}

// NewIngestor creates an ingestor, filling in default strategies and tolerance
func NewIngestor(opts Options, log *logger.Logger) *Ingestor {
	if len(opts.Strategies) == 0 {
		opts.Strategies = DefaultStrategies()
	}
	if opts.MatchToleranceMeters <= 0 {
		opts.MatchToleranceMeters = DefaultMatchToleranceMeters
	}
	return &Ingestor{
		strategies: opts.Strategies,
		tolerance:  opts.MatchToleranceMeters,
		logger:     log.Named("route-ingest"),
	}
}

// Build selects the primary path and assembles the route.
// Only a document without any valid coordinate is rejected.
func (in *Ingestor) Build(doc RawDocument) (*ParsedRoute, error) {
	r := &ParsedRoute{Name: doc.Name}
	log := in.logger.With(logger.String("route", doc.Name))

	doc = in.dropInvalidCoordinates(doc, r, log)

	paths := doc.Paths()
	points := doc.Points()
	if len(paths) == 0 && len(points) == 0 {
		return nil, &ParseError{Route: doc.Name, Err: ErrNoCoordinates}
	}

	if len(paths) == 0 {
		r.Strategy = "points"
		in.buildFromPoints(r, points, log)
	} else {
		selected, discarded := in.selectPaths(doc, paths, r, log)
		in.buildFromPaths(r, selected, discarded, points, log)
	}

	in.assignRoles(r)
	computeCumulative(r)

	profile, warnings := BuildTimingProfile(r.Waypoints, r.Cumulative, log)
	r.Timing = profile
	r.Warnings = append(r.Warnings, warnings...)

	log.Info("Route built",
		logger.String("strategy", r.Strategy),
		logger.Int("waypoints", len(r.Waypoints)),
		logger.Int("alternates", len(r.Alternates)),
		logger.Float64("total_length_nm", geo.MetersToNM(r.TotalLength)),
		logger.Bool("has_timing", r.HasTiming()),
		logger.Int("warnings", len(r.Warnings)))

	return r, nil
}

func (in *Ingestor) warn(r *ParsedRoute, log *logger.Logger, kind WarningKind, msg string, fields ...logger.Field) {
	r.Warnings = append(r.Warnings, Warning{Kind: kind, Message: msg})
	log.Warn(msg, append(fields, logger.String("kind", string(kind)))...)
}

func (in *Ingestor) dropInvalidCoordinates(doc RawDocument, r *ParsedRoute, log *logger.Logger) RawDocument {
	out := RawDocument{Name: doc.Name, Placemarks: make([]RawPlacemark, 0, len(doc.Placemarks))}
	for _, pm := range doc.Placemarks {
		valid := make([]geo.Point, 0, len(pm.Coordinates))
		for _, c := range pm.Coordinates {
			if err := geo.Validate(c.Lat, c.Lon); err != nil {
				in.warn(r, log, WarnInvalidCoordinate,
					fmt.Sprintf("dropped invalid coordinate in placemark %q: %v", pm.Name, err))
				continue
			}
			valid = append(valid, c)
		}
		pm.Coordinates = valid
		out.Placemarks = append(out.Placemarks, pm)
	}
	return out
}

// selectPaths runs the strategy chain. A single path, or paths that all share
// one style, need no selection.
func (in *Ingestor) selectPaths(doc RawDocument, paths []RawPlacemark, r *ParsedRoute, log *logger.Logger) (selected, discarded []RawPlacemark) {
	if uniformStyle(paths) {
		r.Strategy = "single-style"
		return paths, nil
	}

	for _, s := range in.strategies {
		picked, ok := s.Select(doc, paths)
		if !ok {
			log.Debug("Selection strategy found no match", logger.String("strategy", s.Name()))
			continue
		}
		r.Strategy = s.Name()
		selected = picked
		break
	}

	if selected == nil {
		// every strategy declined; keep everything
		r.Strategy = ConcatenateFallback{}.Name()
		selected = paths
	}
	if r.Strategy == (ConcatenateFallback{}).Name() {
		in.warn(r, log, WarnDegradedSelection,
			fmt.Sprintf("no primary path matched, concatenated %d segments in document order", len(paths)))
	}

	kept := make(map[int]bool, len(selected))
	for _, s := range selected {
		for i := range paths {
			if !kept[i] && samePlacemark(paths[i], s) {
				kept[i] = true
				break
			}
		}
	}
	for i, p := range paths {
		if kept[i] {
			continue
		}
		discarded = append(discarded, p)
		in.warn(r, log, WarnSegmentDiscarded,
			fmt.Sprintf("discarded segment %q with style %q (%d points)", p.Name, p.Style, len(p.Coordinates)),
			logger.String("segment", p.Name),
			logger.String("style", p.Style),
			logger.Int("points", len(p.Coordinates)))
	}
	return selected, discarded
}

func uniformStyle(paths []RawPlacemark) bool {
	if len(paths) <= 1 {
		return true
	}
	first := normalizeStyle(paths[0].Style)
	for _, p := range paths[1:] {
		if normalizeStyle(p.Style) != first {
			return false
		}
	}
	return true
}

func samePlacemark(a, b RawPlacemark) bool {
	if a.Name != b.Name || a.Style != b.Style || len(a.Coordinates) != len(b.Coordinates) {
		return false
	}
	for i := range a.Coordinates {
		if a.Coordinates[i].Lat != b.Coordinates[i].Lat || a.Coordinates[i].Lon != b.Coordinates[i].Lon {
			return false
		}
	}
	return true
}

func (in *Ingestor) buildFromPoints(r *ParsedRoute, points []RawPlacemark, log *logger.Logger) {
	for _, pm := range points {
		wp := Waypoint{Point: pm.Coordinates[0], Name: strings.TrimSpace(pm.Name), Role: RoleEnroute}
		wp.ExpectedArrival = in.parseTimestamp(r, log, pm)
		if n := len(r.Waypoints); n > 0 && samePosition(r.Waypoints[n-1].Point, wp.Point) {
			continue
		}
		wp.Sequence = len(r.Waypoints)
		r.Waypoints = append(r.Waypoints, wp)
	}
}

func (in *Ingestor) buildFromPaths(r *ParsedRoute, selected, discarded, points []RawPlacemark, log *logger.Logger) {
	for _, seg := range selected {
		for _, c := range seg.Coordinates {
			// segments usually share their joint vertex
			if n := len(r.Waypoints); n > 0 && samePosition(r.Waypoints[n-1].Point, c) {
				continue
			}
			r.Waypoints = append(r.Waypoints, Waypoint{Point: c, Sequence: len(r.Waypoints), Role: RoleEnroute})
		}
	}

	alternateStyles := make(map[string]bool)
	for _, d := range discarded {
		if st := normalizeStyle(d.Style); st != "" {
			alternateStyles[st] = true
		}
	}

	cursor := 0
	for _, pm := range points {
		name := strings.TrimSpace(pm.Name)
		ts := in.parseTimestamp(r, log, pm)

		if alternateStyles[normalizeStyle(pm.Style)] {
			r.Alternates = append(r.Alternates, Waypoint{
				Point:           pm.Coordinates[0],
				Sequence:        len(r.Alternates),
				Name:            name,
				Role:            RoleAlternate,
				ExpectedArrival: ts,
			})
			continue
		}

		idx, ok := in.nearestVertex(r.Waypoints, pm.Coordinates[0], cursor)
		if !ok {
			in.warn(r, log, WarnUnmatchedWaypoint,
				fmt.Sprintf("placemark %q is not within %.0f m of the route", name, in.tolerance))
			continue
		}
		cursor = idx

		wp := &r.Waypoints[idx]
		if wp.Name == "" {
			wp.Name = name
		}
		if ts != nil && wp.ExpectedArrival == nil {
			wp.ExpectedArrival = ts
		}
	}
}

// nearestVertex prefers the closest vertex at or after from, so routes that
// revisit a location attach names in travel order
func (in *Ingestor) nearestVertex(wps []Waypoint, p geo.Point, from int) (int, bool) {
	best, bestDist := -1, math.Inf(1)
	for i := from; i < len(wps); i++ {
		if d := geo.Distance(wps[i].Point, p); d < bestDist {
			best, bestDist = i, d
		}
	}
	if best >= 0 && bestDist <= in.tolerance {
		return best, true
	}

	best, bestDist = -1, math.Inf(1)
	for i := range wps {
		if d := geo.Distance(wps[i].Point, p); d < bestDist {
			best, bestDist = i, d
		}
	}
	if best >= 0 && bestDist <= in.tolerance {
		return best, true
	}
	return 0, false
}

func (in *Ingestor) parseTimestamp(r *ParsedRoute, log *logger.Logger, pm RawPlacemark) *time.Time {
	ts, present := ParseTimeOverWaypoint(pm.Description)
	if present && ts == nil {
		in.warn(r, log, WarnTimestampMalformed,
			fmt.Sprintf("malformed time token on placemark %q", pm.Name))
	}
	return ts
}

// assignRoles tags departure and arrival from an "A-B" route name, falling
// back to the first and last waypoints
func (in *Ingestor) assignRoles(r *ParsedRoute) {
	n := len(r.Waypoints)
	if n == 0 {
		return
	}
	if n == 1 {
		r.Waypoints[0].Role = RoleArrival
		return
	}

	dep, arr := 0, n-1
	if from, to, ok := parseRouteName(r.Name); ok {
		if i := findNamed(r.Waypoints, from); i >= 0 {
			dep = i
		}
		if i := findNamed(r.Waypoints, to); i >= 0 && i != dep {
			arr = i
		}
	}
	r.Waypoints[dep].Role = RoleDeparture
	r.Waypoints[arr].Role = RoleArrival
}

func findNamed(wps []Waypoint, ident string) int {
	for i, wp := range wps {
		if strings.EqualFold(strings.TrimSpace(wp.Name), ident) {
			return i
		}
	}
	for i, wp := range wps {
		if strings.Contains(strings.ToUpper(wp.Name), ident) {
			return i
		}
	}
	return -1
}

func computeCumulative(r *ParsedRoute) {
	r.Cumulative = make([]float64, len(r.Waypoints))
	for i := 1; i < len(r.Waypoints); i++ {
		r.Cumulative[i] = r.Cumulative[i-1] + geo.Distance(r.Waypoints[i-1].Point, r.Waypoints[i].Point)
	}
	if n := len(r.Cumulative); n > 0 {
		r.TotalLength = r.Cumulative[n-1]
	}
}

func samePosition(a, b geo.Point) bool {
	return a.Lat == b.Lat && a.Lon == b.Lon
}
