package telemetry

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/bcl1713/starlink-dashboard-sub004/internal/follower"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/geo"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/route"
	"github.com/bcl1713/starlink-dashboard-sub004/pkg/logger"
)

// Source produces telemetry samples until ctx is cancelled
type Source interface {
	Name() string
	Run(ctx context.Context, out chan<- Sample) error
}

// SimulatedConfig configures the synthetic motion generator
type SimulatedConfig struct {
	Interval     time.Duration
	SpeedKnots   float64
	Start        geo.Point
	HeadingDeg   float64 // used for dead reckoning when no route is active
	JitterMeters float64 // random position noise added to each sample
}

// SimulatedSource generates positions by following the active route at a
// fixed speed, or by dead reckoning from a start point when no route is active.
// Position updates use the measured time since the previous update.
type SimulatedSource struct {
	cfg      SimulatedConfig
	logger   *logger.Logger
	rng      *rand.Rand
	mu       sync.Mutex
	follower *follower.Follower
	position geo.Point
	last     time.Time
}

// NewSimulatedSource creates a simulated source
func NewSimulatedSource(cfg SimulatedConfig, log *logger.Logger) *SimulatedSource {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &SimulatedSource{
		cfg:      cfg,
		logger:   log.Named("simulation"),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		follower: follower.New(follower.PolicyLoop),
		position: cfg.Start,
	}
}

func (s *SimulatedSource) Name() string { return "simulated" }

// ActivateRoute makes the generator follow r from its start
func (s *SimulatedSource) ActivateRoute(r *route.ParsedRoute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.follower.Activate(r, time.Now().UTC())
	if p, heading, _, ok := s.follower.Position(); ok {
		s.position = p
		s.cfg.HeadingDeg = heading
	}
	s.logger.Info("Simulation following route",
		logger.String("route", r.Name),
		logger.Float64("speed_knots", s.cfg.SpeedKnots))
}

// DeactivateRoute continues by dead reckoning from the current position
func (s *SimulatedSource) DeactivateRoute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.follower.Deactivate(time.Now().UTC())
	s.logger.Info("Simulation route cleared, dead reckoning")
}

// Run emits one sample per interval
func (s *SimulatedSource) Run(ctx context.Context, out chan<- Sample) error {
	s.logger.Info("Starting simulated telemetry",
		logger.Duration("interval", s.cfg.Interval),
		logger.Float64("speed_knots", s.cfg.SpeedKnots))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			sample := s.Step(now.UTC())
			select {
			case out <- sample:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Step advances the simulation to now and returns the resulting sample
func (s *SimulatedSource) Step(now time.Time) Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	speedMps := s.cfg.SpeedKnots * geo.KnotsToMs
	if s.follower.State() != follower.Idle {
		for _, ev := range s.follower.Advance(now, speedMps) {
			s.logger.Debug("Simulated route event", logger.String("event", string(ev.Type)))
		}
		if p, heading, _, ok := s.follower.Position(); ok {
			s.position = p
			s.cfg.HeadingDeg = heading
		}
	} else if !s.last.IsZero() {
		if dt := now.Sub(s.last).Seconds(); dt > 0 {
			s.deadReckon(dt)
		}
	}
	s.last = now

	p := s.position
	if s.cfg.JitterMeters > 0 {
		p = offset(p, s.rng.Float64()*360, s.rng.Float64()*s.cfg.JitterMeters)
	}
	return Sample{Time: now, Point: p}
}

// deadReckon moves the position along the configured heading
func (s *SimulatedSource) deadReckon(deltaSeconds float64) {
	distance := s.cfg.SpeedKnots * geo.KnotsToMs * deltaSeconds
	s.position = offset(s.position, s.cfg.HeadingDeg, distance)
}

// offset moves p by distance meters along heading using a flat-earth step,
// which is accurate for the short hops between samples
func offset(p geo.Point, heading, distance float64) geo.Point {
	headingRad := heading * math.Pi / 180
	latChange := distance * math.Cos(headingRad) / geo.EarthRadiusMeters * 180 / math.Pi
	lonChange := distance * math.Sin(headingRad) / (geo.EarthRadiusMeters * math.Cos(p.Lat*math.Pi/180)) * 180 / math.Pi

	out := geo.Point{Lat: p.Lat + latChange, Lon: p.Lon + lonChange, Alt: p.Alt}
	if out.Lat > 90 {
		out.Lat = 90
	}
	if out.Lat < -90 {
		out.Lat = -90
	}
	out.Lon = math.Mod(out.Lon+540, 360) - 180
	return out
}
