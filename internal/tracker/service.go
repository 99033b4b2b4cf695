package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bcl1713/starlink-dashboard-sub004/internal/eta"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/follower"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/route"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/telemetry"
	"github.com/bcl1713/starlink-dashboard-sub004/pkg/logger"
)

// Config holds tracking loop settings
type Config struct {
	TickInterval    time.Duration
	SpeedWindow     time.Duration
	MinMotionMeters float64
	Policy          follower.Policy
	ETA             eta.Config
	SampleBuffer    int
}

// Instruments receives loop measurements. Implementations must not block.
type Instruments interface {
	SampleAccepted()
	SampleRejected()
	ObserveTick(d time.Duration)
}

type nopInstruments struct{}

func (nopInstruments) SampleAccepted()             {}
func (nopInstruments) SampleRejected()             {}
func (nopInstruments) ObserveTick(d time.Duration) {}

type command struct {
	activate   *route.ParsedRoute
	deactivate bool
}

// Service owns the live tracking state. Only the tick goroutine mutates it;
// everyone else talks to it through channels and reads published snapshots.
type Service struct {
	cfg         Config
	logger      *logger.Logger
	instruments Instruments
	dispatcher  *Dispatcher
	calc        *eta.Calculator

	// owned by the tick goroutine
	speed     *telemetry.SpeedTracker
	follower  *follower.Follower
	departure *eta.DepartureDetector

	samples  chan telemetry.Sample
	commands chan command
	snapshot atomic.Pointer[Snapshot]

	stopCh chan struct{}
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewService creates the tracker. dispatcher and instruments may be nil.
func NewService(cfg Config, dispatcher *Dispatcher, instruments Instruments, log *logger.Logger) *Service {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.SampleBuffer <= 0 {
		cfg.SampleBuffer = 256
	}
	if cfg.ETA == (eta.Config{}) {
		cfg.ETA = eta.DefaultConfig()
	}
	if instruments == nil {
		instruments = nopInstruments{}
	}

	s := &Service{
		cfg:         cfg,
		logger:      log.Named("tracker"),
		instruments: instruments,
		dispatcher:  dispatcher,
		calc:        eta.NewCalculator(cfg.ETA),
		speed:       telemetry.NewSpeedTracker(cfg.SpeedWindow, cfg.MinMotionMeters),
		follower:    follower.New(cfg.Policy),
		departure:   eta.NewDepartureDetector(cfg.ETA.DepartureThresholdKnots),
		samples:     make(chan telemetry.Sample, cfg.SampleBuffer),
		commands:    make(chan command, 16),
		stopCh:      make(chan struct{}),
		now:         func() time.Time { return time.Now().UTC() },
	}
	s.snapshot.Store(&Snapshot{State: follower.Idle, Policy: s.follower.Policy(), Direction: 1})
	return s
}

// Start runs the tick loop until ctx is cancelled or Stop is called
func (s *Service) Start(ctx context.Context) {
	s.logger.Info("Starting tracker",
		logger.Duration("tick_interval", s.cfg.TickInterval),
		logger.String("policy", string(s.follower.Policy())))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.step(s.now())
			}
		}
	}()
}

// Stop terminates the tick loop
func (s *Service) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	s.wg.Wait()
	s.logger.Info("Tracker stopped")
}

// Samples is the channel telemetry sources write to
func (s *Service) Samples() chan<- telemetry.Sample {
	return s.samples
}

// Ingest queues a sample without blocking; it reports false when the queue is full
func (s *Service) Ingest(sample telemetry.Sample) bool {
	select {
	case s.samples <- sample:
		return true
	default:
		s.logger.Warn("Sample queue full, dropping sample")
		s.instruments.SampleRejected()
		return false
	}
}

// ActivateRoute queues a route activation for the next tick
func (s *Service) ActivateRoute(r *route.ParsedRoute) {
	s.send(command{activate: r})
}

// DeactivateRoute queues a deactivation for the next tick
func (s *Service) DeactivateRoute() {
	s.send(command{deactivate: true})
}

func (s *Service) send(c command) {
	select {
	case s.commands <- c:
	case <-s.stopCh:
	}
}

// Snapshot returns the state published by the last tick
func (s *Service) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// ErrNoPosition is returned by ETAs before any position is known
var ErrNoPosition = errors.New("no position available")

// ETAs computes sorted results against the current snapshot. Targets are
// taken from src for the snapshot's own route.
func (s *Service) ETAs(src TargetSource) ([]eta.Result, error) {
	snap := s.Snapshot()
	in, ok := snap.ETAInput()
	if !ok {
		return nil, ErrNoPosition
	}
	targets, err := src.Targets(snap.Route)
	if err != nil {
		return nil, fmt.Errorf("failed to load targets: %w", err)
	}
	return s.calc.Compute(in, targets), nil
}

// step runs one tick: apply queued commands and samples, advance the
// follower by the measured elapsed time, publish a snapshot
func (s *Service) step(now time.Time) {
	start := time.Now()
	var events []follower.Event

drain:
	for {
		select {
		case c := <-s.commands:
			events = append(events, s.apply(c, now)...)
		default:
			break drain
		}
	}

	s.drainSamples()

	events = append(events, s.follower.Advance(now, s.speed.Current().MetersPerSecond())...)
	for _, ev := range events {
		s.logger.Info("Route event",
			logger.String("event", string(ev.Type)),
			logger.String("route", ev.Route),
			logger.Float64("progress", ev.Progress))
	}

	snap := s.buildSnapshot(now)
	s.snapshot.Store(snap)

	if s.dispatcher != nil {
		s.dispatcher.Submit(Update{Snapshot: snap, Events: events})
	}
	s.instruments.ObserveTick(time.Since(start))
}

func (s *Service) apply(c command, now time.Time) []follower.Event {
	var events []follower.Event
	if s.follower.State() != follower.Idle {
		events = append(events, s.follower.Deactivate(now))
		s.departure.Reset()
	} else if c.deactivate {
		s.departure.Reset()
	}
	if c.activate != nil {
		events = append(events, s.follower.Activate(c.activate, now))
	}
	return events
}

func (s *Service) drainSamples() {
	for {
		select {
		case sample := <-s.samples:
			est, err := s.speed.Update(sample)
			if err != nil {
				s.instruments.SampleRejected()
				s.logger.Debug("Rejected telemetry sample", logger.Error(err))
				continue
			}
			s.instruments.SampleAccepted()
			if s.departure.Observe(est, sample.Time) {
				s.logger.Info("Departure detected",
					logger.Float64("speed_knots", est.Knots),
					logger.Time("at", sample.Time))
			}
		default:
			return
		}
	}
}

func (s *Service) buildSnapshot(now time.Time) *Snapshot {
	snap := &Snapshot{
		Time:      now,
		State:     s.follower.State(),
		Policy:    s.follower.Policy(),
		Progress:  s.follower.Progress(),
		Direction: s.follower.Direction(),
		Speed:     s.speed.Current(),
		Departed:  s.departure.Departed(),
	}
	if s.departure.Departed() {
		at := s.departure.DepartedAt()
		snap.DepartedAt = &at
	}
	if latest, ok := s.speed.Latest(); ok {
		snap.LastSample = &latest
		p := latest.Point
		snap.Position = &p
	}

	if r := s.follower.Route(); r != nil {
		snap.Route = r
		snap.RouteActive = true
		snap.RouteName = r.Name
		snap.HasTiming = r.HasTiming()
		if p, heading, segment, ok := s.follower.Position(); ok {
			snap.Position = &p
			snap.Heading = heading
			snap.Segment = segment
		}
		if snap.Direction > 0 {
			snap.RemainingDistance = r.RemainingDistance(snap.Progress)
		} else {
			snap.RemainingDistance = r.TotalLength * (1 + snap.Progress)
		}
	}
	return snap
}
