package tracker

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/bcl1713/starlink-dashboard-sub004/internal/eta"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/route"
	"github.com/bcl1713/starlink-dashboard-sub004/pkg/logger"
)

// Sink consumes tick updates off the tracking goroutine
type Sink interface {
	Name() string
	Publish(ctx context.Context, u Update) error
}

// TargetSource supplies the ETA targets for an update. r is the route the
// snapshot was built from, nil when no route is active.
type TargetSource interface {
	Targets(r *route.ParsedRoute) ([]eta.Target, error)
}

// Dispatcher fans tick updates out to sinks. Submit never blocks; when the
// queue is full the update is dropped.
type Dispatcher struct {
	updates chan Update
	sinks   []Sink
	targets TargetSource
	calc    *eta.Calculator
	logger  *logger.Logger

	latest  atomic.Pointer[[]eta.Result]
	dropped atomic.Int64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher. targets may be nil, in which case
// updates carry no ETA results.
func NewDispatcher(buffer int, targets TargetSource, etaCfg eta.Config, log *logger.Logger, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	return &Dispatcher{
		updates: make(chan Update, buffer),
		sinks:   sinks,
		targets: targets,
		calc:    eta.NewCalculator(etaCfg),
		logger:  log.Named("dispatch"),
		stopCh:  make(chan struct{}),
	}
}

// AddSink registers a sink. Call before Start.
func (d *Dispatcher) AddSink(s Sink) {
	d.sinks = append(d.sinks, s)
}

// Submit queues u for delivery and reports whether it was accepted
func (d *Dispatcher) Submit(u Update) bool {
	select {
	case d.updates <- u:
		return true
	default:
		n := d.dropped.Add(1)
		d.logger.Warn("Dispatch queue full, dropping update", logger.Int64("dropped_total", n))
		return false
	}
}

// Dropped is the number of updates dropped so far
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// LatestETAs returns the results computed for the most recent update
func (d *Dispatcher) LatestETAs() []eta.Result {
	if p := d.latest.Load(); p != nil {
		return *p
	}
	return nil
}

// Start delivers updates until ctx is cancelled or Stop is called
func (d *Dispatcher) Start(ctx context.Context) {
	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name())
	}
	d.logger.Info("Starting dispatcher", logger.Any("sinks", names))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stopCh:
				return
			case u := <-d.updates:
				d.deliver(ctx, u)
			}
		}
	}()
}

// Stop terminates delivery and waits for the worker to exit
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, u Update) {
	d.enrich(&u)
	for _, s := range d.sinks {
		if err := s.Publish(ctx, u); err != nil {
			d.logger.Error("Failed to publish update",
				logger.String("sink", s.Name()),
				logger.Error(err))
		}
	}
}

func (d *Dispatcher) enrich(u *Update) {
	if d.targets == nil {
		return
	}
	in, ok := u.Snapshot.ETAInput()
	if !ok {
		return
	}
	targets, err := d.targets.Targets(u.Snapshot.Route)
	if err != nil {
		d.logger.Warn("Failed to load ETA targets", logger.Error(err))
	}
	u.ETAs = d.calc.Compute(in, targets)
	u.Summary = eta.Summarize(u.ETAs)
	results := u.ETAs
	d.latest.Store(&results)
}
