package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bcl1713/starlink-dashboard-sub004/internal/tracker"
)

// Collector holds the dashboard's Prometheus instruments. Only aggregate
// values are exported; per-target ETAs stay on the JSON API so series
// cardinality does not grow with the POI count.
type Collector struct {
	reg *prometheus.Registry

	Progress              prometheus.Gauge
	SpeedKnots            prometheus.Gauge
	SpeedValid            prometheus.Gauge
	Departed              prometheus.Gauge
	RouteActive           prometheus.Gauge
	HasTiming             prometheus.Gauge
	RemainingDistance     prometheus.Gauge
	TargetsCount          prometheus.Gauge
	NearestTargetDistance prometheus.Gauge
	NearestTargetETA      prometheus.Gauge

	SamplesAccepted prometheus.Counter
	SamplesRejected prometheus.Counter
	RouteEvents     *prometheus.CounterVec // event label: activated|deactivated|completed|looped|reversed

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	TickDuration    prometheus.Histogram
	PublishDuration prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_route_progress",
			Help: "Fraction of the active route travelled, 0 to 1.",
		}),
		SpeedKnots: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_speed_knots",
			Help: "Smoothed ground speed in knots.",
		}),
		SpeedValid: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_speed_valid",
			Help: "1 if the speed estimate is defined, 0 otherwise.",
		}),
		Departed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_departed",
			Help: "1 once departure has been detected.",
		}),
		RouteActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_route_active",
			Help: "1 if a route is being followed.",
		}),
		HasTiming: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_route_has_timing",
			Help: "1 if the active route carries schedule data.",
		}),
		RemainingDistance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_route_remaining_meters",
			Help: "Distance left to the end of the active route.",
		}),
		TargetsCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_targets_count",
			Help: "Number of waypoints and POIs ETAs are computed for.",
		}),
		NearestTargetDistance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_nearest_target_distance_meters",
			Help: "Distance to the closest target.",
		}),
		NearestTargetETA: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_nearest_target_eta_seconds",
			Help: "Smallest determinate ETA, -1 if none.",
		}),
		SamplesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_samples_accepted_total",
			Help: "Total telemetry samples applied.",
		}),
		SamplesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_samples_rejected_total",
			Help: "Total telemetry samples dropped or rejected as out of order.",
		}),
		RouteEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_route_events_total",
			Help: "Route follower events by type.",
		}, []string{"event"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dashboard_tick_duration_seconds",
			Help:    "Duration of tracking tick computations.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dashboard_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
	}

	reg.MustRegister(
		c.Progress, c.SpeedKnots, c.SpeedValid, c.Departed,
		c.RouteActive, c.HasTiming, c.RemainingDistance,
		c.TargetsCount, c.NearestTargetDistance, c.NearestTargetETA,
		c.SamplesAccepted, c.SamplesRejected, c.RouteEvents,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.TickDuration, c.PublishDuration,
	)

	c.NearestTargetETA.Set(-1)
	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Registry exposes the private registry for tests and extra collectors
func (c *Collector) Registry() *prometheus.Registry {
	return c.reg
}

func (c *Collector) SampleAccepted()             { c.SamplesAccepted.Inc() }
func (c *Collector) SampleRejected()             { c.SamplesRejected.Inc() }
func (c *Collector) ObserveTick(d time.Duration) { c.TickDuration.Observe(d.Seconds()) }

func (c *Collector) Name() string { return "metrics" }

// Publish mirrors a tick update into the gauges
func (c *Collector) Publish(_ context.Context, u tracker.Update) error {
	snap := u.Snapshot
	if snap == nil {
		return nil
	}

	c.Progress.Set(snap.Progress)
	c.SpeedKnots.Set(snap.Speed.Knots)
	c.SpeedValid.Set(boolGauge(snap.Speed.Valid))
	c.Departed.Set(boolGauge(snap.Departed))
	c.RouteActive.Set(boolGauge(snap.RouteActive))
	c.HasTiming.Set(boolGauge(snap.HasTiming))
	c.RemainingDistance.Set(snap.RemainingDistance)

	c.TargetsCount.Set(float64(u.Summary.Count))
	c.NearestTargetDistance.Set(u.Summary.NearestDistance)
	c.NearestTargetETA.Set(u.Summary.NearestETA)

	for _, ev := range u.Events {
		c.RouteEvents.WithLabelValues(string(ev.Type)).Inc()
	}
	return nil
}

// NATS publisher hooks

func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }
func (c *Collector) NATSSetConnected(connected bool) {
	c.NATSConnected.Set(boolGauge(connected))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
