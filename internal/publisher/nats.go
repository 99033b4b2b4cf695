package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/bcl1713/starlink-dashboard-sub004/internal/eta"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/tracker"
	"github.com/bcl1713/starlink-dashboard-sub004/pkg/logger"
)

// Config selects the NATS server and subject namespace
type Config struct {
	URL           string
	SubjectPrefix string
	ClientName    string
	LogSubjects   bool
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// conn is the part of *nats.Conn the publisher needs
type conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher mirrors tick updates onto NATS subjects:
//
//	<prefix>.position        one message per tick
//	<prefix>.eta             sorted ETA list per tick
//	<prefix>.events.<type>   route follower events
type NATSPublisher struct {
	nc      *nats.Conn
	conn    conn
	prefix  string
	logSubj bool
	metrics PublisherMetrics
	logger  *logger.Logger
}

func NewNATSPublisher(cfg Config, m PublisherMetrics, log *logger.Logger) (*NATSPublisher, error) {
	log = log.Named("nats")
	name := cfg.ClientName
	if name == "" {
		name = "starlink-dashboard"
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Info("NATS reconnected", logger.String("url", c.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", cfg.URL, err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}

	p := newPublisher(nc, cfg, m, log)
	p.nc = nc
	return p, nil
}

func newPublisher(c conn, cfg Config, m PublisherMetrics, log *logger.Logger) *NATSPublisher {
	prefix := strings.Trim(strings.TrimSpace(cfg.SubjectPrefix), ".")
	if prefix == "" {
		prefix = "dashboard"
	}
	return &NATSPublisher{
		conn:    c,
		prefix:  prefix,
		logSubj: cfg.LogSubjects,
		metrics: m,
		logger:  log,
	}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

func (p *NATSPublisher) Name() string { return "nats" }

type PositionMessage struct {
	Timestamp  time.Time `json:"timestamp"`
	Route      string    `json:"route,omitempty"`
	State      string    `json:"state"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	Heading    float64   `json:"heading"`
	Progress   float64   `json:"progress"`
	SpeedKnots float64   `json:"speedKnots"`
	SpeedValid bool      `json:"speedValid"`
	Departed   bool      `json:"departed"`
}

type ETAMessage struct {
	Timestamp time.Time    `json:"timestamp"`
	Route     string       `json:"route,omitempty"`
	Results   []eta.Result `json:"results"`
}

type EventMessage struct {
	Type      string    `json:"type"`
	Route     string    `json:"route"`
	Timestamp time.Time `json:"timestamp"`
	Progress  float64   `json:"progress"`
}

// Publish sends the update; it keeps going after a failed subject and
// returns the first error
func (p *NATSPublisher) Publish(_ context.Context, u tracker.Update) error {
	snap := u.Snapshot
	if snap == nil {
		return nil
	}

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if snap.Position != nil {
		keep(p.publish(p.prefix+".position", PositionMessage{
			Timestamp:  snap.Time,
			Route:      snap.RouteName,
			State:      snap.State.String(),
			Lat:        snap.Position.Lat,
			Lon:        snap.Position.Lon,
			Heading:    snap.Heading,
			Progress:   snap.Progress,
			SpeedKnots: snap.Speed.Knots,
			SpeedValid: snap.Speed.Valid,
			Departed:   snap.Departed,
		}))
	}

	if len(u.ETAs) > 0 {
		keep(p.publish(p.prefix+".eta", ETAMessage{
			Timestamp: snap.Time,
			Route:     snap.RouteName,
			Results:   u.ETAs,
		}))
	}

	for _, ev := range u.Events {
		subject := fmt.Sprintf("%s.events.%s", p.prefix, subjectToken(string(ev.Type)))
		keep(p.publish(subject, EventMessage{
			Type:      string(ev.Type),
			Route:     ev.Route,
			Timestamp: ev.Time,
			Progress:  ev.Progress,
		}))
	}

	return firstErr
}

func (p *NATSPublisher) publish(subject string, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", subject, err)
	}
	if p.logSubj {
		p.logger.Debug("NATS publish", logger.String("subject", subject), logger.Int("bytes", len(b)))
	}
	start := time.Now()
	err = p.conn.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
