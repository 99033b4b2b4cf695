package follower

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bcl1713/starlink-dashboard-sub004/internal/geo"
	"github.com/bcl1713/starlink-dashboard-sub004/internal/route"
)

// State of the follower state machine
type State int

const (
	Idle State = iota
	Following
	Completed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Following:
		return "following"
	case Completed:
		return "completed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state name in JSON payloads
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Policy decides what happens when progress reaches the end of the route
type Policy string

const (
	PolicyLoop    Policy = "loop"
	PolicyStop    Policy = "stop"
	PolicyReverse Policy = "reverse"
)

// ParsePolicy validates a completion policy name
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyLoop, PolicyStop, PolicyReverse:
		return p, nil
	case "":
		return PolicyLoop, nil
	}
	return "", fmt.Errorf("unknown completion policy: %q", s)
}

// EventType names a route transition
type EventType string

const (
	EventActivated   EventType = "activated"
	EventDeactivated EventType = "deactivated"
	EventCompleted   EventType = "completed"
	EventLooped      EventType = "looped"
	EventReversed    EventType = "reversed"
)

// Event is emitted on every state machine transition
type Event struct {
	Type     EventType `json:"type"`
	Route    string    `json:"route,omitempty"`
	Time     time.Time `json:"time"`
	Progress float64   `json:"progress"`
}

// Follower advances a progress fraction along a route using measured
// elapsed time. It is not safe for concurrent use; one goroutine owns it.
type Follower struct {
	policy    Policy
	route     *route.ParsedRoute
	state     State
	progress  float64
	direction float64
	lastTick  time.Time
}

// New creates an idle follower
func New(policy Policy) *Follower {
	if policy == "" {
		policy = PolicyLoop
	}
	return &Follower{policy: policy, direction: 1}
}

// Activate starts following r from its beginning.
// The first Advance after activation only records the time base.
func (f *Follower) Activate(r *route.ParsedRoute, now time.Time) Event {
	f.route = r
	f.state = Following
	f.progress = 0
	f.direction = 1
	f.lastTick = time.Time{}
	return Event{Type: EventActivated, Route: r.Name, Time: now}
}

// Deactivate drops the route and returns to Idle
func (f *Follower) Deactivate(now time.Time) Event {
	name := ""
	if f.route != nil {
		name = f.route.Name
	}
	ev := Event{Type: EventDeactivated, Route: name, Time: now, Progress: f.progress}
	f.route = nil
	f.state = Idle
	f.progress = 0
	f.direction = 1
	f.lastTick = time.Time{}
	return ev
}

// Advance moves progress by speed times the wall-clock time since the
// previous call and applies the completion policy.
func (f *Follower) Advance(now time.Time, speedMps float64) []Event {
	if f.state != Following || f.route == nil {
		return nil
	}
	if f.lastTick.IsZero() {
		f.lastTick = now
		return nil
	}
	dt := now.Sub(f.lastTick).Seconds()
	if dt <= 0 {
		return nil
	}
	f.lastTick = now

	if f.route.IsStationary() || math.IsNaN(speedMps) || speedMps <= 0 {
		return nil
	}

	delta := speedMps * dt / f.route.TotalLength
	if math.IsInf(delta, 0) {
		return nil
	}
	f.progress += f.direction * delta
	return f.applyPolicy(now)
}

func (f *Follower) applyPolicy(now time.Time) []Event {
	forward := f.direction > 0
	if (forward && f.progress < 1) || (!forward && f.progress > 0) {
		return nil
	}
	emit := func(t EventType) []Event {
		return []Event{{Type: t, Route: f.route.Name, Time: now, Progress: f.progress}}
	}

	switch f.policy {
	case PolicyStop:
		if !forward {
			break
		}
		f.progress = 1
		f.state = Completed
		return emit(EventCompleted)
	case PolicyLoop:
		if !forward {
			break
		}
		f.progress = math.Mod(f.progress, 1)
		return emit(EventLooped)
	}

	// an out-and-back trip is a cycle of length 2
	cycle := f.progress
	if !forward {
		cycle = 2 - f.progress
	}
	cycle = math.Mod(cycle, 2)
	if cycle < 0 {
		cycle += 2
	}
	if cycle >= 1 {
		f.progress = 2 - cycle
		f.direction = -1
	} else {
		f.progress = cycle
		f.direction = 1
	}
	return emit(EventReversed)
}

// Progress returns the fraction of the route covered, in [0,1]
func (f *Follower) Progress() float64 { return f.progress }

// State returns the current state
func (f *Follower) State() State { return f.state }

// Direction is +1 travelling forward and -1 when reversing
func (f *Follower) Direction() int {
	if f.direction < 0 {
		return -1
	}
	return 1
}

// Policy returns the completion policy
func (f *Follower) Policy() Policy { return f.policy }

// Route returns the route being followed, or nil
func (f *Follower) Route() *route.ParsedRoute { return f.route }

// Position returns the interpolated position for the current progress.
// Heading follows the direction of travel.
func (f *Follower) Position() (p geo.Point, heading float64, segment int, ok bool) {
	if f.route == nil || len(f.route.Waypoints) == 0 {
		return geo.Point{}, 0, 0, false
	}
	p, heading, segment = f.route.PositionAt(f.progress)
	if f.direction < 0 {
		heading = geo.NormalizeHeading(heading + 180)
	}
	return p, heading, segment, true
}
