// Package simulator drives a vehicle back and forth along a route.
//
// The simulator is a finite-state machine with three states. LegStart fetches
// pending notifications and pushes them, Streaming emits one position event
// per waypoint followed by an end-of-route event, and LegEnd reverses the
// route and flips the direction. Step performs a single unit of work and
// tells the caller how long to wait before the next one; Run is the loop that
// honours those waits until the context is cancelled or the transport fails.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"text/template"
	"time"

	"github.com/kilianp07/routesim/core/journal"
	"github.com/kilianp07/routesim/core/logger"
	"github.com/kilianp07/routesim/core/metrics"
	"github.com/kilianp07/routesim/core/model"
	"github.com/kilianp07/routesim/core/notify"
	"github.com/kilianp07/routesim/core/transport"
	"github.com/kilianp07/routesim/internal/eventbus"
)

// Default push templates, rendered with TemplateData.
const (
	DefaultPushTitle = "Vehicle update"
	DefaultPushBody  = "Vehicle {{.VehicleID}} is moving in direction {{.Direction}}."
)

// State is a simulator state.
type State int

const (
	LegStart State = iota
	Streaming
	LegEnd
)

func (s State) String() string {
	switch s {
	case LegStart:
		return "leg_start"
	case Streaming:
		return "streaming"
	case LegEnd:
		return "leg_end"
	default:
		return "unknown"
	}
}

// Sender writes position events. transport.Session satisfies it.
type Sender interface {
	Send(ctx context.Context, ev model.PositionEvent) error
}

// Config holds the immutable parameters of one run.
type Config struct {
	VehicleID int64
	// Interval is the minimum delay after each waypoint send.
	Interval time.Duration
	RunID    string
	// PushTitle and PushBody are text/template strings. Empty values use the
	// defaults.
	PushTitle string
	PushBody  string
}

// TemplateData is passed to the push title and body templates.
type TemplateData struct {
	VehicleID int64
	Direction string
	Leg       int
}

// Simulator is not safe for concurrent use; observers should subscribe to
// its events instead of reading its state.
type Simulator struct {
	cfg       Config
	route     model.Route
	direction model.Direction
	state     State
	cursor    int
	leg       int
	legStart  time.Time

	sender  Sender
	gateway notify.Gateway
	push    notify.Dispatcher
	sink    metrics.Sink
	journal journal.Store
	events  eventbus.Publisher[Event]
	log     logger.Logger
	now     func() time.Time

	title *template.Template
	body  *template.Template
}

// Option customises a Simulator.
type Option func(*Simulator)

// WithMetrics records positions, legs and notification outcomes in sink.
func WithMetrics(sink metrics.Sink) Option {
	return func(s *Simulator) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithJournal appends every attempt to store.
func WithJournal(store journal.Store) Option {
	return func(s *Simulator) {
		if store != nil {
			s.journal = store
		}
	}
}

// WithEvents publishes lifecycle events to p.
func WithEvents(p eventbus.Publisher[Event]) Option {
	return func(s *Simulator) {
		if p != nil {
			s.events = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a simulator positioned at LegStart in the Outbound direction.
// gateway and push may both be nil to disable notifications.
func New(cfg Config, route model.Route, sender Sender, gateway notify.Gateway, push notify.Dispatcher, opts ...Option) (*Simulator, error) {
	if route.Len() == 0 {
		return nil, model.ErrEmptyRoute
	}
	if sender == nil {
		return nil, errors.New("sender is required")
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("interval must not be negative: %s", cfg.Interval)
	}
	if (gateway == nil) != (push == nil) {
		return nil, errors.New("gateway and push dispatcher must be set together")
	}
	if cfg.PushTitle == "" {
		cfg.PushTitle = DefaultPushTitle
	}
	if cfg.PushBody == "" {
		cfg.PushBody = DefaultPushBody
	}
	title, err := template.New("title").Parse(cfg.PushTitle)
	if err != nil {
		return nil, fmt.Errorf("push title template: %w", err)
	}
	body, err := template.New("body").Parse(cfg.PushBody)
	if err != nil {
		return nil, fmt.Errorf("push body template: %w", err)
	}
	s := &Simulator{
		cfg:       cfg,
		route:     route,
		direction: model.Outbound,
		state:     LegStart,
		sender:    sender,
		gateway:   gateway,
		push:      push,
		sink:      metrics.NopSink{},
		journal:   journal.NopStore{},
		events:    eventbus.Discard[Event]{},
		log:       logger.NopLogger{},
		now:       time.Now,
		title:     title,
		body:      body,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// State returns the current state.
func (s *Simulator) State() State { return s.state }

// Direction returns the direction of the current leg.
func (s *Simulator) Direction() model.Direction { return s.direction }

// Leg returns the zero-based index of the current leg.
func (s *Simulator) Leg() int { return s.leg }

// Route returns the route in the order of the current leg.
func (s *Simulator) Route() model.Route { return s.route }

// Run drives the state machine until ctx is cancelled, in which case it
// returns nil, or until a send fails, in which case the *transport.SendError
// is returned.
func (s *Simulator) Run(ctx context.Context) error {
	s.log.Infof("run %s: vehicle %d, %d waypoints, interval %s", s.cfg.RunID, s.cfg.VehicleID, s.route.Len(), s.cfg.Interval)
	for {
		wait, err := s.Step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Step performs one unit of work for the current state and returns the
// minimum delay before the next call.
func (s *Simulator) Step(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	switch s.state {
	case LegStart:
		s.startLeg(ctx)
		return 0, nil
	case Streaming:
		return s.stream(ctx)
	case LegEnd:
		s.endLeg()
		return 0, nil
	default:
		return 0, fmt.Errorf("invalid state %d", s.state)
	}
}

func (s *Simulator) startLeg(ctx context.Context) {
	s.legStart = s.now()
	s.log.Infof("leg %d: starting %s", s.leg, s.direction)
	s.events.Publish(Event{Kind: LegStarted, RunID: s.cfg.RunID, Leg: s.leg, Direction: s.direction, Time: s.legStart})
	s.notify(ctx)
	s.cursor = 0
	s.state = Streaming
}

func (s *Simulator) stream(ctx context.Context) (time.Duration, error) {
	if s.cursor < s.route.Len() {
		ev := model.NewPositionEvent(s.cfg.VehicleID, s.route.At(s.cursor), model.SignificantChange, s.direction)
		if err := s.send(ctx, ev); err != nil {
			return 0, err
		}
		s.cursor++
		return s.cfg.Interval, nil
	}
	ev := model.NewPositionEvent(s.cfg.VehicleID, s.route.Last(), model.EndRoute, s.direction)
	if err := s.send(ctx, ev); err != nil {
		return 0, err
	}
	s.state = LegEnd
	return 0, nil
}

func (s *Simulator) endLeg() {
	now := s.now()
	rec := metrics.LegRecord{
		RunID:     s.cfg.RunID,
		Leg:       s.leg,
		VehicleID: s.cfg.VehicleID,
		Direction: s.direction,
		Waypoints: s.route.Len(),
		Duration:  now.Sub(s.legStart),
		Time:      now,
	}
	if lr, ok := s.sink.(metrics.LegRecorder); ok {
		if err := lr.RecordLeg(rec); err != nil {
			s.log.Warnf("record leg: %v", err)
		}
	}
	s.appendJournal(context.Background(), journal.Record{
		Timestamp: now,
		RunID:     s.cfg.RunID,
		Leg:       s.leg,
		Kind:      journal.KindLeg,
		VehicleID: s.cfg.VehicleID,
		Direction: s.direction.String(),
		Success:   true,
		Detail:    fmt.Sprintf("%d waypoints in %s", rec.Waypoints, rec.Duration),
	})
	s.events.Publish(Event{Kind: LegCompleted, RunID: s.cfg.RunID, Leg: s.leg, Direction: s.direction, Time: now})
	s.log.Infof("leg %d: completed %s", s.leg, s.direction)

	s.route = s.route.Reversed()
	s.direction = s.direction.Flip()
	s.leg++
	s.state = LegStart
}

func (s *Simulator) send(ctx context.Context, ev model.PositionEvent) error {
	if err := s.sender.Send(ctx, ev); err != nil {
		var se *transport.SendError
		if !errors.As(err, &se) {
			err = &transport.SendError{Event: ev, Err: err}
		}
		s.log.Errorf("leg %d: %v", s.leg, err)
		return err
	}
	now := s.now()
	if err := s.sink.RecordPosition(metrics.PositionRecord{RunID: s.cfg.RunID, Leg: s.leg, Event: ev, Time: now}); err != nil {
		s.log.Warnf("record position: %v", err)
	}
	s.appendJournal(ctx, journal.PositionRecord(s.cfg.RunID, s.leg, ev, now))
	s.events.Publish(Event{Kind: PositionSent, RunID: s.cfg.RunID, Leg: s.leg, Direction: s.direction, Position: ev, Time: now})
	s.log.Debugw("position sent", map[string]any{
		"leg":        s.leg,
		"lat":        ev.Lat,
		"lon":        ev.Lon,
		"event_type": ev.Type.String(),
		"direction":  ev.Direction.String(),
	})
	return nil
}

func (s *Simulator) appendJournal(ctx context.Context, rec journal.Record) {
	if err := s.journal.Append(ctx, rec); err != nil {
		s.log.Warnf("journal append: %v", err)
	}
}
