package metrics

import (
	"time"

	"github.com/kilianp07/routesim/core/model"
)

// Notification stages.
const (
	StageFetch = "fetch"
	StagePush  = "push"
)

// PositionRecord is one position event sent on the transport.
type PositionRecord struct {
	RunID string
	Leg   int
	Event model.PositionEvent
	Time  time.Time
}

// LegRecord summarises a completed leg.
type LegRecord struct {
	RunID     string
	Leg       int
	VehicleID int64
	Direction model.Direction
	Waypoints int
	Duration  time.Duration
	Time      time.Time
}

// NotificationRecord is the outcome of a notification fetch or push.
type NotificationRecord struct {
	RunID      string
	Leg        int
	VehicleID  int64
	Stage      string
	Success    bool
	Count      int
	StatusCode int
	Error      string
	Time       time.Time
}

// Sink records position events. Every sink implements it.
type Sink interface {
	RecordPosition(rec PositionRecord) error
}

// LegRecorder records completed legs.
type LegRecorder interface {
	RecordLeg(rec LegRecord) error
}

// NotificationRecorder records notification fetch and push outcomes.
type NotificationRecorder interface {
	RecordNotification(rec NotificationRecord) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordPosition(PositionRecord) error         { return nil }
func (NopSink) RecordLeg(LegRecord) error                   { return nil }
func (NopSink) RecordNotification(NotificationRecord) error { return nil }

// MultiSink fans records out to several sinks.
type MultiSink struct {
	Sinks []Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// Combine returns NopSink, the single sink, or a MultiSink.
func Combine(sinks ...Sink) Sink {
	switch len(sinks) {
	case 0:
		return NopSink{}
	case 1:
		return sinks[0]
	default:
		return NewMultiSink(sinks...)
	}
}

// RecordPosition forwards the record to all sinks, returning the first error encountered.
func (m *MultiSink) RecordPosition(rec PositionRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordPosition(rec); err != nil {
			return err
		}
	}
	return nil
}

// RecordLeg forwards leg records to sinks that support them.
func (m *MultiSink) RecordLeg(rec LegRecord) error {
	for _, s := range m.Sinks {
		if lr, ok := s.(LegRecorder); ok {
			if err := lr.RecordLeg(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordNotification forwards notification records to sinks that support them.
func (m *MultiSink) RecordNotification(rec NotificationRecord) error {
	for _, s := range m.Sinks {
		if nr, ok := s.(NotificationRecorder); ok {
			if err := nr.RecordNotification(rec); err != nil {
				return err
			}
		}
	}
	return nil
}
