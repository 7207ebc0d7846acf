package simulator

import (
	"time"

	"github.com/kilianp07/routesim/core/model"
)

// EventKind identifies a lifecycle event.
type EventKind int

const (
	LegStarted EventKind = iota
	PositionSent
	LegCompleted
)

func (k EventKind) String() string {
	switch k {
	case LegStarted:
		return "leg_started"
	case PositionSent:
		return "position_sent"
	case LegCompleted:
		return "leg_completed"
	default:
		return "unknown"
	}
}

// Event is published by the simulator as it progresses. Position is only
// set for PositionSent.
type Event struct {
	Kind      EventKind
	RunID     string
	Leg       int
	Direction model.Direction
	Position  model.PositionEvent
	Time      time.Time
}
