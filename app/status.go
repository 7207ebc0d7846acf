package app

import (
	"context"
	"sync"
	"time"

	"github.com/kilianp07/routesim/core/model"
	"github.com/kilianp07/routesim/core/simulator"
)

// Status is the snapshot served on /status.
type Status struct {
	VehicleID     int64                `json:"vehicle_id"`
	RunID         string               `json:"run_id,omitempty"`
	Leg           int                  `json:"leg"`
	Direction     string               `json:"direction"`
	Positions     uint64               `json:"positions_sent"`
	LegsCompleted uint64               `json:"legs_completed"`
	LastPosition  *model.PositionEvent `json:"last_position,omitempty"`
	UpdatedAt     time.Time            `json:"updated_at,omitempty"`
}

// StatusTracker folds simulator events into a Status.
type StatusTracker struct {
	mu sync.RWMutex
	st Status
}

func NewStatusTracker(vehicleID int64) *StatusTracker {
	return &StatusTracker{st: Status{VehicleID: vehicleID, Direction: model.Outbound.String()}}
}

// Apply updates the snapshot with ev. Counters restart when a new run ID
// appears.
func (t *StatusTracker) Apply(ev simulator.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ev.RunID != t.st.RunID {
		t.st = Status{VehicleID: t.st.VehicleID, RunID: ev.RunID}
	}
	t.st.Leg = ev.Leg
	t.st.Direction = ev.Direction.String()
	t.st.UpdatedAt = ev.Time
	switch ev.Kind {
	case simulator.PositionSent:
		t.st.Positions++
		pos := ev.Position
		t.st.LastPosition = &pos
	case simulator.LegCompleted:
		t.st.LegsCompleted++
	}
}

// Snapshot returns a copy of the current status.
func (t *StatusTracker) Snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st := t.st
	if st.LastPosition != nil {
		pos := *st.LastPosition
		st.LastPosition = &pos
	}
	return st
}

// Track applies events until ctx is done or events is closed.
func (t *StatusTracker) Track(ctx context.Context, events <-chan simulator.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			t.Apply(ev)
		}
	}
}
