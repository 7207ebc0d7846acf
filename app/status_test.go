package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kilianp07/routesim/core/model"
	"github.com/kilianp07/routesim/core/simulator"
	"github.com/kilianp07/routesim/internal/eventbus"
)

func TestStatusTrackerApply(t *testing.T) {
	tr := NewStatusTracker(3)
	now := time.Unix(100, 0)
	pos := model.NewPositionEvent(3, model.Waypoint{Lat: 1, Lon: 2}, model.SignificantChange, model.Inbound)

	tr.Apply(simulator.Event{Kind: simulator.LegStarted, RunID: "a", Leg: 1, Direction: model.Inbound, Time: now})
	tr.Apply(simulator.Event{Kind: simulator.PositionSent, RunID: "a", Leg: 1, Direction: model.Inbound, Position: pos, Time: now})
	tr.Apply(simulator.Event{Kind: simulator.LegCompleted, RunID: "a", Leg: 1, Direction: model.Inbound, Time: now})

	st := tr.Snapshot()
	assert.Equal(t, int64(3), st.VehicleID)
	assert.Equal(t, "a", st.RunID)
	assert.Equal(t, "inbound", st.Direction)
	assert.Equal(t, uint64(1), st.Positions)
	assert.Equal(t, uint64(1), st.LegsCompleted)
	assert.Equal(t, &pos, st.LastPosition)

	tr.Apply(simulator.Event{Kind: simulator.LegStarted, RunID: "b", Direction: model.Outbound, Time: now})
	st = tr.Snapshot()
	assert.Equal(t, "b", st.RunID)
	assert.Zero(t, st.Positions)
	assert.Nil(t, st.LastPosition)
}

func TestStatusTrackerTrack(t *testing.T) {
	bus := eventbus.New[simulator.Event]()
	tr := NewStatusTracker(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	sub := bus.Subscribe()
	go func() {
		tr.Track(ctx, sub)
		close(done)
	}()

	bus.Publish(simulator.Event{Kind: simulator.PositionSent, RunID: "r"})
	bus.Close()
	<-done
	assert.Equal(t, uint64(1), tr.Snapshot().Positions)
}
