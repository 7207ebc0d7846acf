package simulator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/routesim/core/journal"
	"github.com/kilianp07/routesim/core/metrics"
	"github.com/kilianp07/routesim/core/model"
	"github.com/kilianp07/routesim/core/notify"
	"github.com/kilianp07/routesim/core/transport"
	"github.com/kilianp07/routesim/internal/eventbus"
)

type fakeSender struct {
	mu     sync.Mutex
	events []model.PositionEvent
	failAt int // 1-based send index that fails, 0 never
	err    error
	onSend func(n int)
}

func (f *fakeSender) Send(_ context.Context, ev model.PositionEvent) error {
	f.mu.Lock()
	n := len(f.events) + 1
	if f.failAt != 0 && n >= f.failAt {
		f.mu.Unlock()
		return f.err
	}
	f.events = append(f.events, ev)
	cb := f.onSend
	f.mu.Unlock()
	if cb != nil {
		cb(n)
	}
	return nil
}

func (f *fakeSender) sent() []model.PositionEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.PositionEvent, len(f.events))
	copy(out, f.events)
	return out
}

type fakeGateway struct {
	calls int
	notes []model.Notification
	err   error
}

func (g *fakeGateway) FetchPending(context.Context, int64) ([]model.Notification, error) {
	g.calls++
	return g.notes, g.err
}

type fakePush struct {
	msgs []model.PushMessage
	fail map[string]error
}

func (p *fakePush) Dispatch(_ context.Context, msg model.PushMessage) (notify.DeliveryResult, error) {
	p.msgs = append(p.msgs, msg)
	if err := p.fail[msg.Token]; err != nil {
		return notify.DeliveryResult{}, err
	}
	return notify.DeliveryResult{StatusCode: 200}, nil
}

type countingSink struct {
	positions     int
	legs          []metrics.LegRecord
	notifications []metrics.NotificationRecord
}

func (c *countingSink) RecordPosition(metrics.PositionRecord) error { c.positions++; return nil }
func (c *countingSink) RecordLeg(r metrics.LegRecord) error         { c.legs = append(c.legs, r); return nil }
func (c *countingSink) RecordNotification(r metrics.NotificationRecord) error {
	c.notifications = append(c.notifications, r)
	return nil
}

type memJournal struct {
	journal.NopStore
	recs []journal.Record
}

func (m *memJournal) Append(_ context.Context, r journal.Record) error {
	m.recs = append(m.recs, r)
	return nil
}

func mustRoute(t *testing.T, pts ...model.Waypoint) model.Route {
	t.Helper()
	r, err := model.NewRoute(pts)
	require.NoError(t, err)
	return r
}

// stepLegs drives the simulator until n legs have completed.
func stepLegs(t *testing.T, s *Simulator, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; s.Leg() < n; i++ {
		if i > 10000 {
			t.Fatal("simulator did not progress")
		}
		if _, err := s.Step(ctx); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
}

func TestTwoLegWireSequence(t *testing.T) {
	sender := &fakeSender{}
	gw := &fakeGateway{}
	sim, err := New(Config{VehicleID: 1}, mustRoute(t, model.Waypoint{Lat: 10, Lon: 20}, model.Waypoint{Lat: 11, Lon: 21}), sender, gw, &fakePush{})
	require.NoError(t, err)

	stepLegs(t, sim, 2)

	want := []string{
		`{"vehicle_id":1,"lat":10,"lon":20,"event_type":"significant_change","direction":"outbound"}`,
		`{"vehicle_id":1,"lat":11,"lon":21,"event_type":"significant_change","direction":"outbound"}`,
		`{"vehicle_id":1,"lat":11,"lon":21,"event_type":"end_route","direction":"outbound"}`,
		`{"vehicle_id":1,"lat":11,"lon":21,"event_type":"significant_change","direction":"inbound"}`,
		`{"vehicle_id":1,"lat":10,"lon":20,"event_type":"significant_change","direction":"inbound"}`,
		`{"vehicle_id":1,"lat":10,"lon":20,"event_type":"end_route","direction":"inbound"}`,
	}
	got := sender.sent()
	require.Len(t, got, len(want))
	for i, ev := range got {
		b, err := transport.Encode(ev)
		require.NoError(t, err)
		assert.Equal(t, want[i], string(b), "message %d", i)
	}
	assert.Equal(t, 2, gw.calls)
}

func TestLegEmitsEveryWaypointThenEndRoute(t *testing.T) {
	for n := 1; n <= 6; n++ {
		pts := make([]model.Waypoint, n)
		for i := range pts {
			pts[i] = model.Waypoint{Lat: float64(i), Lon: float64(-i)}
		}
		sender := &fakeSender{}
		sim, err := New(Config{VehicleID: 9}, mustRoute(t, pts...), sender, nil, nil)
		require.NoError(t, err)
		stepLegs(t, sim, 1)

		got := sender.sent()
		require.Len(t, got, n+1, "route of %d points", n)
		for i := 0; i < n; i++ {
			assert.Equal(t, model.SignificantChange, got[i].Type)
			assert.Equal(t, pts[i].Lat, got[i].Lat)
			assert.Equal(t, pts[i].Lon, got[i].Lon)
		}
		end := got[n]
		assert.Equal(t, model.EndRoute, end.Type)
		assert.Equal(t, pts[n-1].Lat, end.Lat)
		assert.Equal(t, pts[n-1].Lon, end.Lon)
	}
}

func TestSinglePointRoute(t *testing.T) {
	sender := &fakeSender{}
	sim, err := New(Config{VehicleID: 1}, mustRoute(t, model.Waypoint{Lat: 5, Lon: 6}), sender, nil, nil)
	require.NoError(t, err)
	stepLegs(t, sim, 2)
	got := sender.sent()
	require.Len(t, got, 4)
	for _, ev := range got {
		assert.Equal(t, 5.0, ev.Lat)
		assert.Equal(t, 6.0, ev.Lon)
	}
	assert.Equal(t, model.EndRoute, got[1].Type)
	assert.Equal(t, model.Inbound, got[3].Direction)
}

func TestDirectionAlternates(t *testing.T) {
	sender := &fakeSender{}
	sim, err := New(Config{VehicleID: 1}, mustRoute(t, model.Waypoint{Lat: 1}, model.Waypoint{Lat: 2}, model.Waypoint{Lat: 3}), sender, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, model.Outbound, sim.Direction())
	stepLegs(t, sim, 5)

	got := sender.sent()
	require.Len(t, got, 5*4)
	for i, ev := range got {
		leg := i / 4
		want := model.Outbound
		if leg%2 == 1 {
			want = model.Inbound
		}
		assert.Equal(t, want, ev.Direction, "event %d of leg %d", i, leg)
	}
}

func TestTwoLegsRestoreOrder(t *testing.T) {
	route := mustRoute(t, model.Waypoint{Lat: 1, Lon: 1}, model.Waypoint{Lat: 2, Lon: 2}, model.Waypoint{Lat: 3, Lon: 3})
	sim, err := New(Config{VehicleID: 1}, route, &fakeSender{}, nil, nil)
	require.NoError(t, err)

	stepLegs(t, sim, 1)
	assert.Equal(t, route.Reversed().Points(), sim.Route().Points())
	stepLegs(t, sim, 2)
	assert.Equal(t, route.Points(), sim.Route().Points())
	assert.Equal(t, model.Outbound, sim.Direction())
	assert.Equal(t, LegStart, sim.State())
}

func TestStepWaits(t *testing.T) {
	sim, err := New(Config{VehicleID: 1, Interval: 250 * time.Millisecond}, mustRoute(t, model.Waypoint{Lat: 1}, model.Waypoint{Lat: 2}), &fakeSender{}, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	expect := []struct {
		state State
		wait  time.Duration
	}{
		{LegStart, 0},
		{Streaming, 250 * time.Millisecond},
		{Streaming, 250 * time.Millisecond},
		{Streaming, 0},
		{LegEnd, 0},
	}
	for i, e := range expect {
		assert.Equal(t, e.state, sim.State(), "step %d", i)
		wait, err := sim.Step(ctx)
		require.NoError(t, err)
		assert.Equal(t, e.wait, wait, "step %d", i)
	}
	assert.Equal(t, LegStart, sim.State())
	assert.Equal(t, 1, sim.Leg())
}

func TestNotificationsDispatchedPerLeg(t *testing.T) {
	gw := &fakeGateway{notes: []model.Notification{{PushToken: "a"}, {PushToken: "b"}}}
	push := &fakePush{}
	sim, err := New(Config{VehicleID: 7}, mustRoute(t, model.Waypoint{Lat: 1}), &fakeSender{}, gw, push)
	require.NoError(t, err)
	stepLegs(t, sim, 2)

	require.Len(t, push.msgs, 4)
	assert.Equal(t, "a", push.msgs[0].Token)
	assert.Equal(t, "b", push.msgs[1].Token)
	assert.Equal(t, DefaultPushTitle, push.msgs[0].Title)
	assert.Equal(t, "Vehicle 7 is moving in direction outbound.", push.msgs[0].Body)
	assert.Equal(t, map[string]any{"direction": "outbound"}, push.msgs[0].Data)
	assert.Equal(t, "Vehicle 7 is moving in direction inbound.", push.msgs[2].Body)
	assert.Equal(t, map[string]any{"direction": "inbound"}, push.msgs[3].Data)
}

func TestCustomPushTemplates(t *testing.T) {
	gw := &fakeGateway{notes: []model.Notification{{PushToken: "a"}}}
	push := &fakePush{}
	cfg := Config{VehicleID: 2, PushTitle: "Bus {{.VehicleID}}", PushBody: "leg {{.Leg}} {{.Direction}}"}
	sim, err := New(cfg, mustRoute(t, model.Waypoint{Lat: 1}), &fakeSender{}, gw, push)
	require.NoError(t, err)
	stepLegs(t, sim, 1)
	require.Len(t, push.msgs, 1)
	assert.Equal(t, "Bus 2", push.msgs[0].Title)
	assert.Equal(t, "leg 0 outbound", push.msgs[0].Body)
}

func TestFetchErrorDoesNotStopStreaming(t *testing.T) {
	gw := &fakeGateway{err: &notify.FetchError{Kind: notify.FetchStatus, VehicleID: 1, StatusCode: 503}}
	push := &fakePush{}
	sender := &fakeSender{}
	sink := &countingSink{}
	sim, err := New(Config{VehicleID: 1}, mustRoute(t, model.Waypoint{Lat: 1}, model.Waypoint{Lat: 2}), sender, gw, push, WithMetrics(sink))
	require.NoError(t, err)
	stepLegs(t, sim, 1)

	assert.Len(t, sender.sent(), 3)
	assert.Empty(t, push.msgs)
	require.Len(t, sink.notifications, 1)
	assert.Equal(t, metrics.StageFetch, sink.notifications[0].Stage)
	assert.False(t, sink.notifications[0].Success)
}

func TestPushErrorDoesNotStopDispatchOrStreaming(t *testing.T) {
	gw := &fakeGateway{notes: []model.Notification{{PushToken: "bad"}, {PushToken: "good"}}}
	push := &fakePush{fail: map[string]error{"bad": &notify.DeliveryError{Token: "bad", StatusCode: 400}}}
	sender := &fakeSender{}
	sink := &countingSink{}
	sim, err := New(Config{VehicleID: 1}, mustRoute(t, model.Waypoint{Lat: 1}), sender, gw, push, WithMetrics(sink))
	require.NoError(t, err)
	stepLegs(t, sim, 1)

	assert.Len(t, push.msgs, 2)
	assert.Len(t, sender.sent(), 2)
	require.Len(t, sink.notifications, 3)
	assert.False(t, sink.notifications[1].Success)
	assert.Equal(t, 400, sink.notifications[1].StatusCode)
	assert.True(t, sink.notifications[2].Success)
}

func TestSendErrorHaltsRun(t *testing.T) {
	boom := errors.New("write: broken pipe")
	sender := &fakeSender{failAt: 3, err: boom}
	gw := &fakeGateway{notes: []model.Notification{{PushToken: "a"}}}
	push := &fakePush{}
	sim, err := New(Config{VehicleID: 1}, mustRoute(t, model.Waypoint{Lat: 1}, model.Waypoint{Lat: 2}, model.Waypoint{Lat: 3}), sender, gw, push)
	require.NoError(t, err)

	err = sim.Run(context.Background())
	var se *transport.SendError
	require.True(t, errors.As(err, &se), "expected SendError got %v", err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3.0, se.Event.Lat)
	assert.Len(t, sender.sent(), 2)
	assert.Equal(t, 1, gw.calls)
	assert.Len(t, push.msgs, 1)
	assert.Equal(t, Streaming, sim.State())
}

func TestSendErrorKeptWhenAlreadyTyped(t *testing.T) {
	typed := &transport.SendError{Err: transport.ErrNotConnected}
	sender := &fakeSender{failAt: 1, err: typed}
	sim, err := New(Config{VehicleID: 1}, mustRoute(t, model.Waypoint{Lat: 1}), sender, nil, nil)
	require.NoError(t, err)
	err = sim.Run(context.Background())
	assert.Same(t, typed, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sender := &fakeSender{}
	sender.onSend = func(n int) {
		if n == 5 {
			cancel()
		}
	}
	sim, err := New(Config{VehicleID: 1, Interval: time.Millisecond}, mustRoute(t, model.Waypoint{Lat: 1}, model.Waypoint{Lat: 2}), sender, nil, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	assert.Len(t, sender.sent(), 5)
}

func TestRunHonoursInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var stamps []time.Time
	sender := &fakeSender{}
	sender.onSend = func(n int) {
		stamps = append(stamps, time.Now())
		if n == 3 {
			cancel()
		}
	}
	interval := 20 * time.Millisecond
	sim, err := New(Config{VehicleID: 1, Interval: interval}, mustRoute(t, model.Waypoint{Lat: 1}, model.Waypoint{Lat: 2}, model.Waypoint{Lat: 3}), sender, nil, nil)
	require.NoError(t, err)
	require.NoError(t, sim.Run(ctx))
	require.Len(t, stamps, 3)
	for i := 1; i < len(stamps); i++ {
		if d := stamps[i].Sub(stamps[i-1]); d < interval {
			t.Fatalf("send %d after %s, want at least %s", i, d, interval)
		}
	}
}

func TestObserversReceiveRecords(t *testing.T) {
	sink := &countingSink{}
	store := &memJournal{}
	bus := eventbus.NewWithBuffer[Event](64)
	events := bus.Subscribe()
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	gw := &fakeGateway{}
	sim, err := New(Config{VehicleID: 4, RunID: "run-1"}, mustRoute(t, model.Waypoint{Lat: 1}, model.Waypoint{Lat: 2}), &fakeSender{}, gw, &fakePush{},
		WithMetrics(sink), WithJournal(store), WithEvents(bus), WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	stepLegs(t, sim, 1)
	bus.Close()

	assert.Equal(t, 3, sink.positions)
	require.Len(t, sink.legs, 1)
	assert.Equal(t, 2, sink.legs[0].Waypoints)
	assert.Equal(t, model.Outbound, sink.legs[0].Direction)
	assert.Equal(t, "run-1", sink.legs[0].RunID)

	var kinds []journal.Kind
	for _, r := range store.recs {
		kinds = append(kinds, r.Kind)
		assert.Equal(t, "run-1", r.RunID)
	}
	assert.Equal(t, []journal.Kind{journal.KindFetch, journal.KindPosition, journal.KindPosition, journal.KindPosition, journal.KindLeg}, kinds)

	var got []EventKind
	for ev := range events {
		got = append(got, ev.Kind)
	}
	assert.Equal(t, []EventKind{LegStarted, PositionSent, PositionSent, PositionSent, LegCompleted}, got)
}

func TestNewValidation(t *testing.T) {
	route := mustRoute(t, model.Waypoint{Lat: 1})
	_, err := New(Config{}, model.Route{}, &fakeSender{}, nil, nil)
	assert.ErrorIs(t, err, model.ErrEmptyRoute)
	_, err = New(Config{}, route, nil, nil, nil)
	assert.Error(t, err)
	_, err = New(Config{Interval: -time.Second}, route, &fakeSender{}, nil, nil)
	assert.Error(t, err)
	_, err = New(Config{}, route, &fakeSender{}, &fakeGateway{}, nil)
	assert.Error(t, err)
	_, err = New(Config{PushBody: "{{.Nope"}, route, &fakeSender{}, nil, nil)
	assert.Error(t, err)
}
