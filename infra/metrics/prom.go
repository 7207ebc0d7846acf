// Package metrics implements core/metrics sinks for Prometheus and InfluxDB
// and serves the ops endpoints.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/routesim/core/metrics"
)

// PromSink records simulator activity in Prometheus metrics.
type PromSink struct {
	positions     *prometheus.CounterVec
	legs          *prometheus.CounterVec
	notifications *prometheus.CounterVec
	legDuration   prometheus.Histogram
}

// NewPromSink registers the metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Metrics
// already registered by a previous sink are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	positions, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "routesim_position_events_total",
		Help: "Position events sent on the transport",
	}, []string{"event_type", "direction"}))
	if err != nil {
		return nil, err
	}
	legs, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "routesim_legs_total",
		Help: "Completed legs",
	}, []string{"direction"}))
	if err != nil {
		return nil, err
	}
	notifications, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "routesim_notifications_total",
		Help: "Notification fetch and push outcomes",
	}, []string{"stage", "outcome"}))
	if err != nil {
		return nil, err
	}
	legDuration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "routesim_leg_duration_seconds",
		Help:    "Wall time spent on one leg",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}))
	if err != nil {
		return nil, err
	}
	return &PromSink{positions: positions, legs: legs, notifications: notifications, legDuration: legDuration}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

func (s *PromSink) RecordPosition(rec coremetrics.PositionRecord) error {
	s.positions.WithLabelValues(rec.Event.Type.String(), rec.Event.Direction.String()).Inc()
	return nil
}

func (s *PromSink) RecordLeg(rec coremetrics.LegRecord) error {
	s.legs.WithLabelValues(rec.Direction.String()).Inc()
	s.legDuration.Observe(rec.Duration.Seconds())
	return nil
}

func (s *PromSink) RecordNotification(rec coremetrics.NotificationRecord) error {
	outcome := "success"
	if !rec.Success {
		outcome = "failure"
	}
	s.notifications.WithLabelValues(rec.Stage, outcome).Inc()
	return nil
}
