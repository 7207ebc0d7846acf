// Package app wires configuration, transport, notifications, metrics and the
// journal around the route simulator.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/routesim/auth"
	"github.com/kilianp07/routesim/config"
	"github.com/kilianp07/routesim/core/journal"
	coremetrics "github.com/kilianp07/routesim/core/metrics"
	"github.com/kilianp07/routesim/core/model"
	coremon "github.com/kilianp07/routesim/core/monitoring"
	corenotify "github.com/kilianp07/routesim/core/notify"
	"github.com/kilianp07/routesim/core/simulator"
	coretransport "github.com/kilianp07/routesim/core/transport"
	"github.com/kilianp07/routesim/infra/logger"
	"github.com/kilianp07/routesim/infra/metrics"
	"github.com/kilianp07/routesim/infra/notify"
	"github.com/kilianp07/routesim/infra/transport"
	"github.com/kilianp07/routesim/infra/waypoints"
	"github.com/kilianp07/routesim/internal/eventbus"
)

// Service runs the simulator against the configured collaborators and
// reconnects after transport failures when asked to.
type Service struct {
	cfg   *config.Config
	route model.Route

	connector coretransport.Connector
	gateway   corenotify.Gateway
	push      corenotify.Dispatcher
	sink      coremetrics.Sink
	journal   journal.Store
	registry  prometheus.Registerer
	gatherer  prometheus.Gatherer

	inbound *eventbus.Bus[coretransport.InboundMessage]
	events  *eventbus.Bus[simulator.Event]
	status  *StatusTracker

	newBackoff func() backoff.BackOff
	newRunID   func() string
	closers    []func()
	log        logger.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithConnector replaces the transport chosen from the URL scheme.
func WithConnector(c coretransport.Connector) Option {
	return func(s *Service) { s.connector = c }
}

// WithNotifications replaces the HTTP notification collaborators.
func WithNotifications(gw corenotify.Gateway, push corenotify.Dispatcher) Option {
	return func(s *Service) {
		s.gateway = gw
		s.push = push
	}
}

// WithRegistry registers Prometheus metrics on reg instead of the default
// registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Service) {
		s.registry = reg
		s.gatherer = reg
	}
}

// WithBackoff sets the reconnect policy.
func WithBackoff(f func() backoff.BackOff) Option {
	return func(s *Service) { s.newBackoff = f }
}

// New loads the route and builds every collaborator. The route is loaded
// first: a *waypoints.LoadError is returned before any connection is made.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	route, err := waypoints.Load(cfg.Simulation.WaypointSource)
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:      cfg,
		route:    route,
		registry: prometheus.DefaultRegisterer,
		gatherer: prometheus.DefaultGatherer,
		inbound:  eventbus.New[coretransport.InboundMessage](),
		events:   eventbus.NewWithBuffer[simulator.Event](64),
		status:   NewStatusTracker(cfg.Simulation.VehicleID),
		newRunID: uuid.NewString,
		log:      logger.New("service"),
	}
	s.newBackoff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = cfg.Transport.ReconnectMaxElapsed
		return b
	}
	for _, o := range opts {
		o(s)
	}

	if s.connector == nil {
		c, err := transport.NewConnector(transport.Config{
			URL:            cfg.Transport.URL,
			VehicleID:      cfg.Simulation.VehicleID,
			ClientID:       cfg.Transport.ClientID,
			Username:       cfg.Transport.Username,
			Password:       cfg.Transport.Password,
			TopicPrefix:    cfg.Transport.TopicPrefix,
			QoS:            cfg.Transport.QoS,
			ConnectTimeout: cfg.Transport.ConnectTimeout,
			ClientCert:     cfg.Transport.ClientCert,
			ClientKey:      cfg.Transport.ClientKey,
			CABundle:       cfg.Transport.CABundle,
		}, s.inbound, logger.New("transport"))
		if err != nil {
			return nil, fmt.Errorf("transport: %w", err)
		}
		s.connector = c
	}

	if s.gateway == nil && s.push == nil && cfg.Notifications.Enabled {
		var authz notify.Authorizer
		if cfg.Notifications.Auth.Enabled() {
			authz = auth.NewClientCred(cfg.Notifications.Auth)
		}
		s.gateway = notify.NewHTTPGateway(notify.GatewayConfig{
			BaseURL: cfg.Notifications.BaseURL,
			Timeout: cfg.Notifications.Timeout,
		}, authz)
		s.push = notify.NewExpoDispatcher(notify.PushConfig{
			Endpoint:      cfg.Push.Endpoint,
			Timeout:       cfg.Push.Timeout,
			RatePerSecond: cfg.Push.RatePerSecond,
			Burst:         cfg.Push.Burst,
		})
	}

	var sinks []coremetrics.Sink
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSinkWithRegistry(s.registry)
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if in := cfg.Metrics.Influx; in.URL != "" {
		sink := metrics.NewInfluxSinkWithFallback(in.URL, in.Token, in.Org, in.Bucket)
		if is, ok := sink.(*metrics.InfluxSink); ok {
			s.closers = append(s.closers, is.Close)
		}
		sinks = append(sinks, sink)
	}
	s.sink = coremetrics.Combine(sinks...)

	store, err := journal.Open(cfg.Journal)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("journal: %w", err)
	}
	s.journal = store
	return s, nil
}

// Route returns the loaded route.
func (s *Service) Route() model.Route { return s.route }

// Status returns the latest run status.
func (s *Service) Status() Status { return s.status.Snapshot() }

// Run streams until ctx is cancelled, returning nil, or until a run fails
// and no reconnect is configured or the reconnect budget is exhausted.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inbound, events := s.inbound.Subscribe(), s.events.Subscribe()
	defer s.inbound.Unsubscribe(inbound)
	defer s.events.Unsubscribe(events)
	go func() {
		defer coremon.Recover("inbound")
		transport.Observe(ctx, inbound, logger.New("inbound"))
	}()
	go func() {
		defer coremon.Recover("status")
		s.status.Track(ctx, events)
	}()
	if s.cfg.Metrics.PrometheusEnabled {
		handler := metrics.NewOpsHandler(s.gatherer, func() any { return s.status.Snapshot() })
		go func() {
			defer coremon.Recover("ops")
			if err := metrics.StartOpsServer(ctx, s.cfg.Metrics.Address, handler, logger.New("ops")); err != nil {
				s.log.Errorf("ops server: %v", err)
			}
		}()
	}

	b := s.newBackoff()
	b.Reset()
	for {
		connected, err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		coremon.CaptureException(err, map[string]string{"component": "service", "transport": s.cfg.Transport.URL})
		if !s.cfg.Transport.Reconnect {
			return err
		}
		if connected {
			b.Reset()
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("giving up reconnecting: %w", err)
		}
		s.log.Warnf("run failed: %v; reconnecting in %s", err, wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// runOnce opens a session and simulates on it until the session ends, a
// send fails or ctx is cancelled. connected reports whether a session was
// opened.
func (s *Service) runOnce(ctx context.Context) (connected bool, err error) {
	runID := s.newRunID()
	sess, err := s.connector.Connect(ctx)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			s.log.Warnf("close session: %v", cerr)
		}
	}()

	sim, err := simulator.New(simulator.Config{
		VehicleID: s.cfg.Simulation.VehicleID,
		Interval:  s.cfg.Simulation.Interval,
		RunID:     runID,
		PushTitle: s.cfg.Simulation.PushTitle,
		PushBody:  s.cfg.Simulation.PushBody,
	}, s.route, sess, s.gateway, s.push,
		simulator.WithMetrics(s.sink),
		simulator.WithJournal(s.journal),
		simulator.WithEvents(s.events),
		simulator.WithLogger(logger.NewZerologLogger("simulator").With("run_id", runID)),
	)
	if err != nil {
		return true, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-sess.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()
	if err := sim.Run(runCtx); err != nil {
		return true, fmt.Errorf("run %s: %w", runID, err)
	}
	if ctx.Err() == nil {
		return true, fmt.Errorf("run %s: connection closed: %w", runID, coretransport.ErrNotConnected)
	}
	return true, nil
}

// Close releases the journal, metric clients and buses.
func (s *Service) Close() error {
	var err error
	if s.journal != nil {
		err = s.journal.Close()
	}
	s.close()
	return err
}

func (s *Service) close() {
	for _, c := range s.closers {
		c()
	}
	s.closers = nil
	s.inbound.Close()
	s.events.Close()
}

// IsLoadError reports whether err comes from loading the route.
func IsLoadError(err error) bool {
	var le *waypoints.LoadError
	return errors.As(err, &le)
}
