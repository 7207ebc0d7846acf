package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	corelogger "github.com/kilianp07/routesim/core/logger"
	"github.com/kilianp07/routesim/core/model"
	coretransport "github.com/kilianp07/routesim/core/transport"
	"github.com/kilianp07/routesim/internal/eventbus"
)

const defaultTopicPrefix = "vehicle"

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// PositionTopic is the topic position events are published to.
func PositionTopic(prefix string, vehicleID int64) string {
	if prefix == "" {
		prefix = defaultTopicPrefix
	}
	return fmt.Sprintf("%s/%d/position", prefix, vehicleID)
}

// ResponseTopic is the topic inbound messages are read from.
func ResponseTopic(prefix string, vehicleID int64) string {
	if prefix == "" {
		prefix = defaultTopicPrefix
	}
	return fmt.Sprintf("%s/%d/response", prefix, vehicleID)
}

// MQTTConnector opens paho sessions for tcp://, ssl:// and mqtt:// URLs.
type MQTTConnector struct {
	cfg     Config
	inbound eventbus.Publisher[coretransport.InboundMessage]
	log     corelogger.Logger
}

// NewMQTTConnector validates the TLS settings and returns a connector.
func NewMQTTConnector(cfg Config, inbound eventbus.Publisher[coretransport.InboundMessage], log corelogger.Logger) (*MQTTConnector, error) {
	if _, err := cfg.LoadTLSConfig(); err != nil {
		return nil, err
	}
	if inbound == nil {
		inbound = eventbus.Discard[coretransport.InboundMessage]{}
	}
	if log == nil {
		log = corelogger.NopLogger{}
	}
	return &MQTTConnector{cfg: cfg, inbound: inbound, log: log}, nil
}

// NewClientOptions builds paho client options from Config. Every call
// yields a distinct client id so that reconnecting runs never kick each
// other off the broker.
func NewClientOptions(cfg Config) (*paho.ClientOptions, error) {
	base := cfg.ClientID
	if base == "" {
		base = "routesim"
	}
	opts := paho.NewClientOptions().
		AddBroker(mqttBrokerURL(cfg.URL)).
		SetClientID(fmt.Sprintf("%s-%s", base, uuid.NewString()[:8])).
		SetConnectTimeout(cfg.connectTimeout()).
		SetAutoReconnect(false).
		SetCleanSession(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	tlsCfg, err := cfg.LoadTLSConfig()
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		opts.SetTLSConfig(tlsCfg)
	}
	return opts, nil
}

// paho does not understand the mqtt:// scheme.
func mqttBrokerURL(raw string) string {
	if rest, ok := strings.CutPrefix(raw, "mqtt://"); ok {
		return "tcp://" + rest
	}
	return raw
}

// Connect connects to the broker and subscribes to the response topic.
func (c *MQTTConnector) Connect(ctx context.Context) (coretransport.Session, error) {
	opts, err := NewClientOptions(c.cfg)
	if err != nil {
		return nil, err
	}
	s := &mqttSession{
		topic:   PositionTopic(c.cfg.TopicPrefix, c.cfg.VehicleID),
		qos:     c.cfg.QoS,
		inbound: c.inbound,
		log:     c.log,
		done:    make(chan struct{}),
	}
	respTopic := ResponseTopic(c.cfg.TopicPrefix, c.cfg.VehicleID)
	opts.OnConnect = func(cl paho.Client) {
		c.log.Infof("MQTT connected")
		if token := cl.Subscribe(respTopic, c.cfg.QoS, s.onMessage); token.Wait() && token.Error() != nil {
			c.log.Errorf("subscribe %s: %v", respTopic, token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		c.log.Errorf("connection lost: %v", err)
		s.markClosed()
	}
	cli := newMQTTClient(opts)
	if err := waitToken(ctx, cli.Connect()); err != nil {
		return nil, fmt.Errorf("connect %s: %w", c.cfg.URL, err)
	}
	s.cli = cli
	return s, nil
}

func waitToken(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

type mqttSession struct {
	cli     pahoClient
	topic   string
	qos     byte
	inbound eventbus.Publisher[coretransport.InboundMessage]
	log     corelogger.Logger

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func (s *mqttSession) Send(ctx context.Context, ev model.PositionEvent) error {
	if s.closed.Load() || !s.cli.IsConnected() {
		return &coretransport.SendError{Event: ev, Err: coretransport.ErrNotConnected}
	}
	payload, err := coretransport.Encode(ev)
	if err != nil {
		return &coretransport.SendError{Event: ev, Err: err}
	}
	if err := waitToken(ctx, s.cli.Publish(s.topic, s.qos, false, payload)); err != nil {
		return &coretransport.SendError{Event: ev, Err: err}
	}
	return nil
}

func (s *mqttSession) Done() <-chan struct{} { return s.done }

func (s *mqttSession) Close() error {
	if s.cli != nil && s.cli.IsConnected() {
		s.cli.Disconnect(250)
	}
	s.markClosed()
	return nil
}

func (s *mqttSession) markClosed() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
}

func (s *mqttSession) onMessage(_ paho.Client, msg paho.Message) {
	in, err := coretransport.DecodeInbound(msg.Payload())
	if err != nil {
		s.log.Warnf("%s: %v", msg.Topic(), err)
		return
	}
	s.inbound.Publish(in)
}
