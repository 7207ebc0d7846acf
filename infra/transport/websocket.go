package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	corelogger "github.com/kilianp07/routesim/core/logger"
	"github.com/kilianp07/routesim/core/model"
	coretransport "github.com/kilianp07/routesim/core/transport"
	"github.com/kilianp07/routesim/internal/eventbus"
)

const closeGrace = time.Second

// WSConnector dials WebSocket sessions.
type WSConnector struct {
	cfg     Config
	inbound eventbus.Publisher[coretransport.InboundMessage]
	log     corelogger.Logger
	dialer  *websocket.Dialer
}

// NewWSConnector returns a connector for ws:// and wss:// URLs. Decoded
// inbound frames are published on inbound.
func NewWSConnector(cfg Config, inbound eventbus.Publisher[coretransport.InboundMessage], log corelogger.Logger) (*WSConnector, error) {
	tlsCfg, err := cfg.LoadTLSConfig()
	if err != nil {
		return nil, err
	}
	if inbound == nil {
		inbound = eventbus.Discard[coretransport.InboundMessage]{}
	}
	if log == nil {
		log = corelogger.NopLogger{}
	}
	return &WSConnector{
		cfg:     cfg,
		inbound: inbound,
		log:     log,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.connectTimeout(),
			TLSClientConfig:  tlsCfg,
		},
	}, nil
}

// Connect dials the configured URL and starts the read loop.
func (c *WSConnector) Connect(ctx context.Context) (coretransport.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.connectTimeout())
	defer cancel()
	var header http.Header
	if c.cfg.Username != "" {
		header = http.Header{}
		req := &http.Request{Header: header}
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	c.log.Infof("websocket connected to %s", c.cfg.URL)
	s := &wsSession{
		conn:    conn,
		inbound: c.inbound,
		log:     c.log,
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

type wsSession struct {
	conn    *websocket.Conn
	inbound eventbus.Publisher[coretransport.InboundMessage]
	log     corelogger.Logger

	writeMu   sync.Mutex
	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func (s *wsSession) Send(ctx context.Context, ev model.PositionEvent) error {
	if s.closed.Load() {
		return &coretransport.SendError{Event: ev, Err: coretransport.ErrNotConnected}
	}
	if err := ctx.Err(); err != nil {
		return &coretransport.SendError{Event: ev, Err: err}
	}
	payload, err := coretransport.Encode(ev)
	if err != nil {
		return &coretransport.SendError{Event: ev, Err: err}
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	deadline, _ := ctx.Deadline()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return &coretransport.SendError{Event: ev, Err: err}
	}
	// A write blocked on a peer that stopped reading is released by
	// expiring the deadline of the underlying connection.
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.NetConn().SetWriteDeadline(time.Now())
	})
	defer stop()
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		s.markClosed()
		if cerr := ctx.Err(); cerr != nil {
			err = fmt.Errorf("%w: %v", cerr, err)
		}
		return &coretransport.SendError{Event: ev, Err: err}
	}
	return nil
}

func (s *wsSession) Done() <-chan struct{} { return s.done }

// Close never waits for a pending Send: WriteControl is bounded by
// closeGrace and closing the connection fails any blocked write.
func (s *wsSession) Close() error {
	if s.closed.Load() {
		return s.conn.Close()
	}
	s.markClosed()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	return s.conn.Close()
}

func (s *wsSession) markClosed() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
}

func (s *wsSession) readLoop() {
	defer s.markClosed()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warnf("websocket read: %v", err)
			} else {
				s.log.Infof("websocket closed")
			}
			return
		}
		msg, err := coretransport.DecodeInbound(data)
		if err != nil {
			s.log.Warnf("%v", err)
			continue
		}
		s.inbound.Publish(msg)
	}
}
