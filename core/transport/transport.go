// Package transport defines the persistent connection used to stream
// position events.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kilianp07/routesim/core/model"
)

// ErrNotConnected is returned when sending on a session whose connection is
// not open.
var ErrNotConnected = errors.New("transport not connected")

// Session is an open persistent connection. Send is only ever called from a
// single goroutine.
type Session interface {
	// Send serialises the event and writes it to the connection.
	Send(ctx context.Context, ev model.PositionEvent) error
	// Done is closed once the underlying connection has ended.
	Done() <-chan struct{}
	Close() error
}

// Connector opens sessions.
type Connector interface {
	Connect(ctx context.Context) (Session, error)
}

// SendError reports a failed write. It is fatal to the run.
type SendError struct {
	Event model.PositionEvent
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s at (%f,%f): %v", e.Event.Type, e.Event.Lat, e.Event.Lon, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// InboundMessage is a frame pushed by the remote endpoint.
type InboundMessage struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	// Raw is the undecoded frame.
	Raw []byte `json:"-"`
}

// DecodeInbound parses a raw frame. Undecodable frames are returned with
// only Raw set together with the decode error.
func DecodeInbound(raw []byte) (InboundMessage, error) {
	msg := InboundMessage{Raw: raw}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return InboundMessage{Raw: raw}, fmt.Errorf("decode inbound: %w", err)
	}
	msg.Raw = raw
	return msg, nil
}

// Encode serialises a position event into its wire form.
func Encode(ev model.PositionEvent) ([]byte, error) {
	return json.Marshal(ev)
}
