package model

import "fmt"

// Direction tells whether a leg runs the route in original or reversed order.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

// String returns the wire representation of the direction.
func (d Direction) String() string {
	switch d {
	case Outbound:
		return "outbound"
	case Inbound:
		return "inbound"
	default:
		return "unknown"
	}
}

// Flip returns the opposite direction.
func (d Direction) Flip() Direction {
	if d == Outbound {
		return Inbound
	}
	return Outbound
}

func (d Direction) MarshalText() ([]byte, error) {
	if d != Outbound && d != Inbound {
		return nil, fmt.Errorf("invalid direction %d", int(d))
	}
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "outbound":
		*d = Outbound
	case "inbound":
		*d = Inbound
	default:
		return fmt.Errorf("unknown direction %q", b)
	}
	return nil
}

// EventType classifies a position event.
type EventType int

const (
	SignificantChange EventType = iota
	EndRoute
)

// String returns the wire representation of the event type.
func (t EventType) String() string {
	switch t {
	case SignificantChange:
		return "significant_change"
	case EndRoute:
		return "end_route"
	default:
		return "unknown"
	}
}

func (t EventType) MarshalText() ([]byte, error) {
	if t != SignificantChange && t != EndRoute {
		return nil, fmt.Errorf("invalid event type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *EventType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "significant_change":
		*t = SignificantChange
	case "end_route":
		*t = EndRoute
	default:
		return fmt.Errorf("unknown event type %q", b)
	}
	return nil
}

// PositionEvent is one position update emitted to the transport.
type PositionEvent struct {
	VehicleID int64     `json:"vehicle_id"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Type      EventType `json:"event_type"`
	Direction Direction `json:"direction"`
}

// NewPositionEvent builds an event for the given waypoint.
func NewPositionEvent(vehicleID int64, wp Waypoint, t EventType, d Direction) PositionEvent {
	return PositionEvent{VehicleID: vehicleID, Lat: wp.Lat, Lon: wp.Lon, Type: t, Direction: d}
}
