package transport

import (
	"errors"
	"testing"

	"github.com/kilianp07/routesim/core/model"
)

func TestEncodeWireSchema(t *testing.T) {
	ev := model.NewPositionEvent(1, model.Waypoint{Lat: 10, Lon: 20}, model.SignificantChange, model.Outbound)
	b, err := Encode(ev)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `{"vehicle_id":1,"lat":10,"lon":20,"event_type":"significant_change","direction":"outbound"}`
	if string(b) != want {
		t.Fatalf("got %s want %s", b, want)
	}
}

func TestDecodeInbound(t *testing.T) {
	msg, err := DecodeInbound([]byte(`{"success":true,"message":"ok","data":{"vehicle_id":1}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !msg.Success || msg.Message != "ok" || string(msg.Data) != `{"vehicle_id":1}` {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestDecodeInboundInvalid(t *testing.T) {
	msg, err := DecodeInbound([]byte("nope"))
	if err == nil {
		t.Fatal("expected error")
	}
	if string(msg.Raw) != "nope" {
		t.Fatalf("raw not preserved: %q", msg.Raw)
	}
}

func TestSendErrorUnwrap(t *testing.T) {
	err := error(&SendError{Err: ErrNotConnected})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatal("expected ErrNotConnected in chain")
	}
	var se *SendError
	if !errors.As(err, &se) {
		t.Fatal("expected SendError")
	}
}
