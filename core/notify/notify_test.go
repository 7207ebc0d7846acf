package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestFetchErrorMessages(t *testing.T) {
	cases := []struct {
		err  *FetchError
		want string
	}{
		{&FetchError{Kind: FetchStatus, VehicleID: 1, StatusCode: 500}, "http status 500"},
		{&FetchError{Kind: FetchRejected, VehicleID: 1, Message: "nope"}, "rejected: nope"},
		{&FetchError{Kind: FetchNetwork, VehicleID: 1, Err: context.DeadlineExceeded}, "network"},
		{&FetchError{Kind: FetchMalformed, VehicleID: 1, Err: errors.New("bad json")}, "malformed: bad json"},
	}
	for _, c := range cases {
		if !strings.Contains(c.err.Error(), c.want) {
			t.Errorf("%q does not contain %q", c.err.Error(), c.want)
		}
	}
}

func TestFetchErrorUnwrap(t *testing.T) {
	err := error(&FetchError{Kind: FetchNetwork, Err: context.DeadlineExceeded})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("expected deadline in chain")
	}
}

func TestDeliveryErrorMessages(t *testing.T) {
	withStatus := &DeliveryError{Token: "tok", StatusCode: 400}
	if !strings.Contains(withStatus.Error(), "400") {
		t.Fatalf("unexpected %q", withStatus.Error())
	}
	withErr := &DeliveryError{Token: "tok", Err: ErrEmptyToken}
	if !errors.Is(withErr, ErrEmptyToken) {
		t.Fatal("expected ErrEmptyToken in chain")
	}
}
