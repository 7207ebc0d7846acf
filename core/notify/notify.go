// Package notify defines the notification fetch and push delivery
// collaborators used at the start of every leg.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilianp07/routesim/core/model"
)

// ErrEmptyToken is returned when dispatching to an empty push token.
var ErrEmptyToken = errors.New("push token is empty")

// Gateway fetches pending notifications for a vehicle. An unknown vehicle
// yields an empty slice, not an error.
type Gateway interface {
	FetchPending(ctx context.Context, vehicleID int64) ([]model.Notification, error)
}

// Dispatcher delivers a single push message. Each call is at most one
// attempt.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg model.PushMessage) (DeliveryResult, error)
}

// DeliveryResult is the provider response for one dispatch.
type DeliveryResult struct {
	StatusCode int
	Body       []byte
	// BodyErr is set when the response body could not be read completely.
	// Body then holds what was read.
	BodyErr error
}

// FetchKind identifies why a fetch failed.
type FetchKind int

const (
	// FetchNetwork covers connection errors and timeouts.
	FetchNetwork FetchKind = iota
	// FetchStatus is a non-2xx response.
	FetchStatus
	// FetchMalformed is a body that could not be decoded.
	FetchMalformed
	// FetchRejected is a well-formed body with success=false.
	FetchRejected
)

func (k FetchKind) String() string {
	switch k {
	case FetchNetwork:
		return "network"
	case FetchStatus:
		return "status"
	case FetchMalformed:
		return "malformed"
	case FetchRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// FetchError reports a failed notification fetch.
type FetchError struct {
	Kind       FetchKind
	VehicleID  int64
	StatusCode int
	Message    string
	Err        error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case FetchStatus:
		return fmt.Sprintf("fetch notifications for vehicle %d: http status %d", e.VehicleID, e.StatusCode)
	case FetchRejected:
		return fmt.Sprintf("fetch notifications for vehicle %d: rejected: %s", e.VehicleID, e.Message)
	default:
		return fmt.Sprintf("fetch notifications for vehicle %d: %s: %v", e.VehicleID, e.Kind, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// DeliveryError reports a failed push dispatch.
type DeliveryError struct {
	Token      string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("push to %s: http status %d", e.Token, e.StatusCode)
	}
	return fmt.Sprintf("push to %s: %v", e.Token, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
