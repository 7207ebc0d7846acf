// Package notify implements the notification backend client and the Expo
// push dispatcher.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kilianp07/routesim/core/model"
	corenotify "github.com/kilianp07/routesim/core/notify"
)

const pendingPath = "/notifications/get-notification-by-vehicle/%d"

// maxBody bounds how much of a response is read.
const maxBody = 1 << 20

// Authorizer decorates outgoing requests. *auth.ClientCred satisfies it.
type Authorizer interface {
	SetAuthHeader(r *http.Request) error
}

// Refresher is implemented by authorizers that can replace a rejected
// token. *auth.ClientCred satisfies it.
type Refresher interface {
	ForceRefresh(ctx context.Context) (string, error)
}

// GatewayConfig configures HTTPGateway.
type GatewayConfig struct {
	BaseURL string
	Timeout time.Duration
}

// HTTPGateway fetches pending notifications from the backend API.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	auth    Authorizer
}

// NewHTTPGateway returns a gateway. auth may be nil.
func NewHTTPGateway(cfg GatewayConfig, auth Authorizer) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		auth:    auth,
	}
}

type pendingResponse struct {
	Success bool                 `json:"success"`
	Message string               `json:"message"`
	Data    []model.Notification `json:"data"`
}

// FetchPending implements corenotify.Gateway. A 404 is an unknown vehicle
// and yields no notifications.
func (g *HTTPGateway) FetchPending(ctx context.Context, vehicleID int64) ([]model.Notification, error) {
	url := g.baseURL + fmt.Sprintf(pendingPath, vehicleID)
	status, body, err := g.get(ctx, url, vehicleID)
	if err != nil {
		return nil, err
	}
	// A rejected token is refreshed once.
	if status == http.StatusUnauthorized {
		if r, ok := g.auth.(Refresher); ok {
			if _, err := r.ForceRefresh(ctx); err != nil {
				return nil, &corenotify.FetchError{Kind: corenotify.FetchNetwork, VehicleID: vehicleID, Err: fmt.Errorf("failed to refresh token: %w", err)}
			}
			if status, body, err = g.get(ctx, url, vehicleID); err != nil {
				return nil, err
			}
		}
	}

	if status == http.StatusNotFound {
		return []model.Notification{}, nil
	}
	if status < 200 || status >= 300 {
		return nil, &corenotify.FetchError{
			Kind:       corenotify.FetchStatus,
			VehicleID:  vehicleID,
			StatusCode: status,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	var pr pendingResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, &corenotify.FetchError{Kind: corenotify.FetchMalformed, VehicleID: vehicleID, StatusCode: status, Err: err}
	}
	if !pr.Success {
		return nil, &corenotify.FetchError{Kind: corenotify.FetchRejected, VehicleID: vehicleID, StatusCode: status, Message: pr.Message}
	}
	if pr.Data == nil {
		return []model.Notification{}, nil
	}
	return pr.Data, nil
}

func (g *HTTPGateway) get(ctx context.Context, url string, vehicleID int64) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, &corenotify.FetchError{Kind: corenotify.FetchNetwork, VehicleID: vehicleID, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if g.auth != nil {
		if err := g.auth.SetAuthHeader(req); err != nil {
			return 0, nil, &corenotify.FetchError{Kind: corenotify.FetchNetwork, VehicleID: vehicleID, Err: fmt.Errorf("failed to set auth header: %w", err)}
		}
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return 0, nil, &corenotify.FetchError{Kind: corenotify.FetchNetwork, VehicleID: vehicleID, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return 0, nil, &corenotify.FetchError{Kind: corenotify.FetchNetwork, VehicleID: vehicleID, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	return resp.StatusCode, body, nil
}
