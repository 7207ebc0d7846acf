package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/kilianp07/routesim/core/model"
	corenotify "github.com/kilianp07/routesim/core/notify"
)

// DefaultPushEndpoint is the Expo push API.
const DefaultPushEndpoint = "https://exp.host/--/api/v2/push/send"

// PushConfig configures ExpoDispatcher. A zero RatePerSecond disables rate
// limiting.
type PushConfig struct {
	Endpoint      string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// ExpoDispatcher posts push messages to an Expo compatible endpoint.
type ExpoDispatcher struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

func NewExpoDispatcher(cfg PushConfig) *ExpoDispatcher {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultPushEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &ExpoDispatcher{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		limiter:  limiter,
	}
}

type expoPayload struct {
	To    string         `json:"to"`
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Sound string         `json:"sound"`
	Data  map[string]any `json:"data"`
}

// Dispatch implements corenotify.Dispatcher. Only HTTP 200 counts as
// delivered.
func (d *ExpoDispatcher) Dispatch(ctx context.Context, msg model.PushMessage) (corenotify.DeliveryResult, error) {
	if msg.Token == "" {
		return corenotify.DeliveryResult{}, &corenotify.DeliveryError{Err: corenotify.ErrEmptyToken}
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return corenotify.DeliveryResult{}, &corenotify.DeliveryError{Token: msg.Token, Err: err}
	}
	data := msg.Data
	if data == nil {
		data = map[string]any{}
	}
	payload, err := json.Marshal(expoPayload{To: msg.Token, Title: msg.Title, Body: msg.Body, Sound: "default", Data: data})
	if err != nil {
		return corenotify.DeliveryResult{}, &corenotify.DeliveryError{Token: msg.Token, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		return corenotify.DeliveryResult{}, &corenotify.DeliveryError{Token: msg.Token, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return corenotify.DeliveryResult{}, &corenotify.DeliveryError{Token: msg.Token, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	res := corenotify.DeliveryResult{StatusCode: resp.StatusCode, Body: body}
	if err != nil {
		res.BodyErr = fmt.Errorf("read push response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return res, &corenotify.DeliveryError{
			Token:      msg.Token,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, body),
		}
	}
	return res, nil
}
