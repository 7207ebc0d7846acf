package transport

import (
	"fmt"
	"net/url"
	"strings"

	corelogger "github.com/kilianp07/routesim/core/logger"
	coretransport "github.com/kilianp07/routesim/core/transport"
	"github.com/kilianp07/routesim/internal/eventbus"
)

// NewConnector picks the implementation matching the URL scheme.
func NewConnector(cfg Config, inbound eventbus.Publisher[coretransport.InboundMessage], log corelogger.Logger) (coretransport.Connector, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("transport url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
		return NewWSConnector(cfg, inbound, log)
	case "tcp", "ssl", "tls", "mqtt":
		return NewMQTTConnector(cfg, inbound, log)
	default:
		return nil, fmt.Errorf("unsupported transport scheme %q", u.Scheme)
	}
}
