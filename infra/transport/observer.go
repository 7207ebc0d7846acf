package transport

import (
	"context"

	corelogger "github.com/kilianp07/routesim/core/logger"
	coretransport "github.com/kilianp07/routesim/core/transport"
)

// Observe logs inbound messages until ctx is done or the channel closes.
func Observe(ctx context.Context, msgs <-chan coretransport.InboundMessage, log corelogger.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			LogInbound(log, msg)
		}
	}
}

// LogInbound writes one inbound message: successes at info, failures at
// warn.
func LogInbound(log corelogger.Logger, msg coretransport.InboundMessage) {
	if !msg.Success {
		log.Warnf("server error: %s", msg.Message)
		return
	}
	if len(msg.Data) > 0 && string(msg.Data) != "null" {
		log.Infof("server response: %s data=%s", msg.Message, msg.Data)
		return
	}
	log.Infof("server response: %s", msg.Message)
}
