package monitoring

import (
	"context"
	"errors"
	"time"

	"huddle/internal/core/ports"
)

var errChannelDown = errors.New("signaling channel disconnected")

// AddStoreCheck checks the chat history store, e.g. a Redis ping.
func (h *HealthChecker) AddStoreCheck(ping func(ctx context.Context) error, timeout time.Duration) {
	h.AddCheck("history_store", ping, timeout)
}

// AddChannelCheck reports unhealthy while the signaling channel is down.
func (h *HealthChecker) AddChannelCheck(meeting ports.Introspector) {
	h.AddCheck("signal_channel", func(ctx context.Context) error {
		if !meeting.ChannelConnected() {
			return errChannelDown
		}
		return nil
	}, time.Second)
}
