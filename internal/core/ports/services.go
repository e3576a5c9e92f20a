package ports

import (
	"context"
	"time"

	"huddle/internal/core/domain"
)

type Metrics interface {
	SessionStateChanged(from, to domain.ConnectionState)
	SetActiveSessions(n int)
	SetRosterSize(n int)
	ObserveAcquisition(profile string, err error)
	ObserveNegotiation(op string, d time.Duration, err error)
	SignalReceived(t domain.SignalType)
	EventDropped(reason string)
	ScreenShareChanged(active bool)
	ChannelReconnected()
}

// Introspector is the read side exposed to diagnostics.
type Introspector interface {
	Roster() domain.RosterSnapshot
	Sessions() []domain.PeerSnapshot
	Media() domain.LocalMediaState
	ChannelConnected() bool
	LastRoomError() string
	Messages(ctx context.Context) ([]domain.ChatMessage, error)
	Resync(ctx context.Context) error
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) SessionStateChanged(_, _ domain.ConnectionState) {}
func (NopMetrics) SetActiveSessions(int)                           {}
func (NopMetrics) SetRosterSize(int)                               {}
func (NopMetrics) ObserveAcquisition(string, error)                {}
func (NopMetrics) ObserveNegotiation(string, time.Duration, error) {}
func (NopMetrics) SignalReceived(domain.SignalType)                {}
func (NopMetrics) EventDropped(string)                             {}
func (NopMetrics) ScreenShareChanged(bool)                         {}
func (NopMetrics) ChannelReconnected()                             {}
