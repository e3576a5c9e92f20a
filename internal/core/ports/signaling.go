package ports

import (
	"context"

	"huddle/internal/core/domain"
)

// SignalSender carries negotiation messages to one peer.
type SignalSender interface {
	SendOffer(ctx context.Context, to domain.UserID, sdp string) error
	SendAnswer(ctx context.Context, to domain.UserID, sdp string) error
	SendCandidate(ctx context.Context, to domain.UserID, candidate domain.ICECandidate) error
}

type SignalChannel interface {
	Emit(ctx context.Context, event domain.OutboundEvent) error
	Connected() bool
}

// ChannelHandler receives channel lifecycle and inbound events. Calls are
// made from a single goroutine in arrival order.
type ChannelHandler interface {
	OnChannelUp(ctx context.Context)
	OnChannelDown(err error)
	OnEvent(ctx context.Context, event domain.InboundEvent)
}
