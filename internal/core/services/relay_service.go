package services

import (
	"context"
	"errors"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"go.uber.org/zap"
)

// RelayService maps negotiation steps to webrtc-signal messages and back. It
// holds no session state and never retries.
type RelayService struct {
	channel ports.SignalChannel
	roomID  domain.RoomID
	metrics ports.Metrics
	logger  *zap.SugaredLogger
}

func NewRelayService(channel ports.SignalChannel, roomID domain.RoomID, metrics ports.Metrics, logger *zap.SugaredLogger) *RelayService {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &RelayService{
		channel: channel,
		roomID:  roomID,
		metrics: metrics,
		logger:  logger,
	}
}

func (r *RelayService) SendOffer(ctx context.Context, to domain.UserID, sdp string) error {
	return r.send(ctx, to, domain.SignalPayload{Type: domain.SignalOffer, SDP: sdp})
}

func (r *RelayService) SendAnswer(ctx context.Context, to domain.UserID, sdp string) error {
	return r.send(ctx, to, domain.SignalPayload{Type: domain.SignalAnswer, SDP: sdp})
}

func (r *RelayService) SendCandidate(ctx context.Context, to domain.UserID, candidate domain.ICECandidate) error {
	return r.send(ctx, to, domain.SignalPayload{Type: domain.SignalICECandidate, Candidate: &candidate})
}

func (r *RelayService) send(ctx context.Context, to domain.UserID, payload domain.SignalPayload) error {
	return r.channel.Emit(ctx, domain.SendSignal{
		TargetUserID: to,
		RoomID:       r.roomID,
		Signal:       payload,
	})
}

// Dispatch routes an inbound signal to the matching registry operation.
// Failures are logged; they show up as session state, not as errors here.
func (r *RelayService) Dispatch(ctx context.Context, msg domain.SignalReceived, registry ports.PeerRegistry) {
	r.metrics.SignalReceived(msg.Signal.Type)

	var err error
	switch msg.Signal.Type {
	case domain.SignalOffer:
		err = registry.CreateIncoming(ctx, msg.FromUserID, msg.FromUserName, msg.Signal.SDP)
	case domain.SignalAnswer:
		err = registry.ApplyRemoteAnswer(ctx, msg.FromUserID, msg.Signal.SDP)
	case domain.SignalICECandidate:
		if msg.Signal.Candidate == nil {
			err = domain.ErrInvalidEvent
			break
		}
		err = registry.ApplyRemoteICECandidate(ctx, msg.FromUserID, *msg.Signal.Candidate)
	default:
		err = domain.ErrUnknownSignalType
	}
	if err == nil {
		return
	}

	if errors.Is(err, domain.ErrPeerNotFound) {
		r.metrics.EventDropped("no_session")
		r.logger.Warnw("Dropping signal for unknown session",
			"peer_id", msg.FromUserID,
			"signal_type", msg.Signal.Type,
		)
		return
	}
	r.metrics.EventDropped("negotiation_error")
	r.logger.Errorw("Failed to apply signal",
		"peer_id", msg.FromUserID,
		"signal_type", msg.Signal.Type,
		"error", err,
	)
}
