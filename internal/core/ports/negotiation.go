package ports

import (
	"context"

	"huddle/internal/core/domain"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type TrackSender interface {
	ReplaceTrack(track webrtc.TrackLocal) error
}

type RemoteTrack interface {
	Info() domain.RemoteTrackInfo
	ReadRTP() (*rtp.Packet, error)
}

// NegotiationSession is a single peer-to-peer media session. CreateOffer and
// CreateAnswer also apply the result as the local description.
type NegotiationSession interface {
	AddTrack(track webrtc.TrackLocal) (TrackSender, error)
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	// OnICECandidate receives nil once gathering completes.
	OnICECandidate(fn func(*webrtc.ICECandidateInit))
	OnConnectionStateChange(fn func(domain.ConnectionState))
	OnTrack(fn func(RemoteTrack))
	Stats() domain.LinkStats
	Close() error
}

type SessionFactory interface {
	NewSession(peerID domain.UserID) (NegotiationSession, error)
}

// PeerRegistry owns every peer session of the local client.
type PeerRegistry interface {
	CreateOutgoing(ctx context.Context, peerID domain.UserID, displayName string) error
	CreateIncoming(ctx context.Context, peerID domain.UserID, displayName, offerSDP string) error
	ApplyRemoteAnswer(ctx context.Context, peerID domain.UserID, answerSDP string) error
	ApplyRemoteICECandidate(ctx context.Context, peerID domain.UserID, candidate domain.ICECandidate) error
	Remove(peerID domain.UserID) bool
	CloseAll()
	// ReplaceOutgoingVideo swaps the video sender of every live session and
	// returns how many were swapped. A nil track clears outgoing video.
	ReplaceOutgoingVideo(track webrtc.TrackLocal) (int, error)
	// SyncLocalMedia points every live session at the currently held local
	// tracks, renegotiating sessions that had no sender for a track, and
	// returns how many sessions changed.
	SyncLocalMedia(ctx context.Context) (int, error)
	Has(peerID domain.UserID) bool
	Sessions() []domain.PeerSnapshot
	Subscribe(fn func([]domain.PeerSnapshot)) (unsubscribe func())
}
