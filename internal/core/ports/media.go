package ports

import (
	"context"

	"huddle/internal/core/domain"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// LocalTrack is one captured audio or video source. Disabling a track keeps
// the device open but stops forwarding media to every peer.
type LocalTrack interface {
	ID() string
	Kind() domain.TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	// OnEnded registers fn to run once when the source stops on its own,
	// e.g. when the OS ends a display capture.
	OnEnded(fn func())
	Stop()
	TrackLocal() webrtc.TrackLocal
}

type MediaDevices interface {
	Enumerate() []domain.DeviceInfo
	GetUserMedia(ctx context.Context, profile domain.CaptureProfile) ([]LocalTrack, error)
	GetDisplayMedia(ctx context.Context) (LocalTrack, error)
}

// LocalMedia is the read-only view of the held capture.
type LocalMedia interface {
	Tracks() []LocalTrack
}

// RemoteMediaSink receives RTP drained from remote tracks.
type RemoteMediaSink interface {
	WriteRTP(peerID domain.UserID, track domain.RemoteTrackInfo, pkt *rtp.Packet) error
}
