package domain

import "time"

type ConnectionState string

const (
	StateNew        ConnectionState = "new"
	StateConnecting ConnectionState = "connecting"
	StateConnected  ConnectionState = "connected"
	StateFailed     ConnectionState = "failed"
	StateClosed     ConnectionState = "closed"
)

// Terminal reports whether the session can no longer carry media.
func (s ConnectionState) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

// SessionRole records which side sent the offer.
type SessionRole string

const (
	RoleInitiator SessionRole = "initiator"
	RoleResponder SessionRole = "responder"
)

type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

type RemoteTrackInfo struct {
	ID       string
	StreamID string
	Kind     TrackKind
	Codec    string
}

// LinkStats aggregates RTCP receiver reports for one peer session.
type LinkStats struct {
	FractionLost float64
	Jitter       uint32
	PacketsLost  int64
	UpdatedAt    time.Time
}

// PeerSnapshot is the read-only view of a peer session handed to observers.
type PeerSnapshot struct {
	PeerID       UserID
	DisplayName  string
	Role         SessionRole
	State        ConnectionState
	RemoteTracks []RemoteTrackInfo
	Stats        LinkStats
	CreatedAt    time.Time
}

// HasRemoteMedia reports whether any remote track has arrived.
func (p PeerSnapshot) HasRemoteMedia() bool {
	return len(p.RemoteTracks) > 0
}
