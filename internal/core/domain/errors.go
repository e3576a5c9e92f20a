package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPeerNotFound          = errors.New("peer not found")
	ErrLocalMediaUnavailable = errors.New("local media unavailable")
	ErrNoVideoSender         = errors.New("session has no video sender")
	ErrNotInRoom             = errors.New("not connected to a room")
	ErrChannelLost           = errors.New("signaling channel lost")
	ErrChannelNotConnected   = errors.New("signaling channel not connected")
	ErrUnknownEvent          = errors.New("unknown event")
	ErrInvalidEvent          = errors.New("invalid event payload")
	ErrUnknownSignalType     = errors.New("unknown signal type")
	ErrRateLimited           = errors.New("rate limited")
	ErrScreenShareActive     = errors.New("screen share in progress")
)

// Media acquisition failure kinds.
var (
	ErrPermissionDenied       = errors.New("permission denied")
	ErrDeviceBusy             = errors.New("device busy")
	ErrNoDeviceFound          = errors.New("no camera or microphone found")
	ErrConstraintsUnsupported = errors.New("constraints unsupported")
)

// MediaAcquisitionError carries the failure kind of one capture attempt.
// errors.Is matches both the kind sentinel and the underlying cause.
type MediaAcquisitionError struct {
	Profile string
	Kind    error
	Cause   error
}

func (e *MediaAcquisitionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("media acquisition failed (profile %s): %v: %v", e.Profile, e.Kind, e.Cause)
	}
	return fmt.Sprintf("media acquisition failed (profile %s): %v", e.Profile, e.Kind)
}

func (e *MediaAcquisitionError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// NegotiationError is a malformed or late signal for one peer. It is logged
// and never propagated beyond the affected session.
type NegotiationError struct {
	PeerID UserID
	Op     string
	Err    error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation with %s failed during %s: %v", e.PeerID, e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}
