package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventName is the name of a message on the signaling channel.
type EventName string

// Inbound event names.
const (
	EventJoinedRoom         EventName = "joined-room"
	EventRoomMembersList    EventName = "room-members-list"
	EventUserJoinedRoom     EventName = "user-joined-room"
	EventUserLeftRoom       EventName = "user-left-room"
	EventUserPresence       EventName = "user-presence-change"
	EventUserTyping         EventName = "user-typing"
	EventRoomMessage        EventName = "room-message"
	EventRoomMessageHistory EventName = "room-message-history"
	EventRoomError          EventName = "room-error"
	EventWebRTCSignal       EventName = "webrtc-signal"
)

// Outbound event names. room-message and webrtc-signal are shared with the
// inbound direction.
const (
	EventJoinRoom       EventName = "join-room"
	EventLeaveRoom      EventName = "leave-room"
	EventGetRoomMembers EventName = "get-room-members"
	EventRoomTyping     EventName = "room-typing"
)

// InboundEvent is implemented only by the event types in this file, which
// makes the set of messages the client reacts to closed.
type InboundEvent interface {
	Name() EventName
	inbound()
}

// OutboundEvent is the closed set of messages the client emits.
type OutboundEvent interface {
	Name() EventName
	outbound()
}

type SignalType string

const (
	SignalOffer        SignalType = "offer"
	SignalAnswer       SignalType = "answer"
	SignalICECandidate SignalType = "ice-candidate"
)

// Valid reports whether t is one of the enumerated signal types.
func (t SignalType) Valid() bool {
	switch t {
	case SignalOffer, SignalAnswer, SignalICECandidate:
		return true
	}
	return false
}

type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// SignalPayload carries one offer, answer or ICE candidate. On the wire the
// description travels as a {type, sdp} object and the candidate as the
// browser's candidate JSON; a bare sdp or candidate string is accepted too.
type SignalPayload struct {
	Type      SignalType
	SDP       string
	Candidate *ICECandidate
}

type sessionDescription struct {
	Type SignalType `json:"type"`
	SDP  string     `json:"sdp"`
}

func (s SignalPayload) MarshalJSON() ([]byte, error) {
	wire := struct {
		Type      SignalType          `json:"type"`
		SDP       *sessionDescription `json:"sdp,omitempty"`
		Candidate *ICECandidate       `json:"candidate,omitempty"`
	}{Type: s.Type, Candidate: s.Candidate}
	if s.SDP != "" {
		wire.SDP = &sessionDescription{Type: s.Type, SDP: s.SDP}
	}
	return json.Marshal(wire)
}

func (s *SignalPayload) UnmarshalJSON(data []byte) error {
	var wire struct {
		Type      SignalType      `json:"type"`
		SDP       json.RawMessage `json:"sdp"`
		Candidate json.RawMessage `json:"candidate"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*s = SignalPayload{Type: wire.Type}

	if present(wire.SDP) {
		var text string
		if err := json.Unmarshal(wire.SDP, &text); err == nil {
			s.SDP = text
		} else {
			var desc sessionDescription
			if err := json.Unmarshal(wire.SDP, &desc); err != nil {
				return fmt.Errorf("sdp: %w", err)
			}
			if desc.Type != "" && desc.Type != wire.Type {
				return fmt.Errorf("sdp: description type %q in %q signal", desc.Type, wire.Type)
			}
			s.SDP = desc.SDP
		}
	}

	if present(wire.Candidate) {
		var text string
		if err := json.Unmarshal(wire.Candidate, &text); err == nil {
			s.Candidate = &ICECandidate{Candidate: text}
		} else {
			var c ICECandidate
			if err := json.Unmarshal(wire.Candidate, &c); err != nil {
				return fmt.Errorf("candidate: %w", err)
			}
			s.Candidate = &c
		}
	}
	return nil
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageSystem MessageType = "system"
)

type ChatMessage struct {
	ID          string      `json:"id"`
	UserID      UserID      `json:"userId"`
	UserName    string      `json:"userName"`
	UserAvatar  string      `json:"userAvatar,omitempty"`
	Message     string      `json:"message"`
	MessageType MessageType `json:"messageType"`
	Timestamp   time.Time   `json:"timestamp"`
}

type JoinedRoom struct {
	Success  bool
	Message  string
	RoomName string
	Members  []RoomMember
}

type MembersList struct {
	Members      []RoomMember
	TotalMembers int
}

type MemberJoined struct {
	Member RoomMember
}

type MemberLeft struct {
	UserID   UserID
	UserName string
}

type PresenceChanged struct {
	UserID   UserID
	IsOnline bool
	IsActive *bool
}

type TypingChanged struct {
	UserID   UserID
	IsTyping bool
}

type ChatReceived struct {
	Message ChatMessage
}

type ChatHistory struct {
	Messages []ChatMessage
}

type RoomError struct {
	Message string
}

type SignalReceived struct {
	FromUserID   UserID
	FromUserName string
	Signal       SignalPayload
}

func (JoinedRoom) Name() EventName      { return EventJoinedRoom }
func (MembersList) Name() EventName     { return EventRoomMembersList }
func (MemberJoined) Name() EventName    { return EventUserJoinedRoom }
func (MemberLeft) Name() EventName      { return EventUserLeftRoom }
func (PresenceChanged) Name() EventName { return EventUserPresence }
func (TypingChanged) Name() EventName   { return EventUserTyping }
func (ChatReceived) Name() EventName    { return EventRoomMessage }
func (ChatHistory) Name() EventName     { return EventRoomMessageHistory }
func (RoomError) Name() EventName       { return EventRoomError }
func (SignalReceived) Name() EventName  { return EventWebRTCSignal }

func (JoinedRoom) inbound()      {}
func (MembersList) inbound()     {}
func (MemberJoined) inbound()    {}
func (MemberLeft) inbound()      {}
func (PresenceChanged) inbound() {}
func (TypingChanged) inbound()   {}
func (ChatReceived) inbound()    {}
func (ChatHistory) inbound()     {}
func (RoomError) inbound()       {}
func (SignalReceived) inbound()  {}

type JoinRoom struct {
	RoomID   RoomID     `json:"roomId"`
	RoomCode string     `json:"roomCode"`
	User     RoomMember `json:"user"`
}

type LeaveRoom struct {
	RoomID RoomID     `json:"roomId"`
	User   RoomMember `json:"user"`
}

type GetRoomMembers struct {
	RoomID RoomID `json:"roomId"`
}

type SendChat struct {
	RoomID  RoomID `json:"roomId"`
	Message string `json:"message"`
}

type SetTyping struct {
	RoomID   RoomID `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

type SendSignal struct {
	TargetUserID UserID        `json:"targetUserId"`
	RoomID       RoomID        `json:"roomId"`
	Signal       SignalPayload `json:"signal"`
}

func (JoinRoom) Name() EventName       { return EventJoinRoom }
func (LeaveRoom) Name() EventName      { return EventLeaveRoom }
func (GetRoomMembers) Name() EventName { return EventGetRoomMembers }
func (SendChat) Name() EventName       { return EventRoomMessage }
func (SetTyping) Name() EventName      { return EventRoomTyping }
func (SendSignal) Name() EventName     { return EventWebRTCSignal }

func (JoinRoom) outbound()       {}
func (LeaveRoom) outbound()      {}
func (GetRoomMembers) outbound() {}
func (SendChat) outbound()       {}
func (SetTyping) outbound()      {}
func (SendSignal) outbound()     {}
