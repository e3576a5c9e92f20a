package signal

import (
	"encoding/json"
	"fmt"

	"huddle/internal/core/domain"
	"huddle/pkg/validation"
)

// Envelope is the frame shape on the signaling websocket.
type Envelope struct {
	Event domain.EventName `json:"event"`
	Data  json.RawMessage  `json:"data,omitempty"`
}

type joinedRoomPayload struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		RoomName string              `json:"roomName"`
		Members  []domain.RoomMember `json:"members"`
	} `json:"data"`
}

type membersListPayload struct {
	Members      []domain.RoomMember `json:"members"`
	TotalMembers int                 `json:"totalMembers"`
}

type memberLeftPayload struct {
	UserID   domain.UserID `json:"userId"`
	UserName string        `json:"userName"`
}

type presencePayload struct {
	UserID   domain.UserID `json:"userId"`
	IsOnline bool          `json:"isOnline"`
	IsActive *bool         `json:"isActive"`
}

type typingPayload struct {
	UserID   domain.UserID `json:"userId"`
	IsTyping bool          `json:"isTyping"`
}

type historyPayload struct {
	Messages []domain.ChatMessage `json:"messages"`
}

type roomErrorPayload struct {
	Message string `json:"message"`
}

type signalPayload struct {
	FromUserID   domain.UserID        `json:"fromUserId"`
	FromUserName string               `json:"fromUserName"`
	Signal       domain.SignalPayload `json:"signal"`
}

// Decode parses one frame into an inbound event. Names outside the closed set
// fail with domain.ErrUnknownEvent, malformed payloads with domain.ErrInvalidEvent.
func Decode(frame []byte) (domain.InboundEvent, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidEvent, err)
	}

	switch env.Event {
	case domain.EventJoinedRoom:
		var p joinedRoomPayload
		if err := unmarshal(env, &p); err != nil {
			return nil, err
		}
		return domain.JoinedRoom{Success: p.Success, Message: p.Message, RoomName: p.Data.RoomName, Members: p.Data.Members}, nil

	case domain.EventRoomMembersList:
		var p membersListPayload
		if err := unmarshal(env, &p); err != nil {
			return nil, err
		}
		return domain.MembersList{Members: p.Members, TotalMembers: p.TotalMembers}, nil

	case domain.EventUserJoinedRoom:
		var m domain.RoomMember
		if err := unmarshal(env, &m); err != nil {
			return nil, err
		}
		if err := requireUser(env.Event, m.UserID); err != nil {
			return nil, err
		}
		return domain.MemberJoined{Member: m}, nil

	case domain.EventUserLeftRoom:
		var p memberLeftPayload
		if err := unmarshal(env, &p); err != nil {
			return nil, err
		}
		if err := requireUser(env.Event, p.UserID); err != nil {
			return nil, err
		}
		return domain.MemberLeft{UserID: p.UserID, UserName: p.UserName}, nil

	case domain.EventUserPresence:
		var p presencePayload
		if err := unmarshal(env, &p); err != nil {
			return nil, err
		}
		if err := requireUser(env.Event, p.UserID); err != nil {
			return nil, err
		}
		return domain.PresenceChanged{UserID: p.UserID, IsOnline: p.IsOnline, IsActive: p.IsActive}, nil

	case domain.EventUserTyping:
		var p typingPayload
		if err := unmarshal(env, &p); err != nil {
			return nil, err
		}
		if err := requireUser(env.Event, p.UserID); err != nil {
			return nil, err
		}
		return domain.TypingChanged{UserID: p.UserID, IsTyping: p.IsTyping}, nil

	case domain.EventRoomMessage:
		var m domain.ChatMessage
		if err := unmarshal(env, &m); err != nil {
			return nil, err
		}
		return domain.ChatReceived{Message: m}, nil

	case domain.EventRoomMessageHistory:
		var p historyPayload
		if err := unmarshal(env, &p); err != nil {
			return nil, err
		}
		return domain.ChatHistory{Messages: p.Messages}, nil

	case domain.EventRoomError:
		var p roomErrorPayload
		if err := unmarshal(env, &p); err != nil {
			return nil, err
		}
		return domain.RoomError{Message: p.Message}, nil

	case domain.EventWebRTCSignal:
		var p signalPayload
		if err := unmarshal(env, &p); err != nil {
			return nil, err
		}
		if err := requireUser(env.Event, p.FromUserID); err != nil {
			return nil, err
		}
		if err := validateSignal(p.Signal); err != nil {
			return nil, err
		}
		return domain.SignalReceived{FromUserID: p.FromUserID, FromUserName: p.FromUserName, Signal: p.Signal}, nil
	}

	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownEvent, env.Event)
}

// Encode wraps an outbound event in the frame envelope.
func Encode(event domain.OutboundEvent) ([]byte, error) {
	if s, ok := event.(domain.SendSignal); ok {
		if err := validateSignal(s.Signal); err != nil {
			return nil, err
		}
	}

	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", event.Name(), err)
	}
	return json.Marshal(Envelope{Event: event.Name(), Data: data})
}

func unmarshal(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s without data", domain.ErrInvalidEvent, env.Event)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrInvalidEvent, env.Event, err)
	}
	return nil
}

func requireUser(event domain.EventName, id domain.UserID) error {
	if id == "" {
		return fmt.Errorf("%w: %s without user id", domain.ErrInvalidEvent, event)
	}
	return nil
}

func validateSignal(s domain.SignalPayload) error {
	switch s.Type {
	case domain.SignalOffer, domain.SignalAnswer:
		if err := validation.ValidateSDP(s.SDP); err != nil {
			return fmt.Errorf("%w: %s: %v", domain.ErrInvalidEvent, s.Type, err)
		}
	case domain.SignalICECandidate:
		if s.Candidate == nil {
			return fmt.Errorf("%w: ice-candidate without candidate", domain.ErrInvalidEvent)
		}
		if err := validation.ValidateICECandidate(s.Candidate.Candidate); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidEvent, err)
		}
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownSignalType, s.Type)
	}
	return nil
}
