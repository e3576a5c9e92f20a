package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type UserID string
type RoomID string

type Role string

const (
	RoleCreator Role = "creator"
	RoleMember  Role = "member"
)

// User is the verified local identity handed over by the identity provider.
type User struct {
	ID      UserID `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
}

// AsMember builds the roster entry announced for this user when joining a room.
func (u User) AsMember(joinedAt time.Time) RoomMember {
	return RoomMember{
		UserID:      u.ID,
		DisplayName: u.Name,
		AvatarURL:   u.Picture,
		JoinedAt:    joinedAt,
		Role:        RoleMember,
		IsActive:    true,
		IsOnline:    true,
	}
}

type RoomMember struct {
	UserID      UserID    `json:"userId"`
	DisplayName string    `json:"userName"`
	AvatarURL   string    `json:"userAvatar,omitempty"`
	JoinedAt    time.Time `json:"joinedAt"`
	Role        Role      `json:"role"`
	IsActive    bool      `json:"isActive"`
	IsOnline    bool      `json:"isOnline"`
	IsTyping    bool      `json:"isTyping"`
}

// UnmarshalJSON applies the server defaults: role member, active and online
// unless stated otherwise. An unparsable joinedAt is treated as unknown.
func (m *RoomMember) UnmarshalJSON(data []byte) error {
	var wire struct {
		UserID     UserID `json:"userId"`
		UserName   string `json:"userName"`
		UserAvatar string `json:"userAvatar"`
		JoinedAt   string `json:"joinedAt"`
		Role       Role   `json:"role"`
		IsActive   *bool  `json:"isActive"`
		IsOnline   *bool  `json:"isOnline"`
		IsTyping   bool   `json:"isTyping"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("failed to decode room member: %w", err)
	}

	*m = RoomMember{
		UserID:      UserID(strings.TrimSpace(string(wire.UserID))),
		DisplayName: wire.UserName,
		AvatarURL:   wire.UserAvatar,
		Role:        RoleMember,
		IsActive:    true,
		IsOnline:    true,
		IsTyping:    wire.IsTyping,
	}
	if wire.Role == RoleCreator {
		m.Role = RoleCreator
	}
	if wire.IsActive != nil {
		m.IsActive = *wire.IsActive
	}
	if wire.IsOnline != nil {
		m.IsOnline = *wire.IsOnline
	}
	if wire.JoinedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, wire.JoinedAt); err == nil {
			m.JoinedAt = t
		}
	}
	return nil
}

type RoomInfo struct {
	ID          RoomID       `json:"id"`
	Name        string       `json:"roomName"`
	Code        string       `json:"roomCode"`
	Description string       `json:"description,omitempty"`
	MaxUsers    int          `json:"maxUsers,omitempty"`
	IsPrivate   bool         `json:"isPrivate"`
	CreatedBy   UserID       `json:"createdBy,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	Members     []RoomMember `json:"members"`
}

// RosterSnapshot is the published, read-only view of the room membership.
type RosterSnapshot struct {
	RoomID    RoomID
	RoomName  string
	Connected bool
	Synced    bool
	Members   []RoomMember
}

// Member returns the entry for id, if present.
func (s RosterSnapshot) Member(id UserID) (RoomMember, bool) {
	for _, m := range s.Members {
		if m.UserID == id {
			return m, true
		}
	}
	return RoomMember{}, false
}
