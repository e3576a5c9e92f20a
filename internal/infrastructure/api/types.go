package api

import "time"

type CreateRoomRequest struct {
	RoomName    string `json:"roomName"`
	Description string `json:"description"`
	MaxUsers    int    `json:"maxUsers"`
	IsPrivate   bool   `json:"isPrivate"`
	Password    string `json:"password,omitempty"`
}

type ShareLinkOptions struct {
	ExpiryHours int    `json:"expiryHours,omitempty"`
	MaxUses     int    `json:"maxUses,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

type ShareLink struct {
	ShareToken  string    `json:"shareToken"`
	ShareURL    string    `json:"shareUrl"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Views       int       `json:"views"`
	Clicks      int       `json:"clicks"`
	Joins       int       `json:"joins"`
	ExpiryHours int       `json:"expiryHours"`
	MaxUses     int       `json:"maxUses"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
}

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
)

type Invitation struct {
	ID           string           `json:"id"`
	FromUserID   string           `json:"fromUserId"`
	FromUserName string           `json:"fromUserName"`
	ToUserEmail  string           `json:"toUserEmail"`
	Message      string           `json:"message"`
	Status       InvitationStatus `json:"status"`
	CreatedAt    time.Time        `json:"createdAt"`
}

type ShareStats struct {
	TotalShares int `json:"totalShares"`
	TotalViews  int `json:"totalViews"`
	TotalClicks int `json:"totalClicks"`
	TotalJoins  int `json:"totalJoins"`
	ActiveLinks int `json:"activeLinks"`
}

type SocialShareData struct {
	WhatsAppURL string `json:"whatsappUrl,omitempty"`
	TwitterURL  string `json:"twitterUrl,omitempty"`
	FacebookURL string `json:"facebookUrl,omitempty"`
	EmailURL    string `json:"emailUrl,omitempty"`
}

// ShareStatKind is the counter bumped on a share link.
type ShareStatKind string

const (
	StatViews  ShareStatKind = "views"
	StatClicks ShareStatKind = "clicks"
	StatJoins  ShareStatKind = "joins"
)
