package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// EmailRegex validates email format
	EmailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	// IdentifierRegex matches user, room and share-link ids.
	IdentifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:@-]+$`)

	// RoomCodeRegex matches the short join codes handed out by the backend.
	RoomCodeRegex = regexp.MustCompile(`^[A-Za-z0-9-]{4,32}$`)
)

const (
	maxIdentifierLength = 128
	maxRoomNameLength   = 100
	maxMessageLength    = 2000
	maxSDPLength        = 64 * 1024
)

// ValidateEmail validates email address
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if len(email) > 254 {
		return fmt.Errorf("email is too long (max 254 characters)")
	}
	if !EmailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// ValidateIdentifier validates a user id, room id or share token.
func ValidateIdentifier(id, fieldName string) error {
	if id == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if len(id) > maxIdentifierLength {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, maxIdentifierLength)
	}
	if !IdentifierRegex.MatchString(id) {
		return fmt.Errorf("invalid %s format", fieldName)
	}
	return nil
}

// ValidateRoomCode validates a join code.
func ValidateRoomCode(code string) error {
	if code == "" {
		return fmt.Errorf("room code is required")
	}
	if !RoomCodeRegex.MatchString(code) {
		return fmt.Errorf("invalid room code format")
	}
	return nil
}

// ValidateRoomName validates a room title.
func ValidateRoomName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("room name is required")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("room name contains invalid characters")
	}
	if utf8.RuneCountInString(name) > maxRoomNameLength {
		return fmt.Errorf("room name is too long (max %d characters)", maxRoomNameLength)
	}
	return nil
}

// ValidateChatMessage validates outgoing chat text.
func ValidateChatMessage(msg string) error {
	if strings.TrimSpace(msg) == "" {
		return fmt.Errorf("message is required")
	}
	if !utf8.ValidString(msg) {
		return fmt.Errorf("message contains invalid characters")
	}
	if utf8.RuneCountInString(msg) > maxMessageLength {
		return fmt.Errorf("message is too long (max %d characters)", maxMessageLength)
	}
	return nil
}

// ValidateSDP checks the session description has the mandatory header lines.
func ValidateSDP(sdp string) error {
	if len(sdp) > maxSDPLength {
		return fmt.Errorf("SDP is too large (max %d bytes)", maxSDPLength)
	}
	if !strings.HasPrefix(sdp, "v=") {
		return fmt.Errorf("invalid SDP format: must start with 'v='")
	}
	for _, field := range []string{"\no=", "\ns=", "\nt="} {
		if !strings.Contains(sdp, field) {
			return fmt.Errorf("invalid SDP format: missing required field %q", strings.TrimPrefix(field, "\n"))
		}
	}
	return nil
}

// ValidateICECandidate checks a trickled candidate line. The empty candidate
// marks end-of-candidates and is accepted.
func ValidateICECandidate(candidate string) error {
	if candidate == "" {
		return nil
	}
	c := strings.TrimPrefix(candidate, "a=")
	if !strings.HasPrefix(c, "candidate:") {
		return fmt.Errorf("invalid ICE candidate: must start with 'candidate:'")
	}
	if len(strings.Fields(c)) < 8 {
		return fmt.Errorf("invalid ICE candidate: too few fields")
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
