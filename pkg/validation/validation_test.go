package validation

import (
	"strings"
	"testing"
)

const sampleSDP = "v=0\r\no=- 4611731400430051336 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\n"

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		wantErr bool
	}{
		{"valid email", "user@example.com", false},
		{"valid email with subdomain", "user@mail.example.com", false},
		{"empty email", "", true},
		{"invalid format", "invalid-email", true},
		{"too long", strings.Repeat("a", 250) + "@example.com", true},
		{"valid with plus", "user+tag@example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmail(tt.email)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEmail() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"google subject", "109876543210987654321", false},
		{"uuid", "3f1c2a7e-9b1d-4c55-8a0e-2f8e7c6d5b4a", false},
		{"empty", "", true},
		{"spaces", "user 1", true},
		{"too long", strings.Repeat("a", 129), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier(tt.id, "user id")
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIdentifier() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRoomCode(t *testing.T) {
	if err := ValidateRoomCode("ABC-123"); err != nil {
		t.Errorf("expected valid code, got %v", err)
	}
	for _, code := range []string{"", "ab", "abc/def", strings.Repeat("x", 33)} {
		if err := ValidateRoomCode(code); err == nil {
			t.Errorf("ValidateRoomCode(%q) expected error", code)
		}
	}
}

func TestValidateRoomName(t *testing.T) {
	if err := ValidateRoomName("Weekly sync"); err != nil {
		t.Errorf("expected valid name, got %v", err)
	}
	if err := ValidateRoomName("   "); err == nil {
		t.Error("expected error for blank name")
	}
	if err := ValidateRoomName(strings.Repeat("é", 101)); err == nil {
		t.Error("expected error for long name")
	}
}

func TestValidateChatMessage(t *testing.T) {
	if err := ValidateChatMessage("hello"); err != nil {
		t.Errorf("expected valid message, got %v", err)
	}
	if err := ValidateChatMessage(" \n"); err == nil {
		t.Error("expected error for blank message")
	}
	if err := ValidateChatMessage(strings.Repeat("a", 2001)); err == nil {
		t.Error("expected error for long message")
	}
}

func TestValidateSDP(t *testing.T) {
	tests := []struct {
		name    string
		sdp     string
		wantErr bool
	}{
		{"valid", sampleSDP, false},
		{"missing version", "o=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n", true},
		{"missing origin", "v=0\r\ns=-\r\nt=0 0\r\n", true},
		{"missing timing", "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\n", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSDP(tt.sdp)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSDP() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateICECandidate(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		wantErr   bool
	}{
		{"host", "candidate:1 1 udp 2130706431 192.168.1.2 54321 typ host", false},
		{"with attribute prefix", "a=candidate:1 1 udp 2130706431 192.168.1.2 54321 typ host", false},
		{"end of candidates", "", false},
		{"garbage", "hello", true},
		{"truncated", "candidate:1 1 udp", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateICECandidate(tt.candidate)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateICECandidate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"https", "https://meet.example.com", false},
		{"wss", "wss://meet.example.com/ws", false},
		{"empty", "", true},
		{"ftp", "ftp://example.com", true},
		{"no host", "http://", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
