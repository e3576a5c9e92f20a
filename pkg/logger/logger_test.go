package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	if _, err := New("debug", "console"); err != nil {
		t.Fatalf("New(debug, console) error = %v", err)
	}
	if _, err := New("info", "json"); err != nil {
		t.Fatalf("New(info, json) error = %v", err)
	}
	if _, err := New("loud", "json"); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestContextLogger_WithContext(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	ctx := WithRoomID(context.Background(), "room-1")
	ctx = WithPeerID(ctx, "peer-9")
	cl.LogInfo(ctx, "peer joined")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["room_id"] != "room-1" {
		t.Errorf("room_id = %v, want room-1", fields["room_id"])
	}
	if fields["peer_id"] != "peer-9" {
		t.Errorf("peer_id = %v, want peer-9", fields["peer_id"])
	}
	if _, ok := fields["user_id"]; ok {
		t.Error("user_id should be absent when not set")
	}
}

func TestContextLogger_NoFields(t *testing.T) {
	base := zap.NewNop()
	cl := NewContextLogger(base)
	if got := cl.WithContext(context.Background()); got != base {
		t.Error("expected base logger when context carries no fields")
	}
}
