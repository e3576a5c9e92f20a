package ports

import (
	"context"

	"huddle/internal/core/domain"
)

type RoomAPI interface {
	GetRoom(ctx context.Context, roomID domain.RoomID) (*domain.RoomInfo, error)
	LeaveRoom(ctx context.Context, roomID domain.RoomID) error
	Logout(ctx context.Context) error
}

// MessageRepository stores chat history per room. Appending a message whose
// id is already stored is a no-op.
type MessageRepository interface {
	Append(ctx context.Context, roomID domain.RoomID, msg domain.ChatMessage) error
	Replace(ctx context.Context, roomID domain.RoomID, msgs []domain.ChatMessage) error
	List(ctx context.Context, roomID domain.RoomID, limit int) ([]domain.ChatMessage, error)
	Clear(ctx context.Context, roomID domain.RoomID) error
}
