package memory

import (
	"context"
	"sync"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
)

type roomHistory struct {
	messages []domain.ChatMessage
	ids      map[string]struct{}
}

// MemoryMessageRepository keeps chat history per room in arrival order,
// holding at most maxPerRoom messages.
type MemoryMessageRepository struct {
	rooms      map[domain.RoomID]*roomHistory
	maxPerRoom int
	mu         sync.RWMutex
}

func NewMemoryMessageRepository(maxPerRoom int) ports.MessageRepository {
	if maxPerRoom <= 0 {
		maxPerRoom = 500
	}
	return &MemoryMessageRepository{
		rooms:      make(map[domain.RoomID]*roomHistory),
		maxPerRoom: maxPerRoom,
	}
}

func (r *MemoryMessageRepository) room(id domain.RoomID) *roomHistory {
	h, ok := r.rooms[id]
	if !ok {
		h = &roomHistory{ids: make(map[string]struct{})}
		r.rooms[id] = h
	}
	return h
}

func (r *MemoryMessageRepository) Append(ctx context.Context, roomID domain.RoomID, msg domain.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.room(roomID)
	if _, dup := h.ids[msg.ID]; dup {
		return nil
	}
	h.ids[msg.ID] = struct{}{}
	h.messages = append(h.messages, msg)

	if over := len(h.messages) - r.maxPerRoom; over > 0 {
		for _, old := range h.messages[:over] {
			delete(h.ids, old.ID)
		}
		h.messages = append([]domain.ChatMessage(nil), h.messages[over:]...)
	}
	return nil
}

func (r *MemoryMessageRepository) Replace(ctx context.Context, roomID domain.RoomID, msgs []domain.ChatMessage) error {
	r.mu.Lock()
	delete(r.rooms, roomID)
	r.mu.Unlock()

	for _, msg := range msgs {
		if err := r.Append(ctx, roomID, msg); err != nil {
			return err
		}
	}
	return nil
}

// List returns the newest limit messages, oldest first. A limit <= 0 returns
// everything.
func (r *MemoryMessageRepository) List(ctx context.Context, roomID domain.RoomID, limit int) ([]domain.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.rooms[roomID]
	if !ok {
		return []domain.ChatMessage{}, nil
	}
	msgs := h.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]domain.ChatMessage(nil), msgs...), nil
}

func (r *MemoryMessageRepository) Clear(ctx context.Context, roomID domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, roomID)
	return nil
}
