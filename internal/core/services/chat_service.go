package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type ChatConfig struct {
	RoomID            domain.RoomID
	MessagesPerSecond float64
	Burst             int
	HistoryLimit      int
}

// ChatService sends room messages and typing state, and keeps received
// messages in a repository.
type ChatService struct {
	cfg     ChatConfig
	channel ports.SignalChannel
	repo    ports.MessageRepository
	limiter *rate.Limiter
	logger  *zap.SugaredLogger

	mu     sync.Mutex
	typing bool
}

func NewChatService(cfg ChatConfig, channel ports.SignalChannel, repo ports.MessageRepository, logger *zap.SugaredLogger) *ChatService {
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 200
	}
	return &ChatService{
		cfg:     cfg,
		channel: channel,
		repo:    repo,
		limiter: rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.Burst),
		logger:  logger,
	}
}

func (s *ChatService) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if err := validation.ValidateChatMessage(text); err != nil {
		return err
	}
	if !s.limiter.Allow() {
		return domain.ErrRateLimited
	}
	if err := s.channel.Emit(ctx, domain.SendChat{RoomID: s.cfg.RoomID, Message: text}); err != nil {
		return err
	}
	// sending a message ends typing
	return s.SetTyping(ctx, false)
}

// SetTyping emits room-typing only when the flag changes.
func (s *ChatService) SetTyping(ctx context.Context, typing bool) error {
	s.mu.Lock()
	if s.typing == typing {
		s.mu.Unlock()
		return nil
	}
	s.typing = typing
	s.mu.Unlock()

	if err := s.channel.Emit(ctx, domain.SetTyping{RoomID: s.cfg.RoomID, IsTyping: typing}); err != nil {
		s.mu.Lock()
		s.typing = !typing
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *ChatService) Receive(ctx context.Context, msg domain.ChatMessage) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.MessageType == "" {
		msg.MessageType = domain.MessageText
	}
	if err := s.repo.Append(ctx, s.cfg.RoomID, msg); err != nil {
		s.logger.Warnw("Failed to store chat message", "room_id", s.cfg.RoomID, "message_id", msg.ID, "error", err)
	}
}

// ReceiveHistory replaces stored history with the server's copy.
func (s *ChatService) ReceiveHistory(ctx context.Context, msgs []domain.ChatMessage) {
	for i := range msgs {
		if msgs[i].ID == "" {
			msgs[i].ID = uuid.NewString()
		}
	}
	if len(msgs) > s.cfg.HistoryLimit {
		msgs = msgs[len(msgs)-s.cfg.HistoryLimit:]
	}
	if err := s.repo.Replace(ctx, s.cfg.RoomID, msgs); err != nil {
		s.logger.Warnw("Failed to store chat history", "room_id", s.cfg.RoomID, "count", len(msgs), "error", err)
		return
	}
	s.logger.Debugw("Chat history loaded", "room_id", s.cfg.RoomID, "count", len(msgs))
}

func (s *ChatService) History(ctx context.Context) ([]domain.ChatMessage, error) {
	return s.repo.List(ctx, s.cfg.RoomID, s.cfg.HistoryLimit)
}

// Reset forgets the local typing flag after the channel drops.
func (s *ChatService) Reset() {
	s.mu.Lock()
	s.typing = false
	s.mu.Unlock()
}
