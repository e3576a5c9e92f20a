package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const chatKeyPrefix = "huddle:chat:"

// RedisMessageRepository stores each room's history in a sorted set scored by
// message time. A companion set of ids makes Append idempotent.
type RedisMessageRepository struct {
	client     *redis.Client
	maxPerRoom int
	ttl        time.Duration
}

func NewRedisMessageRepository(client *redis.Client, maxPerRoom int, ttl time.Duration) ports.MessageRepository {
	if maxPerRoom <= 0 {
		maxPerRoom = 500
	}
	return &RedisMessageRepository{client: client, maxPerRoom: maxPerRoom, ttl: ttl}
}

func (r *RedisMessageRepository) historyKey(roomID domain.RoomID) string {
	return chatKeyPrefix + string(roomID)
}

func (r *RedisMessageRepository) idsKey(roomID domain.RoomID) string {
	return chatKeyPrefix + string(roomID) + ":ids"
}

func (r *RedisMessageRepository) Append(ctx context.Context, roomID domain.RoomID, msg domain.ChatMessage) error {
	added, err := r.client.SAdd(ctx, r.idsKey(roomID), msg.ID).Result()
	if err != nil {
		return fmt.Errorf("failed to record message id: %w", err)
	}
	if added == 0 {
		return nil
	}

	pipe := r.client.TxPipeline()
	if err := r.queueAppend(ctx, pipe, roomID, msg); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (r *RedisMessageRepository) queueAppend(ctx context.Context, pipe redis.Pipeliner, roomID domain.RoomID, msg domain.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	key := r.historyKey(roomID)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(msg.Timestamp.UnixMilli()), Member: data})
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-r.maxPerRoom-1))
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
		pipe.Expire(ctx, r.idsKey(roomID), r.ttl)
	}
	return nil
}

func (r *RedisMessageRepository) Replace(ctx context.Context, roomID domain.RoomID, msgs []domain.ChatMessage) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.historyKey(roomID), r.idsKey(roomID))

	seen := make(map[string]struct{}, len(msgs))
	for _, msg := range msgs {
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}
		pipe.SAdd(ctx, r.idsKey(roomID), msg.ID)
		if err := r.queueAppend(ctx, pipe, roomID, msg); err != nil {
			return err
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to replace history: %w", err)
	}
	return nil
}

// List returns the newest limit messages, oldest first.
func (r *RedisMessageRepository) List(ctx context.Context, roomID domain.RoomID, limit int) ([]domain.ChatMessage, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	raw, err := r.client.ZRevRange(ctx, r.historyKey(roomID), 0, stop).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	msgs := make([]domain.ChatMessage, 0, len(raw))
	for _, item := range raw {
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	slices.Reverse(msgs)
	return msgs, nil
}

func (r *RedisMessageRepository) Clear(ctx context.Context, roomID domain.RoomID) error {
	if err := r.client.Del(ctx, r.historyKey(roomID), r.idsKey(roomID)).Err(); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}
