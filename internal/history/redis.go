package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"csbridge/internal/domain"
)

const redisPrefix = "csbridge"

// RedisStore implements domain.HistoryStore on Redis so several relays can
// share one message log. Each record is a JSON string written with SETNX; a
// sorted set per chat indexes record ids by timestamp.
type RedisStore struct {
	client *redis.Client
	locks  *KeyedMutex
	logger *slog.Logger
}

var _ domain.HistoryStore = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, locks: NewKeyedMutex(), logger: logger}
}

// DialRedis connects to addr and pings it.
func DialRedis(ctx context.Context, addr, password string, db int, logger *slog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedisStore(client, logger), nil
}

func msgKey(id string) string      { return redisPrefix + ":msg:" + id }
func chatKey(chatID string) string { return redisPrefix + ":chat:" + chatID }
func chatsKey() string             { return redisPrefix + ":chats" }

func (s *RedisStore) Has(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, msgKey(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Append(ctx context.Context, rec domain.ProcessedMessageRecord) (bool, error) {
	rec = normalize(rec)
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.Timestamp = time.UnixMilli(rec.Timestamp.UnixMilli())

	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode record: %w", err)
	}

	unlock := s.locks.Lock(rec.ChatID)
	defer unlock()

	ok, err := s.client.SetNX(ctx, msgKey(rec.ID), data, 0).Result()
	if err != nil {
		return false, fmt.Errorf("store record: %w", err)
	}
	if !ok {
		return false, nil
	}

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, chatKey(rec.ChatID), redis.Z{Score: float64(rec.Timestamp.UnixMilli()), Member: rec.ID})
	pipe.SAdd(ctx, chatsKey(), rec.ChatID)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("index record: %w", err)
	}
	s.logger.Debug("message stored", "chat_id", rec.ChatID, "role", rec.Role, "id", rec.ID)
	return true, nil
}

// History returns the newest limit records of a chat, oldest first. Equal
// scores sort by member, which is the record id.
func (s *RedisStore) History(ctx context.Context, chatID string, limit int) ([]domain.ProcessedMessageRecord, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	ids, err := s.client.ZRange(ctx, chatKey(chatID), int64(-limit), -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = msgKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]domain.ProcessedMessageRecord, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			s.logger.Warn("indexed record missing", "chat_id", chatID, "id", ids[i])
			continue
		}
		var r domain.ProcessedMessageRecord
		if err := json.Unmarshal([]byte(str), &r); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", ids[i], err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *RedisStore) ChatCount(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, chatsKey()).Result()
	return int(n), err
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
