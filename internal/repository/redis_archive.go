package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"support-agent/internal/domain"
	logx "support-agent/pkg/logger"
)

const redisKeyPrefix = "support-agent:conversation:"

// RedisArchive keeps each conversation as a capped list of JSON turns plus a
// JSON metadata key. Both keys share the same expiry.
type RedisArchive struct {
	rdb      redis.Cmdable
	ttl      time.Duration
	maxTurns int
}

// NewRedisArchive creates a RedisArchive. Keys expire ttl after the last write
// and the turn list is trimmed to maxTurns entries.
func NewRedisArchive(rdb redis.Cmdable, ttl time.Duration, maxTurns int) (*RedisArchive, error) {
	if rdb == nil {
		return nil, errors.New("repository: redis client must not be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &RedisArchive{rdb: rdb, ttl: ttl, maxTurns: maxTurns}, nil
}

func turnsKey(conversationID string) string {
	return redisKeyPrefix + conversationID + ":turns"
}

func metaKey(conversationID string) string {
	return redisKeyPrefix + conversationID + ":meta"
}

func (a *RedisArchive) Load(ctx context.Context, conversationID string) (domain.ConversationRecord, bool, error) {
	raw, err := a.rdb.Get(ctx, metaKey(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ConversationRecord{}, false, nil
	}
	if err != nil {
		logx.Error().Err(err).Str("conversation_id", conversationID).Msg("Failed to load conversation meta from Redis")
		return domain.ConversationRecord{}, false, fmt.Errorf("repository: Load get meta: %w", err)
	}
	var meta domain.ConversationMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return domain.ConversationRecord{}, false, fmt.Errorf("repository: Load decode meta: %w", err)
	}

	values, err := a.rdb.LRange(ctx, turnsKey(conversationID), 0, -1).Result()
	if err != nil {
		logx.Error().Err(err).Str("conversation_id", conversationID).Msg("Failed to load conversation turns from Redis")
		return domain.ConversationRecord{}, false, fmt.Errorf("repository: Load get turns: %w", err)
	}
	turns, err := decodeTurns(values)
	if err != nil {
		return domain.ConversationRecord{}, false, fmt.Errorf("repository: Load decode turn: %w", err)
	}
	return domain.ConversationRecord{Meta: meta, Turns: turns}, true, nil
}

func (a *RedisArchive) AppendTurn(ctx context.Context, turn domain.Turn, meta domain.ConversationMeta) error {
	if meta.ConversationID == "" {
		return errors.New("repository: AppendTurn: conversation id is required")
	}
	turnJSON, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("repository: AppendTurn encode turn: %w", err)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("repository: AppendTurn encode meta: %w", err)
	}

	tk := turnsKey(meta.ConversationID)
	_, err = a.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, tk, turnJSON)
		pipe.LTrim(ctx, tk, int64(-a.maxTurns), -1)
		pipe.Expire(ctx, tk, a.ttl)
		pipe.Set(ctx, metaKey(meta.ConversationID), metaJSON, a.ttl)
		return nil
	})
	if err != nil {
		logx.Error().Err(err).Str("conversation_id", meta.ConversationID).Msg("Failed to append turn to Redis")
		return fmt.Errorf("repository: AppendTurn: %w", err)
	}
	return nil
}

func (a *RedisArchive) SaveMeta(ctx context.Context, meta domain.ConversationMeta) error {
	if meta.ConversationID == "" {
		return errors.New("repository: SaveMeta: conversation id is required")
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("repository: SaveMeta encode: %w", err)
	}
	if err := a.rdb.Set(ctx, metaKey(meta.ConversationID), metaJSON, a.ttl).Err(); err != nil {
		logx.Error().Err(err).Str("conversation_id", meta.ConversationID).Msg("Failed to save conversation meta to Redis")
		return fmt.Errorf("repository: SaveMeta: %w", err)
	}
	return nil
}

func (a *RedisArchive) Delete(ctx context.Context, conversationID string) error {
	if err := a.rdb.Del(ctx, turnsKey(conversationID), metaKey(conversationID)).Err(); err != nil {
		logx.Error().Err(err).Str("conversation_id", conversationID).Msg("Failed to delete conversation from Redis")
		return fmt.Errorf("repository: Delete: %w", err)
	}
	return nil
}

func decodeTurns(values []string) ([]domain.Turn, error) {
	turns := make([]domain.Turn, 0, len(values))
	for _, v := range values {
		var t domain.Turn
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			return nil, err
		}
		if !t.Source.Valid() {
			return nil, fmt.Errorf("unknown turn source %q", t.Source)
		}
		turns = append(turns, t)
	}
	return turns, nil
}
