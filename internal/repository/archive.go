// Package repository persists conversations so they survive eviction and
// process restarts.
package repository

import (
	"context"
	"time"

	"support-agent/internal/domain"
)

const (
	DefaultTTL      = 30 * 24 * time.Hour
	DefaultMaxTurns = 100
)

// Archive is the persistence contract shared by the DynamoDB and Redis stores.
type Archive interface {
	Load(ctx context.Context, conversationID string) (domain.ConversationRecord, bool, error)
	AppendTurn(ctx context.Context, turn domain.Turn, meta domain.ConversationMeta) error
	SaveMeta(ctx context.Context, meta domain.ConversationMeta) error
	Delete(ctx context.Context, conversationID string) error
}

var (
	_ Archive = (*DynamoArchive)(nil)
	_ Archive = (*RedisArchive)(nil)
)
