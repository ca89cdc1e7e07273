package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DraftKeyPrefix 草稿 Redis Key 前缀
	DraftKeyPrefix = "desk:draft:"

	// DraftTTL 草稿保留时间
	DraftTTL = 7 * 24 * time.Hour
)

// BuildDraftKey 构建草稿 Key
// Key: desk:draft:{operatorId}:{conversationId}
func BuildDraftKey(operatorID, conversationID int64) string {
	return fmt.Sprintf("%s%d:%d", DraftKeyPrefix, operatorID, conversationID)
}

// RedisStore Redis 草稿存储，同一客服在多个终端间共享草稿
type RedisStore struct {
	client     redis.UniversalClient
	operatorID int64
	ttl        time.Duration
	logger     *slog.Logger
}

// NewRedisStore 创建 Redis 草稿存储，ttl 为 0 时使用默认值
func NewRedisStore(client redis.UniversalClient, operatorID int64, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DraftTTL
	}
	return &RedisStore{
		client:     client,
		operatorID: operatorID,
		ttl:        ttl,
		logger:     slog.Default(),
	}
}

// Save 保存草稿
func (s *RedisStore) Save(ctx context.Context, d *Draft) error {
	if d == nil {
		return fmt.Errorf("draft: nil draft")
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	key := BuildDraftKey(s.operatorID, d.ConversationID)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		s.logger.Error("Failed to save draft", "key", key, "error", err)
		return err
	}
	return nil
}

// Get 获取草稿，不存在时返回 nil
func (s *RedisStore) Get(ctx context.Context, conversationID int64) (*Draft, error) {
	data, err := s.client.Get(ctx, BuildDraftKey(s.operatorID, conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var d Draft
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal draft: %w", err)
	}
	return &d, nil
}

// Clear 清除草稿
func (s *RedisStore) Clear(ctx context.Context, conversationID int64) error {
	return s.client.Del(ctx, BuildDraftKey(s.operatorID, conversationID)).Err()
}
