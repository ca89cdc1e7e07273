package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema 开发后端表结构，启动时幂等执行
var schema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id               BIGINT PRIMARY KEY,
		store_id         BIGINT NOT NULL,
		status           VARCHAR(16) NOT NULL DEFAULT 'open',
		participant      JSONB,
		assigned_agent   JSONB,
		unread_count     INT NOT NULL DEFAULT 0,
		last_activity_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		create_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		update_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		deleted          SMALLINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_store_activity
		ON conversations (store_id, last_activity_at DESC)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id              BIGINT PRIMARY KEY,
		conversation_id BIGINT NOT NULL,
		client_msg_id   VARCHAR(64),
		sender_type     VARCHAR(32) NOT NULL,
		content         TEXT NOT NULL DEFAULT '',
		attachments     JSONB,
		sender_meta     JSONB,
		create_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation
		ON messages (conversation_id, create_at)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uk_messages_client_msg_id
		ON messages (conversation_id, client_msg_id) WHERE client_msg_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS usage_quota (
		store_id  BIGINT NOT NULL,
		scope     VARCHAR(32) NOT NULL,
		total     BIGINT NOT NULL DEFAULT 0,
		used      BIGINT NOT NULL DEFAULT 0,
		unlimited BOOLEAN NOT NULL DEFAULT FALSE,
		reset_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (store_id, scope)
	)`,
}

// Migrate 创建表结构
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
