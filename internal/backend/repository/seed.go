package repository

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"sudooom.im.desk/internal/model"
)

// Seed 开发环境种子数据
type Seed struct {
	Usage         []SeedUsage        `yaml:"usage"`
	Conversations []SeedConversation `yaml:"conversations"`
}

// SeedUsage 店铺额度
type SeedUsage struct {
	StoreID   int64  `yaml:"store_id"`
	Scope     string `yaml:"scope"`
	Total     int64  `yaml:"total"`
	Unlimited bool   `yaml:"unlimited"`
}

// SeedConversation 会话及其消息
type SeedConversation struct {
	ID          int64              `yaml:"id"`
	StoreID     int64              `yaml:"store_id"`
	Status      string             `yaml:"status"`
	Participant *model.Participant `yaml:"participant"`
	Messages    []SeedMessage      `yaml:"messages"`
}

// SeedMessage 消息，Ago 为相对导入时间的偏移
type SeedMessage struct {
	ID         int64         `yaml:"id"`
	SenderType string        `yaml:"sender"`
	Content    string        `yaml:"content"`
	AgentID    int64         `yaml:"agent_id"`
	AgentName  string        `yaml:"agent_name"`
	Ago        time.Duration `yaml:"ago"`
}

// LoadSeed 读取种子文件
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return &seed, nil
}

// Build 转换为会话与消息，时间相对 now 计算
func (s *Seed) Build(now time.Time) ([]model.Conversation, []model.Message) {
	var (
		convs []model.Conversation
		msgs  []model.Message
	)
	for _, c := range s.Conversations {
		status := model.ConversationStatus(c.Status)
		if !status.Valid() {
			status = model.StatusOpen
		}
		conv := model.Conversation{
			ID:          c.ID,
			StoreID:     c.StoreID,
			Status:      status,
			Participant: c.Participant,
		}
		for _, m := range c.Messages {
			if !model.SenderType(m.SenderType).Valid() {
				slog.Warn("seed message skipped", "messageId", m.ID, "sender", m.SenderType)
				continue
			}
			msg := model.Message{
				ID:             m.ID,
				ConversationID: c.ID,
				SenderType:     model.SenderType(m.SenderType),
				Content:        m.Content,
				CreatedAt:      now.Add(-m.Ago).UTC(),
			}
			if msg.SenderType == model.SenderHuman {
				msg.SenderMeta = &model.SenderMeta{AgentID: m.AgentID, DisplayName: m.AgentName}
			}
			if msg.SenderType == model.SenderVisitor {
				conv.UnreadCount++
			}
			if msg.CreatedAt.After(conv.LastActivityAt) {
				conv.LastActivityAt = msg.CreatedAt
			}
			msgs = append(msgs, msg)
		}
		if conv.LastActivityAt.IsZero() {
			conv.LastActivityAt = now.UTC()
		}
		convs = append(convs, conv)
	}
	return convs, msgs
}

// SeedTarget 种子数据写入目标
type SeedTarget struct {
	Conversations *ConversationRepository
	Messages      *MessageRepository
	Usage         *UsageRepository
}

// Apply 导入种子数据，可重复执行
func (s *Seed) Apply(ctx context.Context, target SeedTarget) error {
	for _, u := range s.Usage {
		scope := u.Scope
		if scope == "" {
			scope = "store"
		}
		if err := target.Usage.Ensure(ctx, u.StoreID, scope, u.Total, u.Unlimited); err != nil {
			return fmt.Errorf("seed usage %d: %w", u.StoreID, err)
		}
	}

	convs, msgs := s.Build(time.Now())
	for i := range convs {
		if err := target.Conversations.Create(ctx, &convs[i]); err != nil {
			return fmt.Errorf("seed conversation %d: %w", convs[i].ID, err)
		}
	}
	for i := range msgs {
		if _, err := target.Messages.Upsert(ctx, &msgs[i]); err != nil {
			return fmt.Errorf("seed message %d: %w", msgs[i].ID, err)
		}
	}

	slog.Info("seed applied",
		"conversations", len(convs),
		"messages", len(msgs),
		"usage", len(s.Usage))
	return nil
}
