package draft

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sudooom.im.desk/internal/model"
)

// Draft 发送失败后保留的输入内容
type Draft struct {
	ConversationID int64              `json:"conversationId"`
	Content        string             `json:"content"`
	Attachments    []model.Attachment `json:"attachments,omitempty"`
	SavedAt        time.Time          `json:"savedAt"`
}

// Empty 是否为空草稿
func (d *Draft) Empty() bool {
	return d == nil || (d.Content == "" && len(d.Attachments) == 0)
}

// Store 草稿存储接口
// 每个会话最多保留一份草稿，新的覆盖旧的
type Store interface {
	Save(ctx context.Context, d *Draft) error
	Get(ctx context.Context, conversationID int64) (*Draft, error)
	Clear(ctx context.Context, conversationID int64) error
}

// MemoryStore 进程内草稿存储
type MemoryStore struct {
	mu     sync.RWMutex
	drafts map[int64]Draft
}

// NewMemoryStore 创建进程内草稿存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drafts: make(map[int64]Draft)}
}

// Save 保存草稿
func (s *MemoryStore) Save(ctx context.Context, d *Draft) error {
	if d == nil {
		return fmt.Errorf("draft: nil draft")
	}
	cp := *d
	cp.Attachments = append([]model.Attachment(nil), d.Attachments...)

	s.mu.Lock()
	s.drafts[d.ConversationID] = cp
	s.mu.Unlock()
	return nil
}

// Get 获取草稿，不存在时返回 nil
func (s *MemoryStore) Get(ctx context.Context, conversationID int64) (*Draft, error) {
	s.mu.RLock()
	d, ok := s.drafts[conversationID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	d.Attachments = append([]model.Attachment(nil), d.Attachments...)
	return &d, nil
}

// Clear 清除草稿
func (s *MemoryStore) Clear(ctx context.Context, conversationID int64) error {
	s.mu.Lock()
	delete(s.drafts, conversationID)
	s.mu.Unlock()
	return nil
}
