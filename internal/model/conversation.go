package model

import "time"

// ConversationStatus 会话状态
type ConversationStatus string

const (
	StatusOpen    ConversationStatus = "open"    // 进行中
	StatusPending ConversationStatus = "pending" // 待处理
	StatusClosed  ConversationStatus = "closed"  // 已关闭
)

// Valid 是否为合法状态
func (s ConversationStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusPending, StatusClosed:
		return true
	}
	return false
}

// Participant 访客身份（可能为空）
type Participant struct {
	Name  string `json:"name,omitempty" yaml:"name"`
	Email string `json:"email,omitempty" yaml:"email"`
	Phone string `json:"phone,omitempty" yaml:"phone"`
}

// AgentRef 人工客服引用
type AgentRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

// Conversation 客服会话
type Conversation struct {
	ID             int64              `json:"id"`
	StoreID        int64              `json:"storeId"`
	Status         ConversationStatus `json:"status"`
	Participant    *Participant       `json:"participant,omitempty"`
	AssignedAgent  *AgentRef          `json:"assignedAgent,omitempty"`
	UnreadCount    int                `json:"unreadCount"`
	LastActivityAt time.Time          `json:"lastActivityAt"`
}

// DisplayName 展示名称，访客信息缺失时回退到会话 ID
func (c *Conversation) DisplayName() string {
	if c.Participant != nil {
		if c.Participant.Name != "" {
			return c.Participant.Name
		}
		if c.Participant.Email != "" {
			return c.Participant.Email
		}
		if c.Participant.Phone != "" {
			return c.Participant.Phone
		}
	}
	return "visitor #" + formatID(c.ID)
}
