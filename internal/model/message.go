package model

import (
	"strconv"
	"time"
)

// SenderType 消息发送方类型
type SenderType string

const (
	SenderVisitor   SenderType = "visitor"         // 访客
	SenderAutomated SenderType = "automated-agent" // 自动回复（AI 客服）
	SenderHuman     SenderType = "human-agent"     // 人工客服
)

// Valid 是否为已知发送方
func (t SenderType) Valid() bool {
	switch t {
	case SenderVisitor, SenderAutomated, SenderHuman:
		return true
	}
	return false
}

// Attachment 附件引用（如图片 URL）
type Attachment struct {
	URL         string `json:"url"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

// SenderMeta 人工客服消息的展示信息
type SenderMeta struct {
	AgentID     int64  `json:"agentId,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// Message 会话消息
//
// Provisional 为 true 时 ID 是本地生成的临时 ID，服务端确认后会被替换。
type Message struct {
	ID             int64        `json:"id"`
	ConversationID int64        `json:"conversationId"`
	ClientMsgID    string       `json:"clientMsgId,omitempty"`
	SenderType     SenderType   `json:"senderType"`
	Content        string       `json:"content,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	SenderMeta     *SenderMeta  `json:"senderMeta,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	Provisional    bool         `json:"-"`
}

// IsAutomated 是否为自动回复消息
func (m *Message) IsAutomated() bool {
	return m.SenderType == SenderAutomated
}

// Clone 深拷贝，避免调用方修改缓存内的切片
func (m Message) Clone() Message {
	if m.Attachments != nil {
		m.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.SenderMeta != nil {
		meta := *m.SenderMeta
		m.SenderMeta = &meta
	}
	return m
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
