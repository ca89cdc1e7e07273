package proto

import (
	"encoding/json"
	"fmt"

	"sudooom.im.desk/internal/model"
)

// PushType 推送事件类型
type PushType string

const (
	PushNewMessage          PushType = "new-message"
	PushConversationUpdated PushType = "conversation-updated"
)

// PushEnvelope 推送消息封装
type PushEnvelope struct {
	Type         PushType            `json:"type"`
	Message      *model.Message      `json:"message,omitempty"`
	Conversation *model.Conversation `json:"conversation,omitempty"`
}

// JoinIntent 客服声明当前关注的会话
// 服务端据此把该会话的新消息推送到 session 主题
type JoinIntent struct {
	SessionID      string `json:"sessionId"`
	ConversationID int64  `json:"conversationId"`
	OperatorID     int64  `json:"operatorId,omitempty"`
	StoreID        int64  `json:"storeId,omitempty"`
}

// DecodePush 解析推送消息，字段缺失的事件视为无效
func DecodePush(data []byte) (*PushEnvelope, error) {
	var env PushEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal push: %w", err)
	}

	switch env.Type {
	case PushNewMessage:
		if env.Message == nil || env.Message.ID == 0 || env.Message.ConversationID == 0 {
			return nil, fmt.Errorf("new-message without message")
		}
	case PushConversationUpdated:
		if env.Conversation == nil || env.Conversation.ID == 0 {
			return nil, fmt.Errorf("conversation-updated without conversation")
		}
	default:
		return nil, fmt.Errorf("unknown push type %q", env.Type)
	}
	return &env, nil
}

// EncodePush 编码推送消息
func EncodePush(env *PushEnvelope) ([]byte, error) {
	return json.Marshal(env)
}
