package channel

import "sudooom.im.desk/internal/model"

// EventType 推送通道事件类型
type EventType int

const (
	EventMessage      EventType = iota + 1 // 新消息
	EventConversation                      // 会话元数据变更
	EventDisconnected                      // 连接断开
	EventReconnected                       // 重连成功（已重新 join）
)

func (t EventType) String() string {
	switch t {
	case EventMessage:
		return "message"
	case EventConversation:
		return "conversation"
	case EventDisconnected:
		return "disconnected"
	case EventReconnected:
		return "reconnected"
	}
	return "unknown"
}

// Event 推送通道事件
type Event struct {
	Type         EventType
	Message      *model.Message      // EventMessage
	Conversation *model.Conversation // EventConversation
	Err          error               // EventDisconnected
}
