package push

import (
	"log/slog"

	"github.com/nats-io/nats.go"

	"sudooom.im.desk/internal/metrics"
	"sudooom.im.desk/internal/model"
	"sudooom.im.desk/internal/proto"
)

// Publisher 推送发布器
//
// new-message 只发给 join 了该会话的 session；conversation-updated 发到店铺
// 广播主题，所有在线客服据此重排会话列表。
type Publisher struct {
	nc       *nats.Conn
	registry *Registry
	logger   *slog.Logger
}

// NewPublisher 创建推送发布器
func NewPublisher(nc *nats.Conn, registry *Registry) *Publisher {
	return &Publisher{
		nc:       nc,
		registry: registry,
		logger:   slog.Default(),
	}
}

// PublishMessage 推送新消息到关注该会话的 session
func (p *Publisher) PublishMessage(msg model.Message) error {
	sessions := p.registry.Sessions(msg.ConversationID)
	if len(sessions) == 0 {
		return nil
	}

	data, err := proto.EncodePush(&proto.PushEnvelope{Type: proto.PushNewMessage, Message: &msg})
	if err != nil {
		p.logger.Error("failed to marshal push", "error", err)
		return err
	}

	for _, sessionID := range sessions {
		if err := p.nc.Publish(proto.BuildSessionSubject(sessionID), data); err != nil {
			p.logger.Error("failed to publish message",
				"sessionId", sessionID,
				"conversationId", msg.ConversationID,
				"error", err)
			return err
		}
		metrics.PushPublishedTotal.WithLabelValues(string(proto.PushNewMessage)).Inc()
	}

	p.logger.Debug("published message",
		"conversationId", msg.ConversationID,
		"messageId", msg.ID,
		"sessions", len(sessions))
	return nil
}

// PublishConversation 广播会话变更到店铺
func (p *Publisher) PublishConversation(conv model.Conversation) error {
	data, err := proto.EncodePush(&proto.PushEnvelope{Type: proto.PushConversationUpdated, Conversation: &conv})
	if err != nil {
		p.logger.Error("failed to marshal push", "error", err)
		return err
	}

	if err := p.nc.Publish(proto.BuildStoreSubject(conv.StoreID), data); err != nil {
		p.logger.Error("failed to broadcast conversation",
			"storeId", conv.StoreID,
			"conversationId", conv.ID,
			"error", err)
		return err
	}
	metrics.PushPublishedTotal.WithLabelValues(string(proto.PushConversationUpdated)).Inc()
	return nil
}
