package push

import (
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"sudooom.im.desk/internal/proto"
)

// JoinSubscriber 处理客服端的 join 声明
// 不使用队列组：每个 deskd 实例都需要完整的关注表
type JoinSubscriber struct {
	nc           *nats.Conn
	registry     *Registry
	subscription *nats.Subscription
	logger       *slog.Logger
}

// NewJoinSubscriber 创建 join 订阅器
func NewJoinSubscriber(nc *nats.Conn, registry *Registry) *JoinSubscriber {
	return &JoinSubscriber{
		nc:       nc,
		registry: registry,
		logger:   slog.Default(),
	}
}

// Start 启动订阅
func (s *JoinSubscriber) Start() error {
	sub, err := s.nc.Subscribe(proto.SubjectJoin, func(msg *nats.Msg) {
		s.handleJoin(msg.Data)
	})
	if err != nil {
		return err
	}
	s.subscription = sub
	s.logger.Info("join subscriber started", "subject", proto.SubjectJoin)
	return nil
}

func (s *JoinSubscriber) handleJoin(data []byte) {
	var intent proto.JoinIntent
	if err := json.Unmarshal(data, &intent); err != nil {
		s.logger.Warn("malformed join intent", "error", err)
		return
	}
	if intent.SessionID == "" {
		s.logger.Warn("join intent without session id")
		return
	}

	s.registry.Join(intent.SessionID, intent.ConversationID)
	s.logger.Debug("session joined",
		"sessionId", intent.SessionID,
		"conversationId", intent.ConversationID,
		"operatorId", intent.OperatorID)
}

// Stop 停止订阅
func (s *JoinSubscriber) Stop() error {
	if s.subscription != nil {
		if err := s.subscription.Unsubscribe(); err != nil {
			s.logger.Error("failed to unsubscribe", "error", err)
			return err
		}
	}
	s.logger.Info("join subscriber stopped")
	return nil
}
