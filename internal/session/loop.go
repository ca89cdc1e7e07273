package session

import (
	"context"

	"sudooom.im.desk/internal/channel"
	"sudooom.im.desk/internal/metrics"
)

// Run 消费推送事件，直到 ctx 取消
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info("session event loop started")
	defer s.logger.Info("session event loop stopped")

	events := s.channel.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			s.handleEvent(ev)
		}
	}
}

func (s *Session) handleEvent(ev channel.Event) {
	switch ev.Type {
	case channel.EventMessage:
		if ev.Message == nil {
			return
		}
		msg := *ev.Message
		msg.Provisional = false
		result := s.store.Apply(msg)
		metrics.StoreApplyTotal.WithLabelValues("push", result.String()).Inc()
		s.quota.Observe(msg)

	case channel.EventConversation:
		if ev.Conversation == nil {
			return
		}
		s.ranker.Upsert(*ev.Conversation)

	case channel.EventDisconnected:
		s.setConnected(false)
		s.notice(LevelWarn, "实时连接已断开，正在重连", ev.Err)

	case channel.EventReconnected:
		s.setConnected(true)
		s.backfill()
	}
}

// backfill 重连后补拉当前会话的历史，弥补断线期间错过的推送
func (s *Session) backfill() {
	active := s.Selected()
	if active == 0 {
		return
	}

	task := func(ctx context.Context) {
		h, err := s.loader.Load(ctx, active)
		if err != nil {
			s.notice(LevelWarn, "重连后补拉历史失败", err)
			return
		}
		s.quota.ObserveHistory(h.Messages)
		s.logger.Info("backfilled after reconnect",
			"conversationId", active,
			"messages", len(h.Messages))
	}
	// 补拉不能丢，队列满时另起 goroutine
	if !s.pool.TrySubmit(task) {
		s.logger.Warn("worker pool busy, running backfill directly", "conversationId", active)
		go task(context.Background())
	}
}

func (s *Session) setConnected(connected bool) {
	s.mu.Lock()
	changed := s.connected != connected
	s.connected = connected
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}
