package history

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "sudooom.im.desk/internal/errors"
	"sudooom.im.desk/internal/metrics"
	"sudooom.im.desk/internal/model"
	"sudooom.im.desk/internal/proto"
	"sudooom.im.desk/internal/store"
)

// Fetcher 历史接口
type Fetcher interface {
	History(ctx context.Context, conversationID int64) (*proto.HistoryResponse, error)
}

// ConversationSink 接收会话元数据（由会话列表排序器实现）
type ConversationSink interface {
	Upsert(conv model.Conversation) bool
}

// History 加载结果
type History struct {
	Conversation model.Conversation
	Messages     []model.Message // 合并后的完整消息序列
	Stats        model.Stats
}

// Loader 历史加载器
//
// 每次打开会话（以及推送通道重连后）拉取一次历史，结果逐条经过 Store.Apply
// 合并，不会整体覆盖缓存，也不会丢掉尚未确认的临时消息。
type Loader struct {
	fetcher Fetcher
	store   *store.Store
	sink    ConversationSink
	group   singleflight.Group
	logger  *slog.Logger
}

// NewLoader 创建历史加载器，sink 可为 nil
func NewLoader(fetcher Fetcher, st *store.Store, sink ConversationSink) *Loader {
	return &Loader{
		fetcher: fetcher,
		store:   st,
		sink:    sink,
		logger:  slog.Default(),
	}
}

// Load 加载并合并会话历史
// 同一会话的并发加载合并为一次请求；调用方切走或取消不会中断已发出的请求，
// 迟到的结果依然会合并进缓存。失败时缓存保持不变。
func (l *Loader) Load(ctx context.Context, conversationID int64) (*History, error) {
	key := strconv.FormatInt(conversationID, 10)

	ch := l.group.DoChan(key, func() (interface{}, error) {
		return l.fetch(context.WithoutCancel(ctx), conversationID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*History), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Loader) fetch(ctx context.Context, conversationID int64) (*History, error) {
	start := time.Now()

	resp, err := l.fetcher.History(ctx, conversationID)
	if err != nil {
		metrics.HistoryLoadDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		l.logger.Warn("history load failed",
			"conversationId", conversationID,
			"error", err)
		if apperrors.GetCode(err) == apperrors.CodeServerError {
			return nil, apperrors.ErrNetwork.Wrap(err)
		}
		return nil, err
	}
	metrics.HistoryLoadDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	applied := 0
	for _, msg := range resp.Messages {
		msg.Provisional = false
		if msg.ConversationID == 0 {
			msg.ConversationID = conversationID
		}
		result := l.store.Apply(msg)
		metrics.StoreApplyTotal.WithLabelValues("history", result.String()).Inc()
		if result != store.Duplicate {
			applied++
		}
	}

	conv := resp.Conversation
	if conv.ID == 0 {
		conv.ID = conversationID
	}
	if last, ok := l.store.LastActivity(conversationID); ok && last.After(conv.LastActivityAt) {
		conv.LastActivityAt = last
	}
	if l.sink != nil {
		l.sink.Upsert(conv)
	}

	seq := l.store.Sequence(conversationID)
	stats := resp.Stats
	if stats.Total == 0 {
		stats = model.CountMessages(seq)
	}

	l.logger.Debug("history merged",
		"conversationId", conversationID,
		"received", len(resp.Messages),
		"applied", applied,
		"cached", len(seq))

	return &History{
		Conversation: conv,
		Messages:     seq,
		Stats:        stats,
	}, nil
}
