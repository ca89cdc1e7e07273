package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sudooom.im.desk/internal/channel"
	"sudooom.im.desk/internal/draft"
	apperrors "sudooom.im.desk/internal/errors"
	"sudooom.im.desk/internal/history"
	"sudooom.im.desk/internal/model"
	"sudooom.im.desk/internal/quota"
	"sudooom.im.desk/internal/ranker"
	"sudooom.im.desk/internal/sender"
	"sudooom.im.desk/internal/store"
	"sudooom.im.desk/internal/workerpool"
)

// Backend 会话所需的全部后端接口（由 api.Client 实现）
type Backend interface {
	history.Fetcher
	sender.Backend
	quota.UsageFetcher
	Conversations(ctx context.Context, status model.ConversationStatus) ([]model.Conversation, error)
	UpdateStatus(ctx context.Context, conversationID int64, status model.ConversationStatus) (*model.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID int64) error
}

// Channel 推送通道（由 channel.Client 实现）
type Channel interface {
	Events() <-chan channel.Event
	SetActive(conversationID int64) error
	Active() int64
}

// Config 会话配置
type Config struct {
	OperatorID        int64
	OperatorName      string
	QuotaScope        string
	MatchWindow       time.Duration
	Workers           int
	QueueSize         int
	UploadConcurrency int
}

// Session 客服工作台会话
//
// 持有消息存储、会话列表、历史加载、发送流程和额度钩子。Run 是推送事件的
// 唯一消费者；阻塞 I/O 在 worker pool 中执行，结果统一经 Store.Apply 写回。
type Session struct {
	backend Backend
	channel Channel
	store   *store.Store
	ranker  *ranker.Ranker
	loader  *history.Loader
	sender  *sender.Pipeline
	quota   *quota.Hook
	drafts  draft.Store
	pool    *workerpool.Pool

	mu        sync.RWMutex
	selected  int64
	connected bool
	subs      map[int]chan struct{}
	nextSub   int

	notices chan Notice
	logger  *slog.Logger
}

// New 创建会话，drafts 为 nil 时使用进程内草稿
func New(backend Backend, ch Channel, drafts draft.Store, cfg Config) (*Session, error) {
	if drafts == nil {
		drafts = draft.NewMemoryStore()
	}

	rk := ranker.New()
	st := store.New(rk, store.Options{
		OperatorID:  cfg.OperatorID,
		MatchWindow: cfg.MatchWindow,
	})
	pool := workerpool.New(cfg.Workers, cfg.QueueSize, slog.Default())

	hook, err := quota.New(backend, pool, quota.Config{Scope: cfg.QuotaScope})
	if err != nil {
		_ = pool.Shutdown(context.Background())
		return nil, fmt.Errorf("create quota hook: %w", err)
	}

	s := &Session{
		backend:   backend,
		channel:   ch,
		store:     st,
		ranker:    rk,
		loader:    history.NewLoader(backend, st, rk),
		quota:     hook,
		drafts:    drafts,
		pool:      pool,
		connected: true,
		subs:      make(map[int]chan struct{}),
		notices:   make(chan Notice, 64),
		logger:    slog.Default(),
	}
	s.sender = sender.New(backend, st, drafts, hook, sender.Options{
		OperatorID:        cfg.OperatorID,
		OperatorName:      cfg.OperatorName,
		UploadConcurrency: cfg.UploadConcurrency,
	})
	hook.OnChange(func(model.Usage) { s.notify() })

	return s, nil
}

// Bootstrap 加载会话列表和额度
// 额度拉取失败只提示，不影响启动
func (s *Session) Bootstrap(ctx context.Context) error {
	if err := s.RefreshConversations(ctx); err != nil {
		return err
	}
	if err := s.quota.Refresh(ctx); err != nil {
		s.notice(LevelWarn, "额度获取失败", err)
	}
	return nil
}

// RefreshConversations 重新拉取会话列表并排序一次
func (s *Session) RefreshConversations(ctx context.Context) error {
	list, err := s.backend.Conversations(ctx, "")
	if err != nil {
		return err
	}
	s.ranker.Replace(list)
	return nil
}

// SelectConversation 切换当前会话并加载历史
// 已缓存的消息立即可读；切走不会取消已发出的加载
func (s *Session) SelectConversation(ctx context.Context, conversationID int64) (*history.History, error) {
	s.mu.Lock()
	s.selected = conversationID
	s.mu.Unlock()
	s.notify()

	if err := s.channel.SetActive(conversationID); err != nil {
		// 重连后会重新 join
		s.logger.Warn("join failed", "conversationId", conversationID, "error", err)
	}

	h, err := s.loader.Load(ctx, conversationID)
	if err != nil {
		if apperrors.IsTransient(err) {
			s.notice(LevelWarn, "历史加载失败，已显示缓存内容", err)
		}
		return nil, err
	}
	s.quota.ObserveHistory(h.Messages)
	return h, nil
}

// Selected 当前选中的会话
func (s *Session) Selected() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Send 发送消息
func (s *Session) Send(ctx context.Context, req sender.Request) (*sender.Outcome, error) {
	out, err := s.sender.Send(ctx, req)
	if err != nil && out != nil && out.Draft != nil {
		s.notice(LevelError, apperrors.GetMessage(err), err)
	}
	return out, err
}

// UpdateStatus 修改会话状态
func (s *Session) UpdateStatus(ctx context.Context, conversationID int64, status model.ConversationStatus) (*model.Conversation, error) {
	if !status.Valid() {
		return nil, apperrors.ErrInvalidParams
	}
	conv, err := s.backend.UpdateStatus(ctx, conversationID, status)
	if err != nil {
		return nil, err
	}
	s.ranker.Upsert(*conv)
	return conv, nil
}

// DeleteConversation 删除会话，返回前已从缓存和列表中移除
func (s *Session) DeleteConversation(ctx context.Context, conversationID int64) error {
	if err := s.backend.DeleteConversation(ctx, conversationID); err != nil {
		return err
	}
	s.store.Drop(conversationID)
	s.ranker.Remove(conversationID)
	if err := s.drafts.Clear(ctx, conversationID); err != nil {
		s.logger.Warn("clear draft failed", "conversationId", conversationID, "error", err)
	}

	s.mu.Lock()
	wasSelected := s.selected == conversationID
	if wasSelected {
		s.selected = 0
	}
	s.mu.Unlock()
	if wasSelected {
		_ = s.channel.SetActive(0)
	}
	s.notify()
	return nil
}

// Draft 会话的草稿
func (s *Session) Draft(ctx context.Context, conversationID int64) (*draft.Draft, error) {
	return s.drafts.Get(ctx, conversationID)
}

// Sequence 会话消息序列
func (s *Session) Sequence(conversationID int64) []model.Message {
	return s.store.Sequence(conversationID)
}

// Ranked 排序后的会话列表，filter 为 nil 时不过滤
func (s *Session) Ranked(filter *model.ConversationStatus) []model.Conversation {
	return s.ranker.Ranked(filter)
}

// Conversation 获取会话元数据
func (s *Session) Conversation(conversationID int64) (model.Conversation, bool) {
	return s.ranker.Get(conversationID)
}

// Usage 最近一次的额度
func (s *Session) Usage() (model.Usage, bool) {
	return s.quota.Usage()
}

// Connected 推送通道是否在线
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Notices 用户可见的提示
func (s *Session) Notices() <-chan Notice {
	return s.notices
}

// Subscribe 订阅任意可见状态的变化（消息、列表、额度、连接）
// 信号会合并，收到后重新读取
func (s *Session) Subscribe() (<-chan struct{}, func()) {
	out := make(chan struct{}, 1)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = out
	s.mu.Unlock()

	storeCh, cancelStore := s.store.Subscribe(0)
	rankerCh, cancelRanker := s.ranker.Subscribe()
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case <-storeCh:
			case <-rankerCh:
			}
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			close(done)
			cancelStore()
			cancelRanker()
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Close 等待进行中的后台任务结束
func (s *Session) Close(ctx context.Context) error {
	return s.pool.Shutdown(ctx)
}

func (s *Session) notify() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
