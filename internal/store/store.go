package store

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"sudooom.im.desk/internal/model"
)

// DefaultMatchWindow 临时消息与确认消息启发式匹配的时间窗口
const DefaultMatchWindow = 2 * time.Minute

// Result Apply 的处理结果
type Result int

const (
	Inserted  Result = iota + 1 // 新插入
	Replaced                    // 替换了临时消息
	Duplicate                   // 已存在，忽略
)

func (r Result) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Replaced:
		return "replaced"
	case Duplicate:
		return "duplicate"
	}
	return "unknown"
}

// ActivityTracker 接收会话最后活跃时间的推进（由会话列表排序器实现）
type ActivityTracker interface {
	Touch(conversationID int64, at time.Time) bool
}

// Options 存储配置
type Options struct {
	OperatorID  int64         // 当前登录客服 ID，用于启发式匹配
	MatchWindow time.Duration // 启发式匹配窗口，默认 2 分钟
}

type subscriber struct {
	conversationID int64 // 0 表示订阅全部会话
	ch             chan struct{}
}

// Store 消息存储
//
// 按会话缓存消息序列，序列始终按 CreatedAt 升序。历史加载、实时推送和本地
// 发送三个来源的写入都经过 Apply，在同一把锁下完成去重、排序和临时消息替换。
// 切换会话不会清理缓存。
type Store struct {
	mu        sync.RWMutex
	timelines map[int64][]model.Message
	activity  map[int64]time.Time
	subs      map[int]*subscriber
	nextSub   int

	tracker     ActivityTracker
	operatorID  int64
	matchWindow time.Duration
	logger      *slog.Logger
}

// New 创建消息存储，tracker 可为 nil
func New(tracker ActivityTracker, opts Options) *Store {
	if opts.MatchWindow <= 0 {
		opts.MatchWindow = DefaultMatchWindow
	}
	return &Store{
		timelines:   make(map[int64][]model.Message),
		activity:    make(map[int64]time.Time),
		subs:        make(map[int]*subscriber),
		tracker:     tracker,
		operatorID:  opts.OperatorID,
		matchWindow: opts.MatchWindow,
		logger:      slog.Default(),
	}
}

// Rollback 移除发送失败的临时消息，这是删除消息的唯一途径
// 找不到对应临时消息（例如已被推送确认替换）时返回 false
func (s *Store) Rollback(conversationID, provisionalID int64) bool {
	s.mu.Lock()
	seq := s.timelines[conversationID]
	idx := -1
	for i := range seq {
		if seq[i].Provisional && seq[i].ID == provisionalID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.timelines[conversationID] = append(seq[:idx:idx], seq[idx+1:]...)
	targets := s.targetsLocked(conversationID)
	s.mu.Unlock()

	signal(targets)
	s.logger.Debug("provisional message rolled back",
		"conversationId", conversationID,
		"provisionalId", provisionalID)
	return true
}

// Sequence 返回会话消息序列的副本
func (s *Store) Sequence(conversationID int64) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seq := s.timelines[conversationID]
	out := make([]model.Message, len(seq))
	for i := range seq {
		out[i] = seq[i].Clone()
	}
	return out
}

// Len 会话已缓存的消息数
func (s *Store) Len(conversationID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.timelines[conversationID])
}

// Loaded 会话是否已有缓存
func (s *Store) Loaded(conversationID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.timelines[conversationID]
	return ok
}

// FindByClientMsgID 按关联令牌查找已确认的消息
func (s *Store) FindByClientMsgID(conversationID int64, clientMsgID string) (model.Message, bool) {
	if clientMsgID == "" {
		return model.Message{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.timelines[conversationID] {
		if !m.Provisional && m.ClientMsgID == clientMsgID {
			return m.Clone(), true
		}
	}
	return model.Message{}, false
}

// LastActivity 会话最后一条消息的时间
func (s *Store) LastActivity(conversationID int64) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.activity[conversationID]
	return at, ok
}

// Drop 删除会话的全部缓存（仅用于会话被删除）
func (s *Store) Drop(conversationID int64) {
	s.mu.Lock()
	delete(s.timelines, conversationID)
	delete(s.activity, conversationID)
	targets := s.targetsLocked(conversationID)
	s.mu.Unlock()

	signal(targets)
}

// Subscribe 订阅会话变更信号，conversationID 为 0 表示订阅全部会话
// 信号会合并，收到后应重新调用 Sequence 读取
func (s *Store) Subscribe(conversationID int64) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = &subscriber{conversationID: conversationID, ch: ch}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) targetsLocked(conversationID int64) []chan struct{} {
	var targets []chan struct{}
	for _, sub := range s.subs {
		if sub.conversationID == 0 || sub.conversationID == conversationID {
			targets = append(targets, sub.ch)
		}
	}
	return targets
}

func signal(targets []chan struct{}) {
	for _, ch := range targets {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// insertPosition 返回稳定插入位置：排在所有 CreatedAt 不大于 at 的消息之后
func insertPosition(seq []model.Message, at time.Time) int {
	return sort.Search(len(seq), func(i int) bool {
		return seq[i].CreatedAt.After(at)
	})
}

func insertAt(seq []model.Message, idx int, msg model.Message) []model.Message {
	seq = append(seq, model.Message{})
	copy(seq[idx+1:], seq[idx:])
	seq[idx] = msg
	return seq
}
