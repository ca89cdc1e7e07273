package ranker

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"sudooom.im.desk/internal/model"
)

// Ranker 会话列表排序器
//
// 列表按 LastActivityAt 倒序排列（时间相同按 ID 倒序）。只有消息驱动的
// 时间戳前移、新会话加入或删除才会触发重排，单纯的元数据刷新只更新字段，
// 不会打乱客服正在查看的列表顺序。
type Ranker struct {
	mu      sync.RWMutex
	convs   map[int64]*model.Conversation
	order   []int64
	pending map[int64]time.Time // 尚未加载的会话收到的消息时间
	subs    map[int]chan struct{}
	nextSub int
	logger  *slog.Logger
}

// New 创建排序器
func New() *Ranker {
	return &Ranker{
		convs:   make(map[int64]*model.Conversation),
		pending: make(map[int64]time.Time),
		subs:    make(map[int]chan struct{}),
		logger:  slog.Default(),
	}
}

// Replace 用会话列表接口的结果重建集合并排序一次
func (r *Ranker) Replace(list []model.Conversation) {
	r.mu.Lock()
	r.convs = make(map[int64]*model.Conversation, len(list))
	for i := range list {
		conv := list[i]
		r.applyPendingLocked(&conv)
		r.convs[conv.ID] = &conv
	}
	r.rerankLocked()
	r.mu.Unlock()

	r.notify()
}

// Upsert 合并单个会话的元数据
// 仅在会话是新加入的或 LastActivityAt 前移时重排，返回是否重排
func (r *Ranker) Upsert(conv model.Conversation) bool {
	r.mu.Lock()
	reranked := false
	r.applyPendingLocked(&conv)

	existing, ok := r.convs[conv.ID]
	switch {
	case !ok:
		r.convs[conv.ID] = &conv
		r.rerankLocked()
		reranked = true
	default:
		if existing.LastActivityAt.After(conv.LastActivityAt) {
			// 时间戳只前进不回退
			conv.LastActivityAt = existing.LastActivityAt
		}
		advanced := conv.LastActivityAt.After(existing.LastActivityAt)
		*existing = conv
		if advanced {
			r.rerankLocked()
			reranked = true
		}
	}
	r.mu.Unlock()

	r.notify()
	return reranked
}

// Touch 消息写入后推进会话的最后活跃时间
// 未知会话的时间先暂存，会话加载后生效；返回是否重排
func (r *Ranker) Touch(conversationID int64, at time.Time) bool {
	r.mu.Lock()
	conv, ok := r.convs[conversationID]
	if !ok {
		if at.After(r.pending[conversationID]) {
			r.pending[conversationID] = at
		}
		r.mu.Unlock()
		return false
	}
	if !at.After(conv.LastActivityAt) {
		r.mu.Unlock()
		return false
	}
	conv.LastActivityAt = at
	r.rerankLocked()
	r.mu.Unlock()

	r.notify()
	return true
}

// Remove 删除会话
func (r *Ranker) Remove(conversationID int64) bool {
	r.mu.Lock()
	_, ok := r.convs[conversationID]
	delete(r.convs, conversationID)
	delete(r.pending, conversationID)
	if ok {
		r.rerankLocked()
	}
	r.mu.Unlock()

	if ok {
		r.notify()
	}
	return ok
}

// Get 获取会话
func (r *Ranker) Get(conversationID int64) (model.Conversation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conv, ok := r.convs[conversationID]
	if !ok {
		return model.Conversation{}, false
	}
	return *conv, true
}

// Ranked 返回排好序的会话列表，status 为 nil 时不过滤
func (r *Ranker) Ranked(status *model.ConversationStatus) []model.Conversation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]model.Conversation, 0, len(r.order))
	for _, id := range r.order {
		conv := r.convs[id]
		if status != nil && conv.Status != *status {
			continue
		}
		result = append(result, *conv)
	}
	return result
}

// Len 会话数量
func (r *Ranker) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.convs)
}

// Subscribe 订阅列表变更信号，返回取消函数
// 信号会合并，订阅者收到后应重新调用 Ranked
func (r *Ranker) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.mu.Unlock()

	return ch, func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

func (r *Ranker) applyPendingLocked(conv *model.Conversation) {
	if at, ok := r.pending[conv.ID]; ok {
		if at.After(conv.LastActivityAt) {
			conv.LastActivityAt = at
		}
		delete(r.pending, conv.ID)
	}
}

func (r *Ranker) rerankLocked() {
	order := make([]int64, 0, len(r.convs))
	for id := range r.convs {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := r.convs[order[i]], r.convs[order[j]]
		if !a.LastActivityAt.Equal(b.LastActivityAt) {
			return a.LastActivityAt.After(b.LastActivityAt)
		}
		return a.ID > b.ID
	})
	r.order = order
}

func (r *Ranker) notify() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ch := range r.subs {
		select {
		case ch <- struct{}{}:
		default:
			// 已有未消费的信号
		}
	}
}
