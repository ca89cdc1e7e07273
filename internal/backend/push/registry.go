package push

import (
	"sort"
	"sync"
)

// Registry 记录每个客服会话当前关注的会话
// 一个 session 同时只关注一个会话，重新 join 会覆盖
type Registry struct {
	mu        sync.RWMutex
	bySession map[string]int64
	byConv    map[int64]map[string]struct{}
}

// NewRegistry 创建关注表
func NewRegistry() *Registry {
	return &Registry{
		bySession: make(map[string]int64),
		byConv:    make(map[int64]map[string]struct{}),
	}
}

// Join 关注会话，conversationID 为 0 表示取消关注
func (r *Registry) Join(sessionID string, conversationID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.bySession[sessionID]; ok {
		if prev == conversationID {
			return
		}
		r.removeLocked(sessionID, prev)
	}
	if conversationID == 0 {
		return
	}

	r.bySession[sessionID] = conversationID
	sessions := r.byConv[conversationID]
	if sessions == nil {
		sessions = make(map[string]struct{})
		r.byConv[conversationID] = sessions
	}
	sessions[sessionID] = struct{}{}
}

// Leave 移除 session
func (r *Registry) Leave(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.bySession[sessionID]; ok {
		r.removeLocked(sessionID, prev)
	}
}

// Sessions 关注某会话的全部 session，结果有序
func (r *Registry) Sessions(conversationID int64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := r.byConv[conversationID]
	out := make([]string, 0, len(sessions))
	for id := range sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Joined session 当前关注的会话
func (r *Registry) Joined(sessionID string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.bySession[sessionID]
	return id, ok
}

func (r *Registry) removeLocked(sessionID string, conversationID int64) {
	delete(r.bySession, sessionID)
	if sessions := r.byConv[conversationID]; sessions != nil {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(r.byConv, conversationID)
		}
	}
}
