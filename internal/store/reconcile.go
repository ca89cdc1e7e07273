package store

import (
	"time"

	"sudooom.im.desk/internal/model"
)

// Apply 写入一条消息（历史、推送、发送确认、本地临时消息共用）
//
// 处理顺序：
//  1. 已存在相同 ID 的确认消息，忽略
//  2. 能匹配到临时消息，原位替换
//  3. 否则按 CreatedAt 插入到稳定位置（时间相同按到达顺序）
//
// 未知会话的消息同样缓存。Apply 不返回错误。
// 会话活跃时间只随确认消息推进。
func (s *Store) Apply(msg model.Message) Result {
	msg = msg.Clone()

	s.mu.Lock()
	seq := s.timelines[msg.ConversationID]

	var result Result
	switch {
	case s.containsLocked(seq, msg):
		s.mu.Unlock()
		return Duplicate
	default:
		if idx := s.matchProvisional(seq, msg); idx >= 0 {
			seq = replaceAt(seq, idx, msg)
			result = Replaced
		} else {
			seq = insertAt(seq, insertPosition(seq, msg.CreatedAt), msg)
			result = Inserted
		}
	}
	s.timelines[msg.ConversationID] = seq

	// 临时消息可能被回滚，只有确认消息推进活跃时间
	advanced := false
	if last, ok := s.activity[msg.ConversationID]; !msg.Provisional && (!ok || msg.CreatedAt.After(last)) {
		s.activity[msg.ConversationID] = msg.CreatedAt
		advanced = true
	}
	targets := s.targetsLocked(msg.ConversationID)
	s.mu.Unlock()

	signal(targets)
	if advanced && s.tracker != nil {
		s.tracker.Touch(msg.ConversationID, msg.CreatedAt)
	}

	if result == Replaced {
		s.logger.Debug("provisional message confirmed",
			"conversationId", msg.ConversationID,
			"messageId", msg.ID,
			"clientMsgId", msg.ClientMsgID)
	}
	return result
}

// containsLocked 同一会话内确认 ID 唯一；临时消息按临时 ID 去重
func (s *Store) containsLocked(seq []model.Message, msg model.Message) bool {
	for i := range seq {
		if seq[i].ID == msg.ID && seq[i].Provisional == msg.Provisional {
			return true
		}
	}
	return false
}

// matchProvisional 为确认消息查找对应的临时消息，返回下标，找不到返回 -1
func (s *Store) matchProvisional(seq []model.Message, msg model.Message) int {
	if msg.Provisional {
		return -1
	}

	// 优先按关联令牌精确匹配
	if msg.ClientMsgID != "" {
		for i := range seq {
			if seq[i].Provisional && seq[i].ClientMsgID == msg.ClientMsgID {
				return i
			}
		}
	}

	if !s.fromLocalOperator(msg) {
		return -1
	}

	// 启发式匹配：内容、附件数相同且在时间窗口内，取最早的一条
	for i := range seq {
		p := seq[i]
		if !p.Provisional {
			continue
		}
		if p.ClientMsgID != "" && msg.ClientMsgID != "" {
			// 两边都带令牌却不相等，一定是不同的发送
			continue
		}
		if p.Content != msg.Content || len(p.Attachments) != len(msg.Attachments) {
			continue
		}
		if absDuration(msg.CreatedAt.Sub(p.CreatedAt)) > s.matchWindow {
			continue
		}
		return i
	}
	return -1
}

func (s *Store) fromLocalOperator(msg model.Message) bool {
	if msg.SenderType != model.SenderHuman {
		return false
	}
	if msg.SenderMeta == nil || msg.SenderMeta.AgentID == 0 {
		return true
	}
	return s.operatorID == 0 || msg.SenderMeta.AgentID == s.operatorID
}

// replaceAt 原位替换；只有服务端时间戳导致相邻顺序被破坏时才移动到新位置
func replaceAt(seq []model.Message, idx int, msg model.Message) []model.Message {
	msg.Provisional = false

	inOrder := (idx == 0 || !seq[idx-1].CreatedAt.After(msg.CreatedAt)) &&
		(idx == len(seq)-1 || !msg.CreatedAt.After(seq[idx+1].CreatedAt))
	if inOrder {
		seq[idx] = msg
		return seq
	}

	seq = append(seq[:idx], seq[idx+1:]...)
	return insertAt(seq, insertPosition(seq, msg.CreatedAt), msg)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
