package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.im.desk/internal/model"
)

var base = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return base.Add(time.Duration(sec) * time.Second)
}

func visitorMsg(conv, id int64, sec int, content string) model.Message {
	return model.Message{
		ID:             id,
		ConversationID: conv,
		SenderType:     model.SenderVisitor,
		Content:        content,
		CreatedAt:      at(sec),
	}
}

func messageIDs(seq []model.Message) []int64 {
	out := make([]int64, 0, len(seq))
	for _, m := range seq {
		out = append(out, m.ID)
	}
	return out
}

type touchRecorder struct {
	mu      sync.Mutex
	touched map[int64]time.Time
}

func (r *touchRecorder) Touch(conversationID int64, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.touched == nil {
		r.touched = make(map[int64]time.Time)
	}
	r.touched[conversationID] = at
	return true
}

func TestApply_OrdersByCreatedAt(t *testing.T) {
	s := New(nil, Options{})

	assert.Equal(t, Inserted, s.Apply(visitorMsg(1, 3, 30, "c")))
	assert.Equal(t, Inserted, s.Apply(visitorMsg(1, 1, 10, "a")))
	assert.Equal(t, Inserted, s.Apply(visitorMsg(1, 2, 20, "b")))

	assert.Equal(t, []int64{1, 2, 3}, messageIDs(s.Sequence(1)))
}

func TestApply_EqualTimestampsKeepArrivalOrder(t *testing.T) {
	s := New(nil, Options{})

	s.Apply(visitorMsg(1, 9, 10, "z"))
	s.Apply(visitorMsg(1, 4, 10, "a"))
	s.Apply(visitorMsg(1, 7, 10, "m"))

	assert.Equal(t, []int64{9, 4, 7}, messageIDs(s.Sequence(1)))
}

func TestApply_DuplicateIsNoop(t *testing.T) {
	s := New(nil, Options{})

	msg := visitorMsg(1, 5, 10, "hi")
	assert.Equal(t, Inserted, s.Apply(msg))

	msg.Content = "changed"
	assert.Equal(t, Duplicate, s.Apply(msg))

	seq := s.Sequence(1)
	require.Len(t, seq, 1)
	assert.Equal(t, "hi", seq[0].Content)
}

func TestApply_HistoryThenPushOverlap(t *testing.T) {
	s := New(nil, Options{})

	for i, id := range []int64{1, 2, 3} {
		s.Apply(visitorMsg(1, id, i*10, "m"))
	}
	// 推送通道重复送达 2
	assert.Equal(t, Duplicate, s.Apply(visitorMsg(1, 2, 10, "m")))

	assert.Equal(t, []int64{1, 2, 3}, messageIDs(s.Sequence(1)))
}

func TestApply_ReplacesProvisionalInPlace(t *testing.T) {
	s := New(nil, Options{OperatorID: 8})

	s.Apply(visitorMsg(1, 1, 0, "hi"))
	s.Apply(model.Message{
		ID:             1_700_000_000_000_000_000,
		ConversationID: 1,
		ClientMsgID:    "c1700000000000000000",
		SenderType:     model.SenderHuman,
		Content:        "hello",
		CreatedAt:      at(5),
		Provisional:    true,
	})
	s.Apply(visitorMsg(1, 3, 6, "later"))

	result := s.Apply(model.Message{
		ID:             42,
		ConversationID: 1,
		ClientMsgID:    "c1700000000000000000",
		SenderType:     model.SenderHuman,
		Content:        "hello",
		SenderMeta:     &model.SenderMeta{AgentID: 8},
		CreatedAt:      at(5),
	})
	assert.Equal(t, Replaced, result)

	seq := s.Sequence(1)
	require.Len(t, seq, 3)
	assert.Equal(t, []int64{1, 42, 3}, messageIDs(seq))
	assert.False(t, seq[1].Provisional)
}

func TestApply_HeuristicMatchWithoutToken(t *testing.T) {
	s := New(nil, Options{OperatorID: 8})

	s.Apply(model.Message{ID: 100, ConversationID: 1, SenderType: model.SenderHuman, Content: "hello", CreatedAt: at(0), Provisional: true})
	s.Apply(model.Message{ID: 101, ConversationID: 1, SenderType: model.SenderHuman, Content: "hello", CreatedAt: at(1), Provisional: true})

	// 服务端时间与本地时间有偏差，但在窗口内，匹配最早的一条
	result := s.Apply(model.Message{ID: 42, ConversationID: 1, SenderType: model.SenderHuman, Content: "hello", CreatedAt: at(0)})
	assert.Equal(t, Replaced, result)

	seq := s.Sequence(1)
	require.Len(t, seq, 2)
	assert.Equal(t, int64(42), seq[0].ID)
	assert.False(t, seq[0].Provisional)
	assert.True(t, seq[1].Provisional)
}

func TestApply_HeuristicRejectsOtherAgentsAndStaleEntries(t *testing.T) {
	s := New(nil, Options{OperatorID: 8, MatchWindow: time.Minute})

	s.Apply(model.Message{ID: 100, ConversationID: 1, SenderType: model.SenderHuman, Content: "hello", CreatedAt: at(0), Provisional: true})

	// 另一个客服发送的相同内容
	other := model.Message{ID: 43, ConversationID: 1, SenderType: model.SenderHuman, Content: "hello", SenderMeta: &model.SenderMeta{AgentID: 9}, CreatedAt: at(1)}
	assert.Equal(t, Inserted, s.Apply(other))

	// 超出窗口
	stale := model.Message{ID: 44, ConversationID: 1, SenderType: model.SenderHuman, Content: "hello", CreatedAt: at(300)}
	assert.Equal(t, Inserted, s.Apply(stale))

	// 访客消息不参与匹配
	visitor := model.Message{ID: 45, ConversationID: 1, SenderType: model.SenderVisitor, Content: "hello", CreatedAt: at(1)}
	assert.Equal(t, Inserted, s.Apply(visitor))

	assert.Len(t, s.Sequence(1), 4)
}

func TestApply_DistinctTokensNeverMatch(t *testing.T) {
	s := New(nil, Options{})

	s.Apply(model.Message{ID: 100, ConversationID: 1, ClientMsgID: "c100", SenderType: model.SenderHuman, Content: "ok", CreatedAt: at(0), Provisional: true})
	result := s.Apply(model.Message{ID: 50, ConversationID: 1, ClientMsgID: "c99", SenderType: model.SenderHuman, Content: "ok", CreatedAt: at(0)})

	assert.Equal(t, Inserted, result)
	assert.Len(t, s.Sequence(1), 2)
}

func TestApply_ReplacementMovesWhenServerTimeBreaksOrder(t *testing.T) {
	s := New(nil, Options{})

	s.Apply(model.Message{ID: 100, ConversationID: 1, ClientMsgID: "c100", SenderType: model.SenderHuman, Content: "x", CreatedAt: at(0), Provisional: true})
	s.Apply(visitorMsg(1, 2, 10, "y"))

	s.Apply(model.Message{ID: 42, ConversationID: 1, ClientMsgID: "c100", SenderType: model.SenderHuman, Content: "x", CreatedAt: at(20)})

	assert.Equal(t, []int64{2, 42}, messageIDs(s.Sequence(1)))
}

func TestRollback(t *testing.T) {
	rec := &touchRecorder{}
	s := New(rec, Options{})

	s.Apply(visitorMsg(1, 1, 0, "a"))
	s.Apply(model.Message{ID: 100, ConversationID: 1, SenderType: model.SenderHuman, Content: "oops", CreatedAt: at(600), Provisional: true})

	assert.True(t, s.Rollback(1, 100))
	assert.False(t, s.Rollback(1, 100))
	// 确认消息不能被回滚
	assert.False(t, s.Rollback(1, 1))

	assert.Equal(t, []int64{1}, messageIDs(s.Sequence(1)))

	// 回滚后活跃时间仍是发送前的值
	last, ok := s.LastActivity(1)
	require.True(t, ok)
	assert.Equal(t, at(0), last)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, at(0), rec.touched[1])
}

func TestApply_ConfirmationAdvancesActivity(t *testing.T) {
	rec := &touchRecorder{}
	s := New(rec, Options{OperatorID: 8})

	s.Apply(visitorMsg(1, 1, 0, "a"))
	s.Apply(model.Message{ID: 100, ConversationID: 1, ClientMsgID: "c1", SenderType: model.SenderHuman, Content: "hi", CreatedAt: at(5), Provisional: true})

	last, _ := s.LastActivity(1)
	assert.Equal(t, at(0), last)

	assert.Equal(t, Replaced, s.Apply(model.Message{ID: 42, ConversationID: 1, ClientMsgID: "c1", SenderType: model.SenderHuman, Content: "hi", CreatedAt: at(6)}))
	last, _ = s.LastActivity(1)
	assert.Equal(t, at(6), last)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, at(6), rec.touched[1])
}

func TestCachePersistsAcrossSelection(t *testing.T) {
	s := New(nil, Options{})

	s.Apply(visitorMsg(1, 1, 0, "a"))
	s.Apply(visitorMsg(2, 7, 0, "b"))

	// A -> B -> A，缓存不被清理
	first := s.Sequence(1)
	_ = s.Sequence(2)
	again := s.Sequence(1)

	assert.Equal(t, first, again)
	assert.True(t, s.Loaded(1))
	assert.True(t, s.Loaded(2))
}

func TestApply_UnknownConversationCachedAndActivityTracked(t *testing.T) {
	rec := &touchRecorder{}
	s := New(rec, Options{})

	s.Apply(visitorMsg(99, 1, 20, "late"))
	s.Apply(visitorMsg(99, 2, 10, "earlier"))

	assert.Equal(t, 2, s.Len(99))

	last, ok := s.LastActivity(99)
	require.True(t, ok)
	assert.Equal(t, at(20), last)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, at(20), rec.touched[99])
}

func TestFindByClientMsgIDAndDrop(t *testing.T) {
	s := New(nil, Options{})

	s.Apply(model.Message{ID: 42, ConversationID: 1, ClientMsgID: "c7", SenderType: model.SenderHuman, Content: "x", CreatedAt: at(0)})

	found, ok := s.FindByClientMsgID(1, "c7")
	require.True(t, ok)
	assert.Equal(t, int64(42), found.ID)

	_, ok = s.FindByClientMsgID(1, "")
	assert.False(t, ok)

	s.Drop(1)
	assert.False(t, s.Loaded(1))
	assert.Empty(t, s.Sequence(1))
}

func TestSequenceReturnsCopy(t *testing.T) {
	s := New(nil, Options{})
	s.Apply(model.Message{ID: 1, ConversationID: 1, Content: "a", Attachments: []model.Attachment{{URL: "u"}}, CreatedAt: at(0)})

	seq := s.Sequence(1)
	seq[0].Content = "mutated"
	seq[0].Attachments[0].URL = "mutated"

	again := s.Sequence(1)
	assert.Equal(t, "a", again[0].Content)
	assert.Equal(t, "u", again[0].Attachments[0].URL)
}

func TestSubscribe(t *testing.T) {
	s := New(nil, Options{})

	one, cancelOne := s.Subscribe(1)
	all, cancelAll := s.Subscribe(0)
	defer cancelAll()

	s.Apply(visitorMsg(2, 1, 0, "other"))
	select {
	case <-one:
		t.Fatal("不应收到其他会话的信号")
	default:
	}
	<-all

	s.Apply(visitorMsg(1, 1, 0, "a"))
	s.Apply(visitorMsg(1, 2, 1, "b"))
	<-one
	select {
	case <-one:
		t.Fatal("信号应当合并")
	default:
	}

	cancelOne()
	cancelOne()
}

func TestApply_ConcurrentWritersKeepInvariants(t *testing.T) {
	s := New(nil, Options{})

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// 所有写入方写入同一批消息，模拟历史与推送重叠
			for i := 0; i < 50; i++ {
				s.Apply(visitorMsg(1, int64(i+1), 50-i, "m"))
			}
		}()
	}
	wg.Wait()

	seq := s.Sequence(1)
	require.Len(t, seq, 50)
	for i := 1; i < len(seq); i++ {
		assert.False(t, seq[i-1].CreatedAt.After(seq[i].CreatedAt))
	}
}
