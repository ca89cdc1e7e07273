package service

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.im.desk/internal/backend/repository"
	"sudooom.im.desk/internal/config"
	apperrors "sudooom.im.desk/internal/errors"
	"sudooom.im.desk/internal/idgen"
	"sudooom.im.desk/internal/model"
	"sudooom.im.desk/internal/proto"
)

// ============== 内存实现 ==============

type memConversations struct {
	mu    sync.Mutex
	items map[int64]*model.Conversation
}

func (m *memConversations) GetByID(ctx context.Context, id int64) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return nil, repository.ErrConversationNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memConversations) List(ctx context.Context, storeID int64, status model.ConversationStatus) ([]model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Conversation
	for _, c := range m.items {
		if c.StoreID == storeID && (status == "" || c.Status == status) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memConversations) UpdateStatus(ctx context.Context, id int64, status model.ConversationStatus) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return nil, repository.ErrConversationNotFound
	}
	c.Status = status
	cp := *c
	return &cp, nil
}

func (m *memConversations) Touch(ctx context.Context, id int64, at time.Time, unreadDelta int) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return nil, repository.ErrConversationNotFound
	}
	if at.After(c.LastActivityAt) {
		c.LastActivityAt = at
	}
	c.UnreadCount += unreadDelta
	cp := *c
	return &cp, nil
}

func (m *memConversations) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return repository.ErrConversationNotFound
	}
	delete(m.items, id)
	return nil
}

type memMessages struct {
	mu   sync.Mutex
	list []model.Message
}

func (m *memMessages) Create(ctx context.Context, msg *model.Message) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ClientMsgID != "" {
		for _, existing := range m.list {
			if existing.ConversationID == msg.ConversationID && existing.ClientMsgID == msg.ClientMsgID {
				*msg = existing
				return false, nil
			}
		}
	}
	m.list = append(m.list, *msg)
	return true, nil
}

func (m *memMessages) ListByConversation(ctx context.Context, conversationID int64) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Message
	for _, msg := range m.list {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	return out, nil
}

type memUsage struct {
	mu    sync.Mutex
	total int64
	used  int64
	none  bool
}

func (m *memUsage) snapshot() *model.Usage {
	return &model.Usage{Total: m.total, Used: m.used, Remaining: m.total - m.used}
}

func (m *memUsage) Get(ctx context.Context, storeID int64, scope string) (*model.Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.none {
		return nil, repository.ErrUsageNotFound
	}
	return m.snapshot(), nil
}

func (m *memUsage) Consume(ctx context.Context, storeID int64, scope string) (*model.Usage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.none {
		return nil, false, repository.ErrUsageNotFound
	}
	if m.used >= m.total {
		return m.snapshot(), false, nil
	}
	m.used++
	return m.snapshot(), true, nil
}

type recordingPublisher struct {
	mu            sync.Mutex
	messages      []model.Message
	conversations []model.Conversation
}

func (p *recordingPublisher) PublishMessage(msg model.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

func (p *recordingPublisher) PublishConversation(conv model.Conversation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conversations = append(p.conversations, conv)
	return nil
}

func (p *recordingPublisher) messageCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

// ============== 测试 ==============

var (
	base     = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	operator = Operator{ID: 8, StoreID: 3, Name: "Lin"}
)

type fixture struct {
	svc   *DeskService
	convs *memConversations
	msgs  *memMessages
	usage *memUsage
	pub   *recordingPublisher
}

func newFixture(t *testing.T, agent config.AgentConfig) *fixture {
	t.Helper()
	node, err := idgen.NewNode(1)
	require.NoError(t, err)

	f := &fixture{
		convs: &memConversations{items: map[int64]*model.Conversation{
			10: {ID: 10, StoreID: 3, Status: model.StatusOpen, LastActivityAt: base},
			11: {ID: 11, StoreID: 3, Status: model.StatusClosed, LastActivityAt: base},
			20: {ID: 20, StoreID: 4, Status: model.StatusOpen, LastActivityAt: base},
		}},
		msgs:  &memMessages{},
		usage: &memUsage{total: 1},
		pub:   &recordingPublisher{},
	}
	f.svc = NewDeskService(f.convs, f.msgs, f.usage, f.pub, node, agent,
		config.UploadConfig{Dir: t.TempDir(), MaxSize: 16, PublicURL: "/files/"})

	clock := base
	f.svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return f
}

func TestSendMessage_PersistsAndPushes(t *testing.T) {
	f := newFixture(t, config.AgentConfig{})
	ctx := context.Background()

	resp, err := f.svc.SendMessage(ctx, operator, 10, &proto.SendMessageRequest{Content: "hello", ClientMsgID: "c1"})
	require.NoError(t, err)

	assert.NotZero(t, resp.Message.ID)
	assert.Equal(t, model.SenderHuman, resp.Message.SenderType)
	require.NotNil(t, resp.Message.SenderMeta)
	assert.Equal(t, int64(8), resp.Message.SenderMeta.AgentID)
	assert.Empty(t, resp.Replies)

	assert.Equal(t, 1, f.pub.messageCount())
	require.Len(t, f.pub.conversations, 1)
	assert.Equal(t, resp.Message.CreatedAt, f.pub.conversations[0].LastActivityAt)
}

func TestSendMessage_RetryWithSameClientMsgID(t *testing.T) {
	f := newFixture(t, config.AgentConfig{})
	ctx := context.Background()

	first, err := f.svc.SendMessage(ctx, operator, 10, &proto.SendMessageRequest{Content: "hello", ClientMsgID: "c1"})
	require.NoError(t, err)
	second, err := f.svc.SendMessage(ctx, operator, 10, &proto.SendMessageRequest{Content: "hello", ClientMsgID: "c1"})
	require.NoError(t, err)

	assert.Equal(t, first.Message.ID, second.Message.ID)
	assert.Equal(t, 1, f.pub.messageCount())
}

func TestSendMessage_Validation(t *testing.T) {
	f := newFixture(t, config.AgentConfig{})
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, operator, 10, &proto.SendMessageRequest{Content: "  "})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidParams))

	_, err = f.svc.SendMessage(ctx, operator, 999, &proto.SendMessageRequest{Content: "x"})
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	// 其他店铺的会话不可见
	_, err = f.svc.SendMessage(ctx, operator, 20, &proto.SendMessageRequest{Content: "x"})
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestPostVisitorMessage_AutoReplyConsumesQuota(t *testing.T) {
	f := newFixture(t, config.AgentConfig{Enabled: true})
	ctx := context.Background()

	resp, err := f.svc.PostVisitorMessage(ctx, operator, 10, "where is my order")
	require.NoError(t, err)

	require.Len(t, resp.Replies, 1)
	reply := resp.Replies[0]
	assert.Equal(t, model.SenderAutomated, reply.SenderType)
	assert.True(t, reply.CreatedAt.After(resp.Message.CreatedAt))
	require.NotNil(t, resp.Usage)
	assert.Equal(t, int64(0), resp.Usage.Remaining)

	conv, _ := f.convs.GetByID(ctx, 10)
	assert.Equal(t, 1, conv.UnreadCount)
	assert.Equal(t, 2, f.pub.messageCount())

	// 额度用完后不再回复
	resp, err = f.svc.PostVisitorMessage(ctx, operator, 10, "hello?")
	require.NoError(t, err)
	assert.Empty(t, resp.Replies)
	require.NotNil(t, resp.Usage)
	assert.True(t, resp.Usage.Exhausted())
}

func TestPostVisitorMessage_ClosedConversationNoReply(t *testing.T) {
	f := newFixture(t, config.AgentConfig{Enabled: true})

	resp, err := f.svc.PostVisitorMessage(context.Background(), operator, 11, "anyone?")
	require.NoError(t, err)
	assert.Empty(t, resp.Replies)
	assert.Nil(t, resp.Usage)
}

func TestPostVisitorMessage_DelayedReplyArrivesByPush(t *testing.T) {
	f := newFixture(t, config.AgentConfig{Enabled: true, Delay: 10 * time.Millisecond})

	resp, err := f.svc.PostVisitorMessage(context.Background(), operator, 10, "hi")
	require.NoError(t, err)
	assert.Empty(t, resp.Replies)

	require.Eventually(t, func() bool {
		return f.pub.messageCount() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestHistory(t *testing.T) {
	f := newFixture(t, config.AgentConfig{Enabled: true})
	ctx := context.Background()

	_, err := f.svc.PostVisitorMessage(ctx, operator, 10, "hi")
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, operator, 10, &proto.SendMessageRequest{Content: "hello"})
	require.NoError(t, err)

	history, err := f.svc.History(ctx, operator, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), history.Conversation.ID)
	assert.Len(t, history.Messages, 3)
	assert.Equal(t, model.Stats{Total: 3, Visitor: 1, Automated: 1, Human: 1}, history.Stats)

	empty, err := f.svc.History(ctx, operator, 11)
	require.NoError(t, err)
	assert.NotNil(t, empty.Messages)
}

func TestListConversations(t *testing.T) {
	f := newFixture(t, config.AgentConfig{})
	ctx := context.Background()

	all, err := f.svc.ListConversations(ctx, operator, "")
	require.NoError(t, err)
	assert.Len(t, all.List, 2)

	closed, err := f.svc.ListConversations(ctx, operator, model.StatusClosed)
	require.NoError(t, err)
	require.Len(t, closed.List, 1)
	assert.Equal(t, int64(11), closed.List[0].ID)

	_, err = f.svc.ListConversations(ctx, operator, "archived")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidParams))
}

func TestUpdateStatusAndDelete(t *testing.T) {
	f := newFixture(t, config.AgentConfig{})
	ctx := context.Background()

	conv, err := f.svc.UpdateStatus(ctx, operator, 10, model.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, conv.Status)
	require.Len(t, f.pub.conversations, 1)

	_, err = f.svc.UpdateStatus(ctx, operator, 10, "archived")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidParams))

	require.NoError(t, f.svc.DeleteConversation(ctx, operator, 10))
	err = f.svc.DeleteConversation(ctx, operator, 10)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestUsage(t *testing.T) {
	f := newFixture(t, config.AgentConfig{})
	ctx := context.Background()

	usage, err := f.svc.Usage(ctx, operator, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), usage.Remaining)

	f.usage.none = true
	usage, err = f.svc.Usage(ctx, operator, "store")
	require.NoError(t, err)
	assert.True(t, usage.IsUnlimited)
}

func TestUpload(t *testing.T) {
	f := newFixture(t, config.AgentConfig{})
	ctx := context.Background()

	att, err := f.svc.Upload(ctx, "Receipt.PNG", "image/png", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(att.URL, "/files/"))
	assert.True(t, strings.HasSuffix(att.URL, ".png"))
	assert.Equal(t, "Receipt.PNG", att.Name)

	data, err := os.ReadFile(filepath.Join(f.svc.upload.Dir, strings.TrimPrefix(att.URL, "/files/")))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	_, err = f.svc.Upload(ctx, "big.bin", "", strings.NewReader(strings.Repeat("x", 17)))
	assert.True(t, apperrors.Is(err, apperrors.ErrUploadFailed))
}

func TestUpload_DetectsContentType(t *testing.T) {
	f := newFixture(t, config.AgentConfig{})

	// PNG 文件头
	att, err := f.svc.Upload(context.Background(), "shot", "application/octet-stream",
		strings.NewReader("\x89PNG\r\n\x1a\n"))
	require.NoError(t, err)
	assert.Equal(t, "image/png", att.ContentType)
}

func TestReplyTextTruncates(t *testing.T) {
	long := strings.Repeat("订", 50)
	text := replyText(long)
	assert.Contains(t, text, strings.Repeat("订", 40)+"...")
	assert.NotContains(t, text, strings.Repeat("订", 41))
}
