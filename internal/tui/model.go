package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"sudooom.im.desk/internal/draft"
	apperrors "sudooom.im.desk/internal/errors"
	"sudooom.im.desk/internal/history"
	"sudooom.im.desk/internal/model"
	"sudooom.im.desk/internal/sender"
	"sudooom.im.desk/internal/session"
)

// Dashboard 工作台所需的会话接口（由 session.Session 实现）
type Dashboard interface {
	SelectConversation(ctx context.Context, conversationID int64) (*history.History, error)
	Selected() int64
	Send(ctx context.Context, req sender.Request) (*sender.Outcome, error)
	UpdateStatus(ctx context.Context, conversationID int64, status model.ConversationStatus) (*model.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID int64) error
	Draft(ctx context.Context, conversationID int64) (*draft.Draft, error)
	Sequence(conversationID int64) []model.Message
	Ranked(filter *model.ConversationStatus) []model.Conversation
	Conversation(conversationID int64) (model.Conversation, bool)
	Usage() (model.Usage, bool)
	Connected() bool
	Notices() <-chan session.Notice
	Subscribe() (<-chan struct{}, func())
}

// Focus 当前焦点
type Focus int

const (
	FocusList Focus = iota
	FocusInput
)

// filters 会话列表筛选，nil 表示全部
var filters = []*model.ConversationStatus{
	nil,
	statusPtr(model.StatusOpen),
	statusPtr(model.StatusPending),
	statusPtr(model.StatusClosed),
}

func statusPtr(s model.ConversationStatus) *model.ConversationStatus { return &s }

const listWidth = 32

type (
	refreshMsg struct{}
	noticeMsg  session.Notice
	historyMsg struct {
		conversationID int64
		draft          *draft.Draft
		err            error
	}
	sendResultMsg struct {
		conversationID int64
		outcome        *sender.Outcome
		err            error
	}
	actionMsg struct {
		text string
		err  error
	}
)

// Model 工作台界面
type Model struct {
	ctx  context.Context
	dash Dashboard
	keys KeyBindings

	updates   <-chan struct{}
	unsubFunc func()

	list      []model.Conversation
	cursor    int
	filterIdx int

	messages viewport.Model
	input    textinput.Model
	focus    Focus

	width  int
	height int

	notice  *session.Notice
	sending bool
}

// New 创建工作台界面
func New(ctx context.Context, dash Dashboard) Model {
	input := textinput.New()
	input.Placeholder = "type a reply, enter to send"
	input.CharLimit = 4000
	input.Prompt = "> "

	updates, unsub := dash.Subscribe()
	m := Model{
		ctx:       ctx,
		dash:      dash,
		keys:      DefaultKeyBindings(),
		updates:   updates,
		unsubFunc: unsub,
		messages:  viewport.New(60, 20),
		input:     input,
	}
	m.reload()
	return m
}

// Close 取消订阅
func (m Model) Close() {
	if m.unsubFunc != nil {
		m.unsubFunc()
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitForUpdate(), m.waitForNotice())
}

func (m Model) waitForUpdate() tea.Cmd {
	ch := m.updates
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return refreshMsg{}
	}
}

func (m Model) waitForNotice() tea.Cmd {
	ch := m.dash.Notices()
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return noticeMsg(n)
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		m.renderMessages(true)

	case refreshMsg:
		m.reload()
		cmds = append(cmds, m.waitForUpdate())

	case noticeMsg:
		n := session.Notice(msg)
		m.notice = &n
		cmds = append(cmds, m.waitForNotice())

	case historyMsg:
		if msg.conversationID != m.dash.Selected() {
			break
		}
		if msg.err != nil && !apperrors.IsTransient(msg.err) {
			m.notice = &session.Notice{Level: session.LevelError, Text: apperrors.GetMessage(msg.err), Err: msg.err}
		}
		if msg.draft != nil && !msg.draft.Empty() && m.input.Value() == "" {
			m.input.SetValue(msg.draft.Content)
		}
		m.renderMessages(true)

	case sendResultMsg:
		m.sending = false
		if msg.err != nil && msg.outcome != nil && msg.outcome.Draft != nil &&
			msg.conversationID == m.dash.Selected() && m.input.Value() == "" {
			m.input.SetValue(msg.outcome.Draft.Content)
		}
		if msg.err != nil && (msg.outcome == nil || msg.outcome.Draft == nil) {
			m.notice = &session.Notice{Level: session.LevelError, Text: apperrors.GetMessage(msg.err), Err: msg.err}
		}

	case actionMsg:
		if msg.err != nil {
			m.notice = &session.Notice{Level: session.LevelError, Text: apperrors.GetMessage(msg.err), Err: msg.err}
		} else {
			m.notice = &session.Notice{Level: session.LevelInfo, Text: msg.text}
		}

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) && (m.focus == FocusList || msg.String() == "ctrl+c") {
			m.Close()
			return m, tea.Quit
		}
		if m.focus == FocusInput {
			cmds = append(cmds, m.updateInput(msg))
		} else {
			cmds = append(cmds, m.updateList(msg))
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) updateList(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.list)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Select):
		return m.selectCurrent()
	case key.Matches(msg, m.keys.Tab):
		if m.dash.Selected() != 0 {
			m.setFocus(FocusInput)
		}
	case key.Matches(msg, m.keys.Filter):
		m.filterIdx = (m.filterIdx + 1) % len(filters)
		m.cursor = 0
		m.reload()
	case key.Matches(msg, m.keys.Open):
		return m.setStatus(model.StatusOpen)
	case key.Matches(msg, m.keys.Pending):
		return m.setStatus(model.StatusPending)
	case key.Matches(msg, m.keys.Close):
		return m.setStatus(model.StatusClosed)
	case key.Matches(msg, m.keys.Delete):
		return m.deleteCurrent()
	case key.Matches(msg, m.keys.PageUp), key.Matches(msg, m.keys.PageDown):
		var cmd tea.Cmd
		m.messages, cmd = m.messages.Update(msg)
		return cmd
	}
	return nil
}

func (m *Model) updateInput(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Cancel), key.Matches(msg, m.keys.Tab):
		m.setFocus(FocusList)
		return nil
	case key.Matches(msg, m.keys.Submit):
		return m.submit()
	case key.Matches(msg, m.keys.PageUp), key.Matches(msg, m.keys.PageDown):
		var cmd tea.Cmd
		m.messages, cmd = m.messages.Update(msg)
		return cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd
}

func (m *Model) setFocus(f Focus) {
	m.focus = f
	if f == FocusInput {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
}

// selectCurrent 选中光标所在会话；缓存内容立即显示，历史在后台加载
func (m *Model) selectCurrent() tea.Cmd {
	if m.cursor >= len(m.list) {
		return nil
	}
	id := m.list[m.cursor].ID
	if id != m.dash.Selected() {
		m.input.Reset()
	}
	dash, ctx := m.dash, m.ctx

	return func() tea.Msg {
		_, err := dash.SelectConversation(ctx, id)
		d, derr := dash.Draft(ctx, id)
		if derr != nil {
			slog.Warn("load draft failed", "conversationId", id, "error", derr)
		}
		return historyMsg{conversationID: id, draft: d, err: err}
	}
}

func (m *Model) submit() tea.Cmd {
	id := m.dash.Selected()
	content := strings.TrimSpace(m.input.Value())
	if id == 0 || content == "" || m.sending {
		return nil
	}
	m.input.Reset()
	m.sending = true
	dash, ctx := m.dash, m.ctx

	return func() tea.Msg {
		out, err := dash.Send(ctx, sender.Request{ConversationID: id, Content: content})
		return sendResultMsg{conversationID: id, outcome: out, err: err}
	}
}

func (m *Model) setStatus(status model.ConversationStatus) tea.Cmd {
	if m.cursor >= len(m.list) {
		return nil
	}
	conv := m.list[m.cursor]
	if conv.Status == status {
		return nil
	}
	dash, ctx := m.dash, m.ctx

	return func() tea.Msg {
		_, err := dash.UpdateStatus(ctx, conv.ID, status)
		return actionMsg{text: fmt.Sprintf("%s marked %s", conv.DisplayName(), status), err: err}
	}
}

func (m *Model) deleteCurrent() tea.Cmd {
	if m.cursor >= len(m.list) {
		return nil
	}
	conv := m.list[m.cursor]
	dash, ctx := m.dash, m.ctx

	return func() tea.Msg {
		err := dash.DeleteConversation(ctx, conv.ID)
		return actionMsg{text: fmt.Sprintf("%s deleted", conv.DisplayName()), err: err}
	}
}

// reload 重新读取列表与当前会话消息，光标跟随原会话
func (m *Model) reload() {
	var current int64
	if m.cursor < len(m.list) {
		current = m.list[m.cursor].ID
	}

	m.list = m.dash.Ranked(filters[m.filterIdx])
	m.cursor = 0
	for i := range m.list {
		if m.list[i].ID == current {
			m.cursor = i
			break
		}
	}

	m.renderMessages(m.messages.AtBottom())
}

func (m *Model) renderMessages(stickBottom bool) {
	id := m.dash.Selected()
	if id == 0 {
		m.messages.SetContent(mutedStyle.Render("select a conversation"))
		return
	}
	conv, _ := m.dash.Conversation(id)
	m.messages.SetContent(renderSequence(conv, m.dash.Sequence(id), m.messages.Width))
	if stickBottom {
		m.messages.GotoBottom()
	}
}

func (m *Model) resize() {
	chatWidth := m.width - listWidth - 4
	if chatWidth < 20 {
		chatWidth = 20
	}
	chatHeight := m.height - 6
	if chatHeight < 3 {
		chatHeight = 3
	}
	m.messages.Width = chatWidth - 2
	m.messages.Height = chatHeight - 2
	m.input.Width = chatWidth - 4
}
