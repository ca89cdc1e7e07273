package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"sudooom.im.desk/internal/model"
	"sudooom.im.desk/internal/session"
)

// View implements tea.Model.
func (m Model) View() string {
	header := m.renderHeader()

	listPanel := panelStyle
	chatPanel := panelStyle
	if m.focus == FocusList {
		listPanel = focusedPanelStyle
	} else {
		chatPanel = focusedPanelStyle
	}

	bodyHeight := m.messages.Height + 2
	list := listPanel.Width(listWidth).Height(bodyHeight).Render(m.renderList(bodyHeight))
	chat := chatPanel.Render(lipgloss.JoinVertical(lipgloss.Left,
		m.messages.View(),
		m.input.View(),
	))

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		lipgloss.JoinHorizontal(lipgloss.Top, list, chat),
		m.renderFooter(),
	)
}

func (m Model) renderHeader() string {
	conn := okStyle.Render("● live")
	if !m.dash.Connected() {
		conn = warnStyle.Render("● reconnecting")
	}

	usage := mutedStyle.Render("quota: -")
	if u, ok := m.dash.Usage(); ok {
		switch {
		case u.IsUnlimited:
			usage = okStyle.Render("quota: unlimited")
		case u.Exhausted():
			usage = errorStyle.Render(fmt.Sprintf("quota: 0/%d", u.Total))
		default:
			usage = fmt.Sprintf("quota: %d/%d", u.Remaining, u.Total)
		}
	}

	filter := "all"
	if f := filters[m.filterIdx]; f != nil {
		filter = string(*f)
	}

	return strings.Join([]string{
		headerStyle.Render("desk"),
		conn,
		usage,
		mutedStyle.Render("filter: " + filter),
	}, "  ")
}

func (m Model) renderList(height int) string {
	if len(m.list) == 0 {
		return mutedStyle.Render("no conversations")
	}

	// 光标保持在可见范围内
	start := 0
	if m.cursor >= height {
		start = m.cursor - height + 1
	}
	selected := m.dash.Selected()

	var b strings.Builder
	for i := start; i < len(m.list) && i < start+height; i++ {
		conv := m.list[i]
		line := fmt.Sprintf("%s %s", statusMark(conv.Status), truncate(conv.DisplayName(), listWidth-12))
		if conv.UnreadCount > 0 && conv.ID != selected {
			line += warnStyle.Render(fmt.Sprintf(" (%d)", conv.UnreadCount))
		}
		line += " " + mutedStyle.Render(conv.LastActivityAt.Local().Format("15:04"))

		switch {
		case i == m.cursor:
			line = cursorStyle.Render("▸ ") + line
		case conv.ID == selected:
			line = "• " + line
		default:
			line = "  " + line
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderFooter() string {
	help := mutedStyle.Render("enter open/send · tab focus · f filter · o/p/c status · X delete · q quit")
	if m.notice == nil {
		return help
	}

	text := m.notice.Text
	switch m.notice.Level {
	case session.LevelError:
		text = errorStyle.Render(text)
	case session.LevelWarn:
		text = warnStyle.Render(text)
	}
	return text + "  " + help
}

// renderSequence 渲染消息序列，临时消息标记为发送中
func renderSequence(conv model.Conversation, msgs []model.Message, width int) string {
	if len(msgs) == 0 {
		return mutedStyle.Render("no messages yet")
	}

	wrap := lipgloss.NewStyle()
	if width > 0 {
		wrap = wrap.Width(width)
	}

	var b strings.Builder
	for _, msg := range msgs {
		ts := mutedStyle.Render(msg.CreatedAt.Local().Format("15:04"))
		line := fmt.Sprintf("%s %s %s", ts, senderLabel(conv, msg), msg.Content)
		for _, att := range msg.Attachments {
			name := att.Name
			if name == "" {
				name = att.URL
			}
			line += mutedStyle.Render(" [" + name + "]")
		}
		if msg.Provisional {
			line += mutedStyle.Render(" (sending)")
		}
		b.WriteString(wrap.Render(line))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func senderLabel(conv model.Conversation, msg model.Message) string {
	switch msg.SenderType {
	case model.SenderVisitor:
		return visitorStyle.Render(conv.DisplayName() + ":")
	case model.SenderAutomated:
		return automatedStyle.Render("bot:")
	case model.SenderHuman:
		name := "agent"
		if msg.SenderMeta != nil && msg.SenderMeta.DisplayName != "" {
			name = msg.SenderMeta.DisplayName
		}
		return humanStyle.Render(name + ":")
	}
	return string(msg.SenderType) + ":"
}

func statusMark(s model.ConversationStatus) string {
	switch s {
	case model.StatusOpen:
		return okStyle.Render("●")
	case model.StatusPending:
		return warnStyle.Render("●")
	case model.StatusClosed:
		return mutedStyle.Render("○")
	}
	return " "
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
