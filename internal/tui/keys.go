package tui

import "github.com/charmbracelet/bubbles/key"

// KeyBindings 快捷键
type KeyBindings struct {
	Up       key.Binding
	Down     key.Binding
	Select   key.Binding
	Submit   key.Binding
	Tab      key.Binding
	Cancel   key.Binding
	Filter   key.Binding
	Open     key.Binding
	Pending  key.Binding
	Close    key.Binding
	Delete   key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Quit     key.Binding
}

// DefaultKeyBindings 默认快捷键
func DefaultKeyBindings() KeyBindings {
	return KeyBindings{
		Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Select:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open")),
		Submit:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		Tab:      key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "focus")),
		Cancel:   key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		Filter:   key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "filter")),
		Open:     key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "reopen")),
		Pending:  key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pending")),
		Close:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "close")),
		Delete:   key.NewBinding(key.WithKeys("X"), key.WithHelp("X", "delete")),
		PageUp:   key.NewBinding(key.WithKeys("pgup"), key.WithHelp("pgup", "scroll up")),
		PageDown: key.NewBinding(key.WithKeys("pgdown"), key.WithHelp("pgdn", "scroll down")),
		Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}
