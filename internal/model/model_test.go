package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversationDisplayName(t *testing.T) {
	tests := []struct {
		name     string
		conv     Conversation
		expected string
	}{
		{"name", Conversation{ID: 1, Participant: &Participant{Name: "Ann", Email: "a@x"}}, "Ann"},
		{"email fallback", Conversation{ID: 1, Participant: &Participant{Email: "a@x"}}, "a@x"},
		{"phone fallback", Conversation{ID: 1, Participant: &Participant{Phone: "123"}}, "123"},
		{"anonymous", Conversation{ID: 17}, "visitor #17"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.conv.DisplayName())
		})
	}
}

func TestStatusValid(t *testing.T) {
	assert.True(t, StatusPending.Valid())
	assert.False(t, ConversationStatus("archived").Valid())
	assert.True(t, SenderAutomated.Valid())
	assert.False(t, SenderType("bot").Valid())
}

func TestMessageClone(t *testing.T) {
	orig := Message{Attachments: []Attachment{{URL: "a"}}, SenderMeta: &SenderMeta{AgentID: 1}}
	cp := orig.Clone()
	cp.Attachments[0].URL = "b"
	cp.SenderMeta.AgentID = 2

	assert.Equal(t, "a", orig.Attachments[0].URL)
	assert.Equal(t, int64(1), orig.SenderMeta.AgentID)
}

func TestCountMessages(t *testing.T) {
	stats := CountMessages([]Message{
		{SenderType: SenderVisitor},
		{SenderType: SenderAutomated},
		{SenderType: SenderAutomated},
		{SenderType: SenderHuman},
		{SenderType: SenderHuman, Provisional: true},
	})
	assert.Equal(t, Stats{Total: 4, Visitor: 1, Automated: 2, Human: 1}, stats)
}

func TestUsageExhausted(t *testing.T) {
	assert.True(t, Usage{Remaining: 0}.Exhausted())
	assert.False(t, Usage{Remaining: 0, IsUnlimited: true}.Exhausted())
	assert.False(t, Usage{Remaining: 3}.Exhausted())
}
