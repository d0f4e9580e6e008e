package codex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseConversationID(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		want   string
		found  bool
	}{
		{name: "exact marker", stderr: "conversation id: test-conv-123", want: "test-conv-123", found: true},
		{name: "marker case-insensitive", stderr: "Conversation ID: ABC-def", want: "ABC-def", found: true},
		{
			name:   "inside banner",
			stderr: "OpenAI Codex v0.40.0\n--------\nworkdir: /tmp\nmodel: gpt-5-codex\nconversation id: 0199a1b2-c3d4-7e5f\n--------\n",
			want:   "0199a1b2-c3d4-7e5f",
			found:  true,
		},
		{name: "token stops at whitespace", stderr: "conversation id: abc trailing words", want: "abc", found: true},
		{name: "trailing newline and spaces", stderr: "conversation id:   xyz  \r\n", want: "xyz", found: true},
		{name: "first marker wins", stderr: "conversation id: first\nconversation id: second\n", want: "first", found: true},
		{name: "no marker", stderr: "tokens used: 1200\n", found: false},
		{name: "empty token", stderr: "conversation id:\nnext line", found: false},
		{name: "empty stderr", stderr: "", found: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseConversationID(tt.stderr)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
