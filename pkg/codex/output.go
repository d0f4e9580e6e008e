package codex

import "regexp"

// conversationIDPattern matches codex's "conversation id: <token>" banner. The
// marker is case-insensitive and the token runs to the first whitespace.
var conversationIDPattern = regexp.MustCompile(`(?im)conversation id:[ \t]*(\S+)`)

// ParseConversationID returns the first conversation id announced in stderr.
func ParseConversationID(stderr string) (string, bool) {
	m := conversationIDPattern.FindStringSubmatch(stderr)
	if m == nil {
		return "", false
	}
	return m[1], true
}
