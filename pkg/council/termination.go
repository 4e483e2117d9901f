package council

import "strings"

// SentinelPredicate fires when the trimmed content ends with one of the
// phrases. Matching is case-sensitive.
func SentinelPredicate(phrases ...string) TerminationPredicate {
	if len(phrases) == 0 {
		phrases = DefaultTerminationPhrases
	}
	return func(m Message) bool {
		if m.IsSystem {
			return false
		}
		content := strings.TrimSpace(m.Content)
		for _, p := range phrases {
			if p != "" && strings.HasSuffix(content, p) {
				return true
			}
		}
		return false
	}
}

// Never is a predicate for agents that should not end the conversation.
func Never(Message) bool { return false }
