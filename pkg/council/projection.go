package council

import (
	"vita-be/pkg/llm"
)

// project renders the shared history from one agent's point of view: its own
// messages become assistant turns, everyone else's become attributed user turns.
func project(a *Agent, history []Message) []llm.Message {
	out := make([]llm.Message, 0, len(history)+1)
	if a.Role.SystemPrompt != "" {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: a.Role.SystemPrompt})
	}
	for _, m := range history {
		if m.IsSystem {
			continue
		}
		if m.Sender == a.Name {
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
			continue
		}
		out = append(out, llm.Message{Role: llm.RoleUser, Content: m.Sender + ": " + m.Content})
	}
	return out
}
