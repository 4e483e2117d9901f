package council

import (
	"context"
	"regexp"
	"strings"

	"vita-be/internal/pkg/logger"
	"vita-be/pkg/llm"
)

// Selector picks the index of the next speaker. last is the index of the
// previous speaker, or -1 before any agent has spoken.
type Selector interface {
	Next(ctx context.Context, agents []*Agent, history []Message, last int) (int, error)
}

// RoundRobin cycles through agents in order, skipping unavailable ones.
type RoundRobin struct{}

func (RoundRobin) Next(_ context.Context, agents []*Agent, history []Message, last int) (int, error) {
	n := len(agents)
	for step := 1; step <= n; step++ {
		i := ((last+step)%n + n) % n
		if agents[i].available(history) {
			return i, nil
		}
	}
	return -1, ErrNoSpeaker
}

// Auto asks a routing model who should speak next and falls back to
// round-robin when the call fails or the answer names nobody eligible.
type Auto struct {
	Completer llm.Completer
	Model     llm.ModelConfig
	Logger    logger.ILogger
	fallback  RoundRobin
}

func NewAuto(completer llm.Completer, model llm.ModelConfig, log logger.ILogger) *Auto {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Auto{Completer: completer, Model: model, Logger: log}
}

func (s *Auto) Next(ctx context.Context, agents []*Agent, history []Message, last int) (int, error) {
	var eligible []int
	for i, a := range agents {
		if a.available(history) {
			eligible = append(eligible, i)
		}
	}
	switch len(eligible) {
	case 0:
		return -1, ErrNoSpeaker
	case 1:
		return eligible[0], nil
	}

	reply, err := s.Completer.Complete(ctx, s.Model, routingPrompt(agents, eligible, history), llm.WithTemperature(0))
	if err != nil {
		if ctx.Err() != nil {
			return -1, ctx.Err()
		}
		s.Logger.Warn("Council", "Speaker routing failed, using round-robin", map[string]interface{}{"error": err.Error()})
		return s.fallback.Next(ctx, agents, history, last)
	}

	if i, ok := matchAgentName(reply, agents, eligible); ok {
		return i, nil
	}
	s.Logger.Warn("Council", "Unusable routing answer, using round-robin", map[string]interface{}{"reply": reply})
	return s.fallback.Next(ctx, agents, history, last)
}

func routingPrompt(agents []*Agent, eligible []int, history []Message) []llm.Message {
	names := make([]string, len(eligible))
	for i, idx := range eligible {
		names[i] = agents[idx].Name
	}

	var transcript strings.Builder
	for _, m := range history {
		if m.IsSystem {
			continue
		}
		transcript.WriteString(m.Sender)
		transcript.WriteString(": ")
		transcript.WriteString(m.Content)
		transcript.WriteString("\n\n")
	}

	return []llm.Message{
		{
			Role: llm.RoleSystem,
			Content: "You coordinate a debugging discussion between these participants: " +
				strings.Join(names, ", ") +
				". Read the conversation and decide who should speak next. Answer with the participant's name only.",
		},
		{Role: llm.RoleUser, Content: transcript.String() + "Who should speak next?"},
	}
}

// matchAgentName accepts an exact name (or role id), or a reply that
// mentions exactly one eligible agent.
func matchAgentName(reply string, agents []*Agent, eligible []int) (int, bool) {
	cleaned := strings.ToLower(strings.Trim(strings.TrimSpace(reply), "\"'`.*:!"))
	for _, i := range eligible {
		if cleaned == strings.ToLower(agents[i].Name) || (agents[i].RoleID != "" && cleaned == strings.ToLower(agents[i].RoleID)) {
			return i, true
		}
	}

	found := -1
	for _, i := range eligible {
		if strings.Contains(cleaned, strings.ToLower(agents[i].Name)) {
			if found >= 0 {
				return -1, false
			}
			found = i
		}
	}
	return found, found >= 0
}

var nextLinePattern = regexp.MustCompile(`(?mi)^\s*NEXT:\s*(.+?)\s*$`)

// namedRecipient finds an explicit addressee in a message: a "NEXT: Name"
// line wins, then the earliest "@Name" mention. The sender never addresses itself.
func namedRecipient(m Message, agents []*Agent) int {
	if m.IsSystem {
		return -1
	}

	if match := nextLinePattern.FindStringSubmatch(m.Content); match != nil {
		want := strings.ToLower(strings.Trim(match[1], "\"'`.*@"))
		for i, a := range agents {
			if a.Name == m.Sender {
				continue
			}
			if want == strings.ToLower(a.Name) || (a.RoleID != "" && want == strings.ToLower(a.RoleID)) {
				return i
			}
		}
	}

	lower := strings.ToLower(m.Content)
	best, bestPos := -1, len(lower)+1
	for i, a := range agents {
		if a.Name == m.Sender {
			continue
		}
		for _, alias := range mentionAliases(a) {
			if pos := strings.Index(lower, "@"+alias); pos >= 0 && pos < bestPos {
				best, bestPos = i, pos
			}
		}
	}
	return best
}

func mentionAliases(a *Agent) []string {
	name := strings.ToLower(a.Name)
	aliases := []string{name}
	if compact := strings.ReplaceAll(name, " ", ""); compact != name {
		aliases = append(aliases, compact)
	}
	if snake := strings.ReplaceAll(name, " ", "_"); snake != name {
		aliases = append(aliases, snake)
	}
	if a.RoleID != "" {
		aliases = append(aliases, strings.ToLower(a.RoleID))
	}
	return aliases
}
