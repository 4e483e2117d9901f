package council

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"vita-be/pkg/llm"
	"vita-be/pkg/persona"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type call struct {
	model    llm.ModelConfig
	messages []llm.Message
}

// fakeCompleter answers by the system prompt of the caller.
type fakeCompleter struct {
	mu      sync.Mutex
	calls   []call
	respond func(ctx context.Context, model llm.ModelConfig, messages []llm.Message) (string, error)
}

func (f *fakeCompleter) Complete(ctx context.Context, model llm.ModelConfig, messages []llm.Message, _ ...llm.Option) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{model: model, messages: messages})
	f.mu.Unlock()
	return f.respond(ctx, model, messages)
}

func (f *fakeCompleter) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func scripted(replies map[string][]string) *fakeCompleter {
	var mu sync.Mutex
	return &fakeCompleter{respond: func(_ context.Context, model llm.ModelConfig, _ []llm.Message) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		queue := replies[model.Name]
		if len(queue) == 0 {
			return "thinking...", nil
		}
		replies[model.Name] = queue[1:]
		return queue[0], nil
	}}
}

// newAgents builds Debugger, Corrector and Student Proxy; each agent's model
// name equals its role id so fakes can tell callers apart.
func newAgents() []*Agent {
	mk := func(roleID, name, avatar string) *Agent {
		return &Agent{
			Name:          name,
			RoleID:        roleID,
			Role:          persona.Role{Name: name, Avatar: avatar, SystemPrompt: "You are the " + name + "."},
			Model:         llm.ModelConfig{Name: roleID, ProviderKind: llm.ProviderOllama},
			IsTermination: Never,
		}
	}
	return []*Agent{
		mk(persona.RoleDebugger, "Debugger", "🔍"),
		mk(persona.RoleCorrector, "Corrector", "🛠"),
		mk(persona.RoleStudentProxy, "Student Proxy", "🎓"),
	}
}

type recorder struct {
	mu       sync.Mutex
	messages []Message
	events   []Event
}

func (r *recorder) observe(sender, content, avatar string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Sender: sender, Content: content, Avatar: avatar})
}

func (r *recorder) listen(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) eventsOf(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func attach(c *Conversation) *recorder {
	r := &recorder{}
	c.OnMessage(r.observe)
	c.OnEvent(r.listen)
	return r
}

func TestTerminationBySentinel(t *testing.T) {
	agents := newAgents()
	agents[2].IsTermination = SentinelPredicate("Done")

	fake := scripted(map[string][]string{
		persona.RoleDebugger:  {"The loop variable is never incremented."},
		persona.RoleCorrector: {"Add i += 1 at the end of the loop body.\nDone"},
	})
	c, err := New(Config{MaxTurns: 20, InitialSpeaker: "Debugger"}, agents, fake)
	require.NoError(t, err)
	rec := attach(c)

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, StateTerminated, c.State())
	assert.Equal(t, ReasonTerminationPhrase, c.Reason())
	assert.Equal(t, 2, c.TurnIndex())
	assert.Len(t, c.History(), 2)
	assert.Len(t, fake.Calls(), 2)
	assert.Len(t, rec.eventsOf(EventTerminated), 1)
	assert.NoError(t, c.Failure())
}

func TestHumanSuspension(t *testing.T) {
	agents := newAgents()
	agents[2].HumanInputMode = HumanInputAlways

	fake := scripted(map[string][]string{})
	c, err := New(Config{MaxTurns: 10, InitialSpeaker: "Student Proxy"}, agents, fake)
	require.NoError(t, err)
	rec := attach(c)

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, StateAwaitingHuman, c.State())
	required := rec.eventsOf(EventHumanInputRequired)
	require.Len(t, required, 1)
	assert.Equal(t, "Student Proxy", required[0].Agent)
	assert.Empty(t, fake.Calls())

	agent, _, ok := c.Pending()
	assert.True(t, ok)
	assert.Equal(t, "Student Proxy", agent)

	// No agent may advance while suspended.
	assert.ErrorIs(t, c.Step(context.Background()), ErrInvalidState)
	assert.Equal(t, StateAwaitingHuman, c.State())

	require.NoError(t, c.ResumeWith("hi"))
	assert.Equal(t, StateAwaitingAgent, c.State())
	assert.Equal(t, 1, c.TurnIndex())
	history := c.History()
	require.Len(t, history, 1)
	assert.Equal(t, "hi", history[0].Content)
	assert.Equal(t, "🎓", history[0].Avatar)

	err = c.ResumeWith("again")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateAwaitingAgent, c.State())
	assert.Len(t, c.History(), 1)
}

func TestHumanEmptyReplyEnds(t *testing.T) {
	agents := newAgents()
	agents[2].HumanInputMode = HumanInputAlways

	c, err := New(Config{}, agents, scripted(map[string][]string{}))
	require.NoError(t, err)
	require.NoError(t, c.Run(context.Background()))
	require.Equal(t, StateAwaitingHuman, c.State())

	require.NoError(t, c.ResumeWith("  "))
	assert.Equal(t, StateTerminated, c.State())
	assert.Equal(t, ReasonHumanEnded, c.Reason())
	assert.Empty(t, c.History())
}

func TestBackendFailure(t *testing.T) {
	fake := &fakeCompleter{respond: func(context.Context, llm.ModelConfig, []llm.Message) (string, error) {
		return "", &llm.BackendError{Backend: "ollama", Message: "connection refused"}
	}}
	c, err := New(Config{InitialSpeaker: "Debugger"}, newAgents(), fake)
	require.NoError(t, err)
	rec := attach(c)

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, StateTerminated, c.State())
	assert.Equal(t, ReasonBackendError, c.Reason())
	history := c.History()
	require.Len(t, history, 1)
	assert.True(t, history[0].IsSystem)
	assert.Equal(t, "ollama failed: connection refused", history[0].Content)

	require.Len(t, rec.messages, 1)
	assert.Equal(t, history[0].Content, rec.messages[0].Content)
	assert.ErrorIs(t, c.Failure(), llm.ErrBackend)
	assert.Len(t, fake.Calls(), 1)
}

func TestNamedRecipientOverridesRoundRobin(t *testing.T) {
	fake := scripted(map[string][]string{
		persona.RoleStudentProxy: {"My loop prints forever. @Corrector can you look at line 3?"},
	})
	c, err := New(Config{InitialSpeaker: "Student Proxy"}, newAgents(), fake)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Step(ctx))
	require.NoError(t, c.Step(ctx))

	calls := fake.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, persona.RoleCorrector, calls[1].model.Name)
	assert.Equal(t, "Corrector", c.History()[1].Sender)
}

func TestNamedRecipientParsing(t *testing.T) {
	agents := newAgents()
	tests := []struct {
		name    string
		message Message
		want    int
	}{
		{"next line", Message{Sender: "Debugger", Content: "Found it.\nNEXT: Corrector"}, 1},
		{"next line by role id", Message{Sender: "Debugger", Content: "next: student_proxy"}, 2},
		{"mention", Message{Sender: "Corrector", Content: "Does that help, @Student Proxy?"}, 2},
		{"compact mention", Message{Sender: "Corrector", Content: "@StudentProxy try it"}, 2},
		{"earliest mention wins", Message{Sender: "Student Proxy", Content: "@Debugger and then @Corrector"}, 0},
		{"self mention ignored", Message{Sender: "Debugger", Content: "@Debugger notes"}, -1},
		{"no recipient", Message{Sender: "Debugger", Content: "The Corrector will know."}, -1},
		{"system messages never route", Message{Sender: "System", Content: "NEXT: Corrector", IsSystem: true}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, namedRecipient(tt.message, agents))
		})
	}
}

func TestRoundRobinSkipsUnavailable(t *testing.T) {
	agents := newAgents()
	agents[1].Available = func([]Message) bool { return false }

	next, err := RoundRobin{}.Next(context.Background(), agents, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, next)

	next, err = RoundRobin{}.Next(context.Background(), agents, nil, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, next)

	for _, a := range agents {
		a.Available = func([]Message) bool { return false }
	}
	_, err = RoundRobin{}.Next(context.Background(), agents, nil, 0)
	assert.ErrorIs(t, err, ErrNoSpeaker)
}

func TestAutoSelector(t *testing.T) {
	router := llm.ModelConfig{Name: "router", ProviderKind: llm.ProviderOllama}
	history := []Message{{Sender: "Debugger", Content: "The bug is on line 3."}}

	tests := []struct {
		name  string
		reply string
		err   error
		want  int
	}{
		{"exact name", "Corrector", nil, 1},
		{"decorated name", "**Student Proxy**.", nil, 2},
		{"sentence naming one agent", "I think the Corrector should go next", nil, 1},
		{"unknown name falls back", "The Professor", nil, 1},
		{"ambiguous falls back", "Debugger or Corrector", nil, 1},
		{"backend error falls back", "", &llm.BackendError{Backend: "ollama", Message: "down"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeCompleter{respond: func(_ context.Context, model llm.ModelConfig, messages []llm.Message) (string, error) {
				assert.Equal(t, "router", model.Name)
				assert.Contains(t, messages[len(messages)-1].Content, "Debugger: The bug is on line 3.")
				return tt.reply, tt.err
			}}
			got, err := NewAuto(fake, router, nil).Next(context.Background(), newAgents(), history, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAutoPolicyInConversation(t *testing.T) {
	agents := newAgents()
	fake := &fakeCompleter{respond: func(_ context.Context, model llm.ModelConfig, _ []llm.Message) (string, error) {
		if model.Name == "router" {
			return "Student Proxy", nil
		}
		return "reply from " + model.Name, nil
	}}
	auto := NewAuto(nil, llm.ModelConfig{Name: "router"}, nil)
	auto.Completer = fake

	c, err := New(Config{Selector: auto, InitialSpeaker: "Debugger", MaxTurns: 2}, agents, fake)
	require.NoError(t, err)
	require.NoError(t, c.Run(context.Background()))

	history := c.History()
	require.Len(t, history, 2)
	assert.Equal(t, "Debugger", history[0].Sender)
	assert.Equal(t, "Student Proxy", history[1].Sender)
	assert.Equal(t, ReasonMaxTurns, c.Reason())
}

func TestMaxTurns(t *testing.T) {
	c, err := New(Config{MaxTurns: 3, InitialSpeaker: "Debugger"}, newAgents(), scripted(map[string][]string{}))
	require.NoError(t, err)
	rec := attach(c)

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, StateTerminated, c.State())
	assert.Equal(t, ReasonMaxTurns, c.Reason())
	assert.Equal(t, 3, c.TurnIndex())

	senders := []string{}
	for _, m := range rec.messages {
		senders = append(senders, m.Sender)
	}
	assert.Equal(t, []string{"Debugger", "Corrector", "Student Proxy"}, senders)
}

func TestInitialSpeakerDefaultsToStudentProxy(t *testing.T) {
	fake := scripted(map[string][]string{})
	c, err := New(Config{MaxTurns: 1}, newAgents(), fake)
	require.NoError(t, err)
	require.NoError(t, c.Run(context.Background()))

	require.Len(t, fake.Calls(), 1)
	assert.Equal(t, persona.RoleStudentProxy, fake.Calls()[0].model.Name)
}

func TestSeedDoesNotConsumeTurns(t *testing.T) {
	fake := scripted(map[string][]string{})
	c, err := New(Config{MaxTurns: 1, InitialSpeaker: "Debugger"}, newAgents(), fake)
	require.NoError(t, err)
	rec := attach(c)

	require.NoError(t, c.Seed("Student Proxy", "```python\nwhile True: pass\n```"))
	assert.Equal(t, 0, c.TurnIndex())
	assert.Equal(t, StateIdle, c.State())
	require.Len(t, rec.messages, 1)
	assert.Equal(t, "🎓", rec.messages[0].Avatar)

	require.NoError(t, c.Run(context.Background()))
	require.Len(t, fake.Calls(), 1)

	// The debugger sees the seed as an attributed user turn.
	msgs := fake.Calls()[0].messages
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, llm.RoleUser, msgs[1].Role)
	assert.True(t, strings.HasPrefix(msgs[1].Content, "Student Proxy: "))

	assert.ErrorIs(t, c.Seed("Student Proxy", "late"), ErrInvalidState)
}

func TestProjection(t *testing.T) {
	fake := scripted(map[string][]string{
		persona.RoleDebugger:  {"Line 3 never changes i."},
		persona.RoleCorrector: {"Increment i."},
	})
	c, err := New(Config{MaxTurns: 2, InitialSpeaker: "Debugger"}, newAgents(), fake)
	require.NoError(t, err)
	require.NoError(t, c.Run(context.Background()))

	msgs, err := c.HistoryFor("debugger")
	require.NoError(t, err)
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleSystem, Content: "You are the Debugger."},
		{Role: llm.RoleAssistant, Content: "Line 3 never changes i."},
		{Role: llm.RoleUser, Content: "Corrector: Increment i."},
	}, msgs)

	_, err = c.HistoryFor("Professor")
	assert.Error(t, err)
}

func TestObserverPanicIsContained(t *testing.T) {
	c, err := New(Config{MaxTurns: 2, InitialSpeaker: "Debugger"}, newAgents(), scripted(map[string][]string{}))
	require.NoError(t, err)

	c.OnMessage(func(string, string, string) { panic("observer bug") })
	rec := attach(c)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, StateTerminated, c.State())
	assert.Len(t, rec.messages, 2)
}

func TestObserverMayReadState(t *testing.T) {
	c, err := New(Config{MaxTurns: 2, InitialSpeaker: "Debugger"}, newAgents(), scripted(map[string][]string{}))
	require.NoError(t, err)

	var lengths []int
	c.OnMessage(func(string, string, string) { lengths = append(lengths, len(c.History())) })

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []int{1, 2}, lengths)
}

func TestTerminateModeAsksBeforeEnding(t *testing.T) {
	newCouncil := func(t *testing.T) (*Conversation, *recorder) {
		agents := newAgents()
		agents[2].HumanInputMode = HumanInputTerminate
		agents[2].IsTermination = SentinelPredicate("Done")
		fake := scripted(map[string][]string{
			persona.RoleDebugger:  {"Found the bug.", "Anything else?"},
			persona.RoleCorrector: {"Fixed it. Done"},
		})
		c, err := New(Config{MaxTurns: 6, InitialSpeaker: "Debugger"}, agents, fake)
		require.NoError(t, err)
		rec := attach(c)
		require.NoError(t, c.Run(context.Background()))
		require.Equal(t, StateAwaitingHuman, c.State())
		return c, rec
	}

	t.Run("empty reply ends", func(t *testing.T) {
		c, rec := newCouncil(t)
		required := rec.eventsOf(EventHumanInputRequired)
		require.Len(t, required, 1)
		assert.Equal(t, "Student Proxy", required[0].Agent)
		assert.Equal(t, 2, c.TurnIndex())

		require.NoError(t, c.ResumeWith(""))
		assert.Equal(t, StateTerminated, c.State())
		assert.Equal(t, ReasonHumanEnded, c.Reason())
	})

	t.Run("reply continues", func(t *testing.T) {
		c, _ := newCouncil(t)
		require.NoError(t, c.ResumeWith("Why does that work?"))
		assert.Equal(t, StateAwaitingAgent, c.State())
		assert.Equal(t, 3, c.TurnIndex())

		require.NoError(t, c.Step(context.Background()))
		history := c.History()
		assert.Equal(t, "Debugger", history[len(history)-1].Sender)
	})
}

func TestCancelDuringGatewayCall(t *testing.T) {
	started := make(chan struct{})
	fake := &fakeCompleter{respond: func(ctx context.Context, _ llm.ModelConfig, _ []llm.Message) (string, error) {
		close(started)
		<-ctx.Done()
		return "late answer", nil
	}}
	c, err := New(Config{InitialSpeaker: "Debugger"}, newAgents(), fake)
	require.NoError(t, err)
	rec := attach(c)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	<-started
	c.Cancel()
	c.Cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Cancel")
	}

	assert.Equal(t, StateTerminated, c.State())
	assert.Equal(t, ReasonCancelled, c.Reason())
	assert.Empty(t, c.History())
	assert.Empty(t, rec.messages)
}

func TestCancelWhileAwaitingHuman(t *testing.T) {
	agents := newAgents()
	agents[2].HumanInputMode = HumanInputAlways
	c, err := New(Config{}, agents, scripted(map[string][]string{}))
	require.NoError(t, err)
	require.NoError(t, c.Run(context.Background()))
	require.Equal(t, StateAwaitingHuman, c.State())

	rec := attach(c)
	c.Cancel()
	assert.Equal(t, StateTerminated, c.State())
	assert.Equal(t, ReasonCancelled, c.Reason())
	_, _, pending := c.Pending()
	assert.False(t, pending)
	assert.Len(t, rec.eventsOf(EventTerminated), 1)
	assert.ErrorIs(t, c.ResumeWith("hello"), ErrInvalidState)

	c.Cancel()
	assert.Len(t, rec.eventsOf(EventTerminated), 1)
}

func TestCancelBeforeFirstTurn(t *testing.T) {
	fake := scripted(map[string][]string{})
	c, err := New(Config{InitialSpeaker: "Debugger"}, newAgents(), fake)
	require.NoError(t, err)
	require.NoError(t, c.Seed("Student Proxy", "my loop never ends"))

	c.Cancel()
	assert.Equal(t, StateTerminated, c.State())
	require.NoError(t, c.Run(context.Background()))
	assert.Empty(t, fake.Calls())
}

func TestTurnTimeoutBoundsEachCall(t *testing.T) {
	slow := &fakeCompleter{respond: func(ctx context.Context, _ llm.ModelConfig, _ []llm.Message) (string, error) {
		select {
		case <-time.After(40 * time.Millisecond):
			return "still looking", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}}
	c, err := New(Config{MaxTurns: 6, InitialSpeaker: "Debugger", TurnTimeout: 100 * time.Millisecond}, newAgents(), slow)
	require.NoError(t, err)

	// Six 40ms turns outlast one 100ms timeout only in total.
	start := time.Now()
	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, ReasonMaxTurns, c.Reason())
	assert.Equal(t, 6, c.TurnIndex())
	assert.NoError(t, c.Failure())
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestTurnTimeoutFailsTheTurn(t *testing.T) {
	stuck := &fakeCompleter{respond: func(ctx context.Context, _ llm.ModelConfig, _ []llm.Message) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	c, err := New(Config{InitialSpeaker: "Debugger", TurnTimeout: 20 * time.Millisecond}, newAgents(), stuck)
	require.NoError(t, err)
	rec := attach(c)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, StateTerminated, c.State())
	assert.Equal(t, ReasonBackendError, c.Reason())
	assert.ErrorIs(t, c.Failure(), llm.ErrBackend)
	assert.ErrorIs(t, c.Failure(), context.DeadlineExceeded)
	assert.Equal(t, 0, c.TurnIndex())

	history := c.History()
	require.Len(t, history, 1)
	assert.True(t, history[0].IsSystem)
	assert.Equal(t, "ollama failed: no reply within 20ms", history[0].Content)
	assert.Len(t, rec.eventsOf(EventTerminated), 1)
}

func TestContextCancellationTerminates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fake := &fakeCompleter{respond: func(context.Context, llm.ModelConfig, []llm.Message) (string, error) {
		cancel()
		return "", context.Canceled
	}}
	c, err := New(Config{InitialSpeaker: "Debugger"}, newAgents(), fake)
	require.NoError(t, err)

	require.NoError(t, c.Run(ctx))
	assert.Equal(t, ReasonCancelled, c.Reason())
	assert.NoError(t, c.Failure())
}

func TestNewValidation(t *testing.T) {
	fake := scripted(map[string][]string{})

	_, err := New(Config{}, nil, fake)
	assert.ErrorIs(t, err, ErrNoAgents)

	agents := newAgents()
	agents[1].Name = "debugger"
	_, err = New(Config{}, agents, fake)
	assert.Error(t, err)

	_, err = New(Config{InitialSpeaker: "Professor"}, newAgents(), fake)
	assert.Error(t, err)
}

func TestHistoryIsMonotonic(t *testing.T) {
	c, err := New(Config{MaxTurns: 5, InitialSpeaker: "Debugger"}, newAgents(), scripted(map[string][]string{}))
	require.NoError(t, err)

	prev := 0
	for c.State() != StateTerminated {
		require.NoError(t, c.Step(context.Background()))
		n := len(c.History())
		assert.GreaterOrEqual(t, n, prev)
		assert.LessOrEqual(t, c.TurnIndex(), c.MaxTurns())
		prev = n
	}
	assert.True(t, errors.Is(c.Step(context.Background()), ErrInvalidState))
}
