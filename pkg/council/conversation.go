package council

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"vita-be/internal/pkg/logger"
	"vita-be/pkg/llm"
	"vita-be/pkg/persona"
)

const terminatePrompt = "The discussion is about to end. Reply to keep it going, or send an empty reply to finish."

type Config struct {
	MaxTurns int
	// Selector defaults to RoundRobin.
	Selector Selector
	// InitialSpeaker names the first agent to speak. Empty means the
	// student proxy, or the first agent if there is none.
	InitialSpeaker string
	// TerminationPhrases back the default predicate of agents without one.
	TerminationPhrases []string
	// TurnTimeout bounds each agent completion. A call that runs out of
	// time fails the turn like any backend error. Zero means no bound.
	TurnTimeout time.Duration
	Logger      logger.ILogger
}

type pendingInput struct {
	agent         int
	prompt        string
	onTermination bool
}

// Conversation is one council session. Run, Step, Seed and ResumeWith are
// serialized; accessors and Cancel may be called from any goroutine.
type Conversation struct {
	agents    []*Agent
	selector  Selector
	completer llm.Completer
	logger    logger.ILogger
	maxTurns  int
	initial   int
	timeout   time.Duration

	runMu sync.Mutex

	mu          sync.Mutex
	state       State
	history     []Message
	turnIndex   int
	lastSpeaker int
	spoken      bool
	pending     *pendingInput
	failure     error
	reason      string
	observers   []Observer
	listeners   []Listener

	ctx       context.Context
	cancel    context.CancelFunc
	stopWatch func() bool
	cancelled atomic.Bool
}

func New(cfg Config, agents []*Agent, completer llm.Completer) (*Conversation, error) {
	if len(agents) == 0 {
		return nil, ErrNoAgents
	}
	if completer == nil {
		return nil, errors.New("council needs a completer")
	}

	seen := map[string]bool{}
	for _, a := range agents {
		key := strings.ToLower(a.Name)
		if key == "" {
			return nil, errors.New("agent name is required")
		}
		if seen[key] {
			return nil, fmt.Errorf("duplicate agent name %q", a.Name)
		}
		seen[key] = true
		if a.HumanInputMode == "" {
			a.HumanInputMode = HumanInputNever
		}
		if a.IsTermination == nil {
			a.IsTermination = SentinelPredicate(cfg.TerminationPhrases...)
		}
	}

	initial := -1
	if cfg.InitialSpeaker != "" {
		initial = indexByName(agents, cfg.InitialSpeaker)
		if initial < 0 {
			return nil, fmt.Errorf("initial speaker %q is not in the council", cfg.InitialSpeaker)
		}
	} else {
		for i, a := range agents {
			if a.RoleID == persona.RoleStudentProxy {
				initial = i
				break
			}
		}
		if initial < 0 {
			initial = 0
		}
	}

	c := &Conversation{
		agents:      agents,
		selector:    cfg.Selector,
		completer:   completer,
		logger:      cfg.Logger,
		maxTurns:    cfg.MaxTurns,
		initial:     initial,
		timeout:     cfg.TurnTimeout,
		state:       StateIdle,
		lastSpeaker: -1,
	}
	if c.selector == nil {
		c.selector = RoundRobin{}
	}
	if c.logger == nil {
		c.logger = logger.NewNopLogger()
	}
	if c.maxTurns <= 0 {
		c.maxTurns = DefaultMaxTurns
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.stopWatch = context.AfterFunc(c.ctx, c.onCancelled)
	return c, nil
}

func indexByName(agents []*Agent, name string) int {
	for i, a := range agents {
		if strings.EqualFold(a.Name, name) {
			return i
		}
	}
	return -1
}

// OnMessage registers an observer. Panics inside observers are logged and swallowed.
func (c *Conversation) OnMessage(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

func (c *Conversation) OnEvent(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Seed adds opening messages before the first turn. Seeds never consume turns.
func (c *Conversation) Seed(sender, content string) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	c.mu.Lock()
	if c.state != StateIdle && c.state != StateAwaitingAgent {
		st := c.state
		c.mu.Unlock()
		return &StateError{Op: "seed", State: st}
	}
	avatar := ""
	if i := indexByName(c.agents, sender); i >= 0 {
		avatar = c.agents[i].Role.Avatar
	}
	ev := c.commitLocked(Message{Sender: sender, Content: content, Avatar: avatar})
	c.mu.Unlock()

	c.dispatch(ev)
	return nil
}

// Run advances until the conversation terminates or waits for a human.
func (c *Conversation) Run(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	for {
		switch c.State() {
		case StateTerminated, StateAwaitingHuman:
			return nil
		}
		if err := c.step(ctx); err != nil {
			return err
		}
	}
}

// Step advances exactly one turn.
func (c *Conversation) Step(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.step(ctx)
}

func (c *Conversation) step(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	c.mu.Lock()
	if c.state == StateTerminated || c.state == StateAwaitingHuman {
		st := c.state
		c.mu.Unlock()
		return &StateError{Op: "advance", State: st}
	}
	if c.interrupted(ctx) {
		c.finishLocked(ReasonCancelled)
		return nil
	}
	if c.turnIndex >= c.maxTurns {
		c.finishLocked(ReasonMaxTurns)
		return nil
	}
	c.state = StateAwaitingAgent
	history := slices.Clone(c.history)
	last, spoken := c.lastSpeaker, c.spoken
	c.mu.Unlock()

	idx, err := c.selectSpeaker(ctx, history, last, spoken)
	if err != nil {
		c.mu.Lock()
		if c.interrupted(ctx) {
			c.finishLocked(ReasonCancelled)
			return nil
		}
		c.logger.Warn("Council", "No speaker could be selected", map[string]interface{}{"error": err.Error()})
		c.finishLocked(ReasonNoSpeaker)
		return nil
	}
	speaker := c.agents[idx]

	if speaker.HumanInputMode == HumanInputAlways {
		c.mu.Lock()
		ev := c.suspendLocked(idx, pendingPrompt(history), false)
		c.mu.Unlock()
		c.dispatch(ev)
		return nil
	}

	content, err := c.complete(ctx, speaker, history)

	c.mu.Lock()
	if c.interrupted(ctx) {
		// Whatever came back is discarded.
		c.finishLocked(ReasonCancelled)
		return nil
	}
	if err != nil {
		c.failure = err
		c.logger.Error("Council", "Agent turn failed", map[string]interface{}{
			"agent": speaker.Name,
			"turn":  c.turnIndex,
			"error": err.Error(),
		})
		ev := c.commitLocked(Message{
			Sender:   systemSender,
			Content:  failureText(speaker, err),
			Avatar:   systemAvatar,
			IsSystem: true,
		})
		events := []Event{ev, c.terminateLocked(ReasonBackendError)}
		c.mu.Unlock()
		c.dispatch(events...)
		return nil
	}

	events := []Event{c.commitLocked(Message{Sender: speaker.Name, Content: content, Avatar: speaker.Role.Avatar})}
	c.lastSpeaker, c.spoken = idx, true
	events = append(events, c.afterTurnLocked(-1)...)
	c.mu.Unlock()
	c.dispatch(events...)
	return nil
}

// complete runs one agent completion under the turn timeout.
func (c *Conversation) complete(ctx context.Context, speaker *Agent, history []Message) (string, error) {
	if c.timeout <= 0 {
		return c.completer.Complete(ctx, speaker.Model, project(speaker, history))
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	content, err := c.completer.Complete(callCtx, speaker.Model, project(speaker, history))
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		var be *llm.BackendError
		if !errors.As(err, &be) {
			err = &llm.BackendError{
				Backend: backendName(speaker),
				Message: fmt.Sprintf("no reply within %s", c.timeout),
				Err:     err,
			}
		}
	}
	return content, err
}

func (c *Conversation) selectSpeaker(ctx context.Context, history []Message, last int, spoken bool) (int, error) {
	if !spoken {
		return c.initial, nil
	}
	if len(history) > 0 {
		if i := namedRecipient(history[len(history)-1], c.agents); i >= 0 && c.agents[i].available(history) {
			return i, nil
		}
	}
	return c.selector.Next(ctx, c.agents, history, last)
}

// ResumeWith answers a pending human-input request. An empty reply ends the
// conversation.
func (c *Conversation) ResumeWith(text string) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	c.mu.Lock()
	if c.state != StateAwaitingHuman {
		st := c.state
		c.mu.Unlock()
		return &StateError{Op: "resume", State: st}
	}
	if c.cancelled.Load() {
		c.finishLocked(ReasonCancelled)
		return &StateError{Op: "resume", State: StateTerminated}
	}

	p := c.pending
	c.pending = nil
	if strings.TrimSpace(text) == "" {
		c.finishLocked(ReasonHumanEnded)
		return nil
	}

	agent := c.agents[p.agent]
	events := []Event{c.commitLocked(Message{Sender: agent.Name, Content: text, Avatar: agent.Role.Avatar})}
	c.lastSpeaker, c.spoken = p.agent, true
	events = append(events, c.afterTurnLocked(p.agent)...)
	c.mu.Unlock()
	c.dispatch(events...)
	return nil
}

// afterTurnLocked evaluates termination on the message just committed and
// consumes the turn. exclude is an agent that must not be asked for input again.
func (c *Conversation) afterTurnLocked(exclude int) []Event {
	last := c.history[len(c.history)-1]
	fired := false
	for _, a := range c.agents {
		if a.IsTermination(last) {
			fired = true
			break
		}
	}
	c.turnIndex++

	if fired {
		if c.turnIndex < c.maxTurns {
			for i, a := range c.agents {
				if i != exclude && a.HumanInputMode == HumanInputTerminate {
					return []Event{c.suspendLocked(i, terminatePrompt, true)}
				}
			}
		}
		return []Event{c.terminateLocked(ReasonTerminationPhrase)}
	}
	if c.turnIndex >= c.maxTurns {
		return []Event{c.terminateLocked(ReasonMaxTurns)}
	}
	c.state = StateAwaitingAgent
	return nil
}

// Cancel stops the conversation. With no turn running it terminates before
// returning; otherwise the running turn stops at its next suspension point.
// Safe to call from any goroutine, any number of times.
func (c *Conversation) Cancel() {
	c.cancelled.Store(true)
	if c.runMu.TryLock() {
		c.mu.Lock()
		if c.state == StateTerminated {
			c.mu.Unlock()
		} else {
			c.finishLocked(ReasonCancelled)
		}
		c.runMu.Unlock()
	}
	c.cancel()
}

// onCancelled covers conversations that are not mid-turn when cancelled.
func (c *Conversation) onCancelled() {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	c.mu.Lock()
	if c.state == StateTerminated {
		c.mu.Unlock()
		return
	}
	c.finishLocked(ReasonCancelled)
}

func (c *Conversation) interrupted(ctx context.Context) bool {
	return c.cancelled.Load() || ctx.Err() != nil
}

func (c *Conversation) commitLocked(m Message) Event {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	c.history = append(c.history, m)
	return Event{Type: EventMessage, Message: &m, State: c.state, TurnIndex: c.turnIndex}
}

func (c *Conversation) suspendLocked(agent int, prompt string, onTermination bool) Event {
	c.state = StateAwaitingHuman
	c.pending = &pendingInput{agent: agent, prompt: prompt, onTermination: onTermination}
	return Event{
		Type:      EventHumanInputRequired,
		Agent:     c.agents[agent].Name,
		Prompt:    prompt,
		State:     c.state,
		TurnIndex: c.turnIndex,
	}
}

func (c *Conversation) terminateLocked(reason string) Event {
	c.state = StateTerminated
	c.reason = reason
	c.pending = nil
	c.stopWatch()
	c.cancel()
	c.logger.Info("Council", "Conversation terminated", map[string]interface{}{
		"reason":   reason,
		"turns":    c.turnIndex,
		"messages": len(c.history),
	})
	return Event{Type: EventTerminated, Reason: reason, State: c.state, TurnIndex: c.turnIndex}
}

// finishLocked terminates, releases mu and notifies.
func (c *Conversation) finishLocked(reason string) {
	ev := c.terminateLocked(reason)
	c.mu.Unlock()
	c.dispatch(ev)
}

// dispatch runs outside mu so observers may call accessors.
func (c *Conversation) dispatch(events ...Event) {
	if len(events) == 0 {
		return
	}
	c.mu.Lock()
	observers := slices.Clone(c.observers)
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	for _, ev := range events {
		if ev.Type == EventMessage {
			for _, o := range observers {
				c.safeCall(func() { o(ev.Message.Sender, ev.Message.Content, ev.Message.Avatar) })
			}
		}
		for _, l := range listeners {
			c.safeCall(func() { l(ev) })
		}
	}
}

func (c *Conversation) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Council", "Observer panicked", map[string]interface{}{"panic": fmt.Sprint(r)})
		}
	}()
	fn()
}

func pendingPrompt(history []Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if !history[i].IsSystem {
			return history[i].Sender + ": " + history[i].Content
		}
	}
	return ""
}

func failureText(a *Agent, err error) string {
	var be *llm.BackendError
	if errors.As(err, &be) {
		return be.Error()
	}
	return fmt.Sprintf("%s failed: %v", backendName(a), err)
}

func backendName(a *Agent) string {
	if a.Model.ProviderKind == "" {
		return "backend"
	}
	return string(a.Model.ProviderKind)
}

func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conversation) TurnIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turnIndex
}

func (c *Conversation) MaxTurns() int { return c.maxTurns }

// History returns a copy of the shared history.
func (c *Conversation) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.history)
}

// HistoryFor is the message list the named agent would be prompted with.
func (c *Conversation) HistoryFor(name string) ([]llm.Message, error) {
	i := indexByName(c.agents, name)
	if i < 0 {
		return nil, fmt.Errorf("agent %q is not in the council", name)
	}
	return project(c.agents[i], c.History()), nil
}

// Pending reports the outstanding human-input request, if any.
func (c *Conversation) Pending() (agent, prompt string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return "", "", false
	}
	return c.agents[c.pending.agent].Name, c.pending.prompt, true
}

// Failure is the backend error that ended the conversation, if any.
func (c *Conversation) Failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// Reason is why the conversation terminated; empty while it is running.
func (c *Conversation) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *Conversation) Agents() []*Agent {
	return slices.Clone(c.agents)
}
