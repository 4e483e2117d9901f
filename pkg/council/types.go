// Package council runs a turn-based conversation between LLM agents and an
// optional human, one speaker per turn, over a single shared history.
package council

import (
	"errors"
	"fmt"
	"time"

	"vita-be/pkg/llm"
	"vita-be/pkg/persona"
)

type State int

const (
	StateIdle State = iota
	StateAwaitingAgent
	StateAwaitingHuman
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAwaitingAgent:
		return "AWAITING_AGENT"
	case StateAwaitingHuman:
		return "AWAITING_HUMAN"
	case StateTerminated:
		return "TERMINATED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// HumanInputMode decides when an agent is answered by a person instead of a model.
type HumanInputMode string

const (
	// HumanInputNever: always answered by the model.
	HumanInputNever HumanInputMode = "NEVER"
	// HumanInputAlways: the conversation suspends whenever the agent is selected.
	HumanInputAlways HumanInputMode = "ALWAYS"
	// HumanInputTerminate: model-driven, but asked before the conversation ends.
	HumanInputTerminate HumanInputMode = "TERMINATE"
)

// Termination reasons reported by Reason() and the terminated event.
const (
	ReasonTerminationPhrase = "termination_phrase"
	ReasonMaxTurns          = "max_turns"
	ReasonBackendError      = "backend_error"
	ReasonCancelled         = "cancelled"
	ReasonHumanEnded        = "human_ended"
	ReasonNoSpeaker         = "no_eligible_speaker"
)

const (
	DefaultMaxTurns = 12

	systemSender = "System"
	systemAvatar = "⚠️"
)

var DefaultTerminationPhrases = []string{"TERMINATE", "Done"}

type Message struct {
	Sender     string    `json:"sender"`
	Content    string    `json:"content"`
	Avatar     string    `json:"avatar"`
	Timestamp  time.Time `json:"timestamp"`
	IsToolCall bool      `json:"is_tool_call,omitempty"`
	IsSystem   bool      `json:"is_system,omitempty"`
}

// TerminationPredicate must be a pure, non-blocking function of the last message.
type TerminationPredicate func(Message) bool

type Agent struct {
	Name string
	// RoleID is the persona role key, e.g. persona.RoleStudentProxy.
	RoleID         string
	Role           persona.Role
	Model          llm.ModelConfig
	IsTermination  TerminationPredicate
	HumanInputMode HumanInputMode
	// Available reports whether the agent may speak given the history so far.
	// Nil means always.
	Available func(history []Message) bool
}

func (a *Agent) available(history []Message) bool {
	return a.Available == nil || a.Available(history)
}

// Observer receives every committed message before the next turn starts.
type Observer func(sender, content, avatar string)

type EventType string

const (
	EventMessage            EventType = "message"
	EventHumanInputRequired EventType = "human_input_required"
	EventTerminated         EventType = "terminated"
)

type Event struct {
	Type      EventType `json:"event"`
	Message   *Message  `json:"message,omitempty"`
	Agent     string    `json:"agent,omitempty"`
	Prompt    string    `json:"prompt,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	State     State     `json:"state"`
	TurnIndex int       `json:"turn_index"`
}

type Listener func(Event)

var (
	ErrInvalidState = errors.New("invalid council state")
	ErrNoAgents     = errors.New("council needs at least one agent")
	ErrNoSpeaker    = errors.New("no eligible speaker")
)

// StateError is returned when an operation is not allowed in the current state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("council: cannot %s while %s", e.Op, e.State)
}

func (e *StateError) Is(target error) bool { return target == ErrInvalidState }
