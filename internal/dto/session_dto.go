package dto

import (
	"time"

	"vita-be/pkg/council"
	"vita-be/pkg/store"
)

type DebugRequest struct {
	Code      string `json:"code" validate:"required,max=65536"`
	Question  string `json:"question" validate:"max=4000"`
	PersonaID string `json:"persona_id"`
	ModelID   string `json:"model_id"`
	// StudentInput overrides the configured human input mode of the student proxy.
	StudentInput string `json:"student_input" validate:"omitempty,oneof=ALWAYS TERMINATE NEVER always terminate never"`
	// Async returns as soon as the session exists; progress arrives over the WebSocket.
	Async bool `json:"async"`
}

type AskRequest struct {
	Question  string `json:"question" validate:"required,max=4000"`
	PersonaID string `json:"persona_id"`
	ModelID   string `json:"model_id"`
}

type AskResponse struct {
	Answer  string      `json:"answer"`
	Sources []SourceRef `json:"sources"`
}

type ResumeRequest struct {
	// Text may be empty: an empty reply ends the conversation.
	Text  string `json:"text" validate:"max=8000"`
	Async bool   `json:"async"`
}

type SourceRef struct {
	SourcePath string  `json:"source_path"`
	ChunkID    string  `json:"chunk_id"`
	Distance   float32 `json:"distance"`
}

type PendingInput struct {
	Agent  string `json:"agent"`
	Prompt string `json:"prompt"`
}

type SessionResponse struct {
	Id        string            `json:"id"`
	PersonaID string            `json:"persona_id"`
	State     string            `json:"state"`
	TurnIndex int               `json:"turn_index"`
	MaxTurns  int               `json:"max_turns"`
	Reason    string            `json:"reason,omitempty"`
	Failure   string            `json:"failure,omitempty"`
	Pending   *PendingInput     `json:"pending,omitempty"`
	History   []council.Message `json:"history"`
	Sources   []SourceRef       `json:"sources"`
	CreatedAt time.Time         `json:"created_at"`
}

func SourceRefs(chunks []store.ScoredChunk) []SourceRef {
	refs := make([]SourceRef, 0, len(chunks))
	for _, c := range chunks {
		refs = append(refs, SourceRef{SourcePath: c.SourcePath, ChunkID: c.ChunkID, Distance: c.Distance})
	}
	return refs
}
