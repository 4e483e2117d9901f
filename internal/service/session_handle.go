package service

import (
	"context"
	"sync"
	"time"

	"vita-be/internal/dto"
	"vita-be/internal/pkg/logger"
	"vita-be/pkg/council"
	"vita-be/pkg/store"
)

// Handle is one live debugging session. It owns its council, including the
// student's code, so nothing about a session outlives it.
type Handle struct {
	id        string
	personaID string
	createdAt time.Time
	conv      *council.Conversation
	sources   []store.ScoredChunk
	logger    logger.ILogger

	wg sync.WaitGroup
}

func (h *Handle) ID() string { return h.id }

func (h *Handle) Conversation() *council.Conversation { return h.conv }

func (h *Handle) Sources() []store.ScoredChunk { return h.sources }

// RegisterObserver adds a message observer for the rest of the session.
func (h *Handle) RegisterObserver(o council.Observer) {
	h.conv.OnMessage(o)
}

func (h *Handle) OnEvent(l council.Listener) {
	h.conv.OnEvent(l)
}

// ResumeWith answers the pending human-input request and runs the council
// until it terminates or asks again.
func (h *Handle) ResumeWith(ctx context.Context, text string) error {
	if err := h.conv.ResumeWith(text); err != nil {
		return err
	}
	return h.run(ctx)
}

// ResumeInBackground is ResumeWith without waiting for the following turns.
func (h *Handle) ResumeInBackground(ctx context.Context, text string) error {
	if err := h.conv.ResumeWith(text); err != nil {
		return err
	}
	h.runInBackground(ctx)
	return nil
}

func (h *Handle) Cancel() {
	h.conv.Cancel()
}

// Wait blocks until background turns started by this handle have finished.
func (h *Handle) Wait() {
	h.wg.Wait()
}

// run has no overall deadline: max turns bound the conversation and the
// persona timeout bounds each completion.
func (h *Handle) run(ctx context.Context) error {
	return h.conv.Run(ctx)
}

// runInBackground detaches from the caller's cancellation; Cancel still stops it.
func (h *Handle) runInBackground(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.run(ctx); err != nil {
			h.logger.Warn("Session", "Background run stopped", map[string]interface{}{
				"session_id": h.id,
				"error":      err.Error(),
			})
		}
	}()
}

func (h *Handle) Snapshot() *dto.SessionResponse {
	res := &dto.SessionResponse{
		Id:        h.id,
		PersonaID: h.personaID,
		State:     h.conv.State().String(),
		TurnIndex: h.conv.TurnIndex(),
		MaxTurns:  h.conv.MaxTurns(),
		Reason:    h.conv.Reason(),
		History:   h.conv.History(),
		Sources:   dto.SourceRefs(h.sources),
		CreatedAt: h.createdAt,
	}
	if err := h.conv.Failure(); err != nil {
		res.Failure = err.Error()
	}
	if agent, prompt, ok := h.conv.Pending(); ok {
		res.Pending = &dto.PendingInput{Agent: agent, Prompt: prompt}
	}
	return res
}
