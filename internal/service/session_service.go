package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"vita-be/internal/dto"
	"vita-be/internal/pkg/logger"
	"vita-be/internal/repository/memory"
	"vita-be/pkg/council"
	"vita-be/pkg/events"
	"vita-be/pkg/llm"
	"vita-be/pkg/persona"
	"vita-be/pkg/rag/prompt"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidRequest  = errors.New("invalid request")
)

const SpeakerPolicyAuto = "auto"

// SessionEventSink receives every council event of every session, typically
// to stream it to connected clients.
type SessionEventSink interface {
	SendSessionEvent(sessionID string, ev council.Event)
}

type SessionConfig struct {
	DefaultPersona string
	MaxTurns       int
	// SpeakerPolicy is "round_robin" or "auto".
	SpeakerPolicy string
	// StudentInput is how the student proxy is answered unless a request overrides it.
	StudentInput council.HumanInputMode
	SessionTTL   time.Duration
}

type ISessionService interface {
	// Debug starts a council on the student's code. It returns once the
	// council terminates or waits for the student, or immediately when
	// req.Async is set.
	Debug(ctx context.Context, req dto.DebugRequest, observers ...council.Observer) (*Handle, error)
	// Ask answers a single question without a council.
	Ask(ctx context.Context, req dto.AskRequest) (*dto.AskResponse, error)
	Get(id string) (*Handle, error)
	// Close cancels a session and forgets it.
	Close(id string) error
	Shutdown()
}

type sessionService struct {
	registry  *persona.Registry
	completer llm.Completer
	augmenter *prompt.Augmenter
	sessions  *memory.SessionRepository[*Handle]
	publisher events.Publisher
	sink      SessionEventSink
	cfg       SessionConfig
	logger    logger.ILogger
}

// NewSessionService accepts a nil publisher and sink.
func NewSessionService(
	registry *persona.Registry,
	completer llm.Completer,
	augmenter *prompt.Augmenter,
	publisher events.Publisher,
	sink SessionEventSink,
	cfg SessionConfig,
	log logger.ILogger,
) ISessionService {
	if cfg.StudentInput == "" {
		cfg.StudentInput = council.HumanInputAlways
	}
	return &sessionService{
		registry:  registry,
		completer: completer,
		augmenter: augmenter,
		sessions:  memory.NewSessionRepository[*Handle](cfg.SessionTTL),
		publisher: publisher,
		sink:      sink,
		cfg:       cfg,
		logger:    log,
	}
}

func (s *sessionService) Debug(ctx context.Context, req dto.DebugRequest, observers ...council.Observer) (*Handle, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidRequest)
	}

	mode := s.cfg.StudentInput
	if req.StudentInput != "" {
		mode = council.HumanInputMode(strings.ToUpper(req.StudentInput))
	}
	switch mode {
	case council.HumanInputAlways, council.HumanInputTerminate, council.HumanInputNever:
	default:
		return nil, fmt.Errorf("%w: unknown student input mode %q", ErrInvalidRequest, mode)
	}

	ac, err := s.agentConfig(req.PersonaID, req.ModelID)
	if err != nil {
		return nil, err
	}
	conv, err := s.newCouncil(ac, mode)
	if err != nil {
		return nil, err
	}

	h := &Handle{
		id:        uuid.NewString(),
		personaID: ac.Persona.ID,
		createdAt: time.Now(),
		conv:      conv,
		logger:    s.logger,
	}
	for _, o := range observers {
		h.RegisterObserver(o)
	}
	h.OnEvent(s.lifecycleListener(h))
	if s.sink != nil {
		h.OnEvent(func(ev council.Event) { s.sink.SendSessionEvent(h.id, ev) })
	}

	seed, sources := s.augmenter.Augment(ctx, debugQuestion(req.Code, req.Question))
	h.sources = sources
	proxy, _ := ac.Persona.Role(persona.RoleStudentProxy)
	if err := conv.Seed(proxy.Name, seed); err != nil {
		return nil, err
	}
	s.sessions.Save(h)

	s.logger.Info("Session", "Debug session started", map[string]interface{}{
		"session_id": h.id,
		"persona":    ac.Persona.ID,
		"model":      ac.Model.ID,
		"sources":    len(sources),
		"async":      req.Async,
	})
	s.publish(ctx, events.New(events.SessionStarted, map[string]interface{}{
		"session_id": h.id,
		"persona_id": ac.Persona.ID,
		"model_id":   ac.Model.ID,
	}))

	if req.Async {
		h.runInBackground(ctx)
		return h, nil
	}
	if err := h.run(ctx); err != nil {
		return h, err
	}
	return h, nil
}

func (s *sessionService) Ask(ctx context.Context, req dto.AskRequest) (*dto.AskResponse, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("%w: question is required", ErrInvalidRequest)
	}

	ac, err := s.agentConfig(req.PersonaID, req.ModelID)
	if err != nil {
		return nil, err
	}
	proxy, ok := ac.Persona.Role(persona.RoleStudentProxy)
	if !ok {
		return nil, fmt.Errorf("%w: persona %q has no %s role", ErrInvalidRequest, ac.Persona.ID, persona.RoleStudentProxy)
	}

	augmented, sources := s.augmenter.Augment(ctx, req.Question)
	answer, err := s.completer.Complete(ctx, ac.Model, []llm.Message{
		{Role: llm.RoleSystem, Content: proxy.SystemPrompt},
		{Role: llm.RoleUser, Content: augmented},
	})
	if err != nil {
		s.logger.Error("Session", "Ask failed", map[string]interface{}{
			"model": ac.Model.ID,
			"error": err.Error(),
		})
		return nil, err
	}

	return &dto.AskResponse{Answer: answer, Sources: dto.SourceRefs(sources)}, nil
}

func (s *sessionService) Get(id string) (*Handle, error) {
	h, ok := s.sessions.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return h, nil
}

func (s *sessionService) Close(id string) error {
	if _, ok := s.sessions.Get(id); !ok {
		return ErrSessionNotFound
	}
	s.sessions.Delete(id)
	return nil
}

func (s *sessionService) Shutdown() {
	s.sessions.CancelAll()
}

func (s *sessionService) agentConfig(personaID, modelID string) (persona.AgentConfig, error) {
	if personaID == "" {
		personaID = s.cfg.DefaultPersona
	}
	return s.registry.BuildAgentConfig(personaID, modelID)
}

// newCouncil seats the debugger, corrector and student proxy of the persona.
// The debugger opens; the student proxy answers with mode.
func (s *sessionService) newCouncil(ac persona.AgentConfig, mode council.HumanInputMode) (*council.Conversation, error) {
	roles := []string{persona.RoleDebugger, persona.RoleCorrector, persona.RoleStudentProxy}
	agents := make([]*council.Agent, 0, len(roles))
	for _, roleID := range roles {
		role, ok := ac.Persona.Role(roleID)
		if !ok {
			return nil, fmt.Errorf("%w: persona %q has no %s role", ErrInvalidRequest, ac.Persona.ID, roleID)
		}
		agent := &council.Agent{
			Name:           role.Name,
			RoleID:         roleID,
			Role:           role,
			Model:          ac.Model,
			HumanInputMode: council.HumanInputNever,
		}
		if roleID == persona.RoleStudentProxy {
			agent.HumanInputMode = mode
		}
		agents = append(agents, agent)
	}

	maxTurns := s.cfg.MaxTurns
	if n := ac.Persona.Conversation.MaxRounds; n > 0 {
		maxTurns = n
	}

	var selector council.Selector = council.RoundRobin{}
	if s.cfg.SpeakerPolicy == SpeakerPolicyAuto {
		selector = council.NewAuto(s.completer, ac.Model, s.logger)
	}

	return council.New(council.Config{
		MaxTurns:           maxTurns,
		Selector:           selector,
		InitialSpeaker:     agents[0].Name,
		TerminationPhrases: ac.Persona.Conversation.TerminationPhrases,
		TurnTimeout:        time.Duration(ac.Persona.Conversation.TimeoutSeconds) * time.Second,
		Logger:             s.logger,
	}, agents, s.completer)
}

func (s *sessionService) lifecycleListener(h *Handle) council.Listener {
	return func(ev council.Event) {
		if ev.Type != council.EventTerminated {
			return
		}
		s.logger.Info("Session", "Debug session ended", map[string]interface{}{
			"session_id": h.id,
			"reason":     ev.Reason,
			"turns":      ev.TurnIndex,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.publish(ctx, events.New(events.SessionTerminated, map[string]interface{}{
			"session_id": h.id,
			"reason":     ev.Reason,
			"turns":      ev.TurnIndex,
		}))
	}
}

func (s *sessionService) publish(ctx context.Context, ev events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("Session", "Failed to publish event", map[string]interface{}{
			"event": ev.EventType(),
			"error": err.Error(),
		})
	}
}

// debugQuestion is the student's opening message: the code fenced, then the question.
func debugQuestion(code, question string) string {
	var b strings.Builder
	b.WriteString("Here is my code:\n```\n")
	b.WriteString(strings.TrimRight(code, "\n"))
	b.WriteString("\n```")
	if q := strings.TrimSpace(question); q != "" {
		b.WriteString("\n\n")
		b.WriteString(q)
	}
	return b.String()
}
