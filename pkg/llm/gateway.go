package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"vita-be/internal/pkg/logger"
)

const (
	DefaultTimeout = 120 * time.Second

	// maxErrorBody caps how much of a failing response ends up in errors and logs.
	maxErrorBody = 512
)

// Gateway sends chat completions to whichever backend a ModelConfig names.
// It holds no per-conversation state and is safe for concurrent use.
type Gateway struct {
	mu       sync.RWMutex
	adapters map[ProviderKind]Adapter
	client   *http.Client
	timeout  time.Duration
	tracer   trace.Tracer
	logger   logger.ILogger
}

var _ Completer = (*Gateway)(nil)

func NewGateway(timeout time.Duration, log logger.ILogger) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{
		adapters: map[ProviderKind]Adapter{},
		client:   &http.Client{},
		timeout:  timeout,
		tracer:   otel.Tracer("vita-be/pkg/llm"),
		logger:   log,
	}
}

func (g *Gateway) Register(kind ProviderKind, adapter Adapter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.adapters[kind] = adapter
}

func (g *Gateway) adapter(kind ProviderKind) (Adapter, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	a, ok := g.adapters[kind]
	return a, ok
}

// Complete returns the assistant text for messages. Every failure is a *BackendError.
func (g *Gateway) Complete(ctx context.Context, model ModelConfig, messages []Message, opts ...Option) (string, error) {
	options := Options{
		Temperature: model.Temperature,
		MaxTokens:   model.MaxTokens,
		Model:       model.Name,
	}
	for _, opt := range opts {
		opt(&options)
	}

	backend := string(model.ProviderKind)
	ctx, span := g.tracer.Start(ctx, "llm.complete", trace.WithAttributes(
		attribute.String("llm.backend", backend),
		attribute.String("llm.model", options.Model),
		attribute.Int("llm.messages", len(messages)),
	))
	defer span.End()

	content, err := g.complete(ctx, backend, model, messages, options)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Warn("LLMGateway", "Completion failed", map[string]interface{}{
			"backend": backend,
			"model":   options.Model,
			"error":   err.Error(),
		})
		return "", err
	}
	return content, nil
}

func (g *Gateway) complete(ctx context.Context, backend string, model ModelConfig, messages []Message, options Options) (string, error) {
	adapter, ok := g.adapter(model.ProviderKind)
	if !ok {
		return "", &BackendError{Backend: backend, Message: fmt.Sprintf("unsupported provider kind %q", model.ProviderKind)}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := adapter.BuildRequest(ctx, model, messages, options)
	if err != nil {
		return "", &BackendError{Backend: backend, Message: "build request: " + err.Error(), Err: err}
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("timed out after %s", g.timeout)
		}
		return "", &BackendError{Backend: backend, Message: msg, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &BackendError{Backend: backend, StatusCode: resp.StatusCode, Message: "read response: " + err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &BackendError{Backend: backend, StatusCode: resp.StatusCode, Message: truncate(string(body), maxErrorBody)}
	}

	content, err := adapter.ExtractContent(body)
	if err != nil {
		return "", &BackendError{Backend: backend, StatusCode: resp.StatusCode, Message: "malformed response: " + err.Error(), Err: err}
	}

	g.logger.Debug("LLMGateway", "Completion received", map[string]interface{}{
		"backend":     backend,
		"model":       options.Model,
		"duration_ms": time.Since(start).Milliseconds(),
		"chars":       len(content),
	})
	return content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
