package llm

import (
	"context"
	"net/http"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message in a provider-agnostic format
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// Option allows for optional parameters like Temperature, MaxTokens, etc.
type Option func(*Options)

type Options struct {
	Temperature float64
	MaxTokens   int
	Model       string // Override default model
}

func WithTemperature(temp float64) Option {
	return func(o *Options) {
		o.Temperature = temp
	}
}

func WithMaxTokens(n int) Option {
	return func(o *Options) {
		o.MaxTokens = n
	}
}

func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

// ProviderKind selects the wire adapter for a model.
type ProviderKind string

const (
	ProviderOpenAICompat ProviderKind = "openai_compat"
	ProviderOllama       ProviderKind = "ollama"
	ProviderHuggingFace  ProviderKind = "huggingface"
)

// ModelConfig describes one callable model. Temperature and MaxTokens are
// the defaults for calls that do not override them.
type ModelConfig struct {
	ID           string       `yaml:"id" json:"id"`
	Name         string       `yaml:"name" json:"name"`
	EndpointURL  string       `yaml:"endpoint_url" json:"endpoint_url"`
	APIKey       string       `yaml:"api_key" json:"-"`
	ProviderKind ProviderKind `yaml:"provider_kind" json:"provider_kind"`
	Temperature  float64      `yaml:"temperature" json:"temperature"`
	MaxTokens    int          `yaml:"max_tokens" json:"max_tokens"`
}

// Adapter is the per-backend half of a completion: how to encode the
// request and where the reply text lives in the response.
type Adapter interface {
	BuildRequest(ctx context.Context, model ModelConfig, messages []Message, opts Options) (*http.Request, error)
	ExtractContent(body []byte) (string, error)
}

// Completer is what the council and the session service call.
type Completer interface {
	Complete(ctx context.Context, model ModelConfig, messages []Message, opts ...Option) (string, error)
}
