package factory

import (
	"fmt"
	"strings"
	"time"

	"vita-be/internal/pkg/logger"
	"vita-be/pkg/llm"
	"vita-be/pkg/llm/ollama"
	"vita-be/pkg/llm/openaicompat"
)

// NewGateway returns a gateway with every supported backend registered.
func NewGateway(timeout time.Duration, log logger.ILogger) *llm.Gateway {
	gw := llm.NewGateway(timeout, log)
	gw.Register(llm.ProviderOllama, ollama.Adapter{})
	gw.Register(llm.ProviderOpenAICompat, openaicompat.NewAdapter(""))
	gw.Register(llm.ProviderHuggingFace, openaicompat.NewAdapter(openaicompat.HuggingFaceRouterURL))
	return gw
}

func ParseProviderKind(s string) (llm.ProviderKind, error) {
	switch kind := llm.ProviderKind(strings.ToLower(strings.TrimSpace(s))); kind {
	case llm.ProviderOllama, llm.ProviderOpenAICompat, llm.ProviderHuggingFace:
		return kind, nil
	case "openai":
		return llm.ProviderOpenAICompat, nil
	default:
		return "", fmt.Errorf("unsupported LLM provider: %s", s)
	}
}
