package factory

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vita-be/internal/pkg/logger"
	"vita-be/pkg/llm"
)

// TestOllamaLive talks to a real Ollama server. It runs only when
// OLLAMA_INTEGRATION_MODEL names a pulled model.
func TestOllamaLive(t *testing.T) {
	_ = godotenv.Load("../../../.env")

	model := os.Getenv("OLLAMA_INTEGRATION_MODEL")
	if model == "" {
		t.Skip("Skipping integration test: OLLAMA_INTEGRATION_MODEL not set")
	}
	baseURL := os.Getenv("OLLAMA_INTEGRATION_URL")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	gw := NewGateway(2*time.Minute, logger.NewNopLogger())
	cfg := llm.ModelConfig{
		ID:           "live",
		Name:         model,
		EndpointURL:  baseURL,
		ProviderKind: llm.ProviderOllama,
		Temperature:  0,
		MaxTokens:    200,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	reply, err := gw.Complete(ctx, cfg, []llm.Message{
		{Role: llm.RoleSystem, Content: "You are a Python debugger. Answer in one sentence."},
		{Role: llm.RoleUser, Content: "Student Proxy: Here is my code:\n```\nfor i in range(3)\n    print(i)\n```\nWhy does it not run?"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(reply))
	t.Logf("reply: %s", reply)
}
