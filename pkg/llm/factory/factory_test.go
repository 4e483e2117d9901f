package factory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vita-be/internal/pkg/logger"
	"vita-be/pkg/llm"
)

var conversation = []llm.Message{
	{Role: llm.RoleSystem, Content: "You are a debugger."},
	{Role: llm.RoleUser, Content: "Student Proxy: why does my loop never end?"},
}

func TestGateway_OpenAICompat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-test", body["model"])
		assert.Equal(t, false, body["stream"])
		assert.InDelta(t, 0.2, body["temperature"], 1e-9)
		assert.EqualValues(t, 256, body["max_tokens"])
		assert.Len(t, body["messages"], 2)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Check the loop condition."}}]}`))
	}))
	defer srv.Close()

	gw := NewGateway(time.Second, logger.NewNopLogger())
	model := llm.ModelConfig{
		ID:           "gpt",
		Name:         "gpt-test",
		EndpointURL:  srv.URL + "/v1",
		APIKey:       "sk-test",
		ProviderKind: llm.ProviderOpenAICompat,
		Temperature:  0.7,
		MaxTokens:    1000,
	}

	got, err := gw.Complete(context.Background(), model, conversation, llm.WithTemperature(0.2), llm.WithMaxTokens(256))
	require.NoError(t, err)
	assert.Equal(t, "Check the loop condition.", got)
}

func TestGateway_Ollama(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var body struct {
			Model    string        `json:"model"`
			Messages []llm.Message `json:"messages"`
			Stream   bool          `json:"stream"`
			Options  struct {
				Temperature float64 `json:"temperature"`
				NumPredict  int     `json:"num_predict"`
			} `json:"options"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "llama3", body.Model)
		assert.False(t, body.Stream)
		assert.Equal(t, conversation, body.Messages)
		assert.Equal(t, 500, body.Options.NumPredict)

		_, _ = w.Write([]byte(`{"model":"llama3","message":{"role":"assistant","content":"i never changes."},"done":true}`))
	}))
	defer srv.Close()

	gw := NewGateway(time.Second, logger.NewNopLogger())
	model := llm.ModelConfig{Name: "llama3", EndpointURL: srv.URL, ProviderKind: llm.ProviderOllama, MaxTokens: 500}

	got, err := gw.Complete(context.Background(), model, conversation)
	require.NoError(t, err)
	assert.Equal(t, "i never changes.", got)
}

func TestGateway_Failures(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		kind       llm.ProviderKind
		wantStatus int
		wantMsg    string
	}{
		{
			name: "non 2xx",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "model overloaded", http.StatusServiceUnavailable)
			},
			kind:       llm.ProviderOpenAICompat,
			wantStatus: http.StatusServiceUnavailable,
			wantMsg:    "model overloaded",
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`not json`))
			},
			kind:       llm.ProviderOllama,
			wantStatus: http.StatusOK,
			wantMsg:    "malformed response",
		},
		{
			name: "no choices",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"choices":[]}`))
			},
			kind:       llm.ProviderOpenAICompat,
			wantStatus: http.StatusOK,
			wantMsg:    "no choices",
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			kind:    llm.ProviderOllama,
			wantMsg: "timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			gw := NewGateway(100*time.Millisecond, logger.NewNopLogger())
			_, err := gw.Complete(context.Background(), llm.ModelConfig{Name: "m", EndpointURL: srv.URL, ProviderKind: tt.kind}, conversation)
			require.Error(t, err)
			assert.True(t, errors.Is(err, llm.ErrBackend))

			var be *llm.BackendError
			require.True(t, errors.As(err, &be))
			assert.Equal(t, string(tt.kind), be.Backend)
			assert.Equal(t, tt.wantStatus, be.StatusCode)
			assert.Contains(t, be.Error(), tt.wantMsg)
		})
	}
}

func TestGateway_UnknownProvider(t *testing.T) {
	gw := NewGateway(time.Second, logger.NewNopLogger())
	_, err := gw.Complete(context.Background(), llm.ModelConfig{ProviderKind: "bard"}, conversation)
	assert.ErrorIs(t, err, llm.ErrBackend)
}

func TestParseProviderKind(t *testing.T) {
	kind, err := ParseProviderKind(" OpenAI ")
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderOpenAICompat, kind)

	kind, err = ParseProviderKind("huggingface")
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderHuggingFace, kind)

	_, err = ParseProviderKind("gemini")
	assert.Error(t, err)
}
