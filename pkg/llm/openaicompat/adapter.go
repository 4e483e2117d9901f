package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"vita-be/pkg/llm"
)

// HuggingFaceRouterURL serves the OpenAI chat API for hosted HF models.
const HuggingFaceRouterURL = "https://router.huggingface.co/v1"

// Adapter speaks the OpenAI /chat/completions dialect.
type Adapter struct {
	DefaultBaseURL string
}

var _ llm.Adapter = Adapter{}

func NewAdapter(defaultBaseURL string) Adapter {
	return Adapter{DefaultBaseURL: defaultBaseURL}
}

// Request Payload Structure (OpenAI Compatible)
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a Adapter) BuildRequest(ctx context.Context, model llm.ModelConfig, messages []llm.Message, opts llm.Options) (*http.Request, error) {
	reqBody := chatRequest{
		Model:       opts.Model,
		Messages:    messages,
		Stream:      false,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	baseURL := strings.TrimRight(model.EndpointURL, "/")
	if baseURL == "" {
		baseURL = a.DefaultBaseURL
	}
	if baseURL == "" {
		return nil, errors.New("no endpoint url configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if model.APIKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", model.APIKey))
	}
	return req, nil
}

func (Adapter) ExtractContent(body []byte) (string, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("api returned error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
