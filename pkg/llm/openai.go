package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OpenAIAdapter speaks the OpenAI-compatible chat completions protocol.
// It also serves OpenRouter and local gateways via BaseURL override.
type OpenAIAdapter struct {
	Provider string
	BaseURL  string
	Client   *http.Client
}

// NewOpenAIAdapter creates an adapter for an OpenAI-compatible endpoint.
// provider labels errors; baseURL defaults to the OpenAI API.
func NewOpenAIAdapter(provider, baseURL string) *OpenAIAdapter {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = "https://api.openai.com"
	}
	if provider == "" {
		provider = "openai"
	}
	return &OpenAIAdapter{
		Provider: provider,
		BaseURL:  base,
		// Per-request deadlines come from the caller's context.
		Client: &http.Client{Timeout: 0},
	}
}

func (a *OpenAIAdapter) Name() string { return a.Provider }

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]map[string]string, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, map[string]string{"role": m.Role, "content": m.Content})
	}

	body := map[string]any{
		"model":    req.Model,
		"messages": messages,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	base := a.BaseURL
	if v := strings.TrimRight(strings.TrimSpace(req.BaseURL), "/"); v != "" {
		base = v
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/chat/completions", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

	resp, err := a.Client.Do(httpReq)
	if err != nil {
		return "", &ProviderError{Provider: a.Provider, Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", &ProviderError{Provider: a.Provider, Message: err.Error(), Transient: true}
	}

	var parsed openAIResponse
	if resp.StatusCode != http.StatusOK {
		msg := string(data)
		if json.Unmarshal(data, &parsed) == nil && parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return "", errorFromStatus(a.Provider, resp.StatusCode, msg)
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", a.Provider, err)
	}
	if len(parsed.Choices) == 0 {
		return "", &ProviderError{Provider: a.Provider, Message: "empty choices"}
	}
	return parsed.Choices[0].Message.Content, nil
}
