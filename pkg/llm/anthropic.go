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

const anthropicVersion = "2023-06-01"

// AnthropicAdapter speaks the Anthropic messages protocol.
type AnthropicAdapter struct {
	BaseURL string
	Client  *http.Client
}

// NewAnthropicAdapter creates an adapter; baseURL defaults to the public
// Anthropic API.
func NewAnthropicAdapter(baseURL string) *AnthropicAdapter {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = "https://api.anthropic.com"
	}
	return &AnthropicAdapter{
		BaseURL: base,
		Client:  &http.Client{Timeout: 0},
	}
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (a *AnthropicAdapter) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]map[string]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, map[string]string{"role": m.Role, "content": m.Content})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	body := map[string]any{
		"model":      req.Model,
		"max_tokens": maxTokens,
		"messages":   messages,
	}
	if strings.TrimSpace(req.System) != "" {
		body["system"] = req.System
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	base := a.BaseURL
	if v := strings.TrimRight(strings.TrimSpace(req.BaseURL), "/"); v != "" {
		base = v
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/messages", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", req.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.Client.Do(httpReq)
	if err != nil {
		return "", &ProviderError{Provider: "anthropic", Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", &ProviderError{Provider: "anthropic", Message: err.Error(), Transient: true}
	}

	var parsed anthropicResponse
	if resp.StatusCode != http.StatusOK {
		msg := string(data)
		if json.Unmarshal(data, &parsed) == nil && parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return "", errorFromStatus("anthropic", resp.StatusCode, msg)
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("anthropic: decode response: %w", err)
	}
	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", &ProviderError{Provider: "anthropic", Message: "empty content"}
	}
	return sb.String(), nil
}
