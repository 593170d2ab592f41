package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultDeepSeekAPIBase = "https://api.deepseek.com/v1"

// HTTPProvider talks to any OpenAI-compatible chat/completions endpoint.
// Both the DeepSeek rotation backend and the OpenRouter escape hatch use
// it with different bases.
type HTTPProvider struct {
	name       string
	apiBase    string
	httpClient *http.Client
}

func NewHTTPProvider(name, apiBase, proxy string) *HTTPProvider {
	client := &http.Client{Timeout: 120 * time.Second}

	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err == nil {
			client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	return &HTTPProvider{
		name:       name,
		apiBase:    strings.TrimRight(apiBase, "/"),
		httpClient: client,
	}
}

func (p *HTTPProvider) Name() string {
	return p.name
}

func (p *HTTPProvider) Generate(ctx context.Context, credential string, messages []Message, model string, params GenerationParams) (*Response, error) {
	if p.apiBase == "" {
		return nil, fmt.Errorf("%s: API base not configured", p.name)
	}
	if credential == "" {
		return nil, fmt.Errorf("%s: no credential", p.name)
	}

	requestBody := map[string]interface{}{
		"model":    model,
		"messages": messages,
	}
	if params.MaxTokens > 0 {
		requestBody["max_tokens"] = params.MaxTokens
	}
	if params.Temperature > 0 {
		requestBody["temperature"] = params.Temperature
	}
	if params.TopP > 0 {
		requestBody["top_p"] = params.TopP
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &CallError{Provider: p.name, Kind: ErrKindTransient, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CallError{Provider: p.name, Kind: ErrKindTransient, Message: "failed to read response: " + err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, newCallError(p.name, resp.StatusCode, apiErrorMessage(body))
	}

	return p.parseResponse(body)
}

// apiErrorMessage pulls the human-readable message out of an OpenAI-style
// error envelope, falling back to the raw body.
func apiErrorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return strings.TrimSpace(string(body))
}

func (p *HTTPProvider) parseResponse(body []byte) (*Response, error) {
	var apiResponse struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage *UsageInfo `json:"usage"`
	}

	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return nil, &CallError{Provider: p.name, Kind: ErrKindTransient, Message: "failed to unmarshal response: " + err.Error()}
	}

	if len(apiResponse.Choices) == 0 {
		return nil, &CallError{Provider: p.name, Kind: ErrKindTransient, Message: "response has no choices"}
	}

	return &Response{
		Content: apiResponse.Choices[0].Message.Content,
		Usage:   apiResponse.Usage,
	}, nil
}
