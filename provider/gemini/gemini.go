// Package gemini adapts the Google Gemini generateContent API to sitegen.Provider.
package gemini

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/ineyio/sitegen"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Provider is the Gemini API adapter.
type Provider struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

var _ sitegen.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithName overrides the provider name reported to the gateway (default "gemini").
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// New creates a new Gemini provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:       "gemini",
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Generate(ctx context.Context, req sitegen.ProviderRequest) (sitegen.ProviderResponse, error) {
	body, err := buildPayload(req)
	if err != nil {
		return sitegen.ProviderResponse{}, fmt.Errorf("sitegen/gemini: build request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return sitegen.ProviderResponse{}, fmt.Errorf("sitegen/gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", req.Auth.APIKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return sitegen.ProviderResponse{}, ctx.Err()
		}
		return sitegen.ProviderResponse{}, fmt.Errorf("%w: %v", sitegen.ErrProviderUnavailable, err)
	}
	defer httpResp.Body.Close()

	if err := mapHTTPError(httpResp); err != nil {
		return sitegen.ProviderResponse{}, err
	}

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return sitegen.ProviderResponse{}, fmt.Errorf("%w: read gemini response: %v", sitegen.ErrProviderUnavailable, err)
	}
	if !gjson.ValidBytes(raw) {
		return sitegen.ProviderResponse{}, fmt.Errorf("%w: malformed gemini response", sitegen.ErrProviderUnavailable)
	}

	root := gjson.ParseBytes(raw)
	if reason := root.Get("promptFeedback.blockReason").String(); reason != "" {
		return sitegen.ProviderResponse{}, fmt.Errorf("%w: blocked: %s", sitegen.ErrProviderUnavailable, reason)
	}
	candidate := root.Get("candidates.0")
	if !candidate.Exists() {
		return sitegen.ProviderResponse{}, fmt.Errorf("%w: empty candidates in gemini response", sitegen.ErrProviderUnavailable)
	}

	var content strings.Builder
	for _, part := range candidate.Get("content.parts").Array() {
		if part.Get("thought").Bool() {
			continue
		}
		content.WriteString(part.Get("text").String())
	}

	finish := candidate.Get("finishReason").String()
	if strings.TrimSpace(content.String()) == "" {
		if finish == "" {
			finish = "NO_CONTENT"
		}
		return sitegen.ProviderResponse{}, fmt.Errorf("%w: blocked: %s", sitegen.ErrProviderUnavailable, finish)
	}

	model := root.Get("modelVersion").String()
	if model == "" {
		model = req.Model
	}

	return sitegen.ProviderResponse{
		ID:           root.Get("responseId").String(),
		Content:      content.String(),
		FinishReason: strings.ToLower(finish),
		Model:        model,
		Usage: sitegen.Usage{
			PromptTokens:     root.Get("usageMetadata.promptTokenCount").Int(),
			CompletionTokens: root.Get("usageMetadata.candidatesTokenCount").Int(),
			TotalTokens:      root.Get("usageMetadata.totalTokenCount").Int(),
		},
	}, nil
}

func buildPayload(req sitegen.ProviderRequest) ([]byte, error) {
	payload := []byte(`{"contents":[]}`)
	var err error

	for i, m := range req.Messages {
		role := m.Role
		if role == "assistant" {
			role = "model"
		}
		prefix := fmt.Sprintf("contents.%d.", i)
		if payload, err = sjson.SetBytes(payload, prefix+"role", role); err != nil {
			return nil, err
		}
		if payload, err = sjson.SetBytes(payload, prefix+"parts.0.text", m.Content); err != nil {
			return nil, err
		}
	}

	if req.Temperature != nil {
		if payload, err = sjson.SetBytes(payload, "generationConfig.temperature", *req.Temperature); err != nil {
			return nil, err
		}
	}
	if req.MaxTokens != nil {
		if payload, err = sjson.SetBytes(payload, "generationConfig.maxOutputTokens", *req.MaxTokens); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", sitegen.ErrRateLimited, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", sitegen.ErrAuthFailed, msg)
	case http.StatusBadRequest:
		// An invalid key is reported as 400 with reason API_KEY_INVALID.
		if strings.Contains(string(body), "API_KEY_INVALID") {
			return fmt.Errorf("%w: %s", sitegen.ErrAuthFailed, msg)
		}
		return fmt.Errorf("%w: %s", sitegen.ErrInvalidRequest, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", sitegen.ErrProviderUnavailable, resp.StatusCode, msg)
	}
}
