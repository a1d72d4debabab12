package gemini_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/ineyio/sitegen"
	"github.com/ineyio/sitegen/provider/gemini"
)

func TestGenerate_Success(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))
		gotBody, _ = io.ReadAll(r.Body)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"responseId": "resp-1",
			"modelVersion": "gemini-2.5-flash-001",
			"candidates": [{
				"content": {"role": "model", "parts": [{"text": "thinking...", "thought": true}, {"text": "{\"html\":"}, {"text": "\"<p/>\"}"}]},
				"finishReason": "STOP"
			}],
			"usageMetadata": {"promptTokenCount": 12, "candidatesTokenCount": 30, "totalTokenCount": 42}
		}`)
	}))
	defer srv.Close()

	p := gemini.New(gemini.WithBaseURL(srv.URL + "/"))
	resp, err := p.Generate(context.Background(), sitegen.ProviderRequest{
		Auth:        sitegen.Auth{APIKey: "secret"},
		Model:       "gemini-2.5-flash",
		Messages:    []sitegen.Message{{Role: "user", Content: "build a site"}, {Role: "assistant", Content: "ok"}},
		Temperature: sitegen.Float64Ptr(0.4),
	})
	require.NoError(t, err)

	assert.Equal(t, "gemini", p.Name())
	assert.Equal(t, "resp-1", resp.ID)
	assert.Equal(t, `{"html":"<p/>"}`, resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, "gemini-2.5-flash-001", resp.Model)
	assert.Equal(t, sitegen.Usage{PromptTokens: 12, CompletionTokens: 30, TotalTokens: 42}, resp.Usage)

	assert.Equal(t, "user", gjson.GetBytes(gotBody, "contents.0.role").String())
	assert.Equal(t, "build a site", gjson.GetBytes(gotBody, "contents.0.parts.0.text").String())
	assert.Equal(t, "model", gjson.GetBytes(gotBody, "contents.1.role").String())
	assert.Equal(t, 0.4, gjson.GetBytes(gotBody, "generationConfig.temperature").Float())
	assert.False(t, gjson.GetBytes(gotBody, "generationConfig.maxOutputTokens").Exists())
}

func TestGenerate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"quota"}}`, sitegen.ErrRateLimited},
		{"unauthorized", http.StatusUnauthorized, `{}`, sitegen.ErrAuthFailed},
		{"invalid key", http.StatusBadRequest, `{"error":{"message":"API key not valid","details":[{"reason":"API_KEY_INVALID"}]}}`, sitegen.ErrAuthFailed},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad"}}`, sitegen.ErrInvalidRequest},
		{"server error", http.StatusInternalServerError, `oops`, sitegen.ErrProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := gemini.New(gemini.WithBaseURL(srv.URL)).Generate(context.Background(), sitegen.ProviderRequest{Model: "m"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGenerate_EmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"candidates":[]}`)
	}))
	defer srv.Close()

	_, err := gemini.New(gemini.WithBaseURL(srv.URL)).Generate(context.Background(), sitegen.ProviderRequest{Model: "m"})
	assert.ErrorIs(t, err, sitegen.ErrProviderUnavailable)
	assert.True(t, sitegen.IsRetryable(err))
}

func TestGenerate_BlockedReply(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"safety finish without parts", `{"candidates":[{"finishReason":"SAFETY"}]}`, "blocked: SAFETY"},
		{"prompt blocked", `{"promptFeedback":{"blockReason":"PROHIBITED_CONTENT"}}`, "blocked: PROHIBITED_CONTENT"},
		{"only thought parts", `{"candidates":[{"content":{"parts":[{"text":"hmm","thought":true}]},"finishReason":"STOP"}]}`, "blocked: STOP"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := gemini.New(gemini.WithBaseURL(srv.URL)).Generate(context.Background(), sitegen.ProviderRequest{Model: "m"})
			require.Error(t, err)
			assert.ErrorIs(t, err, sitegen.ErrProviderUnavailable)
			assert.True(t, sitegen.IsRetryable(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestGenerate_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := gemini.New(gemini.WithBaseURL(url), gemini.WithName("gemini-eu")).Generate(context.Background(), sitegen.ProviderRequest{Model: "m"})
	assert.ErrorIs(t, err, sitegen.ErrProviderUnavailable)
}
