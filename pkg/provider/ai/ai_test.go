package ai_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webtosite/webtosite/pkg/provider"
	"github.com/webtosite/webtosite/pkg/provider/ai"
)

func TestOpenAI_Complete(t *testing.T) {
	t.Parallel()

	var payload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		_ = json.NewDecoder(r.Body).Decode(&payload)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-4o-mini",
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "hello there"}},
			},
			"usage": map[string]any{
				"prompt_tokens":     12,
				"completion_tokens": 3,
				"total_tokens":      15,
			},
		})
	}))
	t.Cleanup(server.Close)

	client := ai.NewOpenAI(ai.VendorConfig{APIKey: "sk-test", BaseURL: server.URL}, slog.Default())

	completion, err := client.Complete(context.Background(), ai.CompletionRequest{
		Model: "gpt-4o-mini",
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: "be brief"},
			{Role: ai.RoleUser, Content: "hi"},
		},
		MaxTokens: 100,
	})
	require.NoError(t, err)

	assert.Equal(t, "hello there", completion.Content)
	assert.Equal(t, "gpt-4o-mini", completion.Model)
	assert.Equal(t, ai.Usage{Prompt: 12, Completion: 3, Total: 15}, completion.Usage)

	// Messages pass through verbatim for the OpenAI shape.
	messages := payload["messages"].([]any)
	require.Len(t, messages, 2)
	first := messages[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	assert.Equal(t, float64(100), payload["max_tokens"])
}

func TestOpenAI_InsufficientQuotaIsNotRetryable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"message": "You exceeded your current quota",
				"type":    "insufficient_quota",
			},
		})
	}))
	t.Cleanup(server.Close)

	client := ai.NewOpenAI(ai.VendorConfig{APIKey: "sk-test", BaseURL: server.URL}, slog.Default())

	_, err := client.Complete(context.Background(), ai.CompletionRequest{Model: "gpt-4o-mini"})
	require.Error(t, err)

	assert.True(t, provider.IsKind(err, provider.KindQuotaExceeded))
	assert.False(t, provider.IsRetryable(err))
}

func TestOpenAI_PlainRateLimitIsRetryable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "Rate limit reached", "type": "rate_limit_error"},
		})
	}))
	t.Cleanup(server.Close)

	client := ai.NewOpenAI(ai.VendorConfig{APIKey: "sk-test", BaseURL: server.URL}, slog.Default())

	_, err := client.Complete(context.Background(), ai.CompletionRequest{Model: "gpt-4o-mini"})
	require.Error(t, err)

	assert.True(t, provider.IsKind(err, provider.KindRateLimited))
	assert.True(t, provider.IsRetryable(err))
}

func TestGemini_TranslatesRolesAndConfig(t *testing.T) {
	t.Parallel()

	var payload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/models/gemini-2.0-flash:generateContent", r.URL.Path)
		require.Equal(t, "g-key", r.URL.Query().Get("key"))

		_ = json.NewDecoder(r.Body).Decode(&payload)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": "bon"}, {"text": "jour"}}}},
			},
			"usageMetadata": map[string]any{
				"promptTokenCount":     7,
				"candidatesTokenCount": 2,
				"totalTokenCount":      9,
			},
		})
	}))
	t.Cleanup(server.Close)

	client := ai.NewGemini(ai.VendorConfig{APIKey: "g-key", BaseURL: server.URL}, slog.Default())

	temperature := 0.3
	completion, err := client.Complete(context.Background(), ai.CompletionRequest{
		Model: "gemini-2.0-flash",
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: "speak french"},
			{Role: ai.RoleUser, Content: "greet me"},
			{Role: ai.RoleAssistant, Content: "salut"},
			{Role: ai.RoleUser, Content: "more formal"},
		},
		MaxTokens:   64,
		Temperature: &temperature,
	})
	require.NoError(t, err)

	assert.Equal(t, "bonjour", completion.Content)
	assert.Equal(t, ai.Usage{Prompt: 7, Completion: 2, Total: 9}, completion.Usage)

	system := payload["systemInstruction"].(map[string]any)
	systemParts := system["parts"].([]any)
	require.Len(t, systemParts, 1)
	assert.Equal(t, "speak french", systemParts[0].(map[string]any)["text"])

	contents := payload["contents"].([]any)
	require.Len(t, contents, 3, "system turns leave the contents list")
	assert.Equal(t, "user", contents[0].(map[string]any)["role"])
	assert.Equal(t, "model", contents[1].(map[string]any)["role"], "assistant maps to model")

	generation := payload["generationConfig"].(map[string]any)
	assert.Equal(t, float64(64), generation["maxOutputTokens"])
	assert.Equal(t, 0.3, generation["temperature"])
}

func TestAnthropic_HoistsSystemAndDefaultsMaxTokens(t *testing.T) {
	t.Parallel()

	var payload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/messages", r.URL.Path)
		require.Equal(t, "a-key", r.Header.Get("x-api-key"))
		require.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		_ = json.NewDecoder(r.Body).Decode(&payload)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "claude-3-5-haiku-latest",
			"content": []map[string]any{
				{"type": "text", "text": "certainly"},
			},
			"usage": map[string]any{"input_tokens": 20, "output_tokens": 5},
		})
	}))
	t.Cleanup(server.Close)

	client := ai.NewAnthropic(ai.VendorConfig{APIKey: "a-key", BaseURL: server.URL}, slog.Default())

	completion, err := client.Complete(context.Background(), ai.CompletionRequest{
		Model: "claude-3-5-haiku-latest",
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: "be helpful"},
			{Role: ai.RoleUser, Content: "please"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "certainly", completion.Content)
	assert.Equal(t, ai.Usage{Prompt: 20, Completion: 5, Total: 25}, completion.Usage,
		"total is the sum of input and output tokens")

	assert.Equal(t, "be helpful", payload["system"], "system turns hoist to the top level")
	assert.Equal(t, float64(1024), payload["max_tokens"], "max_tokens defaults when unset")

	messages := payload["messages"].([]any)
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].(map[string]any)["role"])
}

type stubClient struct {
	vendor string
	fails  int
	calls  int
}

func (s *stubClient) Complete(context.Context, ai.CompletionRequest) (*ai.Completion, error) {
	s.calls++
	if s.calls <= s.fails {
		return nil, provider.NewError(s.vendor, provider.KindUpstreamFailure, 503, "overloaded")
	}

	return &ai.Completion{Content: "ok", Model: "m", Usage: ai.Usage{Total: 1}}, nil
}

func (s *stubClient) Vendor() string { return s.vendor }

func TestRouter_Resolve(t *testing.T) {
	t.Parallel()

	openai := &stubClient{vendor: "openai"}
	google := &stubClient{vendor: "google"}

	router := ai.NewRouter(openai, google, nil)

	client, vendorName, err := router.Resolve("gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "openai", vendorName)
	assert.Same(t, openai, client)

	_, vendorName, err = router.Resolve("gemini-2.5-pro")
	require.NoError(t, err)
	assert.Equal(t, "google", vendorName)

	_, _, err = router.Resolve("claude-sonnet-4-20250514")
	require.ErrorIs(t, err, ai.ErrVendorNotConfigured)

	_, _, err = router.Resolve("mistral-large")
	require.ErrorIs(t, err, ai.ErrUnknownModel)

	assert.Equal(t, []string{"openai", "google"}, router.Vendors())
}

func TestCompleteWithRetry(t *testing.T) {
	t.Parallel()

	stub := &stubClient{vendor: "openai", fails: 2}

	retry := provider.Retry{
		InitialInterval: time.Millisecond,
		Multiplier:      2,
		MaxElapsedTime:  time.Second,
		MaxAttempts:     4,
	}

	completion, err := ai.CompleteWithRetry(context.Background(), slog.Default(), retry, stub,
		ai.CompletionRequest{Model: "gpt-4o-mini"})
	require.NoError(t, err)

	assert.Equal(t, "ok", completion.Content)
	assert.Equal(t, 3, stub.calls)
}
