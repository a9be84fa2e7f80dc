package ai

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/webtosite/webtosite/pkg/provider"
)

const (
	openAIVendor  = "openai"
	openAIBaseURL = "https://api.openai.com/v1"
)

// OpenAI is the OpenAI-compatible chat completions client. Messages
// pass through verbatim.
type OpenAI struct {
	cfg        VendorConfig
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAI builds the OpenAI client.
func NewOpenAI(cfg VendorConfig, logger *slog.Logger) *OpenAI {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAIBaseURL
	}

	return &OpenAI{
		cfg:        cfg,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.With("vendor", openAIVendor),
	}
}

// Vendor names the client for routing labels and logs.
func (o *OpenAI) Vendor() string {
	return openAIVendor
}

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *openAIError `json:"error,omitempty"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// Complete runs one chat completion.
func (o *OpenAI) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	payload := openAIRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	raw, status, err := postJSON(ctx, o.httpClient, openAIVendor,
		o.baseURL+"/chat/completions",
		map[string]string{"Authorization": "Bearer " + o.cfg.APIKey},
		payload)
	if err != nil {
		return nil, err
	}

	var decoded openAIResponse
	if unmarshalErr := json.Unmarshal(raw, &decoded); unmarshalErr != nil {
		if status >= 400 {
			return nil, provider.FromStatus(openAIVendor, status, bodySnippet(raw))
		}

		return nil, provider.NewError(openAIVendor, provider.KindUpstreamInvalid, status, unmarshalErr.Error())
	}

	if status >= 400 || decoded.Error != nil {
		return nil, o.mapError(status, decoded.Error)
	}

	if len(decoded.Choices) == 0 {
		return nil, provider.NewError(openAIVendor, provider.KindUpstreamInvalid, status, "response carried no choices")
	}

	model := decoded.Model
	if model == "" {
		model = req.Model
	}

	return &Completion{
		Content: decoded.Choices[0].Message.Content,
		Model:   model,
		Usage: Usage{
			Prompt:     decoded.Usage.PromptTokens,
			Completion: decoded.Usage.CompletionTokens,
			Total:      decoded.Usage.TotalTokens,
		},
	}, nil
}

func (o *OpenAI) mapError(status int, apiErr *openAIError) error {
	message := "request failed"
	errType := ""

	if apiErr != nil {
		message = apiErr.Message
		errType = apiErr.Type
	}

	// A 429 with insufficient_quota is a billing state, not a rate
	// limit, and must not be retried.
	if errType == "insufficient_quota" {
		return provider.NewError(openAIVendor, provider.KindQuotaExceeded, status, message)
	}

	if status == 0 {
		status = http.StatusBadGateway
	}

	return provider.FromStatus(openAIVendor, status, message)
}
