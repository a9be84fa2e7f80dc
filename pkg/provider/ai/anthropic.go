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
	anthropicVendor  = "anthropic"
	anthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion = "2023-06-01"

	// The messages API requires max_tokens; this is the default when
	// the caller leaves it unset.
	anthropicDefaultMaxTokens = 1024
)

// Anthropic is the Claude messages client. System turns are hoisted
// into the top-level system field.
type Anthropic struct {
	cfg        VendorConfig
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropic builds the Anthropic client.
func NewAnthropic(cfg VendorConfig, logger *slog.Logger) *Anthropic {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}

	return &Anthropic{
		cfg:        cfg,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.With("vendor", anthropicVendor),
	}
}

// Vendor names the client for routing labels and logs.
func (a *Anthropic) Vendor() string {
	return anthropicVendor
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete runs one messages call.
func (a *Anthropic) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	payload := translateAnthropicRequest(req)

	raw, status, err := postJSON(ctx, a.httpClient, anthropicVendor,
		a.baseURL+"/messages",
		map[string]string{
			"x-api-key":         a.cfg.APIKey,
			"anthropic-version": anthropicVersion,
		},
		payload)
	if err != nil {
		return nil, err
	}

	var decoded anthropicResponse
	if unmarshalErr := json.Unmarshal(raw, &decoded); unmarshalErr != nil {
		if status >= 400 {
			return nil, provider.FromStatus(anthropicVendor, status, bodySnippet(raw))
		}

		return nil, provider.NewError(anthropicVendor, provider.KindUpstreamInvalid, status, unmarshalErr.Error())
	}

	if status >= 400 || decoded.Error != nil {
		message := "request failed"
		if decoded.Error != nil {
			message = decoded.Error.Message
		}

		if status == 0 {
			status = http.StatusBadGateway
		}

		return nil, provider.FromStatus(anthropicVendor, status, message)
	}

	var content strings.Builder

	for _, block := range decoded.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	model := decoded.Model
	if model == "" {
		model = req.Model
	}

	prompt := decoded.Usage.InputTokens
	completion := decoded.Usage.OutputTokens

	return &Completion{
		Content: content.String(),
		Model:   model,
		Usage: Usage{
			Prompt:     prompt,
			Completion: completion,
			Total:      prompt + completion,
		},
	}, nil
}

// translateAnthropicRequest hoists system turns and applies the
// mandatory max_tokens default.
func translateAnthropicRequest(req CompletionRequest) anthropicRequest {
	var system []string

	messages := make([]Message, 0, len(req.Messages))

	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			system = append(system, msg.Content)

			continue
		}

		messages = append(messages, msg)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	return anthropicRequest{
		Model:       req.Model,
		System:      strings.Join(system, "\n\n"),
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}
}
