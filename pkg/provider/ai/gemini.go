package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/webtosite/webtosite/pkg/provider"
)

const (
	geminiVendor  = "google"
	geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

// Gemini is the Google Generative Language client. System messages
// move into systemInstruction and assistant turns are translated to
// the vendor's "model" role.
type Gemini struct {
	cfg        VendorConfig
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGemini builds the Gemini client.
func NewGemini(cfg VendorConfig, logger *slog.Logger) *Gemini {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = geminiBaseURL
	}

	return &Gemini{
		cfg:        cfg,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.With("vendor", geminiVendor),
	}
}

// Vendor names the client for routing labels and logs.
func (g *Gemini) Vendor() string {
	return geminiVendor
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	Contents          []geminiContent   `json:"contents"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// Complete runs one generateContent call.
func (g *Gemini) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	payload := translateGeminiRequest(req)

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, req.Model, g.cfg.APIKey)

	raw, status, err := postJSON(ctx, g.httpClient, geminiVendor, url, nil, payload)
	if err != nil {
		return nil, err
	}

	var decoded geminiResponse
	if unmarshalErr := json.Unmarshal(raw, &decoded); unmarshalErr != nil {
		if status >= 400 {
			return nil, provider.FromStatus(geminiVendor, status, bodySnippet(raw))
		}

		return nil, provider.NewError(geminiVendor, provider.KindUpstreamInvalid, status, unmarshalErr.Error())
	}

	if status >= 400 || decoded.Error != nil {
		message := "request failed"
		if decoded.Error != nil {
			message = decoded.Error.Message

			if decoded.Error.Status == "RESOURCE_EXHAUSTED" {
				return nil, provider.NewError(geminiVendor, provider.KindRateLimited, status, message)
			}
		}

		if status == 0 {
			status = http.StatusBadGateway
		}

		return nil, provider.FromStatus(geminiVendor, status, message)
	}

	if len(decoded.Candidates) == 0 {
		return nil, provider.NewError(geminiVendor, provider.KindUpstreamInvalid, status, "response carried no candidates")
	}

	var content strings.Builder
	for _, part := range decoded.Candidates[0].Content.Parts {
		content.WriteString(part.Text)
	}

	usage := Usage{
		Prompt:     decoded.UsageMetadata.PromptTokenCount,
		Completion: decoded.UsageMetadata.CandidatesTokenCount,
		Total:      decoded.UsageMetadata.TotalTokenCount,
	}
	if usage.Total == 0 {
		usage.Total = usage.Prompt + usage.Completion
	}

	return &Completion{
		Content: content.String(),
		Model:   req.Model,
		Usage:   usage,
	}, nil
}

// translateGeminiRequest splits system turns into systemInstruction
// and maps assistant turns to the "model" role.
func translateGeminiRequest(req CompletionRequest) geminiRequest {
	var systemParts []geminiPart

	contents := make([]geminiContent, 0, len(req.Messages))

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			systemParts = append(systemParts, geminiPart{Text: msg.Content})
		case RoleAssistant:
			contents = append(contents, geminiContent{
				Role:  "model",
				Parts: []geminiPart{{Text: msg.Content}},
			})
		default:
			contents = append(contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: msg.Content}},
			})
		}
	}

	payload := geminiRequest{Contents: contents}

	if len(systemParts) > 0 {
		payload.SystemInstruction = &geminiContent{Parts: systemParts}
	}

	if req.MaxTokens > 0 || req.Temperature != nil {
		payload.GenerationConfig = &generationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		}
	}

	return payload
}
