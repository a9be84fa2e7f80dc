// Package ai exposes the three completion vendors behind one client
// contract with normalised usage accounting.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/webtosite/webtosite/pkg/provider"
)

// Vendor call deadline. Completion calls run longer than the other
// provider surfaces.
const defaultTimeout = 60 * time.Second

// Message roles shared across vendors. Translation to vendor-specific
// roles happens inside each client.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversational turn.
type Message struct {
	Role    string `json:"role"    validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required"`
}

// CompletionRequest is the vendor-neutral completion input.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
}

// Usage is always normalised to prompt, completion and total counts
// regardless of the vendor's own accounting names.
type Usage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Completion is the vendor-neutral completion output.
type Completion struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
}

// Client is one completion vendor.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	Vendor() string
}

// VendorConfig carries one vendor's key. BaseURL overrides the
// endpoint for tests.
type VendorConfig struct {
	APIKey  string
	BaseURL string
}

// Routing errors surfaced by the Router.
var (
	ErrUnknownModel        = errors.New("model does not match a known vendor prefix")
	ErrVendorNotConfigured = errors.New("vendor is not configured")
)

// CompleteWithRetry wraps a completion call in a retry envelope.
// Clients themselves never retry, so each caller picks its own
// attempt budget.
func CompleteWithRetry(ctx context.Context, logger *slog.Logger, retry provider.Retry, client Client, req CompletionRequest) (*Completion, error) {
	return provider.Do(ctx, logger, retry, client.Vendor()+".complete", func(ctx context.Context) (*Completion, error) {
		return client.Complete(ctx, req)
	})
}

// postJSON sends one vendor request and hands back the raw response
// for vendor-specific decoding. Transport failures come back already
// mapped to the uniform error shape.
func postJSON(ctx context.Context, httpClient *http.Client, vendorName, url string, headers map[string]string, payload any) ([]byte, int, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, provider.NewError(vendorName, provider.KindUpstreamInvalid, 0, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, 0, provider.NewError(vendorName, provider.KindUpstreamInvalid, 0, err.Error())
	}

	req.Header.Set("Content-Type", "application/json")

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, 0, provider.FromTransport(vendorName, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, provider.FromTransport(vendorName, err)
	}

	return raw, resp.StatusCode, nil
}

func bodySnippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}

	return s
}

