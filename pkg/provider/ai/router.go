package ai

import (
	"context"
	"fmt"
	"strings"
)

// Router picks the vendor client for a model id by its prefix:
// gpt-* goes to OpenAI, gemini-* to Google, claude-* to Anthropic.
type Router struct {
	openai    Client
	google    Client
	anthropic Client
}

// NewRouter builds a router. Unconfigured vendors may be nil; routing
// to them reports ErrVendorNotConfigured.
func NewRouter(openai, google, anthropic Client) *Router {
	return &Router{
		openai:    openai,
		google:    google,
		anthropic: anthropic,
	}
}

// Resolve returns the client and vendor label for a model id.
func (r *Router) Resolve(model string) (Client, string, error) {
	var (
		client Client
		name   string
	)

	switch {
	case strings.HasPrefix(model, "gpt-"):
		client, name = r.openai, openAIVendor
	case strings.HasPrefix(model, "gemini-"):
		client, name = r.google, geminiVendor
	case strings.HasPrefix(model, "claude-"):
		client, name = r.anthropic, anthropicVendor
	default:
		return nil, "", fmt.Errorf("resolving %q: %w", model, ErrUnknownModel)
	}

	if client == nil {
		return nil, name, fmt.Errorf("resolving %q: %s: %w", model, name, ErrVendorNotConfigured)
	}

	return client, name, nil
}

// Client adapts the router to the Client contract, resolving each
// request's model to its vendor. Internal callers like the editor and
// the onboarder use this so model choice stays a configuration knob.
func (r *Router) Client() Client {
	return &routedClient{router: r}
}

type routedClient struct {
	router *Router
}

func (c *routedClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	client, _, err := c.router.Resolve(req.Model)
	if err != nil {
		return nil, err
	}

	return client.Complete(ctx, req)
}

func (c *routedClient) Vendor() string { return "auto" }

// Vendors lists the configured vendor labels.
func (r *Router) Vendors() []string {
	vendors := make([]string, 0, 3)

	if r.openai != nil {
		vendors = append(vendors, openAIVendor)
	}

	if r.google != nil {
		vendors = append(vendors, geminiVendor)
	}

	if r.anthropic != nil {
		vendors = append(vendors, anthropicVendor)
	}

	return vendors
}
