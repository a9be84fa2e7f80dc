package models

import "time"

// SiteStatus is the lifecycle state of a proxy site registration.
type SiteStatus string

const (
	SiteStatusActive  SiteStatus = "active"
	SiteStatusRevoked SiteStatus = "revoked"
)

// ProxySite is one registered consumer of the AI proxy, keyed by its
// opaque API key.
type ProxySite struct {
	ID                string     `json:"id"`
	Domain            string     `json:"domain"             validate:"required,fqdn"`
	APIKey            string     `json:"api_key,omitempty"`
	Label             string     `json:"label,omitempty"`
	Status            SiteStatus `json:"status"`
	SubscriptionTier  string     `json:"subscription_tier"`
	MonthlyTokenLimit int64      `json:"monthly_token_limit"`
	CreatedAt         time.Time  `json:"created_at"`
	RevokedAt         *time.Time `json:"revoked_at,omitempty"`
}

// Active reports whether the site may call the proxy.
func (s *ProxySite) Active() bool {
	return s.Status == SiteStatusActive
}

// RequestLog is the per-request usage record the proxy persists after
// each upstream call.
type RequestLog struct {
	ID               int64     `json:"id"`
	SiteID           string    `json:"site_id"`
	Domain           string    `json:"domain"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	Endpoint         string    `json:"endpoint"`
	Method           string    `json:"method"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	ResponseStatus   int       `json:"response_status"`
	LatencyMS        int64     `json:"latency_ms"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	RequestedAt      time.Time `json:"requested_at"`
}

// SubscriptionTier defines the quota, model allowance and request rate
// of one billing tier.
type SubscriptionTier struct {
	Tier              string   `json:"tier"`
	DisplayName       string   `json:"display_name"`
	MonthlyTokenLimit int64    `json:"monthly_token_limit"`
	AllowedModels     []string `json:"allowed_models"`
	RateLimitRPM      int      `json:"rate_limit_rpm"`
}

// AllowsModel reports whether the tier's model allowance includes the
// given model id.
func (t *SubscriptionTier) AllowsModel(model string) bool {
	for _, m := range t.AllowedModels {
		if m == model {
			return true
		}
	}

	return false
}
