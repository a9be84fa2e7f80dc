// Package instawp provisions managed WordPress sites through the
// InstaWP v2 API and probes them for readiness.
package instawp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/webtosite/webtosite/pkg/provider"
)

const (
	vendor        = "instawp"
	productionURL = "https://app.instawp.io/api/v2"

	defaultTimeout = 30 * time.Second

	// Site creation defaults applied when params leave them zero.
	defaultWPVersion  = "6.8.1"
	defaultPHPVersion = "8.0"
	defaultPlanID     = 2

	defaultReadyTimeout  = 300 * time.Second
	defaultReadyInterval = 10 * time.Second
	defaultProbeTimeout  = 6 * time.Second
	defaultProbeGap      = 2 * time.Second

	// maxProbeRetries bounds the HEAD probes after the API reports
	// ready. Exhausting them trusts the API; DNS or TLS may still be
	// propagating.
	maxProbeRetries = 6
)

// Config carries the host API key and probe tuning. BaseURL overrides
// the endpoint for tests.
type Config struct {
	APIKey  string
	BaseURL string
	Retry   provider.Retry

	ReadyTimeout  time.Duration
	ReadyInterval time.Duration
	ProbeTimeout  time.Duration
	ProbeGap      time.Duration
}

// Client is the host vendor client.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	probe      *http.Client
	logger     *slog.Logger
	retry      provider.Retry
}

// Site is a provisioned WordPress instance.
type Site struct {
	ID         int64      `json:"id"`
	Status     flexString `json:"status"`
	WPURL      string     `json:"wp_url"`
	WPUsername string     `json:"wp_username"`
	WPPassword string     `json:"wp_password"`
	SHash      string     `json:"s_hash"`
}

// CreateSiteParams names the new site. Zero version, plan and PHP
// fields pick the provisioning defaults.
type CreateSiteParams struct {
	Name       string
	WPVersion  string
	PHPVersion string
	PlanID     int
	Reserved   *bool
}

// DomainOptions controls domain mapping.
type DomainOptions struct {
	WWW      bool
	RouteWWW bool
}

// DomainMapping is the host's answer to a domain mapping request. The
// A records are the IPs the DNS zone must point at.
type DomainMapping struct {
	ARecords []string `json:"a_records"`
}

// SSLStatus reports certificate state for a mapped domain.
type SSLStatus struct {
	Enabled bool   `json:"enabled"`
	Status  string `json:"status"`
}

// NewClient builds a host client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = productionURL
	}

	if cfg.ReadyTimeout == 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}

	if cfg.ReadyInterval == 0 {
		cfg.ReadyInterval = defaultReadyInterval
	}

	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}

	if cfg.ProbeGap == 0 {
		cfg.ProbeGap = defaultProbeGap
	}

	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = provider.DefaultRetry()
	}

	return &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		probe:      &http.Client{Timeout: cfg.ProbeTimeout},
		logger:     logger.With("vendor", vendor),
		retry:      retry,
	}
}

// CreateSite provisions a reserved site and returns its credentials.
func (c *Client) CreateSite(ctx context.Context, params CreateSiteParams) (*Site, error) {
	return provider.Do(ctx, c.logger, c.retry, "sites.create", func(ctx context.Context) (*Site, error) {
		reserved := true
		if params.Reserved != nil {
			reserved = *params.Reserved
		}

		payload := map[string]any{
			"site_name":   params.Name,
			"wp_version":  valueOr(params.WPVersion, defaultWPVersion),
			"php_version": valueOr(params.PHPVersion, defaultPHPVersion),
			"plan_id":     params.PlanID,
			"is_reserved": reserved,
		}
		if params.PlanID == 0 {
			payload["plan_id"] = defaultPlanID
		}

		var site Site
		if err := c.do(ctx, http.MethodPost, "/sites", payload, &site); err != nil {
			return nil, err
		}

		return &site, nil
	})
}

// GetSite fetches one site by id.
func (c *Client) GetSite(ctx context.Context, siteID int64) (*Site, error) {
	return provider.Do(ctx, c.logger, c.retry, "sites.get", func(ctx context.Context) (*Site, error) {
		var site Site
		if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/sites/%d", siteID), nil, &site); err != nil {
			return nil, err
		}

		return &site, nil
	})
}

// MapDomain attaches a custom domain to a site and returns the A
// record IPs the domain must resolve to.
func (c *Client) MapDomain(ctx context.Context, siteID int64, domain string, opts DomainOptions) (*DomainMapping, error) {
	return provider.Do(ctx, c.logger, c.retry, "sites.map_domain", func(ctx context.Context) (*DomainMapping, error) {
		payload := map[string]any{
			"name":      domain,
			"www":       opts.WWW,
			"route_www": opts.RouteWWW,
		}

		var mapping DomainMapping
		if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/sites/%d/domains", siteID), payload, &mapping); err != nil {
			return nil, err
		}

		return &mapping, nil
	})
}

// GetSSLStatus reports whether the mapped domain's certificate is
// issued.
func (c *Client) GetSSLStatus(ctx context.Context, siteID int64) (*SSLStatus, error) {
	return provider.Do(ctx, c.logger, c.retry, "sites.ssl_status", func(ctx context.Context) (*SSLStatus, error) {
		var status SSLStatus
		if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/sites/%d/ssl", siteID), nil, &status); err != nil {
			return nil, err
		}

		return &status, nil
	})
}

// WaitUntilReady polls the site's API status on the configured
// interval until it reports ready or the budget runs out. Once the API
// reports ready the site URL is probed with HEAD requests; after
// maxProbeRetries failed probes the API's word is trusted, since DNS
// or TLS may still be propagating.
func (c *Client) WaitUntilReady(ctx context.Context, siteID int64) (*Site, error) {
	deadline := time.Now().Add(c.cfg.ReadyTimeout)

	ticker := time.NewTicker(c.cfg.ReadyInterval)
	defer ticker.Stop()

	for {
		site, err := c.GetSite(ctx, siteID)
		if err == nil && siteReady(site.Status) {
			c.probeSite(ctx, site.WPURL)

			return site, nil
		}

		if err != nil {
			c.logger.Warn("site status poll failed", "site_id", siteID, "error", err)
		}

		if time.Now().After(deadline) {
			return nil, provider.NewError(vendor, provider.KindTimeout, 0,
				fmt.Sprintf("site %d did not become ready within %s", siteID, c.cfg.ReadyTimeout))
		}

		select {
		case <-ctx.Done():
			return nil, provider.FromTransport(vendor, ctx.Err())
		case <-ticker.C:
		}
	}
}

// siteReady recognises the host's ready markers: numeric status 0 or
// the literals "active" and "running".
func siteReady(status flexString) bool {
	switch strings.ToLower(status.String()) {
	case "0", "active", "running":
		return true
	default:
		return false
	}
}

func (c *Client) probeSite(ctx context.Context, siteURL string) {
	if siteURL == "" {
		return
	}

	for attempt := 1; attempt <= maxProbeRetries; attempt++ {
		ok, status := c.probeOnce(ctx, siteURL)
		if ok {
			c.logger.Debug("site answered readiness probe",
				"url", siteURL,
				"attempt", attempt,
				"status", status)

			return
		}

		if ctx.Err() != nil {
			return
		}

		time.Sleep(c.cfg.ProbeGap)
	}

	c.logger.Warn("site never answered readiness probes, trusting API status", "url", siteURL)
}

func (c *Client) probeOnce(ctx context.Context, siteURL string) (bool, int) {
	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, siteURL, nil)
	if err != nil {
		return false, 0
	}

	resp, err := c.probe.Do(req)
	if err != nil {
		return false, 0
	}
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode < 400, resp.StatusCode
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader

	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return provider.NewError(vendor, provider.KindUpstreamInvalid, 0, err.Error())
		}

		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return provider.NewError(vendor, provider.KindUpstreamInvalid, 0, err.Error())
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return provider.FromTransport(vendor, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.FromTransport(vendor, err)
	}

	if resp.StatusCode >= 400 {
		return provider.FromStatus(vendor, resp.StatusCode, snippet(raw))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return provider.NewError(vendor, provider.KindUpstreamInvalid, resp.StatusCode, err.Error())
	}

	if !env.Status {
		message := env.Message
		if message == "" {
			message = "host reported failure without a message"
		}

		return provider.NewError(vendor, provider.KindUpstreamFailure, resp.StatusCode, message)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return provider.NewError(vendor, provider.KindUpstreamInvalid, resp.StatusCode, err.Error())
		}
	}

	return nil
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}

	return value
}

func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}

	return s
}

// flexString tolerates the host's habit of returning site status as
// either a number or a string.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		*f = flexString(asString)

		return nil
	}

	var asNumber json.Number
	if err := json.Unmarshal(data, &asNumber); err != nil {
		return err
	}

	*f = flexString(asNumber.String())

	return nil
}

func (f flexString) String() string {
	return string(f)
}
