// Package cloudflare manages zones, A records and zone security
// settings through the Cloudflare v4 API.
package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/webtosite/webtosite/pkg/provider"
)

const (
	vendor         = "cloudflare"
	productionURL  = "https://api.cloudflare.com/client/v4"
	defaultTimeout = 30 * time.Second
)

// Config carries the global API key, its account email and the target
// account. BaseURL overrides the endpoint for tests.
type Config struct {
	APIKey    string
	Email     string
	AccountID string
	BaseURL   string
	Retry     provider.Retry
}

// Client is the DNS vendor client.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	retry      provider.Retry
}

// Zone is a Cloudflare zone with its assigned nameservers.
type Zone struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Status      string   `json:"status"`
	NameServers []string `json:"name_servers"`
}

// DNSRecord is one record within a zone.
type DNSRecord struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`
}

// SettingOutcome reports one security setting application.
type SettingOutcome struct {
	Setting string `json:"setting"`
	Value   string `json:"value"`
	Applied bool   `json:"applied"`
	Error   string `json:"error,omitempty"`
}

// securitySettings are applied in order by ConfigureSecurity.
var securitySettings = []struct {
	name  string
	value string
}{
	{"ssl", "full"},
	{"always_use_https", "on"},
	{"automatic_https_rewrites", "on"},
	{"min_tls_version", "1.2"},
}

// NewClient builds a DNS client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = productionURL
	}

	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = provider.DefaultRetry()
	}

	return &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.With("vendor", vendor),
		retry:      retry,
	}
}

// ZoneByName looks a zone up by its exact name. A missing zone returns
// (nil, nil).
func (c *Client) ZoneByName(ctx context.Context, name string) (*Zone, error) {
	return provider.Do(ctx, c.logger, c.retry, "zones.list", func(ctx context.Context) (*Zone, error) {
		var zones []Zone

		query := url.Values{}
		query.Set("name", name)

		if err := c.do(ctx, http.MethodGet, "/zones?"+query.Encode(), nil, &zones); err != nil {
			return nil, err
		}

		for i := range zones {
			if strings.EqualFold(zones[i].Name, name) {
				return &zones[i], nil
			}
		}

		return nil, nil
	})
}

// CreateZone registers a new zone under the configured account.
func (c *Client) CreateZone(ctx context.Context, name string) (*Zone, error) {
	return provider.Do(ctx, c.logger, c.retry, "zones.create", func(ctx context.Context) (*Zone, error) {
		payload := map[string]any{
			"name":       name,
			"jump_start": false,
		}
		if c.cfg.AccountID != "" {
			payload["account"] = map[string]string{"id": c.cfg.AccountID}
		}

		var zone Zone
		if err := c.do(ctx, http.MethodPost, "/zones", payload, &zone); err != nil {
			return nil, err
		}

		return &zone, nil
	})
}

// EnsureZone returns the zone for a domain, creating it when absent.
// The second return reports whether a zone was created.
func (c *Client) EnsureZone(ctx context.Context, name string) (*Zone, bool, error) {
	zone, err := c.ZoneByName(ctx, name)
	if err != nil {
		return nil, false, err
	}

	if zone != nil {
		return zone, false, nil
	}

	zone, err = c.CreateZone(ctx, name)
	if err != nil {
		return nil, false, err
	}

	return zone, true, nil
}

// ReplaceARecords deletes any existing A records for the name and
// creates one proxied record per IP. Re-running with the same inputs
// converges on the same record set.
func (c *Client) ReplaceARecords(ctx context.Context, zoneID, name string, ips []string, proxied bool) ([]DNSRecord, error) {
	existing, err := c.listARecords(ctx, zoneID, name)
	if err != nil {
		return nil, err
	}

	for _, record := range existing {
		if err := c.deleteRecord(ctx, zoneID, record.ID); err != nil {
			return nil, err
		}
	}

	created := make([]DNSRecord, 0, len(ips))

	for _, ip := range ips {
		record, err := c.createARecord(ctx, zoneID, name, ip, proxied)
		if err != nil {
			return nil, err
		}

		created = append(created, *record)
	}

	return created, nil
}

// ConfigureSecurity applies the zone hardening settings one by one.
// Individual failures are reported in the outcomes rather than
// aborting the remaining settings.
func (c *Client) ConfigureSecurity(ctx context.Context, zoneID string) []SettingOutcome {
	outcomes := make([]SettingOutcome, 0, len(securitySettings))

	for _, setting := range securitySettings {
		outcome := SettingOutcome{Setting: setting.name, Value: setting.value}

		err := c.patchSetting(ctx, zoneID, setting.name, setting.value)
		if err != nil {
			outcome.Error = err.Error()
			c.logger.Warn("zone security setting failed",
				"zone_id", zoneID,
				"setting", setting.name,
				"error", err)
		} else {
			outcome.Applied = true
		}

		outcomes = append(outcomes, outcome)

		if ctx.Err() != nil {
			break
		}
	}

	return outcomes
}

func (c *Client) listARecords(ctx context.Context, zoneID, name string) ([]DNSRecord, error) {
	return provider.Do(ctx, c.logger, c.retry, "dns_records.list", func(ctx context.Context) ([]DNSRecord, error) {
		query := url.Values{}
		query.Set("type", "A")
		query.Set("name", name)
		query.Set("per_page", "100")

		var records []DNSRecord
		if err := c.do(ctx, http.MethodGet, "/zones/"+zoneID+"/dns_records?"+query.Encode(), nil, &records); err != nil {
			return nil, err
		}

		return records, nil
	})
}

func (c *Client) deleteRecord(ctx context.Context, zoneID, recordID string) error {
	_, err := provider.Do(ctx, c.logger, c.retry, "dns_records.delete", func(ctx context.Context) (struct{}, error) {
		err := c.do(ctx, http.MethodDelete, "/zones/"+zoneID+"/dns_records/"+recordID, nil, nil)
		if provider.IsKind(err, provider.KindNotFound) {
			// Already gone, which is the state we want.
			return struct{}{}, nil
		}

		return struct{}{}, err
	})

	return err
}

func (c *Client) createARecord(ctx context.Context, zoneID, name, ip string, proxied bool) (*DNSRecord, error) {
	return provider.Do(ctx, c.logger, c.retry, "dns_records.create", func(ctx context.Context) (*DNSRecord, error) {
		payload := map[string]any{
			"type":    "A",
			"name":    name,
			"content": ip,
			"ttl":     1,
			"proxied": proxied,
		}

		var record DNSRecord
		if err := c.do(ctx, http.MethodPost, "/zones/"+zoneID+"/dns_records", payload, &record); err != nil {
			return nil, err
		}

		return &record, nil
	})
}

func (c *Client) patchSetting(ctx context.Context, zoneID, setting, value string) error {
	_, err := provider.Do(ctx, c.logger, c.retry, "zones.settings."+setting, func(ctx context.Context) (struct{}, error) {
		payload := map[string]any{"value": value}

		return struct{}{}, c.do(ctx, http.MethodPatch, "/zones/"+zoneID+"/settings/"+setting, payload, nil)
	})

	return err
}

type envelope struct {
	Success bool            `json:"success"`
	Errors  []apiMessage    `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

type apiMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
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

	req.Header.Set("X-Auth-Email", c.cfg.Email)
	req.Header.Set("X-Auth-Key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return provider.FromTransport(vendor, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.FromTransport(vendor, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 400 {
			return provider.FromStatus(vendor, resp.StatusCode, strings.TrimSpace(string(raw)))
		}

		return provider.NewError(vendor, provider.KindUpstreamInvalid, resp.StatusCode, err.Error())
	}

	if resp.StatusCode >= 400 || !env.Success {
		return envelopeError(resp.StatusCode, env)
	}

	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return provider.NewError(vendor, provider.KindUpstreamInvalid, resp.StatusCode, err.Error())
		}
	}

	return nil
}

func envelopeError(status int, env envelope) *provider.Error {
	message := "request was not successful"
	code := 0

	if len(env.Errors) > 0 {
		message = env.Errors[0].Message
		code = env.Errors[0].Code
	}

	// Record-exists codes surface as conflicts even on generic 400s.
	if code == 81053 || code == 81057 || code == 1061 {
		return provider.NewError(vendor, provider.KindConflict, status, fmt.Sprintf("[%d] %s", code, message))
	}

	if status == http.StatusOK {
		status = http.StatusBadRequest
	}

	return provider.FromStatus(vendor, status, fmt.Sprintf("[%d] %s", code, message))
}
