// Package firecrawl scrapes source sites, preferring the Firecrawl
// vendor API and falling back to a native HTTP scraper when no vendor
// key is configured.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/webtosite/webtosite/pkg/provider"
)

const (
	vendor        = "firecrawl"
	productionURL = "https://api.firecrawl.dev"

	defaultTimeout = 60 * time.Second
)

// ScrapeOptions tunes one scrape call.
type ScrapeOptions struct {
	Formats         []string
	OnlyMainContent bool
	Screenshot      bool
	Timeout         time.Duration
}

// Metadata is the page-level metadata every scrape returns.
type Metadata struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Language    string `json:"language,omitempty"`
	SourceURL   string `json:"sourceURL,omitempty"`
	StatusCode  int    `json:"statusCode,omitempty"`
	Favicon     string `json:"favicon,omitempty"`
	OGImage     string `json:"ogImage,omitempty"`
}

// ScrapeResult is the uniform scrape output shared by the vendor
// client and the native fallback.
type ScrapeResult struct {
	Markdown   string   `json:"markdown,omitempty"`
	HTML       string   `json:"html,omitempty"`
	Links      []string `json:"links,omitempty"`
	Screenshot string   `json:"screenshot,omitempty"`
	Metadata   Metadata `json:"metadata"`
}

// Scraper is the scraping contract consumed by onboarding.
type Scraper interface {
	Scrape(ctx context.Context, url string, opts ScrapeOptions) (*ScrapeResult, error)
}

// Config carries the vendor key. An empty APIKey selects the native
// fallback in New.
type Config struct {
	APIKey  string
	BaseURL string
	Retry   provider.Retry
}

// New returns the vendor client when a key is configured, otherwise
// the native fallback scraper.
func New(cfg Config, logger *slog.Logger) Scraper {
	if cfg.APIKey == "" {
		logger.Info("no scraper vendor key configured, using native fallback")

		return NewNativeScraper(logger)
	}

	return NewClient(cfg, logger)
}

// Client is the Firecrawl vendor client.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	retry      provider.Retry
}

// NewClient builds a vendor scraper client.
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

type scrapeEnvelope struct {
	Success bool          `json:"success"`
	Error   string        `json:"error,omitempty"`
	Data    *ScrapeResult `json:"data,omitempty"`
}

// Scrape fetches one page through the vendor.
func (c *Client) Scrape(ctx context.Context, url string, opts ScrapeOptions) (*ScrapeResult, error) {
	return provider.Do(ctx, c.logger, c.retry, "scrape", func(ctx context.Context) (*ScrapeResult, error) {
		formats := opts.Formats
		if len(formats) == 0 {
			formats = []string{"markdown", "html", "links"}
		}

		if opts.Screenshot && !contains(formats, "screenshot") {
			formats = append(formats, "screenshot")
		}

		payload := map[string]any{
			"url":             url,
			"formats":         formats,
			"onlyMainContent": opts.OnlyMainContent,
		}
		if opts.Timeout > 0 {
			payload["timeout"] = opts.Timeout.Milliseconds()
		}

		var env scrapeEnvelope
		if err := c.do(ctx, http.MethodPost, "/v1/scrape", payload, &env); err != nil {
			return nil, err
		}

		if !env.Success || env.Data == nil {
			return nil, provider.NewError(vendor, provider.KindUpstreamFailure, http.StatusOK,
				valueOr(env.Error, "scrape reported failure"))
		}

		return env.Data, nil
	})
}

type crawlStartEnvelope struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Error   string `json:"error,omitempty"`
}

// CrawlStatus reports an async crawl job.
type CrawlStatus struct {
	Status    string         `json:"status"`
	Total     int            `json:"total"`
	Completed int            `json:"completed"`
	Data      []ScrapeResult `json:"data,omitempty"`
}

// StartCrawl begins an async multi-page crawl and returns its job id.
func (c *Client) StartCrawl(ctx context.Context, url string, limit int) (string, error) {
	return provider.Do(ctx, c.logger, c.retry, "crawl.start", func(ctx context.Context) (string, error) {
		payload := map[string]any{"url": url}
		if limit > 0 {
			payload["limit"] = limit
		}

		var env crawlStartEnvelope
		if err := c.do(ctx, http.MethodPost, "/v1/crawl", payload, &env); err != nil {
			return "", err
		}

		if !env.Success || env.ID == "" {
			return "", provider.NewError(vendor, provider.KindUpstreamFailure, http.StatusOK,
				valueOr(env.Error, "crawl start reported failure"))
		}

		return env.ID, nil
	})
}

// GetCrawlStatus polls an async crawl job.
func (c *Client) GetCrawlStatus(ctx context.Context, jobID string) (*CrawlStatus, error) {
	return provider.Do(ctx, c.logger, c.retry, "crawl.status", func(ctx context.Context) (*CrawlStatus, error) {
		var status CrawlStatus
		if err := c.do(ctx, http.MethodGet, "/v1/crawl/"+jobID, nil, &status); err != nil {
			return nil, err
		}

		return &status, nil
	})
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
		return provider.FromStatus(vendor, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return provider.NewError(vendor, provider.KindUpstreamInvalid, resp.StatusCode, err.Error())
		}
	}

	return nil
}

func contains(values []string, needle string) bool {
	for _, v := range values {
		if v == needle {
			return true
		}
	}

	return false
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}

	return value
}
