package onboarding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CatalogTTL bounds how long a fetched template catalog is trusted.
const CatalogTTL = time.Hour

// TemplateInfo is one entry of the template catalog.
type TemplateInfo struct {
	Slug        string   `json:"slug"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Industries  []string `json:"industries,omitempty"`
	Skins       []string `json:"skins,omitempty"`
}

// fallbackTemplates is the single-entry catalog used when the base
// site cannot be reached and nothing is cached yet.
func fallbackTemplates() []TemplateInfo {
	return []TemplateInfo{{
		Slug:        "flexify",
		Name:        "Flexify",
		Description: "Versatile multi-purpose business template",
		Industries:  []string{"general", "business", "services"},
		Skins:       []string{"light", "dark"},
	}}
}

// Catalog serves the template catalog from the base site with an
// in-memory TTL cache. Concurrent refreshes collapse into one fetch;
// fetch failures fall back to the last good catalog, then to the
// hardcoded single entry.
type Catalog struct {
	baseURL    string
	httpClient *http.Client
	ttl        time.Duration
	logger     *slog.Logger

	group singleflight.Group

	mu        sync.RWMutex
	templates []TemplateInfo
	fetchedAt time.Time
}

// NewCatalog builds a catalog client. An empty baseURL disables
// fetching entirely; only seeded or fallback entries are served.
func NewCatalog(baseURL string, logger *slog.Logger) *Catalog {
	return &Catalog{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		ttl:        CatalogTTL,
		logger:     logger.With("module", "onboarding"),
	}
}

// SetTTL overrides the cache TTL, mainly for tests.
func (c *Catalog) SetTTL(ttl time.Duration) {
	c.ttl = ttl
}

// Seed replaces the cached catalog and marks it fresh.
func (c *Catalog) Seed(templates []TemplateInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.templates = templates
	c.fetchedAt = time.Now()
}

// Templates returns the current catalog. It never fails; degraded
// sources are logged and served from cache or the fallback.
func (c *Catalog) Templates(ctx context.Context) []TemplateInfo {
	c.mu.RLock()
	cached := c.templates
	fresh := len(cached) > 0 && time.Since(c.fetchedAt) < c.ttl
	c.mu.RUnlock()

	if fresh {
		return cached
	}

	result, _, _ := c.group.Do("catalog", func() (any, error) {
		return c.refresh(ctx), nil
	})

	return result.([]TemplateInfo)
}

// BySlug finds a catalog entry.
func (c *Catalog) BySlug(ctx context.Context, slug string) (TemplateInfo, bool) {
	for _, tpl := range c.Templates(ctx) {
		if tpl.Slug == slug {
			return tpl, true
		}
	}

	return TemplateInfo{}, false
}

func (c *Catalog) refresh(ctx context.Context) []TemplateInfo {
	fetched, err := c.fetch(ctx)
	if err == nil {
		c.mu.Lock()
		c.templates = fetched
		c.fetchedAt = time.Now()
		c.mu.Unlock()

		return fetched
	}

	c.logger.Warn("Template catalog fetch failed", "error", err)

	c.mu.RLock()
	stale := c.templates
	c.mu.RUnlock()

	if len(stale) > 0 {
		return stale
	}

	return fallbackTemplates()
}

func (c *Catalog) fetch(ctx context.Context) ([]TemplateInfo, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("no base site configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/templates", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog endpoint returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Templates []TemplateInfo `json:"templates"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}

	if len(envelope.Templates) == 0 {
		return nil, fmt.Errorf("catalog endpoint returned no templates")
	}

	return envelope.Templates, nil
}
