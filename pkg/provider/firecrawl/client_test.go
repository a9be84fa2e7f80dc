package firecrawl_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webtosite/webtosite/pkg/provider"
	"github.com/webtosite/webtosite/pkg/provider/firecrawl"
)

func fastConfig(baseURL string) firecrawl.Config {
	return firecrawl.Config{
		APIKey:  "fc-key",
		BaseURL: baseURL,
		Retry: provider.Retry{
			InitialInterval: time.Millisecond,
			Multiplier:      2,
			MaxElapsedTime:  time.Second,
			MaxAttempts:     2,
		},
	}
}

func TestClientScrape(t *testing.T) {
	t.Parallel()

	var payload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/scrape", r.URL.Path)
		require.Equal(t, "Bearer fc-key", r.Header.Get("Authorization"))

		_ = json.NewDecoder(r.Body).Decode(&payload)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"markdown": "# Acme Plumbing",
				"html":     "<html></html>",
				"links":    []string{"https://source.example/about"},
				"metadata": map[string]any{
					"title":       "Acme Plumbing | Fast fixes",
					"description": "Emergency plumbing around the clock",
					"sourceURL":   "https://source.example",
					"statusCode":  200,
				},
			},
		})
	}))
	t.Cleanup(server.Close)

	client := firecrawl.NewClient(fastConfig(server.URL), slog.Default())

	result, err := client.Scrape(context.Background(), "https://source.example", firecrawl.ScrapeOptions{
		OnlyMainContent: true,
		Screenshot:      true,
		Timeout:         15 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, "# Acme Plumbing", result.Markdown)
	assert.Equal(t, "Acme Plumbing | Fast fixes", result.Metadata.Title)
	assert.Equal(t, 200, result.Metadata.StatusCode)

	assert.Equal(t, "https://source.example", payload["url"])
	assert.Equal(t, true, payload["onlyMainContent"])
	assert.Equal(t, float64(15000), payload["timeout"])
	assert.Contains(t, payload["formats"], "screenshot")
}

func TestClientScrape_VendorFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   "target blocked scraping",
		})
	}))
	t.Cleanup(server.Close)

	client := firecrawl.NewClient(fastConfig(server.URL), slog.Default())

	_, err := client.Scrape(context.Background(), "https://source.example", firecrawl.ScrapeOptions{})
	require.Error(t, err)

	pe, ok := provider.AsError(err)
	require.True(t, ok)
	assert.Equal(t, provider.KindUpstreamFailure, pe.Kind)
	assert.Contains(t, pe.VendorMessage, "target blocked scraping")
}

func TestClientCrawl(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/crawl":
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "id": "job-1"})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/crawl/job-1":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status":    "completed",
				"total":     2,
				"completed": 2,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	client := firecrawl.NewClient(fastConfig(server.URL), slog.Default())
	ctx := context.Background()

	jobID, err := client.StartCrawl(ctx, "https://source.example", 5)
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)

	status, err := client.GetCrawlStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, "completed", status.Status)
	assert.Equal(t, 2, status.Completed)
}

func TestNew_SelectsNativeWithoutKey(t *testing.T) {
	t.Parallel()

	scraper := firecrawl.New(firecrawl.Config{}, slog.Default())
	_, isNative := scraper.(*firecrawl.NativeScraper)
	assert.True(t, isNative)

	scraper = firecrawl.New(firecrawl.Config{APIKey: "fc-key"}, slog.Default())
	_, isClient := scraper.(*firecrawl.Client)
	assert.True(t, isClient)
}

func TestNativeScraper_ExtractsMetadataAndText(t *testing.T) {
	t.Parallel()

	page := `<!doctype html>
<html lang="en">
<head>
  <title>Acme Plumbing | Fast fixes</title>
  <meta name="description" content="Emergency plumbing around the clock">
  <link rel="icon" href="/favicon.ico">
  <meta property="og:image" content="/hero.png">
  <style>body { color: #112233; }</style>
</head>
<body>
  <script>console.log("ignored")</script>
  <h1>Acme    Plumbing</h1>
  <p>We fix
  pipes.</p>
  <a href="/about">About</a>
  <a href="https://other.example/page">Partner</a>
  <a href="#top">Top</a>
</body>
</html>`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	}))
	t.Cleanup(server.Close)

	scraper := firecrawl.NewNativeScraper(slog.Default())

	result, err := scraper.Scrape(context.Background(), server.URL, firecrawl.ScrapeOptions{})
	require.NoError(t, err)

	assert.Equal(t, "Acme Plumbing | Fast fixes", result.Metadata.Title)
	assert.Equal(t, "Emergency plumbing around the clock", result.Metadata.Description)
	assert.Equal(t, "en", result.Metadata.Language)
	assert.Equal(t, server.URL+"/favicon.ico", result.Metadata.Favicon)
	assert.Equal(t, server.URL+"/hero.png", result.Metadata.OGImage)
	assert.Equal(t, 200, result.Metadata.StatusCode)

	assert.Contains(t, result.Links, server.URL+"/about")
	assert.Contains(t, result.Links, "https://other.example/page")

	assert.Contains(t, result.Markdown, "# Acme Plumbing | Fast fixes")
	assert.Contains(t, result.Markdown, "Acme Plumbing We fix pipes.", "whitespace is collapsed")
	assert.NotContains(t, result.Markdown, "console.log")
	assert.NotContains(t, result.Markdown, "#112233")
}

func TestNativeScraper_UnreachableDegradesToSynthetic(t *testing.T) {
	t.Parallel()

	scraper := firecrawl.NewNativeScraper(slog.Default())

	result, err := scraper.Scrape(context.Background(), "https://unreachable.invalid", firecrawl.ScrapeOptions{})
	require.NoError(t, err)

	assert.Equal(t, "unreachable.invalid", result.Metadata.Title)
	assert.Equal(t, "https://unreachable.invalid", result.Metadata.SourceURL)
	assert.Equal(t, "# unreachable.invalid", result.Markdown)
	assert.Empty(t, result.HTML)
}
