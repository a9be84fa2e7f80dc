package firecrawl

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	nativeTimeout       = 30 * time.Second
	nativeBodyLimit     = 2 << 20
	nativeMarkdownLimit = 8000
	nativeLinkLimit     = 100
)

var whitespacePattern = regexp.MustCompile(`\s+`)

// NativeScraper is the vendor-free fallback. It fetches the page
// directly and extracts metadata plus a stripped-text markdown
// rendition. Unreachable pages degrade to synthetic metadata derived
// from the URL instead of failing, so onboarding can still proceed.
type NativeScraper struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewNativeScraper builds the fallback scraper.
func NewNativeScraper(logger *slog.Logger) *NativeScraper {
	return &NativeScraper{
		httpClient: &http.Client{Timeout: nativeTimeout},
		logger:     logger.With("vendor", "native-scraper"),
	}
}

// Scrape fetches and strips one page.
func (n *NativeScraper) Scrape(ctx context.Context, rawURL string, opts ScrapeOptions) (*ScrapeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return n.synthetic(rawURL, err), nil
	}

	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; webtosite/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return n.synthetic(rawURL, err), nil
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, nativeBodyLimit))
	if err != nil {
		return n.synthetic(rawURL, err), nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(raw)))
	if err != nil {
		return n.synthetic(rawURL, err), nil
	}

	base, _ := url.Parse(rawURL)

	metadata := Metadata{
		SourceURL:  rawURL,
		StatusCode: resp.StatusCode,
		Title:      strings.TrimSpace(doc.Find("title").First().Text()),
		Language:   doc.Find("html").AttrOr("lang", ""),
	}

	if metadata.Title == "" {
		metadata.Title = hostOf(rawURL)
	}

	metadata.Description = strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", ""))
	if metadata.Description == "" {
		metadata.Description = strings.TrimSpace(doc.Find(`meta[property="og:description"]`).AttrOr("content", ""))
	}

	if href, ok := doc.Find(`link[rel*="icon"]`).First().Attr("href"); ok {
		metadata.Favicon = resolveRef(base, href)
	}

	if image, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content"); ok {
		metadata.OGImage = resolveRef(base, image)
	}

	links := collectLinks(doc, base)

	// Strip non-content nodes before flattening the body to text.
	doc.Find("script, style, noscript, iframe, svg").Remove()

	text := whitespacePattern.ReplaceAllString(doc.Find("body").Text(), " ")
	text = strings.TrimSpace(text)

	result := &ScrapeResult{
		HTML:     string(raw),
		Links:    links,
		Metadata: metadata,
		Markdown: buildMarkdown(metadata, text),
	}

	return result, nil
}

func (n *NativeScraper) synthetic(rawURL string, cause error) *ScrapeResult {
	host := hostOf(rawURL)

	n.logger.Warn("native scrape degraded to synthetic metadata",
		"url", rawURL,
		"error", cause)

	return &ScrapeResult{
		Markdown: "# " + host,
		Metadata: Metadata{
			Title:     host,
			SourceURL: rawURL,
		},
	}
}

func buildMarkdown(metadata Metadata, text string) string {
	var b strings.Builder

	b.WriteString("# ")
	b.WriteString(metadata.Title)

	if metadata.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(metadata.Description)
	}

	if text != "" {
		b.WriteString("\n\n")
		b.WriteString(text)
	}

	markdown := b.String()
	if len(markdown) > nativeMarkdownLimit {
		markdown = markdown[:nativeMarkdownLimit]
	}

	return markdown
}

func collectLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]bool)
	links := make([]string, 0, 32)

	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")

		resolved := resolveRef(base, href)
		if resolved == "" || seen[resolved] {
			return true
		}

		seen[resolved] = true
		links = append(links, resolved)

		return len(links) < nativeLinkLimit
	})

	return links
}

func resolveRef(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(ref, "javascript:") {
		return ""
	}

	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}

	if base != nil {
		parsed = base.ResolveReference(parsed)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}

	return parsed.String()
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}

	return parsed.Host
}
