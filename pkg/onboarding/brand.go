package onboarding

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// BrandElements holds the visual identity pulled out of a scraped page.
type BrandElements struct {
	LogoURL     string   `json:"logoUrl,omitempty"`
	FaviconURL  string   `json:"faviconUrl,omitempty"`
	Palette     []string `json:"palette,omitempty"`
	NavLabels   []string `json:"navLabels,omitempty"`
	SocialLinks []string `json:"socialLinks,omitempty"`
}

var hexColorPattern = regexp.MustCompile(`#[0-9A-Fa-f]{6}\b`)

var socialHosts = []string{
	"facebook.com",
	"instagram.com",
	"linkedin.com",
	"twitter.com",
	"x.com",
	"youtube.com",
	"tiktok.com",
	"pinterest.com",
}

// ExtractBrand parses page HTML for logo, favicon, color palette,
// navigation labels and social profile links. It is best effort and
// returns the zero value for unparseable input.
func ExtractBrand(html, pageURL string) BrandElements {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return BrandElements{}
	}

	base, _ := url.Parse(pageURL)

	return BrandElements{
		LogoURL:     findLogo(doc, base),
		FaviconURL:  findFavicon(doc, base),
		Palette:     findPalette(doc),
		NavLabels:   findNavLabels(doc),
		SocialLinks: findSocialLinks(doc),
	}
}

func findLogo(doc *goquery.Document, base *url.URL) string {
	var logo string

	doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, attr := range []string{"class", "id", "alt", "src"} {
			value, _ := s.Attr(attr)
			if strings.Contains(strings.ToLower(value), "logo") {
				if src, ok := s.Attr("src"); ok {
					logo = resolveRef(base, src)

					return false
				}
			}
		}

		return true
	})

	if logo != "" {
		return logo
	}

	// First header image is the next best guess.
	if src, ok := doc.Find("header img").First().Attr("src"); ok {
		return resolveRef(base, src)
	}

	return ""
}

func findFavicon(doc *goquery.Document, base *url.URL) string {
	var favicon string

	doc.Find("link[rel]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		rel, _ := s.Attr("rel")
		if !strings.Contains(strings.ToLower(rel), "icon") {
			return true
		}

		if href, ok := s.Attr("href"); ok && strings.TrimSpace(href) != "" {
			favicon = resolveRef(base, href)

			return false
		}

		return true
	})

	return favicon
}

// findPalette collects hex colors from theme-color metadata, style
// attributes and style blocks. Pure white and black carry no brand
// signal and are skipped.
func findPalette(doc *goquery.Document) []string {
	var sources []string

	if content, ok := doc.Find(`meta[name="theme-color"]`).Attr("content"); ok {
		sources = append(sources, content)
	}

	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		if style, ok := s.Attr("style"); ok {
			sources = append(sources, style)
		}
	})

	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		sources = append(sources, s.Text())
	})

	seen := make(map[string]bool)

	var palette []string

	for _, source := range sources {
		for _, match := range hexColorPattern.FindAllString(source, -1) {
			normalized := strings.ToUpper(match)
			if normalized == "#FFFFFF" || normalized == "#000000" || seen[normalized] {
				continue
			}

			seen[normalized] = true
			palette = append(palette, normalized)

			if len(palette) >= 6 {
				return palette
			}
		}
	}

	return palette
}

func findNavLabels(doc *goquery.Document) []string {
	seen := make(map[string]bool)

	var labels []string

	doc.Find("nav a, header a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		label := strings.Join(strings.Fields(s.Text()), " ")
		if label == "" || len(label) > 40 || seen[strings.ToLower(label)] {
			return true
		}

		seen[strings.ToLower(label)] = true
		labels = append(labels, label)

		return len(labels) < 10
	})

	return labels
}

func findSocialLinks(doc *goquery.Document) []string {
	seen := make(map[string]bool)

	var links []string

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")

		parsed, err := url.Parse(strings.TrimSpace(href))
		if err != nil || parsed.Host == "" {
			return
		}

		host := strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")
		for _, social := range socialHosts {
			if (host == social || strings.HasSuffix(host, "."+social)) && !seen[parsed.String()] {
				seen[parsed.String()] = true
				links = append(links, parsed.String())

				return
			}
		}
	})

	return links
}

func resolveRef(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
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
