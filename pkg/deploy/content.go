package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/webtosite/webtosite/pkg/models"
	"github.com/webtosite/webtosite/pkg/provider"
	"github.com/webtosite/webtosite/pkg/provider/ai"
)

// defaultContentModel writes page copy unless the caller picks another
// model.
const defaultContentModel = "gpt-4o-mini"

// Content sources recorded on generated pages.
const (
	SourceAI       = "ai"
	SourceFallback = "fallback"
)

var errNoModel = errors.New("no completion model configured")

// GeneratedPage is one page ready to be pushed.
type GeneratedPage struct {
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Source  string `json:"source"`
}

// ContentOutcome is the generation phase result. Fallback counts the
// pages that came from static templates instead of the model.
type ContentOutcome struct {
	Pages    []GeneratedPage `json:"pages"`
	Fallback int             `json:"fallback"`
}

// pageSection is the structured shape the model is asked to produce,
// one entry per rendered section.
type pageSection struct {
	Type    string   `json:"type"`
	Heading string   `json:"heading"`
	Body    string   `json:"body"`
	Items   []string `json:"items,omitempty"`
}

const sectionSystemPrompt = `You write website page copy. Respond with a single JSON object of the form
{"sections":[{"type":"...","heading":"...","body":"...","items":["..."]}]}.
Valid section types: hero, features, about, services, contact, cta, testimonials, generic.
Use hero only once per page. Keep body text under 120 words per section.
No prose outside the JSON object.`

// ContentGenerator produces page HTML from a content context. When the
// model is absent or fails, a static per-slug template takes over, so
// generation itself never fails.
type ContentGenerator struct {
	client ai.Client
	model  string
	retry  provider.Retry
	logger *slog.Logger
}

// NewContentGenerator builds a generator. A nil client means
// fallback-only operation.
func NewContentGenerator(client ai.Client, model string, logger *slog.Logger) *ContentGenerator {
	if model == "" {
		model = defaultContentModel
	}

	return &ContentGenerator{
		client: client,
		model:  model,
		retry:  provider.DefaultRetry(),
		logger: logger.With("module", "deploy"),
	}
}

// SetRetry overrides the retry envelope, mainly for tests.
func (g *ContentGenerator) SetRetry(retry provider.Retry) {
	g.retry = retry
}

// GeneratePages builds one page per entry in the content context.
func (g *ContentGenerator) GeneratePages(ctx context.Context, content *models.ContentContext) *ContentOutcome {
	outcome := &ContentOutcome{}

	for _, spec := range content.Pages {
		page := GeneratedPage{Slug: spec.Slug, Title: spec.Title, Source: SourceAI}

		rendered, err := g.generate(ctx, content, spec)
		if err != nil {
			if g.client != nil {
				g.logger.Warn("Content generation fell back to template", "slug", spec.Slug, "error", err)
			}

			rendered = fallbackHTML(spec, content.Business)
			page.Source = SourceFallback
			outcome.Fallback++
		}

		page.Content = rendered
		outcome.Pages = append(outcome.Pages, page)
	}

	return outcome
}

func (g *ContentGenerator) generate(ctx context.Context, content *models.ContentContext, spec models.PageSpec) (string, error) {
	if g.client == nil {
		return "", errNoModel
	}

	completion, err := ai.CompleteWithRetry(ctx, g.logger, g.retry, g.client, ai.CompletionRequest{
		Model: g.model,
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: sectionSystemPrompt},
			{Role: ai.RoleUser, Content: pagePrompt(content, spec)},
		},
		MaxTokens: 2048,
	})
	if err != nil {
		return "", err
	}

	sections, err := parseSections(completion.Content)
	if err != nil {
		return "", err
	}

	return renderSections(sections), nil
}

// pagePrompt assembles the user turn from the business block and the
// page spec.
func pagePrompt(content *models.ContentContext, spec models.PageSpec) string {
	b := &strings.Builder{}

	fmt.Fprintf(b, "Write the %q page (slug %q) for this business.\n\n", spec.Title, spec.Slug)
	fmt.Fprintf(b, "Business: %s\n", content.Business.Name)

	if content.Business.Tagline != "" {
		fmt.Fprintf(b, "Tagline: %s\n", content.Business.Tagline)
	}
	if content.Business.Industry != "" {
		fmt.Fprintf(b, "Industry: %s\n", content.Business.Industry)
	}
	if len(content.Business.Services) > 0 {
		fmt.Fprintf(b, "Services: %s\n", strings.Join(content.Business.Services, ", "))
	}
	if content.Business.TargetAudience != "" {
		fmt.Fprintf(b, "Target audience: %s\n", content.Business.TargetAudience)
	}
	if len(content.Business.UniqueSellingPoints) > 0 {
		fmt.Fprintf(b, "Selling points: %s\n", strings.Join(content.Business.UniqueSellingPoints, ", "))
	}
	if content.Business.Location != "" {
		fmt.Fprintf(b, "Location: %s\n", content.Business.Location)
	}
	if content.Tone != "" {
		fmt.Fprintf(b, "Tone: %s\n", content.Tone)
	}
	if content.Language.Primary != "" {
		fmt.Fprintf(b, "Language: %s\n", content.Language.Primary)
	}
	if len(spec.Sections) > 0 {
		fmt.Fprintf(b, "Wanted sections: %s\n", strings.Join(spec.Sections, ", "))
	}

	return b.String()
}

// parseSections decodes the model's JSON, tolerating fences and prose
// around the object.
func parseSections(raw string) ([]pageSection, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, errors.New("completion carries no JSON object")
	}

	var decoded struct {
		Sections []pageSection `json:"sections"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &decoded); err != nil {
		return nil, fmt.Errorf("decoding sections: %w", err)
	}

	if len(decoded.Sections) == 0 {
		return nil, errors.New("completion carries no sections")
	}

	return decoded.Sections, nil
}

// renderSections serialises sections as editor block markup so the
// pages stay editable in the site admin. Hero sections take the page
// h1; every other type renders heading, body and items.
func renderSections(sections []pageSection) string {
	b := &strings.Builder{}

	for _, section := range sections {
		level := 2
		if section.Type == "hero" {
			level = 1
		}

		writeHeading(b, level, section.Heading)
		writeParagraph(b, section.Body)
		writeList(b, section.Items)
	}

	return b.String()
}

func writeHeading(b *strings.Builder, level int, text string) {
	if text == "" {
		return
	}

	if level == 1 {
		fmt.Fprintf(b, "<!-- wp:heading {\"level\":1} -->\n<h1>%s</h1>\n<!-- /wp:heading -->\n", html.EscapeString(text))
		return
	}

	fmt.Fprintf(b, "<!-- wp:heading -->\n<h2>%s</h2>\n<!-- /wp:heading -->\n", html.EscapeString(text))
}

func writeParagraph(b *strings.Builder, text string) {
	if text == "" {
		return
	}

	fmt.Fprintf(b, "<!-- wp:paragraph -->\n<p>%s</p>\n<!-- /wp:paragraph -->\n", html.EscapeString(text))
}

func writeList(b *strings.Builder, items []string) {
	if len(items) == 0 {
		return
	}

	b.WriteString("<!-- wp:list -->\n<ul>")
	for _, item := range items {
		b.WriteString("<li>" + html.EscapeString(item) + "</li>")
	}
	b.WriteString("</ul>\n<!-- /wp:list -->\n")
}

// fallbackHTML renders the static template for one page. The templates
// lean on whatever business details are present and degrade to generic
// copy without them.
func fallbackHTML(spec models.PageSpec, business models.BusinessInfo) string {
	name := business.Name
	if name == "" {
		name = "our business"
	}

	b := &strings.Builder{}

	switch spec.Slug {
	case "home":
		writeHeading(b, 1, "Welcome to "+name)
		if business.Tagline != "" {
			writeParagraph(b, business.Tagline)
		} else {
			writeParagraph(b, fmt.Sprintf("%s is here to help. Take a look around to see what we offer.", name))
		}
		writeList(b, business.Services)

	case "about":
		writeHeading(b, 2, "About "+name)
		writeParagraph(b, aboutLine(name, business))
		writeList(b, business.UniqueSellingPoints)

	case "services":
		writeHeading(b, 2, "Our Services")
		if len(business.Services) > 0 {
			writeParagraph(b, fmt.Sprintf("Here is what %s can do for you.", name))
			writeList(b, business.Services)
		} else {
			writeParagraph(b, fmt.Sprintf("Get in touch to learn more about what %s offers.", name))
		}

	case "contact":
		writeHeading(b, 2, "Contact "+name)
		writeParagraph(b, "We would love to hear from you.")
		writeList(b, contactLines(business.ContactInfo))

	case "blog":
		writeHeading(b, 2, "News and Updates")
		writeParagraph(b, fmt.Sprintf("Stories and announcements from %s will appear here.", name))

	default:
		writeHeading(b, 2, spec.Title)
		writeParagraph(b, fmt.Sprintf("More about %s is coming soon.", name))
	}

	return b.String()
}

func aboutLine(name string, business models.BusinessInfo) string {
	line := name
	if business.Industry != "" {
		line += " works in " + business.Industry
	}
	if business.Location != "" {
		line += ", based in " + business.Location
	}
	line += "."

	if business.TargetAudience != "" {
		line += " We serve " + business.TargetAudience + "."
	}

	return line
}

func contactLines(contact models.ContactInfo) []string {
	var lines []string
	if contact.Phone != "" {
		lines = append(lines, "Phone: "+contact.Phone)
	}
	if contact.Email != "" {
		lines = append(lines, "Email: "+contact.Email)
	}
	if contact.Address != "" {
		lines = append(lines, "Address: "+contact.Address)
	}

	return lines
}
