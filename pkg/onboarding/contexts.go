package onboarding

import (
	"errors"
	"fmt"
	"strings"

	"github.com/webtosite/webtosite/pkg/apperr"
	"github.com/webtosite/webtosite/pkg/models"
)

// contextInputs collects everything context construction draws from.
// Copy runs fill analysis, voice runs fill interview.
type contextInputs struct {
	match       TemplateMatch
	template    TemplateInfo
	brand       BrandElements
	business    models.BusinessInfo
	language    string
	description string
	analysis    *models.SourceAnalysis
	interview   *models.VoiceInterview
}

// buildContexts assembles the deployment and content contexts and
// validates both. Validation failures are aggregated into a single
// error so the caller sees every problem at once.
func (o *Onboarder) buildContexts(in contextInputs) (*models.DeploymentContext, *models.ContentContext, error) {
	primary, secondary := pickColors(in.brand.Palette)

	favicon := in.brand.FaviconURL
	if favicon == "" {
		favicon = o.cfg.DefaultFaviconURL
	}

	deployment := &models.DeploymentContext{
		Template: models.Template{
			Slug: in.match.Slug,
			Skin: firstSkin(in.template),
		},
		Branding: models.Branding{
			PrimaryColor:   primary,
			SecondaryColor: secondary,
			LogoURL:        in.brand.LogoURL,
			FaviconURL:     favicon,
		},
		DemoContent: models.DemoContent{Import: true},
	}
	deployment.Normalize()

	content := &models.ContentContext{
		Business:       in.business,
		Language:       models.LanguageSpec{Primary: in.language},
		Pages:          defaultPageSpecs(),
		SEO:            seoFor(in.business, in.description),
		SourceAnalysis: in.analysis,
		VoiceInterview: in.interview,
	}

	var problems []error

	if err := o.validate.Struct(deployment); err != nil {
		problems = append(problems, fmt.Errorf("deployment context: %w", err))
	}

	if err := o.validate.Struct(content); err != nil {
		problems = append(problems, fmt.Errorf("content context: %w", err))
	}

	if len(problems) > 0 {
		return nil, nil, apperr.Wrap(apperr.KindValidation, "context validation failed", errors.Join(problems...))
	}

	return deployment, content, nil
}

// pickColors takes the first two palette entries that are well-formed
// hex colors. Extraction already filters white and black.
func pickColors(palette []string) (primary, secondary string) {
	for _, color := range palette {
		if !hexColorPattern.MatchString(color) {
			continue
		}

		switch {
		case primary == "":
			primary = color
		case secondary == "" && !strings.EqualFold(color, primary):
			secondary = color
		}

		if secondary != "" {
			break
		}
	}

	return primary, secondary
}

func firstSkin(tpl TemplateInfo) string {
	if len(tpl.Skins) > 0 {
		return tpl.Skins[0]
	}

	return ""
}

func defaultPageSpecs() []models.PageSpec {
	specs := make([]models.PageSpec, 0, len(models.DefaultPages))

	for _, slug := range models.DefaultPages {
		specs = append(specs, models.PageSpec{Slug: slug, Title: pageTitle(slug)})
	}

	return specs
}

func pageTitle(slug string) string {
	switch slug {
	case "home":
		return "Home"
	case "about":
		return "About Us"
	case "services":
		return "Services"
	case "contact":
		return "Contact"
	case "blog":
		return "Blog"
	}

	return strings.ToUpper(slug[:1]) + slug[1:]
}

func seoFor(business models.BusinessInfo, description string) models.SEOSpec {
	title := business.Name
	if business.Tagline != "" {
		title = business.Name + " | " + business.Tagline
	}

	if description == "" {
		description = business.Tagline
	}

	if description == "" && business.Industry != "" {
		description = fmt.Sprintf("%s, your partner for %s.", business.Name, strings.ToLower(business.Industry))
	}

	return models.SEOSpec{
		MetaTitle:       truncateRunes(title, 60),
		MetaDescription: truncateRunes(description, 160),
		Keywords:        seoKeywords(business),
	}
}

func seoKeywords(business models.BusinessInfo) []string {
	var keywords []string

	if business.Industry != "" {
		keywords = append(keywords, strings.ToLower(business.Industry))
	}

	for _, service := range business.Services {
		if len(keywords) >= 8 {
			break
		}

		keywords = append(keywords, strings.ToLower(service))
	}

	if business.Location != "" && len(keywords) < 8 {
		keywords = append(keywords, strings.ToLower(business.Location))
	}

	return keywords
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}

	return strings.TrimSpace(string(runes[:limit]))
}
