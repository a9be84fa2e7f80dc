// Package onboarding turns a source website or interview answers into
// the deployment and content contexts a new site is built from.
//
// Two variants share the pipeline tail. The copy variant scrapes an
// existing site, extracts its brand and lets a model analyze the
// content. The voice variant distills structured interview answers
// into a brief. Both end in template matching and context
// construction, and both report progress through a sink while
// recording milestones on a WorkflowRun.
package onboarding

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/webtosite/webtosite/pkg/apperr"
	"github.com/webtosite/webtosite/pkg/models"
	"github.com/webtosite/webtosite/pkg/progress"
	"github.com/webtosite/webtosite/pkg/provider"
	"github.com/webtosite/webtosite/pkg/provider/ai"
	"github.com/webtosite/webtosite/pkg/provider/firecrawl"
)

const (
	defaultOnboardingModel = "gpt-4o-mini"
	defaultFaviconURL      = "https://s.w.org/favicon.ico"
)

// Config tunes the onboarder. Zero values fall back to defaults.
type Config struct {
	DefaultFaviconURL string
	AnalysisModel     string
	MatchModel        string
}

// Onboarder runs the copy and voice onboarding variants. A nil AI
// client degrades both variants to heuristics instead of failing them.
type Onboarder struct {
	scraper  firecrawl.Scraper
	ai       ai.Client
	catalog  *Catalog
	cfg      Config
	retry    provider.Retry
	validate *validator.Validate
	logger   *slog.Logger
}

// NewOnboarder wires an onboarder. The scraper and catalog are
// required; client may be nil when no AI vendor is configured.
func NewOnboarder(scraper firecrawl.Scraper, client ai.Client, catalog *Catalog, cfg Config, logger *slog.Logger) *Onboarder {
	if cfg.AnalysisModel == "" {
		cfg.AnalysisModel = defaultOnboardingModel
	}

	if cfg.MatchModel == "" {
		cfg.MatchModel = defaultOnboardingModel
	}

	if cfg.DefaultFaviconURL == "" {
		cfg.DefaultFaviconURL = defaultFaviconURL
	}

	return &Onboarder{
		scraper:  scraper,
		ai:       client,
		catalog:  catalog,
		cfg:      cfg,
		retry:    provider.DefaultRetry(),
		validate: models.NewValidator(),
		logger:   logger.With("module", "onboarding"),
	}
}

// SetRetry overrides the retry policy used for model calls.
func (o *Onboarder) SetRetry(retry provider.Retry) {
	o.retry = retry
}

// CopyParams starts a copy-variant run.
type CopyParams struct {
	URL string `json:"url" validate:"required,url"`
}

// VoiceParams starts a voice-variant run.
type VoiceParams struct {
	Answers map[string]string `json:"answers" validate:"required,min=1"`
}

// Result is the outcome of an onboarding run. The contexts are nil
// when the run failed before construction.
type Result struct {
	Run           *models.WorkflowRun       `json:"run"`
	TemplateMatch TemplateMatch             `json:"templateMatch"`
	Deployment    *models.DeploymentContext `json:"deploymentContext,omitempty"`
	Content       *models.ContentContext    `json:"contentContext,omitempty"`
}

// RunCopy onboards from an existing website.
func (o *Onboarder) RunCopy(ctx context.Context, params CopyParams, sink progress.Sink) (*Result, error) {
	run := &models.WorkflowRun{
		ID:        uuid.New().String(),
		Kind:      models.WorkflowDomainSiteCopy,
		StartedAt: time.Now().UTC(),
	}
	result := &Result{Run: run}
	logger := o.logger.With("run_id", run.ID, "url", params.URL)

	logger.Info("Starting copy onboarding")

	err := o.executeCopy(ctx, params, result, sink, logger)

	return o.finish(result, sink, logger, err)
}

// RunVoice onboards from interview answers.
func (o *Onboarder) RunVoice(ctx context.Context, params VoiceParams, sink progress.Sink) (*Result, error) {
	run := &models.WorkflowRun{
		ID:        uuid.New().String(),
		Kind:      models.WorkflowDomainSiteVoice,
		StartedAt: time.Now().UTC(),
	}
	result := &Result{Run: run}
	logger := o.logger.With("run_id", run.ID)

	logger.Info("Starting voice onboarding", "answers", len(params.Answers))

	err := o.executeVoice(ctx, params, result, sink, logger)

	return o.finish(result, sink, logger, err)
}

func (o *Onboarder) finish(result *Result, sink progress.Sink, logger *slog.Logger, err error) (*Result, error) {
	run := result.Run
	run.FinishedAt = time.Now().UTC()

	if err != nil {
		if apperr.IsKind(err, apperr.KindCanceled) {
			run.RecordFailure(models.StepCancelled, err)
		}

		run.Error = err.Error()
		sink.Emit(progress.NewEvent(progress.StageError, "Onboarding failed", map[string]any{
			"error": run.Error,
		}))
		logger.Error("Onboarding run failed", "error", err, "steps", len(run.Steps))

		return result, err
	}

	run.Success = true
	sink.Emit(progress.NewEvent(progress.StageComplete, "Onboarding complete", map[string]any{
		"steps": len(run.Steps),
	}))
	logger.Info("Onboarding run complete", "template", result.TemplateMatch.Slug, "steps", len(run.Steps))

	return result, nil
}

func (o *Onboarder) executeCopy(ctx context.Context, params CopyParams, result *Result, sink progress.Sink, logger *slog.Logger) error {
	run := result.Run

	if err := o.validate.Struct(params); err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid parameters", err)
	}

	sink.Emit(progress.NewEvent(progress.StageScrapingSite, "Scraping source site", map[string]any{
		"url": params.URL,
	}))

	scraped, err := o.scraper.Scrape(ctx, params.URL, firecrawl.ScrapeOptions{})
	if err != nil {
		return apperr.FromProvider(err)
	}

	run.RecordStep(models.StepSiteScraped, map[string]any{
		"url":        params.URL,
		"title":      scraped.Metadata.Title,
		"statusCode": scraped.Metadata.StatusCode,
	})

	if err := progress.Interrupted(ctx, sink); err != nil {
		return err
	}

	sink.Emit(progress.NewEvent(progress.StageExtractingBrand, "Extracting brand elements", nil))

	brand := ExtractBrand(scraped.HTML, params.URL)
	if brand.FaviconURL == "" {
		brand.FaviconURL = scraped.Metadata.Favicon
	}

	run.RecordStep(models.StepBrandExtracted, map[string]any{
		"colors":      len(brand.Palette),
		"logoUrl":     brand.LogoURL,
		"socialLinks": len(brand.SocialLinks),
	})

	if err := progress.Interrupted(ctx, sink); err != nil {
		return err
	}

	var analysis *siteAnalysis

	if o.ai != nil {
		sink.Emit(progress.NewEvent(progress.StageAnalyzingSite, "Analyzing source site", nil))

		analysis, err = o.analyzeSite(ctx, scraped)
		if err != nil {
			logger.Warn("Site analysis failed, continuing with scrape heuristics", "error", err)
			analysis = nil
		} else {
			run.RecordStep(models.StepSiteAnalyzed, map[string]any{
				"industry": analysis.Industry,
			})
		}
	}

	if err := progress.Interrupted(ctx, sink); err != nil {
		return err
	}

	business := businessFromScrape(scraped, analysis)

	sink.Emit(progress.NewEvent(progress.StageMatchingTemplate, "Matching a template", nil))

	templates := o.catalog.Templates(ctx)

	summary := ""
	if analysis != nil {
		summary = analysis.Summary
	}

	match := o.matchTemplate(ctx, templates, describeBusiness(business, summary), business.Industry)

	run.RecordStep(models.StepTemplateMatched, map[string]any{
		"slug":       match.Slug,
		"confidence": match.Confidence,
		"source":     match.Source,
	})

	sink.Emit(progress.NewEvent(progress.StageBuildingContexts, "Building deployment and content contexts", nil))

	source := &models.SourceAnalysis{
		URL:              params.URL,
		Summary:          summary,
		DetectedIndustry: business.Industry,
		Palette:          brand.Palette,
		LogoURL:          brand.LogoURL,
		SocialLinks:      brand.SocialLinks,
	}

	deployment, content, err := o.buildContexts(contextInputs{
		match:       match,
		template:    templateBySlug(templates, match.Slug),
		brand:       brand,
		business:    business,
		language:    scraped.Metadata.Language,
		description: scraped.Metadata.Description,
		analysis:    source,
	})
	if err != nil {
		return err
	}

	run.RecordStep(models.StepContextsBuilt, map[string]any{
		"pages": len(content.Pages),
	})

	setResult(result, match, deployment, content)

	return nil
}

func (o *Onboarder) executeVoice(ctx context.Context, params VoiceParams, result *Result, sink progress.Sink, logger *slog.Logger) error {
	run := result.Run

	if err := o.validate.Struct(params); err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid parameters", err)
	}

	sink.Emit(progress.NewEvent(progress.StageProcessingAnswers, "Processing interview answers", map[string]any{
		"answers": len(params.Answers),
	}))

	brief := ProcessAnswers(params.Answers)
	business := businessFromBrief(brief)

	run.RecordStep(models.StepAnswersProcessed, map[string]any{
		"answers":  len(params.Answers),
		"services": len(brief.Services),
	})

	if err := progress.Interrupted(ctx, sink); err != nil {
		return err
	}

	sink.Emit(progress.NewEvent(progress.StageMatchingTemplate, "Matching a template", nil))

	templates := o.catalog.Templates(ctx)
	match := o.matchTemplate(ctx, templates, describeBusiness(business, ""), brief.Industry)

	run.RecordStep(models.StepTemplateMatched, map[string]any{
		"slug":       match.Slug,
		"confidence": match.Confidence,
		"source":     match.Source,
	})

	sink.Emit(progress.NewEvent(progress.StageBuildingContexts, "Building deployment and content contexts", nil))

	deployment, content, err := o.buildContexts(contextInputs{
		match:     match,
		template:  templateBySlug(templates, match.Slug),
		business:  business,
		language:  brief.Language,
		interview: &models.VoiceInterview{Answers: params.Answers},
	})
	if err != nil {
		return err
	}

	run.RecordStep(models.StepContextsBuilt, map[string]any{
		"pages": len(content.Pages),
	})

	setResult(result, match, deployment, content)

	return nil
}

func setResult(result *Result, match TemplateMatch, deployment *models.DeploymentContext, content *models.ContentContext) {
	result.TemplateMatch = match
	result.Deployment = deployment
	result.Content = content
	result.Run.Result = map[string]any{
		"templateMatch":     match,
		"deploymentContext": deployment,
		"contentContext":    content,
	}
}

const analysisSystemPrompt = `You analyze small-business websites. Respond with a single JSON
object of the form {"businessName":"","summary":"","industry":"",
"tagline":"","services":[],"targetAudience":""}. Use empty values for
anything the page does not reveal. Do not write prose outside the JSON
object.`

type siteAnalysis struct {
	BusinessName   string   `json:"businessName"`
	Summary        string   `json:"summary"`
	Industry       string   `json:"industry"`
	Tagline        string   `json:"tagline"`
	Services       []string `json:"services"`
	TargetAudience string   `json:"targetAudience"`
}

func (o *Onboarder) analyzeSite(ctx context.Context, scraped *firecrawl.ScrapeResult) (*siteAnalysis, error) {
	markdown := scraped.Markdown
	if len(markdown) > 12000 {
		markdown = markdown[:12000]
	}

	completion, err := ai.CompleteWithRetry(ctx, o.logger, o.retry, o.ai, ai.CompletionRequest{
		Model: o.cfg.AnalysisModel,
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: analysisSystemPrompt},
			{Role: ai.RoleUser, Content: "Page content:\n\n" + markdown},
		},
		MaxTokens: 1024,
	})
	if err != nil {
		return nil, err
	}

	raw := extractJSON(completion.Content)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in analysis response")
	}

	var analysis siteAnalysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return nil, fmt.Errorf("decoding analysis response: %w", err)
	}

	return &analysis, nil
}

// businessFromScrape derives business info from scrape metadata and
// overlays whatever the analysis extracted on top.
func businessFromScrape(scraped *firecrawl.ScrapeResult, analysis *siteAnalysis) models.BusinessInfo {
	business := models.BusinessInfo{
		Name:    titlePrefix(scraped.Metadata.Title),
		Tagline: scraped.Metadata.Description,
	}

	if analysis == nil {
		return business
	}

	if analysis.BusinessName != "" {
		business.Name = analysis.BusinessName
	}

	if analysis.Tagline != "" {
		business.Tagline = analysis.Tagline
	}

	business.Industry = analysis.Industry
	business.Services = analysis.Services
	business.TargetAudience = analysis.TargetAudience

	return business
}

// titlePrefix cuts a page title down to the part before the first
// separator, which is usually the site or business name.
func titlePrefix(title string) string {
	title = strings.TrimSpace(title)
	cut := len(title)

	for _, sep := range []string{"|", " - ", "–", "—"} {
		if idx := strings.Index(title, sep); idx > 0 && idx < cut {
			cut = idx
		}
	}

	return strings.TrimSpace(title[:cut])
}

func templateBySlug(templates []TemplateInfo, slug string) TemplateInfo {
	for _, tpl := range templates {
		if tpl.Slug == slug {
			return tpl
		}
	}

	return TemplateInfo{}
}
