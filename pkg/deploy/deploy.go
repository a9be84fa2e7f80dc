// Package deploy pushes deployment and content contexts onto a
// provisioned site through its REST surface. Individual subtasks
// soft-fail and are reported per task; a phase fails only when the
// site accepted none of them.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/webtosite/webtosite/pkg/apperr"
	"github.com/webtosite/webtosite/pkg/models"
	"github.com/webtosite/webtosite/pkg/progress"
	"github.com/webtosite/webtosite/pkg/provider/sitewp"
)

// SiteCredentials is the basic-auth surface of a provisioned site.
type SiteCredentials struct {
	SiteURL  string `json:"siteUrl"  validate:"required,url"`
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// SiteAPI is the slice of the site REST surface the applicator drives.
type SiteAPI interface {
	UpdateSettings(ctx context.Context, updates map[string]any) (map[string]any, error)
	UploadMediaFromURL(ctx context.Context, sourceURL, filename string) (*sitewp.Media, error)
	SetCustomCSS(ctx context.Context, css string) error
	InstallPlugin(ctx context.Context, slug string, activate bool) (*sitewp.Plugin, error)
	CreatePage(ctx context.Context, params sitewp.CreatePageParams) (*sitewp.Page, error)
}

// StepOutcome records one applicator subtask.
type StepOutcome struct {
	Task    string `json:"task"`
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
	Error   string `json:"error,omitempty"`
}

// DeploymentOutcome reports the settings, branding and plugin tasks of
// one deployment phase.
type DeploymentOutcome struct {
	Tasks []StepOutcome `json:"tasks"`
}

// Succeeded reports whether the phase achieved anything. A phase with
// tasks fails only when every task failed.
func (o *DeploymentOutcome) Succeeded() bool {
	if len(o.Tasks) == 0 {
		return true
	}

	for _, task := range o.Tasks {
		if task.Success {
			return true
		}
	}

	return false
}

// FailureSummary joins the failed task errors into one line.
func (o *DeploymentOutcome) FailureSummary() string {
	var parts []string
	for _, task := range o.Tasks {
		if !task.Success {
			parts = append(parts, fmt.Sprintf("%s: %s", task.Task, task.Error))
		}
	}

	return strings.Join(parts, "; ")
}

// PageResult records one pushed page.
type PageResult struct {
	Slug    string `json:"slug"`
	Title   string `json:"title"`
	PageID  int    `json:"pageId,omitempty"`
	Source  string `json:"source"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// PushOutcome reports page creation and the front page assignment.
type PushOutcome struct {
	Pages     []PageResult `json:"pages"`
	FrontPage *StepOutcome `json:"frontPage,omitempty"`
}

// Succeeded reports whether at least one page landed on the site.
func (o *PushOutcome) Succeeded() bool {
	if len(o.Pages) == 0 {
		return true
	}

	for _, page := range o.Pages {
		if page.Success {
			return true
		}
	}

	return false
}

// FailureSummary joins the failed page errors into one line.
func (o *PushOutcome) FailureSummary() string {
	var parts []string
	for _, page := range o.Pages {
		if !page.Success {
			parts = append(parts, fmt.Sprintf("%s: %s", page.Slug, page.Error))
		}
	}

	return strings.Join(parts, "; ")
}

// ApplyResult is the aggregate outcome of one apply invocation.
type ApplyResult struct {
	Deployment *DeploymentOutcome `json:"deployment,omitempty"`
	Content    *ContentOutcome    `json:"content,omitempty"`
	Push       *PushOutcome       `json:"push,omitempty"`
	Success    bool               `json:"success"`
}

// Applicator drives a provisioned site to the state its contexts
// describe.
type Applicator struct {
	generator *ContentGenerator
	validate  *validator.Validate
	logger    *slog.Logger
	newSite   func(creds SiteCredentials) SiteAPI
}

// NewApplicator builds an applicator around the given content
// generator. The generator may run without a model; it falls back to
// static templates on its own.
func NewApplicator(generator *ContentGenerator, logger *slog.Logger) *Applicator {
	a := &Applicator{
		generator: generator,
		validate:  models.NewValidator(),
		logger:    logger.With("module", "deploy"),
	}
	a.newSite = func(creds SiteCredentials) SiteAPI {
		return sitewp.NewClient(creds.SiteURL, creds.Username, creds.Password, logger)
	}

	return a
}

// SetSiteFactory replaces the site client constructor, mainly for
// tests.
func (a *Applicator) SetSiteFactory(factory func(creds SiteCredentials) SiteAPI) {
	a.newSite = factory
}

// Site returns a client bound to the given credentials.
func (a *Applicator) Site(creds SiteCredentials) SiteAPI {
	return a.newSite(creds)
}

// Apply runs the deployment and content phases against the site,
// emitting one progress stage per phase. Terminal complete and error
// frames are the caller's concern. A canceled run returns the partial
// result alongside the error; nothing is rolled back.
func (a *Applicator) Apply(ctx context.Context, creds SiteCredentials, deployment *models.DeploymentContext, content *models.ContentContext, sink progress.Sink) (*ApplyResult, error) {
	if deployment == nil && content == nil {
		return nil, apperr.New(apperr.KindValidation, "at least one of deploymentContext and contentContext is required")
	}

	if err := a.validate.Struct(creds); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid site credentials", err)
	}

	site := a.newSite(creds)
	result := &ApplyResult{}

	if deployment != nil {
		sink.Emit(progress.NewEvent(progress.StageApplyingDeployment, "Applying deployment context", nil))

		var business *models.BusinessInfo
		if content != nil {
			business = &content.Business
		}

		result.Deployment = a.ApplyDeployment(ctx, site, deployment, business)

		if err := progress.Interrupted(ctx, sink); err != nil {
			return result, err
		}
	}

	if content != nil {
		sink.Emit(progress.NewEvent(progress.StageGeneratingContent, "Generating page content", map[string]any{
			"pages": len(content.Pages),
		}))

		result.Content = a.generator.GeneratePages(ctx, content)

		if err := progress.Interrupted(ctx, sink); err != nil {
			return result, err
		}

		sink.Emit(progress.NewEvent(progress.StagePushingContent, "Pushing content to the site", map[string]any{
			"pages": len(result.Content.Pages),
		}))

		result.Push = a.PushContent(ctx, site, result.Content.Pages)
	}

	result.Success = (result.Deployment == nil || result.Deployment.Succeeded()) &&
		(result.Push == nil || result.Push.Succeeded())

	return result, nil
}

// ApplyDeployment updates site identity, branding and plugins. Every
// subtask records its own outcome; a failed task never aborts the
// remaining ones.
func (a *Applicator) ApplyDeployment(ctx context.Context, site SiteAPI, deployment *models.DeploymentContext, business *models.BusinessInfo) *DeploymentOutcome {
	outcome := &DeploymentOutcome{}

	if settings := siteIdentity(business); len(settings) > 0 {
		a.runTask(outcome, "settings", func() (string, error) {
			if _, err := site.UpdateSettings(ctx, settings); err != nil {
				return "", err
			}

			return "title and tagline updated", nil
		})
	}

	if deployment.Branding.LogoURL != "" {
		a.runTask(outcome, "logo", func() (string, error) {
			media, err := site.UploadMediaFromURL(ctx, deployment.Branding.LogoURL, "")
			if err != nil {
				return "", err
			}

			if _, err := site.UpdateSettings(ctx, map[string]any{"site_logo": media.ID}); err != nil {
				return "", err
			}

			return fmt.Sprintf("media %d", media.ID), nil
		})
	}

	if deployment.Branding.FaviconURL != "" {
		a.runTask(outcome, "favicon", func() (string, error) {
			media, err := site.UploadMediaFromURL(ctx, deployment.Branding.FaviconURL, "")
			if err != nil {
				return "", err
			}

			if _, err := site.UpdateSettings(ctx, map[string]any{"site_icon": media.ID}); err != nil {
				return "", err
			}

			return fmt.Sprintf("media %d", media.ID), nil
		})
	}

	if css := brandingCSS(deployment.Branding); css != "" {
		a.runTask(outcome, "custom_css", func() (string, error) {
			if err := site.SetCustomCSS(ctx, css); err != nil {
				return "", err
			}

			return "brand colors injected", nil
		})
	}

	for _, plugin := range deployment.Plugins {
		slug := plugin.Slug
		activate := plugin.Activate

		a.runTask(outcome, "plugin:"+slug, func() (string, error) {
			installed, err := site.InstallPlugin(ctx, slug, activate)
			if err != nil {
				return "", err
			}

			return installed.Status, nil
		})
	}

	return outcome
}

// PushContent creates the generated pages and marks the home page as
// the site front page.
func (a *Applicator) PushContent(ctx context.Context, site SiteAPI, pages []GeneratedPage) *PushOutcome {
	outcome := &PushOutcome{}
	homeID := 0

	for _, page := range pages {
		created, err := site.CreatePage(ctx, sitewp.CreatePageParams{
			Title:   page.Title,
			Content: page.Content,
			Slug:    page.Slug,
			Status:  "publish",
		})

		result := PageResult{
			Slug:    page.Slug,
			Title:   page.Title,
			Source:  page.Source,
			Success: err == nil,
		}

		if err != nil {
			result.Error = err.Error()
			a.logger.Warn("Page creation failed", "slug", page.Slug, "error", err)
		} else {
			result.PageID = created.ID
			if page.Slug == "home" {
				homeID = created.ID
			}
		}

		outcome.Pages = append(outcome.Pages, result)
	}

	if homeID != 0 {
		front := StepOutcome{Task: "front_page", Detail: fmt.Sprintf("page %d", homeID)}

		_, err := site.UpdateSettings(ctx, map[string]any{
			"show_on_front": "page",
			"page_on_front": homeID,
		})
		if err != nil {
			front.Detail = ""
			front.Error = err.Error()
			a.logger.Warn("Front page assignment failed", "page_id", homeID, "error", err)
		} else {
			front.Success = true
		}

		outcome.FrontPage = &front
	}

	return outcome
}

func (a *Applicator) runTask(outcome *DeploymentOutcome, task string, fn func() (string, error)) {
	detail, err := fn()

	result := StepOutcome{Task: task, Success: err == nil, Detail: detail}
	if err != nil {
		result.Detail = ""
		result.Error = err.Error()
		a.logger.Warn("Deployment task failed", "task", task, "error", err)
	}

	outcome.Tasks = append(outcome.Tasks, result)
}

// siteIdentity derives the settings update from the business block.
// WordPress exposes the tagline as the description setting.
func siteIdentity(business *models.BusinessInfo) map[string]any {
	if business == nil {
		return nil
	}

	settings := map[string]any{}
	if business.Name != "" {
		settings["title"] = business.Name
	}
	if business.Tagline != "" {
		settings["description"] = business.Tagline
	}

	return settings
}

func brandingCSS(branding models.Branding) string {
	var rules []string
	if branding.PrimaryColor != "" {
		rules = append(rules, "--primary-color: "+branding.PrimaryColor+";")
	}
	if branding.SecondaryColor != "" {
		rules = append(rules, "--secondary-color: "+branding.SecondaryColor+";")
	}

	if len(rules) == 0 {
		return ""
	}

	return ":root {\n  " + strings.Join(rules, "\n  ") + "\n}\n"
}
