// Package workflow orchestrates domain registration, site creation,
// DNS setup and context deployment into a single provisioning run.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/webtosite/webtosite/pkg/apperr"
	"github.com/webtosite/webtosite/pkg/deploy"
	"github.com/webtosite/webtosite/pkg/models"
	"github.com/webtosite/webtosite/pkg/otelhelper"
	"github.com/webtosite/webtosite/pkg/progress"
	"github.com/webtosite/webtosite/pkg/provider"
	"github.com/webtosite/webtosite/pkg/provider/cloudflare"
	"github.com/webtosite/webtosite/pkg/provider/instawp"
	"github.com/webtosite/webtosite/pkg/provider/registrar"
)

// RegistrarAPI is the registrar surface a provisioning run drives.
type RegistrarAPI interface {
	CheckAvailability(ctx context.Context, domain string) (*registrar.Availability, error)
	Register(ctx context.Context, params registrar.RegisterParams) (*registrar.Registration, error)
	SetCustomNameservers(ctx context.Context, domain string, nameservers []string) error
}

// DNSAPI is the zone surface.
type DNSAPI interface {
	EnsureZone(ctx context.Context, name string) (*cloudflare.Zone, bool, error)
	ReplaceARecords(ctx context.Context, zoneID, name string, ips []string, proxied bool) ([]cloudflare.DNSRecord, error)
	ConfigureSecurity(ctx context.Context, zoneID string) []cloudflare.SettingOutcome
}

// HostAPI is the managed host surface.
type HostAPI interface {
	CreateSite(ctx context.Context, params instawp.CreateSiteParams) (*instawp.Site, error)
	WaitUntilReady(ctx context.Context, siteID int64) (*instawp.Site, error)
	MapDomain(ctx context.Context, siteID int64, domain string, opts instawp.DomainOptions) (*instawp.DomainMapping, error)
	GetSSLStatus(ctx context.Context, siteID int64) (*instawp.SSLStatus, error)
}

// ContextApplier pushes deployment and content contexts onto a
// provisioned site.
type ContextApplier interface {
	Apply(ctx context.Context, creds deploy.SiteCredentials, deployment *models.DeploymentContext, content *models.ContentContext, sink progress.Sink) (*deploy.ApplyResult, error)
}

// Credentials is the preflight view of the provider configuration. A
// run refuses to start when a credential its path needs is absent, so
// misconfiguration surfaces before any external call.
type Credentials struct {
	HostAPIKey        string
	DNSAPIKey         string
	DNSEmail          string
	RegistrarAPIKey   string
	RegistrarUsername string
	RegistrarClientIP string
}

// ProvisionParams is the input of one domain+site run.
type ProvisionParams struct {
	Domain            string                    `json:"domain"                      validate:"required,fqdn"`
	RegisterNewDomain bool                      `json:"registerNewDomain"`
	IncludeWww        *bool                     `json:"includeWww,omitempty"`
	Years             int                       `json:"years,omitempty"             validate:"omitempty,min=1,max=10"`
	SiteName          string                    `json:"siteName,omitempty"`
	Contact           *registrar.Contact        `json:"contact,omitempty"`
	Kind              models.WorkflowKind       `json:"kind,omitempty"              validate:"omitempty,oneof=domain_site_copy domain_site_voice"`
	Deployment        *models.DeploymentContext `json:"deploymentContext,omitempty"`
	Content           *models.ContentContext    `json:"contentContext,omitempty"`
}

func (p ProvisionParams) includeWww() bool {
	return p.IncludeWww == nil || *p.IncludeWww
}

func (p ProvisionParams) years() int {
	if p.Years == 0 {
		return 1
	}

	return p.Years
}

// siteName derives the host site name from the domain unless the
// caller supplied one.
func (p ProvisionParams) siteName() string {
	if p.SiteName != "" {
		return p.SiteName
	}

	return strings.ReplaceAll(p.Domain, ".", "-")
}

func (p ProvisionParams) kind() models.WorkflowKind {
	if p.Kind != "" {
		return p.Kind
	}

	if p.Content != nil && p.Content.VoiceInterview != nil {
		return models.WorkflowDomainSiteVoice
	}

	return models.WorkflowDomainSiteCopy
}

// SimpleParams is the input of a host-only run without a custom
// domain.
type SimpleParams struct {
	SiteName   string                    `json:"siteName"                    validate:"required,min=3"`
	Deployment *models.DeploymentContext `json:"deploymentContext,omitempty"`
	Content    *models.ContentContext    `json:"contentContext,omitempty"`
}

// ProvisionerConfig wires the provider surfaces and the preflight
// credentials into a Provisioner.
type ProvisionerConfig struct {
	Registrar      RegistrarAPI
	DNS            DNSAPI
	Host           HostAPI
	Applier        ContextApplier
	Credentials    Credentials
	DefaultContact registrar.Contact
}

// Provisioner runs the domain+site pipeline. All run state lives on
// the stack of Run, so one provisioner serves concurrent runs.
type Provisioner struct {
	registrar RegistrarAPI
	dns       DNSAPI
	host      HostAPI
	applier   ContextApplier
	creds     Credentials
	contact   registrar.Contact
	validate  *validator.Validate
	logger    *slog.Logger
}

func NewProvisioner(cfg ProvisionerConfig, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		registrar: cfg.Registrar,
		dns:       cfg.DNS,
		host:      cfg.Host,
		applier:   cfg.Applier,
		creds:     cfg.Credentials,
		contact:   cfg.DefaultContact,
		validate:  models.NewValidator(),
		logger:    logger.With("module", "workflow"),
	}
}

// Run executes the domain+site pipeline. The sink carries live stage
// events; the returned run is the terminal outcome. Fatal steps end
// the run with its error set; deployment and content failures are
// recorded per step but leave the run successful. Nothing is ever
// rolled back.
func (p *Provisioner) Run(ctx context.Context, params ProvisionParams, sink progress.Sink) (*models.WorkflowRun, error) {
	run := &models.WorkflowRun{
		ID:        uuid.New().String(),
		Kind:      params.kind(),
		StartedAt: time.Now().UTC(),
	}

	ctx, span := otelhelper.StartSpan(ctx, otel.Tracer("webtosite/workflow"), "workflow.provision",
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.RunKindKey, string(run.Kind)),
		attribute.String(otelhelper.DomainKey, params.Domain),
	)
	defer span.End()

	logger := p.logger.With("run_id", run.ID, "domain", params.Domain)
	logger.Info("Starting provisioning run", "kind", run.Kind, "register_new_domain", params.RegisterNewDomain)

	err := p.execute(ctx, params, run, sink, logger)
	if err != nil {
		otelhelper.SetError(span, err, attribute.String(otelhelper.RunIDKey, run.ID))
	}

	return p.finish(run, sink, logger, err)
}

// RunSimple provisions a host-managed site without a custom domain.
// The registration and DNS arcs are skipped and the host URL is the
// final one.
func (p *Provisioner) RunSimple(ctx context.Context, params SimpleParams, sink progress.Sink) (*models.WorkflowRun, error) {
	run := &models.WorkflowRun{
		ID:        uuid.New().String(),
		Kind:      models.WorkflowSimpleSite,
		StartedAt: time.Now().UTC(),
	}

	ctx, span := otelhelper.StartSpan(ctx, otel.Tracer("webtosite/workflow"), "workflow.simple_site",
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.RunKindKey, string(run.Kind)),
	)
	defer span.End()

	logger := p.logger.With("run_id", run.ID, "site_name", params.SiteName)
	logger.Info("Starting simple site run")

	err := p.executeSimple(ctx, params, run, sink, logger)
	if err != nil {
		otelhelper.SetError(span, err, attribute.String(otelhelper.RunIDKey, run.ID))
	}

	return p.finish(run, sink, logger, err)
}

func (p *Provisioner) finish(run *models.WorkflowRun, sink progress.Sink, logger *slog.Logger, err error) (*models.WorkflowRun, error) {
	run.FinishedAt = time.Now().UTC()

	if err != nil {
		if apperr.IsKind(err, apperr.KindCanceled) {
			run.RecordFailure(models.StepCancelled, err)
		}

		run.Error = err.Error()
		sink.Emit(progress.NewEvent(progress.StageError, "Provisioning failed", map[string]any{
			"error": run.Error,
		}))
		logger.Error("Provisioning run failed", "error", err, "steps", len(run.Steps))

		return run, err
	}

	run.Success = true
	sink.Emit(progress.NewEvent(progress.StageComplete, "Provisioning complete", map[string]any{
		"steps": len(run.Steps),
	}))
	logger.Info("Provisioning run complete", "steps", len(run.Steps))

	return run, nil
}

func (p *Provisioner) execute(ctx context.Context, params ProvisionParams, run *models.WorkflowRun, sink progress.Sink, logger *slog.Logger) error {
	sink.Emit(progress.NewEvent(progress.StageValidatingConfig, "Validating configuration", nil))

	if err := p.validateProvision(params); err != nil {
		return err
	}

	run.RecordStep(models.StepConfigValidated, map[string]any{
		"registerNewDomain": params.RegisterNewDomain,
		"includeWww":        params.includeWww(),
	})

	registered := false

	if params.RegisterNewDomain {
		if err := progress.Interrupted(ctx, sink); err != nil {
			return err
		}

		sink.Emit(progress.NewEvent(progress.StageCheckingDomain, "Checking domain availability", map[string]any{
			"domain": params.Domain,
		}))

		availability, err := p.registrar.CheckAvailability(ctx, params.Domain)
		if err != nil {
			return apperr.FromProvider(err)
		}

		if !availability.Available {
			if availability.Premium {
				return apperr.Newf(apperr.KindConflict, "domain %s is a premium name (price %s)", params.Domain, availability.PremiumPrice)
			}

			return apperr.Newf(apperr.KindConflict, "domain %s is not available for registration", params.Domain)
		}

		run.RecordStep(models.StepDomainChecked, map[string]any{
			"available": availability.Available,
			"premium":   availability.Premium,
		})

		sink.Emit(progress.NewEvent(progress.StageRegisteringDomain, "Registering domain", map[string]any{
			"domain": params.Domain,
			"years":  params.years(),
		}))

		registration, err := p.registrar.Register(ctx, registrar.RegisterParams{
			Domain:  params.Domain,
			Years:   params.years(),
			Contact: p.contactFor(params),
		})
		if err != nil {
			return apperr.FromProvider(err)
		}

		registered = true
		run.RecordStep(models.StepDomainRegistered, map[string]any{
			"orderId":       registration.OrderID,
			"chargedAmount": registration.ChargedAmount,
		})
	}

	if err := progress.Interrupted(ctx, sink); err != nil {
		return err
	}

	site, err := p.createAndWait(ctx, run, sink, params.siteName())
	if err != nil {
		return err
	}

	if err := progress.Interrupted(ctx, sink); err != nil {
		return err
	}

	sink.Emit(progress.NewEvent(progress.StageMappingDomain, "Mapping domain to the site", map[string]any{
		"domain": params.Domain,
	}))

	mapping, err := p.host.MapDomain(ctx, site.ID, params.Domain, instawp.DomainOptions{
		WWW:      params.includeWww(),
		RouteWWW: params.includeWww(),
	})
	if err != nil {
		return apperr.FromProvider(err)
	}

	run.RecordStep(models.StepDomainMapped, map[string]any{
		"aRecords": mapping.ARecords,
	})

	// DNS setup cannot proceed without target IPs. The mapping itself
	// still counts; only the run fails.
	if len(mapping.ARecords) == 0 {
		return apperr.New(apperr.KindUpstream, "Failed to get A record IPs from the domain mapping")
	}

	if err := progress.Interrupted(ctx, sink); err != nil {
		return err
	}

	sink.Emit(progress.NewEvent(progress.StageCreatingZone, "Creating DNS zone", map[string]any{
		"domain": params.Domain,
	}))

	zone, created, err := p.dns.EnsureZone(ctx, params.Domain)
	if err != nil {
		return apperr.FromProvider(err)
	}

	run.RecordStep(models.StepZoneCreated, map[string]any{
		"zoneId":      zone.ID,
		"created":     created,
		"nameservers": zone.NameServers,
	})

	sink.Emit(progress.NewEvent(progress.StageSettingDNSRecords, "Pointing A records at the site", map[string]any{
		"ips": mapping.ARecords,
	}))

	names := []string{params.Domain}
	if params.includeWww() {
		names = append(names, "www."+params.Domain)
	}

	for _, name := range names {
		if _, err := p.dns.ReplaceARecords(ctx, zone.ID, name, mapping.ARecords, true); err != nil {
			return apperr.FromProvider(err)
		}
	}

	run.RecordStep(models.StepDNSRecordsSet, map[string]any{
		"names": names,
		"ips":   mapping.ARecords,
	})

	if registered {
		sink.Emit(progress.NewEvent(progress.StageUpdatingNameservers, "Pointing the domain at the zone nameservers", map[string]any{
			"nameservers": zone.NameServers,
		}))

		if err := p.registrar.SetCustomNameservers(ctx, params.Domain, zone.NameServers); err != nil {
			return apperr.FromProvider(err)
		}

		run.RecordStep(models.StepNameserversUpdated, map[string]any{
			"nameservers": zone.NameServers,
		})
	}

	if err := progress.Interrupted(ctx, sink); err != nil {
		return err
	}

	sink.Emit(progress.NewEvent(progress.StageConfiguringSecurity, "Applying zone security settings", nil))

	outcomes := p.dns.ConfigureSecurity(ctx, zone.ID)
	run.RecordStep(models.StepSecurityConfigured, map[string]any{
		"settings": outcomes,
	})

	sink.Emit(progress.NewEvent(progress.StageCheckingSSL, "Checking certificate status", nil))

	p.recordSSL(ctx, run, site.ID, logger)

	result := map[string]any{
		"siteId": site.ID,
		"domain": params.Domain,
		"finalUrls": map[string]any{
			"site":  "https://" + params.Domain,
			"admin": "https://" + params.Domain + "/wp-admin",
			"wp":    site.WPURL,
		},
	}

	// Externally registered domains need a manual nameserver change,
	// which the caller relays to the user.
	if !registered {
		result["nameserverInstructions"] = map[string]any{
			"nameservers": zone.NameServers,
		}
	}

	run.Result = result

	return p.applyContexts(ctx, run, sink, logger, site, params.Deployment, params.Content)
}

func (p *Provisioner) executeSimple(ctx context.Context, params SimpleParams, run *models.WorkflowRun, sink progress.Sink, logger *slog.Logger) error {
	sink.Emit(progress.NewEvent(progress.StageValidatingConfig, "Validating configuration", nil))

	if err := p.validate.Struct(params); err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid parameters", err)
	}

	if p.creds.HostAPIKey == "" {
		return apperr.New(apperr.KindConfiguration, "INSTA_WP_API_KEY is not configured")
	}

	run.RecordStep(models.StepConfigValidated, map[string]any{
		"siteName": params.SiteName,
	})

	if err := progress.Interrupted(ctx, sink); err != nil {
		return err
	}

	site, err := p.createAndWait(ctx, run, sink, params.SiteName)
	if err != nil {
		return err
	}

	run.Result = map[string]any{
		"siteId": site.ID,
		"finalUrls": map[string]any{
			"site":  site.WPURL,
			"admin": site.WPURL + "/wp-admin",
		},
	}

	return p.applyContexts(ctx, run, sink, logger, site, params.Deployment, params.Content)
}

// createAndWait creates the host site and polls it into readiness, the
// shared middle of both pipelines.
func (p *Provisioner) createAndWait(ctx context.Context, run *models.WorkflowRun, sink progress.Sink, name string) (*instawp.Site, error) {
	sink.Emit(progress.NewEvent(progress.StageCreatingSite, "Creating site", map[string]any{
		"name": name,
	}))

	site, err := p.host.CreateSite(ctx, instawp.CreateSiteParams{Name: name})
	if err != nil {
		return nil, apperr.FromProvider(err)
	}

	run.RecordStep(models.StepSiteCreated, map[string]any{
		"siteId": site.ID,
		"name":   name,
		"wpUrl":  site.WPURL,
	})

	sink.Emit(progress.NewEvent(progress.StageWaitingForSite, "Waiting for the site to become ready", map[string]any{
		"siteId": site.ID,
	}))

	ready, err := p.host.WaitUntilReady(ctx, site.ID)
	if err != nil {
		if provider.IsKind(err, provider.KindTimeout) {
			return nil, apperr.Wrap(apperr.KindNotReady, fmt.Sprintf("site %d did not become ready in time", site.ID), err)
		}

		return nil, apperr.FromProvider(err)
	}

	// Readiness responses may omit credentials present on creation.
	if ready.WPUsername == "" {
		ready.WPUsername = site.WPUsername
	}
	if ready.WPPassword == "" {
		ready.WPPassword = site.WPPassword
	}
	if ready.WPURL == "" {
		ready.WPURL = site.WPURL
	}

	run.RecordStep(models.StepSiteReady, map[string]any{
		"siteId": ready.ID,
	})

	return ready, nil
}

// recordSSL asks the host for certificate state and records the
// matching milestone. An issued certificate records ssl_active;
// anything else, including a failed check, records ssl_pending since
// issuance continues asynchronously.
func (p *Provisioner) recordSSL(ctx context.Context, run *models.WorkflowRun, siteID int64, logger *slog.Logger) {
	ssl, err := p.host.GetSSLStatus(ctx, siteID)
	if err != nil {
		logger.Warn("Certificate status check failed", "error", err)
		run.RecordStep(models.StepSSLPending, map[string]any{"status": "unknown"})

		return
	}

	if ssl.Enabled {
		run.RecordStep(models.StepSSLActive, map[string]any{"status": ssl.Status})

		return
	}

	status := ssl.Status
	if status == "" {
		status = "pending"
	}

	run.RecordStep(models.StepSSLPending, map[string]any{"status": status})
}

// applyContexts runs the deployment tail. Its failures are recorded
// per phase but never fail the run; the provisioned site stands on its
// own and content remains recoverable through the editor.
func (p *Provisioner) applyContexts(ctx context.Context, run *models.WorkflowRun, sink progress.Sink, logger *slog.Logger, site *instawp.Site, deployment *models.DeploymentContext, content *models.ContentContext) error {
	if deployment == nil && content == nil {
		return nil
	}

	if err := progress.Interrupted(ctx, sink); err != nil {
		return err
	}

	if p.applier == nil {
		logger.Warn("No context applier configured, skipping deployment tail")

		return nil
	}

	result, err := p.applier.Apply(ctx, deploy.SiteCredentials{
		SiteURL:  site.WPURL,
		Username: site.WPUsername,
		Password: site.WPPassword,
	}, deployment, content, sink)

	p.recordApply(run, result)

	if run.Result != nil && result != nil {
		run.Result["apply"] = result
	}

	if err != nil {
		if apperr.IsKind(err, apperr.KindCanceled) {
			return err
		}

		logger.Warn("Context apply failed", "error", err)
	}

	return nil
}

func (p *Provisioner) recordApply(run *models.WorkflowRun, result *deploy.ApplyResult) {
	if result == nil {
		return
	}

	if result.Deployment != nil {
		data := map[string]any{"tasks": result.Deployment.Tasks}
		if result.Deployment.Succeeded() {
			run.RecordStep(models.StepDeploymentApplied, data)
		} else {
			run.RecordFailureData(models.StepDeploymentApplied, data, errors.New(result.Deployment.FailureSummary()))
		}
	}

	if result.Content != nil {
		run.RecordStep(models.StepContentGenerated, map[string]any{
			"pages":    len(result.Content.Pages),
			"fallback": result.Content.Fallback,
		})
	}

	if result.Push != nil {
		data := map[string]any{"pages": result.Push.Pages}
		if result.Push.FrontPage != nil {
			data["frontPage"] = result.Push.FrontPage
		}

		if result.Push.Succeeded() {
			run.RecordStep(models.StepContentPushed, data)
		} else {
			run.RecordFailureData(models.StepContentPushed, data, errors.New(result.Push.FailureSummary()))
		}
	}
}

func (p *Provisioner) validateProvision(params ProvisionParams) error {
	if err := p.validate.Struct(params); err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid parameters", err)
	}

	if p.creds.HostAPIKey == "" {
		return apperr.New(apperr.KindConfiguration, "INSTA_WP_API_KEY is not configured")
	}
	if p.creds.DNSAPIKey == "" {
		return apperr.New(apperr.KindConfiguration, "CLOUDFLARE_API_KEY is not configured")
	}
	if p.creds.DNSEmail == "" {
		return apperr.New(apperr.KindConfiguration, "CLOUDFLARE_EMAIL is not configured")
	}

	if params.RegisterNewDomain {
		if p.creds.RegistrarAPIKey == "" || p.creds.RegistrarUsername == "" {
			return apperr.New(apperr.KindConfiguration, "NAMECHEAP_API_KEY and NAMECHEAP_USERNAME are required to register domains")
		}
		if p.creds.RegistrarClientIP == "" {
			return apperr.New(apperr.KindConfiguration, "NAMECHEAP_CLIENT_IP is not configured")
		}

		contact := p.contactFor(params)
		if err := p.validate.Struct(contact); err != nil {
			if params.Contact != nil {
				return apperr.Wrap(apperr.KindValidation, "invalid registrant contact", err)
			}

			return apperr.Wrap(apperr.KindConfiguration, "default registrant contact is incomplete", err)
		}
	}

	return nil
}

// contactFor picks the caller's contact block, falling back to the
// configured default. The registrar replicates one block across all
// four roles.
func (p *Provisioner) contactFor(params ProvisionParams) registrar.Contact {
	if params.Contact != nil {
		return *params.Contact
	}

	return p.contact
}
