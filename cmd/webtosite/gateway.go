// Package main assembles the webtosite gateway: provisioning
// workflows, onboarding, the deployment applicator, edit sessions and
// the AI proxy behind one fiber application.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/webtosite/webtosite/pkg/apperr"
	"github.com/webtosite/webtosite/pkg/cmd"
	"github.com/webtosite/webtosite/pkg/config"
	"github.com/webtosite/webtosite/pkg/deploy"
	"github.com/webtosite/webtosite/pkg/editor"
	"github.com/webtosite/webtosite/pkg/eventbus"
	"github.com/webtosite/webtosite/pkg/janitor"
	"github.com/webtosite/webtosite/pkg/onboarding"
	"github.com/webtosite/webtosite/pkg/persistence"
	"github.com/webtosite/webtosite/pkg/provider/ai"
	"github.com/webtosite/webtosite/pkg/provider/cloudflare"
	"github.com/webtosite/webtosite/pkg/provider/firecrawl"
	"github.com/webtosite/webtosite/pkg/provider/instawp"
	"github.com/webtosite/webtosite/pkg/provider/registrar"
	"github.com/webtosite/webtosite/pkg/provider/sitewp"
	"github.com/webtosite/webtosite/pkg/proxy"
	"github.com/webtosite/webtosite/pkg/web"
	"github.com/webtosite/webtosite/pkg/workflow"
)

// GatewayOptions is the resolved runtime configuration.
type GatewayOptions struct {
	DatabaseURL      string
	EventBus         string
	KafkaBrokers     string
	AdminSecret      string
	EnableAIProxy    bool
	EnablePluginAPI  bool
	EnableUserAuth   bool
	EnableVoiceFlow  bool
	LogRetentionDays int

	Providers config.Providers
	Content   config.Content
	Redis     config.Redis
}

// Gateway owns the assembled service graph and its lifecycle.
type Gateway struct {
	server  *web.Server
	store   persistence.Persistence
	bus     eventbus.EventBus
	limiter *proxy.RateLimiter
	janitor *janitor.Janitor
	logger  *slog.Logger
}

func NewGateway(ctx context.Context, logger *slog.Logger, opts GatewayOptions) (*Gateway, error) {
	store, err := cmd.NewPersistence(ctx, logger, opts.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("initializing persistence: %w", err)
	}

	bus, err := cmd.NewEventBus(opts.EventBus, opts.KafkaBrokers, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing event bus: %w", err)
	}

	registry := prometheus.NewRegistry()

	providers := opts.Providers
	host := instawp.NewClient(providers.Host, logger)
	dns := cloudflare.NewClient(providers.DNS, logger)
	domains := registrar.NewClient(providers.Registrar, logger)
	scraper := firecrawl.New(providers.Scraper, logger)

	router := ai.NewRouter(
		vendorClient(ai.NewOpenAI, providers.OpenAI, logger),
		vendorClient(ai.NewGemini, providers.Gemini, logger),
		vendorClient(ai.NewAnthropic, providers.Anthropic, logger),
	)

	var textModel ai.Client
	if len(router.Vendors()) > 0 {
		textModel = router.Client()
	}

	generator := deploy.NewContentGenerator(textModel, opts.Content.EditorModel, logger)
	applicator := deploy.NewApplicator(generator, logger)

	provisioner := workflow.NewProvisioner(workflow.ProvisionerConfig{
		Registrar:      domains,
		DNS:            dns,
		Host:           host,
		Applier:        applicator,
		Credentials:    providers.Credentials(),
		DefaultContact: providers.DefaultContact,
	}, logger)

	catalog := onboarding.NewCatalog(opts.Content.BaseSiteURL, logger)
	onboarder := onboarding.NewOnboarder(scraper, textModel, catalog, onboarding.Config{
		DefaultFaviconURL: opts.Content.DefaultFaviconURL,
	}, logger)

	editorService := editor.NewEditor(store, router.Client(), hostSiteResolver(host, logger), editor.Config{
		Model: opts.Content.EditorModel,
	}, logger)

	proxyService := proxy.NewService(store, router, logger)
	proxyService.SetMetrics(proxy.NewMetrics(registry))

	var limiter *proxy.RateLimiter

	if opts.Redis.Addr != "" {
		limiter, err = proxy.NewRateLimiter(opts.Redis.Addr, opts.Redis.Password, opts.Redis.DB, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting rate limiter redis: %w", err)
		}

		proxyService.SetLimiter(limiter)
	} else {
		logger.InfoContext(ctx, "No Redis configured, using the in-process rate limiter")
		proxyService.SetLimiter(proxy.NewMemoryLimiter())
	}

	retention := janitor.New(store, janitor.Config{RetentionDays: opts.LogRetentionDays}, logger)
	retention.SetMetrics(registry)

	if err := retention.Start(); err != nil {
		return nil, fmt.Errorf("scheduling request log retention: %w", err)
	}

	handlers := web.NewHandlers(provisioner, onboarder, applicator, editorService, proxyService, store, logger)
	handlers.SetEventBus(bus)

	server := web.NewServer(handlers, registry, web.Config{
		EnableAIProxy:   opts.EnableAIProxy,
		EnablePluginAPI: opts.EnablePluginAPI,
		EnableUserAuth:  opts.EnableUserAuth,
		EnableVoiceFlow: opts.EnableVoiceFlow,
		AdminSecret:     opts.AdminSecret,
	})

	return &Gateway{
		server:  server,
		store:   store,
		bus:     bus,
		limiter: limiter,
		janitor: retention,
		logger:  logger,
	}, nil
}

// Start serves the gateway, blocking until shutdown.
func (g *Gateway) Start(port int) error {
	g.logger.Info("Gateway listening", "port", port)

	return g.server.Start(port)
}

// Close releases the gateway's resources in reverse dependency order.
func (g *Gateway) Close(ctx context.Context) {
	g.janitor.Stop()

	if err := g.limiter.Close(); err != nil {
		g.logger.ErrorContext(ctx, "Failed to close rate limiter", "error", err)
	}

	if err := g.bus.Close(); err != nil {
		g.logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
	}

	if err := g.store.Close(ctx); err != nil {
		g.logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
	}
}

// vendorClient builds one AI vendor client, or nil when its key is
// absent so the router reports it unconfigured.
func vendorClient[T ai.Client](build func(ai.VendorConfig, *slog.Logger) T, cfg ai.VendorConfig, logger *slog.Logger) ai.Client {
	if cfg.APIKey == "" {
		return nil
	}

	return build(cfg, logger)
}

// hostSiteResolver resolves an edit session's site id through the
// managed host, yielding a REST client for the site's WordPress admin.
func hostSiteResolver(host *instawp.Client, logger *slog.Logger) editor.SiteResolver {
	return func(ctx context.Context, siteID string) (editor.SiteAPI, error) {
		id, err := strconv.ParseInt(siteID, 10, 64)
		if err != nil {
			return nil, apperr.Newf(apperr.KindValidation, "invalid site id %q", siteID)
		}

		site, err := host.GetSite(ctx, id)
		if err != nil {
			return nil, err
		}

		if site.WPURL == "" || site.WPUsername == "" {
			return nil, apperr.New(apperr.KindConfiguration, "host did not return site credentials")
		}

		return sitewp.NewClient(site.WPURL, site.WPUsername, site.WPPassword, logger), nil
	}
}
