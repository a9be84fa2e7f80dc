package web

import (
	"crypto/subtle"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/webtosite/webtosite/pkg/apperr"
)

// headerAdminSecret authenticates the operator surface.
const headerAdminSecret = "x-proxy-admin-secret"

// Config toggles the optional surfaces of the gateway. A zero value
// serves only the tenant provisioning and editor routes.
type Config struct {
	EnableAIProxy   bool
	EnablePluginAPI bool
	EnableVoiceFlow bool

	// EnableUserAuth requires the auth collaborator's X-User-ID
	// principal on editor routes. Disabled, anonymous callers share
	// the "local" principal for single-tenant deployments.
	EnableUserAuth bool

	// AdminSecret guards /admin/proxy. Empty leaves the surface
	// unmounted.
	AdminSecret string
}

// Server assembles the fiber application around the service layer.
type Server struct {
	handlers *Handlers
	registry *prometheus.Registry
	cfg      Config
}

func NewServer(handlers *Handlers, registry *prometheus.Registry, cfg Config) *Server {
	return &Server{
		handlers: handlers,
		registry: registry,
		cfg:      cfg,
	}
}

func (s *Server) App() *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())
	app.Get("/healthz", s.handlers.HealthCheck)

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("webtosite")
	})

	if s.registry != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api")
	api.Post("/workflows/domain-site", s.handlers.DomainSiteWorkflow)
	api.Post("/workflows/simple-site", s.handlers.SimpleSiteWorkflow)
	api.Post("/onboarding/copy", s.handlers.OnboardingCopy)

	if s.cfg.EnableVoiceFlow {
		api.Post("/onboarding/voice", s.handlers.OnboardingVoice)
	}

	api.Post("/deploy/apply", s.handlers.ApplyContexts)

	sessions := api.Group("/editor/sessions")
	if !s.cfg.EnableUserAuth {
		sessions = api.Group("/editor/sessions", anonymousPrincipal)
	}

	sessions.Post("/", s.handlers.CreateEditSession)
	sessions.Get("/", s.handlers.ListEditSessions)
	sessions.Get("/:id/messages", s.handlers.GetEditMessages)
	sessions.Post("/:id/messages", s.handlers.SendEditMessage)

	if s.cfg.EnableAIProxy {
		v1 := app.Group("/v1")
		v1.Post("/chat/completions", s.handlers.ChatCompletions)
		v1.Get("/models", s.handlers.ListModels)
		v1.Get("/usage", s.handlers.UsageSnapshot)
	}

	if s.cfg.EnablePluginAPI {
		app.Get("/plugin/v1/validate", s.handlers.PluginValidate)
	}

	if s.cfg.AdminSecret != "" {
		admin := app.Group("/admin/proxy", s.requireAdminSecret)
		admin.Get("/sites", s.handlers.AdminListSites)
		admin.Post("/sites", s.handlers.AdminRegisterSite)
		admin.Post("/sites/:id/rotate-key", s.handlers.AdminRotateKey)
		admin.Post("/sites/:id/push-key", s.handlers.AdminPushKey)
		admin.Get("/sites/:id/usage", s.handlers.AdminSiteUsage)
		admin.Get("/sites/:id/requests", s.handlers.AdminSiteRequests)
		admin.Patch("/sites/:id/tier", s.handlers.AdminUpdateTier)
		admin.Patch("/sites/:id/status", s.handlers.AdminUpdateStatus)
		admin.Get("/tiers", s.handlers.AdminTiers)
	}

	return app
}

// Start serves the app on the given port, blocking until shutdown.
func (s *Server) Start(port int) error {
	return s.App().Listen(":" + strconv.Itoa(port))
}

// anonymousPrincipal fills the principal header for deployments
// without the auth collaborator in front.
func anonymousPrincipal(c fiber.Ctx) error {
	if c.Get(headerUserID) == "" {
		c.Request().Header.Set(headerUserID, "local")
	}

	return c.Next()
}

func (s *Server) requireAdminSecret(c fiber.Ctx) error {
	provided := c.Get(headerAdminSecret)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.AdminSecret)) != 1 {
		return adminError(c, apperr.New(apperr.KindAuth, "invalid admin secret"))
	}

	return c.Next()
}
