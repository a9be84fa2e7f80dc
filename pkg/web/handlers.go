// Package web is the HTTP gateway: SSE-streamed provisioning,
// onboarding and deployment routes, edit session endpoints, the
// OpenAI-compatible proxy surface and the operator admin API.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/webtosite/webtosite/pkg/apperr"
	"github.com/webtosite/webtosite/pkg/deploy"
	"github.com/webtosite/webtosite/pkg/editor"
	"github.com/webtosite/webtosite/pkg/eventbus"
	"github.com/webtosite/webtosite/pkg/models"
	"github.com/webtosite/webtosite/pkg/onboarding"
	"github.com/webtosite/webtosite/pkg/persistence"
	"github.com/webtosite/webtosite/pkg/progress"
	"github.com/webtosite/webtosite/pkg/proxy"
	"github.com/webtosite/webtosite/pkg/workflow"
)

// headerUserID carries the tenant principal resolved by the auth layer
// in front of this service.
const headerUserID = "X-User-ID"

type Handlers struct {
	provisioner *workflow.Provisioner
	onboarder   *onboarding.Onboarder
	applicator  *deploy.Applicator
	editor      *editor.Editor
	proxy       *proxy.Service
	store       persistence.Persistence
	bus         eventbus.EventPublisher
	validate    *validator.Validate
	logger      *slog.Logger
}

func NewHandlers(
	provisioner *workflow.Provisioner,
	onboarder *onboarding.Onboarder,
	applicator *deploy.Applicator,
	editorService *editor.Editor,
	proxyService *proxy.Service,
	store persistence.Persistence,
	logger *slog.Logger,
) *Handlers {
	return &Handlers{
		provisioner: provisioner,
		onboarder:   onboarder,
		applicator:  applicator,
		editor:      editorService,
		proxy:       proxyService,
		store:       store,
		validate:    models.NewValidator(),
		logger:      logger.With("module", "web"),
	}
}

// SetEventBus mirrors every streamed progress event onto the platform
// bus.
func (h *Handlers) SetEventBus(bus eventbus.EventPublisher) {
	h.bus = bus
}

func (h *Handlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "webtosite is healthy"
	httpStatus := http.StatusOK
	storeCheck := "ok"

	if err := h.store.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "webtosite is unhealthy"
		httpStatus = http.StatusInternalServerError
		storeCheck = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"store": storeCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

// DomainSiteWorkflow streams a domain+site provisioning run.
func (h *Handlers) DomainSiteWorkflow(c fiber.Ctx) error {
	var params workflow.ProvisionParams
	if err := c.Bind().JSON(&params); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validate.Struct(params); err != nil {
		return badRequest(c, err.Error())
	}

	return streamSSE(c, h.logger, h.bus, func(ctx context.Context, sink progress.Sink) (any, error) {
		return h.provisioner.Run(ctx, params, sink)
	})
}

// SimpleSiteWorkflow streams a host-only site run without a custom
// domain.
func (h *Handlers) SimpleSiteWorkflow(c fiber.Ctx) error {
	var params workflow.SimpleParams
	if err := c.Bind().JSON(&params); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validate.Struct(params); err != nil {
		return badRequest(c, err.Error())
	}

	return streamSSE(c, h.logger, h.bus, func(ctx context.Context, sink progress.Sink) (any, error) {
		return h.provisioner.RunSimple(ctx, params, sink)
	})
}

// OnboardingCopy streams a copy-variant onboarding run.
func (h *Handlers) OnboardingCopy(c fiber.Ctx) error {
	var params onboarding.CopyParams
	if err := c.Bind().JSON(&params); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validate.Struct(params); err != nil {
		return badRequest(c, err.Error())
	}

	return streamSSE(c, h.logger, h.bus, func(ctx context.Context, sink progress.Sink) (any, error) {
		return h.onboarder.RunCopy(ctx, params, sink)
	})
}

// OnboardingVoice streams a voice-variant onboarding run.
func (h *Handlers) OnboardingVoice(c fiber.Ctx) error {
	var params onboarding.VoiceParams
	if err := c.Bind().JSON(&params); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validate.Struct(params); err != nil {
		return badRequest(c, err.Error())
	}

	return streamSSE(c, h.logger, h.bus, func(ctx context.Context, sink progress.Sink) (any, error) {
		return h.onboarder.RunVoice(ctx, params, sink)
	})
}

// ApplyRequest is the deploy route body.
type ApplyRequest struct {
	Credentials deploy.SiteCredentials    `json:"credentials"                 validate:"required"`
	Deployment  *models.DeploymentContext `json:"deploymentContext,omitempty"`
	Content     *models.ContentContext    `json:"contentContext,omitempty"`
}

// ApplyContexts streams a deployment application run.
func (h *Handlers) ApplyContexts(c fiber.Ctx) error {
	var req ApplyRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validate.Struct(req.Credentials); err != nil {
		return badRequest(c, err.Error())
	}

	if req.Deployment == nil && req.Content == nil {
		return badRequest(c, "at least one of deploymentContext and contentContext is required")
	}

	return streamSSE(c, h.logger, h.bus, func(ctx context.Context, sink progress.Sink) (any, error) {
		return h.applicator.Apply(ctx, req.Credentials, req.Deployment, req.Content, sink)
	})
}

// principal reads the tenant principal from the request.
func principal(c fiber.Ctx) (string, error) {
	userID := strings.TrimSpace(c.Get(headerUserID))
	if userID == "" {
		return "", apperr.New(apperr.KindAuth, "missing "+headerUserID+" header")
	}

	return userID, nil
}

type createSessionRequest struct {
	SiteID string `json:"siteId" validate:"required"`
}

func (h *Handlers) CreateEditSession(c fiber.Ctx) error {
	userID, err := principal(c)
	if err != nil {
		return renderError(c, err)
	}

	var req createSessionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	session, err := h.editor.CreateSession(c.Context(), userID, req.SiteID)
	if err != nil {
		return renderError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(session)
}

func (h *Handlers) ListEditSessions(c fiber.Ctx) error {
	userID, err := principal(c)
	if err != nil {
		return renderError(c, err)
	}

	sessions, err := h.editor.Sessions(c.Context(), userID)
	if err != nil {
		return renderError(c, err)
	}

	return c.JSON(fiber.Map{"sessions": sessions})
}

func (h *Handlers) GetEditMessages(c fiber.Ctx) error {
	userID, err := principal(c)
	if err != nil {
		return renderError(c, err)
	}

	messages, err := h.editor.Transcript(c.Context(), c.Params("id"), userID)
	if err != nil {
		return renderError(c, err)
	}

	return c.JSON(fiber.Map{"messages": messages})
}

type sendMessageRequest struct {
	Message string `json:"message" validate:"required"`
}

func (h *Handlers) SendEditMessage(c fiber.Ctx) error {
	userID, err := principal(c)
	if err != nil {
		return renderError(c, err)
	}

	var req sendMessageRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.editor.SendMessage(c.Context(), c.Params("id"), userID, req.Message)
	if err != nil {
		return renderError(c, err)
	}

	return c.JSON(result)
}
