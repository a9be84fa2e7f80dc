package web

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/webtosite/webtosite/pkg/apperr"
	"github.com/webtosite/webtosite/pkg/models"
	"github.com/webtosite/webtosite/pkg/proxy"
)

// bearerToken extracts the proxy key from the Authorization header.
// Authentication itself happens in the service; an absent header
// simply fails the key check there.
func bearerToken(c fiber.Ctx) string {
	auth := c.Get(fiber.HeaderAuthorization)
	token, _ := strings.CutPrefix(auth, "Bearer ")

	return strings.TrimSpace(token)
}

// ChatCompletions is the OpenAI-compatible completion endpoint.
func (h *Handlers) ChatCompletions(c fiber.Ctx) error {
	var req proxy.ChatRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	completion, err := h.proxy.Chat(c.Context(), bearerToken(c), req)
	if err != nil {
		return renderError(c, err)
	}

	return c.JSON(completion)
}

// ListModels reports the caller's tier model allowance in the OpenAI
// list shape.
func (h *Handlers) ListModels(c fiber.Ctx) error {
	list, err := h.proxy.Models(c.Context(), bearerToken(c))
	if err != nil {
		return renderError(c, err)
	}

	return c.JSON(list)
}

// UsageSnapshot reports the caller's current quota window.
func (h *Handlers) UsageSnapshot(c fiber.Ctx) error {
	report, err := h.proxy.Usage(c.Context(), bearerToken(c))
	if err != nil {
		return renderError(c, err)
	}

	return c.JSON(report)
}

// PluginValidate lets the site-side plugin check its key and read the
// tier snapshot in one round trip.
func (h *Handlers) PluginValidate(c fiber.Ctx) error {
	report, err := h.proxy.Usage(c.Context(), bearerToken(c))
	if err != nil {
		return renderError(c, err)
	}

	return c.JSON(fiber.Map{
		"valid":  true,
		"domain": report.Domain,
		"tier":   report.Tier,
		"usage": fiber.Map{
			"used":      report.Used,
			"limit":     report.Limit,
			"remaining": report.Remaining,
		},
	})
}

// AdminRegisterSite registers a proxy consumer. The response is the
// only place the plaintext key ever appears.
func (h *Handlers) AdminRegisterSite(c fiber.Ctx) error {
	var params proxy.RegisterParams
	if err := c.Bind().JSON(&params); err != nil {
		return adminError(c, apperr.New(apperr.KindValidation, "invalid JSON body"))
	}

	site, err := h.proxy.RegisterSite(c.Context(), params)
	if err != nil {
		return adminError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(site)
}

func (h *Handlers) AdminListSites(c fiber.Ctx) error {
	sites, err := h.proxy.ListSites(c.Context())
	if err != nil {
		return adminError(c, err)
	}

	return c.JSON(fiber.Map{"sites": sites})
}

func (h *Handlers) AdminRotateKey(c fiber.Ctx) error {
	key, err := h.proxy.RotateKey(c.Context(), c.Params("id"))
	if err != nil {
		return adminError(c, err)
	}

	return c.JSON(fiber.Map{"api_key": key})
}

func (h *Handlers) AdminPushKey(c fiber.Ctx) error {
	var target proxy.PushTarget
	if err := c.Bind().JSON(&target); err != nil {
		return adminError(c, apperr.New(apperr.KindValidation, "invalid JSON body"))
	}

	if err := h.proxy.PushKey(c.Context(), c.Params("id"), target); err != nil {
		return adminError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handlers) AdminSiteUsage(c fiber.Ctx) error {
	report, err := h.proxy.SiteUsage(c.Context(), c.Params("id"))
	if err != nil {
		return adminError(c, err)
	}

	return c.JSON(report)
}

func (h *Handlers) AdminSiteRequests(c fiber.Ctx) error {
	limit := 0

	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return adminError(c, apperr.New(apperr.KindValidation, "limit must be an integer"))
		}

		limit = parsed
	}

	requests, err := h.proxy.SiteRequests(c.Context(), c.Params("id"), limit)
	if err != nil {
		return adminError(c, err)
	}

	return c.JSON(fiber.Map{"requests": requests})
}

type updateTierRequest struct {
	Tier string `json:"tier" validate:"required"`
}

func (h *Handlers) AdminUpdateTier(c fiber.Ctx) error {
	var req updateTierRequest
	if err := c.Bind().JSON(&req); err != nil {
		return adminError(c, apperr.New(apperr.KindValidation, "invalid JSON body"))
	}

	if err := h.validate.Struct(req); err != nil {
		return adminError(c, apperr.New(apperr.KindValidation, err.Error()))
	}

	if err := h.proxy.UpdateTier(c.Context(), c.Params("id"), req.Tier); err != nil {
		return adminError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handlers) AdminUpdateStatus(c fiber.Ctx) error {
	var req updateStatusRequest
	if err := c.Bind().JSON(&req); err != nil {
		return adminError(c, apperr.New(apperr.KindValidation, "invalid JSON body"))
	}

	if err := h.validate.Struct(req); err != nil {
		return adminError(c, apperr.New(apperr.KindValidation, err.Error()))
	}

	if err := h.proxy.UpdateStatus(c.Context(), c.Params("id"), models.SiteStatus(req.Status)); err != nil {
		return adminError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handlers) AdminTiers(c fiber.Ctx) error {
	tiers, err := h.proxy.Tiers(c.Context())
	if err != nil {
		return adminError(c, err)
	}

	return c.JSON(fiber.Map{"tiers": tiers})
}
