// Package proxy implements the OpenAI-compatible AI proxy: tenant
// authentication by site key, monthly token quotas, per-tier model
// policy and rate limits, vendor dispatch by model prefix, and
// append-only usage logging.
package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/webtosite/webtosite/pkg/apperr"
	"github.com/webtosite/webtosite/pkg/models"
	"github.com/webtosite/webtosite/pkg/otelhelper"
	"github.com/webtosite/webtosite/pkg/persistence"
	"github.com/webtosite/webtosite/pkg/provider"
	"github.com/webtosite/webtosite/pkg/provider/ai"
)

const endpointChat = "/v1/chat/completions"

// ChatMessage is one OpenAI-wire conversational turn.
type ChatMessage struct {
	Role    string `json:"role"    validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required"`
}

// ChatRequest is the OpenAI-compatible completion request body.
type ChatRequest struct {
	Model       string        `json:"model"                 validate:"required"`
	Messages    []ChatMessage `json:"messages"              validate:"required,min=1,dive"`
	MaxTokens   int           `json:"max_tokens,omitempty"  validate:"omitempty,min=1"`
	Temperature *float64      `json:"temperature,omitempty"`
}

// ChatChoice is one completion alternative. The proxy always returns
// exactly one.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatUsage is the OpenAI-wire token accounting block.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletion is the OpenAI-compatible response envelope.
type ChatCompletion struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   ChatUsage    `json:"usage"`
}

// ModelInfo is one /v1/models list entry.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the /v1/models response envelope.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// UsageReport is the /v1/usage quota snapshot.
type UsageReport struct {
	Domain    string                    `json:"domain"`
	Tier      string                    `json:"tier"`
	Used      int64                     `json:"used"`
	Limit     int64                     `json:"limit"`
	Remaining int64                     `json:"remaining"`
	ByModel   []*persistence.ModelUsage `json:"by_model,omitempty"`
}

// Service is the proxy core shared by the tenant and admin surfaces.
type Service struct {
	store       persistence.Persistence
	router      *ai.Router
	limiter     Limiter
	metrics     *Metrics
	retry       provider.Retry
	logTimeout  time.Duration
	newSettings func(PushTarget) SettingsClient
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewService wires the proxy. Limiter and metrics start disabled; use
// the setters to attach them.
func NewService(store persistence.Persistence, router *ai.Router, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		router: router,
		retry: provider.Retry{
			InitialInterval:     200 * time.Millisecond,
			Multiplier:          2,
			RandomizationFactor: 0.2,
			MaxElapsedTime:      15 * time.Second,
			MaxAttempts:         3,
		},
		logTimeout: 5 * time.Second,
		validate:   models.NewValidator(),
		logger:     logger.With("module", "proxy"),
	}
}

// SetLimiter attaches a rate limiter; without one every request is
// admitted.
func (s *Service) SetLimiter(limiter Limiter) {
	s.limiter = limiter
}

// SetMetrics attaches the Prometheus collectors.
func (s *Service) SetMetrics(metrics *Metrics) {
	s.metrics = metrics
}

// SetRetry overrides the upstream retry policy.
func (s *Service) SetRetry(retry provider.Retry) {
	s.retry = retry
}

// Authenticate resolves a bearer token to its active site. Malformed,
// unknown and revoked keys are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, apiKey string) (*models.ProxySite, error) {
	if !ValidAPIKey(apiKey) {
		return nil, apperr.New(apperr.KindAuth, "missing or malformed api key")
	}

	site, err := s.store.ProxySiteRepository().GetByKey(ctx, apiKey)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "looking up api key", err)
	}

	if site == nil || !site.Active() {
		return nil, apperr.New(apperr.KindAuth, "unknown or revoked api key")
	}

	return site, nil
}

// Chat runs the full per-request pipeline and returns the completion
// envelope.
func (s *Service) Chat(ctx context.Context, apiKey string, req ChatRequest) (*ChatCompletion, error) {
	site, err := s.Authenticate(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	if err := s.validate.Struct(req); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid chat request", err)
	}

	tier, err := s.tierFor(ctx, site)
	if err != nil {
		return nil, err
	}

	used, limit, err := s.monthlyUsage(ctx, site, tier)
	if err != nil {
		return nil, err
	}

	if used >= limit {
		return nil, apperr.New(apperr.KindQuotaExceeded, "monthly token quota exceeded").
			WithUsage(apperr.UsageSnapshot{Used: used, Limit: limit, Remaining: 0})
	}

	if !tier.AllowsModel(req.Model) {
		s.logRejection(ctx, site, req.Model, http.StatusForbidden, "model not allowed for tier")

		return nil, apperr.Newf(apperr.KindModelNotAllowed,
			"model %q is not available on the %s tier", req.Model, site.SubscriptionTier)
	}

	if s.limiter != nil && !s.limiter.Allow(site.ID, tier.RateLimitRPM) {
		return nil, apperr.Newf(apperr.KindRateLimited,
			"rate limit of %d requests per minute exceeded", tier.RateLimitRPM)
	}

	client, vendor, err := s.router.Resolve(req.Model)
	if err != nil {
		if errors.Is(err, ai.ErrVendorNotConfigured) {
			return nil, apperr.Wrap(apperr.KindConfiguration, vendor+" vendor is not configured", err)
		}

		return nil, apperr.Wrap(apperr.KindValidation, "model does not match a known vendor prefix", err)
	}

	ctx, span := otelhelper.StartSpan(ctx, otel.Tracer("webtosite/proxy"), "proxy.dispatch",
		attribute.String(otelhelper.DomainKey, site.Domain),
		attribute.String(otelhelper.TierKey, site.SubscriptionTier),
		attribute.String(otelhelper.ProviderKey, vendor),
		attribute.String(otelhelper.ModelKey, req.Model),
	)
	defer span.End()

	started := time.Now()

	completion, err := ai.CompleteWithRetry(ctx, s.logger, s.retry, client, ai.CompletionRequest{
		Model:       req.Model,
		Messages:    toAIMessages(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	latency := time.Since(started)

	if err != nil {
		mapped := apperr.FromProvider(err)
		status := mapped.Kind.HTTPStatus()

		otelhelper.SetError(span, mapped, attribute.String(otelhelper.ProviderKey, vendor))
		s.metrics.observeRequest(vendor, req.Model, status, latency)
		s.appendLog(ctx, &models.RequestLog{
			SiteID:         site.ID,
			Domain:         site.Domain,
			Provider:       vendor,
			Model:          req.Model,
			Endpoint:       endpointChat,
			Method:         http.MethodPost,
			ResponseStatus: status,
			LatencyMS:      latency.Milliseconds(),
			ErrorMessage:   mapped.Message,
			RequestedAt:    started.UTC(),
		})

		return nil, mapped
	}

	s.metrics.observeRequest(vendor, req.Model, http.StatusOK, latency)
	s.metrics.addTokens(vendor, req.Model, completion.Usage.Total)
	s.appendLog(ctx, &models.RequestLog{
		SiteID:           site.ID,
		Domain:           site.Domain,
		Provider:         vendor,
		Model:            req.Model,
		Endpoint:         endpointChat,
		Method:           http.MethodPost,
		PromptTokens:     completion.Usage.Prompt,
		CompletionTokens: completion.Usage.Completion,
		TotalTokens:      completion.Usage.Total,
		ResponseStatus:   http.StatusOK,
		LatencyMS:        latency.Milliseconds(),
		RequestedAt:      started.UTC(),
	})

	return buildCompletion(req.Model, completion), nil
}

// Models lists the models the site's tier allows, OpenAI list style.
func (s *Service) Models(ctx context.Context, apiKey string) (*ModelList, error) {
	site, err := s.Authenticate(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	tier, err := s.tierFor(ctx, site)
	if err != nil {
		return nil, err
	}

	list := &ModelList{Object: "list", Data: make([]ModelInfo, 0, len(tier.AllowedModels))}

	for _, model := range tier.AllowedModels {
		_, vendor, err := s.router.Resolve(model)
		if err != nil && vendor == "" {
			vendor = "unknown"
		}

		list.Data = append(list.Data, ModelInfo{ID: model, Object: "model", OwnedBy: vendor})
	}

	return list, nil
}

// Usage returns the caller's quota snapshot with a per-model
// breakdown for the current month.
func (s *Service) Usage(ctx context.Context, apiKey string) (*UsageReport, error) {
	site, err := s.Authenticate(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	return s.usageReport(ctx, site)
}

func (s *Service) usageReport(ctx context.Context, site *models.ProxySite) (*UsageReport, error) {
	tier, err := s.tierFor(ctx, site)
	if err != nil {
		return nil, err
	}

	used, limit, err := s.monthlyUsage(ctx, site, tier)
	if err != nil {
		return nil, err
	}

	byModel, err := s.store.RequestLogRepository().UsageByModel(ctx, site.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "aggregating usage", err)
	}

	return &UsageReport{
		Domain:    site.Domain,
		Tier:      site.SubscriptionTier,
		Used:      used,
		Limit:     limit,
		Remaining: remaining(used, limit),
		ByModel:   byModel,
	}, nil
}

func (s *Service) tierFor(ctx context.Context, site *models.ProxySite) (*models.SubscriptionTier, error) {
	tier, err := s.store.TierRepository().GetByName(ctx, site.SubscriptionTier)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "looking up subscription tier", err)
	}

	if tier == nil {
		return nil, apperr.Newf(apperr.KindConfiguration,
			"subscription tier %q is not configured", site.SubscriptionTier)
	}

	return tier, nil
}

// monthlyUsage returns tokens used this month and the effective limit.
// The site row's limit wins over the tier default when set.
func (s *Service) monthlyUsage(ctx context.Context, site *models.ProxySite, tier *models.SubscriptionTier) (int64, int64, error) {
	used, err := s.store.RequestLogRepository().MonthlyTokensUsed(ctx, site.ID)
	if err != nil {
		return 0, 0, apperr.Wrap(apperr.KindInternal, "summing monthly usage", err)
	}

	limit := site.MonthlyTokenLimit
	if limit <= 0 {
		limit = tier.MonthlyTokenLimit
	}

	return used, limit, nil
}

// appendLog inserts a usage row without blocking or failing the
// response. The insert survives the request context being canceled.
func (s *Service) appendLog(ctx context.Context, entry *models.RequestLog) {
	logCtx := context.WithoutCancel(ctx)

	go func() {
		ctx, cancel := context.WithTimeout(logCtx, s.logTimeout)
		defer cancel()

		if err := s.store.RequestLogRepository().Append(ctx, entry); err != nil {
			s.logger.Error("Request log append failed", "site_id", entry.SiteID, "error", err)
		}
	}()
}

func (s *Service) logRejection(ctx context.Context, site *models.ProxySite, model string, status int, reason string) {
	_, vendor, err := s.router.Resolve(model)
	if err != nil && vendor == "" {
		vendor = "unknown"
	}

	s.metrics.observeRequest(vendor, model, status, 0)
	s.appendLog(ctx, &models.RequestLog{
		SiteID:         site.ID,
		Domain:         site.Domain,
		Provider:       vendor,
		Model:          model,
		Endpoint:       endpointChat,
		Method:         http.MethodPost,
		ResponseStatus: status,
		ErrorMessage:   reason,
		RequestedAt:    time.Now().UTC(),
	})
}

func toAIMessages(messages []ChatMessage) []ai.Message {
	out := make([]ai.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, ai.Message{Role: m.Role, Content: m.Content})
	}

	return out
}

func buildCompletion(requested string, completion *ai.Completion) *ChatCompletion {
	model := completion.Model
	if model == "" {
		model = requested
	}

	return &ChatCompletion{
		ID:      newCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []ChatChoice{{
			Index:        0,
			Message:      ChatMessage{Role: ai.RoleAssistant, Content: completion.Content},
			FinishReason: "stop",
		}},
		Usage: ChatUsage{
			PromptTokens:     completion.Usage.Prompt,
			CompletionTokens: completion.Usage.Completion,
			TotalTokens:      completion.Usage.Total,
		},
	}
}

func remaining(used, limit int64) int64 {
	if used >= limit {
		return 0
	}

	return limit - used
}
