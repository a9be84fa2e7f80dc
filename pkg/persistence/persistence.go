// Package persistence provides the data storage abstraction layer for
// proxy sites, usage accounting and edit sessions.
package persistence

import (
	"context"
	"time"

	"github.com/webtosite/webtosite/pkg/models"
)

type Persistence interface {
	ProxySiteRepository() ProxySiteRepository
	RequestLogRepository() RequestLogRepository
	TierRepository() TierRepository
	EditSessionRepository() EditSessionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ProxySiteRepository manages registered proxy consumers. Lookups
// return (nil, nil) when no row matches; mutations return
// ErrProxySiteNotFound for unknown ids.
type ProxySiteRepository interface {
	Save(ctx context.Context, site *models.ProxySite) error
	GetByID(ctx context.Context, id string) (*models.ProxySite, error)
	GetByKey(ctx context.Context, apiKey string) (*models.ProxySite, error)

	// GetActiveByDomain resolves the single active registration for a
	// domain.
	GetActiveByDomain(ctx context.Context, domain string) (*models.ProxySite, error)
	GetAll(ctx context.Context) ([]*models.ProxySite, error)

	RotateKey(ctx context.Context, id, apiKey string) error
	UpdateTier(ctx context.Context, id, tier string, monthlyTokenLimit int64) error
	UpdateStatus(ctx context.Context, id string, status models.SiteStatus) error
}

// ModelUsage aggregates request log rows per model.
type ModelUsage struct {
	Model       string `json:"model"`
	Requests    int64  `json:"requests"`
	TotalTokens int64  `json:"total_tokens"`
}

// RequestLogRepository manages the append-only proxy usage log.
type RequestLogRepository interface {
	Append(ctx context.Context, entry *models.RequestLog) error

	// MonthlyTokensUsed sums total tokens for a site since the start of
	// the current calendar month.
	MonthlyTokensUsed(ctx context.Context, siteID string) (int64, error)
	Recent(ctx context.Context, siteID string, limit int) ([]*models.RequestLog, error)
	UsageByModel(ctx context.Context, siteID string) ([]*ModelUsage, error)

	// PurgeOlderThan deletes log rows past the retention window and
	// returns how many were removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// TierRepository reads the seeded subscription tier catalog.
type TierRepository interface {
	GetByName(ctx context.Context, tier string) (*models.SubscriptionTier, error)
	GetAll(ctx context.Context) ([]*models.SubscriptionTier, error)
}

// EditSessionRepository manages edit sessions and their ordered
// message transcripts.
type EditSessionRepository interface {
	SaveSession(ctx context.Context, session *models.EditSession) error
	GetSession(ctx context.Context, id string) (*models.EditSession, error)
	GetSessionsByUser(ctx context.Context, userID string) ([]*models.EditSession, error)

	AppendMessage(ctx context.Context, message *models.EditMessage) error

	// Messages returns a session's transcript in created-at ascending
	// order.
	Messages(ctx context.Context, sessionID string) ([]*models.EditMessage, error)
}
