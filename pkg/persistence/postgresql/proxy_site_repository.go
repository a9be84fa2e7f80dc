package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/webtosite/webtosite/pkg/models"
	"github.com/webtosite/webtosite/pkg/persistence"
)

const uniqueViolation = "23505"

// ProxySiteRepository handles proxy site database operations.
type ProxySiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewProxySiteRepository creates a new proxy site repository.
func NewProxySiteRepository(db *sql.DB, logger *slog.Logger) *ProxySiteRepository {
	return &ProxySiteRepository{db: db, logger: logger}
}

const proxySiteColumns = `
			id
		  , domain
		  , api_key
		  , label
		  , status
		  , subscription_tier
		  , monthly_token_limit
		  , created_at
		  , revoked_at
`

// Save inserts or updates a proxy site. The partial unique index on
// active domains rejects a second active registration for the same
// domain.
func (r *ProxySiteRepository) Save(ctx context.Context, site *models.ProxySite) error {
	if site.CreatedAt.IsZero() {
		site.CreatedAt = time.Now().UTC()
	}

	if site.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate proxy site ID: %w", err)
		}

		site.ID = id.String()
	}

	query := `
		INSERT INTO proxy_sites (id, domain, api_key, label, status, subscription_tier, monthly_token_limit, created_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			domain = EXCLUDED.domain,
			api_key = EXCLUDED.api_key,
			label = EXCLUDED.label,
			status = EXCLUDED.status,
			subscription_tier = EXCLUDED.subscription_tier,
			monthly_token_limit = EXCLUDED.monthly_token_limit,
			revoked_at = EXCLUDED.revoked_at
	`

	_, err := r.db.ExecContext(ctx, query,
		site.ID,
		site.Domain,
		site.APIKey,
		site.Label,
		site.Status,
		site.SubscriptionTier,
		site.MonthlyTokenLimit,
		site.CreatedAt,
		site.RevokedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return &persistence.SiteError{Op: "Save", Domain: site.Domain, Err: persistence.ErrDomainAlreadyRegistered}
		}

		return fmt.Errorf("failed to save proxy site: %w", err)
	}

	return nil
}

// GetByID returns a proxy site by its ID, or (nil, nil) when absent.
func (r *ProxySiteRepository) GetByID(ctx context.Context, id string) (*models.ProxySite, error) {
	query := `SELECT` + proxySiteColumns + `FROM proxy_sites WHERE id = $1`

	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetByKey returns a proxy site by its API key, or (nil, nil) when absent.
func (r *ProxySiteRepository) GetByKey(ctx context.Context, apiKey string) (*models.ProxySite, error) {
	query := `SELECT` + proxySiteColumns + `FROM proxy_sites WHERE api_key = $1`

	return r.scanOne(r.db.QueryRowContext(ctx, query, apiKey))
}

// GetActiveByDomain returns the single active registration for a
// domain, or (nil, nil) when absent.
func (r *ProxySiteRepository) GetActiveByDomain(ctx context.Context, domain string) (*models.ProxySite, error) {
	query := `SELECT` + proxySiteColumns + `FROM proxy_sites WHERE domain = $1 AND status = 'active'`

	return r.scanOne(r.db.QueryRowContext(ctx, query, domain))
}

// GetAll returns every registered proxy site, newest first.
func (r *ProxySiteRepository) GetAll(ctx context.Context) ([]*models.ProxySite, error) {
	query := `SELECT` + proxySiteColumns + `FROM proxy_sites ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query proxy sites: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	sites := make([]*models.ProxySite, 0)

	for rows.Next() {
		site, err := scanProxySite(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proxy site: %w", err)
		}

		sites = append(sites, site)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating proxy sites: %w", err)
	}

	return sites, nil
}

// RotateKey replaces a site's API key.
func (r *ProxySiteRepository) RotateKey(ctx context.Context, id, apiKey string) error {
	return r.update(ctx, "RotateKey", id,
		"UPDATE proxy_sites SET api_key = $2 WHERE id = $1", apiKey)
}

// UpdateTier moves a site to another subscription tier and refreshes
// its monthly token limit from the tier definition.
func (r *ProxySiteRepository) UpdateTier(ctx context.Context, id, tier string, monthlyTokenLimit int64) error {
	return r.update(ctx, "UpdateTier", id,
		"UPDATE proxy_sites SET subscription_tier = $2, monthly_token_limit = $3 WHERE id = $1", tier, monthlyTokenLimit)
}

// UpdateStatus activates or revokes a site, stamping revoked_at on
// revocation.
func (r *ProxySiteRepository) UpdateStatus(ctx context.Context, id string, status models.SiteStatus) error {
	var revokedAt *time.Time

	if status == models.SiteStatusRevoked {
		now := time.Now().UTC()
		revokedAt = &now
	}

	return r.update(ctx, "UpdateStatus", id,
		"UPDATE proxy_sites SET status = $2, revoked_at = $3 WHERE id = $1", status, revokedAt)
}

func (r *ProxySiteRepository) update(ctx context.Context, op, id, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return &persistence.SiteError{Op: op, SiteID: id, Err: persistence.ErrDomainAlreadyRegistered}
		}

		return persistence.NewSiteError(op, id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewSiteError(op, id, err)
	}

	if affected == 0 {
		return persistence.NewSiteError(op, id, persistence.ErrProxySiteNotFound)
	}

	return nil
}

func (r *ProxySiteRepository) scanOne(row *sql.Row) (*models.ProxySite, error) {
	site, err := scanProxySite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan proxy site: %w", err)
	}

	return site, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProxySite(row rowScanner) (*models.ProxySite, error) {
	var (
		site      models.ProxySite
		revokedAt sql.NullTime
	)

	err := row.Scan(
		&site.ID,
		&site.Domain,
		&site.APIKey,
		&site.Label,
		&site.Status,
		&site.SubscriptionTier,
		&site.MonthlyTokenLimit,
		&site.CreatedAt,
		&revokedAt,
	)
	if err != nil {
		return nil, err
	}

	if revokedAt.Valid {
		site.RevokedAt = &revokedAt.Time
	}

	return &site, nil
}
