package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/webtosite/webtosite/pkg/models"
)

// TierRepository reads the seeded subscription tier catalog.
type TierRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTierRepository creates a new tier repository.
func NewTierRepository(db *sql.DB, logger *slog.Logger) *TierRepository {
	return &TierRepository{db: db, logger: logger}
}

// GetByName returns one tier, or (nil, nil) when absent.
func (r *TierRepository) GetByName(ctx context.Context, tier string) (*models.SubscriptionTier, error) {
	query := `
		SELECT
			tier
		  , display_name
		  , monthly_token_limit
		  , allowed_models
		  , rate_limit_rpm
		FROM proxy_subscription_tiers
		WHERE tier = $1
	`

	var (
		result models.SubscriptionTier
		ids    pq.StringArray
	)

	err := r.db.QueryRowContext(ctx, query, tier).Scan(
		&result.Tier,
		&result.DisplayName,
		&result.MonthlyTokenLimit,
		&ids,
		&result.RateLimitRPM,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan subscription tier: %w", err)
	}

	result.AllowedModels = ids

	return &result, nil
}

// GetAll returns every tier, cheapest first.
func (r *TierRepository) GetAll(ctx context.Context) ([]*models.SubscriptionTier, error) {
	query := `
		SELECT
			tier
		  , display_name
		  , monthly_token_limit
		  , allowed_models
		  , rate_limit_rpm
		FROM proxy_subscription_tiers
		ORDER BY monthly_token_limit ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscription tiers: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	tiers := make([]*models.SubscriptionTier, 0)

	for rows.Next() {
		var (
			tier models.SubscriptionTier
			ids  pq.StringArray
		)

		err := rows.Scan(&tier.Tier, &tier.DisplayName, &tier.MonthlyTokenLimit, &ids, &tier.RateLimitRPM)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription tier: %w", err)
		}

		tier.AllowedModels = ids
		tiers = append(tiers, &tier)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating subscription tiers: %w", err)
	}

	return tiers, nil
}
