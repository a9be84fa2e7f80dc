package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/webtosite/webtosite/pkg/models"
	"github.com/webtosite/webtosite/pkg/persistence"
)

// RequestLogRepository handles the append-only proxy usage log.
type RequestLogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRequestLogRepository creates a new request log repository.
func NewRequestLogRepository(db *sql.DB, logger *slog.Logger) *RequestLogRepository {
	return &RequestLogRepository{db: db, logger: logger}
}

// Append inserts one usage record.
func (r *RequestLogRepository) Append(ctx context.Context, entry *models.RequestLog) error {
	if entry.RequestedAt.IsZero() {
		entry.RequestedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO proxy_request_log (site_id, domain, provider, model, endpoint, method,
			prompt_tokens, completion_tokens, total_tokens, response_status, latency_ms, error_message, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx, query,
		entry.SiteID,
		entry.Domain,
		entry.Provider,
		entry.Model,
		entry.Endpoint,
		entry.Method,
		entry.PromptTokens,
		entry.CompletionTokens,
		entry.TotalTokens,
		entry.ResponseStatus,
		entry.LatencyMS,
		nullableString(entry.ErrorMessage),
		entry.RequestedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to append request log: %w", err)
	}

	return nil
}

// MonthlyTokensUsed sums total tokens for a site since the start of the
// current calendar month.
func (r *RequestLogRepository) MonthlyTokensUsed(ctx context.Context, siteID string) (int64, error) {
	query := `
		SELECT COALESCE(SUM(total_tokens), 0)
		FROM proxy_request_log
		WHERE site_id = $1
		  AND requested_at >= date_trunc('month', now())
	`

	var used int64

	err := r.db.QueryRowContext(ctx, query, siteID).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("failed to sum monthly tokens: %w", err)
	}

	return used, nil
}

// Recent returns a site's newest log rows, most recent first.
func (r *RequestLogRepository) Recent(ctx context.Context, siteID string, limit int) ([]*models.RequestLog, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT
			id
		  , site_id
		  , domain
		  , provider
		  , model
		  , endpoint
		  , method
		  , prompt_tokens
		  , completion_tokens
		  , total_tokens
		  , response_status
		  , latency_ms
		  , error_message
		  , requested_at
		FROM proxy_request_log
		WHERE site_id = $1
		ORDER BY requested_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, siteID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query request log: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	entries := make([]*models.RequestLog, 0, limit)

	for rows.Next() {
		var (
			entry        models.RequestLog
			errorMessage sql.NullString
		)

		err := rows.Scan(
			&entry.ID,
			&entry.SiteID,
			&entry.Domain,
			&entry.Provider,
			&entry.Model,
			&entry.Endpoint,
			&entry.Method,
			&entry.PromptTokens,
			&entry.CompletionTokens,
			&entry.TotalTokens,
			&entry.ResponseStatus,
			&entry.LatencyMS,
			&errorMessage,
			&entry.RequestedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request log row: %w", err)
		}

		entry.ErrorMessage = errorMessage.String
		entries = append(entries, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating request log: %w", err)
	}

	return entries, nil
}

// UsageByModel aggregates a site's current-month usage per model.
func (r *RequestLogRepository) UsageByModel(ctx context.Context, siteID string) ([]*persistence.ModelUsage, error) {
	query := `
		SELECT
			model
		  , COUNT(*)
		  , COALESCE(SUM(total_tokens), 0)
		FROM proxy_request_log
		WHERE site_id = $1
		  AND requested_at >= date_trunc('month', now())
		GROUP BY model
		ORDER BY SUM(total_tokens) DESC
	`

	rows, err := r.db.QueryContext(ctx, query, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage by model: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	usage := make([]*persistence.ModelUsage, 0)

	for rows.Next() {
		var row persistence.ModelUsage

		err := rows.Scan(&row.Model, &row.Requests, &row.TotalTokens)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}

		usage = append(usage, &row)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating usage: %w", err)
	}

	return usage, nil
}

// PurgeOlderThan deletes log rows past the retention window.
func (r *RequestLogRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM proxy_request_log WHERE requested_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge request log: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged rows: %w", err)
	}

	return removed, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
