package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/webtosite/webtosite/pkg/models"
	"github.com/webtosite/webtosite/pkg/persistence"
)

const foreignKeyViolation = "23503"

// EditSessionRepository handles edit session and message persistence.
type EditSessionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewEditSessionRepository creates a new edit session repository.
func NewEditSessionRepository(db *sql.DB, logger *slog.Logger) *EditSessionRepository {
	return &EditSessionRepository{db: db, logger: logger}
}

// SaveSession inserts or updates an edit session.
func (r *EditSessionRepository) SaveSession(ctx context.Context, session *models.EditSession) error {
	now := time.Now().UTC()

	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}

	session.UpdatedAt = now

	if session.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate edit session ID: %w", err)
		}

		session.ID = id.String()
	}

	query := `
		INSERT INTO editor_sessions (id, user_id, site_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		session.SiteID,
		session.Title,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save edit session: %w", err)
	}

	return nil
}

// GetSession returns one session, or (nil, nil) when absent.
func (r *EditSessionRepository) GetSession(ctx context.Context, id string) (*models.EditSession, error) {
	query := `
		SELECT
			id
		  , user_id
		  , site_id
		  , title
		  , created_at
		  , updated_at
		FROM editor_sessions
		WHERE id = $1
	`

	var session models.EditSession

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID,
		&session.UserID,
		&session.SiteID,
		&session.Title,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan edit session: %w", err)
	}

	return &session, nil
}

// GetSessionsByUser returns a user's sessions, most recently touched
// first.
func (r *EditSessionRepository) GetSessionsByUser(ctx context.Context, userID string) ([]*models.EditSession, error) {
	query := `
		SELECT
			id
		  , user_id
		  , site_id
		  , title
		  , created_at
		  , updated_at
		FROM editor_sessions
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query edit sessions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	sessions := make([]*models.EditSession, 0)

	for rows.Next() {
		var session models.EditSession

		err := rows.Scan(
			&session.ID,
			&session.UserID,
			&session.SiteID,
			&session.Title,
			&session.CreatedAt,
			&session.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan edit session: %w", err)
		}

		sessions = append(sessions, &session)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating edit sessions: %w", err)
	}

	return sessions, nil
}

// AppendMessage adds one message to a session's transcript and touches
// the session's updated_at.
func (r *EditSessionRepository) AppendMessage(ctx context.Context, message *models.EditMessage) error {
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	if message.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate edit message ID: %w", err)
		}

		message.ID = id.String()
	}

	var metadataJSON []byte

	if message.Metadata != nil {
		encoded, err := json.Marshal(message.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal message metadata: %w", err)
		}

		metadataJSON = encoded
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `
		INSERT INTO editor_messages (id, session_id, role, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = tx.ExecContext(ctx, query,
		message.ID,
		message.SessionID,
		message.Role,
		message.Content,
		metadataJSON,
		message.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
			err = persistence.ErrEditSessionNotFound
		}

		return &persistence.SessionError{Op: "AppendMessage", SessionID: message.SessionID, Err: err}
	}

	result, err := tx.ExecContext(ctx, "UPDATE editor_sessions SET updated_at = $2 WHERE id = $1",
		message.SessionID, message.CreatedAt)
	if err != nil {
		return &persistence.SessionError{Op: "AppendMessage", SessionID: message.SessionID, Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return &persistence.SessionError{Op: "AppendMessage", SessionID: message.SessionID, Err: err}
	}

	if affected == 0 {
		err = persistence.ErrEditSessionNotFound

		return &persistence.SessionError{Op: "AppendMessage", SessionID: message.SessionID, Err: err}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}

	return nil
}

// Messages returns a session's transcript in created-at ascending
// order.
func (r *EditSessionRepository) Messages(ctx context.Context, sessionID string) ([]*models.EditMessage, error) {
	query := `
		SELECT
			id
		  , session_id
		  , role
		  , content
		  , metadata
		  , created_at
		FROM editor_messages
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query edit messages: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	messages := make([]*models.EditMessage, 0)

	for rows.Next() {
		var (
			message      models.EditMessage
			metadataJSON []byte
		)

		err := rows.Scan(
			&message.ID,
			&message.SessionID,
			&message.Role,
			&message.Content,
			&metadataJSON,
			&message.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan edit message: %w", err)
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &message.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal message metadata: %w", err)
			}
		}

		messages = append(messages, &message)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating edit messages: %w", err)
	}

	return messages, nil
}
