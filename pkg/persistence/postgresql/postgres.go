// Package postgresql provides the PostgreSQL persistence implementation
// for proxy sites, usage accounting and edit sessions.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/webtosite/webtosite/pkg/persistence"
	"github.com/webtosite/webtosite/pkg/persistence/sqlbase"
)

const (
	maxOpenConns    = 10
	maxIdleConns    = 5
	connMaxLifetime = 30 * time.Minute
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db              *sql.DB
	logger          *slog.Logger
	proxySiteRepo   *ProxySiteRepository
	requestLogRepo  *RequestLogRepository
	tierRepo        *TierRepository
	editSessionRepo *EditSessionRepository
}

// NewPersistence connects, runs migrations and wires the repositories.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	database.SetMaxOpenConns(maxOpenConns)
	database.SetMaxIdleConns(maxIdleConns)
	database.SetConnMaxLifetime(connMaxLifetime)

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:              database,
		logger:          logger,
		proxySiteRepo:   NewProxySiteRepository(database, logger),
		requestLogRepo:  NewRequestLogRepository(database, logger),
		tierRepo:        NewTierRepository(database, logger),
		editSessionRepo: NewEditSessionRepository(database, logger),
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) ProxySiteRepository() persistence.ProxySiteRepository {
	return p.proxySiteRepo
}

func (p *Persistence) RequestLogRepository() persistence.RequestLogRepository {
	return p.requestLogRepo
}

func (p *Persistence) TierRepository() persistence.TierRepository {
	return p.tierRepo
}

func (p *Persistence) EditSessionRepository() persistence.EditSessionRepository {
	return p.editSessionRepo
}
