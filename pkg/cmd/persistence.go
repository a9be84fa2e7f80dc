// Package cmd holds the constructor helpers the gateway binary wires
// its infrastructure with.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/webtosite/webtosite/pkg/persistence"
	"github.com/webtosite/webtosite/pkg/persistence/memory"
	"github.com/webtosite/webtosite/pkg/persistence/postgresql"
)

// NewPersistence builds the store for a database URL. postgres:// and
// postgresql:// URLs select the Postgres store with migrations
// applied; "memory" or an empty URL selects the in-memory store for
// local development.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch {
	case databaseURL == "" || databaseURL == "memory":
		logger.InfoContext(ctx, "Using in-memory persistence, data will not survive a restart")

		return memory.NewPersistence(), nil
	case strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://"):
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return nil, fmt.Errorf("unsupported database url scheme: %q", databaseURL)
	}
}
