package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/webtosite/webtosite/pkg/models"
	"github.com/webtosite/webtosite/pkg/persistence"
	"github.com/webtosite/webtosite/pkg/persistence/postgresql"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Drop tables in reverse dependency order (children first, parents last)
	for _, table := range []string{"editor_messages", "editor_sessions", "proxy_request_log", "proxy_sites", "proxy_subscription_tiers", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("webtosite_test"),
			postgres.WithUsername("webtosite"),
			postgres.WithPassword("webtosite"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = store.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return store, ctx
}

func newTestSite(domain string) *models.ProxySite {
	return &models.ProxySite{
		Domain:            domain,
		APIKey:            "wts_" + uuid.New().String()[:8] + "testtesttesttesttesttest",
		Label:             "test site",
		Status:            models.SiteStatusActive,
		SubscriptionTier:  "free",
		MonthlyTokenLimit: 100000,
	}
}

func TestNewPersistence_SeedsTiers(t *testing.T) {
	store, ctx := setupTestDB(t)

	tiers, err := store.TierRepository().GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, tiers, 4)

	names := make([]string, 0, len(tiers))
	for _, tier := range tiers {
		names = append(names, tier.Tier)
	}

	assert.Equal(t, []string{"free", "starter", "pro", "enterprise"}, names)

	free, err := store.TierRepository().GetByName(ctx, "free")
	require.NoError(t, err)
	require.NotNil(t, free)

	assert.Equal(t, int64(100000), free.MonthlyTokenLimit)
	assert.True(t, free.AllowsModel("gpt-4o-mini"))
	assert.False(t, free.AllowsModel("gpt-4o"))

	missing, err := store.TierRepository().GetByName(ctx, "platinum")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestProxySiteRepository_SaveAndLookups(t *testing.T) {
	store, ctx := setupTestDB(t)
	repo := store.ProxySiteRepository()

	site := newTestSite("alpha.example")
	require.NoError(t, repo.Save(ctx, site))
	require.NotEmpty(t, site.ID)

	byKey, err := repo.GetByKey(ctx, site.APIKey)
	require.NoError(t, err)
	require.NotNil(t, byKey)
	assert.Equal(t, site.ID, byKey.ID)

	byDomain, err := repo.GetActiveByDomain(ctx, "alpha.example")
	require.NoError(t, err)
	require.NotNil(t, byDomain)
	assert.Equal(t, site.ID, byDomain.ID)

	missing, err := repo.GetByKey(ctx, "wts_unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestProxySiteRepository_DomainUnique(t *testing.T) {
	store, ctx := setupTestDB(t)
	repo := store.ProxySiteRepository()

	first := newTestSite("beta.example")
	require.NoError(t, repo.Save(ctx, first))

	second := newTestSite("beta.example")
	err := repo.Save(ctx, second)
	require.Error(t, err)
	assert.True(t, persistence.IsDomainAlreadyRegistered(err))

	// Revocation keeps the row; reactivation goes through UpdateStatus.
	require.NoError(t, repo.UpdateStatus(ctx, first.ID, models.SiteStatusRevoked))

	revoked, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, revoked)
	assert.Equal(t, models.SiteStatusRevoked, revoked.Status)
	assert.NotNil(t, revoked.RevokedAt)

	active, err := repo.GetActiveByDomain(ctx, "beta.example")
	require.NoError(t, err)
	assert.Nil(t, active)

	require.NoError(t, repo.UpdateStatus(ctx, first.ID, models.SiteStatusActive))

	active, err = repo.GetActiveByDomain(ctx, "beta.example")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Nil(t, active.RevokedAt)
}

func TestProxySiteRepository_Mutations(t *testing.T) {
	store, ctx := setupTestDB(t)
	repo := store.ProxySiteRepository()

	site := newTestSite("gamma.example")
	require.NoError(t, repo.Save(ctx, site))

	require.NoError(t, repo.RotateKey(ctx, site.ID, "wts_rotatedrotatedrotatedrotatedrotatedrot"))
	require.NoError(t, repo.UpdateTier(ctx, site.ID, "pro", 5000000))

	updated, err := repo.GetByID(ctx, site.ID)
	require.NoError(t, err)
	require.NotNil(t, updated)

	assert.Equal(t, "wts_rotatedrotatedrotatedrotatedrotatedrot", updated.APIKey)
	assert.Equal(t, "pro", updated.SubscriptionTier)
	assert.Equal(t, int64(5000000), updated.MonthlyTokenLimit)

	err = repo.RotateKey(ctx, uuid.New().String(), "wts_x")
	require.Error(t, err)
	assert.True(t, persistence.IsProxySiteNotFound(err))
}

func TestRequestLogRepository_AppendAndAggregate(t *testing.T) {
	store, ctx := setupTestDB(t)

	site := newTestSite("delta.example")
	require.NoError(t, store.ProxySiteRepository().Save(ctx, site))

	logs := store.RequestLogRepository()

	for index, model := range []string{"gpt-4o-mini", "gpt-4o-mini", "gemini-2.0-flash"} {
		entry := &models.RequestLog{
			SiteID:           site.ID,
			Domain:           site.Domain,
			Provider:         "openai",
			Model:            model,
			Endpoint:         "/v1/chat/completions",
			Method:           "POST",
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
			ResponseStatus:   200,
			LatencyMS:        int64(100 + index),
		}
		require.NoError(t, logs.Append(ctx, entry))
		require.NotZero(t, entry.ID)
	}

	used, err := logs.MonthlyTokensUsed(ctx, site.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(90), used)

	recent, err := logs.Recent(ctx, site.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	usage, err := logs.UsageByModel(ctx, site.ID)
	require.NoError(t, err)
	require.Len(t, usage, 2)
	assert.Equal(t, "gpt-4o-mini", usage[0].Model)
	assert.Equal(t, int64(2), usage[0].Requests)
	assert.Equal(t, int64(60), usage[0].TotalTokens)
}

func TestRequestLogRepository_PurgeOlderThan(t *testing.T) {
	store, ctx := setupTestDB(t)

	site := newTestSite("epsilon.example")
	require.NoError(t, store.ProxySiteRepository().Save(ctx, site))

	logs := store.RequestLogRepository()

	old := &models.RequestLog{
		SiteID:      site.ID,
		Domain:      site.Domain,
		Provider:    "openai",
		Model:       "gpt-4o-mini",
		Endpoint:    "/v1/chat/completions",
		Method:      "POST",
		TotalTokens: 5,
		RequestedAt: time.Now().UTC().Add(-96 * time.Hour),
	}
	require.NoError(t, logs.Append(ctx, old))

	fresh := &models.RequestLog{
		SiteID:      site.ID,
		Domain:      site.Domain,
		Provider:    "openai",
		Model:       "gpt-4o-mini",
		Endpoint:    "/v1/chat/completions",
		Method:      "POST",
		TotalTokens: 5,
	}
	require.NoError(t, logs.Append(ctx, fresh))

	removed, err := logs.PurgeOlderThan(ctx, time.Now().UTC().Add(-48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	remaining, err := logs.Recent(ctx, site.ID, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, fresh.ID, remaining[0].ID)
}

func TestEditSessionRepository_TranscriptOrdering(t *testing.T) {
	store, ctx := setupTestDB(t)
	repo := store.EditSessionRepository()

	session := &models.EditSession{UserID: "user-1", SiteID: "site-1", Title: "Homepage edits"}
	require.NoError(t, repo.SaveSession(ctx, session))
	require.NotEmpty(t, session.ID)

	turns := []*models.EditMessage{
		{SessionID: session.ID, Role: models.RoleSystem, Content: "site context"},
		{SessionID: session.ID, Role: models.RoleUser, Content: "update my homepage"},
		{SessionID: session.ID, Role: models.RoleAssistant, Content: "Done.", Metadata: map[string]any{"changes": []any{map[string]any{"type": "update_page"}}}},
	}
	for index, message := range turns {
		message.CreatedAt = time.Now().UTC().Add(time.Duration(index) * time.Millisecond)
		require.NoError(t, repo.AppendMessage(ctx, message))
	}

	messages, err := repo.Messages(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)

	assert.Equal(t, models.RoleSystem, messages[0].Role)
	assert.Equal(t, models.RoleUser, messages[1].Role)
	assert.Equal(t, models.RoleAssistant, messages[2].Role)
	assert.NotNil(t, messages[2].Metadata["changes"])

	loaded, err := repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.False(t, loaded.UpdatedAt.Before(loaded.CreatedAt))

	err = repo.AppendMessage(ctx, &models.EditMessage{SessionID: uuid.New().String(), Role: models.RoleUser, Content: "orphan"})
	require.Error(t, err)
	assert.True(t, persistence.IsEditSessionNotFound(err))
}
