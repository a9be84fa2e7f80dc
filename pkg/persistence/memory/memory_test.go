package memory_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webtosite/webtosite/pkg/models"
	"github.com/webtosite/webtosite/pkg/persistence"
	"github.com/webtosite/webtosite/pkg/persistence/memory"
)

func TestProxySites_DomainUnique(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	repo := store.ProxySiteRepository()
	ctx := t.Context()

	first := &models.ProxySite{Domain: "alpha.example", APIKey: "wts_a", Status: models.SiteStatusActive, SubscriptionTier: "free", MonthlyTokenLimit: 100000}
	require.NoError(t, repo.Save(ctx, first))

	duplicate := &models.ProxySite{Domain: "alpha.example", APIKey: "wts_b", Status: models.SiteStatusActive, SubscriptionTier: "free", MonthlyTokenLimit: 100000}
	err := repo.Save(ctx, duplicate)
	require.Error(t, err)
	assert.True(t, persistence.IsDomainAlreadyRegistered(err))

	require.NoError(t, repo.UpdateStatus(ctx, first.ID, models.SiteStatusRevoked))

	active, err := repo.GetActiveByDomain(ctx, "alpha.example")
	require.NoError(t, err)
	assert.Nil(t, active)

	require.NoError(t, repo.UpdateStatus(ctx, first.ID, models.SiteStatusActive))

	active, err = repo.GetActiveByDomain(ctx, "alpha.example")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, first.ID, active.ID)
	assert.Nil(t, active.RevokedAt)
}

func TestProxySites_LookupsAndMutations(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	repo := store.ProxySiteRepository()
	ctx := t.Context()

	site := &models.ProxySite{Domain: "beta.example", APIKey: "wts_key", Status: models.SiteStatusActive, SubscriptionTier: "free", MonthlyTokenLimit: 100000}
	require.NoError(t, repo.Save(ctx, site))

	byKey, err := repo.GetByKey(ctx, "wts_key")
	require.NoError(t, err)
	require.NotNil(t, byKey)

	missing, err := repo.GetByKey(ctx, "wts_other")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.RotateKey(ctx, site.ID, "wts_rotated"))
	require.NoError(t, repo.UpdateTier(ctx, site.ID, "pro", 5000000))

	updated, err := repo.GetByID(ctx, site.ID)
	require.NoError(t, err)
	assert.Equal(t, "wts_rotated", updated.APIKey)
	assert.Equal(t, "pro", updated.SubscriptionTier)

	err = repo.RotateKey(ctx, "nope", "wts_x")
	assert.True(t, persistence.IsProxySiteNotFound(err))
}

func TestRequestLogs_MonthlyAggregation(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	logs := store.RequestLogRepository()
	ctx := t.Context()

	now := time.Now().UTC()
	lastMonth := now.AddDate(0, -1, 0)

	entries := []*models.RequestLog{
		{SiteID: "site-1", Model: "gpt-4o-mini", TotalTokens: 40, RequestedAt: now},
		{SiteID: "site-1", Model: "gpt-4o-mini", TotalTokens: 20, RequestedAt: now},
		{SiteID: "site-1", Model: "gemini-2.0-flash", TotalTokens: 10, RequestedAt: now},
		{SiteID: "site-1", Model: "gpt-4o-mini", TotalTokens: 999, RequestedAt: lastMonth},
		{SiteID: "site-2", Model: "gpt-4o-mini", TotalTokens: 999, RequestedAt: now},
	}
	for _, entry := range entries {
		require.NoError(t, logs.Append(ctx, entry))
	}

	used, err := logs.MonthlyTokensUsed(ctx, "site-1")
	require.NoError(t, err)
	assert.Equal(t, int64(70), used)

	usage, err := logs.UsageByModel(ctx, "site-1")
	require.NoError(t, err)
	require.Len(t, usage, 2)
	assert.Equal(t, "gpt-4o-mini", usage[0].Model)
	assert.Equal(t, int64(60), usage[0].TotalTokens)

	recent, err := logs.Recent(ctx, "site-1", 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestRequestLogs_Purge(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	logs := store.RequestLogRepository()
	ctx := t.Context()

	old := &models.RequestLog{SiteID: "site-1", Model: "gpt-4o-mini", RequestedAt: time.Now().UTC().Add(-72 * time.Hour)}
	fresh := &models.RequestLog{SiteID: "site-1", Model: "gpt-4o-mini", RequestedAt: time.Now().UTC()}
	require.NoError(t, logs.Append(ctx, old))
	require.NoError(t, logs.Append(ctx, fresh))

	removed, err := logs.PurgeOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	remaining, err := logs.Recent(ctx, "site-1", 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, fresh.ID, remaining[0].ID)
}

func TestTiers_Seeded(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	ctx := t.Context()

	tiers, err := store.TierRepository().GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, tiers, 4)
	assert.Equal(t, "free", tiers[0].Tier)
	assert.Equal(t, "enterprise", tiers[3].Tier)

	pro, err := store.TierRepository().GetByName(ctx, "pro")
	require.NoError(t, err)
	require.NotNil(t, pro)
	assert.True(t, pro.AllowsModel("claude-sonnet-4-20250514"))
	assert.False(t, pro.AllowsModel("claude-opus-4-1"))

	missing, err := store.TierRepository().GetByName(ctx, "platinum")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestEditSessions_Transcript(t *testing.T) {
	t.Parallel()

	store := memory.NewPersistence()
	repo := store.EditSessionRepository()
	ctx := t.Context()

	session := &models.EditSession{UserID: "user-1", SiteID: "site-1"}
	require.NoError(t, repo.SaveSession(ctx, session))

	base := time.Now().UTC()
	turns := []*models.EditMessage{
		{SessionID: session.ID, Role: models.RoleSystem, Content: "context", CreatedAt: base},
		{SessionID: session.ID, Role: models.RoleUser, Content: "hi", CreatedAt: base.Add(time.Millisecond)},
	}
	for _, turn := range turns {
		require.NoError(t, repo.AppendMessage(ctx, turn))
	}

	messages, err := repo.Messages(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, models.RoleSystem, messages[0].Role)

	err = repo.AppendMessage(ctx, &models.EditMessage{SessionID: "ghost", Role: models.RoleUser, Content: "x"})
	assert.True(t, persistence.IsEditSessionNotFound(err))

	byUser, err := repo.GetSessionsByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, byUser, 1)
}
