// Package memory provides an in-memory persistence implementation for
// tests and local development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webtosite/webtosite/pkg/models"
	"github.com/webtosite/webtosite/pkg/persistence"
)

// Persistence implements the persistence layer with mutex-guarded maps.
type Persistence struct {
	mu       sync.RWMutex
	sites    map[string]*models.ProxySite
	logs     []*models.RequestLog
	nextLog  int64
	tiers    map[string]*models.SubscriptionTier
	sessions map[string]*models.EditSession
	messages map[string][]*models.EditMessage
}

// NewPersistence creates an empty store seeded with the built-in tiers.
func NewPersistence() *Persistence {
	return &Persistence{
		sites:    make(map[string]*models.ProxySite),
		tiers:    seedTiers(),
		sessions: make(map[string]*models.EditSession),
		messages: make(map[string][]*models.EditMessage),
	}
}

func seedTiers() map[string]*models.SubscriptionTier {
	freeModels := []string{"gpt-4o-mini", "gemini-2.0-flash"}
	starterModels := append(append([]string{}, freeModels...), "gpt-4o", "gemini-2.5-flash", "claude-3-5-haiku-latest")
	proModels := append(append([]string{}, starterModels...), "gpt-4.1", "gemini-2.5-pro", "claude-sonnet-4-20250514")
	enterpriseModels := append(append([]string{}, proModels...), "claude-opus-4-1")

	return map[string]*models.SubscriptionTier{
		"free":       {Tier: "free", DisplayName: "Free", MonthlyTokenLimit: 100000, AllowedModels: freeModels, RateLimitRPM: 20},
		"starter":    {Tier: "starter", DisplayName: "Starter", MonthlyTokenLimit: 1000000, AllowedModels: starterModels, RateLimitRPM: 60},
		"pro":        {Tier: "pro", DisplayName: "Pro", MonthlyTokenLimit: 5000000, AllowedModels: proModels, RateLimitRPM: 300},
		"enterprise": {Tier: "enterprise", DisplayName: "Enterprise", MonthlyTokenLimit: 50000000, AllowedModels: enterpriseModels, RateLimitRPM: 1000},
	}
}

func (p *Persistence) ProxySiteRepository() persistence.ProxySiteRepository {
	return &proxySiteRepository{store: p}
}

func (p *Persistence) RequestLogRepository() persistence.RequestLogRepository {
	return &requestLogRepository{store: p}
}

func (p *Persistence) TierRepository() persistence.TierRepository {
	return &tierRepository{store: p}
}

func (p *Persistence) EditSessionRepository() persistence.EditSessionRepository {
	return &editSessionRepository{store: p}
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

type proxySiteRepository struct {
	store *Persistence
}

func (r *proxySiteRepository) Save(_ context.Context, site *models.ProxySite) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if site.CreatedAt.IsZero() {
		site.CreatedAt = time.Now().UTC()
	}

	if site.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}

		site.ID = id.String()
	}

	for _, existing := range r.store.sites {
		if existing.ID != site.ID && existing.Domain == site.Domain {
			return &persistence.SiteError{Op: "Save", Domain: site.Domain, Err: persistence.ErrDomainAlreadyRegistered}
		}
	}

	clone := *site
	r.store.sites[site.ID] = &clone

	return nil
}

func (r *proxySiteRepository) GetByID(_ context.Context, id string) (*models.ProxySite, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	site, ok := r.store.sites[id]
	if !ok {
		return nil, nil
	}

	clone := *site

	return &clone, nil
}

func (r *proxySiteRepository) GetByKey(_ context.Context, apiKey string) (*models.ProxySite, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, site := range r.store.sites {
		if site.APIKey == apiKey {
			clone := *site

			return &clone, nil
		}
	}

	return nil, nil
}

func (r *proxySiteRepository) GetActiveByDomain(_ context.Context, domain string) (*models.ProxySite, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, site := range r.store.sites {
		if site.Domain == domain && site.Status == models.SiteStatusActive {
			clone := *site

			return &clone, nil
		}
	}

	return nil, nil
}

func (r *proxySiteRepository) GetAll(_ context.Context) ([]*models.ProxySite, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	sites := make([]*models.ProxySite, 0, len(r.store.sites))

	for _, site := range r.store.sites {
		clone := *site
		sites = append(sites, &clone)
	}

	sort.Slice(sites, func(i, j int) bool {
		return sites[i].CreatedAt.After(sites[j].CreatedAt)
	})

	return sites, nil
}

func (r *proxySiteRepository) RotateKey(_ context.Context, id, apiKey string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	site, ok := r.store.sites[id]
	if !ok {
		return persistence.NewSiteError("RotateKey", id, persistence.ErrProxySiteNotFound)
	}

	site.APIKey = apiKey

	return nil
}

func (r *proxySiteRepository) UpdateTier(_ context.Context, id, tier string, monthlyTokenLimit int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	site, ok := r.store.sites[id]
	if !ok {
		return persistence.NewSiteError("UpdateTier", id, persistence.ErrProxySiteNotFound)
	}

	site.SubscriptionTier = tier
	site.MonthlyTokenLimit = monthlyTokenLimit

	return nil
}

func (r *proxySiteRepository) UpdateStatus(_ context.Context, id string, status models.SiteStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	site, ok := r.store.sites[id]
	if !ok {
		return persistence.NewSiteError("UpdateStatus", id, persistence.ErrProxySiteNotFound)
	}

	site.Status = status

	if status == models.SiteStatusRevoked {
		now := time.Now().UTC()
		site.RevokedAt = &now
	} else {
		site.RevokedAt = nil
	}

	return nil
}

type requestLogRepository struct {
	store *Persistence
}

func (r *requestLogRepository) Append(_ context.Context, entry *models.RequestLog) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if entry.RequestedAt.IsZero() {
		entry.RequestedAt = time.Now().UTC()
	}

	r.store.nextLog++
	entry.ID = r.store.nextLog

	clone := *entry
	r.store.logs = append(r.store.logs, &clone)

	return nil
}

func monthStart(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func (r *requestLogRepository) MonthlyTokensUsed(_ context.Context, siteID string) (int64, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	since := monthStart(time.Now().UTC())

	var used int64

	for _, entry := range r.store.logs {
		if entry.SiteID == siteID && !entry.RequestedAt.Before(since) {
			used += int64(entry.TotalTokens)
		}
	}

	return used, nil
}

func (r *requestLogRepository) Recent(_ context.Context, siteID string, limit int) ([]*models.RequestLog, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	matched := make([]*models.RequestLog, 0)

	for _, entry := range r.store.logs {
		if entry.SiteID == siteID {
			clone := *entry
			matched = append(matched, &clone)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].RequestedAt.After(matched[j].RequestedAt)
	})

	if len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, nil
}

func (r *requestLogRepository) UsageByModel(_ context.Context, siteID string) ([]*persistence.ModelUsage, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	since := monthStart(time.Now().UTC())
	byModel := make(map[string]*persistence.ModelUsage)

	for _, entry := range r.store.logs {
		if entry.SiteID != siteID || entry.RequestedAt.Before(since) {
			continue
		}

		usage, ok := byModel[entry.Model]
		if !ok {
			usage = &persistence.ModelUsage{Model: entry.Model}
			byModel[entry.Model] = usage
		}

		usage.Requests++
		usage.TotalTokens += int64(entry.TotalTokens)
	}

	result := make([]*persistence.ModelUsage, 0, len(byModel))
	for _, usage := range byModel {
		result = append(result, usage)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].TotalTokens != result[j].TotalTokens {
			return result[i].TotalTokens > result[j].TotalTokens
		}

		return result[i].Model < result[j].Model
	})

	return result, nil
}

func (r *requestLogRepository) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	kept := r.store.logs[:0]

	var removed int64

	for _, entry := range r.store.logs {
		if entry.RequestedAt.Before(cutoff) {
			removed++

			continue
		}

		kept = append(kept, entry)
	}

	r.store.logs = kept

	return removed, nil
}

type tierRepository struct {
	store *Persistence
}

func (r *tierRepository) GetByName(_ context.Context, tier string) (*models.SubscriptionTier, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	found, ok := r.store.tiers[strings.ToLower(tier)]
	if !ok {
		return nil, nil
	}

	clone := *found

	return &clone, nil
}

func (r *tierRepository) GetAll(_ context.Context) ([]*models.SubscriptionTier, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	tiers := make([]*models.SubscriptionTier, 0, len(r.store.tiers))

	for _, tier := range r.store.tiers {
		clone := *tier
		tiers = append(tiers, &clone)
	}

	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].MonthlyTokenLimit < tiers[j].MonthlyTokenLimit
	})

	return tiers, nil
}

type editSessionRepository struct {
	store *Persistence
}

func (r *editSessionRepository) SaveSession(_ context.Context, session *models.EditSession) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := time.Now().UTC()

	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}

	session.UpdatedAt = now

	if session.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}

		session.ID = id.String()
	}

	clone := *session
	r.store.sessions[session.ID] = &clone

	return nil
}

func (r *editSessionRepository) GetSession(_ context.Context, id string) (*models.EditSession, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	session, ok := r.store.sessions[id]
	if !ok {
		return nil, nil
	}

	clone := *session

	return &clone, nil
}

func (r *editSessionRepository) GetSessionsByUser(_ context.Context, userID string) ([]*models.EditSession, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	sessions := make([]*models.EditSession, 0)

	for _, session := range r.store.sessions {
		if session.UserID == userID {
			clone := *session
			sessions = append(sessions, &clone)
		}
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})

	return sessions, nil
}

func (r *editSessionRepository) AppendMessage(_ context.Context, message *models.EditMessage) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	session, ok := r.store.sessions[message.SessionID]
	if !ok {
		return &persistence.SessionError{Op: "AppendMessage", SessionID: message.SessionID, Err: persistence.ErrEditSessionNotFound}
	}

	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	if message.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}

		message.ID = id.String()
	}

	clone := *message
	r.store.messages[message.SessionID] = append(r.store.messages[message.SessionID], &clone)
	session.UpdatedAt = message.CreatedAt

	return nil
}

func (r *editSessionRepository) Messages(_ context.Context, sessionID string) ([]*models.EditMessage, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	transcript := r.store.messages[sessionID]
	messages := make([]*models.EditMessage, 0, len(transcript))

	for _, message := range transcript {
		clone := *message
		messages = append(messages, &clone)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})

	return messages, nil
}
