package proxy

import (
	"context"

	"github.com/webtosite/webtosite/pkg/apperr"
	"github.com/webtosite/webtosite/pkg/models"
	"github.com/webtosite/webtosite/pkg/persistence"
	"github.com/webtosite/webtosite/pkg/provider/sitewp"
)

const defaultTier = "free"

// proxyKeySetting is the WordPress option the site plugin reads the
// proxy key from.
const proxyKeySetting = "webtosite_proxy_key"

// RegisterParams registers a new proxy consumer.
type RegisterParams struct {
	Domain string `json:"domain"          validate:"required,fqdn"`
	Label  string `json:"label,omitempty"`
	Tier   string `json:"tier,omitempty"`
}

// PushTarget is the WordPress admin credential set a key is pushed to.
type PushTarget struct {
	SiteURL  string `json:"siteUrl"  validate:"required,url"`
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// SettingsClient is the slice of the WordPress API key pushing needs.
type SettingsClient interface {
	UpdateSettings(ctx context.Context, settings map[string]any) (map[string]any, error)
}

// SetSettingsFactory overrides how PushKey builds its WordPress
// client, mainly for tests.
func (s *Service) SetSettingsFactory(factory func(PushTarget) SettingsClient) {
	s.newSettings = factory
}

func (s *Service) settingsFor(target PushTarget) SettingsClient {
	if s.newSettings != nil {
		return s.newSettings(target)
	}

	return sitewp.NewClient(target.SiteURL, target.Username, target.Password, s.logger)
}

// RegisterSite creates a site registration and returns it with the
// generated API key. The key is visible exactly once, here.
func (s *Service) RegisterSite(ctx context.Context, params RegisterParams) (*models.ProxySite, error) {
	if err := s.validate.Struct(params); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid registration", err)
	}

	tierName := params.Tier
	if tierName == "" {
		tierName = defaultTier
	}

	tier, err := s.store.TierRepository().GetByName(ctx, tierName)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "looking up subscription tier", err)
	}

	if tier == nil {
		return nil, apperr.Newf(apperr.KindValidation, "unknown subscription tier %q", tierName)
	}

	key, err := GenerateAPIKey()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "generating api key", err)
	}

	site := &models.ProxySite{
		Domain:            params.Domain,
		APIKey:            key,
		Label:             params.Label,
		Status:            models.SiteStatusActive,
		SubscriptionTier:  tier.Tier,
		MonthlyTokenLimit: tier.MonthlyTokenLimit,
	}

	if err := s.store.ProxySiteRepository().Save(ctx, site); err != nil {
		if persistence.IsDomainAlreadyRegistered(err) {
			return nil, apperr.Newf(apperr.KindConflict, "domain %s is already registered", params.Domain)
		}

		return nil, apperr.Wrap(apperr.KindInternal, "saving site registration", err)
	}

	s.logger.Info("Registered proxy site", "site_id", site.ID, "domain", site.Domain, "tier", site.SubscriptionTier)

	return site, nil
}

// RotateKey replaces a site's API key and returns the new key.
func (s *Service) RotateKey(ctx context.Context, id string) (string, error) {
	if _, err := s.siteByID(ctx, id); err != nil {
		return "", err
	}

	key, err := GenerateAPIKey()
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "generating api key", err)
	}

	if err := s.store.ProxySiteRepository().RotateKey(ctx, id, key); err != nil {
		if persistence.IsProxySiteNotFound(err) {
			return "", apperr.Newf(apperr.KindNotFound, "site %s not found", id)
		}

		return "", apperr.Wrap(apperr.KindInternal, "rotating api key", err)
	}

	s.logger.Info("Rotated proxy site key", "site_id", id)

	return key, nil
}

// PushKey writes the site's current API key into the target
// WordPress installation's settings.
func (s *Service) PushKey(ctx context.Context, id string, target PushTarget) error {
	site, err := s.siteByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.validate.Struct(target); err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid push target", err)
	}

	if _, err := s.settingsFor(target).UpdateSettings(ctx, map[string]any{
		proxyKeySetting: site.APIKey,
	}); err != nil {
		return apperr.FromProvider(err)
	}

	s.logger.Info("Pushed proxy key to site", "site_id", id, "site_url", target.SiteURL)

	return nil
}

// ListSites returns all registrations with their keys stripped.
func (s *Service) ListSites(ctx context.Context) ([]*models.ProxySite, error) {
	sites, err := s.store.ProxySiteRepository().GetAll(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "listing sites", err)
	}

	for _, site := range sites {
		site.APIKey = ""
	}

	return sites, nil
}

// SiteUsage returns the quota snapshot for a site by id.
func (s *Service) SiteUsage(ctx context.Context, id string) (*UsageReport, error) {
	site, err := s.siteByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return s.usageReport(ctx, site)
}

// SiteRequests returns a site's most recent log rows.
func (s *Service) SiteRequests(ctx context.Context, id string, limit int) ([]*models.RequestLog, error) {
	if _, err := s.siteByID(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.store.RequestLogRepository().Recent(ctx, id, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "listing requests", err)
	}

	return rows, nil
}

// UpdateTier moves a site to another tier and adopts that tier's
// token limit.
func (s *Service) UpdateTier(ctx context.Context, id, tierName string) error {
	tier, err := s.store.TierRepository().GetByName(ctx, tierName)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "looking up subscription tier", err)
	}

	if tier == nil {
		return apperr.Newf(apperr.KindValidation, "unknown subscription tier %q", tierName)
	}

	if err := s.store.ProxySiteRepository().UpdateTier(ctx, id, tier.Tier, tier.MonthlyTokenLimit); err != nil {
		if persistence.IsProxySiteNotFound(err) {
			return apperr.Newf(apperr.KindNotFound, "site %s not found", id)
		}

		return apperr.Wrap(apperr.KindInternal, "updating tier", err)
	}

	s.logger.Info("Updated proxy site tier", "site_id", id, "tier", tier.Tier)

	return nil
}

// UpdateStatus revokes or reactivates a site.
func (s *Service) UpdateStatus(ctx context.Context, id string, status models.SiteStatus) error {
	if status != models.SiteStatusActive && status != models.SiteStatusRevoked {
		return apperr.Newf(apperr.KindValidation, "unknown status %q", status)
	}

	if err := s.store.ProxySiteRepository().UpdateStatus(ctx, id, status); err != nil {
		if persistence.IsProxySiteNotFound(err) {
			return apperr.Newf(apperr.KindNotFound, "site %s not found", id)
		}

		return apperr.Wrap(apperr.KindInternal, "updating status", err)
	}

	s.logger.Info("Updated proxy site status", "site_id", id, "status", status)

	return nil
}

// Tiers lists the subscription tier catalog.
func (s *Service) Tiers(ctx context.Context) ([]*models.SubscriptionTier, error) {
	tiers, err := s.store.TierRepository().GetAll(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "listing tiers", err)
	}

	return tiers, nil
}

func (s *Service) siteByID(ctx context.Context, id string) (*models.ProxySite, error) {
	site, err := s.store.ProxySiteRepository().GetByID(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "looking up site", err)
	}

	if site == nil {
		return nil, apperr.Newf(apperr.KindNotFound, "site %s not found", id)
	}

	return site, nil
}
