// Package registrar talks to the Namecheap XML API for domain
// availability, registration and nameserver delegation.
package registrar

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/webtosite/webtosite/pkg/provider"
)

const (
	vendor        = "namecheap"
	productionURL = "https://api.namecheap.com/xml.response"
	sandboxURL    = "https://api.sandbox.namecheap.com/xml.response"

	defaultTimeout = 30 * time.Second
)

// Config carries the registrar credentials. BaseURL overrides the
// endpoint, used by tests and the sandbox. A zero Retry means the
// default envelope.
type Config struct {
	APIUser  string
	APIKey   string
	Username string
	ClientIP string
	Sandbox  bool
	BaseURL  string
	Retry    provider.Retry
}

// Client is the registrar vendor client.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	retry      provider.Retry
}

// NewClient builds a registrar client. Username defaults to APIUser
// when unset.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.Sandbox {
			baseURL = sandboxURL
		} else {
			baseURL = productionURL
		}
	}

	if cfg.Username == "" {
		cfg.Username = cfg.APIUser
	}

	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = provider.DefaultRetry()
	}

	return &Client{
		cfg:        cfg,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.With("vendor", vendor),
		retry:      retry,
	}
}

// CheckAvailability reports whether a domain can be registered.
func (c *Client) CheckAvailability(ctx context.Context, domain string) (*Availability, error) {
	return provider.Do(ctx, c.logger, c.retry, "domains.check", func(ctx context.Context) (*Availability, error) {
		params := url.Values{}
		params.Set("DomainList", domain)

		resp, err := c.call(ctx, "namecheap.domains.check", params)
		if err != nil {
			return nil, err
		}

		for _, result := range resp.CommandResponse.DomainCheck {
			if strings.EqualFold(result.Domain, domain) {
				return &Availability{
					Domain:       result.Domain,
					Available:    result.Available,
					Premium:      result.IsPremiumName,
					PremiumPrice: result.PremiumRegistrationPrice,
				}, nil
			}
		}

		return nil, provider.NewError(vendor, provider.KindUpstreamInvalid, http.StatusOK,
			fmt.Sprintf("check response missing result for %s", domain))
	})
}

// Register purchases a domain. The single contact block is replicated
// across the registrant, tech, admin and aux billing roles the API
// requires.
func (c *Client) Register(ctx context.Context, p RegisterParams) (*Registration, error) {
	return provider.Do(ctx, c.logger, c.retry, "domains.create", func(ctx context.Context) (*Registration, error) {
		params := url.Values{}
		params.Set("DomainName", p.Domain)
		params.Set("Years", fmt.Sprintf("%d", p.Years))

		for _, role := range []string{"Registrant", "Tech", "Admin", "AuxBilling"} {
			params.Set(role+"FirstName", p.Contact.FirstName)
			params.Set(role+"LastName", p.Contact.LastName)
			params.Set(role+"Address1", p.Contact.Address1)
			params.Set(role+"City", p.Contact.City)
			params.Set(role+"StateProvince", p.Contact.StateProvince)
			params.Set(role+"PostalCode", p.Contact.PostalCode)
			params.Set(role+"Country", p.Contact.Country)
			params.Set(role+"Phone", p.Contact.Phone)
			params.Set(role+"EmailAddress", p.Contact.Email)
		}

		resp, err := c.call(ctx, "namecheap.domains.create", params)
		if err != nil {
			return nil, err
		}

		result := resp.CommandResponse.DomainCreate
		if result == nil {
			return nil, provider.NewError(vendor, provider.KindUpstreamInvalid, http.StatusOK,
				"create response missing result")
		}

		if !result.Registered {
			return nil, provider.NewError(vendor, provider.KindConflict, http.StatusOK,
				fmt.Sprintf("registration of %s was not completed", p.Domain))
		}

		return &Registration{
			Domain:        result.Domain,
			ChargedAmount: result.ChargedAmount,
			DomainID:      result.DomainID,
			OrderID:       result.OrderID,
			TransactionID: result.TransactionID,
		}, nil
	})
}

// SetCustomNameservers points a registered domain at external
// nameservers.
func (c *Client) SetCustomNameservers(ctx context.Context, domain string, nameservers []string) error {
	sld, tld, err := splitDomain(domain)
	if err != nil {
		return err
	}

	_, err = provider.Do(ctx, c.logger, c.retry, "domains.dns.setCustom", func(ctx context.Context) (struct{}, error) {
		params := url.Values{}
		params.Set("SLD", sld)
		params.Set("TLD", tld)
		params.Set("Nameservers", strings.Join(nameservers, ","))

		resp, err := c.call(ctx, "namecheap.domains.dns.setCustom", params)
		if err != nil {
			return struct{}{}, err
		}

		result := resp.CommandResponse.DNSSetCustom
		if result == nil || !result.Updated {
			return struct{}{}, provider.NewError(vendor, provider.KindUpstreamFailure, http.StatusOK,
				fmt.Sprintf("nameserver update for %s was not applied", domain))
		}

		return struct{}{}, nil
	})

	return err
}

func (c *Client) call(ctx context.Context, command string, params url.Values) (*apiResponse, error) {
	query := url.Values{}
	query.Set("ApiUser", c.cfg.APIUser)
	query.Set("ApiKey", c.cfg.APIKey)
	query.Set("UserName", c.cfg.Username)
	query.Set("ClientIp", c.cfg.ClientIP)
	query.Set("Command", command)

	for key, values := range params {
		for _, v := range values {
			query.Add(key, v)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, provider.NewError(vendor, provider.KindUpstreamInvalid, 0, err.Error())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, provider.FromTransport(vendor, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.FromTransport(vendor, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, provider.FromStatus(vendor, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	parsed, err := parseResponse(body)
	if err != nil {
		return nil, provider.NewError(vendor, provider.KindUpstreamInvalid, resp.StatusCode, err.Error())
	}

	if !strings.EqualFold(parsed.Status, "OK") {
		return nil, apiErrorToProvider(parsed)
	}

	return parsed, nil
}

// apiErrorToProvider maps the registrar's numbered errors onto the
// uniform shape. Numbers starting 1010 and 1011 are credential
// failures.
func apiErrorToProvider(resp *apiResponse) *provider.Error {
	number, message := resp.firstError()

	kind := provider.KindUpstreamInvalid

	switch {
	case strings.HasPrefix(number, "1010"), strings.HasPrefix(number, "1011"):
		kind = provider.KindAuth
	case number == "2019166":
		kind = provider.KindNotFound
	case strings.Contains(strings.ToLower(message), "not available"):
		kind = provider.KindConflict
	}

	if message == "" {
		message = "registrar returned an unspecified error"
	}

	return provider.NewError(vendor, kind, http.StatusOK, fmt.Sprintf("[%s] %s", number, message))
}

// splitDomain separates the second-level label from the rest so
// multi-label TLDs keep their full suffix.
func splitDomain(domain string) (string, string, error) {
	parts := strings.SplitN(domain, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", provider.NewError(vendor, provider.KindUpstreamInvalid, 0,
			fmt.Sprintf("domain %q has no TLD", domain))
	}

	return parts[0], parts[1], nil
}
