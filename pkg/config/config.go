// Package config assembles per-component configuration value objects
// from the process environment. Every optional field has a default
// here; nothing downstream reads the environment directly.
package config

import (
	"os"
	"strconv"

	"github.com/webtosite/webtosite/pkg/provider/ai"
	"github.com/webtosite/webtosite/pkg/provider/cloudflare"
	"github.com/webtosite/webtosite/pkg/provider/firecrawl"
	"github.com/webtosite/webtosite/pkg/provider/instawp"
	"github.com/webtosite/webtosite/pkg/provider/registrar"
	"github.com/webtosite/webtosite/pkg/workflow"
)

// Providers bundles every third-party credential set the provisioning
// and proxy paths consume. Zero-valued members simply disable their
// provider; the workflow preflight reports which path needed them.
type Providers struct {
	Host      instawp.Config
	DNS       cloudflare.Config
	Registrar registrar.Config
	Scraper   firecrawl.Config

	OpenAI    ai.VendorConfig
	Gemini    ai.VendorConfig
	Anthropic ai.VendorConfig

	// DefaultContact fills all four registrar contact roles when the
	// caller registers a domain without supplying one.
	DefaultContact registrar.Contact
}

// ProvidersFromEnv reads the provider credential set.
func ProvidersFromEnv() Providers {
	return Providers{
		Host: instawp.Config{
			APIKey: os.Getenv("INSTA_WP_API_KEY"),
		},
		DNS: cloudflare.Config{
			APIKey:    os.Getenv("CLOUDFLARE_API_KEY"),
			Email:     os.Getenv("CLOUDFLARE_EMAIL"),
			AccountID: os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
		},
		Registrar: registrar.Config{
			APIUser:  os.Getenv("NAMECHEAP_USERNAME"),
			APIKey:   os.Getenv("NAMECHEAP_API_KEY"),
			Username: os.Getenv("NAMECHEAP_USERNAME"),
			ClientIP: os.Getenv("NAMECHEAP_CLIENT_IP"),
			Sandbox:  boolEnv("NAMECHEAP_SANDBOX", false),
		},
		Scraper: firecrawl.Config{
			APIKey: os.Getenv("FIRECRAWL_API_KEY"),
		},
		OpenAI: ai.VendorConfig{
			APIKey: os.Getenv("OPENAI_API_KEY"),
		},
		Gemini: ai.VendorConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
		},
		Anthropic: ai.VendorConfig{
			APIKey: os.Getenv("ANTHROPIC_API_KEY"),
		},
		DefaultContact: registrar.Contact{
			FirstName:     os.Getenv("DEFAULT_CONTACT_FIRST_NAME"),
			LastName:      os.Getenv("DEFAULT_CONTACT_LAST_NAME"),
			Address1:      os.Getenv("DEFAULT_CONTACT_ADDRESS"),
			City:          os.Getenv("DEFAULT_CONTACT_CITY"),
			StateProvince: os.Getenv("DEFAULT_CONTACT_STATE"),
			PostalCode:    os.Getenv("DEFAULT_CONTACT_POSTAL_CODE"),
			Country:       stringEnv("DEFAULT_CONTACT_COUNTRY", "US"),
			Phone:         os.Getenv("DEFAULT_CONTACT_PHONE"),
			Email:         os.Getenv("DEFAULT_CONTACT_EMAIL"),
		},
	}
}

// Credentials projects the provider set onto the workflow's preflight
// credential check.
func (p Providers) Credentials() workflow.Credentials {
	return workflow.Credentials{
		HostAPIKey:        p.Host.APIKey,
		DNSAPIKey:         p.DNS.APIKey,
		DNSEmail:          p.DNS.Email,
		RegistrarAPIKey:   p.Registrar.APIKey,
		RegistrarUsername: p.Registrar.Username,
		RegistrarClientIP: p.Registrar.ClientIP,
	}
}

// Content carries the onboarding and editor tunables.
type Content struct {
	// BaseSiteURL is the template catalog origin.
	BaseSiteURL string

	// DefaultFaviconURL fills contexts whose source provided none.
	DefaultFaviconURL string

	// EditorModel drives edit conversations, gpt-4o-mini when empty.
	EditorModel string
}

// ContentFromEnv reads the content tunables.
func ContentFromEnv() Content {
	return Content{
		BaseSiteURL:       os.Getenv("BASE_SITE_URL"),
		DefaultFaviconURL: os.Getenv("DEFAULT_FAVICON_URL"),
		EditorModel:       os.Getenv("EDITOR_MODEL"),
	}
}

// Redis locates the rate limiter backend. An empty Addr disables the
// per-tier request rate limit.
type Redis struct {
	Addr     string
	Password string
	DB       int
}

// RedisFromEnv reads the rate limiter backend location.
func RedisFromEnv() Redis {
	return Redis{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       intEnv("REDIS_DB", 0),
	}
}

func stringEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return fallback
}

func boolEnv(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}

	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}

	return parsed
}

func intEnv(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return parsed
}
