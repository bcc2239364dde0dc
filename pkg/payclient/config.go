package payclient

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the standard API root. It must end with a slash.
	DefaultBaseURL = "https://api.paypal.com/"

	// DefaultAlternateBaseURL is the alternate ("m") API root.
	DefaultAlternateBaseURL = "https://api-m.paypal.com/"

	// DefaultProviderName keys the persisted token record.
	DefaultProviderName = "paypal"

	// DefaultSafetyMargin is subtracted from the provider's declared token lifetime.
	DefaultSafetyMargin = 180 * time.Second

	// DefaultTokenLifetime is assumed when the provider omits expires_in.
	DefaultTokenLifetime = time.Hour

	// DefaultAuthTimeout bounds a single client-credentials exchange.
	DefaultAuthTimeout = 30 * time.Second

	// DefaultRequestTimeout bounds outbound API calls made by the default transport.
	DefaultRequestTimeout = 60 * time.Second

	tokenPath = "v1/oauth2/token"
)

// Config holds the static credentials and endpoints for both endpoint families.
type Config struct {
	ClientID     string
	ClientSecret string

	// BaseURL and AlternateBaseURL are absolute roots ending in "/".
	BaseURL          string
	AlternateBaseURL string

	ProviderName string

	SafetyMargin time.Duration
	AuthTimeout  time.Duration
}

// withDefaults fills zero fields and normalizes base URLs to end with "/".
func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.AlternateBaseURL == "" {
		c.AlternateBaseURL = DefaultAlternateBaseURL
	}
	c.BaseURL = ensureTrailingSlash(c.BaseURL)
	c.AlternateBaseURL = ensureTrailingSlash(c.AlternateBaseURL)

	if c.ProviderName == "" {
		c.ProviderName = DefaultProviderName
	}
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = DefaultSafetyMargin
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = DefaultAuthTimeout
	}
	return c
}

// Validate checks that the client credentials are present and both base URLs are absolute.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ClientID) == "" || strings.TrimSpace(c.ClientSecret) == "" {
		return fmt.Errorf("payclient: client id and secret are required")
	}

	c = c.withDefaults()
	for _, raw := range []string{c.BaseURL, c.AlternateBaseURL} {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("payclient: invalid base url %q: %w", raw, err)
		}
		if !u.IsAbs() || u.Host == "" {
			return fmt.Errorf("payclient: base url %q must be absolute", raw)
		}
	}
	return nil
}

// BaseURLFor returns the configured root for family.
func (c Config) BaseURLFor(family EndpointFamily) string {
	if family == Alternate {
		return c.AlternateBaseURL
	}
	return c.BaseURL
}

// TokenURL returns the client-credentials endpoint for family.
func (c Config) TokenURL(family EndpointFamily) string {
	return c.BaseURLFor(family) + tokenPath
}

func ensureTrailingSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}
