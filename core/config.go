package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

type ProviderConfig struct {
	ClientID     string   `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret string   `koanf:"client_secret" mapstructure:"client_secret"`
	RedirectURI  string   `koanf:"redirect_uri" mapstructure:"redirect_uri"`
	AuthURL      string   `koanf:"auth_url" mapstructure:"auth_url"`
	TokenURL     string   `koanf:"token_url" mapstructure:"token_url"`
	RevokeURL    string   `koanf:"revoke_url" mapstructure:"revoke_url"`
	APIBaseURL   string   `koanf:"api_base_url" mapstructure:"api_base_url"`
	Scopes       []string `koanf:"scopes" mapstructure:"scopes"`
	Mock         bool     `koanf:"mock" mapstructure:"mock"`
}

// HasCredentials reports whether the provider has OAuth client credentials.
func (c ProviderConfig) HasCredentials() bool {
	return strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.ClientSecret) != ""
}

type ProvidersConfig struct {
	ERP       ProviderConfig `koanf:"erp" mapstructure:"erp"`
	CalendarA ProviderConfig `koanf:"calendar_a" mapstructure:"calendar_a"`
	CalendarB ProviderConfig `koanf:"calendar_b" mapstructure:"calendar_b"`
}

func (c ProvidersConfig) For(kind ProviderKind) ProviderConfig {
	switch kind {
	case ProviderERP:
		return c.ERP
	case ProviderCalendarA:
		return c.CalendarA
	case ProviderCalendarB:
		return c.CalendarB
	default:
		return ProviderConfig{}
	}
}

type CallbackConfig struct {
	SuccessURL string `koanf:"success_url" mapstructure:"success_url"`
	FailureURL string `koanf:"failure_url" mapstructure:"failure_url"`
}

type SyncConfig struct {
	Schedule      string `koanf:"schedule" mapstructure:"schedule"`
	MaxConcurrent int    `koanf:"max_concurrent" mapstructure:"max_concurrent"`
	OnConnect     bool   `koanf:"on_connect" mapstructure:"on_connect"`
}

type Config struct {
	ServiceName    string          `koanf:"service_name" mapstructure:"service_name"`
	StateSecret    string          `koanf:"state_secret" mapstructure:"state_secret"`
	StateMaxAge    time.Duration   `koanf:"state_max_age" mapstructure:"state_max_age"`
	RequestTimeout time.Duration   `koanf:"request_timeout" mapstructure:"request_timeout"`
	RefreshSkew    time.Duration   `koanf:"refresh_skew" mapstructure:"refresh_skew"`
	MockMode       bool            `koanf:"mock_mode" mapstructure:"mock_mode"`
	Callback       CallbackConfig  `koanf:"callback" mapstructure:"callback"`
	Providers      ProvidersConfig `koanf:"providers" mapstructure:"providers"`
	Sync           SyncConfig      `koanf:"sync" mapstructure:"sync"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:    "integrations",
		StateMaxAge:    defaultStateMaxAge,
		RequestTimeout: 15 * time.Second,
		RefreshSkew:    time.Minute,
		Callback: CallbackConfig{
			SuccessURL: "/settings/integrations",
			FailureURL: "/settings/integrations",
		},
		Sync: SyncConfig{
			Schedule:      "@every 6h",
			MaxConcurrent: 4,
		},
	}
}

// MockFor reports whether kind should use its mock adapter: either the
// global override is on, the provider opts in, or it has no credentials.
func (c Config) MockFor(kind ProviderKind) bool {
	if c.MockMode {
		return true
	}
	provider := c.Providers.For(kind)
	return provider.Mock || !provider.HasCredentials()
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.StateMaxAge < 0 {
		return fmt.Errorf("core: state_max_age must not be negative")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("core: request_timeout must not be negative")
	}
	if c.RefreshSkew < 0 {
		return fmt.Errorf("core: refresh_skew must not be negative")
	}
	if c.Sync.MaxConcurrent < 0 {
		return fmt.Errorf("core: sync.max_concurrent must not be negative")
	}
	for _, raw := range []string{c.Callback.SuccessURL, c.Callback.FailureURL} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if _, err := url.Parse(raw); err != nil {
			return fmt.Errorf("core: invalid callback url %q: %w", raw, err)
		}
	}
	for _, kind := range KnownProviders() {
		provider := c.Providers.For(kind)
		if c.MockFor(kind) {
			continue
		}
		if strings.TrimSpace(provider.RedirectURI) == "" {
			return fmt.Errorf("core: providers.%s.redirect_uri is required", kind)
		}
	}
	return nil
}

// ResolvedStateMaxAge falls back to the default when unset.
func (c Config) ResolvedStateMaxAge() time.Duration {
	if c.StateMaxAge <= 0 {
		return defaultStateMaxAge
	}
	return c.StateMaxAge
}

func (c Config) ResolvedRequestTimeout() time.Duration {
	if c.RequestTimeout <= 0 {
		return DefaultConfig().RequestTimeout
	}
	return c.RequestTimeout
}
