package integrations

import (
	"fmt"
	"net/http"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/providers/calendar/google"
	"github.com/goliatone/go-integrations/providers/calendar/outlook"
	"github.com/goliatone/go-integrations/providers/erp"
	"github.com/goliatone/go-integrations/providers/mock"
	"github.com/goliatone/go-integrations/ratelimit"
	"github.com/goliatone/go-integrations/transport"
)

func ERPAdapter(cfg erp.Config) (core.ProviderAdapter, error) {
	return erp.New(cfg)
}

// GoogleCalendarAdapter backs the calendar_a provider.
func GoogleCalendarAdapter(cfg google.Config) (core.ProviderAdapter, error) {
	return google.New(cfg)
}

// OutlookCalendarAdapter backs the calendar_b provider.
func OutlookCalendarAdapter(cfg outlook.Config) (core.ProviderAdapter, error) {
	return outlook.New(cfg)
}

func MockAdapter(kind core.ProviderKind) (core.ProviderAdapter, error) {
	return mock.New(kind)
}

type BuildOption func(*buildOptions)

type buildOptions struct {
	httpClient  transport.HTTPDoer
	rateLimiter *ratelimit.AdaptivePolicy
	timeout     time.Duration
}

// WithHTTPClient routes every real adapter through client.
func WithHTTPClient(client transport.HTTPDoer) BuildOption {
	return func(o *buildOptions) {
		o.httpClient = client
	}
}

// WithRateLimitPolicy pauses provider calls while a provider host is throttled.
func WithRateLimitPolicy(policy *ratelimit.AdaptivePolicy) BuildOption {
	return func(o *buildOptions) {
		o.rateLimiter = policy
	}
}

func (o buildOptions) clientFor(kind core.ProviderKind) transport.HTTPDoer {
	if o.rateLimiter == nil {
		return o.httpClient
	}
	base := o.httpClient
	if base == nil {
		base = &http.Client{Timeout: o.timeout}
	}
	return o.rateLimiter.Wrap(kind, base)
}

// BuildAdapters returns one adapter per known provider. A provider uses its
// mock variant when cfg.MockFor reports true for it.
func BuildAdapters(cfg core.Config, opts ...BuildOption) ([]core.ProviderAdapter, error) {
	options := buildOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	adapters := make([]core.ProviderAdapter, 0, len(core.KnownProviders()))
	for _, kind := range core.KnownProviders() {
		adapter, err := buildAdapter(cfg, kind, options)
		if err != nil {
			return nil, fmt.Errorf("integrations: build %s adapter: %w", kind, err)
		}
		adapters = append(adapters, adapter)
	}
	return adapters, nil
}

func buildAdapter(cfg core.Config, kind core.ProviderKind, options buildOptions) (core.ProviderAdapter, error) {
	if cfg.MockFor(kind) {
		return MockAdapter(kind)
	}
	provider := cfg.Providers.For(kind)
	timeout := cfg.ResolvedRequestTimeout()
	options.timeout = timeout
	switch kind {
	case core.ProviderERP:
		return ERPAdapter(erp.Config{
			ClientID:       provider.ClientID,
			ClientSecret:   provider.ClientSecret,
			AuthURL:        provider.AuthURL,
			TokenURL:       provider.TokenURL,
			RevokeURL:      provider.RevokeURL,
			APIBaseURL:     provider.APIBaseURL,
			Scopes:         provider.Scopes,
			RequestTimeout: timeout,
			HTTPClient:     options.clientFor(kind),
		})
	case core.ProviderCalendarA:
		return GoogleCalendarAdapter(google.Config{
			ClientID:       provider.ClientID,
			ClientSecret:   provider.ClientSecret,
			AuthURL:        provider.AuthURL,
			TokenURL:       provider.TokenURL,
			RevokeURL:      provider.RevokeURL,
			APIBaseURL:     provider.APIBaseURL,
			Scopes:         provider.Scopes,
			RequestTimeout: timeout,
			HTTPClient:     options.clientFor(kind),
		})
	case core.ProviderCalendarB:
		return OutlookCalendarAdapter(outlook.Config{
			ClientID:       provider.ClientID,
			ClientSecret:   provider.ClientSecret,
			AuthURL:        provider.AuthURL,
			TokenURL:       provider.TokenURL,
			APIBaseURL:     provider.APIBaseURL,
			Scopes:         provider.Scopes,
			RequestTimeout: timeout,
			HTTPClient:     options.clientFor(kind),
		})
	default:
		return nil, fmt.Errorf("integrations: unsupported provider %q", kind)
	}
}
