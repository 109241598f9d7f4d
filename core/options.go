package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorMapper       ErrorMapper
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	registry          AdapterRegistry
	stateCodec        StateCodec
	nonceRegistry     NonceRegistry
	locker            KeyedLocker
	repository        ConnectionRepository
	auditEmitter      AuditEmitter
	authorizationGate AuthorizationGate
	unitSink          UnitSink
	clock             Clock
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithAdapterRegistry(registry AdapterRegistry) Option {
	return func(b *serviceBuilder) {
		b.registry = registry
	}
}

// WithAdapters registers adapters on a fresh registry.
func WithAdapters(adapters ...ProviderAdapter) Option {
	return func(b *serviceBuilder) {
		registry, err := NewAdapterRegistry(adapters...)
		if err != nil {
			b.registry = failingRegistry{err: err}
			return
		}
		b.registry = registry
	}
}

func WithStateCodec(codec StateCodec) Option {
	return func(b *serviceBuilder) {
		b.stateCodec = codec
	}
}

func WithNonceRegistry(registry NonceRegistry) Option {
	return func(b *serviceBuilder) {
		b.nonceRegistry = registry
	}
}

func WithKeyedLocker(locker KeyedLocker) Option {
	return func(b *serviceBuilder) {
		b.locker = locker
	}
}

func WithConnectionRepository(repository ConnectionRepository) Option {
	return func(b *serviceBuilder) {
		b.repository = repository
	}
}

func WithAuditEmitter(emitter AuditEmitter) Option {
	return func(b *serviceBuilder) {
		b.auditEmitter = emitter
	}
}

func WithAuthorizationGate(gate AuthorizationGate) Option {
	return func(b *serviceBuilder) {
		b.authorizationGate = gate
	}
}

func WithUnitSink(sink UnitSink) Option {
	return func(b *serviceBuilder) {
		b.unitSink = sink
	}
}

func WithClock(clock Clock) Option {
	return func(b *serviceBuilder) {
		b.clock = clock
	}
}

type failingRegistry struct {
	err error
}

func (r failingRegistry) Register(ProviderAdapter) error         { return r.err }
func (failingRegistry) Get(ProviderKind) (ProviderAdapter, bool) { return nil, false }
func (failingRegistry) List() []ProviderAdapter                  { return nil }

func defaultServiceBuilder(runtime Config) serviceBuilder {
	return serviceBuilder{
		runtimeConfig:     runtime,
		metricsRecorder:   NopMetricsRecorder{},
		errorMapper:       defaultErrorMapper,
		configProvider:    NewCfgxConfigProvider(nil),
		optionsResolver:   GoOptionsResolver{},
		locker:            NewMemoryKeyedLocker(),
		auditEmitter:      NopAuditEmitter{},
		authorizationGate: AllowAllGate{},
		unitSink:          NopUnitSink{},
		clock:             func() time.Time { return time.Now().UTC() },
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return serviceErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	setString := func(target map[string]any, key string, value string) {
		if includeZero || strings.TrimSpace(value) != "" {
			target[key] = value
		}
	}
	setDuration := func(target map[string]any, key string, value time.Duration) {
		if includeZero || value != 0 {
			target[key] = value
		}
	}
	setBool := func(target map[string]any, key string, value bool) {
		if includeZero || value {
			target[key] = value
		}
	}

	setString(layer, "service_name", cfg.ServiceName)
	setString(layer, "state_secret", cfg.StateSecret)
	setDuration(layer, "state_max_age", cfg.StateMaxAge)
	setDuration(layer, "request_timeout", cfg.RequestTimeout)
	setDuration(layer, "refresh_skew", cfg.RefreshSkew)
	setBool(layer, "mock_mode", cfg.MockMode)

	callback := map[string]any{}
	setString(callback, "success_url", cfg.Callback.SuccessURL)
	setString(callback, "failure_url", cfg.Callback.FailureURL)
	if len(callback) > 0 {
		layer["callback"] = callback
	}

	syncLayer := map[string]any{}
	setString(syncLayer, "schedule", cfg.Sync.Schedule)
	if includeZero || cfg.Sync.MaxConcurrent != 0 {
		syncLayer["max_concurrent"] = cfg.Sync.MaxConcurrent
	}
	setBool(syncLayer, "on_connect", cfg.Sync.OnConnect)
	if len(syncLayer) > 0 {
		layer["sync"] = syncLayer
	}

	providers := map[string]any{}
	for _, kind := range KnownProviders() {
		provider := cfg.Providers.For(kind)
		entry := map[string]any{}
		setString(entry, "client_id", provider.ClientID)
		setString(entry, "client_secret", provider.ClientSecret)
		setString(entry, "redirect_uri", provider.RedirectURI)
		setString(entry, "auth_url", provider.AuthURL)
		setString(entry, "token_url", provider.TokenURL)
		setString(entry, "revoke_url", provider.RevokeURL)
		setString(entry, "api_base_url", provider.APIBaseURL)
		if includeZero || len(provider.Scopes) > 0 {
			entry["scopes"] = append([]string(nil), provider.Scopes...)
		}
		setBool(entry, "mock", provider.Mock)
		if len(entry) > 0 {
			providers[string(kind)] = entry
		}
	}
	if len(providers) > 0 {
		layer["providers"] = providers
	}
	return layer
}
