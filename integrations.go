// Package integrations connects tenants to external providers over OAuth2 and
// keeps their data in sync. The root package re-exports the core service API
// and wires the built-in provider adapters.
package integrations

import "github.com/goliatone/go-integrations/core"

type Config = core.Config
type ProviderConfig = core.ProviderConfig

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type ProviderKind = core.ProviderKind
type ProviderAdapter = core.ProviderAdapter
type Actor = core.Actor
type Connection = core.Connection
type ConnectionView = core.ConnectionView

type ConnectInput = core.ConnectInput
type ConnectResult = core.ConnectResult
type CallbackInput = core.CallbackInput
type CallbackResult = core.CallbackResult
type DisconnectInput = core.DisconnectInput
type DisconnectResult = core.DisconnectResult
type SyncInput = core.SyncInput
type SyncResult = core.SyncResult
type StatusInput = core.StatusInput
type SetSyncEnabledInput = core.SetSyncEnabledInput

const (
	ProviderERP       = core.ProviderERP
	ProviderCalendarA = core.ProviderCalendarA
	ProviderCalendarB = core.ProviderCalendarB
)

var (
	WithLogger               = core.WithLogger
	WithLoggerProvider       = core.WithLoggerProvider
	WithMetricsRecorder      = core.WithMetricsRecorder
	WithErrorMapper          = core.WithErrorMapper
	WithConfigProvider       = core.WithConfigProvider
	WithOptionsResolver      = core.WithOptionsResolver
	WithAdapterRegistry      = core.WithAdapterRegistry
	WithAdapters             = core.WithAdapters
	WithStateCodec           = core.WithStateCodec
	WithNonceRegistry        = core.WithNonceRegistry
	WithKeyedLocker          = core.WithKeyedLocker
	WithConnectionRepository = core.WithConnectionRepository
	WithAuditEmitter         = core.WithAuditEmitter
	WithAuthorizationGate    = core.WithAuthorizationGate
	WithUnitSink             = core.WithUnitSink
	WithClock                = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}

// NewServiceWithProviders builds the adapters selected by cfg, applies the
// adapter packs registered on hooks, and constructs the service around them.
// Options passed later win, so WithAdapterRegistry in opts replaces the
// built registry.
func NewServiceWithProviders(cfg Config, hooks *ExtensionHooks, buildOpts []BuildOption, opts ...Option) (*Service, error) {
	adapters, err := BuildAdapters(cfg, buildOpts...)
	if err != nil {
		return nil, err
	}
	adapters, err = hooks.ApplyAdapterPacks(adapters)
	if err != nil {
		return nil, err
	}
	registry, err := core.NewAdapterRegistry(adapters...)
	if err != nil {
		return nil, err
	}
	return core.NewService(cfg, append([]Option{core.WithAdapterRegistry(registry)}, opts...)...)
}
