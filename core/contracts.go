package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// ProviderAdapter is the uniform contract every provider variant implements,
// including the mock variants selected by configuration.
type ProviderAdapter interface {
	Kind() ProviderKind
	Mock() bool
	BuildAuthorizationURL(ctx context.Context, state string, redirectURI string) (string, error)
	ExchangeCode(ctx context.Context, code string, redirectURI string) (TokenSet, error)
	Refresh(ctx context.Context, conn Connection) (TokenSet, error)
	FetchAccountInfo(ctx context.Context, accessToken string) (AccountInfo, error)
	FetchDataUnit(ctx context.Context, conn Connection, period int, unitKey int) (UnitPayload, error)
	Disconnect(ctx context.Context, conn Connection) error
}

// MockAccountProvider is implemented by mock adapters to describe the
// placeholder account a mock connect synthesizes.
type MockAccountProvider interface {
	MockAccount() AccountInfo
	MockTokens() TokenSet
}

// CallbackParamsProvider is implemented by adapters whose provider appends
// extra query parameters to the authorization callback. Only the parameters
// it names are kept as connection metadata.
type CallbackParamsProvider interface {
	CallbackParams() []string
}

// ScopedAccountInfoFetcher is preferred over FetchAccountInfo when the account
// lookup depends on callback metadata such as a company id.
type ScopedAccountInfoFetcher interface {
	FetchAccountInfoFor(ctx context.Context, accessToken string, metadata map[string]any) (AccountInfo, error)
}

type AdapterRegistry interface {
	Register(adapter ProviderAdapter) error
	Get(kind ProviderKind) (ProviderAdapter, bool)
	List() []ProviderAdapter
}

type StateCodec interface {
	Encode(ctx context.Context, tenantID string, provider ProviderKind) (string, error)
	Decode(ctx context.Context, token string) (AuthorizationState, error)
}

// NonceRegistry records state nonces so each state token decodes once.
type NonceRegistry interface {
	Consume(ctx context.Context, nonce string, ttl time.Duration) error
}

type ConnectionFilter struct {
	TenantID    string
	Provider    ProviderKind
	Status      ConnectionStatus
	SyncEnabled *bool
	Limit       int
	// Offset skips that many matches in (tenant, provider) order.
	Offset int
}

// ConnectionRepository is the persistence backend behind ConnectionStore.
// It is not locked; ConnectionStore serializes access per key.
type ConnectionRepository interface {
	Find(ctx context.Context, key ConnectionKey) (Connection, bool, error)
	Save(ctx context.Context, conn Connection) (Connection, error)
	List(ctx context.Context, filter ConnectionFilter) ([]Connection, error)
}

// FreshConnectionReader is implemented by repositories that may answer Find
// from a cache. FindFresh must read the backing store.
type FreshConnectionReader interface {
	FindFresh(ctx context.Context, key ConnectionKey) (Connection, bool, error)
}

// ConnectionTx is the view of ConnectionStore available while the key lock is held.
type ConnectionTx interface {
	Key() ConnectionKey
	Get(ctx context.Context) (Connection, bool, error)
	Upsert(ctx context.Context, patch ConnectionPatch, actor Actor) (Connection, error)
	Clear(ctx context.Context, actor Actor) (bool, error)
}

type AuditEmitter interface {
	Emit(ctx context.Context, record AuditRecord) error
}

type AuthorizationGate interface {
	Authorize(ctx context.Context, actor Actor, action string) error
}

// UnitSink stores transformed unit payloads. Storage of synced data is owned
// by the host application.
type UnitSink interface {
	Store(ctx context.Context, conn Connection, payload UnitPayload) error
}

type KeyedLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type TransportRequest struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Query                map[string]string
	Body                 []byte
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type TransportAdapter interface {
	Kind() string
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

type Clock func() time.Time

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
