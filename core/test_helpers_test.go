package core

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
)

type fakeAdapter struct {
	kind ProviderKind
	mock bool

	mu           sync.Mutex
	exchangeErr  error
	tokens       TokenSet
	refreshErr   error
	refreshed    TokenSet
	accountErr   error
	account      AccountInfo
	unitErrs     map[int]error
	disconnectFn func(Connection) error
	params       []string

	exchangeCalls   int
	refreshCalls    int
	disconnectCalls int
	fetchedUnits    []int
}

func newFakeAdapter(kind ProviderKind) *fakeAdapter {
	return &fakeAdapter{
		kind:     kind,
		tokens:   TokenSet{AccessToken: "access-1", RefreshToken: "refresh-1"},
		account:  AccountInfo{Email: "owner@example.com", Name: "Owner"},
		unitErrs: map[int]error{},
		params:   []string{"realmId"},
	}
}

func (a *fakeAdapter) CallbackParams() []string { return a.params }

// scopedAccountAdapter records the metadata passed to the account lookup.
type scopedAccountAdapter struct {
	*fakeAdapter
	lookupMetadata map[string]any
}

func (a *scopedAccountAdapter) FetchAccountInfoFor(ctx context.Context, accessToken string, metadata map[string]any) (AccountInfo, error) {
	a.mu.Lock()
	a.lookupMetadata = metadata
	a.mu.Unlock()
	return a.FetchAccountInfo(ctx, accessToken)
}

func (a *fakeAdapter) Kind() ProviderKind { return a.kind }

func (a *fakeAdapter) Mock() bool { return a.mock }

func (a *fakeAdapter) BuildAuthorizationURL(_ context.Context, state string, redirectURI string) (string, error) {
	return fmt.Sprintf("https://auth.example/%s?state=%s&redirect_uri=%s", a.kind, state, redirectURI), nil
}

func (a *fakeAdapter) ExchangeCode(context.Context, string, string) (TokenSet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.exchangeCalls++
	if a.exchangeErr != nil {
		return TokenSet{}, a.exchangeErr
	}
	return a.tokens, nil
}

func (a *fakeAdapter) Refresh(context.Context, Connection) (TokenSet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refreshCalls++
	if a.refreshErr != nil {
		return TokenSet{}, a.refreshErr
	}
	return a.refreshed, nil
}

func (a *fakeAdapter) FetchAccountInfo(context.Context, string) (AccountInfo, error) {
	if a.accountErr != nil {
		return AccountInfo{}, a.accountErr
	}
	return a.account, nil
}

func (a *fakeAdapter) FetchDataUnit(_ context.Context, _ Connection, period int, unitKey int) (UnitPayload, error) {
	a.mu.Lock()
	a.fetchedUnits = append(a.fetchedUnits, unitKey)
	unitErr := a.unitErrs[unitKey]
	a.mu.Unlock()
	if unitErr != nil {
		return UnitPayload{}, unitErr
	}
	if err := ValidateMonthUnit(unitKey); err != nil {
		return UnitPayload{}, err
	}
	return UnitPayload{UnitKey: unitKey, Period: period, Records: []map[string]any{{"month": unitKey}}}, nil
}

func (a *fakeAdapter) Disconnect(_ context.Context, conn Connection) error {
	a.mu.Lock()
	a.disconnectCalls++
	fn := a.disconnectFn
	a.mu.Unlock()
	if fn != nil {
		return fn(conn)
	}
	return nil
}

func (a *fakeAdapter) MockAccount() AccountInfo {
	return AccountInfo{Email: "mock@" + string(a.kind) + ".test", Name: "Mock " + string(a.kind)}
}

func (a *fakeAdapter) MockTokens() TokenSet {
	return TokenSet{AccessToken: "mock-access-" + string(a.kind)}
}

type recordingSink struct {
	mu       sync.Mutex
	payloads []UnitPayload
}

func (s *recordingSink) Store(_ context.Context, _ Connection, payload UnitPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	return nil
}

type failingAuditEmitter struct{}

func (failingAuditEmitter) Emit(context.Context, AuditRecord) error {
	return fmt.Errorf("audit sink unavailable")
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock(now time.Time) *fixedClock {
	return &fixedClock{now: now.UTC()}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testHarness struct {
	svc     *Service
	audit   *MemoryAuditEmitter
	repo    *MemoryConnectionRepository
	sink    *recordingSink
	clock   *fixedClock
	adapter *fakeAdapter
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StateSecret = "test-state-secret"
	cfg.Callback.SuccessURL = "https://app.example/settings/integrations"
	cfg.Callback.FailureURL = "https://app.example/settings/integrations"
	cfg.Providers.ERP = ProviderConfig{ClientID: "client", ClientSecret: "secret", RedirectURI: "https://app.example/erp/callback"}
	cfg.Providers.CalendarA = ProviderConfig{ClientID: "client", ClientSecret: "secret", RedirectURI: "https://app.example/calendar_a/callback"}
	cfg.Providers.CalendarB = ProviderConfig{ClientID: "client", ClientSecret: "secret", RedirectURI: "https://app.example/calendar_b/callback"}
	return cfg
}

func newTestHarness(adapter *fakeAdapter, opts ...Option) *testHarness {
	return newTestHarnessWithConfig(testConfig(), adapter, opts...)
}

func newTestHarnessWithConfig(cfg Config, adapter *fakeAdapter, opts ...Option) *testHarness {
	h := &testHarness{
		audit:   NewMemoryAuditEmitter(),
		repo:    NewMemoryConnectionRepository(),
		sink:    &recordingSink{},
		clock:   newFixedClock(time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)),
		adapter: adapter,
	}
	base := []Option{
		WithAdapters(adapter),
		WithAuditEmitter(h.audit),
		WithConnectionRepository(h.repo),
		WithUnitSink(h.sink),
		WithClock(h.clock.Now),
		WithLogger(stubLogger{}),
	}
	svc, err := NewService(cfg, append(base, opts...)...)
	if err != nil {
		panic(err)
	}
	h.svc = svc
	return h
}

func (h *testHarness) connect(ctx context.Context, actor Actor) (CallbackResult, error) {
	started, err := h.svc.Connect(ctx, ConnectInput{Actor: actor, Provider: h.adapter.kind})
	if err != nil {
		return CallbackResult{}, err
	}
	if started.IsMock {
		return CallbackResult{Success: true}, nil
	}
	return h.svc.Callback(ctx, CallbackInput{
		Provider: h.adapter.kind,
		Code:     "auth-code",
		State:    stateFromURL(started.AuthorizationURL),
	})
}

func stateFromURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return parsed.Query().Get("state")
}

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}
