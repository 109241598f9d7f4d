package core

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

type Service struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	registry        AdapterRegistry
	stateCodec      StateCodec
	store           *ConnectionStore
	engine          *SyncEngine
	gate            AuthorizationGate
	now             Clock
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorMapper       ErrorMapper
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	Registry          AdapterRegistry
	StateCodec        StateCodec
	ConnectionStore   *ConnectionStore
	SyncEngine        *SyncEngine
	AuthorizationGate AuthorizationGate
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("integrations", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if builder.logger == nil && provider != nil {
		if named := provider.GetLogger("integrations"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.clock == nil {
		builder.clock = func() time.Time { return time.Now().UTC() }
	}
	if builder.locker == nil {
		builder.locker = NewMemoryKeyedLocker()
	}
	if builder.auditEmitter == nil {
		builder.auditEmitter = NopAuditEmitter{}
	}
	if builder.authorizationGate == nil {
		builder.authorizationGate = AllowAllGate{}
	}
	if builder.unitSink == nil {
		builder.unitSink = NopUnitSink{}
	}
	if builder.repository == nil {
		builder.repository = NewMemoryConnectionRepository()
	}
	if failing, ok := builder.registry.(failingRegistry); ok {
		return nil, mapBuildError(builder.errorMapper, failing.err)
	}
	if builder.registry == nil {
		registry, _ := NewAdapterRegistry()
		builder.registry = registry
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.stateCodec == nil {
		nonces := builder.nonceRegistry
		if nonces == nil {
			nonces = NewMemoryNonceRegistry(finalConfig.ResolvedStateMaxAge() + defaultStateClockSkew)
		}
		codec, codecErr := NewHMACStateCodec(
			finalConfig.StateSecret,
			WithStateMaxAge(finalConfig.ResolvedStateMaxAge()),
			WithStateNonceRegistry(nonces),
			WithStateClock(builder.clock),
		)
		if codecErr != nil {
			return nil, mapBuildError(builder.errorMapper, codecErr)
		}
		builder.stateCodec = codec
	}

	store, err := NewConnectionStore(
		builder.repository,
		WithStoreLocker(builder.locker),
		WithStoreAuditEmitter(builder.auditEmitter),
		WithStoreClock(builder.clock),
		WithStoreLogger(logger),
		WithStoreMetrics(builder.metricsRecorder),
	)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	engine := NewSyncEngine(
		WithSyncUnitSink(builder.unitSink),
		WithSyncAuditEmitter(builder.auditEmitter),
		WithSyncClock(builder.clock),
		WithSyncRequestTimeout(finalConfig.ResolvedRequestTimeout()),
		WithSyncRefreshSkew(finalConfig.RefreshSkew),
		WithSyncLogger(logger),
		WithSyncMetrics(builder.metricsRecorder),
	)

	return &Service{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		errorMapper:     builder.errorMapper,
		configProvider:  builder.configProvider,
		optionsResolver: builder.optionsResolver,
		registry:        builder.registry,
		stateCodec:      builder.stateCodec,
		store:           store,
		engine:          engine,
		gate:            builder.authorizationGate,
		now:             builder.clock,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorMapper:       s.errorMapper,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		Registry:          s.registry,
		StateCodec:        s.stateCodec,
		ConnectionStore:   s.store,
		SyncEngine:        s.engine,
		AuthorizationGate: s.gate,
	}
}

type ConnectInput struct {
	Actor       Actor
	Provider    ProviderKind
	RedirectURI string
}

type ConnectResult struct {
	Success          bool            `json:"success"`
	IsMock           bool            `json:"isMock,omitempty"`
	AuthorizationURL string          `json:"authorizationUrl,omitempty"`
	Connection       *ConnectionView `json:"connection,omitempty"`
}

// Connect starts the authorization flow. Mock adapters skip the redirect and
// connect immediately with placeholder account data.
func (s *Service) Connect(ctx context.Context, in ConnectInput) (result ConnectResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"provider":  string(in.Provider),
		"tenant_id": in.Actor.TenantID,
		"actor_id":  in.Actor.ActorID,
	}
	defer func() {
		fields["mock"] = result.IsMock
		s.observeOperation(ctx, startedAt, "connect", err, fields)
	}()

	adapter, err := s.authorizeProviderAction(ctx, in.Actor, in.Provider, ActionConnect)
	if err != nil {
		return ConnectResult{}, err
	}
	key := ConnectionKey{TenantID: strings.TrimSpace(in.Actor.TenantID), Provider: adapter.Kind()}

	if adapter.Mock() {
		conn, mockErr := s.connectMock(ctx, key, adapter, in.Actor)
		if mockErr != nil {
			err = s.mapError(mockErr)
			return ConnectResult{}, err
		}
		view := conn.View()
		return ConnectResult{Success: true, IsMock: true, Connection: &view}, nil
	}

	state, err := s.stateCodec.Encode(ctx, key.TenantID, key.Provider)
	if err != nil {
		err = s.mapError(err)
		return ConnectResult{}, err
	}
	authURL, err := adapter.BuildAuthorizationURL(ctx, state, s.redirectURI(key.Provider, in.RedirectURI))
	if err != nil {
		err = s.mapError(err)
		return ConnectResult{}, err
	}
	return ConnectResult{Success: true, AuthorizationURL: authURL}, nil
}

func (s *Service) connectMock(ctx context.Context, key ConnectionKey, adapter ProviderAdapter, actor Actor) (Connection, error) {
	account := AccountInfo{}
	tokens := TokenSet{}
	if described, ok := adapter.(MockAccountProvider); ok {
		account = described.MockAccount()
		tokens = described.MockTokens()
	}
	if strings.TrimSpace(tokens.AccessToken) == "" {
		tokens.AccessToken = "mock-" + string(key.Provider)
	}

	patch := TokenPatch(tokens)
	status := ConnectionStatusConnected
	patch.Status = &status
	patch.AccountEmail = &account.Email
	patch.AccountName = &account.Name
	patch.Metadata = mergeMetadata(patch.Metadata, account.Metadata, map[string]any{MetadataKeyMock: true})
	patch.Reconnect = true
	return s.store.Upsert(ctx, key, patch, actor)
}

type CallbackInput struct {
	Provider         ProviderKind
	Code             string
	State            string
	Error            string
	ErrorDescription string
	RedirectURI      string
	// Params holds provider specific callback parameters (e.g. an ERP company id).
	Params    map[string]string
	ActorID   string
	ActorName string
}

type CallbackResult struct {
	Success     bool             `json:"success"`
	Provider    ProviderKind     `json:"provider"`
	TenantID    string           `json:"tenantId,omitempty"`
	Message     string           `json:"message"`
	RedirectURL string           `json:"redirectUrl"`
	Connection  *ConnectionView  `json:"connection,omitempty"`
	Sync        *SyncBatchResult `json:"sync,omitempty"`
}

// Callback completes the authorization flow. The result always carries a
// redirect URL; on failure it holds only the public error message.
func (s *Service) Callback(ctx context.Context, in CallbackInput) (result CallbackResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"provider": string(in.Provider)}
	defer func() {
		if result.TenantID != "" {
			fields["tenant_id"] = result.TenantID
		}
		if err != nil {
			result = s.failedCallback(in.Provider, result.TenantID, err)
		}
		s.observeOperation(ctx, startedAt, "callback", err, fields)
	}()

	adapter, err := s.resolveAdapter(in.Provider)
	if err != nil {
		return CallbackResult{}, err
	}
	kind := adapter.Kind()

	if strings.TrimSpace(in.Error) != "" {
		err = NewProviderAuthorizationDeniedError(kind, in.Error, in.ErrorDescription)
		return CallbackResult{}, err
	}
	if strings.TrimSpace(in.Code) == "" {
		err = NewMissingParameterError("code")
		return CallbackResult{}, err
	}
	if strings.TrimSpace(in.State) == "" {
		err = NewMissingParameterError("state")
		return CallbackResult{}, err
	}

	state, err := s.stateCodec.Decode(ctx, in.State)
	if err != nil {
		err = s.mapError(err)
		return CallbackResult{}, err
	}
	if state.Provider != "" && state.Provider != kind {
		err = NewInvalidStateError("provider mismatch", nil)
		return CallbackResult{}, err
	}
	result.TenantID = state.TenantID

	exchangeCtx, cancel := context.WithTimeout(ctx, s.config.ResolvedRequestTimeout())
	tokens, exchangeErr := adapter.ExchangeCode(exchangeCtx, strings.TrimSpace(in.Code), s.redirectURI(kind, in.RedirectURI))
	cancel()
	if exchangeErr == nil && strings.TrimSpace(tokens.AccessToken) == "" {
		exchangeErr = fmt.Errorf("core: token response has no access token")
	}
	if exchangeErr != nil {
		if !HasTextCode(exchangeErr, ErrorTokenExchangeFailure) {
			exchangeErr = NewTokenExchangeError(kind, exchangeErr)
		}
		err = exchangeErr
		return result, err
	}

	params := callbackParamsMetadata(adapter, in.Params)
	account := s.enrichAccount(ctx, adapter, state.TenantID, tokens.AccessToken, params)

	actor := Actor{TenantID: state.TenantID, ActorID: strings.TrimSpace(in.ActorID), ActorName: strings.TrimSpace(in.ActorName)}
	if actor.ActorID == "" {
		actor = SystemActor(state.TenantID)
	}
	key := ConnectionKey{TenantID: state.TenantID, Provider: kind}

	patch := TokenPatch(tokens)
	status := ConnectionStatusConnected
	patch.Status = &status
	patch.Reconnect = true
	if account.Email != "" {
		patch.AccountEmail = &account.Email
	}
	if account.Name != "" {
		patch.AccountName = &account.Name
	}
	patch.Metadata = mergeMetadata(patch.Metadata, account.Metadata, params)
	patch.RemoveMetadata = []string{MetadataKeyMock}

	var conn Connection
	var batch *SyncBatchResult
	err = s.store.WithKey(ctx, key, func(tx ConnectionTx) error {
		saved, upsertErr := tx.Upsert(ctx, patch, actor)
		if upsertErr != nil {
			return upsertErr
		}
		conn = saved
		if !s.config.Sync.OnConnect {
			return nil
		}
		synced, syncErr := s.engine.Run(ctx, tx, adapter, actor, s.currentPeriod(), DefaultUnits())
		if syncErr != nil {
			s.logWarn(ctx, "sync on connect failed", map[string]any{
				"tenant_id": key.TenantID,
				"provider":  string(kind),
				"error":     syncErr.Error(),
			})
			return nil
		}
		batch = &synced
		if refreshed, found, getErr := tx.Get(ctx); getErr == nil && found {
			conn = refreshed
		}
		return nil
	})
	if err != nil {
		err = s.mapError(err)
		return result, err
	}

	view := conn.View()
	message := fmt.Sprintf("%s connected successfully", ProviderDisplayName(kind))
	return CallbackResult{
		Success:     true,
		Provider:    kind,
		TenantID:    state.TenantID,
		Message:     message,
		RedirectURL: s.callbackRedirect(true, kind, message),
		Connection:  &view,
		Sync:        batch,
	}, nil
}

// enrichAccount is the best-effort account lookup after token exchange. Its
// outcome is always logged and never fails the callback.
func (s *Service) enrichAccount(ctx context.Context, adapter ProviderAdapter, tenantID string, accessToken string, metadata map[string]any) AccountInfo {
	fields := map[string]any{
		"tenant_id": tenantID,
		"provider":  string(adapter.Kind()),
	}
	lookupCtx, cancel := context.WithTimeout(ctx, s.config.ResolvedRequestTimeout())
	defer cancel()

	var account AccountInfo
	var err error
	if scoped, ok := adapter.(ScopedAccountInfoFetcher); ok {
		account, err = scoped.FetchAccountInfoFor(lookupCtx, accessToken, copyAnyMap(metadata))
	} else {
		account, err = adapter.FetchAccountInfo(lookupCtx, accessToken)
	}
	if err != nil {
		unavailable := NewAccountInfoUnavailableError(adapter.Kind(), err)
		fields["error"] = unavailable.Error()
		fields["error_code"] = unavailable.TextCode
		s.logWarn(ctx, "account info omitted", fields)
		s.recordCounter(ctx, MetricAccountInfo, 1, map[string]string{
			"provider": string(adapter.Kind()),
			"outcome":  "omitted",
		})
		return AccountInfo{}
	}
	account.Email = strings.TrimSpace(account.Email)
	account.Name = strings.TrimSpace(account.Name)
	fields["has_email"] = account.Email != ""
	fields["has_name"] = account.Name != ""
	s.logInfo(ctx, "account info enriched", fields)
	s.recordCounter(ctx, MetricAccountInfo, 1, map[string]string{
		"provider": string(adapter.Kind()),
		"outcome":  "enriched",
	})
	return account
}

func (s *Service) failedCallback(provider ProviderKind, tenantID string, err error) CallbackResult {
	message := PublicMessage(err)
	return CallbackResult{
		Success:     false,
		Provider:    provider,
		TenantID:    tenantID,
		Message:     message,
		RedirectURL: s.callbackRedirect(false, provider, message),
	}
}

func (s *Service) callbackRedirect(success bool, provider ProviderKind, message string) string {
	base := s.config.Callback.FailureURL
	status := "error"
	if success {
		base = s.config.Callback.SuccessURL
		status = "success"
	}
	if strings.TrimSpace(base) == "" {
		base = "/"
	}
	target, err := url.Parse(base)
	if err != nil {
		target = &url.URL{Path: "/"}
	}
	query := target.Query()
	query.Set("status", status)
	if kind, err := ParseProviderKind(string(provider)); err == nil {
		query.Set("provider", string(kind))
	}
	query.Set("message", message)
	target.RawQuery = query.Encode()
	return target.String()
}

type DisconnectInput struct {
	Actor    Actor
	Provider ProviderKind
}

type DisconnectResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Disconnect clears the local connection. Remote revocation is attempted but
// its failure never blocks the local clear. Disconnecting twice is a no-op.
func (s *Service) Disconnect(ctx context.Context, in DisconnectInput) (result DisconnectResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"provider":  string(in.Provider),
		"tenant_id": in.Actor.TenantID,
		"actor_id":  in.Actor.ActorID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "disconnect", err, fields)
	}()

	adapter, err := s.authorizeProviderAction(ctx, in.Actor, in.Provider, ActionDisconnect)
	if err != nil {
		return DisconnectResult{}, err
	}
	kind := adapter.Kind()
	key := ConnectionKey{TenantID: strings.TrimSpace(in.Actor.TenantID), Provider: kind}

	cleared := false
	err = s.store.WithKey(ctx, key, func(tx ConnectionTx) error {
		conn, found, getErr := tx.Get(ctx)
		if getErr != nil {
			return getErr
		}
		if !found {
			return nil
		}
		if conn.Connected() && !adapter.Mock() {
			s.revokeRemote(ctx, adapter, conn)
		}
		var clearErr error
		cleared, clearErr = tx.Clear(ctx, in.Actor)
		return clearErr
	})
	if err != nil {
		err = s.mapError(err)
		return DisconnectResult{}, err
	}

	fields["cleared"] = cleared
	if !cleared {
		return DisconnectResult{Success: true, Message: fmt.Sprintf("%s is not connected", ProviderDisplayName(kind))}, nil
	}
	return DisconnectResult{Success: true, Message: fmt.Sprintf("%s disconnected", ProviderDisplayName(kind))}, nil
}

func (s *Service) revokeRemote(ctx context.Context, adapter ProviderAdapter, conn Connection) {
	revokeCtx, cancel := context.WithTimeout(ctx, s.config.ResolvedRequestTimeout())
	defer cancel()
	if err := adapter.Disconnect(revokeCtx, conn); err != nil {
		s.logWarn(ctx, "remote revocation failed", map[string]any{
			"tenant_id": conn.TenantID,
			"provider":  string(conn.Provider),
			"error":     err.Error(),
		})
	}
}

type SyncInput struct {
	Actor    Actor
	Provider ProviderKind
	Period   int
	Units    []int
}

type SyncResult struct {
	Success bool            `json:"success"`
	Synced  int             `json:"synced"`
	Errors  []SyncUnitError `json:"errors"`
	Status  SyncStatus      `json:"status"`
}

func (s *Service) Sync(ctx context.Context, in SyncInput) (result SyncResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"provider":  string(in.Provider),
		"tenant_id": in.Actor.TenantID,
		"actor_id":  in.Actor.ActorID,
		"period":    in.Period,
	}
	defer func() {
		fields["synced"] = result.Synced
		fields["errors"] = len(result.Errors)
		s.observeOperation(ctx, startedAt, "sync", err, fields)
	}()

	adapter, err := s.authorizeProviderAction(ctx, in.Actor, in.Provider, ActionSync)
	if err != nil {
		return SyncResult{}, err
	}
	key := ConnectionKey{TenantID: strings.TrimSpace(in.Actor.TenantID), Provider: adapter.Kind()}
	period := in.Period
	if period <= 0 {
		period = s.currentPeriod()
		fields["period"] = period
	}

	var batch SyncBatchResult
	err = s.store.WithKey(ctx, key, func(tx ConnectionTx) error {
		conn, found, getErr := tx.Get(ctx)
		if getErr != nil {
			return getErr
		}
		if !found || !conn.Connected() {
			return NewConnectionNotFoundError(key)
		}
		if !conn.SyncEnabled {
			return NewSyncDisabledError(key)
		}
		var runErr error
		batch, runErr = s.engine.Run(ctx, tx, adapter, in.Actor, period, in.Units)
		return runErr
	})
	if err != nil {
		err = s.mapError(err)
		return SyncResult{Errors: []SyncUnitError{}}, err
	}

	return SyncResult{
		Success: true,
		Synced:  batch.SyncedCount,
		Errors:  batch.Errors,
		Status:  batch.Status(),
	}, nil
}

type StatusInput struct {
	TenantID string
	Provider ProviderKind
}

// Status returns the token-free view of a connection; found is false when
// the tenant never connected the provider.
func (s *Service) Status(ctx context.Context, in StatusInput) (view ConnectionView, found bool, err error) {
	if strings.TrimSpace(in.TenantID) == "" {
		return ConnectionView{}, false, NewMissingParameterError("tenant_id")
	}
	adapter, err := s.resolveAdapter(in.Provider)
	if err != nil {
		return ConnectionView{}, false, err
	}
	conn, found, err := s.store.Get(ctx, ConnectionKey{TenantID: strings.TrimSpace(in.TenantID), Provider: adapter.Kind()})
	if err != nil {
		return ConnectionView{}, false, s.mapError(err)
	}
	if !found {
		return ConnectionView{}, false, nil
	}
	return conn.View(), true, nil
}

// StatusAll returns the views of every registered provider the tenant has a
// connection record for.
func (s *Service) StatusAll(ctx context.Context, tenantID string) (map[ProviderKind]ConnectionView, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, NewMissingParameterError("tenant_id")
	}
	out := map[ProviderKind]ConnectionView{}
	for _, adapter := range s.registry.List() {
		view, found, err := s.Status(ctx, StatusInput{TenantID: tenantID, Provider: adapter.Kind()})
		if err != nil {
			return nil, err
		}
		if found {
			out[adapter.Kind()] = view
		}
	}
	return out, nil
}

type SetSyncEnabledInput struct {
	Actor    Actor
	Provider ProviderKind
	Enabled  bool
}

func (s *Service) SetSyncEnabled(ctx context.Context, in SetSyncEnabledInput) (view ConnectionView, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"provider":  string(in.Provider),
		"tenant_id": in.Actor.TenantID,
		"enabled":   in.Enabled,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "set_sync_enabled", err, fields)
	}()

	adapter, err := s.authorizeProviderAction(ctx, in.Actor, in.Provider, ActionConfigure)
	if err != nil {
		return ConnectionView{}, err
	}
	key := ConnectionKey{TenantID: strings.TrimSpace(in.Actor.TenantID), Provider: adapter.Kind()}
	err = s.store.WithKey(ctx, key, func(tx ConnectionTx) error {
		if _, found, getErr := tx.Get(ctx); getErr != nil {
			return getErr
		} else if !found {
			return NewConnectionNotFoundError(key)
		}
		enabled := in.Enabled
		updated, upsertErr := tx.Upsert(ctx, ConnectionPatch{SyncEnabled: &enabled}, in.Actor)
		if upsertErr != nil {
			return upsertErr
		}
		view = updated.View()
		return nil
	})
	if err != nil {
		err = s.mapError(err)
		return ConnectionView{}, err
	}
	return view, nil
}

// ListSyncTargets returns the keys of connected, sync-enabled connections.
func (s *Service) ListSyncTargets(ctx context.Context, limit int) ([]ConnectionKey, error) {
	page, err := s.ListSyncTargetsPage(ctx, 0, limit)
	if err != nil {
		return nil, err
	}
	return page.Keys, nil
}

// SyncTargetPage is one page of sync targets. Next is the offset of the
// following page, or zero when this page is the last.
type SyncTargetPage struct {
	Keys []ConnectionKey
	Next int
}

// ListSyncTargetsPage lists sync targets in (tenant, provider) order starting
// at offset. A full page always reports a Next offset even when nothing
// follows it.
func (s *Service) ListSyncTargetsPage(ctx context.Context, offset int, limit int) (SyncTargetPage, error) {
	if offset < 0 {
		offset = 0
	}
	enabled := true
	conns, err := s.store.List(ctx, ConnectionFilter{
		Status:      ConnectionStatusConnected,
		SyncEnabled: &enabled,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		return SyncTargetPage{}, s.mapError(err)
	}
	page := SyncTargetPage{Keys: make([]ConnectionKey, 0, len(conns))}
	for _, conn := range conns {
		if _, ok := s.registry.Get(conn.Provider); !ok {
			continue
		}
		page.Keys = append(page.Keys, conn.Key())
	}
	if limit > 0 && len(conns) == limit {
		page.Next = offset + len(conns)
	}
	return page, nil
}

func (s *Service) authorizeProviderAction(ctx context.Context, actor Actor, provider ProviderKind, action string) (ProviderAdapter, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	adapter, err := s.resolveAdapter(provider)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Authorize(ctx, actor, action); err != nil {
		return nil, s.mapError(err)
	}
	return adapter, nil
}

func (s *Service) resolveAdapter(provider ProviderKind) (ProviderAdapter, error) {
	if s == nil || s.registry == nil {
		return nil, s.mapError(fmt.Errorf("core: adapter registry is not configured"))
	}
	if strings.TrimSpace(string(provider)) == "" {
		return nil, NewMissingParameterError("provider")
	}
	kind, err := ParseProviderKind(string(provider))
	if err != nil {
		return nil, err
	}
	adapter, ok := s.registry.Get(kind)
	if !ok {
		return nil, goerrors.New(fmt.Sprintf("provider %q is not configured", kind), goerrors.CategoryBadInput).
			WithCode(400).
			WithTextCode(ErrorUnknownProvider)
	}
	return adapter, nil
}

func (s *Service) redirectURI(kind ProviderKind, override string) string {
	if trimmed := strings.TrimSpace(override); trimmed != "" {
		return trimmed
	}
	return strings.TrimSpace(s.config.Providers.For(kind).RedirectURI)
}

func (s *Service) currentPeriod() int {
	return s.now().UTC().Year()
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

var providerDisplayNames = map[ProviderKind]string{
	ProviderERP:       "ERP",
	ProviderCalendarA: "Google Calendar",
	ProviderCalendarB: "Outlook Calendar",
}

func ProviderDisplayName(kind ProviderKind) string {
	if name, ok := providerDisplayNames[kind]; ok {
		return name
	}
	return string(kind)
}

const (
	maxCallbackParams      = 8
	maxCallbackParamLength = 256
)

// callbackParamsMetadata keeps the callback parameters the adapter declares.
// Keys owned by the service are never taken from the callback.
func callbackParamsMetadata(adapter ProviderAdapter, params map[string]string) map[string]any {
	declared, ok := adapter.(CallbackParamsProvider)
	if !ok || len(params) == 0 {
		return nil
	}
	out := map[string]any{}
	for _, name := range declared.CallbackParams() {
		if len(out) >= maxCallbackParams {
			break
		}
		value := strings.TrimSpace(params[name])
		if value == "" || len(value) > maxCallbackParamLength {
			continue
		}
		key := normalizeMetadataKey(strings.TrimSpace(name))
		if key == "" || reservedMetadataKey(key) {
			continue
		}
		out[key] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func reservedMetadataKey(key string) bool {
	switch key {
	case MetadataKeyMock, MetadataKeyCompanyID:
		return true
	}
	return false
}

// normalizeMetadataKey maps realmId style keys to realm_id.
func normalizeMetadataKey(key string) string {
	var b strings.Builder
	for i, r := range key {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		if r == '-' || r == ' ' {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func mergeMetadata(maps ...map[string]any) map[string]any {
	out := map[string]any{}
	for _, m := range maps {
		for key, value := range m {
			out[key] = value
		}
	}
	return out
}
