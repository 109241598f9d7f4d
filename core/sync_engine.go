package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	FirstMonth = 1
	LastMonth  = 12
)

// DefaultUnits returns the twelve months of a year in order.
func DefaultUnits() []int {
	units := make([]int, 0, LastMonth)
	for month := FirstMonth; month <= LastMonth; month++ {
		units = append(units, month)
	}
	return units
}

// ValidateMonthUnit is shared by adapters whose sync unit is a calendar month.
func ValidateMonthUnit(unitKey int) error {
	if unitKey < FirstMonth || unitKey > LastMonth {
		return fmt.Errorf("%w: month %d is not between %d and %d", ErrInvalidUnitKey, unitKey, FirstMonth, LastMonth)
	}
	return nil
}

type SyncEngine struct {
	sink           UnitSink
	audit          AuditEmitter
	now            Clock
	requestTimeout time.Duration
	refreshSkew    time.Duration
	logger         Logger
	metrics        MetricsRecorder
}

type SyncEngineOption func(*SyncEngine)

func WithSyncUnitSink(sink UnitSink) SyncEngineOption {
	return func(e *SyncEngine) {
		if sink != nil {
			e.sink = sink
		}
	}
}

func WithSyncAuditEmitter(emitter AuditEmitter) SyncEngineOption {
	return func(e *SyncEngine) {
		if emitter != nil {
			e.audit = emitter
		}
	}
}

func WithSyncClock(clock Clock) SyncEngineOption {
	return func(e *SyncEngine) {
		if clock != nil {
			e.now = clock
		}
	}
}

func WithSyncRequestTimeout(timeout time.Duration) SyncEngineOption {
	return func(e *SyncEngine) {
		if timeout > 0 {
			e.requestTimeout = timeout
		}
	}
}

func WithSyncRefreshSkew(skew time.Duration) SyncEngineOption {
	return func(e *SyncEngine) {
		if skew >= 0 {
			e.refreshSkew = skew
		}
	}
}

func WithSyncLogger(logger Logger) SyncEngineOption {
	return func(e *SyncEngine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithSyncMetrics(recorder MetricsRecorder) SyncEngineOption {
	return func(e *SyncEngine) {
		if recorder != nil {
			e.metrics = recorder
		}
	}
}

func NewSyncEngine(opts ...SyncEngineOption) *SyncEngine {
	engine := &SyncEngine{
		sink:           NopUnitSink{},
		audit:          NopAuditEmitter{},
		now:            func() time.Time { return time.Now().UTC() },
		requestTimeout: DefaultConfig().RequestTimeout,
		refreshSkew:    DefaultConfig().RefreshSkew,
		metrics:        NopMetricsRecorder{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(engine)
	}
	return engine
}

// Run syncs units for the connection held by tx, in the order given. A unit
// failure is recorded and the batch continues; only a failed token refresh
// aborts the batch. The caller must hold the key lock through tx.
func (e *SyncEngine) Run(
	ctx context.Context,
	tx ConnectionTx,
	adapter ProviderAdapter,
	actor Actor,
	period int,
	units []int,
) (SyncBatchResult, error) {
	if e == nil || tx == nil || adapter == nil {
		return SyncBatchResult{}, fmt.Errorf("core: sync engine is not configured")
	}
	key := tx.Key()
	conn, found, err := tx.Get(ctx)
	if err != nil {
		return SyncBatchResult{}, err
	}
	if !found || !conn.Connected() {
		return SyncBatchResult{}, NewConnectionNotFoundError(key)
	}
	if len(units) == 0 {
		units = DefaultUnits()
	}
	result := SyncBatchResult{
		RequestedUnits: append([]int(nil), units...),
		Errors:         []SyncUnitError{},
	}

	conn, err = e.ensureFreshToken(ctx, tx, adapter, conn, actor)
	if err != nil {
		return result, err
	}

	for _, unitKey := range units {
		if unitErr := e.syncUnit(ctx, adapter, conn, period, unitKey); unitErr != nil {
			result.Errors = append(result.Errors, SyncUnitError{UnitKey: unitKey, Message: unitErrorMessage(unitErr)})
			logWithLevel(ctx, e.logger, "warn", "sync unit failed", map[string]any{
				"tenant_id": key.TenantID,
				"provider":  string(key.Provider),
				"period":    period,
				"unit_key":  unitKey,
				"error":     unitErr.Error(),
			})
			continue
		}
		result.SyncedCount++
	}

	finishedAt := e.now().UTC()
	status := result.Status()
	updated, err := tx.Upsert(ctx, ConnectionPatch{
		LastSyncAt:     &finishedAt,
		LastSyncStatus: &status,
	}, actor)
	if err != nil {
		return result, err
	}

	tags := map[string]string{"provider": string(key.Provider), "status": string(status)}
	e.metrics.IncCounter(ctx, MetricSyncUnitsSynced, int64(result.SyncedCount), tags)
	e.metrics.IncCounter(ctx, MetricSyncUnitsFailed, int64(len(result.Errors)), tags)

	emitAudit(ctx, e.audit, AuditRecord{
		TenantID:     updated.TenantID,
		Action:       AuditAction(updated.Provider, AuditActionSynced),
		ResourceType: AuditResourceConnection,
		ResourceID:   updated.ID,
		ActorID:      strings.TrimSpace(actor.ActorID),
		ActorName:    strings.TrimSpace(actor.ActorName),
		Metadata: map[string]any{
			"provider": string(updated.Provider),
			"period":   period,
			"units":    append([]int(nil), units...),
			"synced":   result.SyncedCount,
			"errors":   len(result.Errors),
			"status":   string(status),
		},
		Timestamp: finishedAt,
	}, e.logger, e.metrics)

	return result, nil
}

// ensureFreshToken makes exactly one refresh attempt when the token is expired.
func (e *SyncEngine) ensureFreshToken(
	ctx context.Context,
	tx ConnectionTx,
	adapter ProviderAdapter,
	conn Connection,
	actor Actor,
) (Connection, error) {
	now := e.now().UTC()
	if !conn.Expired(now, e.refreshSkew) {
		return conn, nil
	}

	refreshCtx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	tokens, refreshErr := adapter.Refresh(refreshCtx, conn)
	cancel()
	if refreshErr == nil && strings.TrimSpace(tokens.AccessToken) == "" {
		refreshErr = fmt.Errorf("core: refresh returned an empty access token")
	}
	if refreshErr != nil {
		failed := SyncStatusFailed
		if _, err := tx.Upsert(ctx, ConnectionPatch{LastSyncAt: &now, LastSyncStatus: &failed}, actor); err != nil {
			logWithLevel(ctx, e.logger, "error", "record failed sync status", map[string]any{
				"tenant_id": conn.TenantID,
				"provider":  string(conn.Provider),
				"error":     err.Error(),
			})
		}
		e.metrics.IncCounter(ctx, MetricSyncRefreshFailed, 1, map[string]string{"provider": string(conn.Provider)})
		return conn, NewConnectionExpiredError(conn.Key(), refreshErr)
	}

	refreshed, err := tx.Upsert(ctx, TokenPatch(tokens), actor)
	if err != nil {
		return conn, err
	}
	return refreshed, nil
}

func (e *SyncEngine) syncUnit(ctx context.Context, adapter ProviderAdapter, conn Connection, period int, unitKey int) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("core: unit %d panicked: %v", unitKey, recovered)
		}
	}()
	unitCtx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	defer cancel()

	payload, err := adapter.FetchDataUnit(unitCtx, conn, period, unitKey)
	if err != nil {
		return NewSyncUnitError(conn.Provider, unitKey, err)
	}
	if payload.UnitKey == 0 {
		payload.UnitKey = unitKey
	}
	if payload.Period == 0 {
		payload.Period = period
	}
	if err := e.sink.Store(unitCtx, conn, payload); err != nil {
		return NewSyncUnitError(conn.Provider, unitKey, err)
	}
	return nil
}

// unitErrorMessage reports the first cause below the go-errors envelopes,
// which is what callers can act on (e.g. an out of range month).
func unitErrorMessage(err error) string {
	current := err
	for current != nil {
		if _, wrapped := current.(*goerrors.Error); !wrapped {
			return strings.TrimSpace(current.Error())
		}
		next := errors.Unwrap(current)
		if next == nil {
			break
		}
		current = next
	}
	return strings.TrimSpace(err.Error())
}
