package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ConnectionStore owns every mutation of connection records. Mutations on the
// same (tenant, provider) key are serialized through the keyed locker, and
// each status transition emits exactly one audit record after it is persisted.
type ConnectionStore struct {
	repository ConnectionRepository
	locker     KeyedLocker
	audit      AuditEmitter
	now        Clock
	logger     Logger
	metrics    MetricsRecorder
}

type ConnectionStoreOption func(*ConnectionStore)

func WithStoreLocker(locker KeyedLocker) ConnectionStoreOption {
	return func(s *ConnectionStore) {
		if locker != nil {
			s.locker = locker
		}
	}
}

func WithStoreAuditEmitter(emitter AuditEmitter) ConnectionStoreOption {
	return func(s *ConnectionStore) {
		if emitter != nil {
			s.audit = emitter
		}
	}
}

func WithStoreClock(clock Clock) ConnectionStoreOption {
	return func(s *ConnectionStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

func WithStoreLogger(logger Logger) ConnectionStoreOption {
	return func(s *ConnectionStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithStoreMetrics(recorder MetricsRecorder) ConnectionStoreOption {
	return func(s *ConnectionStore) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

func NewConnectionStore(repository ConnectionRepository, opts ...ConnectionStoreOption) (*ConnectionStore, error) {
	if repository == nil {
		return nil, ErrStoreNotReady
	}
	store := &ConnectionStore{
		repository: repository,
		locker:     NewMemoryKeyedLocker(),
		audit:      NopAuditEmitter{},
		now:        func() time.Time { return time.Now().UTC() },
		metrics:    NopMetricsRecorder{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(store)
	}
	return store, nil
}

func (s *ConnectionStore) Get(ctx context.Context, key ConnectionKey) (Connection, bool, error) {
	if s == nil || s.repository == nil {
		return Connection{}, false, ErrStoreNotReady
	}
	if err := key.Validate(); err != nil {
		return Connection{}, false, err
	}
	return s.repository.Find(ctx, key)
}

func (s *ConnectionStore) List(ctx context.Context, filter ConnectionFilter) ([]Connection, error) {
	if s == nil || s.repository == nil {
		return nil, ErrStoreNotReady
	}
	return s.repository.List(ctx, filter)
}

func (s *ConnectionStore) Upsert(ctx context.Context, key ConnectionKey, patch ConnectionPatch, actor Actor) (Connection, error) {
	var out Connection
	err := s.WithKey(ctx, key, func(tx ConnectionTx) error {
		var upsertErr error
		out, upsertErr = tx.Upsert(ctx, patch, actor)
		return upsertErr
	})
	return out, err
}

// Clear logically deletes the connection. Clearing a missing or already
// disconnected record succeeds without side effects.
func (s *ConnectionStore) Clear(ctx context.Context, key ConnectionKey, actor Actor) error {
	return s.WithKey(ctx, key, func(tx ConnectionTx) error {
		_, err := tx.Clear(ctx, actor)
		return err
	})
}

// WithKey runs fn while holding the lock for key. The ConnectionTx passed to
// fn must not escape it.
func (s *ConnectionStore) WithKey(ctx context.Context, key ConnectionKey, fn func(tx ConnectionTx) error) error {
	if s == nil || s.repository == nil {
		return ErrStoreNotReady
	}
	if err := key.Validate(); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("core: connection transaction func is required")
	}
	unlock, err := s.locker.Lock(ctx, key.String())
	if err != nil {
		return err
	}
	defer unlock()
	return fn(&connectionTx{store: s, key: key})
}

func (s *ConnectionStore) findFresh(ctx context.Context, key ConnectionKey) (Connection, bool, error) {
	if fresh, ok := s.repository.(FreshConnectionReader); ok {
		return fresh.FindFresh(ctx, key)
	}
	return s.repository.Find(ctx, key)
}

type connectionTx struct {
	store *ConnectionStore
	key   ConnectionKey
}

func (tx *connectionTx) Key() ConnectionKey {
	return tx.key
}

func (tx *connectionTx) Get(ctx context.Context) (Connection, bool, error) {
	return tx.store.findFresh(ctx, tx.key)
}

func (tx *connectionTx) Upsert(ctx context.Context, patch ConnectionPatch, actor Actor) (Connection, error) {
	s := tx.store
	existing, found, err := s.findFresh(ctx, tx.key)
	if err != nil {
		return Connection{}, err
	}
	now := s.now().UTC()
	if !found {
		existing = Connection{
			TenantID:       strings.TrimSpace(tx.key.TenantID),
			Provider:       tx.key.Provider,
			Status:         ConnectionStatusDisconnected,
			LastSyncStatus: SyncStatusNever,
			SyncEnabled:    true,
			Metadata:       map[string]any{},
			CreatedAt:      now,
		}
	}

	next := patch.apply(existing)
	next.TenantID = existing.TenantID
	next.Provider = existing.Provider
	next.UpdatedAt = now
	if next.Status == ConnectionStatusConnected && strings.TrimSpace(next.AccessToken) == "" {
		return Connection{}, NewInvalidConnectionStateError(tx.key, "connected status requires an access token")
	}

	saved, err := s.repository.Save(ctx, next)
	if err != nil {
		return Connection{}, err
	}

	if action, metadata := upsertTransition(existing, saved, patch); action != "" {
		s.emit(ctx, saved, actor, action, metadata)
	}
	return saved, nil
}

func (tx *connectionTx) Clear(ctx context.Context, actor Actor) (bool, error) {
	s := tx.store
	existing, found, err := s.findFresh(ctx, tx.key)
	if err != nil {
		return false, err
	}
	if !found || (existing.Status == ConnectionStatusDisconnected && existing.AccessToken == "" && existing.RefreshToken == "") {
		return false, nil
	}

	cleared := existing.Clone()
	cleared.Status = ConnectionStatusDisconnected
	cleared.AccessToken = ""
	cleared.RefreshToken = ""
	cleared.ExpiresAt = nil
	delete(cleared.Metadata, MetadataKeyMock)
	cleared.UpdatedAt = s.now().UTC()

	saved, err := s.repository.Save(ctx, cleared)
	if err != nil {
		return false, err
	}
	s.emit(ctx, saved, actor, AuditActionDisconnected, map[string]any{
		"previous_status": string(existing.Status),
	})
	return true, nil
}

func upsertTransition(before Connection, after Connection, patch ConnectionPatch) (string, map[string]any) {
	switch {
	case after.Status == ConnectionStatusConnected && (before.Status != ConnectionStatusConnected || patch.Reconnect):
		metadata := map[string]any{
			"account_email": after.AccountEmail,
			"account_name":  after.AccountName,
		}
		if metadataBool(after.Metadata, MetadataKeyMock) {
			metadata[MetadataKeyMock] = true
		}
		return AuditActionConnected, metadata
	case before.Status == ConnectionStatusConnected && after.Status == ConnectionStatusConnected &&
		patch.AccessToken != nil && after.AccessToken != before.AccessToken:
		metadata := map[string]any{}
		if after.ExpiresAt != nil {
			metadata["expires_at"] = after.ExpiresAt.Format(time.RFC3339)
		}
		return AuditActionTokenRefreshed, metadata
	case patch.SyncEnabled != nil && before.SyncEnabled != after.SyncEnabled:
		return AuditActionSyncToggled, map[string]any{"sync_enabled": after.SyncEnabled}
	}
	return "", nil
}

// emit records an audit entry for a persisted transition. Emission failures
// are logged and counted; they do not undo the persisted transition.
func (s *ConnectionStore) emit(ctx context.Context, conn Connection, actor Actor, action string, metadata map[string]any) {
	record := AuditRecord{
		TenantID:     conn.TenantID,
		Action:       AuditAction(conn.Provider, action),
		ResourceType: AuditResourceConnection,
		ResourceID:   conn.ID,
		ActorID:      strings.TrimSpace(actor.ActorID),
		ActorName:    strings.TrimSpace(actor.ActorName),
		Metadata:     RedactSensitiveMap(metadata),
		Timestamp:    s.now().UTC(),
	}
	if record.Metadata == nil {
		record.Metadata = map[string]any{}
	}
	record.Metadata["provider"] = string(conn.Provider)
	emitAudit(ctx, s.audit, record, s.logger, s.metrics)
}

func emitAudit(ctx context.Context, emitter AuditEmitter, record AuditRecord, logger Logger, metrics MetricsRecorder) {
	if emitter == nil {
		return
	}
	if err := emitter.Emit(ctx, record); err != nil {
		logWithLevel(ctx, logger, "error", "audit emit failed", map[string]any{
			"action":    record.Action,
			"tenant_id": record.TenantID,
			"error":     err.Error(),
		})
		if metrics != nil {
			metrics.IncCounter(ctx, MetricAuditEmitFailed, 1, map[string]string{"action": record.Action})
		}
	}
}
