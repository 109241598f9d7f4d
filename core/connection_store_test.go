package core

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T, audit AuditEmitter) (*ConnectionStore, *MemoryConnectionRepository) {
	t.Helper()
	repo := NewMemoryConnectionRepository()
	clock := newFixedClock(time.Date(2025, time.May, 1, 9, 0, 0, 0, time.UTC))
	store, err := NewConnectionStore(repo, WithStoreAuditEmitter(audit), WithStoreClock(clock.Now))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, repo
}

func connectedPatch(token string) ConnectionPatch {
	status := ConnectionStatusConnected
	patch := TokenPatch(TokenSet{AccessToken: token, RefreshToken: "refresh-" + token})
	patch.Status = &status
	return patch
}

func TestConnectionStore_UpsertCreatesDefaults(t *testing.T) {
	audit := NewMemoryAuditEmitter()
	store, _ := newTestStore(t, audit)
	ctx := context.Background()
	key := ConnectionKey{TenantID: "T1", Provider: ProviderERP}

	conn, err := store.Upsert(ctx, key, connectedPatch("tok"), Actor{TenantID: "T1", ActorID: "usr_1"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if conn.ID == "" || !conn.SyncEnabled || conn.LastSyncStatus != SyncStatusNever {
		t.Fatalf("unexpected defaults %#v", conn)
	}
	records := audit.Records()
	if len(records) != 1 || records[0].Action != "erp.connected" || records[0].ActorID != "usr_1" {
		t.Fatalf("unexpected audit %#v", records)
	}
	if records[0].ResourceID != conn.ID {
		t.Fatalf("expected audit resource id %q, got %q", conn.ID, records[0].ResourceID)
	}
}

func TestConnectionStore_ConnectedRequiresAccessToken(t *testing.T) {
	audit := NewMemoryAuditEmitter()
	store, repo := newTestStore(t, audit)
	ctx := context.Background()
	key := ConnectionKey{TenantID: "T1", Provider: ProviderCalendarA}

	status := ConnectionStatusConnected
	_, err := store.Upsert(ctx, key, ConnectionPatch{Status: &status}, Actor{TenantID: "T1"})
	if !HasTextCode(err, ErrorInvalidConnectionState) {
		t.Fatalf("expected invalid connection state, got %v", err)
	}
	if _, found, _ := repo.Find(ctx, key); found {
		t.Fatalf("expected nothing persisted")
	}
	if len(audit.Records()) != 0 {
		t.Fatalf("expected no audit for rejected transition")
	}
}

func TestConnectionStore_TokenRefreshAudit(t *testing.T) {
	audit := NewMemoryAuditEmitter()
	store, _ := newTestStore(t, audit)
	ctx := context.Background()
	key := ConnectionKey{TenantID: "T1", Provider: ProviderCalendarB}
	actor := Actor{TenantID: "T1"}

	if _, err := store.Upsert(ctx, key, connectedPatch("a"), actor); err != nil {
		t.Fatalf("connect: %v", err)
	}
	expires := time.Date(2025, time.May, 1, 10, 0, 0, 0, time.UTC)
	if _, err := store.Upsert(ctx, key, TokenPatch(TokenSet{AccessToken: "b", ExpiresAt: &expires}), actor); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := store.Upsert(ctx, key, TokenPatch(TokenSet{AccessToken: "b", ExpiresAt: &expires}), actor); err != nil {
		t.Fatalf("same token: %v", err)
	}

	actions := audit.Actions()
	want := []string{"calendar_b.connected", "calendar_b.token_refreshed"}
	if len(actions) != len(want) {
		t.Fatalf("expected actions %v, got %v", want, actions)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Fatalf("expected actions %v, got %v", want, actions)
		}
	}
	if _, ok := audit.Records()[1].Metadata["expires_at"]; !ok {
		t.Fatalf("expected expires_at in refresh audit")
	}
}

func TestConnectionStore_ClearIsIdempotent(t *testing.T) {
	audit := NewMemoryAuditEmitter()
	store, repo := newTestStore(t, audit)
	ctx := context.Background()
	key := ConnectionKey{TenantID: "T1", Provider: ProviderERP}
	actor := Actor{TenantID: "T1"}

	if err := store.Clear(ctx, key, actor); err != nil {
		t.Fatalf("clear missing: %v", err)
	}
	if _, err := store.Upsert(ctx, key, connectedPatch("tok"), actor); err != nil {
		t.Fatalf("connect: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := store.Clear(ctx, key, actor); err != nil {
			t.Fatalf("clear %d: %v", i, err)
		}
	}
	conn, _, _ := repo.Find(ctx, key)
	if conn.Status != ConnectionStatusDisconnected || conn.AccessToken != "" || conn.ExpiresAt != nil {
		t.Fatalf("expected cleared record, got %#v", conn)
	}
	if got := audit.Actions(); len(got) != 2 || got[1] != "erp.disconnected" {
		t.Fatalf("expected connected then one disconnected audit, got %v", got)
	}
}

func TestConnectionStore_AuditFailureDoesNotFailTransition(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	repo := NewMemoryConnectionRepository()
	store, err := NewConnectionStore(repo, WithStoreAuditEmitter(failingAuditEmitter{}), WithStoreMetrics(metrics))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	key := ConnectionKey{TenantID: "T1", Provider: ProviderERP}

	if _, err := store.Upsert(context.Background(), key, connectedPatch("tok"), Actor{TenantID: "T1"}); err != nil {
		t.Fatalf("expected upsert to succeed despite audit failure: %v", err)
	}
	found := false
	for _, counter := range metrics.counters {
		if counter.name == "integrations.audit.emit_failed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected audit failure counter")
	}
}

func TestConnectionStore_AuditMetadataIsRedacted(t *testing.T) {
	audit := NewMemoryAuditEmitter()
	store, _ := newTestStore(t, audit)
	ctx := context.Background()
	key := ConnectionKey{TenantID: "T1", Provider: ProviderERP}

	if _, err := store.Upsert(ctx, key, connectedPatch("tok"), Actor{TenantID: "T1"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	for _, record := range audit.Records() {
		for _, value := range record.Metadata {
			if value == "tok" || value == "refresh-tok" {
				t.Fatalf("audit metadata leaked a token: %#v", record.Metadata)
			}
		}
	}
}

func TestConnectionStore_RejectsInvalidKey(t *testing.T) {
	store, _ := newTestStore(t, NopAuditEmitter{})
	if _, _, err := store.Get(context.Background(), ConnectionKey{Provider: ProviderERP}); !HasTextCode(err, ErrorMissingParameter) {
		t.Fatalf("expected missing tenant, got %v", err)
	}
	if _, _, err := store.Get(context.Background(), ConnectionKey{TenantID: "T1", Provider: "ledger"}); !HasTextCode(err, ErrorUnknownProvider) {
		t.Fatalf("expected unknown provider, got %v", err)
	}
}

// staleFindRepository answers Find from a fixed snapshot, like a cache that
// missed an invalidation, and FindFresh from the backing repository.
type staleFindRepository struct {
	*MemoryConnectionRepository
	stale Connection
}

func (r *staleFindRepository) Find(context.Context, ConnectionKey) (Connection, bool, error) {
	return r.stale.Clone(), true, nil
}

func (r *staleFindRepository) FindFresh(ctx context.Context, key ConnectionKey) (Connection, bool, error) {
	return r.MemoryConnectionRepository.Find(ctx, key)
}

func TestConnectionStore_TransactionsReadFreshRecord(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryConnectionRepository()
	key := ConnectionKey{TenantID: "T1", Provider: ProviderERP}
	current, err := base.Save(ctx, Connection{
		TenantID:     "T1",
		Provider:     ProviderERP,
		Status:       ConnectionStatusConnected,
		AccessToken:  "current",
		AccountName:  "Current Books",
		SyncEnabled:  true,
		Metadata:     map[string]any{},
		RefreshToken: "refresh-current",
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	stale := current.Clone()
	stale.AccessToken = "stale"
	stale.AccountName = "Stale Books"
	repo := &staleFindRepository{MemoryConnectionRepository: base, stale: stale}
	store, err := NewConnectionStore(repo)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	err = store.WithKey(ctx, key, func(tx ConnectionTx) error {
		conn, found, err := tx.Get(ctx)
		if err != nil || !found {
			t.Fatalf("tx get: found=%v err=%v", found, err)
		}
		if conn.AccessToken != "current" {
			t.Fatalf("expected tx get to bypass the stale read, got %q", conn.AccessToken)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("with key: %v", err)
	}

	enabled := false
	saved, err := store.Upsert(ctx, key, ConnectionPatch{SyncEnabled: &enabled}, Actor{TenantID: "T1"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if saved.AccessToken != "current" || saved.AccountName != "Current Books" {
		t.Fatalf("expected patch applied to the fresh record, got %#v", saved)
	}
}

func TestConnectionStore_ClearDropsMockFlag(t *testing.T) {
	store, repo := newTestStore(t, NewMemoryAuditEmitter())
	ctx := context.Background()
	key := ConnectionKey{TenantID: "T1", Provider: ProviderERP}
	actor := Actor{TenantID: "T1"}

	patch := connectedPatch("mock-tok")
	patch.Metadata = map[string]any{MetadataKeyMock: true, MetadataKeyCompanyID: "9130"}
	if _, err := store.Upsert(ctx, key, patch, actor); err != nil {
		t.Fatalf("mock connect: %v", err)
	}
	if err := store.Clear(ctx, key, actor); err != nil {
		t.Fatalf("clear: %v", err)
	}
	conn, _, _ := repo.Find(ctx, key)
	if conn.View().Mock {
		t.Fatalf("expected mock flag dropped on clear, got %#v", conn.Metadata)
	}
	if conn.Metadata[MetadataKeyCompanyID] != "9130" {
		t.Fatalf("expected other metadata kept, got %#v", conn.Metadata)
	}
}
