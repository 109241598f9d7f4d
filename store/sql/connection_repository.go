package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ConnectionRepository persists connections in integration_connections,
// one row per tenant and provider.
type ConnectionRepository struct {
	db      *bun.DB
	repo    repository.Repository[*connectionRecord]
	secrets core.SecretProvider
}

func NewConnectionRepository(db *bun.DB, secrets core.SecretProvider) (*ConnectionRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*connectionRecord](db, connectionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid connection repository wiring: %w", err)
		}
	}
	return &ConnectionRepository{db: db, repo: repo, secrets: secrets}, nil
}

func (s *ConnectionRepository) Find(ctx context.Context, key core.ConnectionKey) (core.Connection, bool, error) {
	if s == nil || s.repo == nil {
		return core.Connection{}, false, fmt.Errorf("sqlstore: connection repository is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", strings.TrimSpace(key.TenantID)),
		repository.SelectBy("provider", "=", string(key.Provider)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Connection{}, false, err
	}
	if len(records) == 0 {
		return core.Connection{}, false, nil
	}
	conn, err := s.toDomain(ctx, records[0])
	if err != nil {
		return core.Connection{}, false, err
	}
	return conn, true, nil
}

// Save inserts or replaces the row for the connection key. The stored ID and
// CreatedAt win over the values on conn.
func (s *ConnectionRepository) Save(ctx context.Context, conn core.Connection) (core.Connection, error) {
	if s == nil || s.repo == nil || s.db == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection repository is not configured")
	}
	if err := conn.Validate(); err != nil {
		return core.Connection{}, err
	}

	record, err := s.toRecord(ctx, conn)
	if err != nil {
		return core.Connection{}, err
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := &connectionRecord{}
		selectErr := tx.NewSelect().
			Model(existing).
			Where("?TableAlias.tenant_id = ?", record.TenantID).
			Where("?TableAlias.provider = ?", record.Provider).
			Limit(1).
			Scan(ctx)
		switch {
		case errors.Is(selectErr, sql.ErrNoRows):
			if record.ID == "" {
				record.ID = uuid.NewString()
			}
			_, createErr := s.repo.CreateTx(ctx, tx, record)
			return createErr
		case selectErr != nil:
			return selectErr
		}

		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
		_, updateErr := tx.NewUpdate().
			Model(record).
			ExcludeColumn("id", "created_at").
			Where("id = ?", record.ID).
			Exec(ctx)
		return updateErr
	})
	if err != nil {
		return core.Connection{}, fmt.Errorf("sqlstore: save connection %s: %w", conn.Key(), err)
	}

	conn.ID = record.ID
	conn.CreatedAt = record.CreatedAt
	conn.UpdatedAt = record.UpdatedAt
	return conn.Clone(), nil
}

func (s *ConnectionRepository) List(ctx context.Context, filter core.ConnectionFilter) ([]core.Connection, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: connection repository is not configured")
	}
	criteria := []repository.SelectCriteria{
		repository.OrderBy("tenant_id ASC"),
		repository.OrderBy("provider ASC"),
	}
	if tenantID := strings.TrimSpace(filter.TenantID); tenantID != "" {
		criteria = append(criteria, repository.SelectBy("tenant_id", "=", tenantID))
	}
	if filter.Provider != "" {
		criteria = append(criteria, repository.SelectBy("provider", "=", string(filter.Provider)))
	}
	if filter.Status != "" {
		criteria = append(criteria, repository.SelectBy("status", "=", string(filter.Status)))
	}
	if filter.SyncEnabled != nil {
		enabled := *filter.SyncEnabled
		criteria = append(criteria, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.sync_enabled = ?", enabled)
		}))
	}
	switch {
	case filter.Limit > 0:
		criteria = append(criteria, repository.SelectPaginate(filter.Limit, max(filter.Offset, 0)))
	case filter.Offset > 0:
		offset := filter.Offset
		criteria = append(criteria, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Offset(offset)
		}))
	}

	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	out := make([]core.Connection, 0, len(records))
	for _, record := range records {
		conn, convErr := s.toDomain(ctx, record)
		if convErr != nil {
			return nil, convErr
		}
		out = append(out, conn)
	}
	return out, nil
}

func (s *ConnectionRepository) toRecord(ctx context.Context, conn core.Connection) (*connectionRecord, error) {
	access, err := s.seal(ctx, conn.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: seal access token: %w", err)
	}
	refresh, err := s.seal(ctx, conn.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: seal refresh token: %w", err)
	}
	metadata := conn.Clone().Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	now := time.Now().UTC()
	record := &connectionRecord{
		ID:             strings.TrimSpace(conn.ID),
		TenantID:       strings.TrimSpace(conn.TenantID),
		Provider:       string(conn.Provider),
		Status:         string(conn.Status),
		AccessToken:    access,
		RefreshToken:   refresh,
		ExpiresAt:      utcPointer(conn.ExpiresAt),
		AccountEmail:   conn.AccountEmail,
		AccountName:    conn.AccountName,
		LastSyncAt:     utcPointer(conn.LastSyncAt),
		LastSyncStatus: string(conn.LastSyncStatus),
		SyncEnabled:    conn.SyncEnabled,
		Metadata:       metadata,
		CreatedAt:      conn.CreatedAt.UTC(),
		UpdatedAt:      conn.UpdatedAt.UTC(),
	}
	if record.Status == "" {
		record.Status = string(core.ConnectionStatusDisconnected)
	}
	if record.LastSyncStatus == "" {
		record.LastSyncStatus = string(core.SyncStatusNever)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}
	return record, nil
}

func (s *ConnectionRepository) toDomain(ctx context.Context, record *connectionRecord) (core.Connection, error) {
	if record == nil {
		return core.Connection{}, nil
	}
	access, err := s.open(ctx, record.AccessToken)
	if err != nil {
		return core.Connection{}, fmt.Errorf("sqlstore: open access token: %w", err)
	}
	refresh, err := s.open(ctx, record.RefreshToken)
	if err != nil {
		return core.Connection{}, fmt.Errorf("sqlstore: open refresh token: %w", err)
	}
	conn := core.Connection{
		ID:             record.ID,
		TenantID:       record.TenantID,
		Provider:       core.ProviderKind(record.Provider),
		Status:         core.ConnectionStatus(record.Status),
		AccessToken:    access,
		RefreshToken:   refresh,
		ExpiresAt:      utcPointer(record.ExpiresAt),
		AccountEmail:   record.AccountEmail,
		AccountName:    record.AccountName,
		LastSyncAt:     utcPointer(record.LastSyncAt),
		LastSyncStatus: core.SyncStatus(record.LastSyncStatus),
		SyncEnabled:    record.SyncEnabled,
		Metadata:       record.Metadata,
		CreatedAt:      record.CreatedAt.UTC(),
		UpdatedAt:      record.UpdatedAt.UTC(),
	}
	return conn.Clone(), nil
}

func (s *ConnectionRepository) seal(ctx context.Context, token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}
	if s.secrets == nil {
		return []byte(token), nil
	}
	return s.secrets.Encrypt(ctx, []byte(token))
}

func (s *ConnectionRepository) open(ctx context.Context, stored []byte) (string, error) {
	if len(stored) == 0 {
		return "", nil
	}
	if s.secrets == nil {
		return string(stored), nil
	}
	plaintext, err := s.secrets.Decrypt(ctx, stored)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func utcPointer(input *time.Time) *time.Time {
	if input == nil || input.IsZero() {
		return nil
	}
	value := input.UTC()
	return &value
}

var _ core.ConnectionRepository = (*ConnectionRepository)(nil)
