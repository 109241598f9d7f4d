package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type AuditFilter struct {
	TenantID string
	Action   string
	From     *time.Time
	To       *time.Time
	Page     int
	PerPage  int
}

type AuditPage struct {
	Items   []core.AuditRecord
	Total   int
	HasNext bool
}

// AuditStore appends audit records to integration_audit_log.
type AuditStore struct {
	repo repository.Repository[*auditRecord]
}

func NewAuditStore(db *bun.DB) (*AuditStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*auditRecord](db, auditHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid audit repository wiring: %w", err)
		}
	}
	return &AuditStore{repo: repo}, nil
}

func (s *AuditStore) Emit(ctx context.Context, record core.AuditRecord) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: audit store is not configured")
	}
	if strings.TrimSpace(record.TenantID) == "" {
		return fmt.Errorf("sqlstore: audit tenant id is required")
	}
	if strings.TrimSpace(record.Action) == "" {
		return fmt.Errorf("sqlstore: audit action is required")
	}
	id := strings.TrimSpace(record.ID)
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := record.Timestamp.UTC()
	if record.Timestamp.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.repo.Create(ctx, &auditRecord{
		ID:           id,
		TenantID:     strings.TrimSpace(record.TenantID),
		Action:       strings.TrimSpace(record.Action),
		ResourceType: strings.TrimSpace(record.ResourceType),
		ResourceID:   strings.TrimSpace(record.ResourceID),
		ActorID:      strings.TrimSpace(record.ActorID),
		ActorName:    strings.TrimSpace(record.ActorName),
		Metadata:     core.RedactSensitiveMap(record.Metadata),
		CreatedAt:    createdAt,
	})
	return err
}

func (s *AuditStore) List(ctx context.Context, filter AuditFilter) (AuditPage, error) {
	if s == nil || s.repo == nil {
		return AuditPage{}, fmt.Errorf("sqlstore: audit store is not configured")
	}
	tenantID := strings.TrimSpace(filter.TenantID)
	if tenantID == "" {
		return AuditPage{}, core.NewMissingParameterError("tenant_id")
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	offset := (page - 1) * perPage

	selectors := []repository.SelectCriteria{
		repository.SelectBy("tenant_id", "=", tenantID),
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(perPage, offset),
	}
	if action := strings.TrimSpace(filter.Action); action != "" {
		selectors = append(selectors, repository.SelectBy("action", "=", action))
	}
	if filter.From != nil {
		selectors = append(selectors, repository.SelectByTimetz("created_at", ">=", filter.From.UTC()))
	}
	if filter.To != nil {
		selectors = append(selectors, repository.SelectByTimetz("created_at", "<=", filter.To.UTC()))
	}

	records, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return AuditPage{}, err
	}
	items := make([]core.AuditRecord, 0, len(records))
	for _, record := range records {
		items = append(items, core.AuditRecord{
			ID:           record.ID,
			TenantID:     record.TenantID,
			Action:       record.Action,
			ResourceType: record.ResourceType,
			ResourceID:   record.ResourceID,
			ActorID:      record.ActorID,
			ActorName:    record.ActorName,
			Metadata:     record.Metadata,
			Timestamp:    record.CreatedAt.UTC(),
		})
	}
	return AuditPage{
		Items:   items,
		Total:   total,
		HasNext: offset+len(items) < total,
	}, nil
}

var _ core.AuditEmitter = (*AuditStore)(nil)
