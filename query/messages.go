package query

import (
	"strings"

	"github.com/goliatone/go-integrations/core"
)

const (
	TypeConnectionStatus = "integrations.query.connection.status"
	TypeTenantStatus     = "integrations.query.tenant.status"
	TypeSyncTargets      = "integrations.query.sync_targets"
)

type ConnectionStatusMessage struct {
	TenantID string
	Provider core.ProviderKind
}

func (ConnectionStatusMessage) Type() string { return TypeConnectionStatus }

func (m ConnectionStatusMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return queryValidationError("tenant_id", "is required")
	}
	if strings.TrimSpace(string(m.Provider)) == "" {
		return queryValidationError("provider", "is required")
	}
	return nil
}

type TenantStatusMessage struct {
	TenantID string
}

func (TenantStatusMessage) Type() string { return TypeTenantStatus }

func (m TenantStatusMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return queryValidationError("tenant_id", "is required")
	}
	return nil
}

type SyncTargetsMessage struct {
	Limit int
}

func (SyncTargetsMessage) Type() string { return TypeSyncTargets }

func (m SyncTargetsMessage) Validate() error {
	if m.Limit < 0 {
		return queryValidationError("limit", "must not be negative")
	}
	return nil
}
