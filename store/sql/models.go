package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

// connectionRecord stores tokens as sealed bytes when a secret provider is
// configured and as raw bytes otherwise.
type connectionRecord struct {
	bun.BaseModel `bun:"table:integration_connections,alias:ic"`

	ID             string         `bun:"id,pk"`
	TenantID       string         `bun:"tenant_id,notnull"`
	Provider       string         `bun:"provider,notnull"`
	Status         string         `bun:"status,notnull"`
	AccessToken    []byte         `bun:"access_token"`
	RefreshToken   []byte         `bun:"refresh_token"`
	ExpiresAt      *time.Time     `bun:"expires_at,nullzero"`
	AccountEmail   string         `bun:"account_email,notnull"`
	AccountName    string         `bun:"account_name,notnull"`
	LastSyncAt     *time.Time     `bun:"last_sync_at,nullzero"`
	LastSyncStatus string         `bun:"last_sync_status,notnull"`
	SyncEnabled    bool           `bun:"sync_enabled,notnull"`
	Metadata       map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt      time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type auditRecord struct {
	bun.BaseModel `bun:"table:integration_audit_log,alias:ial"`

	ID           string         `bun:"id,pk"`
	TenantID     string         `bun:"tenant_id,notnull"`
	Action       string         `bun:"action,notnull"`
	ResourceType string         `bun:"resource_type,notnull"`
	ResourceID   string         `bun:"resource_id,notnull"`
	ActorID      string         `bun:"actor_id,notnull"`
	ActorName    string         `bun:"actor_name,notnull"`
	Metadata     map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt    time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type stateNonceRecord struct {
	bun.BaseModel `bun:"table:integration_state_nonces,alias:isn"`

	Nonce     string    `bun:"nonce,pk"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
