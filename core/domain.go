package core

import (
	"fmt"
	"strings"
	"time"
)

type ProviderKind string

const (
	ProviderERP       ProviderKind = "erp"
	ProviderCalendarA ProviderKind = "calendar_a"
	ProviderCalendarB ProviderKind = "calendar_b"
)

// KnownProviders lists every provider kind in display order.
func KnownProviders() []ProviderKind {
	return []ProviderKind{ProviderERP, ProviderCalendarA, ProviderCalendarB}
}

func ParseProviderKind(value string) (ProviderKind, error) {
	normalized := strings.TrimSpace(strings.ToLower(value))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	switch normalized {
	case string(ProviderERP):
		return ProviderERP, nil
	case string(ProviderCalendarA), "calendara":
		return ProviderCalendarA, nil
	case string(ProviderCalendarB), "calendarb":
		return ProviderCalendarB, nil
	}
	return "", newUnknownProviderError(value)
}

func (k ProviderKind) Valid() bool {
	_, err := ParseProviderKind(string(k))
	return err == nil
}

type ConnectionStatus string

const (
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusError        ConnectionStatus = "error"
)

type SyncStatus string

const (
	SyncStatusNever   SyncStatus = "never"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusPartial SyncStatus = "partial"
	SyncStatusFailed  SyncStatus = "failed"
)

// ConnectionKey identifies the single connection a tenant may hold per provider.
type ConnectionKey struct {
	TenantID string
	Provider ProviderKind
}

func (k ConnectionKey) String() string {
	return strings.TrimSpace(k.TenantID) + ":" + string(k.Provider)
}

func (k ConnectionKey) Validate() error {
	if strings.TrimSpace(k.TenantID) == "" {
		return NewMissingParameterError("tenant_id")
	}
	if !k.Provider.Valid() {
		return newUnknownProviderError(string(k.Provider))
	}
	return nil
}

type Connection struct {
	ID             string
	TenantID       string
	Provider       ProviderKind
	Status         ConnectionStatus
	AccessToken    string
	RefreshToken   string
	ExpiresAt      *time.Time
	AccountEmail   string
	AccountName    string
	LastSyncAt     *time.Time
	LastSyncStatus SyncStatus
	SyncEnabled    bool
	Metadata       map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (c Connection) Key() ConnectionKey {
	return ConnectionKey{TenantID: c.TenantID, Provider: c.Provider}
}

func (c Connection) Connected() bool {
	return c.Status == ConnectionStatusConnected
}

// Expired reports whether the access token is past its expiry, allowing skew.
// Connections without an expiry never expire.
func (c Connection) Expired(now time.Time, skew time.Duration) bool {
	if c.ExpiresAt == nil || c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(*c.ExpiresAt)
}

func (c Connection) Validate() error {
	if err := c.Key().Validate(); err != nil {
		return err
	}
	if c.Status == ConnectionStatusConnected && strings.TrimSpace(c.AccessToken) == "" {
		return NewInvalidConnectionStateError(c.Key(), "connected status requires an access token")
	}
	return nil
}

func (c Connection) View() ConnectionView {
	return ConnectionView{
		Provider:       c.Provider,
		Status:         c.Status,
		AccountEmail:   c.AccountEmail,
		AccountName:    c.AccountName,
		LastSyncAt:     cloneTimePointer(c.LastSyncAt),
		LastSyncStatus: c.LastSyncStatus,
		SyncEnabled:    c.SyncEnabled,
		Mock:           metadataBool(c.Metadata, MetadataKeyMock),
	}
}

func (c Connection) Clone() Connection {
	out := c
	out.ExpiresAt = cloneTimePointer(c.ExpiresAt)
	out.LastSyncAt = cloneTimePointer(c.LastSyncAt)
	out.Metadata = copyAnyMap(c.Metadata)
	return out
}

// ConnectionView is the token-free projection returned by status reads.
type ConnectionView struct {
	Provider       ProviderKind     `json:"provider"`
	Status         ConnectionStatus `json:"status"`
	AccountEmail   string           `json:"account_email,omitempty"`
	AccountName    string           `json:"account_name,omitempty"`
	LastSyncAt     *time.Time       `json:"last_sync_at,omitempty"`
	LastSyncStatus SyncStatus       `json:"last_sync_status"`
	SyncEnabled    bool             `json:"sync_enabled"`
	Mock           bool             `json:"mock,omitempty"`
}

// ConnectionPatch carries a partial update. Nil fields are left untouched.
type ConnectionPatch struct {
	Status         *ConnectionStatus
	AccessToken    *string
	RefreshToken   *string
	ExpiresAt      *time.Time
	ClearExpiresAt bool
	AccountEmail   *string
	AccountName    *string
	LastSyncAt     *time.Time
	LastSyncStatus *SyncStatus
	SyncEnabled    *bool
	Metadata       map[string]any
	// RemoveMetadata names keys deleted after Metadata is merged.
	RemoveMetadata []string
	// Reconnect records a connected transition even if the record was
	// already connected, as happens when a tenant re-authorizes.
	Reconnect bool
}

func (p ConnectionPatch) apply(conn Connection) Connection {
	out := conn.Clone()
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.AccessToken != nil {
		out.AccessToken = strings.TrimSpace(*p.AccessToken)
	}
	if p.RefreshToken != nil {
		out.RefreshToken = strings.TrimSpace(*p.RefreshToken)
	}
	if p.ClearExpiresAt {
		out.ExpiresAt = nil
	}
	if p.ExpiresAt != nil {
		out.ExpiresAt = cloneTimePointer(p.ExpiresAt)
	}
	if p.AccountEmail != nil {
		out.AccountEmail = strings.TrimSpace(*p.AccountEmail)
	}
	if p.AccountName != nil {
		out.AccountName = strings.TrimSpace(*p.AccountName)
	}
	if p.LastSyncAt != nil {
		out.LastSyncAt = cloneTimePointer(p.LastSyncAt)
	}
	if p.LastSyncStatus != nil {
		out.LastSyncStatus = *p.LastSyncStatus
	}
	if p.SyncEnabled != nil {
		out.SyncEnabled = *p.SyncEnabled
	}
	if len(p.Metadata) > 0 {
		if out.Metadata == nil {
			out.Metadata = map[string]any{}
		}
		for key, value := range p.Metadata {
			out.Metadata[key] = value
		}
	}
	for _, key := range p.RemoveMetadata {
		delete(out.Metadata, key)
	}
	return out
}

// TokenPatch builds the patch that stores a freshly issued token set.
func TokenPatch(tokens TokenSet) ConnectionPatch {
	access := tokens.AccessToken
	refresh := tokens.RefreshToken
	patch := ConnectionPatch{
		AccessToken:    &access,
		ExpiresAt:      cloneTimePointer(tokens.ExpiresAt),
		ClearExpiresAt: tokens.ExpiresAt == nil,
		Metadata:       copyAnyMap(tokens.Metadata),
	}
	if strings.TrimSpace(refresh) != "" {
		patch.RefreshToken = &refresh
	}
	return patch
}

type Actor struct {
	TenantID  string
	ActorID   string
	ActorName string
}

func (a Actor) Validate() error {
	if strings.TrimSpace(a.TenantID) == "" {
		return NewMissingParameterError("tenant_id")
	}
	return nil
}

func SystemActor(tenantID string) Actor {
	return Actor{TenantID: tenantID, ActorID: "system", ActorName: "System"}
}

// AuthorizationState is the payload carried through the provider redirect.
type AuthorizationState struct {
	TenantID string
	Provider ProviderKind
	Nonce    string
	IssuedAt time.Time
}

type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Metadata     map[string]any
}

type AccountInfo struct {
	Email    string
	Name     string
	Metadata map[string]any
}

type UnitPayload struct {
	UnitKey int
	Period  int
	Records []map[string]any
	Raw     []byte
}

type SyncUnitError struct {
	UnitKey int    `json:"unit_key"`
	Message string `json:"message"`
}

type SyncBatchResult struct {
	RequestedUnits []int           `json:"requested_units"`
	SyncedCount    int             `json:"synced"`
	Errors         []SyncUnitError `json:"errors"`
}

// Status derives the durable sync outcome from the batch counters.
func (r SyncBatchResult) Status() SyncStatus {
	switch {
	case len(r.Errors) == 0:
		return SyncStatusSuccess
	case r.SyncedCount > 0:
		return SyncStatusPartial
	default:
		return SyncStatusFailed
	}
}

type AuditRecord struct {
	ID           string
	TenantID     string
	Action       string
	ResourceType string
	ResourceID   string
	ActorID      string
	ActorName    string
	Metadata     map[string]any
	Timestamp    time.Time
}

const (
	AuditResourceConnection = "integration_connection"

	AuditActionConnected      = "connected"
	AuditActionDisconnected   = "disconnected"
	AuditActionTokenRefreshed = "token_refreshed"
	AuditActionSynced         = "synced"
	AuditActionSyncToggled    = "sync_toggled"
)

// AuditAction namespaces an action under the provider, e.g. "erp.connected".
func AuditAction(provider ProviderKind, action string) string {
	return fmt.Sprintf("%s.%s", provider, action)
}

const (
	MetadataKeyMock      = "mock"
	MetadataKeyCompanyID = "company_id"
)

func metadataBool(metadata map[string]any, key string) bool {
	if len(metadata) == 0 {
		return false
	}
	switch value := metadata[key].(type) {
	case bool:
		return value
	case string:
		return strings.EqualFold(strings.TrimSpace(value), "true")
	default:
		return false
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func cloneTimePointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := value.UTC()
	return &clone
}
