package core

import (
	"context"
	"strings"
	"sync"
)

const (
	ActionConnect    = "connect"
	ActionDisconnect = "disconnect"
	ActionSync       = "sync"
	ActionConfigure  = "configure"
)

type AllowAllGate struct{}

func (AllowAllGate) Authorize(context.Context, Actor, string) error { return nil }

// MembershipFunc reports whether actorID belongs to tenantID.
type MembershipFunc func(ctx context.Context, tenantID string, actorID string) (bool, error)

// TenantMembershipGate admits actors that are members of the tenant they act on.
type TenantMembershipGate struct {
	IsMember MembershipFunc
}

func (g TenantMembershipGate) Authorize(ctx context.Context, actor Actor, action string) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(actor.ActorID) == "" {
		return NewMissingParameterError("actor_id")
	}
	if g.IsMember == nil {
		return NewForbiddenError(actor, action)
	}
	ok, err := g.IsMember(ctx, actor.TenantID, actor.ActorID)
	if err != nil {
		return err
	}
	if !ok {
		return NewForbiddenError(actor, action)
	}
	return nil
}

type NopAuditEmitter struct{}

func (NopAuditEmitter) Emit(context.Context, AuditRecord) error { return nil }

// MemoryAuditEmitter keeps emitted records in memory, mostly for tests and
// single-process deployments.
type MemoryAuditEmitter struct {
	mu      sync.Mutex
	records []AuditRecord
}

func NewMemoryAuditEmitter() *MemoryAuditEmitter {
	return &MemoryAuditEmitter{}
}

func (e *MemoryAuditEmitter) Emit(_ context.Context, record AuditRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	record.Metadata = copyAnyMap(record.Metadata)
	e.records = append(e.records, record)
	return nil
}

func (e *MemoryAuditEmitter) Records() []AuditRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]AuditRecord, len(e.records))
	copy(out, e.records)
	return out
}

func (e *MemoryAuditEmitter) Actions() []string {
	records := e.Records()
	out := make([]string, 0, len(records))
	for _, record := range records {
		out = append(out, record.Action)
	}
	return out
}

type NopUnitSink struct{}

func (NopUnitSink) Store(context.Context, Connection, UnitPayload) error { return nil }

var (
	_ AuthorizationGate = AllowAllGate{}
	_ AuthorizationGate = TenantMembershipGate{}
	_ AuditEmitter      = NopAuditEmitter{}
	_ AuditEmitter      = (*MemoryAuditEmitter)(nil)
	_ UnitSink          = NopUnitSink{}
)
