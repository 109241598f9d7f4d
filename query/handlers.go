package query

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-integrations/core"
)

type StatusReader interface {
	Status(ctx context.Context, in core.StatusInput) (core.ConnectionView, bool, error)
	StatusAll(ctx context.Context, tenantID string) (map[core.ProviderKind]core.ConnectionView, error)
}

type SyncTargetReader interface {
	ListSyncTargets(ctx context.Context, limit int) ([]core.ConnectionKey, error)
}

// ConnectionStatus is the status of one provider. Found is false when the
// tenant never connected it.
type ConnectionStatus struct {
	Found      bool                `json:"found"`
	Connection core.ConnectionView `json:"connection"`
}

type ConnectionStatusQuery struct {
	reader StatusReader
}

func NewConnectionStatusQuery(reader StatusReader) *ConnectionStatusQuery {
	return &ConnectionStatusQuery{reader: reader}
}

func (q *ConnectionStatusQuery) Query(ctx context.Context, msg ConnectionStatusMessage) (ConnectionStatus, error) {
	if q == nil || q.reader == nil {
		return ConnectionStatus{}, queryDependencyError("query: status reader is required")
	}
	view, found, err := q.reader.Status(ctx, core.StatusInput{TenantID: msg.TenantID, Provider: msg.Provider})
	if err != nil {
		return ConnectionStatus{}, err
	}
	return ConnectionStatus{Found: found, Connection: view}, nil
}

type TenantStatusQuery struct {
	reader StatusReader
}

func NewTenantStatusQuery(reader StatusReader) *TenantStatusQuery {
	return &TenantStatusQuery{reader: reader}
}

func (q *TenantStatusQuery) Query(ctx context.Context, msg TenantStatusMessage) (map[core.ProviderKind]core.ConnectionView, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: status reader is required")
	}
	return q.reader.StatusAll(ctx, msg.TenantID)
}

type SyncTargetsQuery struct {
	reader SyncTargetReader
}

func NewSyncTargetsQuery(reader SyncTargetReader) *SyncTargetsQuery {
	return &SyncTargetsQuery{reader: reader}
}

func (q *SyncTargetsQuery) Query(ctx context.Context, msg SyncTargetsMessage) ([]core.ConnectionKey, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: sync target reader is required")
	}
	return q.reader.ListSyncTargets(ctx, msg.Limit)
}

var (
	_ gocmd.Querier[ConnectionStatusMessage, ConnectionStatus]                      = (*ConnectionStatusQuery)(nil)
	_ gocmd.Querier[TenantStatusMessage, map[core.ProviderKind]core.ConnectionView] = (*TenantStatusQuery)(nil)
	_ gocmd.Querier[SyncTargetsMessage, []core.ConnectionKey]                       = (*SyncTargetsQuery)(nil)
)
