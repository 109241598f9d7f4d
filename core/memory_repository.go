package core

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type MemoryConnectionRepository struct {
	mu          sync.RWMutex
	connections map[ConnectionKey]Connection
}

func NewMemoryConnectionRepository() *MemoryConnectionRepository {
	return &MemoryConnectionRepository{connections: make(map[ConnectionKey]Connection)}
}

func (r *MemoryConnectionRepository) Find(_ context.Context, key ConnectionKey) (Connection, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[key]
	if !ok {
		return Connection{}, false, nil
	}
	return conn.Clone(), true, nil
}

func (r *MemoryConnectionRepository) Save(_ context.Context, conn Connection) (Connection, error) {
	if err := conn.Validate(); err != nil {
		return Connection{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := conn.Key()
	if existing, ok := r.connections[key]; ok {
		conn.ID = existing.ID
		conn.CreatedAt = existing.CreatedAt
	}
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	r.connections[key] = conn.Clone()
	return conn.Clone(), nil
}

func (r *MemoryConnectionRepository) List(_ context.Context, filter ConnectionFilter) ([]Connection, error) {
	r.mu.RLock()
	out := make([]Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		if !filter.matches(conn) {
			continue
		}
		out = append(out, conn.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].Provider < out[j].Provider
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []Connection{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f ConnectionFilter) matches(conn Connection) bool {
	if f.TenantID != "" && conn.TenantID != f.TenantID {
		return false
	}
	if f.Provider != "" && conn.Provider != f.Provider {
		return false
	}
	if f.Status != "" && conn.Status != f.Status {
		return false
	}
	if f.SyncEnabled != nil && conn.SyncEnabled != *f.SyncEnabled {
		return false
	}
	return true
}

var _ ConnectionRepository = (*MemoryConnectionRepository)(nil)
