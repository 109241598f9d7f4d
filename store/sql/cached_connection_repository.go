package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/goliatone/go-integrations/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const connectionCacheKeyPrefix = "go-integrations::connection::v1"

type cachedConnection struct {
	Connection core.Connection
	Found      bool
}

// CachedConnectionRepository serves Find from a read-through cache and drops
// the cached entry whenever Save writes the key. List and FindFresh always
// read the base.
//
// Each key carries a write generation. A Find whose fetch overlapped a Save
// evicts whatever it filled and answers from the base instead.
type CachedConnectionRepository struct {
	base  core.ConnectionRepository
	cache repositorycache.CacheService

	mu          sync.Mutex
	generations map[string]uint64
}

func NewCachedConnectionRepository(
	base core.ConnectionRepository,
	cacheService repositorycache.CacheService,
) (*CachedConnectionRepository, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base connection repository is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: connection cache service is required")
	}
	return &CachedConnectionRepository{
		base:        base,
		cache:       cacheService,
		generations: map[string]uint64{},
	}, nil
}

// ConnectionCacheKey returns go-integrations::connection::v1::<tenant>::<provider>
// with each segment URL-path escaped.
func ConnectionCacheKey(key core.ConnectionKey) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	segments := []string{
		connectionCacheKeyPrefix,
		url.PathEscape(strings.TrimSpace(key.TenantID)),
		url.PathEscape(string(key.Provider)),
	}
	return strings.Join(segments, "::"), nil
}

func (s *CachedConnectionRepository) Find(ctx context.Context, key core.ConnectionKey) (core.Connection, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Connection{}, false, fmt.Errorf("sqlstore: cached connection repository is not configured")
	}
	cacheKey, err := ConnectionCacheKey(key)
	if err != nil {
		return core.Connection{}, false, err
	}
	generation := s.generation(cacheKey)
	entry, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (cachedConnection, error) {
		conn, found, fetchErr := s.base.Find(ctx, key)
		if fetchErr != nil {
			return cachedConnection{}, fetchErr
		}
		return cachedConnection{Connection: conn.Clone(), Found: found}, nil
	})
	if err != nil {
		return core.Connection{}, false, err
	}
	if s.generation(cacheKey) != generation {
		if err := s.cache.Delete(ctx, cacheKey); err != nil {
			return core.Connection{}, false, err
		}
		return s.base.Find(ctx, key)
	}
	if !entry.Found {
		return core.Connection{}, false, nil
	}
	return entry.Connection.Clone(), true, nil
}

func (s *CachedConnectionRepository) Save(ctx context.Context, conn core.Connection) (core.Connection, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: cached connection repository is not configured")
	}
	cacheKey, err := ConnectionCacheKey(conn.Key())
	if err != nil {
		return core.Connection{}, err
	}
	saved, err := s.base.Save(ctx, conn)
	if err != nil {
		return core.Connection{}, err
	}
	s.bump(cacheKey)
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		return core.Connection{}, err
	}
	return saved, nil
}

// FindFresh bypasses the cache. Read-modify-write paths use it so a patch is
// never applied to a cached copy.
func (s *CachedConnectionRepository) FindFresh(ctx context.Context, key core.ConnectionKey) (core.Connection, bool, error) {
	if s == nil || s.base == nil {
		return core.Connection{}, false, fmt.Errorf("sqlstore: cached connection repository is not configured")
	}
	return s.base.Find(ctx, key)
}

func (s *CachedConnectionRepository) generation(cacheKey string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[cacheKey]
}

func (s *CachedConnectionRepository) bump(cacheKey string) {
	s.mu.Lock()
	if s.generations == nil {
		s.generations = map[string]uint64{}
	}
	s.generations[cacheKey]++
	s.mu.Unlock()
}

func (s *CachedConnectionRepository) List(ctx context.Context, filter core.ConnectionFilter) ([]core.Connection, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached connection repository is not configured")
	}
	return s.base.List(ctx, filter)
}

var (
	_ core.ConnectionRepository  = (*CachedConnectionRepository)(nil)
	_ core.FreshConnectionReader = (*CachedConnectionRepository)(nil)
)
