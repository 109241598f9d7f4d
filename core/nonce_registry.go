package core

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryNonceRegistry remembers consumed state nonces until they could no
// longer pass the age check anyway.
type MemoryNonceRegistry struct {
	cache *gocache.Cache
}

func NewMemoryNonceRegistry(ttl time.Duration) *MemoryNonceRegistry {
	if ttl <= 0 {
		ttl = defaultStateMaxAge + defaultStateClockSkew
	}
	return &MemoryNonceRegistry{cache: gocache.New(ttl, ttl)}
}

func (r *MemoryNonceRegistry) Consume(_ context.Context, nonce string, ttl time.Duration) error {
	if r == nil || r.cache == nil {
		return nil
	}
	nonce = strings.TrimSpace(nonce)
	if nonce == "" {
		return ErrNonceReplayed
	}
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	// Add fails when the key is already present and unexpired.
	if err := r.cache.Add(nonce, struct{}{}, ttl); err != nil {
		return ErrNonceReplayed
	}
	return nil
}

var _ NonceRegistry = (*MemoryNonceRegistry)(nil)
