package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/uptrace/bun"
)

const defaultNonceTTL = 15 * time.Minute

// NonceStore records consumed state nonces in integration_state_nonces so a
// state token is accepted once across every process sharing the database.
type NonceStore struct {
	db  *bun.DB
	now core.Clock
}

func NewNonceStore(db *bun.DB) (*NonceStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &NonceStore{db: db, now: time.Now}, nil
}

func (s *NonceStore) Consume(ctx context.Context, nonce string, ttl time.Duration) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: nonce store is not configured")
	}
	nonce = strings.TrimSpace(nonce)
	if nonce == "" {
		return core.ErrNonceReplayed
	}
	if ttl <= 0 {
		ttl = defaultNonceTTL
	}
	now := s.now().UTC()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*stateNonceRecord)(nil)).
			Where("expires_at <= ?", now).
			Exec(ctx); err != nil {
			return err
		}
		res, err := tx.NewInsert().
			Model(&stateNonceRecord{Nonce: nonce, ExpiresAt: now.Add(ttl), CreatedAt: now}).
			On("CONFLICT (nonce) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return core.ErrNonceReplayed
		}
		return nil
	})
}

var _ core.NonceRegistry = (*NonceStore)(nil)
