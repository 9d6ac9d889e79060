// Package identitystore persists sovereign identities in PostgreSQL.
package identitystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/chainsafe/docproof/pkg/identity"
	"github.com/chainsafe/docproof/pkg/keys"
)

type pgStore struct {
	db     *bun.DB
	cipher keys.KeyCipher
}

// NewStore creates a postgres identity directory. Private keys are encrypted
// with cipher before they are written.
func NewStore(db *bun.DB, cipher keys.KeyCipher) *pgStore {
	return &pgStore{db: db, cipher: cipher}
}

func (s *pgStore) CreateIdentity(ctx context.Context, ident *identity.Identity) error {
	dao, err := toIdentityDao(ident, s.cipher)
	if err != nil {
		return err
	}

	_, err = s.db.NewInsert().
		Model(dao).
		Exec(ctx)
	if err != nil {
		var pgErr pgdriver.Error
		if errors.As(err, &pgErr) && pgErr.IntegrityViolation() {
			return identity.ErrIdentityExists
		}
		return fmt.Errorf("failed to create identity: %w", err)
	}
	return nil
}

func (s *pgStore) Resolve(ctx context.Context, did string) (*identity.Identity, error) {
	dao := new(IdentityDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("did = ?", did).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, identity.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	return toIdentity(dao, s.cipher)
}

func (s *pgStore) UpdateState(ctx context.Context, did string, state identity.State, at time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*IdentityDao)(nil)).
		Set("state = ?", string(state)).
		Set("updated_at = ?", at).
		Where("did = ?", did).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update identity state: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return identity.ErrIdentityNotFound
	}
	return nil
}
