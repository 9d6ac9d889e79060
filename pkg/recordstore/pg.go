// Package recordstore persists proof records and the anchor confirmations
// tracked beside them.
package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/chainsafe/docproof/pkg/anchor"
	"github.com/chainsafe/docproof/pkg/record"
)

type pgStore struct {
	db *bun.DB
}

// NewStore creates a postgres record store.
func NewStore(db *bun.DB) *pgStore {
	return &pgStore{db: db}
}

// SaveRecord writes rec and seeds a confirmation row for every pending receipt.
func (s *pgStore) SaveRecord(ctx context.Context, rec *record.Record) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(toRecordDao(rec)).Exec(ctx); err != nil {
			var pgErr pgdriver.Error
			if errors.As(err, &pgErr) && pgErr.IntegrityViolation() {
				return record.ErrRecordExists
			}
			return fmt.Errorf("failed to insert proof record: %w", err)
		}
		for _, c := range record.PendingConfirmations(rec, rec.CreatedAt) {
			if _, err := tx.NewInsert().Model(toAnchorConfirmationDao(c)).Exec(ctx); err != nil {
				return fmt.Errorf("failed to insert anchor confirmation: %w", err)
			}
		}
		return nil
	})
}

func (s *pgStore) GetRecord(ctx context.Context, id uuid.UUID) (*record.Record, error) {
	dao := new(RecordDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, record.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get proof record: %w", err)
	}
	return toRecord(dao), nil
}

// FindByFingerprint returns every record for hash, newest first.
func (s *pgStore) FindByFingerprint(ctx context.Context, hash string) ([]*record.Record, error) {
	var daos []RecordDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("fingerprint_hash = ?", hash).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find proof records: %w", err)
	}
	out := make([]*record.Record, 0, len(daos))
	for i := range daos {
		out = append(out, toRecord(&daos[i]))
	}
	return out, nil
}

func (s *pgStore) ListConfirmations(ctx context.Context, recordID uuid.UUID) ([]*record.AnchorConfirmation, error) {
	var daos []AnchorConfirmationDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("record_id = ?", recordID).
		Order("receipt_index ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list anchor confirmations: %w", err)
	}
	return toConfirmations(daos), nil
}

// ListPendingAnchors returns up to limit pending confirmations, least recently
// polled first.
func (s *pgStore) ListPendingAnchors(ctx context.Context, limit int) ([]*record.AnchorConfirmation, error) {
	var daos []AnchorConfirmationDao
	err := s.db.NewSelect().
		Model(&daos).
		Where("status = ?", string(anchor.StatusPending)).
		Order("updated_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending anchors: %w", err)
	}
	return toConfirmations(daos), nil
}

// SaveConfirmation upserts c by record and receipt position.
func (s *pgStore) SaveConfirmation(ctx context.Context, c *record.AnchorConfirmation) error {
	_, err := s.db.NewInsert().
		Model(toAnchorConfirmationDao(c)).
		On("CONFLICT (record_id, receipt_index) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("receipt = EXCLUDED.receipt").
		Set("attempts = EXCLUDED.attempts").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save anchor confirmation: %w", err)
	}
	return nil
}

func toConfirmations(daos []AnchorConfirmationDao) []*record.AnchorConfirmation {
	out := make([]*record.AnchorConfirmation, 0, len(daos))
	for i := range daos {
		out = append(out, toAnchorConfirmation(&daos[i]))
	}
	return out
}
