package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/chainsafe/docproof/pkg/anchor"
	"github.com/chainsafe/docproof/pkg/record"
)

// SQLiteRecord is the embedded store row for a proof record.
type SQLiteRecord struct {
	ID              string `gorm:"primaryKey"`
	FingerprintHash string `gorm:"index"`
	Level           string
	TrustScore      int
	CourtAdmissible bool
	Body            []byte
	CreatedAt       time.Time `gorm:"index:,sort:desc"`
}

// SQLiteConfirmation is the embedded store row for an anchor confirmation.
type SQLiteConfirmation struct {
	RecordID     string `gorm:"primaryKey"`
	ReceiptIndex int    `gorm:"primaryKey"`
	Status       string `gorm:"index"`
	Receipt      []byte
	Attempts     int
	UpdatedAt    time.Time `gorm:"index:,sort:asc"`
}

type sqliteStore struct {
	db *gorm.DB
}

// OpenSQLite opens (and migrates) an embedded record store at path. Use
// "file::memory:?cache=shared" for a throwaway store.
func OpenSQLite(path string) (*sqliteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store %s: %w", path, err)
	}
	if err := db.AutoMigrate(&SQLiteRecord{}, &SQLiteConfirmation{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite store: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *sqliteStore) SaveRecord(ctx context.Context, rec *record.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	row := &SQLiteRecord{
		ID:              rec.ID.String(),
		FingerprintHash: rec.Fingerprint.Hash,
		Level:           string(rec.Level),
		TrustScore:      rec.TrustScore,
		CourtAdmissible: rec.CourtAdmissible,
		Body:            body,
		CreatedAt:       rec.CreatedAt,
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return record.ErrRecordExists
			}
			return fmt.Errorf("failed to insert proof record: %w", err)
		}
		for _, c := range record.PendingConfirmations(rec, rec.CreatedAt) {
			conf, err := toSQLiteConfirmation(c)
			if err != nil {
				return err
			}
			if err := tx.Create(conf).Error; err != nil {
				return fmt.Errorf("failed to insert anchor confirmation: %w", err)
			}
		}
		return nil
	})
}

func (s *sqliteStore) GetRecord(ctx context.Context, id uuid.UUID) (*record.Record, error) {
	var row SQLiteRecord
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id.String()).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, record.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get proof record: %w", err)
	}
	return decodeRecord(row.Body)
}

func (s *sqliteStore) FindByFingerprint(ctx context.Context, hash string) ([]*record.Record, error) {
	var rows []SQLiteRecord
	if err := s.db.WithContext(ctx).Where("fingerprint_hash = ?", hash).Order("created_at desc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to find proof records: %w", err)
	}
	out := make([]*record.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := decodeRecord(row.Body)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *sqliteStore) ListConfirmations(ctx context.Context, recordID uuid.UUID) ([]*record.AnchorConfirmation, error) {
	var rows []SQLiteConfirmation
	if err := s.db.WithContext(ctx).Where("record_id = ?", recordID.String()).Order("receipt_index asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list anchor confirmations: %w", err)
	}
	return fromSQLiteConfirmations(rows)
}

func (s *sqliteStore) ListPendingAnchors(ctx context.Context, limit int) ([]*record.AnchorConfirmation, error) {
	var rows []SQLiteConfirmation
	q := s.db.WithContext(ctx).Where("status = ?", string(anchor.StatusPending)).Order("updated_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending anchors: %w", err)
	}
	return fromSQLiteConfirmations(rows)
}

func (s *sqliteStore) SaveConfirmation(ctx context.Context, c *record.AnchorConfirmation) error {
	row, err := toSQLiteConfirmation(c)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "record_id"}, {Name: "receipt_index"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "receipt", "attempts", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("failed to save anchor confirmation: %w", err)
	}
	return nil
}

func toSQLiteConfirmation(c *record.AnchorConfirmation) (*SQLiteConfirmation, error) {
	receipt, err := json.Marshal(c.Receipt)
	if err != nil {
		return nil, err
	}
	return &SQLiteConfirmation{
		RecordID:     c.RecordID.String(),
		ReceiptIndex: c.ReceiptIndex,
		Status:       string(c.Receipt.Status),
		Receipt:      receipt,
		Attempts:     c.Attempts,
		UpdatedAt:    c.UpdatedAt,
	}, nil
}

func fromSQLiteConfirmations(rows []SQLiteConfirmation) ([]*record.AnchorConfirmation, error) {
	out := make([]*record.AnchorConfirmation, 0, len(rows))
	for _, row := range rows {
		id, err := uuid.Parse(row.RecordID)
		if err != nil {
			return nil, err
		}
		receipt := new(anchor.Receipt)
		if err := json.Unmarshal(row.Receipt, receipt); err != nil {
			return nil, err
		}
		out = append(out, &record.AnchorConfirmation{
			RecordID:     id,
			ReceiptIndex: row.ReceiptIndex,
			Receipt:      receipt,
			Attempts:     row.Attempts,
			UpdatedAt:    row.UpdatedAt,
		})
	}
	return out, nil
}
