package recordstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/chainsafe/docproof/pkg/anchor"
	"github.com/chainsafe/docproof/pkg/record"
)

// RecordDao maps to the 'proof_records' table. The full record is kept as
// jsonb; the columns beside it exist for lookups.
type RecordDao struct {
	bun.BaseModel   `bun:"table:proof_records,alias:pr"`
	ID              uuid.UUID      `bun:"id,pk,type:uuid"`
	FingerprintHash string         `bun:"fingerprint_hash,notnull,type:varchar(128)"`
	Algorithm       string         `bun:"algorithm,notnull,type:varchar(16)"`
	Level           string         `bun:"verification_level,notnull,type:varchar(16)"`
	TrustScore      int            `bun:"trust_score,notnull"`
	CourtAdmissible bool           `bun:"court_admissible,notnull"`
	SignerDID       *string        `bun:"signer_did,type:varchar(128)"`
	Body            *record.Record `bun:"body,type:jsonb,notnull"`
	CreatedAt       time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// AnchorConfirmationDao maps to the 'anchor_confirmations' table.
type AnchorConfirmationDao struct {
	bun.BaseModel `bun:"table:anchor_confirmations,alias:ac"`
	ID            int64           `bun:"id,pk,autoincrement"`
	RecordID      uuid.UUID       `bun:"record_id,notnull,type:uuid,unique:record_receipt"`
	ReceiptIndex  int             `bun:"receipt_index,notnull,unique:record_receipt"`
	Network       string          `bun:"network,notnull,type:varchar(64)"`
	Status        string          `bun:"status,notnull,type:varchar(16)"`
	Receipt       *anchor.Receipt `bun:"receipt,type:jsonb,notnull"`
	Attempts      int             `bun:"attempts,notnull,default:0"`
	UpdatedAt     time.Time       `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func toRecordDao(rec *record.Record) *RecordDao {
	dao := &RecordDao{
		ID:              rec.ID,
		FingerprintHash: rec.Fingerprint.Hash,
		Algorithm:       string(rec.Fingerprint.Algorithm),
		Level:           string(rec.Level),
		TrustScore:      rec.TrustScore,
		CourtAdmissible: rec.CourtAdmissible,
		Body:            rec,
		CreatedAt:       rec.CreatedAt,
	}
	if rec.Signature != nil {
		did := rec.Signature.DID
		dao.SignerDID = &did
	}
	return dao
}

func toRecord(dao *RecordDao) *record.Record {
	return dao.Body
}

func toAnchorConfirmationDao(c *record.AnchorConfirmation) *AnchorConfirmationDao {
	return &AnchorConfirmationDao{
		RecordID:     c.RecordID,
		ReceiptIndex: c.ReceiptIndex,
		Network:      c.Receipt.Network,
		Status:       string(c.Receipt.Status),
		Receipt:      c.Receipt,
		Attempts:     c.Attempts,
		UpdatedAt:    c.UpdatedAt,
	}
}

func toAnchorConfirmation(dao *AnchorConfirmationDao) *record.AnchorConfirmation {
	return &record.AnchorConfirmation{
		RecordID:     dao.RecordID,
		ReceiptIndex: dao.ReceiptIndex,
		Receipt:      dao.Receipt,
		Attempts:     dao.Attempts,
		UpdatedAt:    dao.UpdatedAt,
	}
}
