package record

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/chainsafe/docproof/pkg/anchor"
)

var (
	ErrRecordNotFound = errors.New("proof record not found")
	ErrRecordExists   = errors.New("proof record already exists")
)

// AnchorConfirmation tracks a receipt that was still pending when its record
// was written. Confirmations live beside the record, which is never updated.
type AnchorConfirmation struct {
	RecordID     uuid.UUID       `json:"record_id"`
	ReceiptIndex int             `json:"receipt_index"`
	Receipt      *anchor.Receipt `json:"receipt"`
	Attempts     int             `json:"attempts"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// PendingConfirmations lists the receipts of rec that a reconciler should
// keep polling.
func PendingConfirmations(rec *Record, at time.Time) []*AnchorConfirmation {
	if !rec.Anchored() {
		return nil
	}
	var out []*AnchorConfirmation
	for i, r := range rec.Consensus.Receipts {
		if r == nil || r.Status != anchor.StatusPending || r.TransactionID == "" {
			continue
		}
		out = append(out, &AnchorConfirmation{RecordID: rec.ID, ReceiptIndex: i, Receipt: r, UpdatedAt: at})
	}
	return out
}

// WithConfirmations returns the receipts of rec with any confirmed entries
// from confs applied. rec is not modified.
func WithConfirmations(rec *Record, confs []*AnchorConfirmation) *anchor.Consensus {
	if !rec.Anchored() {
		return nil
	}
	receipts := make([]*anchor.Receipt, len(rec.Consensus.Receipts))
	copy(receipts, rec.Consensus.Receipts)
	for _, c := range confs {
		if c.RecordID != rec.ID || c.ReceiptIndex < 0 || c.ReceiptIndex >= len(receipts) || c.Receipt == nil {
			continue
		}
		if c.Receipt.Confirmed() {
			receipts[c.ReceiptIndex] = c.Receipt
		}
	}
	return anchor.EvaluateConsensus(receipts, rec.Consensus.RequireAll)
}
