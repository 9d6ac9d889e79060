// Package record defines the stored proof bundle.
package record

import (
	"time"

	"github.com/google/uuid"

	"github.com/chainsafe/docproof/pkg/anchor"
	"github.com/chainsafe/docproof/pkg/commitment"
	"github.com/chainsafe/docproof/pkg/fingerprint"
	"github.com/chainsafe/docproof/pkg/identity"
	"github.com/chainsafe/docproof/pkg/trust"
)

// ContentRef points at one original document in the blob store.
type ContentRef struct {
	Name      string `json:"name,omitempty"`
	ContentID string `json:"content_id"`
	URL       string `json:"url,omitempty"`
	Size      int64  `json:"size"`
}

// Record is a complete proof bundle. It is written once at the end of the
// submission pipeline and never mutated afterwards.
type Record struct {
	ID              uuid.UUID                  `json:"id"`
	Fingerprint     *fingerprint.Fingerprint   `json:"fingerprint"`
	Files           []*fingerprint.Fingerprint `json:"files,omitempty"`
	Commitment      *commitment.Commitment     `json:"commitment,omitempty"`
	Proof           *commitment.Proof          `json:"proof,omitempty"`
	Signature       *identity.Signature        `json:"signature,omitempty"`
	Consensus       *anchor.Consensus          `json:"consensus,omitempty"`
	Methods         trust.Evidence             `json:"methods"`
	TrustScore      int                        `json:"trust_score"`
	Level           trust.Level                `json:"verification_level"`
	CourtAdmissible bool                       `json:"court_admissible"`
	Contents        []ContentRef               `json:"contents,omitempty"`
	Description     string                     `json:"description,omitempty"`
	CreatedAt       time.Time                  `json:"created_at"`
}

// Classification returns the stored verdict.
func (r *Record) Classification() trust.Classification {
	return trust.Classification{Level: r.Level, TrustScore: r.TrustScore, CourtAdmissible: r.CourtAdmissible}
}

// Anchored reports whether any anchor was requested.
func (r *Record) Anchored() bool {
	return r.Consensus != nil && len(r.Consensus.Receipts) > 0
}

// Report lists every method outcome stored on the record.
func (r *Record) Report() []trust.MethodResult {
	return trust.MethodReport(r.Methods)
}
