// Package anchor submits fingerprints to ledger networks, polls them until
// confirmed and combines receipts from two networks into a cross-chain
// consensus.
package anchor

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle of a single anchor.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

const (
	linkDomain = "docproof/link/v1"
	linkSep    = "|"

	maxTransactionIDLen = 128
)

var (
	ErrMalformedReceipt = errors.New("malformed anchor receipt")
	ErrBrokenLink       = errors.New("secondary anchor is not linked to primary")
	ErrNotSubmitted     = errors.New("anchor was never accepted by the network")
)

// Receipt records one submission of a note to one network. It can be trusted
// only once ConfirmedAt is set.
type Receipt struct {
	Network       string           `json:"network"`
	TransactionID string           `json:"transaction_id,omitempty"`
	Status        Status           `json:"status"`
	NoteHash      string           `json:"note_hash"`
	LinkedTo      string           `json:"linked_to,omitempty"`
	SubmittedAt   time.Time        `json:"submitted_at"`
	ConfirmedAt   *time.Time       `json:"confirmed_at,omitempty"`
	Fee           *decimal.Decimal `json:"fee,omitempty"`
	Error         string           `json:"error,omitempty"`
	ErrorKind     string           `json:"error_kind,omitempty"`
}

// Confirmed reports whether the receipt is final.
func (r *Receipt) Confirmed() bool {
	return r != nil && r.Status == StatusConfirmed && r.ConfirmedAt != nil && r.TransactionID != ""
}

// Reference is the network-qualified transaction ID, used as the link target.
func (r *Receipt) Reference() string {
	return r.Network + ":" + r.TransactionID
}

func (r *Receipt) clone() *Receipt {
	cp := *r
	if r.ConfirmedAt != nil {
		at := *r.ConfirmedAt
		cp.ConfirmedAt = &at
	}
	if r.Fee != nil {
		fee := *r.Fee
		cp.Fee = &fee
	}
	return &cp
}

// Consensus aggregates receipts from one or more networks.
type Consensus struct {
	Receipts         []*Receipt `json:"receipts"`
	RequireAll       bool       `json:"require_all"`
	ConsensusReached bool       `json:"consensus_reached"`
}

// Primary returns the first receipt, or nil.
func (c *Consensus) Primary() *Receipt {
	if c == nil || len(c.Receipts) == 0 {
		return nil
	}
	return c.Receipts[0]
}

// Secondary returns the second receipt, or nil.
func (c *Consensus) Secondary() *Receipt {
	if c == nil || len(c.Receipts) < 2 {
		return nil
	}
	return c.Receipts[1]
}

// EvaluateConsensus reports consensus over receipts: every receipt confirmed
// when requireAll is set, otherwise at least one.
func EvaluateConsensus(receipts []*Receipt, requireAll bool) *Consensus {
	c := &Consensus{Receipts: receipts, RequireAll: requireAll}
	c.ConsensusReached = Reached(receipts, requireAll)
	return c
}

// Reached applies the consensus rule without building a Consensus.
func Reached(receipts []*Receipt, requireAll bool) bool {
	confirmed := 0
	for _, r := range receipts {
		if r.Confirmed() {
			confirmed++
		}
	}
	if requireAll {
		return len(receipts) > 0 && confirmed == len(receipts)
	}
	return confirmed > 0
}

// LinkNote is the note anchored on the secondary network. It binds the
// fingerprint to the primary network's transaction so neither anchor can be
// swapped out without breaking the link.
func LinkNote(fingerprintHash, primaryNetwork, primaryTxID string) []byte {
	sum := sha256.Sum256([]byte(strings.Join([]string{linkDomain, fingerprintHash, primaryNetwork, primaryTxID}, linkSep)))
	return sum[:]
}

// FingerprintNote is the note anchored for a fingerprint hash.
func FingerprintNote(fingerprintHash string) ([]byte, error) {
	note, err := hex.DecodeString(fingerprintHash)
	if err != nil || len(note) == 0 {
		return nil, fmt.Errorf("%w: fingerprint hash is not hex", ErrMalformedReceipt)
	}
	return note, nil
}

// VerifyLink checks that secondary anchors the link note of primary.
func VerifyLink(fingerprintHash string, primary, secondary *Receipt) error {
	if primary == nil || secondary == nil {
		return ErrBrokenLink
	}
	if primary.TransactionID == "" || secondary.LinkedTo != primary.Reference() {
		return fmt.Errorf("%w: linked_to %q", ErrBrokenLink, secondary.LinkedTo)
	}
	want := hex.EncodeToString(LinkNote(fingerprintHash, primary.Network, primary.TransactionID))
	if secondary.NoteHash != want {
		return fmt.Errorf("%w: note hash mismatch", ErrBrokenLink)
	}
	return nil
}

// CheckReceiptShape validates a receipt without contacting the network.
// expectedNote is the hex note the receipt must carry.
func CheckReceiptShape(r *Receipt, expectedNote string) error {
	if r == nil {
		return fmt.Errorf("%w: missing", ErrMalformedReceipt)
	}
	if r.Network == "" {
		return fmt.Errorf("%w: network is empty", ErrMalformedReceipt)
	}
	if r.NoteHash != expectedNote {
		return fmt.Errorf("%w: note hash does not match", ErrMalformedReceipt)
	}
	switch r.Status {
	case StatusConfirmed:
		if r.ConfirmedAt == nil || r.ConfirmedAt.IsZero() {
			return fmt.Errorf("%w: confirmed without timestamp", ErrMalformedReceipt)
		}
	case StatusPending, StatusFailed:
		if r.ConfirmedAt != nil {
			return fmt.Errorf("%w: %s receipt carries a confirmation", ErrMalformedReceipt, r.Status)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrMalformedReceipt, r.Status)
	}
	if r.Status != StatusFailed {
		if r.TransactionID == "" || len(r.TransactionID) > maxTransactionIDLen || strings.ContainsAny(r.TransactionID, " \t\r\n") {
			return fmt.Errorf("%w: bad transaction id", ErrMalformedReceipt)
		}
	}
	if r.Fee != nil && r.Fee.IsNegative() {
		return fmt.Errorf("%w: negative fee", ErrMalformedReceipt)
	}
	return nil
}
