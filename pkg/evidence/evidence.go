// Package evidence turns proof artifacts into per-method trust statuses. The
// same checks back initial submission, online re-verification and offline
// verification; only the anchor confirmation source differs.
package evidence

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/chainsafe/docproof/pkg/anchor"
	apperrors "github.com/chainsafe/docproof/pkg/app/errors"
	"github.com/chainsafe/docproof/pkg/commitment"
	"github.com/chainsafe/docproof/pkg/identity"
	"github.com/chainsafe/docproof/pkg/trust"
)

var (
	errFingerprintLeak   = errors.New("proof public inputs expose the fingerprint")
	errMissingCommitment = errors.New("proof present without commitment")
	errConsensusNotMet   = errors.New("required networks did not all confirm")
)

// Proof checks p against c. A nil proof is NotRequested.
func Proof(p *commitment.Proof, c *commitment.Commitment, fingerprintHash string) trust.Status {
	if p == nil {
		return trust.NotRequestedStatus()
	}
	if c == nil {
		return trust.FailedStatus(apperrors.CryptoVerificationError(errMissingCommitment, "commitment missing"))
	}
	for _, in := range p.PublicInputs {
		if in == fingerprintHash {
			return trust.FailedStatus(apperrors.CryptoVerificationError(errFingerprintLeak, "fingerprint leaked in public inputs"))
		}
	}
	if err := commitment.Verify(p, c); err != nil {
		return trust.FailedStatus(err)
	}
	return trust.ValidStatus()
}

// Signature checks sig against fingerprintHash and, when dir is non-nil, the
// identity directory. A nil signature is NotRequested.
func Signature(ctx context.Context, sig *identity.Signature, fingerprintHash string, dir identity.Directory) trust.Status {
	if sig == nil {
		return trust.NotRequestedStatus()
	}
	out := identity.Verify(ctx, sig, fingerprintHash, dir)
	if out.Valid() {
		return trust.ValidStatus()
	}
	kind := apperrors.KindCryptoVerification
	if out.SignatureValid && !out.KeyOwnership && out.DirectoryChecked {
		kind = apperrors.KindPolicyViolation
	}
	return trust.InvalidStatus(out.Reason, kind)
}

// Anchors is the outcome of the anchoring methods.
type Anchors struct {
	Primary   trust.Status
	Secondary trust.Status
	Consensus trust.Status
}

// ExpectedNote is the hex note receipt i of c must carry. A linked secondary
// whose primary is missing has no valid note and yields "".
func ExpectedNote(fingerprintHash string, c *anchor.Consensus, i int) string {
	if c == nil || i < 0 || i >= len(c.Receipts) {
		return fingerprintHash
	}
	r := c.Receipts[i]
	if i != 1 || r == nil || r.LinkedTo == "" {
		return fingerprintHash
	}
	primary := c.Receipts[0]
	if primary == nil {
		return ""
	}
	return hex.EncodeToString(anchor.LinkNote(fingerprintHash, primary.Network, primary.TransactionID))
}

// AnchorStatuses validates the receipts of c. Confirmed receipts are reported
// with confirmation. The consensus method is only requested when two networks
// were used; it is recomputed here and never read from c.
func AnchorStatuses(fingerprintHash string, c *anchor.Consensus, confirmation trust.Confirmation) Anchors {
	out := Anchors{
		Primary:   trust.NotRequestedStatus(),
		Secondary: trust.NotRequestedStatus(),
		Consensus: trust.NotRequestedStatus(),
	}
	if c == nil || len(c.Receipts) == 0 {
		return out
	}

	statuses := make([]trust.Status, len(c.Receipts))
	for i, r := range c.Receipts {
		note := ExpectedNote(fingerprintHash, c, i)
		if note == "" {
			statuses[i] = trust.FailedStatus(apperrors.CryptoVerificationError(anchor.ErrBrokenLink, "anchor link broken"))
			continue
		}
		statuses[i] = receiptStatus(r, note, confirmation)
	}
	if len(c.Receipts) > 1 && c.Receipts[1] != nil && c.Receipts[1].LinkedTo != "" && statuses[1].Valid() {
		if err := anchor.VerifyLink(fingerprintHash, c.Receipts[0], c.Receipts[1]); err != nil {
			statuses[1] = trust.FailedStatus(apperrors.CryptoVerificationError(err, "anchor link broken"))
		}
	}

	out.Primary = statuses[0]
	if len(statuses) < 2 {
		return out
	}
	out.Secondary = statuses[1]
	out.Consensus = consensusStatus(statuses, c.RequireAll, confirmation)
	return out
}

func receiptStatus(r *anchor.Receipt, expectedNote string, confirmation trust.Confirmation) trust.Status {
	if err := anchor.CheckReceiptShape(r, expectedNote); err != nil {
		return trust.FailedStatus(apperrors.CryptoVerificationError(err, "malformed anchor receipt"))
	}
	switch r.Status {
	case anchor.StatusConfirmed:
		return trust.ConfirmedStatus(confirmation)
	case anchor.StatusPending:
		return trust.PendingStatus(fmt.Sprintf("awaiting confirmation on %s", r.Network))
	default:
		kind := r.ErrorKind
		if kind == "" {
			kind = apperrors.KindNetworkTransient
		}
		return trust.InvalidStatus(r.Error, kind)
	}
}

func consensusStatus(statuses []trust.Status, requireAll bool, confirmation trust.Confirmation) trust.Status {
	valid, pending := 0, 0
	for _, s := range statuses {
		switch s.State {
		case trust.Valid:
			valid++
		case trust.Pending:
			pending++
		}
	}
	reached := valid > 0
	if requireAll {
		reached = valid == len(statuses)
	}
	switch {
	case reached:
		return trust.ConfirmedStatus(confirmation)
	case pending > 0:
		return trust.PendingStatus("waiting for networks to confirm")
	default:
		return trust.FailedStatus(apperrors.PolicyViolationError(errConsensusNotMet, "cross-chain consensus not reached"))
	}
}
