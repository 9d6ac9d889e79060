package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chainsafe/docproof/internal/metrics"
	"github.com/chainsafe/docproof/pkg/anchor"
	apperrors "github.com/chainsafe/docproof/pkg/app/errors"
	"github.com/chainsafe/docproof/pkg/evidence"
	"github.com/chainsafe/docproof/pkg/fingerprint"
	"github.com/chainsafe/docproof/pkg/record"
	"github.com/chainsafe/docproof/pkg/trust"
)

var errAnchorMissing = errors.New("confirmed anchor not found on network")

// Verification is the outcome of re-verifying a stored record.
type Verification struct {
	RecordID         uuid.UUID            `json:"record_id"`
	FingerprintHash  string               `json:"fingerprint_hash"`
	Methods          []trust.MethodResult `json:"methods"`
	Attempted        []trust.Method       `json:"methods_attempted"`
	Succeeded        []trust.Method       `json:"methods_succeeded"`
	Failed           []trust.Method       `json:"methods_failed"`
	Stored           trust.Classification `json:"stored"`
	ContentChecked   bool                 `json:"content_checked"`
	ContentMatch     bool                 `json:"content_match"`
	ChallengeChecked bool                 `json:"challenge_checked"`
	ChallengeMatch   bool                 `json:"challenge_match"`
	VerifiedAt       time.Time            `json:"verified_at"`
	trust.Classification
}

// Verify re-checks record id against live collaborators. When challenge is
// non-nil it is compared with the recorded fingerprint. The stored record is
// never modified.
func (e *Engine) Verify(ctx context.Context, id uuid.UUID, challenge []byte) (*Verification, error) {
	rec, err := e.store.GetRecord(ctx, id)
	if err != nil {
		if errors.Is(err, record.ErrRecordNotFound) {
			return nil, apperrors.ResourceNotFoundError(err, "proof record not found")
		}
		return nil, fmt.Errorf("failed to load proof record: %w", err)
	}
	confs, err := e.store.ListConfirmations(ctx, id)
	if err != nil {
		e.logger.Warn("failed to load anchor confirmations", zap.String("record_id", id.String()), zap.Error(err))
	}

	hash := rec.Fingerprint.Hash
	ev := trust.Evidence{
		Proof:                evidence.Proof(rec.Proof, rec.Commitment, hash),
		Signature:            evidence.Signature(ctx, rec.Signature, hash, e.directory),
		TimestampValid:       !rec.CreatedAt.After(e.now().Add(time.Minute)),
		TamperSignatureValid: true,
	}
	anchors := e.verifyAnchors(ctx, hash, record.WithConfirmations(rec, confs))
	ev.PrimaryAnchor, ev.SecondaryAnchor, ev.Consensus = anchors.Primary, anchors.Secondary, anchors.Consensus

	v := &Verification{
		RecordID:        rec.ID,
		FingerprintHash: hash,
		Stored:          rec.Classification(),
		VerifiedAt:      e.now().UTC(),
		Classification:  e.trust.Classify(ev),
	}
	if len(rec.Contents) > 0 && e.blobs != nil {
		v.ContentChecked = true
		v.ContentMatch = e.checkContent(ctx, rec)
	}
	if challenge != nil {
		v.ChallengeChecked = true
		v.ChallengeMatch, _ = fingerprint.Matches(rec.Fingerprint, challenge)
		if len(rec.Files) > 0 && !v.ChallengeMatch {
			v.ChallengeMatch = e.matchesMember(rec, challenge)
		}
	}
	if (v.ContentChecked && !v.ContentMatch) || (v.ChallengeChecked && !v.ChallengeMatch) {
		v.CourtAdmissible = false
	}

	v.Methods = trust.MethodReport(ev)
	v.Attempted, v.Succeeded, v.Failed = trust.Summarize(v.Methods)

	metrics.Verifications.WithLabelValues("online", strconv.FormatBool(v.CourtAdmissible)).Inc()
	metrics.TrustScore.WithLabelValues("online").Observe(float64(v.TrustScore))
	e.logger.Info("proof record verified",
		zap.String("record_id", id.String()),
		zap.String("level", string(v.Level)),
		zap.Int("trust_score", v.TrustScore),
		zap.Int("failed_methods", len(v.Failed)))
	return v, nil
}

// verifyAnchors looks every receipt up on its live ledger. Receipts that
// cannot be looked up keep their stored state and are reported as
// structurally consistent only.
func (e *Engine) verifyAnchors(ctx context.Context, hash string, c *anchor.Consensus) evidence.Anchors {
	if c == nil {
		return evidence.AnchorStatuses(hash, nil, trust.NetworkConfirmed)
	}

	live := &anchor.Consensus{RequireAll: c.RequireAll, Receipts: make([]*anchor.Receipt, len(c.Receipts))}
	offline := make([]bool, len(c.Receipts))
	missing := make([]bool, len(c.Receipts))
	for i, r := range c.Receipts {
		if r == nil {
			offline[i] = true
			continue
		}
		cp := *r
		live.Receipts[i] = &cp
		if e.ledgers == nil || r.TransactionID == "" {
			offline[i] = true
			continue
		}
		switch found, err := e.lookup(ctx, &cp); {
		case err != nil:
			e.logger.Debug("live anchor lookup failed",
				zap.String("network", r.Network), zap.String("tx_id", r.TransactionID), zap.Error(err))
			offline[i] = true
		case !found && r.Status == anchor.StatusConfirmed:
			missing[i] = true
		}
	}
	live.ConsensusReached = anchor.Reached(live.Receipts, live.RequireAll)

	out := evidence.AnchorStatuses(hash, live, trust.NetworkConfirmed)
	statuses := []*trust.Status{&out.Primary, &out.Secondary}
	for i := range live.Receipts {
		if i >= len(statuses) {
			break
		}
		switch {
		case missing[i]:
			*statuses[i] = trust.FailedStatus(apperrors.CryptoVerificationError(errAnchorMissing, live.Receipts[i].Network))
		case offline[i] && statuses[i].Valid():
			statuses[i].Confirmation = trust.StructurallyConsistent
		}
	}
	if len(live.Receipts) > 1 && (missing[0] || missing[1]) && out.Consensus.Valid() {
		valid := 0
		for _, s := range statuses {
			if s.Valid() {
				valid++
			}
		}
		if valid == 0 || (live.RequireAll && valid < len(statuses)) {
			out.Consensus = trust.FailedStatus(apperrors.PolicyViolationError(errAnchorMissing, "anchor missing on network"))
		}
	}
	return out
}

// lookup refreshes r from its ledger. It reports whether the ledger knows the note.
func (e *Engine) lookup(ctx context.Context, r *anchor.Receipt) (bool, error) {
	l, err := e.ledgers.Get(r.Network)
	if err != nil {
		return false, err
	}
	note, err := hex.DecodeString(r.NoteHash)
	if err != nil {
		return false, err
	}
	res, err := l.Lookup(ctx, note, e.lookupWindow)
	if err != nil {
		return false, err
	}
	if !res.Found {
		return false, nil
	}
	if res.Confirmed() {
		at := res.ConfirmedAt.UTC()
		r.Status = anchor.StatusConfirmed
		r.ConfirmedAt = &at
		r.Error, r.ErrorKind = "", ""
		if res.TransactionID != "" {
			r.TransactionID = res.TransactionID
		}
		if res.Fee != nil {
			r.Fee = res.Fee
		}
	}
	return true, nil
}

// checkContent re-fingerprints the stored documents.
func (e *Engine) checkContent(ctx context.Context, rec *record.Record) bool {
	fps := make([]*fingerprint.Fingerprint, 0, len(rec.Contents))
	for _, ref := range rec.Contents {
		data, err := e.blobs.Fetch(ctx, ref.ContentID)
		if err != nil {
			e.logger.Warn("failed to fetch stored content",
				zap.String("record_id", rec.ID.String()), zap.String("cid", ref.ContentID), zap.Error(err))
			return false
		}
		fp, err := fingerprint.New(fingerprint.WithAlgorithm(rec.Fingerprint.Algorithm))
		if err != nil {
			return false
		}
		got, err := fp.Fingerprint(data)
		if err != nil {
			return false
		}
		fps = append(fps, got)
	}
	if len(fps) == 1 {
		return fps[0].Hash == rec.Fingerprint.Hash
	}
	merger, err := fingerprint.New(fingerprint.WithAlgorithm(rec.Fingerprint.Algorithm))
	if err != nil {
		return false
	}
	merged, err := merger.MergeFingerprints(fps, rec.Description)
	return err == nil && merged.Hash == rec.Fingerprint.Hash
}

func (e *Engine) matchesMember(rec *record.Record, data []byte) bool {
	for _, m := range rec.Files {
		if ok, _ := fingerprint.Matches(m, data); ok {
			return true
		}
	}
	return false
}
