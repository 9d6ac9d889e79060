package offline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/chainsafe/docproof/pkg/app/errors"
	"github.com/chainsafe/docproof/pkg/evidence"
	"github.com/chainsafe/docproof/pkg/fingerprint"
	"github.com/chainsafe/docproof/pkg/trust"
)

var errStale = errors.New("payload timestamp outside accepted window")

// Result is the outcome of verifying a payload.
type Result struct {
	RecordID             string               `json:"record_id"`
	FingerprintHash      string               `json:"fingerprint_hash"`
	TamperSignatureValid bool                 `json:"tamper_signature_valid"`
	TimestampValid       bool                 `json:"timestamp_valid"`
	TimestampReason      string               `json:"timestamp_reason,omitempty"`
	ChallengeChecked     bool                 `json:"challenge_checked"`
	ChallengeMatch       bool                 `json:"challenge_match"`
	Methods              []trust.MethodResult `json:"methods"`
	Attempted            []trust.Method       `json:"methods_attempted"`
	Succeeded            []trust.Method       `json:"methods_succeeded"`
	Failed               []trust.Method       `json:"methods_failed"`
	EmbeddedTrustScore   int                  `json:"embedded_trust_score"`
	trust.Classification
}

// Verifier checks payloads without network access.
type Verifier struct {
	key    tamperKey
	engine *trust.Engine
	s      settings
}

func NewVerifier(opts ...Option) (*Verifier, error) {
	s := applyOptions(opts)
	key, err := newTamperKey(s.secret)
	if err != nil {
		return nil, err
	}
	engine := s.engine
	if engine == nil {
		if engine, err = trust.NewEngine(); err != nil {
			return nil, err
		}
	}
	return &Verifier{key: key, engine: engine, s: s}, nil
}

// Verify checks raw and, when challenge is non-nil, compares the payload
// fingerprint against it. Only an unreadable payload is an error; every
// other failure is reported in the result. No method section is read before
// the tamper signature verifies. Verify never mutates raw and returns the
// same result for the same inputs and clock.
func (v *Verifier) Verify(ctx context.Context, raw []byte, challenge []byte) (*Result, error) {
	pkg, err := Decode(raw)
	if err != nil {
		return nil, apperrors.ContentError(err, "unreadable offline payload")
	}
	p := &pkg.Payload

	res := &Result{
		RecordID:           p.RecordID,
		FingerprintHash:    p.FingerprintHash,
		EmbeddedTrustScore: p.TrustScore,
	}

	var ev trust.Evidence
	if err := v.key.check(raw, pkg); err != nil {
		v.s.logger.Warn("offline payload failed tamper check",
			zap.String("record_id", p.RecordID), zap.Error(err))
		ev = untrusted(p.VerificationMethods, err.Error())
		res.TimestampReason = "not checked: tamper signature invalid"
		res.ChallengeChecked = challenge != nil
	} else {
		ev = v.structural(ctx, p)
		ev.TamperSignatureValid = true
		ev.TimestampValid, res.TimestampReason = v.checkTimestamp(p.IssuedAt)
		if challenge != nil {
			res.ChallengeChecked = true
			res.ChallengeMatch = v.matches(p, challenge)
		}
	}

	res.TamperSignatureValid = ev.TamperSignatureValid
	res.TimestampValid = ev.TimestampValid
	res.Classification = v.engine.Classify(ev)
	if res.ChallengeChecked && !res.ChallengeMatch {
		res.CourtAdmissible = false
	}
	res.Methods = trust.MethodReport(ev)
	res.Attempted, res.Succeeded, res.Failed = trust.Summarize(res.Methods)
	return res, nil
}

// untrusted reports every method section present in m as Invalid without
// reading its contents. The directory is never consulted.
func untrusted(m Methods, reason string) trust.Evidence {
	ev := trust.Evidence{
		PrimaryAnchor:   trust.NotRequestedStatus(),
		SecondaryAnchor: trust.NotRequestedStatus(),
		Proof:           trust.NotRequestedStatus(),
		Signature:       trust.NotRequestedStatus(),
		Consensus:       trust.NotRequestedStatus(),
	}
	invalid := trust.InvalidStatus(reason, apperrors.KindCryptoVerification)
	if b := m.Blockchain; b != nil && len(b.Receipts) > 0 {
		ev.PrimaryAnchor = invalid
		if len(b.Receipts) > 1 {
			ev.SecondaryAnchor = invalid
			ev.Consensus = invalid
		}
	}
	if m.ZKChecksum != nil {
		ev.Proof = invalid
	}
	if m.SovereignIdentity != nil {
		ev.Signature = invalid
	}
	return ev
}

func (v *Verifier) structural(ctx context.Context, p *Payload) trust.Evidence {
	m := p.VerificationMethods
	anchors := evidence.AnchorStatuses(p.FingerprintHash, m.Anchors(), trust.StructurallyConsistent)

	ev := trust.Evidence{
		PrimaryAnchor:   anchors.Primary,
		SecondaryAnchor: anchors.Secondary,
		Consensus:       anchors.Consensus,
		Proof:           trust.NotRequestedStatus(),
		Signature:       evidence.Signature(ctx, m.SovereignIdentity, p.FingerprintHash, v.s.directory),
	}
	if m.ZKChecksum != nil {
		ev.Proof = evidence.Proof(m.ZKChecksum.Proof, m.ZKChecksum.Commitment, p.FingerprintHash)
	}
	return ev
}

func (v *Verifier) checkTimestamp(issuedAt time.Time) (bool, string) {
	now := v.s.now()
	switch {
	case issuedAt.IsZero():
		return false, fmt.Sprintf("%v: missing", errStale)
	case issuedAt.After(now.Add(v.s.maxSkew)):
		return false, fmt.Sprintf("%v: issued in the future", errStale)
	case now.Sub(issuedAt) > v.s.maxAge:
		return false, fmt.Sprintf("%v: older than %s", errStale, v.s.maxAge)
	default:
		return true, ""
	}
}

func (v *Verifier) matches(p *Payload, challenge []byte) bool {
	if len(challenge) == 0 {
		return false
	}
	ok, err := fingerprint.Matches(&fingerprint.Fingerprint{Hash: p.FingerprintHash, Algorithm: p.FingerprintAlgorithm}, challenge)
	return err == nil && ok
}
