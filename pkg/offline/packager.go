package offline

import (
	"errors"
	"time"

	apperrors "github.com/chainsafe/docproof/pkg/app/errors"
	"github.com/chainsafe/docproof/pkg/record"
)

var errNoFingerprint = errors.New("record has no fingerprint")

// Packager builds signed payloads from stored records.
type Packager struct {
	key     tamperKey
	baseURL string
}

func NewPackager(opts ...Option) (*Packager, error) {
	s := applyOptions(opts)
	key, err := newTamperKey(s.secret)
	if err != nil {
		return nil, err
	}
	return &Packager{key: key, baseURL: s.baseURL}, nil
}

// Package builds the signed payload for rec.
func (p *Packager) Package(rec *record.Record, issuedAt time.Time) (*Package, error) {
	if rec == nil || rec.Fingerprint == nil {
		return nil, apperrors.ContentError(errNoFingerprint, "record cannot be packaged")
	}

	var methods Methods
	if rec.Anchored() {
		methods.Blockchain = &Blockchain{
			Receipts:         rec.Consensus.Receipts,
			RequireAll:       rec.Consensus.RequireAll,
			ConsensusReached: rec.Consensus.ConsensusReached,
		}
	}
	if rec.Proof != nil {
		methods.ZKChecksum = &ZKChecksum{Proof: rec.Proof}
		if rec.Commitment != nil {
			methods.ZKChecksum.Commitment = rec.Commitment.Public()
		}
	}
	methods.SovereignIdentity = rec.Signature

	pkg := &Package{Payload: Payload{
		Version:              Version,
		Type:                 PayloadType,
		RecordID:             rec.ID.String(),
		FingerprintHash:      rec.Fingerprint.Hash,
		FingerprintAlgorithm: rec.Fingerprint.Algorithm,
		VerificationMethods:  methods,
		TrustScore:           rec.TrustScore,
		CourtAdmissible:      rec.CourtAdmissible,
		VerificationLevel:    rec.Level,
		IssuedAt:             issuedAt.UTC(),
		VerificationURL:      p.verificationURL(rec.ID.String()),
	}}

	body, err := canonical(&pkg.Payload)
	if err != nil {
		return nil, err
	}
	pkg.TamperSignature = p.key.sign(body)
	return pkg, nil
}

func (p *Packager) verificationURL(id string) string {
	return p.baseURL + "/api/v1/proofs/" + id + "/verify"
}
