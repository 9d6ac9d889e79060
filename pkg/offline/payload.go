// Package offline builds and checks self-contained verification payloads. A
// payload carries everything needed to re-check a proof record without any
// network access and is protected by a keyed tamper signature.
package offline

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chainsafe/docproof/pkg/anchor"
	"github.com/chainsafe/docproof/pkg/commitment"
	"github.com/chainsafe/docproof/pkg/fingerprint"
	"github.com/chainsafe/docproof/pkg/identity"
	"github.com/chainsafe/docproof/pkg/keys"
	"github.com/chainsafe/docproof/pkg/trust"
)

const (
	Version     = "1.0"
	PayloadType = "offline_verification"

	tamperKeyInfo = "docproof/offline/"
	tamperKeyLen  = 32
)

// DefaultSecret keys the tamper signature when a deployment configures none.
var DefaultSecret = []byte("docproof offline verification protocol")

var (
	ErrUnsupportedVersion = errors.New("unsupported offline payload version")
	ErrUnknownType        = errors.New("unknown offline payload type")
	ErrMalformedPayload   = errors.New("malformed offline payload")
	ErrTampered           = errors.New("tamper signature mismatch")
)

// Blockchain is the anchoring section of a payload.
type Blockchain struct {
	Receipts         []*anchor.Receipt `json:"receipts"`
	RequireAll       bool              `json:"require_all"`
	ConsensusReached bool              `json:"consensus_reached"`
}

// ZKChecksum is the commitment section of a payload.
type ZKChecksum struct {
	Commitment *commitment.Commitment `json:"commitment"`
	Proof      *commitment.Proof      `json:"proof"`
}

// Methods holds one section per verification method present on the record.
type Methods struct {
	Blockchain        *Blockchain         `json:"blockchain,omitempty"`
	ZKChecksum        *ZKChecksum         `json:"zk_checksum,omitempty"`
	SovereignIdentity *identity.Signature `json:"sovereign_identity,omitempty"`
}

// Payload is the signed body. Field order is part of the wire format.
type Payload struct {
	Version              string                `json:"version"`
	Type                 string                `json:"type"`
	RecordID             string                `json:"record_id"`
	FingerprintHash      string                `json:"fingerprint_hash"`
	FingerprintAlgorithm fingerprint.Algorithm `json:"fingerprint_algorithm"`
	VerificationMethods  Methods               `json:"verification_methods"`
	TrustScore           int                   `json:"trust_score"`
	CourtAdmissible      bool                  `json:"court_admissible"`
	VerificationLevel    trust.Level           `json:"verification_level"`
	IssuedAt             time.Time             `json:"issued_at"`
	VerificationURL      string                `json:"verification_url"`
}

// Package is a payload with its tamper signature.
type Package struct {
	Payload
	TamperSignature string `json:"tamper_signature"`
}

// Anchors rebuilds the consensus section, or nil when nothing was anchored.
func (m Methods) Anchors() *anchor.Consensus {
	if m.Blockchain == nil {
		return nil
	}
	return &anchor.Consensus{
		Receipts:         m.Blockchain.Receipts,
		RequireAll:       m.Blockchain.RequireAll,
		ConsensusReached: m.Blockchain.ConsensusReached,
	}
}

// Encode renders p in its canonical form: the payload followed by the tamper
// signature as the last field.
func (p *Package) Encode() ([]byte, error) {
	body, err := canonical(&p.Payload)
	if err != nil {
		return nil, err
	}
	return appendSignature(body, p.TamperSignature)
}

func canonical(p *Payload) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return body, nil
}

func appendSignature(body []byte, sig string) ([]byte, error) {
	quoted, err := json.Marshal(sig)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(len(body) + len(quoted) + 24)
	buf.Write(body[:len(body)-1])
	buf.WriteString(`,"tamper_signature":`)
	buf.Write(quoted)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Decode parses raw without checking the signature. Only the version and type
// are validated.
func Decode(raw []byte) (*Package, error) {
	var head struct {
		Version string `json:"version"`
		Type    string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if head.Type != PayloadType {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
	if head.Version != Version {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, head.Version)
	}
	var p Package
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return &p, nil
}

type tamperKey []byte

func newTamperKey(secret []byte) (tamperKey, error) {
	if len(secret) == 0 {
		secret = DefaultSecret
	}
	return keys.DeriveKey(secret, tamperKeyInfo+Version, tamperKeyLen)
}

func (k tamperKey) sign(body []byte) string {
	mac := hmac.New(sha256.New, k)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// check verifies that raw is exactly the canonical encoding of p and that the
// signature covers it. Any byte change fails one of the two.
func (k tamperKey) check(raw []byte, p *Package) error {
	body, err := canonical(&p.Payload)
	if err != nil {
		return err
	}
	want, err := appendSignature(body, p.TamperSignature)
	if err != nil {
		return err
	}
	if !bytes.Equal(bytes.TrimSpace(raw), want) {
		return fmt.Errorf("%w: payload is not canonical", ErrTampered)
	}
	got, err := hex.DecodeString(p.TamperSignature)
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", ErrTampered)
	}
	expected, _ := hex.DecodeString(k.sign(body))
	if !hmac.Equal(got, expected) {
		return ErrTampered
	}
	return nil
}
