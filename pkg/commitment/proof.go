package commitment

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	apperrors "github.com/chainsafe/docproof/pkg/app/errors"
	"github.com/chainsafe/docproof/pkg/fingerprint"
)

// System identifies a proof system.
type System string

const (
	SystemSchnorr     System = "schnorr-fs-v1"
	SystemHashBinding System = "hash-binding-v1"
)

const (
	circuitVersion = "1"
	challengeTag   = "docproof/schnorr-fs/challenge/v1"

	pointSize        = 33
	scalarSize       = 32
	schnorrBlobSize  = pointSize + 2*scalarSize
	bindingBlobSize  = sha256.Size
	publicInputCount = 2
)

var (
	ErrUnknownProofSystem   = errors.New("unknown proof system")
	ErrIncompatibleSystem   = errors.New("proof system does not support commitment scheme")
	ErrCircuitMismatch      = errors.New("circuit id mismatch")
	ErrPublicInputsMismatch = errors.New("public inputs do not match commitment")
	ErrVerificationKey      = errors.New("unexpected verification key")
	ErrMalformedProof       = errors.New("malformed proof blob")
	ErrProofRejected        = errors.New("proof does not verify")
)

// Proof shows knowledge of an opening of a commitment. PublicInputs holds the
// commitment value and the circuit id, never the fingerprint.
type Proof struct {
	Blob            []byte   `json:"blob"`
	PublicInputs    []string `json:"public_inputs"`
	VerificationKey string   `json:"verification_key"`
	System          System   `json:"proof_system"`
	CircuitID       string   `json:"circuit_id"`
}

// SchemeFor returns the commitment scheme a proof system operates on.
func SchemeFor(system System) (Scheme, error) {
	switch system {
	case SystemSchnorr:
		return SchemePedersen, nil
	case SystemHashBinding:
		return SchemeHash, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProofSystem, string(system))
	}
}

// SystemFor returns the default proof system for a commitment scheme.
func SystemFor(scheme Scheme) (System, error) {
	switch scheme {
	case SchemePedersen:
		return SystemSchnorr, nil
	case SchemeHash:
		return SystemHashBinding, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownScheme, string(scheme))
	}
}

// CircuitID is a stable hash of the protocol parameters of system. A verifier
// rejects proofs whose circuit id differs from the one it computes.
func CircuitID(system System) (string, error) {
	scheme, err := SchemeFor(system)
	if err != nil {
		return "", err
	}

	params := []string{
		"system=" + string(system),
		"scheme=" + string(scheme),
		"version=" + circuitVersion,
	}
	if system == SystemSchnorr {
		params = append(params,
			"curve=secp256k1",
			"generator_h="+hex.EncodeToString(GeneratorH()),
			"challenge="+challengeTag,
		)
	}

	sum := sha256.Sum256([]byte(strings.Join(params, ";")))
	return hex.EncodeToString(sum[:]), nil
}

func verificationKey(system System) string {
	if system == SystemSchnorr {
		return hex.EncodeToString(GeneratorH())
	}
	return ""
}

// Prove produces a non-interactive proof that the prover knows the fingerprint
// and randomness behind c. The commitment must carry its randomness.
func Prove(fp *fingerprint.Fingerprint, c *Commitment, system System) (*Proof, error) {
	if fp == nil {
		return nil, ErrNilFingerprint
	}
	if c == nil || len(c.Randomness) == 0 {
		return nil, ErrMissingRandomness
	}
	if system == "" {
		var err error
		if system, err = SystemFor(c.Scheme); err != nil {
			return nil, err
		}
	}
	scheme, err := SchemeFor(system)
	if err != nil {
		return nil, err
	}
	if scheme != c.Scheme {
		return nil, fmt.Errorf("%w: %s over %s", ErrIncompatibleSystem, system, c.Scheme)
	}
	if !Open(c, fp) {
		return nil, ErrOpeningMismatch
	}

	circuitID, err := CircuitID(system)
	if err != nil {
		return nil, err
	}

	var blob []byte
	switch system {
	case SystemSchnorr:
		blob, err = proveSchnorr(fp, c, circuitID)
	case SystemHashBinding:
		blob, err = bindingTag(c.Value, circuitID)
	}
	if err != nil {
		return nil, err
	}

	return &Proof{
		Blob:            blob,
		PublicInputs:    []string{c.Value, circuitID},
		VerificationKey: verificationKey(system),
		System:          system,
		CircuitID:       circuitID,
	}, nil
}

// Verify checks p against c. Every structural mismatch is reported as a crypto
// verification error; Verify never panics on hostile input.
func Verify(p *Proof, c *Commitment) error {
	if p == nil || c == nil {
		return apperrors.CryptoVerificationError(ErrMalformedProof, "proof or commitment missing")
	}

	scheme, err := SchemeFor(p.System)
	if err != nil {
		return apperrors.CryptoVerificationError(err, "unknown proof system")
	}
	if scheme != c.Scheme {
		return apperrors.CryptoVerificationError(ErrIncompatibleSystem, "proof system does not match commitment scheme")
	}

	expectedCircuit, err := CircuitID(p.System)
	if err != nil {
		return apperrors.CryptoVerificationError(err, "unknown proof system")
	}
	if p.CircuitID != expectedCircuit {
		return apperrors.CryptoVerificationError(ErrCircuitMismatch, "circuit id mismatch")
	}
	if len(p.PublicInputs) != publicInputCount ||
		p.PublicInputs[0] != c.Value ||
		p.PublicInputs[1] != expectedCircuit {
		return apperrors.CryptoVerificationError(ErrPublicInputsMismatch, "public inputs do not match commitment")
	}
	if p.VerificationKey != verificationKey(p.System) {
		return apperrors.CryptoVerificationError(ErrVerificationKey, "unexpected verification key")
	}

	switch p.System {
	case SystemSchnorr:
		err = verifySchnorr(p.Blob, c.Value, expectedCircuit)
	case SystemHashBinding:
		err = verifyBinding(p.Blob, c.Value, expectedCircuit)
	}
	if err != nil {
		return apperrors.CryptoVerificationError(err, "proof does not verify")
	}
	return nil
}

// VerifyProof is Verify reduced to a validity flag.
func VerifyProof(p *Proof, c *Commitment) bool {
	return Verify(p, c) == nil
}

// proveSchnorr proves knowledge of (m, r) with C = m*G + r*H.
// T = k1*G + k2*H, e = Hs(circuit || C || T), s1 = k1 + e*m, s2 = k2 + e*r.
func proveSchnorr(fp *fingerprint.Fingerprint, c *Commitment, circuitID string) ([]byte, error) {
	digest, err := hex.DecodeString(fp.Hash)
	if err != nil {
		return nil, fmt.Errorf("fingerprint hash is not hex: %w", err)
	}
	m := messageScalar(digest)
	r, err := randomnessScalar(c.Randomness)
	if err != nil {
		return nil, err
	}
	commitBytes, err := hex.DecodeString(c.Value)
	if err != nil {
		return nil, fmt.Errorf("commitment value is not hex: %w", err)
	}

	k1, err := randomScalar()
	if err != nil {
		return nil, err
	}
	k2, err := randomScalar()
	if err != nil {
		return nil, err
	}

	var t secp256k1.JacobianPoint
	twoBaseMult(k1, k2, &t)
	tBytes := encodePoint(&t)

	e := challenge(circuitID, commitBytes, tBytes)

	var s1, s2 secp256k1.ModNScalar
	s1.Mul2(e, m).Add(k1)
	s2.Mul2(e, r).Add(k2)

	s1Bytes, s2Bytes := s1.Bytes(), s2.Bytes()

	blob := make([]byte, 0, schnorrBlobSize)
	blob = append(blob, tBytes...)
	blob = append(blob, s1Bytes[:]...)
	blob = append(blob, s2Bytes[:]...)
	return blob, nil
}

// verifySchnorr checks s1*G + s2*H == T + e*C.
func verifySchnorr(blob []byte, commitmentValue, circuitID string) error {
	if len(blob) != schnorrBlobSize {
		return fmt.Errorf("%w: want %d bytes, got %d", ErrMalformedProof, schnorrBlobSize, len(blob))
	}
	commitBytes, err := hex.DecodeString(commitmentValue)
	if err != nil {
		return fmt.Errorf("%w: commitment is not hex", ErrMalformedProof)
	}
	cPoint, err := decodePoint(commitBytes)
	if err != nil {
		return fmt.Errorf("%w: commitment: %v", ErrMalformedProof, err)
	}

	tBytes := blob[:pointSize]
	tPoint, err := decodePoint(tBytes)
	if err != nil {
		return fmt.Errorf("%w: nonce commitment: %v", ErrMalformedProof, err)
	}

	var s1, s2 secp256k1.ModNScalar
	if overflow := s1.SetByteSlice(blob[pointSize : pointSize+scalarSize]); overflow {
		return fmt.Errorf("%w: s1 out of range", ErrMalformedProof)
	}
	if overflow := s2.SetByteSlice(blob[pointSize+scalarSize:]); overflow {
		return fmt.Errorf("%w: s2 out of range", ErrMalformedProof)
	}

	e := challenge(circuitID, commitBytes, tBytes)

	var lhs, eC, rhs secp256k1.JacobianPoint
	twoBaseMult(&s1, &s2, &lhs)
	secp256k1.ScalarMultNonConst(e, cPoint, &eC)
	secp256k1.AddNonConst(tPoint, &eC, &rhs)

	if !pointsEqual(&lhs, &rhs) {
		return ErrProofRejected
	}
	return nil
}

func challenge(circuitID string, commitment, t []byte) *secp256k1.ModNScalar {
	h := sha256.New()
	h.Write([]byte(challengeTag))
	h.Write([]byte(circuitID))
	h.Write(commitment)
	h.Write(t)

	var e secp256k1.ModNScalar
	e.SetByteSlice(h.Sum(nil))
	return &e
}

func bindingTag(commitmentValue, circuitID string) ([]byte, error) {
	key, err := hex.DecodeString(commitmentValue)
	if err != nil {
		return nil, fmt.Errorf("commitment value is not hex: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte{prefixHashBinding})
	mac.Write([]byte(circuitID))
	return mac.Sum(nil), nil
}

func verifyBinding(blob []byte, commitmentValue, circuitID string) error {
	if len(blob) != bindingBlobSize {
		return fmt.Errorf("%w: want %d bytes, got %d", ErrMalformedProof, bindingBlobSize, len(blob))
	}
	want, err := bindingTag(commitmentValue, circuitID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	if !bytes.Equal(want, blob) {
		return ErrProofRejected
	}
	return nil
}
