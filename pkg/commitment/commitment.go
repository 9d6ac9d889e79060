// Package commitment implements hiding commitments to document fingerprints and
// non-interactive proofs of knowledge of their openings.
//
// Two schemes are supported:
//
//   - pedersen-secp256k1: C = m*G + r*H over secp256k1, where m is derived from the
//     fingerprint and H is a generator with no known discrete log relative to G.
//     Paired with the schnorr-fs-v1 proof system (an Okamoto proof of knowledge of
//     (m, r) made non-interactive with Fiat-Shamir).
//   - sha256: C = SHA-256(0x00 || fingerprint || r). Paired with hash-binding-v1,
//     which binds the commitment to a circuit id but proves no knowledge; it is a
//     tamper-evidence check only.
package commitment

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/chainsafe/docproof/pkg/fingerprint"
)

// Scheme identifies a commitment construction.
type Scheme string

const (
	SchemePedersen Scheme = "pedersen-secp256k1"
	SchemeHash     Scheme = "sha256"
)

// DefaultScheme is used when a caller does not pick one.
const DefaultScheme = SchemePedersen

// RandomnessSize is the number of random bytes drawn per commitment (256 bits).
const RandomnessSize = 32

const securityLevelBits = 128

// domain prefixes for hash-based constructions
const (
	prefixHashCommit  byte = 0x00
	prefixHashBinding byte = 0x01
)

var (
	ErrUnknownScheme          = errors.New("unknown commitment scheme")
	ErrInsufficientRandomness = errors.New("commitment randomness must be at least 32 bytes")
	ErrMissingRandomness      = errors.New("commitment randomness is not available")
	ErrOpeningMismatch        = errors.New("fingerprint and randomness do not open the commitment")
	ErrNilFingerprint         = errors.New("fingerprint is required")
)

// Commitment binds to a fingerprint without revealing it.
// Randomness is the secret opening and is never serialized.
type Commitment struct {
	Value         string `json:"value"`
	Randomness    []byte `json:"-"`
	Scheme        Scheme `json:"scheme"`
	SecurityLevel int    `json:"security_level"`
}

// Public returns a copy without the opening, as handed to verifiers.
func (c *Commitment) Public() *Commitment {
	return &Commitment{
		Value:         c.Value,
		Scheme:        c.Scheme,
		SecurityLevel: c.SecurityLevel,
	}
}

// Commit commits to fp under scheme with fresh randomness from crypto/rand.
func Commit(fp *fingerprint.Fingerprint, scheme Scheme) (*Commitment, error) {
	r := make([]byte, RandomnessSize)
	if _, err := io.ReadFull(rand.Reader, r); err != nil {
		return nil, fmt.Errorf("failed to draw commitment randomness: %w", err)
	}
	return CommitWithRandomness(fp, scheme, r)
}

// CommitWithRandomness commits to fp with caller-supplied randomness.
func CommitWithRandomness(fp *fingerprint.Fingerprint, scheme Scheme, randomness []byte) (*Commitment, error) {
	if fp == nil {
		return nil, ErrNilFingerprint
	}
	if len(randomness) < RandomnessSize {
		return nil, ErrInsufficientRandomness
	}
	if scheme == "" {
		scheme = DefaultScheme
	}

	value, err := commitmentValue(fp.Hash, randomness, scheme)
	if err != nil {
		return nil, err
	}

	return &Commitment{
		Value:         value,
		Randomness:    bytes.Clone(randomness),
		Scheme:        scheme,
		SecurityLevel: securityLevelBits,
	}, nil
}

// Open reports whether fp and the commitment's randomness reproduce its value.
func Open(c *Commitment, fp *fingerprint.Fingerprint) bool {
	if c == nil || fp == nil || len(c.Randomness) == 0 {
		return false
	}
	value, err := commitmentValue(fp.Hash, c.Randomness, c.Scheme)
	if err != nil {
		return false
	}
	return value == c.Value
}

func commitmentValue(fpHash string, randomness []byte, scheme Scheme) (string, error) {
	digest, err := hex.DecodeString(fpHash)
	if err != nil {
		return "", fmt.Errorf("fingerprint hash is not hex: %w", err)
	}

	switch scheme {
	case SchemePedersen:
		m := messageScalar(digest)
		r, err := randomnessScalar(randomness)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(pedersenCommit(m, r)), nil
	case SchemeHash:
		h := sha256.New()
		h.Write([]byte{prefixHashCommit})
		h.Write(digest)
		h.Write(randomness)
		return hex.EncodeToString(h.Sum(nil)), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownScheme, string(scheme))
	}
}
