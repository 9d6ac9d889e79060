package identity

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chainsafe/docproof/pkg/keys"
)

// Signature is a signed statement over a fingerprint. It carries the public key
// so it can be checked without a directory, and the DID for directory lookups.
type Signature struct {
	Value           string            `json:"signature_value"`
	PublicKey       string            `json:"public_key"`
	KeyType         keys.KeyType      `json:"key_type"`
	DID             string            `json:"did"`
	FingerprintHash string            `json:"fingerprint_hash"`
	SignedAt        time.Time         `json:"signed_at"`
	Claims          map[string]string `json:"claims,omitempty"`
	CredentialProof string            `json:"credential_proof,omitempty"`
}

// signedPayload is the canonical statement. Field order is fixed by the struct
// and encoding/json sorts map keys.
type signedPayload struct {
	FingerprintHash string            `json:"fingerprintHash"`
	DID             string            `json:"did"`
	SignedAt        string            `json:"signedAt"`
	Claims          map[string]string `json:"claims"`
}

// CanonicalPayload returns the exact bytes that are signed.
func CanonicalPayload(fingerprintHash, did string, signedAt time.Time, claims map[string]string) ([]byte, error) {
	if claims == nil {
		claims = map[string]string{}
	}
	return json.Marshal(signedPayload{
		FingerprintHash: fingerprintHash,
		DID:             did,
		SignedAt:        signedAt.UTC().Format(time.RFC3339Nano),
		Claims:          claims,
	})
}

// Payload recomputes the canonical payload of s.
func (s *Signature) Payload() ([]byte, error) {
	return CanonicalPayload(s.FingerprintHash, s.DID, s.SignedAt, s.Claims)
}

// Outcome is the result of checking a signature. Each step is reported
// separately so callers can tell why verification failed.
type Outcome struct {
	FingerprintChecked bool   `json:"fingerprint_checked"`
	FingerprintMatch   bool   `json:"fingerprint_match"`
	SignatureValid     bool   `json:"signature_valid"`
	CredentialChecked  bool   `json:"credential_checked"`
	CredentialValid    bool   `json:"credential_valid"`
	DirectoryChecked   bool   `json:"directory_checked"`
	KeyOwnership       bool   `json:"key_ownership"`
	Reason             string `json:"reason,omitempty"`
}

// Valid reports whether every step that ran succeeded.
func (o Outcome) Valid() bool {
	if o.FingerprintChecked && !o.FingerprintMatch {
		return false
	}
	if o.CredentialChecked && !o.CredentialValid {
		return false
	}
	return o.SignatureValid && o.KeyOwnership
}

// Verify checks sig. When expectedHash is non-empty it must equal the signed
// fingerprint hash. When dir is nil or unreachable the directory step is
// skipped and key ownership rests on the DID being derived from the key.
// Revoked, inactive or unknown identities never have key ownership.
func Verify(ctx context.Context, sig *Signature, expectedHash string, dir Directory) Outcome {
	var out Outcome
	if sig == nil {
		out.Reason = "signature missing"
		return out
	}

	if expectedHash != "" {
		out.FingerprintChecked = true
		out.FingerprintMatch = expectedHash == sig.FingerprintHash
		if !out.FingerprintMatch {
			out.Reason = "signed fingerprint does not match expected fingerprint"
		}
	}

	publicKey, err := hex.DecodeString(sig.PublicKey)
	if err != nil {
		out.Reason = "public key is not hex"
		return out
	}
	value, err := hex.DecodeString(sig.Value)
	if err != nil {
		out.Reason = "signature value is not hex"
		return out
	}
	payload, err := sig.Payload()
	if err != nil {
		out.Reason = fmt.Sprintf("rebuild payload: %v", err)
		return out
	}

	out.SignatureValid = keys.Verify(sig.KeyType, publicKey, payload, value)
	if !out.SignatureValid {
		out.Reason = "signature does not verify against public key"
		return out
	}

	if sig.CredentialProof != "" {
		out.CredentialChecked = true
		if err := verifyCredential(sig, publicKey); err != nil {
			out.Reason = fmt.Sprintf("credential proof: %v", err)
		} else {
			out.CredentialValid = true
		}
	}

	if !SelfCertifies(sig.DID, publicKey) {
		out.Reason = "did is not derived from the signing key"
		return out
	}

	if dir == nil {
		out.KeyOwnership = true
		return out
	}

	ident, err := dir.Resolve(ctx, sig.DID)
	switch {
	case errors.Is(err, ErrIdentityNotFound):
		out.DirectoryChecked = true
		out.Reason = "did not found in directory"
		return out
	case err != nil:
		// unreachable directory: skip, do not fail
		out.KeyOwnership = true
		return out
	}

	out.DirectoryChecked = true
	switch {
	case hex.EncodeToString(ident.PublicKey) != sig.PublicKey:
		out.Reason = "public key does not match directory record"
	case !ident.Active():
		out.Reason = fmt.Sprintf("identity is %s", ident.State)
	default:
		out.KeyOwnership = true
	}
	return out
}
