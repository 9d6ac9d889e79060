package identity

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/chainsafe/docproof/pkg/app/errors"
	"github.com/chainsafe/docproof/pkg/fingerprint"
	"github.com/chainsafe/docproof/pkg/keys"
)

type unreachableDirectory struct{}

func (unreachableDirectory) Resolve(context.Context, string) (*Identity, error) {
	return nil, errors.New("connection refused")
}

func testFingerprint(t *testing.T, content string) *fingerprint.Fingerprint {
	t.Helper()
	fp, err := fingerprint.New()
	require.NoError(t, err)
	out, err := fp.Fingerprint([]byte(content))
	require.NoError(t, err)
	return out
}

func newTestService(opts ...Option) (*Service, *MemoryDirectory) {
	dir := NewMemoryDirectory()
	clock := func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return NewService(dir, append([]Option{WithClock(clock)}, opts...)...), dir
}

func TestDeriveDID(t *testing.T) {
	did := DeriveDID("docproof", []byte("public-key"))
	method, id, err := ParseDID(did)
	require.NoError(t, err)
	assert.Equal(t, "docproof", method)
	assert.Len(t, id, didIdentifierLen)
	assert.Equal(t, strings.ToLower(id), id)
	assert.True(t, SelfCertifies(did, []byte("public-key")))
	assert.False(t, SelfCertifies(did, []byte("other-key")))
}

func TestParseDID_Invalid(t *testing.T) {
	for _, did := range []string{"", "did:docproof", "doc:docproof:abc", "did:Bad Method:abc", "did:docproof:"} {
		_, _, err := ParseDID(did)
		assert.ErrorIs(t, err, ErrInvalidDID, did)
	}
}

func TestTransition(t *testing.T) {
	now := time.Now()
	ident := &Identity{State: StateCreated}

	require.ErrorIs(t, ident.Transition(StateRevoked, now), ErrInvalidTransition)
	require.NoError(t, ident.Transition(StateActive, now))
	require.NoError(t, ident.Transition(StateRevoked, now))
	require.ErrorIs(t, ident.Transition(StateActive, now), ErrInvalidTransition)
}

func TestCreateIdentity(t *testing.T) {
	svc, dir := newTestService()
	ctx := context.Background()

	ident, err := svc.CreateIdentity(ctx, Config{KeyType: keys.Secp256k1, CredentialTypes: []string{"notary"}})
	require.NoError(t, err)
	assert.True(t, ident.Active())
	assert.True(t, strings.HasPrefix(ident.DID, "did:docproof:"))
	assert.True(t, SelfCertifies(ident.DID, ident.PublicKey))

	stored, err := dir.Resolve(ctx, ident.DID)
	require.NoError(t, err)
	assert.Equal(t, ident.PublicKey, stored.PublicKey)

	public, err := svc.Resolve(ctx, ident.DID)
	require.NoError(t, err)
	assert.Empty(t, public.PrivateKey)
}

func TestCreateIdentity_Invalid(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CreateIdentity(context.Background(), Config{KeyType: "rsa"})
	assert.True(t, apperrors.Is(err, apperrors.CategoryDataError))

	_, err = svc.CreateIdentity(context.Background(), Config{Method: "Not Valid"})
	assert.True(t, apperrors.Is(err, apperrors.CategoryDataError))
}

func TestSignAndVerify(t *testing.T) {
	for _, kt := range []keys.KeyType{keys.Ed25519, keys.Secp256k1} {
		t.Run(string(kt), func(t *testing.T) {
			svc, _ := newTestService(WithCredentialProofs(true))
			ctx := context.Background()
			fp := testFingerprint(t, "contract.pdf")

			ident, err := svc.CreateIdentity(ctx, Config{KeyType: kt})
			require.NoError(t, err)

			sig, err := svc.Sign(ctx, ident.DID, fp, map[string]string{"role": "signer"})
			require.NoError(t, err)
			assert.NotEmpty(t, sig.CredentialProof)

			out := svc.VerifySignature(ctx, sig, fp.Hash)
			assert.True(t, out.Valid(), out.Reason)
			assert.True(t, out.DirectoryChecked)
			assert.True(t, out.CredentialChecked)
			assert.True(t, out.CredentialValid)

			offline := Verify(ctx, sig, fp.Hash, nil)
			assert.True(t, offline.Valid(), offline.Reason)
			assert.False(t, offline.DirectoryChecked)
		})
	}
}

func TestVerify_Failures(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	fp := testFingerprint(t, "contract.pdf")

	ident, err := svc.CreateIdentity(ctx, Config{})
	require.NoError(t, err)
	sig, err := svc.Sign(ctx, ident.DID, fp, nil)
	require.NoError(t, err)

	t.Run("wrong fingerprint", func(t *testing.T) {
		out := svc.VerifySignature(ctx, sig, testFingerprint(t, "other.pdf").Hash)
		assert.True(t, out.SignatureValid)
		assert.False(t, out.FingerprintMatch)
		assert.False(t, out.Valid())
	})

	t.Run("tampered claims", func(t *testing.T) {
		forged := *sig
		forged.Claims = map[string]string{"role": "admin"}
		out := svc.VerifySignature(ctx, &forged, fp.Hash)
		assert.False(t, out.SignatureValid)
		assert.False(t, out.Valid())
	})

	t.Run("foreign did", func(t *testing.T) {
		other, err := svc.CreateIdentity(ctx, Config{})
		require.NoError(t, err)
		forged := *sig
		forged.DID = other.DID
		out := Verify(ctx, &forged, fp.Hash, nil)
		assert.False(t, out.Valid())
	})

	t.Run("unknown did", func(t *testing.T) {
		out := Verify(ctx, sig, fp.Hash, NewMemoryDirectory())
		assert.True(t, out.SignatureValid)
		assert.True(t, out.DirectoryChecked)
		assert.False(t, out.KeyOwnership)
	})

	t.Run("directory unreachable", func(t *testing.T) {
		out := Verify(ctx, sig, fp.Hash, unreachableDirectory{})
		assert.True(t, out.Valid())
		assert.False(t, out.DirectoryChecked)
	})

	t.Run("malformed hex", func(t *testing.T) {
		forged := *sig
		forged.Value = "zz"
		assert.False(t, Verify(ctx, &forged, "", nil).Valid())
	})

	t.Run("nil", func(t *testing.T) {
		assert.False(t, Verify(ctx, nil, "", nil).Valid())
	})
}

func TestRevoke(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	fp := testFingerprint(t, "contract.pdf")

	ident, err := svc.CreateIdentity(ctx, Config{})
	require.NoError(t, err)
	sig, err := svc.Sign(ctx, ident.DID, fp, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, ident.DID))

	out := svc.VerifySignature(ctx, sig, fp.Hash)
	assert.True(t, out.SignatureValid)
	assert.False(t, out.KeyOwnership)
	assert.Contains(t, out.Reason, "revoked")

	_, err = svc.Sign(ctx, ident.DID, fp, nil)
	assert.True(t, apperrors.Is(err, apperrors.CategoryPolicyViolation))

	err = svc.Revoke(ctx, ident.DID)
	assert.True(t, apperrors.Is(err, apperrors.CategoryPolicyViolation))
}

func TestSign_UnknownIdentity(t *testing.T) {
	svc, _ := newTestService()
	fp := testFingerprint(t, "contract.pdf")

	_, err := svc.Sign(context.Background(), DeriveDID("docproof", []byte("nobody")), fp, nil)
	assert.True(t, apperrors.Is(err, apperrors.CategoryResourceNotFound))

	_, err = svc.Sign(context.Background(), "not-a-did", fp, nil)
	assert.True(t, apperrors.Is(err, apperrors.CategoryDataError))
}

func TestCredential_RejectsForeignKey(t *testing.T) {
	svc, _ := newTestService(WithCredentialProofs(true))
	ctx := context.Background()
	fp := testFingerprint(t, "contract.pdf")

	ident, err := svc.CreateIdentity(ctx, Config{KeyType: keys.Ed25519})
	require.NoError(t, err)
	sig, err := svc.Sign(ctx, ident.DID, fp, nil)
	require.NoError(t, err)

	other, err := keys.Generate(keys.Ed25519)
	require.NoError(t, err)
	require.Error(t, verifyCredential(sig, other.PublicKey))

	pub, err := hex.DecodeString(sig.PublicKey)
	require.NoError(t, err)
	mismatched := *sig
	mismatched.FingerprintHash = testFingerprint(t, "other.pdf").Hash
	assert.ErrorIs(t, verifyCredential(&mismatched, pub), errCredentialClaims)
}
