package identitystore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chainsafe/docproof/pkg/identity"
	"github.com/chainsafe/docproof/pkg/keys"
	"github.com/chainsafe/docproof/pkg/pgutil"
	mghelper "github.com/chainsafe/docproof/pkg/pgutil/migrations"
)

func setupStore(t *testing.T) (context.Context, *pgStore) {
	t.Helper()

	ctx := context.Background()
	db, cleanup := pgutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	if err := mghelper.CreateSchema(ctx, db, &IdentityDao{}); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	masterKey, err := keys.GenerateMasterKey()
	if err != nil {
		t.Fatalf("failed to generate master key: %v", err)
	}
	return ctx, NewStore(db, keys.NewMasterKeyCipher(masterKey))
}

func newTestIdentity(t *testing.T) *identity.Identity {
	t.Helper()

	kp, err := keys.Generate(keys.Secp256k1)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &identity.Identity{
		DID:             identity.DeriveDID(identity.DefaultMethod, kp.PublicKey),
		Method:          identity.DefaultMethod,
		PublicKey:       kp.PublicKey,
		PrivateKey:      kp.PrivateKey,
		KeyType:         kp.Type,
		CredentialTypes: []string{"notary"},
		State:           identity.StateActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestPGStore_CreateAndResolve(t *testing.T) {
	ctx, s := setupStore(t)
	ident := newTestIdentity(t)

	if err := s.CreateIdentity(ctx, ident); err != nil {
		t.Fatalf("CreateIdentity() failed: %v", err)
	}

	got, err := s.Resolve(ctx, ident.DID)
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if string(got.PrivateKey) != string(ident.PrivateKey) {
		t.Fatalf("private key did not round trip")
	}
	if string(got.PublicKey) != string(ident.PublicKey) {
		t.Fatalf("public key did not round trip")
	}
	if got.State != identity.StateActive || len(got.CredentialTypes) != 1 {
		t.Fatalf("unexpected identity: %+v", got)
	}

	var dao IdentityDao
	if err := s.db.NewSelect().Model(&dao).Where("did = ?", ident.DID).Scan(ctx); err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if dao.PrivateKeyEncrypted == "" || dao.PrivateKeyEncrypted == string(ident.PrivateKey) {
		t.Fatalf("private key stored unencrypted")
	}

	if err := s.CreateIdentity(ctx, ident); !errors.Is(err, identity.ErrIdentityExists) {
		t.Fatalf("expected ErrIdentityExists, got %v", err)
	}
}

func TestPGStore_ResolveMissing(t *testing.T) {
	ctx, s := setupStore(t)

	_, err := s.Resolve(ctx, "did:docproof:missing")
	if !errors.Is(err, identity.ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
}

func TestPGStore_UpdateState(t *testing.T) {
	ctx, s := setupStore(t)
	ident := newTestIdentity(t)
	if err := s.CreateIdentity(ctx, ident); err != nil {
		t.Fatalf("CreateIdentity() failed: %v", err)
	}

	if err := s.UpdateState(ctx, ident.DID, identity.StateRevoked, time.Now()); err != nil {
		t.Fatalf("UpdateState() failed: %v", err)
	}
	got, err := s.Resolve(ctx, ident.DID)
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if got.State != identity.StateRevoked {
		t.Fatalf("expected revoked, got %s", got.State)
	}

	if err := s.UpdateState(ctx, "did:docproof:missing", identity.StateRevoked, time.Now()); !errors.Is(err, identity.ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
}
