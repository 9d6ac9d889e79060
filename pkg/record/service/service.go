package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/chainsafe/docproof/pkg/app/errors"
	"github.com/chainsafe/docproof/pkg/engine"
	"github.com/chainsafe/docproof/pkg/identity"
	"github.com/chainsafe/docproof/pkg/offline"
	"github.com/chainsafe/docproof/pkg/record"
)

// Engine runs submissions and online re-verification.
type Engine interface {
	Submit(ctx context.Context, req *engine.Request) (*record.Record, error)
	Verify(ctx context.Context, id uuid.UUID, challenge []byte) (*engine.Verification, error)
}

// Identities manages sovereign identities.
type Identities interface {
	CreateIdentity(ctx context.Context, cfg identity.Config) (*identity.Identity, error)
	Resolve(ctx context.Context, did string) (*identity.Identity, error)
	Revoke(ctx context.Context, did string) error
}

// Store is the read side of the record store.
//
//go:generate mockery --name Store --output mocks --outpkg mocks --filename mock_store.go --with-expecter
type Store interface {
	GetRecord(ctx context.Context, id uuid.UUID) (*record.Record, error)
	ListConfirmations(ctx context.Context, recordID uuid.UUID) ([]*record.AnchorConfirmation, error)
}

// Service is the proof API.
//
//go:generate mockery --name Service --output mocks --outpkg mocks --filename mock_service.go --with-expecter
type Service interface {
	Submit(ctx context.Context, req *engine.Request) (*record.Record, error)
	GetRecord(ctx context.Context, id uuid.UUID) (*record.Record, error)
	Verify(ctx context.Context, id uuid.UUID, challenge []byte) (*engine.Verification, error)
	OfflinePackage(ctx context.Context, id uuid.UUID) ([]byte, error)
	VerifyOffline(ctx context.Context, payload, challenge []byte) (*offline.Result, error)
	CreateIdentity(ctx context.Context, cfg identity.Config) (*identity.Identity, error)
	GetIdentity(ctx context.Context, did string) (*identity.Identity, error)
	RevokeIdentity(ctx context.Context, did string) (*identity.Identity, error)
}

type proofService struct {
	engine     Engine
	store      Store
	identities Identities
	packager   *offline.Packager
	verifier   *offline.Verifier
	now        func() time.Time
}

// NewService creates the proof service. identities may be nil, in which case
// the identity operations report NotSupported.
func NewService(
	eng Engine,
	store Store,
	identities Identities,
	packager *offline.Packager,
	verifier *offline.Verifier,
) Service {
	return &proofService{
		engine:     eng,
		store:      store,
		identities: identities,
		packager:   packager,
		verifier:   verifier,
		now:        time.Now,
	}
}

var ErrIdentitiesDisabled = errors.New("identity management is disabled")

func (s *proofService) Submit(ctx context.Context, req *engine.Request) (*record.Record, error) {
	return s.engine.Submit(ctx, req)
}

func (s *proofService) GetRecord(ctx context.Context, id uuid.UUID) (*record.Record, error) {
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		if errors.Is(err, record.ErrRecordNotFound) {
			return nil, apperrors.ResourceNotFoundError(err, "proof record not found")
		}
		return nil, fmt.Errorf("failed to load proof record: %w", err)
	}
	return rec, nil
}

func (s *proofService) Verify(ctx context.Context, id uuid.UUID, challenge []byte) (*engine.Verification, error) {
	return s.engine.Verify(ctx, id, challenge)
}

// OfflinePackage encodes the record for offline verification. Anchor
// confirmations that arrived after the record was written are included.
func (s *proofService) OfflinePackage(ctx context.Context, id uuid.UUID) ([]byte, error) {
	rec, err := s.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Anchored() {
		confs, err := s.store.ListConfirmations(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load anchor confirmations: %w", err)
		}
		rec.Consensus = record.WithConfirmations(rec, confs)
	}

	pkg, err := s.packager.Package(rec, s.now())
	if err != nil {
		return nil, err
	}
	return pkg.Encode()
}

func (s *proofService) VerifyOffline(ctx context.Context, payload, challenge []byte) (*offline.Result, error) {
	return s.verifier.Verify(ctx, payload, challenge)
}

func (s *proofService) CreateIdentity(ctx context.Context, cfg identity.Config) (*identity.Identity, error) {
	if s.identities == nil {
		return nil, apperrors.NotSupportedError(ErrIdentitiesDisabled, "identity management is disabled")
	}
	ident, err := s.identities.CreateIdentity(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return ident.Public(), nil
}

func (s *proofService) GetIdentity(ctx context.Context, did string) (*identity.Identity, error) {
	if s.identities == nil {
		return nil, apperrors.NotSupportedError(ErrIdentitiesDisabled, "identity management is disabled")
	}
	ident, err := s.identities.Resolve(ctx, did)
	if err != nil {
		return nil, err
	}
	return ident.Public(), nil
}

func (s *proofService) RevokeIdentity(ctx context.Context, did string) (*identity.Identity, error) {
	if s.identities == nil {
		return nil, apperrors.NotSupportedError(ErrIdentitiesDisabled, "identity management is disabled")
	}
	if err := s.identities.Revoke(ctx, did); err != nil {
		return nil, err
	}
	return s.GetIdentity(ctx, did)
}
