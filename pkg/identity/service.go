package identity

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/chainsafe/docproof/pkg/app/errors"
	"github.com/chainsafe/docproof/pkg/fingerprint"
	"github.com/chainsafe/docproof/pkg/keys"
)

// Config describes an identity to create.
type Config struct {
	Method          string       `json:"method,omitempty"`
	KeyType         keys.KeyType `json:"key_type,omitempty"`
	CredentialTypes []string     `json:"credential_types,omitempty"`
}

// Service creates identities and signs fingerprints on their behalf.
type Service struct {
	store      Store
	logger     *zap.Logger
	now        func() time.Time
	method     string
	keyType    keys.KeyType
	credential bool
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDefaultMethod sets the DID method used when Config.Method is empty.
func WithDefaultMethod(method string) Option {
	return func(s *Service) {
		if method != "" {
			s.method = method
		}
	}
}

// WithDefaultKeyType sets the key type used when Config.KeyType is empty.
func WithDefaultKeyType(t keys.KeyType) Option {
	return func(s *Service) {
		if t != "" {
			s.keyType = t
		}
	}
}

// WithCredentialProofs attaches a VC-JWT to every signature.
func WithCredentialProofs(enabled bool) Option {
	return func(s *Service) { s.credential = enabled }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:   store,
		logger:  zap.NewNop(),
		now:     time.Now,
		method:  DefaultMethod,
		keyType: keys.Ed25519,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// CreateIdentity generates a key pair and registers an active identity for it.
func (s *Service) CreateIdentity(ctx context.Context, cfg Config) (*Identity, error) {
	method := cfg.Method
	if method == "" {
		method = s.method
	}
	if !methodPattern.MatchString(method) {
		return nil, apperrors.BadRequestError(ErrInvalidDID, fmt.Sprintf("invalid did method %q", method))
	}
	keyType := cfg.KeyType
	if keyType == "" {
		keyType = s.keyType
	}
	if err := keyType.Validate(); err != nil {
		return nil, apperrors.BadRequestError(err, "invalid key type")
	}

	kp, err := keys.Generate(keyType)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	ident := &Identity{
		DID:             DeriveDID(method, kp.PublicKey),
		Method:          method,
		PublicKey:       kp.PublicKey,
		PrivateKey:      kp.PrivateKey,
		KeyType:         keyType,
		CredentialTypes: cfg.CredentialTypes,
		State:           StateCreated,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := ident.Transition(StateActive, now); err != nil {
		return nil, err
	}

	if err := s.store.CreateIdentity(ctx, ident); err != nil {
		if errors.Is(err, ErrIdentityExists) {
			return nil, apperrors.ConflictError(err, "identity already exists")
		}
		return nil, fmt.Errorf("failed to store identity: %w", err)
	}

	s.logger.Info("identity created", zap.String("did", ident.DID), zap.String("key_type", string(keyType)))
	return ident, nil
}

// Resolve returns the public view of did.
func (s *Service) Resolve(ctx context.Context, did string) (*Identity, error) {
	ident, err := s.resolve(ctx, did)
	if err != nil {
		return nil, err
	}
	return ident.Public(), nil
}

// Revoke moves did to the revoked state. Signatures made by a revoked identity
// no longer verify against the directory.
func (s *Service) Revoke(ctx context.Context, did string) error {
	ident, err := s.resolve(ctx, did)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if err := ident.Transition(StateRevoked, now); err != nil {
		return apperrors.PolicyViolationError(err, "identity cannot be revoked")
	}
	if err := s.store.UpdateState(ctx, did, StateRevoked, now); err != nil {
		return fmt.Errorf("failed to revoke identity: %w", err)
	}
	s.logger.Info("identity revoked", zap.String("did", did))
	return nil
}

// Sign signs fp on behalf of did. Only active identities may sign.
func (s *Service) Sign(ctx context.Context, did string, fp *fingerprint.Fingerprint, claims map[string]string) (*Signature, error) {
	if fp == nil || fp.Hash == "" {
		return nil, apperrors.ContentError(fingerprint.ErrMalformedHash, "fingerprint is required")
	}
	ident, err := s.resolve(ctx, did)
	if err != nil {
		return nil, err
	}
	if !ident.Active() {
		return nil, apperrors.PolicyViolationError(ErrIdentityInactive, fmt.Sprintf("identity is %s", ident.State))
	}
	kp, err := ident.KeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	sig := &Signature{
		PublicKey:       hex.EncodeToString(kp.PublicKey),
		KeyType:         kp.Type,
		DID:             ident.DID,
		FingerprintHash: fp.Hash,
		SignedAt:        s.now().UTC().Truncate(time.Millisecond),
		Claims:          claims,
	}
	payload, err := sig.Payload()
	if err != nil {
		return nil, fmt.Errorf("failed to build signed payload: %w", err)
	}
	value, err := kp.Sign(payload)
	if err != nil {
		return nil, err
	}
	sig.Value = hex.EncodeToString(value)

	if s.credential {
		token, err := issueCredential(kp, sig)
		if err != nil {
			return nil, err
		}
		sig.CredentialProof = token
	}
	return sig, nil
}

// VerifySignature checks sig against expectedHash and the service's directory.
func (s *Service) VerifySignature(ctx context.Context, sig *Signature, expectedHash string) Outcome {
	return Verify(ctx, sig, expectedHash, s.store)
}

func (s *Service) resolve(ctx context.Context, did string) (*Identity, error) {
	if _, _, err := ParseDID(did); err != nil {
		return nil, apperrors.BadRequestError(err, "malformed did")
	}
	ident, err := s.store.Resolve(ctx, did)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, apperrors.ResourceNotFoundError(err, "identity not found")
		}
		return nil, apperrors.NetworkTransientError(err, "identity directory unavailable")
	}
	return ident, nil
}
