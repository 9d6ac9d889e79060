// Package identity manages self-sovereign signers: key-pair-backed DIDs, their
// lifecycle, and signatures over document fingerprints.
package identity

import (
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/chainsafe/docproof/pkg/keys"
)

// State is a point in the identity lifecycle: created -> active -> revoked.
type State string

const (
	StateCreated State = "created"
	StateActive  State = "active"
	StateRevoked State = "revoked"
)

// DefaultMethod is the DID method used when none is configured.
const DefaultMethod = "docproof"

const didIdentifierLen = 24

var (
	ErrIdentityNotFound  = errors.New("identity not found")
	ErrIdentityExists    = errors.New("identity already exists")
	ErrInvalidTransition = errors.New("invalid identity state transition")
	ErrIdentityInactive  = errors.New("identity is not active")
	ErrInvalidDID        = errors.New("invalid did")

	methodPattern = regexp.MustCompile(`^[a-z0-9]+$`)
)

// Attestation is a claim about an identity made by a third party.
type Attestation struct {
	Type     string    `json:"type"`
	Issuer   string    `json:"issuer"`
	Value    string    `json:"value,omitempty"`
	IssuedAt time.Time `json:"issued_at"`
}

// Identity is a DID bound to one key pair. PrivateKey stays with the holder and
// is never serialized.
type Identity struct {
	DID             string        `json:"did"`
	Method          string        `json:"method"`
	PublicKey       []byte        `json:"public_key"`
	PrivateKey      []byte        `json:"-"`
	KeyType         keys.KeyType  `json:"key_type"`
	CredentialTypes []string      `json:"credential_types,omitempty"`
	Attestations    []Attestation `json:"attestations,omitempty"`
	State           State         `json:"state"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Active reports whether the identity may sign and be trusted.
func (i *Identity) Active() bool {
	return i.State == StateActive
}

// Transition moves the identity to state to. Only created->active and
// active->revoked are allowed.
func (i *Identity) Transition(to State, at time.Time) error {
	switch {
	case i.State == StateCreated && to == StateActive:
	case i.State == StateActive && to == StateRevoked:
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, i.State, to)
	}
	i.State = to
	i.UpdatedAt = at
	return nil
}

// KeyPair returns the signing key pair. It fails if the private key is absent.
func (i *Identity) KeyPair() (*keys.KeyPair, error) {
	if len(i.PrivateKey) == 0 {
		return nil, keys.ErrNoPrivateKey
	}
	kp, err := keys.FromPrivateKey(i.KeyType, i.PrivateKey)
	if err != nil {
		return nil, err
	}
	return kp, nil
}

// Public returns a copy of the identity without its private key.
func (i *Identity) Public() *Identity {
	cp := *i
	cp.PrivateKey = nil
	cp.PublicKey = append([]byte(nil), i.PublicKey...)
	cp.CredentialTypes = append([]string(nil), i.CredentialTypes...)
	cp.Attestations = append([]Attestation(nil), i.Attestations...)
	return &cp
}

// DeriveDID returns did:<method>:<id> where id is the first 24 characters of the
// lowercase base32 SHA-256 of the public key.
func DeriveDID(method string, publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	id := strings.ToLower(base32.StdEncoding.EncodeToString(sum[:]))[:didIdentifierLen]
	return "did:" + method + ":" + id
}

// ParseDID splits a DID into method and identifier.
func ParseDID(did string) (method, id string, err error) {
	parts := strings.Split(did, ":")
	if len(parts) != 3 || parts[0] != "did" || !methodPattern.MatchString(parts[1]) || parts[2] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidDID, did)
	}
	return parts[1], parts[2], nil
}

// SelfCertifies reports whether did was derived from publicKey.
func SelfCertifies(did string, publicKey []byte) bool {
	method, _, err := ParseDID(did)
	if err != nil {
		return false
	}
	return DeriveDID(method, publicKey) == did
}
