// Package keys provides signing key pairs for sovereign identities and the
// master-key cipher used to store their private halves at rest.
// secp256k1 keys use the Ethereum curve so identities can share wallet tooling;
// ed25519 keys are stored by their 32-byte seed.
package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/hkdf"
)

// KeyType names a signature algorithm.
type KeyType string

const (
	Secp256k1 KeyType = "secp256k1"
	Ed25519   KeyType = "ed25519"
)

// PrivateKeySize is the stored private key size for every supported key type.
const PrivateKeySize = 32

var (
	ErrUnsupportedKeyType = errors.New("unsupported key type")
	ErrNoPrivateKey       = errors.New("key pair has no private key")
)

// KeyPair is a signing key pair.
type KeyPair struct {
	Type       KeyType
	PublicKey  []byte // 33-byte compressed secp256k1 or 32-byte ed25519
	PrivateKey []byte // 32-byte secp256k1 scalar or ed25519 seed
}

// Validate reports whether t is supported.
func (t KeyType) Validate() error {
	switch t {
	case Secp256k1, Ed25519:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedKeyType, string(t))
	}
}

// Generate creates a new random key pair of type t.
func Generate(t KeyType) (*KeyPair, error) {
	switch t {
	case Secp256k1:
		privateKey, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate secp256k1 keypair: %w", err)
		}
		return &KeyPair{
			Type:       Secp256k1,
			PublicKey:  crypto.CompressPubkey(&privateKey.PublicKey),
			PrivateKey: crypto.FromECDSA(privateKey),
		}, nil
	case Ed25519:
		pub, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ed25519 keypair: %w", err)
		}
		return &KeyPair{
			Type:       Ed25519,
			PublicKey:  pub,
			PrivateKey: priv.Seed(),
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKeyType, string(t))
	}
}

// FromPrivateKey rebuilds a key pair from its stored private half.
func FromPrivateKey(t KeyType, privateKey []byte) (*KeyPair, error) {
	if len(privateKey) != PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", PrivateKeySize, len(privateKey))
	}
	switch t {
	case Secp256k1:
		key, err := crypto.ToECDSA(privateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create private key: %w", err)
		}
		return &KeyPair{
			Type:       Secp256k1,
			PublicKey:  crypto.CompressPubkey(&key.PublicKey),
			PrivateKey: append([]byte(nil), privateKey...),
		}, nil
	case Ed25519:
		priv := ed25519.NewKeyFromSeed(privateKey)
		return &KeyPair{
			Type:       Ed25519,
			PublicKey:  priv.Public().(ed25519.PublicKey),
			PrivateKey: append([]byte(nil), privateKey...),
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKeyType, string(t))
	}
}

// Derive deterministically derives a key pair of type t from seed and label
// using HKDF-SHA256.
func Derive(t KeyType, label string, seed []byte) (*KeyPair, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("seed must be at least 32 bytes")
	}
	privateKey, err := DeriveKey(seed, "docproof-key-"+label, PrivateKeySize)
	if err != nil {
		return nil, err
	}
	return FromPrivateKey(t, privateKey)
}

// DeriveKey expands secret into n bytes bound to info.
func DeriveKey(secret []byte, info string, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return out, nil
}

// Sign signs message. secp256k1 signs SHA-256(message) and returns R || S;
// ed25519 signs the message itself.
func (kp *KeyPair) Sign(message []byte) ([]byte, error) {
	if len(kp.PrivateKey) == 0 {
		return nil, ErrNoPrivateKey
	}
	switch kp.Type {
	case Secp256k1:
		privateKey, err := crypto.ToECDSA(kp.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to convert private key: %w", err)
		}
		hash := sha256.Sum256(message)
		signature, err := crypto.Sign(hash[:], privateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to sign: %w", err)
		}
		// drop the recovery id
		return signature[:64], nil
	case Ed25519:
		return ed25519.Sign(ed25519.NewKeyFromSeed(kp.PrivateKey), message), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKeyType, string(kp.Type))
	}
}

// Verify checks signature over message with the key pair's public key.
func (kp *KeyPair) Verify(message, signature []byte) bool {
	return Verify(kp.Type, kp.PublicKey, message, signature)
}

// Verify checks signature over message against publicKey of type t.
func Verify(t KeyType, publicKey, message, signature []byte) bool {
	switch t {
	case Secp256k1:
		if len(signature) != 64 {
			return false
		}
		hash := sha256.Sum256(message)
		return crypto.VerifySignature(publicKey, hash[:], signature)
	case Ed25519:
		if len(publicKey) != ed25519.PublicKeySize {
			return false
		}
		return ed25519.Verify(publicKey, message, signature)
	default:
		return false
	}
}

// Public returns a copy of kp without the private key.
func (kp *KeyPair) Public() *KeyPair {
	return &KeyPair{
		Type:      kp.Type,
		PublicKey: append([]byte(nil), kp.PublicKey...),
	}
}

// PublicKeyHex returns the public key as a hex string (for display/logging)
func (kp *KeyPair) PublicKeyHex() string {
	return fmt.Sprintf("%x", kp.PublicKey)
}

// PublicKeyBase64 returns the public key as a base64 string
func (kp *KeyPair) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(kp.PublicKey)
}
