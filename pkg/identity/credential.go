package identity

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/chainsafe/docproof/pkg/keys"
	"github.com/golang-jwt/jwt/v5"
)

const (
	credentialContext = "https://www.w3.org/2018/credentials/v1"
	credentialType    = "DocumentSignatureCredential"
)

var errCredentialClaims = errors.New("credential claims do not match signature")

// signingMethodES256K is JWS ES256K: ECDSA over secp256k1 with SHA-256 and an
// R || S signature. Sign takes a *keys.KeyPair, Verify a compressed public key.
type signingMethodES256K struct{}

var SigningMethodES256K jwt.SigningMethod = &signingMethodES256K{}

func init() {
	jwt.RegisterSigningMethod(SigningMethodES256K.Alg(), func() jwt.SigningMethod {
		return SigningMethodES256K
	})
}

func (m *signingMethodES256K) Alg() string { return "ES256K" }

func (m *signingMethodES256K) Sign(signingString string, key interface{}) ([]byte, error) {
	kp, ok := key.(*keys.KeyPair)
	if !ok || kp.Type != keys.Secp256k1 {
		return nil, jwt.ErrInvalidKeyType
	}
	return kp.Sign([]byte(signingString))
}

func (m *signingMethodES256K) Verify(signingString string, sig []byte, key interface{}) error {
	publicKey, ok := key.([]byte)
	if !ok {
		return jwt.ErrInvalidKeyType
	}
	if !keys.Verify(keys.Secp256k1, publicKey, []byte(signingString), sig) {
		return jwt.ErrSignatureInvalid
	}
	return nil
}

type verifiableCredential struct {
	Context           []string          `json:"@context"`
	Type              []string          `json:"type"`
	CredentialSubject credentialSubject `json:"credentialSubject"`
}

type credentialSubject struct {
	ID              string            `json:"id"`
	FingerprintHash string            `json:"fingerprintHash"`
	Claims          map[string]string `json:"claims,omitempty"`
}

type credentialClaims struct {
	jwt.RegisteredClaims
	VC verifiableCredential `json:"vc"`
}

// issueCredential wraps the signed statement in a VC-JWT signed by kp.
func issueCredential(kp *keys.KeyPair, sig *Signature) (string, error) {
	claims := credentialClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   sig.DID,
			Subject:  sig.DID,
			ID:       sig.FingerprintHash,
			IssuedAt: jwt.NewNumericDate(sig.SignedAt),
		},
		VC: verifiableCredential{
			Context: []string{credentialContext},
			Type:    []string{"VerifiableCredential", credentialType},
			CredentialSubject: credentialSubject{
				ID:              sig.DID,
				FingerprintHash: sig.FingerprintHash,
				Claims:          sig.Claims,
			},
		},
	}

	var (
		method jwt.SigningMethod
		key    interface{}
	)
	switch kp.Type {
	case keys.Ed25519:
		method, key = jwt.SigningMethodEdDSA, ed25519.NewKeyFromSeed(kp.PrivateKey)
	case keys.Secp256k1:
		method, key = SigningMethodES256K, kp
	default:
		return "", fmt.Errorf("%w: %q", keys.ErrUnsupportedKeyType, string(kp.Type))
	}

	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign credential: %w", err)
	}
	return token, nil
}

// verifyCredential checks the VC-JWT in sig against publicKey and the signed
// statement.
func verifyCredential(sig *Signature, publicKey []byte) error {
	var claims credentialClaims
	_, err := jwt.ParseWithClaims(sig.CredentialProof, &claims, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.Alg() {
		case jwt.SigningMethodEdDSA.Alg():
			if sig.KeyType != keys.Ed25519 || len(publicKey) != ed25519.PublicKeySize {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return ed25519.PublicKey(publicKey), nil
		case SigningMethodES256K.Alg():
			if sig.KeyType != keys.Secp256k1 {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return publicKey, nil
		default:
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg(), SigningMethodES256K.Alg()}))
	if err != nil {
		return fmt.Errorf("failed to parse token: %w", err)
	}

	subject := claims.VC.CredentialSubject
	if claims.Issuer != sig.DID || subject.ID != sig.DID || subject.FingerprintHash != sig.FingerprintHash {
		return errCredentialClaims
	}
	return nil
}
