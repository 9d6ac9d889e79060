package identitystore

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/chainsafe/docproof/pkg/identity"
	"github.com/chainsafe/docproof/pkg/keys"
)

// IdentityDao maps to the 'identities' table. Private keys are stored encrypted.
type IdentityDao struct {
	bun.BaseModel       `bun:"table:identities,alias:i"`
	ID                  int64                  `bun:"id,pk,autoincrement"`
	DID                 string                 `bun:"did,unique,notnull,type:varchar(128)"`
	Method              string                 `bun:"method,notnull,type:varchar(64)"`
	KeyType             string                 `bun:"key_type,notnull,type:varchar(16)"`
	PublicKey           string                 `bun:"public_key,notnull,type:varchar(130)"`
	PrivateKeyEncrypted string                 `bun:"private_key_encrypted,type:text"`
	CredentialTypes     []string               `bun:"credential_types,type:jsonb"`
	Attestations        []identity.Attestation `bun:"attestations,type:jsonb"`
	State               string                 `bun:"state,notnull,type:varchar(16)"`
	CreatedAt           time.Time              `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt           time.Time              `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func toIdentityDao(ident *identity.Identity, cipher keys.KeyCipher) (*IdentityDao, error) {
	dao := &IdentityDao{
		DID:             ident.DID,
		Method:          ident.Method,
		KeyType:         string(ident.KeyType),
		PublicKey:       hex.EncodeToString(ident.PublicKey),
		CredentialTypes: ident.CredentialTypes,
		Attestations:    ident.Attestations,
		State:           string(ident.State),
		CreatedAt:       ident.CreatedAt,
		UpdatedAt:       ident.UpdatedAt,
	}
	if len(ident.PrivateKey) > 0 {
		encrypted, err := cipher.Encrypt(ident.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt private key: %w", err)
		}
		dao.PrivateKeyEncrypted = encrypted
	}
	return dao, nil
}

func toIdentity(dao *IdentityDao, cipher keys.KeyCipher) (*identity.Identity, error) {
	publicKey, err := hex.DecodeString(dao.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	ident := &identity.Identity{
		DID:             dao.DID,
		Method:          dao.Method,
		PublicKey:       publicKey,
		KeyType:         keys.KeyType(dao.KeyType),
		CredentialTypes: dao.CredentialTypes,
		Attestations:    dao.Attestations,
		State:           identity.State(dao.State),
		CreatedAt:       dao.CreatedAt,
		UpdatedAt:       dao.UpdatedAt,
	}
	if dao.PrivateKeyEncrypted != "" {
		ident.PrivateKey, err = cipher.Decrypt(dao.PrivateKeyEncrypted)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt private key: %w", err)
		}
	}
	return ident, nil
}
