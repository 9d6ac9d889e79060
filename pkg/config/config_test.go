package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsafe/docproof/pkg/trust"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, StorePostgres, cfg.Storage.Records)
	assert.Equal(t, BlobsNone, cfg.Storage.Blobs)
	assert.Equal(t, trust.DefaultWeights(), cfg.Trust.Weights)
	assert.True(t, cfg.Trust.CourtAdmissibility)
	assert.Equal(t, 3, cfg.Anchor.Retry.SubmitAttempts)
	assert.Equal(t, uint64(128), cfg.Anchor.Retry.LookupWindow)
	assert.Equal(t, "ed25519", cfg.Identity.KeyType)
	assert.Equal(t, 8760*time.Hour, cfg.Offline.MaxAge)
	assert.Equal(t, "sha256", cfg.Fingerprint.Algorithm)
	assert.True(t, cfg.Storage.IPFS.Pin)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
storage:
  records: sqlite
  sqlite_path: /tmp/proofs.db
  blobs: ipfs
  ipfs:
    api_url: http://127.0.0.1:5001
    pin: false
trust:
  court_admissibility: false
  weights:
    proof: 0
anchor:
  retry:
    poll_attempts: 10
  evm:
    - name: sepolia
      rpc_url: https://rpc.sepolia.example
      chain_id: 11155111
      private_key: "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
  memory:
    - name: devnet
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, StoreSQLite, cfg.Storage.Records)
	assert.False(t, cfg.Storage.IPFS.Pin)
	assert.False(t, cfg.Trust.CourtAdmissibility)
	assert.Zero(t, cfg.Trust.Weights.Proof)
	assert.Equal(t, 30.0, cfg.Trust.Weights.PrimaryAnchor)
	assert.Equal(t, 10, cfg.Anchor.Retry.PollAttempts)
	assert.Equal(t, 3, cfg.Anchor.Retry.SubmitAttempts)
	assert.Equal(t, []string{"sepolia", "devnet"}, cfg.Anchor.Networks())

	evm := cfg.Anchor.EVM[0]
	assert.Equal(t, uint64(60000), evm.GasLimit)
	assert.Equal(t, uint64(2), evm.Confirmations)
	lc := evm.LedgerConfig()
	assert.Equal(t, "sepolia", lc.Network)
	assert.Equal(t, "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318", lc.PrivateKey)
	assert.Equal(t, 1, cfg.Anchor.Memory[0].ConfirmAfter)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("DOCPROOF_SERVER_PORT", "7070")
	t.Setenv("DOCPROOF_STORAGE_RECORDS", "memory")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, StoreMemory, cfg.Storage.Records)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown record store", "storage:\n  records: mongo\n"},
		{"negative weight", "trust:\n  weights:\n    signature: -1\n"},
		{"ipfs without api url", "storage:\n  blobs: ipfs\n"},
		{"duplicate network", "anchor:\n  memory:\n    - name: a\n    - name: a\n"},
		{"evm without rpc", "anchor:\n  evm:\n    - name: x\n      chain_id: 1\n      private_key: abcd\n"},
		{"bad key type", "identity:\n  key_type: rsa\n"},
		{"bad log level", "logging:\n  level: loud\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = NewLogger(LoggingConfig{Level: "nope", Format: "json"})
	assert.Error(t, err)
}
