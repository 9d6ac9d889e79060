package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/chainsafe/docproof/pkg/anchor"
	"github.com/chainsafe/docproof/pkg/blobstore"
	"github.com/chainsafe/docproof/pkg/commitment"
	"github.com/chainsafe/docproof/pkg/fingerprint"
	"github.com/chainsafe/docproof/pkg/keys"
	"github.com/chainsafe/docproof/pkg/ledger"
	"github.com/chainsafe/docproof/pkg/trust"
)

// EnvPrefix prefixes every environment override, e.g. DOCPROOF_SERVER_PORT.
const EnvPrefix = "DOCPROOF"

// Record store backends.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// Blob store backends.
const (
	BlobsNone   = "none"
	BlobsMemory = "memory"
	BlobsIPFS   = "ipfs"
)

// Config represents the application configuration
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Fingerprint    FingerprintConfig    `mapstructure:"fingerprint"`
	Proof          ProofConfig          `mapstructure:"proof"`
	Trust          TrustConfig          `mapstructure:"trust"`
	Anchor         AnchorConfig         `mapstructure:"anchor"`
	Identity       IdentityConfig       `mapstructure:"identity"`
	Offline        OfflineConfig        `mapstructure:"offline"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string        `mapstructure:"host" default:"0.0.0.0"`
	Port            int           `mapstructure:"port" default:"8080" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" default:"30s"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" default:"2m"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" default:"60s"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" default:"30s"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" default:"2m"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host" default:"localhost"`
	Port     int    `mapstructure:"port" default:"5432"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database" default:"docproof"`
	SSLMode  string `mapstructure:"ssl_mode" default:"disable"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level" default:"info" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" default:"json" validate:"oneof=json console"`
	OutputPath string `mapstructure:"output_path" default:"stdout"`
}

// StorageConfig selects where records and document contents live.
type StorageConfig struct {
	Records    string               `mapstructure:"records" default:"postgres" validate:"oneof=postgres sqlite memory"`
	SQLitePath string               `mapstructure:"sqlite_path" default:"docproof.db"`
	Blobs      string               `mapstructure:"blobs" default:"none" validate:"oneof=none memory ipfs"`
	IPFS       blobstore.IPFSConfig `mapstructure:"ipfs" validate:"-"`
}

type FingerprintConfig struct {
	Algorithm       string `mapstructure:"algorithm" default:"sha256" validate:"oneof=sha256 sha512 sha3-256"`
	MaxContentBytes int64  `mapstructure:"max_content_bytes" default:"104857600" validate:"gt=0"`
}

type ProofConfig struct {
	System string `mapstructure:"system" default:"schnorr-fs-v1" validate:"oneof=schnorr-fs-v1 hash-binding-v1"`
}

// TrustConfig holds the scoring weights and the admissibility policy.
type TrustConfig struct {
	Weights            trust.Weights `mapstructure:"weights"`
	CourtAdmissibility bool          `mapstructure:"court_admissibility" default:"true"`
}

// AnchorConfig lists the anchor networks and the retry policy shared by all of them.
type AnchorConfig struct {
	Retry  RetryConfig           `mapstructure:"retry"`
	EVM    []EVMNetworkConfig    `mapstructure:"evm" validate:"dive"`
	Memory []MemoryNetworkConfig `mapstructure:"memory" validate:"dive"`
}

type RetryConfig struct {
	SubmitAttempts  int           `mapstructure:"submit_attempts" default:"3" validate:"min=1"`
	PollAttempts    int           `mapstructure:"poll_attempts" default:"4" validate:"min=1"`
	InitialInterval time.Duration `mapstructure:"initial_interval" default:"2s" validate:"gt=0"`
	MaxInterval     time.Duration `mapstructure:"max_interval" default:"30s" validate:"gtefield=InitialInterval"`
	Multiplier      float64       `mapstructure:"multiplier" default:"2" validate:"gte=1"`
	Jitter          float64       `mapstructure:"jitter" default:"0.2" validate:"gte=0,lt=1"`
	LookupWindow    uint64        `mapstructure:"lookup_window" default:"128" validate:"gt=0"`
}

// EVMNetworkConfig contains the settings of one EVM anchor network
type EVMNetworkConfig struct {
	Name          string `mapstructure:"name" validate:"required"`
	RPCURL        string `mapstructure:"rpc_url" validate:"required,url"`
	ChainID       int64  `mapstructure:"chain_id" validate:"gt=0"`
	PrivateKey    string `mapstructure:"private_key" validate:"required,hexadecimal"`
	GasLimit      uint64 `mapstructure:"gas_limit" default:"60000"`
	MaxGasPrice   string `mapstructure:"max_gas_price" default:"200000000000" validate:"numeric"`
	Confirmations uint64 `mapstructure:"confirmations" default:"2"`
}

// MemoryNetworkConfig declares an in-process ledger, for development and demos.
type MemoryNetworkConfig struct {
	Name         string `mapstructure:"name" validate:"required"`
	ConfirmAfter int    `mapstructure:"confirm_after" default:"1" validate:"min=1"`
}

type IdentityConfig struct {
	Enabled          bool   `mapstructure:"enabled" default:"true"`
	Method           string `mapstructure:"method" default:"docproof" validate:"required,alphanum"`
	KeyType          string `mapstructure:"key_type" default:"ed25519" validate:"oneof=ed25519 secp256k1"`
	MasterKeyEnv     string `mapstructure:"master_key_env" default:"DOCPROOF_MASTER_KEY"`
	CredentialProofs bool   `mapstructure:"credential_proofs" default:"true"`
}

// OfflineConfig contains offline payload settings. The tamper secret itself
// is read from the environment variable named by SecretEnv.
type OfflineConfig struct {
	SecretEnv string        `mapstructure:"secret_env" default:"DOCPROOF_OFFLINE_SECRET"`
	BaseURL   string        `mapstructure:"base_url" validate:"omitempty,url"`
	MaxAge    time.Duration `mapstructure:"max_age" default:"8760h" validate:"gt=0"`
	MaxSkew   time.Duration `mapstructure:"max_skew" default:"5m" validate:"gte=0"`
}

// ReconciliationConfig contains settings for pending anchor reconciliation
type ReconciliationConfig struct {
	InitialTimeout time.Duration `mapstructure:"initial_timeout" default:"1m"`
	Interval       time.Duration `mapstructure:"interval" default:"5m"`
	BatchSize      int           `mapstructure:"batch_size" default:"100" validate:"gt=0"`
	MaxAttempts    int           `mapstructure:"max_attempts" default:"48" validate:"gt=0"`
}

var (
	ErrDuplicateNetwork = errors.New("duplicate anchor network")
	ErrDatabaseHost     = errors.New("database.host is required for the postgres record store")
)

// Load loads configuration from file and environment variables. An empty
// configPath loads defaults and environment overrides only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := defaults.Set(&config); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	for i := range config.Anchor.EVM {
		if err := defaults.Set(&config.Anchor.EVM[i]); err != nil {
			return nil, fmt.Errorf("failed to apply defaults: %w", err)
		}
	}
	for i := range config.Anchor.Memory {
		if err := defaults.Set(&config.Anchor.Memory[i]); err != nil {
			return nil, fmt.Errorf("failed to apply defaults: %w", err)
		}
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults registers the keys most often overridden from the environment.
// AutomaticEnv only binds keys viper already knows about.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "docproof")
	v.SetDefault("database.ssl_mode", "disable")

	// Storage defaults
	v.SetDefault("storage.records", StorePostgres)
	v.SetDefault("storage.sqlite_path", "docproof.db")
	v.SetDefault("storage.blobs", BlobsNone)
	v.SetDefault("storage.ipfs.pin", true)
	v.SetDefault("storage.ipfs.timeout", "30s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "stdout")

	// Offline defaults
	v.SetDefault("offline.base_url", "")

	// Reconciliation defaults
	v.SetDefault("reconciliation.initial_timeout", "1m")
	v.SetDefault("reconciliation.interval", "5m")
}

func validate(config *Config) error {
	if err := validator.New().Struct(config); err != nil {
		return err
	}
	if err := config.Trust.Weights.Validate(); err != nil {
		return err
	}
	if config.Storage.Records == StorePostgres && config.Database.Host == "" {
		return ErrDatabaseHost
	}
	if config.Storage.Blobs == BlobsIPFS {
		if err := validator.New().Struct(config.Storage.IPFS); err != nil {
			return fmt.Errorf("storage.ipfs: %w", err)
		}
	}

	seen := make(map[string]bool)
	for _, name := range config.Anchor.Networks() {
		if seen[name] {
			return fmt.Errorf("%w: %s", ErrDuplicateNetwork, name)
		}
		seen[name] = true
	}
	return nil
}

// Networks returns the names of every configured anchor network.
func (c *AnchorConfig) Networks() []string {
	names := make([]string, 0, len(c.EVM)+len(c.Memory))
	for _, n := range c.EVM {
		names = append(names, n.Name)
	}
	for _, n := range c.Memory {
		names = append(names, n.Name)
	}
	return names
}

// Policy converts the retry settings to an anchor policy.
func (c RetryConfig) Policy() anchor.Policy {
	return anchor.Policy{
		SubmitAttempts:  c.SubmitAttempts,
		PollAttempts:    c.PollAttempts,
		InitialInterval: c.InitialInterval,
		MaxInterval:     c.MaxInterval,
		Multiplier:      c.Multiplier,
		Jitter:          c.Jitter,
		LookupWindow:    c.LookupWindow,
	}
}

func (c EVMNetworkConfig) LedgerConfig() ledger.EVMConfig {
	return ledger.EVMConfig{
		Network:       c.Name,
		RPCURL:        c.RPCURL,
		ChainID:       c.ChainID,
		PrivateKey:    strings.TrimPrefix(c.PrivateKey, "0x"),
		GasLimit:      c.GasLimit,
		MaxGasPrice:   c.MaxGasPrice,
		Confirmations: c.Confirmations,
	}
}

func (c FingerprintConfig) Options() []fingerprint.Option {
	return []fingerprint.Option{
		fingerprint.WithAlgorithm(fingerprint.Algorithm(c.Algorithm)),
		fingerprint.WithMaxContentBytes(c.MaxContentBytes),
	}
}

func (c ProofConfig) ProofSystem() commitment.System {
	return commitment.System(c.System)
}

func (c IdentityConfig) DefaultKeyType() keys.KeyType {
	return keys.KeyType(c.KeyType)
}

// GetConnectionString returns a PostgreSQL connection string
func (c *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
