// Package api implements app.Runner for the proof API server process.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/chainsafe/docproof/pkg/anchor"
	apphttp "github.com/chainsafe/docproof/pkg/app/http"
	"github.com/chainsafe/docproof/pkg/blobstore"
	"github.com/chainsafe/docproof/pkg/config"
	"github.com/chainsafe/docproof/pkg/engine"
	"github.com/chainsafe/docproof/pkg/fingerprint"
	"github.com/chainsafe/docproof/pkg/identity"
	"github.com/chainsafe/docproof/pkg/identitystore"
	"github.com/chainsafe/docproof/pkg/keys"
	"github.com/chainsafe/docproof/pkg/ledger"
	"github.com/chainsafe/docproof/pkg/offline"
	"github.com/chainsafe/docproof/pkg/pgutil"
	reconcilerpkg "github.com/chainsafe/docproof/pkg/reconciler"
	recordservice "github.com/chainsafe/docproof/pkg/record/service"
	"github.com/chainsafe/docproof/pkg/recordstore"
	"github.com/chainsafe/docproof/pkg/trust"
)

var ErrMasterKeyMissing = errors.New("identity master key not set")

// proofStore is everything the server needs from a record store.
type proofStore interface {
	engine.RecordStore
	reconcilerpkg.Store
}

// Server holds cfg to init the api server.
type Server struct {
	cfg *config.Config
}

// NewServer initializes new api server.
func NewServer(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

// components is the wired dependency graph behind the HTTP API.
type components struct {
	service    recordservice.Service
	reconciler *reconcilerpkg.Reconciler
	closers    []io.Closer
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i].Close()
	}
}

func (s *Server) Run() error {
	if s.cfg == nil {
		return fmt.Errorf("api server config is nil")
	}
	cfg := s.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting proof API server",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("record_store", cfg.Storage.Records),
		zap.String("blob_store", cfg.Storage.Blobs),
		zap.Strings("anchor_networks", cfg.Anchor.Networks()),
	)

	c, err := s.build(ctx, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	s.runInitialReconcile(ctx, c.reconciler, logger)

	stopReconcile := s.startPeriodicReconcile(c.reconciler, logger)
	// stopped explicitly below so background work ends before the stores close
	defer stopReconcile()

	router := s.setupRouter(recordservice.NewLog(c.service, logger), logger)

	err = apphttp.ServeAndWait(ctx, router, logger, &cfg.Server)

	stopReconcile()

	return err
}

// build wires stores, ledgers and the engine from the configuration.
func (s *Server) build(ctx context.Context, logger *zap.Logger) (*components, error) {
	cfg := s.cfg
	c := &components{}

	var db *bun.DB
	if cfg.Storage.Records == config.StorePostgres {
		var err error
		db, err = pgutil.ConnectDB(ctx, &cfg.Database)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, db)
		logger.Info("Connected to database",
			zap.String("host", cfg.Database.Host),
			zap.String("database", cfg.Database.Database),
		)
	}

	store, err := s.openRecordStore(db, c)
	if err != nil {
		c.Close()
		return nil, err
	}

	ledgers, err := s.openLedgers(logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	anchors := anchor.New(ledgers,
		anchor.WithPolicy(cfg.Anchor.Retry.Policy()),
		anchor.WithLogger(logger),
	)

	directory, err := s.openDirectory(db)
	if err != nil {
		c.Close()
		return nil, err
	}
	identities := identity.NewService(directory,
		identity.WithLogger(logger),
		identity.WithDefaultMethod(cfg.Identity.Method),
		identity.WithDefaultKeyType(cfg.Identity.DefaultKeyType()),
		identity.WithCredentialProofs(cfg.Identity.CredentialProofs),
	)

	fp, err := fingerprint.New(cfg.Fingerprint.Options()...)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("create fingerprinter: %w", err)
	}
	trustEngine, err := trust.NewEngine(
		trust.WithWeights(cfg.Trust.Weights),
		trust.WithAdmissibilityPolicy(cfg.Trust.CourtAdmissibility),
	)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("create trust engine: %w", err)
	}

	opts := []engine.Option{
		engine.WithAnchorer(anchors),
		engine.WithDirectory(directory),
		engine.WithLedgers(ledgers),
		engine.WithProofSystem(cfg.Proof.ProofSystem()),
		engine.WithLookupWindow(cfg.Anchor.Retry.LookupWindow),
		engine.WithLogger(logger),
	}
	if cfg.Identity.Enabled {
		opts = append(opts, engine.WithSigner(identities))
	}
	if blobs := s.openBlobStore(logger); blobs != nil {
		opts = append(opts, engine.WithBlobStore(blobs))
	}
	eng := engine.New(fp, store, trustEngine, opts...)

	packager, verifier, err := s.offline(trustEngine, directory, logger)
	if err != nil {
		c.Close()
		return nil, err
	}

	var ids recordservice.Identities
	if cfg.Identity.Enabled {
		ids = identities
	}
	c.service = recordservice.NewService(eng, store, ids, packager, verifier)
	c.reconciler = reconcilerpkg.New(store, anchors, logger,
		reconcilerpkg.WithBatchSize(cfg.Reconciliation.BatchSize),
		reconcilerpkg.WithMaxAttempts(cfg.Reconciliation.MaxAttempts),
	)
	return c, nil
}

func (s *Server) openRecordStore(db *bun.DB, c *components) (proofStore, error) {
	switch s.cfg.Storage.Records {
	case config.StorePostgres:
		return recordstore.NewStore(db), nil
	case config.StoreSQLite:
		store, err := recordstore.OpenSQLite(s.cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, store)
		return store, nil
	default:
		return recordstore.NewMemory(), nil
	}
}

// openDirectory returns the persistent identity directory when PostgreSQL is
// configured, and an in-process one otherwise.
func (s *Server) openDirectory(db *bun.DB) (identity.Store, error) {
	if db == nil {
		return identity.NewMemoryDirectory(), nil
	}
	masterKey, err := s.getMasterKey()
	if err != nil {
		return nil, err
	}
	return identitystore.NewStore(db, keys.NewMasterKeyCipher(masterKey)), nil
}

func (s *Server) getMasterKey() ([]byte, error) {
	env := s.cfg.Identity.MasterKeyEnv
	masterKeyStr := os.Getenv(env)
	if masterKeyStr == "" {
		return nil, fmt.Errorf("%w: env=%s (hint: openssl rand -base64 32)", ErrMasterKeyMissing, env)
	}

	masterKey, err := keys.MasterKeyFromBase64(masterKeyStr)
	if err != nil {
		return nil, fmt.Errorf("invalid identity master key: %w", err)
	}
	return masterKey, nil
}

func (s *Server) openLedgers(logger *zap.Logger) (*ledger.Registry, error) {
	reg, err := ledger.NewRegistry()
	if err != nil {
		return nil, err
	}
	for _, n := range s.cfg.Anchor.EVM {
		l, err := ledger.DialEVM(n.LedgerConfig(), logger)
		if err != nil {
			return nil, fmt.Errorf("anchor network %s: %w", n.Name, err)
		}
		if err := reg.Register(l); err != nil {
			return nil, err
		}
	}
	for _, n := range s.cfg.Anchor.Memory {
		logger.Warn("In-memory anchor network configured; anchors do not survive restarts",
			zap.String("network", n.Name))
		if err := reg.Register(ledger.NewMemory(n.Name, ledger.WithConfirmAfter(n.ConfirmAfter))); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (s *Server) openBlobStore(logger *zap.Logger) blobstore.Store {
	switch s.cfg.Storage.Blobs {
	case config.BlobsIPFS:
		logger.Info("Storing document contents on IPFS", zap.String("api_url", s.cfg.Storage.IPFS.APIURL))
		return blobstore.NewIPFS(s.cfg.Storage.IPFS, nil, logger)
	case config.BlobsMemory:
		return blobstore.NewMemory()
	default:
		return nil
	}
}

func (s *Server) offline(
	trustEngine *trust.Engine,
	directory identity.Directory,
	logger *zap.Logger,
) (*offline.Packager, *offline.Verifier, error) {
	secret := []byte(os.Getenv(s.cfg.Offline.SecretEnv))
	if len(secret) == 0 {
		logger.Warn("Offline tamper secret not set; using the protocol default",
			zap.String("env", s.cfg.Offline.SecretEnv))
	}

	opts := []offline.Option{
		offline.WithSecret(secret),
		offline.WithVerificationBaseURL(s.cfg.Offline.BaseURL),
		offline.WithEngine(trustEngine),
		offline.WithTimestampPolicy(s.cfg.Offline.MaxAge, s.cfg.Offline.MaxSkew),
		offline.WithLogger(logger),
	}
	packager, err := offline.NewPackager(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create offline packager: %w", err)
	}
	verifier, err := offline.NewVerifier(append(opts, offline.WithDirectory(directory))...)
	if err != nil {
		return nil, nil, fmt.Errorf("create offline verifier: %w", err)
	}
	return packager, verifier, nil
}

func (s *Server) runInitialReconcile(
	ctx context.Context,
	reconciler *reconcilerpkg.Reconciler,
	logger *zap.Logger,
) {
	if s.cfg.Reconciliation.InitialTimeout <= 0 {
		return
	}

	logger.Info("Running initial anchor reconciliation",
		zap.Duration("timeout", s.cfg.Reconciliation.InitialTimeout),
	)

	startupCtx, cancel := context.WithTimeout(ctx, s.cfg.Reconciliation.InitialTimeout)
	defer cancel()

	sum, err := reconciler.ReconcileAll(startupCtx)
	if err != nil {
		logger.Warn("Initial reconciliation failed (will retry periodically)", zap.Error(err))
		return
	}

	logger.Info("Initial anchor reconciliation completed",
		zap.Int("checked", sum.Checked),
		zap.Int("confirmed", sum.Confirmed),
	)
}

func (s *Server) startPeriodicReconcile(
	reconciler *reconcilerpkg.Reconciler,
	logger *zap.Logger,
) func() {
	if s.cfg.Reconciliation.Interval <= 0 {
		return func() {}
	}

	logger.Info("Starting periodic reconciliation", zap.Duration("interval", s.cfg.Reconciliation.Interval))
	reconciler.StartPeriodicReconciliation(s.cfg.Reconciliation.Interval)

	var once sync.Once
	return func() { once.Do(reconciler.Stop) }
}

func (s *Server) setupRouter(svc recordservice.Service, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.cfg.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		recordservice.RegisterRoutes(r, svc, logger,
			recordservice.WithMaxContentBytes(s.cfg.Fingerprint.MaxContentBytes))
	})

	return r
}
