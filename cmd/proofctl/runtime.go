package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/chainsafe/docproof/pkg/anchor"
	"github.com/chainsafe/docproof/pkg/config"
	"github.com/chainsafe/docproof/pkg/engine"
	"github.com/chainsafe/docproof/pkg/fingerprint"
	"github.com/chainsafe/docproof/pkg/identity"
	"github.com/chainsafe/docproof/pkg/ledger"
	"github.com/chainsafe/docproof/pkg/offline"
	recordservice "github.com/chainsafe/docproof/pkg/record/service"
	"github.com/chainsafe/docproof/pkg/recordstore"
	"github.com/chainsafe/docproof/pkg/trust"
)

// defaultNetwork is the in-process ledger used when no network is configured
// under that name.
const defaultNetwork = "local"

// runtime is the component set shared by every command. Identities live in
// memory for the lifetime of one invocation.
type runtime struct {
	cfg           *config.Config
	logger        *zap.Logger
	fingerprinter *fingerprint.Fingerprinter
	trust         *trust.Engine
	directory     *identity.MemoryDirectory
	identities    *identity.Service
	packager      *offline.Packager
	verifier      *offline.Verifier
}

func newRuntime(c *cli.Context) (*runtime, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	// commands write results to stdout, so logs stay on stderr and quiet
	cfg.Logging.OutputPath = "stderr"
	if c.String("config") == "" {
		cfg.Logging.Level = "warn"
	}
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("setup logger: %w", err)
	}

	fp, err := fingerprint.New(cfg.Fingerprint.Options()...)
	if err != nil {
		return nil, err
	}
	trustEngine, err := trust.NewEngine(
		trust.WithWeights(cfg.Trust.Weights),
		trust.WithAdmissibilityPolicy(cfg.Trust.CourtAdmissibility),
	)
	if err != nil {
		return nil, err
	}

	directory := identity.NewMemoryDirectory()
	identities := identity.NewService(directory,
		identity.WithLogger(logger),
		identity.WithDefaultMethod(cfg.Identity.Method),
		identity.WithDefaultKeyType(cfg.Identity.DefaultKeyType()),
		identity.WithCredentialProofs(cfg.Identity.CredentialProofs),
	)

	opts := []offline.Option{
		offline.WithSecret([]byte(os.Getenv(cfg.Offline.SecretEnv))),
		offline.WithVerificationBaseURL(cfg.Offline.BaseURL),
		offline.WithEngine(trustEngine),
		offline.WithTimestampPolicy(cfg.Offline.MaxAge, cfg.Offline.MaxSkew),
		offline.WithLogger(logger),
	}
	packager, err := offline.NewPackager(opts...)
	if err != nil {
		return nil, err
	}
	verifier, err := offline.NewVerifier(append(opts, offline.WithDirectory(directory))...)
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:           cfg,
		logger:        logger,
		fingerprinter: fp,
		trust:         trustEngine,
		directory:     directory,
		identities:    identities,
		packager:      packager,
		verifier:      verifier,
	}, nil
}

// proofService opens the SQLite record store at dbPath, or at the configured
// path when dbPath is empty, and wires a proof service over it.
func (rt *runtime) proofService(dbPath string) (recordservice.Service, func(), error) {
	if dbPath == "" {
		dbPath = rt.cfg.Storage.SQLitePath
	}
	store, err := recordstore.OpenSQLite(dbPath)
	if err != nil {
		return nil, nil, err
	}

	ledgers, err := rt.openLedgers()
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	anchors := anchor.New(ledgers,
		anchor.WithPolicy(rt.cfg.Anchor.Retry.Policy()),
		anchor.WithLogger(rt.logger),
	)

	eng := engine.New(rt.fingerprinter, store, rt.trust,
		engine.WithAnchorer(anchors),
		engine.WithSigner(rt.identities),
		engine.WithDirectory(rt.directory),
		engine.WithLedgers(ledgers),
		engine.WithProofSystem(rt.cfg.Proof.ProofSystem()),
		engine.WithLookupWindow(rt.cfg.Anchor.Retry.LookupWindow),
		engine.WithLogger(rt.logger),
	)
	svc := recordservice.NewService(eng, store, rt.identities, rt.packager, rt.verifier)
	return svc, func() { _ = store.Close() }, nil
}

func (rt *runtime) openLedgers() (*ledger.Registry, error) {
	reg, err := ledger.NewRegistry()
	if err != nil {
		return nil, err
	}
	for _, n := range rt.cfg.Anchor.EVM {
		l, err := ledger.DialEVM(n.LedgerConfig(), rt.logger)
		if err != nil {
			return nil, fmt.Errorf("anchor network %s: %w", n.Name, err)
		}
		if err := reg.Register(l); err != nil {
			return nil, err
		}
	}
	for _, n := range rt.cfg.Anchor.Memory {
		if err := reg.Register(ledger.NewMemory(n.Name, ledger.WithConfirmAfter(n.ConfirmAfter))); err != nil {
			return nil, err
		}
	}
	if _, err := reg.Get(defaultNetwork); err != nil {
		if err := reg.Register(ledger.NewMemory(defaultNetwork)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
