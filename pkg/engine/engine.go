// Package engine runs the proof submission pipeline and online
// re-verification of stored records.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chainsafe/docproof/pkg/anchor"
	"github.com/chainsafe/docproof/pkg/blobstore"
	"github.com/chainsafe/docproof/pkg/commitment"
	"github.com/chainsafe/docproof/pkg/fingerprint"
	"github.com/chainsafe/docproof/pkg/identity"
	"github.com/chainsafe/docproof/pkg/ledger"
	"github.com/chainsafe/docproof/pkg/record"
	"github.com/chainsafe/docproof/pkg/trust"
)

// Anchorer submits fingerprints to ledger networks.
//
//go:generate mockery --name Anchorer --output mocks --outpkg mocks --filename mock_anchorer.go --with-expecter
type Anchorer interface {
	SubmitAnchor(ctx context.Context, fp *fingerprint.Fingerprint, network string) (*anchor.Receipt, error)
	SubmitDoubleAnchor(ctx context.Context, fp *fingerprint.Fingerprint, primary, secondary string, requireBoth bool) (*anchor.Consensus, error)
}

// Signer produces sovereign signatures over fingerprints.
type Signer interface {
	Sign(ctx context.Context, did string, fp *fingerprint.Fingerprint, claims map[string]string) (*identity.Signature, error)
}

// LedgerResolver finds the live ledger for a network.
type LedgerResolver interface {
	Get(network string) (ledger.Ledger, error)
}

// RecordStore persists proof records.
//
//go:generate mockery --name RecordStore --output mocks --outpkg mocks --filename mock_record_store.go --with-expecter
type RecordStore interface {
	SaveRecord(ctx context.Context, rec *record.Record) error
	GetRecord(ctx context.Context, id uuid.UUID) (*record.Record, error)
	ListConfirmations(ctx context.Context, recordID uuid.UUID) ([]*record.AnchorConfirmation, error)
}

// File is one uploaded document.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Request describes one submission. Everything past Files is optional.
type Request struct {
	Files            []File
	Description      string
	GenerateProof    bool
	ProofSystem      commitment.System
	SignerDID        string
	Claims           map[string]string
	PrimaryNetwork   string
	SecondaryNetwork string
	RequireBoth      bool
	StoreContent     bool
}

// Engine wires the proof components together. Components left nil disable
// the methods that need them.
type Engine struct {
	fingerprinter *fingerprint.Fingerprinter
	store         RecordStore
	trust         *trust.Engine

	anchorer      Anchorer
	signer        Signer
	directory     identity.Directory
	ledgers       LedgerResolver
	blobs         blobstore.Store
	defaultSystem commitment.System
	lookupWindow  uint64

	logger *zap.Logger
	now    func() time.Time
}

// New creates an Engine.
func New(fp *fingerprint.Fingerprinter, store RecordStore, trustEngine *trust.Engine, opts ...Option) *Engine {
	e := &Engine{
		fingerprinter: fp,
		store:         store,
		trust:         trustEngine,
		defaultSystem: commitment.SystemSchnorr,
		lookupWindow:  anchor.DefaultPolicy().LookupWindow,
		logger:        zap.NewNop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Option configures an Engine.
type Option func(*Engine)

func WithAnchorer(a Anchorer) Option {
	return func(e *Engine) { e.anchorer = a }
}

func WithSigner(s Signer) Option {
	return func(e *Engine) { e.signer = s }
}

// WithDirectory enables key-ownership checks during verification.
func WithDirectory(d identity.Directory) Option {
	return func(e *Engine) { e.directory = d }
}

// WithLedgers enables live anchor lookups during verification.
func WithLedgers(l LedgerResolver) Option {
	return func(e *Engine) { e.ledgers = l }
}

func WithBlobStore(b blobstore.Store) Option {
	return func(e *Engine) { e.blobs = b }
}

// WithProofSystem sets the proof system used when a request names none.
func WithProofSystem(s commitment.System) Option {
	return func(e *Engine) { e.defaultSystem = s }
}

// WithLookupWindow sets how many recent blocks a live lookup scans.
func WithLookupWindow(n uint64) Option {
	return func(e *Engine) { e.lookupWindow = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}
