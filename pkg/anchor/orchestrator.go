package anchor

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	apperrors "github.com/chainsafe/docproof/pkg/app/errors"
	"github.com/chainsafe/docproof/pkg/fingerprint"
	"github.com/chainsafe/docproof/pkg/ledger"
)

var errAwaitingConfirmation = errors.New("awaiting confirmation")

// Policy bounds submission retries and confirmation polling.
type Policy struct {
	SubmitAttempts  int
	PollAttempts    int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64
	LookupWindow    uint64
}

func DefaultPolicy() Policy {
	return Policy{
		SubmitAttempts:  3,
		PollAttempts:    4,
		InitialInterval: 2 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
		Jitter:          0.2,
		LookupWindow:    128,
	}
}

func (p Policy) backOff(ctx context.Context, attempts int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()

	retries := 0
	if attempts > 1 {
		retries = attempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// LedgerResolver finds the ledger for a network name.
type LedgerResolver interface {
	Get(network string) (ledger.Ledger, error)
}

// Orchestrator anchors fingerprints on one or two networks.
type Orchestrator struct {
	ledgers LedgerResolver
	policy  Policy
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithPolicy(p Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func New(ledgers LedgerResolver, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		ledgers: ledgers,
		policy:  DefaultPolicy(),
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// SubmitAnchor anchors fp on network. Transient submission errors are retried;
// once the network accepts the note it is only polled. A receipt that is not
// confirmed within the poll budget, or when ctx ends, is returned PENDING.
// A submission that never succeeds is returned FAILED. Only an invalid
// fingerprint or unknown network is an error.
func (o *Orchestrator) SubmitAnchor(ctx context.Context, fp *fingerprint.Fingerprint, network string) (*Receipt, error) {
	note, l, err := o.prepare(fp, network)
	if err != nil {
		return nil, err
	}
	return o.anchorNote(ctx, l, note, ""), nil
}

// SubmitDoubleAnchor anchors fp on primary, then anchors a note linking the
// fingerprint to the primary transaction on secondary. If the primary never
// got a transaction ID the secondary anchors the plain fingerprint unlinked.
// A failed secondary leaves the consensus single-chain.
func (o *Orchestrator) SubmitDoubleAnchor(ctx context.Context, fp *fingerprint.Fingerprint, primary, secondary string, requireBoth bool) (*Consensus, error) {
	note, primaryLedger, err := o.prepare(fp, primary)
	if err != nil {
		return nil, err
	}
	_, secondaryLedger, err := o.prepare(fp, secondary)
	if err != nil {
		return nil, err
	}
	if primary == secondary {
		return nil, apperrors.BadRequestError(ledger.ErrDuplicateNetwork, "primary and secondary networks must differ")
	}

	first := o.anchorNote(ctx, primaryLedger, note, "")

	var second *Receipt
	if first.TransactionID != "" {
		second = o.anchorNote(ctx, secondaryLedger, LinkNote(fp.Hash, first.Network, first.TransactionID), first.Reference())
	} else {
		o.logger.Warn("primary anchor failed, anchoring secondary unlinked",
			zap.String("primary", primary), zap.String("secondary", secondary))
		second = o.anchorNote(ctx, secondaryLedger, note, "")
	}

	c := EvaluateConsensus([]*Receipt{first, second}, requireBoth)
	if second.Status == StatusFailed {
		o.logger.Warn("secondary anchor failed, record degraded to single chain",
			zap.String("network", secondary), zap.String("error", second.Error))
	}
	return c, nil
}

// Resume re-polls an unconfirmed receipt without re-submitting it.
func (o *Orchestrator) Resume(ctx context.Context, r *Receipt) (*Receipt, error) {
	if r.Confirmed() {
		return r.clone(), nil
	}
	if r.TransactionID == "" {
		return nil, apperrors.BadRequestError(ErrNotSubmitted, "receipt has no transaction id")
	}
	l, err := o.ledgers.Get(r.Network)
	if err != nil {
		return nil, apperrors.BadRequestError(err, "unknown anchor network")
	}
	note, err := hex.DecodeString(r.NoteHash)
	if err != nil {
		return nil, apperrors.ContentError(ErrMalformedReceipt, "receipt note hash is not hex")
	}

	out := r.clone()
	out.Status = StatusPending
	out.Error, out.ErrorKind = "", ""
	o.poll(ctx, l, note, out)
	return out, nil
}

func (o *Orchestrator) prepare(fp *fingerprint.Fingerprint, network string) ([]byte, ledger.Ledger, error) {
	if fp == nil {
		return nil, nil, apperrors.ContentError(fingerprint.ErrMalformedHash, "fingerprint is required")
	}
	if err := fingerprint.Validate(fp.Hash, fp.Algorithm); err != nil {
		return nil, nil, apperrors.ContentError(err, "malformed fingerprint")
	}
	note, err := FingerprintNote(fp.Hash)
	if err != nil {
		return nil, nil, apperrors.ContentError(err, "malformed fingerprint")
	}
	l, err := o.ledgers.Get(network)
	if err != nil {
		return nil, nil, apperrors.BadRequestError(err, "unknown anchor network")
	}
	return note, l, nil
}

func (o *Orchestrator) anchorNote(ctx context.Context, l ledger.Ledger, note []byte, linkedTo string) *Receipt {
	r := &Receipt{
		Network:     l.Network(),
		Status:      StatusPending,
		NoteHash:    hex.EncodeToString(note),
		LinkedTo:    linkedTo,
		SubmittedAt: o.now().UTC(),
	}

	txID, err := backoff.RetryWithData(func() (string, error) {
		txID, err := l.SubmitNote(ctx, note)
		if err != nil && !apperrors.IsTransient(err) {
			return "", backoff.Permanent(err)
		}
		return txID, err
	}, o.policy.backOff(ctx, o.policy.SubmitAttempts))
	if err != nil {
		r.Status = StatusFailed
		r.Error = err.Error()
		r.ErrorKind = apperrors.Kind(err)
		if ctx.Err() != nil {
			r.ErrorKind = apperrors.KindNetworkTransient
		}
		o.logger.Warn("anchor submission failed",
			zap.String("network", r.Network), zap.String("kind", r.ErrorKind), zap.Error(err))
		return r
	}
	r.TransactionID = txID

	o.poll(ctx, l, note, r)
	return r
}

// poll updates r in place. It never fails: on exhaustion or cancellation r
// stays pending.
func (o *Orchestrator) poll(ctx context.Context, l ledger.Ledger, note []byte, r *Receipt) {
	res, err := backoff.RetryWithData(func() (*ledger.LookupResult, error) {
		res, err := l.Lookup(ctx, note, o.policy.LookupWindow)
		if err != nil {
			if apperrors.IsTransient(err) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		if !res.Confirmed() {
			return nil, errAwaitingConfirmation
		}
		return res, nil
	}, o.policy.backOff(ctx, o.policy.PollAttempts))
	if err != nil {
		r.Status = StatusPending
		if !errors.Is(err, errAwaitingConfirmation) {
			r.Error = err.Error()
			r.ErrorKind = apperrors.Kind(err)
			if ctx.Err() != nil {
				r.ErrorKind = apperrors.KindNetworkTransient
			}
		}
		o.logger.Info("anchor not yet confirmed",
			zap.String("network", r.Network), zap.String("tx_id", r.TransactionID), zap.Error(err))
		return
	}

	confirmedAt := res.ConfirmedAt.UTC()
	r.Status = StatusConfirmed
	r.ConfirmedAt = &confirmedAt
	r.Fee = res.Fee
	r.Error, r.ErrorKind = "", ""
	if res.TransactionID != "" && res.TransactionID != r.TransactionID {
		o.logger.Warn("ledger reported a different transaction for the note",
			zap.String("network", r.Network),
			zap.String("submitted", r.TransactionID),
			zap.String("found", res.TransactionID))
	}
}
