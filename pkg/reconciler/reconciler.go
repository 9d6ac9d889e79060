package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chainsafe/docproof/internal/metrics"
	"github.com/chainsafe/docproof/pkg/anchor"
	apperrors "github.com/chainsafe/docproof/pkg/app/errors"
	"github.com/chainsafe/docproof/pkg/record"
)

const (
	DefaultBatchSize   = 100
	DefaultMaxAttempts = 48
)

var ErrAttemptsExhausted = errors.New("anchor confirmation attempts exhausted")

// Store provides the pending anchor confirmations to reconcile.
//
//go:generate mockery --name Store --output mocks --outpkg mocks --filename mock_store.go --with-expecter
type Store interface {
	ListPendingAnchors(ctx context.Context, limit int) ([]*record.AnchorConfirmation, error)
	SaveConfirmation(ctx context.Context, c *record.AnchorConfirmation) error
}

// Resumer re-polls an accepted anchor without submitting it again.
type Resumer interface {
	Resume(ctx context.Context, r *anchor.Receipt) (*anchor.Receipt, error)
}

// Summary counts the outcome of one reconciliation pass.
type Summary struct {
	Checked   int
	Confirmed int
	Pending   int
	Failed    int
}

// Reconciler keeps polling anchors that were still pending when their record
// was written, and stores their confirmations beside the record.
type Reconciler struct {
	store       Store
	anchors     Resumer
	logger      *zap.Logger
	batchSize   int
	maxAttempts int
	now         func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Reconciler.
type Option func(*Reconciler)

func WithBatchSize(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithMaxAttempts bounds how many passes a receipt is polled before it is
// given up as failed.
func WithMaxAttempts(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a new Reconciler
func New(store Store, anchors Resumer, logger *zap.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reconciler{
		store:       store,
		anchors:     anchors,
		logger:      logger,
		batchSize:   DefaultBatchSize,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// ReconcileAll polls one batch of pending anchors. Failures on individual
// receipts are logged and counted; only a failure to list the batch is
// returned.
func (r *Reconciler) ReconcileAll(ctx context.Context) (*Summary, error) {
	start := r.now()

	pending, err := r.store.ListPendingAnchors(ctx, r.batchSize)
	if err != nil {
		metrics.ReconcileRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to list pending anchors: %w", err)
	}

	sum := &Summary{}
	for _, c := range pending {
		if ctx.Err() != nil {
			break
		}
		sum.Checked++
		switch r.reconcile(ctx, c) {
		case anchor.StatusConfirmed:
			sum.Confirmed++
		case anchor.StatusFailed:
			sum.Failed++
		default:
			sum.Pending++
		}
	}

	metrics.PendingAnchors.Set(float64(sum.Pending))
	metrics.ReconcileRuns.WithLabelValues("ok").Inc()
	if sum.Checked > 0 {
		r.logger.Info("Anchor reconciliation completed",
			zap.Int("checked", sum.Checked),
			zap.Int("confirmed", sum.Confirmed),
			zap.Int("pending", sum.Pending),
			zap.Int("failed", sum.Failed),
			zap.Duration("duration", r.now().Sub(start)))
	}
	return sum, nil
}

func (r *Reconciler) reconcile(ctx context.Context, c *record.AnchorConfirmation) anchor.Status {
	log := r.logger.With(
		zap.String("record_id", c.RecordID.String()),
		zap.Int("receipt", c.ReceiptIndex),
		zap.String("network", c.Receipt.Network))

	c.Attempts++
	c.UpdatedAt = r.now().UTC()

	updated, err := r.anchors.Resume(ctx, c.Receipt)
	switch {
	case err != nil:
		log.Warn("Failed to resume anchor", zap.Error(err))
		metrics.ErrorsTotal.WithLabelValues("reconciler", apperrors.Kind(err)).Inc()
		if !apperrors.IsTransient(err) {
			r.giveUp(c, err)
		}
	case updated.Confirmed():
		c.Receipt = updated
		metrics.AnchorReceipts.WithLabelValues(updated.Network, string(updated.Status)).Inc()
		log.Info("Anchor confirmed", zap.String("tx_id", updated.TransactionID))
	default:
		c.Receipt = updated
	}
	if c.Receipt.Status == anchor.StatusPending && c.Attempts >= r.maxAttempts {
		r.giveUp(c, ErrAttemptsExhausted)
		log.Warn("Giving up on anchor", zap.Int("attempts", c.Attempts))
	}

	if err := r.store.SaveConfirmation(ctx, c); err != nil {
		log.Error("Failed to save anchor confirmation", zap.Error(err))
		return anchor.StatusPending
	}
	return c.Receipt.Status
}

func (r *Reconciler) giveUp(c *record.AnchorConfirmation, err error) {
	failed := *c.Receipt
	failed.Status = anchor.StatusFailed
	failed.Error = err.Error()
	failed.ErrorKind = apperrors.Kind(err)
	if failed.ErrorKind == apperrors.KindGeneral {
		failed.ErrorKind = apperrors.KindNetworkTransient
	}
	c.Receipt = &failed
	metrics.AnchorReceipts.WithLabelValues(failed.Network, string(failed.Status)).Inc()
}

// StartPeriodicReconciliation starts a background goroutine that reconciles periodically
func (r *Reconciler) StartPeriodicReconciliation(interval time.Duration) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		r.logger.Info("Started periodic anchor reconciliation", zap.Duration("interval", interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
				if _, err := r.ReconcileAll(ctx); err != nil {
					r.logger.Error("Periodic reconciliation failed", zap.Error(err))
				}
				cancel()
			case <-r.stopCh:
				r.logger.Info("Stopping periodic reconciliation")
				return
			}
		}
	}()
}

// Stop stops the periodic reconciliation
func (r *Reconciler) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}
