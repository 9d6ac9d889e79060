package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsafe/docproof/pkg/anchor"
	apperrors "github.com/chainsafe/docproof/pkg/app/errors"
	"github.com/chainsafe/docproof/pkg/fingerprint"
	"github.com/chainsafe/docproof/pkg/ledger"
	"github.com/chainsafe/docproof/pkg/record"
	"github.com/chainsafe/docproof/pkg/recordstore"
)

func fastPolicy() anchor.Policy {
	return anchor.Policy{
		SubmitAttempts:  1,
		PollAttempts:    1,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		Multiplier:      1,
		LookupWindow:    16,
	}
}

// pendingRecord anchors content on memnet and saves the record while the receipt
// is still pending.
func pendingRecord(t *testing.T, store *recordstore.Memory, o *anchor.Orchestrator, content string) *record.Record {
	t.Helper()
	f, err := fingerprint.New()
	require.NoError(t, err)
	fp, err := f.Fingerprint([]byte(content))
	require.NoError(t, err)

	r, err := o.SubmitAnchor(context.Background(), fp, "memnet")
	require.NoError(t, err)
	require.Equal(t, anchor.StatusPending, r.Status)

	rec := &record.Record{
		ID:          uuid.New(),
		Fingerprint: fp,
		Consensus:   anchor.EvaluateConsensus([]*anchor.Receipt{r}, true),
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.SaveRecord(context.Background(), rec))
	return rec
}

func TestReconcileAll_ConfirmsPendingAnchor(t *testing.T) {
	// the submit poll is the first lookup, the reconciler's is the second
	l := ledger.NewMemory("memnet", ledger.WithConfirmAfter(2))
	reg, err := ledger.NewRegistry(l)
	require.NoError(t, err)
	o := anchor.New(reg, anchor.WithPolicy(fastPolicy()))
	store := recordstore.NewMemory()
	rec := pendingRecord(t, store, o, "pending doc")

	r := New(store, o, nil)
	sum, err := r.ReconcileAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Summary{Checked: 1, Confirmed: 1}, sum)

	confs, err := store.ListConfirmations(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Len(t, confs, 1)
	assert.True(t, confs[0].Receipt.Confirmed())
	assert.Equal(t, 1, confs[0].Attempts)

	c := record.WithConfirmations(rec, confs)
	assert.True(t, c.ConsensusReached)

	left, err := store.ListPendingAnchors(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestReconcileAll_GivesUpAfterMaxAttempts(t *testing.T) {
	reg, err := ledger.NewRegistry(ledger.NewMemory("memnet", ledger.WithNeverConfirm()))
	require.NoError(t, err)
	o := anchor.New(reg, anchor.WithPolicy(fastPolicy()))
	store := recordstore.NewMemory()
	pendingRecord(t, store, o, "stuck")

	r := New(store, o, nil, WithMaxAttempts(2))
	sum, err := r.ReconcileAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Pending)

	sum, err = r.ReconcileAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)

	left, err := store.ListPendingAnchors(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, left)
}

type stubResumer struct {
	err error
}

func (s stubResumer) Resume(context.Context, *anchor.Receipt) (*anchor.Receipt, error) {
	return nil, s.err
}

func TestReconcileAll_ResumeErrors(t *testing.T) {
	reg, err := ledger.NewRegistry(ledger.NewMemory("memnet", ledger.WithNeverConfirm()))
	require.NoError(t, err)
	o := anchor.New(reg, anchor.WithPolicy(fastPolicy()))

	t.Run("transient keeps polling", func(t *testing.T) {
		store := recordstore.NewMemory()
		pendingRecord(t, store, o, "a")
		r := New(store, stubResumer{err: apperrors.NetworkTransientError(errors.New("down"), "outage")}, nil)

		sum, err := r.ReconcileAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Pending)
	})

	t.Run("permanent fails the receipt", func(t *testing.T) {
		store := recordstore.NewMemory()
		pendingRecord(t, store, o, "b")
		r := New(store, stubResumer{err: apperrors.BadRequestError(ledger.ErrUnknownNetwork, "unknown anchor network")}, nil)

		sum, err := r.ReconcileAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Failed)
	})
}

func TestStartStop(t *testing.T) {
	r := New(recordstore.NewMemory(), stubResumer{}, nil)
	r.StartPeriodicReconciliation(time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	r.Stop()
}
