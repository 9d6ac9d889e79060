package anchor

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/chainsafe/docproof/pkg/app/errors"
	"github.com/chainsafe/docproof/pkg/fingerprint"
	"github.com/chainsafe/docproof/pkg/ledger"
)

// MockLedger is a hand-rolled ledger.Ledger that counts calls.
type MockLedger struct {
	NetworkName    string
	SubmitNoteFunc func(ctx context.Context, note []byte) (string, error)
	LookupFunc     func(ctx context.Context, note []byte, window uint64) (*ledger.LookupResult, error)

	mu      sync.Mutex
	submits int
	lookups int
}

func (m *MockLedger) Network() string { return m.NetworkName }

func (m *MockLedger) SubmitNote(ctx context.Context, note []byte) (string, error) {
	m.mu.Lock()
	m.submits++
	m.mu.Unlock()
	if m.SubmitNoteFunc != nil {
		return m.SubmitNoteFunc(ctx, note)
	}
	return "0xabc", nil
}

func (m *MockLedger) Lookup(ctx context.Context, note []byte, window uint64) (*ledger.LookupResult, error) {
	m.mu.Lock()
	m.lookups++
	m.mu.Unlock()
	if m.LookupFunc != nil {
		return m.LookupFunc(ctx, note, window)
	}
	return &ledger.LookupResult{Found: false}, nil
}

func fastPolicy() Policy {
	return Policy{
		SubmitAttempts:  3,
		PollAttempts:    4,
		InitialInterval: time.Millisecond,
		MaxInterval:     4 * time.Millisecond,
		Multiplier:      2,
		Jitter:          0.1,
		LookupWindow:    16,
	}
}

func newOrchestrator(t *testing.T, ledgers ...ledger.Ledger) *Orchestrator {
	t.Helper()
	reg, err := ledger.NewRegistry(ledgers...)
	require.NoError(t, err)
	return New(reg, WithPolicy(fastPolicy()))
}

func testFingerprint(t *testing.T) *fingerprint.Fingerprint {
	t.Helper()
	f, err := fingerprint.New()
	require.NoError(t, err)
	fp, err := f.Fingerprint([]byte("hello-pdf"))
	require.NoError(t, err)
	return fp
}

func TestSubmitAnchor_Confirms(t *testing.T) {
	o := newOrchestrator(t, ledger.NewMemory("memnet", ledger.WithConfirmAfter(2),
		ledger.WithMemoryFee(decimal.RequireFromString("0.01"))))
	fp := testFingerprint(t)

	r, err := o.SubmitAnchor(context.Background(), fp, "memnet")
	require.NoError(t, err)
	require.True(t, r.Confirmed())
	assert.Equal(t, "memnet", r.Network)
	assert.Equal(t, fp.Hash, r.NoteHash)
	assert.Equal(t, "0.01", r.Fee.String())
	assert.NoError(t, CheckReceiptShape(r, fp.Hash))
}

func TestSubmitAnchor_PendingOnExhaustion(t *testing.T) {
	m := &MockLedger{NetworkName: "slow", LookupFunc: func(context.Context, []byte, uint64) (*ledger.LookupResult, error) {
		return &ledger.LookupResult{Found: true, TransactionID: "0xabc"}, nil
	}}
	o := newOrchestrator(t, m)

	r, err := o.SubmitAnchor(context.Background(), testFingerprint(t), "slow")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, r.Status)
	assert.Equal(t, "0xabc", r.TransactionID)
	assert.Nil(t, r.ConfirmedAt)
	assert.Equal(t, 1, m.submits)
	assert.Equal(t, fastPolicy().PollAttempts, m.lookups)
}

func TestSubmitAnchor_RetriesTransientSubmit(t *testing.T) {
	calls := 0
	m := &MockLedger{
		NetworkName: "flaky",
		SubmitNoteFunc: func(context.Context, []byte) (string, error) {
			calls++
			if calls < 3 {
				return "", apperrors.NetworkTransientError(errors.New("timeout"), "flaky unavailable")
			}
			return "0xfeed", nil
		},
		LookupFunc: func(context.Context, []byte, uint64) (*ledger.LookupResult, error) {
			now := time.Now()
			return &ledger.LookupResult{Found: true, TransactionID: "0xfeed", ConfirmedAt: &now}, nil
		},
	}
	o := newOrchestrator(t, m)

	r, err := o.SubmitAnchor(context.Background(), testFingerprint(t), "flaky")
	require.NoError(t, err)
	assert.True(t, r.Confirmed())
	assert.Equal(t, 3, m.submits)
}

func TestSubmitAnchor_FailedSubmission(t *testing.T) {
	t.Run("transient exhausted", func(t *testing.T) {
		o := newOrchestrator(t, ledger.NewMemory("down", ledger.WithTransientSubmitFailures(10)))
		r, err := o.SubmitAnchor(context.Background(), testFingerprint(t), "down")
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, r.Status)
		assert.Equal(t, apperrors.KindNetworkTransient, r.ErrorKind)
		assert.Empty(t, r.TransactionID)
	})

	t.Run("permanent not retried", func(t *testing.T) {
		m := &MockLedger{NetworkName: "refuse", SubmitNoteFunc: func(context.Context, []byte) (string, error) {
			return "", errors.New("insufficient funds")
		}}
		o := newOrchestrator(t, m)
		r, err := o.SubmitAnchor(context.Background(), testFingerprint(t), "refuse")
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, r.Status)
		assert.Equal(t, 1, m.submits)
		assert.Contains(t, r.Error, "insufficient funds")
	})
}

func TestSubmitAnchor_NeverResubmitsAfterAccept(t *testing.T) {
	m := &MockLedger{NetworkName: "lossy", LookupFunc: func(context.Context, []byte, uint64) (*ledger.LookupResult, error) {
		return nil, apperrors.NetworkTransientError(errors.New("reset"), "lossy unavailable")
	}}
	o := newOrchestrator(t, m)

	r, err := o.SubmitAnchor(context.Background(), testFingerprint(t), "lossy")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, r.Status)
	assert.Equal(t, apperrors.KindNetworkTransient, r.ErrorKind)
	assert.Equal(t, 1, m.submits)
}

func TestSubmitAnchor_PermanentLookupKeepsKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind string
	}{
		{"policy", apperrors.PolicyViolationError(errors.New("window too large"), "lookup rejected"), apperrors.KindPolicyViolation},
		{"content", apperrors.ContentError(errors.New("bad note"), "malformed note"), apperrors.KindContent},
		{"plain", errors.New("decode log"), apperrors.KindGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &MockLedger{NetworkName: "strict", LookupFunc: func(context.Context, []byte, uint64) (*ledger.LookupResult, error) {
				return nil, tt.err
			}}
			o := newOrchestrator(t, m)

			r, err := o.SubmitAnchor(context.Background(), testFingerprint(t), "strict")
			require.NoError(t, err)
			assert.Equal(t, StatusPending, r.Status)
			assert.Equal(t, tt.kind, r.ErrorKind)
			assert.NotEmpty(t, r.Error)
			assert.Equal(t, 1, m.lookups)
		})
	}
}

func TestSubmitAnchor_CancelledPollReturnsPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := &MockLedger{NetworkName: "stall", LookupFunc: func(context.Context, []byte, uint64) (*ledger.LookupResult, error) {
		cancel()
		return &ledger.LookupResult{Found: false}, nil
	}}
	o := newOrchestrator(t, m)

	r, err := o.SubmitAnchor(ctx, testFingerprint(t), "stall")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, r.Status)
	assert.Equal(t, 1, m.lookups)
}

func TestSubmitAnchor_Errors(t *testing.T) {
	o := newOrchestrator(t, ledger.NewMemory("memnet"))

	_, err := o.SubmitAnchor(context.Background(), testFingerprint(t), "nope")
	assert.ErrorIs(t, err, ledger.ErrUnknownNetwork)

	_, err = o.SubmitAnchor(context.Background(), &fingerprint.Fingerprint{Hash: "xyz", Algorithm: fingerprint.SHA256}, "memnet")
	assert.Equal(t, apperrors.KindContent, apperrors.Kind(err))

	_, err = o.SubmitAnchor(context.Background(), nil, "memnet")
	assert.Equal(t, apperrors.KindContent, apperrors.Kind(err))
}

func TestSubmitDoubleAnchor_Linked(t *testing.T) {
	o := newOrchestrator(t, ledger.NewMemory("primary"), ledger.NewMemory("secondary"))
	fp := testFingerprint(t)

	c, err := o.SubmitDoubleAnchor(context.Background(), fp, "primary", "secondary", true)
	require.NoError(t, err)
	require.Len(t, c.Receipts, 2)
	assert.True(t, c.ConsensusReached)

	primary, secondary := c.Primary(), c.Secondary()
	assert.Equal(t, primary.Reference(), secondary.LinkedTo)
	assert.Equal(t, hex.EncodeToString(LinkNote(fp.Hash, "primary", primary.TransactionID)), secondary.NoteHash)
	require.NoError(t, VerifyLink(fp.Hash, primary, secondary))

	swapped := *primary
	swapped.TransactionID = "0xdeadbeef"
	assert.ErrorIs(t, VerifyLink(fp.Hash, &swapped, secondary), ErrBrokenLink)

	other := *secondary
	other.NoteHash = fp.Hash
	assert.ErrorIs(t, VerifyLink(fp.Hash, primary, &other), ErrBrokenLink)
}

func TestSubmitDoubleAnchor_OnlySecondaryConfirms(t *testing.T) {
	for _, requireBoth := range []bool{true, false} {
		o := newOrchestrator(t, ledger.NewMemory("primary", ledger.WithNeverConfirm()), ledger.NewMemory("secondary"))

		c, err := o.SubmitDoubleAnchor(context.Background(), testFingerprint(t), "primary", "secondary", requireBoth)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, c.Primary().Status)
		assert.True(t, c.Secondary().Confirmed())
		assert.NotEmpty(t, c.Secondary().LinkedTo)
		assert.Equal(t, !requireBoth, c.ConsensusReached)
	}
}

func TestSubmitDoubleAnchor_Degrades(t *testing.T) {
	t.Run("secondary fails", func(t *testing.T) {
		o := newOrchestrator(t, ledger.NewMemory("primary"), ledger.NewMemory("secondary", ledger.WithRejectedSubmits()))
		c, err := o.SubmitDoubleAnchor(context.Background(), testFingerprint(t), "primary", "secondary", false)
		require.NoError(t, err)
		assert.True(t, c.Primary().Confirmed())
		assert.Equal(t, StatusFailed, c.Secondary().Status)
		assert.True(t, c.ConsensusReached)
	})

	t.Run("primary fails", func(t *testing.T) {
		fp := testFingerprint(t)
		o := newOrchestrator(t, ledger.NewMemory("primary", ledger.WithRejectedSubmits()), ledger.NewMemory("secondary"))
		c, err := o.SubmitDoubleAnchor(context.Background(), fp, "primary", "secondary", true)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, c.Primary().Status)
		assert.True(t, c.Secondary().Confirmed())
		assert.Empty(t, c.Secondary().LinkedTo)
		assert.Equal(t, fp.Hash, c.Secondary().NoteHash)
		assert.False(t, c.ConsensusReached)
	})

	t.Run("same network", func(t *testing.T) {
		o := newOrchestrator(t, ledger.NewMemory("primary"))
		_, err := o.SubmitDoubleAnchor(context.Background(), testFingerprint(t), "primary", "primary", true)
		assert.Error(t, err)
	})
}

func TestResume(t *testing.T) {
	mem := ledger.NewMemory("memnet", ledger.WithConfirmAfter(fastPolicy().PollAttempts+1))
	o := newOrchestrator(t, mem)
	ctx := context.Background()

	r, err := o.SubmitAnchor(ctx, testFingerprint(t), "memnet")
	require.NoError(t, err)
	require.Equal(t, StatusPending, r.Status)

	resumed, err := o.Resume(ctx, r)
	require.NoError(t, err)
	assert.True(t, resumed.Confirmed())
	assert.Equal(t, r.TransactionID, resumed.TransactionID)
	assert.Equal(t, StatusPending, r.Status, "input receipt is not mutated")

	_, err = o.Resume(ctx, &Receipt{Network: "memnet", Status: StatusFailed})
	assert.ErrorIs(t, err, ErrNotSubmitted)
}

func TestEvaluateConsensus(t *testing.T) {
	now := time.Now()
	confirmed := &Receipt{Status: StatusConfirmed, TransactionID: "a", ConfirmedAt: &now}
	pending := &Receipt{Status: StatusPending, TransactionID: "b"}

	tests := []struct {
		name       string
		receipts   []*Receipt
		requireAll bool
		want       bool
	}{
		{"all confirmed, require all", []*Receipt{confirmed, confirmed}, true, true},
		{"one pending, require all", []*Receipt{confirmed, pending}, true, false},
		{"one pending, any", []*Receipt{pending, confirmed}, false, true},
		{"none confirmed", []*Receipt{pending, pending}, false, false},
		{"empty, require all", nil, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EvaluateConsensus(tt.receipts, tt.requireAll).ConsensusReached)
		})
	}
}

func TestCheckReceiptShape(t *testing.T) {
	now := time.Now()
	neg := decimal.NewFromInt(-1)
	note := testFingerprint(t).Hash
	valid := Receipt{Network: "memnet", TransactionID: "0x01", Status: StatusConfirmed, NoteHash: note, ConfirmedAt: &now}
	require.NoError(t, CheckReceiptShape(&valid, note))

	mutate := func(f func(r *Receipt)) *Receipt {
		r := valid
		f(&r)
		return &r
	}
	bad := []*Receipt{
		nil,
		mutate(func(r *Receipt) { r.Network = "" }),
		mutate(func(r *Receipt) { r.NoteHash = "00" }),
		mutate(func(r *Receipt) { r.ConfirmedAt = nil }),
		mutate(func(r *Receipt) { r.Status = "weird" }),
		mutate(func(r *Receipt) { r.TransactionID = "" }),
		mutate(func(r *Receipt) { r.TransactionID = "0x 01" }),
		mutate(func(r *Receipt) { r.Fee = &neg }),
		mutate(func(r *Receipt) { r.Status = StatusPending }),
	}
	for i, r := range bad {
		assert.ErrorIs(t, CheckReceiptShape(r, note), ErrMalformedReceipt, "case %d", i)
	}
}
