package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/chainsafe/docproof/pkg/app/errors"
)

func TestMemory_ConfirmAfter(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	m := NewMemory("memnet", WithConfirmAfter(2), WithMemoryClock(func() time.Time { return now }),
		WithMemoryFee(decimal.RequireFromString("0.0001")))
	ctx := context.Background()

	txID, err := m.SubmitNote(ctx, []byte("note"))
	require.NoError(t, err)

	res, err := m.Lookup(ctx, []byte("note"), 0)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.False(t, res.Confirmed())

	res, err = m.Lookup(ctx, []byte("note"), 0)
	require.NoError(t, err)
	require.True(t, res.Confirmed())
	assert.Equal(t, txID, res.TransactionID)
	assert.Equal(t, now, *res.ConfirmedAt)
	assert.Equal(t, "0.0001", res.Fee.String())
}

func TestMemory_UniqueTransactionIDs(t *testing.T) {
	m := NewMemory("memnet")
	ctx := context.Background()

	a, err := m.SubmitNote(ctx, []byte("a"))
	require.NoError(t, err)
	b, err := m.SubmitNote(ctx, []byte("b"))
	require.NoError(t, err)
	again, err := m.SubmitNote(ctx, []byte("a"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, a, again)
}

func TestMemory_Failures(t *testing.T) {
	ctx := context.Background()

	m := NewMemory("flaky", WithTransientSubmitFailures(1))
	_, err := m.SubmitNote(ctx, []byte("n"))
	assert.True(t, apperrors.IsTransient(err))
	_, err = m.SubmitNote(ctx, []byte("n"))
	assert.NoError(t, err)

	rejected := NewMemory("down", WithRejectedSubmits())
	_, err = rejected.SubmitNote(ctx, []byte("n"))
	require.Error(t, err)
	assert.False(t, apperrors.IsTransient(err))

	never := NewMemory("slow", WithNeverConfirm())
	_, err = never.SubmitNote(ctx, []byte("n"))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		res, err := never.Lookup(ctx, []byte("n"), 0)
		require.NoError(t, err)
		assert.False(t, res.Confirmed())
	}

	res, err := never.Lookup(ctx, []byte("missing"), 0)
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry(NewMemory("b"), NewMemory("a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, r.Networks())

	_, err = r.Get("c")
	assert.ErrorIs(t, err, ErrUnknownNetwork)
	assert.ErrorIs(t, r.Register(NewMemory("a")), ErrDuplicateNetwork)
}
