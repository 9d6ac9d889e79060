package evidence

import (
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsafe/docproof/pkg/anchor"
	apperrors "github.com/chainsafe/docproof/pkg/app/errors"
	"github.com/chainsafe/docproof/pkg/trust"
)

var (
	testHash = strings.Repeat("ab", 32)
	anchored = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func confirmed(network, txID, note string) *anchor.Receipt {
	at := anchored
	return &anchor.Receipt{
		Network:       network,
		TransactionID: txID,
		Status:        anchor.StatusConfirmed,
		NoteHash:      note,
		SubmittedAt:   anchored.Add(-time.Minute),
		ConfirmedAt:   &at,
	}
}

func pending(network, txID, note string) *anchor.Receipt {
	return &anchor.Receipt{
		Network:       network,
		TransactionID: txID,
		Status:        anchor.StatusPending,
		NoteHash:      note,
		SubmittedAt:   anchored,
	}
}

func linked(r, primary *anchor.Receipt) *anchor.Receipt {
	r.LinkedTo = primary.Reference()
	r.NoteHash = hex.EncodeToString(anchor.LinkNote(testHash, primary.Network, primary.TransactionID))
	return r
}

func TestAnchorStatuses(t *testing.T) {
	primary := confirmed("ethereum", "0xaaa", testHash)

	tests := []struct {
		name       string
		receipts   []*anchor.Receipt
		requireAll bool

		primary, secondary, consensus trust.State
		secondaryKind, consensusKind  string
	}{
		{
			name:     "single receipt",
			receipts: []*anchor.Receipt{primary},
			primary:  trust.Valid, secondary: trust.NotRequested, consensus: trust.NotRequested,
		},
		{
			name:       "unlinked secondary",
			receipts:   []*anchor.Receipt{primary, confirmed("polygon", "0xbbb", testHash)},
			requireAll: true,
			primary:    trust.Valid, secondary: trust.Valid, consensus: trust.Valid,
		},
		{
			name:       "linked secondary",
			receipts:   []*anchor.Receipt{primary, linked(confirmed("polygon", "0xbbb", ""), primary)},
			requireAll: true,
			primary:    trust.Valid, secondary: trust.Valid, consensus: trust.Valid,
		},
		{
			name: "link to another transaction",
			receipts: []*anchor.Receipt{primary, func() *anchor.Receipt {
				r := linked(confirmed("polygon", "0xbbb", ""), primary)
				r.LinkedTo = "ethereum:0xother"
				return r
			}()},
			primary: trust.Valid, secondary: trust.Invalid, consensus: trust.Valid,
			secondaryKind: apperrors.KindCryptoVerification,
		},
		{
			name: "linked secondary carrying the plain note",
			receipts: []*anchor.Receipt{primary, func() *anchor.Receipt {
				r := confirmed("polygon", "0xbbb", testHash)
				r.LinkedTo = primary.Reference()
				return r
			}()},
			requireAll: true,
			primary:    trust.Valid, secondary: trust.Invalid, consensus: trust.Invalid,
			secondaryKind: apperrors.KindCryptoVerification, consensusKind: apperrors.KindPolicyViolation,
		},
		{
			name:       "require all with one pending",
			receipts:   []*anchor.Receipt{primary, linked(pending("polygon", "0xbbb", ""), primary)},
			requireAll: true,
			primary:    trust.Valid, secondary: trust.Pending, consensus: trust.Pending,
		},
		{
			name:     "any with one pending",
			receipts: []*anchor.Receipt{primary, linked(pending("polygon", "0xbbb", ""), primary)},
			primary:  trust.Valid, secondary: trust.Pending, consensus: trust.Valid,
		},
		{
			name: "three confirmed",
			receipts: []*anchor.Receipt{
				primary,
				linked(confirmed("polygon", "0xbbb", ""), primary),
				confirmed("arbitrum", "0xccc", testHash),
			},
			requireAll: true,
			primary:    trust.Valid, secondary: trust.Valid, consensus: trust.Valid,
		},
		{
			name: "three with the third rejected",
			receipts: []*anchor.Receipt{
				primary,
				linked(confirmed("polygon", "0xbbb", ""), primary),
				{Network: "arbitrum", Status: anchor.StatusFailed, NoteHash: testHash, Error: "gas price above ceiling", ErrorKind: apperrors.KindPolicyViolation},
			},
			requireAll: true,
			primary:    trust.Valid, secondary: trust.Valid, consensus: trust.Invalid,
			consensusKind: apperrors.KindPolicyViolation,
		},
		{
			name: "three with the third pending",
			receipts: []*anchor.Receipt{
				primary,
				linked(confirmed("polygon", "0xbbb", ""), primary),
				pending("arbitrum", "0xccc", testHash),
			},
			requireAll: true,
			primary:    trust.Valid, secondary: trust.Valid, consensus: trust.Pending,
		},
		{
			name:     "failed secondary without kind",
			receipts: []*anchor.Receipt{primary, {Network: "polygon", Status: anchor.StatusFailed, NoteHash: testHash, Error: "timeout"}},
			primary:  trust.Valid, secondary: trust.Invalid, consensus: trust.Valid,
			secondaryKind: apperrors.KindNetworkTransient,
		},
		{
			name:       "missing primary",
			receipts:   []*anchor.Receipt{nil, linked(confirmed("polygon", "0xbbb", ""), primary)},
			requireAll: false,
			primary:    trust.Invalid, secondary: trust.Invalid, consensus: trust.Invalid,
			secondaryKind: apperrors.KindCryptoVerification, consensusKind: apperrors.KindPolicyViolation,
		},
		{
			name:     "missing secondary",
			receipts: []*anchor.Receipt{primary, nil},
			primary:  trust.Valid, secondary: trust.Invalid, consensus: trust.Valid,
			secondaryKind: apperrors.KindCryptoVerification,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &anchor.Consensus{Receipts: tt.receipts, RequireAll: tt.requireAll}

			var got Anchors
			require.NotPanics(t, func() {
				got = AnchorStatuses(testHash, c, trust.StructurallyConsistent)
			})
			assert.Equal(t, tt.primary, got.Primary.State, got.Primary.Reason)
			assert.Equal(t, tt.secondary, got.Secondary.State, got.Secondary.Reason)
			assert.Equal(t, tt.consensus, got.Consensus.State, got.Consensus.Reason)
			if tt.secondaryKind != "" {
				assert.Equal(t, tt.secondaryKind, got.Secondary.ErrorKind)
			}
			if tt.consensusKind != "" {
				assert.Equal(t, tt.consensusKind, got.Consensus.ErrorKind)
			}
			if got.Primary.Valid() {
				assert.Equal(t, trust.StructurallyConsistent, got.Primary.Confirmation)
			}
		})
	}
}

func TestAnchorStatuses_NoReceipts(t *testing.T) {
	for _, c := range []*anchor.Consensus{nil, {}} {
		got := AnchorStatuses(testHash, c, trust.NetworkConfirmed)
		assert.False(t, got.Primary.Attempted())
		assert.False(t, got.Secondary.Attempted())
		assert.False(t, got.Consensus.Attempted())
	}
}

func TestExpectedNote(t *testing.T) {
	primary := confirmed("ethereum", "0xaaa", testHash)
	secondary := linked(confirmed("polygon", "0xbbb", ""), primary)

	assert.Equal(t, testHash, ExpectedNote(testHash, nil, 0))
	assert.Equal(t, testHash, ExpectedNote(testHash, &anchor.Consensus{}, 1))

	c := &anchor.Consensus{Receipts: []*anchor.Receipt{primary, secondary}}
	assert.Equal(t, testHash, ExpectedNote(testHash, c, 0))
	assert.Equal(t, secondary.NoteHash, ExpectedNote(testHash, c, 1))
	assert.Equal(t, testHash, ExpectedNote(testHash, c, 2))

	orphan := &anchor.Consensus{Receipts: []*anchor.Receipt{nil, secondary}}
	assert.Empty(t, ExpectedNote(testHash, orphan, 1))
	assert.Equal(t, testHash, ExpectedNote(testHash, &anchor.Consensus{Receipts: []*anchor.Receipt{primary, nil}}, 1))
}
