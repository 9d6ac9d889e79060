package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/chainsafe/docproof/pkg/app/errors"
)

var (
	errSimulatedOutage   = errors.New("simulated network outage")
	errSubmissionRefused = errors.New("submission refused")
)

type memoryEntry struct {
	txID        string
	lookups     int
	confirmedAt *time.Time
}

// Memory is a deterministic in-process ledger for development and tests.
type Memory struct {
	mu       sync.Mutex
	network  string
	now      func() time.Time
	fee      decimal.Decimal
	entries  map[string]*memoryEntry
	seq      uint64
	submits  int
	behavior memoryBehavior
}

type memoryBehavior struct {
	confirmAfter   int
	failSubmits    int
	rejectSubmits  bool
	neverConfirm   bool
	failLookups    int
	lookupFailures int
}

// MemoryOption configures a Memory ledger.
type MemoryOption func(*Memory)

// WithConfirmAfter confirms a note on its n-th lookup. The default is 1.
func WithConfirmAfter(n int) MemoryOption {
	return func(m *Memory) { m.behavior.confirmAfter = n }
}

// WithTransientSubmitFailures fails the first n submissions with a transient error.
func WithTransientSubmitFailures(n int) MemoryOption {
	return func(m *Memory) { m.behavior.failSubmits = n }
}

// WithTransientLookupFailures fails the first n lookups with a transient error.
func WithTransientLookupFailures(n int) MemoryOption {
	return func(m *Memory) { m.behavior.failLookups = n }
}

// WithRejectedSubmits makes every submission fail permanently.
func WithRejectedSubmits() MemoryOption {
	return func(m *Memory) { m.behavior.rejectSubmits = true }
}

// WithNeverConfirm accepts notes but never confirms them.
func WithNeverConfirm() MemoryOption {
	return func(m *Memory) { m.behavior.neverConfirm = true }
}

func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

func WithMemoryFee(fee decimal.Decimal) MemoryOption {
	return func(m *Memory) { m.fee = fee }
}

func NewMemory(network string, opts ...MemoryOption) *Memory {
	m := &Memory{
		network:  network,
		now:      time.Now,
		fee:      decimal.Zero,
		entries:  make(map[string]*memoryEntry),
		behavior: memoryBehavior{confirmAfter: 1},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *Memory) Network() string { return m.network }

func (m *Memory) SubmitNote(ctx context.Context, note []byte) (string, error) {
	if len(note) == 0 {
		return "", apperrors.ContentError(ErrEmptyNote, "note is empty")
	}
	if err := ctx.Err(); err != nil {
		return "", apperrors.NetworkTransientError(err, "submission cancelled")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.submits++
	if m.behavior.rejectSubmits {
		return "", errSubmissionRefused
	}
	if m.submits <= m.behavior.failSubmits {
		return "", apperrors.NetworkTransientError(errSimulatedOutage, m.network+" unavailable")
	}

	key := hex.EncodeToString(note)
	if e, ok := m.entries[key]; ok {
		return e.txID, nil
	}

	m.seq++
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], m.seq)
	h := sha256.New()
	h.Write([]byte(m.network))
	h.Write(seq[:])
	h.Write(note)
	txID := "0x" + hex.EncodeToString(h.Sum(nil))

	m.entries[key] = &memoryEntry{txID: txID}
	return txID, nil
}

// Lookup ignores window; every accepted note stays visible.
func (m *Memory) Lookup(ctx context.Context, note []byte, _ uint64) (*LookupResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NetworkTransientError(err, "lookup cancelled")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.behavior.lookupFailures < m.behavior.failLookups {
		m.behavior.lookupFailures++
		return nil, apperrors.NetworkTransientError(errSimulatedOutage, m.network+" unavailable")
	}

	e, ok := m.entries[hex.EncodeToString(note)]
	if !ok {
		return &LookupResult{Found: false}, nil
	}

	e.lookups++
	if e.confirmedAt == nil && !m.behavior.neverConfirm && e.lookups >= m.behavior.confirmAfter {
		at := m.now().UTC()
		e.confirmedAt = &at
	}

	res := &LookupResult{Found: true, TransactionID: e.txID}
	if e.confirmedAt != nil {
		at := *e.confirmedAt
		fee := m.fee
		res.ConfirmedAt = &at
		res.Fee = &fee
	}
	return res, nil
}
