// Package ledger defines the anchor network collaborator and its
// implementations. A ledger accepts opaque notes and later reports whether a
// note has been confirmed.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownNetwork   = errors.New("unknown ledger network")
	ErrDuplicateNetwork = errors.New("duplicate ledger network")
	ErrEmptyNote        = errors.New("note is empty")
)

// LookupResult reports what a ledger knows about a note. Found with a nil
// ConfirmedAt means the note was accepted but is not yet final.
type LookupResult struct {
	Found         bool             `json:"found"`
	TransactionID string           `json:"transaction_id,omitempty"`
	ConfirmedAt   *time.Time       `json:"confirmed_at,omitempty"`
	Fee           *decimal.Decimal `json:"fee,omitempty"`
}

// Confirmed reports whether the note is final on the ledger.
func (r *LookupResult) Confirmed() bool {
	return r != nil && r.Found && r.ConfirmedAt != nil
}

// Ledger is an anchor network. Submissions are at-least-once: once SubmitNote
// returns a transaction ID the note must be re-polled, never re-submitted.
// Transport failures are returned as apperrors.NetworkTransientError.
//
//go:generate mockery --name Ledger --output mocks --outpkg mocks --filename mock_ledger.go --with-expecter
type Ledger interface {
	Network() string
	SubmitNote(ctx context.Context, note []byte) (string, error)
	Lookup(ctx context.Context, note []byte, window uint64) (*LookupResult, error)
}

// Registry resolves ledgers by network name.
type Registry struct {
	mu      sync.RWMutex
	ledgers map[string]Ledger
}

func NewRegistry(ledgers ...Ledger) (*Registry, error) {
	r := &Registry{ledgers: make(map[string]Ledger, len(ledgers))}
	for _, l := range ledgers {
		if err := r.Register(l); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(l Ledger) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ledgers[l.Network()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNetwork, l.Network())
	}
	r.ledgers[l.Network()] = l
	return nil
}

func (r *Registry) Get(network string) (Ledger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.ledgers[network]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, network)
	}
	return l, nil
}

// Networks lists the registered network names in sorted order.
func (r *Registry) Networks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.ledgers))
	for name := range r.ledgers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
