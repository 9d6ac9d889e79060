package identity

import (
	"context"
	"sync"
	"time"
)

// Directory resolves DIDs to identities. Implementations return
// ErrIdentityNotFound for unknown DIDs; any other error means the directory
// could not be reached.
type Directory interface {
	Resolve(ctx context.Context, did string) (*Identity, error)
}

// Store is the persistence behind the identity service.
//
//go:generate mockery --name Store --output mocks --outpkg mocks --filename mock_store.go --with-expecter
type Store interface {
	Directory
	CreateIdentity(ctx context.Context, ident *Identity) error
	UpdateState(ctx context.Context, did string, state State, at time.Time) error
}

// MemoryDirectory is an in-process Store.
type MemoryDirectory struct {
	mu         sync.RWMutex
	identities map[string]*Identity
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{identities: make(map[string]*Identity)}
}

func (d *MemoryDirectory) Resolve(_ context.Context, did string) (*Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ident, ok := d.identities[did]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	cp := *ident.Public()
	cp.PrivateKey = append([]byte(nil), ident.PrivateKey...)
	return &cp, nil
}

func (d *MemoryDirectory) CreateIdentity(_ context.Context, ident *Identity) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.identities[ident.DID]; ok {
		return ErrIdentityExists
	}
	cp := *ident.Public()
	cp.PrivateKey = append([]byte(nil), ident.PrivateKey...)
	d.identities[ident.DID] = &cp
	return nil
}

func (d *MemoryDirectory) UpdateState(_ context.Context, did string, state State, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ident, ok := d.identities[did]
	if !ok {
		return ErrIdentityNotFound
	}
	ident.State = state
	ident.UpdatedAt = at
	return nil
}
