package recordstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/chainsafe/docproof/pkg/anchor"
	"github.com/chainsafe/docproof/pkg/record"
)

type confirmationKey struct {
	recordID uuid.UUID
	index    int
}

// Memory is an in-process record store. Records are deep-copied through
// JSON on the way in and out, matching what a persistent store returns.
type Memory struct {
	mu      sync.RWMutex
	records map[uuid.UUID][]byte
	order   []uuid.UUID
	confs   map[confirmationKey]*record.AnchorConfirmation
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[uuid.UUID][]byte),
		confs:   make(map[confirmationKey]*record.AnchorConfirmation),
	}
}

func (m *Memory) SaveRecord(_ context.Context, rec *record.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return record.ErrRecordExists
	}
	m.records[rec.ID] = body
	m.order = append(m.order, rec.ID)
	for _, c := range record.PendingConfirmations(rec, rec.CreatedAt) {
		m.confs[confirmationKey{c.RecordID, c.ReceiptIndex}] = copyConfirmation(c)
	}
	return nil
}

func (m *Memory) GetRecord(_ context.Context, id uuid.UUID) (*record.Record, error) {
	m.mu.RLock()
	body, ok := m.records[id]
	m.mu.RUnlock()
	if !ok {
		return nil, record.ErrRecordNotFound
	}
	return decodeRecord(body)
}

func (m *Memory) FindByFingerprint(_ context.Context, hash string) ([]*record.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*record.Record
	for i := len(m.order) - 1; i >= 0; i-- {
		rec, err := decodeRecord(m.records[m.order[i]])
		if err != nil {
			return nil, err
		}
		if rec.Fingerprint != nil && rec.Fingerprint.Hash == hash {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *Memory) ListConfirmations(_ context.Context, recordID uuid.UUID) ([]*record.AnchorConfirmation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*record.AnchorConfirmation
	for k, c := range m.confs {
		if k.recordID == recordID {
			out = append(out, copyConfirmation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceiptIndex < out[j].ReceiptIndex })
	return out, nil
}

func (m *Memory) ListPendingAnchors(_ context.Context, limit int) ([]*record.AnchorConfirmation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*record.AnchorConfirmation
	for _, c := range m.confs {
		if c.Receipt.Status == anchor.StatusPending {
			out = append(out, copyConfirmation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) SaveConfirmation(_ context.Context, c *record.AnchorConfirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confs[confirmationKey{c.RecordID, c.ReceiptIndex}] = copyConfirmation(c)
	return nil
}

func decodeRecord(body []byte) (*record.Record, error) {
	rec := new(record.Record)
	if err := json.Unmarshal(body, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func copyConfirmation(c *record.AnchorConfirmation) *record.AnchorConfirmation {
	cp := *c
	if c.Receipt != nil {
		r := *c.Receipt
		cp.Receipt = &r
	}
	return &cp
}
