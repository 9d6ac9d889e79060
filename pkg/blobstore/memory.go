package blobstore

import (
	"context"
	"sync"
)

// Memory is an in-process Store.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Store(_ context.Context, data []byte, _ Metadata) (*Object, error) {
	if len(data) == 0 {
		return nil, ErrEmptyBlob
	}
	c, err := ContentID(data)
	if err != nil {
		return nil, err
	}
	id := c.String()

	m.mu.Lock()
	if _, ok := m.blobs[id]; !ok {
		m.blobs[id] = append([]byte(nil), data...)
	}
	m.mu.Unlock()

	return &Object{ContentID: id, URL: "memory://" + id, Size: int64(len(data))}, nil
}

func (m *Memory) Fetch(_ context.Context, contentID string) ([]byte, error) {
	m.mu.RLock()
	data, ok := m.blobs[contentID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}
