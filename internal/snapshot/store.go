package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"outletcash/backend/internal/store"
)

// Store archives closed periods. Put is write-once per key and returns
// ErrExists when the key is taken. Get returns store.ErrNotFound for a
// missing key.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, date string, outlet string, closeIndex int) (Record, error)
}

func Key(date string, outlet string, closeIndex int) string {
	return fmt.Sprintf("snapshot:closing:%s:%s:%d", date, strings.ToLower(strings.TrimSpace(outlet)), closeIndex)
}

// Latest returns the most recent closed period of date: close index 2 when
// present, else 1.
func Latest(ctx context.Context, s Store, date string, outlet string) (Record, bool, error) {
	for _, idx := range []int{2, 1} {
		rec, err := s.Get(ctx, date, outlet, idx)
		if err == nil {
			return rec, true, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return Record{}, false, err
		}
	}
	return Record{}, false, nil
}

type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Put(_ context.Context, rec Record) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	key := Key(rec.Date, rec.Outlet, rec.CloseIndex)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.blobs[key]; exists {
		return ErrExists
	}
	m.blobs[key] = data
	return nil
}

func (m *MemoryStore) Get(_ context.Context, date string, outlet string, closeIndex int) (Record, error) {
	m.mu.RLock()
	data, ok := m.blobs[Key(date, outlet, closeIndex)]
	m.mu.RUnlock()
	if !ok {
		return Record{}, store.ErrNotFound
	}
	return Decode(data)
}

// PutRaw stores an already encoded payload, bypassing validation. It exists
// for loading archives written by older releases.
func (m *MemoryStore) PutRaw(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
}
