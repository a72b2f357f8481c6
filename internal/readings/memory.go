package readings

import (
	"context"
	"sync"

	"github.com/nerrad567/fieldmesh/internal/datum"
)

// MemoryStore is a Store backed by a map.
type MemoryStore struct {
	mu     sync.RWMutex
	latest map[string]datum.Datum
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{latest: make(map[string]datum.Datum)}
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, sensorID string, d datum.Datum) error {
	if err := checkPut(sensorID, d); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.latest[sensorID]; ok && cur.Newer(d) {
		return nil
	}
	m.latest[sensorID] = d
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, sensorID string) (datum.Datum, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.latest[sensorID]
	if !ok {
		return datum.Datum{}, ErrNotFound
	}
	return d, nil
}

// Latest implements Store.
func (m *MemoryStore) Latest(_ context.Context) ([]Reading, error) {
	m.mu.RLock()
	out := make([]Reading, 0, len(m.latest))
	for id, d := range m.latest {
		out = append(out, Reading{SensorID: id, Datum: d})
	}
	m.mu.RUnlock()

	sortReadings(out)
	return out, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, sensorID string) error {
	m.mu.Lock()
	delete(m.latest, sensorID)
	m.mu.Unlock()
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
