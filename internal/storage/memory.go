package storage

import (
	"fmt"
	"sync"
)

// Memory is a Store kept entirely in process memory. Nothing survives the
// process; it is meant for tests and throwaway ledgers.
type Memory struct {
	mu     sync.RWMutex
	db     map[string][]byte
	closed bool
}

// NewMemory returns an empty in-memory store
func NewMemory() *Memory {
	return &Memory{db: make(map[string][]byte)}
}

// Get returns a copy of the value stored under key, or ErrNotFound.
func (m *Memory) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("%w: store closed", ErrStore)
	}
	value, ok := m.db[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBytes(value), nil
}

// Set stores a copy of value under key. The write is visible at once.
func (m *Memory) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("%w: store closed", ErrStore)
	}
	m.db[string(key)] = copyBytes(value)
	return nil
}

// Flush is a no-op; writes are visible as soon as Set returns.
func (m *Memory) Flush() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("%w: store closed", ErrStore)
	}
	return nil
}

// Delete removes key. Like LevelDB.Delete it is outside Store and exists
// for tests that simulate a damaged store.
func (m *Memory) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.db, string(key))
	return nil
}

// Len returns the number of stored keys
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.db)
}

// Close marks the store closed; Get, Set and Flush then fail with ErrStore.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}
