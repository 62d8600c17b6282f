package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// TipKey is the reserved key holding the hash of the latest block
const TipKey = "LAST"

var (
	// ErrNotFound is returned by Get when a key is absent
	ErrNotFound = errors.New("key not found")

	// ErrStore wraps every I/O failure of the backing store
	ErrStore = errors.New("store failure")
)

// Store is the key-value capability the ledger persists into. Writes made
// with Set become durable on the next successful Flush.
type Store interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Flush() error
	Close() error
}

// LevelDB is a Store backed by a LevelDB database. Writes are staged in a
// batch and committed atomically by Flush with a synced write, so entries
// staged together become durable together.
type LevelDB struct {
	db *leveldb.DB

	mu      sync.Mutex
	batch   *leveldb.Batch
	pending map[string][]byte
}

// NewLevelDB opens (or creates) a LevelDB store at path
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", ErrStore, err)
	}

	return &LevelDB{
		db:      db,
		batch:   new(leveldb.Batch),
		pending: make(map[string][]byte),
	}, nil
}

// Get returns the value for key, including writes not yet flushed
func (s *LevelDB) Get(key []byte) ([]byte, error) {
	s.mu.Lock()
	value, ok := s.pending[string(key)]
	s.mu.Unlock()
	if ok {
		return copyBytes(value), nil
	}

	data, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %q: %v", ErrStore, key, err)
	}

	return data, nil
}

// Set stages a write
func (s *LevelDB) Set(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	value = copyBytes(value)
	s.batch.Put(key, value)
	s.pending[string(key)] = value
	return nil
}

// Flush commits every staged write in a single synced batch. Staged writes
// are dropped if the commit fails.
func (s *LevelDB) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.batch.Len() == 0 {
		return nil
	}

	err := s.db.Write(s.batch, &opt.WriteOptions{Sync: true})
	s.batch.Reset()
	s.pending = make(map[string][]byte)
	if err != nil {
		return fmt.Errorf("%w: flush: %v", ErrStore, err)
	}

	return nil
}

// Delete removes key from the database immediately, dropping any staged
// write for it. It is not part of Store: the ledger never deletes blocks.
// It serves maintenance tools and tests that simulate a damaged store.
func (s *LevelDB) Delete(key []byte) error {
	s.mu.Lock()
	delete(s.pending, string(key))
	s.batch.Delete(key)
	s.mu.Unlock()

	if err := s.db.Delete(key, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("%w: delete %q: %v", ErrStore, key, err)
	}
	return nil
}

// Close closes the database connection. Unflushed writes are discarded.
func (s *LevelDB) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrStore, err)
	}
	return nil
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
