package storage

import (
	"errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
)

// Database is a generic interface for a key-value store, allowing the sale
// ledger to run against an in-memory or persistent backend. Get returns
// (nil, nil) when the key is absent. Write applies all entries or none.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Write(batch map[string][]byte) error
	Close()
}

// --- In-memory DB (for tests and ephemeral runs) ---

type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{
		data: make(map[string][]byte),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	buf := make([]byte, len(value))
	copy(buf, value)
	db.data[string(key)] = buf
	return nil
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, nil
	}
	return value, nil
}

func (db *MemDB) Write(batch map[string][]byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for key, value := range batch {
		buf := make([]byte, len(value))
		copy(buf, value)
		db.data[key] = buf
	}
	return nil
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {}

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	return value, err
}

func (ldb *LevelDB) Write(batch map[string][]byte) error {
	b := new(leveldb.Batch)
	for key, value := range batch {
		b.Put([]byte(key), value)
	}
	return ldb.db.Write(b, nil)
}

func (ldb *LevelDB) Close() {
	ldb.db.Close()
}
