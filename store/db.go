// Package store persists every durable table the pipeline touches on a
// single goleveldb instance: transaction records, positions, pools,
// pending signatures, the audit log, system configuration and the signal
// journal. Rows are JSON; keys follow the schema in schema.go.
package store

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

var (
	ErrNotFound   = errors.New("store: not found")
	ErrDuplicate  = errors.New("store: duplicate row")
	ErrClosed     = errors.New("store: database closed")
)

// DB wraps the leveldb handle. All methods are safe for concurrent use;
// multi-row writes go through a single batch so each step commits at most
// one short transaction.
type DB struct {
	ldb *leveldb.DB

	mu     sync.Mutex // serializes sequence allocation
	closed bool
}

// Open opens (or creates) the database at path.
func Open(path string) (*DB, error) {
	ldb, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &DB{ldb: ldb}, nil
}

// OpenMemory opens an in-memory database. Used by tests.
func OpenMemory() (*DB, error) {
	ldb, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &DB{ldb: ldb}, nil
}

// Close flushes and closes the underlying database.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	return db.ldb.Close()
}

func (db *DB) getJSON(key []byte, out interface{}) error {
	raw, err := db.ldb.Get(key, nil)
	if err != nil {
		if errors.Is(err, lerrors.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal(raw, out)
}

func (db *DB) putJSON(key []byte, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return db.ldb.Put(key, raw, nil)
}

func (db *DB) has(key []byte) (bool, error) {
	return db.ldb.Has(key, nil)
}

// nextSeq allocates the next value of a monotonic counter stored at key.
func (db *DB) nextSeq(key []byte) (uint64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var seq uint64
	raw, err := db.ldb.Get(key, nil)
	switch {
	case err == nil:
		seq = decodeSeq(raw)
	case errors.Is(err, lerrors.ErrNotFound):
		seq = 0
	default:
		return 0, err
	}
	if err := db.ldb.Put(key, encodeSeq(seq+1), nil); err != nil {
		return 0, err
	}
	return seq, nil
}
