// Package memorydb provides the in-memory db.DB backend, used by tests and
// by ephemeral clients that do not need persistence.
package memorydb

import (
	"bytes"
	"errors"
	"sort"
	"sync"

	clientdb "github.com/orbita-network/go-rollup-client/db"
)

var _ clientdb.DB = (*DB)(nil)

// DB is a map-backed database. All operations are guarded by a single lock;
// transactions buffer their writes and replay them on commit.
type DB struct {
	lock sync.Mutex
	data map[string][]byte
}

func NewDB() *DB {
	return &DB{data: make(map[string][]byte)}
}

func (db *DB) Type() string {
	return "memorydb"
}

func (db *DB) Set(namespace, key, value []byte) error {
	db.lock.Lock()
	defer db.lock.Unlock()

	full := clientdb.PrependNamespace(namespace, clientdb.ConvNilToBytes(key))
	db.data[string(full)] = clientdb.ConvNilToBytes(value)
	return nil
}

func (db *DB) Delete(namespace, key []byte) error {
	db.lock.Lock()
	defer db.lock.Unlock()

	full := clientdb.PrependNamespace(namespace, clientdb.ConvNilToBytes(key))
	delete(db.data, string(full))
	return nil
}

func (db *DB) Get(namespace, key []byte) ([]byte, bool, error) {
	db.lock.Lock()
	defer db.lock.Unlock()

	full := clientdb.PrependNamespace(namespace, clientdb.ConvNilToBytes(key))
	value, exists := db.data[string(full)]
	return value, exists, nil
}

func (db *DB) Exist(namespace, key []byte) (bool, error) {
	db.lock.Lock()
	defer db.lock.Unlock()

	full := clientdb.PrependNamespace(namespace, clientdb.ConvNilToBytes(key))
	_, ok := db.data[string(full)]
	return ok, nil
}

func (db *DB) Close() error {
	return nil
}

func (db *DB) NewTx() clientdb.Transaction {
	return &transaction{db: db}
}

type writeOp struct {
	isSet bool
	key   []byte
	value []byte
}

type transaction struct {
	opLock    sync.Mutex
	db        *DB
	ops       []writeOp
	discarded bool
	committed bool
}

func (tx *transaction) Set(namespace, key, value []byte) error {
	tx.opLock.Lock()
	defer tx.opLock.Unlock()

	full := clientdb.PrependNamespace(namespace, clientdb.ConvNilToBytes(key))
	tx.ops = append(tx.ops, writeOp{isSet: true, key: full, value: clientdb.ConvNilToBytes(value)})
	return nil
}

func (tx *transaction) Delete(namespace, key []byte) error {
	tx.opLock.Lock()
	defer tx.opLock.Unlock()

	full := clientdb.PrependNamespace(namespace, clientdb.ConvNilToBytes(key))
	tx.ops = append(tx.ops, writeOp{isSet: false, key: full})
	return nil
}

func (tx *transaction) Commit() error {
	tx.opLock.Lock()
	defer tx.opLock.Unlock()

	if tx.discarded {
		return errors.New("commit after discard is not allowed")
	}
	if tx.committed {
		return errors.New("transaction committed twice")
	}

	tx.db.lock.Lock()
	defer tx.db.lock.Unlock()

	for _, op := range tx.ops {
		if op.isSet {
			tx.db.data[string(op.key)] = op.value
		} else {
			delete(tx.db.data, string(op.key))
		}
	}
	tx.committed = true
	return nil
}

func (tx *transaction) Discard() {
	tx.opLock.Lock()
	defer tx.opLock.Unlock()

	tx.discarded = true
}

type iterator struct {
	keys   []string
	cursor int
	db     *DB
}

// Iterator returns an iterator over [start, end). A start key greater than
// the end key iterates in reverse.
func (db *DB) Iterator(start, end []byte) clientdb.Iterator {
	db.lock.Lock()
	defer db.lock.Unlock()

	reverse := bytes.Compare(start, end) == 1

	var keys sort.StringSlice
	for key := range db.data {
		if keyInRange([]byte(key), start, end, reverse) {
			keys = append(keys, key)
		}
	}
	if reverse {
		sort.Sort(sort.Reverse(keys))
	} else {
		sort.Strings(keys)
	}

	return &iterator{keys: keys, db: db}
}

func keyInRange(key, start, end []byte, reverse bool) bool {
	if reverse {
		if start != nil && bytes.Compare(start, key) < 0 {
			return false
		}
		if end != nil && bytes.Compare(key, end) <= 0 {
			return false
		}
		return true
	}
	if bytes.Compare(key, start) < 0 {
		return false
	}
	if end != nil && bytes.Compare(end, key) <= 0 {
		return false
	}
	return true
}

func (iter *iterator) Next() error {
	if !iter.Valid() {
		return errors.New("invalid iterator")
	}
	iter.cursor++
	return nil
}

func (iter *iterator) Valid() bool {
	return iter.cursor >= 0 && iter.cursor < len(iter.keys)
}

func (iter *iterator) Key() ([]byte, error) {
	if !iter.Valid() {
		return nil, errors.New("invalid iterator")
	}
	return []byte(iter.keys[iter.cursor]), nil
}

func (iter *iterator) Value() ([]byte, error) {
	if !iter.Valid() {
		return nil, errors.New("invalid iterator")
	}
	value, exists, err := iter.db.Get(nil, []byte(iter.keys[iter.cursor]))
	if err != nil || !exists {
		return nil, err
	}
	return value, nil
}
