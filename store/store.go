// Package store is the persistence boundary of the client. Every tracker
// reads and writes through it, and every externally visible mutation of a
// sync round goes through one atomic ApplySyncUpdate commit.
package store

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/orbita-network/go-rollup-client/db"
	"github.com/orbita-network/go-rollup-client/log"
	"github.com/orbita-network/go-rollup-client/types"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrNoteNotFound        = errors.New("note not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrHeaderNotFound      = errors.New("block header not found")
)

var (
	keySyncHeight = []byte("height")
	keyChainTip   = []byte("tip")
	keyMmrForest  = []byte("forest")
)

// Store wraps a db.DB with the client's record layout. A single writer lock
// serializes mutations, so overlapping sync rounds and transaction
// submissions cannot interleave partial state.
type Store struct {
	db        db.DB
	writeLock sync.Mutex
	logger    *log.Logger
}

func NewStore(database db.DB) *Store {
	return &Store{
		db:     database,
		logger: log.NewLogger("store"),
	}
}

func (s *Store) DB() db.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// key helpers

func u64Key(n uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, n)
	return key
}

func decodeU64Key(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}

func joinKey(parts ...[]byte) []byte {
	var key []byte
	for _, part := range parts {
		key = append(key, part...)
	}
	return key
}

func snapshotKey(id types.AccountID, nonce uint64) []byte {
	return joinKey(id.Bytes(), u64Key(nonce))
}

func codeKey(id types.AccountID, root types.Digest) []byte {
	return joinKey(id.Bytes(), root.Bytes())
}

func stateIndexKey(state types.NoteState, id types.NoteID) []byte {
	return joinKey([]byte{byte(state)}, id.Bytes())
}

func statusIndexKey(status types.TxStatus, id types.TransactionID) []byte {
	return joinKey([]byte{byte(status)}, id.Bytes())
}

func dependencyKey(note types.NoteID, tx types.TransactionID) []byte {
	return joinKey(note.Bytes(), tx.Bytes())
}

// iteratePrefix walks all entries of a namespace whose key starts with
// prefix, invoking fn with the key (namespace stripped) and value.
func (s *Store) iteratePrefix(namespace, prefix []byte, fn func(key, value []byte) error) error {
	start := db.PrependNamespace(namespace, prefix)
	end := prefixEnd(start)
	iter := s.db.Iterator(start, end)
	offset := len(namespace) + len(db.Separator)
	for iter.Valid() {
		key, err := iter.Key()
		if err != nil {
			return err
		}
		value, err := iter.Value()
		if err != nil {
			return err
		}
		if err := fn(key[offset:], value); err != nil {
			return err
		}
		if err := iter.Next(); err != nil {
			return err
		}
	}
	return nil
}

// prefixEnd returns the smallest key greater than every key with the given
// prefix, or nil when the prefix is all 0xff.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// sync state

// SyncHeight returns the height of the last fully merged block, zero for a
// fresh store.
func (s *Store) SyncHeight() (uint64, error) {
	value, exists, err := s.db.Get(db.NamespaceSyncState, keySyncHeight)
	if err != nil || !exists {
		return 0, err
	}
	return decodeU64Key(value), nil
}

// ChainTip returns the last chain tip reported by the remote authority.
func (s *Store) ChainTip() (uint64, error) {
	value, exists, err := s.db.Get(db.NamespaceSyncState, keyChainTip)
	if err != nil || !exists {
		return 0, err
	}
	return decodeU64Key(value), nil
}

// MmrForest returns the persisted leaf count of the partial chain.
func (s *Store) MmrForest() (uint64, error) {
	value, exists, err := s.db.Get(db.NamespaceSyncState, keyMmrForest)
	if err != nil || !exists {
		return 0, err
	}
	return decodeU64Key(value), nil
}

// MmrNodes loads the retained authentication node set.
func (s *Store) MmrNodes() (map[uint64]types.Digest, error) {
	nodes := make(map[uint64]types.Digest)
	err := s.iteratePrefix(db.NamespaceMmrNodes, nil, func(key, value []byte) error {
		nodes[decodeU64Key(key)] = types.BytesToDigest(value)
		return nil
	})
	return nodes, err
}
