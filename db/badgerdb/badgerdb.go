// Package badgerdb provides the badger-backed db.DB implementation used for
// durable client state.
package badgerdb

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/dgraph-io/badger/v2/options"

	clientdb "github.com/orbita-network/go-rollup-client/db"
	"github.com/orbita-network/go-rollup-client/log"
)

const (
	gcDiscardRatio   = 0.5
	gcInterval       = 10 * time.Minute
	valueLogFileSize = 1<<26 - 1
	slowCommit       = 100 * time.Millisecond
)

var _ clientdb.DB = (*DB)(nil)

var logger = log.NewLogger("badgerdb")

// DB wraps a badger instance. A background goroutine runs the value log GC
// until Close.
type DB struct {
	db         *badger.DB
	ctx        context.Context
	cancelFunc context.CancelFunc
	name       string
}

// NewDB opens or creates a badger database in the given directory.
func NewDB(dir string) (*DB, error) {
	opts := badger.DefaultOptions(dir)
	opts.ValueLogLoadingMode = options.FileIO
	opts.TableLoadingMode = options.FileIO
	opts.ValueThreshold = 1024
	opts.ValueLogFileSize = valueLogFileSize
	opts.Logger = badgerLogger{logger}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	db := &DB{
		db:         bdb,
		ctx:        ctx,
		cancelFunc: cancel,
		name:       dir,
	}
	go db.runValueLogGC()
	return db, nil
}

func (db *DB) runValueLogGC() {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			start := time.Now()
			err := db.db.RunValueLogGC(gcDiscardRatio)
			if err != nil {
				if err != badger.ErrNoRewrite {
					logger.Error().Str("name", db.name).Err(err).Msg("badger value log GC failed")
				}
				continue
			}
			logger.Debug().Str("name", db.name).Dur("takenTime", time.Since(start)).Msg("badger value log GC done")
		case <-db.ctx.Done():
			return
		}
	}
}

func (db *DB) Type() string {
	return "badgerdb"
}

func (db *DB) Set(namespace, key, value []byte) error {
	full := clientdb.PrependNamespace(namespace, clientdb.ConvNilToBytes(key))
	value = clientdb.ConvNilToBytes(value)
	return db.db.Update(func(txn *badger.Txn) error {
		return txn.Set(full, value)
	})
}

func (db *DB) Delete(namespace, key []byte) error {
	full := clientdb.PrependNamespace(namespace, clientdb.ConvNilToBytes(key))
	return db.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(full)
	})
}

func (db *DB) Get(namespace, key []byte) ([]byte, bool, error) {
	full := clientdb.PrependNamespace(namespace, clientdb.ConvNilToBytes(key))
	var value []byte
	err := db.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(full)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

func (db *DB) Exist(namespace, key []byte) (bool, error) {
	full := clientdb.PrependNamespace(namespace, clientdb.ConvNilToBytes(key))
	err := db.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(full)
		return err
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (db *DB) Close() error {
	db.cancelFunc()
	return db.db.Close()
}

func (db *DB) NewTx() clientdb.Transaction {
	return &transaction{
		db:      db,
		tx:      db.db.NewTransaction(true),
		created: time.Now(),
	}
}

type transaction struct {
	db       *DB
	tx       *badger.Txn
	created  time.Time
	setCount uint
	delCount uint
}

func (tx *transaction) Set(namespace, key, value []byte) error {
	full := clientdb.PrependNamespace(namespace, clientdb.ConvNilToBytes(key))
	if err := tx.tx.Set(full, clientdb.ConvNilToBytes(value)); err != nil {
		return err
	}
	tx.setCount++
	return nil
}

func (tx *transaction) Delete(namespace, key []byte) error {
	full := clientdb.PrependNamespace(namespace, clientdb.ConvNilToBytes(key))
	if err := tx.tx.Delete(full); err != nil {
		return err
	}
	tx.delCount++
	return nil
}

func (tx *transaction) Commit() error {
	start := time.Now()
	err := tx.tx.Commit()
	if taken := time.Since(start); taken > slowCommit {
		logger.Warn().Str("name", tx.db.name).Str("caller", log.SkipCaller(2)).
			Dur("prepareTime", start.Sub(tx.created)).Dur("takenTime", taken).
			Uint("setCount", tx.setCount).Uint("delCount", tx.delCount).
			Msg("commit takes long time")
	}
	return err
}

func (tx *transaction) Discard() {
	tx.tx.Discard()
}

type iterator struct {
	start   []byte
	end     []byte
	reverse bool
	iter    *badger.Iterator
}

// Iterator returns an iterator over [start, end). A start key greater than
// the end key iterates in reverse.
func (db *DB) Iterator(start, end []byte) clientdb.Iterator {
	reverse := bytes.Compare(start, end) == 1

	opt := badger.DefaultIteratorOptions
	opt.PrefetchValues = false
	opt.Reverse = reverse

	badgerIter := db.db.NewTransaction(false).NewIterator(opt)
	badgerIter.Seek(start)

	return &iterator{
		start:   start,
		end:     end,
		reverse: reverse,
		iter:    badgerIter,
	}
}

func (iter *iterator) Next() error {
	if !iter.Valid() {
		return errors.New("invalid iterator")
	}
	iter.iter.Next()
	return nil
}

func (iter *iterator) Valid() bool {
	if !iter.iter.Valid() {
		return false
	}
	if iter.end == nil {
		return true
	}
	if iter.reverse {
		return bytes.Compare(iter.iter.Item().Key(), iter.end) > 0
	}
	return bytes.Compare(iter.iter.Item().Key(), iter.end) < 0
}

func (iter *iterator) Key() ([]byte, error) {
	if !iter.Valid() {
		return nil, errors.New("invalid iterator")
	}
	return iter.iter.Item().KeyCopy(nil), nil
}

func (iter *iterator) Value() ([]byte, error) {
	if !iter.Valid() {
		return nil, errors.New("invalid iterator")
	}
	return iter.iter.Item().ValueCopy(nil)
}

// badgerLogger adapts the project logger to badger's Logger interface.
type badgerLogger struct {
	logger *log.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}
