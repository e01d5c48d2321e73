package store

import (
	"encoding/binary"
	"fmt"

	"github.com/orbita-network/go-rollup-client/db"
	"github.com/orbita-network/go-rollup-client/types"
)

// SyncUpdate carries everything one sync round's Merge phase produced. It is
// applied through a single storage transaction: either the whole round
// commits or none of it does.
type SyncUpdate struct {
	BlockNum  uint64
	ChainTip  uint64
	MmrForest uint64
	// MmrNodes holds new or changed authentication nodes by position.
	MmrNodes       map[uint64]types.Digest
	PrunedMmrNodes []uint64
	Headers        []*types.BlockHeader
	PrunedHeaders  []uint64
	InputNotes     []*types.InputNoteRecord
	OutputNotes    []*types.OutputNoteRecord
	Snapshots      []*types.AccountSnapshot
	Transactions   []*types.TransactionRecord
}

// ApplySyncUpdate commits a completed merge atomically. Secondary indexes
// (note state, nullifier, transaction status, dependency) are maintained in
// the same transaction.
func (s *Store) ApplySyncUpdate(update *SyncUpdate) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	tx := s.db.NewTx()
	if err := s.writeSyncUpdate(tx, update); err != nil {
		tx.Discard()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sync update commit: %w", err)
	}
	return nil
}

func (s *Store) writeSyncUpdate(tx db.Transaction, update *SyncUpdate) error {
	if err := tx.Set(db.NamespaceSyncState, keySyncHeight, u64Key(update.BlockNum)); err != nil {
		return err
	}
	if err := tx.Set(db.NamespaceSyncState, keyChainTip, u64Key(update.ChainTip)); err != nil {
		return err
	}
	if err := tx.Set(db.NamespaceSyncState, keyMmrForest, u64Key(update.MmrForest)); err != nil {
		return err
	}

	for pos, digest := range update.MmrNodes {
		if err := tx.Set(db.NamespaceMmrNodes, u64Key(pos), digest.Bytes()); err != nil {
			return err
		}
	}
	for _, pos := range update.PrunedMmrNodes {
		if err := tx.Delete(db.NamespaceMmrNodes, u64Key(pos)); err != nil {
			return err
		}
	}

	for _, header := range update.Headers {
		encoded, err := types.EncodeRecord(header)
		if err != nil {
			return err
		}
		if err := tx.Set(db.NamespaceBlockHeaders, u64Key(header.Number), encoded); err != nil {
			return err
		}
	}
	for _, number := range update.PrunedHeaders {
		if err := tx.Delete(db.NamespaceBlockHeaders, u64Key(number)); err != nil {
			return err
		}
	}

	for _, record := range update.InputNotes {
		if err := s.writeInputNote(tx, record); err != nil {
			return err
		}
	}
	for _, record := range update.OutputNotes {
		encoded, err := types.EncodeRecord(record)
		if err != nil {
			return err
		}
		if err := tx.Set(db.NamespaceOutputNotes, record.ID.Bytes(), encoded); err != nil {
			return err
		}
	}

	for _, snapshot := range update.Snapshots {
		if err := s.writeSnapshot(tx, snapshot); err != nil {
			return err
		}
	}

	for _, record := range update.Transactions {
		if err := s.writeTransaction(tx, record); err != nil {
			return err
		}
	}
	return nil
}

// writeInputNote upserts a note record and keeps the state and nullifier
// indexes in step. The previous record is read outside the transaction,
// which is safe under the single writer lock.
func (s *Store) writeInputNote(tx db.Transaction, record *types.InputNoteRecord) error {
	previous, err := s.InputNote(record.ID)
	if err != nil && err != ErrNoteNotFound {
		return err
	}
	if previous != nil && previous.State != record.State {
		if err := tx.Delete(db.NamespaceNoteStateIndex, stateIndexKey(previous.State, record.ID)); err != nil {
			return err
		}
	}

	encoded, err := types.EncodeRecord(record)
	if err != nil {
		return err
	}
	if err := tx.Set(db.NamespaceInputNotes, record.ID.Bytes(), encoded); err != nil {
		return err
	}
	if err := tx.Set(db.NamespaceNoteStateIndex, stateIndexKey(record.State, record.ID), nil); err != nil {
		return err
	}
	return tx.Set(db.NamespaceNullifierIndex, record.Nullifier.Bytes(), record.ID.Bytes())
}

func (s *Store) writeSnapshot(tx db.Transaction, snapshot *types.AccountSnapshot) error {
	if err := snapshot.Validate(); err != nil {
		return err
	}
	encoded, err := types.EncodeRecord(snapshot)
	if err != nil {
		return err
	}
	return tx.Set(db.NamespaceAccountSnapshots, snapshotKey(snapshot.ID, snapshot.Nonce), encoded)
}

// writeTransaction upserts a transaction record, maintains the status index
// and drops dependency entries once the transaction leaves the pending set.
func (s *Store) writeTransaction(tx db.Transaction, record *types.TransactionRecord) error {
	previous, err := s.Transaction(record.ID)
	if err != nil && err != ErrTransactionNotFound {
		return err
	}
	if previous != nil && previous.Status != record.Status {
		if err := tx.Delete(db.NamespaceTxStatusIndex, statusIndexKey(previous.Status, record.ID)); err != nil {
			return err
		}
	}

	encoded, err := types.EncodeRecord(record)
	if err != nil {
		return err
	}
	if err := tx.Set(db.NamespaceTransactions, record.ID.Bytes(), encoded); err != nil {
		return err
	}
	if err := tx.Set(db.NamespaceTxStatusIndex, statusIndexKey(record.Status, record.ID), nil); err != nil {
		return err
	}

	if record.Status == types.TxStatusPending {
		for _, note := range record.InputNotes {
			if err := tx.Set(db.NamespaceTxDependencies, dependencyKey(note, record.ID), nil); err != nil {
				return err
			}
		}
	} else {
		for _, note := range record.InputNotes {
			if err := tx.Delete(db.NamespaceTxDependencies, dependencyKey(note, record.ID)); err != nil {
				return err
			}
		}
	}
	return nil
}

// TransactionSubmission is the write set of one locally executed transaction
// entering the tracker.
type TransactionSubmission struct {
	Record *types.TransactionRecord
	// InputNotes are the consumed notes, already moved to Processing*.
	InputNotes []*types.InputNoteRecord
	// OutputNotes are the created notes, in the Expected state.
	OutputNotes []*types.OutputNoteRecord
	// NewInputs are self-addressed output notes also tracked as expected
	// input notes.
	NewInputs []*types.InputNoteRecord
	Tags      []*types.NoteTag
}

// ApplyTransactionSubmission records a pending transaction atomically,
// together with the note state changes it implies.
func (s *Store) ApplyTransactionSubmission(submission *TransactionSubmission) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	tx := s.db.NewTx()
	err := func() error {
		if err := s.writeTransaction(tx, submission.Record); err != nil {
			return err
		}
		for _, record := range submission.InputNotes {
			if err := s.writeInputNote(tx, record); err != nil {
				return err
			}
		}
		for _, record := range submission.NewInputs {
			if err := s.writeInputNote(tx, record); err != nil {
				return err
			}
		}
		for _, record := range submission.OutputNotes {
			encoded, err := types.EncodeRecord(record)
			if err != nil {
				return err
			}
			if err := tx.Set(db.NamespaceOutputNotes, record.ID.Bytes(), encoded); err != nil {
				return err
			}
		}
		for _, tag := range submission.Tags {
			encoded, err := types.EncodeRecord(tag)
			if err != nil {
				return err
			}
			if err := tx.Set(db.NamespaceNoteTags, tagKey(tag), encoded); err != nil {
				return err
			}
		}
		return nil
	}()
	if err != nil {
		tx.Discard()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("transaction submission commit: %w", err)
	}
	return nil
}

func tagKey(tag *types.NoteTag) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, tag.Tag)
	return joinKey(key, tag.SourceID.Bytes())
}

// AddNoteTag starts tracking a tag.
func (s *Store) AddNoteTag(tag *types.NoteTag) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	encoded, err := types.EncodeRecord(tag)
	if err != nil {
		return err
	}
	return s.db.Set(db.NamespaceNoteTags, tagKey(tag), encoded)
}

// RemoveNoteTag stops tracking a tag.
func (s *Store) RemoveNoteTag(tag *types.NoteTag) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	return s.db.Delete(db.NamespaceNoteTags, tagKey(tag))
}

// InsertInputNote stores a single new input note outside a sync round, e.g.
// an imported or locally expected note.
func (s *Store) InsertInputNote(record *types.InputNoteRecord) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	tx := s.db.NewTx()
	if err := s.writeInputNote(tx, record); err != nil {
		tx.Discard()
		return err
	}
	return tx.Commit()
}

// UpsertAccountSnapshot stores a snapshot outside a sync round, e.g. when an
// account is first created or imported.
func (s *Store) UpsertAccountSnapshot(snapshot *types.AccountSnapshot) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	tx := s.db.NewTx()
	if err := s.writeSnapshot(tx, snapshot); err != nil {
		tx.Discard()
		return err
	}
	return tx.Commit()
}

// RollbackAccount deletes all snapshots of the account above the given
// nonce, restoring the pre-transaction state. Only uncommitted local
// progress may be rolled back.
func (s *Store) RollbackAccount(id types.AccountID, nonce uint64) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	history, err := s.AccountHistory(id)
	if err != nil {
		return err
	}
	tx := s.db.NewTx()
	for _, snapshot := range history {
		if snapshot.Nonce > nonce {
			if err := tx.Delete(db.NamespaceAccountSnapshots, snapshotKey(id, snapshot.Nonce)); err != nil {
				tx.Discard()
				return err
			}
		}
	}
	return tx.Commit()
}
