package store

import (
	"github.com/orbita-network/go-rollup-client/db"
	"github.com/orbita-network/go-rollup-client/types"
)

// accounts

// AccountIDs lists every account with at least one stored snapshot.
func (s *Store) AccountIDs() ([]types.AccountID, error) {
	var ids []types.AccountID
	var last types.AccountID
	first := true
	err := s.iteratePrefix(db.NamespaceAccountSnapshots, nil, func(key, _ []byte) error {
		id := types.AccountID(types.BytesToDigest(key[:types.DigestLength]))
		if first || id != last {
			ids = append(ids, id)
			last = id
			first = false
		}
		return nil
	})
	return ids, err
}

// AccountSnapshot returns the snapshot with the highest nonce for the
// account, which is the current one.
func (s *Store) AccountSnapshot(id types.AccountID) (*types.AccountSnapshot, error) {
	var latest *types.AccountSnapshot
	err := s.iteratePrefix(db.NamespaceAccountSnapshots, id.Bytes(), func(_, value []byte) error {
		snapshot, err := types.DecodeAccountSnapshot(value)
		if err != nil {
			return err
		}
		if latest == nil || snapshot.Nonce >= latest.Nonce {
			latest = snapshot
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, ErrAccountNotFound
	}
	return latest, nil
}

// AccountHistory returns all stored snapshots of the account in nonce order.
func (s *Store) AccountHistory(id types.AccountID) ([]*types.AccountSnapshot, error) {
	var history []*types.AccountSnapshot
	err := s.iteratePrefix(db.NamespaceAccountSnapshots, id.Bytes(), func(_, value []byte) error {
		snapshot, err := types.DecodeAccountSnapshot(value)
		if err != nil {
			return err
		}
		history = append(history, snapshot)
		return nil
	})
	return history, err
}

// AccountCode returns the cached code blob for an account at a given code
// commitment.
func (s *Store) AccountCode(id types.AccountID, root types.Digest) ([]byte, bool, error) {
	return s.db.Get(db.NamespaceAccountCode, codeKey(id, root))
}

// SetAccountCode caches a foreign account's code blob.
func (s *Store) SetAccountCode(id types.AccountID, root types.Digest, code []byte) error {
	return s.db.Set(db.NamespaceAccountCode, codeKey(id, root), code)
}

// notes

func (s *Store) InputNote(id types.NoteID) (*types.InputNoteRecord, error) {
	value, exists, err := s.db.Get(db.NamespaceInputNotes, id.Bytes())
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNoteNotFound
	}
	return types.DecodeInputNoteRecord(value)
}

// InputNotesByState lists all input notes currently in the given state,
// resolved through the state index.
func (s *Store) InputNotesByState(state types.NoteState) ([]*types.InputNoteRecord, error) {
	var records []*types.InputNoteRecord
	err := s.iteratePrefix(db.NamespaceNoteStateIndex, []byte{byte(state)}, func(key, _ []byte) error {
		record, err := s.InputNote(types.NoteID(types.BytesToDigest(key)))
		if err != nil {
			return err
		}
		records = append(records, record)
		return nil
	})
	return records, err
}

func (s *Store) InputNotesByIDs(ids []types.NoteID) ([]*types.InputNoteRecord, error) {
	var records []*types.InputNoteRecord
	for _, id := range ids {
		record, err := s.InputNote(id)
		if err == ErrNoteNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// InputNoteByNullifier resolves a nullifier to its tracked note, if any.
func (s *Store) InputNoteByNullifier(nullifier types.Nullifier) (*types.InputNoteRecord, error) {
	value, exists, err := s.db.Get(db.NamespaceNullifierIndex, nullifier.Bytes())
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNoteNotFound
	}
	return s.InputNote(types.NoteID(types.BytesToDigest(value)))
}

// Nullifiers lists the nullifiers of all tracked, non-terminal input notes.
func (s *Store) Nullifiers() ([]types.Nullifier, error) {
	var nullifiers []types.Nullifier
	err := s.iteratePrefix(db.NamespaceNullifierIndex, nil, func(key, value []byte) error {
		record, err := s.InputNote(types.NoteID(types.BytesToDigest(value)))
		if err != nil {
			return err
		}
		if !record.State.IsTerminal() {
			nullifiers = append(nullifiers, types.Nullifier(types.BytesToDigest(key)))
		}
		return nil
	})
	return nullifiers, err
}

func (s *Store) OutputNote(id types.NoteID) (*types.OutputNoteRecord, error) {
	value, exists, err := s.db.Get(db.NamespaceOutputNotes, id.Bytes())
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNoteNotFound
	}
	return types.DecodeOutputNoteRecord(value)
}

func (s *Store) OutputNotes() ([]*types.OutputNoteRecord, error) {
	var records []*types.OutputNoteRecord
	err := s.iteratePrefix(db.NamespaceOutputNotes, nil, func(_, value []byte) error {
		record, err := types.DecodeOutputNoteRecord(value)
		if err != nil {
			return err
		}
		records = append(records, record)
		return nil
	})
	return records, err
}

// transactions

func (s *Store) Transaction(id types.TransactionID) (*types.TransactionRecord, error) {
	value, exists, err := s.db.Get(db.NamespaceTransactions, id.Bytes())
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrTransactionNotFound
	}
	return types.DecodeTransactionRecord(value)
}

// TransactionsByStatus lists transactions through the status index.
func (s *Store) TransactionsByStatus(status types.TxStatus) ([]*types.TransactionRecord, error) {
	var records []*types.TransactionRecord
	err := s.iteratePrefix(db.NamespaceTxStatusIndex, []byte{byte(status)}, func(key, _ []byte) error {
		record, err := s.Transaction(types.TransactionID(types.BytesToDigest(key)))
		if err != nil {
			return err
		}
		records = append(records, record)
		return nil
	})
	return records, err
}

// DependentTransactions returns the pending transactions that consume the
// given note, resolved through the dependency index.
func (s *Store) DependentTransactions(note types.NoteID) ([]types.TransactionID, error) {
	var ids []types.TransactionID
	err := s.iteratePrefix(db.NamespaceTxDependencies, note.Bytes(), func(key, _ []byte) error {
		ids = append(ids, types.TransactionID(types.BytesToDigest(key)))
		return nil
	})
	return ids, err
}

// block headers

func (s *Store) BlockHeader(number uint64) (*types.BlockHeader, error) {
	value, exists, err := s.db.Get(db.NamespaceBlockHeaders, u64Key(number))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrHeaderNotFound
	}
	return types.DecodeBlockHeader(value)
}

func (s *Store) BlockHeaders() ([]*types.BlockHeader, error) {
	var headers []*types.BlockHeader
	err := s.iteratePrefix(db.NamespaceBlockHeaders, nil, func(_, value []byte) error {
		header, err := types.DecodeBlockHeader(value)
		if err != nil {
			return err
		}
		headers = append(headers, header)
		return nil
	})
	return headers, err
}

// HeadersWithClientNotes lists the retained headers flagged as anchoring
// client notes.
func (s *Store) HeadersWithClientNotes() ([]*types.BlockHeader, error) {
	headers, err := s.BlockHeaders()
	if err != nil {
		return nil, err
	}
	var flagged []*types.BlockHeader
	for _, header := range headers {
		if header.HasClientNotes {
			flagged = append(flagged, header)
		}
	}
	return flagged, nil
}

// tags

func (s *Store) NoteTags() ([]*types.NoteTag, error) {
	var tags []*types.NoteTag
	err := s.iteratePrefix(db.NamespaceNoteTags, nil, func(_, value []byte) error {
		tag, err := types.DecodeNoteTag(value)
		if err != nil {
			return err
		}
		tags = append(tags, tag)
		return nil
	})
	return tags, err
}

// scripts

// Script returns a note or transaction script blob by its root digest.
// Scripts are deduplicated across both note kinds and transactions.
func (s *Store) Script(root types.Digest) ([]byte, bool, error) {
	return s.db.Get(db.NamespaceScripts, root.Bytes())
}

func (s *Store) SetScript(root types.Digest, script []byte) error {
	return s.db.Set(db.NamespaceScripts, root.Bytes(), script)
}
