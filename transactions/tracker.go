// Package transactions owns the transaction lifecycle records and the
// discard cascade that propagates invalidation to dependent transactions.
package transactions

import (
	"fmt"

	"github.com/orbita-network/go-rollup-client/log"
	"github.com/orbita-network/go-rollup-client/store"
	"github.com/orbita-network/go-rollup-client/types"
)

// Tracker operates on the pending transaction set within one sync round.
// Records are loaded from the store at round start and the changed subset is
// handed back for the round's atomic commit.
type Tracker struct {
	store   *store.Store
	logger  *log.Logger
	pending map[types.TransactionID]*types.TransactionRecord
	dirty   map[types.TransactionID]bool
}

func NewTracker(s *store.Store) (*Tracker, error) {
	records, err := s.TransactionsByStatus(types.TxStatusPending)
	if err != nil {
		return nil, err
	}
	tracker := &Tracker{
		store:   s,
		logger:  log.NewLogger("transactions"),
		pending: make(map[types.TransactionID]*types.TransactionRecord, len(records)),
		dirty:   make(map[types.TransactionID]bool),
	}
	for _, record := range records {
		tracker.pending[record.ID] = record
	}
	return tracker, nil
}

func (t *Tracker) Pending(id types.TransactionID) (*types.TransactionRecord, bool) {
	record, ok := t.pending[id]
	return record, ok
}

// PendingRecords returns the transactions still pending in this round.
func (t *Tracker) PendingRecords() []*types.TransactionRecord {
	var records []*types.TransactionRecord
	for _, record := range t.pending {
		if record.Status == types.TxStatusPending {
			records = append(records, record)
		}
	}
	return records
}

// Commit marks a pending transaction as included at the given block.
// Inclusion past the expiration height is rejected, matching what the chain
// itself enforces.
func (t *Tracker) Commit(id types.TransactionID, blockNum uint64) (*types.TransactionRecord, error) {
	record, ok := t.pending[id]
	if !ok || record.Status != types.TxStatusPending {
		return nil, nil
	}
	if record.ExpirationHeight > 0 && blockNum > record.ExpirationHeight {
		return nil, fmt.Errorf("transaction %s reported included at %d past expiration %d",
			id.Hex(), blockNum, record.ExpirationHeight)
	}
	record.Status = types.TxStatusCommitted
	record.BlockNum = blockNum
	t.dirty[id] = true
	return record, nil
}

// Discard marks a pending transaction with the given cause and returns it.
// Discarded records are never deleted, so the cause stays inspectable.
func (t *Tracker) Discard(id types.TransactionID, cause types.DiscardCause) *types.TransactionRecord {
	record, ok := t.pending[id]
	if !ok || record.Status != types.TxStatusPending {
		return nil
	}
	record.Status = types.TxStatusDiscarded
	record.Cause = cause
	t.dirty[id] = true
	t.logger.Debug().Str("tx", id.Hex()).Str("cause", cause.String()).Msg("transaction discarded")
	return record
}

// DiscardExpired discards every pending transaction whose expiration height
// passed without an inclusion report.
func (t *Tracker) DiscardExpired(height uint64) []*types.TransactionRecord {
	var discarded []*types.TransactionRecord
	for id, record := range t.pending {
		if record.Expired(height) {
			discarded = append(discarded, t.Discard(id, types.DiscardCauseExpired))
		}
	}
	return discarded
}

// Cascade discards every pending transaction that transitively depends on an
// output note of one of the seed transactions. Dependents are discovered
// through the note dependency index, so one pass over the affected set
// reaches the fixed point.
func (t *Tracker) Cascade(seeds []*types.TransactionRecord) ([]*types.TransactionRecord, error) {
	var cascaded []*types.TransactionRecord
	worklist := append([]*types.TransactionRecord(nil), seeds...)

	for len(worklist) > 0 {
		record := worklist[0]
		worklist = worklist[1:]

		for _, outputNote := range record.OutputNotes {
			dependents, err := t.store.DependentTransactions(outputNote)
			if err != nil {
				return nil, err
			}
			for _, dependentID := range dependents {
				dependent := t.Discard(dependentID, types.DiscardCauseDependency)
				if dependent == nil {
					continue
				}
				cascaded = append(cascaded, dependent)
				worklist = append(worklist, dependent)
			}
		}
	}
	return cascaded, nil
}

// Changed returns the records mutated this round.
func (t *Tracker) Changed() []*types.TransactionRecord {
	var changed []*types.TransactionRecord
	for id := range t.dirty {
		changed = append(changed, t.pending[id])
	}
	return changed
}
