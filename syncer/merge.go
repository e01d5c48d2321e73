package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/orbita-network/go-rollup-client/chain"
	"github.com/orbita-network/go-rollup-client/notes"
	"github.com/orbita-network/go-rollup-client/rpc"
	"github.com/orbita-network/go-rollup-client/store"
	"github.com/orbita-network/go-rollup-client/transactions"
	"github.com/orbita-network/go-rollup-client/types"
)

// fetchResult is everything the merge phase needs, gathered up front so the
// merge itself never touches the network.
type fetchResult struct {
	fromHeight       uint64
	tags             map[uint32]bool
	resp             *rpc.StateSyncInfo
	nullifierUpdates []*rpc.NullifierUpdate
	// noteDetails resolves public notes the store does not know yet.
	noteDetails map[types.NoteID]*types.NoteDetails
}

func (e *Engine) fetch(ctx context.Context) (*fetchResult, error) {
	fromHeight, err := e.store.SyncHeight()
	if err != nil {
		return nil, err
	}

	tagRecords, err := e.store.NoteTags()
	if err != nil {
		return nil, err
	}
	tags := make(map[uint32]bool, len(tagRecords))
	var tagList []uint32
	for _, record := range tagRecords {
		if !tags[record.Tag] {
			tags[record.Tag] = true
			tagList = append(tagList, record.Tag)
		}
	}

	nullifiers, err := e.store.Nullifiers()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(nullifiers))
	var prefixes [][]byte
	for _, nullifier := range nullifiers {
		prefix := nullifier.Prefix()
		if !seen[string(prefix)] {
			seen[string(prefix)] = true
			prefixes = append(prefixes, prefix)
		}
	}

	resp, err := e.client.SyncState(ctx, fromHeight, tagList, prefixes)
	if err != nil {
		return nil, fmt.Errorf("sync state request: %w", err)
	}
	nullifierUpdates, err := e.client.CheckNullifiers(ctx, prefixes, fromHeight)
	if err != nil {
		return nil, fmt.Errorf("nullifier check request: %w", err)
	}

	// resolve public notes the response references only by id
	var unresolved []types.NoteID
	for _, committed := range resp.NoteInclusions {
		if committed.Details != nil {
			continue
		}
		if _, err := e.store.InputNote(committed.NoteID); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNoteNotFound) {
			return nil, err
		}
		if _, err := e.store.OutputNote(committed.NoteID); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNoteNotFound) {
			return nil, err
		}
		unresolved = append(unresolved, committed.NoteID)
	}
	noteDetails := make(map[types.NoteID]*types.NoteDetails)
	if len(unresolved) > 0 {
		resolved, err := e.client.GetNotesByID(ctx, unresolved)
		if err != nil {
			return nil, fmt.Errorf("note details request: %w", err)
		}
		for _, details := range resolved {
			noteDetails[details.ID] = details
		}
	}

	return &fetchResult{
		fromHeight:       fromHeight,
		tags:             tags,
		resp:             resp,
		nullifierUpdates: nullifierUpdates,
		noteDetails:      noteDetails,
	}, nil
}

// merge verifies a fetched response against local state and builds the
// round's atomic store update. Any verification failure aborts the round
// before anything is written.
func (e *Engine) merge(fetched *fetchResult) (*Summary, error) {
	resp := fetched.resp
	if resp.BlockHeader == nil {
		return nil, fmt.Errorf("%w: no block header", ErrMalformedResponse)
	}
	newHeight := resp.BlockHeader.Number
	if newHeight < fetched.fromHeight {
		return nil, fmt.Errorf("%w: response height %d below local height %d",
			ErrStaleSync, newHeight, fetched.fromHeight)
	}

	chainTracker, err := chain.FromStore(e.store)
	if err != nil {
		return nil, err
	}
	summary := &Summary{BlockNum: newHeight, ChainTip: resp.ChainTip}
	if leaves, _ := chainTracker.Forest(); newHeight == fetched.fromHeight && leaves > newHeight {
		// nothing new since the last round
		return summary, nil
	}

	if err := chainTracker.Extend(resp.MmrDelta, resp.BlockHeader, resp.Peaks); err != nil {
		return nil, err
	}
	for _, header := range resp.Headers {
		if err := chainTracker.PutHeader(header); err != nil {
			if errors.Is(err, chain.ErrUnknownBlock) {
				// header for a block beyond this response's coverage
				e.logger.Debug().Uint64("block", header.Number).Msg("ignoring header outside the synced range")
				continue
			}
			return nil, err
		}
	}

	noteTracker, nullifierIndex, err := e.loadNotes()
	if err != nil {
		return nil, err
	}
	txTracker, err := transactions.NewTracker(e.store)
	if err != nil {
		return nil, err
	}

	if err := e.mergeNoteInclusions(fetched, chainTracker, noteTracker, summary); err != nil {
		return nil, err
	}
	snapshots, err := e.mergeTransactionInclusions(resp, noteTracker, txTracker, summary)
	if err != nil {
		return nil, err
	}

	var seeds []*types.TransactionRecord
	conflictSeeds, err := e.mergeNullifierUpdates(fetched.nullifierUpdates, noteTracker, nullifierIndex, txTracker, summary)
	if err != nil {
		return nil, err
	}
	seeds = append(seeds, conflictSeeds...)

	staleSeeds, err := e.mergeAccountCommitments(resp.AccountCommitments, snapshots, txTracker, summary)
	if err != nil {
		return nil, err
	}
	seeds = append(seeds, staleSeeds...)

	seeds = append(seeds, txTracker.DiscardExpired(newHeight)...)

	cascaded, err := txTracker.Cascade(seeds)
	if err != nil {
		return nil, err
	}
	discarded := append(seeds, cascaded...)
	for _, record := range discarded {
		summary.DiscardedTransactions = append(summary.DiscardedTransactions, record.ID)
		for _, noteID := range record.InputNotes {
			input, ok := noteTracker.Input(noteID)
			if !ok || input.ConsumerTx != record.ID {
				continue
			}
			if err := noteTracker.RevertProcessing(noteID); err != nil {
				return nil, err
			}
		}
	}

	prunedHeaders, prunedNodes := chainTracker.Prune(newHeight, noteTracker.NonTerminalAnchors())

	forest, nodes := chainTracker.Forest()
	update := &store.SyncUpdate{
		BlockNum:       newHeight,
		ChainTip:       resp.ChainTip,
		MmrForest:      forest,
		MmrNodes:       nodes,
		PrunedMmrNodes: prunedNodes,
		Headers:        chainTracker.ChangedHeaders(),
		PrunedHeaders:  prunedHeaders,
		InputNotes:     noteTracker.ChangedInputs(),
		OutputNotes:    noteTracker.ChangedOutputs(),
		Transactions:   txTracker.Changed(),
	}
	for _, snapshot := range snapshots {
		update.Snapshots = append(update.Snapshots, snapshot)
	}

	if err := e.store.ApplySyncUpdate(update); err != nil {
		return nil, err
	}
	return summary, nil
}

// loadNotes seeds a round tracker with every stored input and output note
// and builds the nullifier lookup for conflict detection. Terminal notes are
// loaded too so replayed reports about them are recognized and skipped.
func (e *Engine) loadNotes() (*notes.Tracker, map[types.Nullifier]types.NoteID, error) {
	tracker := notes.NewTracker()
	nullifierIndex := make(map[types.Nullifier]types.NoteID)

	states := []types.NoteState{
		types.NoteStateExpected,
		types.NoteStateUnverified,
		types.NoteStateCommitted,
		types.NoteStateProcessingAuthenticated,
		types.NoteStateProcessingUnauthenticated,
		types.NoteStateConsumed,
		types.NoteStateInvalid,
	}
	for _, state := range states {
		records, err := e.store.InputNotesByState(state)
		if err != nil {
			return nil, nil, err
		}
		for _, record := range records {
			tracker.Load(record)
			nullifierIndex[record.Nullifier] = record.ID
		}
	}

	outputs, err := e.store.OutputNotes()
	if err != nil {
		return nil, nil, err
	}
	for _, record := range outputs {
		tracker.LoadOutput(record)
	}
	return tracker, nullifierIndex, nil
}

// mergeNoteInclusions verifies every reported note inclusion against the
// block note roots and advances the matching note records. Unknown notes are
// screened and adopted when a tracked account can consume them or a tracked
// tag matches.
func (e *Engine) mergeNoteInclusions(fetched *fetchResult, chainTracker *chain.Tracker,
	noteTracker *notes.Tracker, summary *Summary) error {
	for _, committed := range fetched.resp.NoteInclusions {
		_, input := noteTracker.Input(committed.NoteID)
		_, output := noteTracker.Output(committed.NoteID)
		if !input && !output {
			details := committed.Details
			if details == nil {
				details = fetched.noteDetails[committed.NoteID]
			}
			if details == nil {
				// private note; without details there is nothing to track
				continue
			}
			relevant, err := e.screener.CheckRelevance(details)
			if err != nil {
				return err
			}
			if len(relevant) == 0 && !fetched.tags[committed.Metadata.Tag] {
				continue
			}
			noteTracker.Insert(notes.NewExpectedInput(details))
			summary.ReceivedNotes = append(summary.ReceivedNotes, committed.NoteID)
			input = true
		}

		if input {
			record, _ := noteTracker.Input(committed.NoteID)
			if record.State.IsTerminal() {
				continue
			}
			commitment := record.Details.Commitment()
			if err := chainTracker.VerifyNoteInclusion(commitment, committed.BlockNum,
				committed.NoteIndex, committed.InclusionPath); err != nil {
				return fmt.Errorf("note %s: %w", committed.NoteID.Hex(), err)
			}

			switch record.State {
			case types.NoteStateExpected:
				if err := noteTracker.ApplyEvent(committed.NoteID, notes.Event{Kind: notes.EventSeenUnauthenticated}); err != nil {
					return err
				}
				fallthrough
			case types.NoteStateUnverified:
				if err := noteTracker.ApplyEvent(committed.NoteID, notes.Event{Kind: notes.EventInclusionProved}); err != nil {
					return err
				}
				summary.CommittedNotes = append(summary.CommittedNotes, committed.NoteID)
			}
			noteTracker.SetInclusion(committed.NoteID, committed.BlockNum)
			if err := chainTracker.MarkRelevant(committed.BlockNum); err != nil {
				return err
			}
		}

		if output {
			outRecord, _ := noteTracker.Output(committed.NoteID)
			if err := chainTracker.VerifyNoteInclusion(outRecord.RecipientDigest, committed.BlockNum,
				committed.NoteIndex, committed.InclusionPath); err == nil {
				noteTracker.CommitOutput(committed.NoteID)
				if err := chainTracker.MarkRelevant(committed.BlockNum); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// mergeTransactionInclusions commits pending transactions observed on chain,
// consumes their input notes and applies their account deltas. Deltas within
// one round chain onto each other through the snapshots map.
func (e *Engine) mergeTransactionInclusions(resp *rpc.StateSyncInfo, noteTracker *notes.Tracker,
	txTracker *transactions.Tracker, summary *Summary) (map[types.AccountID]*types.AccountSnapshot, error) {
	snapshots := make(map[types.AccountID]*types.AccountSnapshot)

	for _, inclusion := range resp.TransactionInclusions {
		record, err := txTracker.Commit(inclusion.TransactionID, inclusion.BlockNum)
		if err != nil {
			return nil, err
		}
		if record == nil {
			// a transaction we never submitted, or one already settled
			continue
		}
		summary.CommittedTransactions = append(summary.CommittedTransactions, record.ID)

		for _, noteID := range record.InputNotes {
			input, ok := noteTracker.Input(noteID)
			if !ok || !input.State.IsProcessing() {
				continue
			}
			if err := noteTracker.ApplyEvent(noteID, notes.Event{Kind: notes.EventConsumingTxCommitted}); err != nil {
				return nil, err
			}
			noteTracker.SetConsumer(noteID, record.ID, inclusion.BlockNum)
			summary.ConsumedNotes = append(summary.ConsumedNotes, noteID)
		}
		for _, noteID := range record.OutputNotes {
			noteTracker.CommitOutput(noteID)
		}

		current, ok := snapshots[record.AccountID]
		if !ok {
			current, err = e.store.AccountSnapshot(record.AccountID)
			if err != nil {
				return nil, err
			}
		}
		next, err := e.accounts.ApplyDelta(current, &record.Delta)
		if err != nil {
			if errors.Is(err, types.ErrAccountLocked) {
				e.logger.Warn().Str("tx", record.ID.Hex()).Str("account", record.AccountID.Hex()).
					Msg("committed transaction on a locked account, delta not applied")
				continue
			}
			return nil, err
		}
		snapshots[record.AccountID] = next
		summary.UpdatedAccounts = append(summary.UpdatedAccounts, record.AccountID)
	}
	return snapshots, nil
}

// mergeNullifierUpdates marks notes consumed by foreign transactions as
// invalid and discards the local pending transactions that depended on them.
// The returned records seed the discard cascade.
func (e *Engine) mergeNullifierUpdates(updates []*rpc.NullifierUpdate, noteTracker *notes.Tracker,
	nullifierIndex map[types.Nullifier]types.NoteID, txTracker *transactions.Tracker,
	summary *Summary) ([]*types.TransactionRecord, error) {
	var seeds []*types.TransactionRecord

	for _, update := range updates {
		noteID, ok := nullifierIndex[update.Nullifier]
		if !ok {
			continue
		}
		record, ok := noteTracker.Input(noteID)
		if !ok || record.State.IsTerminal() {
			continue
		}
		if e.ownTransaction(update.TransactionID, txTracker) {
			// consumption by our own transaction; the inclusion report
			// settles the note
			continue
		}

		if err := noteTracker.ApplyEvent(noteID, notes.Event{Kind: notes.EventConflictDetected}); err != nil {
			return nil, err
		}
		noteTracker.SetConsumer(noteID, update.TransactionID, update.BlockNum)
		summary.InvalidNotes = append(summary.InvalidNotes, noteID)
		e.logger.Warn().Str("note", noteID.Hex()).Uint64("block", update.BlockNum).
			Msg("note consumed by a foreign transaction")

		dependents, err := e.store.DependentTransactions(noteID)
		if err != nil {
			return nil, err
		}
		for _, txID := range dependents {
			if discarded := txTracker.Discard(txID, types.DiscardCauseInvalidated); discarded != nil {
				seeds = append(seeds, discarded)
			}
		}
	}
	return seeds, nil
}

func (e *Engine) ownTransaction(id types.TransactionID, txTracker *transactions.Tracker) bool {
	if _, ok := txTracker.Pending(id); ok {
		return true
	}
	_, err := e.store.Transaction(id)
	return err == nil
}

// mergeAccountCommitments locks accounts whose reported on-chain commitment
// diverges from the local snapshot and discards their pending transactions
// as stale.
func (e *Engine) mergeAccountCommitments(commitments []rpc.AccountCommitment,
	snapshots map[types.AccountID]*types.AccountSnapshot, txTracker *transactions.Tracker,
	summary *Summary) ([]*types.TransactionRecord, error) {
	var seeds []*types.TransactionRecord

	for _, reported := range commitments {
		current, ok := snapshots[reported.AccountID]
		if !ok {
			var err error
			current, err = e.store.AccountSnapshot(reported.AccountID)
			if errors.Is(err, store.ErrAccountNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
		}
		if current.Locked || current.Commitment == reported.Commitment {
			continue
		}

		var locked *types.AccountSnapshot
		if ok {
			working := *current
			working.Locked = true
			locked = &working
			e.logger.Warn().Str("account", reported.AccountID.Hex()).Uint64("nonce", current.Nonce).
				Msg("account commitment diverged from chain, locking")
		} else {
			var err error
			locked, err = e.accounts.Lock(reported.AccountID)
			if err != nil {
				return nil, err
			}
		}
		snapshots[reported.AccountID] = locked
		summary.LockedAccounts = append(summary.LockedAccounts, reported.AccountID)

		for _, pending := range txTracker.PendingRecords() {
			if pending.AccountID != reported.AccountID {
				continue
			}
			if discarded := txTracker.Discard(pending.ID, types.DiscardCauseStale); discarded != nil {
				seeds = append(seeds, discarded)
			}
		}
	}
	return seeds, nil
}
