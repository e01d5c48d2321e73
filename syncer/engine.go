// Package syncer drives the reconciliation loop: fetch the chain state
// relevant to the client's tracked accounts and notes from the remote
// authority, verify it against the locally maintained partial chain, and
// fold the verified changes into the store in one atomic update.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/orbita-network/go-rollup-client/accounts"
	"github.com/orbita-network/go-rollup-client/log"
	"github.com/orbita-network/go-rollup-client/notes"
	"github.com/orbita-network/go-rollup-client/rpc"
	"github.com/orbita-network/go-rollup-client/screener"
	"github.com/orbita-network/go-rollup-client/store"
	"github.com/orbita-network/go-rollup-client/types"
)

var (
	// ErrStaleSync is returned when a sync response would move the sync
	// height backwards. The local height only ever advances.
	ErrStaleSync = errors.New("sync response older than local state")
	// ErrMalformedResponse is returned when the authority's answer is
	// structurally unusable. Nothing from such a response is merged.
	ErrMalformedResponse = errors.New("malformed sync response")
)

// Engine owns one client store and reconciles it against a remote chain
// authority. All writes to the store go through the engine, so a single
// round lock is enough to sequence sync rounds and local submissions.
type Engine struct {
	store    *store.Store
	client   rpc.NodeClient
	screener screener.Screener
	accounts *accounts.Tracker
	logger   *log.Logger

	roundLock sync.Mutex
}

func NewEngine(s *store.Store, client rpc.NodeClient, sc screener.Screener) *Engine {
	if sc == nil {
		sc = screener.NewDefaultScreener(s)
	}
	return &Engine{
		store:    s,
		client:   client,
		screener: sc,
		accounts: accounts.NewTracker(s),
		logger:   log.NewLogger("syncer"),
	}
}

// Summary reports what one sync round changed.
type Summary struct {
	// BlockNum is the sync height after the round.
	BlockNum uint64
	// ChainTip is the authority's best block at response time.
	ChainTip uint64

	ReceivedNotes         []types.NoteID
	CommittedNotes        []types.NoteID
	ConsumedNotes         []types.NoteID
	InvalidNotes          []types.NoteID
	UpdatedAccounts       []types.AccountID
	LockedAccounts        []types.AccountID
	CommittedTransactions []types.TransactionID
	DiscardedTransactions []types.TransactionID
}

// SyncRound performs one fetch-then-merge cycle. The fetch phase is
// cancellable through ctx and has no side effects; once the merge phase
// starts the round runs to completion and commits atomically, so a crash or
// cancellation never leaves partial state behind.
func (e *Engine) SyncRound(ctx context.Context) (*Summary, error) {
	e.roundLock.Lock()
	defer e.roundLock.Unlock()

	fetched, err := e.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	summary, err := e.merge(fetched)
	if err != nil {
		return nil, err
	}
	e.logger.Info().Uint64("height", summary.BlockNum).Uint64("tip", summary.ChainTip).
		Int("receivedNotes", len(summary.ReceivedNotes)).
		Int("committedTxs", len(summary.CommittedTransactions)).
		Int("discardedTxs", len(summary.DiscardedTransactions)).
		Msg("sync round merged")
	return summary, nil
}

// SyncToTip runs sync rounds until the sync height reaches the chain tip
// reported by the last round, returning the final round's summary.
func (e *Engine) SyncToTip(ctx context.Context) (*Summary, error) {
	var last *Summary
	for {
		summary, err := e.SyncRound(ctx)
		if err != nil {
			return last, err
		}
		if last != nil && summary.BlockNum <= last.BlockNum {
			return summary, nil
		}
		last = summary
		if summary.BlockNum >= summary.ChainTip {
			return summary, nil
		}
	}
}

// SubmitTransaction records a locally proven transaction as pending and
// moves its input notes into the matching processing state. Output notes the
// client itself can consume are tracked as expected input notes, with a tag
// added so following sync rounds pick up their inclusion.
func (e *Engine) SubmitTransaction(record *types.TransactionRecord, createdNotes []*types.NoteDetails) error {
	e.roundLock.Lock()
	defer e.roundLock.Unlock()

	snapshot, err := e.store.AccountSnapshot(record.AccountID)
	if err != nil {
		return err
	}
	if snapshot.Locked {
		return fmt.Errorf("account %s: %w", record.AccountID.Hex(), types.ErrAccountLocked)
	}
	if record.Delta.NonceDelta == 0 {
		return fmt.Errorf("transaction %s does not advance the account nonce", record.ID.Hex())
	}
	record.Status = types.TxStatusPending
	record.Cause = types.DiscardCauseNone

	submission := &store.TransactionSubmission{Record: record}
	for _, noteID := range record.InputNotes {
		input, err := e.store.InputNote(noteID)
		if err != nil {
			return fmt.Errorf("input note %s: %w", noteID.Hex(), err)
		}
		next, err := notes.NextState(input.State, notes.Event{
			Kind:          notes.EventConsumptionStarted,
			Authenticated: record.AuthenticatedInputs,
		})
		if err != nil {
			return fmt.Errorf("input note %s: %w", noteID.Hex(), err)
		}
		input.State = next
		input.ConsumerTx = record.ID
		submission.InputNotes = append(submission.InputNotes, input)
	}

	created := make(map[types.NoteID]bool, len(createdNotes))
	for _, details := range createdNotes {
		created[details.ID] = true
		submission.OutputNotes = append(submission.OutputNotes, &types.OutputNoteRecord{
			ID:              details.ID,
			RecipientDigest: details.Commitment(),
			Assets:          details.Assets,
			Metadata:        details.Metadata,
			State:           types.OutputNoteStateExpected,
		})

		relevant, err := e.screener.CheckRelevance(details)
		if err != nil {
			return err
		}
		if len(relevant) == 0 {
			continue
		}
		submission.NewInputs = append(submission.NewInputs, notes.NewExpectedInput(details))
		submission.Tags = append(submission.Tags, &types.NoteTag{
			Tag:      details.Metadata.Tag,
			Source:   types.TagSourceNote,
			SourceID: types.Digest(details.ID),
		})
	}
	for _, noteID := range record.OutputNotes {
		if !created[noteID] {
			return fmt.Errorf("transaction %s: output note %s without details", record.ID.Hex(), noteID.Hex())
		}
	}

	if err := e.store.ApplyTransactionSubmission(submission); err != nil {
		return err
	}
	e.logger.Info().Str("tx", record.ID.Hex()).Str("account", record.AccountID.Hex()).
		Int("inputs", len(record.InputNotes)).Int("outputs", len(record.OutputNotes)).
		Uint64("expiresAt", record.ExpirationHeight).Msg("transaction submitted")
	return nil
}

// TrackAccount starts tracking an account from the given snapshot, e.g. a
// freshly created account or one imported from another client. A tag for
// the account's broadcast target is added so sync picks up notes sent to it.
func (e *Engine) TrackAccount(snapshot *types.AccountSnapshot, code []byte) error {
	e.roundLock.Lock()
	defer e.roundLock.Unlock()

	if err := snapshot.Validate(); err != nil {
		return err
	}
	if code != nil {
		if err := e.store.SetAccountCode(snapshot.ID, snapshot.CodeRoot, code); err != nil {
			return err
		}
	}
	if err := e.store.UpsertAccountSnapshot(snapshot); err != nil {
		return err
	}
	return e.store.AddNoteTag(&types.NoteTag{
		Tag:      screener.AccountTag(snapshot.ID),
		Source:   types.TagSourceAccount,
		SourceID: types.Digest(snapshot.ID),
	})
}

// ImportNote starts tracking an expected note from its full details, e.g. a
// note received out of band. Sync rounds will watch for its inclusion.
func (e *Engine) ImportNote(details *types.NoteDetails) error {
	e.roundLock.Lock()
	defer e.roundLock.Unlock()

	if err := e.store.InsertInputNote(notes.NewExpectedInput(details)); err != nil {
		return err
	}
	return e.store.AddNoteTag(&types.NoteTag{
		Tag:      details.Metadata.Tag,
		Source:   types.TagSourceNote,
		SourceID: types.Digest(details.ID),
	})
}

// RegisterScript stores a note or transaction script blob content-addressed
// under its root, so records can carry the root alone. Returns the root the
// blob was stored under.
func (e *Engine) RegisterScript(script []byte) (types.Digest, error) {
	root := types.ComputeScriptRoot(script)
	if err := e.store.SetScript(root, script); err != nil {
		return types.Digest{}, err
	}
	return root, nil
}

// ConsumableNote pairs a spendable note with the tracked accounts able to
// consume it.
type ConsumableNote struct {
	Record *types.InputNoteRecord
	By     []types.Consumability
}

// ConsumableNotes screens the committed notes for the given account, or for
// all tracked accounts when the zero account id is passed.
func (e *Engine) ConsumableNotes(account types.AccountID) ([]*ConsumableNote, error) {
	records, err := e.store.InputNotesByState(types.NoteStateCommitted)
	if err != nil {
		return nil, err
	}

	var consumable []*ConsumableNote
	for _, record := range records {
		relevant, err := e.screener.CheckRelevance(&record.Details)
		if err != nil {
			return nil, err
		}
		if account != (types.AccountID{}) {
			filtered := relevant[:0]
			for _, c := range relevant {
				if c.AccountID == account {
					filtered = append(filtered, c)
				}
			}
			relevant = filtered
		}
		if len(relevant) > 0 {
			consumable = append(consumable, &ConsumableNote{Record: record, By: relevant})
		}
	}
	return consumable, nil
}
