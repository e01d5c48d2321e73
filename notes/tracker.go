package notes

import (
	"github.com/orbita-network/go-rollup-client/types"
)

// Tracker aggregates note record changes within one sync round's merge
// phase. It is created per round from store state and discarded after the
// round's update commits; nothing is cached across rounds.
type Tracker struct {
	inputs   map[types.NoteID]*types.InputNoteRecord
	outputs  map[types.NoteID]*types.OutputNoteRecord
	dirty    map[types.NoteID]bool
	dirtyOut map[types.NoteID]bool
}

func NewTracker() *Tracker {
	return &Tracker{
		inputs:   make(map[types.NoteID]*types.InputNoteRecord),
		outputs:  make(map[types.NoteID]*types.OutputNoteRecord),
		dirty:    make(map[types.NoteID]bool),
		dirtyOut: make(map[types.NoteID]bool),
	}
}

// Load seeds the tracker with a stored record without marking it changed.
func (t *Tracker) Load(record *types.InputNoteRecord) {
	working := *record
	t.inputs[record.ID] = &working
}

func (t *Tracker) LoadOutput(record *types.OutputNoteRecord) {
	working := *record
	t.outputs[record.ID] = &working
}

// Insert adds a freshly discovered note to the round's working set.
func (t *Tracker) Insert(record *types.InputNoteRecord) {
	t.inputs[record.ID] = record
	t.dirty[record.ID] = true
}

func (t *Tracker) Input(id types.NoteID) (*types.InputNoteRecord, bool) {
	record, ok := t.inputs[id]
	return record, ok
}

func (t *Tracker) Output(id types.NoteID) (*types.OutputNoteRecord, bool) {
	record, ok := t.outputs[id]
	return record, ok
}

// ApplyEvent advances a tracked note's state machine.
func (t *Tracker) ApplyEvent(id types.NoteID, event Event) error {
	record, ok := t.inputs[id]
	if !ok {
		return ErrUntrackedNote
	}
	next, err := NextState(record.State, event)
	if err != nil {
		return err
	}
	if next == record.State {
		return nil
	}
	record.State = next
	t.dirty[id] = true
	return nil
}

// RevertProcessing rolls a note back out of a processing state after its
// consuming transaction was discarded. Notes that were consumed without ever
// being observed on chain fall back to Expected, everything else returns to
// Committed.
func (t *Tracker) RevertProcessing(id types.NoteID) error {
	record, ok := t.inputs[id]
	if !ok {
		return ErrUntrackedNote
	}
	if !record.State.IsProcessing() {
		return nil
	}
	if record.State == types.NoteStateProcessingUnauthenticated && record.InclusionBlock == 0 {
		record.State = types.NoteStateExpected
	} else {
		next, err := NextState(record.State, Event{Kind: EventConsumingTxDiscarded})
		if err != nil {
			return err
		}
		record.State = next
	}
	record.ConsumerTx = types.TransactionID{}
	t.dirty[id] = true
	return nil
}

// CommitOutput flips an output note record to Committed.
func (t *Tracker) CommitOutput(id types.NoteID) {
	record, ok := t.outputs[id]
	if !ok {
		return
	}
	if record.State != types.OutputNoteStateCommitted {
		record.State = types.OutputNoteStateCommitted
		t.dirtyOut[id] = true
	}
}

// SetInclusion records where a note landed on chain.
func (t *Tracker) SetInclusion(id types.NoteID, blockNum uint64) {
	if record, ok := t.inputs[id]; ok && record.InclusionBlock != blockNum {
		record.InclusionBlock = blockNum
		t.dirty[id] = true
	}
}

// SetConsumer records the transaction that consumed or nullified a note.
func (t *Tracker) SetConsumer(id types.NoteID, tx types.TransactionID, blockNum uint64) {
	record, ok := t.inputs[id]
	if !ok {
		return
	}
	record.ConsumerTx = tx
	record.NullifierBlock = blockNum
	t.dirty[id] = true
}

// ChangedInputs returns the input note records mutated this round widened to
// one final record per note, ready for the atomic store update.
func (t *Tracker) ChangedInputs() []*types.InputNoteRecord {
	var changed []*types.InputNoteRecord
	for id := range t.dirty {
		changed = append(changed, t.inputs[id])
	}
	return changed
}

func (t *Tracker) ChangedOutputs() []*types.OutputNoteRecord {
	var changed []*types.OutputNoteRecord
	for id := range t.dirtyOut {
		changed = append(changed, t.outputs[id])
	}
	return changed
}

// NonTerminalAnchors returns the inclusion heights pinned by notes outside a
// terminal state. Headers at these heights must survive pruning so the notes
// stay provable.
func (t *Tracker) NonTerminalAnchors() map[uint64]bool {
	anchors := make(map[uint64]bool)
	for _, record := range t.inputs {
		if !record.State.IsTerminal() && record.State != types.NoteStateExpected {
			anchors[record.InclusionBlock] = true
		}
	}
	return anchors
}

// NewExpectedInput builds an input note record for a note the client
// anticipates receiving.
func NewExpectedInput(details *types.NoteDetails) *types.InputNoteRecord {
	return &types.InputNoteRecord{
		ID:        details.ID,
		Details:   *details,
		Nullifier: details.ComputeNullifier(),
		State:     types.NoteStateExpected,
	}
}
