// Package chain maintains the partial view of the block chain: a sparse MMR
// over header commitments plus the retained header records and their
// relevance flags.
package chain

import (
	"errors"
	"fmt"
	"hash"

	"github.com/minio/sha256-simd"

	"github.com/orbita-network/go-rollup-client/log"
	"github.com/orbita-network/go-rollup-client/mmr"
	"github.com/orbita-network/go-rollup-client/store"
	"github.com/orbita-network/go-rollup-client/types"
)

var (
	// ErrUnknownBlock is returned when proving inclusion of a block that was
	// pruned or never retained.
	ErrUnknownBlock = errors.New("block not retained in partial chain")
	// ErrProofVerification is returned when remote-supplied data does not
	// reduce to the locally derived chain state. It aborts the sync round.
	ErrProofVerification = errors.New("proof verification failed")
	// ErrNonContiguous is returned when extending with headers that leave a
	// gap.
	ErrNonContiguous = errors.New("non-contiguous header extension")
)

// Hasher returns the hash used for all partial chain and note tree nodes.
func Hasher() hash.Hash {
	return sha256.New()
}

// Tracker is the per-round working copy of the partial chain. Block numbers
// double as MMR leaf indexes.
type Tracker struct {
	mmr     *mmr.PartialMmr
	headers map[uint64]*types.BlockHeader
	dirty   map[uint64]bool
	logger  *log.Logger
}

// FromStore loads the persisted chain state into a fresh tracker.
func FromStore(s *store.Store) (*Tracker, error) {
	forest, err := s.MmrForest()
	if err != nil {
		return nil, err
	}
	nodes, err := s.MmrNodes()
	if err != nil {
		return nil, err
	}
	partial, err := mmr.Restore(Hasher(), forest, nodes)
	if err != nil {
		return nil, fmt.Errorf("restoring partial chain: %w", err)
	}

	headers, err := s.BlockHeaders()
	if err != nil {
		return nil, err
	}
	tracker := &Tracker{
		mmr:     partial,
		headers: make(map[uint64]*types.BlockHeader, len(headers)),
		dirty:   make(map[uint64]bool),
		logger:  log.NewLogger("chain"),
	}
	for _, header := range headers {
		working := *header
		tracker.headers[header.Number] = &working
	}
	return tracker, nil
}

// Height returns the number of the last appended block, or zero for an
// empty chain.
func (t *Tracker) Height() uint64 {
	leaves := t.mmr.Leaves()
	if leaves == 0 {
		return 0
	}
	return leaves - 1
}

func (t *Tracker) Header(number uint64) (*types.BlockHeader, bool) {
	header, ok := t.headers[number]
	return header, ok
}

// Extend appends the commitments for all blocks up to and including the
// response header, then cross-checks the authority's claimed peaks against
// the locally derived ones. Leading commitments for blocks the chain already
// covers are ignored, per the tolerance rule for over-answering authorities.
func (t *Tracker) Extend(delta []types.Digest, tip *types.BlockHeader, remotePeaks []types.Digest) error {
	leaves := t.mmr.Leaves()
	expected := tip.Number + 1 - leaves
	if uint64(len(delta)) < expected {
		return fmt.Errorf("%w: %d commitments for %d new blocks", ErrNonContiguous, len(delta), expected)
	}
	// the authority may resend commitments we already hold; drop them
	delta = delta[uint64(len(delta))-expected:]

	for _, commitment := range delta {
		t.mmr.Add(commitment)
	}

	if tipCommitment := tip.Commitment(); len(delta) > 0 && delta[len(delta)-1] != tipCommitment {
		return fmt.Errorf("%w: response header does not match the last delta commitment", ErrProofVerification)
	}
	if remotePeaks != nil && !digestsEqual(t.mmr.Peaks(), remotePeaks) {
		return fmt.Errorf("%w: remote peaks diverge from locally derived peaks", ErrProofVerification)
	}

	t.putHeader(tip)
	return nil
}

// PutHeader retains a full header record, e.g. one anchoring a client note.
// The header must match the leaf digest already derived for its height.
func (t *Tracker) PutHeader(header *types.BlockHeader) error {
	leaf, ok := t.mmr.Leaf(header.Number)
	if !ok {
		return ErrUnknownBlock
	}
	if leaf != header.Commitment() {
		return fmt.Errorf("%w: header %d does not match its chain leaf", ErrProofVerification, header.Number)
	}
	t.putHeader(header)
	return nil
}

func (t *Tracker) putHeader(header *types.BlockHeader) {
	if existing, ok := t.headers[header.Number]; ok && existing.HasClientNotes {
		header.HasClientNotes = true
	}
	working := *header
	t.headers[header.Number] = &working
	t.dirty[header.Number] = true
}

// MarkRelevant flips the has-client-notes flag so the pruning policy retains
// the header.
func (t *Tracker) MarkRelevant(number uint64) error {
	header, ok := t.headers[number]
	if !ok {
		return ErrUnknownBlock
	}
	if !header.HasClientNotes {
		header.HasClientNotes = true
		t.dirty[number] = true
	}
	return nil
}

// ProveInclusion builds the chain authentication path for a retained block.
func (t *Tracker) ProveInclusion(number uint64) (*mmr.MerklePath, error) {
	path, err := t.mmr.ProveInclusion(number)
	if err != nil {
		if err == mmr.ErrMissingNode || err == mmr.ErrLeafOutOfRange {
			return nil, ErrUnknownBlock
		}
		return nil, err
	}
	return path, nil
}

// VerifyBlockInclusion checks a header commitment against the partial chain.
func (t *Tracker) VerifyBlockInclusion(header *types.BlockHeader, path *mmr.MerklePath) bool {
	return t.mmr.VerifyInclusion(header.Commitment(), path)
}

// VerifyNoteInclusion checks a note's path against the note root of its
// block header. The header must be retained.
func (t *Tracker) VerifyNoteInclusion(commitment types.Digest, blockNum, noteIndex uint64, path []types.Digest) error {
	header, ok := t.headers[blockNum]
	if !ok {
		return ErrUnknownBlock
	}
	if !mmr.VerifyPath(Hasher(), commitment, noteIndex, path, header.NoteRoot) {
		return fmt.Errorf("%w: note path does not reduce to the block note root", ErrProofVerification)
	}
	return nil
}

// Prune drops headers and MMR nodes no longer needed: a header survives when
// it is genesis, the current checkpoint, or flagged relevant with a live
// anchored note. Returns the pruned header numbers and node positions.
func (t *Tracker) Prune(checkpoint uint64, liveAnchors map[uint64]bool) ([]uint64, []uint64) {
	var retainLeaves []uint64
	var prunedHeaders []uint64
	for number, header := range t.headers {
		keep := number == 0 || number == checkpoint ||
			(header.HasClientNotes && liveAnchors[number]) || number > checkpoint
		if keep {
			retainLeaves = append(retainLeaves, number)
			continue
		}
		delete(t.headers, number)
		delete(t.dirty, number)
		prunedHeaders = append(prunedHeaders, number)
	}
	// genesis and checkpoint leaves stay provable even without header records
	retainLeaves = append(retainLeaves, 0, checkpoint)

	prunedNodes := t.mmr.Prune(retainLeaves)
	if len(prunedHeaders) > 0 || len(prunedNodes) > 0 {
		t.logger.Debug().Int("headers", len(prunedHeaders)).Int("nodes", len(prunedNodes)).
			Msg("pruned partial chain state")
	}
	return prunedHeaders, prunedNodes
}

// ChangedHeaders returns the header records written this round.
func (t *Tracker) ChangedHeaders() []*types.BlockHeader {
	var changed []*types.BlockHeader
	for number := range t.dirty {
		changed = append(changed, t.headers[number])
	}
	return changed
}

// Forest returns the leaf count and node set for persisting.
func (t *Tracker) Forest() (uint64, map[uint64]types.Digest) {
	return t.mmr.Leaves(), t.mmr.Nodes()
}

// Peaks returns the current locally derived peak set.
func (t *Tracker) Peaks() []types.Digest {
	return t.mmr.Peaks()
}

func digestsEqual(a, b []types.Digest) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
