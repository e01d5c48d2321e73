// Package rpc defines the contract with the remote chain authority. The
// transport itself is out of scope; the sync engine consumes this interface
// and treats every answer as untrusted until it verified the proofs against
// its own partial chain.
package rpc

import (
	"context"

	"github.com/orbita-network/go-rollup-client/types"
)

// NodeClient is the remote chain authority.
type NodeClient interface {
	// SyncState returns the chain state relevant to the given tags and
	// nullifier prefixes since the given height. The response may contain
	// data the client did not ask about; the engine ignores it.
	SyncState(ctx context.Context, fromHeight uint64, tags []uint32, nullifierPrefixes [][]byte) (*StateSyncInfo, error)
	// GetNotesByID fetches full note data for public notes.
	GetNotesByID(ctx context.Context, ids []types.NoteID) ([]*types.NoteDetails, error)
	// CheckNullifiers returns the nullifiers consumed since the given height
	// that match one of the prefixes.
	CheckNullifiers(ctx context.Context, prefixes [][]byte, fromHeight uint64) ([]*NullifierUpdate, error)
}

// StateSyncInfo is one sync response, already decoded into domain types.
type StateSyncInfo struct {
	// ChainTip is the authority's best block at response time.
	ChainTip uint64
	// BlockHeader is the latest header covered by this response; its number
	// becomes the new sync height after a successful merge.
	BlockHeader *types.BlockHeader
	// MmrDelta carries the header commitments for all blocks between the
	// request height and the response header, oldest first. The engine
	// re-derives peaks locally from these; it never adopts remote peaks.
	MmrDelta []types.Digest
	// Peaks is the authority's claim of the resulting peak set, cross
	// checked against the locally derived peaks.
	Peaks []types.Digest
	// Headers holds the full headers for blocks carrying relevant notes.
	Headers []*types.BlockHeader
	// AccountCommitments reports the current commitment per requested
	// account.
	AccountCommitments []AccountCommitment
	// NoteInclusions lists the notes matching the requested tags.
	NoteInclusions []*CommittedNote
	// TransactionInclusions lists transactions of tracked accounts included
	// in the covered range.
	TransactionInclusions []TransactionInclusion
}

// AccountCommitment pairs an account with its on-chain state commitment.
type AccountCommitment struct {
	AccountID  types.AccountID
	Commitment types.Digest
}

// CommittedNote reports one note included in a block, with the merkle path
// from the note's commitment to the block's note root.
type CommittedNote struct {
	NoteID        types.NoteID
	BlockNum      uint64
	NoteIndex     uint64
	InclusionPath []types.Digest
	Metadata      types.NoteMetadata
	// Details is set for public notes; private notes only reveal metadata.
	Details *types.NoteDetails
}

// TransactionInclusion reports a transaction observed on chain.
type TransactionInclusion struct {
	TransactionID types.TransactionID
	AccountID     types.AccountID
	BlockNum      uint64
}

// NullifierUpdate reports a nullifier consumed on chain.
type NullifierUpdate struct {
	Nullifier     types.Nullifier
	BlockNum      uint64
	TransactionID types.TransactionID
}
