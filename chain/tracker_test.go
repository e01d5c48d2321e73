package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbita-network/go-rollup-client/db/memorydb"
	"github.com/orbita-network/go-rollup-client/store"
	"github.com/orbita-network/go-rollup-client/types"
)

func makeHeader(number uint64) *types.BlockHeader {
	return &types.BlockHeader{
		Number:   number,
		Raw:      []byte{byte(number), 0xaa},
		NoteRoot: types.Digest{byte(number), 0x01},
	}
}

// extendTo appends commitments for blocks 0..tip and retains the tip header.
func extendTo(t *testing.T, tracker *Tracker, tip uint64) []*types.BlockHeader {
	leaves, _ := tracker.Forest()
	var delta []types.Digest
	var headers []*types.BlockHeader
	for number := leaves; number <= tip; number++ {
		header := makeHeader(number)
		headers = append(headers, header)
		delta = append(delta, header.Commitment())
	}
	require.NoError(t, tracker.Extend(delta, headers[len(headers)-1], nil))
	return headers
}

func newTestTracker(t *testing.T) (*Tracker, *store.Store) {
	s := store.NewStore(memorydb.NewDB())
	tracker, err := FromStore(s)
	require.NoError(t, err)
	return tracker, s
}

func TestExtendAndProve(t *testing.T) {
	tracker, _ := newTestTracker(t)
	headers := extendTo(t, tracker, 5)
	assert.Equal(t, uint64(5), tracker.Height())

	for _, header := range headers[:len(headers)-1] {
		require.NoError(t, tracker.PutHeader(header))
	}

	path, err := tracker.ProveInclusion(3)
	require.NoError(t, err)
	assert.True(t, tracker.VerifyBlockInclusion(headers[3], path))
	assert.False(t, tracker.VerifyBlockInclusion(headers[4], path))
}

func TestExtendRejectsMismatchedTip(t *testing.T) {
	tracker, _ := newTestTracker(t)

	var delta []types.Digest
	for number := uint64(0); number <= 3; number++ {
		delta = append(delta, makeHeader(number).Commitment())
	}
	tampered := makeHeader(3)
	tampered.Raw = []byte("something else")

	err := tracker.Extend(delta, tampered, nil)
	assert.ErrorIs(t, err, ErrProofVerification)
}

func TestExtendRejectsDivergingPeaks(t *testing.T) {
	tracker, _ := newTestTracker(t)

	var delta []types.Digest
	for number := uint64(0); number <= 3; number++ {
		delta = append(delta, makeHeader(number).Commitment())
	}
	badPeaks := []types.Digest{{0xde, 0xad}}

	err := tracker.Extend(delta, makeHeader(3), badPeaks)
	assert.ErrorIs(t, err, ErrProofVerification)
}

func TestExtendTrimsResentCommitments(t *testing.T) {
	tracker, _ := newTestTracker(t)
	extendTo(t, tracker, 3)

	// the authority resends commitments the chain already covers
	var delta []types.Digest
	for number := uint64(2); number <= 5; number++ {
		delta = append(delta, makeHeader(number).Commitment())
	}
	require.NoError(t, tracker.Extend(delta, makeHeader(5), nil))
	assert.Equal(t, uint64(5), tracker.Height())

	path, err := tracker.ProveInclusion(5)
	require.NoError(t, err)
	assert.True(t, tracker.VerifyBlockInclusion(makeHeader(5), path))
}

func TestPutHeaderRejectsForgery(t *testing.T) {
	tracker, _ := newTestTracker(t)
	extendTo(t, tracker, 5)

	forged := makeHeader(3)
	forged.NoteRoot = types.Digest{0xff}
	assert.ErrorIs(t, tracker.PutHeader(forged), ErrProofVerification)

	assert.ErrorIs(t, tracker.PutHeader(makeHeader(9)), ErrUnknownBlock)
}

func TestRetentionPolicy(t *testing.T) {
	tracker, _ := newTestTracker(t)
	headers := extendTo(t, tracker, 5)
	for _, header := range headers {
		require.NoError(t, tracker.PutHeader(header))
	}
	require.NoError(t, tracker.MarkRelevant(3))

	pruned, _ := tracker.Prune(5, map[uint64]bool{3: true})
	assert.ElementsMatch(t, []uint64{1, 2, 4}, pruned)

	// genesis, the checkpoint and the anchored header survive
	for _, number := range []uint64{0, 3, 5} {
		_, ok := tracker.Header(number)
		assert.True(t, ok, "header %d", number)
	}
	_, ok := tracker.Header(2)
	assert.False(t, ok)

	// the anchored header is still provable after pruning
	path, err := tracker.ProveInclusion(3)
	require.NoError(t, err)
	assert.True(t, tracker.VerifyBlockInclusion(headers[3], path))
}

func TestRelevantHeaderWithoutLiveAnchorIsPruned(t *testing.T) {
	tracker, _ := newTestTracker(t)
	headers := extendTo(t, tracker, 5)
	for _, header := range headers {
		require.NoError(t, tracker.PutHeader(header))
	}
	require.NoError(t, tracker.MarkRelevant(3))

	// the anchoring note reached a terminal state, so block 3 goes too
	pruned, _ := tracker.Prune(5, nil)
	assert.Contains(t, pruned, uint64(3))
}

func TestVerifyNoteInclusion(t *testing.T) {
	leaf0 := types.Digest{0x01}
	leaf1 := types.Digest{0x02}
	root := hashTestPair(leaf0, leaf1)

	tracker, _ := newTestTracker(t)
	header := makeHeader(0)
	header.NoteRoot = root
	require.NoError(t, tracker.Extend([]types.Digest{header.Commitment()}, header, nil))

	assert.NoError(t, tracker.VerifyNoteInclusion(leaf0, 0, 0, []types.Digest{leaf1}))
	assert.NoError(t, tracker.VerifyNoteInclusion(leaf1, 0, 1, []types.Digest{leaf0}))
	assert.ErrorIs(t, tracker.VerifyNoteInclusion(leaf1, 0, 0, []types.Digest{leaf0}), ErrProofVerification)
	assert.ErrorIs(t, tracker.VerifyNoteInclusion(leaf0, 7, 0, []types.Digest{leaf1}), ErrUnknownBlock)
}

func TestPersistRoundTrip(t *testing.T) {
	tracker, s := newTestTracker(t)
	headers := extendTo(t, tracker, 5)
	for _, header := range headers {
		require.NoError(t, tracker.PutHeader(header))
	}

	forest, nodes := tracker.Forest()
	update := &store.SyncUpdate{
		BlockNum:  5,
		ChainTip:  5,
		MmrForest: forest,
		MmrNodes:  nodes,
		Headers:   tracker.ChangedHeaders(),
	}
	require.NoError(t, s.ApplySyncUpdate(update))

	restored, err := FromStore(s)
	require.NoError(t, err)
	assert.Equal(t, tracker.Height(), restored.Height())
	assert.Equal(t, tracker.Peaks(), restored.Peaks())

	path, err := restored.ProveInclusion(3)
	require.NoError(t, err)
	assert.True(t, restored.VerifyBlockInclusion(headers[3], path))
}

func hashTestPair(left, right types.Digest) types.Digest {
	hasher := Hasher()
	hasher.Write(left.Bytes())
	hasher.Write(right.Bytes())
	return types.BytesToDigest(hasher.Sum(nil))
}
