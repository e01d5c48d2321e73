package screener

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbita-network/go-rollup-client/db/memorydb"
	"github.com/orbita-network/go-rollup-client/store"
	"github.com/orbita-network/go-rollup-client/types"
)

var (
	trackedAccount = types.AccountID{0xa1, 0xa2, 0xa3, 0xa4}
	otherAccount   = types.AccountID{0xb1}
)

func newTestScreener(t *testing.T) *DefaultScreener {
	s := store.NewStore(memorydb.NewDB())
	snapshot := &types.AccountSnapshot{ID: trackedAccount, Nonce: 1}
	snapshot.Seal()
	require.NoError(t, s.UpsertAccountSnapshot(snapshot))
	return NewDefaultScreener(s)
}

func p2idNote(target types.AccountID) *types.NoteDetails {
	return &types.NoteDetails{
		ID:         types.NoteID{0x01},
		Inputs:     []types.Digest{types.Digest(target)},
		ScriptRoot: ScriptRootP2ID,
		Metadata:   types.NoteMetadata{Sender: otherAccount},
	}
}

func TestP2IDTargetMatch(t *testing.T) {
	sc := newTestScreener(t)

	relevant, err := sc.CheckRelevance(p2idNote(trackedAccount))
	require.NoError(t, err)
	require.Len(t, relevant, 1)
	assert.Equal(t, trackedAccount, relevant[0].AccountID)
	assert.Zero(t, relevant[0].Relevance.After)
}

func TestP2IDOtherTarget(t *testing.T) {
	sc := newTestScreener(t)

	relevant, err := sc.CheckRelevance(p2idNote(otherAccount))
	require.NoError(t, err)
	assert.Empty(t, relevant)
}

func TestP2IDRRecall(t *testing.T) {
	sc := newTestScreener(t)

	var heightInput types.Digest
	binary.BigEndian.PutUint64(heightInput[types.DigestLength-8:], 50)
	details := &types.NoteDetails{
		ID:         types.NoteID{0x02},
		Inputs:     []types.Digest{types.Digest(otherAccount), {}, heightInput},
		ScriptRoot: ScriptRootP2IDR,
		Metadata:   types.NoteMetadata{Sender: trackedAccount},
	}

	relevant, err := sc.CheckRelevance(details)
	require.NoError(t, err)
	require.Len(t, relevant, 1)
	assert.Equal(t, trackedAccount, relevant[0].AccountID)
	assert.Equal(t, uint64(50), relevant[0].Relevance.After)
}

func TestP2IDRTargetConsumesNow(t *testing.T) {
	sc := newTestScreener(t)

	details := &types.NoteDetails{
		ID:         types.NoteID{0x03},
		Inputs:     []types.Digest{types.Digest(trackedAccount)},
		ScriptRoot: ScriptRootP2IDR,
		Metadata:   types.NoteMetadata{Sender: otherAccount},
	}

	relevant, err := sc.CheckRelevance(details)
	require.NoError(t, err)
	require.Len(t, relevant, 1)
	assert.Zero(t, relevant[0].Relevance.After)
}

func TestSwapByTag(t *testing.T) {
	sc := newTestScreener(t)

	details := &types.NoteDetails{
		ID:         types.NoteID{0x04},
		ScriptRoot: ScriptRootSwap,
		Metadata:   types.NoteMetadata{Tag: AccountTag(trackedAccount)},
	}
	relevant, err := sc.CheckRelevance(details)
	require.NoError(t, err)
	assert.Len(t, relevant, 1)

	details.Metadata.Tag = AccountTag(otherAccount)
	relevant, err = sc.CheckRelevance(details)
	require.NoError(t, err)
	assert.Empty(t, relevant)
}

func TestUnknownScriptNotConsumable(t *testing.T) {
	sc := newTestScreener(t)

	details := &types.NoteDetails{
		ID:         types.NoteID{0x05},
		Inputs:     []types.Digest{types.Digest(trackedAccount)},
		ScriptRoot: types.Digest{0x99},
	}
	relevant, err := sc.CheckRelevance(details)
	require.NoError(t, err)
	assert.Empty(t, relevant)
}
