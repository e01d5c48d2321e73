package syncer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbita-network/go-rollup-client/chain"
	"github.com/orbita-network/go-rollup-client/db/memorydb"
	"github.com/orbita-network/go-rollup-client/rpc"
	"github.com/orbita-network/go-rollup-client/screener"
	"github.com/orbita-network/go-rollup-client/store"
	"github.com/orbita-network/go-rollup-client/types"
)

var (
	trackedAccount = types.AccountID{0xa1, 0xa2, 0xa3, 0xa4}
	foreignTx      = types.TransactionID{0xfe}
)

// mockNode simulates the chain authority over a linear chain where each
// block carries a two-leaf note tree.
type mockNode struct {
	headers          []*types.BlockHeader
	notes            map[uint64][]*rpc.CommittedNote
	nullifierUpdates []*rpc.NullifierUpdate
	txInclusions     []rpc.TransactionInclusion
	commitments      []rpc.AccountCommitment
}

func newMockNode() *mockNode {
	node := &mockNode{notes: make(map[uint64][]*rpc.CommittedNote)}
	node.addBlock()
	return node
}

func noteTreeRoot(leaves [2]types.Digest) types.Digest {
	hasher := chain.Hasher()
	hasher.Write(leaves[0].Bytes())
	hasher.Write(leaves[1].Bytes())
	return types.BytesToDigest(hasher.Sum(nil))
}

// addBlock appends a block containing the given notes (at most two) and
// returns its number.
func (n *mockNode) addBlock(blockNotes ...*types.NoteDetails) uint64 {
	number := uint64(len(n.headers))
	var leaves [2]types.Digest
	for i, details := range blockNotes {
		leaves[i] = details.Commitment()
	}
	header := &types.BlockHeader{
		Number:   number,
		Raw:      []byte{byte(number), 0x0b},
		NoteRoot: noteTreeRoot(leaves),
	}
	n.headers = append(n.headers, header)

	for i, details := range blockNotes {
		n.notes[number] = append(n.notes[number], &rpc.CommittedNote{
			NoteID:        details.ID,
			BlockNum:      number,
			NoteIndex:     uint64(i),
			InclusionPath: []types.Digest{leaves[1-i]},
			Metadata:      details.Metadata,
			Details:       details,
		})
	}
	return number
}

func (n *mockNode) tip() uint64 {
	return uint64(len(n.headers)) - 1
}

func (n *mockNode) SyncState(_ context.Context, _ uint64, _ []uint32, _ [][]byte) (*rpc.StateSyncInfo, error) {
	delta := make([]types.Digest, len(n.headers))
	var withNotes []*types.BlockHeader
	for i, header := range n.headers {
		delta[i] = header.Commitment()
		if len(n.notes[header.Number]) > 0 {
			copied := *header
			withNotes = append(withNotes, &copied)
		}
	}
	var inclusions []*rpc.CommittedNote
	for _, blockNotes := range n.notes {
		inclusions = append(inclusions, blockNotes...)
	}
	return &rpc.StateSyncInfo{
		ChainTip:              n.tip(),
		BlockHeader:           n.headers[n.tip()],
		MmrDelta:              delta,
		Headers:               withNotes,
		AccountCommitments:    n.commitments,
		NoteInclusions:        inclusions,
		TransactionInclusions: n.txInclusions,
	}, nil
}

func (n *mockNode) GetNotesByID(_ context.Context, _ []types.NoteID) ([]*types.NoteDetails, error) {
	return nil, nil
}

func (n *mockNode) CheckNullifiers(_ context.Context, _ [][]byte, _ uint64) ([]*rpc.NullifierUpdate, error) {
	return n.nullifierUpdates, nil
}

var _ rpc.NodeClient = (*mockNode)(nil)

func p2idNote(seed byte, target types.AccountID) *types.NoteDetails {
	return &types.NoteDetails{
		ID:           types.NoteID{seed},
		Assets:       []types.Asset{{FaucetID: types.AccountID{0xf1}, Amount: 10}},
		SerialNumber: types.Digest{seed, 0x01},
		Inputs:       []types.Digest{types.Digest(target)},
		ScriptRoot:   screener.ScriptRootP2ID,
		Metadata:     types.NoteMetadata{Sender: types.AccountID{0xee}, Tag: 7},
	}
}

func newTestEngine(t *testing.T, node *mockNode) (*Engine, *store.Store) {
	s := store.NewStore(memorydb.NewDB())
	engine := NewEngine(s, node, nil)
	snapshot := &types.AccountSnapshot{ID: trackedAccount, Nonce: 1}
	snapshot.Seal()
	require.NoError(t, engine.TrackAccount(snapshot, []byte("code")))
	return engine, s
}

func extendChain(node *mockNode, to uint64) {
	for node.tip() < to {
		node.addBlock()
	}
}

func TestFreshSyncWithRelevantNote(t *testing.T) {
	node := newMockNode()
	extendChain(node, 6)
	details := p2idNote(0x11, trackedAccount)
	node.addBlock(details) // block 7
	extendChain(node, 10)

	engine, s := newTestEngine(t, node)
	summary, err := engine.SyncRound(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(10), summary.BlockNum)
	assert.Equal(t, []types.NoteID{details.ID}, summary.ReceivedNotes)
	assert.Equal(t, []types.NoteID{details.ID}, summary.CommittedNotes)

	record, err := s.InputNote(details.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NoteStateCommitted, record.State)
	assert.Equal(t, uint64(7), record.InclusionBlock)

	header, err := s.BlockHeader(7)
	require.NoError(t, err)
	assert.True(t, header.HasClientNotes)

	height, err := s.SyncHeight()
	require.NoError(t, err)
	assert.Equal(t, uint64(10), height)

	// the note screens as consumable by the tracked account
	consumable, err := engine.ConsumableNotes(trackedAccount)
	require.NoError(t, err)
	require.Len(t, consumable, 1)
	assert.Equal(t, details.ID, consumable[0].Record.ID)
}

func TestSyncRoundIdempotent(t *testing.T) {
	node := newMockNode()
	details := p2idNote(0x11, trackedAccount)
	node.addBlock(details)
	extendChain(node, 5)

	engine, s := newTestEngine(t, node)
	_, err := engine.SyncRound(context.Background())
	require.NoError(t, err)

	// nothing changed remotely, the second round is a no-op
	summary, err := engine.SyncRound(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), summary.BlockNum)
	assert.Empty(t, summary.ReceivedNotes)

	record, err := s.InputNote(details.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NoteStateCommitted, record.State)
}

func TestStaleResponseRejected(t *testing.T) {
	node := newMockNode()
	extendChain(node, 10)
	engine, _ := newTestEngine(t, node)
	_, err := engine.SyncRound(context.Background())
	require.NoError(t, err)

	// a different authority view that fell behind
	stale := newMockNode()
	extendChain(stale, 5)
	behind := NewEngine(storeOf(engine), stale, nil)
	_, err = behind.SyncRound(context.Background())
	assert.ErrorIs(t, err, ErrStaleSync)
}

func storeOf(e *Engine) *store.Store {
	return e.store
}

func TestTransactionCommitFlow(t *testing.T) {
	node := newMockNode()
	details := p2idNote(0x11, trackedAccount)
	node.addBlock(details)
	extendChain(node, 5)

	engine, s := newTestEngine(t, node)
	_, err := engine.SyncRound(context.Background())
	require.NoError(t, err)

	created := p2idNote(0x22, types.AccountID{0xcd})
	tx := &types.TransactionRecord{
		ID:                  types.TransactionID{0x71},
		AccountID:           trackedAccount,
		ExpirationHeight:    20,
		InputNotes:          []types.NoteID{details.ID},
		OutputNotes:         []types.NoteID{created.ID},
		Delta:               types.AccountDelta{NonceDelta: 1},
		AuthenticatedInputs: true,
	}
	require.NoError(t, engine.SubmitTransaction(tx, []*types.NoteDetails{created}))

	input, err := s.InputNote(details.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NoteStateProcessingAuthenticated, input.State)

	// the authority includes the transaction at block 6
	extendChain(node, 6)
	node.txInclusions = []rpc.TransactionInclusion{
		{TransactionID: tx.ID, AccountID: trackedAccount, BlockNum: 6},
	}
	summary, err := engine.SyncRound(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []types.TransactionID{tx.ID}, summary.CommittedTransactions)
	assert.Equal(t, []types.NoteID{details.ID}, summary.ConsumedNotes)
	assert.Equal(t, []types.AccountID{trackedAccount}, summary.UpdatedAccounts)

	stored, err := s.Transaction(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TxStatusCommitted, stored.Status)
	assert.Equal(t, uint64(6), stored.BlockNum)

	input, err = s.InputNote(details.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NoteStateConsumed, input.State)
	assert.Equal(t, tx.ID, input.ConsumerTx)

	output, err := s.OutputNote(created.ID)
	require.NoError(t, err)
	assert.Equal(t, types.OutputNoteStateCommitted, output.State)

	snapshot, err := s.AccountSnapshot(trackedAccount)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snapshot.Nonce)
}

func TestExternalNullifierInvalidatesNote(t *testing.T) {
	node := newMockNode()
	details := p2idNote(0x11, trackedAccount)
	node.addBlock(details)
	extendChain(node, 5)

	engine, s := newTestEngine(t, node)
	_, err := engine.SyncRound(context.Background())
	require.NoError(t, err)

	tx := &types.TransactionRecord{
		ID:                  types.TransactionID{0x71},
		AccountID:           trackedAccount,
		InputNotes:          []types.NoteID{details.ID},
		Delta:               types.AccountDelta{NonceDelta: 1},
		AuthenticatedInputs: true,
	}
	require.NoError(t, engine.SubmitTransaction(tx, nil))

	// another client consumed the note first
	extendChain(node, 6)
	node.nullifierUpdates = []*rpc.NullifierUpdate{
		{Nullifier: details.ComputeNullifier(), BlockNum: 6, TransactionID: foreignTx},
	}
	summary, err := engine.SyncRound(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []types.NoteID{details.ID}, summary.InvalidNotes)
	assert.Equal(t, []types.TransactionID{tx.ID}, summary.DiscardedTransactions)

	record, err := s.InputNote(details.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NoteStateInvalid, record.State)
	assert.Equal(t, foreignTx, record.ConsumerTx)
	assert.Equal(t, uint64(6), record.NullifierBlock)

	stored, err := s.Transaction(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TxStatusDiscarded, stored.Status)
	assert.Equal(t, types.DiscardCauseInvalidated, stored.Cause)
}

func TestExpiryCascade(t *testing.T) {
	node := newMockNode()
	noteN1 := p2idNote(0x11, trackedAccount)
	node.addBlock(noteN1)
	extendChain(node, 5)

	engine, s := newTestEngine(t, node)
	_, err := engine.SyncRound(context.Background())
	require.NoError(t, err)

	// T1 consumes N1 and creates the self-addressed N2
	noteN2 := p2idNote(0x22, trackedAccount)
	tx1 := &types.TransactionRecord{
		ID:                  types.TransactionID{0x71},
		AccountID:           trackedAccount,
		ExpirationHeight:    8,
		InputNotes:          []types.NoteID{noteN1.ID},
		OutputNotes:         []types.NoteID{noteN2.ID},
		Delta:               types.AccountDelta{NonceDelta: 1},
		AuthenticatedInputs: true,
	}
	require.NoError(t, engine.SubmitTransaction(tx1, []*types.NoteDetails{noteN2}))

	// T2 chains on N2 before it ever hits the chain
	tx2 := &types.TransactionRecord{
		ID:         types.TransactionID{0x72},
		AccountID:  trackedAccount,
		InputNotes: []types.NoteID{noteN2.ID},
		Delta:      types.AccountDelta{NonceDelta: 1},
	}
	require.NoError(t, engine.SubmitTransaction(tx2, nil))

	record, err := s.InputNote(noteN2.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NoteStateProcessingUnauthenticated, record.State)

	// T1 expires without inclusion
	extendChain(node, 9)
	summary, err := engine.SyncRound(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []types.TransactionID{tx1.ID, tx2.ID}, summary.DiscardedTransactions)

	stored1, err := s.Transaction(tx1.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DiscardCauseExpired, stored1.Cause)
	stored2, err := s.Transaction(tx2.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DiscardCauseDependency, stored2.Cause)

	// N1 was on chain and reverts to spendable
	reverted1, err := s.InputNote(noteN1.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NoteStateCommitted, reverted1.State)

	// N2 never existed on chain and falls back to Expected
	reverted2, err := s.InputNote(noteN2.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NoteStateExpected, reverted2.State)
}

func TestAccountMismatchLocks(t *testing.T) {
	node := newMockNode()
	details := p2idNote(0x11, trackedAccount)
	node.addBlock(details)
	extendChain(node, 5)

	engine, s := newTestEngine(t, node)
	_, err := engine.SyncRound(context.Background())
	require.NoError(t, err)

	tx := &types.TransactionRecord{
		ID:                  types.TransactionID{0x71},
		AccountID:           trackedAccount,
		InputNotes:          []types.NoteID{details.ID},
		Delta:               types.AccountDelta{NonceDelta: 1},
		AuthenticatedInputs: true,
	}
	require.NoError(t, engine.SubmitTransaction(tx, nil))

	// the chain has a different view of the account state
	extendChain(node, 6)
	node.commitments = []rpc.AccountCommitment{
		{AccountID: trackedAccount, Commitment: types.Digest{0xde, 0xad}},
	}
	summary, err := engine.SyncRound(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []types.AccountID{trackedAccount}, summary.LockedAccounts)
	assert.Equal(t, []types.TransactionID{tx.ID}, summary.DiscardedTransactions)

	snapshot, err := s.AccountSnapshot(trackedAccount)
	require.NoError(t, err)
	assert.True(t, snapshot.Locked)

	stored, err := s.Transaction(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DiscardCauseStale, stored.Cause)

	// the consumed note reverts and the locked account rejects new work
	record, err := s.InputNote(details.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NoteStateCommitted, record.State)

	err = engine.SubmitTransaction(&types.TransactionRecord{
		ID:        types.TransactionID{0x99},
		AccountID: trackedAccount,
		Delta:     types.AccountDelta{NonceDelta: 1},
	}, nil)
	assert.ErrorIs(t, err, types.ErrAccountLocked)
}

func TestSyncToTip(t *testing.T) {
	node := newMockNode()
	extendChain(node, 4)

	engine, _ := newTestEngine(t, node)
	summary, err := engine.SyncToTip(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(4), summary.BlockNum)
	assert.Equal(t, uint64(4), summary.ChainTip)
}

func TestFetchCancellation(t *testing.T) {
	node := newMockNode()
	extendChain(node, 4)
	engine, s := newTestEngine(t, node)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.SyncRound(ctx)
	assert.Error(t, err)

	// nothing was merged
	height, err := s.SyncHeight()
	require.NoError(t, err)
	assert.Zero(t, height)
}

// headerlessNode answers like its inner node but strips the block header,
// as a buggy authority might.
type headerlessNode struct {
	*mockNode
}

func (n headerlessNode) SyncState(ctx context.Context, from uint64, tags []uint32, prefixes [][]byte) (*rpc.StateSyncInfo, error) {
	resp, err := n.mockNode.SyncState(ctx, from, tags, prefixes)
	if err != nil {
		return nil, err
	}
	resp.BlockHeader = nil
	return resp, nil
}

func TestResponseWithoutHeaderRejected(t *testing.T) {
	node := newMockNode()
	extendChain(node, 4)

	s := store.NewStore(memorydb.NewDB())
	engine := NewEngine(s, headerlessNode{node}, nil)
	_, err := engine.SyncRound(context.Background())
	assert.ErrorIs(t, err, ErrMalformedResponse)

	// nothing was merged
	height, err := s.SyncHeight()
	require.NoError(t, err)
	assert.Zero(t, height)
}

func TestRegisterScript(t *testing.T) {
	node := newMockNode()
	engine, s := newTestEngine(t, node)

	script := []byte("begin push.1 end")
	root, err := engine.RegisterScript(script)
	require.NoError(t, err)
	assert.Equal(t, types.ComputeScriptRoot(script), root)

	stored, ok, err := s.Script(root)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, script, stored)
}
