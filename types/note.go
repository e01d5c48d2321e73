package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/minio/sha256-simd"
	"golang.org/x/crypto/sha3"
)

// NoteState is the lifecycle state of an input note record.
type NoteState uint8

const (
	// NoteStateExpected marks a note the client anticipates but has not yet
	// seen on chain, e.g. the change output of an own pending transaction.
	NoteStateExpected NoteState = iota
	// NoteStateUnverified marks a note reported by the remote authority whose
	// chain inclusion has not been folded into the partial chain yet.
	NoteStateUnverified
	// NoteStateCommitted marks a note whose inclusion proof was verified
	// against the partial chain.
	NoteStateCommitted
	// NoteStateProcessingAuthenticated marks a note consumed by a local
	// pending transaction that carried a verified inclusion proof.
	NoteStateProcessingAuthenticated
	// NoteStateProcessingUnauthenticated marks a note consumed by a local
	// pending transaction without an inclusion proof.
	NoteStateProcessingUnauthenticated
	// NoteStateConsumed marks a note whose consuming transaction committed.
	NoteStateConsumed
	// NoteStateInvalid marks a note nullified by a transaction that is not
	// ours, or otherwise conflicted.
	NoteStateInvalid
)

func (s NoteState) String() string {
	switch s {
	case NoteStateExpected:
		return "expected"
	case NoteStateUnverified:
		return "unverified"
	case NoteStateCommitted:
		return "committed"
	case NoteStateProcessingAuthenticated:
		return "processing_authenticated"
	case NoteStateProcessingUnauthenticated:
		return "processing_unauthenticated"
	case NoteStateConsumed:
		return "consumed"
	case NoteStateInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// IsProcessing reports whether the note is locked by a local pending
// transaction.
func (s NoteState) IsProcessing() bool {
	return s == NoteStateProcessingAuthenticated || s == NoteStateProcessingUnauthenticated
}

// IsTerminal reports whether the note can no longer change state. Terminal
// notes do not pin their anchor block header against pruning.
func (s NoteState) IsTerminal() bool {
	return s == NoteStateConsumed || s == NoteStateInvalid
}

// NoteMetadata is the public metadata attached to a note on chain.
type NoteMetadata struct {
	Sender AccountID
	Tag    uint32
}

// NoteDetails is the full content of a note, enough to derive its id and
// nullifier and to screen it for consumability.
type NoteDetails struct {
	ID           NoteID
	Assets       []Asset
	SerialNumber Digest
	Inputs       []Digest
	ScriptRoot   Digest
	Metadata     NoteMetadata
}

// Commitment returns the digest the note contributes to its block's note
// tree leaf.
func (d *NoteDetails) Commitment() Digest {
	return rlpDigest([]interface{}{d.ID, d.ScriptRoot, d.SerialNumber})
}

// ComputeNullifier derives the nullifier published when the note is
// consumed. It binds the serial number, script and inputs but is unlinkable
// to the note id without knowing the serial number. Nullifiers live in a
// separate hash domain from commitments, so the two can never collide.
func (d *NoteDetails) ComputeNullifier() Nullifier {
	h := sha3.New256()
	if err := rlp.Encode(h, []interface{}{d.SerialNumber, d.ScriptRoot, d.Inputs}); err != nil {
		panic(err)
	}
	return Nullifier(BytesToDigest(h.Sum(nil)))
}

// ComputeScriptRoot derives the content address a script blob is stored and
// referenced under.
func ComputeScriptRoot(script []byte) Digest {
	h := sha256.New()
	h.Write(script)
	return BytesToDigest(h.Sum(nil))
}

// InputNoteRecord tracks a note the client may consume.
type InputNoteRecord struct {
	ID             NoteID
	Details        NoteDetails
	Nullifier      Nullifier
	State          NoteState
	InclusionBlock uint64
	// NullifierBlock is set when the note turns invalid, recording the height
	// at which the conflicting consumption was observed.
	NullifierBlock uint64
	ConsumerTx     TransactionID
}

// OutputNoteState is the lifecycle state of an output note record.
type OutputNoteState uint8

const (
	OutputNoteStateExpected OutputNoteState = iota
	OutputNoteStateCommitted
)

func (s OutputNoteState) String() string {
	if s == OutputNoteStateExpected {
		return "expected"
	}
	return "committed"
}

// OutputNoteRecord tracks a note created by an own transaction.
type OutputNoteRecord struct {
	ID              NoteID
	RecipientDigest Digest
	Assets          []Asset
	Metadata        NoteMetadata
	Nullifier       *Nullifier `rlp:"nil"`
	ExpectedHeight  uint64
	State           OutputNoteState
}

// TagSource records why a note tag is tracked.
type TagSource uint8

const (
	TagSourceUser TagSource = iota
	TagSourceNote
	TagSourceAccount
)

// NoteTag drives which notes the sync engine requests from the remote
// authority.
type NoteTag struct {
	Tag      uint32
	Source   TagSource
	SourceID Digest
}

// NoteRelevance tells when a note becomes consumable by an account.
type NoteRelevance struct {
	// After is the block height after which consumption is valid; zero means
	// consumable now.
	After uint64
}

// Consumability pairs a tracked account with the moment a note becomes
// consumable by it.
type Consumability struct {
	AccountID AccountID
	Relevance NoteRelevance
}
