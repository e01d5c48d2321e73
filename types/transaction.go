package types

import "fmt"

// TxStatus is the lifecycle status of a locally executed transaction.
type TxStatus uint8

const (
	TxStatusPending TxStatus = iota
	TxStatusCommitted
	TxStatusDiscarded
)

func (s TxStatus) String() string {
	switch s {
	case TxStatusPending:
		return "pending"
	case TxStatusCommitted:
		return "committed"
	case TxStatusDiscarded:
		return "discarded"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// DiscardCause records why a transaction was discarded. Discarded
// transactions are kept forever so the cause stays inspectable.
type DiscardCause uint8

const (
	DiscardCauseNone DiscardCause = iota
	// DiscardCauseExpired: the expiration height passed without the remote
	// authority reporting the transaction as included.
	DiscardCauseExpired
	// DiscardCauseInvalidated: an input note of the transaction was consumed
	// by somebody else.
	DiscardCauseInvalidated
	// DiscardCauseDependency: the transaction consumed an output note of
	// another transaction that was itself discarded.
	DiscardCauseDependency
	// DiscardCauseStale: the account state the transaction was built on
	// diverged from the chain.
	DiscardCauseStale
)

func (c DiscardCause) String() string {
	switch c {
	case DiscardCauseNone:
		return "none"
	case DiscardCauseExpired:
		return "expired"
	case DiscardCauseInvalidated:
		return "invalidated"
	case DiscardCauseDependency:
		return "dependency_discarded"
	case DiscardCauseStale:
		return "stale"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// TransactionRecord is the client's lifecycle record of one locally executed
// transaction. The input/output note id sets drive the discard cascade.
type TransactionRecord struct {
	ID               TransactionID
	AccountID        AccountID
	Details          []byte
	ScriptRoot       *Digest `rlp:"nil"`
	ExpirationHeight uint64
	Status           TxStatus
	BlockNum         uint64
	Cause            DiscardCause
	InputNotes       []NoteID
	OutputNotes      []NoteID
	Delta            AccountDelta
	// AuthenticatedInputs reports whether the consumed notes carried verified
	// inclusion proofs at execution time.
	AuthenticatedInputs bool
}

// IsPending reports whether the transaction still races for inclusion.
func (r *TransactionRecord) IsPending() bool {
	return r.Status == TxStatusPending
}

// Expired reports whether the transaction missed its inclusion window at the
// given chain height.
func (r *TransactionRecord) Expired(height uint64) bool {
	return r.Status == TxStatusPending && r.ExpirationHeight > 0 && height > r.ExpirationHeight
}
