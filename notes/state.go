// Package notes owns the input and output note state machines and the
// round-local aggregation of note updates during a sync merge.
package notes

import (
	"errors"
	"fmt"

	"github.com/orbita-network/go-rollup-client/types"
)

var (
	// ErrIllegalTransition is returned when a sync event is applied to a
	// note state with no matching edge.
	ErrIllegalTransition = errors.New("illegal note state transition")
	// ErrUntrackedNote is returned when an event targets a note the round is
	// not tracking.
	ErrUntrackedNote = errors.New("note not tracked")
)

// EventKind enumerates the sync events that drive the input note state
// machine.
type EventKind uint8

const (
	// EventSeenUnauthenticated: the note was observed in a sync response but
	// its inclusion is not folded into the partial chain yet.
	EventSeenUnauthenticated EventKind = iota
	// EventInclusionProved: the note's inclusion proof verified against the
	// partial chain.
	EventInclusionProved
	// EventConsumptionStarted: a local pending transaction consumes the note.
	EventConsumptionStarted
	// EventConsumingTxCommitted: the consuming transaction was included on
	// chain.
	EventConsumingTxCommitted
	// EventConsumingTxDiscarded: the consuming transaction was discarded and
	// the note reverts to being spendable.
	EventConsumingTxDiscarded
	// EventConflictDetected: the note's nullifier appeared on chain from a
	// transaction that is not ours.
	EventConflictDetected
)

func (k EventKind) String() string {
	switch k {
	case EventSeenUnauthenticated:
		return "seen_unauthenticated"
	case EventInclusionProved:
		return "inclusion_proved"
	case EventConsumptionStarted:
		return "consumption_started"
	case EventConsumingTxCommitted:
		return "consuming_tx_committed"
	case EventConsumingTxDiscarded:
		return "consuming_tx_discarded"
	case EventConflictDetected:
		return "conflict_detected"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Event is one input to the note state machine.
type Event struct {
	Kind EventKind
	// Authenticated selects the Processing variant for
	// EventConsumptionStarted.
	Authenticated bool
}

// NextState is the input note transition function. Transitions are monotonic
// except the discard rollback (Processing* back to Committed). Any edge not
// listed here is illegal.
func NextState(current types.NoteState, event Event) (types.NoteState, error) {
	switch event.Kind {
	case EventSeenUnauthenticated:
		if current == types.NoteStateExpected {
			return types.NoteStateUnverified, nil
		}
	case EventInclusionProved:
		if current == types.NoteStateUnverified {
			return types.NoteStateCommitted, nil
		}
	case EventConsumptionStarted:
		if event.Authenticated {
			if current == types.NoteStateCommitted {
				return types.NoteStateProcessingAuthenticated, nil
			}
		} else {
			// unauthenticated consumption does not need a verified proof, so
			// notes still expected or unverified may be consumed, e.g. the
			// output of another pending transaction
			switch current {
			case types.NoteStateExpected, types.NoteStateUnverified, types.NoteStateCommitted:
				return types.NoteStateProcessingUnauthenticated, nil
			}
		}
	case EventConsumingTxCommitted:
		if current.IsProcessing() {
			return types.NoteStateConsumed, nil
		}
	case EventConsumingTxDiscarded:
		if current.IsProcessing() {
			return types.NoteStateCommitted, nil
		}
	case EventConflictDetected:
		if current != types.NoteStateConsumed {
			return types.NoteStateInvalid, nil
		}
	}
	return current, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, event.Kind, current)
}
