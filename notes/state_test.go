package notes

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orbita-network/go-rollup-client/types"
)

type edge struct {
	from  types.NoteState
	event Event
}

// legalEdges is the complete transition table; every state and event pair
// not listed here must be rejected.
var legalEdges = map[edge]types.NoteState{
	{types.NoteStateExpected, Event{Kind: EventSeenUnauthenticated}}: types.NoteStateUnverified,

	{types.NoteStateUnverified, Event{Kind: EventInclusionProved}}: types.NoteStateCommitted,

	{types.NoteStateCommitted, Event{Kind: EventConsumptionStarted, Authenticated: true}}: types.NoteStateProcessingAuthenticated,

	{types.NoteStateExpected, Event{Kind: EventConsumptionStarted}}:   types.NoteStateProcessingUnauthenticated,
	{types.NoteStateUnverified, Event{Kind: EventConsumptionStarted}}: types.NoteStateProcessingUnauthenticated,
	{types.NoteStateCommitted, Event{Kind: EventConsumptionStarted}}:  types.NoteStateProcessingUnauthenticated,

	{types.NoteStateProcessingAuthenticated, Event{Kind: EventConsumingTxCommitted}}:   types.NoteStateConsumed,
	{types.NoteStateProcessingUnauthenticated, Event{Kind: EventConsumingTxCommitted}}: types.NoteStateConsumed,

	{types.NoteStateProcessingAuthenticated, Event{Kind: EventConsumingTxDiscarded}}:   types.NoteStateCommitted,
	{types.NoteStateProcessingUnauthenticated, Event{Kind: EventConsumingTxDiscarded}}: types.NoteStateCommitted,

	{types.NoteStateExpected, Event{Kind: EventConflictDetected}}:                  types.NoteStateInvalid,
	{types.NoteStateUnverified, Event{Kind: EventConflictDetected}}:                types.NoteStateInvalid,
	{types.NoteStateCommitted, Event{Kind: EventConflictDetected}}:                 types.NoteStateInvalid,
	{types.NoteStateProcessingAuthenticated, Event{Kind: EventConflictDetected}}:   types.NoteStateInvalid,
	{types.NoteStateProcessingUnauthenticated, Event{Kind: EventConflictDetected}}: types.NoteStateInvalid,
	{types.NoteStateInvalid, Event{Kind: EventConflictDetected}}:                   types.NoteStateInvalid,
}

var allStates = []types.NoteState{
	types.NoteStateExpected,
	types.NoteStateUnverified,
	types.NoteStateCommitted,
	types.NoteStateProcessingAuthenticated,
	types.NoteStateProcessingUnauthenticated,
	types.NoteStateConsumed,
	types.NoteStateInvalid,
}

var allEvents = []Event{
	{Kind: EventSeenUnauthenticated},
	{Kind: EventInclusionProved},
	{Kind: EventConsumptionStarted, Authenticated: true},
	{Kind: EventConsumptionStarted},
	{Kind: EventConsumingTxCommitted},
	{Kind: EventConsumingTxDiscarded},
	{Kind: EventConflictDetected},
}

func TestTransitionTable(t *testing.T) {
	for _, state := range allStates {
		for _, event := range allEvents {
			next, err := NextState(state, event)
			want, legal := legalEdges[edge{state, event}]
			if legal {
				assert.NoError(t, err, "%s on %s", event.Kind, state)
				assert.Equal(t, want, next, "%s on %s", event.Kind, state)
			} else {
				assert.ErrorIs(t, err, ErrIllegalTransition, "%s on %s", event.Kind, state)
			}
		}
	}
}

func TestConsumedIsFinal(t *testing.T) {
	for _, event := range allEvents {
		_, err := NextState(types.NoteStateConsumed, event)
		assert.ErrorIs(t, err, ErrIllegalTransition, "%s", event.Kind)
	}
}
