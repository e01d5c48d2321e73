// Package screener decides whether an arbitrary note is consumable by one of
// the client's tracked accounts. Screening is a heuristic over note metadata
// and well-known script shapes, not a proof: a consumable note may be missed
// (false negative), but a note is never reported consumable in a way that
// would let a double spend through, because consumption is re-validated at
// execution time.
package screener

import (
	"encoding/binary"

	"github.com/orbita-network/go-rollup-client/log"
	"github.com/orbita-network/go-rollup-client/store"
	"github.com/orbita-network/go-rollup-client/types"
)

// Well-known note script roots the default screener understands.
var (
	// ScriptRootP2ID is the pay-to-id script: consumable by the account whose
	// id is the first note input.
	ScriptRootP2ID = types.HexToDigest("91b9e4d2a734b695b108cb52092843c6ef344ba5b19a4a1e4f406e4e58098acb")
	// ScriptRootP2IDR is the pay-to-id-with-recall script: same as P2ID, but
	// the sender can reclaim the note after the recall height stored in the
	// third note input.
	ScriptRootP2IDR = types.HexToDigest("30a4e5898578591c0e52c86afb2ff4af052cf2fd6ce3ce946e8c66c0eaae54d6")
	// ScriptRootSwap is the atomic swap script: consumable by any account
	// willing to produce the requested counter-note.
	ScriptRootSwap = types.HexToDigest("5e0efd4f13ea370d270af0a9cd6e1dc8cb66fdb2b0e27e605b561d798a8e6dca")
)

const p2idrRecallInputIndex = 2

// Screener classifies notes by consumability. Implementations may be
// swapped for stricter or script-aware checks without touching the sync
// engine.
type Screener interface {
	CheckRelevance(details *types.NoteDetails) ([]types.Consumability, error)
}

// DefaultScreener is the script-shape heuristic over the store's tracked
// accounts.
type DefaultScreener struct {
	store  *store.Store
	logger *log.Logger
}

var _ Screener = (*DefaultScreener)(nil)

func NewDefaultScreener(s *store.Store) *DefaultScreener {
	return &DefaultScreener{
		store:  s,
		logger: log.NewLogger("screener"),
	}
}

// CheckRelevance returns the tracked accounts that could consume the note,
// with the height after which consumption becomes valid. An unknown script
// root yields no matches.
func (sc *DefaultScreener) CheckRelevance(details *types.NoteDetails) ([]types.Consumability, error) {
	ids, err := sc.store.AccountIDs()
	if err != nil {
		return nil, err
	}

	var relevant []types.Consumability
	for _, id := range ids {
		relevance, ok := sc.checkForAccount(details, id)
		if ok {
			relevant = append(relevant, types.Consumability{AccountID: id, Relevance: relevance})
		}
	}
	return relevant, nil
}

func (sc *DefaultScreener) checkForAccount(details *types.NoteDetails, id types.AccountID) (types.NoteRelevance, bool) {
	switch details.ScriptRoot {
	case ScriptRootP2ID:
		return types.NoteRelevance{}, targetMatches(details, id)
	case ScriptRootP2IDR:
		if targetMatches(details, id) {
			return types.NoteRelevance{}, true
		}
		// the sender can reclaim after the recall height
		if details.Metadata.Sender == id {
			height, ok := recallHeight(details)
			if !ok {
				sc.logger.Debug().Str("note", details.ID.Hex()).Msg("p2idr note without recall height input")
				return types.NoteRelevance{}, false
			}
			return types.NoteRelevance{After: height}, true
		}
		return types.NoteRelevance{}, false
	case ScriptRootSwap:
		// swaps are broadcast at the counterparty's tag; any tracked account
		// the tag targets may take the offer
		return types.NoteRelevance{}, accountTagMatches(details.Metadata.Tag, id)
	default:
		// unknown script: cannot tell without execution, so not consumable
		return types.NoteRelevance{}, false
	}
}

// targetMatches checks the P2ID-style convention that the first note input
// names the target account.
func targetMatches(details *types.NoteDetails, id types.AccountID) bool {
	return len(details.Inputs) > 0 && details.Inputs[0] == types.Digest(id)
}

// recallHeight extracts the P2IDR recall height from the third note input.
func recallHeight(details *types.NoteDetails) (uint64, bool) {
	if len(details.Inputs) <= p2idrRecallInputIndex {
		return 0, false
	}
	input := details.Inputs[p2idrRecallInputIndex]
	return binary.BigEndian.Uint64(input[types.DigestLength-8:]), true
}

// AccountTag derives the broadcast tag accounts listen on: the first four
// bytes of the account id.
func AccountTag(id types.AccountID) uint32 {
	return binary.BigEndian.Uint32(id[:4])
}

func accountTagMatches(tag uint32, id types.AccountID) bool {
	return tag == AccountTag(id)
}
