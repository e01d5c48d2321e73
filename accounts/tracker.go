// Package accounts owns the client's view of tracked accounts: immutable
// snapshot history, delta application and the detection of accounts whose
// on-chain state diverged from the local view.
package accounts

import (
	"fmt"
	"math"

	"github.com/orbita-network/go-rollup-client/log"
	"github.com/orbita-network/go-rollup-client/store"
	"github.com/orbita-network/go-rollup-client/types"
)

// Tracker computes account snapshot changes. Like the other trackers it
// holds no state across sync rounds; everything is read from and written
// back to the store.
type Tracker struct {
	store  *store.Store
	code   *CodeCache
	logger *log.Logger
}

func NewTracker(s *store.Store) *Tracker {
	return &Tracker{
		store:  s,
		code:   NewCodeCache(s),
		logger: log.NewLogger("accounts"),
	}
}

func (t *Tracker) Code() *CodeCache {
	return t.code
}

// ApplyDelta produces the next snapshot of an account from the current one.
// The current snapshot is never mutated, so the history remains available
// for rollback.
func (t *Tracker) ApplyDelta(current *types.AccountSnapshot, delta *types.AccountDelta) (*types.AccountSnapshot, error) {
	if current.Locked {
		return nil, fmt.Errorf("account %s: %w", current.ID.Hex(), types.ErrAccountLocked)
	}
	if delta.NonceDelta == 0 {
		return nil, fmt.Errorf("account %s: delta does not advance the nonce", current.ID.Hex())
	}

	next := &types.AccountSnapshot{
		ID:       current.ID,
		Nonce:    current.Nonce + delta.NonceDelta,
		CodeRoot: current.CodeRoot,
		Vault:    append([]types.Asset(nil), current.Vault...),
		Storage:  append([]types.StorageSlot(nil), current.Storage...),
		Locked:   false,
	}
	// the creation seed only describes the unobserved genesis state and is
	// dropped once the nonce advances

	for _, slot := range delta.Storage {
		next.Storage = setSlot(next.Storage, slot)
	}
	for _, asset := range delta.VaultAdded {
		var err error
		next.Vault, err = addAsset(next.Vault, asset.FaucetID, asset.Amount)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", current.ID.Hex(), err)
		}
	}
	for _, asset := range delta.VaultRemoved {
		var err error
		next.Vault, err = removeAsset(next.Vault, asset.FaucetID, asset.Amount)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", current.ID.Hex(), err)
		}
	}

	next.Seal()
	return next, nil
}

// Lock flags the latest snapshot of an account whose on-chain commitment no
// longer matches the local state. A locked account rejects further local
// transactions until it is unlocked by an explicit re-import.
func (t *Tracker) Lock(id types.AccountID) (*types.AccountSnapshot, error) {
	current, err := t.store.AccountSnapshot(id)
	if err != nil {
		return nil, err
	}
	if current.Locked {
		return current, nil
	}
	locked := *current
	locked.Locked = true
	t.logger.Warn().Str("account", id.Hex()).Uint64("nonce", current.Nonce).
		Msg("account commitment diverged from chain, locking")
	return &locked, nil
}

// MatchesChain reports whether the authority-reported commitment agrees with
// the local snapshot.
func (t *Tracker) MatchesChain(id types.AccountID, commitment types.Digest) (bool, error) {
	current, err := t.store.AccountSnapshot(id)
	if err != nil {
		return false, err
	}
	return current.Commitment == commitment, nil
}

func setSlot(slots []types.StorageSlot, slot types.StorageSlot) []types.StorageSlot {
	for i := range slots {
		if slots[i].Index == slot.Index {
			slots[i].Value = slot.Value
			return slots
		}
	}
	return append(slots, slot)
}

func addAsset(vault []types.Asset, faucet types.AccountID, amount uint64) ([]types.Asset, error) {
	for i := range vault {
		if vault[i].FaucetID == faucet {
			if vault[i].Amount > math.MaxUint64-amount {
				return nil, types.ErrVaultOverflow
			}
			vault[i].Amount += amount
			return vault, nil
		}
	}
	return append(vault, types.Asset{FaucetID: faucet, Amount: amount}), nil
}

func removeAsset(vault []types.Asset, faucet types.AccountID, amount uint64) ([]types.Asset, error) {
	for i := range vault {
		if vault[i].FaucetID == faucet {
			if vault[i].Amount < amount {
				return nil, types.ErrVaultUnderflow
			}
			vault[i].Amount -= amount
			return vault, nil
		}
	}
	return nil, types.ErrVaultUnderflow
}
