package types

import (
	"errors"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/minio/sha256-simd"
)

var (
	ErrVaultUnderflow   = errors.New("account vault balance below zero")
	ErrVaultOverflow    = errors.New("account vault balance overflow")
	ErrSeedAfterGenesis = errors.New("creation seed set on account with non-zero nonce")
	ErrAccountLocked    = errors.New("account is locked")
)

// Asset is a fungible amount issued by a faucet account.
type Asset struct {
	FaucetID AccountID
	Amount   uint64
}

// StorageSlot is one entry of an account's storage, kept sorted by index.
type StorageSlot struct {
	Index uint8
	Value Digest
}

// AccountSnapshot is the client's view of an account at one observed nonce.
// Snapshots are immutable; applying a delta produces a new snapshot so that
// the history stays available for rollback.
type AccountSnapshot struct {
	ID          AccountID
	Nonce       uint64
	CodeRoot    Digest
	Vault       []Asset
	Storage     []StorageSlot
	Seed        *Digest `rlp:"nil"`
	Locked      bool
	Commitment  Digest
	StorageRoot Digest
	VaultRoot   Digest
}

// AccountDelta describes the state change produced by one transaction against
// an account: a nonce increment, storage slot overwrites and vault balance
// changes.
type AccountDelta struct {
	NonceDelta   uint64
	Storage      []StorageSlot
	VaultAdded   []Asset
	VaultRemoved []Asset
}

// Validate checks the snapshot's internal invariants.
func (s *AccountSnapshot) Validate() error {
	if s.Nonce > 0 && s.Seed != nil {
		return ErrSeedAfterGenesis
	}
	return nil
}

func (s *AccountSnapshot) VaultAmount(faucet AccountID) uint64 {
	for _, a := range s.Vault {
		if a.FaucetID == faucet {
			return a.Amount
		}
	}
	return 0
}

// Seal recomputes the derived roots and the snapshot commitment from the
// snapshot's contents. Call after any field mutation and before persisting.
func (s *AccountSnapshot) Seal() {
	sort.Slice(s.Vault, func(i, j int) bool {
		return bytesLess(s.Vault[i].FaucetID.Bytes(), s.Vault[j].FaucetID.Bytes())
	})
	sort.Slice(s.Storage, func(i, j int) bool { return s.Storage[i].Index < s.Storage[j].Index })
	s.VaultRoot = rlpDigest(s.Vault)
	s.StorageRoot = rlpDigest(s.Storage)
	s.Commitment = rlpDigest([]interface{}{s.ID, s.Nonce, s.CodeRoot, s.VaultRoot, s.StorageRoot})
}

func bytesLess(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func rlpDigest(v interface{}) Digest {
	h := sha256.New()
	if err := rlp.Encode(h, v); err != nil {
		// all callers pass rlp-encodable values; an error here is a bug
		panic(err)
	}
	return BytesToDigest(h.Sum(nil))
}
