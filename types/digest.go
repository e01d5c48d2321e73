package types

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
)

// DigestLength is the byte length of all content commitments.
const DigestLength = 32

// Digest is a 32-byte commitment to some piece of chain state.
type Digest [DigestLength]byte

func BytesToDigest(b []byte) Digest {
	var d Digest
	if len(b) > DigestLength {
		b = b[len(b)-DigestLength:]
	}
	copy(d[DigestLength-len(b):], b)
	return d
}

func HexToDigest(s string) Digest {
	return BytesToDigest(common.FromHex(s))
}

func (d Digest) Bytes() []byte {
	return d[:]
}

func (d Digest) Hex() string {
	return common.Bytes2Hex(d[:])
}

func (d Digest) IsZero() bool {
	return d == Digest{}
}

// AccountID identifies an account tracked by the client.
type AccountID Digest

func (id AccountID) Bytes() []byte { return id[:] }
func (id AccountID) Hex() string   { return Digest(id).Hex() }

// NoteID is the content-addressed identifier of a note.
type NoteID Digest

func (id NoteID) Bytes() []byte { return id[:] }
func (id NoteID) Hex() string   { return Digest(id).Hex() }

// TransactionID identifies an executed transaction.
type TransactionID Digest

func (id TransactionID) Bytes() []byte { return id[:] }
func (id TransactionID) Hex() string   { return Digest(id).Hex() }

// Nullifier is the tag published on chain when a note is consumed.
type Nullifier Digest

func (n Nullifier) Bytes() []byte { return n[:] }
func (n Nullifier) Hex() string   { return Digest(n).Hex() }

// NullifierPrefixLength is the number of leading bytes sent to the remote
// authority when checking nullifiers, so the full set of tracked notes is
// not revealed.
const NullifierPrefixLength = 2

func (n Nullifier) Prefix() []byte {
	prefix := make([]byte, NullifierPrefixLength)
	copy(prefix, n[:NullifierPrefixLength])
	return prefix
}

func (n Nullifier) MatchesPrefix(prefix []byte) bool {
	if len(prefix) > DigestLength {
		return false
	}
	return bytes.HasPrefix(n[:], prefix)
}
