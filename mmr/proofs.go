package mmr

import (
	"hash"

	"github.com/orbita-network/go-rollup-client/types"
)

// MerklePath authenticates one leaf of the forest against a peak.
type MerklePath struct {
	LeafIndex uint64
	Siblings  []types.Digest
}

// ProveInclusion builds the authentication path for a leaf. It fails with
// ErrMissingNode when the leaf or one of its path nodes was pruned.
func (m *PartialMmr) ProveInclusion(leafIndex uint64) (*MerklePath, error) {
	if leafIndex >= m.leaves {
		return nil, ErrLeafOutOfRange
	}
	if _, ok := m.nodes[leafPos(leafIndex)]; !ok {
		return nil, ErrMissingNode
	}

	positions := m.pathPositions(leafIndex)
	siblings := make([]types.Digest, len(positions))
	for i, pos := range positions {
		node, ok := m.nodes[pos]
		if !ok {
			return nil, ErrMissingNode
		}
		siblings[i] = node
	}
	return &MerklePath{LeafIndex: leafIndex, Siblings: siblings}, nil
}

// VerifyInclusion reduces the leaf along the path and compares the result
// against the recorded peak covering the leaf.
func (m *PartialMmr) VerifyInclusion(leaf types.Digest, path *MerklePath) bool {
	if path == nil || path.LeafIndex >= m.leaves {
		return false
	}

	pos := leafPos(path.LeafIndex)
	height := 0
	current := leaf
	consumed := 0
	for !isPeak(pos, m.leaves) {
		if consumed >= len(path.Siblings) {
			return false
		}
		sibling := path.Siblings[consumed]
		consumed++
		if posHeight(pos+1) == height+1 {
			current = m.hashNodes(sibling, current)
			pos++
		} else {
			current = m.hashNodes(current, sibling)
			pos += treeSize(height) + 1
		}
		height++
	}
	if consumed != len(path.Siblings) {
		return false
	}

	peak, ok := m.nodes[pos]
	return ok && peak == current
}

// VerifyPath verifies an ordinary binary Merkle authentication path, as used
// by the per-block note tree. The index selects left/right at each level,
// least significant bit first.
func VerifyPath(hasher hash.Hash, leaf types.Digest, index uint64, siblings []types.Digest, root types.Digest) bool {
	current := leaf
	for _, sibling := range siblings {
		hasher.Reset()
		if index&1 == 1 {
			hasher.Write(sibling.Bytes())
			hasher.Write(current.Bytes())
		} else {
			hasher.Write(current.Bytes())
			hasher.Write(sibling.Bytes())
		}
		current = types.BytesToDigest(hasher.Sum(nil))
		index >>= 1
	}
	return current == root
}
