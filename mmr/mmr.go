// Package mmr implements a partial Merkle mountain range: an append-only
// forest over block header commitments that keeps only the peaks and the
// authentication nodes for leaves the client cares about. Appending is a
// purely local operation, so peaks never have to be taken on trust from a
// remote peer.
package mmr

import (
	"errors"
	"hash"

	"github.com/orbita-network/go-rollup-client/types"
)

var (
	// ErrMissingNode is returned when an authentication path needs a node
	// that was pruned or never retained.
	ErrMissingNode = errors.New("mmr node not retained")
	// ErrLeafOutOfRange is returned when proving a leaf beyond the forest.
	ErrLeafOutOfRange = errors.New("leaf index beyond forest")
)

// PartialMmr is a Merkle mountain range with a sparse node set.
type PartialMmr struct {
	hasher hash.Hash
	leaves uint64
	size   uint64
	nodes  map[uint64]types.Digest
}

// NewPartialMmr creates an empty partial MMR using the given hasher.
func NewPartialMmr(hasher hash.Hash) *PartialMmr {
	return &PartialMmr{
		hasher: hasher,
		nodes:  make(map[uint64]types.Digest),
	}
}

// Restore rebuilds a partial MMR from a persisted node set and leaf count.
// The peaks are re-derived from the nodes rather than loaded, so a corrupted
// or tampered node set is detected on first use.
func Restore(hasher hash.Hash, leaves uint64, nodes map[uint64]types.Digest) (*PartialMmr, error) {
	m := &PartialMmr{
		hasher: hasher,
		leaves: leaves,
		size:   mmrSize(leaves),
		nodes:  make(map[uint64]types.Digest, len(nodes)),
	}
	for pos, digest := range nodes {
		if pos >= m.size {
			return nil, ErrLeafOutOfRange
		}
		m.nodes[pos] = digest
	}
	for _, peak := range peakPositions(leaves) {
		if _, ok := m.nodes[peak]; !ok {
			return nil, ErrMissingNode
		}
	}
	return m, nil
}

// Leaves returns the number of leaves appended so far.
func (m *PartialMmr) Leaves() uint64 {
	return m.leaves
}

// Nodes returns the retained node set, keyed by position.
func (m *PartialMmr) Nodes() map[uint64]types.Digest {
	return m.nodes
}

// Leaf returns the retained digest of a leaf, if present.
func (m *PartialMmr) Leaf(leafIndex uint64) (types.Digest, bool) {
	if leafIndex >= m.leaves {
		return types.Digest{}, false
	}
	node, ok := m.nodes[leafPos(leafIndex)]
	return node, ok
}

// Peaks returns the digests of the forest's peaks, left to right.
func (m *PartialMmr) Peaks() []types.Digest {
	positions := peakPositions(m.leaves)
	peaks := make([]types.Digest, len(positions))
	for i, pos := range positions {
		peaks[i] = m.nodes[pos]
	}
	return peaks
}

// Root bags the peaks into a single commitment.
func (m *PartialMmr) Root() types.Digest {
	peaks := m.Peaks()
	if len(peaks) == 0 {
		return types.Digest{}
	}
	root := peaks[0]
	for _, peak := range peaks[1:] {
		root = m.hashNodes(root, peak)
	}
	return root
}

// Add appends a leaf and returns its leaf index. Equal-height peaks are
// merged bottom-up; every node created by the merge chain is retained until
// the next prune pass.
func (m *PartialMmr) Add(leaf types.Digest) uint64 {
	leafIndex := m.leaves
	pos := m.size
	m.nodes[pos] = leaf

	current := leaf
	height := 0
	for posHeight(pos+1) > height {
		leftPos := pos - treeSize(height)
		left, ok := m.nodes[leftPos]
		if !ok {
			// the left sibling of a merge is always a previous peak, which
			// is never pruned
			panic("mmr: missing peak during append")
		}
		pos++
		current = m.hashNodes(left, current)
		m.nodes[pos] = current
		height++
	}

	m.size = pos + 1
	m.leaves++
	return leafIndex
}

// Prune drops every node that is not a peak and not needed to authenticate
// one of the retained leaves.
func (m *PartialMmr) Prune(retain []uint64) []uint64 {
	needed := make(map[uint64]bool)
	for _, peak := range peakPositions(m.leaves) {
		needed[peak] = true
	}
	for _, leafIndex := range retain {
		if leafIndex >= m.leaves {
			continue
		}
		needed[leafPos(leafIndex)] = true
		for _, pos := range m.pathPositions(leafIndex) {
			needed[pos] = true
		}
	}

	var dropped []uint64
	for pos := range m.nodes {
		if !needed[pos] {
			delete(m.nodes, pos)
			dropped = append(dropped, pos)
		}
	}
	return dropped
}

// pathPositions returns the sibling positions on the authentication path of
// the given leaf, bottom-up. Positions are returned regardless of whether
// the nodes are retained.
func (m *PartialMmr) pathPositions(leafIndex uint64) []uint64 {
	var siblings []uint64
	pos := leafPos(leafIndex)
	height := 0
	for !isPeak(pos, m.leaves) {
		if posHeight(pos+1) == height+1 {
			// right child: the left sibling subtree root precedes it
			siblings = append(siblings, pos-treeSize(height))
			pos++
		} else {
			siblings = append(siblings, pos+treeSize(height))
			pos += treeSize(height) + 1
		}
		height++
	}
	return siblings
}

func (m *PartialMmr) hashNodes(left, right types.Digest) types.Digest {
	m.hasher.Reset()
	m.hasher.Write(left.Bytes())
	m.hasher.Write(right.Bytes())
	return types.BytesToDigest(m.hasher.Sum(nil))
}
