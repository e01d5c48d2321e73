package mmr

import "math/bits"

// Node positions are 0-based, in post-order: the two children of a node
// always precede it. The position layout depends only on the number of
// leaves appended so far.

// posHeight returns the height of the node at the given position, with
// leaves at height 0.
func posHeight(pos uint64) int {
	pos++
	for !allOnes(pos) {
		pos = pos - (uint64(1) << (bitLen(pos) - 1)) + 1
	}
	return bitLen(pos) - 1
}

func allOnes(v uint64) bool {
	return v != 0 && v&(v+1) == 0
}

func bitLen(v uint64) int {
	return bits.Len64(v)
}

// treeSize returns the number of node positions occupied by a perfect
// subtree with 1<<height leaves.
func treeSize(height int) uint64 {
	return (uint64(1) << (height + 1)) - 1
}

// leafPos returns the position of the leaf with the given index.
func leafPos(leafIndex uint64) uint64 {
	return 2*leafIndex - uint64(bits.OnesCount64(leafIndex))
}

// mmrSize returns the total number of node positions for a forest with the
// given number of leaves.
func mmrSize(leaves uint64) uint64 {
	return 2*leaves - uint64(bits.OnesCount64(leaves))
}

// peakPositions returns the positions of the forest's peaks, left to right.
// Each set bit of the leaf count contributes one perfect subtree.
func peakPositions(leaves uint64) []uint64 {
	var peaks []uint64
	var offset uint64
	for height := 63; height >= 0; height-- {
		if leaves>>uint(height)&1 == 0 {
			continue
		}
		size := treeSize(height)
		peaks = append(peaks, offset+size-1)
		offset += size
	}
	return peaks
}

func isPeak(pos uint64, leaves uint64) bool {
	for _, p := range peakPositions(leaves) {
		if p == pos {
			return true
		}
	}
	return false
}
