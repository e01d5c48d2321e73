package types

// BlockHeader is the client's record of one chain block header. Only headers
// carrying client notes, the genesis header and the current sync checkpoint
// are retained long term; everything else is prunable.
type BlockHeader struct {
	Number   uint64
	Raw      []byte
	NoteRoot Digest
	// HasClientNotes flags headers that anchor a tracked note and must
	// therefore survive pruning.
	HasClientNotes bool
}

// Commitment returns the digest under which the header is inserted as a leaf
// of the partial chain.
func (h *BlockHeader) Commitment() Digest {
	return rlpDigest([]interface{}{h.Number, h.NoteRoot, h.Raw})
}
