package types

import "github.com/ethereum/go-ethereum/rlp"

// All persisted records are RLP encoded. Records use slices instead of maps
// so the encoding is canonical.

func EncodeRecord(v interface{}) ([]byte, error) {
	return rlp.EncodeToBytes(v)
}

func DecodeAccountSnapshot(data []byte) (*AccountSnapshot, error) {
	record := new(AccountSnapshot)
	if err := rlp.DecodeBytes(data, record); err != nil {
		return nil, err
	}
	return record, nil
}

func DecodeInputNoteRecord(data []byte) (*InputNoteRecord, error) {
	record := new(InputNoteRecord)
	if err := rlp.DecodeBytes(data, record); err != nil {
		return nil, err
	}
	return record, nil
}

func DecodeOutputNoteRecord(data []byte) (*OutputNoteRecord, error) {
	record := new(OutputNoteRecord)
	if err := rlp.DecodeBytes(data, record); err != nil {
		return nil, err
	}
	return record, nil
}

func DecodeTransactionRecord(data []byte) (*TransactionRecord, error) {
	record := new(TransactionRecord)
	if err := rlp.DecodeBytes(data, record); err != nil {
		return nil, err
	}
	return record, nil
}

func DecodeBlockHeader(data []byte) (*BlockHeader, error) {
	record := new(BlockHeader)
	if err := rlp.DecodeBytes(data, record); err != nil {
		return nil, err
	}
	return record, nil
}

func DecodeNoteTag(data []byte) (*NoteTag, error) {
	record := new(NoteTag)
	if err := rlp.DecodeBytes(data, record); err != nil {
		return nil, err
	}
	return record, nil
}
