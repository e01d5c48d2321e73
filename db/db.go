// Package db defines the storage abstraction all client state is persisted
// through. Backends only need to provide namespaced key-value access with
// atomic transactions; the memorydb and badgerdb sub-packages are the two
// shipped implementations.
package db

// DB is a general interface to access stored data.
type DB interface {
	Type() string
	Set(namespace []byte, key []byte, value []byte) error
	Delete(namespace []byte, key []byte) error
	Get(namespace []byte, key []byte) ([]byte, bool, error)
	Exist(namespace []byte, key []byte) (bool, error)
	Iterator(start []byte, end []byte) Iterator
	NewTx() Transaction
	Close() error
}

// Transaction batches multiple writes into one atomic commit. Either every
// operation applies or none does.
type Transaction interface {
	Set(namespace []byte, key []byte, value []byte) error
	Delete(namespace []byte, key []byte) error
	Commit() error
	Discard()
}

// Iterator navigates a key range in full-key (namespace-prefixed) order.
type Iterator interface {
	Next() error
	Valid() bool
	Key() ([]byte, error)
	Value() ([]byte, error)
}

// Storage namespaces, one per logical record kind.
var (
	NamespaceAccountSnapshots = []byte("acs")
	NamespaceAccountCode      = []byte("acc")
	NamespaceInputNotes       = []byte("nin")
	NamespaceOutputNotes      = []byte("nout")
	NamespaceNoteStateIndex   = []byte("nsi")
	NamespaceNullifierIndex   = []byte("nfi")
	NamespaceTransactions     = []byte("txn")
	NamespaceTxStatusIndex    = []byte("tsi")
	NamespaceTxDependencies   = []byte("tdi")
	NamespaceBlockHeaders     = []byte("blk")
	NamespaceMmrNodes         = []byte("mmr")
	NamespaceNoteTags         = []byte("tag")
	NamespaceScripts          = []byte("scr")
	NamespaceSyncState        = []byte("sys")

	Separator = []byte("|")
)

// PrependNamespace builds the full storage key for a namespaced entry.
func PrependNamespace(namespace []byte, key []byte) []byte {
	if namespace == nil {
		return key
	}
	full := make([]byte, 0, len(namespace)+len(Separator)+len(key))
	full = append(full, namespace...)
	full = append(full, Separator...)
	return append(full, key...)
}

// ConvNilToBytes normalizes nil slices so backends never see nil keys or
// values.
func ConvNilToBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
