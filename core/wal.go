package core

// WALEntry represents a single operation recorded in the WAL. Index is the
// monotonic Raft log index the entry was committed at; Payload is an
// entry-type-specific encoding decoded by the caller (indexmgr).
type WALEntry struct {
	EntryType EntryType
	Index     uint64
	Payload   []byte
}
