package indexmgr

import "context"

// KVIterator iterates a contiguous key range in ascending key order.
type KVIterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Error() error
	Close() error
}

// KVStore is the external key-value engine collaborator: point-get plus a
// range iterator, modeled after the shape of an LSM engine's own Iterator
// interface without depending on any one storage engine's file format.
type KVStore interface {
	Get(ctx context.Context, key []byte) ([]byte, bool, error)
	NewIterator(ctx context.Context, start, end []byte) (KVIterator, error)
}

// MetaStore is the get/put collaborator for the dedicated meta column family
// holding apply-log-id and snapshot-log-id entries.
type MetaStore interface {
	Get(ctx context.Context, key []byte) ([]byte, bool, error)
	Put(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error
}

// Peer identifies one member of a region's Raft group.
type Peer struct {
	ID      uint64
	Address string
}

// RaftGroup enumerates the peers of a region's Raft group, excluding self.
type RaftGroup interface {
	Peers(ctx context.Context, regionID uint64) ([]Peer, error)
}

// RaftRoleProvider answers whether the local node is the Raft leader for a
// region, used to decide whether AsyncRebuild should hold or drop a rebuilt
// handle on this peer.
type RaftRoleProvider interface {
	IsLeader(regionID uint64) bool
}
