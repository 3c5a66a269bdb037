// Package transport implements the snapshot transfer service described in
// the vector-index snapshot subsystem: chunked file reads served over a
// registry of server-side readers, plus the push-to-followers and
// pull-from-peers flows that keep a region's on-disk snapshot in sync across
// a Raft group.
//
// The wire messages below mirror the protobuf shapes a generated stub would
// carry, but are plain Go structs registered with the "gob" grpc codec
// (codec.go) rather than protoc-gen-go output: no .proto definition for this
// service ships in this tree, and hand-writing protobuf's generated
// reflection metadata by hand would produce messages that only look like
// protobuf without actually implementing it. google.golang.org/grpc's
// transport, dialing, and interceptor machinery is still exercised in full;
// only the message encoding differs from a protoc-gen-go build.
package transport

// VectorIndexSnapshotMeta describes one published snapshot.
type VectorIndexSnapshotMeta struct {
	VectorIndexID    uint64
	SnapshotLogIndex uint64
	Filenames        []string
}

// InstallVectorIndexSnapshotRequest asks a peer to pull the snapshot
// advertised at URI.
type InstallVectorIndexSnapshotRequest struct {
	URI  string
	Meta VectorIndexSnapshotMeta
}

// InstallVectorIndexSnapshotResponse is an empty acknowledgement; errors are
// carried as gRPC statuses.
type InstallVectorIndexSnapshotResponse struct{}

// GetVectorIndexSnapshotRequest asks a peer to report its latest snapshot
// for an index.
type GetVectorIndexSnapshotRequest struct {
	VectorIndexID uint64
}

// GetVectorIndexSnapshotResponse reports the peer's latest snapshot, or a
// zero Meta.SnapshotLogIndex if it has none.
type GetVectorIndexSnapshotResponse struct {
	URI  string
	Meta VectorIndexSnapshotMeta
}

// GetFileRequest reads one chunk of filename from the reader registered as
// readerID, starting at offset.
type GetFileRequest struct {
	ReaderID string
	Filename string
	Offset   uint64
	Size     uint64
}

// GetFileResponse carries one chunk. EOF is true once the file has been
// fully read; Data may still be non-empty on the final chunk.
type GetFileResponse struct {
	Data     []byte
	ReadSize uint64
	EOF      bool
}

// CleanFileReaderRequest tells the server the caller is done with readerID
// and its resources may be released.
type CleanFileReaderRequest struct {
	ReaderID string
}

// CleanFileReaderResponse is an empty acknowledgement.
type CleanFileReaderResponse struct{}

// DefaultChunkSize is the file-transfer chunk size used when
// config.TransportConfig.ChunkSize is unset.
const DefaultChunkSize = 4 << 20
