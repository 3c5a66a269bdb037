// Package kernel defines the opaque vector-index interface the lifecycle and
// snapshot subsystem builds, rebuilds, freezes and persists, without knowing
// anything about the similarity algorithm (HNSW, flat, IVF, ...) behind it.
package kernel

import (
	"context"
	"io"
)

// Record is a single vector entry as seen by a kernel.
type Record struct {
	ID     uint64
	Vector []float32
}

// SearchResult is a single hit returned by SearchTopN, ordered by ascending
// distance.
type SearchResult struct {
	ID       uint64
	Distance float32
}

// FrozenView is an immutable, point-in-time view of a kernel's contents,
// obtained via Freeze. It exists so a slow serialization can run without
// holding the kernel's write lock for its whole duration; kernels achieve
// this through structural sharing rather than an OS-level fork.
type FrozenView interface {
	// Save serializes the frozen contents to w. ErrUnsupported means this
	// kernel type has no durable form and Save should be treated as a no-op
	// success by the caller.
	Save(w io.Writer) error
	// Count returns the number of live records in the frozen view.
	Count() int
}

// Kernel is the mutable, in-memory vector index a Handle owns. Implementations
// are expected to be safe for concurrent Upsert/Delete/SearchTopN/Count, but
// Freeze may take a brief exclusive lock internally.
type Kernel interface {
	// Upsert inserts or replaces the given records.
	Upsert(ctx context.Context, records []Record) error
	// Delete removes the given ids. Missing ids are not an error.
	Delete(ctx context.Context, ids []uint64) error
	// SearchTopN returns up to topN nearest neighbors of query matching
	// filter, ordered by ascending distance.
	SearchTopN(ctx context.Context, query []float32, topN int, filter Filter) ([]SearchResult, error)
	// Count returns the number of live records currently held.
	Count() int
	// Freeze takes a brief write lock and returns a structurally-shared,
	// immutable point-in-time view.
	Freeze(ctx context.Context) (FrozenView, error)
	// Load replaces the kernel's contents by deserializing from r. Load is
	// only ever called on a freshly constructed, empty kernel.
	Load(r io.Reader) error
	// SupportsFilter reports whether this kernel type can evaluate filters of
	// the given kind natively (as opposed to the caller pre/post-filtering).
	SupportsFilter(kind FilterKind) bool
}

// Factory constructs a fresh, empty Kernel for the given index parameters.
// The parameters blob is opaque to this package; concrete kernel
// implementations parse the fields they need from it.
type Factory func(params []byte) (Kernel, error)
