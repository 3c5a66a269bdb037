package indexmgr

import (
	"sync"
	"sync/atomic"

	"github.com/vshard/vectorindex/kernel"
)

// Handle is the Index Manager's owned, published state for a single region's
// vector index. At most one Handle per region id is ever published in the
// Registry at a time; replacements during a rebuild are atomic.
type Handle struct {
	ID uint64

	// mu protects status/applyLogIndex/snapshotLogIndex/version. The kernel
	// itself manages its own concurrency; mu is only held long enough to
	// flip metadata, never across a kernel call other than Freeze.
	mu sync.RWMutex

	Kernel kernel.Kernel

	status           Status
	applyLogIndex    uint64
	snapshotLogIndex uint64
	version          uint64

	snapshotInProgress atomic.Bool
}

// NewHandle constructs a Handle in StatusNone wrapping k.
func NewHandle(id uint64, k kernel.Kernel) *Handle {
	return &Handle{ID: id, Kernel: k, status: StatusNone}
}

func (h *Handle) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

func (h *Handle) setStatus(s Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = s
}

// beginTransition moves the handle from a quiescent state into to, refusing
// if the handle is already in a transient state.
func (h *Handle) beginTransition(to Status) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.status.quiescent() {
		return false
	}
	h.status = to
	return true
}

func (h *Handle) ApplyLogIndex() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.applyLogIndex
}

// SetApplyLogIndex advances applyLogIndex, refusing to move it backwards
// (invariant 1: monotonic apply).
func (h *Handle) SetApplyLogIndex(v uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if v > h.applyLogIndex {
		h.applyLogIndex = v
	}
}

func (h *Handle) SnapshotLogIndex() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshotLogIndex
}

func (h *Handle) SetSnapshotLogIndex(v uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if v > h.snapshotLogIndex {
		h.snapshotLogIndex = v
	}
}

func (h *Handle) Version() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.version
}

func (h *Handle) SetVersion(v uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.version = v
}

// NeedsSave reports whether behind (applyLogIndex - lastSnapshotLog) crosses
// the save threshold.
func (h *Handle) NeedsSave(behind, threshold uint64) bool {
	return behind >= threshold
}

// NeedsRebuild reports whether behind crosses the (larger) rebuild
// threshold.
func (h *Handle) NeedsRebuild(behind, threshold uint64) bool {
	return behind >= threshold
}
