// Package indexmgr owns the lifecycle of one region's vector index: loading
// or building it at startup, replaying WAL entries into it, snapshotting it,
// rebuilding it from a full scan, and deleting it, all while publishing a
// single, atomically-swapped Handle per region through a registry.Registry so
// concurrent readers never observe a half-built index.
package indexmgr

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/vshard/vectorindex/checkpoint"
	"github.com/vshard/vectorindex/compressors"
	"github.com/vshard/vectorindex/config"
	"github.com/vshard/vectorindex/core"
	"github.com/vshard/vectorindex/hooks"
	"github.com/vshard/vectorindex/kernel"
	"github.com/vshard/vectorindex/registry"
	"github.com/vshard/vectorindex/snapshot"
	"github.com/vshard/vectorindex/wal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/vshard/vectorindex/indexmgr")

// Manager coordinates the vector index lifecycle for every region hosted on
// this node.
type Manager struct {
	logger *slog.Logger

	indexCfg config.IndexConfig
	snapCfg  config.SnapshotConfig
	scrubCfg config.ScrubConfig

	factories map[string]kernel.Factory

	Handles *registry.Registry[uint64, *Handle]

	kv        KVStore
	meta      MetaStore
	snapshots *snapshot.Store
	raft      RaftGroup
	role      RaftRoleProvider

	Hooks hooks.HookManager

	// PullSnapshot, if set, is consulted by LoadOrBuild when a region has no
	// local snapshot: it should try to pull one from a Raft peer and report
	// whether it succeeded, letting LoadOrBuild retry the load path instead
	// of always falling back to a full scan build. Wired to
	// transport.Transport.PullFromPeers at composition time; left nil in
	// tests and single-node deployments.
	PullSnapshot func(ctx context.Context, regionID uint64) (bool, error)

	// WAL, if set, is purged up to a region's snapshot log index every time
	// SaveVectorIndex publishes a new snapshot, so the log doesn't grow
	// without bound. Left nil in tests and any deployment that keeps the WAL
	// unbounded or truncates it out-of-band.
	WAL wal.WALInterface

	// switching tracks, per region, whether Rebuild has quiesced writers
	// ahead of its second WAL replay round. A writer that finds a true entry
	// here must retry after a short backoff instead of applying its write
	// against the Handle still published in Handles, which is about to be
	// replaced.
	switching *registry.Registry[uint64, bool]
}

// IsSwitching reports whether regionID is mid-rebuild handoff. Code that
// applies writes to a region's index (outside this package) must consult
// this before routing to Handles.Get and retry rather than write against a
// Handle Rebuild is about to discard.
func (m *Manager) IsSwitching(regionID uint64) bool {
	switching, _ := m.switching.Get(regionID)
	return switching
}

// NewManager constructs a Manager. factories maps a Region's KernelType to
// the kernel.Factory that builds it. hookMgr may be nil, in which case a
// no-listener HookManager is created so every operation can trigger events
// unconditionally.
func NewManager(
	logger *slog.Logger,
	indexCfg config.IndexConfig,
	snapCfg config.SnapshotConfig,
	scrubCfg config.ScrubConfig,
	factories map[string]kernel.Factory,
	kv KVStore,
	meta MetaStore,
	snapshots *snapshot.Store,
	raft RaftGroup,
	role RaftRoleProvider,
	hookMgr hooks.HookManager,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if hookMgr == nil {
		hookMgr = hooks.NewHookManager(logger)
	}
	return &Manager{
		logger:    logger.With("component", "indexmgr"),
		indexCfg:  indexCfg,
		snapCfg:   snapCfg,
		scrubCfg:  scrubCfg,
		factories: factories,
		Handles:   registry.New[uint64, *Handle](),
		kv:        kv,
		meta:      meta,
		snapshots: snapshots,
		raft:      raft,
		role:      role,
		Hooks:     hookMgr,
		switching: registry.New[uint64, bool](),
	}
}

func (m *Manager) compressor() (core.Compressor, error) {
	return compressors.ByName(m.snapCfg.Compression)
}

func (m *Manager) factory(kernelType string) (kernel.Factory, error) {
	f, ok := m.factories[kernelType]
	if !ok {
		return nil, fmt.Errorf("no kernel factory registered for type %q", kernelType)
	}
	return f, nil
}

// Init loads or builds an index for every region, bounding concurrency to
// indexCfg.LoadConcurrency.
func (m *Manager) Init(ctx context.Context, regions []core.Region) error {
	ctx, span := tracer.Start(ctx, "Manager.Init", trace.WithAttributes(attribute.Int("region_count", len(regions))))
	defer span.End()

	if err := m.snapshots.Open(ctx); err != nil {
		return fmt.Errorf("failed to open snapshot store: %w", err)
	}

	concurrency := m.indexCfg.LoadConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, region := range regions {
		region := region
		g.Go(func() error {
			if err := m.LoadOrBuild(ctx, region); err != nil {
				return fmt.Errorf("region %d: %w", region.ID, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// LoadOrBuild publishes a Handle for region, restoring it from the newest
// snapshot when one exists and otherwise building it from a full scan of the
// region's key range.
func (m *Manager) LoadOrBuild(ctx context.Context, region core.Region) (err error) {
	ctx, span := tracer.Start(ctx, "Manager.LoadOrBuild", trace.WithAttributes(attribute.Int64("region_id", int64(region.ID))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := m.Hooks.Trigger(ctx, hooks.NewPreLoadOrBuildEvent(hooks.LoadOrBuildPayload{RegionID: region.ID})); err != nil {
		return fmt.Errorf("region %d: PreLoadOrBuild hook vetoed: %w", region.ID, err)
	}

	builtFromScan := false
	defer func() {
		h, _ := m.Handles.Get(region.ID)
		var applyLogIndex uint64
		if h != nil {
			applyLogIndex = h.ApplyLogIndex()
		}
		_ = m.Hooks.Trigger(ctx, hooks.NewPostLoadOrBuildEvent(hooks.PostLoadOrBuildPayload{
			RegionID:      region.ID,
			BuiltFromScan: builtFromScan,
			ApplyLogIndex: applyLogIndex,
			Error:         err,
		}))
	}()

	factory, err := m.factory(region.KernelType)
	if err != nil {
		return err
	}

	k, err := factory(region.KernelParams)
	if err != nil {
		return fmt.Errorf("failed to construct kernel for region %d: %w", region.ID, err)
	}
	h := NewHandle(region.ID, k)

	snap, ok := m.snapshots.Last(region.ID)
	if !ok && m.PullSnapshot != nil {
		if pulled, pullErr := m.PullSnapshot(ctx, region.ID); pullErr != nil {
			m.logger.Warn("pull snapshot from peers failed, falling back to full scan", "region_id", region.ID, "error", pullErr)
		} else if pulled {
			snap, ok = m.snapshots.Last(region.ID)
		}
	}
	if ok {
		if !h.beginTransition(StatusLoading) {
			return fmt.Errorf("region %d: handle not quiescent for load", region.ID)
		}
		if err := m.loadSnapshot(ctx, h, snap); err != nil {
			h.setStatus(StatusError)
			return err
		}
		if err := m.replayFromWAL(ctx, h); err != nil {
			h.setStatus(StatusError)
			return fmt.Errorf("region %d: post-load WAL replay failed: %w", region.ID, err)
		}
		h.setStatus(StatusNormal)
		m.Handles.Put(region.ID, h)
		return nil
	}

	if !h.beginTransition(StatusBuilding) {
		return fmt.Errorf("region %d: handle not quiescent for build", region.ID)
	}
	dataPrefix := core.FillVectorDataPrefix(region.ID)
	atLogIndex, err := m.currentApplyLogIndex(ctx, region.ID)
	if err != nil {
		h.setStatus(StatusError)
		return err
	}
	m.checkCheckpoint(region.ID, atLogIndex)
	if err := m.buildWithHooks(ctx, h, dataPrefix, atLogIndex); err != nil {
		h.setStatus(StatusError)
		return err
	}
	if err := m.replayFromWAL(ctx, h); err != nil {
		h.setStatus(StatusError)
		return fmt.Errorf("region %d: post-build WAL replay failed: %w", region.ID, err)
	}
	h.setStatus(StatusNormal)
	m.Handles.Put(region.ID, h)
	builtFromScan = true
	return nil
}

// replayFromWAL drains any WAL entries newer than h's current apply index
// into h.Kernel, bracketed by PreReplayWal/PostReplayWal hooks via
// ReplayVectorWal. It is a no-op when no WAL collaborator is configured,
// matching the optional-collaborator shape of PullSnapshot. On success it
// checkpoints the new apply log index to disk so a restart can cross-check
// the meta column family without waiting on it.
func (m *Manager) replayFromWAL(ctx context.Context, h *Handle) error {
	if m.WAL == nil {
		return nil
	}
	startLogID := h.ApplyLogIndex()
	src, err := m.WAL.NewStreamReader(startLogID)
	if err != nil {
		return fmt.Errorf("failed to open WAL stream reader for region %d: %w", h.ID, err)
	}
	defer src.Close()

	h.setStatus(StatusReplaying)
	if _, err := m.ReplayVectorWal(ctx, h, src, startLogID); err != nil {
		return err
	}
	m.writeCheckpoint(h)
	return nil
}

// writeCheckpoint persists h's current apply log index to the region's
// index directory. Failure is logged, not returned: the apply log index in
// the meta column family (read by currentApplyLogIndex) remains the durable
// source of truth, this file only shortcuts the next boot's sanity check
// against it.
func (m *Manager) writeCheckpoint(h *Handle) {
	dir := m.snapshots.IndexDir(h.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		m.logger.Warn("failed to create index directory for replay checkpoint", "region_id", h.ID, "error", err)
		return
	}
	if err := checkpoint.Write(dir, checkpoint.Checkpoint{ApplyLogIndex: h.ApplyLogIndex()}); err != nil {
		m.logger.Warn("failed to write replay checkpoint", "region_id", h.ID, "error", err)
	}
}

// checkCheckpoint reads any on-disk checkpoint for regionID and warns if it
// disagrees with atLogIndex, the value about to be used to start a full-scan
// build. A mismatch does not block the build; it only surfaces a divergence
// between the meta column family and the last checkpoint written to disk.
func (m *Manager) checkCheckpoint(regionID uint64, atLogIndex uint64) {
	dir := m.snapshots.IndexDir(regionID)
	cp, ok, err := checkpoint.Read(dir)
	if err != nil {
		m.logger.Warn("failed to read replay checkpoint", "region_id", regionID, "error", err)
		return
	}
	if ok && cp.ApplyLogIndex != atLogIndex {
		m.logger.Warn("checkpoint disagrees with meta apply log index", "region_id", regionID, "checkpoint", cp.ApplyLogIndex, "meta", atLogIndex)
	}
}

// buildWithHooks runs BuildVectorIndex bracketed by PreBuild/PostBuild
// events.
func (m *Manager) buildWithHooks(ctx context.Context, h *Handle, dataPrefix []byte, atLogIndex uint64) error {
	if err := m.Hooks.Trigger(ctx, hooks.NewPreBuildEvent(hooks.BuildPayload{RegionID: h.ID})); err != nil {
		return fmt.Errorf("PreBuild hook vetoed region %d: %w", h.ID, err)
	}
	err := BuildVectorIndex(ctx, m.logger, h, m.kv, dataPrefix, m.indexCfg.BuildBatchSize, atLogIndex)
	_ = m.Hooks.Trigger(ctx, hooks.NewPostBuildEvent(hooks.PostBuildPayload{
		RegionID:      h.ID,
		RecordCount:   h.Kernel.Count(),
		ApplyLogIndex: h.ApplyLogIndex(),
		Error:         err,
	}))
	return err
}

// currentApplyLogIndex reads the last durably-applied Raft log index for
// regionID from the meta column family, defaulting to 0 for a brand-new
// region.
func (m *Manager) currentApplyLogIndex(ctx context.Context, regionID uint64) (uint64, error) {
	data, ok, err := m.meta.Get(ctx, applyLogIndexMetaKey(regionID))
	if err != nil {
		return 0, fmt.Errorf("failed to read apply log index for region %d: %w", regionID, err)
	}
	if !ok {
		return 0, nil
	}
	v, valid := core.DecodeApplyLogID(data)
	if !valid {
		return 0, fmt.Errorf("corrupt apply log index meta entry for region %d", regionID)
	}
	return v, nil
}

func applyLogIndexMetaKey(regionID uint64) []byte {
	return []byte(fmt.Sprintf("vector_index_apply_log_id_%d", regionID))
}

func snapshotLogIndexMetaKey(regionID uint64) []byte {
	return []byte(fmt.Sprintf("vector_index_snapshot_log_id_%d", regionID))
}
