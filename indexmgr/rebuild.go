package indexmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vshard/vectorindex/core"
	"github.com/vshard/vectorindex/hooks"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Rebuild replaces regionID's index with a freshly built one from a full
// scan, without ever removing the previous, still-serving Handle from the
// registry until the replacement has fully caught up to the WAL:
//
//  1. wait for the existing handle to reach a quiescent state; refuse if it
//     never does before ctx is done
//  2. begin the REBUILDING transition on it
//  3. construct a brand-new kernel via factory/params, run BuildVectorIndex
//     against it (old Handle keeps serving), set candidate.version =
//     old.version + 1
//  4. if needSave, save the candidate now, before catch-up replay, so the
//     eventual writer-blocked window is as short as possible
//  5. first-round WAL replay into the candidate while writers still target
//     the old handle
//  6. mark the region switching: writers must now retry instead of applying
//     to the old handle
//  7. second-round WAL replay, bounded because writers were redirected in
//     step 6, catching anything applied to the old handle after step 5
//     started
//  8. candidate -> StatusNormal; decide, via role, whether this peer should
//     keep serving the rebuilt index (leader, or EnableFollowerHoldIndex)
//  9. if keeping: force-publish the candidate into the registry, replacing
//     the old handle; otherwise the old handle keeps serving
//  10. unset the switching flag, guaranteed via defer regardless of outcome
func (m *Manager) Rebuild(ctx context.Context, regionID uint64, factory core.Region) (err error) {
	ctx, span := tracer.Start(ctx, "Manager.Rebuild", trace.WithAttributes(attribute.Int64("region_id", int64(regionID))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	old, ok := m.Handles.Get(regionID)
	if !ok {
		return fmt.Errorf("region %d: no existing index handle to rebuild", regionID)
	}

	var behind uint64
	if applied, saved := old.ApplyLogIndex(), old.SnapshotLogIndex(); applied > saved {
		behind = applied - saved
	}
	needSave := old.NeedsSave(behind, m.scrubCfg.SaveBehindThreshold)
	if err := m.Hooks.Trigger(ctx, hooks.NewPreRebuildEvent(hooks.RebuildPayload{RegionID: regionID, NeedSave: needSave})); err != nil {
		return fmt.Errorf("PreRebuild hook vetoed region %d: %w", regionID, err)
	}
	rebuildStart := time.Now()
	defer func() {
		var newVersion, applyLogIndex uint64
		if h, ok := m.Handles.Get(regionID); ok {
			newVersion = h.Version()
			applyLogIndex = h.ApplyLogIndex()
		}
		_ = m.Hooks.Trigger(ctx, hooks.NewPostRebuildEvent(hooks.PostRebuildPayload{
			RegionID:      regionID,
			NewVersion:    newVersion,
			ApplyLogIndex: applyLogIndex,
			Duration:      time.Since(rebuildStart),
			Error:         err,
		}))
	}()

	if err := m.waitQuiescent(ctx, old); err != nil {
		return core.NewRegionUnavailableError(old.Status().String(), fmt.Sprintf("region %d: gave up waiting for handle to quiesce before rebuild: %v", regionID, err))
	}
	if !old.beginTransition(StatusRebuilding) {
		return core.NewRegionUnavailableError(old.Status().String(), fmt.Sprintf("region %d: failed to enter REBUILDING", regionID))
	}
	defer func() {
		if old.Status() == StatusRebuilding {
			old.setStatus(StatusNormal)
		}
	}()

	kf, err := m.factory(factory.KernelType)
	if err != nil {
		return err
	}
	k, err := kf(factory.KernelParams)
	if err != nil {
		return fmt.Errorf("failed to construct rebuild kernel for region %d: %w", regionID, err)
	}
	newHandle := NewHandle(regionID, k)
	if !newHandle.beginTransition(StatusBuilding) {
		return fmt.Errorf("region %d: new handle failed to enter BUILDING", regionID)
	}

	atLogIndex, err := m.currentApplyLogIndex(ctx, regionID)
	if err != nil {
		newHandle.setStatus(StatusError)
		return err
	}
	dataPrefix := core.FillVectorDataPrefix(regionID)
	if err := m.buildWithHooks(ctx, newHandle, dataPrefix, atLogIndex); err != nil {
		newHandle.setStatus(StatusError)
		return err
	}
	newHandle.setStatus(StatusNormal)
	newHandle.SetVersion(old.Version() + 1)

	if needSave {
		newHandle.setStatus(StatusSnapshotting)
		if err := m.SaveVectorIndex(ctx, newHandle); err != nil {
			newHandle.setStatus(StatusError)
			return fmt.Errorf("region %d: pre-replay save of rebuild candidate failed: %w", regionID, err)
		}
		newHandle.setStatus(StatusNormal)
	}

	// First round: writers are still routed to old, so this can run for as
	// long as the WAL backlog takes without blocking anything.
	if err := m.replayFromWAL(ctx, newHandle); err != nil {
		newHandle.setStatus(StatusError)
		return fmt.Errorf("region %d: first-round rebuild replay failed: %w", regionID, err)
	}

	m.switching.Put(regionID, true)
	defer m.switching.Erase(regionID)

	// Second round: bounded, because writers consulting IsSwitching now
	// retry instead of landing on old between here and the publish below.
	if err := m.replayFromWAL(ctx, newHandle); err != nil {
		newHandle.setStatus(StatusError)
		return fmt.Errorf("region %d: second-round rebuild replay failed: %w", regionID, err)
	}
	newHandle.setStatus(StatusNormal)

	keep := m.role == nil || m.role.IsLeader(regionID) || m.indexCfg.EnableFollowerHoldIndex
	if keep {
		m.Handles.Put(regionID, newHandle)
		old.setStatus(StatusNormal)
	}
	return nil
}

// AsyncRebuild launches Rebuild in a background goroutine, tracked by wg so
// callers (typically a Scrub sweep) can wait for outstanding rebuilds during
// shutdown.
func (m *Manager) AsyncRebuild(ctx context.Context, wg *sync.WaitGroup, regionID uint64, def core.Region) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Rebuild(ctx, regionID, def); err != nil {
			m.logger.Error("async rebuild failed", "region_id", regionID, "error", err)
		}
	}()
}

// waitQuiescent polls old's status until it is quiescent or ctx is done,
// using RebuildQuiescePollInterval as the poll period.
func (m *Manager) waitQuiescent(ctx context.Context, h *Handle) error {
	interval := parseQuiescePoll(m.indexCfg.RebuildQuiescePollInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if h.Status().quiescent() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func parseQuiescePoll(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}
