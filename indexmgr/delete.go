package indexmgr

import (
	"context"
	"fmt"

	"github.com/vshard/vectorindex/hooks"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DeleteVectorIndex retires regionID's index permanently: its Handle moves to
// the terminal StatusDelete, is removed from the registry, and its apply/
// snapshot log index meta entries are erased. There is no path back to
// StatusNormal from StatusDelete; a region that needs an index again must be
// (re)created as a fresh Handle.
//
// Durable snapshots on disk are not removed here. They are garbage-collected
// on the next successful publish (Store.Publish's keep-greatest-log-id
// retention) or, when the region itself is being torn down rather than just
// dropping its index, by a caller invoking TeardownRegion.
func (m *Manager) DeleteVectorIndex(ctx context.Context, regionID uint64) (err error) {
	ctx, span := tracer.Start(ctx, "Manager.DeleteVectorIndex", trace.WithAttributes(attribute.Int64("region_id", int64(regionID))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	h, ok := m.Handles.Get(regionID)
	if !ok {
		return fmt.Errorf("region %d: no index handle to delete", regionID)
	}

	if err := m.Hooks.Trigger(ctx, hooks.NewPreDeleteIndexEvent(hooks.DeleteIndexPayload{VectorIndexID: regionID})); err != nil {
		return fmt.Errorf("PreDeleteIndex hook vetoed region %d: %w", regionID, err)
	}
	defer func() {
		_ = m.Hooks.Trigger(ctx, hooks.NewPostDeleteIndexEvent(hooks.DeleteIndexPayload{VectorIndexID: regionID}))
	}()

	h.mu.Lock()
	h.status = StatusDelete
	h.mu.Unlock()

	if err := m.meta.Delete(ctx, applyLogIndexMetaKey(regionID)); err != nil {
		return fmt.Errorf("failed to delete apply log index meta for region %d: %w", regionID, err)
	}
	if err := m.meta.Delete(ctx, snapshotLogIndexMetaKey(regionID)); err != nil {
		return fmt.Errorf("failed to delete snapshot log index meta for region %d: %w", regionID, err)
	}

	m.Handles.Erase(regionID)
	return nil
}

// TeardownRegion removes every durable snapshot directory belonging to
// regionID from disk. Unlike DeleteVectorIndex, which only retires the
// in-memory index, this is destructive and irreversible: it is meant for the
// case where the region itself is being torn down (its key range merged
// away or the shard decommissioned), not for a plain index drop that may be
// followed by a fresh build against the same region.
func (m *Manager) TeardownRegion(ctx context.Context, regionID uint64) error {
	if err := m.snapshots.DeleteAll(ctx, regionID); err != nil {
		return fmt.Errorf("failed to delete snapshots for region %d: %w", regionID, err)
	}
	return nil
}
