package indexmgr

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vshard/vectorindex/compressors"
	"github.com/vshard/vectorindex/hooks"
	"github.com/vshard/vectorindex/snapshot"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// loadSnapshot decodes snap's meta and payload file and installs the
// resulting kernel state into h, but does not change h.status; the caller
// owns the surrounding state transition.
func (m *Manager) loadSnapshot(ctx context.Context, h *Handle, snap snapshot.Snapshot) (err error) {
	ctx, span := tracer.Start(ctx, "Manager.loadSnapshot", trace.WithAttributes(
		attribute.Int64("region_id", int64(snap.VectorIndexID)),
		attribute.Int64("log_id", int64(snap.LogID)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := m.Hooks.Trigger(ctx, hooks.NewPreLoadSnapshotEvent(hooks.LoadSnapshotPayload{
		VectorIndexID:    snap.VectorIndexID,
		SnapshotLogIndex: snap.LogID,
	})); err != nil {
		return fmt.Errorf("PreLoadSnapshot hook vetoed region %d: %w", snap.VectorIndexID, err)
	}
	defer func() {
		_ = m.Hooks.Trigger(ctx, hooks.NewPostLoadSnapshotEvent(hooks.LoadSnapshotPayload{
			VectorIndexID:    snap.VectorIndexID,
			SnapshotLogIndex: snap.LogID,
		}))
	}()

	meta, err := snapshot.ReadMeta(snap.Dir)
	if err != nil {
		return fmt.Errorf("failed to read snapshot meta for region %d: %w", snap.VectorIndexID, err)
	}
	if len(meta.Filenames) == 0 {
		return fmt.Errorf("snapshot for region %d has no payload files", snap.VectorIndexID)
	}

	raw, err := os.Open(filepath.Join(snap.Dir, meta.Filenames[0]))
	if err != nil {
		return fmt.Errorf("failed to open snapshot payload for region %d: %w", snap.VectorIndexID, err)
	}
	defer raw.Close()

	rawBytes, err := io.ReadAll(raw)
	if err != nil {
		return fmt.Errorf("failed to read snapshot payload for region %d: %w", snap.VectorIndexID, err)
	}

	codec, err := compressors.ByName(meta.Codec)
	if err != nil {
		return fmt.Errorf("region %d: %w", snap.VectorIndexID, err)
	}
	decoded, err := codec.Decompress(rawBytes)
	if err != nil {
		return fmt.Errorf("failed to decompress snapshot payload for region %d: %w", snap.VectorIndexID, err)
	}
	defer decoded.Close()

	if err := h.Kernel.Load(decoded); err != nil {
		return fmt.Errorf("failed to load kernel state for region %d: %w", snap.VectorIndexID, err)
	}

	h.SetApplyLogIndex(meta.ApplyLogIndex)
	h.SetSnapshotLogIndex(snap.LogID)
	return nil
}
