package indexmgr

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vshard/vectorindex/core"
	"github.com/vshard/vectorindex/hooks"
	"github.com/vshard/vectorindex/snapshot"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// errorCapture is a bounded io.Writer tee'd alongside the real snapshot
// payload writer. If Kernel.Save fails partway through, the bytes it
// captured (up to limit) are framed as a length-prefixed diagnostic payload
// and their length is reported in the returned error, instead of assuming
// any failure fits in a fixed-size buffer.
type errorCapture struct {
	buf   bytes.Buffer
	limit int
}

func (c *errorCapture) Write(p []byte) (int, error) {
	if remaining := c.limit - c.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			c.buf.Write(p[:remaining])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

// framedPayload prefixes payload with its own length so a diagnostic blob of
// any size up to the capture limit can be logged or transmitted without
// ambiguity about where it ends.
func framedPayload(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

// SaveVectorIndex snapshots h.Kernel's current state to a fresh staging
// directory and publishes it via snapshots. h must already have transitioned
// into StatusSnapshotting by the caller. logIndex is the apply log index the
// snapshot is taken at (h.ApplyLogIndex() at the moment of Freeze).
func (m *Manager) SaveVectorIndex(ctx context.Context, h *Handle) (err error) {
	ctx, span := tracer.Start(ctx, "Manager.SaveVectorIndex", trace.WithAttributes(attribute.Int64("region_id", int64(h.ID))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if !h.snapshotInProgress.CompareAndSwap(false, true) {
		return fmt.Errorf("region %d: %w", h.ID, core.ErrSnapshotInProgress)
	}
	defer h.snapshotInProgress.Store(false)

	if err := m.Hooks.Trigger(ctx, hooks.NewPreSaveSnapshotEvent(hooks.SaveSnapshotPayload{
		VectorIndexID: h.ID,
		ApplyLogIndex: h.ApplyLogIndex(),
	})); err != nil {
		return fmt.Errorf("PreSaveSnapshot hook vetoed region %d: %w", h.ID, err)
	}

	var snapshotDir string
	var skippedNoop bool
	defer func() {
		_ = m.Hooks.Trigger(ctx, hooks.NewPostSaveSnapshotEvent(hooks.PostSaveSnapshotPayload{
			VectorIndexID: h.ID,
			SnapshotDir:   snapshotDir,
			SkippedNoop:   skippedNoop,
			Error:         err,
		}))
	}()

	h.mu.Lock()
	view, err := h.Kernel.Freeze(ctx)
	logIndex := h.applyLogIndex
	h.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to freeze kernel for region %d: %w", h.ID, err)
	}

	if m.snapshots.Has(h.ID, logIndex) {
		skippedNoop = true
		return nil
	}

	stagingDir := filepath.Join(m.snapshots.IndexDir(h.ID), snapshot.FormatTmpDirName())
	snapshotDir = stagingDir
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory for region %d: %w", h.ID, err)
	}

	payloadFile := fmt.Sprintf("index_%d_%d.idx", h.ID, logIndex)
	var buf bytes.Buffer
	capture := &errorCapture{limit: m.snapCfg.MaxErrorPayloadBytes}

	if err := view.Save(io.MultiWriter(&buf, capture)); err != nil {
		if core.IsVectorError(err, core.KindUnsupported) {
			// The kernel has no durable form: nothing to publish, not a failure.
			_ = os.RemoveAll(stagingDir)
			snapshotDir = ""
			skippedNoop = true
			return nil
		}
		diag := framedPayload(capture.buf.Bytes())
		return fmt.Errorf("failed to serialize kernel state for region %d (captured %d diagnostic bytes): %w", h.ID, len(diag)-4, err)
	}

	compressor, err := m.compressor()
	if err != nil {
		return err
	}
	compressed, err := compressor.Compress(buf.Bytes())
	if err != nil {
		return fmt.Errorf("failed to compress snapshot payload for region %d: %w", h.ID, err)
	}
	if err := os.WriteFile(filepath.Join(stagingDir, payloadFile), compressed, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot payload for region %d: %w", h.ID, err)
	}

	meta := snapshot.Meta{
		VectorIndexID: h.ID,
		ApplyLogIndex: logIndex,
		Codec:         m.snapCfg.Compression,
		Filenames:     []string{payloadFile},
	}
	if err := snapshot.WriteMeta(stagingDir, meta); err != nil {
		return fmt.Errorf("failed to write snapshot meta for region %d: %w", h.ID, err)
	}

	if err := m.snapshots.Publish(ctx, h.ID, logIndex, stagingDir); err != nil {
		return fmt.Errorf("failed to publish snapshot for region %d: %w", h.ID, err)
	}

	h.SetSnapshotLogIndex(logIndex)
	span.SetAttributes(attribute.Int64("log_index", int64(logIndex)))

	if m.WAL != nil {
		if err := m.WAL.Purge(logIndex); err != nil {
			m.logger.Warn("failed to purge WAL up to snapshot log index", "region_id", h.ID, "log_index", logIndex, "error", err)
		}
	}
	return nil
}
