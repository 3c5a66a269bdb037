package indexmgr

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vshard/vectorindex/core"
	"github.com/vshard/vectorindex/hooks"
	"github.com/vshard/vectorindex/kernel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// WalEntrySource yields WAL entries in ascending Index order, the shape
// wal.StreamReader.Next already provides.
type WalEntrySource interface {
	Next(ctx context.Context) (*core.WALEntry, error)
}

// ReplayWal drains entries from src into h.Kernel until src returns io.EOF
// (signaled by a nil entry and nil error) or ctx is canceled. Pending
// upserts are flushed in batches of walBatchSize; a pending batch is always
// flushed before a delete entry is applied, so deletes are never reordered
// ahead of the adds that preceded them in the log. h must already have
// transitioned into StatusReplaying by the caller.
func ReplayWal(ctx context.Context, logger *slog.Logger, h *Handle, src WalEntrySource, walBatchSize int) (lastIndex uint64, appliedCount int, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, span := tracer.Start(ctx, "ReplayWal", trace.WithAttributes(attribute.Int64("region_id", int64(h.ID))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if walBatchSize < 1 {
		walBatchSize = 1
	}

	pending := make([]kernel.Record, 0, walBatchSize)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := h.Kernel.Upsert(ctx, pending); err != nil {
			return fmt.Errorf("failed to apply replay batch for region %d: %w", h.ID, err)
		}
		pending = pending[:0]
		return nil
	}

	for {
		entry, err := src.Next(ctx)
		if err != nil {
			return lastIndex, appliedCount, fmt.Errorf("wal replay failed for region %d: %w", h.ID, err)
		}
		if entry == nil {
			break
		}

		switch entry.EntryType {
		case core.EntryTypeVectorAdd:
			adds, err := core.DecodeVectorAddPayload(entry.Payload)
			if err != nil {
				return lastIndex, appliedCount, fmt.Errorf("region %d: %w", h.ID, err)
			}
			for _, a := range adds {
				pending = append(pending, kernel.Record{ID: a.ID, Vector: a.Vector})
			}
			appliedCount += len(adds)
			if len(pending) >= walBatchSize {
				if err := flush(); err != nil {
					return lastIndex, appliedCount, err
				}
			}
		case core.EntryTypeVectorDelete:
			if err := flush(); err != nil {
				return lastIndex, appliedCount, err
			}
			ids, err := core.DecodeVectorDeletePayload(entry.Payload)
			if err != nil {
				return lastIndex, appliedCount, fmt.Errorf("region %d: %w", h.ID, err)
			}
			if err := h.Kernel.Delete(ctx, ids); err != nil {
				return lastIndex, appliedCount, fmt.Errorf("failed to apply replay delete for region %d: %w", h.ID, err)
			}
			appliedCount += len(ids)
		default:
			logger.Warn("unknown WAL entry type during replay", "region_id", h.ID, "entry_type", entry.EntryType, "index", entry.Index)
		}

		lastIndex = entry.Index
	}

	if err := flush(); err != nil {
		return lastIndex, appliedCount, err
	}

	h.SetApplyLogIndex(lastIndex)
	return lastIndex, appliedCount, nil
}

// ReplayVectorWal wraps ReplayWal with PreReplayWal/PostReplayWal hook
// events. startLogID is the apply log index h was at before replay began.
func (m *Manager) ReplayVectorWal(ctx context.Context, h *Handle, src WalEntrySource, startLogID uint64) (uint64, error) {
	if err := m.Hooks.Trigger(ctx, hooks.NewPreReplayWalEvent(hooks.ReplayWalPayload{
		VectorIndexID: h.ID,
		StartLogID:    startLogID,
	})); err != nil {
		return startLogID, fmt.Errorf("PreReplayWal hook vetoed region %d: %w", h.ID, err)
	}

	lastIndex, appliedCount, err := ReplayWal(ctx, m.logger, h, src, m.indexCfg.WalReplayBatchSize)

	_ = m.Hooks.Trigger(ctx, hooks.NewPostReplayWalEvent(hooks.PostReplayWalPayload{
		VectorIndexID:  h.ID,
		AppliedCount:   appliedCount,
		LastAppliedIdx: lastIndex,
		Error:          err,
	}))
	return lastIndex, err
}
