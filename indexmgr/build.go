package indexmgr

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vshard/vectorindex/core"
	"github.com/vshard/vectorindex/kernel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// BuildVectorIndex performs a full scan of kv's keyspace under prefix,
// batching records into h.Kernel in groups of batchSize, and installs
// atLogIndex as the resulting handle's apply log index. h must already have
// transitioned into StatusBuilding or StatusRebuilding by the caller.
//
// Records are flushed every batchSize-th record (count % batchSize == 0),
// not merely whenever the running batch first reaches batchSize entries and
// never again after a later trim, so a scan that shrinks and regrows the
// pending batch still flushes on every batch boundary.
//
// A row whose value fails to decode is logged at Warn and skipped rather
// than aborting the whole scan; one corrupt record shouldn't fail a build
// that would otherwise succeed for every other row under the prefix.
func BuildVectorIndex(ctx context.Context, logger *slog.Logger, h *Handle, kv KVStore, prefix []byte, batchSize int, atLogIndex uint64) (err error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, span := tracer.Start(ctx, "BuildVectorIndex", trace.WithAttributes(
		attribute.Int64("region_id", int64(h.ID)),
		attribute.Int("batch_size", batchSize),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if batchSize < 1 {
		batchSize = 1
	}

	end := prefixUpperBound(prefix)
	it, err := kv.NewIterator(ctx, prefix, end)
	if err != nil {
		return fmt.Errorf("failed to open build iterator for region %d: %w", h.ID, err)
	}
	defer it.Close()

	batch := make([]kernel.Record, 0, batchSize)
	var count int

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := h.Kernel.Upsert(ctx, batch); err != nil {
			return fmt.Errorf("failed to upsert build batch for region %d: %w", h.ID, err)
		}
		batch = batch[:0]
		return nil
	}

	for it.Next() {
		id, ok := core.DecodeVectorID(it.Key())
		if !ok {
			continue
		}
		vec, err := core.DecodeVector(it.Value())
		if err != nil {
			logger.Warn("skipping corrupt vector row during build", "region_id", h.ID, "vector_id", id, "error", err)
			continue
		}
		if len(vec) == 0 {
			continue
		}
		batch = append(batch, kernel.Record{ID: id, Vector: vec})
		count++
		if count%batchSize == 0 {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("build scan failed for region %d: %w", h.ID, err)
	}
	if err := flush(); err != nil {
		return err
	}

	h.SetApplyLogIndex(atLogIndex)
	span.SetAttributes(attribute.Int("records_built", count))
	return nil
}

// prefixUpperBound returns the smallest key strictly greater than every key
// starting with prefix, used as the exclusive end bound of a prefix scan.
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
