package reader

import (
	"context"
	"fmt"

	"github.com/vshard/vectorindex/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// reservedSentinelMin and reservedSentinelMax are vector ids that never
// denote a real record and are skipped during scans and border lookups.
const (
	reservedSentinelMin uint64 = 0
	reservedSentinelMax        = ^uint64(0)
)

// VectorGetBorderID returns the minimum (min=true) or maximum (min=false)
// live vector id under dataPrefix. The underlying KVIterator collaborator
// only iterates forward, so both directions cost a full scan of the
// keyspace; ok is false if the keyspace is empty.
func (r *Reader) VectorGetBorderID(ctx context.Context, regionID uint64, dataPrefix []byte, min bool) (uint64, bool, error) {
	ctx, span := tracer.Start(ctx, "Reader.VectorGetBorderID", trace.WithAttributes(attribute.Int64("region_id", int64(regionID)), attribute.Bool("min", min)))
	defer span.End()

	if _, err := r.handle(regionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, false, err
	}

	it, err := r.kv.NewIterator(ctx, dataPrefix, prefixUpperBound(dataPrefix))
	if err != nil {
		return 0, false, fmt.Errorf("failed to open border scan iterator: %w", err)
	}
	defer it.Close()

	found := false
	var border uint64
	for it.Next() {
		id, ok := core.DecodeVectorID(it.Key())
		if !ok || id == reservedSentinelMin || id == reservedSentinelMax {
			continue
		}
		if !found {
			border = id
			found = true
			if min {
				break
			}
			continue
		}
		if !min {
			border = id
		}
	}
	if err := it.Error(); err != nil {
		return 0, false, fmt.Errorf("border scan iterator failed: %w", err)
	}
	return border, found, nil
}

// VectorScanQuery returns ids under dataPrefix in key order within
// [startID, endID) (or (endID, startID] when reverse), optionally filtered by
// scalar equality, up to limit results.
func (r *Reader) VectorScanQuery(ctx context.Context, regionID uint64, dataPrefix, scalarPrefix []byte, startID, endID uint64, reverse bool, limit int, scalarFilter core.ScalarData) ([]uint64, error) {
	ctx, span := tracer.Start(ctx, "Reader.VectorScanQuery", trace.WithAttributes(attribute.Int64("region_id", int64(regionID)), attribute.Bool("reverse", reverse)))
	defer span.End()

	if _, err := r.handle(regionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	it, err := r.kv.NewIterator(ctx, core.EncodeVectorKey(dataPrefix, 0), prefixUpperBound(dataPrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to open scan iterator: %w", err)
	}
	defer it.Close()

	var ids []uint64
	for it.Next() {
		id, ok := core.DecodeVectorID(it.Key())
		if !ok || id == reservedSentinelMin || id == reservedSentinelMax {
			continue
		}
		if reverse {
			if id <= endID || id > startID {
				continue
			}
		} else {
			if id < startID || (endID != 0 && id >= endID) {
				continue
			}
		}
		if len(scalarFilter) > 0 {
			scalar, ok, err := r.readScalar(ctx, scalarPrefix, id)
			if err != nil {
				return nil, err
			}
			if !ok || !scalar.MatchesFilter(scalarFilter) {
				continue
			}
		}
		ids = append(ids, id)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("scan iterator failed: %w", err)
	}

	if reverse {
		for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
			ids[i], ids[j] = ids[j], ids[i]
		}
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// VectorGetRegionMetrics reports the live record count and id bounds for
// regionID's index. DeletedCount and MemoryBytes are always 0: the opaque
// Kernel interface (a Non-goal seam) exposes neither tombstone counts nor
// memory usage, since those are specific to whichever real ANN
// implementation is plugged in behind it.
func (r *Reader) VectorGetRegionMetrics(ctx context.Context, regionID uint64, dataPrefix []byte) (RegionMetrics, error) {
	ctx, span := tracer.Start(ctx, "Reader.VectorGetRegionMetrics", trace.WithAttributes(attribute.Int64("region_id", int64(regionID))))
	defer span.End()

	h, err := r.handle(regionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return RegionMetrics{}, err
	}

	metrics := RegionMetrics{CurrentCount: h.Kernel.Count()}
	if minID, ok, err := r.VectorGetBorderID(ctx, regionID, dataPrefix, true); err != nil {
		return RegionMetrics{}, err
	} else if ok {
		metrics.MinID = minID
	}
	if maxID, ok, err := r.VectorGetBorderID(ctx, regionID, dataPrefix, false); err != nil {
		return RegionMetrics{}, err
	} else if ok {
		metrics.MaxID = maxID
	}
	return metrics, nil
}
