// Package reader implements read-only vector queries against a region's
// published index Handle, filling in scalar/table side data and full vector
// bytes from the key-value engine on demand. It never mutates a Handle or the
// underlying kernel; all writes flow through indexmgr.
package reader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vshard/vectorindex/core"
	"github.com/vshard/vectorindex/indexmgr"
	"github.com/RoaringBitmap/roaring/roaring64"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/vshard/vectorindex/reader")

// Record is a fully or partially materialized vector record, shaped by which
// With* flags a query set.
type Record struct {
	ID     uint64
	Vector []float32
	Scalar core.ScalarData
	Table  []byte
}

// FilterMode selects which of the four filter pipelines VectorBatchSearch
// runs.
type FilterMode int

const (
	// ScalarFilterPost searches wide (topN*10) then filters and truncates.
	ScalarFilterPost FilterMode = iota
	// VectorIDFilter pushes a caller-supplied id allow-list into the kernel.
	VectorIDFilter
	// ScalarFilterPre scans the scalar keyspace to build an id allow-list,
	// then pushes it into the kernel.
	ScalarFilterPre
	// TableFilter is not implemented; every call using it fails fast with
	// core.ErrUnsupported.
	TableFilter
)

// overscanFactor is how much wider the kernel search runs in ScalarFilterPost
// mode before local filtering truncates back down to TopN.
const overscanFactor = 10

// Query is one search request within a VectorBatchSearch batch.
type Query struct {
	Vector []float32
}

// SearchParams configures a VectorBatchSearch call.
type SearchParams struct {
	Mode           FilterMode
	TopN           int
	ScalarFilter   core.ScalarData
	IDFilter       *roaring64.Bitmap
	WithVectorData bool
	WithScalarData bool
	WithTableData  bool
}

// SearchResult is one hit within a single query's result list.
type SearchResult struct {
	ID       uint64
	Distance float32
	Vector   []float32
	Scalar   core.ScalarData
	Table    []byte
}

// RegionMetrics summarizes a region's index at query time.
type RegionMetrics struct {
	CurrentCount int
	DeletedCount int
	MemoryBytes  int64
	MinID        uint64
	MaxID        uint64
}

// Reader answers read queries against indices published by manager, filling
// in side data from kv.
type Reader struct {
	manager *indexmgr.Manager
	kv      indexmgr.KVStore
	logger  *slog.Logger
}

// New constructs a Reader.
func New(manager *indexmgr.Manager, kv indexmgr.KVStore, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{manager: manager, kv: kv, logger: logger.With("component", "reader")}
}

func (r *Reader) handle(regionID uint64) (*indexmgr.Handle, error) {
	h, ok := r.manager.Handles.Get(regionID)
	if !ok {
		return nil, core.ErrVectorIndexNotFound
	}
	if h.Status() != indexmgr.StatusNormal {
		return nil, core.NewRegionUnavailableError(h.Status().String(), fmt.Sprintf("region %d index not ready for reads", regionID))
	}
	return h, nil
}

// QueryVectorWithID looks up a single record by id within the region
// identified by dataPrefix's partition.
func (r *Reader) QueryVectorWithID(ctx context.Context, regionID uint64, dataPrefix []byte, id uint64, withVector bool) (Record, bool, error) {
	ctx, span := tracer.Start(ctx, "Reader.QueryVectorWithID", trace.WithAttributes(
		attribute.Int64("region_id", int64(regionID)), attribute.Int64("vector_id", int64(id)),
	))
	defer span.End()

	if _, err := r.handle(regionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Record{}, false, err
	}

	key := core.EncodeVectorKey(dataPrefix, id)
	raw, ok, err := r.kv.Get(ctx, key)
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to read vector %d for region %d: %w", id, regionID, err)
	}
	if !ok {
		return Record{}, false, nil
	}

	rec := Record{ID: id}
	if withVector {
		vec, err := core.DecodeVector(raw)
		if err != nil {
			return Record{}, false, fmt.Errorf("corrupt vector payload for id %d: %w", id, err)
		}
		rec.Vector = vec
	}
	return rec, true, nil
}

// VectorBatchQuery looks up a batch of ids, returning a result slice aligned
// with ids; a miss at position i is reported as a zero Record.
func (r *Reader) VectorBatchQuery(ctx context.Context, regionID uint64, dataPrefix, scalarPrefix, tablePrefix []byte, ids []uint64, withScalar, withTable bool) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "Reader.VectorBatchQuery", trace.WithAttributes(attribute.Int64("region_id", int64(regionID)), attribute.Int("count", len(ids))))
	defer span.End()

	if _, err := r.handle(regionID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out := make([]Record, len(ids))
	for i, id := range ids {
		raw, ok, err := r.kv.Get(ctx, core.EncodeVectorKey(dataPrefix, id))
		if err != nil {
			return nil, fmt.Errorf("failed to read vector %d for region %d: %w", id, regionID, err)
		}
		if !ok {
			continue
		}
		vec, err := core.DecodeVector(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt vector payload for id %d: %w", id, err)
		}
		rec := Record{ID: id, Vector: vec}
		if withScalar {
			if scalar, ok, err := r.readScalar(ctx, scalarPrefix, id); err != nil {
				return nil, err
			} else if ok {
				rec.Scalar = scalar
			}
		}
		if withTable {
			if table, ok, err := r.kv.Get(ctx, core.EncodeVectorKey(tablePrefix, id)); err != nil {
				return nil, fmt.Errorf("failed to read table data %d for region %d: %w", id, regionID, err)
			} else if ok {
				rec.Table = table
			}
		}
		out[i] = rec
	}
	return out, nil
}

func (r *Reader) readScalar(ctx context.Context, scalarPrefix []byte, id uint64) (core.ScalarData, bool, error) {
	raw, ok, err := r.kv.Get(ctx, core.EncodeVectorKey(scalarPrefix, id))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read scalar data %d: %w", id, err)
	}
	if !ok {
		return nil, false, nil
	}
	data, err := core.DecodeScalarData(raw)
	if err != nil {
		return nil, false, fmt.Errorf("corrupt scalar payload for id %d: %w", id, err)
	}
	return data, true, nil
}
