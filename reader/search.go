package reader

import (
	"context"
	"fmt"
	"time"

	"github.com/vshard/vectorindex/core"
	"github.com/vshard/vectorindex/hooks"
	"github.com/vshard/vectorindex/kernel"
	"github.com/RoaringBitmap/roaring/roaring64"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// VectorBatchSearch runs every query in queries against regionID's index
// under the pipeline params.Mode selects, returning one result list per
// query in the same order.
func (r *Reader) VectorBatchSearch(ctx context.Context, regionID uint64, dataPrefix, scalarPrefix, tablePrefix []byte, minID, maxID uint64, queries []Query, params SearchParams) ([][]SearchResult, error) {
	results, _, err := r.batchSearch(ctx, regionID, dataPrefix, scalarPrefix, tablePrefix, minID, maxID, queries, params, false)
	return results, err
}

// DebugTiming carries the per-call timing breakdown VectorBatchSearchDebug
// records, mirroring the source system's *Debug query variants.
type DebugTiming struct {
	DeserializationTimeUS int64
	ScanScalarTimeUS      int64
	SearchTimeUS          int64
}

// VectorBatchSearchDebug is VectorBatchSearch plus a DebugTiming breakdown,
// also attached to the enclosing span as attributes.
func (r *Reader) VectorBatchSearchDebug(ctx context.Context, regionID uint64, dataPrefix, scalarPrefix, tablePrefix []byte, minID, maxID uint64, queries []Query, params SearchParams) ([][]SearchResult, DebugTiming, error) {
	return r.batchSearch(ctx, regionID, dataPrefix, scalarPrefix, tablePrefix, minID, maxID, queries, params, true)
}

func (r *Reader) batchSearch(ctx context.Context, regionID uint64, dataPrefix, scalarPrefix, tablePrefix []byte, minID, maxID uint64, queries []Query, params SearchParams, debug bool) (results [][]SearchResult, timing DebugTiming, err error) {
	ctx, span := tracer.Start(ctx, "Reader.VectorBatchSearch", trace.WithAttributes(
		attribute.Int64("region_id", int64(regionID)), attribute.Int("query_count", len(queries)),
	))
	defer span.End()

	h, err := r.handle(regionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, timing, err
	}

	if params.Mode == TableFilter {
		return nil, timing, core.ErrUnsupported
	}

	searchStartedAt := time.Now()
	if err := r.manager.Hooks.Trigger(ctx, hooks.NewPreSearchEvent(hooks.SearchPayload{
		VectorIndexID: regionID,
		TopN:          &params.TopN,
	})); err != nil {
		return nil, timing, fmt.Errorf("PreSearch hook vetoed region %d: %w", regionID, err)
	}
	var resultCount int
	defer func() {
		_ = r.manager.Hooks.Trigger(ctx, hooks.NewPostSearchEvent(hooks.PostSearchPayload{
			VectorIndexID: regionID,
			ResultCount:   resultCount,
			Duration:      time.Since(searchStartedAt),
			Error:         err,
		}))
	}()

	rangeFilter := kernel.RangeFilter(minID, maxID)
	pushdown := rangeFilter

	if params.Mode == ScalarFilterPre {
		scanStart := time.Now()
		ids, err := r.scanScalarMatches(ctx, scalarPrefix, params.ScalarFilter)
		if err != nil {
			return nil, timing, err
		}
		timing.ScanScalarTimeUS = time.Since(scanStart).Microseconds()
		pushdown = kernel.And(rangeFilter, kernel.IDListFilter(ids))
	} else if params.Mode == VectorIDFilter && params.IDFilter != nil {
		pushdown = kernel.And(rangeFilter, kernel.IDListFilter(params.IDFilter))
	}

	topN := params.TopN
	searchN := topN
	if params.Mode == ScalarFilterPost && len(params.ScalarFilter) > 0 {
		searchN = topN * overscanFactor
	}

	out := make([][]SearchResult, len(queries))
	searchStart := time.Now()
	for i, q := range queries {
		hits, err := h.Kernel.SearchTopN(ctx, q.Vector, searchN, pushdown)
		if err != nil {
			return nil, timing, fmt.Errorf("kernel search failed for region %d: %w", regionID, err)
		}

		results := make([]SearchResult, 0, len(hits))
		for _, hit := range hits {
			res := SearchResult{ID: hit.ID, Distance: hit.Distance}
			if params.Mode == ScalarFilterPost && len(params.ScalarFilter) > 0 {
				scalar, ok, err := r.readScalar(ctx, scalarPrefix, hit.ID)
				if err != nil {
					return nil, timing, err
				}
				if !ok || !scalar.MatchesFilter(params.ScalarFilter) {
					continue
				}
				res.Scalar = scalar
			}
			results = append(results, res)
			if len(results) == topN {
				break
			}
		}

		deserStart := time.Now()
		if err := r.hydrate(ctx, dataPrefix, scalarPrefix, tablePrefix, results, params); err != nil {
			return nil, timing, err
		}
		timing.DeserializationTimeUS += time.Since(deserStart).Microseconds()

		out[i] = results
	}
	timing.SearchTimeUS = time.Since(searchStart).Microseconds()

	if debug {
		span.SetAttributes(
			attribute.Int64("deserialization_id_time_us", timing.DeserializationTimeUS),
			attribute.Int64("scan_scalar_time_us", timing.ScanScalarTimeUS),
			attribute.Int64("search_time_us", timing.SearchTimeUS),
		)
	}
	for _, hits := range out {
		resultCount += len(hits)
	}
	return out, timing, nil
}

// hydrate fills in vector/scalar/table bytes results didn't already carry,
// per params' With* flags.
func (r *Reader) hydrate(ctx context.Context, dataPrefix, scalarPrefix, tablePrefix []byte, results []SearchResult, params SearchParams) error {
	for i := range results {
		id := results[i].ID
		if params.WithVectorData && results[i].Vector == nil {
			raw, ok, err := r.kv.Get(ctx, core.EncodeVectorKey(dataPrefix, id))
			if err != nil {
				return fmt.Errorf("failed to read vector %d: %w", id, err)
			}
			if ok {
				vec, err := core.DecodeVector(raw)
				if err != nil {
					return fmt.Errorf("corrupt vector payload for id %d: %w", id, err)
				}
				results[i].Vector = vec
			}
		}
		if params.WithScalarData && results[i].Scalar == nil {
			scalar, ok, err := r.readScalar(ctx, scalarPrefix, id)
			if err != nil {
				return err
			}
			if ok {
				results[i].Scalar = scalar
			}
		}
		if params.WithTableData && results[i].Table == nil {
			table, ok, err := r.kv.Get(ctx, core.EncodeVectorKey(tablePrefix, id))
			if err != nil {
				return fmt.Errorf("failed to read table data %d: %w", id, err)
			}
			if ok {
				results[i].Table = table
			}
		}
	}
	return nil
}

// scanScalarMatches scans the entire scalar keyspace under scalarPrefix,
// returning the ids of every record whose scalar data matches filter.
func (r *Reader) scanScalarMatches(ctx context.Context, scalarPrefix []byte, filter core.ScalarData) (*roaring64.Bitmap, error) {
	it, err := r.kv.NewIterator(ctx, scalarPrefix, prefixUpperBound(scalarPrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to open scalar scan iterator: %w", err)
	}
	defer it.Close()

	out := roaring64.New()
	for it.Next() {
		id, ok := core.DecodeVectorID(it.Key())
		if !ok {
			continue
		}
		data, err := core.DecodeScalarData(it.Value())
		if err != nil {
			return nil, fmt.Errorf("corrupt scalar payload for id %d: %w", id, err)
		}
		if data.MatchesFilter(filter) {
			out.Add(id)
		}
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("scalar scan iterator failed: %w", err)
	}
	return out, nil
}

// prefixUpperBound returns the lexicographically smallest key strictly
// greater than every key sharing prefix, giving an exclusive scan bound one
// past the last key in that keyspace.
func prefixUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		if bound[i] < 0xff {
			bound[i]++
			return bound[:i+1]
		}
	}
	return nil
}
