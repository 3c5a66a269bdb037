package reader

import (
	"context"
	"testing"

	"github.com/vshard/vectorindex/core"
	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryVectorWithID_ReturnsStoredVector(t *testing.T) {
	prefix := core.FillVectorDataPrefix(1)
	kv := newFakeKVStore(vectorRow(prefix, 5, []float32{1, 2, 3}))
	r := testReader(t, kv, 1)

	rec, ok, err := r.QueryVectorWithID(context.Background(), 1, prefix, 5, true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, rec.Vector)
}

func TestQueryVectorWithID_MissingIDReturnsNotFound(t *testing.T) {
	prefix := core.FillVectorDataPrefix(1)
	kv := newFakeKVStore(vectorRow(prefix, 5, []float32{1}))
	r := testReader(t, kv, 1)

	_, ok, err := r.QueryVectorWithID(context.Background(), 1, prefix, 999, true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueryVectorWithID_UnknownRegionFails(t *testing.T) {
	kv := newFakeKVStore()
	r := testReader(t, kv, 1)

	_, _, err := r.QueryVectorWithID(context.Background(), 2, core.FillVectorDataPrefix(2), 1, true)
	assert.True(t, core.IsVectorError(err, core.KindVectorIndexNotFound))
}

func TestVectorBatchQuery_AlignsResultsWithMisses(t *testing.T) {
	prefix := core.FillVectorDataPrefix(1)
	scalarPrefix := core.FillVectorScalarPrefix(1)
	kv := newFakeKVStore(
		vectorRow(prefix, 1, []float32{1}),
		vectorRow(prefix, 3, []float32{3}),
		scalarRow(scalarPrefix, 1, core.ScalarData{"tag": "a"}),
	)
	r := testReader(t, kv, 1)

	recs, err := r.VectorBatchQuery(context.Background(), 1, prefix, scalarPrefix, nil, []uint64{1, 2, 3}, true, false)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []float32{1}, recs[0].Vector)
	assert.Equal(t, "a", recs[0].Scalar["tag"])
	assert.Nil(t, recs[1].Vector, "id 2 is a miss")
	assert.Equal(t, []float32{3}, recs[2].Vector)
}

func TestVectorBatchSearch_ScalarFilterPostTruncatesToTopN(t *testing.T) {
	prefix := core.FillVectorDataPrefix(1)
	scalarPrefix := core.FillVectorScalarPrefix(1)
	kv := newFakeKVStore(
		vectorRow(prefix, 1, []float32{0}),
		vectorRow(prefix, 2, []float32{1}),
		vectorRow(prefix, 3, []float32{2}),
		scalarRow(scalarPrefix, 1, core.ScalarData{"kind": "a"}),
		scalarRow(scalarPrefix, 2, core.ScalarData{"kind": "b"}),
		scalarRow(scalarPrefix, 3, core.ScalarData{"kind": "a"}),
	)
	r := testReader(t, kv, 1)

	results, err := r.VectorBatchSearch(context.Background(), 1, prefix, scalarPrefix, nil, 0, 100,
		[]Query{{Vector: []float32{0}}},
		SearchParams{Mode: ScalarFilterPost, TopN: 1, ScalarFilter: core.ScalarData{"kind": "a"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0], 1)
	assert.Equal(t, uint64(1), results[0][0].ID)
}

func TestVectorBatchSearch_VectorIDFilterRestrictsCandidates(t *testing.T) {
	prefix := core.FillVectorDataPrefix(1)
	kv := newFakeKVStore(
		vectorRow(prefix, 1, []float32{0}),
		vectorRow(prefix, 2, []float32{0}),
		vectorRow(prefix, 3, []float32{0}),
	)
	r := testReader(t, kv, 1)

	allow := roaring64.New()
	allow.Add(2)

	results, err := r.VectorBatchSearch(context.Background(), 1, prefix, nil, nil, 0, 100,
		[]Query{{Vector: []float32{0}}},
		SearchParams{Mode: VectorIDFilter, TopN: 10, IDFilter: allow})
	require.NoError(t, err)
	require.Len(t, results[0], 1)
	assert.Equal(t, uint64(2), results[0][0].ID)
}

func TestVectorBatchSearch_ScalarFilterPrePushesBitmapIntoKernel(t *testing.T) {
	prefix := core.FillVectorDataPrefix(1)
	scalarPrefix := core.FillVectorScalarPrefix(1)
	kv := newFakeKVStore(
		vectorRow(prefix, 1, []float32{0}),
		vectorRow(prefix, 2, []float32{0}),
		scalarRow(scalarPrefix, 1, core.ScalarData{"kind": "keep"}),
		scalarRow(scalarPrefix, 2, core.ScalarData{"kind": "drop"}),
	)
	r := testReader(t, kv, 1)

	results, err := r.VectorBatchSearch(context.Background(), 1, prefix, scalarPrefix, nil, 0, 100,
		[]Query{{Vector: []float32{0}}},
		SearchParams{Mode: ScalarFilterPre, TopN: 10, ScalarFilter: core.ScalarData{"kind": "keep"}})
	require.NoError(t, err)
	require.Len(t, results[0], 1)
	assert.Equal(t, uint64(1), results[0][0].ID)
}

func TestVectorBatchSearch_TableFilterIsUnsupported(t *testing.T) {
	prefix := core.FillVectorDataPrefix(1)
	kv := newFakeKVStore(vectorRow(prefix, 1, []float32{0}))
	r := testReader(t, kv, 1)

	_, err := r.VectorBatchSearch(context.Background(), 1, prefix, nil, nil, 0, 100,
		[]Query{{Vector: []float32{0}}}, SearchParams{Mode: TableFilter, TopN: 1})
	assert.True(t, core.IsVectorError(err, core.KindUnsupported))
}

func TestVectorBatchSearch_HydratesRequestedSideData(t *testing.T) {
	prefix := core.FillVectorDataPrefix(1)
	scalarPrefix := core.FillVectorScalarPrefix(1)
	kv := newFakeKVStore(
		vectorRow(prefix, 1, []float32{0, 1}),
		scalarRow(scalarPrefix, 1, core.ScalarData{"tag": "x"}),
	)
	r := testReader(t, kv, 1)

	results, err := r.VectorBatchSearch(context.Background(), 1, prefix, scalarPrefix, nil, 0, 100,
		[]Query{{Vector: []float32{0, 1}}},
		SearchParams{Mode: ScalarFilterPost, TopN: 1, WithVectorData: true, WithScalarData: true})
	require.NoError(t, err)
	require.Len(t, results[0], 1)
	assert.Equal(t, []float32{0, 1}, results[0][0].Vector)
	assert.Equal(t, "x", results[0][0].Scalar["tag"])
}

func TestVectorGetBorderID_ReturnsMinAndMax(t *testing.T) {
	prefix := core.FillVectorDataPrefix(1)
	kv := newFakeKVStore(
		vectorRow(prefix, 5, []float32{0}),
		vectorRow(prefix, 1, []float32{0}),
		vectorRow(prefix, 9, []float32{0}),
	)
	r := testReader(t, kv, 1)

	min, ok, err := r.VectorGetBorderID(context.Background(), 1, prefix, true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), min)

	max, ok, err := r.VectorGetBorderID(context.Background(), 1, prefix, false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(9), max)
}

func TestVectorGetBorderID_EmptyKeyspace(t *testing.T) {
	prefix := core.FillVectorDataPrefix(7)
	kv := newFakeKVStore()
	r := testReader(t, kv, 7)

	_, ok, err := r.VectorGetBorderID(context.Background(), 7, prefix, true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVectorScanQuery_AscendingWithScalarFilter(t *testing.T) {
	prefix := core.FillVectorDataPrefix(1)
	scalarPrefix := core.FillVectorScalarPrefix(1)
	kv := newFakeKVStore(
		vectorRow(prefix, 1, []float32{0}),
		vectorRow(prefix, 2, []float32{0}),
		vectorRow(prefix, 3, []float32{0}),
		scalarRow(scalarPrefix, 1, core.ScalarData{"kind": "a"}),
		scalarRow(scalarPrefix, 2, core.ScalarData{"kind": "b"}),
		scalarRow(scalarPrefix, 3, core.ScalarData{"kind": "a"}),
	)
	r := testReader(t, kv, 1)

	ids, err := r.VectorScanQuery(context.Background(), 1, prefix, scalarPrefix, 1, 0, false, 10, core.ScalarData{"kind": "a"})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 3}, ids)
}

func TestVectorScanQuery_DescendingRespectsLimit(t *testing.T) {
	prefix := core.FillVectorDataPrefix(1)
	kv := newFakeKVStore(
		vectorRow(prefix, 1, []float32{0}),
		vectorRow(prefix, 2, []float32{0}),
		vectorRow(prefix, 3, []float32{0}),
	)
	r := testReader(t, kv, 1)

	ids, err := r.VectorScanQuery(context.Background(), 1, prefix, nil, 3, 0, true, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 2}, ids)
}

func TestVectorGetRegionMetrics_ReportsCountAndBounds(t *testing.T) {
	prefix := core.FillVectorDataPrefix(1)
	kv := newFakeKVStore(
		vectorRow(prefix, 1, []float32{0}),
		vectorRow(prefix, 4, []float32{0}),
	)
	r := testReader(t, kv, 1)

	metrics, err := r.VectorGetRegionMetrics(context.Background(), 1, prefix)
	require.NoError(t, err)
	assert.Equal(t, 2, metrics.CurrentCount)
	assert.Equal(t, uint64(1), metrics.MinID)
	assert.Equal(t, uint64(4), metrics.MaxID)
}

func TestVectorBatchSearchDebug_RecordsTiming(t *testing.T) {
	prefix := core.FillVectorDataPrefix(1)
	kv := newFakeKVStore(vectorRow(prefix, 1, []float32{0}))
	r := testReader(t, kv, 1)

	_, timing, err := r.VectorBatchSearchDebug(context.Background(), 1, prefix, nil, nil, 0, 100,
		[]Query{{Vector: []float32{0}}}, SearchParams{Mode: ScalarFilterPost, TopN: 1})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, timing.SearchTimeUS, int64(0))
}
