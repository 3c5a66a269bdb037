package kernel

import (
	"bytes"
	"context"
	"testing"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatKernel_UpsertAndSearch(t *testing.T) {
	k, err := NewFlatKernel(nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, k.Upsert(ctx, []Record{
		{ID: 1, Vector: []float32{0, 0}},
		{ID: 2, Vector: []float32{1, 0}},
		{ID: 3, Vector: []float32{5, 5}},
	}))
	assert.Equal(t, 3, k.Count())

	results, err := k.SearchTopN(ctx, []float32{0, 0}, 2, Filter{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, uint64(1), results[0].ID)
	assert.Equal(t, uint64(2), results[1].ID)
}

func TestFlatKernel_DeleteRemovesRecord(t *testing.T) {
	k, _ := NewFlatKernel(nil)
	ctx := context.Background()
	require.NoError(t, k.Upsert(ctx, []Record{{ID: 1, Vector: []float32{0}}}))
	require.NoError(t, k.Delete(ctx, []uint64{1}))
	assert.Equal(t, 0, k.Count())

	require.NoError(t, k.Delete(ctx, []uint64{999}), "deleting a missing id is not an error")
}

func TestFlatKernel_SearchRespectsRangeFilter(t *testing.T) {
	k, _ := NewFlatKernel(nil)
	ctx := context.Background()
	require.NoError(t, k.Upsert(ctx, []Record{
		{ID: 1, Vector: []float32{0}},
		{ID: 5, Vector: []float32{0}},
		{ID: 10, Vector: []float32{0}},
	}))

	results, err := k.SearchTopN(ctx, []float32{0}, 10, RangeFilter(2, 10))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(5), results[0].ID)
}

func TestFlatKernel_SearchRespectsIDListFilter(t *testing.T) {
	k, _ := NewFlatKernel(nil)
	ctx := context.Background()
	require.NoError(t, k.Upsert(ctx, []Record{
		{ID: 1, Vector: []float32{0}},
		{ID: 2, Vector: []float32{0}},
		{ID: 3, Vector: []float32{0}},
	}))

	allow := roaring64.New()
	allow.Add(1)
	allow.Add(3)

	results, err := k.SearchTopN(ctx, []float32{0}, 10, IDListFilter(allow))
	require.NoError(t, err)
	ids := []uint64{results[0].ID, results[1].ID}
	assert.ElementsMatch(t, []uint64{1, 3}, ids)
}

func TestFlatKernel_FreezeSaveLoadRoundTrip(t *testing.T) {
	k, _ := NewFlatKernel(nil)
	ctx := context.Background()
	require.NoError(t, k.Upsert(ctx, []Record{
		{ID: 1, Vector: []float32{1, 2, 3}},
		{ID: 2, Vector: []float32{4, 5, 6}},
	}))

	frozen, err := k.Freeze(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, frozen.Count())

	var buf bytes.Buffer
	require.NoError(t, frozen.Save(&buf))

	// Mutate the source kernel after freezing; the frozen view must be
	// unaffected because Freeze snapshots the map header under lock.
	require.NoError(t, k.Upsert(ctx, []Record{{ID: 3, Vector: []float32{0, 0, 0}}}))
	assert.Equal(t, 2, frozen.Count())

	loaded, err := NewFlatKernel(nil)
	require.NoError(t, err)
	require.NoError(t, loaded.Load(&buf))
	assert.Equal(t, 2, loaded.Count())
}

func TestAnd_CombinesTwoIDListFilters(t *testing.T) {
	a := roaring64.New()
	a.Add(1)
	a.Add(2)
	b := roaring64.New()
	b.Add(2)
	b.Add(3)

	combined := And(IDListFilter(a), IDListFilter(b))
	assert.True(t, combined.Allows(2))
	assert.False(t, combined.Allows(1))
	assert.False(t, combined.Allows(3))
}

func TestAnd_NoneIsIdentity(t *testing.T) {
	r := RangeFilter(0, 10)
	assert.Equal(t, r, And(Filter{Kind: FilterNone}, r))
	assert.Equal(t, r, And(r, Filter{Kind: FilterNone}))
}
