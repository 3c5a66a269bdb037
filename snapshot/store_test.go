package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/vshard/vectorindex/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustMkdir(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(path, 0755))
}

func TestFormatAndParseSnapshotDirName(t *testing.T) {
	name := FormatSnapshotDirName(42)
	assert.Equal(t, "snapshot_00000000000000000042", name)

	logID, ok := ParseSnapshotDirName(name)
	require.True(t, ok)
	assert.Equal(t, uint64(42), logID)

	_, ok = ParseSnapshotDirName("tmp_12345")
	assert.False(t, ok)

	_, ok = ParseSnapshotDirName("snapshot_bad")
	assert.False(t, ok)
}

func TestStore_AddRefusesDuplicateLogID(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, nil)
	ctx := context.Background()

	snap := Snapshot{VectorIndexID: 1, LogID: 10, Dir: filepath.Join(root, "1", "snapshot_00000000000000000010")}
	applied, err := store.Add(ctx, snap)
	require.NoError(t, err)
	assert.True(t, applied)

	_, err = store.Add(ctx, snap)
	require.Error(t, err)
	assert.True(t, core.IsVectorError(err, core.KindSnapshotExists))
}

func TestStore_LastReturnsGreatestLogID(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, nil)
	ctx := context.Background()

	for _, logID := range []uint64{5, 20, 15} {
		_, err := store.Add(ctx, Snapshot{VectorIndexID: 1, LogID: logID, Dir: root})
		require.NoError(t, err)
	}

	last, ok := store.Last(1)
	require.True(t, ok)
	assert.Equal(t, uint64(20), last.LogID)

	_, ok = store.Last(999)
	assert.False(t, ok)
}

func TestStore_Has(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, nil)
	ctx := context.Background()
	_, err := store.Add(ctx, Snapshot{VectorIndexID: 1, LogID: 20, Dir: root})
	require.NoError(t, err)

	assert.True(t, store.Has(1, 10))
	assert.True(t, store.Has(1, 20))
	assert.False(t, store.Has(1, 21))
	assert.False(t, store.Has(2, 0))
}

func TestStore_OpenScansExistingDirectories(t *testing.T) {
	root := t.TempDir()
	mustMkdir(t, filepath.Join(root, "7", FormatSnapshotDirName(3)))
	mustMkdir(t, filepath.Join(root, "7", FormatSnapshotDirName(9)))
	mustMkdir(t, filepath.Join(root, "7", "tmp_123456"))
	mustMkdir(t, filepath.Join(root, "not-a-number"))

	store := NewStore(root, nil)
	require.NoError(t, store.Open(context.Background()))

	all := store.All(7)
	assert.Len(t, all, 2)

	last, ok := store.Last(7)
	require.True(t, ok)
	assert.Equal(t, uint64(9), last.LogID)
}

func TestStore_DeleteRemovesCatalogAndDisk(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "1", FormatSnapshotDirName(1))
	mustMkdir(t, dir)

	store := NewStore(root, nil)
	ctx := context.Background()
	snap := Snapshot{VectorIndexID: 1, LogID: 1, Dir: dir}
	_, err := store.Add(ctx, snap)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, snap))

	_, ok := store.Last(1)
	assert.False(t, ok)
	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestStore_PublishRenamesAndPrunesOlder(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, nil)
	ctx := context.Background()

	staging1 := filepath.Join(root, FormatTmpDirName())
	mustMkdir(t, staging1)
	require.NoError(t, store.Publish(ctx, 1, 5, staging1))

	last, ok := store.Last(1)
	require.True(t, ok)
	assert.Equal(t, uint64(5), last.LogID)

	staging2 := filepath.Join(root, FormatTmpDirName())
	mustMkdir(t, staging2)
	require.NoError(t, store.Publish(ctx, 1, 10, staging2))

	all := store.All(1)
	require.Len(t, all, 1, "publish must prune every strictly-older snapshot")
	assert.Equal(t, uint64(10), all[0].LogID)
}

func TestStore_PublishRejectsAlreadyPresentLogID(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, nil)
	ctx := context.Background()

	staging := filepath.Join(root, FormatTmpDirName())
	mustMkdir(t, staging)
	require.NoError(t, store.Publish(ctx, 1, 10, staging))

	staging2 := filepath.Join(root, FormatTmpDirName())
	mustMkdir(t, staging2)
	err := store.Publish(ctx, 1, 10, staging2)
	require.Error(t, err)
	assert.True(t, core.IsVectorError(err, core.KindSnapshotExists))
}

func TestMeta_WriteAndRead(t *testing.T) {
	dir := t.TempDir()
	m := Meta{VectorIndexID: 1, ApplyLogIndex: 42, Codec: "zstd", Filenames: []string{"index_1_42.idx"}}
	require.NoError(t, WriteMeta(dir, m))

	got, err := ReadMeta(dir)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}
