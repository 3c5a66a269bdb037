package reader

import (
	"bytes"
	"context"
	"sort"

	"github.com/vshard/vectorindex/config"
	"github.com/vshard/vectorindex/core"
	"github.com/vshard/vectorindex/indexmgr"
	"github.com/vshard/vectorindex/kernel"
	"github.com/vshard/vectorindex/snapshot"
)

type kvRow struct {
	key   []byte
	value []byte
}

type fakeKVStore struct {
	rows []kvRow
}

func newFakeKVStore(rows ...kvRow) *fakeKVStore {
	sorted := make([]kvRow, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i].key, sorted[j].key) < 0 })
	return &fakeKVStore{rows: sorted}
}

func (s *fakeKVStore) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	for _, r := range s.rows {
		if bytes.Equal(r.key, key) {
			return r.value, true, nil
		}
	}
	return nil, false, nil
}

func (s *fakeKVStore) NewIterator(ctx context.Context, start, end []byte) (indexmgr.KVIterator, error) {
	var rows []kvRow
	for _, r := range s.rows {
		if bytes.Compare(r.key, start) < 0 {
			continue
		}
		if end != nil && bytes.Compare(r.key, end) >= 0 {
			continue
		}
		rows = append(rows, r)
	}
	return &fakeIterator{rows: rows, idx: -1}, nil
}

type fakeIterator struct {
	rows []kvRow
	idx  int
}

func (it *fakeIterator) Next() bool {
	it.idx++
	return it.idx < len(it.rows)
}
func (it *fakeIterator) Key() []byte   { return it.rows[it.idx].key }
func (it *fakeIterator) Value() []byte { return it.rows[it.idx].value }
func (it *fakeIterator) Error() error  { return nil }
func (it *fakeIterator) Close() error  { return nil }

type fakeMetaStore struct{ rows map[string][]byte }

func newFakeMetaStore() *fakeMetaStore { return &fakeMetaStore{rows: make(map[string][]byte)} }

func (s *fakeMetaStore) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	v, ok := s.rows[string(key)]
	return v, ok, nil
}
func (s *fakeMetaStore) Put(ctx context.Context, key, value []byte) error {
	s.rows[string(key)] = value
	return nil
}
func (s *fakeMetaStore) Delete(ctx context.Context, key []byte) error {
	delete(s.rows, string(key))
	return nil
}

type fakeRaftRole struct{ leader bool }

func (f fakeRaftRole) IsLeader(regionID uint64) bool { return f.leader }

// vectorRow encodes a data-keyspace row under prefix the way BuildVectorIndex
// expects to scan it.
func vectorRow(prefix []byte, id uint64, vec []float32) kvRow {
	return kvRow{key: core.EncodeVectorKey(prefix, id), value: core.EncodeVector(vec)}
}

// scalarRow encodes a scalar-keyspace row under prefix.
func scalarRow(prefix []byte, id uint64, data core.ScalarData) kvRow {
	raw, err := core.EncodeScalarData(data)
	if err != nil {
		panic(err)
	}
	return kvRow{key: core.EncodeVectorKey(prefix, id), value: raw}
}

type testingT interface {
	Helper()
	TempDir() string
	Fatalf(string, ...interface{})
}

// testReader builds a Reader against a Manager whose regionID index was
// built (via the real LoadOrBuild path) from whatever data-keyspace rows kv
// already contains for that region.
func testReader(t testingT, kv indexmgr.KVStore, regionID uint64) *Reader {
	t.Helper()
	dir := t.TempDir()
	store := snapshot.NewStore(dir, nil)
	if err := store.Open(context.Background()); err != nil {
		t.Fatalf("store.Open: %v", err)
	}

	factories := map[string]kernel.Factory{"flat": kernel.NewFlatKernel}
	m := indexmgr.NewManager(
		nil,
		config.IndexConfig{LoadConcurrency: 1, BuildBatchSize: 4, WalReplayBatchSize: 4, RebuildQuiescePollInterval: "10ms"},
		config.SnapshotConfig{RootDir: dir, Compression: "none", MaxErrorPayloadBytes: 4096},
		config.ScrubConfig{Interval: "1s", SaveBehindThreshold: 10, RebuildBehindThreshold: 100},
		factories,
		kv,
		newFakeMetaStore(),
		store,
		nil,
		fakeRaftRole{leader: true},
		nil,
	)

	region := core.Region{ID: regionID, KernelType: "flat"}
	if err := m.LoadOrBuild(context.Background(), region); err != nil {
		t.Fatalf("LoadOrBuild: %v", err)
	}

	return New(m, kv, nil)
}
