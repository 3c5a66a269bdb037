package indexmgr

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/vshard/vectorindex/core"
	"github.com/vshard/vectorindex/hooks"
	"github.com/vshard/vectorindex/kernel"
	"github.com/vshard/vectorindex/wal"
)

type kvRow struct{ key, value []byte }

// fakeKVStore is a minimal in-memory KVStore backing a sorted slice of rows,
// enough to exercise a prefix scan the way BuildVectorIndex issues one.
type fakeKVStore struct{ rows []kvRow }

func newFakeKVStore(rows ...kvRow) *fakeKVStore { return &fakeKVStore{rows: rows} }

func (f *fakeKVStore) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	for _, r := range f.rows {
		if bytes.Equal(r.key, key) {
			return r.value, true, nil
		}
	}
	return nil, false, nil
}

func (f *fakeKVStore) NewIterator(ctx context.Context, start, end []byte) (KVIterator, error) {
	var filtered []kvRow
	for _, r := range f.rows {
		if bytes.Compare(r.key, start) < 0 {
			continue
		}
		if end != nil && bytes.Compare(r.key, end) >= 0 {
			continue
		}
		filtered = append(filtered, r)
	}
	return &fakeIterator{rows: filtered, idx: -1}, nil
}

type fakeIterator struct {
	rows []kvRow
	idx  int
}

func (it *fakeIterator) Next() bool  { it.idx++; return it.idx < len(it.rows) }
func (it *fakeIterator) Key() []byte { return it.rows[it.idx].key }
func (it *fakeIterator) Value() []byte {
	return it.rows[it.idx].value
}
func (it *fakeIterator) Error() error { return nil }
func (it *fakeIterator) Close() error { return nil }

// fakeMetaStore is a mutex-guarded in-memory MetaStore.
type fakeMetaStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeMetaStore() *fakeMetaStore {
	return &fakeMetaStore{data: make(map[string][]byte)}
}

func (f *fakeMetaStore) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[string(key)]
	return v, ok, nil
}

func (f *fakeMetaStore) Put(ctx context.Context, key, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[string(key)] = value
	return nil
}

func (f *fakeMetaStore) Delete(ctx context.Context, key []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, string(key))
	return nil
}

// fakeWalSource replays a fixed slice of WAL entries, then signals end of
// stream with a nil entry and nil error, matching wal.StreamReader.Next.
type fakeWalSource struct {
	entries []*core.WALEntry
	idx     int
}

func (f *fakeWalSource) Next(ctx context.Context) (*core.WALEntry, error) {
	if f.idx >= len(f.entries) {
		return nil, nil
	}
	e := f.entries[f.idx]
	f.idx++
	return e, nil
}

// fakeRaftRole reports a fixed leadership answer for every region.
type fakeRaftRole struct{ leader bool }

func (f fakeRaftRole) IsLeader(regionID uint64) bool { return f.leader }

// recordingKernel wraps a *kernel.FlatKernel, recording the size of every
// batch passed to Upsert so tests can assert on flush boundaries.
type recordingKernel struct {
	*kernel.FlatKernel
	mu      sync.Mutex
	batches [][]kernel.Record
}

func newRecordingKernel() *recordingKernel {
	k, err := kernel.NewFlatKernel(nil)
	if err != nil {
		panic(err)
	}
	return &recordingKernel{FlatKernel: k.(*kernel.FlatKernel)}
}

func (k *recordingKernel) Upsert(ctx context.Context, records []kernel.Record) error {
	k.mu.Lock()
	batchCopy := append([]kernel.Record(nil), records...)
	k.batches = append(k.batches, batchCopy)
	k.mu.Unlock()
	return k.FlatKernel.Upsert(ctx, records)
}

func (k *recordingKernel) batchSizes() []int {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]int, len(k.batches))
	for i, b := range k.batches {
		out[i] = len(b)
	}
	return out
}

func vectorRow(prefix []byte, id uint64, vec []float32) kvRow {
	return kvRow{key: core.EncodeVectorKey(prefix, id), value: core.EncodeVector(vec)}
}

// fakeWAL records every index passed to Purge and can be told to fail it,
// enough to exercise SaveVectorIndex's WAL-purge wiring without a real WAL.
// It also serves NewStreamReader from a fixed in-memory log so LoadOrBuild's
// and Rebuild's replay wiring can be exercised without a real WAL.
type fakeWAL struct {
	purged   []uint64
	purgeErr error

	log         []*core.WALEntry
	streamErr   error
	streamReads []uint64 // fromSeqNum passed to every NewStreamReader call

	// perCall, when non-nil, hands back perCall[callIndex] verbatim instead
	// of filtering log by fromSeqNum, letting a test simulate the WAL
	// growing between Rebuild's first and second replay rounds.
	perCall [][]*core.WALEntry
}

func (w *fakeWAL) AppendBatch(entries []core.WALEntry) error { return nil }
func (w *fakeWAL) Append(entry core.WALEntry) error           { return nil }
func (w *fakeWAL) Sync() error                                { return nil }
func (w *fakeWAL) Purge(upToIndex uint64) error {
	w.purged = append(w.purged, upToIndex)
	return w.purgeErr
}
func (w *fakeWAL) Close() error                             { return nil }
func (w *fakeWAL) Path() string                             { return "" }
func (w *fakeWAL) SetTestingOnlyInjectCloseError(err error)  {}
func (w *fakeWAL) ActiveSegmentIndex() uint64                { return 0 }
func (w *fakeWAL) Rotate() error                             { return nil }
func (w *fakeWAL) NewStreamReader(fromSeqNum uint64) (wal.StreamReader, error) {
	if w.streamErr != nil {
		return nil, w.streamErr
	}
	callIndex := len(w.streamReads)
	w.streamReads = append(w.streamReads, fromSeqNum)

	if w.perCall != nil {
		var entries []*core.WALEntry
		if callIndex < len(w.perCall) {
			entries = w.perCall[callIndex]
		}
		return &fakeStreamReader{fakeWalSource: fakeWalSource{entries: entries}}, nil
	}

	var tail []*core.WALEntry
	for _, e := range w.log {
		if e.Index > fromSeqNum {
			tail = append(tail, e)
		}
	}
	return &fakeStreamReader{fakeWalSource: fakeWalSource{entries: tail}}, nil
}

// fakeStreamReader adapts fakeWalSource to wal.StreamReader by adding a
// no-op Close.
type fakeStreamReader struct {
	fakeWalSource
}

func (f *fakeStreamReader) Close() error { return nil }

// captureNoopListener records the SkippedNoop field of the next
// PostSaveSnapshot event into out.
type captureNoopListener struct{ out *bool }

func (l *captureNoopListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	if p, ok := event.Payload().(hooks.PostSaveSnapshotPayload); ok {
		*l.out = p.SkippedNoop
	}
	return nil
}

func (l *captureNoopListener) Priority() int { return 0 }
func (l *captureNoopListener) IsAsync() bool { return false }

func mustFlatKernel() kernel.Kernel {
	k, err := kernel.NewFlatKernel(nil)
	if err != nil {
		panic(fmt.Sprintf("NewFlatKernel: %v", err))
	}
	return k
}
