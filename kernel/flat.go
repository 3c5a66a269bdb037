package kernel

import (
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"sort"
	"sync"
)

// FlatKernel is a deterministic, brute-force in-memory Kernel used for
// testing the lifecycle and snapshot subsystem without depending on a real
// similarity search library. Distance is squared Euclidean; ties break on
// ascending id for reproducible ordering.
type FlatKernel struct {
	mu   sync.RWMutex
	data map[uint64][]float32
}

var _ Kernel = (*FlatKernel)(nil)

// NewFlatKernel constructs an empty FlatKernel. It matches the kernel.Factory
// signature (params is ignored).
func NewFlatKernel(params []byte) (Kernel, error) {
	return &FlatKernel{data: make(map[uint64][]float32)}, nil
}

func (k *FlatKernel) Upsert(ctx context.Context, records []Record) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, r := range records {
		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		k.data[r.ID] = vec
	}
	return nil
}

func (k *FlatKernel) Delete(ctx context.Context, ids []uint64) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, id := range ids {
		delete(k.data, id)
	}
	return nil
}

func squaredDistance(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func (k *FlatKernel) SearchTopN(ctx context.Context, query []float32, topN int, filter Filter) ([]SearchResult, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	results := make([]SearchResult, 0, len(k.data))
	for id, vec := range k.data {
		if !filter.Allows(id) {
			continue
		}
		results = append(results, SearchResult{ID: id, Distance: squaredDistance(query, vec)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
	if topN >= 0 && topN < len(results) {
		results = results[:topN]
	}
	return results, nil
}

func (k *FlatKernel) Count() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.data)
}

func (k *FlatKernel) SupportsFilter(kind FilterKind) bool {
	switch kind {
	case FilterNone, FilterRange, FilterIDList:
		return true
	default:
		return false
	}
}

// flatFrozenView is FlatKernel's structural-sharing point-in-time view: a new
// map header pointing at the same immutable vector slices, taken under
// FlatKernel's write lock so concurrent Upsert/Delete cannot race the copy.
type flatFrozenView struct {
	data map[uint64][]float32
}

func (k *FlatKernel) Freeze(ctx context.Context) (FrozenView, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	snapshot := make(map[uint64][]float32, len(k.data))
	for id, vec := range k.data {
		snapshot[id] = vec
	}
	return &flatFrozenView{data: snapshot}, nil
}

func (v *flatFrozenView) Count() int {
	return len(v.data)
}

func (v *flatFrozenView) Save(w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(v.data); err != nil {
		return fmt.Errorf("failed to encode flat kernel snapshot: %w", err)
	}
	return nil
}

func (k *FlatKernel) Load(r io.Reader) error {
	var data map[uint64][]float32
	if err := gob.NewDecoder(r).Decode(&data); err != nil {
		return fmt.Errorf("failed to decode flat kernel snapshot: %w", err)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.data = data
	return nil
}
