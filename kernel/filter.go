package kernel

import "github.com/RoaringBitmap/roaring/roaring64"

// FilterKind tags which variant of Filter is populated, replacing dynamic
// dispatch over filter functors with a small closed set a kernel can
// advertise support for via SupportsFilter.
type FilterKind int

const (
	// FilterNone matches every id.
	FilterNone FilterKind = iota
	// FilterRange matches MinID <= id < MaxID.
	FilterRange
	// FilterIDList matches ids present in IDs.
	FilterIDList
)

// Filter is a tagged variant of the kernel-level allow-list a search can be
// constrained by. The always-on region range filter and an optional
// user-supplied id allow-list are combined via And before being pushed into
// a kernel's SearchTopN.
type Filter struct {
	Kind  FilterKind
	MinID uint64
	MaxID uint64
	IDs   *roaring64.Bitmap
}

// RangeFilter builds a [min, max) id-range filter.
func RangeFilter(min, max uint64) Filter {
	return Filter{Kind: FilterRange, MinID: min, MaxID: max}
}

// IDListFilter builds an allow-list filter from a set of ids.
func IDListFilter(ids *roaring64.Bitmap) Filter {
	return Filter{Kind: FilterIDList, IDs: ids}
}

// Allows reports whether id satisfies f.
func (f Filter) Allows(id uint64) bool {
	switch f.Kind {
	case FilterRange:
		return id >= f.MinID && id < f.MaxID
	case FilterIDList:
		return f.IDs != nil && f.IDs.Contains(id)
	default:
		return true
	}
}

// And combines two filters, matching only ids both allow. If either filter
// is FilterNone, the other is returned unchanged. At least one of the two
// must be an id-list filter; two range filters are not combined.
func And(a, b Filter) Filter {
	if a.Kind == FilterNone {
		return b
	}
	if b.Kind == FilterNone {
		return a
	}
	return Filter{Kind: FilterIDList, IDs: intersect(a, b)}
}

func intersect(a, b Filter) *roaring64.Bitmap {
	out := roaring64.New()
	if a.Kind == FilterIDList && b.Kind == FilterIDList {
		out.Or(a.IDs)
		out.And(b.IDs)
		return out
	}
	// A range filter has no native bitmap, so the id list is walked and an
	// id is kept only if the range also allows it.
	list, rng := a, b
	if b.Kind == FilterIDList {
		list, rng = b, a
	}
	it := list.IDs.Iterator()
	for it.HasNext() {
		if id := it.Next(); rng.Allows(id) {
			out.Add(id)
		}
	}
	return out
}
