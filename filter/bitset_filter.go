// Package filter implements the bitset predicate evaluated during HNSW
// traversal and brute-force scanning.
package filter

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// BitsetFilter is a read-only bitmap predicate over internal offsets, plus
// an optional indirection (outIDs) from internal offset to an external id
// space. Grounded on the teacher's metadata bitmap usage
// (internal/metadata/bitmap.go), generalized into the dedicated Test/
// Count/Selectivity/Narrow/Remap/FirstValidInPartition contract named in
// SPEC_FULL.md §4.9.
type BitsetFilter struct {
	bits    *roaring.Bitmap
	outIDs  []uint64 // internal offset -> external id, nil if identity
	hasOut  bool
}

// New wraps an existing roaring bitmap as a BitsetFilter with identity
// offset mapping. A nil bits yields a filter that passes every row.
func New(bits *roaring.Bitmap) *BitsetFilter {
	return &BitsetFilter{bits: bits}
}

// NewFromOffsets builds a BitsetFilter from a plain list of passing
// internal offsets.
func NewFromOffsets(offsets []uint64) *BitsetFilter {
	bits := roaring.New()
	for _, o := range offsets {
		bits.Add(uint32(o))
	}
	return &BitsetFilter{bits: bits}
}

// WithOutIDs returns a copy of f with an internal-offset -> external-id
// indirection attached (the out_ids remap named in spec.md §3).
func (f *BitsetFilter) WithOutIDs(outIDs []uint64) *BitsetFilter {
	return &BitsetFilter{bits: f.bits, outIDs: outIDs, hasOut: true}
}

// HasOutIDs reports whether this filter carries an out_ids indirection.
func (f *BitsetFilter) HasOutIDs() bool { return f.hasOut }

// Test evaluates the predicate at internal offset.
func (f *BitsetFilter) Test(offset uint64) bool {
	if f == nil || f.bits == nil {
		return true
	}
	return f.bits.Contains(uint32(offset))
}

// Count returns the number of set bits.
func (f *BitsetFilter) Count() uint64 {
	if f == nil || f.bits == nil {
		return 0
	}
	return f.bits.GetCardinality()
}

// Selectivity returns the fraction of n rows that pass the filter.
func (f *BitsetFilter) Selectivity(n uint64) float64 {
	if n == 0 {
		return 0
	}
	return float64(f.Count()) / float64(n)
}

// Narrow returns the partition-local bitset view over the half-open range
// [lo, hi): every set bit in that range is re-based to start at 0. This is
// the "recompute a partition-local bitset view" step of the MV partitioner
// search path (spec.md §4.6).
func (f *BitsetFilter) Narrow(lo, hi uint64) *BitsetFilter {
	out := roaring.New()
	if f == nil || f.bits == nil {
		for i := lo; i < hi; i++ {
			out.Add(uint32(i - lo))
		}
		return &BitsetFilter{bits: out}
	}
	it := f.bits.Iterator()
	it.AdvanceIfNeeded(uint32(lo))
	for it.HasNext() {
		v := uint64(it.Next())
		if v >= hi {
			break
		}
		out.Add(uint32(v - lo))
	}
	return &BitsetFilter{bits: out}
}

// Remap applies the out_ids indirection described in spec.md §3, returning
// a filter expressed against outIDs instead of raw internal offsets.
func (f *BitsetFilter) Remap(outIDs []uint64) *BitsetFilter {
	return f.WithOutIDs(outIDs)
}

// FirstValidInPartition returns the first set bit in [lo, hi), used by
// getIndexToSearchByScalarInfo to pick which partition a query touches.
func (f *BitsetFilter) FirstValidInPartition(lo, hi uint64) (uint64, bool) {
	if f == nil || f.bits == nil {
		if lo < hi {
			return lo, true
		}
		return 0, false
	}
	it := f.bits.Iterator()
	it.AdvanceIfNeeded(uint32(lo))
	if !it.HasNext() {
		return 0, false
	}
	v := uint64(it.Next())
	if v >= hi {
		return 0, false
	}
	return v, true
}

// FirstValid returns the first set bit anywhere in the filter.
func (f *BitsetFilter) FirstValid() (uint64, bool) {
	if f == nil || f.bits == nil || f.bits.IsEmpty() {
		return 0, false
	}
	return uint64(f.bits.Minimum()), true
}
