// Package partition implements the materialized-view (MV) partitioner of
// spec.md §4.6: bucketing a training set by a scalar key into one HNSW
// sub-index per bucket group, and resolving a query's bitset filter down
// to the single partition it touches. No teacher precedent exists for
// this (the teacher has no MV sharding), so it is grounded directly on
// spec.md §3's PartitionedIndex entity and §4.6's combining rule and
// getIndexToSearchByScalarInfo description.
package partition

import (
	"errors"
	"fmt"
	"sort"

	"github.com/vecnode/vecnode/filter"
)

// ErrNoValidBit is returned when a bitset filter has no set bit that
// resolves to a row inside any partition — spec.md §7's "no valid bit in
// the bitset that lies in any partition" invalid_args case.
var ErrNoValidBit = errors.New("partition: no valid bit in bitset falls within any partition")

// ErrMultipleFieldIDs is returned when SCALAR_INFO carries more than one
// field_id — spec.md §4.6's "only one field_id's SCALAR_INFO is accepted".
var ErrMultipleFieldIDs = errors.New("partition: multiple scalar infos not supported")

// Bucket is one scalar-key value's row-id list, in the traversal order
// those rows should be concatenated in when a bucket group becomes a
// partition.
type Bucket struct {
	Value uint64
	Rows  []uint64 // external labels
}

// ScalarInfo is the SCALAR_INFO input of spec.md §4.6: one field_id's
// buckets. Buckets are kept as an ordered slice (not a map) so the
// combining rule below is deterministic given the caller's bucket order.
type ScalarInfo struct {
	FieldID uint64
	Buckets []Bucket
}

// FromFieldMap builds a ScalarInfo from a field_id -> buckets map,
// rejecting the multi-field_id case spec.md §4.6 calls out explicitly.
func FromFieldMap(raw map[uint64][]Bucket) (ScalarInfo, error) {
	if len(raw) != 1 {
		return ScalarInfo{}, ErrMultipleFieldIDs
	}
	for fieldID, buckets := range raw {
		return ScalarInfo{FieldID: fieldID, Buckets: buckets}, nil
	}
	panic("unreachable")
}

// Plan is the PartitionedIndex layout of spec.md §3: per-partition label
// lists, the index_rows_sum prefix-sum array, and the inverse
// label_to_internal_offset map (invariants 2 and 3).
type Plan struct {
	Labels                [][]uint64
	IndexRowsSum          []uint64
	LabelToInternalOffset map[uint64]uint64
}

// NumPartitions reports the number of sub-indexes the plan describes.
func (p *Plan) NumPartitions() int { return len(p.Labels) }

// PartitionRange returns the half-open [lo, hi) internal-offset range
// owned by partition i.
func (p *Plan) PartitionRange(i int) (lo, hi uint64) {
	return p.IndexRowsSum[i], p.IndexRowsSum[i+1]
}

// PartitionIndexOf returns which partition owns internal offset, via the
// same upper_bound(index_rows_sum, offset) - 1 rule SelectPartition uses.
func (p *Plan) PartitionIndexOf(offset uint64) (int, bool) {
	i := upperBound(p.IndexRowsSum, offset) - 1
	if i < 0 || i >= len(p.Labels) {
		return 0, false
	}
	return i, true
}

// PartitionOf returns which partition owns an external label, via
// LabelToInternalOffset then PartitionIndexOf.
func (p *Plan) PartitionOf(label uint64) (int, bool) {
	offset, ok := p.LabelToInternalOffset[label]
	if !ok {
		return 0, false
	}
	return p.PartitionIndexOf(offset)
}

// ConcatLabels returns the full offsetToLabel mapping: plan.Labels
// concatenated in partition order, i.e. the inverse of
// LabelToInternalOffset.
func (p *Plan) ConcatLabels() []uint64 {
	total := p.IndexRowsSum[len(p.IndexRowsSum)-1]
	out := make([]uint64, 0, total)
	for _, labels := range p.Labels {
		out = append(out, labels...)
	}
	return out
}

// Build applies spec.md §4.6's combining rule: sort bucket indices by
// ascending size (stable, so equal-size buckets keep their input order),
// greedily accumulate buckets into the current group until its size
// reaches baseRows, then start a new group; a tail group smaller than
// baseRows is merged into the last finished group (or emitted alone if it
// is the only group). baseRows is 128 for flat/SQ, 2^nbits for PQ/PRQ, per
// the caller's quantizer choice.
func Build(info ScalarInfo, baseRows int) (*Plan, error) {
	if baseRows <= 0 {
		baseRows = 1
	}
	n := len(info.Buckets)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return len(info.Buckets[order[i]].Rows) < len(info.Buckets[order[j]].Rows)
	})

	var groups [][]int
	var current []int
	currentSize := 0
	for _, bi := range order {
		current = append(current, bi)
		currentSize += len(info.Buckets[bi].Rows)
		if currentSize >= baseRows {
			groups = append(groups, current)
			current = nil
			currentSize = 0
		}
	}
	if len(current) > 0 {
		if len(groups) > 0 {
			groups[len(groups)-1] = append(groups[len(groups)-1], current...)
		} else {
			groups = append(groups, current)
		}
	}

	plan := &Plan{
		Labels:                make([][]uint64, len(groups)),
		IndexRowsSum:          make([]uint64, len(groups)+1),
		LabelToInternalOffset: make(map[uint64]uint64),
	}
	var rowSum uint64
	for gi, group := range groups {
		var labels []uint64
		for _, bi := range group {
			labels = append(labels, info.Buckets[bi].Rows...)
		}
		plan.Labels[gi] = labels
		plan.IndexRowsSum[gi] = rowSum
		for offset, label := range labels {
			plan.LabelToInternalOffset[label] = rowSum + uint64(offset)
		}
		rowSum += uint64(len(labels))
	}
	plan.IndexRowsSum[len(groups)] = rowSum
	return plan, nil
}

// SelectPartition implements getIndexToSearchByScalarInfo (spec.md §4.6):
// find the bitset's first valid bit, resolve it to a global internal
// offset (directly, if the filter already carries an out_ids indirection;
// otherwise through label_to_internal_offset), locate the owning
// partition via upper_bound(index_rows_sum, offset) - 1, and narrow the
// filter to that partition's local offset range.
func (p *Plan) SelectPartition(f *filter.BitsetFilter) (int, *filter.BitsetFilter, error) {
	bit, ok := f.FirstValid()
	if !ok {
		return 0, nil, ErrNoValidBit
	}

	offset := bit
	if !f.HasOutIDs() {
		resolved, ok := p.LabelToInternalOffset[bit]
		if !ok {
			return 0, nil, fmt.Errorf("%w: label %d has no internal offset", ErrNoValidBit, bit)
		}
		offset = resolved
	}

	part := upperBound(p.IndexRowsSum, offset) - 1
	if part < 0 || part >= len(p.Labels) {
		return 0, nil, fmt.Errorf("%w: offset %d falls outside every partition range", ErrNoValidBit, offset)
	}

	lo, hi := p.PartitionRange(part)
	return part, f.Narrow(lo, hi), nil
}

// upperBound returns the index of the first element of sums strictly
// greater than offset (sums is non-decreasing, per invariant 2).
func upperBound(sums []uint64, offset uint64) int {
	return sort.Search(len(sums), func(i int) bool { return sums[i] > offset })
}
