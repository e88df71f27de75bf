// Package bruteforce implements the linear-scan fallback search path used
// when the HNSW graph's filter selectivity makes beam search unreliable,
// per spec.md §4.2.
package bruteforce

import (
	"github.com/vecnode/vecnode/core"
	"github.com/vecnode/vecnode/filter"
	"github.com/vecnode/vecnode/hnsw"
	"github.com/vecnode/vecnode/internal/queue"
)

// Config carries the knobs WhetherPerformBruteForceSearch needs. K is a
// pointer so a caller that never set it (a missing required parameter, per
// spec.md §4.2) is distinguishable from K == 0.
type Config struct {
	K *int

	// CountThreshold: below this many passing rows, prefer brute force
	// outright regardless of ratio.
	CountThreshold uint64

	// SelectivityThreshold: below this passing/total ratio, prefer brute
	// force. It plays the role hnsw.Config.BFFilterThreshold plays in the
	// adaptive-filter computation, but the two are separate fields and are
	// not kept in sync.
	SelectivityThreshold float64

	// EFThreshold is the range-search analogue named in spec.md §4.2 ("The
	// range-search analogue uses an ef threshold instead."): below this
	// ratio of ef to total rows, range search also prefers brute force.
	EFThreshold float64
}

// WhetherPerformBruteForceSearch decides the top-k search dispatch.
// Returns nil when a required parameter (k) is missing, true when brute
// force should run, false when graph search suffices.
func WhetherPerformBruteForceSearch(cfg Config, passing, total uint64) *bool {
	if cfg.K == nil {
		return nil
	}
	return decide(cfg, passing, total)
}

// WhetherPerformBruteForceRangeSearch is the range-search analogue: it
// requires ef instead of k, prefers brute force when ef/total falls below
// EFThreshold, and otherwise applies the same count/selectivity rules.
func WhetherPerformBruteForceRangeSearch(cfg Config, ef int, passing, total uint64) *bool {
	if ef <= 0 {
		return nil
	}
	if cfg.EFThreshold > 0 && total > 0 && float64(ef)/float64(total) < cfg.EFThreshold {
		yes := true
		return &yes
	}
	return decide(cfg, passing, total)
}

func decide(cfg Config, passing, total uint64) *bool {
	yes, no := true, false
	if passing < cfg.CountThreshold {
		return &yes
	}
	if total > 0 && float64(passing)/float64(total) < cfg.SelectivityThreshold {
		return &yes
	}
	return &no
}

// Search performs the brute-force top-k scan: iterate every row in
// storage, evaluate the filter, compute distance via the storage's own
// distance computer (so compressed and flat storage are scanned the same
// way), keep the best k by the min-heap sign convention spec.md invariant
// 6 requires. Grounded on the teacher's linear fallback scan, generalized
// to the abstract hnsw.Storage/DistanceComputer pair so it works over any
// quantized storage as well as flat.
func Search(storage hnsw.Storage, q []float32, k int, f *filter.BitsetFilter) ([]core.LocalID, []float32, error) {
	if k <= 0 {
		return nil, nil, nil
	}
	computer := storage.NewDistanceComputer()
	computer.SetQuery(q)

	top := queue.NewMax(k)
	n := storage.Len()
	for i := 0; i < n; i++ {
		id := core.LocalID(i)
		if !f.Test(uint64(id)) {
			continue
		}
		d := computer.Distance(id)
		if top.Len() < k {
			top.PushItem(queue.PriorityQueueItem{Node: uint32(id), Distance: d})
		} else if worst, ok := top.TopItem(); ok && d < worst.Distance {
			top.PopItem()
			top.PushItem(queue.PriorityQueueItem{Node: uint32(id), Distance: d})
		}
	}

	return drainAscending(top)
}

// RangeSearch performs the brute-force radius scan: same iteration as
// Search, but keeps every filter-passing row within radius instead of
// bounding to k.
func RangeSearch(storage hnsw.Storage, q []float32, radius float32, f *filter.BitsetFilter) ([]core.LocalID, []float32, error) {
	computer := storage.NewDistanceComputer()
	computer.SetQuery(q)

	all := queue.NewMax(storage.Len())
	n := storage.Len()
	for i := 0; i < n; i++ {
		id := core.LocalID(i)
		if !f.Test(uint64(id)) {
			continue
		}
		d := computer.Distance(id)
		if d <= radius {
			all.PushItem(queue.PriorityQueueItem{Node: uint32(id), Distance: d})
		}
	}

	return drainAscending(all)
}

func drainAscending(pq *queue.PriorityQueue) ([]core.LocalID, []float32, error) {
	n := pq.Len()
	ids := make([]core.LocalID, n)
	dists := make([]float32, n)
	for i := n - 1; i >= 0; i-- {
		item, _ := pq.PopItem()
		ids[i] = core.LocalID(item.Node)
		dists[i] = item.Distance
	}
	return ids, dists, nil
}
