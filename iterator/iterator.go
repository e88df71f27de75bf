// Package iterator implements the stateful, resumable HNSW traversal of
// spec.md §4.5: Next() drives graph expansion on demand, yielding one
// surviving (filter-passing) candidate per call instead of computing a
// full result set up front. Grounded on the teacher's hnsw/hnsw.go
// searchLayer (bitset.BitSet visited tracking, min-heap candidates /
// max-heap topCandidates), split into an initial beam pass and an
// incremental pop-expand-yield loop that persists its frontier across
// calls instead of returning it.
package iterator

import (
	"math"

	"github.com/bits-and-blooms/bitset"

	"github.com/vecnode/vecnode/core"
	"github.com/vecnode/vecnode/filter"
	"github.com/vecnode/vecnode/hnsw"
	"github.com/vecnode/vecnode/internal/queue"
)

// Config carries the construction parameters named in spec.md §4.5.
type Config struct {
	EF             int
	Filter         *filter.BitsetFilter
	LargerIsCloser bool // true for IP/COSINE: invert the sign before yielding
	BFFilterThreshold float64

	// RefineStorage, if non-nil, is consulted to re-score every yielded id
	// via raw_distance(id) instead of the base graph's (possibly
	// quantized) distance.
	RefineStorage hnsw.Storage

	// Labels maps this sub-index's local offset to an external label; nil
	// means identity (label = PartitionBase + local offset), per spec.md
	// §4.5's "IDs are remapped through the partition's label table".
	Labels        []uint64
	PartitionBase uint64
}

// Workspace is the persistent state of one iterator, per spec.md §3's
// IteratorWorkspace entity: a visited-nodes bitmap, query-bound
// computers, a persistent min-heap frontier, accumulated-alpha, and the
// initial-search-done flag.
type Workspace struct {
	graph  *hnsw.Graph
	cfg    Config
	query  []float32

	computer       hnsw.DistanceComputer
	refineComputer hnsw.DistanceComputer

	visited *bitset.BitSet
	toVisit *queue.PriorityQueue // persistent min-heap frontier

	pendingYield []queue.PriorityQueueItem // initial-batch survivors, drained one at a time
	pendingIdx   int

	accumulatedAlpha float64
	kAlpha           float64
	initialSearchDone bool

	ntotal       int
	visitedCount int
	fallbackNext core.LocalID // next unvisited id to try when the frontier runs dry
}

// New constructs an iterator over graph for query. query is not cloned by
// the caller's choice here (callers that need isolation should pass a
// copy), mirroring spec.md §4.5's "the query vector (cloned)" requirement
// one level up, at the facade that owns the original dataset buffer.
func New(graph *hnsw.Graph, query []float32, cfg Config) *Workspace {
	computer := graph.GetDistanceComputer()
	computer.SetQuery(query)

	var refineComputer hnsw.DistanceComputer
	if cfg.RefineStorage != nil {
		refineComputer = cfg.RefineStorage.NewDistanceComputer()
		refineComputer.SetQuery(query)
	}

	ef := cfg.EF
	if ef <= 0 {
		ef = 1
	}
	cfg.EF = ef

	n := graph.Len()
	return &Workspace{
		graph:          graph,
		cfg:            cfg,
		query:          query,
		computer:       computer,
		refineComputer: refineComputer,
		visited:        bitset.New(uint(n)),
		toVisit:        queue.NewMin(ef * 2),
		ntotal:         n,
	}
}

// Next returns the next surviving candidate: its external label, its
// distance (refined and sign-corrected per spec.md §4.5), and true; or
// false once the frontier and fallback scan are both exhausted.
func (w *Workspace) Next() (uint64, float32, bool, error) {
	if !w.initialSearchDone {
		if err := w.initialSearch(); err != nil {
			return 0, 0, false, err
		}
		w.initialSearchDone = true
	}

	for {
		if w.pendingIdx < len(w.pendingYield) {
			item := w.pendingYield[w.pendingIdx]
			w.pendingIdx++
			label, dist := w.emit(core.LocalID(item.Node), item.Distance)
			return label, dist, true, nil
		}

		if w.toVisit.Len() == 0 && !w.refillFallback() {
			return 0, 0, false, nil
		}
		item, ok := w.toVisit.PopItem()
		if !ok {
			continue
		}
		id := core.LocalID(item.Node)

		w.expand(id)

		if w.cfg.Filter == nil || w.cfg.Filter.Test(uint64(id)) {
			label, dist := w.emit(id, item.Distance)
			return label, dist, true, nil
		}
	}
}

func (w *Workspace) emit(id core.LocalID, dist float32) (uint64, float32) {
	if w.refineComputer != nil {
		dist = w.refineComputer.Distance(id)
	}
	if w.cfg.LargerIsCloser {
		dist = -dist
	}
	return w.label(id), dist
}

func (w *Workspace) label(id core.LocalID) uint64 {
	if w.cfg.Labels != nil {
		if int(id) < len(w.cfg.Labels) {
			return w.cfg.Labels[id]
		}
	}
	return w.cfg.PartitionBase + uint64(id)
}

// initialSearch performs the top-level greedy descent then a single
// level-0 beam pass of width ef, per spec.md §4.5: the ef best
// filter-passing survivors become the initial yield batch, and every
// other examined-but-unyielded frontier node seeds the persistent
// to_visit heap.
func (w *Workspace) initialSearch() error {
	if w.ntotal == 0 {
		return nil
	}
	entryID := w.graph.EntryPoint()
	entryDist := w.computer.Distance(entryID)
	for level := w.graph.MaxLevel(); level > 0; level-- {
		entryID, entryDist = w.descendLevel(entryID, entryDist, level)
	}

	w.accumulatedAlpha, w.kAlpha = w.initAlpha()

	ef := w.cfg.EF
	w.markVisited(entryID)

	candidates := queue.NewMin(ef * 2)
	top := queue.NewMax(ef)

	entryPasses := w.cfg.Filter == nil || w.cfg.Filter.Test(uint64(entryID))
	candidates.PushItem(queue.PriorityQueueItem{Node: uint32(entryID), Distance: entryDist})
	if entryPasses {
		top.PushItem(queue.PriorityQueueItem{Node: uint32(entryID), Distance: entryDist})
	}

	for candidates.Len() > 0 {
		lowerBound := float32(math.Inf(1))
		if worst, ok := top.TopItem(); ok {
			lowerBound = worst.Distance
		}
		cand, _ := candidates.PopItem()
		if top.Len() >= ef && cand.Distance > lowerBound {
			// Not fully consumed: put it back so it still seeds to_visit.
			candidates.PushItem(cand)
			break
		}

		for _, nb := range w.graph.Neighbors(core.LocalID(cand.Node), 0) {
			if w.visited.Test(uint(nb)) {
				continue
			}

			passes := w.cfg.Filter == nil || w.cfg.Filter.Test(uint64(nb))
			admit := passes
			if !passes {
				if w.accumulatedAlpha >= 0 {
					admit = true
					w.accumulatedAlpha -= 1 - w.kAlpha
				} else {
					admit = false
				}
			}
			if !admit {
				continue
			}
			w.markVisited(nb)

			d := w.computer.Distance(nb)
			candidates.PushItem(queue.PriorityQueueItem{Node: uint32(nb), Distance: d})

			if !passes {
				continue
			}
			if top.Len() < ef {
				top.PushItem(queue.PriorityQueueItem{Node: uint32(nb), Distance: d})
			} else if worst, ok := top.TopItem(); ok && d < worst.Distance {
				top.PopItem()
				top.PushItem(queue.PriorityQueueItem{Node: uint32(nb), Distance: d})
			}
		}
	}

	w.pendingYield = drainAscending(top)
	// Whatever is left unpopped in candidates was examined but not
	// yielded: it becomes the persistent frontier.
	for candidates.Len() > 0 {
		item, _ := candidates.PopItem()
		w.toVisit.PushItem(item)
	}
	return nil
}

// expand pushes id's unvisited level-0 neighbors into the persistent
// frontier, applying the same adaptive-alpha admission rule as the
// initial pass so restrictive filters keep throttling exploration across
// calls, not just within the first one.
func (w *Workspace) expand(id core.LocalID) {
	for _, nb := range w.graph.Neighbors(id, 0) {
		if w.visited.Test(uint(nb)) {
			continue
		}
		passes := w.cfg.Filter == nil || w.cfg.Filter.Test(uint64(nb))
		admit := passes
		if !passes {
			if w.accumulatedAlpha >= 0 {
				admit = true
				w.accumulatedAlpha -= 1 - w.kAlpha
			} else {
				admit = false
			}
		}
		if !admit {
			continue
		}
		w.markVisited(nb)
		d := w.computer.Distance(nb)
		w.toVisit.PushItem(queue.PriorityQueueItem{Node: uint32(nb), Distance: d})
	}
}

// refillFallback guarantees the liveness property (spec.md §8 property
// 5): if the graph-connected frontier runs dry before every row has been
// visited (a disconnected component, or an exhausted restrictive-filter
// budget), push the next unvisited id directly so Next() keeps making
// progress instead of reporting premature exhaustion.
func (w *Workspace) refillFallback() bool {
	for int(w.fallbackNext) < w.ntotal {
		id := w.fallbackNext
		w.fallbackNext++
		if w.visited.Test(uint(id)) {
			continue
		}
		w.markVisited(id)
		d := w.computer.Distance(id)
		w.toVisit.PushItem(queue.PriorityQueueItem{Node: uint32(id), Distance: d})
		return true
	}
	return false
}

func (w *Workspace) markVisited(id core.LocalID) {
	if !w.visited.Test(uint(id)) {
		w.visited.Set(uint(id))
		w.visitedCount++
	}
}

// descendLevel mirrors hnsw.Graph's private greedyDescend: keep moving to
// a strictly closer neighbor at level until none exists. Reimplemented
// here against the graph's exported Neighbors/EntryPoint/MaxLevel
// surface, since the iterator lives outside package hnsw.
func (w *Workspace) descendLevel(fromID core.LocalID, fromDist float32, level int) (core.LocalID, float32) {
	changed := true
	for changed {
		changed = false
		for _, candID := range w.graph.Neighbors(fromID, level) {
			d := w.computer.Distance(candID)
			if d < fromDist {
				fromID, fromDist = candID, d
				changed = true
			}
		}
	}
	return fromID, fromDist
}

// initAlpha mirrors hnsw.Graph's initAdaptiveAlpha (spec.md §4.3): a nil
// filter disables admission throttling; otherwise kAlpha is the filter
// ratio scaled by 0.7, and the initial budget is +Inf when the filter is
// not restrictive enough to need throttling.
func (w *Workspace) initAlpha() (alpha float64, kAlpha float64) {
	f := w.cfg.Filter
	if f == nil {
		return math.Inf(1), 0
	}
	n := uint64(w.ntotal)
	filterRatio := f.Selectivity(n)
	kAlpha = filterRatio * 0.7
	passing := f.Count()
	threshold := w.cfg.BFFilterThreshold
	if threshold <= 0 {
		threshold = 0.01
	}
	if float64(passing) >= float64(n)*threshold {
		return math.Inf(1), kAlpha
	}
	return 1.0, kAlpha
}

func drainAscending(pq *queue.PriorityQueue) []queue.PriorityQueueItem {
	n := pq.Len()
	items := make([]queue.PriorityQueueItem, n)
	for i := n - 1; i >= 0; i-- {
		item, _ := pq.PopItem()
		items[i] = item
	}
	return items
}
