// Package hnsw implements the multi-layer proximity graph: insertion with
// RNG-heuristic neighbor pruning, greedy top-level descent, level-0 beam
// search with an adaptive admission budget for filtered-out candidates, and
// range search. Grounded on the teacher's hnsw/hnsw.go (Node/Options/
// searchLayer/selectNeighboursHeuristic/findEp), generalized to work over
// any Storage (flat, SQ, PQ, PRQ — see package quantization) instead of a
// fixed in-struct []float32 vector field, and to accept a BitsetFilter.
package hnsw

import (
	"errors"
	"math"
	"math/rand"

	"github.com/vecnode/vecnode/core"
	"github.com/vecnode/vecnode/filter"
	"github.com/vecnode/vecnode/internal/queue"
)

// ErrDimensionMismatch is returned when an inserted or queried vector does
// not match the graph's configured dimension.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return "hnsw: dimension mismatch"
}

// DistanceComputer is a query-bound distance function: SetQuery binds a
// query vector once, then Distance(id) is called repeatedly during
// traversal. Implementations already apply the metric's sign convention
// (IP/cosine negated) and, for cosine storage, the inverse-norm division.
type DistanceComputer interface {
	SetQuery(q []float32)
	Distance(id core.LocalID) float32
}

// Storage is what the graph traverses. It owns the vectors (or their
// compressed codes) and knows how to produce a DistanceComputer over them.
// This is the "storage owned by the graph, granting a back-reference on
// the fly" relationship from spec.md §9: the graph never retains vectors
// itself, only ids into Storage.
type Storage interface {
	Dimension() int
	Len() int
	Add(v []float32) (core.LocalID, error)
	Get(id core.LocalID) ([]float32, bool)
	NewDistanceComputer() DistanceComputer
}

// Config holds the graph's build/search knobs named in spec.md §4.1/§4.3.
type Config struct {
	M              int
	EFConstruction int
	EF             int // default search-time ef when callers pass 0
	Heuristic      bool
	RandomSeed     int64

	// BFFilterThreshold is kHnswSearchKnnBFFilterThreshold: the minimum
	// passing_count/ntotal ratio above which adaptive-filter admission is
	// disabled (accumulated_alpha starts at +Inf).
	BFFilterThreshold float64
}

// DefaultConfig mirrors the teacher's DefaultOptions, generalized with the
// adaptive-filter threshold spec.md §4.3 names.
var DefaultConfig = Config{
	M:                 16,
	EFConstruction:    200,
	EF:                64,
	Heuristic:         true,
	BFFilterThreshold: 0.01,
}

type node struct {
	id          core.LocalID
	layer       int
	connections [][]core.LocalID // one slice per level, 0..layer
}

// Graph is the Hierarchical Navigable Small World proximity graph.
type Graph struct {
	dimension int
	mMax      int
	mMax0     int
	ml        float64
	entry     core.LocalID
	maxLevel  int
	hasNodes  bool

	nodes   []*node
	storage Storage
	cfg     Config
	rng     *rand.Rand
}

// New creates an empty Graph over storage with the given config.
func New(storage Storage, cfg Config) *Graph {
	if cfg.M <= 1 {
		cfg.M = 2 // 1/ln(1) would divide by zero
	}
	seed := cfg.RandomSeed
	if seed == 0 {
		seed = 1
	}
	return &Graph{
		dimension: storage.Dimension(),
		mMax:      cfg.M,
		mMax0:     2 * cfg.M,
		ml:        1 / math.Log(float64(cfg.M)),
		storage:   storage,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Train is a no-op for pure HNSW, reserved for future data-dependent
// tuning (e.g. picking M from the data's intrinsic dimensionality).
func (g *Graph) Train(_ [][]float32) error { return nil }

// Add inserts each vector in vectors in turn and returns their assigned ids.
func (g *Graph) Add(vectors [][]float32) ([]core.LocalID, error) {
	ids := make([]core.LocalID, len(vectors))
	for i, v := range vectors {
		id, err := g.Insert(v)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

// Insert adds a single vector to the graph and to the backing storage.
func (g *Graph) Insert(v []float32) (core.LocalID, error) {
	if len(v) != g.dimension {
		return 0, &ErrDimensionMismatch{Expected: g.dimension, Actual: len(v)}
	}

	id, err := g.storage.Add(v)
	if err != nil {
		return 0, err
	}

	layer := int(math.Floor(-math.Log(g.rng.Float64()) * g.ml))
	n := &node{id: id, layer: layer, connections: make([][]core.LocalID, layer+1)}

	if !g.hasNodes {
		g.hasNodes = true
		g.entry = id
		g.maxLevel = layer
		g.nodes = growNodes(g.nodes, id)
		g.nodes[id] = n
		return id, nil
	}

	computer := g.storage.NewDistanceComputer()
	computer.SetQuery(v)

	entryID := g.entry
	entryDist := computer.Distance(entryID)

	for level := g.maxLevel; level > n.layer; level-- {
		entryID, entryDist = g.greedyDescend(computer, entryID, entryDist, level)
	}

	for level := min(n.layer, g.maxLevel); level >= 0; level-- {
		candidates := g.searchLayerInternal(computer, entryID, entryDist, g.cfg.EFConstruction, level, nil, 0, math.Inf(1))
		neighbors := g.selectNeighbours(candidates, g.mMax, false)
		n.connections[level] = neighbors
		if len(neighbors) > 0 {
			entryID = neighbors[0]
			entryDist = computer.Distance(entryID)
		}
	}

	g.nodes = growNodes(g.nodes, id)
	g.nodes[id] = n

	for level := min(n.layer, g.maxLevel); level >= 0; level-- {
		for _, neighbor := range n.connections[level] {
			g.link(neighbor, id, level)
		}
	}

	if n.layer > g.maxLevel {
		g.entry = id
		g.maxLevel = n.layer
	}

	return id, nil
}

func growNodes(nodes []*node, id core.LocalID) []*node {
	if int(id) < len(nodes) {
		return nodes
	}
	grown := make([]*node, int(id)+1)
	copy(grown, nodes)
	return grown
}

// greedyDescend performs one level's worth of "keep moving to the closer
// neighbor until none is closer" descent, used above the inserted/queried
// point's top layer.
func (g *Graph) greedyDescend(computer DistanceComputer, fromID core.LocalID, fromDist float32, level int) (core.LocalID, float32) {
	changed := true
	for changed {
		changed = false
		from := g.nodes[fromID]
		if level >= len(from.connections) {
			continue
		}
		for _, candID := range from.connections[level] {
			d := computer.Distance(candID)
			if d < fromDist {
				fromID, fromDist = candID, d
				changed = true
			}
		}
	}
	return fromID, fromDist
}

// link adds a back-edge from->to at level, re-pruning from's neighbor list
// with the same heuristic if it now exceeds the level's degree cap.
func (g *Graph) link(from, to core.LocalID, level int) {
	n := g.nodes[from]
	if level >= len(n.connections) {
		return
	}
	n.connections[level] = append(n.connections[level], to)

	maxConn := g.mMax
	if level == 0 {
		maxConn = g.mMax0
	}
	if len(n.connections[level]) <= maxConn {
		return
	}

	raw, _ := g.storage.Get(from)
	computer := g.storage.NewDistanceComputer()
	computer.SetQuery(raw)

	pq := queue.NewMax(len(n.connections[level]))
	for _, id := range n.connections[level] {
		pq.PushItem(queue.PriorityQueueItem{Node: uint32(id), Distance: computer.Distance(id)})
	}
	n.connections[level] = g.selectNeighbours(pq, maxConn, true)
}

// selectNeighbours reduces candidates (a max-heap, worst on top) to at most
// m neighbors, either by simple truncation or by the RNG pruning heuristic
// (keep a candidate only if no previously kept neighbor is strictly closer
// to it than the inserted point is).
func (g *Graph) selectNeighbours(candidates *queue.PriorityQueue, m int, alreadyMaxHeap bool) []core.LocalID {
	if !g.cfg.Heuristic {
		return g.selectSimple(candidates, m)
	}
	return g.selectHeuristic(candidates, m)
}

func (g *Graph) selectSimple(candidates *queue.PriorityQueue, m int) []core.LocalID {
	items := drainSorted(candidates) // ascending by distance
	if len(items) > m {
		items = items[:m]
	}
	out := make([]core.LocalID, len(items))
	for i, it := range items {
		out[i] = core.LocalID(it.Node)
	}
	return out
}

func (g *Graph) selectHeuristic(candidates *queue.PriorityQueue, m int) []core.LocalID {
	items := drainSorted(candidates) // ascending by distance from the reference point
	if len(items) <= m {
		out := make([]core.LocalID, len(items))
		for i, it := range items {
			out[i] = core.LocalID(it.Node)
		}
		return out
	}

	kept := make([]queue.PriorityQueueItem, 0, m)
	var leftover []queue.PriorityQueueItem

	computer := g.storage.NewDistanceComputer()
	for _, cand := range items {
		if len(kept) >= m {
			break
		}
		candVec, ok := g.storage.Get(core.LocalID(cand.Node))
		admit := true
		if ok {
			computer.SetQuery(candVec)
			for _, k := range kept {
				if computer.Distance(core.LocalID(k.Node)) < cand.Distance {
					admit = false
					break
				}
			}
		}
		if admit {
			kept = append(kept, cand)
		} else {
			leftover = append(leftover, cand)
		}
	}
	for len(kept) < m && len(leftover) > 0 {
		kept = append(kept, leftover[0])
		leftover = leftover[1:]
	}

	out := make([]core.LocalID, len(kept))
	for i, it := range kept {
		out[i] = core.LocalID(it.Node)
	}
	return out
}

// drainSorted pops every item out of a queue (min or max heap) and returns
// them ascending by distance, lower id first on ties.
func drainSorted(pq *queue.PriorityQueue) []queue.PriorityQueueItem {
	items := make([]queue.PriorityQueueItem, 0, pq.Len())
	for {
		item, ok := pq.PopItem()
		if !ok {
			break
		}
		items = append(items, item)
	}
	// PopItem order depends on heap orientation; normalize explicitly.
	for i := 1; i < len(items); i++ {
		j := i
		for j > 0 && less(items[j], items[j-1]) {
			items[j], items[j-1] = items[j-1], items[j]
			j--
		}
	}
	return items
}

func less(a, b queue.PriorityQueueItem) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.Node < b.Node
}

// SearchParams carries the per-query knobs for Search/RangeSearch beyond k.
type SearchParams struct {
	EF     int
	Filter *filter.BitsetFilter
}

// ErrEmptyGraph is returned by Search/RangeSearch on a graph with no nodes.
var ErrEmptyGraph = errors.New("hnsw: graph is empty")

// Search returns up to k nearest ids and their distances, ascending by
// distance with ties broken by lower id.
func (g *Graph) Search(q []float32, k int, params SearchParams) ([]core.LocalID, []float32, error) {
	if !g.hasNodes {
		return nil, nil, ErrEmptyGraph
	}
	ef := params.EF
	if ef <= 0 {
		ef = g.cfg.EF
	}
	if ef < k {
		ef = k
	}

	computer := g.storage.NewDistanceComputer()
	computer.SetQuery(q)

	entryID := g.entry
	entryDist := computer.Distance(entryID)
	for level := g.maxLevel; level > 0; level-- {
		entryID, entryDist = g.greedyDescend(computer, entryID, entryDist, level)
	}

	alpha, kAlpha := g.initAdaptiveAlpha(params.Filter)
	candidates := g.searchLayerInternal(computer, entryID, entryDist, ef, 0, params.Filter, kAlpha, alpha)

	items := drainSorted(candidates)
	if len(items) > k {
		items = items[:k]
	}
	ids := make([]core.LocalID, len(items))
	dists := make([]float32, len(items))
	for i, it := range items {
		ids[i] = core.LocalID(it.Node)
		dists[i] = it.Distance
	}
	return ids, dists, nil
}

// RangeSearch returns every node within radius of q, ascending by distance.
func (g *Graph) RangeSearch(q []float32, radius float32, params SearchParams) ([]core.LocalID, []float32, error) {
	if !g.hasNodes {
		return nil, nil, ErrEmptyGraph
	}
	ef := params.EF
	if ef <= 0 {
		ef = g.cfg.EF
	}

	computer := g.storage.NewDistanceComputer()
	computer.SetQuery(q)

	entryID := g.entry
	entryDist := computer.Distance(entryID)
	for level := g.maxLevel; level > 0; level-- {
		entryID, entryDist = g.greedyDescend(computer, entryID, entryDist, level)
	}

	alpha, kAlpha := g.initAdaptiveAlpha(params.Filter)
	candidates := g.searchLayerInternal(computer, entryID, entryDist, ef, 0, params.Filter, kAlpha, alpha)

	items := drainSorted(candidates)
	var ids []core.LocalID
	var dists []float32
	for _, it := range items {
		if it.Distance > radius {
			break
		}
		ids = append(ids, core.LocalID(it.Node))
		dists = append(dists, it.Distance)
	}
	return ids, dists, nil
}

// GetDistanceComputer returns a fresh query-bound distance computer over
// this graph's storage, for callers that need raw distance evaluation
// outside of Search/RangeSearch (refine, iterator, CalcDistByIDs).
func (g *Graph) GetDistanceComputer() DistanceComputer {
	return g.storage.NewDistanceComputer()
}

// Storage exposes the backing Storage, used by the splice step of the
// two-stage PQ/PRQ build (spec.md §4.7) to swap a graph's storage in place.
func (g *Graph) Storage() Storage { return g.storage }

// SetStorage replaces the graph's backing storage without touching the
// link structure. Used only by the PQ/PRQ splice: the new storage must
// contain, in the same order, codes for the same ids already in the graph.
func (g *Graph) SetStorage(s Storage) { g.storage = s }

// EntryPoint and MaxLevel expose the graph's top-layer bookkeeping for
// persistence and the iterator's initial descent.
func (g *Graph) EntryPoint() core.LocalID { return g.entry }
func (g *Graph) MaxLevel() int            { return g.maxLevel }
func (g *Graph) Len() int                 { return g.storage.Len() }

// Neighbors returns node id's neighbor list at level, or nil if level
// exceeds the node's assigned layer.
func (g *Graph) Neighbors(id core.LocalID, level int) []core.LocalID {
	n := g.nodes[id]
	if n == nil || level >= len(n.connections) {
		return nil
	}
	return n.connections[level]
}

// initAdaptiveAlpha computes kAlpha and the initial accumulated_alpha per
// spec.md §4.3. A nil filter disables admission throttling entirely.
func (g *Graph) initAdaptiveAlpha(f *filter.BitsetFilter) (alpha float64, kAlpha float64) {
	if f == nil {
		return math.Inf(1), 0
	}
	n := uint64(g.storage.Len())
	filterRatio := f.Selectivity(n)
	kAlpha = filterRatio * 0.7
	passing := f.Count()
	if float64(passing) >= float64(n)*g.cfg.BFFilterThreshold {
		return math.Inf(1), kAlpha
	}
	return 1.0, kAlpha
}

// searchLayerInternal runs the bounded-candidate beam search described in
// spec.md §4.1/§4.3: a min-heap frontier (candidates) for navigation and a
// max-heap of the best ef results (topCandidates) seen so far; filtered-out
// nodes are still explored (subject to the adaptive alpha budget) but never
// enter the result heap.
func (g *Graph) searchLayerInternal(computer DistanceComputer, entryID core.LocalID, entryDist float32, ef int, level int, f *filter.BitsetFilter, kAlpha float64, alpha float64) *queue.PriorityQueue {
	visited := make(map[core.LocalID]struct{})
	visited[entryID] = struct{}{}

	candidates := queue.NewMin(ef * 2)
	topCandidates := queue.NewMax(ef)

	entryPasses := f == nil || f.Test(uint64(entryID))
	candidates.PushItem(queue.PriorityQueueItem{Node: uint32(entryID), Distance: entryDist})
	if entryPasses {
		topCandidates.PushItem(queue.PriorityQueueItem{Node: uint32(entryID), Distance: entryDist})
	}

	for candidates.Len() > 0 {
		lowerBound := float32(math.Inf(1))
		if worst, ok := topCandidates.TopItem(); ok {
			lowerBound = worst.Distance
		}

		cand, _ := candidates.PopItem()
		if topCandidates.Len() >= ef && cand.Distance > lowerBound {
			break
		}

		neighbors := g.Neighbors(core.LocalID(cand.Node), level)
		for _, nb := range neighbors {
			if _, seen := visited[nb]; seen {
				continue
			}
			visited[nb] = struct{}{}

			passes := f == nil || f.Test(uint64(nb))
			admit := passes
			if !passes {
				if alpha >= 0 {
					admit = true
					alpha -= 1 - kAlpha
				} else {
					admit = false
				}
			}
			if !admit {
				continue
			}

			d := computer.Distance(nb)
			candidates.PushItem(queue.PriorityQueueItem{Node: uint32(nb), Distance: d})

			if !passes {
				continue
			}
			if topCandidates.Len() < ef {
				topCandidates.PushItem(queue.PriorityQueueItem{Node: uint32(nb), Distance: d})
			} else if worst, ok := topCandidates.TopItem(); ok && d < worst.Distance {
				topCandidates.PopItem()
				topCandidates.PushItem(queue.PriorityQueueItem{Node: uint32(nb), Distance: d})
			}
		}
	}

	return topCandidates
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
