// Package refine implements the refine-rerank wrapper of spec.md §4.4:
// oversample candidates from an approximate base index, then re-score them
// with an exact distance computer over higher-precision storage before
// truncating to the requested k. Grounded on the teacher's rerank stage in
// internal/engine/search.go (RefineFactor oversampling, Rerank, final
// top-k selection), adapted from its multi-segment heap merge to a single
// base/refine storage pair.
package refine

import (
	"math"
	"sort"

	"github.com/vecnode/vecnode/core"
	"github.com/vecnode/vecnode/distance"
	"github.com/vecnode/vecnode/hnsw"
)

// NormSource is implemented by refine storage that caches a per-id inverse
// L2 norm (vectorstore.FlatStore and the quantization types all do). The
// wrapper type-asserts for it instead of requiring it on hnsw.Storage,
// since plain non-cosine storage has no use for the cache.
type NormSource interface {
	InvNorm(id core.LocalID) (float32, bool)
}

// Wrapper searches Base for k*Factor candidates, then re-scores each one
// against Refine (expected to hold uncompressed, or at least
// higher-precision, vectors) before keeping the best k.
type Wrapper struct {
	Base   *hnsw.Graph
	Refine hnsw.Storage
	Metric distance.Metric
	Factor int // refine_k; values < 1 behave as 1 (no oversampling)
}

// New builds a Wrapper. factor is spec.md's refine_k; values below 1 are
// clamped to 1, matching the teacher's RefineFactor default of 1.0.
func New(base *hnsw.Graph, refineStorage hnsw.Storage, metric distance.Metric, factor int) *Wrapper {
	if factor < 1 {
		factor = 1
	}
	return &Wrapper{Base: base, Refine: refineStorage, Metric: metric, Factor: factor}
}

// Search oversamples k*Factor candidates from Base, re-scores them exactly
// against Refine, and returns the best k ascending by distance. It does
// NOT re-apply params.Filter — the base search already evaluated it,
// per spec.md §4.4.
func (w *Wrapper) Search(q []float32, k int, params hnsw.SearchParams) ([]core.LocalID, []float32, error) {
	if k <= 0 {
		return nil, nil, nil
	}
	oversample := k * w.Factor
	candidates, _, err := w.Base.Search(q, oversample, params)
	if err != nil {
		return nil, nil, err
	}
	return w.rescore(q, candidates, k)
}

// RangeSearch takes Base's within-radius candidates (no oversampling),
// re-scores them exactly, and keeps only candidates whose exact distance still falls within radius —
// the base search's distance may be approximate (quantized), so the exact
// re-score can evict a candidate as well as re-rank it.
func (w *Wrapper) RangeSearch(q []float32, radius float32, params hnsw.SearchParams) ([]core.LocalID, []float32, error) {
	candidates, _, err := w.Base.RangeSearch(q, radius, params)
	if err != nil {
		return nil, nil, err
	}
	ids, dists, err := w.rescore(q, candidates, len(candidates))
	if err != nil {
		return nil, nil, err
	}
	for i, d := range dists {
		if d > radius {
			return ids[:i], dists[:i], nil
		}
	}
	return ids, dists, nil
}

type scoredCandidate struct {
	id   core.LocalID
	dist float32
}

func (w *Wrapper) rescore(q []float32, candidateIDs []core.LocalID, k int) ([]core.LocalID, []float32, error) {
	computer := w.Refine.NewDistanceComputer()
	computer.SetQuery(q)

	var qInv float32
	var qOk bool
	if w.Metric == distance.Cosine {
		qInv, qOk = distance.InvNorm(q)
	}

	scored := make([]scoredCandidate, len(candidateIDs))
	for i, id := range candidateIDs {
		scored[i] = scoredCandidate{id: id, dist: w.exactDistance(q, qInv, qOk, computer, id)}
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].dist != scored[j].dist {
			return scored[i].dist < scored[j].dist
		}
		return scored[i].id < scored[j].id
	})
	if k < len(scored) {
		scored = scored[:k]
	}

	ids := make([]core.LocalID, len(scored))
	dists := make([]float32, len(scored))
	for i, s := range scored {
		ids[i] = s.id
		dists[i] = s.dist
	}
	return ids, dists, nil
}

// exactDistance implements the cosine path named in spec.md §4.4: when the
// refine storage caches inverse norms, divide the raw dot product by the
// query-time norm and the per-id cached norm rather than trusting the
// refine computer to already know the metric. Non-cosine metrics use the
// refine computer directly.
func (w *Wrapper) exactDistance(q []float32, qInv float32, qOk bool, computer hnsw.DistanceComputer, id core.LocalID) float32 {
	if w.Metric != distance.Cosine {
		return computer.Distance(id)
	}
	if !qOk {
		return 1
	}
	vec, ok := w.Refine.Get(id)
	if !ok {
		return float32(math.MaxFloat32)
	}
	if ns, ok := w.Refine.(NormSource); ok {
		if vInv, present := ns.InvNorm(id); present {
			return negatedCosine(q, vec, qInv, vInv)
		}
	}
	if vInv, ok := distance.InvNorm(vec); ok {
		return negatedCosine(q, vec, qInv, vInv)
	}
	return 1
}

func negatedCosine(q, v []float32, qInv, vInv float32) float32 {
	return -distance.Dot(q, v) * qInv * vInv
}
