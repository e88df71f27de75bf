package index

import (
	"errors"
	"fmt"

	"github.com/vecnode/vecnode/bruteforce"
	"github.com/vecnode/vecnode/core"
	"github.com/vecnode/vecnode/distance"
	"github.com/vecnode/vecnode/filter"
	"github.com/vecnode/vecnode/hnsw"
	"github.com/vecnode/vecnode/internal/dataformat"
	"github.com/vecnode/vecnode/quantization"
	"github.com/vecnode/vecnode/refine"
	"github.com/vecnode/vecnode/vectorstore"
)

// Kind is the tagged Quantizer variant of spec.md §3: none | SQ | PQ | PRQ.
type Kind int

const (
	KindFlat Kind = iota
	KindSQ
	KindPQ
	KindPRQ
)

func (k Kind) String() string {
	switch k {
	case KindFlat:
		return "flat"
	case KindSQ:
		return "sq"
	case KindPQ:
		return "pq"
	case KindPRQ:
		return "prq"
	default:
		return "unknown"
	}
}

// ErrUnknownKind is returned by New for an out-of-range Kind.
var ErrUnknownKind = errors.New("index: unknown kind")

// Config carries the build-time knobs named in spec.md §6 for one
// sub-index: metric, dimension, quantizer selection, HNSW knobs, the
// refine-rerank wrapper, and the brute-force dispatch thresholds.
type Config struct {
	Kind      Kind
	Metric    distance.Metric
	Dimension int
	Format    dataformat.Format

	HNSW hnsw.Config

	SQType quantization.SQType

	PQM     int
	PQNBits int

	PRQM        int
	PRQNBits    int
	PRQNRQ      int
	PRQSumMode  bool

	// Refine enables the spec.md §4.4 wrapper: a separate flat refine
	// store is built alongside the quantized base, and Search/RangeSearch
	// oversample-and-rescore through it.
	Refine       bool
	RefineFactor int

	BruteForce bruteforce.Config
}

// Variant is one sub-index: a base HNSW graph plus whichever storage its
// Kind names, an optional quantizer-in-waiting for the PQ/PRQ splice, and
// an optional refine wrapper. It satisfies spec.md §4.1-§4.4 and the
// two-stage build of §4.7.
type Variant struct {
	cfg Config

	flatStore   *vectorstore.FlatStore
	flatStorage *hnsw.FlatStorage
	quantizer   hnsw.Storage // PQ/PRQ quantizer, trained alongside flatStorage, spliced in later

	Graph *hnsw.Graph

	refineStore *vectorstore.FlatStore
	Refine      *refine.Wrapper

	spliced bool
	trained bool
}

// New allocates a Variant per spec.md §4.7: for PQ/PRQ kinds it builds
// BOTH an HNSW-over-flat graph and a separate quantizer up front, so
// Splice can move the graph onto the quantizer's storage after training
// without ever training HNSW directly against compressed codes.
func New(cfg Config) (*Variant, error) {
	isCosine := cfg.Metric == distance.Cosine
	flatStore, err := vectorstore.NewFlatStore(cfg.Dimension, cfg.Format, isCosine)
	if err != nil {
		return nil, err
	}
	flatStorage := hnsw.NewFlatStorage(flatStore, cfg.Metric)

	v := &Variant{cfg: cfg, flatStore: flatStore, flatStorage: flatStorage}

	hnswCfg := cfg.HNSW
	if hnswCfg == (hnsw.Config{}) {
		hnswCfg = hnsw.DefaultConfig
	}
	v.Graph = hnsw.New(flatStorage, hnswCfg)

	switch cfg.Kind {
	case KindFlat:
		// No quantizer: the graph's permanent storage is the flat store.
	case KindSQ:
		sq, err := quantization.NewScalarQuantizer(cfg.Dimension, cfg.SQType, isCosine)
		if err != nil {
			return nil, err
		}
		v.quantizer = sq
	case KindPQ:
		pq, err := quantization.NewProductQuantizer(cfg.Dimension, cfg.PQM, cfg.PQNBits, cfg.Metric)
		if err != nil {
			return nil, err
		}
		v.quantizer = pq
	case KindPRQ:
		prq, err := quantization.NewResidualProductQuantizer(cfg.Dimension, cfg.PRQM, cfg.PRQNBits, cfg.PRQNRQ, cfg.Metric, cfg.PRQSumMode)
		if err != nil {
			return nil, err
		}
		v.quantizer = prq
	default:
		return nil, ErrUnknownKind
	}

	if cfg.Refine {
		refineStore, err := vectorstore.NewFlatStore(cfg.Dimension, dataformat.FP32, isCosine)
		if err != nil {
			return nil, err
		}
		v.refineStore = refineStore
	}

	return v, nil
}

// Train trains the quantizer (if any) on the full training set. HNSW
// itself has no data-dependent training (spec.md §4.1), so this only
// matters for SQ/PQ/PRQ kinds; Flat is a no-op.
func (v *Variant) Train(vectors [][]float32) error {
	if v.quantizer != nil {
		type trainer interface {
			Train(vectors [][]float32, maxIter int) error
		}
		if t, ok := v.quantizer.(trainer); ok {
			if err := t.Train(vectors, 25); err != nil {
				return err
			}
		} else if t, ok := v.quantizer.(interface {
			Train(vectors [][]float32) error
		}); ok {
			if err := t.Train(vectors); err != nil {
				return err
			}
		}
	}
	v.trained = true
	return nil
}

// Add inserts vectors into the flat storage (always) and, for PQ/PRQ
// kinds, into the waiting quantizer in lockstep, plus the refine store
// when enabled, per spec.md §4.7's "on add, feed the same vectors into
// both."
func (v *Variant) Add(vectors [][]float32) ([]core.LocalID, error) {
	ids, err := v.Graph.Add(vectors)
	if err != nil {
		return nil, err
	}
	if v.quantizer != nil && !v.spliced {
		for _, vec := range vectors {
			if _, err := v.quantizer.Add(vec); err != nil {
				return nil, err
			}
		}
	}
	if v.refineStore != nil {
		next := core.LocalID(v.refineStore.Len())
		for _, vec := range vectors {
			if err := v.refineStore.SetVector(next, vec); err != nil {
				return nil, err
			}
			next++
		}
	}
	return ids, nil
}

// Splice performs spec.md §4.7's finalize step: once both the HNSW-over-
// flat graph and the quantizer are fully populated, replace the graph's
// storage with the quantizer and free the flat storage. If a refine
// wrapper is configured, it is built (or rebuilt) against the refine
// store, pointed at the now-quantized base graph.
func (v *Variant) Splice() error {
	if v.quantizer == nil || v.spliced {
		return nil
	}
	if v.Graph.Len() != v.quantizer.Len() {
		return fmt.Errorf("index: graph has %d rows but quantizer has %d, cannot splice", v.Graph.Len(), v.quantizer.Len())
	}
	v.Graph.SetStorage(v.quantizer)
	v.flatStorage = nil
	v.flatStore = nil
	v.spliced = true
	v.wireRefine()
	return nil
}

func (v *Variant) wireRefine() {
	if v.refineStore == nil {
		return
	}
	refineStorage := hnsw.NewFlatStorage(v.refineStore, v.cfg.Metric)
	factor := v.cfg.RefineFactor
	if factor < 1 {
		factor = 1
	}
	v.Refine = refine.New(v.Graph, refineStorage, v.cfg.Metric, factor)
}

// searchable returns the effective search surface: the refine wrapper
// when present, otherwise the base graph directly.
func (v *Variant) searchable() interface {
	Search([]float32, int, hnsw.SearchParams) ([]core.LocalID, []float32, error)
	RangeSearch([]float32, float32, hnsw.SearchParams) ([]core.LocalID, []float32, error)
} {
	if v.Refine != nil {
		return v.Refine
	}
	return v.Graph
}

// Search implements spec.md §4.1/§4.2: decide graph vs brute-force via
// WhetherPerformBruteForceSearch, then dispatch; if the graph path under-
// delivers while more rows than k actually pass the filter, fall back to
// brute force (property 7).
func (v *Variant) Search(q []float32, k int, f *filter.BitsetFilter, ef int) ([]core.LocalID, []float32, error) {
	total := uint64(v.Graph.Len())
	passing := total
	if f != nil {
		passing = f.Count()
	}
	bfCfg := v.cfg.BruteForce
	bfCfg.K = &k
	if useBF := bruteforce.WhetherPerformBruteForceSearch(bfCfg, passing, total); useBF != nil && *useBF {
		return bruteforce.Search(v.storageForBruteForce(), q, k, f)
	}
	ids, dists, err := v.searchable().Search(q, k, hnsw.SearchParams{EF: ef, Filter: f})
	if err != nil {
		return nil, nil, err
	}
	if len(ids) < k && f != nil && passing > uint64(len(ids)) {
		return bruteforce.Search(v.storageForBruteForce(), q, k, f)
	}
	return ids, dists, nil
}

// RangeSearch implements the range-search analogue of Search, using the
// range dispatcher, which adds an ef-threshold check to the count/
// selectivity rules.
func (v *Variant) RangeSearch(q []float32, radius float32, f *filter.BitsetFilter, ef int) ([]core.LocalID, []float32, error) {
	total := uint64(v.Graph.Len())
	passing := total
	if f != nil {
		passing = f.Count()
	}
	if useBF := bruteforce.WhetherPerformBruteForceRangeSearch(v.cfg.BruteForce, ef, passing, total); useBF != nil && *useBF {
		return bruteforce.RangeSearch(v.storageForBruteForce(), q, radius, f)
	}
	return v.searchable().RangeSearch(q, radius, hnsw.SearchParams{EF: ef, Filter: f})
}

// storageForBruteForce returns the storage brute-force scanning should
// iterate: the refine store when present (exact vectors), else whatever
// backs the graph right now.
func (v *Variant) storageForBruteForce() hnsw.Storage {
	if v.refineStore != nil {
		return hnsw.NewFlatStorage(v.refineStore, v.cfg.Metric)
	}
	return v.Graph.Storage()
}

// Len reports the sub-index's row count.
func (v *Variant) Len() int { return v.Graph.Len() }

// Kind reports the quantizer variant this sub-index was built with.
func (v *Variant) Kind() Kind { return v.cfg.Kind }

// SQType reports the scalar-quantizer encoding this sub-index was built
// with; meaningless unless Kind() == KindSQ.
func (v *Variant) SQType() quantization.SQType { return v.cfg.SQType }

// PreservesExactRows reports whether GetVector reconstructs the caller's
// original row unchanged, per spec.md §4.8 invariant 3: always true for
// Flat, true for SQ only when its sq_type matches format, never true for
// PQ/PRQ (lossy by construction) unless a refine store is present.
func (v *Variant) PreservesExactRows(format dataformat.Format) bool {
	if v.refineStore != nil {
		return true
	}
	switch v.cfg.Kind {
	case KindFlat:
		return true
	case KindSQ:
		return sqMatchesFormat(v.cfg.SQType, format)
	default:
		return false
	}
}

func sqMatchesFormat(sq quantization.SQType, format dataformat.Format) bool {
	switch sq {
	case quantization.SQFP16:
		return format == dataformat.FP16
	case quantization.SQBF16:
		return format == dataformat.BF16
	case quantization.SQInt8DirectSigned:
		return format == dataformat.Int8
	default:
		return false
	}
}

// GetVector reconstructs a row for spec.md §4.8's GetVectorByIds, valid
// only for Flat/FlatCosine (always) or SQ whose sq_type matches the
// node's data format (checked by the caller, which knows the data
// format this Variant does not track itself).
func (v *Variant) GetVector(id core.LocalID) ([]float32, bool) {
	if v.refineStore != nil {
		return v.refineStore.GetVector(id)
	}
	return v.Graph.Storage().Get(id)
}
