package index

import (
	"github.com/vecnode/vecnode/bruteforce"
	"github.com/vecnode/vecnode/core"
	"github.com/vecnode/vecnode/distance"
	"github.com/vecnode/vecnode/filter"
	"github.com/vecnode/vecnode/hnsw"
	"github.com/vecnode/vecnode/vectorstore"
)

// LegacyVersionCutoff is the fixed on-disk version boundary of spec.md
// §4.8's version-compatibility shim: any serialized index below this
// version is handled by Legacy instead of the current Variant machinery,
// for the node's entire lifetime.
const LegacyVersionCutoff uint32 = 1

// SelectBackend implements the version-fallback Dispatch decision of
// SPEC_FULL.md §4.12: a single boolean, computed once, selects the legacy
// or current backend for the object's lifetime.
func SelectBackend(onDiskVersion uint32) (useLegacy bool) {
	return onDiskVersion < LegacyVersionCutoff
}

// Legacy is the minimal brute-force-only backend named in spec.md §4.12:
// no HNSW graph, every Search/RangeSearch scans the full flat store. This
// is the simplest thing that satisfies the "legacy HNSW search backend"
// framing without maintaining a second full graph implementation.
type Legacy struct {
	store  *vectorstore.FlatStore
	metric distance.Metric
}

// NewLegacy allocates an empty Legacy backend for fp32 vectors of the
// given dimension and metric.
func NewLegacy(dimension int, metric distance.Metric) (*Legacy, error) {
	store, err := vectorstore.NewFlatStore(dimension, 0, metric == distance.Cosine)
	if err != nil {
		return nil, err
	}
	return &Legacy{store: store, metric: metric}, nil
}

// Add appends vectors in order, returning their assigned LocalIDs.
func (l *Legacy) Add(vectors [][]float32) ([]core.LocalID, error) {
	ids := make([]core.LocalID, len(vectors))
	next := core.LocalID(l.store.Len())
	for i, v := range vectors {
		if err := l.store.SetVector(next, v); err != nil {
			return nil, err
		}
		ids[i] = next
		next++
	}
	return ids, nil
}

// Len reports the row count.
func (l *Legacy) Len() int { return l.store.Len() }

// GetVector reconstructs a row exactly (Legacy always stores fp32).
func (l *Legacy) GetVector(id core.LocalID) ([]float32, bool) { return l.store.GetVector(id) }

// Search performs a brute-force top-k scan, per spec.md §4.2's contract
// (Legacy never runs a graph, so it always takes this path).
func (l *Legacy) Search(q []float32, k int, f *filter.BitsetFilter) ([]core.LocalID, []float32, error) {
	return bruteforce.Search(l.storage(), q, k, f)
}

// RangeSearch performs a brute-force radius scan.
func (l *Legacy) RangeSearch(q []float32, radius float32, f *filter.BitsetFilter) ([]core.LocalID, []float32, error) {
	return bruteforce.RangeSearch(l.storage(), q, radius, f)
}

func (l *Legacy) storage() hnsw.Storage {
	return hnsw.NewFlatStorage(l.store, l.metric)
}
