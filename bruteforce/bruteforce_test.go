package bruteforce

import (
	"sort"
	"testing"

	"github.com/vecnode/vecnode/distance"
	"github.com/vecnode/vecnode/filter"
	"github.com/vecnode/vecnode/hnsw"
	"github.com/vecnode/vecnode/internal/dataformat"
	"github.com/vecnode/vecnode/vectorstore"
)

func newFlatStorage(t *testing.T, vectors [][]float32, metric distance.Metric) hnsw.Storage {
	t.Helper()
	store, err := vectorstore.NewFlatStore(len(vectors[0]), dataformat.FP32, metric == distance.Cosine)
	if err != nil {
		t.Fatalf("NewFlatStore: %v", err)
	}
	fs := hnsw.NewFlatStorage(store, metric)
	for _, v := range vectors {
		if _, err := fs.Add(v); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	return fs
}

func TestSearchReturnsKBestAscending(t *testing.T) {
	vectors := [][]float32{
		{0, 0, 0, 0},
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
	storage := newFlatStorage(t, vectors, distance.L2)

	ids, dists, err := Search(storage, []float32{0.1, 0, 0, 0}, 2, filter.New(nil))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}
	if ids[0] != 0 {
		t.Errorf("closest id = %d, want 0", ids[0])
	}
	if !sort.SliceIsSorted(dists, func(i, j int) bool { return dists[i] < dists[j] }) {
		t.Errorf("distances not ascending: %v", dists)
	}
}

func TestSearchRespectsFilter(t *testing.T) {
	vectors := [][]float32{
		{0, 0}, {1, 0}, {2, 0}, {3, 0},
	}
	storage := newFlatStorage(t, vectors, distance.L2)

	f := filter.NewFromOffsets([]uint64{2, 3})
	ids, _, err := Search(storage, []float32{0, 0}, 1, f)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 1 || ids[0] != 2 {
		t.Errorf("expected filtered-in id 2, got %v", ids)
	}
}

func TestRangeSearchKeepsOnlyWithinRadius(t *testing.T) {
	vectors := [][]float32{
		{0, 0}, {1, 0}, {5, 0},
	}
	storage := newFlatStorage(t, vectors, distance.L2)

	ids, dists, err := RangeSearch(storage, []float32{0, 0}, 2, filter.New(nil))
	if err != nil {
		t.Fatalf("RangeSearch: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids within radius, got %d (%v)", len(ids), ids)
	}
	for _, d := range dists {
		if d > 2 {
			t.Errorf("distance %f exceeds radius", d)
		}
	}
}

func TestWhetherPerformBruteForceSearch(t *testing.T) {
	k := 10
	cfg := Config{K: &k, CountThreshold: 50, SelectivityThreshold: 0.1}

	if got := WhetherPerformBruteForceSearch(Config{}, 5, 1000); got != nil {
		t.Errorf("expected nil (missing k), got %v", *got)
	}

	if got := WhetherPerformBruteForceSearch(cfg, 10, 1000); got == nil || !*got {
		t.Errorf("expected true for low passing count, got %v", got)
	}

	if got := WhetherPerformBruteForceSearch(cfg, 900, 1000); got == nil || *got {
		t.Errorf("expected false for high selectivity, got %v", got)
	}
}
