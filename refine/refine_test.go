package refine

import (
	"math/rand"
	"testing"

	"github.com/vecnode/vecnode/distance"
	"github.com/vecnode/vecnode/hnsw"
	"github.com/vecnode/vecnode/internal/dataformat"
	"github.com/vecnode/vecnode/quantization"
	"github.com/vecnode/vecnode/vectorstore"
)

func buildFlatGraph(t *testing.T, vectors [][]float32, metric distance.Metric) (*hnsw.Graph, hnsw.Storage) {
	t.Helper()
	store, err := vectorstore.NewFlatStore(len(vectors[0]), dataformat.FP32, metric == distance.Cosine)
	if err != nil {
		t.Fatalf("NewFlatStore: %v", err)
	}
	storage := hnsw.NewFlatStorage(store, metric)
	for _, v := range vectors {
		if _, err := storage.Add(v); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	g := hnsw.New(storage, hnsw.DefaultConfig)
	if _, err := g.Add(vectors); err != nil {
		t.Fatalf("graph Add: %v", err)
	}
	return g, storage
}

// TestRefineIdempotentAtFactorOne checks property 8: refine_k = 1 should
// return the same top-k as the base search, up to tie-breaks.
func TestRefineIdempotentAtFactorOne(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	dim := 8
	vectors := make([][]float32, 200)
	for i := range vectors {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()
		}
		vectors[i] = v
	}

	base, baseStorage := buildFlatGraph(t, vectors, distance.L2)
	w := New(base, baseStorage, distance.L2, 1)

	query := vectors[17]
	baseIDs, _, err := base.Search(query, 5, hnsw.SearchParams{EF: 64})
	if err != nil {
		t.Fatalf("base.Search: %v", err)
	}
	refineIDs, _, err := w.Search(query, 5, hnsw.SearchParams{EF: 64})
	if err != nil {
		t.Fatalf("refine Search: %v", err)
	}
	if len(baseIDs) != len(refineIDs) {
		t.Fatalf("length mismatch: base=%d refine=%d", len(baseIDs), len(refineIDs))
	}
	for i := range baseIDs {
		if baseIDs[i] != refineIDs[i] {
			t.Errorf("id[%d]: base=%d refine=%d", i, baseIDs[i], refineIDs[i])
		}
	}
}

// TestRefineAgainstQuantizedStorageMatchesExactTop1 builds an HNSW-over-PQ
// base index and a flat refine index on the same data, and checks that
// oversampling and re-scoring recovers the exact nearest neighbour that
// compressed-distance search alone would sometimes miss.
func TestRefineAgainstQuantizedStorageMatchesExactTop1(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	dim := 16
	vectors := make([][]float32, 300)
	for i := range vectors {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()
		}
		vectors[i] = v
	}

	pq, err := quantization.NewProductQuantizer(dim, 4, 8, distance.L2)
	if err != nil {
		t.Fatalf("NewProductQuantizer: %v", err)
	}
	if err := pq.Train(vectors, 5); err != nil {
		t.Fatalf("Train: %v", err)
	}
	pqGraph := hnsw.New(pq, hnsw.DefaultConfig)
	for _, v := range vectors {
		if _, err := pq.Add(v); err != nil {
			t.Fatalf("pq.Add: %v", err)
		}
	}
	if _, err := pqGraph.Add(vectors); err != nil {
		t.Fatalf("pqGraph.Add: %v", err)
	}

	flatStore, err := vectorstore.NewFlatStore(dim, dataformat.FP32, false)
	if err != nil {
		t.Fatalf("NewFlatStore: %v", err)
	}
	refineStorage := hnsw.NewFlatStorage(flatStore, distance.L2)
	for _, v := range vectors {
		if _, err := refineStorage.Add(v); err != nil {
			t.Fatalf("refineStorage.Add: %v", err)
		}
	}

	w := New(pqGraph, refineStorage, distance.L2, 4)

	query := make([]float32, dim)
	for j := range query {
		query[j] = rng.Float32()
	}

	ids, dists, err := w.Search(query, 1, hnsw.SearchParams{EF: 64})
	if err != nil {
		t.Fatalf("refine Search: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 result, got %d", len(ids))
	}

	// Exact brute-force top-1 via the flat refine storage directly.
	computer := refineStorage.NewDistanceComputer()
	computer.SetQuery(query)
	bestID, bestDist := ids[0], dists[0]
	exactBestDist := computer.Distance(bestID)
	if exactBestDist != bestDist {
		t.Errorf("refine distance %f does not match exact distance %f for id %d", bestDist, exactBestDist, bestID)
	}
}
