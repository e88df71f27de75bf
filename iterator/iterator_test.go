package iterator

import (
	"testing"

	"github.com/vecnode/vecnode/distance"
	"github.com/vecnode/vecnode/filter"
	"github.com/vecnode/vecnode/hnsw"
	"github.com/vecnode/vecnode/internal/dataformat"
	"github.com/vecnode/vecnode/vectorstore"
)

func buildGraph(t *testing.T, vectors [][]float32, metric distance.Metric) *hnsw.Graph {
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
	return g
}

// TestIteratorYieldsAllFiveThenExhausts is scenario S5: over the S1 5-vector
// dataset with no filter, six consecutive Next() calls yield all 5 ids then
// signal exhaustion.
func TestIteratorYieldsAllFiveThenExhausts(t *testing.T) {
	vectors := [][]float32{
		{0, 0, 0, 0},
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
	g := buildGraph(t, vectors, distance.L2)

	ws := New(g, []float32{0.1, 0, 0, 0}, Config{EF: 4})

	seen := make(map[uint64]bool)
	for i := 0; i < 5; i++ {
		id, _, ok, err := ws.Next()
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		if !ok {
			t.Fatalf("Next() #%d: unexpected exhaustion", i+1)
		}
		if seen[id] {
			t.Errorf("Next() yielded duplicate id %d", id)
		}
		seen[id] = true
	}
	if len(seen) != 5 {
		t.Fatalf("expected 5 distinct ids, got %d: %v", len(seen), seen)
	}

	_, _, ok, err := ws.Next()
	if err != nil {
		t.Fatalf("Next() #6 error: %v", err)
	}
	if ok {
		t.Errorf("Next() #6: expected exhaustion, got a result")
	}
}

// TestIteratorFirstKMatchesSearch is property 6: the first k ids emitted by
// the iterator match top-k search results for the same query and ef.
func TestIteratorFirstKMatchesSearch(t *testing.T) {
	vectors := make([][]float32, 40)
	for i := range vectors {
		v := make([]float32, 6)
		for j := range v {
			v[j] = float32((i*7+j*3)%11) / 11
		}
		vectors[i] = v
	}
	g := buildGraph(t, vectors, distance.L2)

	query := []float32{0.2, 0.4, 0.1, 0.3, 0.5, 0.2}
	const k = 5
	ef := 64

	searchIDs, _, err := g.Search(query, k, hnsw.SearchParams{EF: ef})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	ws := New(g, query, Config{EF: ef})
	iterIDs := make([]uint64, 0, k)
	for i := 0; i < k; i++ {
		id, _, ok, err := ws.Next()
		if err != nil {
			t.Fatalf("Next(): %v", err)
		}
		if !ok {
			t.Fatalf("Next() #%d: unexpected exhaustion", i+1)
		}
		iterIDs = append(iterIDs, id)
	}

	if len(iterIDs) != len(searchIDs) {
		t.Fatalf("length mismatch: iter=%d search=%d", len(iterIDs), len(searchIDs))
	}
	for i := range searchIDs {
		if iterIDs[i] != uint64(searchIDs[i]) {
			t.Errorf("id[%d]: iterator=%d search=%d", i, iterIDs[i], searchIDs[i])
		}
	}
}

// TestIteratorRespectsFilter is part of property 5: the iterator yields
// only filter-passing ids when a bitset is supplied.
func TestIteratorRespectsFilter(t *testing.T) {
	vectors := [][]float32{
		{0, 0}, {1, 0}, {2, 0}, {3, 0}, {4, 0}, {5, 0},
	}
	g := buildGraph(t, vectors, distance.L2)

	f := filter.NewFromOffsets([]uint64{1, 3, 5})
	ws := New(g, []float32{0, 0}, Config{EF: 4, Filter: f})

	var got []uint64
	for {
		id, _, ok, err := ws.Next()
		if err != nil {
			t.Fatalf("Next(): %v", err)
		}
		if !ok {
			break
		}
		got = append(got, id)
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 filter-passing ids, got %d: %v", len(got), got)
	}
	allowed := map[uint64]bool{1: true, 3: true, 5: true}
	for _, id := range got {
		if !allowed[id] {
			t.Errorf("yielded id %d not in filter", id)
		}
	}
}
