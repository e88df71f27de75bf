package index

import (
	"testing"

	"github.com/vecnode/vecnode/distance"
	"github.com/vecnode/vecnode/internal/dataformat"
)

func vectors5() [][]float32 {
	return [][]float32{
		{0, 0, 0, 0},
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// TestFlatVariantSearchMatchesS1 is scenario S1 against the Flat Variant.
func TestFlatVariantSearchMatchesS1(t *testing.T) {
	v, err := New(Config{Kind: KindFlat, Metric: distance.L2, Dimension: 4, Format: dataformat.FP32})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := v.Train(nil); err != nil {
		t.Fatalf("Train: %v", err)
	}
	if _, err := v.Add(vectors5()); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ids, dists, err := v.Search([]float32{0.1, 0, 0, 0}, 2, nil, 40)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 2 || ids[0] != 0 || ids[1] != 1 {
		t.Fatalf("ids = %v, want [0 1]", ids)
	}
	if want := float32(0.01); absf(dists[0]-want) > 1e-4 {
		t.Errorf("dists[0] = %f, want %f", dists[0], want)
	}
	if want := float32(0.81); absf(dists[1]-want) > 1e-4 {
		t.Errorf("dists[1] = %f, want %f", dists[1], want)
	}
}

// TestPQVariantSplicePreservesRowCount exercises the two-stage build of
// spec.md §4.7: after Splice, the graph searches over the quantizer's
// storage and still returns every added row reachable.
func TestPQVariantSplicePreservesRowCount(t *testing.T) {
	dim := 16
	vecs := make([][]float32, 300)
	for i := range vecs {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32((i*7+j*3)%13) / 13
		}
		vecs[i] = v
	}

	v, err := New(Config{
		Kind: KindPQ, Metric: distance.L2, Dimension: dim, Format: dataformat.FP32,
		PQM: 4, PQNBits: 8,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := v.Train(vecs); err != nil {
		t.Fatalf("Train: %v", err)
	}
	if _, err := v.Add(vecs); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := v.Splice(); err != nil {
		t.Fatalf("Splice: %v", err)
	}
	if v.Len() != len(vecs) {
		t.Fatalf("Len() = %d, want %d", v.Len(), len(vecs))
	}

	ids, _, err := v.Search(vecs[0], 5, nil, 64)
	if err != nil {
		t.Fatalf("Search after splice: %v", err)
	}
	if len(ids) != 5 {
		t.Fatalf("expected 5 results after splice, got %d", len(ids))
	}
}

// TestRefineVariantWiresAfterSplice checks that a refine-enabled PQ Variant
// exposes a non-nil Refine wrapper only once Splice has run.
func TestRefineVariantWiresAfterSplice(t *testing.T) {
	dim := 8
	vecs := make([][]float32, 260)
	for i := range vecs {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32((i*5+j*2)%11) / 11
		}
		vecs[i] = v
	}

	v, err := New(Config{
		Kind: KindPQ, Metric: distance.L2, Dimension: dim, Format: dataformat.FP32,
		PQM: 2, PQNBits: 8, Refine: true, RefineFactor: 4,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if v.Refine != nil {
		t.Fatal("Refine should be nil before Splice")
	}
	if err := v.Train(vecs); err != nil {
		t.Fatalf("Train: %v", err)
	}
	if _, err := v.Add(vecs); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := v.Splice(); err != nil {
		t.Fatalf("Splice: %v", err)
	}
	if v.Refine == nil {
		t.Fatal("Refine should be wired after Splice")
	}

	ids, _, err := v.Search(vecs[10], 3, nil, 64)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 results, got %d", len(ids))
	}
}

func absf(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
