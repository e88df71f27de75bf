package vecnode

import (
	"testing"

	"github.com/vecnode/vecnode/distance"
	"github.com/vecnode/vecnode/filter"
	"github.com/vecnode/vecnode/partition"
)

func fiveRows() ([]uint64, [][]float32) {
	ids := []uint64{10, 11, 12, 13, 14}
	vectors := [][]float32{
		{0, 0, 0, 0},
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
	return ids, vectors
}

// TestNodeTrainAddSearchRoundTrip is scenario S1 through the full facade:
// Train, Add, Search return the caller's own labels, ascending by
// distance, matching the canonical (0.1,0,0,0)/k=2 fixture.
func TestNodeTrainAddSearchRoundTrip(t *testing.T) {
	n, err := New(Config{Dimension: 4, Metric: distance.L2, Kind: IndexFlat})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Train(nil, nil); err != nil {
		t.Fatalf("Train: %v", err)
	}
	ids, vectors := fiveRows()
	if err := n.Add(ids, vectors); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := n.Splice(); err != nil {
		t.Fatalf("Splice: %v", err)
	}

	gotIDs, dists, err := n.Search([]float32{0.1, 0, 0, 0}, 2, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(gotIDs) != 2 || gotIDs[0] != 10 || gotIDs[1] != 11 {
		t.Fatalf("ids = %v, want [10 11]", gotIDs)
	}
	if want := float32(0.01); absf32(dists[0]-want) > 1e-4 {
		t.Errorf("dists[0] = %f, want %f", dists[0], want)
	}

	if n.Len() != 5 {
		t.Errorf("Len() = %d, want 5", n.Len())
	}
}

func absf32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}

// TestNodeSearchBeforeTrainFails confirms the Uninitialized -> Trained
// state machine rejects Search before Train, per spec.md §4.8.
func TestNodeSearchBeforeTrainFails(t *testing.T) {
	n, err := New(Config{Dimension: 4, Metric: distance.L2, Kind: IndexFlat})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, _, err := n.Search([]float32{0, 0, 0, 0}, 1, nil); err != ErrEmptyIndex {
		t.Fatalf("err = %v, want ErrEmptyIndex", err)
	}
}

// TestNodeDoubleTrainFails confirms Train is rejected once already run.
func TestNodeDoubleTrainFails(t *testing.T) {
	n, err := New(Config{Dimension: 4, Metric: distance.L2, Kind: IndexFlat})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Train(nil, nil); err != nil {
		t.Fatalf("Train: %v", err)
	}
	if err := n.Train(nil, nil); err != ErrIndexAlreadyTrained {
		t.Fatalf("err = %v, want ErrIndexAlreadyTrained", err)
	}
}

// TestNodeMVPartitionedRouting covers the materialized-view path: two
// scalar buckets, each its own sub-index, with Search routed to the
// single partition implied by the caller's filter.
func TestNodeMVPartitionedRouting(t *testing.T) {
	info := partition.ScalarInfo{
		FieldID: 1,
		Buckets: []partition.Bucket{
			{Value: 0, Rows: []uint64{1, 2}},
			{Value: 1, Rows: []uint64{3, 4}},
		},
	}
	n, err := New(Config{
		Dimension:  4,
		Metric:     distance.L2,
		Kind:       IndexFlat,
		ScalarInfo: &info,
		BaseRows:   1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ids := []uint64{1, 2, 3, 4}
	vectors := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
	if err := n.Train(ids, vectors); err != nil {
		t.Fatalf("Train: %v", err)
	}
	if err := n.Splice(); err != nil {
		t.Fatalf("Splice: %v", err)
	}

	// A filter naming label 3 resolves (via label_to_internal_offset) to
	// bucket 1's partition; Search must only ever consult that partition.
	f := filter.NewFromOffsets([]uint64{3})
	gotIDs, _, serr := n.Search([]float32{0, 0, 1, 0}, 2, f)
	if serr != nil {
		t.Fatalf("Search: %v", serr)
	}
	if len(gotIDs) == 0 {
		t.Fatalf("ids = %v, want at least one result", gotIDs)
	}
	for _, id := range gotIDs {
		if id != 3 && id != 4 {
			t.Errorf("got id %d outside bucket 1 (expected only 3 or 4)", id)
		}
	}
}

// TestNodeLegacyBackendDispatch confirms Config.Legacy routes every call
// through the brute-force-only version-fallback shim.
func TestNodeLegacyBackendDispatch(t *testing.T) {
	n, err := New(Config{Dimension: 4, Metric: distance.L2, Legacy: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ids, vectors := fiveRows()
	if err := n.Train(ids, vectors); err != nil {
		t.Fatalf("Train: %v", err)
	}

	gotIDs, _, serr := n.Search([]float32{0.1, 0, 0, 0}, 2, nil)
	if serr != nil {
		t.Fatalf("Search: %v", serr)
	}
	if len(gotIDs) != 2 || gotIDs[0] != 10 || gotIDs[1] != 11 {
		t.Fatalf("ids = %v, want [10 11]", gotIDs)
	}
}

// TestNodeSerializeDeserializeRoundTrip confirms Serialize/Deserialize
// reproduce identical Search results, per spec.md §8 property 1.
func TestNodeSerializeDeserializeRoundTrip(t *testing.T) {
	n, err := New(Config{Dimension: 4, Metric: distance.L2, Kind: IndexFlat})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Train(nil, nil); err != nil {
		t.Fatalf("Train: %v", err)
	}
	ids, vectors := fiveRows()
	if err := n.Add(ids, vectors); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := n.Splice(); err != nil {
		t.Fatalf("Splice: %v", err)
	}

	wantIDs, wantDists, err := n.Search([]float32{0.1, 0, 0, 0}, 3, nil)
	if err != nil {
		t.Fatalf("Search (pre-serialize): %v", err)
	}

	blob, err := n.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	restored, err := Deserialize(blob)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	gotIDs, gotDists, err := restored.Search([]float32{0.1, 0, 0, 0}, 3, nil)
	if err != nil {
		t.Fatalf("Search (post-deserialize): %v", err)
	}

	if len(gotIDs) != len(wantIDs) {
		t.Fatalf("len(gotIDs) = %d, want %d", len(gotIDs), len(wantIDs))
	}
	for i := range wantIDs {
		if gotIDs[i] != wantIDs[i] {
			t.Errorf("ids[%d] = %d, want %d", i, gotIDs[i], wantIDs[i])
		}
		if absf32(gotDists[i]-wantDists[i]) > 1e-4 {
			t.Errorf("dists[%d] = %f, want %f", i, gotDists[i], wantDists[i])
		}
	}
}
