package index

import (
	"testing"

	"github.com/vecnode/vecnode/distance"
)

// TestSelectBackendVersionCutoff is the version-fallback shim's dispatch
// test named in SPEC_FULL.md §4.12: below LegacyVersionCutoff routes to
// Legacy, at or above it routes to the current backend.
func TestSelectBackendVersionCutoff(t *testing.T) {
	if !SelectBackend(0) {
		t.Error("version 0 should select the legacy backend")
	}
	if SelectBackend(LegacyVersionCutoff) {
		t.Error("version == cutoff should select the current backend")
	}
	if SelectBackend(LegacyVersionCutoff + 5) {
		t.Error("version above cutoff should select the current backend")
	}
}

// TestLegacySearchMatchesS1 exercises Legacy against scenario S1's fixture,
// confirming the brute-force-only backend returns the same result as the
// HNSW Variant for an exact, unfiltered query.
func TestLegacySearchMatchesS1(t *testing.T) {
	l, err := NewLegacy(4, distance.L2)
	if err != nil {
		t.Fatalf("NewLegacy: %v", err)
	}
	if _, err := l.Add(vectors5()); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ids, dists, err := l.Search([]float32{0.1, 0, 0, 0}, 2, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 2 || ids[0] != 0 || ids[1] != 1 {
		t.Fatalf("ids = %v, want [0 1]", ids)
	}
	if want := float32(0.01); absf(dists[0]-want) > 1e-4 {
		t.Errorf("dists[0] = %f, want %f", dists[0], want)
	}
}
