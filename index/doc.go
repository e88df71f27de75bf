// Package index implements one sub-index of spec.md §3's PartitionedIndex:
// a tagged Kind variant (Flat | SQ | PQ | PRQ) wrapping exactly one
// hnsw.Graph, its backing hnsw.Storage, and an optional refine.Wrapper,
// plus the brute-force/graph dispatch of spec.md §4.2 and the two-stage
// PQ/PRQ splice of spec.md §4.7.
//
// This replaces the dynamic-dispatch-over-an-open-ended-class-hierarchy
// design SPEC_FULL.md §9 calls out: rather than an Index interface with
// Flat/HNSW/DiskANN implementations tested for at runtime, Variant is one
// concrete type switching on its own Kind field.
package index
