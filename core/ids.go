// Package core defines the identifier types shared across the index node.
package core

// LocalID is a dense, internal identifier for a vector within a single
// sub-index (HNSW graph node id / vector storage row offset).
type LocalID uint32

// MaxLocalID is the maximum possible value for a LocalID.
const MaxLocalID = ^LocalID(0)

// Label is the externally visible identifier for a vector, as opposed to
// its LocalID (position inside a single sub-index) or its internal offset
// (position inside the concatenated partition-row layout, see package
// partition). Labels are supplied by the caller at Add time and persist
// across serialize/deserialize.
type Label uint64

// InternalOffset is a position inside the concatenated row layout of a
// (possibly MV-partitioned) index: index_rows_sum[partition] + LocalID.
type InternalOffset uint64
