package core

// LocalID is a dense, internal identifier for a vector. No package in this
// module imports this one; the graph, heaps and stores use the distinct
// core.LocalID type from the top-level core package.
type LocalID = uint32

// GlobalID is a user-facing identifier. It is not referenced anywhere in
// this module.
type GlobalID = uint64
