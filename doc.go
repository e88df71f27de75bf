// Package vecnode provides the core of a vector-similarity search index
// node: an HNSW proximity graph with optional scalar/product/product-
// residual quantization, optional refine-rerank, optional materialized-view
// partitioning by a scalar key, top-k and range search with bitset
// predicate filtering, and a stateful resumable iterator.
//
// # Lifecycle
//
// An index node moves through four states: Uninitialized, Trained,
// Populated, Serialized. Train must run once before Add; Add may run any
// number of times while the node is in memory; Serialize/Deserialize
// round-trip the whole node (graph, quantizer, partition tables) to a
// single binary blob.
//
//	node, _ := vecnode.New(vecnode.Config{
//	    Dimension: 128,
//	    Metric:    distance.Cosine,
//	    Kind:      vecnode.IndexFlat,
//	})
//	_ = node.Train(nil, nil)
//	_ = node.Add(ids, vectors)
//	results, _, _ := node.Search(query, 10, nil)
//
// This package does not implement deletion, online incremental updates
// after serialization, or sparse/lexical vector types; metric_type = BM25
// is accepted as a config value and rejected at Train time.
package vecnode
