// Package quantization implements the three compressed hnsw.Storage
// backends named by an index's Quantizer variant: none | SQ | PQ | PRQ.
//
// # Scalar quantization (SQ)
//
// One row of fixed-width bytes per vector, no trained codebook:
//
//	sq, _ := quantization.NewScalarQuantizer(128, quantization.SQFP16, false)
//	id, _ := sq.Add(vec)
//
// SQFP16 and SQBF16 truncate the IEEE-754 representation; SQInt8DirectSigned
// and SQ8BitDirectSigned map linearly into the signed int8 range. None of
// the four require Train to see data.
//
// # Product quantization (PQ)
//
// Splits a vector into m subvectors, each quantized against its own
// k-means codebook of 2^nbits centroids:
//
//	pq, _ := quantization.NewProductQuantizer(128, 8, 8, distance.L2)
//	_ = pq.Train(trainingVectors, 20)
//	id, _ := pq.Add(vec)
//
// Distance computation is asymmetric: the query stays full precision and is
// matched against per-subspace lookup tables built once per query.
//
// # Residual product quantization (PRQ)
//
// Chains nrq independent PQ stages, each quantizing the residual left by
// the previous stage:
//
//	prq, _ := quantization.NewResidualProductQuantizer(128, 8, 8, 2, distance.L2, true)
//	_ = prq.Train(trainingVectors, 20)
//
// search_type (the sumSearch argument) selects between summing per-stage
// asymmetric distances and reconstructing the full vector before computing
// an exact distance.
//
// All three satisfy hnsw.Storage, so a trained quantizer can be spliced in
// as an HNSW graph's vector storage in place of a flat vectorstore.Store.
package quantization
