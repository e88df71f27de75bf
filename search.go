package vecnode

import (
	"context"
	"time"

	"github.com/vecnode/vecnode/core"
	"github.com/vecnode/vecnode/distance"
	"github.com/vecnode/vecnode/filter"
	"github.com/vecnode/vecnode/index"
	"github.com/vecnode/vecnode/internal/dataformat"
	"github.com/vecnode/vecnode/iterator"
)

// Search implements spec.md §4.1/§4.2/§4.8: top-k nearest neighbors of
// query, dispatched per sub-index through Variant.Search (graph vs
// brute-force), resolved to the owning partition first for MV nodes, or
// routed straight to the version-fallback shim's brute-force scan for a
// Legacy node. Results are ascending by distance, similarity metrics sign-
// corrected back to "larger is closer" before they leave this package.
func (n *Node) Search(query []float32, k int, f *filter.BitsetFilter) ([]uint64, []float32, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	start := time.Now()
	var err error
	var ids []uint64
	defer func() {
		n.metrics.RecordSearch(k, time.Since(start), err)
		n.logger.LogSearch(context.Background(), k, len(ids), err)
	}()

	if err = n.checkSearchable(query); err != nil {
		return nil, nil, err
	}
	if k <= 0 {
		err = ErrInvalidArgs
		return nil, nil, err
	}

	if n.legacy {
		localIDs, dists, serr := n.legacyIdx.Search(query, k, f)
		if serr != nil {
			err = translateError(serr)
			return nil, nil, err
		}
		ids = n.labelizeSingle(localIDs)
		return ids, n.signCorrect(dists), nil
	}

	if n.plan != nil {
		pi, local, perr := n.plan.SelectPartition(f)
		if perr != nil {
			err = translateError(perr)
			return nil, nil, err
		}
		localIDs, dists, serr := n.parts[pi].Search(query, k, local, n.cfg.HNSW.EF)
		if serr != nil {
			err = translateError(serr)
			return nil, nil, err
		}
		ids = n.labelizePartition(pi, localIDs)
		return ids, n.signCorrect(dists), nil
	}

	localIDs, dists, serr := n.parts[0].Search(query, k, f, n.cfg.HNSW.EF)
	if serr != nil {
		err = translateError(serr)
		return nil, nil, err
	}
	ids = n.labelizeSingle(localIDs)
	return ids, n.signCorrect(dists), nil
}

// RangeSearch implements the radius-search analogue of Search.
func (n *Node) RangeSearch(query []float32, radius float32, f *filter.BitsetFilter) ([]uint64, []float32, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	start := time.Now()
	var err error
	var ids []uint64
	defer func() {
		n.metrics.RecordSearch(-1, time.Since(start), err)
		n.logger.LogSearch(context.Background(), -1, len(ids), err)
	}()

	if err = n.checkSearchable(query); err != nil {
		return nil, nil, err
	}

	if n.legacy {
		localIDs, dists, serr := n.legacyIdx.RangeSearch(query, radius, f)
		if serr != nil {
			err = translateError(serr)
			return nil, nil, err
		}
		ids = n.labelizeSingle(localIDs)
		return ids, n.signCorrect(dists), nil
	}

	if n.plan != nil {
		pi, local, perr := n.plan.SelectPartition(f)
		if perr != nil {
			err = translateError(perr)
			return nil, nil, err
		}
		localIDs, dists, serr := n.parts[pi].RangeSearch(query, radius, local, n.cfg.HNSW.EF)
		if serr != nil {
			err = translateError(serr)
			return nil, nil, err
		}
		ids = n.labelizePartition(pi, localIDs)
		return ids, n.signCorrect(dists), nil
	}

	localIDs, dists, serr := n.parts[0].RangeSearch(query, radius, f, n.cfg.HNSW.EF)
	if serr != nil {
		err = translateError(serr)
		return nil, nil, err
	}
	ids = n.labelizeSingle(localIDs)
	return ids, n.signCorrect(dists), nil
}

func (n *Node) checkSearchable(query []float32) error {
	if n.state != statePopulated && n.state != stateSerialized {
		return ErrEmptyIndex
	}
	if len(query) != n.cfg.Dimension {
		return &ErrDimensionMismatch{Expected: n.cfg.Dimension, Actual: len(query)}
	}
	return nil
}

// signCorrect flips similarity-metric distances back to their original
// sign, per spec.md invariant 9: internal traversal tracks negated
// distances for IP/COSINE so the min-heap ordering still means "closer
// first"; callers expect the metric's native sign.
func (n *Node) signCorrect(dists []float32) []float32 {
	if !distance.IsSimilarityMetric(n.cfg.Metric) {
		return dists
	}
	out := make([]float32, len(dists))
	for i, d := range dists {
		out[i] = -d
	}
	return out
}

func (n *Node) labelizeSingle(ids []core.LocalID) []uint64 {
	out := make([]uint64, len(ids))
	for i, id := range ids {
		if int(id) < len(n.offsetToLabel) {
			out[i] = n.offsetToLabel[id]
		} else {
			out[i] = uint64(id)
		}
	}
	return out
}

func (n *Node) labelizePartition(pi int, ids []core.LocalID) []uint64 {
	labels := n.plan.Labels[pi]
	lo, _ := n.plan.PartitionRange(pi)
	out := make([]uint64, len(ids))
	for i, id := range ids {
		if int(id) < len(labels) {
			out[i] = labels[id]
		} else {
			out[i] = lo + uint64(id)
		}
	}
	return out
}

// GetVectorByIds reconstructs raw vectors for the given external labels,
// per spec.md §4.8's exact-preservation rule: Flat/FlatCosine storage (and
// an SQ variant whose sq_type matches Config.Format) always returns the
// caller's original row unchanged; any other quantized Kind has no exact
// row to hand back.
func (n *Node) GetVectorByIds(ids []uint64) ([][]float32, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.state == stateUninitialized {
		return nil, ErrIndexNotTrained
	}
	if n.legacy {
		out := make([][]float32, len(ids))
		for i, label := range ids {
			off, ok := n.labelToOffset[label]
			if !ok {
				return nil, ErrInvalidArgs
			}
			vec, ok := n.legacyIdx.GetVector(core.LocalID(off))
			if !ok {
				return nil, ErrInvalidArgs
			}
			out[i] = vec
		}
		return out, nil
	}

	out := make([][]float32, len(ids))
	for i, label := range ids {
		part, ok := n.resolvePart(label)
		if !ok {
			return nil, ErrInvalidArgs
		}
		if !part.variant.PreservesExactRows(n.cfg.Format) {
			return nil, ErrNotImplemented
		}
		vec, vok := part.variant.GetVector(core.LocalID(part.local))
		if !vok {
			return nil, ErrInvalidArgs
		}
		out[i] = vec
	}
	return out, nil
}

type indexPartLookup struct {
	variant *index.Variant
	local   uint64
}

// CalcDistByIDs computes the exact distance between query and each named
// external label, per spec.md §4.8: resolved through the same label ->
// (partition, local offset) bookkeeping Search uses, bypassing the graph
// entirely.
func (n *Node) CalcDistByIDs(query []float32, ids []uint64) ([]float32, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.state != statePopulated && n.state != stateSerialized {
		return nil, ErrEmptyIndex
	}
	if len(query) != n.cfg.Dimension {
		return nil, &ErrDimensionMismatch{Expected: n.cfg.Dimension, Actual: len(query)}
	}

	rawFn, err := distance.Provider(n.cfg.Metric)
	if err != nil {
		return nil, translateError(err)
	}

	out := make([]float32, len(ids))
	for i, label := range ids {
		var vec []float32
		var ok bool
		if n.legacy {
			off, lok := n.labelToOffset[label]
			if lok {
				vec, ok = n.legacyIdx.GetVector(core.LocalID(off))
			}
		} else {
			part, pok := n.resolvePart(label)
			if pok {
				vec, ok = part.variant.GetVector(core.LocalID(part.local))
			}
		}
		if !ok {
			return nil, ErrInvalidArgs
		}
		d := rawFn(query, vec)
		if n.cfg.Metric == distance.Cosine {
			qInv, qOk := distance.InvNorm(query)
			vInv, vOk := distance.InvNorm(vec)
			if qOk && vOk {
				d *= qInv * vInv
			} else {
				d = 0
			}
		}
		out[i] = d
	}
	return out, nil
}

func (n *Node) resolvePart(label uint64) (*indexPartLookup, bool) {
	if n.plan != nil {
		pi, ok := n.plan.PartitionOf(label)
		if !ok {
			return nil, false
		}
		lo, _ := n.plan.PartitionRange(pi)
		off, ok := n.plan.LabelToInternalOffset[label]
		if !ok {
			return nil, false
		}
		return &indexPartLookup{variant: n.parts[pi], local: off - lo}, true
	}
	off, ok := n.labelToOffset[label]
	if !ok || len(n.parts) == 0 {
		return nil, false
	}
	return &indexPartLookup{variant: n.parts[0], local: off}, true
}

// IteratorConfig carries the caller-facing knobs of AnnIterator.
type IteratorConfig struct {
	EF int
}

// AnnIterator opens one resumable traversal per query, per spec.md §4.5.
// Each query is resolved to its owning partition the same way Search is
// for MV nodes. Unsupported for Int8-formatted data and for Legacy nodes,
// since both lack the HNSW graph the iterator walks.
func (n *Node) AnnIterator(queries [][]float32, cfg IteratorConfig, f *filter.BitsetFilter) ([]*iterator.Workspace, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.state != statePopulated && n.state != stateSerialized {
		return nil, ErrEmptyIndex
	}
	if n.legacy || n.cfg.Format == dataformat.Int8 {
		return nil, ErrNotImplemented
	}

	ef := cfg.EF
	if ef <= 0 {
		ef = n.cfg.HNSW.EF
	}

	var v *index.Variant
	var labels []uint64
	var base uint64
	localFilter := f
	if n.plan != nil {
		pi, local, err := n.plan.SelectPartition(f)
		if err != nil {
			return nil, translateError(err)
		}
		v = n.parts[pi]
		labels = n.plan.Labels[pi]
		base, _ = n.plan.PartitionRange(pi)
		localFilter = local
	} else {
		v = n.parts[0]
		labels = n.offsetToLabel
	}

	out := make([]*iterator.Workspace, len(queries))
	for i, q := range queries {
		if len(q) != n.cfg.Dimension {
			return nil, &ErrDimensionMismatch{Expected: n.cfg.Dimension, Actual: len(q)}
		}
		qc := append([]float32(nil), q...)
		out[i] = iterator.New(v.Graph, qc, iterator.Config{
			EF:                ef,
			Filter:            localFilter,
			LargerIsCloser:    distance.IsSimilarityMetric(n.cfg.Metric),
			BFFilterThreshold: n.cfg.HNSW.BFFilterThreshold,
			Labels:            labels,
			PartitionBase:     base,
		})
	}
	return out, nil
}
