package hnsw

import (
	"github.com/vecnode/vecnode/core"
	"github.com/vecnode/vecnode/distance"
	"github.com/vecnode/vecnode/vectorstore"
)

// FlatStorage adapts a vectorstore.Store into an hnsw.Storage: ids are
// assigned densely in insertion order, and NewDistanceComputer applies the
// metric's sign convention (IP/cosine negated, per spec.md invariant 6) and,
// for cosine stores, the inverse-norm wrapper (spec.md invariant 5).
type FlatStorage struct {
	store  vectorstore.Store
	metric distance.Metric
	nextID core.LocalID
}

// NewFlatStorage wraps store for graph traversal under metric.
func NewFlatStorage(store vectorstore.Store, metric distance.Metric) *FlatStorage {
	return &FlatStorage{store: store, metric: metric}
}

func (s *FlatStorage) Dimension() int { return s.store.Dimension() }
func (s *FlatStorage) Len() int       { return s.store.Len() }

func (s *FlatStorage) Add(v []float32) (core.LocalID, error) {
	id := s.nextID
	if err := s.store.SetVector(id, v); err != nil {
		return 0, err
	}
	s.nextID++
	return id, nil
}

func (s *FlatStorage) Get(id core.LocalID) ([]float32, bool) {
	return s.store.GetVector(id)
}

func (s *FlatStorage) NewDistanceComputer() DistanceComputer {
	return &flatComputer{store: s.store, metric: s.metric}
}

// flatComputer is the query-bound distance function over a FlatStorage.
// Grounded on the teacher's metric.SquaredL2/CosineSimilarity split, folded
// into one computer object per spec.md's get_distance_computer contract.
type flatComputer struct {
	store   vectorstore.Store
	metric  distance.Metric
	query   []float32
	qInvNrm float32
	qIsZero bool
	buf     []float32
}

func (c *flatComputer) SetQuery(q []float32) {
	c.query = q
	if c.buf == nil {
		c.buf = make([]float32, c.store.Dimension())
	}
	if c.metric == distance.Cosine {
		inv, ok := distance.InvNorm(q)
		c.qInvNrm = inv
		c.qIsZero = !ok
	}
}

func (c *flatComputer) Distance(id core.LocalID) float32 {
	c.store.ReconstructInto(id, c.buf)

	switch c.metric {
	case distance.L2:
		return distance.SquaredL2(c.query, c.buf)
	case distance.IP:
		return -distance.Dot(c.query, c.buf)
	case distance.Cosine:
		// -cosine_similarity ranges over [-1, 1]; 1 is its worst (least
		// similar) value, so a zero query or zero stored vector — whose
		// cosine similarity is undefined — sorts last rather than erroring.
		// See S2.
		if c.qIsZero {
			return 1
		}
		vInv, ok := c.store.InvNorm(id)
		if !ok {
			return 1
		}
		return -distance.Dot(c.query, c.buf) * c.qInvNrm * vInv
	default:
		return distance.SquaredL2(c.query, c.buf)
	}
}
