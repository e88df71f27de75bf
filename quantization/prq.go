package quantization

import (
	"errors"

	"github.com/vecnode/vecnode/core"
	"github.com/vecnode/vecnode/distance"
	"github.com/vecnode/vecnode/hnsw"
)

// ResidualProductQuantizer runs nrq independent ProductQuantizer stages in
// sequence: stage 0 quantizes the raw vector, stage i>0 quantizes the
// residual left by stages 0..i-1. Grounded on spec.md §3's PRQ{m, nrq,
// nbits, search_type} variant and §4.11's "each an independent PQ over the
// residual left by the previous stage"; there is no PRQ precedent in the
// example pack, so this composes ProductQuantizer (the teacher's PQ,
// generalized) rather than introducing a new codebook algorithm.
type ResidualProductQuantizer struct {
	dim    int
	nrq    int
	metric distance.Metric
	cosine bool

	stages []*ProductQuantizer

	invNorms []float32
	size     int

	// sumSearch selects between summing per-stage asymmetric distances
	// (cheap, approximate) and reconstruct-then-compute (exact against the
	// residual-decoded vector, more work); spec.md §4.11 calls this the
	// search_type switch.
	sumSearch bool
}

// NewResidualProductQuantizer creates nrq untrained PQ stages, each with m
// subvectors and 2^nbits centroids.
func NewResidualProductQuantizer(dim, m, nbits, nrq int, metric distance.Metric, sumSearch bool) (*ResidualProductQuantizer, error) {
	if nrq < 1 {
		return nil, errors.New("quantization: nrq must be >= 1")
	}
	stages := make([]*ProductQuantizer, nrq)
	for i := range stages {
		s, err := NewProductQuantizer(dim, m, nbits, metric)
		if err != nil {
			return nil, err
		}
		stages[i] = s
	}
	return &ResidualProductQuantizer{
		dim:       dim,
		nrq:       nrq,
		metric:    metric,
		cosine:    metric == distance.Cosine,
		stages:    stages,
		sumSearch: sumSearch,
	}, nil
}

func (r *ResidualProductQuantizer) Dimension() int { return r.dim }
func (r *ResidualProductQuantizer) Len() int       { return r.size }
func (r *ResidualProductQuantizer) NumStages() int { return r.nrq }

// Train fits each stage on the residual left by the previous one. Every
// stage needs 2^nbits training rows, same requirement as a standalone PQ.
func (r *ResidualProductQuantizer) Train(vectors [][]float32, maxIter int) error {
	residuals := make([][]float32, len(vectors))
	for i, v := range vectors {
		cp := make([]float32, len(v))
		copy(cp, v)
		residuals[i] = cp
	}

	for _, stage := range r.stages {
		if err := stage.Train(residuals, maxIter); err != nil {
			return err
		}
		for i, v := range residuals {
			approx := make([]float32, r.dim)
			code := make([]byte, stage.m)
			for m := 0; m < stage.m; m++ {
				start := m * stage.subDim
				end := start + stage.subDim
				code[m] = byte(nearestCentroid(v[start:end], stage.codebooks[m]))
			}
			for m := 0; m < stage.m; m++ {
				start := m * stage.subDim
				copy(approx[start:start+stage.subDim], stage.codebooks[m][code[m]])
			}
			for j := range v {
				residuals[i][j] = v[j] - approx[j]
			}
		}
	}
	return nil
}

// Add encodes v stage by stage, each stage quantizing the residual of the
// previous.
func (r *ResidualProductQuantizer) Add(v []float32) (core.LocalID, error) {
	if len(v) != r.dim {
		return 0, &hnsw.ErrDimensionMismatch{Expected: r.dim, Actual: len(v)}
	}
	residual := make([]float32, r.dim)
	copy(residual, v)

	var id core.LocalID
	for i, stage := range r.stages {
		got, err := stage.Add(residual)
		if err != nil {
			return 0, err
		}
		if i == 0 {
			id = got
		}
		approx := make([]float32, r.dim)
		stage.ReconstructInto(got, approx)
		for j := range residual {
			residual[j] -= approx[j]
		}
	}

	if r.cosine {
		if inv, ok := distance.InvNorm(v); ok {
			r.invNorms = append(r.invNorms, inv)
		} else {
			r.invNorms = append(r.invNorms, 0)
		}
	}
	r.size++
	return id, nil
}

// Get reconstructs id by summing every stage's decoded residual.
func (r *ResidualProductQuantizer) Get(id core.LocalID) ([]float32, bool) {
	dst := make([]float32, r.dim)
	if !r.ReconstructInto(id, dst) {
		return nil, false
	}
	return dst, true
}

func (r *ResidualProductQuantizer) ReconstructInto(id core.LocalID, dst []float32) bool {
	idx := int(id)
	if idx < 0 || idx >= r.size {
		return false
	}
	for i := range dst {
		dst[i] = 0
	}
	stage := make([]float32, r.dim)
	for _, s := range r.stages {
		if !s.ReconstructInto(id, stage) {
			return false
		}
		for i := range dst {
			dst[i] += stage[i]
		}
	}
	return true
}

func (r *ResidualProductQuantizer) InvNorm(id core.LocalID) (float32, bool) {
	idx := int(id)
	if !r.cosine || idx < 0 || idx >= len(r.invNorms) {
		return 0, false
	}
	return r.invNorms[idx], true
}

// NewDistanceComputer returns the PRQ distance computer. When sumSearch is
// set it sums each stage's asymmetric table-lookup distance against the
// successive query residuals (cheap); otherwise it reconstructs the full
// vector once and computes an exact distance against it (search_type in
// spec.md §4.11).
func (r *ResidualProductQuantizer) NewDistanceComputer() hnsw.DistanceComputer {
	return &prqComputer{r: r}
}

type prqComputer struct {
	r        *ResidualProductQuantizer
	query    []float32
	stageCmp []hnsw.DistanceComputer
	qInvNrm  float32
	qIsZero  bool
	buf      []float32
}

func (c *prqComputer) SetQuery(q []float32) {
	c.query = q
	if c.r.sumSearch {
		c.stageCmp = make([]hnsw.DistanceComputer, len(c.r.stages))
		residual := make([]float32, len(q))
		copy(residual, q)
		for i, stage := range c.r.stages {
			cmp := stage.NewDistanceComputer()
			cmp.SetQuery(residual)
			c.stageCmp[i] = cmp
			approx := make([]float32, c.r.dim)
			// Approximate the residual for the next stage using the
			// previous stage's nearest centroid to the current residual,
			// mirroring the encode-time residual computation in Add/Train.
			pq := stage
			for m := 0; m < pq.m; m++ {
				start := m * pq.subDim
				end := start + pq.subDim
				k := nearestCentroid(residual[start:end], pq.codebooks[m])
				copy(approx[start:end], pq.codebooks[m][k])
			}
			for j := range residual {
				residual[j] -= approx[j]
			}
		}
	} else {
		c.buf = make([]float32, c.r.dim)
		if c.r.cosine {
			inv, ok := distance.InvNorm(q)
			c.qInvNrm = inv
			c.qIsZero = !ok
		}
	}
}

func (c *prqComputer) Distance(id core.LocalID) float32 {
	if c.r.sumSearch {
		var sum float32
		for _, cmp := range c.stageCmp {
			sum += cmp.Distance(id)
		}
		return sum
	}

	c.r.ReconstructInto(id, c.buf)
	switch c.r.metric {
	case distance.L2:
		return distance.SquaredL2(c.query, c.buf)
	case distance.IP:
		return -distance.Dot(c.query, c.buf)
	case distance.Cosine:
		if c.qIsZero {
			return 1
		}
		vInv, ok := c.r.InvNorm(id)
		if !ok || vInv == 0 {
			return 1
		}
		return -distance.Dot(c.query, c.buf) * c.qInvNrm * vInv
	default:
		return distance.SquaredL2(c.query, c.buf)
	}
}
