package quantization

import (
	"errors"
	"math"
	"math/rand"

	"github.com/vecnode/vecnode/core"
	"github.com/vecnode/vecnode/distance"
	"github.com/vecnode/vecnode/hnsw"
)

// ErrTooFewRows is returned by Train when fewer than 2^nbits training
// vectors are available for a subspace, per spec.md §4.6's "PQ/PRQ training
// requires at least 2^nbits rows."
var ErrTooFewRows = errors.New("quantization: fewer rows than 2^nbits centroids")

// ErrNotTrained is returned by Add when called before Train.
var ErrNotTrained = errors.New("quantization: not trained")

// ProductQuantizer splits each vector into m subvectors and quantizes each
// independently against its own k-means codebook of 2^nbits centroids.
// Grounded on the teacher's quantization.ProductQuantizer
// (quantization/pq.go): same k-means++ init and asymmetric distance-table
// lookup, generalized from a fixed 256-centroid uint8 scheme to a
// configurable nbits (so PRQ can reuse it per residual stage) and to the
// L2/IP/Cosine metrics named in spec.md §3 rather than only squared L2.
type ProductQuantizer struct {
	dim          int
	m            int
	nbits        int
	numCentroids int
	subDim       int
	metric       distance.Metric
	cosine       bool

	codebooks [][][]float32 // [m][numCentroids][subDim]
	trained   bool

	codes    [][]byte
	invNorms []float32
	size     int
}

// NewProductQuantizer creates an untrained PQ over dim-dimensional vectors
// split into m subvectors, each quantized to 2^nbits centroids. nbits must
// be in [1, 8] since codes are stored one byte per subvector.
func NewProductQuantizer(dim, m, nbits int, metric distance.Metric) (*ProductQuantizer, error) {
	if dim%m != 0 {
		return nil, errors.New("quantization: dimension must be divisible by m")
	}
	if nbits < 1 || nbits > 8 {
		return nil, errors.New("quantization: nbits must be in [1, 8]")
	}
	return &ProductQuantizer{
		dim:          dim,
		m:            m,
		nbits:        nbits,
		numCentroids: 1 << nbits,
		subDim:       dim / m,
		metric:       metric,
		cosine:       metric == distance.Cosine,
		codebooks:    make([][][]float32, m),
	}, nil
}

func (pq *ProductQuantizer) Dimension() int { return pq.dim }
func (pq *ProductQuantizer) Len() int       { return pq.size }
func (pq *ProductQuantizer) NumSubvectors() int { return pq.m }
func (pq *ProductQuantizer) NumCentroids() int  { return pq.numCentroids }
func (pq *ProductQuantizer) IsTrained() bool    { return pq.trained }

// Train fits one k-means codebook per subspace. maxIter mirrors the
// teacher's fixed 20-iteration Lloyd loop, exposed here since PRQ trains
// several PQ stages back to back and may want a tighter budget.
func (pq *ProductQuantizer) Train(vectors [][]float32, maxIter int) error {
	if len(vectors) == 0 {
		return errors.New("quantization: no training vectors")
	}
	if len(vectors) < pq.numCentroids {
		return ErrTooFewRows
	}
	if len(vectors[0]) != pq.dim {
		return &hnsw.ErrDimensionMismatch{Expected: pq.dim, Actual: len(vectors[0])}
	}
	if maxIter <= 0 {
		maxIter = 20
	}

	for m := 0; m < pq.m; m++ {
		start := m * pq.subDim
		end := start + pq.subDim
		subvectors := make([][]float32, len(vectors))
		for i, vec := range vectors {
			subvectors[i] = vec[start:end]
		}
		pq.codebooks[m] = kmeansPP(subvectors, pq.numCentroids, maxIter)
	}

	pq.trained = true
	return nil
}

// Add encodes v against the trained codebooks and appends it as a new row.
func (pq *ProductQuantizer) Add(v []float32) (core.LocalID, error) {
	if !pq.trained {
		return 0, ErrNotTrained
	}
	if len(v) != pq.dim {
		return 0, &hnsw.ErrDimensionMismatch{Expected: pq.dim, Actual: len(v)}
	}
	id := core.LocalID(pq.size)
	code := make([]byte, pq.m)
	for m := 0; m < pq.m; m++ {
		start := m * pq.subDim
		end := start + pq.subDim
		code[m] = byte(nearestCentroid(v[start:end], pq.codebooks[m]))
	}
	pq.codes = append(pq.codes, code)

	if pq.cosine {
		if inv, ok := distance.InvNorm(v); ok {
			pq.invNorms = append(pq.invNorms, inv)
		} else {
			pq.invNorms = append(pq.invNorms, 0)
		}
	}
	pq.size++
	return id, nil
}

// Get reconstructs the approximate vector stored at id from its codes.
func (pq *ProductQuantizer) Get(id core.LocalID) ([]float32, bool) {
	dst := make([]float32, pq.dim)
	if !pq.ReconstructInto(id, dst) {
		return nil, false
	}
	return dst, true
}

func (pq *ProductQuantizer) ReconstructInto(id core.LocalID, dst []float32) bool {
	idx := int(id)
	if idx < 0 || idx >= pq.size {
		return false
	}
	code := pq.codes[idx]
	for m := 0; m < pq.m; m++ {
		start := m * pq.subDim
		copy(dst[start:start+pq.subDim], pq.codebooks[m][code[m]])
	}
	return true
}

func (pq *ProductQuantizer) InvNorm(id core.LocalID) (float32, bool) {
	idx := int(id)
	if !pq.cosine || idx < 0 || idx >= len(pq.invNorms) {
		return 0, false
	}
	return pq.invNorms[idx], true
}

// buildTables precomputes, per subspace, either the squared-L2 distance or
// the dot product from the query subvector to every centroid — both are
// additive across the orthogonal subvector split, so the asymmetric
// distance is just a sum of per-subspace table lookups (the teacher's
// BuildDistanceTable/AdcDistance, generalized to the dot-product case
// needed for IP/cosine).
func (pq *ProductQuantizer) buildTables(query []float32, dotNotL2 bool) []float32 {
	table := make([]float32, pq.m*pq.numCentroids)
	for m := 0; m < pq.m; m++ {
		start := m * pq.subDim
		end := start + pq.subDim
		sub := query[start:end]
		for k := 0; k < pq.numCentroids; k++ {
			centroid := pq.codebooks[m][k]
			if dotNotL2 {
				table[m*pq.numCentroids+k] = distance.Dot(sub, centroid)
			} else {
				table[m*pq.numCentroids+k] = distance.SquaredL2(sub, centroid)
			}
		}
	}
	return table
}

func adcLookup(table []float32, codes []byte, numCentroids int) float32 {
	var sum float32
	for m, c := range codes {
		sum += table[m*numCentroids+int(c)]
	}
	return sum
}

// NewDistanceComputer returns the asymmetric distance computer: the query
// stays full precision and is matched against per-subspace lookup tables
// built once in SetQuery, per spec.md's "distance computer over compressed
// codes" contract.
func (pq *ProductQuantizer) NewDistanceComputer() hnsw.DistanceComputer {
	return &pqComputer{pq: pq}
}

type pqComputer struct {
	pq      *ProductQuantizer
	l2Table []float32
	dotTable []float32
	qInvNrm float32
	qIsZero bool
}

func (c *pqComputer) SetQuery(q []float32) {
	switch c.pq.metric {
	case distance.L2:
		c.l2Table = c.pq.buildTables(q, false)
	case distance.IP:
		c.dotTable = c.pq.buildTables(q, true)
	case distance.Cosine:
		c.dotTable = c.pq.buildTables(q, true)
		inv, ok := distance.InvNorm(q)
		c.qInvNrm = inv
		c.qIsZero = !ok
	default:
		c.l2Table = c.pq.buildTables(q, false)
	}
}

func (c *pqComputer) Distance(id core.LocalID) float32 {
	idx := int(id)
	codes := c.pq.codes[idx]
	switch c.pq.metric {
	case distance.IP:
		return -adcLookup(c.dotTable, codes, c.pq.numCentroids)
	case distance.Cosine:
		if c.qIsZero {
			return 1
		}
		vInv, ok := c.pq.InvNorm(id)
		if !ok || vInv == 0 {
			return 1
		}
		return -adcLookup(c.dotTable, codes, c.pq.numCentroids) * c.qInvNrm * vInv
	default:
		return adcLookup(c.l2Table, codes, c.pq.numCentroids)
	}
}

// kmeansPP runs k-means with k-means++ seeding. Grounded on the teacher's
// ProductQuantizer.kmeans (quantization/pq.go), lifted out as a free
// function so PRQ's per-stage training can reuse it directly.
func kmeansPP(vectors [][]float32, k, maxIters int) [][]float32 {
	dim := len(vectors[0])

	if len(vectors) < k {
		centroids := make([][]float32, k)
		for i := range centroids {
			centroids[i] = make([]float32, dim)
			copy(centroids[i], vectors[i%len(vectors)])
		}
		return centroids
	}

	centroids := make([][]float32, k)
	for i := range centroids {
		centroids[i] = make([]float32, dim)
	}
	firstIdx := rand.Intn(len(vectors))
	copy(centroids[0], vectors[firstIdx])

	minDistSq := make([]float32, len(vectors))
	var sum float32
	for i, vec := range vectors {
		d := distance.SquaredL2(vec, centroids[0])
		minDistSq[i] = d
		sum += d
	}

	for c := 1; c < k; c++ {
		if sum == 0 {
			idx := rand.Intn(len(vectors))
			copy(centroids[c], vectors[idx])
			continue
		}
		target := rand.Float32() * sum
		var cumsum float32
		chosen := 0
		for i, d := range minDistSq {
			cumsum += d
			if cumsum >= target {
				chosen = i
				break
			}
		}
		copy(centroids[c], vectors[chosen])

		sum = 0
		for i, vec := range vectors {
			d := distance.SquaredL2(vec, centroids[c])
			if d < minDistSq[i] {
				minDistSq[i] = d
			}
			sum += minDistSq[i]
		}
	}

	assignments := make([]int, len(vectors))
	for iter := 0; iter < maxIters; iter++ {
		changed := false
		for i, vec := range vectors {
			nearestIdx := nearestCentroid(vec, centroids)
			if assignments[i] != nearestIdx {
				changed = true
				assignments[i] = nearestIdx
			}
		}
		if !changed {
			break
		}

		counts := make([]int, k)
		sums := make([][]float32, k)
		for i := range sums {
			sums[i] = make([]float32, dim)
		}
		for i, vec := range vectors {
			cluster := assignments[i]
			counts[cluster]++
			for j, val := range vec {
				sums[cluster][j] += val
			}
		}
		for i := range centroids {
			if counts[i] > 0 {
				scale := 1 / float32(counts[i])
				for j := range centroids[i] {
					centroids[i][j] = sums[i][j] * scale
				}
			}
		}
	}

	return centroids
}

func nearestCentroid(vec []float32, centroids [][]float32) int {
	minDist := float32(math.MaxFloat32)
	nearestIdx := 0
	for i, centroid := range centroids {
		d := distance.SquaredL2(vec, centroid)
		if d < minDist {
			minDist = d
			nearestIdx = i
		}
	}
	return nearestIdx
}
