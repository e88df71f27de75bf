// Package quantization implements the compressed hnsw.Storage backends
// named in spec.md §3: per-dimension scalar quantization (SQ), product
// quantization (PQ), and residual product quantization (PRQ).
package quantization

import (
	"errors"

	"github.com/vecnode/vecnode/core"
	"github.com/vecnode/vecnode/distance"
	"github.com/vecnode/vecnode/hnsw"
	"github.com/vecnode/vecnode/internal/dataformat"
)

// SQType identifies one of the four scalar quantization variants named in
// spec.md §3. fp16/bf16 are format reinterpretations with no trained
// codebook; int8_direct_signed and 8bit_direct_signed fix their scale ahead
// of time too, so none of the four require Train to see any data — they
// differ only in how Encode/Decode map a component to its stored width.
type SQType int

const (
	SQFP16 SQType = iota
	SQBF16
	SQInt8DirectSigned
	SQ8BitDirectSigned
)

func (t SQType) format() dataformat.Format {
	switch t {
	case SQFP16:
		return dataformat.FP16
	case SQBF16:
		return dataformat.BF16
	default:
		return dataformat.Int8
	}
}

// ErrDimensionMismatch is returned when a vector's length does not match
// the quantizer's configured dimension.
var ErrDimensionMismatch = errors.New("quantization: dimension mismatch")

// ScalarQuantizer is an hnsw.Storage backed by one row of SQType-encoded
// bytes per vector, no side codebook. Grounded on the teacher's
// quantization.ScalarQuantizer train/encode/decode split
// (quantization/quantizer.go), generalized from a single fixed 8-bit
// min/max scheme to the four SQType variants spec.md §3 names, each
// delegating its byte layout to internal/dataformat rather than rolling
// its own encoding.
type ScalarQuantizer struct {
	dim    int
	typ    SQType
	cosine bool

	rows     []byte
	invNorms []float32
	size     int
	rowSize  int
}

// NewScalarQuantizer creates an empty SQ store for dim-dimensional vectors.
func NewScalarQuantizer(dim int, typ SQType, cosine bool) (*ScalarQuantizer, error) {
	if dim <= 0 {
		return nil, ErrDimensionMismatch
	}
	return &ScalarQuantizer{
		dim:     dim,
		typ:     typ,
		cosine:  cosine,
		rowSize: dataformat.RowByteSize(typ.format(), dim),
	}, nil
}

// Train is a no-op: every SQType in spec.md §3 fixes its scale ahead of
// data (direct-signed variants are a format reinterpretation; fp16/bf16
// truncate the IEEE-754 representation), so there is no codebook to fit.
func (s *ScalarQuantizer) Train(_ [][]float32) error { return nil }

func (s *ScalarQuantizer) Dimension() int { return s.dim }
func (s *ScalarQuantizer) Len() int       { return s.size }

func (s *ScalarQuantizer) Add(v []float32) (core.LocalID, error) {
	if len(v) != s.dim {
		return 0, ErrDimensionMismatch
	}
	id := core.LocalID(s.size)
	end := (s.size + 1) * s.rowSize
	if end > len(s.rows) {
		grown := make([]byte, end)
		copy(grown, s.rows)
		s.rows = grown
	}
	encoded, err := dataformat.EncodeRow(s.typ.format(), v, nil)
	if err != nil {
		return 0, err
	}
	copy(s.rows[int(id)*s.rowSize:end], encoded)

	if s.cosine {
		if int(id) >= len(s.invNorms) {
			grown := make([]float32, int(id)+1)
			copy(grown, s.invNorms)
			s.invNorms = grown
		}
		if inv, ok := distance.InvNorm(v); ok {
			s.invNorms[id] = inv
		}
	}

	s.size++
	return id, nil
}

func (s *ScalarQuantizer) Get(id core.LocalID) ([]float32, bool) {
	dst := make([]float32, s.dim)
	if !s.ReconstructInto(id, dst) {
		return nil, false
	}
	return dst, true
}

// ReconstructInto dequantizes row id into dst; dst must have length
// Dimension(). This is the lossy decode path spec.md §3 documents as the
// tradeoff of compressed storage.
func (s *ScalarQuantizer) ReconstructInto(id core.LocalID, dst []float32) bool {
	idx := int(id)
	if idx < 0 || idx >= s.size {
		return false
	}
	return dataformat.DecodeRowInto(s.typ.format(), s.rows, idx*s.rowSize, s.dim, dst) == nil
}

func (s *ScalarQuantizer) InvNorm(id core.LocalID) (float32, bool) {
	idx := int(id)
	if !s.cosine || idx < 0 || idx >= len(s.invNorms) {
		return 0, false
	}
	return s.invNorms[idx], true
}

// NewDistanceComputer returns a distance computer that dequantizes each
// candidate row lazily, per spec.md's "distance computer over compressed
// codes" contract (the asymmetric scheme: queries stay full precision,
// only the database side is quantized).
func (s *ScalarQuantizer) NewDistanceComputer() hnsw.DistanceComputer {
	return &sqComputer{q: s}
}

type sqComputer struct {
	q       *ScalarQuantizer
	query   []float32
	qInvNrm float32
	qIsZero bool
	buf     []float32
}

func (c *sqComputer) SetQuery(q []float32) {
	c.query = q
	if c.buf == nil {
		c.buf = make([]float32, c.q.dim)
	}
	if c.q.cosine {
		inv, ok := distance.InvNorm(q)
		c.qInvNrm = inv
		c.qIsZero = !ok
	}
}

func (c *sqComputer) Distance(id core.LocalID) float32 {
	c.q.ReconstructInto(id, c.buf)
	if !c.q.cosine {
		return distance.SquaredL2(c.query, c.buf)
	}
	if c.qIsZero {
		return 1
	}
	vInv, ok := c.q.InvNorm(id)
	if !ok {
		return 1
	}
	return -distance.Dot(c.query, c.buf) * c.qInvNrm * vInv
}
