// Package vectorstore is the canonical raw-vector storage backing an HNSW
// graph or a flat index: a fixed-dimension sequence of rows in one of
// {fp32, fp16, bf16, int8}, plus the cosine inverse-L2-norm cache.
package vectorstore

import (
	"errors"

	"github.com/vecnode/vecnode/core"
	"github.com/vecnode/vecnode/distance"
	"github.com/vecnode/vecnode/internal/dataformat"
)

// ErrWrongDimension is returned when a vector doesn't match the store
// dimension.
var ErrWrongDimension = errors.New("vectorstore: wrong vector dimension")

// Store is the canonical storage for vectors. Implementations must treat
// the configured dimension as authoritative. GetVector always returns a
// caller-owned fp32 buffer (never storage-internal memory) since non-fp32
// formats must decode into one anyway; this keeps the contract uniform
// across formats per spec invariant 5 — raw rows are never renormalized, so
// reconstruction always yields the caller's original data.
type Store interface {
	Dimension() int
	Format() dataformat.Format
	IsCosine() bool
	Len() int

	// GetVector reconstructs row id into a freshly allocated fp32 slice.
	GetVector(id core.LocalID) ([]float32, bool)

	// ReconstructInto decodes row id into dst, which must have length
	// Dimension(). This is the offset-indexed gather path graph traversal
	// and refine use to avoid an allocation per distance computation.
	ReconstructInto(id core.LocalID, dst []float32) bool

	// InvNorm returns the cached 1/||v|| for row id when IsCosine is set.
	InvNorm(id core.LocalID) (float32, bool)

	// SetVector appends or overwrites row id. v is encoded to the store's
	// configured format exactly as given; if IsCosine is set, v's inverse
	// L2 norm is cached separately for use at distance-compute time.
	SetVector(id core.LocalID, v []float32) error
}

// FlatStore is the simplest Store: every row lives in one contiguous byte
// buffer, row i at byte offset i*rowSize. Grounded on the teacher's flat
// storage idiom (index/index.go's BruteSearch scanning a dense slice),
// generalized across the four data formats named in spec.md §3.
type FlatStore struct {
	dim      int
	format   dataformat.Format
	isCosine bool
	rowSize  int

	data     []byte
	invNorms []float32
	size     int
}

// NewFlatStore creates an empty FlatStore for dim-dimensional vectors
// stored in format f. If isCosine is set, SetVector populates the
// inverse-norm cache alongside the raw encoded row.
func NewFlatStore(dim int, f dataformat.Format, isCosine bool) (*FlatStore, error) {
	if dim <= 0 {
		return nil, ErrWrongDimension
	}
	if f.BytesPerComponent() == 0 {
		return nil, dataformat.ErrUnknownFormat
	}
	return &FlatStore{
		dim:      dim,
		format:   f,
		isCosine: isCosine,
		rowSize:  dataformat.RowByteSize(f, dim),
	}, nil
}

func (s *FlatStore) Dimension() int            { return s.dim }
func (s *FlatStore) Format() dataformat.Format { return s.format }
func (s *FlatStore) IsCosine() bool            { return s.isCosine }
func (s *FlatStore) Len() int                  { return s.size }

func (s *FlatStore) SetVector(id core.LocalID, v []float32) error {
	if len(v) != s.dim {
		return ErrWrongDimension
	}

	// Spec invariant 5: raw rows are stored exactly as given, never
	// renormalized; cosine normalization happens at distance-compute time
	// via the inverse-norm cache below, so GetVector always reconstructs
	// the caller's original data.
	idx := int(id)
	end := (idx + 1) * s.rowSize
	if end > len(s.data) {
		grown := make([]byte, end)
		copy(grown, s.data)
		s.data = grown
	}

	encoded, err := dataformat.EncodeRow(s.format, v, nil)
	if err != nil {
		return err
	}
	copy(s.data[idx*s.rowSize:end], encoded)

	if s.isCosine {
		if idx >= len(s.invNorms) {
			grown := make([]float32, idx+1)
			copy(grown, s.invNorms)
			s.invNorms = grown
		}
		// A zero vector caches 0, which InvNorm reports as absent.
		s.invNorms[idx], _ = distance.InvNorm(v)
	}

	if idx+1 > s.size {
		s.size = idx + 1
	}
	return nil
}

func (s *FlatStore) GetVector(id core.LocalID) ([]float32, bool) {
	dst := make([]float32, s.dim)
	if !s.ReconstructInto(id, dst) {
		return nil, false
	}
	return dst, true
}

func (s *FlatStore) ReconstructInto(id core.LocalID, dst []float32) bool {
	idx := int(id)
	if idx < 0 || idx >= s.size {
		return false
	}
	rowStart := idx * s.rowSize
	if err := dataformat.DecodeRowInto(s.format, s.data, rowStart, s.dim, dst); err != nil {
		return false
	}
	return true
}

func (s *FlatStore) InvNorm(id core.LocalID) (float32, bool) {
	idx := int(id)
	if !s.isCosine || idx < 0 || idx >= len(s.invNorms) {
		return 0, false
	}
	inv := s.invNorms[idx]
	return inv, inv != 0
}
