package quantization

import (
	"math"
	"math/rand"
	"testing"

	"github.com/vecnode/vecnode/distance"
)

func generateRandomVector(dim int) []float32 {
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = rand.Float32()*2 - 1
	}
	return vec
}

func TestProductQuantizerTrainAndAdd(t *testing.T) {
	const (
		dim          = 64
		numVectors   = 600
		numSubvecs   = 8
		nbits        = 8
		numCentroids = 256
	)

	pq, err := NewProductQuantizer(dim, numSubvecs, nbits, distance.L2)
	if err != nil {
		t.Fatalf("NewProductQuantizer: %v", err)
	}

	vectors := make([][]float32, numVectors)
	for i := range vectors {
		vectors[i] = generateRandomVector(dim)
	}
	if err := pq.Train(vectors, 10); err != nil {
		t.Fatalf("Train: %v", err)
	}
	if !pq.IsTrained() {
		t.Fatal("expected IsTrained after Train")
	}
	if got := pq.NumCentroids(); got != numCentroids {
		t.Errorf("NumCentroids = %d, want %d", got, numCentroids)
	}

	id, err := pq.Add(vectors[0])
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	reconstructed, ok := pq.Get(id)
	if !ok {
		t.Fatal("Get returned false for just-added row")
	}
	if len(reconstructed) != dim {
		t.Errorf("reconstructed dim = %d, want %d", len(reconstructed), dim)
	}

	var mse float32
	for i := range vectors[0] {
		diff := vectors[0][i] - reconstructed[i]
		mse += diff * diff
	}
	mse /= float32(dim)
	if mse > 1.0 {
		t.Errorf("reconstruction MSE too high: %f", mse)
	}
}

func TestProductQuantizerTooFewRows(t *testing.T) {
	pq, err := NewProductQuantizer(32, 4, 8, distance.L2)
	if err != nil {
		t.Fatalf("NewProductQuantizer: %v", err)
	}
	vectors := make([][]float32, 10)
	for i := range vectors {
		vectors[i] = generateRandomVector(32)
	}
	if err := pq.Train(vectors, 5); err != ErrTooFewRows {
		t.Fatalf("Train with too few rows: got %v, want ErrTooFewRows", err)
	}
}

func TestProductQuantizerInvalidDimension(t *testing.T) {
	if _, err := NewProductQuantizer(100, 7, 8, distance.L2); err == nil {
		t.Error("expected error for dimension not divisible by m")
	}
	if _, err := NewProductQuantizer(128, 8, 9, distance.L2); err == nil {
		t.Error("expected error for nbits > 8")
	}
}

func TestProductQuantizerDistanceComputerMatchesADC(t *testing.T) {
	const dim, m, nbits = 32, 4, 8

	pq, _ := NewProductQuantizer(dim, m, nbits, distance.L2)
	vectors := make([][]float32, 300)
	for i := range vectors {
		vectors[i] = generateRandomVector(dim)
	}
	if err := pq.Train(vectors, 10); err != nil {
		t.Fatalf("Train: %v", err)
	}

	id, _ := pq.Add(vectors[0])
	query := generateRandomVector(dim)

	cmp := pq.NewDistanceComputer()
	cmp.SetQuery(query)
	adc := cmp.Distance(id)

	decoded, _ := pq.Get(id)
	var full float32
	for i := range query {
		d := query[i] - decoded[i]
		full += d * d
	}

	if math.Abs(float64(adc-full)) > 1e-3 {
		t.Errorf("ADC distance mismatch: adc=%f full=%f", adc, full)
	}
}

func TestProductQuantizerCosineSortsZeroVectorLast(t *testing.T) {
	const dim, m, nbits = 16, 4, 4

	pq, _ := NewProductQuantizer(dim, m, nbits, distance.Cosine)
	vectors := make([][]float32, 30)
	for i := range vectors {
		vectors[i] = generateRandomVector(dim)
	}
	if err := pq.Train(vectors, 5); err != nil {
		t.Fatalf("Train: %v", err)
	}

	zero := make([]float32, dim)
	zeroID, _ := pq.Add(zero)
	realID, _ := pq.Add(vectors[0])

	cmp := pq.NewDistanceComputer()
	cmp.SetQuery(vectors[1])

	dZero := cmp.Distance(zeroID)
	dReal := cmp.Distance(realID)
	if dZero < dReal {
		t.Errorf("zero vector should sort last: dZero=%f dReal=%f", dZero, dReal)
	}
}
