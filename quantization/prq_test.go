package quantization

import (
	"testing"

	"github.com/vecnode/vecnode/distance"
)

func TestResidualProductQuantizerReducesReconstructionError(t *testing.T) {
	const (
		dim        = 32
		m          = 4
		nbits      = 6
		numVectors = 200
	)

	vectors := make([][]float32, numVectors)
	for i := range vectors {
		vectors[i] = generateRandomVector(dim)
	}

	onestage, err := NewResidualProductQuantizer(dim, m, nbits, 1, distance.L2, true)
	if err != nil {
		t.Fatalf("NewResidualProductQuantizer(nrq=1): %v", err)
	}
	if err := onestage.Train(vectors, 10); err != nil {
		t.Fatalf("Train(nrq=1): %v", err)
	}

	twostage, err := NewResidualProductQuantizer(dim, m, nbits, 2, distance.L2, true)
	if err != nil {
		t.Fatalf("NewResidualProductQuantizer(nrq=2): %v", err)
	}
	if err := twostage.Train(vectors, 10); err != nil {
		t.Fatalf("Train(nrq=2): %v", err)
	}

	id1, _ := onestage.Add(vectors[0])
	id2, _ := twostage.Add(vectors[0])

	r1, _ := onestage.Get(id1)
	r2, _ := twostage.Get(id2)

	mse := func(want, got []float32) float32 {
		var sum float32
		for i := range want {
			d := want[i] - got[i]
			sum += d * d
		}
		return sum / float32(len(want))
	}

	mse1 := mse(vectors[0], r1)
	mse2 := mse(vectors[0], r2)
	t.Logf("one-stage MSE=%f two-stage MSE=%f", mse1, mse2)

	// A second residual stage should not make reconstruction meaningfully
	// worse; k-means is stochastic, so allow slack rather than requiring a
	// strict improvement.
	if mse2 > mse1*1.5+1e-6 {
		t.Errorf("two-stage PRQ reconstruction much worse than one stage: mse1=%f mse2=%f", mse1, mse2)
	}
}

func TestResidualProductQuantizerSumSearchVsReconstruct(t *testing.T) {
	const dim, m, nbits, nrq = 24, 4, 6, 2

	vectors := make([][]float32, 150)
	for i := range vectors {
		vectors[i] = generateRandomVector(dim)
	}

	sum, err := NewResidualProductQuantizer(dim, m, nbits, nrq, distance.L2, true)
	if err != nil {
		t.Fatalf("NewResidualProductQuantizer(sumSearch): %v", err)
	}
	if err := sum.Train(vectors, 8); err != nil {
		t.Fatalf("Train: %v", err)
	}
	recon, err := NewResidualProductQuantizer(dim, m, nbits, nrq, distance.L2, false)
	if err != nil {
		t.Fatalf("NewResidualProductQuantizer(reconstruct): %v", err)
	}
	if err := recon.Train(vectors, 8); err != nil {
		t.Fatalf("Train: %v", err)
	}

	id1, _ := sum.Add(vectors[0])
	id2, _ := recon.Add(vectors[0])

	query := generateRandomVector(dim)

	cmp1 := sum.NewDistanceComputer()
	cmp1.SetQuery(query)
	d1 := cmp1.Distance(id1)

	cmp2 := recon.NewDistanceComputer()
	cmp2.SetQuery(query)
	d2 := cmp2.Distance(id2)

	if d1 < 0 || d2 < 0 {
		t.Errorf("squared L2 distances must be non-negative: sumSearch=%f reconstruct=%f", d1, d2)
	}
}

func TestResidualProductQuantizerInvalidNRQ(t *testing.T) {
	if _, err := NewResidualProductQuantizer(16, 4, 4, 0, distance.L2, true); err == nil {
		t.Error("expected error for nrq = 0")
	}
}
