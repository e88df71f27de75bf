package vecnode

import (
	"github.com/vecnode/vecnode/bruteforce"
	"github.com/vecnode/vecnode/distance"
	"github.com/vecnode/vecnode/hnsw"
	"github.com/vecnode/vecnode/index"
	"github.com/vecnode/vecnode/internal/dataformat"
	"github.com/vecnode/vecnode/partition"
	"github.com/vecnode/vecnode/quantization"
)

// IndexKind selects the quantizer variant of a sub-index, per spec.md §3.
// HNSW itself is not a Kind: every Kind below is an HNSW graph over a
// different storage (flat, SQ-, PQ-, or PRQ-encoded).
type IndexKind = index.Kind

const (
	IndexFlat IndexKind = index.KindFlat
	IndexSQ   IndexKind = index.KindSQ
	IndexPQ   IndexKind = index.KindPQ
	IndexPRQ  IndexKind = index.KindPRQ
)

// Config carries the config surface named in spec.md §6: one typed struct,
// defaults filled in by New where the zero value would otherwise be
// invalid (e.g. HNSW.M == 0).
type Config struct {
	Dimension int
	Metric    distance.Metric
	Kind      IndexKind

	// Format is the on-disk/in-memory encoding of raw (pre-quantization)
	// rows. FP32 (the zero value) is the default.
	Format dataformat.Format

	HNSW hnsw.Config

	SQType quantization.SQType

	PQM     int
	PQNBits int

	PRQM       int
	PRQNBits   int
	PRQNRQ     int
	PRQSumMode bool

	// Refine enables the spec.md §4.4 oversample-and-rescore wrapper.
	Refine       bool
	RefineFactor int

	BruteForce bruteforce.Config

	// ScalarInfo, when set, makes this node a materialized-view
	// partitioned index per spec.md §4.6: Train builds one sub-index per
	// bucket group instead of a single flat sub-index.
	ScalarInfo *partition.ScalarInfo

	// BaseRows overrides the MV combining rule's base_rows threshold
	// (spec.md §4.6 default: 128 for flat/SQ, 2^nbits for PQ/PRQ).
	BaseRows int

	// EnableMMap honors DeserializeFromFile's memory-mapped load option
	// (spec.md §6's "the memory-mapped variant is selected via a config
	// flag"). This build maps the serialized vector rows read-only;
	// unsetting it reads the whole file into memory up front.
	EnableMMap bool

	// Legacy forces the version-fallback shim's brute-force-only backend
	// regardless of what a deserialized header's version says. Useful for
	// tests and for callers who want to pin the legacy code path.
	Legacy bool

	Logger  *Logger
	Metrics MetricsCollector
}

func (c Config) withDefaults() Config {
	if c.HNSW == (hnsw.Config{}) {
		c.HNSW = hnsw.DefaultConfig
	}
	if c.BaseRows <= 0 {
		c.BaseRows = defaultBaseRows(c)
	}
	if c.Logger == nil {
		c.Logger = NoopLogger()
	}
	if c.Metrics == nil {
		c.Metrics = NoopMetricsCollector{}
	}
	return c
}

// defaultBaseRows is spec.md §4.6's base_rows default: 128 for flat/SQ,
// 2^nbits for PQ/PRQ (the minimum row count their training needs).
func defaultBaseRows(c Config) int {
	switch c.Kind {
	case index.KindPQ:
		return 1 << uint(c.PQNBits)
	case index.KindPRQ:
		return 1 << uint(c.PRQNBits)
	default:
		return 128
	}
}

func (c Config) toIndexConfig() index.Config {
	return index.Config{
		Kind:         c.Kind,
		Metric:       c.Metric,
		Dimension:    c.Dimension,
		Format:       c.Format,
		HNSW:         c.HNSW,
		SQType:       c.SQType,
		PQM:          c.PQM,
		PQNBits:      c.PQNBits,
		PRQM:         c.PRQM,
		PRQNBits:     c.PRQNBits,
		PRQNRQ:       c.PRQNRQ,
		PRQSumMode:   c.PRQSumMode,
		Refine:       c.Refine,
		RefineFactor: c.RefineFactor,
		BruteForce:   c.BruteForce,
	}
}
