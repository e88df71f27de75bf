package vecnode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vecnode/vecnode/distance"
	"github.com/vecnode/vecnode/index"
	"github.com/vecnode/vecnode/partition"
)

// nodeState is the state machine named in spec.md §4.8:
// Uninitialized -> Trained -> Populated -> Serialized.
type nodeState int

const (
	stateUninitialized nodeState = iota
	stateTrained
	statePopulated
	stateSerialized
)

// Node is one index node: a single sub-index, or (when Config.ScalarInfo
// is set) a materialized-view partitioned set of sub-indexes, behind the
// state machine, error translation, and version-fallback shim spec.md
// §4.8 and §4.12 describe. The zero value is not usable; construct with
// New or Deserialize/DeserializeFromFile.
type Node struct {
	mu sync.RWMutex

	cfg    Config
	state  nodeState
	legacy bool

	plan  *partition.Plan
	parts []*index.Variant

	legacyIdx *index.Legacy

	// offsetToLabel/labelToOffset is the non-MV identity bookkeeping named
	// by GetInternalIdToExternalIdMap/SetInternalIdToMostExternalIdMap.
	// For MV nodes these are derived from plan instead and kept nil here.
	offsetToLabel []uint64
	labelToOffset map[uint64]uint64

	// trainVectors is the vector set Train trained the quantizer on
	// (non-MV, non-legacy only); Deserialize replays it through Train
	// before replaying rows, so a fresh build trains the same quantizer.
	trainVectors [][]float32

	// rows is every (label, vector) pair ever inserted, in insertion
	// order, across Train (MV path) and Add (every path). Serialize
	// persists this instead of the graph's internal adjacency structure;
	// Deserialize rebuilds a bit-identical graph by replaying New -> Train
	// -> Add -> Splice against HNSW's deterministic RNG.
	rows []serializedRow

	logger  *Logger
	metrics MetricsCollector
}

// New allocates an index node per cfg, in the Uninitialized state.
func New(cfg Config) (*Node, error) {
	cfg = cfg.withDefaults()
	if cfg.Dimension <= 0 {
		return nil, ErrInvalidArgs
	}

	n := &Node{
		cfg:           cfg,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		labelToOffset: make(map[uint64]uint64),
	}

	if cfg.Legacy {
		l, err := index.NewLegacy(cfg.Dimension, cfg.Metric)
		if err != nil {
			return nil, translateError(err)
		}
		n.legacy = true
		n.legacyIdx = l
	}

	return n, nil
}

// Train trains the node's sub-index(es) per spec.md §4.8: rejected if
// already trained, rejected for metric_type = BM25. For a non-partitioned
// node this only trains the quantizer (if any); rows are inserted by Add.
// For a ScalarInfo-partitioned node, Train both builds the partition plan
// (spec.md §4.6) and inserts every (id, vector) pair given, since the
// plan's label_to_internal_offset layout requires the full label universe
// up front.
func (n *Node) Train(ids []uint64, vectors [][]float32) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	start := time.Now()
	var err error
	defer func() {
		n.metrics.RecordTrain(time.Since(start), err)
		n.logger.LogTrain(context.Background(), len(vectors), n.cfg.Metric.String(), err)
	}()

	if n.state != stateUninitialized {
		err = ErrIndexAlreadyTrained
		return err
	}
	if n.cfg.Metric == distance.BM25 {
		err = ErrInvalidMetricType
		return err
	}
	if err = n.validateRows(ids, vectors); err != nil {
		return err
	}

	if n.legacy {
		if len(vectors) > 0 {
			if _, aerr := n.legacyIdx.Add(vectors); aerr != nil {
				err = translateError(aerr)
				return err
			}
			n.appendOffsets(ids)
			n.appendRows(ids, vectors)
			n.state = statePopulated
		} else {
			n.state = stateTrained
		}
		return nil
	}

	if n.cfg.ScalarInfo != nil {
		if terr := n.trainPartitioned(ids, vectors); terr != nil {
			err = terr
			return err
		}
		return nil
	}

	v, verr := index.New(n.cfg.toIndexConfig())
	if verr != nil {
		err = translateError(verr)
		return err
	}
	if terr := v.Train(vectors); terr != nil {
		err = translateError(terr)
		return err
	}
	n.parts = []*index.Variant{v}
	n.trainVectors = vectors
	n.state = stateTrained
	return nil
}

func (n *Node) trainPartitioned(ids []uint64, vectors [][]float32) error {
	plan, err := partition.Build(*n.cfg.ScalarInfo, n.cfg.BaseRows)
	if err != nil {
		return translateError(err)
	}

	byLabel := make(map[uint64][]float32, len(ids))
	for i, id := range ids {
		byLabel[id] = vectors[i]
	}

	parts := make([]*index.Variant, plan.NumPartitions())
	for pi := 0; pi < plan.NumPartitions(); pi++ {
		v, verr := index.New(n.cfg.toIndexConfig())
		if verr != nil {
			return translateError(verr)
		}
		partVecs := make([][]float32, 0, len(plan.Labels[pi]))
		for _, label := range plan.Labels[pi] {
			vec, ok := byLabel[label]
			if !ok {
				return fmt.Errorf("%w: label %d has no training vector", ErrInvalidArgs, label)
			}
			partVecs = append(partVecs, vec)
		}
		if terr := v.Train(partVecs); terr != nil {
			return translateError(terr)
		}
		if _, aerr := v.Add(partVecs); aerr != nil {
			return translateError(aerr)
		}
		for i, label := range plan.Labels[pi] {
			n.rows = append(n.rows, serializedRow{Label: label, Vector: partVecs[i]})
		}
		parts[pi] = v
	}

	n.plan = plan
	n.parts = parts
	n.state = statePopulated
	return nil
}

// Add appends rows to the node, per spec.md §4.8: rejected if Train has
// not run. For a partitioned node, each id must already belong to a
// bucket named in Config.ScalarInfo at Train time; Add only supplies the
// vector data for labels the plan already knows about.
func (n *Node) Add(ids []uint64, vectors [][]float32) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	start := time.Now()
	var err error
	failed := 0
	defer func() {
		n.metrics.RecordAdd(len(vectors), failed, time.Since(start))
		n.logger.LogAdd(context.Background(), len(vectors), err)
	}()

	if n.state == stateUninitialized {
		err = ErrIndexNotTrained
		return err
	}
	if err = n.validateRows(ids, vectors); err != nil {
		failed = len(vectors)
		return err
	}

	if n.legacy {
		if _, aerr := n.legacyIdx.Add(vectors); aerr != nil {
			err = translateError(aerr)
			failed = len(vectors)
			return err
		}
		n.appendOffsets(ids)
		n.appendRows(ids, vectors)
		n.state = statePopulated
		return nil
	}

	if n.plan != nil {
		for i, label := range ids {
			pi, ok := n.plan.PartitionOf(label)
			if !ok {
				err = fmt.Errorf("%w: label %d is not part of the partition plan", ErrInvalidArgs, label)
				failed = len(vectors) - i
				return err
			}
			if _, aerr := n.parts[pi].Add(vectors[i : i+1]); aerr != nil {
				err = translateError(aerr)
				failed = len(vectors) - i
				return err
			}
			n.rows = append(n.rows, serializedRow{Label: label, Vector: vectors[i]})
		}
		n.state = statePopulated
		return nil
	}

	if len(n.parts) == 0 {
		err = ErrIndexNotTrained
		return err
	}
	if _, aerr := n.parts[0].Add(vectors); aerr != nil {
		err = translateError(aerr)
		failed = len(vectors)
		return err
	}
	n.appendOffsets(ids)
	n.appendRows(ids, vectors)
	n.state = statePopulated
	return nil
}

func (n *Node) appendRows(ids []uint64, vectors [][]float32) {
	for i, id := range ids {
		n.rows = append(n.rows, serializedRow{Label: id, Vector: vectors[i]})
	}
}

// Splice performs spec.md §4.7's PQ/PRQ finalize step on every sub-index:
// callers using Kind PQ/PRQ must call this once after all training data
// has been added and before Search, or the graph keeps searching over the
// (slower, but still correct) flat-over-HNSW storage.
func (n *Node) Splice() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.parts {
		if err := p.Splice(); err != nil {
			return translateError(err)
		}
	}
	return nil
}

func (n *Node) validateRows(ids []uint64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return ErrInvalidArgs
	}
	for _, v := range vectors {
		if len(v) != n.cfg.Dimension {
			return &ErrDimensionMismatch{Expected: n.cfg.Dimension, Actual: len(v)}
		}
	}
	return nil
}

func (n *Node) appendOffsets(ids []uint64) {
	base := uint64(len(n.offsetToLabel))
	for i, id := range ids {
		n.offsetToLabel = append(n.offsetToLabel, id)
		n.labelToOffset[id] = base + uint64(i)
	}
}

// GetInternalIdToExternalIdMap publishes the global internal-offset ->
// external-label mapping, per spec.md §4.8.
func (n *Node) GetInternalIdToExternalIdMap() []uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.plan != nil {
		return n.plan.ConcatLabels()
	}
	out := make([]uint64, len(n.offsetToLabel))
	copy(out, n.offsetToLabel)
	return out
}

// SetInternalIdToMostExternalIdMap overrides the published offset->label
// map with a caller-supplied higher-level id space, per spec.md §4.8's
// "most external id" variant. Only valid for non-partitioned nodes.
func (n *Node) SetInternalIdToMostExternalIdMap(m []uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.plan != nil {
		return fmt.Errorf("%w: cannot override the external id map of a partitioned node", ErrInvalidArgs)
	}
	n.offsetToLabel = append([]uint64(nil), m...)
	n.labelToOffset = make(map[uint64]uint64, len(m))
	for off, label := range m {
		n.labelToOffset[label] = uint64(off)
	}
	return nil
}

// Len reports the total number of rows across every sub-index.
func (n *Node) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.legacy {
		return n.legacyIdx.Len()
	}
	total := 0
	for _, p := range n.parts {
		total += p.Len()
	}
	return total
}
