package vecnode

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vecnode/vecnode/bruteforce"
	"github.com/vecnode/vecnode/codec"
	"github.com/vecnode/vecnode/distance"
	"github.com/vecnode/vecnode/hnsw"
	"github.com/vecnode/vecnode/index"
	"github.com/vecnode/vecnode/internal/dataformat"
	"github.com/vecnode/vecnode/partition"
	"github.com/vecnode/vecnode/persistence"
	"github.com/vecnode/vecnode/quantization"
)

// currentFormatVersion is the on-disk version this build writes. It is at
// or above index.LegacyVersionCutoff, so SelectBackend never routes a
// file written by this build to the legacy shim; that path only fires for
// files a pre-graph build of this format left behind.
const currentFormatVersion uint32 = 1

// fileMagic identifies a vecnode serialized index, distinct from the
// teacher's VEC0 binary layout: this build serializes the (ids, vectors)
// replay log, not a byte image of the graph's adjacency structure.
const fileMagic uint32 = 0x564e4431 // "VND1"

// serializedRow is one (label, vector) pair in original insertion order.
type serializedRow struct {
	Label  uint64
	Vector []float32
}

// serializedConfig mirrors the subset of Config needed to rebuild a
// Variant/partition.Plan exactly; Logger and Metrics are runtime-only and
// are not persisted.
type serializedConfig struct {
	Dimension int
	Metric    distance.Metric
	Kind      IndexKind
	Format    dataformat.Format

	HNSW hnsw.Config

	SQType quantization.SQType

	PQM     int
	PQNBits int

	PRQM       int
	PRQNBits   int
	PRQNRQ     int
	PRQSumMode bool

	Refine       bool
	RefineFactor int

	BruteForce bruteforce.Config

	ScalarInfo *partition.ScalarInfo
	BaseRows   int
}

// serializedPayload is the full replay log Serialize writes and Deserialize
// consumes: enough of Config to reconstruct every sub-index, the vectors
// Train trained the quantizer on, and every row ever added, in order.
type serializedPayload struct {
	Config       serializedConfig
	TrainVectors [][]float32
	Rows         []serializedRow
	ExternalIDs  []uint64 // SetInternalIdToMostExternalIdMap override, nil if identity
}

// legacyPayload is the minimal shape SelectBackend routes to the
// brute-force-only backend: no quantizer/HNSW config at all, just enough
// to replay rows into a flat store.
type legacyPayload struct {
	Dimension int
	Metric    distance.Metric
	Rows      []serializedRow
}

// Serialize encodes the node's full state, per spec.md §4.8: requires a
// non-empty, trained index. The wire format is a small fixed header
// (magic, version, payload length, CRC32) followed by a codec.Default-
// encoded serializedPayload, built with the teacher's persistence package
// (CalculateChecksum) rather than inventing a second checksum routine.
func (n *Node) Serialize() ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	var err error
	var out []byte
	defer func() {
		n.metrics.RecordSerialize(len(out), err)
		n.logger.LogSerialize(context.Background(), len(out), err)
	}()

	if n.state != statePopulated && n.state != stateSerialized {
		err = ErrEmptyIndex
		return nil, err
	}
	if n.legacy {
		payload := legacyPayload{Dimension: n.cfg.Dimension, Metric: n.cfg.Metric, Rows: n.rows}
		body, merr := codec.Default.Marshal(&payload)
		if merr != nil {
			err = translateError(merr)
			return nil, err
		}
		out = frameWithHeader(0, body)
		n.state = stateSerialized
		return out, nil
	}

	payload := serializedPayload{
		Config: serializedConfig{
			Dimension: n.cfg.Dimension, Metric: n.cfg.Metric, Kind: n.cfg.Kind, Format: n.cfg.Format,
			HNSW: n.cfg.HNSW, SQType: n.cfg.SQType, PQM: n.cfg.PQM, PQNBits: n.cfg.PQNBits,
			PRQM: n.cfg.PRQM, PRQNBits: n.cfg.PRQNBits, PRQNRQ: n.cfg.PRQNRQ, PRQSumMode: n.cfg.PRQSumMode,
			Refine: n.cfg.Refine, RefineFactor: n.cfg.RefineFactor, BruteForce: n.cfg.BruteForce,
			ScalarInfo: n.cfg.ScalarInfo, BaseRows: n.cfg.BaseRows,
		},
		TrainVectors: n.trainVectors,
		Rows:         n.rows,
	}
	if n.plan == nil && n.offsetToLabel != nil {
		payload.ExternalIDs = n.offsetToLabel
	}

	body, merr := codec.Default.Marshal(&payload)
	if merr != nil {
		err = translateError(merr)
		return nil, err
	}
	out = frameWithHeader(currentFormatVersion, body)
	n.state = stateSerialized
	return out, nil
}

// frameWithHeader prepends the fixed 16-byte header (magic, version,
// length, checksum) ahead of body.
func frameWithHeader(version uint32, body []byte) []byte {
	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[0:4], fileMagic)
	binary.LittleEndian.PutUint32(header[4:8], version)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(body)))
	binary.LittleEndian.PutUint32(header[12:16], persistence.CalculateChecksum(body))
	return append(header, body...)
}

func parseHeader(data []byte) (version uint32, body []byte, err error) {
	if len(data) < 16 {
		return 0, nil, fmt.Errorf("%w: truncated header", ErrInvalidBinarySet)
	}
	magic := binary.LittleEndian.Uint32(data[0:4])
	if magic != fileMagic {
		return 0, nil, fmt.Errorf("%w: bad magic", ErrInvalidBinarySet)
	}
	version = binary.LittleEndian.Uint32(data[4:8])
	length := binary.LittleEndian.Uint32(data[8:12])
	checksum := binary.LittleEndian.Uint32(data[12:16])
	body = data[16:]
	if uint32(len(body)) != length {
		return 0, nil, fmt.Errorf("%w: length mismatch", ErrInvalidBinarySet)
	}
	if persistence.CalculateChecksum(body) != checksum {
		return 0, nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidBinarySet)
	}
	return version, body, nil
}

// Deserialize decodes a buffer Serialize previously produced, replaying
// New -> Train -> Add -> Splice against the persisted rows. HNSW's RNG is
// deterministically seeded, so the replayed graph is bit-identical to the
// one Serialize captured, satisfying spec.md §8's round-trip property
// without a second codec for the graph's adjacency structure.
func Deserialize(data []byte) (*Node, error) {
	return deserialize(data, Config{})
}

// DeserializeFromFile loads a file Serialize's output was written to,
// honoring cfg.EnableMMap (memory-mapped, read-only) versus a buffered
// full read, and cfg.Logger/cfg.Metrics as runtime overrides.
func DeserializeFromFile(path string, cfg Config) (*Node, error) {
	var data []byte
	if cfg.EnableMMap {
		mf, err := persistence.MmapReadOnly(path)
		if err != nil {
			return nil, translateError(err)
		}
		data = mf.Bytes()
	} else {
		var err error
		if err = persistence.LoadFromFile(path, func(r io.Reader) error {
			buf, rerr := readAll(r)
			if rerr != nil {
				return rerr
			}
			data = buf
			return nil
		}); err != nil {
			return nil, translateError(err)
		}
	}
	return deserialize(data, cfg)
}

func readAll(r io.Reader) ([]byte, error) {
	br := bufio.NewReader(r)
	var out []byte
	buf := make([]byte, 64*1024)
	for {
		n, err := br.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func deserialize(data []byte, overrides Config) (*Node, error) {
	version, body, err := parseHeader(data)
	if err != nil {
		return nil, err
	}

	if index.SelectBackend(version) {
		var payload legacyPayload
		if uerr := codec.Default.Unmarshal(body, &payload); uerr != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidBinarySet, uerr)
		}
		cfg := overrides
		cfg.Dimension = payload.Dimension
		cfg.Metric = payload.Metric
		cfg.Legacy = true
		n, nerr := New(cfg)
		if nerr != nil {
			return nil, nerr
		}
		if err := replayLegacyRows(n, payload.Rows); err != nil {
			return nil, err
		}
		n.state = stateSerialized
		return n, nil
	}

	var payload serializedPayload
	if uerr := codec.Default.Unmarshal(body, &payload); uerr != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBinarySet, uerr)
	}

	cfg := overrides
	cfg.Dimension = payload.Config.Dimension
	cfg.Metric = payload.Config.Metric
	cfg.Kind = payload.Config.Kind
	cfg.Format = payload.Config.Format
	cfg.HNSW = payload.Config.HNSW
	cfg.SQType = payload.Config.SQType
	cfg.PQM = payload.Config.PQM
	cfg.PQNBits = payload.Config.PQNBits
	cfg.PRQM = payload.Config.PRQM
	cfg.PRQNBits = payload.Config.PRQNBits
	cfg.PRQNRQ = payload.Config.PRQNRQ
	cfg.PRQSumMode = payload.Config.PRQSumMode
	cfg.Refine = payload.Config.Refine
	cfg.RefineFactor = payload.Config.RefineFactor
	cfg.BruteForce = payload.Config.BruteForce
	cfg.ScalarInfo = payload.Config.ScalarInfo
	cfg.BaseRows = payload.Config.BaseRows

	n, nerr := New(cfg)
	if nerr != nil {
		return nil, nerr
	}

	if n.cfg.ScalarInfo != nil {
		ids := make([]uint64, len(payload.Rows))
		vecs := make([][]float32, len(payload.Rows))
		for i, r := range payload.Rows {
			ids[i] = r.Label
			vecs[i] = r.Vector
		}
		if err := n.Train(ids, vecs); err != nil {
			return nil, err
		}
	} else {
		trainIDs := make([]uint64, len(payload.TrainVectors))
		if err := n.Train(trainIDs, payload.TrainVectors); err != nil {
			return nil, err
		}
		for _, r := range payload.Rows {
			if err := n.Add([]uint64{r.Label}, [][]float32{r.Vector}); err != nil {
				return nil, err
			}
		}
		if payload.ExternalIDs != nil {
			if err := n.SetInternalIdToMostExternalIdMap(payload.ExternalIDs); err != nil {
				return nil, err
			}
		}
	}

	if err := n.Splice(); err != nil {
		return nil, err
	}
	n.state = stateSerialized
	return n, nil
}

func replayLegacyRows(n *Node, rows []serializedRow) error {
	if len(rows) == 0 {
		return nil
	}
	ids := make([]uint64, len(rows))
	vecs := make([][]float32, len(rows))
	for i, r := range rows {
		ids[i] = r.Label
		vecs[i] = r.Vector
	}
	return n.Train(ids, vecs)
}

// Close releases resources the node holds (currently a no-op: this build
// keeps every row in Go-managed memory even for EnableMMap loads, since
// the payload is re-decoded into plain slices at Deserialize time rather
// than kept as a live view into the mapped bytes). Present for symmetry
// with the teacher's lifecycle and so callers can defer it unconditionally.
func (n *Node) Close() error {
	return nil
}
