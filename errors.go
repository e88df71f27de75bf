package vecnode

import (
	"errors"
	"fmt"
)

// Sentinel error kinds returned by the index node facade. Each wraps a more
// specific cause where one exists; callers should use errors.Is against
// these sentinels rather than comparing concrete error values.
var (
	// ErrEmptyIndex is returned by operations that require at least one
	// vector (e.g. Search, Serialize) when the index has none, including
	// when Train has not run.
	ErrEmptyIndex = errors.New("vecnode: index is empty")

	// ErrIndexNotTrained is returned when Add or GetVectorByIds is called
	// before Train.
	ErrIndexNotTrained = errors.New("vecnode: index is not trained")

	// ErrIndexAlreadyTrained is returned when Train is called more than once.
	ErrIndexAlreadyTrained = errors.New("vecnode: index is already trained")

	// ErrInvalidArgs is returned for malformed call arguments (bad k,
	// mismatched dimension, unknown data format, and similar).
	ErrInvalidArgs = errors.New("vecnode: invalid arguments")

	// ErrInvalidMetricType is returned when a metric is not supported for
	// the requested operation, e.g. metric_type = BM25 at Train time.
	ErrInvalidMetricType = errors.New("vecnode: invalid metric type")

	// ErrInvalidBinarySet is returned when Deserialize is given a buffer
	// that does not round-trip as a valid serialized index.
	ErrInvalidBinarySet = errors.New("vecnode: invalid binary set")

	// ErrInvalidSerializedIndexType is returned when a FileHeader's
	// IndexKind does not match any kind this build knows how to read.
	ErrInvalidSerializedIndexType = errors.New("vecnode: invalid serialized index type")

	// ErrInvalidIndexError is returned when an internal invariant the
	// index depends on (graph/partition/quantizer consistency) is violated.
	ErrInvalidIndexError = errors.New("vecnode: invalid index state")

	// ErrNotImplemented is returned by operations this build does not
	// support for the configured index (e.g. GetVectorByIds on a quantized
	// Kind, AnnIterator on a Legacy or Int8 node).
	ErrNotImplemented = errors.New("vecnode: not implemented")

	// ErrInner wraps an opaque lower-level failure (I/O, allocation) that
	// does not itself deserve a dedicated sentinel.
	ErrInner = errors.New("vecnode: internal error")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vecnode: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return errors.Join(ErrInvalidArgs, e.cause) }

// ErrSerializedVersionUnsupported indicates a FileHeader version newer than
// this build knows how to read.
type ErrSerializedVersionUnsupported struct {
	Version uint32
	cause   error
}

func (e *ErrSerializedVersionUnsupported) Error() string {
	return fmt.Sprintf("vecnode: unsupported serialized version %d", e.Version)
}

func (e *ErrSerializedVersionUnsupported) Unwrap() error {
	return errors.Join(ErrInvalidSerializedIndexType, e.cause)
}

// translateError normalizes an internal package error into one of this
// package's sentinel kinds, preserving the original as the wrapped cause.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var dm *ErrDimensionMismatch
	if errors.As(err, &dm) {
		return dm
	}
	var sv *ErrSerializedVersionUnsupported
	if errors.As(err, &sv) {
		return sv
	}

	for _, sentinel := range []error{
		ErrEmptyIndex, ErrIndexNotTrained, ErrIndexAlreadyTrained,
		ErrInvalidArgs, ErrInvalidMetricType, ErrInvalidBinarySet,
		ErrInvalidSerializedIndexType, ErrInvalidIndexError, ErrNotImplemented,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	return fmt.Errorf("%w: %w", ErrInner, err)
}
