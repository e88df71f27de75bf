package vecnode

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordTrain is called after each Train call.
	RecordTrain(duration time.Duration, err error)

	// RecordAdd is called after each Add call. count is the number of rows
	// attempted, failed is the number that failed.
	RecordAdd(count, failed int, duration time.Duration)

	// RecordSearch is called after each Search/RangeSearch call.
	RecordSearch(k int, duration time.Duration, err error)

	// RecordSerialize is called after each Serialize/Deserialize call.
	RecordSerialize(bytes int, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordTrain(time.Duration, error)        {}
func (NoopMetricsCollector) RecordAdd(int, int, time.Duration)       {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error)  {}
func (NoopMetricsCollector) RecordSerialize(int, error)              {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	TrainCount       atomic.Int64
	TrainErrors      atomic.Int64
	AddCount         atomic.Int64
	AddItems         atomic.Int64
	AddFailed        atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	SerializeCount   atomic.Int64
	SerializeErrors  atomic.Int64
	SerializeBytes   atomic.Int64
}

// RecordTrain implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTrain(_ time.Duration, err error) {
	b.TrainCount.Add(1)
	if err != nil {
		b.TrainErrors.Add(1)
	}
}

// RecordAdd implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAdd(count, failed int, _ time.Duration) {
	b.AddCount.Add(1)
	b.AddItems.Add(int64(count))
	b.AddFailed.Add(int64(failed))
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(_ int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordSerialize implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSerialize(n int, err error) {
	b.SerializeCount.Add(1)
	b.SerializeBytes.Add(int64(n))
	if err != nil {
		b.SerializeErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		TrainCount:      b.TrainCount.Load(),
		TrainErrors:     b.TrainErrors.Load(),
		AddCount:        b.AddCount.Load(),
		AddItems:        b.AddItems.Load(),
		AddFailed:       b.AddFailed.Load(),
		SearchCount:     b.SearchCount.Load(),
		SearchErrors:    b.SearchErrors.Load(),
		SearchAvgNanos:  b.getAvgSearchNanos(),
		SerializeCount:  b.SerializeCount.Load(),
		SerializeErrors: b.SerializeErrors.Load(),
		SerializeBytes:  b.SerializeBytes.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgSearchNanos() int64 {
	count := b.SearchCount.Load()
	if count == 0 {
		return 0
	}
	return b.SearchTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	TrainCount      int64
	TrainErrors     int64
	AddCount        int64
	AddItems        int64
	AddFailed       int64
	SearchCount     int64
	SearchErrors    int64
	SearchAvgNanos  int64
	SerializeCount  int64
	SerializeErrors int64
	SerializeBytes  int64
}
