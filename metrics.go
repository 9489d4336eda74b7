package somgo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems.
type MetricsCollector interface {
	// RecordLoad is called after each data load.
	// loaded/rejected are record counts, duration is the total time taken.
	RecordLoad(loaded, rejected int, duration time.Duration)

	// RecordTraining is called when a training run terminates.
	// iterations is the number of completed iterations,
	// err is nil unless the run failed.
	RecordTraining(iterations int, duration time.Duration, err error)

	// RecordResolve is called after each mapping resolution.
	RecordResolve(entities int, duration time.Duration, err error)

	// RecordCluster is called after each clustering request.
	RecordCluster(clusters int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordLoad(int, int, time.Duration)            {}
func (NoopMetricsCollector) RecordTraining(int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordResolve(int, time.Duration, error)       {}
func (NoopMetricsCollector) RecordCluster(int, time.Duration, error)       {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	LoadCount          atomic.Int64
	LoadedRecords      atomic.Int64
	RejectedRecords    atomic.Int64
	TrainingCount      atomic.Int64
	TrainingErrors     atomic.Int64
	TrainingIterations atomic.Int64
	TrainingTotalNanos atomic.Int64
	ResolveCount       atomic.Int64
	ResolveErrors      atomic.Int64
	ClusterCount       atomic.Int64
	ClusterErrors      atomic.Int64
}

// RecordLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLoad(loaded, rejected int, _ time.Duration) {
	b.LoadCount.Add(1)
	b.LoadedRecords.Add(int64(loaded))
	b.RejectedRecords.Add(int64(rejected))
}

// RecordTraining implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTraining(iterations int, duration time.Duration, err error) {
	b.TrainingCount.Add(1)
	b.TrainingIterations.Add(int64(iterations))
	b.TrainingTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.TrainingErrors.Add(1)
	}
}

// RecordResolve implements MetricsCollector.
func (b *BasicMetricsCollector) RecordResolve(_ int, _ time.Duration, err error) {
	b.ResolveCount.Add(1)
	if err != nil {
		b.ResolveErrors.Add(1)
	}
}

// RecordCluster implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCluster(_ int, _ time.Duration, err error) {
	b.ClusterCount.Add(1)
	if err != nil {
		b.ClusterErrors.Add(1)
	}
}
