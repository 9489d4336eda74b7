package somgo

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	seed             int64
	snapshotEvery    int
	roundRobin       bool
}

// Option configures SOM constructor behavior.
type Option func(*options)

// WithLogger configures the logger used for operation and training-progress
// logs. If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithSeed fixes the pseudo-random seed driving weight initialization,
// per-pass presentation permutations, sample generation and kmeans seeding,
// making runs reproducible. The default seed is 1.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// WithSnapshotInterval publishes a TrainingState snapshot every k iterations
// instead of every iteration, trading status freshness for training
// throughput. The final snapshot is always published.
func WithSnapshotInterval(k int) Option {
	return func(o *options) {
		if k < 1 {
			k = 1
		}
		o.snapshotEvery = k
	}
}

// WithRoundRobin presents entities in deterministic store order during
// training instead of a seeded per-pass permutation.
func WithRoundRobin() Option {
	return func(o *options) {
		o.roundRobin = true
	}
}
