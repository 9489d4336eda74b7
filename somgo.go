package somgo

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/somgo/cluster"
	"github.com/hupe1980/somgo/entity"
	"github.com/hupe1980/somgo/featuremap"
	"github.com/hupe1980/somgo/grid"
	"github.com/hupe1980/somgo/mapping"
	"github.com/hupe1980/somgo/persistence"
	"github.com/hupe1980/somgo/training"
)

// GridState is a point-in-time view of a trained grid: all nodes (optionally
// with weight copies) plus the current entity-to-node mappings.
type GridState struct {
	Width    int                   `json:"width"`
	Height   int                   `json:"height"`
	Topology grid.Topology         `json:"topology"`
	Nodes    []grid.Node           `json:"nodes"`
	Mappings []mapping.NodeMapping `json:"mappings"`
}

// SOM owns the instance registry: it is the single owner of the id to
// instance mapping and the only component that constructs or destroys
// instances. Distinct instances share no mutable state and may train fully in
// parallel.
type SOM struct {
	opts options

	mu        sync.RWMutex
	instances map[string]*instance
}

// New creates a SOM service.
func New(optFns ...Option) *SOM {
	opts := options{
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		seed:             1,
		snapshotEvery:    1,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &SOM{
		opts:      opts,
		instances: make(map[string]*instance),
	}
}

// CreateInstance validates the config and allocates a new instance in status
// Created.
func (s *SOM) CreateInstance(cfg Config) (InstanceInfo, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		s.opts.logger.LogCreate("", cfg.GridWidth, cfg.GridHeight, cfg.EmbeddingDimension, err)
		return InstanceInfo{}, err
	}

	in := newInstance(uuid.NewString(), cfg)

	s.mu.Lock()
	s.instances[in.id] = in
	s.mu.Unlock()

	s.opts.logger.LogCreate(in.id, cfg.GridWidth, cfg.GridHeight, cfg.EmbeddingDimension, nil)
	return in.info(), nil
}

// GetInstance returns a snapshot of the instance.
func (s *SOM) GetInstance(id string) (InstanceInfo, error) {
	in, err := s.lookup(id)
	if err != nil {
		return InstanceInfo{}, err
	}
	return in.info(), nil
}

// ListInstances returns snapshots of all instances, ordered by creation time.
func (s *SOM) ListInstances() []InstanceInfo {
	s.mu.RLock()
	infos := make([]InstanceInfo, 0, len(s.instances))
	for _, in := range s.instances {
		infos = append(infos, in.info())
	}
	s.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.Before(infos[j].CreatedAt)
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// DeleteInstance removes the instance. An in-flight training run is signaled
// to cancel and waited for before the instance's memory is released.
func (s *SOM) DeleteInstance(id string) error {
	s.mu.Lock()
	in, ok := s.instances[id]
	if ok {
		delete(s.instances, id)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	start := time.Now()
	in.shutdown()
	s.opts.logger.LogDelete(id, time.Since(start))
	return nil
}

// LoadEntities validates and loads a batch of records into the instance's
// entity store, replacing any previously loaded data. Invalid records are
// rejected individually and reported; they never abort the batch.
func (s *SOM) LoadEntities(id string, records []entity.Record) (entity.LoadResult, error) {
	in, err := s.lookup(id)
	if err != nil {
		return entity.LoadResult{}, err
	}

	start := time.Now()
	result, err := in.swapStore(records)
	if err != nil {
		s.opts.logger.LogLoad(id, 0, 0, err)
		return entity.LoadResult{}, err
	}

	s.opts.metricsCollector.RecordLoad(result.Loaded, len(result.Rejected), time.Since(start))
	s.opts.logger.LogLoad(id, result.Loaded, len(result.Rejected), nil)
	return result, nil
}

// LoadFromSPARQL fetches records from a SPARQL endpoint and loads them like
// LoadEntities.
func (s *SOM) LoadFromSPARQL(ctx context.Context, id, endpoint, query string) (entity.LoadResult, error) {
	if _, err := s.lookup(id); err != nil {
		return entity.LoadResult{}, err
	}

	records, err := entity.NewSPARQLSource(endpoint).Query(ctx, query)
	if err != nil {
		s.opts.logger.LogLoad(id, 0, 0, err)
		return entity.LoadResult{}, err
	}
	return s.LoadEntities(id, records)
}

// GenerateSample loads count synthetic records with embeddings drawn from
// well-separated clusters, seeded by the service seed.
func (s *SOM) GenerateSample(id string, count int) (entity.LoadResult, error) {
	in, err := s.lookup(id)
	if err != nil {
		return entity.LoadResult{}, err
	}
	if count <= 0 {
		return entity.LoadResult{}, &ErrInvalidConfig{Field: "sampleCount", Reason: "must be positive"}
	}

	rnd := rand.New(rand.NewSource(s.opts.seed))
	return s.LoadEntities(id, entity.GenerateSample(rnd, count, in.config.EmbeddingDimension))
}

// Train starts a background training run. It returns immediately once the
// run is accepted; progress is observed via TrainingStatus. A second Train
// while a run is active, or a Train without loaded data, is a state error.
func (s *SOM) Train(id string, epochs, batchSize int) error {
	in, err := s.lookup(id)
	if err != nil {
		return err
	}

	cfg := training.Config{
		Epochs:              epochs,
		BatchSize:           batchSize,
		MaxIterations:       in.config.MaxIterations,
		InitialLearningRate: in.config.InitialLearningRate,
		FinalLearningRate:   in.config.FinalLearningRate,
		Seed:                s.opts.seed,
		RoundRobin:          s.opts.roundRobin,
		SnapshotEvery:       s.opts.snapshotEvery,
	}

	trainer, ctx, err := in.startTraining(cfg, s.opts.logger)
	if err != nil {
		return err
	}

	s.opts.logger.LogTrainStart(id, epochs, batchSize)

	go func() {
		start := time.Now()
		runErr := trainer.Run(ctx)
		in.finishTraining(runErr)

		state := trainer.State()
		s.opts.metricsCollector.RecordTraining(state.CurrentIteration, time.Since(start), runErr)
		if runErr != nil {
			s.opts.logger.Error("training run failed", "instance", id, "error", &ErrTrainingFailed{InstanceID: id, cause: runErr})
		}
	}()

	return nil
}

// StopTraining requests cooperative cancellation of the active run. The stop
// is observed at the next iteration boundary; the last complete snapshot is
// retained.
func (s *SOM) StopTraining(id string) error {
	in, err := s.lookup(id)
	if err != nil {
		return err
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if in.status != StatusTraining || in.trainer == nil {
		return &ErrInvalidState{Op: "stop training", Status: in.status}
	}
	in.trainer.Stop()
	return nil
}

// TrainingStatus returns the latest published snapshot of the current or
// most recent training run.
func (s *SOM) TrainingStatus(id string) (training.State, error) {
	in, err := s.lookup(id)
	if err != nil {
		return training.State{}, err
	}
	return in.trainingState()
}

// ResolveMappings recomputes the BMU assignment of every loaded entity
// against the trained grid. Winner counters accumulate across repeated calls
// and reset when a new training run starts.
func (s *SOM) ResolveMappings(ctx context.Context, id string) ([]mapping.NodeMapping, error) {
	in, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	g, store, err := in.trainedGrid()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	mappings, err := in.resolver.Resolve(ctx, g, store)
	s.opts.metricsCollector.RecordResolve(store.Len(), time.Since(start), err)
	return mappings, err
}

// GridState returns all nodes of the trained grid (with weight copies when
// includeWeights is set) together with the current entity mappings.
func (s *SOM) GridState(ctx context.Context, id string, includeWeights bool) (*GridState, error) {
	in, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	g, _, err := in.trainedGrid()
	if err != nil {
		return nil, err
	}

	mappings, err := s.ResolveMappings(ctx, id)
	if err != nil {
		return nil, err
	}

	return &GridState{
		Width:    g.Width(),
		Height:   g.Height(),
		Topology: g.Topology(),
		Nodes:    g.Nodes(includeWeights),
		Mappings: mappings,
	}, nil
}

// FeatureMap derives a scalar field over the trained grid. dimension is only
// consulted for featuremap.TypeComponent.
func (s *SOM) FeatureMap(id string, typ featuremap.Type, dimension int) (*featuremap.Map, error) {
	in, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	g, _, err := in.trainedGrid()
	if err != nil {
		return nil, err
	}
	return featuremap.Generate(g, typ, dimension)
}

// Cluster groups the trained grid's nodes with the selected algorithm.
// threshold and minClusterSize fall back to the instance config when zero.
func (s *SOM) Cluster(id string, algo cluster.Algorithm, threshold float64, minClusterSize int) (*cluster.Result, error) {
	in, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	g, _, err := in.trainedGrid()
	if err != nil {
		return nil, err
	}

	if threshold <= 0 {
		threshold = in.config.ClusterThreshold
	}
	if minClusterSize < 1 {
		minClusterSize = in.config.MinClusterSize
	}

	start := time.Now()
	result, err := cluster.Run(g, algo, cluster.Options{
		Threshold:      threshold,
		MinClusterSize: minClusterSize,
		Seed:           s.opts.seed,
	})

	clusters := 0
	if result != nil {
		clusters = len(result.Clusters)
	}
	s.opts.metricsCollector.RecordCluster(clusters, time.Since(start), err)
	return result, err
}

// SaveInstance writes a snapshot of a trained instance to w.
func (s *SOM) SaveInstance(ctx context.Context, id string, w io.Writer, optFns ...func(*persistence.Options)) error {
	in, err := s.lookup(id)
	if err != nil {
		return err
	}

	g, store, err := in.trainedGrid()
	if err != nil {
		return err
	}

	// A throwaway resolver keeps saving free of winner-counter side effects.
	mappings, err := mapping.NewResolver().Resolve(ctx, g, store)
	if err != nil {
		return err
	}

	state, _ := in.trainingState()
	cfg := in.config

	snap := &persistence.Snapshot{
		Meta: persistence.Meta{
			InstanceID:          in.id,
			CreatedAt:           in.createdAt,
			GridWidth:           cfg.GridWidth,
			GridHeight:          cfg.GridHeight,
			Topology:            cfg.Topology.String(),
			Dimension:           cfg.EmbeddingDimension,
			MaxIterations:       cfg.MaxIterations,
			InitialLearningRate: cfg.InitialLearningRate,
			FinalLearningRate:   cfg.FinalLearningRate,
			ClusterThreshold:    cfg.ClusterThreshold,
			MinClusterSize:      cfg.MinClusterSize,
			TrainedIterations:   state.CurrentIteration,
			QuantizationError:   state.QuantizationError,
			Entities:            store.Records(),
			Mappings:            mappings,
		},
		Weights: g.Weights(),
	}

	return persistence.Save(w, snap, optFns...)
}

// LoadInstance registers a previously saved instance from r. The instance
// arrives in status Trained and is immediately queryable or retrainable.
func (s *SOM) LoadInstance(r io.Reader) (InstanceInfo, error) {
	snap, err := persistence.Load(r)
	if err != nil {
		return InstanceInfo{}, err
	}

	topology, ok := grid.ParseTopology(snap.Meta.Topology)
	if !ok {
		return InstanceInfo{}, fmt.Errorf("snapshot: unknown topology %q", snap.Meta.Topology)
	}

	cfg := Config{
		GridWidth:           snap.Meta.GridWidth,
		GridHeight:          snap.Meta.GridHeight,
		Topology:            topology,
		EmbeddingDimension:  snap.Meta.Dimension,
		MaxIterations:       snap.Meta.MaxIterations,
		InitialLearningRate: snap.Meta.InitialLearningRate,
		FinalLearningRate:   snap.Meta.FinalLearningRate,
		ClusterThreshold:    snap.Meta.ClusterThreshold,
		MinClusterSize:      snap.Meta.MinClusterSize,
	}.withDefaults()
	if err := cfg.Validate(); err != nil {
		return InstanceInfo{}, err
	}

	g, err := grid.FromWeights(cfg.GridWidth, cfg.GridHeight, cfg.EmbeddingDimension, topology, snap.Weights)
	if err != nil {
		return InstanceInfo{}, err
	}

	store, result := entity.NewStore(cfg.EmbeddingDimension, snap.Meta.Entities)
	if len(result.Rejected) > 0 {
		return InstanceInfo{}, fmt.Errorf("snapshot: %d persisted entities failed validation", len(result.Rejected))
	}

	id := snap.Meta.InstanceID
	if id == "" {
		id = uuid.NewString()
	}

	in := newInstance(id, cfg)
	in.createdAt = snap.Meta.CreatedAt
	in.grid = g
	in.store = store
	in.status = StatusTrained
	in.loadedState = &training.State{
		CurrentIteration:  snap.Meta.TrainedIterations,
		TotalIterations:   snap.Meta.TrainedIterations,
		QuantizationError: snap.Meta.QuantizationError,
		Status:            training.StatusCompleted,
	}

	s.mu.Lock()
	if _, exists := s.instances[id]; exists {
		s.mu.Unlock()
		return InstanceInfo{}, fmt.Errorf("snapshot: instance %s already registered", id)
	}
	s.instances[id] = in
	s.mu.Unlock()

	return in.info(), nil
}

func (s *SOM) lookup(id string) (*instance, error) {
	s.mu.RLock()
	in, ok := s.instances[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return in, nil
}
