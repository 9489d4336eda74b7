// Package training implements the competitive-learning loop that adapts grid
// weights toward a store of entity embeddings.
//
// The trainer is the single writer of both the grid and the training state.
// Progress is published as immutable State snapshots through an atomic
// pointer, so status readers never block on an in-progress iteration, and
// cancellation is cooperative: a stop flag checked once per iteration
// boundary.
package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/somgo/distance"
	"github.com/hupe1980/somgo/entity"
	"github.com/hupe1980/somgo/grid"
	"github.com/hupe1980/somgo/internal/math32"
)

// ErrDiverged is returned when a non-finite value enters a weight vector.
// The run is terminal; the last valid snapshot is retained.
var ErrDiverged = errors.New("training diverged: non-finite weight")

// ErrAlreadyStarted is returned when Run is called twice on one trainer.
var ErrAlreadyStarted = errors.New("training already started")

// Status represents the lifecycle state of a training run.
type Status int

const (
	StatusRunning Status = iota
	StatusCompleted
	StatusStopped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusStopped:
		return "stopped"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// State is an immutable snapshot of training progress. A new State is
// published after each iteration (or every SnapshotEvery iterations); readers
// always observe a consistent, monotonically advancing view.
type State struct {
	CurrentIteration    int       `json:"currentIteration"`
	TotalIterations     int       `json:"totalIterations"`
	QuantizationError   float64   `json:"quantizationError"`
	LearningRate        float64   `json:"learningRate"`
	NeighborhoodRadius  float64   `json:"neighborhoodRadius"`
	Status              Status    `json:"status"`
	StartedAt           time.Time `json:"startedAt"`
	EstimatedCompletion time.Time `json:"estimatedCompletion"`
}

// Config controls a single training run.
type Config struct {
	// Epochs is the number of full passes over the entity store.
	Epochs int
	// BatchSize is the number of entities presented per iteration.
	BatchSize int
	// MaxIterations caps the total iteration count when > 0.
	MaxIterations int
	// InitialLearningRate and FinalLearningRate bound the exponential
	// learning-rate decay. Initial must be >= Final > 0.
	InitialLearningRate float64
	FinalLearningRate   float64
	// InitialRadius is the starting neighborhood radius; 0 selects
	// max(gridWidth, gridHeight) / 2.
	InitialRadius float64
	// FinalRadius is the terminal neighborhood radius; 0 selects 1.
	FinalRadius float64
	// Seed drives weight initialization and the per-pass presentation
	// permutation, making runs reproducible.
	Seed int64
	// RoundRobin presents entities in store order instead of a seeded
	// permutation per pass.
	RoundRobin bool
	// SnapshotEvery publishes a State every K iterations (minimum 1).
	// The final snapshot is always published.
	SnapshotEvery int
}

func (c *Config) validate() error {
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive, got %d", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.InitialLearningRate <= 0 || c.FinalLearningRate <= 0 {
		return fmt.Errorf("learning rates must be positive")
	}
	if c.InitialLearningRate < c.FinalLearningRate {
		return fmt.Errorf("initial learning rate %g below final %g", c.InitialLearningRate, c.FinalLearningRate)
	}
	return nil
}

// Trainer runs one training run over a grid and an entity store.
// It is the exclusive writer of the grid for the duration of the run.
type Trainer struct {
	g     *grid.Grid
	store *entity.Store
	cfg   Config

	state   atomic.Pointer[State]
	stop    atomic.Bool
	started atomic.Bool
	done    chan struct{}
	runErr  error // written before done is closed

	logger  *slog.Logger
	limiter *rate.Limiter

	// scratch buffers for neighborhood update rollback
	touched []int
	saved   []float32
}

// New creates a trainer for the given grid and store.
func New(g *grid.Grid, store *entity.Store, cfg Config, logger *slog.Logger) (*Trainer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if store.Len() == 0 {
		return nil, errors.New("entity store is empty")
	}
	if store.Dimension() != g.Dimension() {
		return nil, fmt.Errorf("store dimension %d does not match grid dimension %d", store.Dimension(), g.Dimension())
	}

	if cfg.InitialRadius <= 0 {
		cfg.InitialRadius = float64(max(g.Width(), g.Height())) / 2
	}
	if cfg.FinalRadius <= 0 {
		cfg.FinalRadius = 1
	}
	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = 1
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	t := &Trainer{
		g:       g,
		store:   store,
		cfg:     cfg,
		done:    make(chan struct{}),
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}

	batches := (store.Len() + cfg.BatchSize - 1) / cfg.BatchSize
	total := cfg.Epochs * batches
	if cfg.MaxIterations > 0 && cfg.MaxIterations < total {
		total = cfg.MaxIterations
	}

	now := time.Now()
	t.state.Store(&State{
		TotalIterations:    total,
		LearningRate:       cfg.InitialLearningRate,
		NeighborhoodRadius: cfg.InitialRadius,
		Status:             StatusRunning,
		StartedAt:          now,
	})

	return t, nil
}

// State returns the latest published snapshot.
func (t *Trainer) State() State { return *t.state.Load() }

// Stop requests cooperative cancellation. The request is observed at the next
// iteration boundary; Stop never blocks and never deadlocks waiting for an
// acknowledgment.
func (t *Trainer) Stop() { t.stop.Store(true) }

// Done is closed when the run has terminated and its final snapshot is
// published.
func (t *Trainer) Done() <-chan struct{} { return t.done }

// Err returns the terminal error of the run, if any. Only valid after Done is
// closed.
func (t *Trainer) Err() error { return t.runErr }

// Run executes the training loop until completion, stop, context
// cancellation or divergence. It may be called at most once.
func (t *Trainer) Run(ctx context.Context) error {
	if !t.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer close(t.done)

	rnd := rand.New(rand.NewSource(t.cfg.Seed))
	t.initWeights(rnd)

	start := t.state.Load()
	total := start.TotalIterations
	n := t.store.Len()

	t.logger.Info("training started",
		"iterations", total,
		"entities", n,
		"batch_size", t.cfg.BatchSize,
		"initial_lr", t.cfg.InitialLearningRate,
		"initial_radius", t.cfg.InitialRadius,
	)

	order := t.newOrder(rnd, nil)
	var (
		cursor  int     // position in order
		qeSum   float64 // cumulative quantization error over all presentations
		qeCount int
	)

	for iter := 0; iter < total; iter++ {
		if t.stop.Load() || ctx.Err() != nil {
			t.publish(iter, total, qeAvg(qeSum, qeCount), t.lrAt(iter, total), t.radiusAt(iter, total), StatusStopped, start.StartedAt)
			t.logger.Info("training stopped", "iteration", iter)
			return nil
		}

		lr := t.lrAt(iter, total)
		radius := t.radiusAt(iter, total)

		for b := 0; b < t.cfg.BatchSize; b++ {
			if cursor == len(order) {
				order = t.newOrder(rnd, order)
				cursor = 0
			}
			embedding := t.store.Embedding(order[cursor])
			cursor++

			// A non-finite embedding is the only way a NaN/Inf can
			// enter the weight field; reject it before touching the
			// grid so the last good weights survive the failure.
			if math32.HasNaNOrInf(embedding) {
				t.publish(iter, total, qeAvg(qeSum, qeCount), lr, radius, StatusFailed, start.StartedAt)
				t.runErr = fmt.Errorf("%w at iteration %d", ErrDiverged, iter)
				t.logger.Error("training failed", "iteration", iter, "error", t.runErr)
				return t.runErr
			}

			bmu, dist := bestMatch(t.g, embedding)
			qeSum += float64(dist)
			qeCount++

			if err := t.updateNeighborhood(bmu, embedding, lr, radius); err != nil {
				t.publish(iter, total, qeAvg(qeSum, qeCount), lr, radius, StatusFailed, start.StartedAt)
				t.runErr = fmt.Errorf("%w at iteration %d", err, iter)
				t.logger.Error("training failed", "iteration", iter, "error", t.runErr)
				return t.runErr
			}
		}

		if (iter+1)%t.cfg.SnapshotEvery == 0 || iter+1 == total {
			t.publish(iter+1, total, qeAvg(qeSum, qeCount), lr, radius, StatusRunning, start.StartedAt)
		}

		if t.limiter.Allow() {
			t.logger.Debug("training progress",
				"iteration", iter+1,
				"total", total,
				"quantization_error", qeAvg(qeSum, qeCount),
				"learning_rate", lr,
				"radius", radius,
			)
		}
	}

	finalLR := t.lrAt(total-1, total)
	finalRadius := t.radiusAt(total-1, total)
	t.publish(total, total, qeAvg(qeSum, qeCount), finalLR, finalRadius, StatusCompleted, start.StartedAt)
	t.logger.Info("training completed", "iterations", total, "quantization_error", qeAvg(qeSum, qeCount))

	return nil
}

// initWeights initializes every node weight uniformly within the
// per-dimension bounds of the loaded embeddings, so the map starts inside the
// data envelope regardless of embedding scale.
func (t *Trainer) initWeights(rnd *rand.Rand) {
	dim := t.g.Dimension()
	lo := make([]float32, dim)
	hi := make([]float32, dim)
	copy(lo, t.store.Embedding(0))
	copy(hi, t.store.Embedding(0))

	for i := 1; i < t.store.Len(); i++ {
		e := t.store.Embedding(i)
		for d := 0; d < dim; d++ {
			if e[d] < lo[d] {
				lo[d] = e[d]
			}
			if e[d] > hi[d] {
				hi[d] = e[d]
			}
		}
	}

	weights := t.g.Weights()
	for i := range weights {
		d := i % dim
		weights[i] = lo[d] + rnd.Float32()*(hi[d]-lo[d])
	}
}

// newOrder returns the presentation order for the next full pass, reusing
// prev's backing array when possible.
func (t *Trainer) newOrder(rnd *rand.Rand, prev []int) []int {
	n := t.store.Len()
	order := prev
	if len(order) != n {
		order = make([]int, n)
	}
	for i := range order {
		order[i] = i
	}
	if !t.cfg.RoundRobin {
		rnd.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return order
}

// lrAt computes the exponentially decayed learning rate for iteration t of T.
func (t *Trainer) lrAt(iter, total int) float64 {
	return decay(t.cfg.InitialLearningRate, t.cfg.FinalLearningRate, iter, total)
}

// radiusAt computes the exponentially decayed neighborhood radius.
func (t *Trainer) radiusAt(iter, total int) float64 {
	return decay(t.cfg.InitialRadius, t.cfg.FinalRadius, iter, total)
}

// decay interpolates exponentially from initial to final so that iteration 0
// yields initial and the last iteration yields exactly final.
func decay(initial, final float64, iter, total int) float64 {
	if total <= 1 || initial == final {
		return initial
	}
	frac := float64(iter) / float64(total-1)
	return initial * math.Pow(final/initial, frac)
}

// updateNeighborhood applies the Gaussian-kernel weight update to every node
// within radius of the BMU. Nodes beyond the radius are left unchanged (hard
// cutoff of the vanishing tail).
//
// If an update overflows into a non-finite value, the touched weights are
// rolled back to their pre-update state and ErrDiverged is returned, so
// readers never observe a torn grid.
func (t *Trainer) updateNeighborhood(bmu int, embedding []float32, lr, radius float64) error {
	twoSigmaSq := 2 * radius * radius

	touched := t.touched[:0]
	saved := t.saved[:0]
	diverged := false
	t.g.ForEachWithin(bmu, radius, func(i int, d float64) {
		w := t.g.Weight(i)
		touched = append(touched, i)
		saved = append(saved, w...)

		influence := math.Exp(-(d * d) / twoSigmaSq)
		math32.AxpyDelta(w, embedding, float32(lr*influence))

		// Overflow can surface in any touched node, not only the BMU:
		// a distant neighbor with an opposite-sign weight sees the
		// largest delta.
		if math32.HasNaNOrInf(w) {
			diverged = true
		}
	})
	t.touched = touched
	t.saved = saved

	if !diverged {
		return nil
	}

	dim := t.g.Dimension()
	for j, i := range touched {
		copy(t.g.Weight(i), saved[j*dim:(j+1)*dim])
	}
	return ErrDiverged
}

// bestMatch returns the index of the node whose weight is closest to the
// embedding (ties broken by lowest index) and the Euclidean distance to it.
func bestMatch(g *grid.Grid, embedding []float32) (int, float32) {
	best := 0
	bestDist := distance.SquaredL2(g.Weight(0), embedding)
	for i := 1; i < g.NodeCount(); i++ {
		if d := distance.SquaredL2(g.Weight(i), embedding); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best, math32.Sqrt(bestDist)
}

// BestMatch exposes BMU search for the mapping resolver.
func BestMatch(g *grid.Grid, embedding []float32) (int, float32) {
	return bestMatch(g, embedding)
}

func (t *Trainer) publish(iter, total int, qe, lr, radius float64, status Status, startedAt time.Time) {
	s := &State{
		CurrentIteration:   iter,
		TotalIterations:    total,
		QuantizationError:  qe,
		LearningRate:       lr,
		NeighborhoodRadius: radius,
		Status:             status,
		StartedAt:          startedAt,
	}
	if iter > 0 && iter < total && status == StatusRunning {
		elapsed := time.Since(startedAt)
		remaining := time.Duration(float64(elapsed) * float64(total-iter) / float64(iter))
		s.EstimatedCompletion = time.Now().Add(remaining)
	}
	t.state.Store(s)
}

func qeAvg(sum float64, count int) float64 {
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
