package somgo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/somgo/entity"
	"github.com/hupe1980/somgo/grid"
	"github.com/hupe1980/somgo/mapping"
	"github.com/hupe1980/somgo/training"
)

// InstanceStatus is the lifecycle state of a SOM instance. Transitions are
// monotonic forward, except that any state may move to StatusFailed.
type InstanceStatus int

const (
	StatusCreated InstanceStatus = iota
	StatusDataLoaded
	StatusTraining
	StatusTrained
	StatusFailed
)

func (s InstanceStatus) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusDataLoaded:
		return "data_loaded"
	case StatusTraining:
		return "training"
	case StatusTrained:
		return "trained"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// InstanceInfo is a point-in-time view of an instance, safe to retain.
type InstanceInfo struct {
	ID          string         `json:"id"`
	Config      Config         `json:"config"`
	Status      InstanceStatus `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
	EntityCount int            `json:"entityCount"`
}

// instance owns one grid, one entity store and at most one in-flight training
// run. Only the registry constructs and destroys instances.
type instance struct {
	id        string
	config    Config
	createdAt time.Time

	mu     sync.Mutex
	status InstanceStatus
	store  *entity.Store

	// grid is the published grid readers receive via trainedGrid. It is
	// never written after publication: training runs mutate trainingGrid,
	// a clone that replaces grid when the run finishes.
	grid         *grid.Grid
	trainingGrid *grid.Grid

	trainer     *training.Trainer
	cancel      context.CancelFunc
	resolver    *mapping.Resolver
	loadedState *training.State
}

func newInstance(id string, cfg Config) *instance {
	return &instance{
		id:        id,
		config:    cfg,
		createdAt: time.Now(),
		status:    StatusCreated,
		grid:      grid.New(cfg.GridWidth, cfg.GridHeight, cfg.EmbeddingDimension, cfg.Topology),
		store:     emptyStore(cfg.EmbeddingDimension),
		resolver:  mapping.NewResolver(),
	}
}

func emptyStore(dim int) *entity.Store {
	s, _ := entity.NewStore(dim, nil)
	return s
}

func (in *instance) info() InstanceInfo {
	in.mu.Lock()
	defer in.mu.Unlock()
	return InstanceInfo{
		ID:          in.id,
		Config:      in.config,
		Status:      in.status,
		CreatedAt:   in.createdAt,
		EntityCount: in.store.Len(),
	}
}

// swapStore validates the lifecycle state and atomically replaces the entity
// store: loading is allowed before the first load and between loads, never
// during or after training.
func (in *instance) swapStore(records []entity.Record) (entity.LoadResult, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.status != StatusCreated && in.status != StatusDataLoaded {
		return entity.LoadResult{}, &ErrInvalidState{Op: "load data", Status: in.status}
	}

	store, result := entity.NewStore(in.config.EmbeddingDimension, records)
	in.store = store
	if store.Len() > 0 {
		in.status = StatusDataLoaded
	}

	return result, nil
}

// startTraining validates the state machine and hands ownership of the grid
// to a new trainer. The caller runs the trainer and must call finishTraining
// when it terminates.
func (in *instance) startTraining(cfg training.Config, logger *Logger) (*training.Trainer, context.Context, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	switch in.status {
	case StatusTraining:
		return nil, nil, &ErrInvalidState{Op: "train (run already active)", Status: in.status}
	case StatusDataLoaded, StatusTrained:
		// trainable
	default:
		return nil, nil, &ErrInvalidState{Op: "train", Status: in.status}
	}

	// The trainer writes into a clone so that readers admitted before this
	// run keep scanning an unchanging grid.
	trainGrid := in.grid.Clone()
	trainer, err := training.New(trainGrid, in.store, cfg, logger.WithInstance(in.id).Logger)
	if err != nil {
		return nil, nil, &ErrInvalidState{Op: fmt.Sprintf("train (%v)", err), Status: in.status}
	}

	ctx, cancel := context.WithCancel(context.Background())
	in.trainer = trainer
	in.trainingGrid = trainGrid
	in.cancel = cancel
	in.status = StatusTraining
	in.loadedState = nil
	in.resolver.Reset()

	return trainer, ctx, nil
}

// finishTraining advances the lifecycle once a run has terminated.
func (in *instance) finishTraining(trainErr error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.cancel = nil
	trained := in.trainingGrid
	in.trainingGrid = nil
	if trainErr != nil {
		in.status = StatusFailed
		return
	}
	// Completed and stopped runs both leave a consistent grid behind.
	// Publishing the clone retires the previous grid without mutating it.
	in.grid = trained
	in.status = StatusTrained
}

// trainedGrid returns the published grid, or a state error unless the
// instance is trained. The returned grid is never written again; a later
// training run builds its own clone.
func (in *instance) trainedGrid() (*grid.Grid, *entity.Store, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.status != StatusTrained {
		return nil, nil, &ErrInvalidState{Op: "read grid state", Status: in.status}
	}
	return in.grid, in.store, nil
}

// trainingState returns the latest published snapshot of the current or most
// recent run.
func (in *instance) trainingState() (training.State, error) {
	in.mu.Lock()
	trainer := in.trainer
	loaded := in.loadedState
	in.mu.Unlock()

	if trainer == nil {
		if loaded != nil {
			return *loaded, nil
		}
		return training.State{}, &ErrInvalidState{Op: "read training status (no run)", Status: in.statusSnapshot()}
	}
	return trainer.State(), nil
}

func (in *instance) statusSnapshot() InstanceStatus {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.status
}

// shutdown signals cooperative cancellation of any in-flight run and waits
// for the trainer to observe it, so no dangling task writes into released
// storage.
func (in *instance) shutdown() {
	in.mu.Lock()
	trainer := in.trainer
	cancel := in.cancel
	in.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if trainer != nil {
		trainer.Stop()
		<-trainer.Done()
	}
}
