package somgo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/somgo/cluster"
	"github.com/hupe1980/somgo/entity"
	"github.com/hupe1980/somgo/featuremap"
	"github.com/hupe1980/somgo/grid"
	"github.com/hupe1980/somgo/training"
)

func testRecords(n, dim int) []entity.Record {
	records := make([]entity.Record, n)
	for i := range records {
		embedding := make([]float32, dim)
		for d := range embedding {
			embedding[d] = float32(i) + float32(d)*0.1
		}
		records[i] = entity.Record{
			URI:       fmt.Sprintf("urn:test:%d", i),
			Name:      fmt.Sprintf("entity-%d", i),
			Embedding: embedding,
		}
	}
	return records
}

func waitTrained(t *testing.T, som *SOM, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		info, err := som.GetInstance(id)
		if err != nil {
			return false
		}
		return info.Status == StatusTrained || info.Status == StatusFailed
	}, 30*time.Second, 2*time.Millisecond)

	info, err := som.GetInstance(id)
	require.NoError(t, err)
	require.Equal(t, StatusTrained, info.Status)
}

func TestCreateInstanceValidation(t *testing.T) {
	som := New()

	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{
			name:  "grid too small",
			cfg:   Config{GridWidth: 2, GridHeight: 4, EmbeddingDimension: 8},
			field: "gridWidth",
		},
		{
			name:  "grid too large",
			cfg:   Config{GridWidth: 10, GridHeight: 101, EmbeddingDimension: 8},
			field: "gridHeight",
		},
		{
			name:  "dimension too large",
			cfg:   Config{GridWidth: 4, GridHeight: 4, EmbeddingDimension: 2001},
			field: "embeddingDimension",
		},
		{
			name:  "dimension missing",
			cfg:   Config{GridWidth: 4, GridHeight: 4},
			field: "embeddingDimension",
		},
		{
			name:  "inverted learning rates",
			cfg:   Config{GridWidth: 4, GridHeight: 4, EmbeddingDimension: 8, InitialLearningRate: 0.01, FinalLearningRate: 0.5},
			field: "learningRate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := som.CreateInstance(tt.cfg)
			var cfgErr *ErrInvalidConfig
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestCreateInstanceDefaults(t *testing.T) {
	som := New()

	info, err := som.CreateInstance(Config{GridWidth: 5, GridHeight: 5, EmbeddingDimension: 16})
	require.NoError(t, err)

	assert.NotEmpty(t, info.ID)
	assert.Equal(t, StatusCreated, info.Status)
	assert.Equal(t, DefaultInitialLearningRate, info.Config.InitialLearningRate)
	assert.Equal(t, DefaultFinalLearningRate, info.Config.FinalLearningRate)
	assert.Equal(t, grid.TopologyRectangular, info.Config.Topology)
}

func TestEndToEnd(t *testing.T) {
	som := New(WithSeed(7))
	ctx := context.Background()

	info, err := som.CreateInstance(Config{GridWidth: 4, GridHeight: 4, EmbeddingDimension: 3})
	require.NoError(t, err)

	result, err := som.LoadEntities(info.ID, testRecords(5, 3))
	require.NoError(t, err)
	require.Equal(t, 5, result.Loaded)
	require.Empty(t, result.Rejected)

	require.NoError(t, som.Train(info.ID, 50, 5))
	waitTrained(t, som, info.ID)

	state, err := som.TrainingStatus(info.ID)
	require.NoError(t, err)
	assert.Equal(t, training.StatusCompleted, state.Status)
	assert.Equal(t, state.TotalIterations, state.CurrentIteration)
	assert.GreaterOrEqual(t, state.QuantizationError, 0.0)

	gs, err := som.GridState(ctx, info.ID, true)
	require.NoError(t, err)
	assert.Len(t, gs.Nodes, 16)
	require.Len(t, gs.Mappings, 5)

	seen := make(map[string]bool)
	for _, m := range gs.Mappings {
		assert.False(t, seen[m.EntityURI], "entity mapped twice: %s", m.EntityURI)
		seen[m.EntityURI] = true
		assert.GreaterOrEqual(t, m.NodeIndex, 0)
		assert.Less(t, m.NodeIndex, 16)
		assert.GreaterOrEqual(t, m.Distance, float32(0))
	}

	fm, err := som.FeatureMap(info.ID, featuremap.TypeUMatrix, 0)
	require.NoError(t, err)
	assert.Len(t, fm.Values, 16)
	assert.LessOrEqual(t, fm.Stats.Min, fm.Stats.Mean)
	assert.LessOrEqual(t, fm.Stats.Mean, fm.Stats.Max)

	cr, err := som.Cluster(info.ID, cluster.AlgorithmUMatrix, 0, 0)
	require.NoError(t, err)
	total := len(cr.Unclustered)
	for _, c := range cr.Clusters {
		total += len(c.Members)
	}
	assert.Equal(t, 16, total)
}

func TestQueriesBeforeTraining(t *testing.T) {
	som := New()
	ctx := context.Background()

	info, err := som.CreateInstance(Config{GridWidth: 4, GridHeight: 4, EmbeddingDimension: 3})
	require.NoError(t, err)

	_, err = som.GridState(ctx, info.ID, false)
	assert.ErrorIs(t, err, ErrStateConflict)

	_, err = som.FeatureMap(info.ID, featuremap.TypeUMatrix, 0)
	assert.ErrorIs(t, err, ErrStateConflict)

	_, err = som.Cluster(info.ID, cluster.AlgorithmKMeans, 0, 0)
	assert.ErrorIs(t, err, ErrStateConflict)

	_, err = som.TrainingStatus(info.ID)
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestTrainWithoutData(t *testing.T) {
	som := New()

	info, err := som.CreateInstance(Config{GridWidth: 4, GridHeight: 4, EmbeddingDimension: 3})
	require.NoError(t, err)

	err = som.Train(info.ID, 10, 5)
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestConcurrentTrainRejected(t *testing.T) {
	som := New(WithSeed(3))

	info, err := som.CreateInstance(Config{GridWidth: 20, GridHeight: 20, EmbeddingDimension: 64})
	require.NoError(t, err)

	_, err = som.LoadEntities(info.ID, testRecords(500, 64))
	require.NoError(t, err)

	require.NoError(t, som.Train(info.ID, 200, 10))

	err = som.Train(info.ID, 10, 5)
	assert.ErrorIs(t, err, ErrStateConflict)

	require.NoError(t, som.StopTraining(info.ID))
	waitTrained(t, som, info.ID)

	state, err := som.TrainingStatus(info.ID)
	require.NoError(t, err)
	assert.Equal(t, training.StatusStopped, state.Status)
}

func TestStopWithoutRun(t *testing.T) {
	som := New()

	info, err := som.CreateInstance(Config{GridWidth: 4, GridHeight: 4, EmbeddingDimension: 3})
	require.NoError(t, err)

	err = som.StopTraining(info.ID)
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestRetrainAfterCompletion(t *testing.T) {
	som := New(WithSeed(5))

	info, err := som.CreateInstance(Config{GridWidth: 4, GridHeight: 4, EmbeddingDimension: 3})
	require.NoError(t, err)

	_, err = som.LoadEntities(info.ID, testRecords(5, 3))
	require.NoError(t, err)

	require.NoError(t, som.Train(info.ID, 10, 5))
	waitTrained(t, som, info.ID)

	// Loading between runs is rejected, retraining is not.
	_, err = som.LoadEntities(info.ID, testRecords(3, 3))
	assert.ErrorIs(t, err, ErrStateConflict)

	require.NoError(t, som.Train(info.ID, 10, 5))
	waitTrained(t, som, info.ID)
}

func TestRetrainLeavesPriorGridImmutable(t *testing.T) {
	som := New(WithSeed(13))

	info, err := som.CreateInstance(Config{GridWidth: 4, GridHeight: 4, EmbeddingDimension: 3})
	require.NoError(t, err)

	_, err = som.LoadEntities(info.ID, testRecords(5, 3))
	require.NoError(t, err)

	require.NoError(t, som.Train(info.ID, 10, 5))
	waitTrained(t, som, info.ID)

	in, err := som.lookup(info.ID)
	require.NoError(t, err)
	in.mu.Lock()
	prior := in.grid
	in.mu.Unlock()
	before := append([]float32(nil), prior.Weights()...)

	require.NoError(t, som.Train(info.ID, 10, 5))
	waitTrained(t, som, info.ID)

	// A second run must write into a fresh grid and swap it in, never into
	// the grid earlier readers may still hold.
	in.mu.Lock()
	current := in.grid
	in.mu.Unlock()
	assert.NotSame(t, prior, current)
	assert.Equal(t, before, prior.Weights())
}

func TestConcurrentReadsDuringRetrain(t *testing.T) {
	som := New(WithSeed(17))
	ctx := context.Background()

	info, err := som.CreateInstance(Config{GridWidth: 10, GridHeight: 10, EmbeddingDimension: 16})
	require.NoError(t, err)

	_, err = som.LoadEntities(info.ID, testRecords(200, 16))
	require.NoError(t, err)

	require.NoError(t, som.Train(info.ID, 5, 20))
	waitTrained(t, som, info.ID)

	stopRead := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stopRead:
				return
			default:
			}
			mappings, err := som.ResolveMappings(ctx, info.ID)
			if err != nil {
				// Reads admitted mid-run are refused, never torn.
				assert.ErrorIs(t, err, ErrStateConflict)
				continue
			}
			assert.Len(t, mappings, 200)
		}
	}()

	require.NoError(t, som.Train(info.ID, 50, 20))
	waitTrained(t, som, info.ID)

	close(stopRead)
	wg.Wait()
}

func TestLoadEntitiesRejects(t *testing.T) {
	som := New()

	info, err := som.CreateInstance(Config{GridWidth: 4, GridHeight: 4, EmbeddingDimension: 3})
	require.NoError(t, err)

	records := testRecords(3, 3)
	records = append(records,
		entity.Record{URI: "urn:test:bad-dim", Embedding: []float32{1, 2}},
		entity.Record{URI: "", Embedding: []float32{1, 2, 3}},
		entity.Record{URI: "urn:test:0", Embedding: []float32{9, 9, 9}},
	)

	result, err := som.LoadEntities(info.ID, records)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Loaded)
	assert.Len(t, result.Rejected, 3)

	info, err = som.GetInstance(info.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDataLoaded, info.Status)
	assert.Equal(t, 3, info.EntityCount)
}

func TestGenerateSample(t *testing.T) {
	som := New(WithSeed(11))

	info, err := som.CreateInstance(Config{GridWidth: 6, GridHeight: 6, EmbeddingDimension: 8})
	require.NoError(t, err)

	result, err := som.GenerateSample(info.ID, 40)
	require.NoError(t, err)
	assert.Equal(t, 40, result.Loaded)
	assert.Empty(t, result.Rejected)

	_, err = som.GenerateSample(info.ID, 0)
	var cfgErr *ErrInvalidConfig
	assert.ErrorAs(t, err, &cfgErr)
}

func TestListAndDelete(t *testing.T) {
	som := New()

	first, err := som.CreateInstance(Config{GridWidth: 4, GridHeight: 4, EmbeddingDimension: 3})
	require.NoError(t, err)
	second, err := som.CreateInstance(Config{GridWidth: 5, GridHeight: 5, EmbeddingDimension: 3})
	require.NoError(t, err)

	infos := som.ListInstances()
	require.Len(t, infos, 2)
	assert.False(t, infos[1].CreatedAt.Before(infos[0].CreatedAt))

	require.NoError(t, som.DeleteInstance(first.ID))

	_, err = som.GetInstance(first.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	err = som.DeleteInstance(first.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	infos = som.ListInstances()
	require.Len(t, infos, 1)
	assert.Equal(t, second.ID, infos[0].ID)
}

func TestDeleteDuringTraining(t *testing.T) {
	som := New(WithSeed(9))

	info, err := som.CreateInstance(Config{GridWidth: 20, GridHeight: 20, EmbeddingDimension: 64})
	require.NoError(t, err)

	_, err = som.LoadEntities(info.ID, testRecords(500, 64))
	require.NoError(t, err)

	require.NoError(t, som.Train(info.ID, 200, 10))
	require.NoError(t, som.DeleteInstance(info.ID))

	_, err = som.GetInstance(info.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveLoadRoundtrip(t *testing.T) {
	som := New(WithSeed(21))
	ctx := context.Background()

	info, err := som.CreateInstance(Config{GridWidth: 4, GridHeight: 4, EmbeddingDimension: 3})
	require.NoError(t, err)

	_, err = som.LoadEntities(info.ID, testRecords(5, 3))
	require.NoError(t, err)

	require.NoError(t, som.Train(info.ID, 20, 5))
	waitTrained(t, som, info.ID)

	var buf bytes.Buffer
	require.NoError(t, som.SaveInstance(ctx, info.ID, &buf))

	orig, err := som.GridState(ctx, info.ID, true)
	require.NoError(t, err)

	// Restore into a fresh service so the id does not collide.
	restored := New()
	loadedInfo, err := restored.LoadInstance(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, info.ID, loadedInfo.ID)
	assert.Equal(t, StatusTrained, loadedInfo.Status)
	assert.Equal(t, 5, loadedInfo.EntityCount)

	state, err := restored.TrainingStatus(loadedInfo.ID)
	require.NoError(t, err)
	assert.Equal(t, training.StatusCompleted, state.Status)
	assert.Greater(t, state.CurrentIteration, 0)

	got, err := restored.GridState(ctx, loadedInfo.ID, true)
	require.NoError(t, err)
	require.Len(t, got.Nodes, len(orig.Nodes))
	for i := range got.Nodes {
		assert.Equal(t, orig.Nodes[i].Weight, got.Nodes[i].Weight)
	}
	assert.ElementsMatch(t, orig.Mappings, got.Mappings)

	// Same-service reload of an already registered id is refused.
	_, err = som.LoadInstance(bytes.NewReader(buf.Bytes()))
	assert.Error(t, err)
}

func TestSaveLoadCorrupted(t *testing.T) {
	som := New()

	_, err := som.LoadInstance(bytes.NewReader([]byte("not a snapshot")))
	assert.Error(t, err)
}

func TestUnknownInstance(t *testing.T) {
	som := New()
	ctx := context.Background()

	_, err := som.GetInstance("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, som.Train("missing", 1, 1), ErrNotFound)
	assert.ErrorIs(t, som.StopTraining("missing"), ErrNotFound)
	_, err = som.TrainingStatus("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = som.GridState(ctx, "missing", false)
	assert.ErrorIs(t, err, ErrNotFound)

	var buf bytes.Buffer
	assert.ErrorIs(t, som.SaveInstance(ctx, "missing", &buf), ErrNotFound)
}

func TestTrainingFailedErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &ErrTrainingFailed{InstanceID: "abc", cause: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "abc")
}

func TestMetricsCollectorWiring(t *testing.T) {
	collector := &BasicMetricsCollector{}
	som := New(WithMetricsCollector(collector), WithSeed(2))

	info, err := som.CreateInstance(Config{GridWidth: 4, GridHeight: 4, EmbeddingDimension: 3})
	require.NoError(t, err)

	_, err = som.LoadEntities(info.ID, testRecords(5, 3))
	require.NoError(t, err)

	require.NoError(t, som.Train(info.ID, 10, 5))
	waitTrained(t, som, info.ID)

	_, err = som.Cluster(info.ID, cluster.AlgorithmKMeans, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, int64(5), collector.LoadedRecords.Load())
	assert.Equal(t, int64(1), collector.ClusterCount.Load())
	// The training metric is recorded after the lifecycle transition.
	assert.Eventually(t, func() bool {
		return collector.TrainingCount.Load() == 1
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, int64(0), collector.TrainingErrors.Load())
}
