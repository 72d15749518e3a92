package mixture

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"vbmix/internal/brv"
)

func fittedTwoClusterMixture(t *testing.T) (Mixture, *mat.Dense) {
	t.Helper()
	x, _ := twoClusterMatrix(50)
	trainer, err := NewTrainer(Config{MaxIterations: 20, Seed: 1})
	require.NoError(t, err)
	fitted, _, err := trainer.Fit(context.Background(), normalPrototype(2, 2), x, nil)
	require.NoError(t, err)
	return fitted, x
}

func TestOnlineUpdateProcessesMiniBatch(t *testing.T) {
	fitted, _ := fittedTwoClusterMixture(t)
	prior := fitted.Snapshot()

	batch := mat.NewDense(4, 2, []float64{
		0.1, -0.1,
		0.3, 0.2,
		9.8, 10.1,
		10.2, 9.9,
	})

	trainer, err := NewTrainer(Config{Seed: 1, OnlineLearningRate: 0.2})
	require.NoError(t, err)

	updated, state, err := trainer.OnlineUpdate(context.Background(), prior, fitted, batch, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, updated.NumComponents())
	assert.Equal(t, 2, updated.Dim())
	assert.InDelta(t, 4, state.NSamplesSeen, 1e-9)
	assert.Len(t, state.SamplesPerComponent, 2)
	// OnlineUpdate never advances the non-stationary step index.
	assert.Equal(t, 0, trainer.OnlineStep())
}

func TestOnlineUpdateLowRateStaysNearPrevious(t *testing.T) {
	fitted, _ := fittedTwoClusterMixture(t)
	prior := fitted.Snapshot()

	// A batch far away from both clusters.
	batch := mat.NewDense(3, 2, []float64{50, 50, 51, 49, 49, 51})

	trainer, err := NewTrainer(Config{Seed: 1, OnlineLearningRate: 1e-9})
	require.NoError(t, err)

	updated, _, err := trainer.OnlineUpdate(context.Background(), prior, fitted, batch, nil, nil)
	require.NoError(t, err)

	for j := 0; j < 2; j++ {
		before := fitted.Component(j).(*brv.NormalGamma)
		after := updated.Component(j).(*brv.NormalGamma)
		for d := 0; d < 2; d++ {
			assert.InDelta(t, before.Mu[d], after.Mu[d], 1e-3)
		}
	}
}

func TestOnlineUpdateThreadsTrainingState(t *testing.T) {
	fitted, x := fittedTwoClusterMixture(t)
	prior := fitted.Snapshot()

	trainer, err := NewTrainer(Config{Seed: 1, OnlineLearningRate: 0.3})
	require.NoError(t, err)

	_, first, err := trainer.OnlineUpdate(context.Background(), prior, fitted, x, nil, nil)
	require.NoError(t, err)
	_, second, err := trainer.OnlineUpdate(context.Background(), prior, fitted, x, &first, nil)
	require.NoError(t, err)

	assert.InDelta(t, first.NSamplesSeen+100, second.NSamplesSeen, 1e-9)
}

func TestOnlineUpdateRejectsDimensionMismatch(t *testing.T) {
	fitted, _ := fittedTwoClusterMixture(t)
	prior := fitted.Snapshot()

	trainer, err := NewTrainer(Config{Seed: 1})
	require.NoError(t, err)

	narrow := mat.NewDense(2, 1, []float64{1, 2})
	_, _, err = trainer.OnlineUpdate(context.Background(), prior, fitted, narrow, nil, nil)
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestNonStationaryUpdateAdvancesStep(t *testing.T) {
	fitted, _ := fittedTwoClusterMixture(t)

	trainer, err := NewTrainer(Config{Seed: 1, NonStationaryLambda: 0.5})
	require.NoError(t, err)

	batch := mat.NewDense(4, 2, []float64{0, 0, 0.2, -0.2, 10, 10, 9.9, 10.1})

	current := fitted
	for step := 1; step <= 3; step++ {
		updated, _, err := trainer.NonStationaryUpdate(context.Background(), current, batch, nil, &current)
		require.NoError(t, err)
		assert.Equal(t, step, trainer.OnlineStep())
		current = updated
	}
}

func TestNonStationaryUpdateTracksDrift(t *testing.T) {
	fitted, _ := fittedTwoClusterMixture(t)

	trainer, err := NewTrainer(Config{Seed: 1, NonStationaryLambda: 0.9})
	require.NoError(t, err)

	// Identify the component that owns the origin cluster before streaming.
	low := 0
	if fitted.Component(1).(*brv.NormalGamma).Mu[0] < fitted.Component(0).(*brv.NormalGamma).Mu[0] {
		low = 1
	}
	before := fitted.Component(low).(*brv.NormalGamma).Mu[0]

	// Stream batches from clusters drifting in the positive direction.
	current := fitted
	for step := 0; step < 8; step++ {
		shift := float64(step) * 0.4
		batch := mat.NewDense(4, 2, []float64{
			shift, shift,
			shift + 0.2, shift - 0.2,
			10 + shift, 10 + shift,
			10.2 + shift, 9.8 + shift,
		})
		updated, _, err := trainer.NonStationaryUpdate(context.Background(), current, batch, nil, &current)
		require.NoError(t, err)
		current = updated
	}

	after := current.Component(low).(*brv.NormalGamma).Mu[0]
	assert.Greater(t, after, before, "expected the origin component mean to track the drifting cluster")
}
