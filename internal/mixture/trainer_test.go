package mixture

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"vbmix/internal/brv"
	"vbmix/internal/model"
)

// twoClusterMatrix builds deterministic well-separated 2D clusters: perCluster
// samples around (0,0) followed by perCluster samples around (10,10).
func twoClusterMatrix(perCluster int) (*mat.Dense, []int) {
	jitter := []float64{-0.5, -0.25, 0, 0.25, 0.5}
	data := make([]float64, 0, 4*perCluster)
	truth := make([]int, 0, 2*perCluster)
	for i := 0; i < perCluster; i++ {
		dx := jitter[i%len(jitter)]
		dy := jitter[(i/len(jitter))%len(jitter)]
		data = append(data, dx, dy)
		truth = append(truth, 0)
	}
	for i := 0; i < perCluster; i++ {
		dx := jitter[(i+2)%len(jitter)]
		dy := jitter[(i/len(jitter)+1)%len(jitter)]
		data = append(data, 10+dx, 10+dy)
		truth = append(truth, 1)
	}
	return mat.NewDense(2*perCluster, 2, data), truth
}

func normalPrototype(k, dim int) Mixture {
	comps := make([]brv.Component, k)
	for i := range comps {
		comps[i] = brv.NewNormalGamma(dim)
	}
	m, err := New(brv.NewDirichlet(k), comps)
	if err != nil {
		panic(err)
	}
	return m
}

func TestFitResponsibilityRowsSumToOne(t *testing.T) {
	x, _ := twoClusterMatrix(50)
	trainer, err := NewTrainer(Config{MaxIterations: 5, Seed: 1})
	require.NoError(t, err)

	_, state, err := trainer.Fit(context.Background(), normalPrototype(2, 2), x, nil)
	require.NoError(t, err)

	require.Len(t, state.Responsibilities, 100)
	for i, row := range state.Responsibilities {
		sum := 0.0
		for _, v := range row {
			require.GreaterOrEqual(t, v, 0.0, "row %d", i)
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-9, "row %d", i)
	}
}

func TestFitNegativeFreeEnergyAscends(t *testing.T) {
	x, _ := twoClusterMatrix(50)
	trainer, err := NewTrainer(Config{MaxIterations: 30, Seed: 7})
	require.NoError(t, err)

	_, state, err := trainer.Fit(context.Background(), normalPrototype(2, 2), x, nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(state.Iterations), 2)

	for i := 1; i < len(state.Iterations); i++ {
		delta := state.Iterations[i].NegativeFreeEnergy - state.Iterations[i-1].NegativeFreeEnergy
		assert.GreaterOrEqual(t, delta, -1e-6, "iteration %d", state.Iterations[i].Iteration)
	}
	for _, it := range state.Iterations {
		assert.False(t, math.IsNaN(it.NegativeFreeEnergy))
		assert.InDelta(t, it.ELogLikelihood-it.KLD, it.NegativeFreeEnergy, 1e-9)
	}
}

func TestFitConvergesAndSeparatesClusters(t *testing.T) {
	x, truth := twoClusterMatrix(250)
	trainer, err := NewTrainer(Config{
		MaxIterations:    200,
		CheckConvergence: true,
		Workers:          2,
		Seed:             42,
	})
	require.NoError(t, err)

	_, state, err := trainer.Fit(context.Background(), normalPrototype(2, 2), x, nil)
	require.NoError(t, err)
	assert.True(t, state.Converged)
	assert.False(t, state.Failed)

	assignments := MAPAssignments(state.Responsibilities)
	agree := 0
	for i := range assignments {
		if assignments[i] == truth[i] {
			agree++
		}
	}
	if flipped := len(assignments) - agree; flipped > agree {
		agree = flipped
	}
	purity := float64(agree) / float64(len(assignments))
	assert.GreaterOrEqual(t, purity, 0.99)
	assert.InDelta(t, 500, state.NSamplesSeen, 1e-9)
}

func TestFitDeterministicForSameSeed(t *testing.T) {
	x, _ := twoClusterMatrix(40)

	var histories [2][]float64
	for trial := 0; trial < 2; trial++ {
		trainer, err := NewTrainer(Config{MaxIterations: 10, Workers: 2, Seed: 99})
		require.NoError(t, err)
		_, state, err := trainer.Fit(context.Background(), normalPrototype(2, 2), x, nil)
		require.NoError(t, err)
		histories[trial] = state.NFEHistory()
	}
	assert.Equal(t, histories[0], histories[1])
}

func TestFitSingleComponentDegenerates(t *testing.T) {
	x, _ := twoClusterMatrix(20)
	trainer, err := NewTrainer(Config{MaxIterations: 5, Seed: 3})
	require.NoError(t, err)

	_, state, err := trainer.Fit(context.Background(), normalPrototype(1, 2), x, nil)
	require.NoError(t, err)

	for _, row := range state.Responsibilities {
		require.Len(t, row, 1)
		assert.InDelta(t, 1.0, row[0], 1e-12)
	}
	assert.InDelta(t, 40, state.SamplesPerComponent[0], 1e-9)
}

func TestFitSampleWeightsScaleEffectiveCounts(t *testing.T) {
	x, _ := twoClusterMatrix(10)
	weights := make([]float64, 20)
	for i := range weights {
		weights[i] = 0.5
	}
	trainer, err := NewTrainer(Config{MaxIterations: 5, Seed: 3, SampleWeights: weights})
	require.NoError(t, err)

	_, state, err := trainer.Fit(context.Background(), normalPrototype(1, 2), x, nil)
	require.NoError(t, err)
	assert.InDelta(t, 10, state.SamplesPerComponent[0], 1e-9)
	assert.InDelta(t, 10, state.NSamplesSeen, 1e-9)
}

func TestFitObserverSeesEveryIteration(t *testing.T) {
	x, _ := twoClusterMatrix(20)
	var seen []int
	trainer, err := NewTrainer(Config{
		MaxIterations: 4,
		Seed:          5,
		Observer: func(s model.TrainingState) {
			seen = append(seen, s.NIterations)
		},
	})
	require.NoError(t, err)

	_, _, err = trainer.Fit(context.Background(), normalPrototype(2, 2), x, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, seen)
}

func TestFitValidation(t *testing.T) {
	trainer, err := NewTrainer(Config{Seed: 1})
	require.NoError(t, err)

	_, _, err = trainer.Fit(context.Background(), normalPrototype(2, 2), nil, nil)
	require.ErrorIs(t, err, ErrNoObservations)

	x, _ := twoClusterMatrix(5)
	weighted, err := NewTrainer(Config{Seed: 1, SampleWeights: []float64{1, 2}})
	require.NoError(t, err)
	_, _, err = weighted.Fit(context.Background(), normalPrototype(2, 2), x, nil)
	require.ErrorIs(t, err, ErrSampleWeightMismatch)
}

func TestFitHonorsContextCancellation(t *testing.T) {
	x, _ := twoClusterMatrix(20)
	trainer, err := NewTrainer(Config{MaxIterations: 50, Seed: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = trainer.Fit(ctx, normalPrototype(2, 2), x, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewTrainerValidation(t *testing.T) {
	_, err := NewTrainer(Config{ConvergenceTolerance: -1})
	require.Error(t, err)

	_, err = NewTrainer(Config{OnlineLearningRate: 1.5})
	require.Error(t, err)

	_, err = NewTrainer(Config{NonStationaryLambda: -0.1})
	require.Error(t, err)

	_, err = NewTrainer(Config{SampleWeights: []float64{1, -2}})
	require.Error(t, err)

	trainer, err := NewTrainer(Config{})
	require.NoError(t, err)
	assert.Equal(t, 100, trainer.cfg.MaxIterations)
	assert.Equal(t, 1e-6, trainer.cfg.ConvergenceTolerance)
	assert.Equal(t, 1, trainer.cfg.Workers)
	assert.Equal(t, 0.1, trainer.cfg.OnlineLearningRate)
	assert.Equal(t, 0.5, trainer.cfg.NonStationaryLambda)
}

func TestMAPAssignments(t *testing.T) {
	resp := [][]float64{
		{0.9, 0.1},
		{0.2, 0.8},
		{0.5, 0.5},
	}
	assert.Equal(t, []int{0, 1, 0}, MAPAssignments(resp))
}
