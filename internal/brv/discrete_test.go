package brv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestDiscreteDirichletInitializeIsFlat(t *testing.T) {
	x := mat.NewDense(2, 3, []float64{1, 0, 0, 0, 0, 1})
	dd := NewDiscreteDirichlet(3).Initialize(x).(*DiscreteDirichlet)
	assert.Equal(t, []float64{1, 1, 1}, dd.Lambda)
}

func TestDiscreteDirichletConjugateUpdateAccumulatesCounts(t *testing.T) {
	x := mat.NewDense(3, 2, []float64{
		1, 0,
		1, 0,
		0, 1,
	})
	prior := NewDiscreteDirichlet(2).Initialize(x).(*DiscreteDirichlet)

	updated, err := prior.WeightedConjugateUpdate(prior, x, []float64{1, 0.5, 2})
	require.NoError(t, err)

	out := updated.(*DiscreteDirichlet)
	assert.InDeltaSlice(t, []float64{2.5, 3}, out.Lambda, 1e-12)
	assert.Equal(t, []float64{1, 1}, prior.Lambda)
}

func TestDiscreteDirichletAvgLogLikelihoodFavorsDominantSymbol(t *testing.T) {
	dd := &DiscreteDirichlet{Lambda: []float64{20, 2}}

	probe := mat.NewDense(2, 2, []float64{
		1, 0,
		0, 1,
	})
	ll := dd.VariationalAvgLogLikelihood(probe)
	require.Len(t, ll, 2)
	assert.Greater(t, ll[0], ll[1])
}

func TestDiscreteDirichletKLDivergence(t *testing.T) {
	prior := &DiscreteDirichlet{Lambda: []float64{1, 1}}

	same, err := prior.KLDivergence(prior)
	require.NoError(t, err)
	assert.InDelta(t, 0, same, 1e-12)

	posterior := &DiscreteDirichlet{Lambda: []float64{12, 4}}
	kl, err := posterior.KLDivergence(prior)
	require.NoError(t, err)
	assert.Greater(t, kl, 0.0)
}

func TestDiscreteDirichletOnlineUpdateBoundaries(t *testing.T) {
	x := mat.NewDense(4, 2, []float64{
		1, 0,
		1, 0,
		1, 0,
		0, 1,
	})
	weights := []float64{1, 1, 1, 1}
	prior := NewDiscreteDirichlet(2).Initialize(x).(*DiscreteDirichlet)

	batch, err := prior.WeightedConjugateUpdate(prior, x, weights)
	require.NoError(t, err)
	full, err := prior.OnlineWeightedUpdate(prior, x, weights, 1.0, 0, prior)
	require.NoError(t, err)
	assert.InDeltaSlice(t, batch.(*DiscreteDirichlet).Lambda, full.(*DiscreteDirichlet).Lambda, 1e-12)

	previous := &DiscreteDirichlet{Lambda: []float64{7, 9}}
	slow, err := prior.OnlineWeightedUpdate(prior, x, weights, 1e-9, 0, previous)
	require.NoError(t, err)
	assert.InDeltaSlice(t, previous.Lambda, slow.(*DiscreteDirichlet).Lambda, 1e-6)
}

func TestDiscreteDirichletContractViolation(t *testing.T) {
	x := mat.NewDense(1, 2, []float64{1, 0})
	dd := NewDiscreteDirichlet(2)

	_, err := dd.WeightedConjugateUpdate(NewNormalGamma(2), x, []float64{1})
	require.ErrorIs(t, err, ErrContractViolation)
}
