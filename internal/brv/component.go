// Package brv implements conjugate-exponential-family Bayesian random
// variables: the capability contract consumed by the mixture engine, plus
// the concrete component families shipped with it.
package brv

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrDimensionMismatch = errors.New("observation dimensionality mismatch")
	ErrWeightMismatch    = errors.New("weight vector length mismatch")
	ErrContractViolation = errors.New("component contract violation")
)

// Component is one conjugate observation model in a mixture. Every method
// is a pure function of its inputs and returns a new value; implementations
// never mutate the receiver. This keeps a captured prior snapshot sound and
// makes per-component updates safe to run concurrently.
type Component interface {
	// Dim reports the observation dimensionality the component was built for.
	Dim() int

	// Initialize seeds hyperparameters from raw observations (dimension and
	// scale priors only); the result is independent of any assignment.
	Initialize(x mat.Matrix) Component

	// WeightedConjugateUpdate performs one exact conjugate posterior update
	// of prior using per-sample non-negative weights.
	WeightedConjugateUpdate(prior Component, x mat.Matrix, weights []float64) (Component, error)

	// VariationalAvgLogLikelihood returns, per sample, the expectation of
	// the log-likelihood under the current posterior.
	VariationalAvgLogLikelihood(x mat.Matrix) []float64

	// KLDivergence returns KL(this posterior || prior posterior).
	KLDivergence(prior Component) (float64, error)

	// OnlineInitialize seeds hyperparameters for streaming inference.
	OnlineInitialize(x mat.Matrix) Component

	// OnlineWeightedUpdate computes the conjugate base density from prior
	// and the batch, then blends it with previous using learningRate and the
	// forgetting horizon. learningRate=1 with horizon=0 reproduces the pure
	// conjugate update; learningRate->0 degenerates to previous.
	OnlineWeightedUpdate(prior Component, x mat.Matrix, weights []float64, learningRate, horizon float64, previous Component) (Component, error)
}

// MixingModel is the Dirichlet-like posterior over component indices.
type MixingModel interface {
	NumCategories() int

	// Initialize seeds the model from per-category pseudo-count seeds
	// (typically a zero vector across nComponents categories).
	Initialize(seed []float64) MixingModel

	// PosteriorUpdate performs the conjugate count update of prior.
	PosteriorUpdate(prior MixingModel, counts []float64) (MixingModel, error)

	// ExpectedLogMean returns the expected log mixing weight per category.
	ExpectedLogMean() []float64

	KLDivergence(prior MixingModel) (float64, error)

	OnlineUpdate(prior MixingModel, counts []float64, learningRate, horizon float64, previous MixingModel) (MixingModel, error)
}

// weightMass sums a weight vector; the effective batch sample size.
func weightMass(weights []float64) float64 {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	return total
}

// extrapolation factor for stabilized forgetting: a positive horizon
// rescales the fresh sufficient-statistic increment to an effective
// sample size of horizon samples. horizon=0 disables rescaling.
func horizonScale(horizon, mass float64) float64 {
	if horizon > 0 && mass > 0 {
		return horizon / mass
	}
	return 1
}
