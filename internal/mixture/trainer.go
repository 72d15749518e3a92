package mixture

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"vbmix/internal/brv"
	"vbmix/internal/model"
)

// Config controls the inference regimes. Zero values are replaced with
// defaults by NewTrainer; the observer is optional and receives a read-only
// training-state snapshot after every batch iteration.
type Config struct {
	MaxIterations        int
	CheckConvergence     bool
	ConvergenceTolerance float64
	Workers              int
	Seed                 int64

	// SampleWeights optionally reweights samples in every update regime.
	SampleWeights []float64

	OnlineLearningRate  float64
	OnlineHorizon       float64
	NonStationaryLambda float64
	NonStationaryD      float64

	Observer func(model.TrainingState)
}

// Trainer drives variational inference for one mixture at a time. It owns
// the seeded random source used for initial hard assignments and the
// streaming step index used by the non-stationary regime.
type Trainer struct {
	cfg        Config
	rng        *rand.Rand
	onlineStep int
}

func NewTrainer(cfg Config) (*Trainer, error) {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 100
	}
	if cfg.ConvergenceTolerance < 0 {
		return nil, fmt.Errorf("convergence tolerance must be >= 0")
	}
	if cfg.ConvergenceTolerance == 0 {
		cfg.ConvergenceTolerance = 1e-6
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.OnlineLearningRate == 0 {
		cfg.OnlineLearningRate = 0.1
	}
	if cfg.OnlineLearningRate < 0 || cfg.OnlineLearningRate > 1 {
		return nil, fmt.Errorf("online learning rate must be in (0, 1]")
	}
	if cfg.OnlineHorizon < 0 {
		return nil, fmt.Errorf("online horizon must be >= 0")
	}
	if cfg.NonStationaryLambda == 0 {
		cfg.NonStationaryLambda = 0.5
	}
	if cfg.NonStationaryLambda < 0 || cfg.NonStationaryLambda > 1 {
		return nil, fmt.Errorf("non-stationary lambda must be in (0, 1]")
	}
	if cfg.NonStationaryD < 0 {
		return nil, fmt.Errorf("non-stationary horizon must be >= 0")
	}
	for i, w := range cfg.SampleWeights {
		if w < 0 || math.IsNaN(w) {
			return nil, fmt.Errorf("sample weight must be >= 0 at index %d", i)
		}
	}

	return &Trainer{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Fit runs batch variational Bayes to convergence or MaxIterations. The
// prototype mixture supplies family prototypes; hyperparameters are seeded
// from x before the first iteration. labels may be nil; a nSamples x 2
// one-hot label matrix selects the two-class seeding heuristic.
//
// On numerical failure the partial training state is returned alongside the
// error so callers can diagnose the run.
func (t *Trainer) Fit(ctx context.Context, prototype Mixture, x *mat.Dense, labels *mat.Dense) (Mixture, model.TrainingState, error) {
	state := model.TrainingState{StartTime: time.Now()}

	n, dim, err := t.validateObservations(x)
	if err != nil {
		return Mixture{}, state, err
	}
	if len(prototype.components) == 0 {
		return Mixture{}, state, ErrNoComponents
	}

	// Initialize component and mixing posteriors from the raw data.
	k := prototype.NumComponents()
	comps := make([]brv.Component, k)
	for i, proto := range prototype.components {
		comps[i] = proto.Initialize(x)
		if comps[i].Dim() != dim {
			return Mixture{}, state, fmt.Errorf("%w: component %d initialized to %d dims for %d features",
				ErrDimensionMismatch, i, comps[i].Dim(), dim)
		}
	}
	mixing := prototype.mixing.Initialize(make([]float64, k))
	current := prototype.withUpdates(mixing, comps)

	prior := current.Snapshot()

	resp, err := t.seedResponsibilities(n, k, labels)
	if err != nil {
		return Mixture{}, state, err
	}
	state.Responsibilities = resp
	state.LogLikelihoodBySample = make([]float64, n)
	for i := range state.LogLikelihoodBySample {
		state.LogLikelihoodBySample[i] = math.Inf(-1)
	}
	state.NegativeFreeEnergy = math.Inf(-1)
	state.SamplesPerComponent = columnSums(resp, t.cfg.SampleWeights)

	for it := 1; it <= t.cfg.MaxIterations; it++ {
		if err := ctx.Err(); err != nil {
			state.EndTime = time.Now()
			return current, state, err
		}

		updated, err := t.maximizationStep(ctx, prior, current, x, state.Responsibilities)
		if err != nil {
			state.Failed = true
			state.EndTime = time.Now()
			return current, state, err
		}
		current = updated

		clusterLL, resp, llBySample, err := t.expectationStep(current, x)
		if err != nil {
			state.Failed = true
			state.EndTime = time.Now()
			return current, state, err
		}
		state.ClusterLogLikelihoods = clusterLL
		state.Responsibilities = resp
		state.LogLikelihoodBySample = llBySample
		state.SamplesPerComponent = columnSums(resp, t.cfg.SampleWeights)

		eLogLik, kld, err := t.objective(prior, current, llBySample)
		if err != nil {
			state.Failed = true
			state.EndTime = time.Now()
			return current, state, err
		}
		nfe := eLogLik - kld

		state.PreviousNegativeFreeEnergy = state.NegativeFreeEnergy
		state.NegativeFreeEnergy = nfe
		state.NIterations = it
		state.Iterations = append(state.Iterations, model.IterationStats{
			Iteration:          it,
			NegativeFreeEnergy: nfe,
			ELogLikelihood:     eLogLik,
			KLD:                kld,
		})

		if t.cfg.Observer != nil {
			t.cfg.Observer(state.Clone())
		}

		if t.cfg.CheckConvergence && it >= 2 {
			delta := nfe - state.PreviousNegativeFreeEnergy
			switch {
			case math.IsNaN(nfe) || math.IsInf(nfe, 0):
				state.Failed = true
				state.EndTime = time.Now()
				return current, state, fmt.Errorf("%w: non-finite negative free energy at iteration %d", ErrNumericalFailure, it)
			case delta < -t.cfg.ConvergenceTolerance:
				// Batch VB must ascend; a real decrease means the run is unusable.
				state.Failed = true
				state.EndTime = time.Now()
				return current, state, fmt.Errorf("%w: negative free energy decreased by %g at iteration %d", ErrNumericalFailure, -delta, it)
			case math.Abs(delta) <= t.cfg.ConvergenceTolerance:
				state.Converged = true
			}
			if state.Converged {
				break
			}
		}
	}

	state.NSamplesSeen += weightedCount(n, t.cfg.SampleWeights)
	state.EndTime = time.Now()
	return current, state, nil
}

// maximizationStep replaces every component posterior with its conjugate
// update against the prior snapshot, fanning the per-component work across
// a bounded worker pool, then updates the mixing posterior from the
// aggregate responsibility mass. The mixing update runs strictly after all
// component updates have been assembled.
func (t *Trainer) maximizationStep(ctx context.Context, prior, current Mixture, x *mat.Dense, resp [][]float64) (Mixture, error) {
	k := current.NumComponents()

	type job struct {
		idx int
	}
	type result struct {
		idx  int
		comp brv.Component
		err  error
	}

	jobs := make(chan job)
	results := make(chan result, k)

	workerCount := t.cfg.Workers
	if workerCount > k {
		workerCount = k
	}

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := ctx.Err(); err != nil {
					results <- result{idx: j.idx, err: err}
					continue
				}
				weights := responsibilityColumn(resp, j.idx, t.cfg.SampleWeights)
				comp, err := current.components[j.idx].WeightedConjugateUpdate(prior.components[j.idx], x, weights)
				results <- result{idx: j.idx, comp: comp, err: err}
			}
		}()
	}

	for i := 0; i < k; i++ {
		jobs <- job{idx: i}
	}
	close(jobs)

	wg.Wait()
	close(results)

	comps := make([]brv.Component, k)
	for res := range results {
		if res.err != nil {
			return Mixture{}, res.err
		}
		comps[res.idx] = res.comp
	}

	counts := columnSums(resp, t.cfg.SampleWeights)
	mixing, err := current.mixing.PosteriorUpdate(prior.mixing, counts)
	if err != nil {
		return Mixture{}, err
	}
	return current.withUpdates(mixing, comps), nil
}

// expectationStep recomputes the responsibility matrix from the current
// posteriors. Each row is normalized with a log-sum-exp softmax, which keeps
// the row-sums-to-one invariant exact up to floating error.
func (t *Trainer) expectationStep(current Mixture, x mat.Matrix) (clusterLL, resp [][]float64, llBySample []float64, err error) {
	n, _ := x.Dims()
	k := current.NumComponents()

	perComponent := make([][]float64, k)
	for j, comp := range current.components {
		perComponent[j] = comp.VariationalAvgLogLikelihood(x)
	}
	eLogMix := current.mixing.ExpectedLogMean()
	if len(eLogMix) != k {
		return nil, nil, nil, fmt.Errorf("mixing model produced %d expected log means for %d components", len(eLogMix), k)
	}

	clusterLL = make([][]float64, n)
	resp = make([][]float64, n)
	llBySample = make([]float64, n)
	for i := 0; i < n; i++ {
		row := make([]float64, k)
		for j := 0; j < k; j++ {
			row[j] = perComponent[j][i] + eLogMix[j]
		}
		lse := floats.LogSumExp(row)
		if math.IsNaN(lse) || math.IsInf(lse, -1) {
			return nil, nil, nil, fmt.Errorf("%w: responsibility row %d cannot be normalized", ErrNumericalFailure, i)
		}

		normalized := make([]float64, k)
		for j := 0; j < k; j++ {
			normalized[j] = math.Exp(row[j] - lse)
		}
		clusterLL[i] = row
		resp[i] = normalized
		llBySample[i] = lse
	}
	return clusterLL, resp, llBySample, nil
}

// objective computes the negative-free-energy decomposition. The per-sample
// log-sum-exp terms already fold in the responsibility entropy, so the NFE
// is their (optionally weighted) sum minus the divergence penalties.
func (t *Trainer) objective(prior, current Mixture, llBySample []float64) (eLogLik, kld float64, err error) {
	if t.cfg.SampleWeights != nil {
		for i, ll := range llBySample {
			eLogLik += t.cfg.SampleWeights[i] * ll
		}
	} else {
		eLogLik = floats.Sum(llBySample)
	}

	for j, comp := range current.components {
		d, err := comp.KLDivergence(prior.components[j])
		if err != nil {
			return 0, 0, err
		}
		kld += d
	}
	mixKLD, err := current.mixing.KLDivergence(prior.mixing)
	if err != nil {
		return 0, 0, err
	}
	kld += mixKLD
	return eLogLik, kld, nil
}

func (t *Trainer) validateObservations(x *mat.Dense) (n, dim int, err error) {
	if x == nil {
		return 0, 0, ErrNoObservations
	}
	n, dim = x.Dims()
	if n == 0 || dim == 0 {
		return 0, 0, ErrNoObservations
	}
	if t.cfg.SampleWeights != nil && len(t.cfg.SampleWeights) != n {
		return 0, 0, fmt.Errorf("%w: %d weights for %d samples", ErrSampleWeightMismatch, len(t.cfg.SampleWeights), n)
	}
	return n, dim, nil
}

// MAPAssignments reduces a responsibility matrix to hard component indices.
func MAPAssignments(resp [][]float64) []int {
	out := make([]int, len(resp))
	for i, row := range resp {
		best := 0
		for j, v := range row {
			if v > row[best] {
				best = j
			}
		}
		out[i] = best
	}
	return out
}

// responsibilityColumn extracts component j's per-sample weights, applying
// external sample weights when configured.
func responsibilityColumn(resp [][]float64, j int, sampleWeights []float64) []float64 {
	out := make([]float64, len(resp))
	for i, row := range resp {
		out[i] = row[j]
		if sampleWeights != nil {
			out[i] *= sampleWeights[i]
		}
	}
	return out
}

func columnSums(resp [][]float64, sampleWeights []float64) []float64 {
	if len(resp) == 0 {
		return nil
	}
	out := make([]float64, len(resp[0]))
	for i, row := range resp {
		w := 1.0
		if sampleWeights != nil {
			w = sampleWeights[i]
		}
		for j, v := range row {
			out[j] += w * v
		}
	}
	return out
}

func weightedCount(n int, sampleWeights []float64) float64 {
	if sampleWeights == nil {
		return float64(n)
	}
	return floats.Sum(sampleWeights)
}
