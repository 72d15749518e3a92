package mixture

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"vbmix/internal/brv"
	"vbmix/internal/model"
)

// OnlineUpdate applies one stochastic variational step for a streaming
// mini-batch: every posterior blends its freshly computed conjugate update
// against the long-run prior snapshot with the configured learning rate and
// forgetting horizon. It performs a single incremental step, not a loop to
// convergence; callers drive the cadence and thread the training state
// through successive calls. A nil state is synthesized with one E-step
// against the prior; a nil previous defaults to the current mixture.
func (t *Trainer) OnlineUpdate(ctx context.Context, prior, current Mixture, x *mat.Dense, state *model.TrainingState, previous *Mixture) (Mixture, model.TrainingState, error) {
	return t.streamingUpdate(ctx, prior, current, x, state, previous,
		t.cfg.OnlineLearningRate, t.cfg.OnlineHorizon, false)
}

// NonStationaryUpdate applies one stabilized-forgetting step for
// concept-drifting streams. Unlike OnlineUpdate, the conjugate base density
// starts from the previous posterior rather than the long-run prior, so the
// forgetting factor has a moving reference point and the model tracks
// distributional drift instead of converging to a stationary posterior.
func (t *Trainer) NonStationaryUpdate(ctx context.Context, current Mixture, x *mat.Dense, state *model.TrainingState, previous *Mixture) (Mixture, model.TrainingState, error) {
	prev := current
	if previous != nil {
		prev = *previous
	}
	return t.streamingUpdate(ctx, prev.Snapshot(), current, x, state, &prev,
		t.cfg.NonStationaryLambda, t.cfg.NonStationaryD, true)
}

func (t *Trainer) streamingUpdate(ctx context.Context, reference, current Mixture, x *mat.Dense, state *model.TrainingState, previous *Mixture, learningRate, horizon float64, advanceStep bool) (Mixture, model.TrainingState, error) {
	n, dim, err := t.validateObservations(x)
	if err != nil {
		return Mixture{}, model.TrainingState{}, err
	}
	if reference.Dim() != dim || current.Dim() != dim {
		return Mixture{}, model.TrainingState{}, fmt.Errorf("%w: batch has %d features, mixture has %d",
			ErrDimensionMismatch, dim, current.Dim())
	}
	if err := ctx.Err(); err != nil {
		return Mixture{}, model.TrainingState{}, err
	}

	prev := current
	if previous != nil {
		prev = *previous
	}
	if prev.NumComponents() != current.NumComponents() {
		return Mixture{}, model.TrainingState{}, fmt.Errorf("previous mixture has %d components, current has %d",
			prev.NumComponents(), current.NumComponents())
	}

	var st model.TrainingState
	if state != nil {
		st = state.Clone()
	} else {
		st = model.TrainingState{StartTime: time.Now()}
		_, resp, llBySample, err := t.expectationStep(reference, x)
		if err != nil {
			return Mixture{}, st, err
		}
		st.Responsibilities = resp
		st.LogLikelihoodBySample = llBySample
	}
	if len(st.Responsibilities) != n {
		return Mixture{}, st, fmt.Errorf("training state carries %d responsibility rows for %d samples",
			len(st.Responsibilities), n)
	}

	k := current.NumComponents()
	comps := make([]brv.Component, k)
	for j := 0; j < k; j++ {
		weights := responsibilityColumn(st.Responsibilities, j, t.cfg.SampleWeights)
		comp, err := current.components[j].OnlineWeightedUpdate(
			reference.components[j], x, weights, learningRate, horizon, prev.components[j])
		if err != nil {
			return Mixture{}, st, err
		}
		comps[j] = comp
	}

	counts := columnSums(st.Responsibilities, t.cfg.SampleWeights)
	mixing, err := current.mixing.OnlineUpdate(reference.mixing, counts, learningRate, horizon, prev.mixing)
	if err != nil {
		return Mixture{}, st, err
	}

	st.SamplesPerComponent = counts
	st.NSamplesSeen += weightedCount(n, t.cfg.SampleWeights)
	if advanceStep {
		t.onlineStep++
	}
	st.EndTime = time.Now()
	return current.withUpdates(mixing, comps), st, nil
}

// OnlineStep reports the streaming time index advanced by non-stationary
// updates since the trainer was constructed.
func (t *Trainer) OnlineStep() int { return t.onlineStep }
