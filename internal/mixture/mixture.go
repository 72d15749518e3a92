// Package mixture implements coordinate-ascent variational Bayes inference
// over pluggable conjugate component families: batch fitting, streaming
// online updates with a decaying learning rate, and non-stationary updates
// with stabilized forgetting.
package mixture

import (
	"fmt"

	"vbmix/internal/brv"
)

// Mixture couples an ordered sequence of observation components with a
// Dirichlet-like posterior over mixing proportions. Components and mixing
// are immutable values replaced wholesale on every update, so a Snapshot
// taken before an update pass never aliases live state.
type Mixture struct {
	mixing     brv.MixingModel
	components []brv.Component
}

// New validates and assembles a mixture from component prototypes.
func New(mixing brv.MixingModel, components []brv.Component) (Mixture, error) {
	if mixing == nil {
		return Mixture{}, fmt.Errorf("mixing model is required")
	}
	if len(components) == 0 {
		return Mixture{}, ErrNoComponents
	}
	dim := components[0].Dim()
	for i, c := range components {
		if c == nil {
			return Mixture{}, fmt.Errorf("component is nil at index %d", i)
		}
		if c.Dim() != dim {
			return Mixture{}, fmt.Errorf("%w: component %d has %d dims, component 0 has %d",
				ErrDimensionMismatch, i, c.Dim(), dim)
		}
	}
	return Mixture{mixing: mixing, components: append([]brv.Component(nil), components...)}, nil
}

// NumComponents reports the fixed component count.
func (m Mixture) NumComponents() int { return len(m.components) }

// Dim reports the observation dimensionality shared by all components.
func (m Mixture) Dim() int {
	if len(m.components) == 0 {
		return 0
	}
	return m.components[0].Dim()
}

// Mixing returns the mixing-proportion posterior.
func (m Mixture) Mixing() brv.MixingModel { return m.mixing }

// Components returns a copy of the component sequence.
func (m Mixture) Components() []brv.Component {
	return append([]brv.Component(nil), m.components...)
}

// Component returns the k-th component posterior.
func (m Mixture) Component(k int) brv.Component { return m.components[k] }

// Snapshot captures the mixture as an immutable reference distribution for
// divergence terms. Component values are never mutated by the contract, so
// copying the sequence is a full value copy.
func (m Mixture) Snapshot() Mixture {
	return Mixture{
		mixing:     m.mixing,
		components: append([]brv.Component(nil), m.components...),
	}
}

// withUpdates returns a new mixture carrying replacement posteriors.
func (m Mixture) withUpdates(mixing brv.MixingModel, components []brv.Component) Mixture {
	return Mixture{mixing: mixing, components: components}
}
