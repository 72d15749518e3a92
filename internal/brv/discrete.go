package brv

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/mathext"
)

// DiscreteDirichlet is a categorical observation model with a Dirichlet
// posterior over symbol probabilities. Observation rows are one-hot (or
// non-negative count) vectors over the symbol alphabet.
type DiscreteDirichlet struct {
	Lambda []float64
}

// NewDiscreteDirichlet returns a family prototype over symbols categories.
func NewDiscreteDirichlet(symbols int) *DiscreteDirichlet {
	return &DiscreteDirichlet{Lambda: make([]float64, symbols)}
}

func (c *DiscreteDirichlet) Dim() int { return len(c.Lambda) }

func (c *DiscreteDirichlet) clone() *DiscreteDirichlet {
	return &DiscreteDirichlet{Lambda: append([]float64(nil), c.Lambda...)}
}

// Initialize seeds a flat Dirichlet over the alphabet observed in x.
func (c *DiscreteDirichlet) Initialize(x mat.Matrix) Component {
	_, symbols := x.Dims()
	out := NewDiscreteDirichlet(symbols)
	for v := range out.Lambda {
		out.Lambda[v] = defaultConcentration
	}
	return out
}

func (c *DiscreteDirichlet) OnlineInitialize(x mat.Matrix) Component {
	return c.Initialize(x)
}

func (c *DiscreteDirichlet) WeightedConjugateUpdate(prior Component, x mat.Matrix, weights []float64) (Component, error) {
	p, err := asDiscreteDirichlet(prior)
	if err != nil {
		return nil, err
	}
	n, symbols := x.Dims()
	if symbols != p.Dim() {
		return nil, fmt.Errorf("%w: got %d symbols, component has %d", ErrDimensionMismatch, symbols, p.Dim())
	}
	if len(weights) != n {
		return nil, fmt.Errorf("%w: %d weights for %d samples", ErrWeightMismatch, len(weights), n)
	}

	out := p.clone()
	for i := 0; i < n; i++ {
		if weights[i] == 0 {
			continue
		}
		for v := 0; v < symbols; v++ {
			out.Lambda[v] += weights[i] * x.At(i, v)
		}
	}
	return out, nil
}

func (c *DiscreteDirichlet) VariationalAvgLogLikelihood(x mat.Matrix) []float64 {
	n, symbols := x.Dims()
	out := make([]float64, n)
	if symbols != c.Dim() {
		for i := range out {
			out[i] = math.Inf(-1)
		}
		return out
	}

	eLog := make([]float64, symbols)
	digTotal := mathext.Digamma(floats.Sum(c.Lambda))
	for v := range eLog {
		eLog[v] = mathext.Digamma(c.Lambda[v]) - digTotal
	}

	for i := 0; i < n; i++ {
		total := 0.0
		for v := 0; v < symbols; v++ {
			total += x.At(i, v) * eLog[v]
		}
		out[i] = total
	}
	return out
}

func (c *DiscreteDirichlet) KLDivergence(prior Component) (float64, error) {
	p, err := asDiscreteDirichlet(prior)
	if err != nil {
		return 0, err
	}
	if p.Dim() != c.Dim() {
		return 0, fmt.Errorf("%w: kld across %d vs %d symbols", ErrDimensionMismatch, c.Dim(), p.Dim())
	}
	return dirichletKL(c.Lambda, p.Lambda), nil
}

func (c *DiscreteDirichlet) OnlineWeightedUpdate(prior Component, x mat.Matrix, weights []float64, learningRate, horizon float64, previous Component) (Component, error) {
	p, err := asDiscreteDirichlet(prior)
	if err != nil {
		return nil, err
	}
	prev, err := asDiscreteDirichlet(previous)
	if err != nil {
		return nil, err
	}
	baseComp, err := c.WeightedConjugateUpdate(p, x, weights)
	if err != nil {
		return nil, err
	}
	base := baseComp.(*DiscreteDirichlet)
	if prev.Dim() != p.Dim() {
		return nil, fmt.Errorf("%w: previous has %d symbols, prior has %d", ErrDimensionMismatch, prev.Dim(), p.Dim())
	}

	scale := horizonScale(horizon, weightMass(weights))
	out := NewDiscreteDirichlet(p.Dim())
	for v := range out.Lambda {
		extrapolated := p.Lambda[v] + scale*(base.Lambda[v]-p.Lambda[v])
		out.Lambda[v] = (1-learningRate)*prev.Lambda[v] + learningRate*extrapolated
	}
	return out, nil
}

func asDiscreteDirichlet(c Component) (*DiscreteDirichlet, error) {
	dd, ok := c.(*DiscreteDirichlet)
	if !ok {
		return nil, fmt.Errorf("%w: got %T, want *DiscreteDirichlet", ErrContractViolation, c)
	}
	return dd, nil
}
