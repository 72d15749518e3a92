package brv

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mathext"
)

// Dirichlet is the conjugate posterior over mixing proportions (and the
// building block of the categorical observation family). Alpha holds the
// concentration per category.
type Dirichlet struct {
	Alpha []float64
}

const defaultConcentration = 1.0

// NewDirichlet returns a symmetric Dirichlet over k categories.
func NewDirichlet(k int) *Dirichlet {
	alpha := make([]float64, k)
	for i := range alpha {
		alpha[i] = defaultConcentration
	}
	return &Dirichlet{Alpha: alpha}
}

func (d *Dirichlet) NumCategories() int { return len(d.Alpha) }

func (d *Dirichlet) clone() *Dirichlet {
	return &Dirichlet{Alpha: append([]float64(nil), d.Alpha...)}
}

// Initialize seeds the concentration from per-category pseudo-counts added
// to the symmetric base. A zero seed yields the flat base measure.
func (d *Dirichlet) Initialize(seed []float64) MixingModel {
	out := NewDirichlet(len(seed))
	floats.Add(out.Alpha, seed)
	return out
}

func (d *Dirichlet) PosteriorUpdate(prior MixingModel, counts []float64) (MixingModel, error) {
	p, err := asDirichlet(prior)
	if err != nil {
		return nil, err
	}
	if len(counts) != len(p.Alpha) {
		return nil, fmt.Errorf("dirichlet update: got %d counts for %d categories", len(counts), len(p.Alpha))
	}
	out := p.clone()
	floats.Add(out.Alpha, counts)
	return out, nil
}

// ExpectedLogMean returns E[log pi_k] = digamma(alpha_k) - digamma(sum alpha).
func (d *Dirichlet) ExpectedLogMean() []float64 {
	total := mathext.Digamma(floats.Sum(d.Alpha))
	out := make([]float64, len(d.Alpha))
	for i, a := range d.Alpha {
		out[i] = mathext.Digamma(a) - total
	}
	return out
}

func (d *Dirichlet) KLDivergence(prior MixingModel) (float64, error) {
	p, err := asDirichlet(prior)
	if err != nil {
		return 0, err
	}
	if len(p.Alpha) != len(d.Alpha) {
		return 0, fmt.Errorf("dirichlet kld: %d vs %d categories", len(d.Alpha), len(p.Alpha))
	}
	return dirichletKL(d.Alpha, p.Alpha), nil
}

func (d *Dirichlet) OnlineUpdate(prior MixingModel, counts []float64, learningRate, horizon float64, previous MixingModel) (MixingModel, error) {
	p, err := asDirichlet(prior)
	if err != nil {
		return nil, err
	}
	prev, err := asDirichlet(previous)
	if err != nil {
		return nil, err
	}
	if len(counts) != len(p.Alpha) || len(prev.Alpha) != len(p.Alpha) {
		return nil, fmt.Errorf("dirichlet online update: category count mismatch")
	}

	scale := horizonScale(horizon, weightMass(counts))
	out := &Dirichlet{Alpha: make([]float64, len(p.Alpha))}
	for i := range out.Alpha {
		base := p.Alpha[i] + scale*counts[i]
		out.Alpha[i] = (1-learningRate)*prev.Alpha[i] + learningRate*base
	}
	return out, nil
}

func asDirichlet(m MixingModel) (*Dirichlet, error) {
	d, ok := m.(*Dirichlet)
	if !ok {
		return nil, fmt.Errorf("%w: got %T, want *Dirichlet", ErrContractViolation, m)
	}
	return d, nil
}

// dirichletKL computes KL(Dir(a) || Dir(b)) for equal-length concentrations.
func dirichletKL(a, b []float64) float64 {
	sumA := floats.Sum(a)
	sumB := floats.Sum(b)
	lgSumA, _ := math.Lgamma(sumA)
	lgSumB, _ := math.Lgamma(sumB)

	kl := lgSumA - lgSumB
	digSumA := mathext.Digamma(sumA)
	for i := range a {
		lgA, _ := math.Lgamma(a[i])
		lgB, _ := math.Lgamma(b[i])
		kl += lgB - lgA + (a[i]-b[i])*(mathext.Digamma(a[i])-digSumA)
	}
	return kl
}
