package brv

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/mathext"
)

const (
	log2Pi = 1.8378770664093453

	// Weak data-seeded prior: the mean prior barely constrains the
	// posterior location while the variance prior fixes the scale.
	priorKappa    = 1e-2
	priorShape    = 1.0
	varianceFloor = 1e-6
)

// NormalGamma is a diagonal-covariance Gaussian observation model with a
// Normal-Gamma posterior per dimension: precision lambda_d ~ Gamma(A_d, B_d)
// and mean mu_d | lambda_d ~ N(Mu_d, 1/(Kappa_d*lambda_d)).
type NormalGamma struct {
	Mu    []float64
	Kappa []float64
	A     []float64
	B     []float64
}

// NewNormalGamma returns an empty family prototype for dim features.
// Hyperparameters are seeded by Initialize.
func NewNormalGamma(dim int) *NormalGamma {
	return &NormalGamma{
		Mu:    make([]float64, dim),
		Kappa: make([]float64, dim),
		A:     make([]float64, dim),
		B:     make([]float64, dim),
	}
}

func (c *NormalGamma) Dim() int { return len(c.Mu) }

func (c *NormalGamma) clone() *NormalGamma {
	return &NormalGamma{
		Mu:    append([]float64(nil), c.Mu...),
		Kappa: append([]float64(nil), c.Kappa...),
		A:     append([]float64(nil), c.A...),
		B:     append([]float64(nil), c.B...),
	}
}

// Initialize seeds a weak prior from the column means and variances of x.
func (c *NormalGamma) Initialize(x mat.Matrix) Component {
	n, dim := x.Dims()
	out := NewNormalGamma(dim)
	for d := 0; d < dim; d++ {
		mean := 0.0
		for i := 0; i < n; i++ {
			mean += x.At(i, d)
		}
		mean /= float64(n)

		variance := 0.0
		for i := 0; i < n; i++ {
			diff := x.At(i, d) - mean
			variance += diff * diff
		}
		variance /= float64(n)
		if variance < varianceFloor {
			variance = varianceFloor
		}

		out.Mu[d] = mean
		out.Kappa[d] = priorKappa
		out.A[d] = priorShape
		out.B[d] = priorShape * variance
	}
	return out
}

func (c *NormalGamma) OnlineInitialize(x mat.Matrix) Component {
	return c.Initialize(x)
}

func (c *NormalGamma) WeightedConjugateUpdate(prior Component, x mat.Matrix, weights []float64) (Component, error) {
	p, err := asNormalGamma(prior)
	if err != nil {
		return nil, err
	}
	n, dim := x.Dims()
	if dim != p.Dim() {
		return nil, fmt.Errorf("%w: got %d features, component has %d", ErrDimensionMismatch, dim, p.Dim())
	}
	if len(weights) != n {
		return nil, fmt.Errorf("%w: %d weights for %d samples", ErrWeightMismatch, len(weights), n)
	}

	mass := weightMass(weights)
	if mass <= 0 {
		return p.clone(), nil
	}

	out := NewNormalGamma(dim)
	for d := 0; d < dim; d++ {
		xbar := 0.0
		for i := 0; i < n; i++ {
			xbar += weights[i] * x.At(i, d)
		}
		xbar /= mass

		ss := 0.0
		for i := 0; i < n; i++ {
			diff := x.At(i, d) - xbar
			ss += weights[i] * diff * diff
		}

		kappa := p.Kappa[d] + mass
		meanDiff := xbar - p.Mu[d]
		out.Kappa[d] = kappa
		out.Mu[d] = (p.Kappa[d]*p.Mu[d] + mass*xbar) / kappa
		out.A[d] = p.A[d] + 0.5*mass
		out.B[d] = p.B[d] + 0.5*ss + 0.5*p.Kappa[d]*mass*meanDiff*meanDiff/kappa
	}
	return out, nil
}

// VariationalAvgLogLikelihood returns, per sample, E_q[log N(x | mu, 1/lambda)]
// summed over dimensions.
func (c *NormalGamma) VariationalAvgLogLikelihood(x mat.Matrix) []float64 {
	n, dim := x.Dims()
	out := make([]float64, n)
	if dim != c.Dim() {
		for i := range out {
			out[i] = math.Inf(-1)
		}
		return out
	}

	// Per-dimension constants are hoisted out of the sample loop.
	eLogLambda := make([]float64, dim)
	eLambda := make([]float64, dim)
	for d := 0; d < dim; d++ {
		eLogLambda[d] = mathext.Digamma(c.A[d]) - math.Log(c.B[d])
		eLambda[d] = c.A[d] / c.B[d]
	}

	for i := 0; i < n; i++ {
		total := 0.0
		for d := 0; d < dim; d++ {
			diff := x.At(i, d) - c.Mu[d]
			total += 0.5 * (eLogLambda[d] - log2Pi - eLambda[d]*diff*diff - 1/c.Kappa[d])
		}
		out[i] = total
	}
	return out
}

// KLDivergence returns KL(q || prior) summed over dimensions, where each
// dimension contributes a conditional-Normal term and a Gamma term.
func (c *NormalGamma) KLDivergence(prior Component) (float64, error) {
	p, err := asNormalGamma(prior)
	if err != nil {
		return 0, err
	}
	if p.Dim() != c.Dim() {
		return 0, fmt.Errorf("%w: kld across %d vs %d dims", ErrDimensionMismatch, c.Dim(), p.Dim())
	}

	kl := 0.0
	for d := range c.Mu {
		meanDiff := c.Mu[d] - p.Mu[d]
		eLambda := c.A[d] / c.B[d]
		kl += 0.5 * (math.Log(c.Kappa[d]/p.Kappa[d]) + p.Kappa[d]/c.Kappa[d] - 1 +
			p.Kappa[d]*meanDiff*meanDiff*eLambda)

		lgA, _ := math.Lgamma(c.A[d])
		lgA0, _ := math.Lgamma(p.A[d])
		kl += (c.A[d]-p.A[d])*mathext.Digamma(c.A[d]) - lgA + lgA0 +
			p.A[d]*math.Log(c.B[d]/p.B[d]) + c.A[d]*(p.B[d]-c.B[d])/c.B[d]
	}
	return kl, nil
}

func (c *NormalGamma) OnlineWeightedUpdate(prior Component, x mat.Matrix, weights []float64, learningRate, horizon float64, previous Component) (Component, error) {
	p, err := asNormalGamma(prior)
	if err != nil {
		return nil, err
	}
	prev, err := asNormalGamma(previous)
	if err != nil {
		return nil, err
	}
	baseComp, err := c.WeightedConjugateUpdate(p, x, weights)
	if err != nil {
		return nil, err
	}
	base := baseComp.(*NormalGamma)
	if prev.Dim() != p.Dim() {
		return nil, fmt.Errorf("%w: previous has %d dims, prior has %d", ErrDimensionMismatch, prev.Dim(), p.Dim())
	}

	scale := horizonScale(horizon, weightMass(weights))
	out := NewNormalGamma(p.Dim())
	for d := range out.Mu {
		refN := naturalNG(p, d)
		baseN := naturalNG(base, d)
		prevN := naturalNG(prev, d)

		var blended [4]float64
		for j := 0; j < 4; j++ {
			extrapolated := refN[j] + scale*(baseN[j]-refN[j])
			blended[j] = (1-learningRate)*prevN[j] + learningRate*extrapolated
		}
		out.Kappa[d] = blended[1]
		out.Mu[d] = blended[0] / blended[1]
		out.A[d] = blended[2]
		out.B[d] = blended[3] - blended[0]*blended[0]/(2*blended[1])
	}
	return out, nil
}

// naturalNG maps one dimension's hyperparameters to the additive natural
// parameterization in which conjugate updates and blending commute.
func naturalNG(c *NormalGamma, d int) [4]float64 {
	return [4]float64{
		c.Kappa[d] * c.Mu[d],
		c.Kappa[d],
		c.A[d],
		c.B[d] + c.Kappa[d]*c.Mu[d]*c.Mu[d]/2,
	}
}

func asNormalGamma(c Component) (*NormalGamma, error) {
	ng, ok := c.(*NormalGamma)
	if !ok {
		return nil, fmt.Errorf("%w: got %T, want *NormalGamma", ErrContractViolation, c)
	}
	return ng, nil
}
