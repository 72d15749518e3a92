package mixture

import (
	"gonum.org/v1/gonum/mat"
)

// seedResponsibilities produces the initial hard assignment: a categorical
// draw uniform over components for every sample. When a two-column one-hot
// label matrix is supplied and the mixture has exactly two components, the
// semi-supervised heuristic applies instead: negative-class rows belong
// entirely to component 0 and positive-class rows split 20/80 between
// components 0 and 1, seeding a one-vs-background decomposition.
func (t *Trainer) seedResponsibilities(n, k int, labels *mat.Dense) ([][]float64, error) {
	resp := make([][]float64, n)

	if labels == nil {
		for i := range resp {
			row := make([]float64, k)
			row[t.rng.Intn(k)] = 1
			resp[i] = row
		}
		return resp, nil
	}

	if k != 2 {
		return nil, ErrLabelSeeding
	}
	rows, cols := labels.Dims()
	if rows != n || cols != 2 {
		return nil, ErrLabelShape
	}

	for i := range resp {
		if labels.At(i, 1) > 0 {
			resp[i] = []float64{0.2, 0.8}
		} else {
			resp[i] = []float64{1, 0}
		}
	}
	return resp, nil
}
