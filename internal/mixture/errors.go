package mixture

import "errors"

var (
	ErrNoObservations       = errors.New("observation matrix is empty")
	ErrNoComponents         = errors.New("mixture requires at least one component")
	ErrDimensionMismatch    = errors.New("component dimensionality mismatch")
	ErrLabelShape           = errors.New("label matrix must be nSamples x 2 one-hot")
	ErrLabelSeeding         = errors.New("label seeding requires exactly two components")
	ErrSampleWeightMismatch = errors.New("sample weight length mismatch")
	ErrNumericalFailure     = errors.New("variational iteration failed numerically")
)
