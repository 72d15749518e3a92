package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// IterationStats records the objective decomposition for one VB iteration.
type IterationStats struct {
	Iteration          int     `json:"iteration"`
	NegativeFreeEnergy float64 `json:"negative_free_energy"`
	ELogLikelihood     float64 `json:"e_log_likelihood"`
	KLD                float64 `json:"kld"`
}

// TrainingState accumulates the mutable bookkeeping of a variational run:
// the responsibility matrix, per-iteration objective history and timing.
// It is rebuilt for batch runs and threaded through successive calls in
// the online and non-stationary regimes.
type TrainingState struct {
	Responsibilities      [][]float64 `json:"responsibilities,omitempty"`
	ClusterLogLikelihoods [][]float64 `json:"cluster_log_likelihoods,omitempty"`
	LogLikelihoodBySample []float64   `json:"log_likelihood_by_sample,omitempty"`
	SamplesPerComponent   []float64   `json:"samples_per_component,omitempty"`

	NegativeFreeEnergy         float64          `json:"negative_free_energy"`
	PreviousNegativeFreeEnergy float64          `json:"previous_negative_free_energy"`
	Iterations                 []IterationStats `json:"iterations,omitempty"`

	NIterations  int     `json:"n_iterations"`
	NSamplesSeen float64 `json:"n_samples_seen"`
	Converged    bool    `json:"converged"`
	Failed       bool    `json:"failed"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Clone returns a deep copy so observers and stores never alias live state.
func (s TrainingState) Clone() TrainingState {
	out := s
	out.Responsibilities = cloneMatrix(s.Responsibilities)
	out.ClusterLogLikelihoods = cloneMatrix(s.ClusterLogLikelihoods)
	out.LogLikelihoodBySample = append([]float64(nil), s.LogLikelihoodBySample...)
	out.SamplesPerComponent = append([]float64(nil), s.SamplesPerComponent...)
	out.Iterations = append([]IterationStats(nil), s.Iterations...)
	return out
}

// NFEHistory extracts the per-iteration negative free energy series.
func (s TrainingState) NFEHistory() []float64 {
	out := make([]float64, 0, len(s.Iterations))
	for _, it := range s.Iterations {
		out = append(out, it.NegativeFreeEnergy)
	}
	return out
}

func cloneMatrix(m [][]float64) [][]float64 {
	if m == nil {
		return nil
	}
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// RunRecord summarizes one persisted training run.
type RunRecord struct {
	VersionedRecord
	ID           string  `json:"id"`
	CreatedAtUTC string  `json:"created_at_utc"`
	Family       string  `json:"family"`
	NComponents  int     `json:"n_components"`
	NSamples     int     `json:"n_samples"`
	NFeatures    int     `json:"n_features"`
	Seed         int64   `json:"seed"`
	NIterations  int     `json:"n_iterations"`
	Converged    bool    `json:"converged"`
	FinalNFE     float64 `json:"final_nfe"`
}
