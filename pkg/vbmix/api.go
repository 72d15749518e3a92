// Package vbmix is the embedding surface for the variational mixture
// engine: request/summary structs around fitting, run history and
// artifact export, backed by the pluggable run store.
package vbmix

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"vbmix/internal/brv"
	"vbmix/internal/mixture"
	"vbmix/internal/model"
	"vbmix/internal/stats"
	"vbmix/internal/storage"
)

const (
	defaultRunsDir    = "runs"
	defaultExportsDir = "exports"
	defaultDBPath     = "vbmix.db"
)

type Options struct {
	StoreKind  string
	DBPath     string
	RunsDir    string
	ExportsDir string
}

type Client struct {
	store       storage.Store
	initialized bool

	runsDir    string
	exportsDir string
}

type FitRequest struct {
	// Data is the observation matrix, one sample per row.
	Data [][]float64
	// Labels optionally carries a nSamples x 2 one-hot matrix that
	// activates the two-class seeding heuristic.
	Labels [][]float64
	// SampleWeights optionally reweights samples; length must match Data.
	SampleWeights []float64

	Family           string
	Components       int
	MaxIterations    int
	Tolerance        float64
	CheckConvergence bool
	Seed             int64
	Workers          int

	// Recorded in the run config for provenance only.
	DataCSVPath   string
	LabelsCSVPath string
}

type FitSummary struct {
	RunID        string
	ArtifactsDir string

	NFEByIteration []float64
	FinalNFE       float64
	Iterations     int
	Converged      bool

	Assignments         []int
	Weights             []float64
	SamplesPerComponent []float64
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	Family       string
	Components   int
	Samples      int
	Features     int
	Seed         int64
	Iterations   int
	Converged    bool
	FinalNFE     float64
}

type HistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type ComponentsRequest struct {
	RunID  string
	Latest bool
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		runsDir:    runsDir,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.ensureStore(ctx)
}

func (c *Client) Fit(ctx context.Context, req FitRequest) (FitSummary, error) {
	if req.Family == "" {
		req.Family = "normal"
	}
	if req.Components <= 0 {
		req.Components = 2
	}
	if req.MaxIterations <= 0 {
		req.MaxIterations = 100
	}
	if req.Tolerance <= 0 {
		req.Tolerance = 1e-6
	}
	if req.Workers <= 0 {
		req.Workers = 4
	}

	x, err := denseFromRows(req.Data)
	if err != nil {
		return FitSummary{}, err
	}
	nSamples, nFeatures := x.Dims()

	var labels *mat.Dense
	if req.Labels != nil {
		labels, err = denseFromRows(req.Labels)
		if err != nil {
			return FitSummary{}, fmt.Errorf("labels: %w", err)
		}
	}

	prototype, err := mixtureFromFamily(req.Family, req.Components, nFeatures)
	if err != nil {
		return FitSummary{}, err
	}

	trainer, err := mixture.NewTrainer(mixture.Config{
		MaxIterations:        req.MaxIterations,
		CheckConvergence:     req.CheckConvergence,
		ConvergenceTolerance: req.Tolerance,
		Workers:              req.Workers,
		Seed:                 req.Seed,
		SampleWeights:        req.SampleWeights,
	})
	if err != nil {
		return FitSummary{}, err
	}

	fitted, state, err := trainer.Fit(ctx, prototype, x, labels)
	if err != nil {
		return FitSummary{}, err
	}

	now := time.Now().UTC()
	runID := fmt.Sprintf("%s-%s", req.Family, uuid.NewString())

	weights := mixingWeights(fitted.Mixing())
	summaries := componentSummaries(fitted, weights, state.SamplesPerComponent)

	runDir, err := stats.WriteRunArtifacts(c.runsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:                runID,
			Family:               req.Family,
			NComponents:          req.Components,
			NSamples:             nSamples,
			NFeatures:            nFeatures,
			DataCSVPath:          req.DataCSVPath,
			LabelsCSVPath:        req.LabelsCSVPath,
			MaxIterations:        req.MaxIterations,
			CheckConvergence:     req.CheckConvergence,
			ConvergenceTolerance: req.Tolerance,
			Seed:                 req.Seed,
			Workers:              req.Workers,
		},
		NFEByIteration:  state.NFEHistory(),
		IterationStats:  state.Iterations,
		FinalNFE:        state.NegativeFreeEnergy,
		Converged:       state.Converged,
		Iterations:      state.NIterations,
		Components:      summaries,
		AssignmentCount: assignmentCounts(state.Responsibilities, req.Components),
	})
	if err != nil {
		return FitSummary{}, err
	}

	if err := stats.AppendRunIndex(c.runsDir, stats.RunIndexEntry{
		RunID:        runID,
		Family:       req.Family,
		NComponents:  req.Components,
		NSamples:     nSamples,
		NFeatures:    nFeatures,
		Seed:         req.Seed,
		Workers:      req.Workers,
		Iterations:   state.NIterations,
		Converged:    state.Converged,
		FinalNFE:     state.NegativeFreeEnergy,
		CreatedAtUTC: now.Format(time.RFC3339Nano),
	}); err != nil {
		return FitSummary{}, err
	}

	if err := c.persistRun(ctx, runID, now, req, nSamples, nFeatures, state); err != nil {
		return FitSummary{}, err
	}

	return FitSummary{
		RunID:               runID,
		ArtifactsDir:        filepath.Clean(runDir),
		NFEByIteration:      state.NFEHistory(),
		FinalNFE:            state.NegativeFreeEnergy,
		Iterations:          state.NIterations,
		Converged:           state.Converged,
		Assignments:         mixture.MAPAssignments(state.Responsibilities),
		Weights:             weights,
		SamplesPerComponent: append([]float64(nil), state.SamplesPerComponent...),
	}, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:        e.RunID,
			CreatedAtUTC: e.CreatedAtUTC,
			Family:       e.Family,
			Components:   e.NComponents,
			Samples:      e.NSamples,
			Features:     e.NFeatures,
			Seed:         e.Seed,
			Iterations:   e.Iterations,
			Converged:    e.Converged,
			FinalNFE:     e.FinalNFE,
		})
	}
	return out, nil
}

func (c *Client) Run(ctx context.Context, runID string) (model.RunRecord, error) {
	if runID == "" {
		return model.RunRecord{}, errors.New("run id is required")
	}
	if err := c.ensureStore(ctx); err != nil {
		return model.RunRecord{}, err
	}
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return model.RunRecord{}, err
	}
	if !ok {
		return model.RunRecord{}, fmt.Errorf("run not found: %s", runID)
	}
	return run, nil
}

func (c *Client) History(ctx context.Context, req HistoryRequest) ([]float64, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}

	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetNFEHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Fall back to on-disk artifacts when the store backend does not
		// persist across processes.
		history, ok, err = stats.ReadNFESeries(c.runsDir, runID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("nfe history not found for run id: %s", runID)
		}
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[:req.Limit]
	}
	return append([]float64(nil), history...), nil
}

func (c *Client) IterationStats(ctx context.Context, req HistoryRequest) ([]model.IterationStats, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}

	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	iterations, ok, err := c.store.GetIterationStats(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("iteration stats not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(iterations) > req.Limit {
		iterations = iterations[:req.Limit]
	}
	out := make([]model.IterationStats, len(iterations))
	copy(out, iterations)
	return out, nil
}

func (c *Client) Components(_ context.Context, req ComponentsRequest) ([]stats.ComponentSummary, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	summaries, ok, err := stats.ReadComponentSummaries(c.runsDir, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("component summaries not found for run id: %s", runID)
	}
	return summaries, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	exportedDir, err := stats.ExportRunArtifacts(c.runsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) persistRun(ctx context.Context, runID string, now time.Time, req FitRequest, nSamples, nFeatures int, state model.TrainingState) error {
	if err := c.ensureStore(ctx); err != nil {
		return err
	}
	record := model.RunRecord{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: storage.CurrentSchemaVersion,
			CodecVersion:  storage.CurrentCodecVersion,
		},
		ID:           runID,
		CreatedAtUTC: now.Format(time.RFC3339Nano),
		Family:       req.Family,
		NComponents:  req.Components,
		NSamples:     nSamples,
		NFeatures:    nFeatures,
		Seed:         req.Seed,
		NIterations:  state.NIterations,
		Converged:    state.Converged,
		FinalNFE:     state.NegativeFreeEnergy,
	}
	if err := c.store.SaveRun(ctx, record); err != nil {
		return err
	}
	if err := c.store.SaveNFEHistory(ctx, runID, state.NFEHistory()); err != nil {
		return err
	}
	return c.store.SaveIterationStats(ctx, runID, state.Iterations)
}

func (c *Client) resolveRunID(runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if latest {
		entries, err := stats.ListRunIndex(c.runsDir)
		if err != nil {
			return "", err
		}
		if len(entries) == 0 {
			return "", errors.New("no runs available")
		}
		return entries[0].RunID, nil
	}
	if runID == "" {
		return "", errors.New("run id or latest is required")
	}
	return runID, nil
}

func (c *Client) ensureStore(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

func mixtureFromFamily(family string, components, features int) (mixture.Mixture, error) {
	if components <= 0 {
		return mixture.Mixture{}, errors.New("component count must be > 0")
	}

	comps := make([]brv.Component, components)
	switch family {
	case "normal":
		for i := range comps {
			comps[i] = brv.NewNormalGamma(features)
		}
	case "discrete":
		for i := range comps {
			comps[i] = brv.NewDiscreteDirichlet(features)
		}
	default:
		return mixture.Mixture{}, fmt.Errorf("unsupported component family: %s", family)
	}

	return mixture.New(brv.NewDirichlet(components), comps)
}

// mixingWeights turns expected log mixing weights into a normalized
// probability vector for reporting.
func mixingWeights(mixing brv.MixingModel) []float64 {
	eLog := mixing.ExpectedLogMean()
	out := make([]float64, len(eLog))
	for i, v := range eLog {
		out[i] = math.Exp(v)
	}
	total := floats.Sum(out)
	if total > 0 {
		floats.Scale(1/total, out)
	}
	return out
}

func componentSummaries(m mixture.Mixture, weights, samplesPerComponent []float64) []stats.ComponentSummary {
	out := make([]stats.ComponentSummary, m.NumComponents())
	for i := range out {
		summary := stats.ComponentSummary{Index: i}
		if i < len(weights) {
			summary.Weight = weights[i]
		}
		if i < len(samplesPerComponent) {
			summary.SamplesAssigned = samplesPerComponent[i]
		}
		switch comp := m.Component(i).(type) {
		case *brv.NormalGamma:
			summary.Mean = append([]float64(nil), comp.Mu...)
		case *brv.DiscreteDirichlet:
			probs := append([]float64(nil), comp.Lambda...)
			total := floats.Sum(probs)
			if total > 0 {
				floats.Scale(1/total, probs)
			}
			summary.Probabilities = probs
		}
		out[i] = summary
	}
	return out
}

func assignmentCounts(responsibilities [][]float64, components int) []int {
	counts := make([]int, components)
	for _, k := range mixture.MAPAssignments(responsibilities) {
		if k >= 0 && k < components {
			counts[k]++
		}
	}
	return counts
}

func denseFromRows(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, errors.New("observation matrix is empty")
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("row %d has %d columns, row 0 has %d", i, len(row), cols)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), cols, data), nil
}
