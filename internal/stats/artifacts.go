package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"vbmix/internal/model"
)

const runIndexFile = "run_index.json"

// RunConfig captures everything needed to reproduce a fit run.
type RunConfig struct {
	RunID                string  `json:"run_id"`
	Family               string  `json:"family"`
	NComponents          int     `json:"n_components"`
	NSamples             int     `json:"n_samples"`
	NFeatures            int     `json:"n_features"`
	DataCSVPath          string  `json:"data_csv_path,omitempty"`
	LabelsCSVPath        string  `json:"labels_csv_path,omitempty"`
	MaxIterations        int     `json:"max_iterations"`
	CheckConvergence     bool    `json:"check_convergence"`
	ConvergenceTolerance float64 `json:"convergence_tolerance"`
	Seed                 int64   `json:"seed"`
	Workers              int     `json:"workers"`
	OnlineLearningRate   float64 `json:"online_learning_rate,omitempty"`
	OnlineHorizon        float64 `json:"online_horizon,omitempty"`
	NonStationaryLambda  float64 `json:"non_stationary_lambda,omitempty"`
}

// ComponentSummary is the per-component view written alongside a run:
// the expected mixing weight and the effective sample count.
type ComponentSummary struct {
	Index           int       `json:"index"`
	Weight          float64   `json:"weight"`
	SamplesAssigned float64   `json:"samples_assigned"`
	Mean            []float64 `json:"mean,omitempty"`
	Probabilities   []float64 `json:"probabilities,omitempty"`
}

type RunArtifacts struct {
	Config          RunConfig              `json:"config"`
	NFEByIteration  []float64              `json:"nfe_by_iteration"`
	IterationStats  []model.IterationStats `json:"iteration_stats,omitempty"`
	FinalNFE        float64                `json:"final_nfe"`
	Converged       bool                   `json:"converged"`
	Iterations      int                    `json:"iterations"`
	Components      []ComponentSummary     `json:"components"`
	AssignmentCount []int                  `json:"assignment_count,omitempty"`
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Family       string  `json:"family"`
	NComponents  int     `json:"n_components"`
	NSamples     int     `json:"n_samples"`
	NFeatures    int     `json:"n_features"`
	Seed         int64   `json:"seed"`
	Workers      int     `json:"workers"`
	Iterations   int     `json:"iterations"`
	Converged    bool    `json:"converged"`
	FinalNFE     float64 `json:"final_nfe"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "nfe_history.json"), map[string]any{"nfe_by_iteration": artifacts.NFEByIteration, "final_nfe": artifacts.FinalNFE, "converged": artifacts.Converged, "iterations": artifacts.Iterations}); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "iteration_stats.json"), artifacts.IterationStats); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "components.json"), artifacts.Components); err != nil {
		return "", err
	}
	if len(artifacts.AssignmentCount) > 0 {
		if err := writeJSON(filepath.Join(runDir, "assignment_count.json"), artifacts.AssignmentCount); err != nil {
			return "", err
		}
	}
	if err := WriteNFESeries(runDir, artifacts.NFEByIteration); err != nil {
		return "", err
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	files := []string{"config.json", "nfe_history.json", "iteration_stats.json", "components.json", "nfe_series.csv"}
	for _, file := range files {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	assignmentPath := filepath.Join(src, "assignment_count.json")
	if _, err := os.Stat(assignmentPath); err == nil {
		if err := copyFile(assignmentPath, filepath.Join(dst, "assignment_count.json")); err != nil {
			return "", err
		}
	} else if err != nil && !os.IsNotExist(err) {
		return "", err
	}

	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	path := filepath.Join(baseDir, runID, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}

	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

func WriteRunConfig(baseDir, runID string, cfg RunConfig) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = strings.TrimSpace(runID)
	}
	if cfg.RunID != strings.TrimSpace(runID) {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, strings.TrimSpace(runID))
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, "config.json"), cfg)
}

func ReadComponentSummaries(baseDir, runID string) ([]ComponentSummary, bool, error) {
	path := filepath.Join(baseDir, runID, "components.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var components []ComponentSummary
	if err := json.Unmarshal(data, &components); err != nil {
		return nil, false, err
	}
	return components, true, nil
}

func WriteNFESeries(runDir string, nfeByIteration []float64) error {
	path := filepath.Join(runDir, "nfe_series.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"iteration", "nfe"}); err != nil {
		return err
	}
	for i, nfe := range nfeByIteration {
		if err := writer.Write([]string{
			strconv.Itoa(i + 1),
			strconv.FormatFloat(nfe, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadNFESeries(baseDir, runID string) ([]float64, bool, error) {
	path := filepath.Join(baseDir, runID, "nfe_series.csv")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []float64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 2 {
		return nil, false, fmt.Errorf("nfe series header must have at least 2 columns")
	}

	series := make([]float64, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 2 {
			return nil, false, fmt.Errorf("nfe series row must have at least 2 columns")
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		series = append(series, value)
	}
	return series, true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
