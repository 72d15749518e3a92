package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"vbmix/internal/stats"
	"vbmix/internal/storage"
	vbapi "vbmix/pkg/vbmix"
)

const (
	runsDir    = "runs"
	exportsDir = "exports"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "fit":
		return runFit(ctx, args[1:])
	case "demo":
		return runDemo(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "history":
		return runHistory(ctx, args[1:])
	case "iterations":
		return runIterations(ctx, args[1:])
	case "components":
		return runComponents(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "vbmix.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := vbapi.New(vbapi.Options{
		StoreKind:  *storeKind,
		DBPath:     *dbPath,
		RunsDir:    runsDir,
		ExportsDir: exportsDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *storeKind)
	return nil
}

func runFit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fit", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional fit config JSON path")
	dataPath := fs.String("data", "", "observation CSV path (one sample per row)")
	labelsPath := fs.String("labels", "", "optional two-class one-hot label CSV path")
	family := fs.String("family", "normal", "component family: normal|discrete")
	components := fs.Int("components", 2, "mixture component count")
	maxIters := fs.Int("max-iters", 100, "iteration cap")
	tolerance := fs.Float64("tol", 1e-6, "convergence tolerance on negative free energy")
	checkConvergence := fs.Bool("check-convergence", true, "stop when negative free energy stabilizes")
	seed := fs.Int64("seed", 1, "rng seed")
	workers := fs.Int("workers", 4, "worker count for component updates")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "vbmix.db", "sqlite database path")
	quiet := fs.Bool("quiet", false, "suppress per-iteration output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	req, err := loadOrDefaultFitRequest(*configPath)
	if err != nil {
		return err
	}
	if *configPath == "" {
		req = vbapi.FitRequest{
			Family:           *family,
			Components:       *components,
			MaxIterations:    *maxIters,
			Tolerance:        *tolerance,
			CheckConvergence: *checkConvergence,
			Seed:             *seed,
			Workers:          *workers,
			DataCSVPath:      *dataPath,
			LabelsCSVPath:    *labelsPath,
		}
	} else {
		overrideFromFlags(&req, setFlags, map[string]any{
			"family":            *family,
			"components":        *components,
			"max-iters":         *maxIters,
			"tol":               *tolerance,
			"check-convergence": *checkConvergence,
			"seed":              *seed,
			"workers":           *workers,
			"data":              *dataPath,
			"labels":            *labelsPath,
		})
	}
	if req.DataCSVPath == "" {
		return errors.New("fit requires --data (or data_csv_path in config)")
	}

	req.Data, err = loadMatrixCSV(req.DataCSVPath)
	if err != nil {
		return fmt.Errorf("load data: %w", err)
	}
	if req.LabelsCSVPath != "" {
		req.Labels, err = loadMatrixCSV(req.LabelsCSVPath)
		if err != nil {
			return fmt.Errorf("load labels: %w", err)
		}
	}

	client, err := vbapi.New(vbapi.Options{
		StoreKind:  *storeKind,
		DBPath:     *dbPath,
		RunsDir:    runsDir,
		ExportsDir: exportsDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Fit(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("fit completed run_id=%s family=%s components=%d samples=%s seed=%d\n",
		summary.RunID, req.Family, req.Components, humanize.Comma(int64(len(req.Data))), req.Seed)
	if !*quiet {
		for i, nfe := range summary.NFEByIteration {
			fmt.Printf("iteration=%d nfe=%.6f\n", i+1, nfe)
		}
	}
	fmt.Printf("final_nfe=%.6f iterations=%d converged=%t\n", summary.FinalNFE, summary.Iterations, summary.Converged)
	for i, w := range summary.Weights {
		fmt.Printf("component=%d weight=%.4f samples=%.1f\n", i, w, summary.SamplesPerComponent[i])
	}
	fmt.Printf("artifacts_dir=%s\n", filepath.Clean(summary.ArtifactsDir))
	return nil
}

func runRuns(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	entries, err := stats.ListRunIndex(runsDir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	if len(entries) > *limit {
		entries = entries[:*limit]
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	for _, e := range entries {
		age := e.CreatedAtUTC
		if created, err := time.Parse(time.RFC3339Nano, e.CreatedAtUTC); err == nil {
			age = humanize.Time(created)
		}
		fmt.Printf("run_id=%s created=%s family=%s components=%d samples=%s features=%d seed=%d iterations=%d converged=%t final_nfe=%.6f\n",
			e.RunID,
			age,
			e.Family,
			e.NComponents,
			humanize.Comma(int64(e.NSamples)),
			e.NFeatures,
			e.Seed,
			e.Iterations,
			e.Converged,
			e.FinalNFE,
		)
	}
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run from run index")
	limit := fs.Int("limit", 0, "max iterations to print (0 prints all)")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "vbmix.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := vbapi.New(vbapi.Options{
		StoreKind:  *storeKind,
		DBPath:     *dbPath,
		RunsDir:    runsDir,
		ExportsDir: exportsDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	history, err := client.History(ctx, vbapi.HistoryRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	for i, nfe := range history {
		fmt.Printf("iteration=%d nfe=%.6f\n", i+1, nfe)
	}
	return nil
}

func runIterations(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("iterations", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run from run index")
	limit := fs.Int("limit", 0, "max iterations to print (0 prints all)")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "vbmix.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := vbapi.New(vbapi.Options{
		StoreKind:  *storeKind,
		DBPath:     *dbPath,
		RunsDir:    runsDir,
		ExportsDir: exportsDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	iterations, err := client.IterationStats(ctx, vbapi.HistoryRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	for _, it := range iterations {
		fmt.Printf("iteration=%d nfe=%.6f e_log_likelihood=%.6f kld=%.6f\n",
			it.Iteration, it.NegativeFreeEnergy, it.ELogLikelihood, it.KLD)
	}
	return nil
}

func runComponents(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("components", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run from run index")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := vbapi.New(vbapi.Options{RunsDir: runsDir, ExportsDir: exportsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summaries, err := client.Components(ctx, vbapi.ComponentsRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	for _, s := range summaries {
		line := fmt.Sprintf("component=%d weight=%.4f samples=%.1f", s.Index, s.Weight, s.SamplesAssigned)
		if len(s.Mean) > 0 {
			line += fmt.Sprintf(" mean=%s", formatFloats(s.Mean))
		}
		if len(s.Probabilities) > 0 {
			line += fmt.Sprintf(" probabilities=%s", formatFloats(s.Probabilities))
		}
		fmt.Println(line)
	}
	return nil
}

func runExport(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}
	if *latest {
		entries, err := stats.ListRunIndex(runsDir)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return errors.New("no runs available to export")
		}
		*runID = entries[0].RunID
	}

	exportedDir, err := stats.ExportRunArtifacts(runsDir, *runID, *outDir)
	if err != nil {
		return err
	}

	fmt.Printf("exported run_id=%s to=%s\n", *runID, filepath.Clean(exportedDir))
	return nil
}

func formatFloats(xs []float64) string {
	out := "["
	for i, x := range xs {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%.4f", x)
	}
	return out + "]"
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: vbmixctl <init|fit|demo|runs|history|iterations|components|export> [flags]", msg)
}
