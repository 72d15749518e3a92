package vbmix

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	client, err := New(Options{
		StoreKind:  "memory",
		RunsDir:    t.TempDir(),
		ExportsDir: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func clusteredData(perCluster int) [][]float64 {
	jitter := []float64{-0.5, -0.25, 0, 0.25, 0.5}
	data := make([][]float64, 0, 2*perCluster)
	for i := 0; i < perCluster; i++ {
		data = append(data, []float64{jitter[i%5], jitter[(i/5)%5]})
	}
	for i := 0; i < perCluster; i++ {
		data = append(data, []float64{10 + jitter[(i+1)%5], 10 + jitter[(i/5)%5]})
	}
	return data
}

func TestClientFitEndToEnd(t *testing.T) {
	client := testClient(t)

	summary, err := client.Fit(context.Background(), FitRequest{
		Data:             clusteredData(50),
		Components:       2,
		CheckConvergence: true,
		Seed:             42,
		Workers:          2,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RunID)
	assert.True(t, summary.Converged)
	assert.NotEmpty(t, summary.NFEByIteration)
	assert.Len(t, summary.Assignments, 100)
	assert.Len(t, summary.Weights, 2)
	assert.InDelta(t, 1.0, summary.Weights[0]+summary.Weights[1], 0.05)

	// Both clusters should end up with roughly half the mass.
	for _, n := range summary.SamplesPerComponent {
		assert.InDelta(t, 50, n, 5)
	}
}

func TestClientFitDefaultsFamily(t *testing.T) {
	client := testClient(t)

	summary, err := client.Fit(context.Background(), FitRequest{
		Data: clusteredData(20),
		Seed: 1,
	})
	require.NoError(t, err)
	assert.Contains(t, summary.RunID, "normal-")
}

func TestClientFitDiscreteFamily(t *testing.T) {
	client := testClient(t)

	// One-hot symbol observations drawn from two distinct alphabets.
	data := make([][]float64, 0, 40)
	for i := 0; i < 20; i++ {
		data = append(data, []float64{1, 0, 0})
	}
	for i := 0; i < 20; i++ {
		data = append(data, []float64{0, 0, 1})
	}

	summary, err := client.Fit(context.Background(), FitRequest{
		Data:       data,
		Family:     "discrete",
		Components: 2,
		Seed:       3,
	})
	require.NoError(t, err)
	assert.Len(t, summary.Assignments, 40)
}

func TestClientFitRejectsUnknownFamily(t *testing.T) {
	client := testClient(t)

	_, err := client.Fit(context.Background(), FitRequest{
		Data:   clusteredData(5),
		Family: "poisson",
	})
	require.Error(t, err)
}

func TestClientFitRejectsRaggedData(t *testing.T) {
	client := testClient(t)

	_, err := client.Fit(context.Background(), FitRequest{
		Data: [][]float64{{1, 2}, {3}},
	})
	require.Error(t, err)
}

func TestClientRunsListsLatestFirst(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	first, err := client.Fit(ctx, FitRequest{Data: clusteredData(10), Seed: 1})
	require.NoError(t, err)
	second, err := client.Fit(ctx, FitRequest{Data: clusteredData(10), Seed: 2})
	require.NoError(t, err)

	runs, err := client.Runs(ctx, RunsRequest{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.RunID, runs[0].RunID)
	assert.Equal(t, first.RunID, runs[1].RunID)

	limited, err := client.Runs(ctx, RunsRequest{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, second.RunID, limited[0].RunID)
}

func TestClientRunAndHistory(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	summary, err := client.Fit(ctx, FitRequest{Data: clusteredData(10), Seed: 5})
	require.NoError(t, err)

	record, err := client.Run(ctx, summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, summary.RunID, record.ID)
	assert.Equal(t, 20, record.NSamples)
	assert.Equal(t, 2, record.NFeatures)

	history, err := client.History(ctx, HistoryRequest{RunID: summary.RunID})
	require.NoError(t, err)
	assert.Equal(t, summary.NFEByIteration, history)

	latest, err := client.History(ctx, HistoryRequest{Latest: true})
	require.NoError(t, err)
	assert.Equal(t, history, latest)

	iterations, err := client.IterationStats(ctx, HistoryRequest{RunID: summary.RunID, Limit: 1})
	require.NoError(t, err)
	require.Len(t, iterations, 1)
	assert.Equal(t, 1, iterations[0].Iteration)
}

func TestClientHistoryArgumentValidation(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	_, err := client.History(ctx, HistoryRequest{RunID: "x", Latest: true})
	require.Error(t, err)

	_, err = client.History(ctx, HistoryRequest{})
	require.Error(t, err)

	_, err = client.History(ctx, HistoryRequest{Latest: true})
	require.Error(t, err)
}

func TestClientComponentsAndExport(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	summary, err := client.Fit(ctx, FitRequest{Data: clusteredData(25), Components: 2, Seed: 9})
	require.NoError(t, err)

	components, err := client.Components(ctx, ComponentsRequest{Latest: true})
	require.NoError(t, err)
	require.Len(t, components, 2)
	for _, c := range components {
		assert.Len(t, c.Mean, 2)
	}

	exported, err := client.Export(ctx, ExportRequest{RunID: summary.RunID})
	require.NoError(t, err)
	assert.Equal(t, summary.RunID, exported.RunID)
	assert.NotEmpty(t, exported.Directory)
}

func TestClientTwoClassSeeding(t *testing.T) {
	client := testClient(t)

	data := clusteredData(20)
	labels := make([][]float64, len(data))
	for i := range labels {
		if i < 20 {
			labels[i] = []float64{1, 0}
		} else {
			labels[i] = []float64{0, 1}
		}
	}

	summary, err := client.Fit(context.Background(), FitRequest{
		Data:             data,
		Labels:           labels,
		Components:       2,
		CheckConvergence: true,
		Seed:             1,
	})
	require.NoError(t, err)

	// Label seeding pins the negative class to component 0.
	agree := 0
	for i := 0; i < 20; i++ {
		if summary.Assignments[i] == 0 {
			agree++
		}
	}
	assert.GreaterOrEqual(t, agree, 19)
}
