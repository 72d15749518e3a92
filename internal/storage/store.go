package storage

import (
	"context"

	"vbmix/internal/model"
)

// Store defines persistence operations for training runs and their history.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	SaveNFEHistory(ctx context.Context, runID string, history []float64) error
	GetNFEHistory(ctx context.Context, runID string) ([]float64, bool, error)
	SaveIterationStats(ctx context.Context, runID string, stats []model.IterationStats) error
	GetIterationStats(ctx context.Context, runID string) ([]model.IterationStats, bool, error)
}
