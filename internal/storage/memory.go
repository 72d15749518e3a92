package storage

import (
	"context"
	"sync"

	"vbmix/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	history     map[string][]float64
	iterations  map[string][]model.IterationStats
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.history = make(map[string][]float64)
	s.iterations = make(map[string][]model.IterationStats)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) SaveNFEHistory(_ context.Context, runID string, history []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := append([]float64(nil), history...)
	s.history[runID] = copied
	return nil
}

func (s *MemoryStore) GetNFEHistory(_ context.Context, runID string) ([]float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.history[runID]
	if !ok {
		return nil, false, nil
	}
	copied := append([]float64(nil), history...)
	return copied, true, nil
}

func (s *MemoryStore) SaveIterationStats(_ context.Context, runID string, stats []model.IterationStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.IterationStats, len(stats))
	copy(copied, stats)
	s.iterations[runID] = copied
	return nil
}

func (s *MemoryStore) GetIterationStats(_ context.Context, runID string) ([]model.IterationStats, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats, ok := s.iterations[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.IterationStats, len(stats))
	copy(copied, stats)
	return copied, true, nil
}
