package storage

import (
	"context"
	"errors"
	"sync"

	"xspecfit/internal/record"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string][]byte)
	return nil
}

// SaveFitRun stores the encoded run so callers cannot alias stored slices.
func (s *MemoryStore) SaveFitRun(_ context.Context, run record.FitRun) error {
	if run.ID == "" {
		return errors.New("fit run id is required")
	}
	payload, err := EncodeFitRun(run)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.New("store is not initialized")
	}
	s.runs[run.ID] = payload
	return nil
}

func (s *MemoryStore) GetFitRun(_ context.Context, id string) (record.FitRun, bool, error) {
	s.mu.RLock()
	payload, ok := s.runs[id]
	s.mu.RUnlock()

	if !ok {
		return record.FitRun{}, false, nil
	}
	run, err := DecodeFitRun(payload)
	if err != nil {
		return record.FitRun{}, false, err
	}
	return run, true, nil
}

func (s *MemoryStore) ListFitRuns(_ context.Context) ([]record.FitRunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]record.FitRunSummary, 0, len(s.runs))
	for _, payload := range s.runs {
		run, err := DecodeFitRun(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, run.Summary())
	}
	sortSummaries(out)
	return out, nil
}

func (s *MemoryStore) DeleteFitRun(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[id]; !ok {
		return false, nil
	}
	delete(s.runs, id)
	return true, nil
}
