package storage

import (
	"context"

	"xspecfit/internal/record"
)

// Store defines persistence operations for fit runs.
type Store interface {
	Init(ctx context.Context) error
	SaveFitRun(ctx context.Context, run record.FitRun) error
	GetFitRun(ctx context.Context, id string) (record.FitRun, bool, error)
	// ListFitRuns returns summaries, newest first.
	ListFitRuns(ctx context.Context) ([]record.FitRunSummary, error)
	DeleteFitRun(ctx context.Context, id string) (bool, error)
}
