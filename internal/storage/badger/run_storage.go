package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/ytcomments/internal/models"
)

// ErrRunNotFound is returned by GetRun for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// RunStorage is the run ledger: one RunSummary per collector run.
type RunStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRunStorage creates a new RunStorage instance
func NewRunStorage(db *BadgerDB, logger arbor.ILogger) *RunStorage {
	return &RunStorage{
		db:     db,
		logger: logger,
	}
}

// SaveRun inserts or replaces a run summary.
func (s *RunStorage) SaveRun(ctx context.Context, run *models.RunSummary) error {
	if run == nil || run.RunID == "" {
		return fmt.Errorf("run ID is required")
	}
	if err := s.db.Store().Upsert(run.RunID, run); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	s.logger.Debug().Str("run_id", run.RunID).Str("disposition", string(run.Disposition)).Msg("Run saved to ledger")
	return nil
}

// GetRun loads one run by ID.
func (s *RunStorage) GetRun(ctx context.Context, runID string) (*models.RunSummary, error) {
	var run models.RunSummary
	if err := s.db.Store().Get(runID, &run); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
// A non-empty disposition filters on it.
func (s *RunStorage) ListRuns(ctx context.Context, disposition models.Disposition, limit int) ([]*models.RunSummary, error) {
	query := badgerhold.Where("RunID").Ne("")
	if disposition != "" {
		query = query.And("Disposition").Eq(disposition)
	}
	query = query.SortBy("StartedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var runs []models.RunSummary
	if err := s.db.Store().Find(&runs, query); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	result := make([]*models.RunSummary, len(runs))
	for i := range runs {
		result[i] = &runs[i]
	}
	return result, nil
}

// LastRunForVideo returns the most recent run that included videoID, or nil.
func (s *RunStorage) LastRunForVideo(ctx context.Context, videoID string) (*models.RunSummary, error) {
	runs, err := s.ListRuns(ctx, "", 0)
	if err != nil {
		return nil, err
	}
	for _, run := range runs {
		if run.Job(videoID) != nil {
			return run, nil
		}
	}
	return nil, nil
}
