package models

import "time"

// Disposition is the aggregate outcome of a run
type Disposition string

const (
	DispositionSucceeded Disposition = "succeeded" // every video succeeded
	DispositionPartial   Disposition = "partial"   // at least one succeeded, at least one failed
	DispositionFailed    Disposition = "failed"    // no video succeeded
)

// RunSummary is the result of one orchestrator run, persisted in the run ledger.
type RunSummary struct {
	RunID       string      `json:"run_id"`
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  time.Time   `json:"finished_at"`
	Jobs        []*VideoJob `json:"jobs"`
	Disposition Disposition `json:"disposition" badgerhold:"index"`
}

// ComputeDisposition derives the aggregate disposition from job statuses.
// An empty job list counts as succeeded.
func ComputeDisposition(jobs []*VideoJob) Disposition {
	succeeded, failed := 0, 0
	for _, j := range jobs {
		if j.Status == JobStatusSucceeded {
			succeeded++
		} else {
			failed++
		}
	}
	switch {
	case failed == 0:
		return DispositionSucceeded
	case succeeded == 0:
		return DispositionFailed
	default:
		return DispositionPartial
	}
}

// Counts returns the number of succeeded and failed jobs.
func (r *RunSummary) Counts() (succeeded, failed int) {
	for _, j := range r.Jobs {
		switch j.Status {
		case JobStatusSucceeded:
			succeeded++
		case JobStatusFailed:
			failed++
		}
	}
	return succeeded, failed
}

// Job returns the job for a video ID, or nil.
func (r *RunSummary) Job(videoID string) *VideoJob {
	for _, j := range r.Jobs {
		if j.VideoID == videoID {
			return j
		}
	}
	return nil
}
