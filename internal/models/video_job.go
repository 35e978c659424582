package models

import "time"

// JobStatus represents the state of a video collection job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// ReasonCancelled is the failure reason for jobs stopped by shutdown.
const ReasonCancelled = "cancelled"

// VideoJob is one unit of orchestration work: all comments of one video.
// Only the orchestrator mutates a VideoJob; workers report outcomes by message.
type VideoJob struct {
	VideoID    string    `json:"video_id"`
	Status     JobStatus `json:"status"`
	Reason     string    `json:"reason,omitempty"` // set when Status is failed
	Records    int       `json:"records"`
	Replies    int       `json:"replies"`
	JSONLPath  string    `json:"jsonl_path,omitempty"`
	CSVPath    string    `json:"csv_path,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// NewVideoJob creates a pending job for the given video.
func NewVideoJob(videoID string) *VideoJob {
	return &VideoJob{
		VideoID: videoID,
		Status:  JobStatusPending,
	}
}

// IsTerminal reports whether the job reached succeeded or failed.
func (j *VideoJob) IsTerminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}

// MarkRunning transitions a pending job to running.
func (j *VideoJob) MarkRunning(at time.Time) {
	if j.Status != JobStatusPending {
		return
	}
	j.Status = JobStatusRunning
	j.StartedAt = at
}

// Succeed records a successful terminal state. Terminal jobs are left untouched.
func (j *VideoJob) Succeed(at time.Time) {
	if j.IsTerminal() {
		return
	}
	j.Status = JobStatusSucceeded
	j.Reason = ""
	j.FinishedAt = at
}

// Fail records a failed terminal state with a reason. Terminal jobs are left untouched.
func (j *VideoJob) Fail(reason string, at time.Time) {
	if j.IsTerminal() {
		return
	}
	j.Status = JobStatusFailed
	j.Reason = reason
	j.FinishedAt = at
}
