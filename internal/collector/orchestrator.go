// Package collector runs one worker per video over a bounded pool and
// aggregates the per-video results into a run summary.
package collector

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/ytcomments/internal/claims"
	"github.com/ternarybob/ytcomments/internal/common"
	"github.com/ternarybob/ytcomments/internal/metrics"
	"github.com/ternarybob/ytcomments/internal/models"
	"github.com/ternarybob/ytcomments/internal/ratelimit"
	"github.com/ternarybob/ytcomments/internal/walker"
)

// ReasonGraceExpired is recorded for videos still running when the shutdown grace period ends.
const ReasonGraceExpired = models.ReasonCancelled + ": grace period expired"

// FetcherFactory builds the fetcher for one pool slot around that slot's limiter.
type FetcherFactory func(limiter *ratelimit.Limiter) walker.PageFetcher

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClaimer enables cross-process video claims.
func WithClaimer(c claims.Claimer) Option {
	return func(o *Orchestrator) {
		o.claimer = c
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithRunID overrides the generated run ID.
func WithRunID(id string) Option {
	return func(o *Orchestrator) {
		o.runID = id
	}
}

type eventKind int

const (
	eventStarted eventKind = iota
	eventFinished
)

// event is the only channel from pool slots back to the orchestrator.
type event struct {
	kind    eventKind
	index   int
	at      time.Time
	outcome Outcome
}

// Orchestrator dispatches videos to a fixed pool of workers. Only the
// goroutine inside Run mutates the jobs.
type Orchestrator struct {
	parallel      int
	maxRPS        float64
	shutdownGrace time.Duration
	workerConfig  WorkerConfig
	newFetcher    FetcherFactory
	claimer       claims.Claimer
	metrics       *metrics.Metrics
	logger        arbor.ILogger
	runID         string
}

// NewOrchestrator creates an orchestrator from the collector and API settings in config.
func NewOrchestrator(config *common.Config, newFetcher FetcherFactory, logger arbor.ILogger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		parallel:      config.Collector.Parallel,
		maxRPS:        config.Collector.MaxRPS,
		shutdownGrace: config.Collector.ShutdownGraceDuration(),
		workerConfig: WorkerConfig{
			OutputBase: config.Collector.Output,
			BufferSize: config.Collector.BufferSize,
			Retry: walker.RetryConfig{
				MaxAttempts: config.Collector.MaxAttempts,
				InitialWait: config.Collector.InitialBackoffDuration(),
				MaxWait:     config.Collector.MaxBackoffDuration(),
				Multiplier:  walker.DefaultRetryConfig.Multiplier,
			},
		},
		newFetcher: newFetcher,
		claimer:    claims.NopClaimer{},
		logger:     logger,
	}
	if o.parallel < 1 {
		o.parallel = 1
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.runID == "" {
		o.runID = common.NewRunID()
	}
	return o
}

// RunID returns the ID this orchestrator stamps on its summary.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Dedupe drops repeated video IDs, keeping first occurrences in order.
func Dedupe(videoIDs []string) []string {
	seen := make(map[string]struct{}, len(videoIDs))
	out := make([]string, 0, len(videoIDs))
	for _, id := range videoIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Run collects every distinct video in videoIDs, at most `parallel` at a
// time, and returns the summary once every job is terminal. Cancelling ctx
// stops dispatch; running workers get the shutdown grace period to flush.
func (o *Orchestrator) Run(ctx context.Context, videoIDs []string) *models.RunSummary {
	ids := Dedupe(videoIDs)
	summary := &models.RunSummary{
		RunID:     o.runID,
		StartedAt: time.Now(),
		Jobs:      make([]*models.VideoJob, len(ids)),
	}
	for i, id := range ids {
		summary.Jobs[i] = models.NewVideoJob(id)
	}

	logger := o.logger.WithCorrelationId(o.runID)
	if dropped := len(videoIDs) - len(ids); dropped > 0 {
		logger.Info().Int("duplicates", dropped).Msg("Dropped duplicate video IDs")
	}

	if len(ids) > 0 {
		o.execute(ctx, logger, ids, summary.Jobs)
	}

	summary.FinishedAt = time.Now()
	summary.Disposition = models.ComputeDisposition(summary.Jobs)
	succeeded, failed := summary.Counts()
	logger.Info().
		Str("run_id", o.runID).
		Int("videos", len(ids)).
		Int("succeeded", succeeded).
		Int("failed", failed).
		Str("disposition", string(summary.Disposition)).
		Msg("Run finished")
	return summary
}

func (o *Orchestrator) execute(ctx context.Context, logger arbor.ILogger, ids []string, jobs []*models.VideoJob) {
	slots := o.parallel
	if slots > len(ids) {
		slots = len(ids)
	}

	workerConfig := o.workerConfig
	workerConfig.MultiVideo = len(ids) > 1

	workers := make([]*Worker, slots)
	var limiter *ratelimit.Limiter
	for s := range workers {
		limiter = ratelimit.New(o.maxRPS)
		workers[s] = NewWorker(o.newFetcher(limiter), workerConfig, o.claimer, logger, o.metrics)
	}

	logger.Info().
		Int("videos", len(ids)).
		Int("workers", slots).
		Bool("rate_limited", limiter.Enabled()).
		Float64("max_rps_per_worker", limiter.RPS()).
		Msg("Starting collection")

	indexes := make(chan int)
	// room for every event so slots never block once the orchestrator stops listening
	events := make(chan event, 2*len(ids))

	go func() {
		defer close(indexes)
		for i := range ids {
			select {
			case indexes <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for _, worker := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				if ctx.Err() != nil {
					events <- event{kind: eventFinished, index: i, at: time.Now(), outcome: Outcome{
						VideoID: ids[i],
						Status:  models.JobStatusFailed,
						Reason:  models.ReasonCancelled,
					}}
					continue
				}
				events <- event{kind: eventStarted, index: i, at: time.Now()}
				out := worker.Run(ctx, ids[i])
				events <- event{kind: eventFinished, index: i, at: time.Now(), outcome: out}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	cancelled := ctx.Done()
	var grace <-chan time.Time

loop:
	for {
		select {
		case ev := <-events:
			o.apply(logger, jobs[ev.index], ev)
		case <-done:
			// drain what the slots sent before exiting
			for {
				select {
				case ev := <-events:
					o.apply(logger, jobs[ev.index], ev)
				default:
					break loop
				}
			}
		case <-cancelled:
			cancelled = nil
			logger.Warn().Dur("grace", o.shutdownGrace).Msg("Run cancelled, waiting for running workers to flush")
			timer := time.NewTimer(o.shutdownGrace)
			defer timer.Stop()
			grace = timer.C
		case <-grace:
			logger.Warn().Msg("Shutdown grace period expired")
			break loop
		}
	}

	now := time.Now()
	for _, job := range jobs {
		switch job.Status {
		case models.JobStatusPending:
			job.Fail(models.ReasonCancelled, now)
		case models.JobStatusRunning:
			job.Fail(ReasonGraceExpired, now)
			o.metrics.VideoFinished(string(job.Status))
		}
	}
}

// apply folds one slot event into its job.
func (o *Orchestrator) apply(logger arbor.ILogger, job *models.VideoJob, ev event) {
	switch ev.kind {
	case eventStarted:
		job.MarkRunning(ev.at)
		o.metrics.VideoStarted()
		logger.Info().Str("video_id", job.VideoID).Msg("Video started")

	case eventFinished:
		wasRunning := job.Status == models.JobStatusRunning
		out := ev.outcome
		job.Records = out.Records
		job.Replies = out.Replies
		job.JSONLPath = out.JSONLPath
		job.CSVPath = out.CSVPath
		if out.Status == models.JobStatusSucceeded {
			job.Succeed(ev.at)
		} else {
			job.Fail(out.Reason, ev.at)
		}
		if wasRunning {
			o.metrics.VideoFinished(string(job.Status))
		}
		logger.Info().
			Str("video_id", job.VideoID).
			Str("status", string(job.Status)).
			Int("records", job.Records).
			Str("reason", job.Reason).
			Msg("Video finished")
	}
}
