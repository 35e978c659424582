package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/ytcomments/internal/claims"
	"github.com/ternarybob/ytcomments/internal/common"
	"github.com/ternarybob/ytcomments/internal/metrics"
	"github.com/ternarybob/ytcomments/internal/models"
	"github.com/ternarybob/ytcomments/internal/output"
	"github.com/ternarybob/ytcomments/internal/walker"
)

// State is a worker's position in its per-video lifecycle.
type State string

const (
	StateIdle     State = "idle"
	StateFetching State = "fetching"
	StateDraining State = "draining"
	StateDone     State = "done"
)

// progressEvery is how many records pass between progress log lines.
const progressEvery = 1000

// releaseTimeout bounds the claim release after the run context is gone.
const releaseTimeout = 5 * time.Second

// Outcome is what a worker reports for one video. It never carries a panic or
// an error across the worker boundary; failures are described by Reason.
type Outcome struct {
	VideoID   string
	Status    models.JobStatus // succeeded or failed
	Reason    string
	Records   int // records accepted by every sink
	Replies   int
	Lost      int // records still buffered when the outputs were closed
	JSONLPath string
	CSVPath   string
}

// WorkerConfig is the per-video settings shared by every worker of a run.
type WorkerConfig struct {
	OutputBase string
	MultiVideo bool // suffix outputs with the video ID
	BufferSize int
	Retry      walker.RetryConfig
}

type openWriterFunc func(jsonlPath, csvPath string, threshold int, opts ...output.Option) (*output.Writer, error)

// Worker collects one video at a time using its own fetcher.
type Worker struct {
	fetcher    walker.PageFetcher
	config     WorkerConfig
	claimer    claims.Claimer
	logger     arbor.ILogger
	metrics    *metrics.Metrics
	openWriter openWriterFunc
}

// NewWorker creates a worker. claimer and m may be nil.
func NewWorker(fetcher walker.PageFetcher, config WorkerConfig, claimer claims.Claimer, logger arbor.ILogger, m *metrics.Metrics) *Worker {
	if claimer == nil {
		claimer = claims.NopClaimer{}
	}
	return &Worker{
		fetcher:    fetcher,
		config:     config,
		claimer:    claimer,
		logger:     logger,
		metrics:    m,
		openWriter: output.Open,
	}
}

// Run collects every comment of videoID into its JSONL and CSV outputs.
// The outputs are flushed and closed on every exit path.
func (w *Worker) Run(ctx context.Context, videoID string) (out Outcome) {
	logger := w.logger.WithCorrelationId(videoID)
	out = Outcome{VideoID: videoID, Status: models.JobStatusFailed}
	state := StateIdle

	transition := func(next State) {
		logger.Debug().Str("from", string(state)).Str("to", string(next)).Msg("Worker state change")
		state = next
	}

	var panicErr error
	defer func() {
		if panicErr != nil {
			out.Status = models.JobStatusFailed
			out.Reason = panicErr.Error()
		}
		transition(StateDone)
	}()
	defer common.Recover(logger, "worker:"+videoID, &panicErr)

	if err := w.claimer.Claim(ctx, videoID); err != nil {
		if errors.Is(err, claims.ErrClaimed) {
			out.Reason = claims.ErrClaimed.Error()
		} else {
			out.Reason = fmt.Sprintf("claim failed: %v", err)
		}
		logger.Warn().Str("video_id", videoID).Err(err).Msg("Video not claimed")
		return out
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := w.claimer.Release(releaseCtx, videoID); err != nil {
			logger.Warn().Str("video_id", videoID).Err(err).Msg("Failed to release claim")
		}
	}()

	out.JSONLPath, out.CSVPath = output.Paths(w.config.OutputBase, videoID, w.config.MultiVideo)
	writer, err := w.openWriter(out.JSONLPath, out.CSVPath, w.config.BufferSize,
		output.WithMetrics(w.metrics), output.WithLogger(logger))
	if err != nil {
		out.Reason = fmt.Sprintf("open output: %v", err)
		logger.Error().Str("video_id", videoID).Err(err).Msg("Failed to open outputs")
		return out
	}

	var walkErr, writeErr, closeErr error
	wk := walker.New(w.fetcher, videoID, w.config.Retry, logger, w.metrics)

	// final flush and close run even if the walk panics
	closed := false
	closeWriter := func() {
		if closed {
			return
		}
		closed = true
		transition(StateDraining)
		closeErr = writer.Close()
		out.Records = writer.Flushed()
		out.Lost = writer.Buffered()
	}
	defer closeWriter()

	transition(StateFetching)
	logger.Info().Str("video_id", videoID).Str("jsonl", out.JSONLPath).Str("csv", out.CSVPath).Msg("Collecting comments")

	for {
		rec, err := wk.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			walkErr = err
			break
		}
		if err := writer.Append(rec); err != nil {
			writeErr = err
			break
		}

		if stats := wk.Stats(); stats.Records%progressEvery == 0 {
			logger.Info().
				Str("video_id", videoID).
				Int("processed", stats.Records).
				Int("estimated_total", stats.EstimatedTotal).
				Msg("Collection progress")
		}
	}

	closeWriter()
	stats := wk.Stats()
	out.Replies = stats.Replies

	switch {
	case walkErr != nil && ctx.Err() != nil:
		out.Reason = withLost(models.ReasonCancelled, out.Lost)
	case walkErr != nil:
		out.Reason = withLost(walkErr.Error(), out.Lost)
	case writeErr != nil || (closeErr != nil && out.Lost > 0):
		cause := writeErr
		if cause == nil {
			cause = closeErr
		}
		out.Reason = fmt.Sprintf("write failed, %d buffered records lost: %v", out.Lost, cause)
	case closeErr != nil:
		out.Reason = fmt.Sprintf("close output: %v", closeErr)
	default:
		out.Status = models.JobStatusSucceeded
	}

	if out.Status == models.JobStatusSucceeded {
		logger.Info().
			Str("video_id", videoID).
			Int("records", out.Records).
			Int("replies", out.Replies).
			Int("pages", stats.Pages).
			Msg("Video collected")
	} else {
		logger.Warn().
			Str("video_id", videoID).
			Int("records", out.Records).
			Int("lost", out.Lost).
			Str("reason", out.Reason).
			Msg("Video collection failed")
	}
	return out
}

func withLost(reason string, lost int) string {
	if lost == 0 {
		return reason
	}
	return fmt.Sprintf("%s (%d buffered records lost)", reason, lost)
}
