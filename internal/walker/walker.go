// Package walker turns a video's paginated comment threads into a single
// forward-only stream of records, parents always before their replies.
package walker

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/ytcomments/internal/metrics"
	"github.com/ternarybob/ytcomments/internal/models"
	"github.com/ternarybob/ytcomments/internal/youtube"
)

// PageFetcher is the slice of the API client the walker needs.
type PageFetcher interface {
	FetchPage(ctx context.Context, videoID, cursor string) (*youtube.Page, error)
	FetchReplies(ctx context.Context, parentID, cursor string) (*youtube.ReplyPage, error)
}

// Stats is a snapshot of walk progress.
type Stats struct {
	Pages          int // thread pages fetched
	ReplyPages     int // extra reply pages fetched
	Threads        int
	Records        int // records handed out by Next
	Replies        int
	EstimatedTotal int // first page totalResults plus every totalReplyCount seen
}

// step is either a ready record or a pending reply page for a parent.
type step struct {
	record      *models.CommentRecord
	parentID    string
	replyCursor string
}

// Walker walks the comment tree of one video. Not safe for concurrent use.
type Walker struct {
	fetcher PageFetcher
	videoID string
	retry   RetryConfig
	logger  arbor.ILogger
	metrics *metrics.Metrics

	queue     []step
	cursor    string
	started   bool
	exhausted bool
	endErr    error // returned instead of io.EOF once the queue drains
	err       error
	stats     Stats
}

// New creates a walker for videoID. logger must not be nil; m may be.
func New(fetcher PageFetcher, videoID string, rc RetryConfig, logger arbor.ILogger, m *metrics.Metrics) *Walker {
	return &Walker{
		fetcher: fetcher,
		videoID: videoID,
		retry:   rc.normalized(),
		logger:  logger,
		metrics: m,
	}
}

// Next returns the next record, io.EOF when the video is exhausted, or the
// error that stopped the walk. Once an error (including io.EOF) is returned,
// every later call returns it again.
func (w *Walker) Next(ctx context.Context) (models.CommentRecord, error) {
	if w.err != nil {
		return models.CommentRecord{}, w.err
	}

	for {
		if len(w.queue) > 0 {
			s := w.queue[0]
			w.queue = w.queue[1:]

			if s.record != nil {
				w.stats.Records++
				if s.record.IsReply() {
					w.stats.Replies++
				}
				w.metrics.IncComment(s.record.IsReply())
				return *s.record, nil
			}

			if err := w.fetchReplies(ctx, s.parentID, s.replyCursor); err != nil {
				return models.CommentRecord{}, w.fail(err)
			}
			continue
		}

		if w.exhausted {
			if w.endErr != nil {
				return models.CommentRecord{}, w.fail(w.endErr)
			}
			w.err = io.EOF
			return models.CommentRecord{}, io.EOF
		}

		if err := w.fetchPage(ctx); err != nil {
			return models.CommentRecord{}, w.fail(err)
		}
	}
}

// Stats returns progress so far.
func (w *Walker) Stats() Stats {
	return w.stats
}

func (w *Walker) fail(err error) error {
	w.err = err
	return err
}

func (w *Walker) fetchPage(ctx context.Context) error {
	cursor := w.cursor
	page, err := retryDo(ctx, w.retry, w.logger, w.metrics, "commentThreads", func(ctx context.Context) (*youtube.Page, error) {
		return w.fetcher.FetchPage(ctx, w.videoID, cursor)
	})
	if err != nil {
		return fmt.Errorf("fetch comment page %d: %w", w.stats.Pages+1, err)
	}

	if !w.started {
		w.stats.EstimatedTotal += page.TotalResults
		w.started = true
	}
	w.stats.Pages++
	w.stats.Threads += len(page.Threads)

	for i := range page.Threads {
		th := &page.Threads[i]
		w.stats.EstimatedTotal += th.TotalReplyCount

		top := th.Comment
		w.queue = append(w.queue, step{record: &top})
		for j := range th.Replies {
			r := th.Replies[j]
			w.queue = append(w.queue, step{record: &r})
		}
		switch {
		case th.NeedsReplies:
			w.queue = append(w.queue, step{parentID: top.ID})
		case th.RepliesCursor != "":
			w.queue = append(w.queue, step{parentID: top.ID, replyCursor: th.RepliesCursor})
		}
	}

	switch {
	case page.NextCursor == "":
		w.exhausted = true
	case page.NextCursor == cursor:
		w.exhausted = true
		w.endErr = fmt.Errorf("fetch comment page %d: %w", w.stats.Pages+1, &youtube.FatalFetchError{
			Endpoint: "commentThreads",
			Reason:   "repeatedPageToken",
			Err:      errors.New("API returned the page token just requested; output is incomplete"),
		})
	}
	w.cursor = page.NextCursor

	w.logger.Debug().
		Str("video_id", w.videoID).
		Int("page", w.stats.Pages).
		Int("threads", len(page.Threads)).
		Bool("last_page", w.exhausted).
		Msg("Fetched comment page")

	return nil
}

// fetchReplies pulls one reply page (the first when cursor is "") and puts
// its records, plus any further continuation, at the front of the queue.
func (w *Walker) fetchReplies(ctx context.Context, parentID, cursor string) error {
	page, err := retryDo(ctx, w.retry, w.logger, w.metrics, "comments", func(ctx context.Context) (*youtube.ReplyPage, error) {
		return w.fetcher.FetchReplies(ctx, parentID, cursor)
	})
	if err != nil {
		return fmt.Errorf("fetch replies for %s: %w", parentID, err)
	}
	w.stats.ReplyPages++

	front := make([]step, 0, len(page.Replies)+1)
	for i := range page.Replies {
		r := page.Replies[i]
		front = append(front, step{record: &r})
	}
	switch {
	case page.NextCursor == "":
	case page.NextCursor == cursor:
		w.logger.Warn().
			Str("video_id", w.videoID).
			Str("parent_id", parentID).
			Msg("Reply page token repeated, remaining replies skipped")
	default:
		front = append(front, step{parentID: parentID, replyCursor: page.NextCursor})
	}
	w.queue = append(front, w.queue...)
	return nil
}
