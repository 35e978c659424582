package walker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/ytcomments/internal/models"
	"github.com/ternarybob/ytcomments/internal/youtube"
)

var fastRetry = RetryConfig{
	MaxAttempts: 3,
	InitialWait: time.Millisecond,
	MaxWait:     5 * time.Millisecond,
	Multiplier:  2,
}

// fakeFetcher serves scripted pages keyed by cursor. Errors queued for a key
// are returned, in order, before the page itself.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]*youtube.Page      // cursor -> page
	replies map[string]*youtube.ReplyPage // parentID+"|"+cursor -> page
	errs    map[string][]error
	calls   map[string]int
	pageSeq []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages:   map[string]*youtube.Page{},
		replies: map[string]*youtube.ReplyPage{},
		errs:    map[string][]error{},
		calls:   map[string]int{},
	}
}

func (f *fakeFetcher) next(key string) error {
	f.calls[key]++
	if q := f.errs[key]; len(q) > 0 {
		f.errs[key] = q[1:]
		return q[0]
	}
	return nil
}

func (f *fakeFetcher) FetchPage(ctx context.Context, videoID, cursor string) (*youtube.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := "page|" + cursor
	f.pageSeq = append(f.pageSeq, cursor)
	if err := f.next(key); err != nil {
		return nil, err
	}
	p, ok := f.pages[cursor]
	if !ok {
		return nil, &youtube.FatalFetchError{Endpoint: "commentThreads", StatusCode: 404, Err: errors.New("no page " + cursor)}
	}
	return p, nil
}

func (f *fakeFetcher) FetchReplies(ctx context.Context, parentID, cursor string) (*youtube.ReplyPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := "replies|" + parentID + "|" + cursor
	if err := f.next(key); err != nil {
		return nil, err
	}
	p, ok := f.replies[parentID+"|"+cursor]
	if !ok {
		return nil, &youtube.FatalFetchError{Endpoint: "comments", StatusCode: 404, Err: errors.New("no replies " + cursor)}
	}
	return p, nil
}

func top(id string) models.CommentRecord {
	return models.CommentRecord{ID: id, Author: "a-" + id, Text: "text " + id, PublishedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func reply(parent, id string) models.CommentRecord {
	p := parent
	r := top(id)
	r.ParentID = &p
	return r
}

func drain(t *testing.T, w *Walker) ([]models.CommentRecord, error) {
	t.Helper()
	var out []models.CommentRecord
	for {
		rec, err := w.Next(context.Background())
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

func ids(recs []models.CommentRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func twoPageFixture() *fakeFetcher {
	f := newFakeFetcher()
	f.pages[""] = &youtube.Page{
		TotalResults: 3,
		NextCursor:   "p2",
		Threads: []youtube.Thread{
			{Comment: top("t1"), TotalReplyCount: 1, Replies: []models.CommentRecord{reply("t1", "t1.r1")}},
			{Comment: top("t2"), TotalReplyCount: 3, Replies: []models.CommentRecord{reply("t2", "t2.r1")}, RepliesCursor: "r2"},
		},
	}
	f.replies["t2|r2"] = &youtube.ReplyPage{Replies: []models.CommentRecord{reply("t2", "t2.r2")}, NextCursor: "r3"}
	f.replies["t2|r3"] = &youtube.ReplyPage{Replies: []models.CommentRecord{reply("t2", "t2.r3")}}
	f.pages["p2"] = &youtube.Page{
		Threads: []youtube.Thread{{Comment: top("t3")}},
	}
	return f
}

func TestWalkerOrdersParentsBeforeReplies(t *testing.T) {
	w := New(twoPageFixture(), "vid", fastRetry, arbor.NewLogger(), nil)

	recs, err := drain(t, w)
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"t1", "t1.r1", "t2", "t2.r1", "t2.r2", "t2.r3", "t3"}, ids(recs))

	seen := map[string]bool{}
	for _, r := range recs {
		if r.ParentID != nil {
			assert.True(t, seen[*r.ParentID], "reply %s emitted before parent %s", r.ID, *r.ParentID)
		}
		seen[r.ID] = true
	}
}

func TestWalkerStats(t *testing.T) {
	w := New(twoPageFixture(), "vid", fastRetry, arbor.NewLogger(), nil)
	_, err := drain(t, w)
	require.ErrorIs(t, err, io.EOF)

	s := w.Stats()
	assert.Equal(t, 2, s.Pages)
	assert.Equal(t, 2, s.ReplyPages)
	assert.Equal(t, 3, s.Threads)
	assert.Equal(t, 7, s.Records)
	assert.Equal(t, 4, s.Replies)
	assert.Equal(t, 3+1+3, s.EstimatedTotal)
}

func TestWalkerRetriesTransientErrors(t *testing.T) {
	f := twoPageFixture()
	f.errs["page|p2"] = []error{
		&youtube.TransientFetchError{Endpoint: "commentThreads", StatusCode: 503, Err: errors.New("unavailable")},
		&youtube.TransientFetchError{Endpoint: "commentThreads", Err: errors.New("timeout")},
	}
	f.errs["replies|t2|r2"] = []error{&youtube.TransientFetchError{Endpoint: "comments", StatusCode: 429, Err: errors.New("slow down")}}

	w := New(f, "vid", fastRetry, arbor.NewLogger(), nil)
	recs, err := drain(t, w)
	require.ErrorIs(t, err, io.EOF)
	assert.Len(t, recs, 7)
	assert.Equal(t, 3, f.calls["page|p2"])
	assert.Equal(t, 2, f.calls["replies|t2|r2"])
}

func TestWalkerGivesUpAfterMaxAttempts(t *testing.T) {
	f := twoPageFixture()
	for i := 0; i < 10; i++ {
		f.errs["page|p2"] = append(f.errs["page|p2"], &youtube.TransientFetchError{Endpoint: "commentThreads", StatusCode: 500, Err: errors.New("boom")})
	}

	w := New(f, "vid", fastRetry, arbor.NewLogger(), nil)
	recs, err := drain(t, w)
	require.Error(t, err)
	assert.True(t, youtube.IsTransient(err))
	assert.Equal(t, fastRetry.MaxAttempts, f.calls["page|p2"])
	// first page fully delivered before the failure
	assert.Len(t, recs, 6)
}

func TestWalkerFatalErrorIsNotRetriedAndSticks(t *testing.T) {
	f := twoPageFixture()
	f.errs["page|p2"] = []error{&youtube.FatalFetchError{Endpoint: "commentThreads", StatusCode: 403, Reason: "commentsDisabled", Err: errors.New("disabled")}}

	w := New(f, "vid", fastRetry, arbor.NewLogger(), nil)
	_, err := drain(t, w)
	require.Error(t, err)
	assert.True(t, youtube.IsFatal(err))
	assert.Equal(t, 1, f.calls["page|p2"])

	_, again := w.Next(context.Background())
	assert.Equal(t, err, again)
	assert.Equal(t, 1, f.calls["page|p2"])
}

func TestWalkerEOFSticks(t *testing.T) {
	f := newFakeFetcher()
	f.pages[""] = &youtube.Page{}

	w := New(f, "vid", fastRetry, arbor.NewLogger(), nil)
	_, err := w.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	_, err = w.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{""}, f.pageSeq)
}

func TestWalkerFailsOnRepeatedCursor(t *testing.T) {
	f := newFakeFetcher()
	f.pages[""] = &youtube.Page{NextCursor: "loop", Threads: []youtube.Thread{{Comment: top("a")}}}
	f.pages["loop"] = &youtube.Page{NextCursor: "loop", Threads: []youtube.Thread{{Comment: top("b")}}}

	w := New(f, "vid", fastRetry, arbor.NewLogger(), nil)
	recs, err := drain(t, w)
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
	assert.True(t, youtube.IsFatal(err))
	assert.Contains(t, err.Error(), "repeatedPageToken")
	assert.Equal(t, []string{"a", "b"}, ids(recs))
	assert.Equal(t, []string{"", "loop"}, f.pageSeq)

	_, again := w.Next(context.Background())
	assert.Equal(t, err, again)
}

func TestWalkerPagesRepliesFlaggedByFetcher(t *testing.T) {
	f := newFakeFetcher()
	f.pages[""] = &youtube.Page{Threads: []youtube.Thread{
		{Comment: top("t1"), TotalReplyCount: 2, NeedsReplies: true},
		{Comment: top("t2")},
	}}
	f.replies["t1|"] = &youtube.ReplyPage{Replies: []models.CommentRecord{reply("t1", "t1.r1")}, NextCursor: "more"}
	f.replies["t1|more"] = &youtube.ReplyPage{Replies: []models.CommentRecord{reply("t1", "t1.r2")}}
	f.errs["replies|t1|"] = []error{&youtube.TransientFetchError{Endpoint: "comments", StatusCode: 503, Err: errors.New("unavailable")}}

	w := New(f, "vid", fastRetry, arbor.NewLogger(), nil)
	recs, err := drain(t, w)
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"t1", "t1.r1", "t1.r2", "t2"}, ids(recs))
	assert.Equal(t, 1, f.calls["page|"])
	assert.Equal(t, 2, f.calls["replies|t1|"])
	assert.Equal(t, 2, w.Stats().ReplyPages)
}

// A transient failure on one thread's replies retries only that request.
func TestWalkerRetriesSingleReplyRequest(t *testing.T) {
	const threads, repliesPer = 50, 10
	var threadCalls, replyCalls int32
	var flaky int32

	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/commentThreads":
			atomic.AddInt32(&threadCalls, 1)
			items := make([]interface{}, 0, threads)
			for i := 0; i < threads; i++ {
				id := fmt.Sprintf("t%d", i)
				items = append(items, map[string]interface{}{
					"id": id,
					"snippet": map[string]interface{}{
						"topLevelComment": wireComment(id),
						"totalReplyCount": repliesPer,
					},
				})
			}
			_ = json.NewEncoder(rw).Encode(map[string]interface{}{"items": items})
		case "/comments":
			atomic.AddInt32(&replyCalls, 1)
			parent := r.URL.Query().Get("parentId")
			if parent == "t49" && atomic.AddInt32(&flaky, 1) <= 2 {
				rw.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			items := make([]interface{}, 0, repliesPer)
			for i := 0; i < repliesPer; i++ {
				items = append(items, wireComment(fmt.Sprintf("%s.r%d", parent, i)))
			}
			_ = json.NewEncoder(rw).Encode(map[string]interface{}{"items": items})
		default:
			rw.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := youtube.NewClient("key", youtube.WithBaseURL(server.URL))
	w := New(client, "vid", fastRetry, arbor.NewLogger(), nil)
	recs, err := drain(t, w)
	require.ErrorIs(t, err, io.EOF)

	assert.Len(t, recs, threads*(1+repliesPer))
	assert.Equal(t, int32(1), atomic.LoadInt32(&threadCalls))
	assert.Equal(t, int32(threads+2), atomic.LoadInt32(&replyCalls))
}

func wireComment(id string) map[string]interface{} {
	return map[string]interface{}{
		"id": id,
		"snippet": map[string]interface{}{
			"authorDisplayName": "a-" + id,
			"textOriginal":      "text " + id,
			"publishedAt":       "2024-01-01T00:00:00Z",
		},
	}
}

func TestWalkerCancelledDuringBackoff(t *testing.T) {
	f := twoPageFixture()
	f.errs["page|"] = []error{&youtube.TransientFetchError{Endpoint: "commentThreads", RetryAfter: time.Hour, Err: errors.New("quota")}}

	w := New(f, "vid", fastRetry, arbor.NewLogger(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := w.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBackoff(t *testing.T) {
	rc := RetryConfig{MaxAttempts: 5, InitialWait: 100 * time.Millisecond, MaxWait: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, rc.backoff(0, 0))
	assert.Equal(t, 200*time.Millisecond, rc.backoff(1, 0))
	assert.Equal(t, 800*time.Millisecond, rc.backoff(3, 0))
	assert.Equal(t, time.Second, rc.backoff(6, 0))
	assert.Equal(t, 5*time.Second, rc.backoff(0, 5*time.Second))
}

func TestNormalizedRetryConfig(t *testing.T) {
	rc := RetryConfig{}.normalized()
	assert.Equal(t, 1, rc.MaxAttempts)
	assert.Equal(t, 1.0, rc.Multiplier)
	assert.Equal(t, DefaultRetryConfig.MaxWait, rc.MaxWait)
}
