package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/oauth2"

	"github.com/ternarybob/ytcomments/internal/metrics"
	"github.com/ternarybob/ytcomments/internal/models"
	"github.com/ternarybob/ytcomments/internal/ratelimit"
)

const (
	// DefaultBaseURL is the base URL for the YouTube Data API v3.
	DefaultBaseURL = "https://www.googleapis.com/youtube/v3"

	// DefaultTimeout bounds a single API request.
	DefaultTimeout = 30 * time.Second

	// DefaultPageSize is the largest maxResults the comment endpoints accept.
	DefaultPageSize = 100

	endpointThreads  = "commentThreads"
	endpointComments = "comments"
)

// AuthMode selects how the credential is presented to the API.
type AuthMode string

const (
	AuthKey    AuthMode = "key"    // key= query parameter
	AuthBearer AuthMode = "bearer" // OAuth2 access token in the Authorization header
)

// Client fetches comment pages for one worker. It is not shared between workers.
type Client struct {
	baseURL    string
	credential string
	auth       AuthMode
	pageSize   int
	timeout    time.Duration
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	logger     arbor.ILogger
	metrics    *metrics.Metrics
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithLimiter sets the limiter consulted before every request.
func WithLimiter(limiter *ratelimit.Limiter) ClientOption {
	return func(c *Client) {
		c.limiter = limiter
	}
}

// WithMetrics records request outcomes.
func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithAuthMode selects key or bearer authentication.
func WithAuthMode(mode AuthMode) ClientOption {
	return func(c *Client) {
		if mode != "" {
			c.auth = mode
		}
	}
}

// WithPageSize sets maxResults, clamped to 1..100.
func WithPageSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 && n <= DefaultPageSize {
			c.pageSize = n
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient creates a YouTube Data API client using credential as an API key
// or, with WithAuthMode(AuthBearer), as an OAuth2 access token.
func NewClient(credential string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		credential: strings.TrimSpace(credential),
		auth:       AuthKey,
		pageSize:   DefaultPageSize,
		timeout:    DefaultTimeout,
		httpClient: &http.Client{},
		limiter:    ratelimit.New(0),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.auth == AuthBearer && c.credential != "" {
		base := c.httpClient
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		wrapped := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: c.credential,
			TokenType:   "Bearer",
		}))
		wrapped.Timeout = base.Timeout
		c.httpClient = wrapped
	}

	return c
}

// FetchPage retrieves one page of comment threads for videoID. Threads whose
// replies were not all delivered inline get their first reply page fetched
// here, with the continuation left in Thread.RepliesCursor. After a transient
// failure on such a fetch, that thread and every later one needing replies
// is returned with NeedsReplies set instead, and the page still succeeds.
func (c *Client) FetchPage(ctx context.Context, videoID, cursor string) (*Page, error) {
	params := url.Values{}
	params.Set("part", "snippet,replies")
	params.Set("videoId", videoID)
	params.Set("maxResults", strconv.Itoa(c.pageSize))
	params.Set("textFormat", "plainText")
	if cursor != "" {
		params.Set("pageToken", cursor)
	}

	var resp commentThreadListResponse
	if err := c.get(ctx, endpointThreads, params, &resp); err != nil {
		return nil, err
	}

	page := &Page{
		NextCursor:   resp.NextPageToken,
		TotalResults: resp.PageInfo.TotalResults,
		Threads:      make([]Thread, 0, len(resp.Items)),
	}

	deferReplies := false
	for _, item := range resp.Items {
		top := item.Snippet.TopLevelComment
		if top.ID == "" {
			top.ID = item.ID
		}
		parentID := top.ID
		thread := Thread{
			Comment:         c.record(top, nil),
			TotalReplyCount: item.Snippet.TotalReplyCount,
		}

		var inline []apiComment
		if item.Replies != nil {
			inline = item.Replies.Comments
		}

		switch {
		case thread.TotalReplyCount == 0:
		case len(inline) >= thread.TotalReplyCount:
			for _, r := range inline {
				thread.Replies = append(thread.Replies, c.record(r, &parentID))
			}
		case deferReplies:
			thread.NeedsReplies = true
		default:
			// inline replies are a partial sample; the comments endpoint has them all
			nested, err := c.FetchReplies(ctx, parentID, "")
			switch {
			case err == nil:
				thread.Replies = nested.Replies
				thread.RepliesCursor = nested.NextCursor
			case IsTransient(err):
				// retried by the caller per thread; the page itself stays fetched
				thread.NeedsReplies = true
				deferReplies = true
				if c.logger != nil {
					c.logger.Debug().Str("parent_id", parentID).Err(err).Msg("Deferring nested reply page")
				}
			default:
				return nil, err
			}
		}

		page.Threads = append(page.Threads, thread)
	}

	return page, nil
}

// FetchReplies retrieves one page of first-level replies to parentID.
func (c *Client) FetchReplies(ctx context.Context, parentID, cursor string) (*ReplyPage, error) {
	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("parentId", parentID)
	params.Set("maxResults", strconv.Itoa(c.pageSize))
	params.Set("textFormat", "plainText")
	if cursor != "" {
		params.Set("pageToken", cursor)
	}

	var resp commentListResponse
	if err := c.get(ctx, endpointComments, params, &resp); err != nil {
		return nil, err
	}

	page := &ReplyPage{
		NextCursor: resp.NextPageToken,
		Replies:    make([]models.CommentRecord, 0, len(resp.Items)),
	}
	for _, item := range resp.Items {
		pid := parentID
		page.Replies = append(page.Replies, c.record(item, &pid))
	}
	return page, nil
}

// get performs one rate-limited GET and decodes the JSON body into result.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, result interface{}) error {
	if c.credential == "" {
		c.observe(endpoint, "fatal")
		return &FatalFetchError{Endpoint: endpoint, Reason: "missingCredential", Err: errors.New("no API credential configured")}
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		c.observe(endpoint, "cancelled")
		return err
	}

	if c.auth == AuthKey {
		params.Set("key", c.credential)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := fmt.Sprintf("%s/%s?%s", c.baseURL, endpoint, params.Encode())
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		c.observe(endpoint, "fatal")
		return &FatalFetchError{Endpoint: endpoint, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	if c.logger != nil {
		c.logger.Debug().
			Str("endpoint", endpoint).
			Str("page_token", params.Get("pageToken")).
			Msg("YouTube API request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = classifyTransport(ctx, endpoint, err)
		c.observe(endpoint, outcomeOf(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var apiErr apiErrorBody
		var parsed *apiErrorBody
		if json.Unmarshal(body, &apiErr) == nil {
			parsed = &apiErr
		}
		err := classifyStatus(endpoint, resp, parsed)
		c.observe(endpoint, outcomeOf(err))
		if c.logger != nil {
			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", resp.StatusCode).
				Err(err).
				Msg("YouTube API error")
		}
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		if ctx.Err() != nil {
			c.observe(endpoint, "cancelled")
			return ctx.Err()
		}
		c.observe(endpoint, "transient")
		return &TransientFetchError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	c.observe(endpoint, "ok")
	return nil
}

// record converts a wire comment, warning when its timestamp is unreadable.
func (c *Client) record(ac apiComment, parentID *string) models.CommentRecord {
	rec, err := ac.toRecord(parentID)
	if err != nil && c.logger != nil {
		c.logger.Warn().
			Str("comment_id", ac.ID).
			Str("published_at", ac.Snippet.PublishedAt).
			Err(err).
			Msg("Unparseable comment timestamp, writing zero time")
	}
	return rec
}

func (c *Client) observe(endpoint, outcome string) {
	c.metrics.ObserveRequest(endpoint, outcome)
}

func outcomeOf(err error) string {
	switch {
	case IsTransient(err):
		return "transient"
	case IsFatal(err):
		return "fatal"
	default:
		return "cancelled"
	}
}
