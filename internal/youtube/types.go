// Package youtube fetches comment pages from the YouTube Data API v3.
package youtube

import (
	"time"

	"github.com/ternarybob/ytcomments/internal/models"
)

// Thread is one top-level comment with the replies fetched alongside it.
type Thread struct {
	Comment         models.CommentRecord
	TotalReplyCount int
	Replies         []models.CommentRecord // inline replies or the first nested reply page
	RepliesCursor   string                 // continuation for further reply pages, "" when complete
	NeedsReplies    bool                   // nested fetch deferred; page replies with FetchReplies from the start
}

// Page is one page of top-level comments for a video.
type Page struct {
	Threads      []Thread
	NextCursor   string // "" when exhausted
	TotalResults int    // pageInfo.totalResults as reported by the API
}

// ReplyPage is one page of first-level replies for a parent comment.
type ReplyPage struct {
	Replies    []models.CommentRecord
	NextCursor string
}

// --- YouTube Data API v3 wire types ---

type commentThreadListResponse struct {
	NextPageToken string          `json:"nextPageToken"`
	PageInfo      pageInfo        `json:"pageInfo"`
	Items         []commentThread `json:"items"`
}

type commentListResponse struct {
	NextPageToken string       `json:"nextPageToken"`
	Items         []apiComment `json:"items"`
}

type pageInfo struct {
	TotalResults int `json:"totalResults"`
}

type commentThread struct {
	ID      string `json:"id"`
	Snippet struct {
		VideoID         string     `json:"videoId"`
		TopLevelComment apiComment `json:"topLevelComment"`
		TotalReplyCount int        `json:"totalReplyCount"`
	} `json:"snippet"`
	Replies *struct {
		Comments []apiComment `json:"comments"`
	} `json:"replies"`
}

type apiComment struct {
	ID      string `json:"id"`
	Snippet struct {
		AuthorDisplayName string `json:"authorDisplayName"`
		TextOriginal      string `json:"textOriginal"`
		TextDisplay       string `json:"textDisplay"`
		PublishedAt       string `json:"publishedAt"`
		LikeCount         int64  `json:"likeCount"`
		ParentID          string `json:"parentId"`
	} `json:"snippet"`
}

type apiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

func (b *apiErrorBody) reason() string {
	if len(b.Error.Errors) == 0 {
		return ""
	}
	return b.Error.Errors[0].Reason
}

// toRecord converts a wire comment. parentID is nil for top-level comments.
// A publishedAt that is not RFC 3339 leaves PublishedAt zero and is returned
// as err.
func (c apiComment) toRecord(parentID *string) (models.CommentRecord, error) {
	text := c.Snippet.TextOriginal
	if text == "" {
		text = c.Snippet.TextDisplay
	}
	likes := c.Snippet.LikeCount
	if likes < 0 {
		likes = 0
	}
	var published time.Time
	t, err := time.Parse(time.RFC3339, c.Snippet.PublishedAt)
	if err == nil {
		published = t.UTC()
	}
	return models.CommentRecord{
		ID:          c.ID,
		ParentID:    parentID,
		Author:      c.Snippet.AuthorDisplayName,
		Text:        text,
		PublishedAt: published,
		LikeCount:   likes,
	}, err
}
