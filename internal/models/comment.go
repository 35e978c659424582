package models

import (
	"strconv"
	"time"
)

// CommentRecord is one comment or first-level reply as written to the output sinks.
// Field order matches the JSONL key order and the CSV column order.
type CommentRecord struct {
	ID          string    `json:"id"`
	ParentID    *string   `json:"parent_id"` // nil for top-level comments
	Author      string    `json:"author"`
	Text        string    `json:"text"`
	PublishedAt time.Time `json:"published_at"`
	LikeCount   int64     `json:"like_count"`
}

// CommentColumns is the CSV header, in output order.
var CommentColumns = []string{"id", "parent_id", "author", "text", "published_at", "like_count"}

// IsReply reports whether the record is a first-level reply.
func (c CommentRecord) IsReply() bool {
	return c.ParentID != nil
}

// CSVRow renders the record as a CSV row matching CommentColumns.
func (c CommentRecord) CSVRow() []string {
	parent := ""
	if c.ParentID != nil {
		parent = *c.ParentID
	}
	return []string{
		c.ID,
		parent,
		c.Author,
		c.Text,
		c.PublishedAt.UTC().Format(time.RFC3339Nano),
		strconv.FormatInt(c.LikeCount, 10),
	}
}
