package output

import (
	"path/filepath"
	"strings"
)

// DefaultBase is the output base used when none is given.
const DefaultBase = "comments.jsonl"

// VideoIDPlaceholder is replaced by the video ID in an output base.
const VideoIDPlaceholder = "{video_id}"

// Paths derives the JSONL and CSV paths for one video from the output base.
// A {video_id} placeholder is substituted; otherwise, when the run covers more
// than one video, "_<videoID>" is appended to the stem. A .jsonl, .csv or
// .json extension on the base is dropped before the two extensions are added.
func Paths(base, videoID string, multi bool) (jsonlPath, csvPath string) {
	if base == "" {
		base = DefaultBase
	}

	templated := strings.Contains(base, VideoIDPlaceholder)
	if templated {
		base = strings.ReplaceAll(base, VideoIDPlaceholder, videoID)
	}

	stem := base
	switch strings.ToLower(filepath.Ext(base)) {
	case ".jsonl", ".csv", ".json":
		stem = strings.TrimSuffix(base, filepath.Ext(base))
	}

	if multi && !templated {
		stem += "_" + videoID
	}

	return stem + ".jsonl", stem + ".csv"
}
