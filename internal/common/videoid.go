package common

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ExtractVideoID resolves a bare video ID or a youtube.com / youtu.be URL
// (watch, embed, shorts, live) to the 11-character video ID.
func ExtractVideoID(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if videoIDPattern.MatchString(ref) {
		return ref, nil
	}

	raw := ref
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("unable to extract video ID from %q: %w", ref, err)
	}

	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	var id string
	switch host {
	case "youtu.be":
		id = firstSegment(u.Path)
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		switch {
		case u.Path == "/watch" || strings.HasPrefix(u.Path, "/watch/"):
			id = u.Query().Get("v")
		case strings.HasPrefix(u.Path, "/embed/"),
			strings.HasPrefix(u.Path, "/shorts/"),
			strings.HasPrefix(u.Path, "/live/"),
			strings.HasPrefix(u.Path, "/v/"):
			id = firstSegment(strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)[1])
		}
	}

	if !videoIDPattern.MatchString(id) {
		return "", fmt.Errorf("unable to extract video ID from %q; provide a YouTube URL or an 11-character video ID", ref)
	}
	return id, nil
}

// ExtractVideoIDs resolves every reference, failing on the first bad one.
func ExtractVideoIDs(refs []string) ([]string, error) {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		id, err := ExtractVideoID(ref)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func firstSegment(p string) string {
	p = strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	return p
}
