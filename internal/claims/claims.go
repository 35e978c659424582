// Package claims keeps two collector processes from writing the same video's
// output files at once.
package claims

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix prefixes every claim key.
const KeyPrefix = "ytcomments:claim:"

// ErrClaimed is returned when another collector holds the video.
var ErrClaimed = errors.New("claimed by another collector")

// Claimer grants exclusive use of a video's outputs.
type Claimer interface {
	Claim(ctx context.Context, videoID string) error
	Release(ctx context.Context, videoID string) error
}

// NopClaimer grants every claim. Used when no Redis is configured.
type NopClaimer struct{}

func (NopClaimer) Claim(ctx context.Context, videoID string) error   { return nil }
func (NopClaimer) Release(ctx context.Context, videoID string) error { return nil }

// release deletes the key only while it still holds our owner token.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisClaimer stores claims as expiring Redis keys owned by one run.
type RedisClaimer struct {
	rdb   *redis.Client
	owner string
	ttl   time.Duration
}

// NewRedisClaimer creates a claimer; ttl <= 0 defaults to one hour.
func NewRedisClaimer(rdb *redis.Client, owner string, ttl time.Duration) *RedisClaimer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisClaimer{rdb: rdb, owner: owner, ttl: ttl}
}

// Dial connects to redisURL (redis://[:password@]host:port/db) and verifies it with PING.
func Dial(ctx context.Context, redisURL, owner string, ttl time.Duration) (*RedisClaimer, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	return NewRedisClaimer(rdb, owner, ttl), nil
}

func key(videoID string) string {
	return KeyPrefix + videoID
}

// Claim takes the video for this owner. Claiming a video the owner already holds succeeds.
func (c *RedisClaimer) Claim(ctx context.Context, videoID string) error {
	ok, err := c.rdb.SetNX(ctx, key(videoID), c.owner, c.ttl).Result()
	if err != nil {
		return fmt.Errorf("claim %s: %w", videoID, err)
	}
	if ok {
		return nil
	}

	holder, err := c.rdb.Get(ctx, key(videoID)).Result()
	if err == nil && holder == c.owner {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return c.Claim(ctx, videoID)
	}
	return ErrClaimed
}

// Release gives the video back if this owner still holds it.
func (c *RedisClaimer) Release(ctx context.Context, videoID string) error {
	if err := release.Run(ctx, c.rdb, []string{key(videoID)}, c.owner).Err(); err != nil {
		return fmt.Errorf("release %s: %w", videoID, err)
	}
	return nil
}

// Close closes the underlying redis connection
func (c *RedisClaimer) Close() error {
	return c.rdb.Close()
}
