// Package ratelimit provides Redis-backed rate limiting using the
// INCR + EXPIRE window algorithm, throttling connects, message sends and
// match requests per user. On Redis errors the limiter fails open so an
// outage does not block legitimate traffic.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines one policy: key prefix, max count and window.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

var (
	// RuleConnect allows 10 connection attempts per minute per user.
	RuleConnect = Rule{Key: "rl:conn:", Limit: 10, Window: time.Minute}

	// RuleMessage allows 20 messages per 10 seconds per user.
	RuleMessage = Rule{Key: "rl:msg:", Limit: 20, Window: 10 * time.Second}

	// RuleMatch allows 15 match requests per minute per user.
	RuleMatch = Rule{Key: "rl:match:", Limit: 15, Window: time.Minute}
)

// Limiter performs rate limit checks against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow reports whether identifier is within rule's limit, incrementing its
// window counter. Returns true on Redis errors (fail open).
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[ratelimit] redis INCR key=%s: %v (failing open)", key, err)
		return true, err
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("[ratelimit] redis EXPIRE key=%s: %v (failing open)", key, err)
			// Best effort: drop the counter so a TTL-less key cannot
			// throttle the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}
