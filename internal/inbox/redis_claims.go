package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const claimKeyPrefix = "outreach:inbound_claim:"

// RedisClaims remembers dedup tokens for a bounded time so that a message
// re-reported after newer ones is still recognised.
type RedisClaims struct {
	redis  *redis.Client
	tracer trace.Tracer
	ttl    time.Duration
}

// NewRedisClaims returns nil when redisClient is nil.
func NewRedisClaims(redisClient *redis.Client, ttl time.Duration) *RedisClaims {
	if redisClient == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisClaims{
		redis:  redisClient,
		tracer: otel.Tracer("outreach.internal.inbox.claims"),
		ttl:    ttl,
	}
}

// Claim sets the token if absent. It reports whether this caller owns it.
func (c *RedisClaims) Claim(ctx context.Context, token string) (bool, error) {
	if c == nil || c.redis == nil {
		return true, nil
	}
	if token == "" {
		return false, errors.New("inbox: claim token required")
	}

	ctx, span := c.tracer.Start(ctx, "inbox.claims.claim")
	defer span.End()

	ok, err := c.redis.SetNX(ctx, claimKeyPrefix+token, time.Now().UTC().Unix(), c.ttl).Result()
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("inbox: claim token: %w", err)
	}
	return ok, nil
}

// Release forgets a token so a later cycle can retry it.
func (c *RedisClaims) Release(ctx context.Context, token string) error {
	if c == nil || c.redis == nil {
		return nil
	}
	if err := c.redis.Del(ctx, claimKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("inbox: release token: %w", err)
	}
	return nil
}
