package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ammar1510/tripchat/internal/logger"
)

var log = logger.New("membership")

// Cached remembers positive IsMember answers in Redis for ttl. Trip existence
// and negative answers always go to the backing oracle, so a soft delete is
// seen immediately and a removed member is locked out within one ttl.
type Cached struct {
	next   Oracle
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

// NewCached wraps next with a Redis-backed membership cache.
func NewCached(next Oracle, client redis.Cmdable, ttl time.Duration) *Cached {
	return &Cached{next: next, client: client, ttl: ttl, prefix: "tripchat:member:"}
}

func (c *Cached) key(tripID, userID uuid.UUID) string {
	return fmt.Sprintf("%s%s:%s", c.prefix, tripID, userID)
}

func (c *Cached) TripExists(ctx context.Context, tripID uuid.UUID) (bool, error) {
	return c.next.TripExists(ctx, tripID)
}

func (c *Cached) IsMember(ctx context.Context, tripID, userID uuid.UUID) (bool, error) {
	key := c.key(tripID, userID)

	_, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, redis.Nil):
	default:
		// a cache outage must not lock users out
		log.Warn("membership cache read failed for %s: %v", key, err)
	}

	member, err := c.next.IsMember(ctx, tripID, userID)
	if err != nil || !member {
		return member, err
	}

	if err := c.client.Set(ctx, key, "1", c.ttl).Err(); err != nil {
		log.Warn("membership cache write failed for %s: %v", key, err)
	}
	return true, nil
}

// Invalidate drops a cached membership, e.g. after a member is removed.
func (c *Cached) Invalidate(ctx context.Context, tripID, userID uuid.UUID) error {
	return c.client.Del(ctx, c.key(tripID, userID)).Err()
}
