package cache

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Invalidator drops the conversational layer's cached session state for
// an actor whenever the core mutates that actor's availability or active
// ride. The cache itself lives outside this system.
type Invalidator interface {
	Invalidate(ctx context.Context, actorID string) error
}

// Nop is used in tests and when no cache is deployed.
type Nop struct{}

func (Nop) Invalidate(ctx context.Context, actorID string) error { return nil }

// RedisInvalidator deletes the session key for the actor.
type RedisInvalidator struct {
	client *redis.Client
	prefix string
}

func NewRedisInvalidator(addr, password, prefix string) *RedisInvalidator {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisInvalidator{client: c, prefix: prefix}
}

func (r *RedisInvalidator) Invalidate(ctx context.Context, actorID string) error {
	return r.client.Del(ctx, r.prefix+actorID).Err()
}

func (r *RedisInvalidator) Close() error { return r.client.Close() }
