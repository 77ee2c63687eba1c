package geo

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-hail/internal/models"
)

// RedisIndex implements DriverIndex using Redis GEO commands, so every
// node querying the index sees the same candidate set.
type RedisIndex struct {
	client *redis.Client
	key    string
}

func NewRedisIndex(addr, password, key string) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, key: key}
}

func (r *RedisIndex) Upsert(ctx context.Context, driverID string, p models.GeoPoint) error {
	return r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Name:      driverID,
		Longitude: p.Longitude,
		Latitude:  p.Latitude,
	}).Err()
}

func (r *RedisIndex) Remove(ctx context.Context, driverID string) error {
	// GEO members live in a plain sorted set underneath.
	return r.client.ZRem(ctx, r.key, driverID).Err()
}

func (r *RedisIndex) Near(ctx context.Context, p models.GeoPoint, radiusMiles float64) ([]string, error) {
	ids, err := r.client.GeoSearch(ctx, r.key, &redis.GeoSearchQuery{
		Longitude:  p.Longitude,
		Latitude:   p.Latitude,
		Radius:     radiusMiles,
		RadiusUnit: "mi",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *RedisIndex) Close() error { return r.client.Close() }
