package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"spreadwatch/internal/config"
	"spreadwatch/internal/model"
)

// ErrNotFound is returned when no live value is cached.
var ErrNotFound = errors.New("no cached price")

// LatestCache keeps the most recent price per symbol and venue in Redis.
// Entries expire after the configured TTL; no history is kept.
type LatestCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewLatestCache creates a cache over an existing client.
func NewLatestCache(client *redis.Client, ttl time.Duration) *LatestCache {
	return &LatestCache{client: client, ttl: ttl}
}

// NewClient creates a Redis client from cfg and checks connectivity.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func latestKey(symbol string, venue model.Venue) string {
	return fmt.Sprintf("latest:%s:%s", symbol, venue)
}

// Ping checks the connection.
func (c *LatestCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Record stores u as the latest price of its symbol on its venue.
func (c *LatestCache) Record(ctx context.Context, u model.PriceUpdate) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal price: %w", err)
	}
	if err := c.client.Set(ctx, latestKey(u.Symbol, u.Source), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set latest price: %w", err)
	}
	return nil
}

// Latest returns the cached price of symbol on venue, or ErrNotFound.
func (c *LatestCache) Latest(ctx context.Context, symbol string, venue model.Venue) (model.PriceUpdate, error) {
	data, err := c.client.Get(ctx, latestKey(symbol, venue)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.PriceUpdate{}, ErrNotFound
		}
		return model.PriceUpdate{}, fmt.Errorf("failed to get latest price: %w", err)
	}

	var u model.PriceUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return model.PriceUpdate{}, fmt.Errorf("failed to unmarshal price: %w", err)
	}
	return u, nil
}

// LatestAll returns every cached venue price for symbol, keyed by venue.
func (c *LatestCache) LatestAll(ctx context.Context, symbol string, venues []model.Venue) (map[model.Venue]model.PriceUpdate, error) {
	if len(venues) == 0 {
		return map[model.Venue]model.PriceUpdate{}, nil
	}
	keys := make([]string, len(venues))
	for i, v := range venues {
		keys[i] = latestKey(symbol, v)
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get latest prices: %w", err)
	}

	out := make(map[model.Venue]model.PriceUpdate, len(values))
	for i, raw := range values {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		var u model.PriceUpdate
		if err := json.Unmarshal([]byte(s), &u); err != nil {
			return nil, fmt.Errorf("failed to unmarshal price: %w", err)
		}
		out[venues[i]] = u
	}
	return out, nil
}
