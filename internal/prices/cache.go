package prices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// CacheObserver receives cache hit/miss notifications
type CacheObserver interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

const cacheType = "prices"

// RedisCache serves histories from Redis and fills it from the wrapped feed on
// a miss. Redis failures degrade to the wrapped feed rather than failing the load.
type RedisCache struct {
	client   redis.Cmdable
	next     Feed
	ttl      time.Duration
	prefix   string
	observer CacheObserver
}

// NewRedisCache wraps next with a Redis read-through cache
func NewRedisCache(client redis.Cmdable, next Feed, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		next:   next,
		ttl:    ttl,
		prefix: "pairsrun:prices:",
	}
}

// WithObserver attaches a hit/miss observer
func (c *RedisCache) WithObserver(observer CacheObserver) *RedisCache {
	c.observer = observer
	return c
}

// Key is the Redis key holding symbol's history
func (c *RedisCache) Key(symbol string) string {
	return c.prefix + symbol
}

// Load returns the cached history or loads and caches it
func (c *RedisCache) Load(ctx context.Context, symbol string) (Series, error) {
	key := c.Key(symbol)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		series, decodeErr := decodeSeries(symbol, data)
		if decodeErr == nil {
			c.hit()
			return series, nil
		}
		log.Warn().Err(decodeErr).Str("key", key).Msg("Discarding undecodable cached prices")
	case errors.Is(err, redis.Nil):
	default:
		log.Warn().Err(err).Str("key", key).Msg("Price cache read failed")
	}

	c.miss()
	series, err := c.next.Load(ctx, symbol)
	if err != nil {
		return Series{}, err
	}

	payload, err := encodeSeries(series)
	if err != nil {
		return Series{}, fmt.Errorf("failed to encode prices for cache: %w", err)
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Price cache write failed")
	}

	return series, nil
}

func (c *RedisCache) hit() {
	if c.observer != nil {
		c.observer.RecordCacheHit(cacheType)
	}
}

func (c *RedisCache) miss() {
	if c.observer != nil {
		c.observer.RecordCacheMiss(cacheType)
	}
}

// cachedSeries stores missing prices as null since JSON has no NaN
type cachedSeries struct {
	Dates []time.Time `json:"dates,omitempty"`
	Close []*float64  `json:"close"`
}

func encodeSeries(s Series) ([]byte, error) {
	cached := cachedSeries{
		Dates: s.Dates,
		Close: make([]*float64, len(s.Close)),
	}
	for i, v := range s.Close {
		if !math.IsNaN(v) {
			price := v
			cached.Close[i] = &price
		}
	}
	return json.Marshal(cached)
}

func decodeSeries(symbol string, data []byte) (Series, error) {
	var cached cachedSeries
	if err := json.Unmarshal(data, &cached); err != nil {
		return Series{}, err
	}

	series := Series{Symbol: symbol, Dates: cached.Dates, Close: make([]float64, len(cached.Close))}
	for i, v := range cached.Close {
		series.Close[i] = math.NaN()
		if v != nil {
			series.Close[i] = *v
		}
	}

	if err := series.Validate(); err != nil {
		return Series{}, err
	}
	return series, nil
}
