package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
)

// sourceReadingTTL bounds how long a reading can be served. It is a little
// over the oracle staleness cutoff so expiry never races the freshness
// check.
const sourceReadingTTL = 10 * time.Minute

// SourcePriceCache implements domain.SourcePriceCache using Redis strings
// with JSON-serialized readings.
//
// Key schema:
//
//	oracle:src:{source}:{symbol} - JSON SourceReading
type SourcePriceCache struct {
	rdb *redis.Client
}

// NewSourcePriceCache creates a SourcePriceCache backed by the given Client.
func NewSourcePriceCache(c *Client) *SourcePriceCache {
	return &SourcePriceCache{rdb: c.Underlying()}
}

func sourceReadingKey(source, symbol string) string {
	return "oracle:src:" + source + ":" + symbol
}

// Set stores the latest reading for a (source, symbol) pair.
func (pc *SourcePriceCache) Set(ctx context.Context, reading domain.SourceReading) error {
	data, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("redis: marshal reading %s/%s: %w", reading.Source, reading.Symbol, err)
	}

	key := sourceReadingKey(reading.Source, reading.Symbol)
	if err := pc.rdb.Set(ctx, key, data, sourceReadingTTL).Err(); err != nil {
		return fmt.Errorf("redis: set reading %s/%s: %w", reading.Source, reading.Symbol, err)
	}
	return nil
}

// Get retrieves the most recent reading for a (source, symbol) pair.
// It returns domain.ErrNotFound when the key does not exist.
func (pc *SourcePriceCache) Get(ctx context.Context, source, symbol string) (domain.SourceReading, error) {
	data, err := pc.rdb.Get(ctx, sourceReadingKey(source, symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.SourceReading{}, domain.ErrNotFound
		}
		return domain.SourceReading{}, fmt.Errorf("redis: get reading %s/%s: %w", source, symbol, err)
	}

	var reading domain.SourceReading
	if err := json.Unmarshal(data, &reading); err != nil {
		return domain.SourceReading{}, fmt.Errorf("redis: unmarshal reading %s/%s: %w", source, symbol, err)
	}
	return reading, nil
}

// Compile-time interface check.
var _ domain.SourcePriceCache = (*SourcePriceCache)(nil)
