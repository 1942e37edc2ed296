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

const consensusTTL = 5 * time.Minute

// ConsensusCache implements domain.ConsensusCache using Redis strings with
// JSON-serialized snapshots. The aggregator recomputes on every query and
// writes through; readers only ever see the last committed snapshot.
//
// Key schema:
//
//	oracle:consensus:{symbol} - JSON ConsensusSnapshot
type ConsensusCache struct {
	rdb *redis.Client
}

// NewConsensusCache creates a ConsensusCache backed by the given Client.
func NewConsensusCache(c *Client) *ConsensusCache {
	return &ConsensusCache{rdb: c.Underlying()}
}

func consensusKey(symbol string) string {
	return "oracle:consensus:" + symbol
}

// Set stores the latest consensus snapshot for a symbol with a 5-minute TTL.
func (cc *ConsensusCache) Set(ctx context.Context, snap domain.ConsensusSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal consensus %s: %w", snap.Symbol, err)
	}

	if err := cc.rdb.Set(ctx, consensusKey(snap.Symbol), data, consensusTTL).Err(); err != nil {
		return fmt.Errorf("redis: set consensus %s: %w", snap.Symbol, err)
	}
	return nil
}

// Get retrieves the latest consensus snapshot for a symbol.
// It returns domain.ErrNotFound when the key does not exist.
func (cc *ConsensusCache) Get(ctx context.Context, symbol string) (domain.ConsensusSnapshot, error) {
	data, err := cc.rdb.Get(ctx, consensusKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ConsensusSnapshot{}, domain.ErrNotFound
		}
		return domain.ConsensusSnapshot{}, fmt.Errorf("redis: get consensus %s: %w", symbol, err)
	}

	var snap domain.ConsensusSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.ConsensusSnapshot{}, fmt.Errorf("redis: unmarshal consensus %s: %w", symbol, err)
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.ConsensusCache = (*ConsensusCache)(nil)
