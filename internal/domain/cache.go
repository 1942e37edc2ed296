package domain

import (
	"context"
	"time"
)

// ConsensusCache stores the latest consensus snapshot per symbol for
// observers. The aggregator recomputes on every query; the cache only
// serves read views and the staleness check.
type ConsensusCache interface {
	Set(ctx context.Context, snap ConsensusSnapshot) error
	Get(ctx context.Context, symbol string) (ConsensusSnapshot, error)
}

// SourcePriceCache holds the most recent reading per oracle source, keyed
// by source name and symbol. The websocket feed writes into it; the
// cache-backed oracle source reads from it.
type SourcePriceCache interface {
	Set(ctx context.Context, reading SourceReading) error
	Get(ctx context.Context, source, symbol string) (SourceReading, error)
}

// StreamMessage is a single entry read from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub for ephemeral insight delivery and durable
// streams for replayable consumption.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// LockManager provides distributed locking, used to keep the archiver
// single-flight across replicas.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter enforces per-key request limits. The API middleware uses it
// to throttle clients by IP.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}
