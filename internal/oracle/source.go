package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
)

// Source is one oracle price provider. Read returns the latest
// observation for a symbol or an error when the source has nothing.
type Source interface {
	Name() string
	Read(ctx context.Context, symbol string) (domain.SourceReading, error)
}

// StaticSource serves readings from memory. Feeds push into it; it also
// backs tests.
type StaticSource struct {
	mu       sync.RWMutex
	name     string
	readings map[string]domain.SourceReading
}

// NewStaticSource creates an empty in-memory source.
func NewStaticSource(name string) *StaticSource {
	return &StaticSource{name: name, readings: make(map[string]domain.SourceReading)}
}

// Name returns the source name.
func (s *StaticSource) Name() string { return s.name }

// Set stores the latest reading for the reading's symbol.
func (s *StaticSource) Set(reading domain.SourceReading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reading.Source = s.name
	s.readings[reading.Symbol] = reading
}

// Read returns the stored reading for a symbol.
func (s *StaticSource) Read(ctx context.Context, symbol string) (domain.SourceReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.readings[symbol]
	if !ok {
		return domain.SourceReading{}, fmt.Errorf("oracle: source %s has no reading for %s: %w", s.name, symbol, domain.ErrNotFound)
	}
	return r, nil
}

// CacheSource reads the latest observation a feed wrote into the shared
// source price cache. It lets a websocket feed in another process (or
// goroutine) serve the aggregator without coupling the two.
type CacheSource struct {
	name  string
	cache domain.SourcePriceCache
}

// NewCacheSource creates a source backed by the shared price cache.
func NewCacheSource(name string, cache domain.SourcePriceCache) *CacheSource {
	return &CacheSource{name: name, cache: cache}
}

// Name returns the source name.
func (s *CacheSource) Name() string { return s.name }

// Read fetches the cached reading for a symbol.
func (s *CacheSource) Read(ctx context.Context, symbol string) (domain.SourceReading, error) {
	r, err := s.cache.Get(ctx, s.name, symbol)
	if err != nil {
		return domain.SourceReading{}, fmt.Errorf("oracle: source %s read %s: %w", s.name, symbol, err)
	}
	return r, nil
}

var (
	_ Source = (*StaticSource)(nil)
	_ Source = (*CacheSource)(nil)
)
