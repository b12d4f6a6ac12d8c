/*
tiles.go - Cached tile extraction

PURPOSE:
  Map clients request the same tiles many times in a short window. The
  cache keeps the rendered TileResponse per "z/x/y" key for a short TTL.

STALENESS:
  A SaveCommuneData does not invalidate cached tiles. Readers see the
  new data at most one TTL later. A TTL of 0 disables caching.
*/
package api

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/warp/ban-registry/metrics"
	"github.com/warp/ban-registry/registry"
)

// TileSource extracts tile features.
type TileSource interface {
	Features(ctx context.Context, z, x, y int) (*registry.TileFeatures, error)
}

// TileCache serves tiles through a TTL cache.
type TileCache struct {
	source TileSource
	cache  *ttlcache.Cache[string, TileResponse]
}

// NewTileCache creates a tile cache. Call Start to run expiry and Stop
// to release it.
func NewTileCache(source TileSource, ttl time.Duration) *TileCache {
	tc := &TileCache{source: source}
	if ttl > 0 {
		tc.cache = ttlcache.New(
			ttlcache.WithTTL[string, TileResponse](ttl),
			ttlcache.WithDisableTouchOnHit[string, TileResponse](),
		)
	}
	return tc
}

// Start runs the expiry loop until Stop.
func (tc *TileCache) Start() {
	if tc.cache != nil {
		go tc.cache.Start()
	}
}

// Stop ends the expiry loop.
func (tc *TileCache) Stop() {
	if tc.cache != nil {
		tc.cache.Stop()
	}
}

// Get returns the tile, extracting it on a miss.
func (tc *TileCache) Get(ctx context.Context, z, x, y int) (TileResponse, error) {
	if err := registry.ValidateTile(z, x, y); err != nil {
		return TileResponse{}, err
	}
	key := registry.TileKey(z, x, y)

	if tc.cache != nil {
		if item := tc.cache.Get(key); item != nil {
			metrics.RecordTileRequest("hit")
			return item.Value(), nil
		}
	}

	metrics.RecordTileRequest("miss")
	features, err := tc.source.Features(ctx, z, x, y)
	if err != nil {
		return TileResponse{}, err
	}
	resp := toTileResponse(features)
	if tc.cache != nil {
		tc.cache.Set(key, resp, ttlcache.DefaultTTL)
	}
	return resp, nil
}
