// Package cache stores computed span summaries so the map server does not
// rescan a species on every request.
package cache

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"

	"wildspan.exe.dev/srv/coords"
	"wildspan.exe.dev/srv/metrics"
	"wildspan.exe.dev/srv/span"
)

// ErrMiss is returned by a Backend when a key is absent.
var ErrMiss = errors.New("cache miss")

// Backend is a byte-oriented key/value store with expiry.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// SpanCache caches span.SpanResult values per species. A nil *SpanCache is
// valid and never hits. Backend failures are logged and treated as misses.
type SpanCache struct {
	backend Backend
	ttl     time.Duration
}

// NewSpanCache wraps backend.
func NewSpanCache(backend Backend, ttl time.Duration) *SpanCache {
	return &SpanCache{backend: backend, ttl: ttl}
}

// SpanKey identifies the span result of one exact point set. Any change to an
// observation id, coordinate or image URL, or to the order of points, yields
// a different key.
func SpanKey(species string, points []coords.GeoPoint) string {
	return fmt.Sprintf("span:%s:%d:%016x", species, len(points), fingerprint(points))
}

func fingerprint(points []coords.GeoPoint) uint64 {
	d := xxhash.New()
	buf := make([]byte, 0, 24)
	for _, p := range points {
		buf = binary.LittleEndian.AppendUint64(buf[:0], uint64(p.ObservationID))
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(p.Latitude))
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(p.Longitude))
		d.Write(buf)
		d.WriteString(p.ImageURL)
		d.Write([]byte{0})
	}
	return d.Sum64()
}

// Get looks up the cached result for points.
func (c *SpanCache) Get(ctx context.Context, species string, points []coords.GeoPoint) (span.SpanResult, bool) {
	if c == nil || c.backend == nil {
		return span.SpanResult{}, false
	}
	key := SpanKey(species, points)

	data, err := c.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			slog.Warn("span cache get failed", "key", key, "error", err)
		}
		metrics.CacheMisses.WithLabelValues("span").Inc()
		return span.SpanResult{}, false
	}

	var res span.SpanResult
	if err := json.Unmarshal(data, &res); err != nil {
		slog.Warn("span cache entry corrupt", "key", key, "error", err)
		metrics.CacheMisses.WithLabelValues("span").Inc()
		return span.SpanResult{}, false
	}
	metrics.CacheHits.WithLabelValues("span").Inc()
	return res, true
}

// Put stores the result computed from points.
func (c *SpanCache) Put(ctx context.Context, species string, points []coords.GeoPoint, res span.SpanResult) {
	if c == nil || c.backend == nil {
		return
	}
	key := SpanKey(species, points)
	data, err := json.Marshal(res)
	if err != nil {
		slog.Warn("span cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		slog.Warn("span cache set failed", "key", key, "error", err)
	}
}
