// Package cache serves whole-collection snapshots from Redis, stored once as
// JSON and once as base64 gzip, rebuilt from the store on a miss.
package cache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"recruitment-sync-service/internal/logger"
	"recruitment-sync-service/internal/metrics"
)

var ErrUnknownResource = errors.New("unknown cache resource")

// Loader reads the full collection behind a resource.
type Loader func(ctx context.Context) (any, error)

// Payload is the body to send. Gzip reports whether Body is gzip-compressed.
type Payload struct {
	Body []byte
	Gzip bool
	Hit  bool
}

type resource struct {
	ttl  time.Duration
	load Loader
}

type snapshot struct {
	raw  []byte
	gzip []byte
}

// Layer is safe for concurrent use. Writes to the store never invalidate it;
// entries only expire through their TTL.
type Layer struct {
	rdb redis.Cmdable

	mu        sync.RWMutex
	resources map[string]resource
	group     singleflight.Group
}

// NewLayer accepts a nil client, in which case every Get loads from the store.
func NewLayer(rdb redis.Cmdable) *Layer {
	return &Layer{
		rdb:       rdb,
		resources: make(map[string]resource),
	}
}

func (l *Layer) Register(name string, ttl time.Duration, load Loader) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resources[name] = resource{ttl: ttl, load: load}
}

func RawKey(name string) string  { return "applicants:" + name + ":raw" }
func GzipKey(name string) string { return "applicants:" + name + ":gzip" }

func (l *Layer) Get(ctx context.Context, name string, acceptGzip bool) (*Payload, error) {
	l.mu.RLock()
	res, ok := l.resources[name]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, name)
	}

	cacheUp := l.rdb != nil
	if cacheUp {
		body, err := l.lookup(ctx, name, acceptGzip)
		switch {
		case err == nil:
			metrics.CacheLookups.WithLabelValues(name, "hit").Inc()
			return &Payload{Body: body, Gzip: acceptGzip, Hit: true}, nil
		case errors.Is(err, redis.Nil):
			metrics.CacheLookups.WithLabelValues(name, "miss").Inc()
		case errors.Is(err, errCorrupt):
			metrics.CacheLookups.WithLabelValues(name, "miss").Inc()
			logger.Log.Warn("Cached value is corrupt, rebuilding", zap.String("resource", name), zap.Error(err))
			if derr := l.rdb.Del(ctx, RawKey(name), GzipKey(name)).Err(); derr != nil {
				logger.Log.Warn("Failed to drop corrupt cache entry", zap.String("resource", name), zap.Error(derr))
			}
		default:
			metrics.CacheLookups.WithLabelValues(name, "error").Inc()
			logger.Log.Warn("Cache unavailable, reading from store", zap.String("resource", name), zap.Error(err))
			cacheUp = false
		}
	}

	// Waiters share this rebuild, so one caller going away must not fail it.
	v, err, _ := l.group.Do(name, func() (any, error) {
		return l.rebuild(context.WithoutCancel(ctx), name, res, cacheUp)
	})
	if err != nil {
		return nil, err
	}
	snap := v.(*snapshot)
	if acceptGzip {
		return &Payload{Body: snap.gzip, Gzip: true}, nil
	}
	return &Payload{Body: snap.raw}, nil
}

var errCorrupt = errors.New("corrupt cache value")

func (l *Layer) lookup(ctx context.Context, name string, acceptGzip bool) ([]byte, error) {
	if !acceptGzip {
		val, err := l.rdb.Get(ctx, RawKey(name)).Bytes()
		if err != nil {
			return nil, err
		}
		if !json.Valid(val) {
			return nil, errCorrupt
		}
		return val, nil
	}

	val, err := l.rdb.Get(ctx, GzipKey(name)).Result()
	if err != nil {
		return nil, err
	}
	gz, err := base64.StdEncoding.DecodeString(val)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	raw, err := gunzip(gz)
	if err != nil || !json.Valid(raw) {
		return nil, fmt.Errorf("%w: gzip payload", errCorrupt)
	}
	return gz, nil
}

func (l *Layer) rebuild(ctx context.Context, name string, res resource, store bool) (*snapshot, error) {
	data, err := res.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	gz, err := gzipBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("compress %s: %w", name, err)
	}
	snap := &snapshot{raw: raw, gzip: gz}

	if store {
		_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, RawKey(name), raw, res.ttl)
			pipe.Set(ctx, GzipKey(name), base64.StdEncoding.EncodeToString(gz), res.ttl)
			return nil
		})
		if err != nil {
			logger.Log.Warn("Failed to populate cache", zap.String("resource", name), zap.Error(err))
		} else {
			logger.Log.Debug("Cache populated",
				zap.String("resource", name),
				zap.Int("raw_bytes", len(raw)),
				zap.Int("gzip_bytes", len(gz)),
				zap.Duration("ttl", res.ttl),
			)
		}
	}
	return snap, nil
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzip(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
