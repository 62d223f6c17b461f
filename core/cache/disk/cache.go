// Package disk keeps container blocks as files under a directory so they
// survive the process.
package disk

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/nested/core/cache"
)

var (
	_ cache.BlockCache = (*BlockCache)(nil)
	_ cache.BlockStore = (*BlockCache)(nil)
)

// BlockCache stores one file per block, optionally sharded into
// subdirectories by key prefix. It is safe for concurrent use, including by
// several processes sharing a directory.
type BlockCache struct {
	dir      string
	shardLen int
	dirPerm  os.FileMode
	maxBytes int64
	logger   *slog.Logger

	used   atomic.Int64
	hits   atomic.Int64
	misses atomic.Int64

	inflight singleflight.Group
	evictMu  sync.Mutex
}

// Option configures a BlockCache.
type Option func(*BlockCache)

// WithMaxBytes caps the bytes kept on disk. Zero disables the limit.
func WithMaxBytes(n int64) Option {
	return func(c *BlockCache) { c.maxBytes = n }
}

// WithShardPrefixLen sets how many leading hex characters of a block key
// name its subdirectory. Zero stores every block directly under the root.
// Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(c *BlockCache) { c.shardLen = n }
}

// WithDirPerm sets the mode of directories the cache creates.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *BlockCache) { c.dirPerm = mode }
}

// WithLogger sets the logger for cache diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *BlockCache) { c.logger = logger }
}

// NewBlockCache opens, creating if needed, a block cache rooted at dir.
// Blocks already present count toward the size limit.
func NewBlockCache(dir string, opts ...Option) (*BlockCache, error) {
	if dir == "" {
		return nil, errors.New("block cache dir is empty")
	}
	c := &BlockCache{dir: dir, shardLen: defaultShardPrefixLen, dirPerm: defaultDirPerm}
	for _, opt := range opts {
		opt(c)
	}
	switch {
	case c.shardLen < 0:
		return nil, errors.New("block cache shard prefix length must be >= 0")
	case c.maxBytes < 0:
		return nil, errors.New("block cache max bytes must be >= 0")
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return nil, fmt.Errorf("create block cache dir: %w", err)
	}
	files, err := scan(dir)
	if err != nil {
		return nil, fmt.Errorf("scan block cache dir: %w", err)
	}
	c.used.Store(files.total())
	return c, nil
}

// Wrap returns src read through the cache.
func (c *BlockCache) Wrap(src cache.ByteSource, opts ...cache.WrapOption) (cache.ByteSource, error) {
	return cache.NewReader(src, c, opts...)
}

// MaxBytes returns the size limit, zero meaning unlimited.
func (c *BlockCache) MaxBytes() int64 { return c.maxBytes }

// SizeBytes returns the bytes currently on disk.
func (c *BlockCache) SizeBytes() int64 { return c.used.Load() }

// Stats returns hit and miss counters.
func (c *BlockCache) Stats() cache.Stats {
	return cache.Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Block returns the block named by key, fetching and storing it on a miss.
// Concurrent requests for the same block share one fetch. A block that
// cannot be written is still returned.
func (c *BlockCache) Block(key cache.BlockKey, length int64, fetch func() ([]byte, error)) ([]byte, error) {
	name := key.Hex()
	v, err, _ := c.inflight.Do(name, func() (any, error) {
		path := c.path(name)
		data, ok, err := c.load(path, length)
		if err != nil {
			return nil, err
		}
		if ok {
			c.hits.Add(1)
			return data, nil
		}
		c.misses.Add(1)
		if data, err = fetch(); err != nil {
			return nil, err
		}
		if err := c.store(path, data); err != nil {
			c.logger.Debug("block cache write failed", "path", path, "error", err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil //nolint:errcheck,forcetypeassert // Do returns what the func returned
}
