package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"math"
)

// ByteSource is random access to the bytes of a container.
type ByteSource interface {
	io.ReaderAt

	// Size returns the total size of the data source in bytes.
	Size() int64

	// SourceID identifies the bytes behind the source. Blocks are keyed by
	// it, so two sources with the same ID must hold identical bytes.
	SourceID() string
}

// BlockCache wraps ByteSources with block-level caching.
type BlockCache interface {
	// Wrap returns src read through the cache. When src implements
	// io.Closer, so does the returned source.
	Wrap(src ByteSource, opts ...WrapOption) (ByteSource, error)

	// MaxBytes returns the configured size limit, zero meaning unlimited.
	MaxBytes() int64

	// SizeBytes returns the bytes currently held.
	SizeBytes() int64

	// Prune evicts blocks until at most targetBytes remain and reports how
	// many bytes were freed.
	Prune(targetBytes int64) (int64, error)

	// Stats returns block lookup counters since the cache was created.
	Stats() Stats
}

// Stats counts block lookups.
type Stats struct {
	Hits   int64
	Misses int64
}

// BlockKey names one block of one source.
type BlockKey struct {
	SourceID  string
	BlockSize int64
	Index     int64
}

// Hex returns a fixed-length digest of the key, suitable as a file name.
func (k BlockKey) Hex() string {
	b := make([]byte, 0, len(k.SourceID)+16)
	b = append(b, k.SourceID...)
	b = binary.BigEndian.AppendUint64(b, uint64(k.BlockSize)) //nolint:gosec // validated positive
	b = binary.BigEndian.AppendUint64(b, uint64(k.Index))     //nolint:gosec // never negative
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// BlockStore holds block contents for Reader. Block returns the cached
// bytes for key, calling fetch on a miss. The returned slice must be exactly
// length bytes long and must not be modified by the caller.
type BlockStore interface {
	Block(key BlockKey, length int64, fetch func() ([]byte, error)) ([]byte, error)
}

const (
	// DefaultBlockSize holds a typical central directory in one or two
	// blocks.
	DefaultBlockSize int64 = 64 << 10

	// DefaultMaxBlocksPerRead keeps large sequential reads, such as
	// streaming a big stored entry, out of the cache.
	DefaultMaxBlocksPerRead = 4
)

// WrapConfig controls how a source is split into blocks.
type WrapConfig struct {
	// BlockSize is the size in bytes of each cached block.
	BlockSize int64

	// MaxBlocksPerRead is the largest number of blocks one ReadAt may
	// touch before it goes straight to the source. Zero disables the
	// limit.
	MaxBlocksPerRead int
}

// WrapOption configures a wrapped source.
type WrapOption func(*WrapConfig)

// WithBlockSize sets the block size used for caching.
func WithBlockSize(n int64) WrapOption {
	return func(cfg *WrapConfig) { cfg.BlockSize = n }
}

// WithMaxBlocksPerRead bypasses the cache for reads spanning more than n
// blocks. Zero disables the limit.
func WithMaxBlocksPerRead(n int) WrapOption {
	return func(cfg *WrapConfig) { cfg.MaxBlocksPerRead = n }
}

// NewWrapConfig applies opts over the defaults and validates the result.
func NewWrapConfig(opts ...WrapOption) (WrapConfig, error) {
	cfg := WrapConfig{BlockSize: DefaultBlockSize, MaxBlocksPerRead: DefaultMaxBlocksPerRead}
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.BlockSize <= 0:
		return cfg, errors.New("block cache: block size must be > 0")
	case cfg.BlockSize > math.MaxInt32:
		return cfg, errors.New("block cache: block size too large")
	case cfg.MaxBlocksPerRead < 0:
		return cfg, errors.New("block cache: max blocks per read must be >= 0")
	}
	return cfg, nil
}
