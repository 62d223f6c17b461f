package nested

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	nestedcore "github.com/meigma/nested/core"
	corecache "github.com/meigma/nested/core/cache"
	nestedhttp "github.com/meigma/nested/core/http"
	nesteds3 "github.com/meigma/nested/core/s3"
	"github.com/meigma/nested/registry"
	"github.com/meigma/nested/registry/oras"
)

// Client opens archives from local paths, nested URIs, HTTP servers, S3
// buckets and OCI registries.
//
// The zero configuration reads local and HTTP targets anonymously; S3 needs
// WithS3Client or WithS3.
type Client struct {
	logger     *slog.Logger
	blockCache corecache.BlockCache
	s3         *minio.Client

	readerOpts   []nestedcore.Option
	httpOpts     []nestedhttp.Option
	registryOpts []registry.Option
	orasOpts     []oras.Option

	registry *registry.Client
}

// NewClient creates a new client with the given options.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}

	regOpts := []registry.Option{
		registry.WithLogger(c.logger),
		registry.WithReaderOptions(c.readerOpts...),
		registry.WithHTTPOptions(c.httpOpts...),
	}
	if c.blockCache != nil {
		regOpts = append(regOpts, registry.WithBlockCache(c.blockCache))
	}
	if len(c.orasOpts) > 0 {
		regOpts = append(regOpts, registry.WithORASOptions(c.orasOpts...))
	}
	c.registry = registry.New(append(regOpts, c.registryOpts...)...)
	return c, nil
}

// Registry returns the registry client used for oci:// targets.
func (c *Client) Registry() *registry.Client {
	return c.registry
}

// Open opens the archive named by target. A non-empty nestedEntryName opens
// the stored archive or directory with that name inside it; a nested: URI
// may carry the entry instead, but not both.
//
// Remote reads are bound to ctx for the life of the returned reader.
func (c *Client) Open(ctx context.Context, target, nestedEntryName string, opts ...ReaderOption) (*Reader, error) {
	t, err := parseTarget(target)
	if err != nil {
		return nil, err
	}
	entry, err := t.nestedEntry(nestedEntryName)
	if err != nil {
		return nil, err
	}
	readerOpts := append([]nestedcore.Option{nestedcore.WithLogger(c.logger)}, c.readerOpts...)
	readerOpts = append(readerOpts, opts...)

	c.logger.Debug("opening target", "kind", t.kind.String(), "target", target, "entry", entry)
	switch t.kind {
	case targetLocal:
		return nestedcore.OpenNested(t.path, entry, readerOpts...)
	case targetOCI:
		return c.registry.Open(ctx, t.path, entry, opts...)
	}

	src, err := c.source(ctx, t)
	if err != nil {
		return nil, err
	}
	return nestedcore.OpenSource(src, entry, readerOpts...)
}

// Source returns a random access source over a remote target's bytes,
// block cached when the client has a cache. Local targets are opened as
// containers.
func (c *Client) Source(ctx context.Context, target string) (ByteSource, error) {
	t, err := parseTarget(target)
	if err != nil {
		return nil, err
	}
	switch t.kind {
	case targetLocal:
		if t.entry != "" {
			return nil, fmt.Errorf("%w: source of %q cannot carry an entry", ErrInvalidLocation, target)
		}
		return nestedcore.OpenContainer(t.path, c.readerOpts...)
	case targetOCI:
		return c.registry.Source(ctx, t.path)
	}
	return c.source(ctx, t)
}

func (c *Client) source(ctx context.Context, t target) (ByteSource, error) {
	var src corecache.ByteSource
	switch t.kind {
	case targetHTTP:
		opts := append([]nestedhttp.Option{
			nestedhttp.WithContext(ctx),
			nestedhttp.WithLogger(c.logger),
		}, c.httpOpts...)
		s, err := nestedhttp.NewSource(t.path, opts...)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", t.path, err)
		}
		src = s
	case targetS3:
		if c.s3 == nil {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrS3NotConfigured, t.bucket, t.key)
		}
		s, err := nesteds3.NewSource(c.s3, t.bucket, t.key,
			nesteds3.WithContext(ctx),
			nesteds3.WithLogger(c.logger),
		)
		if err != nil {
			return nil, fmt.Errorf("open s3://%s/%s: %w", t.bucket, t.key, err)
		}
		src = s
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTarget, t.kind)
	}

	if c.blockCache == nil {
		return src, nil
	}
	wrapped, err := c.blockCache.Wrap(src)
	if err != nil {
		if closer, ok := src.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil, fmt.Errorf("wrap block cache: %w", err)
	}
	return wrapped, nil
}

// Push publishes the archive at target, which must be local, under the OCI
// reference ref. See registry.Client.Push.
func (c *Client) Push(ctx context.Context, ref, target string, opts ...registry.PushOption) (ocispec.Descriptor, error) {
	t, err := parseTarget(target)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	if t.kind != targetLocal || t.entry != "" {
		return ocispec.Descriptor{}, fmt.Errorf("%w: push needs a local container, got %q", ErrUnsupportedTarget, target)
	}
	container, err := nestedcore.OpenContainer(t.path, c.readerOpts...)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	defer container.Close()
	return c.registry.Push(ctx, ref, container, opts...)
}

// BlockCacheStats returns block cache counters, or zero stats without a cache.
func (c *Client) BlockCacheStats() corecache.Stats {
	if c.blockCache == nil {
		return corecache.Stats{}
	}
	return c.blockCache.Stats()
}
