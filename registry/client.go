package registry

import (
	"log/slog"

	nested "github.com/meigma/nested/core"
	"github.com/meigma/nested/core/cache"
	nestedhttp "github.com/meigma/nested/core/http"
	"github.com/meigma/nested/registry/oras"
)

// Client pushes archives to and opens archives from OCI registries.
type Client struct {
	oci        OCIClient
	logger     *slog.Logger
	blockCache cache.BlockCache
	mediaTypes []string
	httpOpts   []nestedhttp.Option
	readerOpts []nested.Option

	// orasOpts are passed to the ORAS client when no OCIClient is given.
	orasOpts []oras.Option
}

// New creates a new registry client with the given options.
//
// Without WithOCIClient the client talks to registries through an
// oras.Client built from the WithORASOptions options.
func New(opts ...Option) *Client {
	c := &Client{}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if len(c.mediaTypes) == 0 {
		c.mediaTypes = DefaultLayerMediaTypes
	}
	if c.oci == nil {
		c.oci = oras.New(append([]oras.Option{oras.WithLogger(c.logger)}, c.orasOpts...)...)
	}
	return c
}

// Option configures a Client.
type Option func(*Client)

// WithOCIClient sets a custom OCI client.
//
// WithORASOptions has no effect when a custom OCIClient is set.
func WithOCIClient(oci OCIClient) Option {
	return func(c *Client) {
		c.oci = oci
	}
}

// WithLogger sets the logger for registry and reader diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithBlockCache caches layer bytes read from the registry. Layers are
// content addressed, so cached blocks never go stale.
func WithBlockCache(bc cache.BlockCache) Option {
	return func(c *Client) {
		c.blockCache = bc
	}
}

// WithLayerMediaTypes sets the layer media types Open accepts, in order of
// preference. The default is DefaultLayerMediaTypes.
func WithLayerMediaTypes(mediaTypes ...string) Option {
	return func(c *Client) {
		c.mediaTypes = append([]string(nil), mediaTypes...)
	}
}

// WithHTTPOptions adds options for the range source that reads layers.
func WithHTTPOptions(opts ...nestedhttp.Option) Option {
	return func(c *Client) {
		c.httpOpts = append(c.httpOpts, opts...)
	}
}

// WithReaderOptions adds options for every reader Open returns.
func WithReaderOptions(opts ...nested.Option) Option {
	return func(c *Client) {
		c.readerOpts = append(c.readerOpts, opts...)
	}
}

// WithORASOptions configures the default ORAS client: credentials, plain
// HTTP, user agent and transport.
func WithORASOptions(opts ...oras.Option) Option {
	return func(c *Client) {
		c.orasOpts = append(c.orasOpts, opts...)
	}
}
