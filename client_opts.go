package nested

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	corecache "github.com/meigma/nested/core/cache"
	coredisk "github.com/meigma/nested/core/cache/disk"
	nestedhttp "github.com/meigma/nested/core/http"
	"github.com/meigma/nested/registry"
	"github.com/meigma/nested/registry/oras"
)

// Option configures a Client.
type Option func(*Client) error

// DefaultBlockCacheSize is the block cache limit used by WithCacheDir.
const DefaultBlockCacheSize = 256 << 20

// WithLogger sets the logger for client, reader and cache diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithReaderOptions adds options for every reader the client opens.
func WithReaderOptions(opts ...ReaderOption) Option {
	return func(c *Client) error {
		c.readerOpts = append(c.readerOpts, opts...)
		return nil
	}
}

// --- Authentication Options ---

// WithDockerConfig enables reading registry credentials from
// ~/.docker/config.json.
func WithDockerConfig() Option {
	return func(c *Client) error {
		c.orasOpts = append(c.orasOpts, oras.WithDockerConfig())
		return nil
	}
}

// WithStaticCredentials sets static username/password credentials for a registry.
// The registry parameter should be the registry host (e.g., "ghcr.io").
func WithStaticCredentials(registry, username, password string) Option {
	return func(c *Client) error {
		c.orasOpts = append(c.orasOpts, oras.WithStaticCredentials(registry, username, password))
		return nil
	}
}

// WithStaticToken sets a static bearer token for a registry.
func WithStaticToken(registry, token string) Option {
	return func(c *Client) error {
		c.orasOpts = append(c.orasOpts, oras.WithStaticToken(registry, token))
		return nil
	}
}

// WithAnonymous forces anonymous registry access.
func WithAnonymous() Option {
	return func(c *Client) error {
		c.orasOpts = append(c.orasOpts, oras.WithAnonymous())
		return nil
	}
}

// --- Transport Options ---

// WithPlainHTTP enables plain HTTP (no TLS) for registries.
// This is useful for local development registries.
func WithPlainHTTP(enabled bool) Option {
	return func(c *Client) error {
		c.orasOpts = append(c.orasOpts, oras.WithPlainHTTP(enabled))
		return nil
	}
}

// WithUserAgent sets the User-Agent header for registry requests.
func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		c.orasOpts = append(c.orasOpts, oras.WithUserAgent(ua))
		return nil
	}
}

// WithHTTPClient sets the HTTP client for http(s):// targets.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) error {
		if client == nil {
			return errors.New("http client is nil")
		}
		c.httpOpts = append(c.httpOpts, nestedhttp.WithClient(client))
		return nil
	}
}

// WithHTTPOptions adds options for range sources over http(s):// targets
// and registry blobs.
func WithHTTPOptions(opts ...nestedhttp.Option) Option {
	return func(c *Client) error {
		c.httpOpts = append(c.httpOpts, opts...)
		return nil
	}
}

// WithRegistryOptions adds options for the registry client. They apply
// after every option derived from the client configuration.
func WithRegistryOptions(opts ...registry.Option) Option {
	return func(c *Client) error {
		c.registryOpts = append(c.registryOpts, opts...)
		return nil
	}
}

// --- S3 Options ---

// WithS3Client sets the MinIO client used for s3:// targets.
func WithS3Client(client *minio.Client) Option {
	return func(c *Client) error {
		if client == nil {
			return errors.New("s3 client is nil")
		}
		c.s3 = client
		return nil
	}
}

// S3Config describes an S3-compatible endpoint.
type S3Config struct {
	// Endpoint is host[:port], without a scheme.
	Endpoint string

	// Region is the bucket region. Empty lets the client look it up.
	Region string

	// AccessKey and SecretKey are static credentials. Empty keys send
	// unsigned requests.
	AccessKey string
	SecretKey string

	// Secure selects HTTPS.
	Secure bool
}

// WithS3 creates a MinIO client for s3:// targets from cfg.
// Buckets are addressed path-style.
func WithS3(cfg S3Config) Option {
	return func(c *Client) error {
		if cfg.Endpoint == "" {
			return errors.New("s3 endpoint is empty")
		}
		client, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure:       cfg.Secure,
			Region:       cfg.Region,
			BucketLookup: minio.BucketLookupPath,
		})
		if err != nil {
			return err
		}
		c.s3 = client
		return nil
	}
}

// --- Caching Options ---

// WithCacheDir enables the block cache in dir/blocks with
// DefaultBlockCacheSize as its limit.
func WithCacheDir(dir string) Option {
	return func(c *Client) error {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
		bc, err := coredisk.NewBlockCache(
			filepath.Join(dir, "blocks"),
			coredisk.WithMaxBytes(DefaultBlockCacheSize),
			coredisk.WithLogger(c.log()),
		)
		if err != nil {
			return err
		}
		c.blockCache = bc
		return nil
	}
}

// WithBlockCache sets a custom block cache for remote reads.
func WithBlockCache(bc corecache.BlockCache) Option {
	return func(c *Client) error {
		c.blockCache = bc
		return nil
	}
}

func (c *Client) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}
