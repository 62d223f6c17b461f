package nested

import "log/slog"

const (
	// DefaultRuntimeVersion is the runtime version used to resolve
	// multi-release entries when none is configured.
	DefaultRuntimeVersion = 21

	// DefaultBaseVersion is the lowest version directory considered by
	// multi-release resolution.
	DefaultBaseVersion = 9
)

type config struct {
	logger         *slog.Logger
	runtimeVersion int
	baseVersion    int
	mmap           bool
	sourceID       string
}

func newConfig(opts []Option) config {
	cfg := config{
		runtimeVersion: DefaultRuntimeVersion,
		baseVersion:    DefaultBaseVersion,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (c *config) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// Option configures a Reader, an Index build, a FileSystem or a Registry.
type Option func(*config)

// WithLogger sets the logger for debug output.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithRuntimeVersion sets the runtime version that multi-release entries are
// resolved against. Versions above it are never selected.
func WithRuntimeVersion(version int) Option {
	return func(c *config) {
		c.runtimeVersion = version
	}
}

// WithBaseVersion sets the lowest version directory that multi-release
// resolution considers. Lower version directories are ignored.
func WithBaseVersion(version int) Option {
	return func(c *config) {
		c.baseVersion = version
	}
}

// WithMmap maps local containers into memory instead of reading them with
// positioned file reads. Platforms without mmap support fall back to file reads.
func WithMmap(enabled bool) Option {
	return func(c *config) {
		c.mmap = enabled
	}
}

// WithSourceID overrides the identity reported by a local container source.
// Block caches use the identity to key cached ranges.
func WithSourceID(id string) Option {
	return func(c *config) {
		c.sourceID = id
	}
}
