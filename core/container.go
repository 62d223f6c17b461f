package nested

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/meigma/nested/core/mmap"
)

// ByteSource provides random access to the bytes of a container.
//
// Implementations must be safe for concurrent ReadAt calls. SourceID returns
// a stable identifier for the content; block caches key ranges by it.
type ByteSource interface {
	io.ReaderAt
	Size() int64
	SourceID() string
}

// Container owns the bytes of one physical container: an open file, a mapped
// region or a remote source. It is shared by every index, reader and channel
// built over it. Close releases the underlying resource exactly once.
type Container struct {
	src    ByteSource
	closer io.Closer

	closed atomic.Bool
	once   sync.Once
	err    error
}

var _ ByteSource = (*Container)(nil)

// NewContainer wraps src. If closer is non-nil it is closed with the container.
func NewContainer(src ByteSource, closer io.Closer) *Container {
	return &Container{src: src, closer: closer}
}

// OpenContainer opens the local file at path as a container. WithMmap maps
// the file into memory and WithSourceID overrides its identity.
func OpenContainer(path string, opts ...Option) (*Container, error) {
	cfg := newConfig(opts)
	return openContainer(path, &cfg)
}

func openContainer(path string, cfg *config) (*Container, error) {
	if cfg.mmap {
		m, err := mmap.Open(path)
		if err != nil {
			return nil, err
		}
		cfg.log().Debug("mapped container", "path", path, "size", m.Size())
		if cfg.sourceID != "" {
			return NewContainer(withSourceID(m, cfg.sourceID), m), nil
		}
		return NewContainer(m, m), nil
	}

	f, err := os.Open(path) //nolint:gosec // user-provided path is intentional
	if err != nil {
		return nil, err
	}
	src, err := newFileSource(f, cfg.sourceID)
	if err != nil {
		f.Close()
		return nil, err
	}
	return NewContainer(src, f), nil
}

// ReadAt reads from the container. It fails with ErrUseAfterClose once the
// container has been closed.
func (c *Container) ReadAt(p []byte, off int64) (int, error) {
	if c.closed.Load() {
		return 0, ErrUseAfterClose
	}
	return c.src.ReadAt(p, off)
}

// Size returns the container size in bytes.
func (c *Container) Size() int64 {
	return c.src.Size()
}

// SourceID returns the identity of the underlying source.
func (c *Container) SourceID() string {
	return c.src.SourceID()
}

// Closed reports whether Close has been called.
func (c *Container) Closed() bool {
	return c.closed.Load()
}

// Close releases the underlying resource. Later calls return the first result.
func (c *Container) Close() error {
	c.once.Do(func() {
		c.closed.Store(true)
		if c.closer != nil {
			c.err = c.closer.Close()
		}
	})
	return c.err
}

// fileSource wraps *os.File to implement ByteSource.
// os.File has ReadAt but not Size, so we cache the size at construction.
type fileSource struct {
	file     *os.File
	size     int64
	sourceID string
}

func newFileSource(f *os.File, sourceID string) (*fileSource, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat container: %w", err)
	}
	if sourceID == "" {
		sourceID = mmap.SourceID(f.Name(), info)
	}
	return &fileSource{file: f, size: info.Size(), sourceID: sourceID}, nil
}

func (fs *fileSource) ReadAt(p []byte, off int64) (int, error) {
	return fs.file.ReadAt(p, off)
}

func (fs *fileSource) Size() int64 {
	return fs.size
}

func (fs *fileSource) SourceID() string {
	return fs.sourceID
}

type sourceWithID struct {
	ByteSource
	id string
}

func withSourceID(src ByteSource, id string) ByteSource {
	return sourceWithID{ByteSource: src, id: id}
}

func (s sourceWithID) SourceID() string {
	return s.id
}

// section is a ByteSource over a sub-range of another source.
type section struct {
	src  io.ReaderAt
	off  int64
	size int64
	id   string
}

func (s *section) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset", ErrMalformedArchive)
	}
	if off >= s.size {
		return 0, io.EOF
	}
	var eof bool
	if remaining := s.size - off; int64(len(p)) > remaining {
		p = p[:remaining]
		eof = true
	}
	n, err := s.src.ReadAt(p, s.off+off)
	if err == nil && eof {
		err = io.EOF
	}
	return n, err
}

func (s *section) Size() int64 {
	return s.size
}

func (s *section) SourceID() string {
	return s.id
}
