package nested

import (
	"fmt"
	"io"
	"io/fs"
	"sync"

	fscore "github.com/jmgilman/go/fs/core"
)

// ByteChannel is a read-only, seekable view of a byte range: a whole
// container, the raw bytes of a stored entry, or a synthesized archive. Every
// write fails with ErrNonWritableChannel.
//
// A ByteChannel is safe for concurrent use. ReadAt does not move the position.
type ByteChannel struct {
	fsys *FileSystem
	name string
	info fs.FileInfo
	src  io.ReaderAt
	base int64
	size int64

	mu     sync.RWMutex
	pos    int64
	closed bool
}

var (
	_ io.ReadSeekCloser = (*ByteChannel)(nil)
	_ io.ReaderAt       = (*ByteChannel)(nil)
	_ fscore.File       = (*ByteChannel)(nil)
	_ fscore.Truncater  = (*ByteChannel)(nil)
)

func newByteChannel(fsys *FileSystem, name string, src io.ReaderAt, base, size int64, info fs.FileInfo) *ByteChannel {
	return &ByteChannel{fsys: fsys, name: name, info: info, src: src, base: base, size: size}
}

func (c *ByteChannel) checkOpenLocked() error {
	if c.closed || (c.fsys != nil && !c.fsys.IsOpen()) {
		return &fs.PathError{Op: "read", Path: c.name, Err: ErrUseAfterClose}
	}
	return nil
}

// Read reads from the current position and advances it.
func (c *ByteChannel) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpenLocked(); err != nil {
		return 0, err
	}
	if c.pos >= c.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	n := min(int64(len(p)), c.size-c.pos)
	if err := readFull(c.src, p[:n], c.base+c.pos); err != nil {
		return 0, err
	}
	c.pos += n
	return int(n), nil
}

// ReadAt reads at off without moving the position.
func (c *ByteChannel) ReadAt(p []byte, off int64) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkOpenLocked(); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, &fs.PathError{Op: "read", Path: c.name, Err: fs.ErrInvalid}
	}
	if off >= c.size {
		return 0, io.EOF
	}
	n := min(int64(len(p)), c.size-off)
	if err := readFull(c.src, p[:n], c.base+off); err != nil {
		return 0, err
	}
	if n < int64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

// Seek implements io.Seeker. Positions past the end are clamped to Size.
func (c *ByteChannel) Seek(offset int64, whence int) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpenLocked(); err != nil {
		return 0, err
	}
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = c.pos + offset
	case io.SeekEnd:
		abs = c.size + offset
	default:
		return 0, fmt.Errorf("seek %s: invalid whence %d", c.name, whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("seek %s: negative position %d", c.name, abs)
	}
	c.pos = min(abs, c.size)
	return c.pos, nil
}

// Position returns the current position.
func (c *ByteChannel) Position() (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkOpenLocked(); err != nil {
		return 0, err
	}
	return c.pos, nil
}

// SetPosition moves the position, clamped to Size.
func (c *ByteChannel) SetPosition(pos int64) error {
	_, err := c.Seek(pos, io.SeekStart)
	return err
}

// Size returns the number of bytes in the channel.
func (c *ByteChannel) Size() (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkOpenLocked(); err != nil {
		return 0, err
	}
	return c.size, nil
}

// Write always fails with ErrNonWritableChannel.
func (c *ByteChannel) Write([]byte) (int, error) {
	return 0, &fs.PathError{Op: "write", Path: c.name, Err: ErrNonWritableChannel}
}

// WriteAt always fails with ErrNonWritableChannel.
func (c *ByteChannel) WriteAt([]byte, int64) (int, error) {
	return 0, &fs.PathError{Op: "write", Path: c.name, Err: ErrNonWritableChannel}
}

// Truncate always fails with ErrNonWritableChannel.
func (c *ByteChannel) Truncate(int64) error {
	return &fs.PathError{Op: "truncate", Path: c.name, Err: ErrNonWritableChannel}
}

// Name returns the nested URI of the channel.
func (c *ByteChannel) Name() string {
	return c.name
}

// Stat describes the channel's bytes.
func (c *ByteChannel) Stat() (fs.FileInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.checkOpenLocked(); err != nil {
		return nil, err
	}
	return c.info, nil
}

// IsOpen reports whether the channel can still be read.
func (c *ByteChannel) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.checkOpenLocked() == nil
}

// Close closes the channel. The underlying container stays open.
func (c *ByteChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
