//go:build unix

package mmap

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Source is a file mapped read-only into memory.
type Source struct {
	data []byte
	size int64
	id   string

	mu     sync.RWMutex
	closed bool
}

// Open maps the file at path. Empty files produce an empty source without a
// mapping.
func Open(path string) (*Source, error) {
	f, err := os.Open(path) //nolint:gosec // user-provided path is intentional
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	s := &Source{size: info.Size(), id: SourceID(path, info)}
	if s.size == 0 {
		return s, nil
	}
	if int64(int(s.size)) != s.size {
		return nil, fmt.Errorf("mmap %s: %d bytes exceeds address space", path, s.size)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(s.size), unix.PROT_READ, unix.MAP_SHARED) //nolint:gosec // fd fits in int
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	s.data = data
	return s, nil
}

// ReadAt implements io.ReaderAt over the mapped bytes.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("mmap: negative offset %d", off)
	}
	if off >= s.size {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close unmaps the file. Reads in progress finish before the mapping goes away.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.data == nil {
		return nil
	}
	data := s.data
	s.data = nil
	return unix.Munmap(data)
}
