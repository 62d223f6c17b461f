//go:build !unix

package mmap

import (
	"fmt"
	"os"
	"sync"
)

// Source reads the file with positioned reads on platforms without mmap.
type Source struct {
	file *os.File
	size int64
	id   string

	mu     sync.RWMutex
	closed bool
}

// Open opens the file at path.
func Open(path string) (*Source, error) {
	f, err := os.Open(path) //nolint:gosec // user-provided path is intentional
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return &Source{file: f, size: info.Size(), id: SourceID(path, info)}, nil
}

// ReadAt implements io.ReaderAt.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.file.ReadAt(p, off)
}

// Close closes the file.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}
