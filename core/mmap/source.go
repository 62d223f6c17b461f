// Package mmap provides a read-only, memory-mapped container source.
//
// On platforms without mmap support the source falls back to positioned
// reads on the open file. Either way the source satisfies the ByteSource
// contract and must be closed.
package mmap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrClosed is returned by reads on a closed source.
var ErrClosed = errors.New("mmap: source closed")

// SourceID returns the identity used for local files: the absolute path, the
// size and the modification time. Two sources for an unchanged file share it.
func SourceID(path string, info os.FileInfo) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	return fmt.Sprintf("file:%s:%d:%d", absPath, info.Size(), info.ModTime().UnixNano())
}

// Size returns the number of mapped bytes.
func (s *Source) Size() int64 {
	return s.size
}

// SourceID returns a stable identifier for the mapped content.
func (s *Source) SourceID() string {
	return s.id
}
