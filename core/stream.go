package nested

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"weak"

	"github.com/meigma/nested/core/internal/inflate"
)

// entryStream reads one entry. Stored entries are read straight from the
// container range; deflated entries go through a pooled inflater that reads
// the same range. Every Read holds the reader's mutex, so a read in progress
// finishes before teardown proceeds.
type entryStream struct {
	res   *resources
	owner *Reader // keeps the reader reachable while the stream is in use
	ref   weak.Pointer[entryStream]
	name  string

	src       io.ReaderAt
	off       int64
	remaining int64
	inf       *inflate.Inflater

	closed    bool
	exhausted bool
}

// Read implements io.Reader. A stream closes itself once its data is
// exhausted; further reads return io.EOF.
func (s *entryStream) Read(p []byte) (int, error) {
	s.res.mu.Lock()
	defer s.res.mu.Unlock()

	if err := s.res.checkOpen(); err != nil {
		return 0, err
	}
	if s.exhausted {
		return 0, io.EOF
	}
	if s.closed {
		return 0, &fs.PathError{Op: "read", Path: s.name, Err: fs.ErrClosed}
	}
	if len(p) == 0 {
		return 0, nil
	}

	if s.inf == nil {
		n, err := s.readRaw(p)
		if (err == nil && s.remaining == 0) || errors.Is(err, io.EOF) {
			s.exhausted = true
			if cerr := s.closeLocked(); cerr != nil && err == nil {
				err = cerr
			}
		}
		return n, err
	}

	n, err := s.inf.Read(p)
	if errors.Is(err, io.EOF) {
		s.exhausted = true
		if cerr := s.closeLocked(); cerr != nil {
			return n, cerr
		}
		return n, io.EOF
	}
	return n, err
}

// readRaw reads the next bytes of the raw range. The caller holds the mutex.
func (s *entryStream) readRaw(p []byte) (int, error) {
	if s.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > s.remaining {
		p = p[:s.remaining]
	}
	n, err := s.src.ReadAt(p, s.off)
	s.off += int64(n)
	s.remaining -= int64(n)
	if errors.Is(err, io.EOF) {
		if s.remaining > 0 {
			return n, io.ErrUnexpectedEOF
		}
		err = nil
	}
	return n, err
}

// Close releases the stream. Closing twice is a no-op.
func (s *entryStream) Close() error {
	s.res.mu.Lock()
	defer s.res.mu.Unlock()
	return s.closeLocked()
}

func (s *entryStream) closeLocked() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.res.untrackLocked(s)
	s.owner = nil
	if s.inf == nil {
		return nil
	}
	inf := s.inf
	s.inf = nil
	return s.res.releaseInflaterLocked(inf)
}

// rawReader feeds an inflater from the stream's range without taking the
// mutex, which the inflating Read already holds.
type rawReader struct {
	s *entryStream
}

func (r rawReader) Read(p []byte) (int, error) {
	return r.s.readRaw(p)
}

// emptyStream is returned for directory entries.
func emptyStream() io.ReadCloser {
	return io.NopCloser(bytes.NewReader(nil))
}
