// Package inflate provides resettable raw DEFLATE decompressors and a bounded
// free list for reusing them.
package inflate

import (
	"errors"
	"io"

	"github.com/klauspost/compress/flate"
)

// ErrEnded is returned when an inflater is used after End.
var ErrEnded = errors.New("inflate: inflater ended")

// Inflater decompresses a raw DEFLATE stream, the framing used inside zip
// members (no zlib or gzip wrapper). An Inflater can be Reset onto a new
// compressed stream any number of times until End is called.
type Inflater struct {
	rc    io.ReadCloser
	ended bool
}

// New returns an Inflater reading compressed data from r.
func New(r io.Reader) *Inflater {
	return &Inflater{rc: flate.NewReader(r)}
}

// Read reads decompressed bytes.
func (i *Inflater) Read(p []byte) (int, error) {
	if i.ended {
		return 0, ErrEnded
	}
	return i.rc.Read(p)
}

// Reset discards any buffered state and switches to reading from r.
func (i *Inflater) Reset(r io.Reader) error {
	if i.ended {
		return ErrEnded
	}
	resetter, ok := i.rc.(flate.Resetter)
	if !ok {
		i.rc = flate.NewReader(r)
		return nil
	}
	return resetter.Reset(r, nil)
}

// End releases the decompressor. A second call returns ErrEnded.
func (i *Inflater) End() error {
	if i.ended {
		return ErrEnded
	}
	i.ended = true
	_ = i.rc.Close() //nolint:errcheck // decoder errors were already returned by Read
	return nil
}

// Ended reports whether End has been called.
func (i *Inflater) Ended() bool {
	return i.ended
}

// FreeList is a bounded LIFO of idle inflaters. It is not safe for concurrent
// use; callers serialize access with their own lock.
type FreeList struct {
	items []*Inflater
	limit int
}

// NewFreeList returns a free list holding at most limit inflaters.
func NewFreeList(limit int) *FreeList {
	if limit < 0 {
		limit = 0
	}
	return &FreeList{items: make([]*Inflater, 0, limit), limit: limit}
}

// Pop returns the most recently pushed inflater, or nil when empty.
func (l *FreeList) Pop() *Inflater {
	n := len(l.items)
	if n == 0 {
		return nil
	}
	inf := l.items[n-1]
	l.items[n-1] = nil
	l.items = l.items[:n-1]
	return inf
}

// Push adds inf if there is spare capacity and reports whether it was kept.
func (l *FreeList) Push(inf *Inflater) bool {
	if len(l.items) >= l.limit {
		return false
	}
	l.items = append(l.items, inf)
	return true
}

// Len returns the number of idle inflaters.
func (l *FreeList) Len() int {
	return len(l.items)
}

// Drain removes and returns every idle inflater.
func (l *FreeList) Drain() []*Inflater {
	items := l.items
	l.items = nil
	return items
}
