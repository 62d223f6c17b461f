package cache

import (
	"errors"
	"fmt"
	"io"
)

// Reader reads a ByteSource one block at a time through a BlockStore.
type Reader struct {
	src   ByteSource
	store BlockStore
	id    string
	cfg   WrapConfig
}

// NewReader returns src read through store. The result implements
// io.Closer when src does.
func NewReader(src ByteSource, store BlockStore, opts ...WrapOption) (ByteSource, error) {
	if src == nil {
		return nil, errors.New("block cache: source is nil")
	}
	cfg, err := NewWrapConfig(opts...)
	if err != nil {
		return nil, err
	}
	id := src.SourceID()
	if id == "" {
		return nil, errors.New("block cache: source id is empty")
	}
	r := &Reader{src: src, store: store, id: id, cfg: cfg}
	if c, ok := src.(io.Closer); ok {
		return &closingReader{Reader: r, closer: c}, nil
	}
	return r, nil
}

// Size returns the size of the underlying source.
func (r *Reader) Size() int64 { return r.src.Size() }

// SourceID returns the ID of the underlying source.
func (r *Reader) SourceID() string { return r.id }

// ReadAt fills p from the blocks covering [off, off+len(p)).
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if len(p) == 0 {
		return 0, nil
	}
	size := r.src.Size()
	if off >= size {
		return 0, io.EOF
	}
	want := min(int64(len(p)), size-off)
	bs := r.cfg.BlockSize
	first, last := off/bs, (off+want-1)/bs
	if limit := int64(r.cfg.MaxBlocksPerRead); limit > 0 && last-first >= limit {
		return r.src.ReadAt(p, off)
	}

	done := 0
	for idx := first; idx <= last; idx++ {
		start := idx * bs
		length := min(bs, size-start)
		block, err := r.store.Block(BlockKey{SourceID: r.id, BlockSize: bs, Index: idx}, length, func() ([]byte, error) {
			return r.fetch(start, length)
		})
		if err != nil {
			return done, err
		}
		if int64(len(block)) != length {
			return done, io.ErrUnexpectedEOF
		}
		from := max(off, start) - start
		done += copy(p[done:want], block[from:])
	}
	if want < int64(len(p)) {
		return done, io.EOF
	}
	return done, nil
}

func (r *Reader) fetch(off, length int64) ([]byte, error) {
	buf := make([]byte, length)
	n, err := r.src.ReadAt(buf, off)
	if int64(n) == length {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return nil, err
}

type closingReader struct {
	*Reader
	closer io.Closer
}

func (r *closingReader) Close() error { return r.closer.Close() }
