package nested

import (
	"fmt"
	"io"
	"sort"

	"github.com/meigma/nested/core/internal/zipfmt"
)

// VirtualData returns a standalone zip holding the entries of the index. The
// entry data is read from the container; only headers are synthesized. Entry
// names are the index's names, so a directory scoped index becomes an archive
// rooted at that directory. Extra fields are not carried over.
//
// The result is built once and reused.
func (idx *Index) VirtualData() (ByteSource, error) {
	idx.virtualOnce.Do(func() {
		idx.virtual, idx.virtualErr = idx.buildVirtual()
	})
	return idx.virtual, idx.virtualErr
}

func (idx *Index) buildVirtual() (ByteSource, error) {
	var (
		parts   []part
		central []byte
		offset  int64
	)
	for _, e := range idx.entries {
		r, err := idx.RawRange(e)
		if err != nil {
			return nil, err
		}
		h := e.header
		h.Flags &^= dataDescriptorFlag
		if h.CompressedSize > 0xFFFFFFFE || h.UncompressedSize > 0xFFFFFFFE {
			return nil, fmt.Errorf("%w: %s is too large for a virtual archive", ErrSizeOverflow, e.RealName)
		}
		local, err := zipfmt.AppendLocalHeader(nil, zipfmt.LocalHeader{
			VersionNeeded:    h.VersionNeeded,
			Flags:            h.Flags,
			Method:           h.Method,
			ModTime:          h.ModTime,
			ModDate:          h.ModDate,
			CRC32:            h.CRC32,
			CompressedSize:   uint32(h.CompressedSize),   //nolint:gosec // checked above
			UncompressedSize: uint32(h.UncompressedSize), //nolint:gosec // checked above
		}, e.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSizeOverflow, err)
		}
		h.LocalHeaderOffset = uint64(offset) //nolint:gosec // offset is non-negative
		if central, err = zipfmt.AppendCentralHeader(central, h, e.Name, e.Comment); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSizeOverflow, err)
		}
		parts = append(parts,
			part{data: local, size: int64(len(local))},
			part{src: idx.src, off: r.Offset, size: r.Length})
		offset += int64(len(local)) + r.Length
	}
	end, err := zipfmt.AppendEnd(nil, uint64(len(idx.entries)), uint64(len(central)), uint64(offset), idx.comment) //nolint:gosec // non-negative
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSizeOverflow, err)
	}
	parts = append(parts,
		part{data: central, size: int64(len(central))},
		part{data: end, size: int64(len(end))})

	idx.log().Debug("built virtual zip", "source", idx.sourceID, "entries", len(idx.entries))
	return newMultiSource(parts, idx.sourceID+"#virtual"), nil
}

// part is either an in-memory slice or a range of another source.
type part struct {
	data  []byte
	src   io.ReaderAt
	off   int64
	size  int64
	start int64
}

// multiSource concatenates parts into one ByteSource.
type multiSource struct {
	parts []part
	size  int64
	id    string
}

func newMultiSource(parts []part, id string) *multiSource {
	var size int64
	for i := range parts {
		parts[i].start = size
		size += parts[i].size
	}
	return &multiSource{parts: parts, size: size, id: id}
}

func (m *multiSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset", ErrMalformedArchive)
	}
	if off >= m.size {
		return 0, io.EOF
	}
	i := sort.Search(len(m.parts), func(i int) bool {
		return m.parts[i].start+m.parts[i].size > off
	})
	total := 0
	for ; i < len(m.parts) && total < len(p); i++ {
		pt := m.parts[i]
		rel := off + int64(total) - pt.start
		want := min(int64(len(p)-total), pt.size-rel)
		if want <= 0 {
			continue
		}
		dst := p[total : total+int(want)]
		if pt.src == nil {
			copy(dst, pt.data[rel:])
		} else if err := readFull(pt.src, dst, pt.off+rel); err != nil {
			return total, err
		}
		total += int(want)
	}
	if total < len(p) {
		return total, io.EOF
	}
	return total, nil
}

func (m *multiSource) Size() int64 {
	return m.size
}

func (m *multiSource) SourceID() string {
	return m.id
}
