package nested

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/meigma/nested/core/internal/sizing"
	"github.com/meigma/nested/core/internal/zipfmt"
)

const (
	metaInf            = "META-INF/"
	signatureExt       = ".DSA"
	manifestName       = "META-INF/MANIFEST.MF"
	versionsRoot       = "META-INF/versions/"
	dataDescriptorFlag = 0x8
)

// Entry describes one central directory record. Entries are immutable values
// copied out of the index.
type Entry struct {
	// Name is the name the entry is addressed by. For entries of a directory
	// scoped index the directory prefix is stripped; for multi-release
	// entries it is the requested base name.
	Name string

	// RealName is the name stored in the central directory.
	RealName string

	Method            uint16
	CompressedSize    uint64
	UncompressedSize  uint64
	LocalHeaderOffset uint64
	CRC32             uint32
	Modified          time.Time
	Comment           string
	Extra             []byte

	header zipfmt.CentralHeader
}

// IsDir reports whether the entry is a directory record.
func (e Entry) IsDir() bool {
	return strings.HasSuffix(e.RealName, "/")
}

// Range is a byte range inside the backing container source.
type Range struct {
	Offset int64
	Length int64
}

// Index is the parsed central directory of one archive. The archive may be
// the whole container, the raw bytes of a stored entry inside another
// archive, or a directory inside another archive.
//
// An Index is safe for concurrent use. It holds no resources of its own;
// the container it reads from is owned by the caller.
type Index struct {
	src      io.ReaderAt
	sourceID string
	base     int64 // start of this archive's range within src
	length   int64
	start    int64 // bytes prefixed to the archive within the range
	dir      string
	logger   *slog.Logger

	entries []Entry
	byName  map[string]int
	comment string
	signed  bool

	versionsOnce sync.Once
	versions     []int

	ranges sync.Map // local header offset -> Range

	virtualOnce sync.Once
	virtual     ByteSource
	virtualErr  error
}

// Build indexes the archive in src. When nestedEntryName is non-empty the
// outer archive is indexed first and the named entry is indexed in its place:
// a stored entry as an archive of its own, a directory entry as a directory
// scoped view of the outer archive.
func Build(src ByteSource, nestedEntryName string, opts ...Option) (*Index, error) {
	cfg := newConfig(opts)
	return buildIndex(src, nestedEntryName, cfg.log())
}

func buildIndex(src ByteSource, nestedEntryName string, logger *slog.Logger) (*Index, error) {
	idx, err := loadIndex(src, src.SourceID(), 0, src.Size(), logger)
	if err != nil {
		return nil, err
	}
	if nestedEntryName == "" {
		return idx, nil
	}
	return idx.Nested(nestedEntryName)
}

// NewIndex indexes the archive in src.
func NewIndex(src ByteSource, opts ...Option) (*Index, error) {
	return Build(src, "", opts...)
}

// BuildFile opens the container at path and indexes it like Build. The
// returned container must be closed once the index is no longer used.
func BuildFile(path, nestedEntryName string, opts ...Option) (*Index, *Container, error) {
	cfg := newConfig(opts)
	c, err := openContainer(path, &cfg)
	if err != nil {
		return nil, nil, annotate(err, "index", path, nestedEntryName)
	}
	idx, err := buildIndex(c, nestedEntryName, cfg.log())
	if err != nil {
		c.Close()
		return nil, nil, annotate(err, "index", path, nestedEntryName)
	}
	return idx, c, nil
}

func loadIndex(src io.ReaderAt, sourceID string, base, length int64, logger *slog.Logger) (*Index, error) {
	r := io.NewSectionReader(src, base, length)
	end, err := zipfmt.FindEnd(r, length)
	if err != nil {
		return nil, malformed(err)
	}
	if end, err = zipfmt.ReadZip64(r, end); err != nil {
		return nil, malformed(err)
	}
	start, err := end.StartOffset(length)
	if err != nil {
		return nil, malformed(err)
	}

	dirSize, err := sizing.ToInt(end.DirectorySize, ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	// Every record is at least CentralHeaderSize bytes, so a larger declared
	// count cannot be satisfied by the directory.
	if end.Entries > uint64(dirSize/zipfmt.CentralHeaderSize) {
		return nil, fmt.Errorf("%w: %d entries declared in a %d byte central directory", ErrMalformedArchive, end.Entries, dirSize)
	}
	cd := make([]byte, dirSize)
	if err := readFull(r, cd, start+int64(end.DirectoryOffset)); err != nil { //nolint:gosec // bounded by StartOffset
		return nil, fmt.Errorf("read central directory: %w", err)
	}

	count := int(end.Entries) //nolint:gosec // bounded by dirSize above
	idx := &Index{
		src:      src,
		sourceID: sourceID,
		base:     base,
		length:   length,
		start:    start,
		logger:   logger,
		entries:  make([]Entry, 0, count),
	}
	pos := 0
	for i := range count {
		h, err := zipfmt.ParseCentralHeader(cd[pos:])
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d of %d: %w", ErrMalformedArchive, i, count, err)
		}
		size := int(h.Size())
		if pos+size > len(cd) {
			return nil, fmt.Errorf("%w: entry %d overruns central directory", ErrMalformedArchive, i)
		}
		nameEnd := pos + zipfmt.CentralHeaderSize + int(h.NameLength)
		extraEnd := nameEnd + int(h.ExtraLength)
		extra := cd[nameEnd:extraEnd]
		if err := h.ApplyZip64(extra); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %w", ErrMalformedArchive, i, err)
		}
		name := string(cd[pos+zipfmt.CentralHeaderSize : nameEnd])
		idx.entries = append(idx.entries, Entry{
			Name:              name,
			RealName:          name,
			Method:            h.Method,
			CompressedSize:    h.CompressedSize,
			UncompressedSize:  h.UncompressedSize,
			LocalHeaderOffset: h.LocalHeaderOffset,
			CRC32:             h.CRC32,
			Modified:          h.Modified(),
			Comment:           string(cd[extraEnd : pos+size]),
			Extra:             extra,
			header:            h,
		})
		pos += size
	}

	if end.CommentLength > 0 {
		comment := make([]byte, end.CommentLength)
		if err := readFull(r, comment, end.CommentPos()); err != nil {
			return nil, fmt.Errorf("read archive comment: %w", err)
		}
		idx.comment = string(comment)
	}
	idx.finish()

	logger.Debug("loaded zip index",
		"source", sourceID,
		"entries", len(idx.entries),
		"offset", base,
		"size", length,
		"prefix", start)
	return idx, nil
}

// finish builds the name lookup and the signature flag.
func (idx *Index) finish() {
	idx.byName = make(map[string]int, len(idx.entries))
	for i, e := range idx.entries {
		if _, dup := idx.byName[e.Name]; !dup {
			idx.byName[e.Name] = i
		}
		if !idx.signed && len(e.RealName) > len(metaInf)+len(signatureExt) &&
			strings.HasPrefix(e.RealName, metaInf) && strings.HasSuffix(e.RealName, signatureExt) {
			idx.signed = true
		}
	}
}

// Nested returns the index for the named entry. A stored entry is indexed as
// an archive of its own and a directory entry yields a directory scoped
// view. Compressed entries fail with ErrCompressedNestedEntry.
func (idx *Index) Nested(name string) (*Index, error) {
	e, ok := idx.Lookup("", name)
	if !ok {
		if strings.HasSuffix(name, "/") && idx.hasPrefix(name) {
			return idx.directory(name), nil
		}
		return nil, &fs.PathError{Op: "nested", Path: name, Err: ErrEntryNotFound}
	}
	if e.IsDir() {
		return idx.directory(name), nil
	}
	if e.Method != zipfmt.MethodStored {
		return nil, &fs.PathError{Op: "nested", Path: name, Err: ErrCompressedNestedEntry}
	}
	r, err := idx.RawRange(e)
	if err != nil {
		return nil, err
	}
	idx.log().Debug("loading nested zip", "entry", name, "offset", r.Offset, "size", r.Length)
	nested, err := loadIndex(idx.src, idx.sourceID+"!/"+name, r.Offset, r.Length, idx.logger)
	if err != nil {
		return nil, &fs.PathError{Op: "nested", Path: name, Err: err}
	}
	return nested, nil
}

func (idx *Index) hasPrefix(prefix string) bool {
	for _, e := range idx.entries {
		if len(e.Name) > len(prefix) && strings.HasPrefix(e.Name, prefix) {
			return true
		}
	}
	return false
}

// directory returns a view of the entries below prefix with the prefix
// removed. META-INF entries of the outer archive are kept as they are and the
// directory record itself is dropped.
func (idx *Index) directory(prefix string) *Index {
	idx.log().Debug("loading nested directory", "entry", prefix)
	d := &Index{
		src:      idx.src,
		sourceID: idx.sourceID + "!/" + prefix,
		base:     idx.base,
		length:   idx.length,
		start:    idx.start,
		dir:      idx.dir + prefix,
		logger:   idx.logger,
		comment:  idx.comment,
	}
	for _, e := range idx.entries {
		switch {
		case strings.HasPrefix(e.Name, metaInf):
			d.entries = append(d.entries, e)
		case len(e.Name) > len(prefix) && strings.HasPrefix(e.Name, prefix):
			e.Name = e.Name[len(prefix):]
			d.entries = append(d.entries, e)
		}
	}
	d.finish()
	return d
}

// Lookup finds the entry named prefix+name.
func (idx *Index) Lookup(prefix, name string) (Entry, bool) {
	key := name
	if prefix != "" {
		key = prefix + name
	}
	i, ok := idx.byName[key]
	if !ok {
		return Entry{}, false
	}
	return idx.entries[i].detached(), true
}

// Entries returns the entries in central directory order.
func (idx *Index) Entries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, e := range idx.entries {
			if !yield(e.detached()) {
				return
			}
		}
	}
}

// detached returns e with its own copy of Extra, which otherwise aliases
// the index's central directory buffer.
func (e Entry) detached() Entry {
	e.Extra = slices.Clone(e.Extra)
	return e
}

// Len returns the number of entries.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Comment returns the archive comment.
func (idx *Index) Comment() string {
	return idx.comment
}

// HasSignatureFile reports whether the archive carries a META-INF/*.DSA
// signature file. Signatures are not verified.
func (idx *Index) HasSignatureFile() bool {
	return idx.signed
}

// Directory returns the directory prefix of a directory scoped index, or "".
func (idx *Index) Directory() string {
	return idx.dir
}

// Range returns the byte range of the archive within the container source.
func (idx *Index) Range() Range {
	return Range{Offset: idx.base, Length: idx.length}
}

// SourceID identifies the archive: the container identity plus the path of
// nested entries leading to it.
func (idx *Index) SourceID() string {
	return idx.sourceID
}

// RawRange returns the range of the entry's raw, possibly compressed bytes
// within the container source. The local header is read to skip its name and
// extra field, which may differ from the central directory copy.
func (idx *Index) RawRange(e Entry) (Range, error) {
	if v, ok := idx.ranges.Load(e.LocalHeaderOffset); ok {
		if r := v.(Range); uint64(r.Length) == e.CompressedSize { //nolint:gosec // lengths are non-negative
			return r, nil
		}
	}

	off, err := sizing.ToInt64(e.LocalHeaderOffset, ErrSizeOverflow)
	if err != nil {
		return Range{}, err
	}
	length, err := sizing.ToInt64(e.CompressedSize, ErrSizeOverflow)
	if err != nil {
		return Range{}, err
	}
	rel := idx.start + off
	if !sizing.Within(rel, zipfmt.LocalHeaderSize, idx.length) {
		return Range{}, fmt.Errorf("%w: local header of %s outside archive", ErrMalformedArchive, e.RealName)
	}
	var buf [zipfmt.LocalHeaderSize]byte
	if err := readFull(idx.src, buf[:], idx.base+rel); err != nil {
		return Range{}, fmt.Errorf("read local header of %s: %w", e.RealName, err)
	}
	lh, err := zipfmt.ParseLocalHeader(buf[:])
	if err != nil {
		return Range{}, fmt.Errorf("%w: %s: %w", ErrMalformedArchive, e.RealName, err)
	}
	data := rel + lh.Size()
	if !sizing.Within(data, length, idx.length) {
		return Range{}, fmt.Errorf("%w: data of %s outside archive", ErrMalformedArchive, e.RealName)
	}
	r := Range{Offset: idx.base + data, Length: length}
	idx.ranges.Store(e.LocalHeaderOffset, r)
	return r, nil
}

// RawSection returns a reader over the entry's raw bytes.
func (idx *Index) RawSection(e Entry) (*io.SectionReader, error) {
	r, err := idx.RawRange(e)
	if err != nil {
		return nil, err
	}
	return io.NewSectionReader(idx.src, r.Offset, r.Length), nil
}

func (idx *Index) log() *slog.Logger {
	if idx.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return idx.logger
}

func malformed(err error) error {
	return fmt.Errorf("%w: %w", ErrMalformedArchive, err)
}

// readFull fills p from r at off. An io.EOF alongside a full read is not an
// error.
func readFull(r io.ReaderAt, p []byte, off int64) error {
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
