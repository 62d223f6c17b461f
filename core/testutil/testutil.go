// Package testutil provides in-memory sources and zip fixtures for tests.
package testutil

import (
	"bytes"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"
)

// FixtureTime is the modification time given to fixture entries.
var FixtureTime = time.Date(2024, 3, 15, 10, 30, 42, 0, time.UTC)

// MockByteSource implements a simple in-memory byte source for tests.
type MockByteSource struct {
	data     []byte
	sourceID string
	reads    atomic.Int64
}

// NewMockByteSource returns a byte source backed by the provided data.
func NewMockByteSource(data []byte) *MockByteSource {
	return &MockByteSource{
		data:     data,
		sourceID: "mock:" + digest.FromBytes(data).String(),
	}
}

// ReadAt implements io.ReaderAt semantics over the backing slice.
func (m *MockByteSource) ReadAt(p []byte, off int64) (int, error) {
	m.reads.Add(1)
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the total size of the backing data.
func (m *MockByteSource) Size() int64 {
	return int64(len(m.data))
}

// SourceID returns a stable identifier for the source data.
func (m *MockByteSource) SourceID() string {
	return m.sourceID
}

// Bytes returns the backing slice for tests that need to mutate data.
func (m *MockByteSource) Bytes() []byte {
	return m.data
}

// Reads returns the number of ReadAt calls served.
func (m *MockByteSource) Reads() int64 {
	return m.reads.Load()
}

// ClosingByteSource is a MockByteSource that records Close calls.
type ClosingByteSource struct {
	*MockByteSource
	closes atomic.Int64
	err    error
}

// NewClosingByteSource returns a source whose Close returns err.
func NewClosingByteSource(data []byte, err error) *ClosingByteSource {
	return &ClosingByteSource{MockByteSource: NewMockByteSource(data), err: err}
}

// Close records the call.
func (c *ClosingByteSource) Close() error {
	c.closes.Add(1)
	return c.err
}

// Closes returns the number of Close calls.
func (c *ClosingByteSource) Closes() int64 {
	return c.closes.Load()
}

type fixtureFile struct {
	name    string
	content []byte
	method  uint16
	raw     bool
	comment string
}

// Zip builds zip archives for tests. Entries are written in the order they
// are added.
type Zip struct {
	files   []fixtureFile
	comment string
	prefix  []byte
}

// NewZip returns an empty builder.
func NewZip() *Zip {
	return &Zip{}
}

// Store adds an uncompressed entry.
func (z *Zip) Store(name string, content []byte) *Zip {
	z.files = append(z.files, fixtureFile{name: name, content: content, method: zip.Store})
	return z
}

// StoreString adds an uncompressed entry with string content.
func (z *Zip) StoreString(name, content string) *Zip {
	return z.Store(name, []byte(content))
}

// Deflate adds a DEFLATE-compressed entry.
func (z *Zip) Deflate(name string, content []byte) *Zip {
	z.files = append(z.files, fixtureFile{name: name, content: content, method: zip.Deflate})
	return z
}

// DeflateString adds a DEFLATE-compressed entry with string content.
func (z *Zip) DeflateString(name, content string) *Zip {
	return z.Deflate(name, []byte(content))
}

// Dir adds a directory record. name must end in "/".
func (z *Zip) Dir(name string) *Zip {
	z.files = append(z.files, fixtureFile{name: name, method: zip.Store})
	return z
}

// Raw adds an entry whose bytes are written as they are under the given
// method number, for methods the writer cannot produce.
func (z *Zip) Raw(name string, method uint16, content []byte) *Zip {
	z.files = append(z.files, fixtureFile{name: name, content: content, method: method, raw: true})
	return z
}

// EntryComment sets the comment of the most recently added entry.
func (z *Zip) EntryComment(comment string) *Zip {
	if n := len(z.files); n > 0 {
		z.files[n-1].comment = comment
	}
	return z
}

// Comment sets the archive comment.
func (z *Zip) Comment(comment string) *Zip {
	z.comment = comment
	return z
}

// Prefix prepends bytes to the archive without adjusting its offsets, as
// concatenating a launch script and an archive does.
func (z *Zip) Prefix(prefix []byte) *Zip {
	z.prefix = prefix
	return z
}

// Build writes the archive.
func (z *Zip) Build() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range z.files {
		hdr := &zip.FileHeader{
			Name:     f.name,
			Method:   f.method,
			Modified: FixtureTime,
			Comment:  f.comment,
		}
		if f.raw {
			hdr.CRC32 = crc32.ChecksumIEEE(f.content)
			hdr.CompressedSize64 = uint64(len(f.content))
			hdr.UncompressedSize64 = uint64(len(f.content))
			w, err := zw.CreateRaw(hdr)
			if err != nil {
				return nil, err
			}
			if _, err := w.Write(f.content); err != nil {
				return nil, err
			}
			continue
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(f.content); err != nil {
			return nil, err
		}
	}
	if z.comment != "" {
		if err := zw.SetComment(z.comment); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	if len(z.prefix) == 0 {
		return buf.Bytes(), nil
	}
	return append(append([]byte{}, z.prefix...), buf.Bytes()...), nil
}

// MustBuild writes the archive and fails the test on error.
func (z *Zip) MustBuild(t testing.TB) []byte {
	t.Helper()
	data, err := z.Build()
	require.NoError(t, err)
	return data
}

// WriteFile writes data to name inside dir and returns the absolute path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, data, 0o600))
	abs, err := filepath.Abs(path)
	require.NoError(t, err)
	return abs
}

// Pattern returns n bytes of a repeating, position-dependent pattern.
func Pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}
