package zipfmt

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, comment string, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.SetComment(comment))
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestFindEnd(t *testing.T) {
	t.Parallel()

	data := buildZip(t, "hello comment", map[string]string{"a.txt": "alpha"})
	end, err := FindEnd(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), end.Entries)
	assert.Equal(t, uint16(len("hello comment")), end.CommentLength)
	assert.Equal(t, int64(len(data))-EndSize-int64(end.CommentLength), end.Pos)
	assert.Equal(t, int64(len(data)), end.Pos+EndSize+int64(end.CommentLength))

	start, err := end.StartOffset(int64(len(data)))
	require.NoError(t, err)
	assert.Zero(t, start)
}

func TestFindEndNotFound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
	}{
		{"too small", []byte("PK")},
		{"no signature", bytes.Repeat([]byte{0}, 4096)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := FindEnd(bytes.NewReader(tt.data), int64(len(tt.data)))
			assert.ErrorIs(t, err, ErrEndNotFound)
		})
	}
}

func TestStartOffsetWithPrefix(t *testing.T) {
	t.Parallel()

	archive := buildZip(t, "", map[string]string{"a.txt": "alpha"})
	prefix := []byte("#!/bin/sh\nexec java -jar \"$0\" \"$@\"\n")
	data := append(append([]byte{}, prefix...), archive...)

	end, err := FindEnd(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	start, err := end.StartOffset(int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, int64(len(prefix)), start)
}

func TestParseCentralHeader(t *testing.T) {
	t.Parallel()

	data := buildZip(t, "", map[string]string{"dir/file.txt": "content"})
	end, err := FindEnd(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	cd := data[end.DirectoryOffset:]
	h, err := ParseCentralHeader(cd)
	require.NoError(t, err)
	assert.Equal(t, MethodStored, h.Method)
	assert.Equal(t, uint64(len("content")), h.UncompressedSize)
	assert.Equal(t, uint64(len("content")), h.CompressedSize)
	assert.Equal(t, "dir/file.txt", string(cd[CentralHeaderSize:CentralHeaderSize+int(h.NameLength)]))
	assert.Equal(t, end.DirectorySize, uint64(h.Size()))

	local, err := ParseLocalHeader(data[h.LocalHeaderOffset:])
	require.NoError(t, err)
	assert.Equal(t, h.NameLength, local.NameLength)

	_, err = ParseCentralHeader(data[:CentralHeaderSize])
	assert.ErrorIs(t, err, ErrFormat)
	_, err = ParseCentralHeader(cd[:10])
	assert.ErrorIs(t, err, ErrFormat)
}

func TestApplyZip64(t *testing.T) {
	t.Parallel()

	h := CentralHeader{CompressedSize: max32, UncompressedSize: max32, LocalHeaderOffset: 7}
	extra := binary.LittleEndian.AppendUint16(nil, 0x5455) // unrelated field first
	extra = binary.LittleEndian.AppendUint16(extra, 1)
	extra = append(extra, 0)
	extra = binary.LittleEndian.AppendUint16(extra, zip64ExtraID)
	extra = binary.LittleEndian.AppendUint16(extra, 16)
	extra = binary.LittleEndian.AppendUint64(extra, 5<<32)
	extra = binary.LittleEndian.AppendUint64(extra, 3<<32)

	require.NoError(t, h.ApplyZip64(extra))
	assert.Equal(t, uint64(5<<32), h.UncompressedSize)
	assert.Equal(t, uint64(3<<32), h.CompressedSize)
	assert.Equal(t, uint64(7), h.LocalHeaderOffset)

	missing := CentralHeader{LocalHeaderOffset: max32}
	assert.ErrorIs(t, missing.ApplyZip64(nil), ErrFormat)
}

func TestReadZip64(t *testing.T) {
	t.Parallel()

	plain := buildZip(t, "", map[string]string{"a.txt": "alpha"})
	end, err := FindEnd(bytes.NewReader(plain), int64(len(plain)))
	require.NoError(t, err)

	le := binary.LittleEndian
	data := append([]byte{}, plain[:end.Pos]...)
	recordPos := uint64(len(data))

	data = le.AppendUint32(data, Zip64EndSignature)
	data = le.AppendUint64(data, Zip64EndSize-12)
	data = le.AppendUint16(data, 45)
	data = le.AppendUint16(data, 45)
	data = le.AppendUint32(data, 0)
	data = le.AppendUint32(data, 0)
	data = le.AppendUint64(data, end.Entries)
	data = le.AppendUint64(data, end.Entries)
	data = le.AppendUint64(data, end.DirectorySize)
	data = le.AppendUint64(data, end.DirectoryOffset)

	data = le.AppendUint32(data, Zip64LocatorSignature)
	data = le.AppendUint32(data, 0)
	data = le.AppendUint64(data, recordPos)
	data = le.AppendUint32(data, 1)

	data = le.AppendUint32(data, EndSignature)
	data = le.AppendUint16(data, 0)
	data = le.AppendUint16(data, 0)
	data = le.AppendUint16(data, max16)
	data = le.AppendUint16(data, max16)
	data = le.AppendUint32(data, max32)
	data = le.AppendUint32(data, max32)
	data = le.AppendUint16(data, 0)

	r := bytes.NewReader(data)
	found, err := FindEnd(r, int64(len(data)))
	require.NoError(t, err)
	found, err = ReadZip64(r, found)
	require.NoError(t, err)

	assert.Equal(t, end.Entries, found.Entries)
	assert.Equal(t, end.DirectoryOffset, found.DirectoryOffset)
	assert.Equal(t, int64(Zip64EndSize+Zip64LocatorSize), found.Zip64Size)

	start, err := found.StartOffset(int64(len(data)))
	require.NoError(t, err)
	assert.Zero(t, start)
}

func TestEncodeRoundTrip(t *testing.T) {
	t.Parallel()

	local, err := AppendLocalHeader(nil, LocalHeader{Method: MethodStored, CompressedSize: 3, UncompressedSize: 3}, "x.txt")
	require.NoError(t, err)
	lh, err := ParseLocalHeader(local)
	require.NoError(t, err)
	assert.Equal(t, int64(len(local)), lh.Size())

	central, err := AppendCentralHeader(nil, CentralHeader{Method: MethodDeflated, CompressedSize: 2, UncompressedSize: 3}, "x.txt", "c")
	require.NoError(t, err)
	ch, err := ParseCentralHeader(central)
	require.NoError(t, err)
	assert.Equal(t, int64(len(central)), ch.Size())
	assert.Equal(t, MethodDeflated, ch.Method)

	end, err := AppendEnd(nil, 1, uint64(len(central)), 0, "")
	require.NoError(t, err)
	assert.Len(t, end, EndSize)

	_, err = AppendCentralHeader(nil, CentralHeader{CompressedSize: max32}, "big", "")
	assert.ErrorIs(t, err, ErrFormat)
}

func TestDOSTime(t *testing.T) {
	t.Parallel()

	// 2024-03-15 10:30:42
	date := uint16((2024-1980)<<9 | 3<<5 | 15)
	tm := uint16(10<<11 | 30<<5 | 21)
	assert.Equal(t, time.Date(2024, 3, 15, 10, 30, 42, 0, time.UTC), DOSTime(date, tm))
}
