package disk

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nested "github.com/meigma/nested/core"
	"github.com/meigma/nested/core/cache"
	"github.com/meigma/nested/core/testutil"
)

func TestBlockCacheReadAtReuse(t *testing.T) {
	t.Parallel()

	bc, err := NewBlockCache(t.TempDir())
	require.NoError(t, err)

	src := testutil.NewMockByteSource([]byte("abcdefghijklmnopqrstuvwxyz"))
	cached, err := bc.Wrap(src, cache.WithBlockSize(8))
	require.NoError(t, err)

	tests := []struct {
		name      string
		off       int64
		size      int
		want      string
		wantReads int64
	}{
		{name: "first block miss", off: 2, size: 4, want: "cdef", wantReads: 1},
		{name: "first block hit", off: 5, size: 3, want: "fgh", wantReads: 1},
		{name: "second block miss", off: 9, size: 2, want: "jk", wantReads: 2},
		{name: "spans cached blocks", off: 6, size: 6, want: "ghijkl", wantReads: 2},
	}
	for _, tt := range tests {
		buf := make([]byte, tt.size)
		n, err := cached.ReadAt(buf, tt.off)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, string(buf[:n]), tt.name)
		assert.Equal(t, tt.wantReads, src.Reads(), tt.name)
	}

	assert.Equal(t, cache.Stats{Hits: 3, Misses: 2}, bc.Stats())
	assert.Equal(t, int64(16), bc.SizeBytes())
}

func TestBlockCacheTail(t *testing.T) {
	t.Parallel()

	bc, err := NewBlockCache(t.TempDir(), WithShardPrefixLen(0))
	require.NoError(t, err)
	cached, err := bc.Wrap(testutil.NewMockByteSource([]byte("0123456789")), cache.WithBlockSize(4))
	require.NoError(t, err)

	buf := make([]byte, 8)
	n, err := cached.ReadAt(buf, 6)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "6789", string(buf[:n]))

	_, err = cached.ReadAt(buf, 10)
	assert.ErrorIs(t, err, io.EOF)
	_, err = cached.ReadAt(buf, -1)
	assert.Error(t, err)
}

func TestBlockCacheBypassesLargeReads(t *testing.T) {
	t.Parallel()

	bc, err := NewBlockCache(t.TempDir())
	require.NoError(t, err)
	data := testutil.Pattern(1024)
	cached, err := bc.Wrap(testutil.NewMockByteSource(data), cache.WithBlockSize(16), cache.WithMaxBlocksPerRead(2))
	require.NoError(t, err)

	buf := make([]byte, 100)
	n, err := cached.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, data[:100], buf[:n])
	assert.Zero(t, bc.SizeBytes())
}

func TestBlockCachePersists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	data := []byte("persisted block data")
	first, err := NewBlockCache(dir)
	require.NoError(t, err)
	cached, err := first.Wrap(testutil.NewMockByteSource(data))
	require.NoError(t, err)
	_, err = cached.ReadAt(make([]byte, 4), 0)
	require.NoError(t, err)

	second, err := NewBlockCache(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), second.SizeBytes())

	src := testutil.NewMockByteSource(data)
	again, err := second.Wrap(src)
	require.NoError(t, err)
	buf := make([]byte, 9)
	_, err = again.ReadAt(buf, 10)
	require.NoError(t, err)
	assert.Equal(t, "block dat", string(buf))
	assert.Zero(t, src.Reads())
}

func TestBlockCacheMaxBytes(t *testing.T) {
	t.Parallel()

	bc, err := NewBlockCache(t.TempDir(), WithMaxBytes(16))
	require.NoError(t, err)
	cached, err := bc.Wrap(testutil.NewMockByteSource(testutil.Pattern(64)), cache.WithBlockSize(8))
	require.NoError(t, err)

	for off := int64(0); off < 64; off += 8 {
		_, err := cached.ReadAt(make([]byte, 8), off)
		require.NoError(t, err)
		assert.LessOrEqual(t, bc.SizeBytes(), int64(16))
	}

	freed, err := bc.Prune(0)
	require.NoError(t, err)
	assert.Positive(t, freed)
	assert.Zero(t, bc.SizeBytes())
}

func TestPruneDirRemovesTempFilesFirst(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "aaaa"), make([]byte, 10), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, tempPrefix+"1"), make([]byte, 10), 0o600))

	freed, remaining, err := pruneDir(dir, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), freed)
	assert.Equal(t, int64(10), remaining)
	assert.FileExists(t, filepath.Join(dir, "aaaa"))
}

func TestBlockCacheWrapErrors(t *testing.T) {
	t.Parallel()

	bc, err := NewBlockCache(t.TempDir())
	require.NoError(t, err)

	_, err = bc.Wrap(nil)
	assert.Error(t, err)
	_, err = bc.Wrap(testutil.NewMockByteSource(nil), cache.WithBlockSize(0))
	assert.Error(t, err)
	_, err = bc.Wrap(testutil.NewMockByteSource(nil), cache.WithMaxBlocksPerRead(-1))
	assert.Error(t, err)

	_, err = NewBlockCache("")
	assert.Error(t, err)
	_, err = NewBlockCache(t.TempDir(), WithMaxBytes(-1))
	assert.Error(t, err)
}

func TestBlockCacheForwardsClose(t *testing.T) {
	t.Parallel()

	bc, err := NewBlockCache(t.TempDir())
	require.NoError(t, err)
	src := testutil.NewClosingByteSource([]byte("x"), nil)
	cached, err := bc.Wrap(src)
	require.NoError(t, err)

	closer, ok := cached.(io.Closer)
	require.True(t, ok)
	require.NoError(t, closer.Close())
	assert.Equal(t, int64(1), src.Closes())
}

func TestBlockCacheNestedReader(t *testing.T) {
	t.Parallel()

	inner := testutil.NewZip().DeflateString("deep.txt", "deep content").MustBuild(t)
	outer := testutil.NewZip().Store("lib/inner.jar", inner).StoreString("top.txt", "top").MustBuild(t)

	bc, err := NewBlockCache(t.TempDir())
	require.NoError(t, err)

	read := func() (string, int64) {
		src := testutil.NewMockByteSource(outer)
		cached, err := bc.Wrap(src, cache.WithBlockSize(256))
		require.NoError(t, err)
		r, err := nested.OpenSource(cached, "lib/inner.jar")
		require.NoError(t, err)
		defer r.Close()
		e, err := r.Entry("deep.txt")
		require.NoError(t, err)
		rc, err := r.Open(e)
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		return string(data), src.Reads()
	}

	got, coldReads := read()
	assert.Equal(t, "deep content", got)
	assert.Positive(t, coldReads)

	got, warmReads := read()
	assert.Equal(t, "deep content", got)
	assert.Zero(t, warmReads)
}
