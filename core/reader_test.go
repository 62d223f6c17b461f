package nested

import (
	"errors"
	"io"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/nested/core/internal/inflate"
	"github.com/meigma/nested/core/testutil"
)

func TestReaderOpenFile(t *testing.T) {
	t.Parallel()

	path := testutil.WriteFile(t, t.TempDir(), "sample.jar", sampleZip(t))
	for _, useMmap := range []bool{false, true} {
		r, err := Open(path, WithMmap(useMmap))
		require.NoError(t, err)

		assert.Equal(t, path, r.Name())
		n, err := r.Len()
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		comment, err := r.Comment()
		require.NoError(t, err)
		assert.Equal(t, "sample comment", comment)

		assert.Equal(t, storedContent, readEntry(t, r, "dir/stored.txt"))
		assert.Equal(t, deflatedContent, readEntry(t, r, "dir/deflated.txt"))
		assert.Empty(t, readEntry(t, r, "empty.txt"))
		require.NoError(t, r.Close())
	}
}

func TestReaderOpenNested(t *testing.T) {
	t.Parallel()

	inner := sampleZip(t)
	path := testutil.WriteFile(t, t.TempDir(), "outer.jar", outerZip(t, inner))

	r, err := OpenNested(path, "lib/inner.jar")
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, path+"[lib/inner.jar]", r.Name())
	assert.Equal(t, deflatedContent, readEntry(t, r, "dir/deflated.txt"))

	// The nested listing equals the listing of the extracted archive.
	extracted := testutil.WriteFile(t, t.TempDir(), "inner.jar", inner)
	plain, err := Open(extracted)
	require.NoError(t, err)
	defer plain.Close()
	want, err := plain.Entries()
	require.NoError(t, err)
	got, err := r.Entries()
	require.NoError(t, err)
	assert.Equal(t, names(want), names(got))
}

func TestReaderOpenErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	outer := testutil.WriteFile(t, dir, "outer.jar", outerZip(t, sampleZip(t)))
	notZip := testutil.WriteFile(t, dir, "plain.txt", []byte("definitely not a zip archive"))

	tests := []struct {
		name  string
		path  string
		entry string
		want  error
		code  platformerrors.ErrorCode
	}{
		{"missing file", filepath.Join(dir, "missing.jar"), "", fs.ErrNotExist, platformerrors.CodeNotFound},
		{"not a zip", notZip, "", ErrMalformedArchive, platformerrors.CodeInvalidInput},
		{"compressed nested", outer, "lib/packed.jar", ErrCompressedNestedEntry, platformerrors.CodeInvalidInput},
		{"missing nested", outer, "lib/none.jar", ErrEntryNotFound, platformerrors.CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := OpenNested(tt.path, tt.entry)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.code, platformerrors.GetCode(err))
			assert.False(t, platformerrors.IsRetryable(err))
		})
	}
}

func TestReaderDirectoryEntry(t *testing.T) {
	t.Parallel()

	r := openSample(t, sampleZip(t))
	e, err := r.Entry("dir/")
	require.NoError(t, err)
	assert.True(t, e.IsDir())

	rc, err := r.Open(e)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Empty(t, data)
	require.NoError(t, rc.Close())
}

func TestReaderUnsupportedMethod(t *testing.T) {
	t.Parallel()

	data := testutil.NewZip().Raw("packed.bin", 12, []byte("bzip2-ish")).MustBuild(t)
	r := openSample(t, data)
	e, err := r.Entry("packed.bin")
	require.NoError(t, err)

	_, err = r.Open(e)
	assert.ErrorIs(t, err, ErrUnsupportedCompression)
}

func TestReaderEntryNotFound(t *testing.T) {
	t.Parallel()

	r := openSample(t, sampleZip(t))
	_, err := r.Entry("nope.txt")
	assert.ErrorIs(t, err, ErrEntryNotFound)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestReaderMultiRelease(t *testing.T) {
	t.Parallel()

	data := multiReleaseZip(t)
	tests := []struct {
		runtime int
		entry   string
		want    string
	}{
		{15, "a.txt", "v11 a"},
		{15, "b.txt", "base b"},
		{21, "b.txt", "v17 b"},
		{10, "a.txt", "v9 a"},
		{8, "a.txt", "base a"},
	}
	for _, tt := range tests {
		r := openSample(t, data, WithRuntimeVersion(tt.runtime))
		assert.Equal(t, tt.want, readEntry(t, r, tt.entry), "%s at runtime %d", tt.entry, tt.runtime)
	}

	r := openSample(t, data, WithRuntimeVersion(15))
	_, err := r.Entry("only17.txt")
	assert.ErrorIs(t, err, ErrEntryNotFound)

	e, err := r.Entry("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", e.Name)
	assert.Equal(t, "META-INF/versions/11/a.txt", e.RealName)
}

func TestReaderMultiReleaseBaseVersion(t *testing.T) {
	t.Parallel()

	r := openSample(t, multiReleaseZip(t), WithBaseVersion(8), WithRuntimeVersion(8))
	assert.Equal(t, "v8 b", readEntry(t, r, "b.txt"))
}

func TestReaderNotMultiRelease(t *testing.T) {
	t.Parallel()

	data := testutil.NewZip().
		StoreString("a.txt", "base a").
		StoreString("META-INF/versions/11/a.txt", "v11 a").
		MustBuild(t)
	r := openSample(t, data)
	assert.Equal(t, "base a", readEntry(t, r, "a.txt"))

	m, err := r.Manifest()
	require.NoError(t, err)
	assert.Nil(t, m)

	seq, err := r.VersionedEntries()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "META-INF/versions/11/a.txt"}, names(seq))
}

func TestReaderVersionedEntries(t *testing.T) {
	t.Parallel()

	r := openSample(t, multiReleaseZip(t), WithRuntimeVersion(15))
	seq, err := r.VersionedEntries()
	require.NoError(t, err)

	got := map[string]string{}
	for e := range seq {
		got[e.Name] = e.RealName
	}
	assert.Equal(t, map[string]string{
		"META-INF/MANIFEST.MF": "META-INF/MANIFEST.MF",
		"a.txt":                "META-INF/versions/11/a.txt",
		"b.txt":                "b.txt",
	}, got)
}

func TestReaderManifest(t *testing.T) {
	t.Parallel()

	data := testutil.NewZip().
		StoreString("META-INF/MANIFEST.MF", "Manifest-Version: 1.0\r\n\r\nName: a.txt\r\nColor: blue\r\n\r\n").
		StoreString("a.txt", "a").
		MustBuild(t)
	r := openSample(t, data)

	m, err := r.Manifest()
	require.NoError(t, err)
	require.NotNil(t, m)
	again, err := r.Manifest()
	require.NoError(t, err)
	assert.Same(t, m, again)

	e, err := r.Entry("a.txt")
	require.NoError(t, err)
	attrs, err := r.EntryAttributes(e)
	require.NoError(t, err)
	assert.Equal(t, "blue", attrs.Get("color"))
}

func TestReaderLookupCache(t *testing.T) {
	t.Parallel()

	r := openSample(t, multiReleaseZip(t), WithRuntimeVersion(15))
	first, err := r.Entry("a.txt")
	require.NoError(t, err)
	second, err := r.Entry("a.txt")
	require.NoError(t, err)
	assert.Equal(t, first.RealName, second.RealName)

	// A cached miss for one prefix must not answer another.
	_, ok, err := r.lookup("META-INF/versions/17/", "a.txt")
	require.NoError(t, err)
	assert.False(t, ok)
	e, ok, err := r.lookup("META-INF/versions/11/", "a.txt")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "META-INF/versions/11/a.txt", e.RealName)
}

func TestReaderCloseIdempotent(t *testing.T) {
	t.Parallel()

	src := testutil.NewClosingByteSource(sampleZip(t), nil)
	r, err := OpenSource(src, "")
	require.NoError(t, err)

	// Leave a deflated stream open, and return another inflater to the pool.
	e, err := r.Entry("dir/deflated.txt")
	require.NoError(t, err)
	open, err := r.Open(e)
	require.NoError(t, err)
	pooled, err := r.Open(e)
	require.NoError(t, err)
	_, err = io.ReadAll(pooled)
	require.NoError(t, err)
	require.NoError(t, pooled.Close())
	assert.Equal(t, 1, r.res.inflaters.Len())

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Equal(t, int64(1), src.Closes())
	assert.Nil(t, r.res.inflaters)
	assert.Empty(t, r.res.streams)

	// Closing the stream after the reader never ends its inflater twice.
	require.NoError(t, open.Close())
}

func TestReaderCloseAggregatesErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	r, err := OpenSource(testutil.NewClosingByteSource(sampleZip(t), boom), "")
	require.NoError(t, err)

	err = r.Close()
	var agg *AggregateCloseError
	require.ErrorAs(t, err, &agg)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, agg.Errs, 1)
	assert.NoError(t, r.Close())
}

func TestReaderCloseWithPooledAndOpenStreams(t *testing.T) {
	t.Parallel()

	src := testutil.NewClosingByteSource(sampleZip(t), nil)
	r, err := OpenSource(src, "")
	require.NoError(t, err)
	e, err := r.Entry("dir/deflated.txt")
	require.NoError(t, err)

	streams := make([]io.ReadCloser, 5)
	for i := range streams {
		streams[i], err = r.Open(e)
		require.NoError(t, err)
	}
	for _, s := range streams[:2] {
		_, err := io.ReadAll(s)
		require.NoError(t, err)
		require.NoError(t, s.Close())
	}
	_, err = io.ReadFull(streams[2], make([]byte, 10))
	require.NoError(t, err)
	require.Equal(t, 2, r.res.inflaters.Len())

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	for _, s := range streams {
		assert.NoError(t, s.Close())
	}
	assert.Equal(t, int64(1), src.Closes())
}

func TestReaderCloseAggregatesEveryStage(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	src := testutil.NewClosingByteSource(sampleZip(t), boom)
	r, err := OpenSource(src, "")
	require.NoError(t, err)
	e, err := r.Entry("dir/deflated.txt")
	require.NoError(t, err)
	rc, err := r.Open(e)
	require.NoError(t, err)

	// An inflater that is already ended fails when the stream is torn down.
	s, ok := rc.(*entryStream)
	require.True(t, ok)
	require.NoError(t, s.inf.End())

	err = r.Close()
	var agg *AggregateCloseError
	require.ErrorAs(t, err, &agg)
	require.Len(t, agg.Errs, 2)
	assert.ErrorIs(t, agg.Errs[0], inflate.ErrEnded)
	assert.ErrorIs(t, agg.Errs[1], boom)
	assert.Equal(t, int64(1), src.Closes())
}

func TestReaderReleasedWhenUnreachable(t *testing.T) {
	t.Parallel()

	src := testutil.NewClosingByteSource(sampleZip(t), nil)
	func() {
		r, err := OpenSource(src, "")
		require.NoError(t, err)
		e, err := r.Entry("dir/deflated.txt")
		require.NoError(t, err)
		rc, err := r.Open(e)
		require.NoError(t, err)
		_, err = io.ReadFull(rc, make([]byte, 16))
		require.NoError(t, err)
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return src.Closes() == 1
	}, 5*time.Second, 10*time.Millisecond)
	runtime.GC()
	assert.Equal(t, int64(1), src.Closes())
}

func TestReaderUseAfterClose(t *testing.T) {
	t.Parallel()

	r, err := OpenSource(testutil.NewMockByteSource(sampleZip(t)), "")
	require.NoError(t, err)
	e, err := r.Entry("dir/stored.txt")
	require.NoError(t, err)
	rc, err := r.Open(e)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	_, err = r.Entry("dir/stored.txt")
	assert.ErrorIs(t, err, ErrUseAfterClose)
	_, err = r.Open(e)
	assert.ErrorIs(t, err, ErrUseAfterClose)
	_, err = r.Entries()
	assert.ErrorIs(t, err, ErrUseAfterClose)
	_, err = r.Manifest()
	assert.ErrorIs(t, err, ErrUseAfterClose)
	_, err = r.Len()
	assert.ErrorIs(t, err, ErrUseAfterClose)
	_, err = rc.Read(make([]byte, 4))
	assert.ErrorIs(t, err, ErrUseAfterClose)
}

func TestReaderStreamAutoClose(t *testing.T) {
	t.Parallel()

	r := openSample(t, sampleZip(t))
	for _, name := range []string{"dir/stored.txt", "dir/deflated.txt", "empty.txt"} {
		e, err := r.Entry(name)
		require.NoError(t, err)
		rc, err := r.Open(e)
		require.NoError(t, err)
		_, err = io.ReadAll(rc)
		require.NoError(t, err)

		r.res.mu.Lock()
		tracked := len(r.res.streams)
		r.res.mu.Unlock()
		assert.Zero(t, tracked, name)

		n, err := rc.Read(make([]byte, 1))
		assert.Zero(t, n)
		assert.ErrorIs(t, err, io.EOF)
		require.NoError(t, rc.Close())
	}
}

func TestReaderStreamClosed(t *testing.T) {
	t.Parallel()

	r := openSample(t, sampleZip(t))
	e, err := r.Entry("dir/stored.txt")
	require.NoError(t, err)
	rc, err := r.Open(e)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.NoError(t, rc.Close())

	_, err = rc.Read(make([]byte, 1))
	assert.ErrorIs(t, err, fs.ErrClosed)
}

func TestInflaterPoolLimit(t *testing.T) {
	t.Parallel()

	r := openSample(t, sampleZip(t))
	e, err := r.Entry("dir/deflated.txt")
	require.NoError(t, err)

	streams := make([]io.ReadCloser, InflaterCacheLimit+5)
	for i := range streams {
		streams[i], err = r.Open(e)
		require.NoError(t, err)
	}
	for _, s := range streams {
		require.NoError(t, s.Close())
	}
	assert.Equal(t, InflaterCacheLimit, r.res.inflaters.Len())

	// Pooled inflaters are reset between uses.
	assert.Equal(t, deflatedContent, readEntry(t, r, "dir/deflated.txt"))
	assert.Equal(t, deflatedContent, readEntry(t, r, "dir/deflated.txt"))
}

func TestReaderConcurrentReads(t *testing.T) {
	t.Parallel()

	payload := testutil.Pattern(200_000)
	data := testutil.NewZip().Store("stored.bin", payload).Deflate("deflated.bin", payload).MustBuild(t)
	r := openSample(t, data)

	var g errgroup.Group
	for i := range 16 {
		name := "stored.bin"
		if i%2 == 1 {
			name = "deflated.bin"
		}
		g.Go(func() error {
			e, err := r.Entry(name)
			if err != nil {
				return err
			}
			rc, err := r.Open(e)
			if err != nil {
				return err
			}
			defer rc.Close()
			got, err := io.ReadAll(rc)
			if err != nil {
				return err
			}
			if len(got) != len(payload) {
				return errors.New("short read of " + name)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestReaderCloseWhileReading(t *testing.T) {
	t.Parallel()

	payload := testutil.Pattern(256 << 10)
	data := testutil.NewZip().Store("stored.bin", payload).Deflate("deflated.bin", payload).MustBuild(t)
	path := testutil.WriteFile(t, t.TempDir(), "big.jar", data)

	for round := range 25 {
		r, err := Open(path)
		require.NoError(t, err)

		var streams []io.ReadCloser
		for _, name := range []string{"stored.bin", "deflated.bin", "stored.bin", "deflated.bin"} {
			e, err := r.Entry(name)
			require.NoError(t, err)
			rc, err := r.Open(e)
			require.NoError(t, err)
			streams = append(streams, rc)
		}

		var g errgroup.Group
		for _, rc := range streams {
			g.Go(func() error {
				buf := make([]byte, 1+rand.IntN(4096))
				for {
					_, err := rc.Read(buf)
					switch {
					case err == nil:
					case errors.Is(err, io.EOF), errors.Is(err, ErrUseAfterClose):
						return nil
					default:
						return err
					}
				}
			})
		}
		g.Go(func() error {
			time.Sleep(time.Duration(rand.IntN(2000)) * time.Microsecond)
			return r.Close()
		})
		require.NoError(t, g.Wait(), "round %d", round)

		for _, rc := range streams {
			_, err := rc.Read(make([]byte, 1))
			assert.ErrorIs(t, err, ErrUseAfterClose)
		}
		_, err = r.Entry("stored.bin")
		assert.ErrorIs(t, err, ErrUseAfterClose)
	}
}

func TestReaderFileGone(t *testing.T) {
	t.Parallel()

	path := testutil.WriteFile(t, t.TempDir(), "sample.jar", sampleZip(t))
	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	// The open handle keeps serving reads after the path disappears.
	require.NoError(t, os.Remove(path))
	assert.Equal(t, storedContent, readEntry(t, r, "dir/stored.txt"))
}
