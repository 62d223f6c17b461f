package nested

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meigma/nested/core/testutil"
)

const (
	storedContent = "stored content"
	manifestText  = "Manifest-Version: 1.0\r\nCreated-By: tests\r\n\r\n"
)

var deflatedContent = strings.Repeat("deflate me ", 200)

func sampleZip(t *testing.T) []byte {
	t.Helper()
	return testutil.NewZip().
		StoreString("META-INF/MANIFEST.MF", manifestText).
		Dir("dir/").
		StoreString("dir/stored.txt", storedContent).
		DeflateString("dir/deflated.txt", deflatedContent).
		StoreString("empty.txt", "").
		Comment("sample comment").
		MustBuild(t)
}

func multiReleaseZip(t *testing.T) []byte {
	t.Helper()
	return testutil.NewZip().
		StoreString("META-INF/MANIFEST.MF", "Manifest-Version: 1.0\r\nMulti-Release: true\r\n\r\n").
		StoreString("a.txt", "base a").
		StoreString("b.txt", "base b").
		Dir("META-INF/versions/9/").
		StoreString("META-INF/versions/9/a.txt", "v9 a").
		StoreString("META-INF/versions/11/a.txt", "v11 a").
		StoreString("META-INF/versions/17/b.txt", "v17 b").
		StoreString("META-INF/versions/17/only17.txt", "v17 only").
		StoreString("META-INF/versions/8/b.txt", "v8 b").
		StoreString("META-INF/versions/abc/a.txt", "bad segment").
		MustBuild(t)
}

// outerZip stores inner as lib/inner.jar next to a few plain entries.
func outerZip(t *testing.T, inner []byte) []byte {
	t.Helper()
	return testutil.NewZip().
		StoreString("META-INF/MANIFEST.MF", manifestText).
		StoreString("README.txt", "outer readme").
		Store("lib/inner.jar", inner).
		Deflate("lib/packed.jar", inner).
		Dir("classes/").
		StoreString("classes/app/Main.class", "main class").
		DeflateString("classes/app/Util.class", "util class").
		MustBuild(t)
}

func openSample(t *testing.T, data []byte, opts ...Option) *Reader {
	t.Helper()
	r, err := OpenSource(testutil.NewMockByteSource(data), "", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func readEntry(t *testing.T, r *Reader, name string) string {
	t.Helper()
	e, err := r.Entry(name)
	require.NoError(t, err)
	rc, err := r.Open(e)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func names(seq func(func(Entry) bool)) []string {
	var out []string
	for e := range seq {
		out = append(out, e.Name)
	}
	return out
}
