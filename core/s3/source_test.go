package s3_test

import (
	"bytes"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nested "github.com/meigma/nested/core"
	"github.com/meigma/nested/core/s3"
	"github.com/meigma/nested/core/testutil"
)

// fakeBucket serves one object with ranged reads over path-style URLs.
type fakeBucket struct {
	data  atomic.Pointer[[]byte]
	etag  atomic.Pointer[string]
	gets  atomic.Int64
	mtime time.Time
}

func newFakeBucket(t *testing.T, data []byte) (*fakeBucket, *minio.Client) {
	t.Helper()
	b := &fakeBucket{mtime: testutil.FixtureTime}
	b.set(data, `"v1"`)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/jars/app.jar" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method == http.MethodGet {
			b.gets.Add(1)
		}
		w.Header().Set("ETag", *b.etag.Load())
		http.ServeContent(w, r, "app.jar", b.mtime, bytes.NewReader(*b.data.Load()))
	}))
	t.Cleanup(server.Close)

	client, err := minio.New(strings.TrimPrefix(server.URL, "http://"), &minio.Options{
		Creds:        credentials.NewStaticV4("test", "test", ""),
		Secure:       false,
		Region:       "us-east-1",
		BucketLookup: minio.BucketLookupPath,
	})
	require.NoError(t, err)
	return b, client
}

func (b *fakeBucket) set(data []byte, etag string) {
	b.data.Store(&data)
	b.etag.Store(&etag)
}

func TestSourceReadAt(t *testing.T) {
	t.Parallel()

	data := []byte("0123456789abcdef")
	_, client := newFakeBucket(t, data)

	src, err := s3.NewSource(client, "jars", "app.jar")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), src.Size())
	assert.Equal(t, "v1", src.ETag())
	assert.Equal(t, "s3:jars/app.jar|etag:v1", src.SourceID())

	tests := []struct {
		name    string
		off     int64
		size    int
		want    string
		wantErr error
	}{
		{name: "middle", off: 4, size: 4, want: "4567"},
		{name: "tail", off: 12, size: 8, want: "cdef", wantErr: io.EOF},
		{name: "past end", off: 16, size: 2, wantErr: io.EOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			buf := make([]byte, tt.size)
			n, err := src.ReadAt(buf, tt.off)
			assert.Equal(t, tt.wantErr, err)
			assert.Equal(t, tt.want, string(buf[:n]))
		})
	}
}

func TestSourceNotFound(t *testing.T) {
	t.Parallel()

	_, client := newFakeBucket(t, []byte("x"))
	_, err := s3.NewSource(client, "jars", "missing.jar")
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Equal(t, platformerrors.CodeNotFound, platformerrors.GetCode(err))
}

func TestSourceValidation(t *testing.T) {
	t.Parallel()

	_, err := s3.NewSource(nil, "jars", "app.jar")
	assert.Error(t, err)
	_, client := newFakeBucket(t, []byte("x"))
	_, err = s3.NewSource(client, "", "app.jar")
	assert.Error(t, err)
}

func TestSourceETagPinning(t *testing.T) {
	t.Parallel()

	b, client := newFakeBucket(t, []byte("first version"))
	src, err := s3.NewSource(client, "jars", "app.jar", s3.WithETagPinning(), s3.WithSourceID("pinned"))
	require.NoError(t, err)
	assert.Equal(t, "pinned", src.SourceID())

	buf := make([]byte, 5)
	_, err = src.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "first", string(buf))

	b.set([]byte("other version"), `"v2"`)
	_, err = src.ReadAt(buf, 0)
	assert.Error(t, err)
}

func TestSourceNestedArchive(t *testing.T) {
	t.Parallel()

	inner := testutil.NewZip().StoreString("config.properties", "name=inner").MustBuild(t)
	outer := testutil.NewZip().
		StoreString("META-INF/MANIFEST.MF", "Manifest-Version: 1.0\r\n\r\n").
		Store("BOOT-INF/lib/inner.jar", inner).
		MustBuild(t)
	b, client := newFakeBucket(t, outer)

	src, err := s3.NewSource(client, "jars", "app.jar")
	require.NoError(t, err)
	r, err := nested.OpenSource(src, "BOOT-INF/lib/inner.jar")
	require.NoError(t, err)
	defer r.Close()

	e, err := r.Entry("config.properties")
	require.NoError(t, err)
	rc, err := r.Open(e)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "name=inner", string(got))
	assert.Positive(t, b.gets.Load())
}
