package http_test

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	nethttp "net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nested "github.com/meigma/nested/core"
	nestedhttp "github.com/meigma/nested/core/http"
	"github.com/meigma/nested/core/testutil"
)

func serve(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		nethttp.ServeContent(w, r, "data", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSource_ReadAt(t *testing.T) {
	t.Parallel()

	data := []byte("hello world")
	server := serve(t, data)

	src, err := nestedhttp.NewSource(server.URL, nestedhttp.WithConditionalHeaders())
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), src.Size())
	assert.Contains(t, src.SourceID(), server.URL)

	tests := []struct {
		name    string
		bufSize int
		offset  int64
		wantN   int
		wantErr error
		want    string
	}{
		{
			name:    "read from middle",
			bufSize: 5,
			offset:  6,
			wantN:   5,
			want:    "world",
		},
		{
			name:    "read past end returns EOF",
			bufSize: 10,
			offset:  int64(len(data) - 3),
			wantN:   3,
			wantErr: io.EOF,
			want:    "rld",
		},
		{
			name:    "offset at end",
			bufSize: 4,
			offset:  int64(len(data)),
			wantErr: io.EOF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			buf := make([]byte, tt.bufSize)
			n, err := src.ReadAt(buf, tt.offset)
			assert.Equal(t, tt.wantErr, err)
			assert.Equal(t, tt.wantN, n)
			assert.Equal(t, tt.want, string(buf[:n]))
		})
	}
}

func TestNewSource_RangeUnsupported(t *testing.T) {
	t.Parallel()

	data := []byte("range unsupported")
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method == nethttp.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			return
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(server.Close)

	_, err := nestedhttp.NewSource(server.URL)
	assert.ErrorIs(t, err, nestedhttp.ErrRangeUnsupported)
}

func TestNewSource_StatusErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		wantCode  platformerrors.ErrorCode
		notExist  bool
		retryable bool
	}{
		{name: "not found", status: nethttp.StatusNotFound, wantCode: platformerrors.CodeNotFound, notExist: true},
		{name: "forbidden", status: nethttp.StatusForbidden, wantCode: platformerrors.CodeForbidden},
		{name: "throttled", status: nethttp.StatusTooManyRequests, wantCode: platformerrors.CodeRateLimit, retryable: true},
		{name: "server error", status: nethttp.StatusBadGateway, wantCode: platformerrors.CodeUnavailable, retryable: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
				w.WriteHeader(tt.status)
			}))
			t.Cleanup(server.Close)

			_, err := nestedhttp.NewSource(server.URL)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, platformerrors.GetCode(err))
			assert.Equal(t, tt.notExist, platformerrors.Is(err, fs.ErrNotExist))
			assert.Equal(t, tt.retryable, platformerrors.IsRetryable(err))
		})
	}
}

func TestSource_ReadAt_RetriesWithoutIfMatchOn412(t *testing.T) {
	t.Parallel()

	data := []byte("hello world")
	etag := `"retry-test"`
	var withIfMatchRange int32
	var withoutIfMatchRange int32

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		switch r.Method {
		case nethttp.MethodHead:
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.Header().Set("ETag", etag)
			return
		case nethttp.MethodGet:
			if r.Header.Get("Range") == "bytes=6-10" {
				if r.Header.Get("If-Match") != "" {
					atomic.AddInt32(&withIfMatchRange, 1)
					w.WriteHeader(nethttp.StatusPreconditionFailed)
					return
				}
				atomic.AddInt32(&withoutIfMatchRange, 1)
			}
			w.Header().Set("ETag", etag)
			nethttp.ServeContent(w, r, "data", time.Time{}, bytes.NewReader(data))
			return
		default:
			w.WriteHeader(nethttp.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(server.Close)

	src, err := nestedhttp.NewSource(server.URL, nestedhttp.WithConditionalHeaders())
	require.NoError(t, err)
	assert.Equal(t, "url:"+server.URL+"|etag:"+etag, src.SourceID())

	buf := make([]byte, 5)
	n, err := src.ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))
	assert.Equal(t, int32(1), atomic.LoadInt32(&withIfMatchRange))
	assert.Equal(t, int32(1), atomic.LoadInt32(&withoutIfMatchRange))
}

func TestSource_Headers(t *testing.T) {
	t.Parallel()

	data := []byte("header check")
	var auth, encoding atomic.Value
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		auth.Store(r.Header.Get("Authorization"))
		encoding.Store(r.Header.Get("Accept-Encoding"))
		nethttp.ServeContent(w, r, "data", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)

	src, err := nestedhttp.NewSource(server.URL, nestedhttp.WithHeader("Authorization", "Bearer token"))
	require.NoError(t, err)
	buf := make([]byte, 6)
	_, err = src.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "header", string(buf))
	assert.Equal(t, "Bearer token", auth.Load())
	assert.Equal(t, "identity", encoding.Load())
	assert.Equal(t, server.URL, src.URL())
	assert.NoError(t, src.Close())
}

func TestSource_ContextCanceled(t *testing.T) {
	t.Parallel()

	server := serve(t, []byte("cancel me"))
	ctx, cancel := context.WithCancel(context.Background())
	src, err := nestedhttp.NewSource(server.URL, nestedhttp.WithContext(ctx))
	require.NoError(t, err)

	cancel()
	_, err = src.ReadAt(make([]byte, 4), 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSource_NestedArchive(t *testing.T) {
	t.Parallel()

	inner := testutil.NewZip().StoreString("hello.txt", "hello from inside").MustBuild(t)
	outer := testutil.NewZip().
		StoreString("META-INF/MANIFEST.MF", "Manifest-Version: 1.0\r\n\r\n").
		Store("lib/inner.jar", inner).
		MustBuild(t)
	server := serve(t, outer)

	src, err := nestedhttp.NewSource(server.URL, nestedhttp.WithSourceID("remote-outer"))
	require.NoError(t, err)
	assert.Equal(t, "remote-outer", src.SourceID())

	r, err := nested.OpenSource(src, "lib/inner.jar")
	require.NoError(t, err)
	defer r.Close()

	e, err := r.Entry("hello.txt")
	require.NoError(t, err)
	rc, err := r.Open(e)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello from inside", string(got))
}
