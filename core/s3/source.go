// Package s3 reads containers stored in S3-compatible object storage.
//
// A Source turns ranged GetObject calls into io.ReaderAt, so an archive kept
// in a bucket can be indexed and its nested entries read without fetching
// the whole object.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	platformerrors "github.com/jmgilman/go/errors"
	"github.com/minio/minio-go/v7"
)

// Source implements random access reads over one object.
type Source struct {
	client    *minio.Client
	bucket    string
	key       string
	ctx       context.Context
	logger    *slog.Logger
	versionID string
	sourceID  string
	pinETag   bool
	size      int64
	etag      string
}

// Option configures a Source.
type Option func(*Source)

// WithContext sets the context every request is bound to.
func WithContext(ctx context.Context) Option {
	return func(s *Source) {
		s.ctx = ctx
	}
}

// WithVersionID reads a specific object version.
func WithVersionID(id string) Option {
	return func(s *Source) {
		s.versionID = id
	}
}

// WithSourceID overrides the default source identifier used for caching.
func WithSourceID(id string) Option {
	return func(s *Source) {
		s.sourceID = id
	}
}

// WithETagPinning makes every read require the ETag observed when the source
// was opened, so an object overwritten mid-read fails instead of mixing
// bytes from two versions.
func WithETagPinning() Option {
	return func(s *Source) {
		s.pinETag = true
	}
}

// WithLogger sets the logger for request diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// NewSource stats bucket/key and returns a source over it.
func NewSource(client *minio.Client, bucket, key string, opts ...Option) (*Source, error) {
	if client == nil {
		return nil, errors.New("s3: client is nil")
	}
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("s3: bucket and key are required, got %q/%q", bucket, key)
	}
	s := &Source{
		client: client,
		bucket: bucket,
		key:    key,
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}

	info, err := client.StatObject(s.ctx, bucket, key, minio.StatObjectOptions{VersionID: s.versionID})
	if err != nil {
		return nil, s.translate("stat", err)
	}
	s.size = info.Size
	s.etag = info.ETag
	if s.versionID == "" {
		s.versionID = info.VersionID
	}
	if s.sourceID == "" {
		s.sourceID = s.defaultSourceID()
	}
	s.logger.Debug("opened s3 container", "bucket", bucket, "key", key, "size", s.size, "source_id", s.sourceID)
	return s, nil
}

// Size returns the object size.
func (s *Source) Size() int64 {
	return s.size
}

// SourceID returns a stable identifier for the object content.
func (s *Source) SourceID() string {
	return s.sourceID
}

// ETag returns the ETag observed when the source was opened.
func (s *Source) ETag() string {
	return s.etag
}

// ReadAt reads len(p) bytes at off with a ranged GetObject. Reads past the
// end return the available bytes and io.EOF.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, &fs.PathError{Op: "readat", Path: s.name(), Err: fs.ErrInvalid}
	}
	if off >= s.size {
		return 0, io.EOF
	}
	want := min(int64(len(p)), s.size-off)

	opts := minio.GetObjectOptions{VersionID: s.versionID}
	if err := opts.SetRange(off, off+want-1); err != nil {
		return 0, &fs.PathError{Op: "readat", Path: s.name(), Err: err}
	}
	if s.pinETag && s.etag != "" {
		if err := opts.SetMatchETag(s.etag); err != nil {
			return 0, &fs.PathError{Op: "readat", Path: s.name(), Err: err}
		}
	}

	obj, err := s.client.GetObject(s.ctx, s.bucket, s.key, opts)
	if err != nil {
		return 0, s.translate("readat", err)
	}
	defer obj.Close()

	n, err := io.ReadFull(obj, p[:want])
	if err != nil {
		return n, s.translate("readat", err)
	}
	if want < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

func (s *Source) name() string {
	return s.bucket + "/" + s.key
}

func (s *Source) defaultSourceID() string {
	id := fmt.Sprintf("s3:%s/%s", s.bucket, s.key)
	if s.versionID != "" {
		id += "?versionId=" + s.versionID
	}
	if s.etag != "" {
		id += "|etag:" + s.etag
	}
	return id
}

// translate maps object storage errors onto fs errors, keeping the response
// code in the error context.
func (s *Source) translate(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	resp := minio.ToErrorResponse(err)
	ctx := map[string]interface{}{"bucket": s.bucket, "key": s.key}
	if resp.Code != "" {
		ctx["s3_code"] = resp.Code
	}
	msg := op + " " + s.name()
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NoSuchVersion":
		return platformerrors.WrapWithContext(&fs.PathError{Op: op, Path: s.name(), Err: fs.ErrNotExist}, platformerrors.CodeNotFound, msg, ctx)
	case "AccessDenied":
		return platformerrors.WrapWithContext(&fs.PathError{Op: op, Path: s.name(), Err: fs.ErrPermission}, platformerrors.CodeForbidden, msg, ctx)
	case "PreconditionFailed":
		return platformerrors.WrapWithContext(err, platformerrors.CodeConflict, msg+": object changed", ctx)
	case "SlowDown", "ServiceUnavailable", "InternalError":
		return platformerrors.WrapWithContext(err, platformerrors.CodeUnavailable, msg, ctx)
	}
	return platformerrors.WrapWithContext(err, platformerrors.CodeNetwork, msg, ctx)
}
