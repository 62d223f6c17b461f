package nested

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	platformerrors "github.com/jmgilman/go/errors"
	fscore "github.com/jmgilman/go/fs/core"
)

// Sentinel errors returned by readers, indexes and file systems.
var (
	// ErrMalformedArchive is returned when the container bytes do not form a
	// readable zip archive.
	ErrMalformedArchive = errors.New("nested: malformed archive")

	// ErrUnsupportedCompression is returned when an entry uses a compression
	// method other than STORED or DEFLATE.
	ErrUnsupportedCompression = errors.New("nested: unsupported compression method")

	// ErrInvalidLocation is returned for nested URIs that cannot be parsed or
	// locations with an empty or relative container path.
	ErrInvalidLocation = errors.New("nested: invalid location")

	// ErrUseAfterClose is returned by any operation on a closed or closing
	// reader, file system or channel.
	ErrUseAfterClose = errors.New("nested: use after close")

	// ErrEntryNotFound is returned when a named entry does not exist.
	ErrEntryNotFound = fmt.Errorf("nested: entry %w", fs.ErrNotExist)

	// ErrCompressedNestedEntry is returned when a nested container entry is
	// deflated rather than stored.
	ErrCompressedNestedEntry = errors.New("nested: nested entry must not be compressed")

	// ErrAlreadyExists is returned when a file system is created for a
	// container that already has one.
	ErrAlreadyExists = errors.New("nested: file system already exists")

	// ErrFileSystemNotFound is returned when no file system is open for a
	// container.
	ErrFileSystemNotFound = errors.New("nested: file system not found")

	// ErrNonWritableChannel is returned by every write on a ByteChannel.
	ErrNonWritableChannel = errors.New("nested: channel is not writable")

	// ErrUnsupportedOperation is returned by path and file system operations
	// that do not apply to nested archives.
	ErrUnsupportedOperation = fmt.Errorf("nested: %w", fscore.ErrUnsupported)

	// ErrSizeOverflow is returned when a size or offset does not fit the
	// platform integer types.
	ErrSizeOverflow = errors.New("nested: size overflow")

	// ErrMalformedManifest is returned when a manifest cannot be parsed.
	ErrMalformedManifest = errors.New("nested: malformed manifest")
)

// AggregateCloseError collects every failure observed while tearing down a
// reader. Teardown never stops at the first error.
type AggregateCloseError struct {
	Errs []error
}

func (e *AggregateCloseError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return "nested: close: " + strings.Join(msgs, "; ")
}

// Unwrap returns the collected errors so errors.Is and errors.As see each one.
func (e *AggregateCloseError) Unwrap() []error {
	return e.Errs
}

// annotate wraps err with a classified platform error carrying the container
// path and entry name. Sentinels remain reachable through errors.Is.
func annotate(err error, op, path, entry string) error {
	if err == nil {
		return nil
	}
	ctx := map[string]interface{}{"path": path}
	if entry != "" {
		ctx["entry"] = entry
	}
	return platformerrors.WrapWithContext(err, errorCode(err), op+" "+readerName(path, entry), ctx)
}

func errorCode(err error) platformerrors.ErrorCode {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, ErrFileSystemNotFound):
		return platformerrors.CodeNotFound
	case errors.Is(err, ErrUnsupportedCompression), errors.Is(err, ErrUnsupportedOperation):
		return platformerrors.CodeNotImplemented
	case errors.Is(err, ErrMalformedArchive), errors.Is(err, ErrMalformedManifest),
		errors.Is(err, ErrInvalidLocation), errors.Is(err, ErrCompressedNestedEntry),
		errors.Is(err, ErrSizeOverflow):
		return platformerrors.CodeInvalidInput
	case errors.Is(err, ErrAlreadyExists):
		return platformerrors.CodeAlreadyExists
	case errors.Is(err, ErrUseAfterClose):
		return platformerrors.CodeConflict
	default:
		return platformerrors.CodeInternal
	}
}

func readerName(path, entry string) string {
	if entry == "" {
		return path
	}
	return path + "[" + entry + "]"
}
