package nested

import (
	"errors"

	nestedcore "github.com/meigma/nested/core"
	"github.com/meigma/nested/registry"
)

// Errors re-exported from core.
var (
	// ErrMalformedArchive is returned when bytes do not form a readable archive.
	ErrMalformedArchive = nestedcore.ErrMalformedArchive

	// ErrEntryNotFound is returned when a named entry does not exist.
	ErrEntryNotFound = nestedcore.ErrEntryNotFound

	// ErrInvalidLocation is returned for unparseable nested URIs.
	ErrInvalidLocation = nestedcore.ErrInvalidLocation

	// ErrCompressedNestedEntry is returned when a nested archive is deflated.
	ErrCompressedNestedEntry = nestedcore.ErrCompressedNestedEntry

	// ErrUseAfterClose is returned by operations on closed readers.
	ErrUseAfterClose = nestedcore.ErrUseAfterClose
)

// Errors re-exported from registry.
var (
	// ErrNotFound is returned when a registry reference does not exist.
	ErrNotFound = registry.ErrNotFound

	// ErrInvalidReference is returned when a registry reference is malformed.
	ErrInvalidReference = registry.ErrInvalidReference
)

// Sentinel errors specific to the nested package.
var (
	// ErrUnsupportedTarget is returned for targets with an unknown scheme.
	ErrUnsupportedTarget = errors.New("nested: unsupported target")

	// ErrS3NotConfigured is returned when an s3:// target is opened by a
	// client without S3 access.
	ErrS3NotConfigured = errors.New("nested: s3 client not configured")
)
