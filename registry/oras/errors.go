package oras

import (
	"errors"
	"fmt"
	"net/http"

	platformerrors "github.com/jmgilman/go/errors"
	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/errcode"
)

// Sentinel errors for registry operations.
var (
	// ErrNotFound is returned when a blob or manifest does not exist.
	ErrNotFound = errors.New("oras: not found")

	// ErrUnauthorized is returned when the registry rejects the credentials,
	// or none were available.
	ErrUnauthorized = errors.New("oras: unauthorized")

	// ErrForbidden is returned when access is denied.
	ErrForbidden = errors.New("oras: forbidden")

	// ErrUnavailable is returned for throttling and server side failures
	// that outlived the retrying transport.
	ErrUnavailable = errors.New("oras: registry unavailable")

	// ErrInvalidReference is returned when a reference string is malformed.
	ErrInvalidReference = errors.New("oras: invalid reference")

	// ErrInvalidDescriptor is returned when a descriptor is nil or has invalid fields.
	ErrInvalidDescriptor = errors.New("oras: invalid descriptor")

	// ErrManifestInvalid is returned when a manifest is not an image manifest
	// or does not match its descriptor.
	ErrManifestInvalid = errors.New("oras: invalid manifest")
)

// classify picks the sentinel and platform code for a registry failure.
// The sentinel is nil for failures that are not registry responses.
func classify(err error) (platformerrors.ErrorCode, error) {
	if errors.Is(err, errdef.ErrNotFound) {
		return platformerrors.CodeNotFound, ErrNotFound
	}
	if errors.Is(err, auth.ErrBasicCredentialNotFound) {
		return platformerrors.CodeUnauthorized, ErrUnauthorized
	}
	var resp *errcode.ErrorResponse
	if !errors.As(err, &resp) {
		return "", nil
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return platformerrors.CodeNotFound, ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return platformerrors.CodeUnauthorized, ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		return platformerrors.CodeForbidden, ErrForbidden
	case resp.StatusCode == http.StatusTooManyRequests:
		return platformerrors.CodeRateLimit, ErrUnavailable
	case resp.StatusCode >= http.StatusInternalServerError:
		return platformerrors.CodeUnavailable, ErrUnavailable
	}
	return "", nil
}

// mapError attaches a sentinel and a platform code to err. The original
// error stays in the chain.
func mapError(op, ref string, err error) error {
	if err == nil {
		return nil
	}
	code, sentinel := classify(err)
	if sentinel == nil {
		return fmt.Errorf("%s %s: %w", op, ref, err)
	}
	return platformerrors.WrapWithContext(
		fmt.Errorf("%w: %w", sentinel, err),
		code,
		op+" "+ref,
		map[string]interface{}{"reference": ref},
	)
}
