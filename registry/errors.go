package registry

import (
	"errors"
	"fmt"

	"github.com/meigma/nested/registry/oras"
)

var (
	// ErrNotFound is returned when a reference, manifest or blob does not exist.
	ErrNotFound = errors.New("registry: not found")

	// ErrUnauthorized is returned when the registry refuses the credentials.
	ErrUnauthorized = errors.New("registry: unauthorized")

	// ErrInvalidReference is returned when a reference is malformed or lacks
	// the tag or digest an operation needs.
	ErrInvalidReference = errors.New("registry: invalid reference")

	// ErrInvalidManifest is returned when a manifest is not an image manifest
	// or describes its layers inconsistently.
	ErrInvalidManifest = errors.New("registry: invalid manifest")

	// ErrLayerNotFound is returned when no manifest layer has an archive
	// media type.
	ErrLayerNotFound = errors.New("registry: no archive layer")

	// ErrSizeMismatch is returned when the blob served for a layer is not the
	// size its descriptor declares.
	ErrSizeMismatch = errors.New("registry: layer size mismatch")
)

// ociSentinels pairs transport errors with the sentinel they surface as.
var ociSentinels = []struct {
	from, to error
}{
	{oras.ErrNotFound, ErrNotFound},
	{oras.ErrUnauthorized, ErrUnauthorized},
	{oras.ErrForbidden, ErrUnauthorized},
	{oras.ErrInvalidReference, ErrInvalidReference},
	{oras.ErrManifestInvalid, ErrInvalidManifest},
}

// mapOCIError adds this package's sentinel to a transport error, keeping
// the transport error and any platform code it carries in the chain.
func mapOCIError(err error) error {
	if err == nil {
		return nil
	}
	for _, m := range ociSentinels {
		if errors.Is(err, m.to) {
			return err
		}
		if errors.Is(err, m.from) {
			return fmt.Errorf("%w: %w", m.to, err)
		}
	}
	return err
}
