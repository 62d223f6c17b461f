package registry

import (
	"fmt"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	orasregistry "oras.land/oras-go/v2/registry"
)

// parseRef splits ref into its repository and its tag or digest, which
// must be present.
func parseRef(ref string) (orasregistry.Reference, error) {
	r, err := orasregistry.ParseReference(ref)
	if err != nil {
		return orasregistry.Reference{}, fmt.Errorf("%w: %q: %v", ErrInvalidReference, ref, err)
	}
	if r.Reference == "" {
		return orasregistry.Reference{}, fmt.Errorf("%w: %q has no tag or digest", ErrInvalidReference, ref)
	}
	return r, nil
}

func isDigest(r orasregistry.Reference) bool {
	_, err := r.Digest()
	return err == nil
}

// descriptorFromDigest creates a minimal descriptor from a digest string.
// The zero size lets FetchManifest accept any size.
func descriptorFromDigest(dgst string) (ocispec.Descriptor, error) {
	d, err := digest.Parse(dgst)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("%w: invalid digest %q", ErrInvalidReference, dgst)
	}
	return ocispec.Descriptor{
		MediaType: ocispec.MediaTypeImageManifest,
		Digest:    d,
	}, nil
}
