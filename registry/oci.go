package registry

import (
	"context"
	"io"
	"net/http"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// OCIClient is the registry transport the Client is built on. The default
// implementation is oras.Client.
type OCIClient interface {
	// Resolve resolves a tag or digest to a manifest descriptor.
	Resolve(ctx context.Context, repoRef, ref string) (ocispec.Descriptor, error)

	// FetchManifest fetches the manifest expected describes. A zero size
	// accepts any manifest up to an implementation limit.
	FetchManifest(ctx context.Context, repoRef string, expected *ocispec.Descriptor) (ocispec.Manifest, error)

	// PushBlob uploads a blob with the given descriptor.
	PushBlob(ctx context.Context, repoRef string, desc *ocispec.Descriptor, r io.Reader) error

	// PushManifest uploads a manifest and tags it.
	PushManifest(ctx context.Context, repoRef, tag string, manifest *ocispec.Manifest) (ocispec.Descriptor, error)

	// BlobURL returns the URL a blob can be range-read from.
	BlobURL(repoRef, digest string) (string, error)

	// AuthClient returns an HTTP client authorized to read repoRef's blobs.
	AuthClient(repoRef string) (*http.Client, error)
}
